package auth

import (
	"context"
	"time"
)

// Identity is the authenticated caller behind a request. It is the output
// of token resolution and the input to every downstream authorization
// decision.
//
// An identity is org-bound when OrganizationID is set. Role fields are only
// populated on org-bound identities and always reflect the live membership
// row, never claims baked into the token.
type Identity struct {
	UserID         int64  `json:"user_id"`
	Email          string `json:"email,omitempty"`
	OrganizationID *int64 `json:"organization_id,omitempty"`
	RoleID         *int64 `json:"role_id,omitempty"`
	RoleName       string `json:"role_name,omitempty"`
}

// OrgBound reports whether the identity carries an organization binding.
func (i *Identity) OrgBound() bool {
	return i.OrganizationID != nil
}

// TokenClaims is what a verifier extracts from a presented credential.
// Claims carry at most a user reference and an org binding; permissions and
// roles are deliberately absent because they are loaded fresh on every
// request.
type TokenClaims struct {
	UserID         int64
	Email          string
	OrganizationID *int64

	// Verifier names the verifier that accepted the token ("jwt",
	// "api_token", "oidc"). Used as a metric label.
	Verifier string
}

// User is an account row as the resolver sees it
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Membership status values
const (
	MembershipActive   = "active"
	MembershipInactive = "inactive"
	MembershipPending  = "pending"
)

// Membership ties a user to an organization with a role
type Membership struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	OrganizationID int64     `json:"organization_id"`
	RoleID         int64     `json:"role_id"`
	RoleName       string    `json:"role_name"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// APIToken is the stored record of an opaque API token. Only the SHA-256
// hash is persisted; the plaintext token is shown once at creation.
type APIToken struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"user_id"`
	OrganizationID *int64     `json:"organization_id,omitempty"`
	TokenHash      string     `json:"-"`
	TokenPrefix    string     `json:"token_prefix"`
	Name           string     `json:"name"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
}

// TokenVerifier validates a presented credential and extracts its claims.
// Implementations must not consult role or permission data.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*TokenClaims, error)
}

// UserStore loads account rows. Implementations return ErrNotFound for
// missing rows and any other error for infrastructure failures.
type UserStore interface {
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

// MembershipStore loads the active membership tying a user to an
// organization. Implementations return ErrNotFound when no membership
// exists or when it is not active; rows in any other status never surface
// here.
type MembershipStore interface {
	GetActiveMembership(ctx context.Context, userID, orgID int64) (*Membership, error)
}

// TokenStore loads and updates stored API tokens by hash.
type TokenStore interface {
	GetTokenByHash(ctx context.Context, hash string) (*APIToken, error)
	TouchToken(ctx context.Context, id int64) error
}
