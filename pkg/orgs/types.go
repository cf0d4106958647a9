package orgs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taskhive/taskhive/pkg/auth"
)

// PlanTier represents subscription plan tiers
type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanTeam       PlanTier = "team"
	PlanBusiness   PlanTier = "business"
	PlanEnterprise PlanTier = "enterprise"
)

// OrgStatus represents organization status
type OrgStatus string

const (
	OrgStatusActive    OrgStatus = "active"
	OrgStatusSuspended OrgStatus = "suspended"
	OrgStatusDeleted   OrgStatus = "deleted"
)

// ErrAlreadyMember is returned when adding a user who already holds a
// membership in the organization.
var ErrAlreadyMember = errors.New("user is already a member")

// Organization is a tenant. SeatLimit is stored per org so support can
// raise it above the plan default.
type Organization struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Slug      string         `json:"slug"`
	OwnerID   *int64         `json:"owner_id,omitempty"`
	PlanTier  PlanTier       `json:"plan_tier"`
	SeatLimit int            `json:"seat_limit"`
	Status    OrgStatus      `json:"status"`
	Settings  map[string]any `json:"settings,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Member is a membership row joined with its user and role, the shape the
// admin surface lists. The resolver uses the leaner auth.Membership instead.
type Member struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	UserID         int64     `json:"user_id"`
	RoleID         int64     `json:"role_id"`
	RoleName       string    `json:"role_name"`
	Status         string    `json:"status"`
	Email          string    `json:"email,omitempty"`
	Name           string    `json:"name,omitempty"`
	JoinedAt       time.Time `json:"joined_at"`
}

// CreateOrgRequest represents request to create an organization
type CreateOrgRequest struct {
	Name     string         `json:"name"`
	Slug     string         `json:"slug,omitempty"`
	PlanTier PlanTier       `json:"plan_tier,omitempty"`
	Settings map[string]any `json:"settings,omitempty"`
}

// UpdateOrgRequest represents request to update an organization
type UpdateOrgRequest struct {
	Name      *string        `json:"name,omitempty"`
	SeatLimit *int           `json:"seat_limit,omitempty"`
	Status    *OrgStatus     `json:"status,omitempty"`
	Settings  map[string]any `json:"settings,omitempty"`
}

// AddMemberRequest represents request to add a member
type AddMemberRequest struct {
	UserID int64  `json:"user_id"`
	RoleID int64  `json:"role_id"`
	Status string `json:"status,omitempty"`
}

// UpdateMemberRequest represents request to change a member's role or status
type UpdateMemberRequest struct {
	RoleID *int64  `json:"role_id,omitempty"`
	Status *string `json:"status,omitempty"`
}

// PlanQuotas are the resource ceilings attached to a plan tier.
type PlanQuotas struct {
	SeatLimit          int   `json:"seat_limit"`
	MaxActiveTasks     int   `json:"max_active_tasks"`
	MaxAttachmentBytes int64 `json:"max_attachment_bytes"`
}

// QuotaExceededError represents a quota exceeded error
type QuotaExceededError struct {
	Resource string
	Current  int64
	Limit    int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: %d of %d", e.Resource, e.Current, e.Limit)
}

// IsQuotaExceeded checks if an error is a quota exceeded error
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}

// Service defines the interface for organization management. It embeds the
// store interfaces the token resolver depends on; one Postgres-backed
// implementation serves both the admin surface and the authentication path.
type Service interface {
	auth.UserStore
	auth.MembershipStore
	auth.TokenStore

	// Organization CRUD
	CreateOrganization(ctx context.Context, org *Organization) error
	GetOrganization(ctx context.Context, id int64) (*Organization, error)
	GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error)
	ListOrganizations(ctx context.Context, userID int64) ([]*Organization, error)
	UpdateOrganization(ctx context.Context, id int64, updates *UpdateOrgRequest) error
	DeleteOrganization(ctx context.Context, id int64) error

	// Member management
	ListMembers(ctx context.Context, orgID int64) ([]*Member, error)
	GetMember(ctx context.Context, orgID, userID int64) (*Member, error)
	AddMember(ctx context.Context, orgID, userID, roleID int64, status string) error
	UpdateMemberRole(ctx context.Context, orgID, userID, roleID int64) error
	UpdateMemberStatus(ctx context.Context, orgID, userID int64, status string) error
	RemoveMember(ctx context.Context, orgID, userID int64) error
	SweepPendingMemberships(ctx context.Context, olderThan time.Duration) (int64, error)

	// API token management
	CreateAPIToken(ctx context.Context, token *auth.APIToken) error
	ListAPITokens(ctx context.Context, userID int64) ([]*auth.APIToken, error)
	RevokeAPIToken(ctx context.Context, id, userID int64) error
	PurgeExpiredTokens(ctx context.Context, retention time.Duration) (int64, error)

	// Quota checks
	CheckSeatQuota(ctx context.Context, orgID int64) error
	CheckTaskQuota(ctx context.Context, orgID int64) error
	CheckAttachmentQuota(ctx context.Context, orgID int64, additionalBytes int64) error
}
