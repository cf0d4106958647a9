package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/taskhive/taskhive/pkg/observability"
)

// Resolver turns presented credentials into identities backed by live
// account and membership rows. It holds no state between requests and
// caches nothing; every call re-reads the user and, for org-bound tokens,
// the membership.
type Resolver struct {
	verifier    TokenVerifier
	users       UserStore
	memberships MembershipStore
	logger      *observability.Logger
}

// NewResolver creates a resolver over the given verifier and stores.
func NewResolver(verifier TokenVerifier, users UserStore, memberships MembershipStore, logger *observability.Logger) *Resolver {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Resolver{
		verifier:    verifier,
		users:       users,
		memberships: memberships,
		logger:      logger,
	}
}

// Resolve verifies the token and loads the identity behind it.
//
// The role on an org-bound identity comes from the membership row read
// during this call, never from token claims, so a role change or a revoked
// membership takes effect on the holder's next request even if the token
// itself is still unexpired.
//
// Store failures surface as ErrStoreUnavailable; the caller must deny, not
// fall back to whatever identity the token claims.
func (r *Resolver) Resolve(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: no token presented", ErrInvalidToken)
	}

	claims, err := r.verifier.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		// Every other verification failure collapses into ErrInvalidToken;
		// the cause stays in the logs.
		r.logger.WithError(err).Debug("token verification failed")
		return nil, ErrInvalidToken
	}

	user, err := r.users.GetUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: failed to load user %d: %v", ErrStoreUnavailable, claims.UserID, err)
	}
	if !user.IsActive {
		// Disabled accounts answer exactly like deleted ones.
		return nil, ErrUserNotFound
	}

	identity := &Identity{
		UserID: user.ID,
		Email:  user.Email,
	}

	if claims.OrganizationID == nil {
		return identity, nil
	}

	membership, err := r.memberships.GetActiveMembership(ctx, user.ID, *claims.OrganizationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrMembershipRevoked
		}
		return nil, fmt.Errorf("%w: failed to load membership: %v", ErrStoreUnavailable, err)
	}
	if membership.Status != MembershipActive {
		return nil, ErrMembershipRevoked
	}

	orgID := *claims.OrganizationID
	roleID := membership.RoleID
	identity.OrganizationID = &orgID
	identity.RoleID = &roleID
	identity.RoleName = membership.RoleName

	return identity, nil
}
