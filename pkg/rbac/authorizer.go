package rbac

import (
	"context"

	"github.com/taskhive/taskhive/pkg/auth"
)

// Authorizer evaluates route requirements against a resolved identity. It
// holds no state beyond the permission cache and performs at most one
// cache read per decision.
type Authorizer struct {
	cache PermissionCache
}

// NewAuthorizer creates an authorizer over cache.
func NewAuthorizer(cache PermissionCache) *Authorizer {
	return &Authorizer{cache: cache}
}

// Authorize decides whether identity satisfies req.
//
// Public requirements allow immediately without touching the cache. When
// permissions are required the identity's role is resolved once; the
// wildcard satisfies any non-empty permission list, otherwise the list is
// any-of, or all-of when req.RequireAll is set. Role name requirements
// are checked against the identity's live role name, and when both kinds
// are present both must pass. Any cache or store failure denies with
// ReasonStoreUnavailable rather than guessing.
func (a *Authorizer) Authorize(ctx context.Context, identity *auth.Identity, req Requirements) Decision {
	if req.IsPublic() {
		return Allow(ReasonPublicRoute)
	}

	if identity == nil {
		return Deny(ReasonInvalidToken)
	}

	var matched []string
	wildcard := false

	if len(req.Permissions) > 0 {
		if identity.RoleID == nil {
			// No organization binding means no role and no grants.
			return Deny(ReasonInsufficientPermissions)
		}

		set, err := a.cache.Resolve(ctx, *identity.RoleID)
		if err != nil {
			return Deny(ReasonStoreUnavailable)
		}

		if set.Wildcard() {
			wildcard = true
			matched = []string{Wildcard}
		} else {
			for _, slug := range req.Permissions {
				if set.Has(slug) {
					matched = append(matched, slug)
				}
			}

			if req.RequireAll {
				if len(matched) != len(req.Permissions) {
					return Deny(ReasonInsufficientPermissions)
				}
			} else if len(matched) == 0 {
				return Deny(ReasonInsufficientPermissions)
			}
		}
	}

	if len(req.Roles) > 0 && !roleNameMatches(identity, req.Roles) {
		return Deny(ReasonInsufficientRole)
	}

	if wildcard {
		return Allow(ReasonWildcardGrant, matched...)
	}
	return Allow(ReasonGranted, matched...)
}

func roleNameMatches(identity *auth.Identity, names []string) bool {
	if identity.RoleName == "" {
		return false
	}
	for _, name := range names {
		if identity.RoleName == name {
			return true
		}
	}
	return false
}
