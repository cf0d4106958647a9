package rbac

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/taskhive/taskhive/pkg/auth"
)

// Permission is a catalog entry describing one grantable capability.
// Slugs follow the "<category>.<action>" convention, e.g. "tasks.create".
type Permission struct {
	ID          int64     `json:"id"`
	Slug        string    `json:"slug"`
	Category    string    `json:"category"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Role is a named bundle of permission grants. System roles (owner,
// admin, member, viewer) have no organization and fixed grants; custom
// roles belong to exactly one organization.
type Role struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	DisplayName    string    `json:"display_name"`
	Description    string    `json:"description,omitempty"`
	OrganizationID *int64    `json:"organization_id,omitempty"`
	IsSystem       bool      `json:"is_system"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// GrantSet is an immutable set of permission slugs held by a role. A set
// carrying the wildcard satisfies every non-empty slug query. Cached sets
// are shared between goroutines, so a GrantSet is never mutated after
// construction; updates replace the whole value.
type GrantSet struct {
	wildcard bool
	slugs    map[string]struct{}
}

// NewGrantSet builds a GrantSet from raw slugs. Each slug is normalized
// first, so the legacy wildcard alias collapses into the canonical form.
// Empty strings are dropped.
func NewGrantSet(slugs ...string) GrantSet {
	set := GrantSet{slugs: make(map[string]struct{}, len(slugs))}
	for _, slug := range slugs {
		slug = NormalizeSlug(slug)
		if slug == "" {
			continue
		}
		if slug == Wildcard {
			set.wildcard = true
			continue
		}
		set.slugs[slug] = struct{}{}
	}
	return set
}

// Has reports whether the set grants slug. The wildcard grants every
// non-empty slug, including slugs the catalog does not know yet. The
// empty string is never granted.
func (g GrantSet) Has(slug string) bool {
	if slug == "" {
		return false
	}
	if g.wildcard {
		return true
	}
	_, ok := g.slugs[slug]
	return ok
}

// HasAny reports whether the set grants at least one of the given slugs.
func (g GrantSet) HasAny(slugs []string) bool {
	for _, slug := range slugs {
		if g.Has(slug) {
			return true
		}
	}
	return false
}

// HasAll reports whether the set grants every one of the given slugs.
// An empty list is vacuously satisfied.
func (g GrantSet) HasAll(slugs []string) bool {
	for _, slug := range slugs {
		if !g.Has(slug) {
			return false
		}
	}
	return true
}

// Wildcard reports whether the set carries the wildcard grant.
func (g GrantSet) Wildcard() bool {
	return g.wildcard
}

// Len returns the number of grants in the set; the wildcard counts as one.
func (g GrantSet) Len() int {
	n := len(g.slugs)
	if g.wildcard {
		n++
	}
	return n
}

// Slugs returns the grants sorted, with the wildcard first when present.
func (g GrantSet) Slugs() []string {
	out := make([]string, 0, g.Len())
	for slug := range g.slugs {
		out = append(out, slug)
	}
	sort.Strings(out)
	if g.wildcard {
		out = append([]string{Wildcard}, out...)
	}
	return out
}

// Requirements describes what a route demands from the caller. Empty
// requirements mark a public route. Permission slugs are any-of unless
// RequireAll is set; role names are always any-of. When both lists are
// present the caller must satisfy both.
type Requirements struct {
	Permissions []string `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Roles       []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	RequireAll  bool     `json:"require_all,omitempty" yaml:"require_all,omitempty"`
}

// IsPublic reports whether the requirements demand nothing from the caller.
func (r Requirements) IsPublic() bool {
	return len(r.Permissions) == 0 && len(r.Roles) == 0
}

// RequirePermissions builds an any-of permission requirement.
func RequirePermissions(slugs ...string) Requirements {
	return Requirements{Permissions: slugs}
}

// RequireAllPermissions builds an all-of permission requirement.
func RequireAllPermissions(slugs ...string) Requirements {
	return Requirements{Permissions: slugs, RequireAll: true}
}

// RequireRoles builds an any-of role name requirement.
func RequireRoles(names ...string) Requirements {
	return Requirements{Roles: names}
}

// Reason classifies the outcome of an authorization decision. Reasons are
// stable strings used as metric labels and in error envelopes.
type Reason string

// ReasonNone is the zero Reason. Scope checks return it on success.
const ReasonNone Reason = ""

const (
	// Allow reasons.
	ReasonPublicRoute   Reason = "public_route"
	ReasonWildcardGrant Reason = "wildcard_grant"
	ReasonGranted       Reason = "granted"

	// Deny reasons answered with 401.
	ReasonInvalidToken      Reason = "invalid_token"
	ReasonUserNotFound      Reason = "user_not_found"
	ReasonMembershipRevoked Reason = "membership_revoked"

	// Deny reasons answered with 403.
	ReasonOrganizationRequired    Reason = "organization_required"
	ReasonOrganizationMismatch    Reason = "organization_mismatch"
	ReasonInsufficientPermissions Reason = "insufficient_permissions"
	ReasonInsufficientRole        Reason = "insufficient_role"

	// Deny reason answered with 503.
	ReasonStoreUnavailable Reason = "store_unavailable"
)

// HTTPStatusFor maps a decision reason onto the HTTP status the API
// answers with. Identity failures are 401, policy denials 403, and
// infrastructure failures 503 so clients know a retry can succeed.
func HTTPStatusFor(reason Reason) int {
	switch reason {
	case ReasonInvalidToken, ReasonUserNotFound, ReasonMembershipRevoked:
		return http.StatusUnauthorized
	case ReasonOrganizationRequired, ReasonOrganizationMismatch,
		ReasonInsufficientPermissions, ReasonInsufficientRole:
		return http.StatusForbidden
	case ReasonStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusOK
	}
}

// ReasonFromError maps identity resolution errors onto decision reasons.
// Anything unrecognized counts as a store failure so the pipeline fails
// closed with a retryable status instead of leaking a denial.
func ReasonFromError(err error) Reason {
	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		return ReasonInvalidToken
	case errors.Is(err, auth.ErrUserNotFound):
		return ReasonUserNotFound
	case errors.Is(err, auth.ErrMembershipRevoked):
		return ReasonMembershipRevoked
	default:
		return ReasonStoreUnavailable
	}
}

// Decision is the result of evaluating requirements against an identity.
type Decision struct {
	Allowed            bool      `json:"allowed"`
	Reason             Reason    `json:"reason"`
	HTTPStatus         int       `json:"-"`
	MatchedPermissions []string  `json:"matched_permissions,omitempty"`
	CheckedAt          time.Time `json:"checked_at"`
}

// Allow builds an allowing decision.
func Allow(reason Reason, matched ...string) Decision {
	return Decision{
		Allowed:            true,
		Reason:             reason,
		HTTPStatus:         http.StatusOK,
		MatchedPermissions: matched,
		CheckedAt:          time.Now(),
	}
}

// Deny builds a denying decision with the status mapped from the reason.
func Deny(reason Reason) Decision {
	return Decision{
		Allowed:    false,
		Reason:     reason,
		HTTPStatus: HTTPStatusFor(reason),
		CheckedAt:  time.Now(),
	}
}
