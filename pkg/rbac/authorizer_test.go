package rbac

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/taskhive/taskhive/pkg/auth"
)

// stubCache is a PermissionCache double that counts resolves.
type stubCache struct {
	set      GrantSet
	err      error
	resolves int
	lastRole int64
}

func (c *stubCache) Resolve(ctx context.Context, roleID int64) (GrantSet, error) {
	c.resolves++
	c.lastRole = roleID
	if c.err != nil {
		return GrantSet{}, c.err
	}
	return c.set, nil
}

func (c *stubCache) Invalidate(ctx context.Context, roleID int64) error { return nil }
func (c *stubCache) InvalidateAll(ctx context.Context) error            { return nil }

func orgIdentity(roleID int64, roleName string) *auth.Identity {
	orgID := int64(1)
	return &auth.Identity{
		UserID:         7,
		OrganizationID: &orgID,
		RoleID:         &roleID,
		RoleName:       roleName,
	}
}

func TestAuthorizePublicRoute(t *testing.T) {
	cache := &stubCache{}
	authz := NewAuthorizer(cache)

	decision := authz.Authorize(context.Background(), nil, Requirements{})
	if !decision.Allowed {
		t.Error("Expected public requirements to allow")
	}
	if decision.Reason != ReasonPublicRoute {
		t.Errorf("Expected %s, got %s", ReasonPublicRoute, decision.Reason)
	}
	if cache.resolves != 0 {
		t.Errorf("Expected no cache reads for a public route, got %d", cache.resolves)
	}
}

func TestAuthorizeNilIdentity(t *testing.T) {
	authz := NewAuthorizer(&stubCache{})

	decision := authz.Authorize(context.Background(), nil, RequirePermissions(PermTasksRead))
	if decision.Allowed {
		t.Fatal("Expected a nil identity to be denied")
	}
	if decision.Reason != ReasonInvalidToken {
		t.Errorf("Expected %s, got %s", ReasonInvalidToken, decision.Reason)
	}
}

func TestAuthorizeAnyOfPermissions(t *testing.T) {
	cache := &stubCache{set: NewGrantSet(PermTasksRead)}
	authz := NewAuthorizer(cache)
	identity := orgIdentity(3, RoleViewer)

	decision := authz.Authorize(context.Background(), identity, RequirePermissions(PermTasksRead, PermTasksUpdate))
	if !decision.Allowed {
		t.Fatalf("Expected the any-of match to allow, denied with %s", decision.Reason)
	}
	if decision.Reason != ReasonGranted {
		t.Errorf("Expected %s, got %s", ReasonGranted, decision.Reason)
	}
	if len(decision.MatchedPermissions) != 1 || decision.MatchedPermissions[0] != PermTasksRead {
		t.Errorf("Expected matched permissions [%s], got %v", PermTasksRead, decision.MatchedPermissions)
	}

	decision = authz.Authorize(context.Background(), identity, RequirePermissions(PermTasksDelete))
	if decision.Allowed {
		t.Fatal("Expected the missing grant to deny")
	}
	if decision.Reason != ReasonInsufficientPermissions {
		t.Errorf("Expected %s, got %s", ReasonInsufficientPermissions, decision.Reason)
	}
	if decision.HTTPStatus != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", decision.HTTPStatus)
	}
}

func TestAuthorizeRequireAll(t *testing.T) {
	cache := &stubCache{set: NewGrantSet(PermTasksRead, PermTasksUpdate)}
	authz := NewAuthorizer(cache)
	identity := orgIdentity(3, RoleMember)

	decision := authz.Authorize(context.Background(), identity, RequireAllPermissions(PermTasksRead, PermTasksUpdate))
	if !decision.Allowed {
		t.Fatalf("Expected the all-of match to allow, denied with %s", decision.Reason)
	}

	decision = authz.Authorize(context.Background(), identity, RequireAllPermissions(PermTasksRead, PermTasksDelete))
	if decision.Allowed {
		t.Fatal("Expected one missing grant to deny an all-of requirement")
	}
	if decision.Reason != ReasonInsufficientPermissions {
		t.Errorf("Expected %s, got %s", ReasonInsufficientPermissions, decision.Reason)
	}
}

func TestAuthorizeWildcard(t *testing.T) {
	cache := &stubCache{set: NewGrantSet(Wildcard)}
	authz := NewAuthorizer(cache)
	identity := orgIdentity(1, RoleOwner)

	// The wildcard satisfies slugs that postdate the grant.
	decision := authz.Authorize(context.Background(), identity, RequirePermissions("reports.export"))
	if !decision.Allowed {
		t.Fatalf("Expected the wildcard to allow unknown slugs, denied with %s", decision.Reason)
	}
	if decision.Reason != ReasonWildcardGrant {
		t.Errorf("Expected %s, got %s", ReasonWildcardGrant, decision.Reason)
	}
	if len(decision.MatchedPermissions) != 1 || decision.MatchedPermissions[0] != Wildcard {
		t.Errorf("Expected matched permissions [%s], got %v", Wildcard, decision.MatchedPermissions)
	}

	decision = authz.Authorize(context.Background(), identity, RequireAllPermissions(PermTasksRead, PermTasksDelete, "reports.export"))
	if !decision.Allowed {
		t.Error("Expected the wildcard to satisfy an all-of requirement")
	}
}

func TestAuthorizeRoleNames(t *testing.T) {
	cache := &stubCache{set: NewGrantSet(PermTasksRead)}
	authz := NewAuthorizer(cache)

	decision := authz.Authorize(context.Background(), orgIdentity(3, RoleAdmin), RequireRoles(RoleOwner, RoleAdmin))
	if !decision.Allowed {
		t.Fatalf("Expected the role name match to allow, denied with %s", decision.Reason)
	}
	if cache.resolves != 0 {
		t.Errorf("Expected a role-only requirement to skip the cache, got %d reads", cache.resolves)
	}

	decision = authz.Authorize(context.Background(), orgIdentity(3, RoleViewer), RequireRoles(RoleOwner, RoleAdmin))
	if decision.Allowed {
		t.Fatal("Expected the role name mismatch to deny")
	}
	if decision.Reason != ReasonInsufficientRole {
		t.Errorf("Expected %s, got %s", ReasonInsufficientRole, decision.Reason)
	}
}

func TestAuthorizeBothKindsMustPass(t *testing.T) {
	cache := &stubCache{set: NewGrantSet(PermTasksDelete)}
	authz := NewAuthorizer(cache)

	req := Requirements{Permissions: []string{PermTasksDelete}, Roles: []string{RoleOwner, RoleAdmin}}

	decision := authz.Authorize(context.Background(), orgIdentity(3, RoleMember), req)
	if decision.Allowed {
		t.Fatal("Expected a permission match with a role mismatch to deny")
	}
	if decision.Reason != ReasonInsufficientRole {
		t.Errorf("Expected %s, got %s", ReasonInsufficientRole, decision.Reason)
	}

	decision = authz.Authorize(context.Background(), orgIdentity(3, RoleAdmin), req)
	if !decision.Allowed {
		t.Fatalf("Expected both kinds satisfied to allow, denied with %s", decision.Reason)
	}
}

func TestAuthorizeNoOrgBinding(t *testing.T) {
	cache := &stubCache{set: NewGrantSet(Wildcard)}
	authz := NewAuthorizer(cache)
	identity := &auth.Identity{UserID: 7}

	decision := authz.Authorize(context.Background(), identity, RequirePermissions(PermTasksRead))
	if decision.Allowed {
		t.Fatal("Expected an identity without a role to be denied")
	}
	if decision.Reason != ReasonInsufficientPermissions {
		t.Errorf("Expected %s, got %s", ReasonInsufficientPermissions, decision.Reason)
	}
	if cache.resolves != 0 {
		t.Errorf("Expected no cache read without a bound role, got %d", cache.resolves)
	}
}

func TestAuthorizeStoreFailureFailsClosed(t *testing.T) {
	cache := &stubCache{err: errors.New("connection refused")}
	authz := NewAuthorizer(cache)
	identity := orgIdentity(3, RoleAdmin)

	decision := authz.Authorize(context.Background(), identity, RequirePermissions(PermTasksRead))
	if decision.Allowed {
		t.Fatal("Expected a store failure to deny")
	}
	if decision.Reason != ReasonStoreUnavailable {
		t.Errorf("Expected %s, got %s", ReasonStoreUnavailable, decision.Reason)
	}
	if decision.HTTPStatus != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", decision.HTTPStatus)
	}
}

func TestAuthorizeSingleCacheRead(t *testing.T) {
	cache := &stubCache{set: NewGrantSet(PermTasksRead, PermTasksUpdate)}
	authz := NewAuthorizer(cache)
	identity := orgIdentity(3, RoleMember)

	req := Requirements{
		Permissions: []string{PermTasksRead, PermTasksUpdate, PermTasksAssign},
		Roles:       []string{RoleMember},
	}

	decision := authz.Authorize(context.Background(), identity, req)
	if !decision.Allowed {
		t.Fatalf("Expected allow, denied with %s", decision.Reason)
	}
	if cache.resolves != 1 {
		t.Errorf("Expected exactly one cache read per decision, got %d", cache.resolves)
	}
	if cache.lastRole != 3 {
		t.Errorf("Expected the identity's role to be resolved, got %d", cache.lastRole)
	}
}
