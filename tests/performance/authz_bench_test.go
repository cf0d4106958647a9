// Package performance holds microbenchmarks for the authorization hot
// path. Everything runs against in-memory fakes so the numbers reflect
// pipeline overhead, not database or network latency.
//
// Run with:
//
//	go test -bench=. -benchmem ./tests/performance/
package performance

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/taskhive/taskhive/pkg/auth"
	"github.com/taskhive/taskhive/pkg/middleware"
	"github.com/taskhive/taskhive/pkg/observability"
	"github.com/taskhive/taskhive/pkg/rbac"
)

type benchVerifier map[string]*auth.TokenClaims

func (v benchVerifier) Verify(_ context.Context, token string) (*auth.TokenClaims, error) {
	claims, ok := v[token]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return claims, nil
}

type benchUsers map[int64]*auth.User

func (u benchUsers) GetUser(_ context.Context, id int64) (*auth.User, error) {
	user, ok := u[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return user, nil
}

func (u benchUsers) GetUserByEmail(_ context.Context, email string) (*auth.User, error) {
	for _, user := range u {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, auth.ErrNotFound
}

type benchMemberships map[string]*auth.Membership

func (m benchMemberships) GetActiveMembership(_ context.Context, userID, orgID int64) (*auth.Membership, error) {
	row, ok := m[fmt.Sprintf("%d:%d", userID, orgID)]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return row, nil
}

type benchLoader map[int64][]string

func (l benchLoader) GetPermissionsForRole(_ context.Context, roleID int64) ([]string, error) {
	return l[roleID], nil
}

func newBenchCache(grants map[int64][]string) *rbac.MemoryPermissionCache {
	return rbac.NewMemoryPermissionCache(benchLoader(grants), rbac.CacheConfig{}, nil)
}

// newBenchPipeline wires a pipeline over static stores: one member of
// organization 1 holding the member grant set.
func newBenchPipeline() (*middleware.Pipeline, int64) {
	log := observability.NewLogger(observability.ErrorLevel, io.Discard)
	orgID := int64(1)

	resolver := auth.NewResolver(
		benchVerifier{
			"bench-token": {UserID: 1, Email: "bench@example.com", OrganizationID: &orgID, Verifier: "static"},
		},
		benchUsers{
			1: {ID: 1, Email: "bench@example.com", Name: "Bench", IsActive: true},
		},
		benchMemberships{
			"1:1": {ID: 1, UserID: 1, OrganizationID: orgID, RoleID: 3, RoleName: rbac.RoleMember, Status: auth.MembershipActive},
		},
		log,
	)

	cache := newBenchCache(map[int64][]string{
		3: {rbac.PermTasksCreate, rbac.PermTasksRead, rbac.PermTasksUpdate},
	})

	return middleware.NewPipeline(resolver, rbac.NewAuthorizer(cache), nil, log), orgID
}

func BenchmarkCacheResolveHit(b *testing.B) {
	cache := newBenchCache(map[int64][]string{7: {rbac.PermTasksRead, rbac.PermTasksCreate}})
	ctx := context.Background()

	// Warm the entry so every iteration is a hit.
	if _, err := cache.Resolve(ctx, 7); err != nil {
		b.Skipf("Failed to warm the cache: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		grants, err := cache.Resolve(ctx, 7)
		if err != nil {
			b.Errorf("Resolve failed: %v", err)
		}
		if !grants.Has(rbac.PermTasksRead) {
			b.Errorf("Expected tasks.read in the grant set")
		}
	}
}

func BenchmarkAuthorizerWildcard(b *testing.B) {
	cache := newBenchCache(map[int64][]string{1: {rbac.Wildcard}})
	authorizer := rbac.NewAuthorizer(cache)

	roleID := int64(1)
	identity := &auth.Identity{UserID: 1, RoleID: &roleID, RoleName: rbac.RoleOwner}
	req := rbac.RequirePermissions(rbac.PermTasksDelete)

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		decision := authorizer.Authorize(ctx, identity, req)
		if !decision.Allowed {
			b.Errorf("Expected an allow, got %s", decision.Reason)
		}
	}
}

func BenchmarkAuthorizerAnyOf(b *testing.B) {
	cache := newBenchCache(map[int64][]string{3: {rbac.PermTasksRead, rbac.PermTasksCreate}})
	authorizer := rbac.NewAuthorizer(cache)

	roleID := int64(3)
	identity := &auth.Identity{UserID: 1, RoleID: &roleID, RoleName: rbac.RoleMember}
	req := rbac.RequirePermissions(rbac.PermTasksDelete, rbac.PermTasksRead)

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		decision := authorizer.Authorize(ctx, identity, req)
		if !decision.Allowed {
			b.Errorf("Expected an allow, got %s", decision.Reason)
		}
	}
}

func BenchmarkAuthorizerRoleName(b *testing.B) {
	cache := newBenchCache(nil)
	authorizer := rbac.NewAuthorizer(cache)

	roleID := int64(1)
	identity := &auth.Identity{UserID: 1, RoleID: &roleID, RoleName: rbac.RoleOwner}
	req := rbac.RequireRoles(rbac.RoleOwner, rbac.RoleAdmin)

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		decision := authorizer.Authorize(ctx, identity, req)
		if !decision.Allowed {
			b.Errorf("Expected an allow, got %s", decision.Reason)
		}
	}
}

func BenchmarkPipelineAllow(b *testing.B) {
	pipeline, orgID := newBenchPipeline()
	route := middleware.RouteMetadata{
		Name:         "tasks.list",
		OrgScoped:    true,
		Requirements: rbac.RequirePermissions(rbac.PermTasksRead),
	}

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		outcome := pipeline.AuthorizeRequest(ctx, "bench-token", &orgID, route)
		if !outcome.Decision.Allowed {
			b.Errorf("Expected an allow, got %s", outcome.Decision.Reason)
		}
	}
}

func BenchmarkPipelineScopeReject(b *testing.B) {
	pipeline, _ := newBenchPipeline()
	route := middleware.RouteMetadata{
		Name:         "tasks.list",
		OrgScoped:    true,
		Requirements: rbac.RequirePermissions(rbac.PermTasksRead),
	}

	otherOrg := int64(2)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		outcome := pipeline.AuthorizeRequest(ctx, "bench-token", &otherOrg, route)
		if outcome.Decision.Allowed {
			b.Error("Expected a scope rejection")
		}
		if outcome.Decision.Reason != rbac.ReasonOrganizationMismatch {
			b.Errorf("Expected organization_mismatch, got %s", outcome.Decision.Reason)
		}
	}
}
