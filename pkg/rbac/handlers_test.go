package rbac

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStoreLoader wraps a Store so tests can count actual grant reads
// flowing through the cache.
type countingStoreLoader struct {
	store *Store
	calls int
}

func (c *countingStoreLoader) GetPermissionsForRole(ctx context.Context, roleID int64) ([]string, error) {
	c.calls++
	return c.store.GetPermissionsForRole(ctx, roleID)
}

type handlersFixture struct {
	store  *Store
	cache  *MemoryPermissionCache
	loader *countingStoreLoader
	router *mux.Router
}

func newHandlersFixture(t *testing.T) *handlersFixture {
	t.Helper()

	db := newTestDB(t)
	store := NewStore(db)
	require.NoError(t, store.Seed(context.Background()))

	loader := &countingStoreLoader{store: store}
	cache := NewMemoryPermissionCache(loader, DefaultCacheConfig(), nil)
	handlers := NewHandlers(store, cache, nil, nil)

	router := mux.NewRouter()
	handlers.RegisterRoutes(router)

	return &handlersFixture{store: store, cache: cache, loader: loader, router: router}
}

func (f *handlersFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *handlersFixture) createRole(t *testing.T, orgID int64, name string, permissions []string) Role {
	t.Helper()

	rec := f.do(t, "POST", fmt.Sprintf("/organizations/%d/roles", orgID), map[string]any{
		"name":         name,
		"display_name": name,
		"permissions":  permissions,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var role Role
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&role))
	return role
}

func TestHandlersRegisterRoutes(t *testing.T) {
	f := newHandlersFixture(t)

	tests := []struct {
		method string
		path   string
	}{
		{"POST", "/organizations/1/roles"},
		{"GET", "/organizations/1/roles"},
		{"GET", "/organizations/1/roles/2"},
		{"PUT", "/organizations/1/roles/2"},
		{"DELETE", "/organizations/1/roles/2"},
		{"GET", "/organizations/1/roles/2/permissions"},
		{"PUT", "/organizations/1/roles/2/permissions"},
		{"GET", "/permissions"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		match := &mux.RouteMatch{}
		assert.True(t, f.router.Match(req, match), "Route %s %s not registered", tt.method, tt.path)
	}
}

func TestCreateRoleHandler(t *testing.T) {
	f := newHandlersFixture(t)

	role := f.createRole(t, 1, "triager", []string{PermTasksRead, PermTasksAssign})
	assert.NotZero(t, role.ID)
	assert.Equal(t, "triager", role.Name)
	require.NotNil(t, role.OrganizationID)
	assert.Equal(t, int64(1), *role.OrganizationID)
	assert.False(t, role.IsSystem)

	slugs, err := f.store.GetPermissionsForRole(context.Background(), role.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{PermTasksRead, PermTasksAssign}, slugs)
}

func TestCreateRoleHandlerValidation(t *testing.T) {
	f := newHandlersFixture(t)

	// Missing name.
	rec := f.do(t, "POST", "/organizations/1/roles", map[string]any{"display_name": "X"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown permission slug.
	rec = f.do(t, "POST", "/organizations/1/roles", map[string]any{
		"name":         "triager",
		"display_name": "Triager",
		"permissions":  []string{"reports.export"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Bad organization id.
	rec = f.do(t, "POST", "/organizations/abc/roles", map[string]any{
		"name":         "triager",
		"display_name": "Triager",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Duplicate name within the organization.
	f.createRole(t, 1, "triager", nil)
	rec = f.do(t, "POST", "/organizations/1/roles", map[string]any{
		"name":         "triager",
		"display_name": "Triager",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// System role names are occupied everywhere.
	rec = f.do(t, "POST", "/organizations/1/roles", map[string]any{
		"name":         RoleAdmin,
		"display_name": "My Admin",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// The same name is free in another organization.
	rec = f.do(t, "POST", "/organizations/2/roles", map[string]any{
		"name":         "triager",
		"display_name": "Triager",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestListRolesHandler(t *testing.T) {
	f := newHandlersFixture(t)
	f.createRole(t, 1, "triager", nil)
	f.createRole(t, 2, "auditor", nil)

	rec := f.do(t, "GET", "/organizations/1/roles", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var roles []Role
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&roles))

	// Four system roles plus the org's own; the other org's stays hidden.
	assert.Len(t, roles, 5)
	for _, role := range roles {
		assert.NotEqual(t, "auditor", role.Name)
	}
}

func TestGetRoleHandler(t *testing.T) {
	f := newHandlersFixture(t)
	role := f.createRole(t, 1, "triager", nil)

	rec := f.do(t, "GET", fmt.Sprintf("/organizations/1/roles/%d", role.ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Another organization cannot see it, or even learn it exists.
	rec = f.do(t, "GET", fmt.Sprintf("/organizations/2/roles/%d", role.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, "GET", "/organizations/1/roles/99999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// System roles are visible to every organization.
	owner, err := f.store.GetRoleByName(context.Background(), nil, RoleOwner)
	require.NoError(t, err)
	rec = f.do(t, "GET", fmt.Sprintf("/organizations/2/roles/%d", owner.ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateRoleHandler(t *testing.T) {
	f := newHandlersFixture(t)
	role := f.createRole(t, 1, "triager", nil)

	rec := f.do(t, "PUT", fmt.Sprintf("/organizations/1/roles/%d", role.ID), map[string]any{
		"display_name": "Inbox Triager",
		"description":  "Sorts the inbox",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var updated Role
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&updated))
	assert.Equal(t, "Inbox Triager", updated.DisplayName)

	// System roles are read-only.
	owner, err := f.store.GetRoleByName(context.Background(), nil, RoleOwner)
	require.NoError(t, err)
	rec = f.do(t, "PUT", fmt.Sprintf("/organizations/1/roles/%d", owner.ID), map[string]any{
		"display_name": "Supreme Leader",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeleteRoleHandler(t *testing.T) {
	f := newHandlersFixture(t)
	role := f.createRole(t, 1, "triager", nil)

	rec := f.do(t, "DELETE", fmt.Sprintf("/organizations/1/roles/%d", role.ID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, "GET", fmt.Sprintf("/organizations/1/roles/%d", role.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	owner, err := f.store.GetRoleByName(context.Background(), nil, RoleOwner)
	require.NoError(t, err)
	rec = f.do(t, "DELETE", fmt.Sprintf("/organizations/1/roles/%d", owner.ID), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSetRolePermissionsHandler(t *testing.T) {
	f := newHandlersFixture(t)
	ctx := context.Background()
	role := f.createRole(t, 1, "triager", []string{PermTasksRead})

	// Warm the cache with the original grants.
	set, err := f.cache.Resolve(ctx, role.ID)
	require.NoError(t, err)
	assert.True(t, set.Has(PermTasksRead))
	assert.False(t, set.Has(PermTasksUpdate))
	require.Equal(t, 1, f.loader.calls)

	rec := f.do(t, "PUT", fmt.Sprintf("/organizations/1/roles/%d/permissions", role.ID), map[string]any{
		"permissions": []string{PermTasksRead, PermTasksUpdate},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		RoleID      int64    `json:"role_id"`
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, role.ID, resp.RoleID)
	assert.ElementsMatch(t, []string{PermTasksRead, PermTasksUpdate}, resp.Permissions)

	// The write invalidated the entry, so the next resolve re-reads the
	// store and sees the new grants.
	set, err = f.cache.Resolve(ctx, role.ID)
	require.NoError(t, err)
	assert.True(t, set.Has(PermTasksUpdate))
	assert.Equal(t, 2, f.loader.calls)
}

func TestSetRolePermissionsHandlerRejections(t *testing.T) {
	f := newHandlersFixture(t)
	role := f.createRole(t, 1, "triager", []string{PermTasksRead})

	// Unknown slug.
	rec := f.do(t, "PUT", fmt.Sprintf("/organizations/1/roles/%d/permissions", role.ID), map[string]any{
		"permissions": []string{"reports.export"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// System role grants are pinned.
	owner, err := f.store.GetRoleByName(context.Background(), nil, RoleOwner)
	require.NoError(t, err)
	rec = f.do(t, "PUT", fmt.Sprintf("/organizations/1/roles/%d/permissions", owner.ID), map[string]any{
		"permissions": []string{PermTasksRead},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Cross-org writes read as missing.
	rec = f.do(t, "PUT", fmt.Sprintf("/organizations/2/roles/%d/permissions", role.ID), map[string]any{
		"permissions": []string{PermTasksRead},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRolePermissionsHandler(t *testing.T) {
	f := newHandlersFixture(t)
	role := f.createRole(t, 1, "triager", []string{PermTasksRead, PermTasksAssign})

	rec := f.do(t, "GET", fmt.Sprintf("/organizations/1/roles/%d/permissions", role.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		RoleID      int64    `json:"role_id"`
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.ElementsMatch(t, []string{PermTasksRead, PermTasksAssign}, resp.Permissions)

	// A role without grants answers an empty list, not null.
	bare := f.createRole(t, 1, "bare", nil)
	rec = f.do(t, "GET", fmt.Sprintf("/organizations/1/roles/%d/permissions", bare.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"permissions":[]`)
}

func TestListPermissionsHandler(t *testing.T) {
	f := newHandlersFixture(t)

	rec := f.do(t, "GET", "/permissions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var perms []Permission
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&perms))
	assert.Len(t, perms, len(Catalog()))
}
