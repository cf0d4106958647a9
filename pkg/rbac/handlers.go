package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/taskhive/taskhive/pkg/httputil"
)

// Handlers exposes role management over HTTP. Grant writes follow the
// cache contract: commit first, invalidate after, broadcast last.
type Handlers struct {
	store *Store
	cache PermissionCache
	bus   *InvalidationBus
	log   *logrus.Logger
}

// NewHandlers creates role management handlers. The bus may be nil on
// single-instance deployments; logger may be nil.
func NewHandlers(store *Store, cache PermissionCache, bus *InvalidationBus, log *logrus.Logger) *Handlers {
	if log == nil {
		log = logrus.New()
	}
	return &Handlers{store: store, cache: cache, bus: bus, log: log}
}

// RegisterRoutes registers the role management routes on router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/organizations/{org_id}/roles", h.CreateRole).Methods("POST")
	router.HandleFunc("/organizations/{org_id}/roles", h.ListRoles).Methods("GET")
	router.HandleFunc("/organizations/{org_id}/roles/{role_id}", h.GetRole).Methods("GET")
	router.HandleFunc("/organizations/{org_id}/roles/{role_id}", h.UpdateRole).Methods("PUT")
	router.HandleFunc("/organizations/{org_id}/roles/{role_id}", h.DeleteRole).Methods("DELETE")
	router.HandleFunc("/organizations/{org_id}/roles/{role_id}/permissions", h.GetRolePermissions).Methods("GET")
	router.HandleFunc("/organizations/{org_id}/roles/{role_id}/permissions", h.SetRolePermissions).Methods("PUT")
	router.HandleFunc("/permissions", h.ListPermissions).Methods("GET")
}

// CreateRole creates a custom role for the organization, optionally with
// an initial grant list.
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	orgID, err := strconv.ParseInt(vars["org_id"], 10, 64)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid organization id")
		return
	}

	var req struct {
		Name        string   `json:"name"`
		DisplayName string   `json:"display_name"`
		Description string   `json:"description"`
		Permissions []string `json:"permissions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}

	if req.Name == "" || req.DisplayName == "" {
		httputil.WriteValidationError(w, "name and display_name are required")
		return
	}

	for _, slug := range req.Permissions {
		if !KnownSlug(slug) {
			httputil.WriteValidationError(w, fmt.Sprintf("%q: %s", slug, ErrUnknownPermission))
			return
		}
	}

	// System roles occupy their names in every organization.
	existing, err := h.store.GetRoleByName(ctx, &orgID, req.Name)
	if err != nil && !errors.Is(err, ErrRoleNotFound) {
		httputil.WriteInternalError(w, err)
		return
	}
	if existing != nil {
		httputil.WriteConflict(w, ErrRoleExists.Error())
		return
	}

	role := &Role{
		Name:           req.Name,
		DisplayName:    req.DisplayName,
		Description:    req.Description,
		OrganizationID: &orgID,
	}
	if err := h.store.CreateRole(ctx, role); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	if len(req.Permissions) > 0 {
		if err := h.store.SetRolePermissions(ctx, role.ID, req.Permissions); err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
	}

	httputil.WriteCreated(w, role)
}

// ListRoles returns the organization's roles plus the system roles.
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	orgID, err := strconv.ParseInt(vars["org_id"], 10, 64)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid organization id")
		return
	}

	roles, err := h.store.ListRoles(r.Context(), orgID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, roles)
}

// GetRole returns one role visible to the organization.
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	role, ok := h.orgRole(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, role)
}

// UpdateRole changes a custom role's display name and description.
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	role, ok := h.orgRole(w, r)
	if !ok {
		return
	}
	if role.IsSystem {
		httputil.WriteForbidden(w, ErrSystemRole.Error())
		return
	}

	var req struct {
		DisplayName string `json:"display_name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}
	if req.DisplayName == "" {
		httputil.WriteValidationError(w, "display_name is required")
		return
	}

	role.DisplayName = req.DisplayName
	role.Description = req.Description

	if err := h.store.UpdateRole(r.Context(), role); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, role)
}

// DeleteRole removes a custom role and drops its cached grants.
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	role, ok := h.orgRole(w, r)
	if !ok {
		return
	}
	if role.IsSystem {
		httputil.WriteForbidden(w, ErrSystemRole.Error())
		return
	}

	if err := h.store.DeleteRole(ctx, role.ID); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	h.invalidate(ctx, role.ID)
	httputil.WriteNoContent(w)
}

// GetRolePermissions returns the role's grant list.
func (h *Handlers) GetRolePermissions(w http.ResponseWriter, r *http.Request) {
	role, ok := h.orgRole(w, r)
	if !ok {
		return
	}

	slugs, err := h.store.GetPermissionsForRole(r.Context(), role.ID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if slugs == nil {
		slugs = []string{}
	}

	httputil.WriteSuccess(w, map[string]any{
		"role_id":     role.ID,
		"permissions": slugs,
	})
}

// SetRolePermissions replaces a custom role's grants. The store write
// commits first; only then is the cached entry dropped and the change
// broadcast, so no instance can re-cache the old grants afterward.
func (h *Handlers) SetRolePermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	role, ok := h.orgRole(w, r)
	if !ok {
		return
	}
	if role.IsSystem {
		httputil.WriteForbidden(w, ErrSystemRole.Error())
		return
	}

	var req struct {
		Permissions []string `json:"permissions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}

	if err := h.store.SetRolePermissions(ctx, role.ID, req.Permissions); err != nil {
		if errors.Is(err, ErrUnknownPermission) {
			httputil.WriteValidationError(w, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	h.invalidate(ctx, role.ID)

	slugs, err := h.store.GetPermissionsForRole(ctx, role.ID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if slugs == nil {
		slugs = []string{}
	}

	httputil.WriteSuccess(w, map[string]any{
		"role_id":     role.ID,
		"permissions": slugs,
	})
}

// ListPermissions returns the permission catalog.
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.store.ListPermissions(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, perms)
}

// orgRole loads the role named in the path and checks it is visible to
// the organization in the path: one of the org's own roles or a system
// role. On failure it writes the error response and reports false.
func (h *Handlers) orgRole(w http.ResponseWriter, r *http.Request) (*Role, bool) {
	vars := mux.Vars(r)

	orgID, err := strconv.ParseInt(vars["org_id"], 10, 64)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid organization id")
		return nil, false
	}

	roleID, err := strconv.ParseInt(vars["role_id"], 10, 64)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid role id")
		return nil, false
	}

	role, err := h.store.GetRole(r.Context(), roleID)
	if errors.Is(err, ErrRoleNotFound) {
		httputil.WriteNotFoundError(w, "role not found")
		return nil, false
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return nil, false
	}

	// Another organization's role is indistinguishable from a missing one.
	if role.OrganizationID != nil && *role.OrganizationID != orgID {
		httputil.WriteNotFoundError(w, "role not found")
		return nil, false
	}

	return role, true
}

func (h *Handlers) invalidate(ctx context.Context, roleID int64) {
	if err := h.cache.Invalidate(ctx, roleID); err != nil {
		h.log.Warnf("Failed to invalidate role %d: %v", roleID, err)
	}
	if h.bus != nil {
		if err := h.bus.PublishRole(ctx, roleID); err != nil {
			h.log.Warnf("Failed to broadcast invalidation for role %d: %v", roleID, err)
		}
	}
}
