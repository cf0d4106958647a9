package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/taskhive/taskhive/pkg/auth"
	"github.com/taskhive/taskhive/pkg/httputil"
	"github.com/taskhive/taskhive/pkg/middleware"
	"github.com/taskhive/taskhive/pkg/orgs"
	"github.com/taskhive/taskhive/pkg/rbac"
)

// OrgHandlers exposes organization administration: the organization row
// itself and its memberships. Role management lives in pkg/rbac; these
// handlers only consult the role store to validate member assignments.
type OrgHandlers struct {
	service *orgs.PostgresService
	roles   *rbac.Store
}

// NewOrgHandlers creates the organization handlers. roles may be nil, in
// which case member role assignments are not cross-checked.
func NewOrgHandlers(service *orgs.PostgresService, roles *rbac.Store) *OrgHandlers {
	return &OrgHandlers{service: service, roles: roles}
}

// CreateOrganization creates an organization owned by the caller and seats
// them as its first active member with the owner role.
func (h *OrgHandlers) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req orgs.CreateOrgRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}
	if req.Name == "" {
		httputil.WriteValidationError(w, "name is required")
		return
	}

	org := &orgs.Organization{
		Name:     req.Name,
		Slug:     req.Slug,
		OwnerID:  &identity.UserID,
		PlanTier: req.PlanTier,
		Settings: req.Settings,
	}
	if err := h.service.CreateOrganization(r.Context(), org); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	if h.roles != nil {
		owner, err := h.roles.GetRoleByName(r.Context(), nil, rbac.RoleOwner)
		if err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
		if err := h.service.AddMember(r.Context(), org.ID, identity.UserID, owner.ID, auth.MembershipActive); err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
	}

	httputil.WriteCreated(w, org)
}

// ListOrganizations returns the organizations the caller belongs to.
func (h *OrgHandlers) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	list, err := h.service.ListOrganizations(r.Context(), identity.UserID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if list == nil {
		list = []*orgs.Organization{}
	}

	httputil.WriteSuccess(w, list)
}

// GetOrganization returns the organization in the path. The row is usually
// already on the context, loaded by the organization middleware.
func (h *OrgHandlers) GetOrganization(w http.ResponseWriter, r *http.Request) {
	if org, ok := middleware.OrgFromContext(r.Context()); ok {
		httputil.WriteSuccess(w, org)
		return
	}

	orgID, ok := orgPathID(w, r)
	if !ok {
		return
	}
	org, err := h.service.GetOrganization(r.Context(), orgID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			httputil.WriteNotFoundError(w, "organization not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, org)
}

// UpdateOrganization applies partial updates to the organization row.
func (h *OrgHandlers) UpdateOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgPathID(w, r)
	if !ok {
		return
	}

	var req orgs.UpdateOrgRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}

	if err := h.service.UpdateOrganization(r.Context(), orgID, &req); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			httputil.WriteNotFoundError(w, "organization not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	org, err := h.service.GetOrganization(r.Context(), orgID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, org)
}

// DeleteOrganization marks the organization deleted. Memberships stay in
// place; the resolver rejects bindings to non-active organizations.
func (h *OrgHandlers) DeleteOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgPathID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteOrganization(r.Context(), orgID); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			httputil.WriteNotFoundError(w, "organization not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// ListMembers returns the organization's memberships joined with user and
// role names.
func (h *OrgHandlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgPathID(w, r)
	if !ok {
		return
	}

	members, err := h.service.ListMembers(r.Context(), orgID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if members == nil {
		members = []*orgs.Member{}
	}

	httputil.WriteSuccess(w, members)
}

// AddMember seats a user in the organization. The role must be a system
// role or one of the organization's own; another tenant's custom role is
// rejected before it can leak across the boundary.
func (h *OrgHandlers) AddMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgPathID(w, r)
	if !ok {
		return
	}

	var req orgs.AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}
	if req.UserID == 0 || req.RoleID == 0 {
		httputil.WriteValidationError(w, "user_id and role_id are required")
		return
	}
	if req.Status != "" && !validMemberStatus(req.Status) {
		httputil.WriteValidationError(w, "status must be active, inactive or pending")
		return
	}
	if !h.roleUsableBy(w, r, orgID, req.RoleID) {
		return
	}

	if err := h.service.AddMember(r.Context(), orgID, req.UserID, req.RoleID, req.Status); err != nil {
		var quota *orgs.QuotaExceededError
		switch {
		case errors.As(err, &quota):
			httputil.WriteTooManyRequests(w, quota.Error())
		case errors.Is(err, orgs.ErrAlreadyMember):
			httputil.WriteConflict(w, "user is already a member")
		case errors.Is(err, auth.ErrNotFound):
			httputil.WriteNotFoundError(w, "organization not found")
		default:
			httputil.WriteInternalError(w, err)
		}
		return
	}

	member, err := h.service.GetMember(r.Context(), orgID, req.UserID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteCreated(w, member)
}

// UpdateMember changes a member's role, status, or both. A role change is
// visible on the member's next request; no cache invalidation is needed
// because grants are cached per role, not per user.
func (h *OrgHandlers) UpdateMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgPathID(w, r)
	if !ok {
		return
	}
	userID, ok := memberPathID(w, r)
	if !ok {
		return
	}

	var req orgs.UpdateMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}
	if req.RoleID == nil && req.Status == nil {
		httputil.WriteValidationError(w, "role_id or status is required")
		return
	}
	if req.Status != nil && !validMemberStatus(*req.Status) {
		httputil.WriteValidationError(w, "status must be active, inactive or pending")
		return
	}
	if req.RoleID != nil && !h.roleUsableBy(w, r, orgID, *req.RoleID) {
		return
	}

	if req.RoleID != nil {
		if err := h.service.UpdateMemberRole(r.Context(), orgID, userID, *req.RoleID); err != nil {
			writeMemberError(w, err)
			return
		}
	}
	if req.Status != nil {
		if err := h.service.UpdateMemberStatus(r.Context(), orgID, userID, *req.Status); err != nil {
			writeMemberError(w, err)
			return
		}
	}

	member, err := h.service.GetMember(r.Context(), orgID, userID)
	if err != nil {
		writeMemberError(w, err)
		return
	}

	httputil.WriteSuccess(w, member)
}

// RemoveMember deletes the membership. The removed user's next request
// into this organization fails identity resolution.
func (h *OrgHandlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgPathID(w, r)
	if !ok {
		return
	}
	userID, ok := memberPathID(w, r)
	if !ok {
		return
	}

	if err := h.service.RemoveMember(r.Context(), orgID, userID); err != nil {
		writeMemberError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// roleUsableBy verifies the role exists and belongs to this organization
// or is a system role. On failure it writes the response and reports false.
func (h *OrgHandlers) roleUsableBy(w http.ResponseWriter, r *http.Request, orgID, roleID int64) bool {
	if h.roles == nil {
		return true
	}

	role, err := h.roles.GetRole(r.Context(), roleID)
	if errors.Is(err, rbac.ErrRoleNotFound) {
		httputil.WriteValidationError(w, "role does not exist")
		return false
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return false
	}
	if role.OrganizationID != nil && *role.OrganizationID != orgID {
		httputil.WriteValidationError(w, "role belongs to another organization")
		return false
	}
	return true
}

func writeMemberError(w http.ResponseWriter, err error) {
	if errors.Is(err, auth.ErrNotFound) {
		httputil.WriteNotFoundError(w, "member not found")
		return
	}
	httputil.WriteInternalError(w, err)
}

func validMemberStatus(status string) bool {
	switch status {
	case auth.MembershipActive, auth.MembershipInactive, auth.MembershipPending:
		return true
	}
	return false
}

// requireIdentity returns the identity the guard stored, or writes 401.
func requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, false
	}
	return identity, true
}

func orgPathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	return parsePathID(w, r, "org_id", "organization")
}

func memberPathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	return parsePathID(w, r, "user_id", "user")
}

func parsePathID(w http.ResponseWriter, r *http.Request, name, label string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid "+label+" id")
		return 0, false
	}
	return id, true
}
