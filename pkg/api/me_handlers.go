package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/taskhive/taskhive/pkg/auth"
	"github.com/taskhive/taskhive/pkg/httputil"
	"github.com/taskhive/taskhive/pkg/orgs"
	"github.com/taskhive/taskhive/pkg/rbac"
)

// MeHandlers serves the caller's own view: the resolved identity, the
// organizations they belong to, and their API tokens.
type MeHandlers struct {
	service   *orgs.PostgresService
	cache     rbac.PermissionCache
	generator *auth.TokenGenerator
}

// NewMeHandlers creates the self-service handlers. cache may be nil, in
// which case /me omits the effective permission list.
func NewMeHandlers(service *orgs.PostgresService, cache rbac.PermissionCache) *MeHandlers {
	return &MeHandlers{
		service:   service,
		cache:     cache,
		generator: auth.NewTokenGenerator(),
	}
}

type meResponse struct {
	Identity      *auth.Identity       `json:"identity"`
	Organizations []*orgs.Organization `json:"organizations"`
	Permissions   []string             `json:"permissions,omitempty"`
	Wildcard      bool                 `json:"wildcard,omitempty"`
}

// Me returns the caller's identity as the pipeline resolved it, their
// organizations, and, for org-bound tokens, the permissions their role
// grants right now.
func (h *MeHandlers) Me(w http.ResponseWriter, r *http.Request) {
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

	resp := meResponse{Identity: identity, Organizations: list}

	if identity.RoleID != nil && h.cache != nil {
		grants, err := h.cache.Resolve(r.Context(), *identity.RoleID)
		if err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
		resp.Permissions = grants.Slugs()
		resp.Wildcard = grants.Wildcard()
	}

	httputil.WriteSuccess(w, resp)
}

// createdToken carries the one-time plaintext alongside the stored row.
// The plaintext is never persisted or shown again.
type createdToken struct {
	*auth.APIToken
	Token string `json:"token"`
}

// CreateToken mints an API token for the caller. An organization binding
// is optional; bound tokens resolve with that organization's role on every
// use, unbound tokens stay org-agnostic.
func (h *MeHandlers) CreateToken(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req struct {
		Name           string `json:"name"`
		OrganizationID *int64 `json:"organization_id"`
		ExpiresInHours int    `json:"expires_in_hours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}
	if req.Name == "" {
		httputil.WriteValidationError(w, "name is required")
		return
	}
	if req.ExpiresInHours < 0 {
		httputil.WriteValidationError(w, "expires_in_hours cannot be negative")
		return
	}

	// A token bound to an organization the caller is not an active member
	// of would fail resolution on every use; reject it up front.
	if req.OrganizationID != nil {
		_, err := h.service.GetActiveMembership(r.Context(), identity.UserID, *req.OrganizationID)
		if errors.Is(err, auth.ErrNotFound) {
			httputil.WriteValidationError(w, "not an active member of that organization")
			return
		}
		if err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
	}

	plaintext, hash, prefix, err := h.generator.GenerateToken()
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	token := &auth.APIToken{
		UserID:         identity.UserID,
		OrganizationID: req.OrganizationID,
		TokenHash:      hash,
		TokenPrefix:    prefix,
		Name:           req.Name,
	}
	if req.ExpiresInHours > 0 {
		expires := time.Now().Add(time.Duration(req.ExpiresInHours) * time.Hour)
		token.ExpiresAt = &expires
	}

	if err := h.service.CreateAPIToken(r.Context(), token); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteCreated(w, createdToken{APIToken: token, Token: plaintext})
}

// ListTokens returns the caller's live tokens. Only prefixes are shown;
// hashes never leave the store.
func (h *MeHandlers) ListTokens(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	tokens, err := h.service.ListAPITokens(r.Context(), identity.UserID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if tokens == nil {
		tokens = []*auth.APIToken{}
	}

	httputil.WriteSuccess(w, tokens)
}

// RevokeToken revokes one of the caller's tokens. Requests presenting it
// fail from the next verification on.
func (h *MeHandlers) RevokeToken(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	tokenID, ok := parsePathID(w, r, "token_id", "token")
	if !ok {
		return
	}

	if err := h.service.RevokeAPIToken(r.Context(), tokenID, identity.UserID); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			httputil.WriteNotFoundError(w, "token not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}
