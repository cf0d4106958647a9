package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/taskhive/taskhive/pkg/httputil"
	"github.com/taskhive/taskhive/pkg/observability"
	"github.com/taskhive/taskhive/pkg/orgs"
)

// QuotaService is the subset of the organization service the quota
// middleware needs. orgs.Service satisfies it.
type QuotaService interface {
	CheckSeatQuota(ctx context.Context, orgID int64) error
	CheckTaskQuota(ctx context.Context, orgID int64) error
	CheckAttachmentQuota(ctx context.Context, orgID int64, additionalBytes int64) error
}

// QuotaMiddleware enforces plan ceilings on the writes that consume them:
// seat checks on member invites, task checks on task creation, storage
// checks on attachment uploads.
//
// It resolves the organization from the request context, preferring the row
// OrganizationContext loaded and falling back to the identity's binding, so
// it runs after Guard. Requests with no organization in context pass
// through unchecked; quotas are per-tenant and there is no tenant to charge.
type QuotaMiddleware struct {
	service QuotaService
	log     *observability.Logger
}

// NewQuotaMiddleware creates the middleware over a quota service.
func NewQuotaMiddleware(service QuotaService, log *observability.Logger) *QuotaMiddleware {
	if log == nil {
		log = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &QuotaMiddleware{service: service, log: log}
}

// EnforceSeatQuota rejects the request when the organization has no seats
// left. Wrap member-adding routes with it.
func (m *QuotaMiddleware) EnforceSeatQuota(next http.Handler) http.Handler {
	return m.enforce(next, "seats", m.service.CheckSeatQuota)
}

// EnforceTaskQuota rejects the request when the organization is at its
// active-task ceiling. Wrap task-creating routes with it.
func (m *QuotaMiddleware) EnforceTaskQuota(next http.Handler) http.Handler {
	return m.enforce(next, "tasks", m.service.CheckTaskQuota)
}

// EnforceAttachmentQuota rejects uploads that would push the organization
// past its storage ceiling, sized by the request's Content-Length. Uploads
// of unknown length pass here and are charged when the attachment row is
// committed.
func (m *QuotaMiddleware) EnforceAttachmentQuota(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := quotaOrgID(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		bytes := r.ContentLength
		if bytes < 0 {
			bytes = 0
		}
		if err := m.service.CheckAttachmentQuota(r.Context(), orgID, bytes); err != nil {
			m.reject(w, "attachment_storage", err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *QuotaMiddleware) enforce(next http.Handler, resource string, check func(ctx context.Context, orgID int64) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := quotaOrgID(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		if err := check(r.Context(), orgID); err != nil {
			m.reject(w, resource, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *QuotaMiddleware) reject(w http.ResponseWriter, resource string, err error) {
	var qe *orgs.QuotaExceededError
	if errors.As(err, &qe) {
		httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":    qe.Error(),
			"resource": qe.Resource,
			"current":  qe.Current,
			"limit":    qe.Limit,
		})
		return
	}
	m.log.WithError(err).Errorf("%s quota check failed", resource)
	httputil.WriteServiceUnavailable(w, "quota check unavailable")
}

// quotaOrgID picks the organization to charge: the row loaded by
// OrganizationContext when present, otherwise the identity's binding.
func quotaOrgID(ctx context.Context) (int64, bool) {
	if org, ok := OrgFromContext(ctx); ok {
		return org.ID, true
	}
	if identity, ok := IdentityFromContext(ctx); ok && identity.OrgBound() {
		return *identity.OrganizationID, true
	}
	return 0, false
}
