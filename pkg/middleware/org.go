package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/taskhive/taskhive/pkg/auth"
	"github.com/taskhive/taskhive/pkg/contextkeys"
	"github.com/taskhive/taskhive/pkg/httputil"
	"github.com/taskhive/taskhive/pkg/observability"
	"github.com/taskhive/taskhive/pkg/orgs"
	"github.com/taskhive/taskhive/pkg/rbac"
)

// VerifyOrganizationScope compares an identity's organization binding
// against the organization a request path targets. It is a pure function
// over its inputs: no I/O, no shared state, safe from any number of
// goroutines.
//
// The rule is strict equality on the bound organization. A user who also
// holds an active membership in the target organization is still rejected
// when their token is bound elsewhere; acting in another organization
// requires a token bound to it.
func VerifyOrganizationScope(identity *auth.Identity, targetOrgID int64) rbac.Reason {
	if identity == nil || !identity.OrgBound() {
		return rbac.ReasonOrganizationRequired
	}
	if *identity.OrganizationID != targetOrgID {
		return rbac.ReasonOrganizationMismatch
	}
	return rbac.ReasonNone
}

// OrganizationLoader is the subset of the organization service the context
// middleware needs. orgs.Service satisfies it.
type OrganizationLoader interface {
	GetOrganization(ctx context.Context, id int64) (*orgs.Organization, error)
}

// OrganizationContext loads the organization an org-scoped route targets
// and attaches the row to the request context so handlers do not each
// re-read it. It expects to run after Guard.Protect, which has already
// verified the caller's binding against the same path variable.
type OrganizationContext struct {
	service OrganizationLoader
	log     *observability.Logger
}

// NewOrganizationContext creates the middleware over an organization loader.
func NewOrganizationContext(service OrganizationLoader, log *observability.Logger) *OrganizationContext {
	if log == nil {
		log = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &OrganizationContext{service: service, log: log}
}

// Handler resolves the {org_id} path variable and stores the organization
// on the context. Routes without the variable pass through untouched.
func (m *OrganizationContext) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := mux.Vars(r)["org_id"]
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		orgID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httputil.WriteValidationError(w, "invalid organization id")
			return
		}

		org, err := m.service.GetOrganization(r.Context(), orgID)
		if err != nil {
			if errors.Is(err, auth.ErrNotFound) {
				httputil.WriteNotFoundError(w, "organization not found")
				return
			}
			m.log.WithError(err).Error("failed to load organization")
			httputil.WriteServiceUnavailable(w, "organization lookup unavailable")
			return
		}

		next.ServeHTTP(w, r.WithContext(contextkeys.WithOrg(r.Context(), org)))
	})
}

// OrgFromContext returns the organization stored by OrganizationContext.
func OrgFromContext(ctx context.Context) (*orgs.Organization, bool) {
	org, ok := ctx.Value(contextkeys.OrgKey).(*orgs.Organization)
	return org, ok
}
