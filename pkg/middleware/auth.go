package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/taskhive/taskhive/pkg/auth"
	"github.com/taskhive/taskhive/pkg/contextkeys"
	"github.com/taskhive/taskhive/pkg/httputil"
	"github.com/taskhive/taskhive/pkg/observability"
	"github.com/taskhive/taskhive/pkg/rbac"
)

// Guard turns the authorization pipeline into HTTP middleware. One Guard
// serves every protected route; each route wraps its handler with Protect
// and its own metadata.
type Guard struct {
	pipeline *Pipeline
	policies *PolicyStore
	log      *observability.Logger
}

// NewGuard creates a guard over the pipeline. policies may be nil, in which
// case the metadata given to Protect is used as-is with no runtime
// overrides.
func NewGuard(pipeline *Pipeline, policies *PolicyStore, log *observability.Logger) *Guard {
	if log == nil {
		log = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Guard{pipeline: pipeline, policies: policies, log: log}
}

// Protect wraps a handler with the authorization pipeline. The effective
// metadata is re-read from the policy store on every request, so a reloaded
// policy file applies to live traffic without a restart.
//
// On an allowed decision the resolved identity and the effective route
// metadata are stored on the request context for the handler.
func (g *Guard) Protect(meta RouteMetadata, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := g.effective(meta)

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}
		token := parts[1]

		var pathOrgID *int64
		if route.OrgScoped {
			raw, ok := mux.Vars(r)["org_id"]
			if !ok {
				httputil.WriteValidationError(w, "missing organization id")
				return
			}
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				httputil.WriteValidationError(w, "invalid organization id")
				return
			}
			pathOrgID = &id
		}

		outcome := g.pipeline.AuthorizeRequest(r.Context(), token, pathOrgID, route)
		if !outcome.Decision.Allowed {
			writeDecision(w, outcome.Decision)
			return
		}

		ctx := contextkeys.WithIdentity(r.Context(), outcome.Identity)
		ctx = contextkeys.WithUserID(ctx, strconv.FormatInt(outcome.Identity.UserID, 10))
		ctx = contextkeys.WithRoute(ctx, route)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ProtectFunc is Protect for plain handler functions.
func (g *Guard) ProtectFunc(meta RouteMetadata, next http.HandlerFunc) http.Handler {
	return g.Protect(meta, next)
}

func (g *Guard) effective(meta RouteMetadata) RouteMetadata {
	if g.policies == nil || meta.Name == "" {
		return meta
	}
	if override, ok := g.policies.Route(meta.Name); ok {
		return override
	}
	return meta
}

// writeDecision renders a denial with its mapped status, a human message,
// and the stable reason code so clients do not re-derive it.
func writeDecision(w http.ResponseWriter, d rbac.Decision) {
	httputil.WriteJSON(w, d.HTTPStatus, map[string]string{
		"error":  reasonMessage(d.Reason),
		"reason": string(d.Reason),
	})
}

func reasonMessage(reason rbac.Reason) string {
	switch reason {
	case rbac.ReasonInvalidToken:
		return "invalid or expired token"
	case rbac.ReasonUserNotFound:
		return "user not found"
	case rbac.ReasonMembershipRevoked:
		return "membership revoked"
	case rbac.ReasonOrganizationRequired:
		return "token is not bound to an organization"
	case rbac.ReasonOrganizationMismatch:
		return "token is bound to a different organization"
	case rbac.ReasonInsufficientPermissions:
		return "insufficient permissions"
	case rbac.ReasonInsufficientRole:
		return "insufficient role"
	case rbac.ReasonStoreUnavailable:
		return "authorization backend unavailable"
	default:
		return "forbidden"
	}
}

// IdentityFromContext returns the identity Guard stored after an allowed
// decision.
func IdentityFromContext(ctx context.Context) (*auth.Identity, bool) {
	identity, ok := ctx.Value(contextkeys.IdentityKey).(*auth.Identity)
	return identity, ok
}

// RouteFromContext returns the effective metadata of the route the request
// matched.
func RouteFromContext(ctx context.Context) (RouteMetadata, bool) {
	route, ok := ctx.Value(contextkeys.RouteKey).(RouteMetadata)
	return route, ok
}
