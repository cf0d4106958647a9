package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/taskhive/taskhive/pkg/config"
	"github.com/taskhive/taskhive/pkg/middleware"
	"github.com/taskhive/taskhive/pkg/observability"
	"github.com/taskhive/taskhive/pkg/orgs"
	"github.com/taskhive/taskhive/pkg/rbac"
	"github.com/taskhive/taskhive/pkg/tasks"
)

// Deps bundles the subsystems the server serves. Guard is required; the
// rest degrade gracefully when nil (no rate limiting, no quota checks, no
// metrics) so tests and the example wire only what they exercise.
type Deps struct {
	Guard      *middleware.Guard
	Policies   *middleware.PolicyStore
	OrgContext *middleware.OrganizationContext
	Quota      *middleware.QuotaMiddleware
	RateLimit  func(http.Handler) http.Handler

	Orgs  *orgs.PostgresService
	RBAC  *rbac.Manager
	Tasks *tasks.Handlers

	Metrics  *observability.Metrics
	Health   *observability.HealthChecker
	Registry *prometheus.Registry
	Log      *observability.Logger
}

// Server owns the HTTP surface: the route table with each endpoint's
// authorization metadata, the middleware ordering around the guard, and
// the listener lifecycle. A second listener serves health probes and
// metrics so they stay reachable when the API port is saturated.
type Server struct {
	config config.ServerConfig
	deps   Deps
	log    *observability.Logger

	router *mux.Router
	orgs   *OrgHandlers
	me     *MeHandlers

	httpServer   *http.Server
	healthServer *http.Server
}

// route is one row of the table: where it lives, what it demands, and the
// plan ceiling it consumes, if any.
type route struct {
	method  string
	path    string
	meta    middleware.RouteMetadata
	handler http.HandlerFunc
	quota   func(http.Handler) http.Handler
}

// NewServer builds the router from the route table. Every route's metadata
// is seeded into the policy store so runtime overrides and the policy file
// have a complete table to start from.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = observability.NewLogger(observability.InfoLevel, nil)
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		log:    log,
		router: mux.NewRouter(),
	}

	if deps.Orgs != nil {
		var roleStore *rbac.Store
		if deps.RBAC != nil {
			roleStore = deps.RBAC.Store()
		}
		s.orgs = NewOrgHandlers(deps.Orgs, roleStore)

		var cache rbac.PermissionCache
		if deps.RBAC != nil {
			cache = deps.RBAC.Cache()
		}
		s.me = NewMeHandlers(deps.Orgs, cache)
	}

	s.setupRoutes()
	return s
}

// routes returns the guarded route table. Route names double as policy
// keys: an entry in the policy file with the same name overrides the
// requirements listed here without a redeploy.
func (s *Server) routes() []route {
	var table []route

	if s.orgs != nil {
		table = append(table,
			route{
				method: "POST", path: "/api/v1/organizations",
				meta:    middleware.RouteMetadata{Name: "orgs.create"},
				handler: s.orgs.CreateOrganization,
			},
			route{
				method: "GET", path: "/api/v1/organizations",
				meta:    middleware.RouteMetadata{Name: "orgs.list"},
				handler: s.orgs.ListOrganizations,
			},
			route{
				method: "GET", path: "/api/v1/organizations/{org_id}",
				meta:    middleware.RouteMetadata{Name: "orgs.get", OrgScoped: true},
				handler: s.orgs.GetOrganization,
			},
			route{
				method: "PUT", path: "/api/v1/organizations/{org_id}",
				meta: middleware.RouteMetadata{
					Name: "orgs.update", OrgScoped: true,
					Requirements: rbac.RequirePermissions(rbac.PermOrgsManage),
				},
				handler: s.orgs.UpdateOrganization,
			},
			route{
				method: "DELETE", path: "/api/v1/organizations/{org_id}",
				meta: middleware.RouteMetadata{
					Name: "orgs.delete", OrgScoped: true,
					Requirements: rbac.RequireRoles(rbac.RoleOwner),
				},
				handler: s.orgs.DeleteOrganization,
			},
			route{
				method: "GET", path: "/api/v1/organizations/{org_id}/members",
				meta:    middleware.RouteMetadata{Name: "members.list", OrgScoped: true},
				handler: s.orgs.ListMembers,
			},
			route{
				method: "POST", path: "/api/v1/organizations/{org_id}/members",
				meta: middleware.RouteMetadata{
					Name: "members.add", OrgScoped: true,
					Requirements: rbac.RequirePermissions(rbac.PermMembersInvite),
				},
				handler: s.orgs.AddMember,
				quota:   s.quotaWrap((*middleware.QuotaMiddleware).EnforceSeatQuota),
			},
			route{
				method: "PUT", path: "/api/v1/organizations/{org_id}/members/{user_id}",
				meta: middleware.RouteMetadata{
					Name: "members.update", OrgScoped: true,
					Requirements: rbac.RequirePermissions(rbac.PermMembersUpdateRole),
				},
				handler: s.orgs.UpdateMember,
			},
			route{
				method: "DELETE", path: "/api/v1/organizations/{org_id}/members/{user_id}",
				meta: middleware.RouteMetadata{
					Name: "members.remove", OrgScoped: true,
					Requirements: rbac.RequirePermissions(rbac.PermMembersRemove),
				},
				handler: s.orgs.RemoveMember,
			},
		)
	}

	if s.me != nil {
		table = append(table,
			route{
				method: "GET", path: "/api/v1/me",
				meta:    middleware.RouteMetadata{Name: "me.get"},
				handler: s.me.Me,
			},
			route{
				method: "POST", path: "/api/v1/tokens",
				meta:    middleware.RouteMetadata{Name: "tokens.create"},
				handler: s.me.CreateToken,
			},
			route{
				method: "GET", path: "/api/v1/tokens",
				meta:    middleware.RouteMetadata{Name: "tokens.list"},
				handler: s.me.ListTokens,
			},
			route{
				method: "DELETE", path: "/api/v1/tokens/{token_id}",
				meta:    middleware.RouteMetadata{Name: "tokens.revoke"},
				handler: s.me.RevokeToken,
			},
		)
	}

	if s.deps.RBAC != nil {
		h := s.deps.RBAC.Handlers()
		manage := rbac.RequirePermissions(rbac.PermRolesManage)
		table = append(table,
			route{
				method: "POST", path: "/api/v1/organizations/{org_id}/roles",
				meta:    middleware.RouteMetadata{Name: "roles.create", OrgScoped: true, Requirements: manage},
				handler: h.CreateRole,
			},
			route{
				method: "GET", path: "/api/v1/organizations/{org_id}/roles",
				meta:    middleware.RouteMetadata{Name: "roles.list", OrgScoped: true},
				handler: h.ListRoles,
			},
			route{
				method: "GET", path: "/api/v1/organizations/{org_id}/roles/{role_id}",
				meta:    middleware.RouteMetadata{Name: "roles.get", OrgScoped: true},
				handler: h.GetRole,
			},
			route{
				method: "PUT", path: "/api/v1/organizations/{org_id}/roles/{role_id}",
				meta:    middleware.RouteMetadata{Name: "roles.update", OrgScoped: true, Requirements: manage},
				handler: h.UpdateRole,
			},
			route{
				method: "DELETE", path: "/api/v1/organizations/{org_id}/roles/{role_id}",
				meta:    middleware.RouteMetadata{Name: "roles.delete", OrgScoped: true, Requirements: manage},
				handler: h.DeleteRole,
			},
			route{
				method: "GET", path: "/api/v1/organizations/{org_id}/roles/{role_id}/permissions",
				meta:    middleware.RouteMetadata{Name: "roles.permissions.get", OrgScoped: true},
				handler: h.GetRolePermissions,
			},
			route{
				method: "PUT", path: "/api/v1/organizations/{org_id}/roles/{role_id}/permissions",
				meta:    middleware.RouteMetadata{Name: "roles.permissions.set", OrgScoped: true, Requirements: manage},
				handler: h.SetRolePermissions,
			},
			route{
				method: "GET", path: "/api/v1/permissions",
				meta:    middleware.RouteMetadata{Name: "permissions.catalog"},
				handler: h.ListPermissions,
			},
		)
	}

	if s.deps.Tasks != nil {
		h := s.deps.Tasks
		table = append(table,
			route{
				method: "POST", path: "/api/v1/organizations/{org_id}/tasks",
				meta: middleware.RouteMetadata{
					Name: "tasks.create", OrgScoped: true,
					Requirements: rbac.RequirePermissions(rbac.PermTasksCreate),
				},
				handler: h.CreateTask,
				quota:   s.quotaWrap((*middleware.QuotaMiddleware).EnforceTaskQuota),
			},
			route{
				method: "GET", path: "/api/v1/organizations/{org_id}/tasks",
				meta: middleware.RouteMetadata{
					Name: "tasks.list", OrgScoped: true,
					Requirements: rbac.RequirePermissions(rbac.PermTasksRead),
				},
				handler: h.ListTasks,
			},
			route{
				method: "GET", path: "/api/v1/organizations/{org_id}/tasks/{task_id}",
				meta: middleware.RouteMetadata{
					Name: "tasks.get", OrgScoped: true,
					Requirements: rbac.RequirePermissions(rbac.PermTasksRead),
				},
				handler: h.GetTask,
			},
			route{
				method: "PUT", path: "/api/v1/organizations/{org_id}/tasks/{task_id}",
				meta: middleware.RouteMetadata{
					Name: "tasks.update", OrgScoped: true,
					Requirements: rbac.RequirePermissions(rbac.PermTasksUpdate),
				},
				handler: h.UpdateTask,
			},
			route{
				method: "DELETE", path: "/api/v1/organizations/{org_id}/tasks/{task_id}",
				meta: middleware.RouteMetadata{
					Name: "tasks.delete", OrgScoped: true,
					Requirements: rbac.RequirePermissions(rbac.PermTasksDelete),
				},
				handler: h.DeleteTask,
			},
			route{
				method: "PUT", path: "/api/v1/organizations/{org_id}/tasks/{task_id}/assignee",
				meta: middleware.RouteMetadata{
					Name: "tasks.assign", OrgScoped: true,
					Requirements: rbac.RequirePermissions(rbac.PermTasksAssign),
				},
				handler: h.AssignTask,
			},
			route{
				method: "POST", path: "/api/v1/organizations/{org_id}/tasks/{task_id}/attachments",
				meta: middleware.RouteMetadata{
					Name: "attachments.upload", OrgScoped: true,
					Requirements: rbac.RequirePermissions(rbac.PermAttachmentsUpload),
				},
				handler: h.UploadAttachment,
				quota:   s.quotaWrap((*middleware.QuotaMiddleware).EnforceAttachmentQuota),
			},
			route{
				method: "GET", path: "/api/v1/organizations/{org_id}/tasks/{task_id}/attachments",
				meta: middleware.RouteMetadata{
					Name: "attachments.list", OrgScoped: true,
					Requirements: rbac.RequirePermissions(rbac.PermTasksRead),
				},
				handler: h.ListAttachments,
			},
			route{
				method: "GET", path: "/api/v1/organizations/{org_id}/tasks/{task_id}/attachments/{attachment_id}",
				meta: middleware.RouteMetadata{
					Name: "attachments.download", OrgScoped: true,
					Requirements: rbac.RequirePermissions(rbac.PermTasksRead),
				},
				handler: h.DownloadAttachment,
			},
			route{
				method: "DELETE", path: "/api/v1/organizations/{org_id}/tasks/{task_id}/attachments/{attachment_id}",
				meta: middleware.RouteMetadata{
					Name: "attachments.delete", OrgScoped: true,
					Requirements: rbac.RequirePermissions(rbac.PermAttachmentsDelete),
				},
				handler: h.DeleteAttachment,
			},
		)
	}

	return table
}

// setupRoutes wires the table. Per route, execution order is Guard ->
// rate limit -> organization context -> quota -> handler; the guard must
// run first because everything after it keys off the identity it stores.
func (s *Server) setupRoutes() {
	s.router.Use(s.recoverMiddleware)
	if s.deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.deps.Metrics))
	}

	for _, rt := range s.routes() {
		if s.deps.Policies != nil {
			s.deps.Policies.SetRoute(rt.meta)
		}

		handler := http.Handler(rt.handler)
		if rt.quota != nil {
			handler = rt.quota(handler)
		}
		if s.deps.OrgContext != nil && rt.meta.OrgScoped {
			handler = s.deps.OrgContext.Handler(handler)
		}
		if s.deps.RateLimit != nil {
			handler = s.deps.RateLimit(handler)
		}
		if s.deps.Guard != nil {
			handler = s.deps.Guard.Protect(rt.meta, handler)
		}

		s.router.Handle(rt.path, handler).Methods(rt.method).Name(rt.meta.Name)
	}

	// Probes on the main port too, for setups without the second listener.
	if s.deps.Health != nil {
		s.router.HandleFunc("/health", s.deps.Health.Liveness).Methods("GET")
		s.router.HandleFunc("/ready", s.deps.Health.Readiness).Methods("GET")
	}
}

// quotaWrap adapts a QuotaMiddleware method into a route table entry,
// or nil when no quota middleware is wired.
func (s *Server) quotaWrap(enforce func(*middleware.QuotaMiddleware, http.Handler) http.Handler) func(http.Handler) http.Handler {
	if s.deps.Quota == nil {
		return nil
	}
	return func(next http.Handler) http.Handler {
		return enforce(s.deps.Quota, next)
	}
}

// recoverMiddleware converts a handler panic into a 500 instead of
// tearing down the connection.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.WithField("panic", fmt.Sprintf("%v", rec)).
					WithField("path", r.URL.Path).
					Error("handler panic recovered")
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Handler returns the full middleware stack as one http.Handler. The otel
// wrapper is a no-op until a tracer provider is installed.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "taskhive-api")
}

// Router exposes the underlying router so callers can hang extra routes
// off it before Start.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start serves the API, and the health listener when HealthPort is set.
// It blocks until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%s", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	if s.config.HealthPort != "" && s.config.HealthPort != s.config.Port {
		healthMux := http.NewServeMux()
		if s.deps.Health != nil {
			observability.RegisterHealthRoutes(healthMux, s.deps.Health)
		}
		if s.deps.Registry != nil {
			observability.RegisterMetricsEndpoint(healthMux, s.deps.Registry)
		}
		s.healthServer = &http.Server{
			Addr:        fmt.Sprintf("%s:%s", s.config.Host, s.config.HealthPort),
			Handler:     healthMux,
			ReadTimeout: 5 * time.Second,
		}
		go func() {
			defer observability.RecoverPanic(s.log, "health listener")
			if err := s.healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.log.WithError(err).Error("health listener failed")
			}
		}()
		s.log.Infof("health and metrics listening on %s", s.healthServer.Addr)
	}

	s.log.Infof("api listening on %s", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api listener failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests on both listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if s.healthServer != nil {
		if err := s.healthServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
