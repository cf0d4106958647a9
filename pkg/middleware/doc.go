// Package middleware composes the authorization pipeline and the request
// protections around it: per-route guarding, organization context, rate
// limiting, and quota enforcement.
//
// # Overview
//
// Every protected route runs the same fixed sequence. The Guard extracts
// the bearer token and hands it to the Pipeline, which resolves the
// identity, verifies the organization scope on org-scoped routes, and
// evaluates permission and role requirements. The first rejection ends the
// run with a mapped HTTP status; an allowed request reaches the handler
// with its identity on the context.
//
// # Components
//
// Guard: per-route authorization
//
//	guard := middleware.NewGuard(pipeline, policies, log)
//	router.Handle("/organizations/{org_id}/tasks",
//	    guard.ProtectFunc(middleware.RouteMetadata{
//	        Name:         "tasks.create",
//	        OrgScoped:    true,
//	        Requirements: rbac.RequirePermissions(rbac.PermTasksCreate),
//	    }, createTask)).Methods("POST")
//
// PolicyStore: runtime route requirements
//
//	policies := middleware.NewPolicyStore(log)
//	policies.LoadFile("/etc/taskhive/policy.yaml")
//	go policies.Watch(ctx, "/etc/taskhive/policy.yaml")
//
// OrganizationContext: loads the target organization row
//
//	orgCtx := middleware.NewOrganizationContext(orgService, log)
//
// RateLimitMiddleware / DistributedRateLimitMiddleware: token bucket per
// instance, or fixed windows shared through Redis
//
//	limits := middleware.NewRateLimitMiddleware()
//	limits.StartCleanup(ctx)
//
// QuotaMiddleware: plan ceilings on consuming writes
//
//	quota := middleware.NewQuotaMiddleware(orgService, log)
//
// # Ordering
//
// Order is load-bearing. Rate limiting, organization context, and quota
// enforcement all key off the identity the Guard stores, so the Guard wraps
// innermost-first:
//
//	Guard.Protect -> RateLimit.Handler -> OrganizationContext.Handler ->
//	Quota.Enforce* -> handler
//
// Run ahead of the Guard, the rate limiters fall back to per-IP keying and
// the quota middleware skips entirely (no organization in context means no
// tenant to charge). Neither misorders into a panic; they just enforce
// less than intended.
//
// # Rate limit tiers
//
// Anonymous (per IP): 100 req/min, burst 10
// Per user: 1000 req/min, burst 50
// Per organization (aggregate): 5000 req/min, burst 100
//
// # Related packages
//
//   - pkg/auth: token verification and identity resolution
//   - pkg/rbac: permission cache and authorizer
//   - pkg/orgs: organization rows and plan quotas
package middleware
