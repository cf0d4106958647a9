// Package rbac implements roles, permission grants and authorization
// decisions for TaskHive's multi-tenant API.
//
// # Overview
//
// Authorization is organization-scoped role-based access control. Every
// membership binds a user to exactly one role inside an organization, and
// roles hold permission slugs such as "tasks.create". Routes declare
// Requirements (permission slugs, role names, or both) and the Authorizer
// turns a resolved identity plus requirements into a Decision.
//
// # Permission Model
//
// Permissions live in a catalog table seeded from Catalog(). Roles
// reference catalog entries through a join table, so a role's grants are
// the set of its joined slugs. The wildcard "*" satisfies every
// permission requirement, including slugs added after the grant was
// written; only the owner system role carries it by default. The legacy
// "admin.access" spelling of the wildcard still appears in databases from
// the original rollout and is normalized to "*" on every read, never
// written back.
//
// Four system roles exist outside any organization:
//
//	owner   - wildcard grant, full control
//	admin   - manage tasks, members, roles and attachments
//	member  - day-to-day task work
//	viewer  - read-only
//
// Custom roles belong to one organization and are managed through the
// REST surface in Handlers.
//
// # Caching
//
// Grant lookups go through a PermissionCache keyed by role id with a five
// minute TTL. Within the TTL a decision costs no store I/O. Entries are
// immutable GrantSets swapped whole, so concurrent readers never observe
// a partially updated set, and a failed load propagates to the caller
// without caching anything. The in-memory backend collapses concurrent
// misses for one role into a single store read; the Redis backend shares
// entries across instances and degrades to direct store reads when Redis
// is unreachable.
//
// # Write Contract
//
// Anything that changes a role's grants commits to the store first, then
// invalidates the cache entry, then broadcasts on the InvalidationBus.
// Other instances can serve the old grants only until the broadcast
// lands, and never longer than one TTL.
//
// # Usage
//
//	manager := rbac.NewManager(db, rbac.DefaultConfig(), log, metrics)
//	if err := manager.Initialize(ctx); err != nil {
//		return err
//	}
//
//	decision := manager.Authorizer().Authorize(ctx, identity, rbac.RequirePermissions(rbac.PermTasksCreate))
//	if !decision.Allowed {
//		w.WriteHeader(decision.HTTPStatus)
//		return
//	}
package rbac
