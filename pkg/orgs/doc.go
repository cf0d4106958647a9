// Package orgs provides multi-tenant organization management for TaskHive.
//
// # Overview
//
// This package manages organizations, users, memberships, and API token rows.
// It is the Postgres backing store for the token resolver's collaborator
// interfaces (auth.UserStore, auth.MembershipStore, auth.TokenStore) and the
// admin surface for tenant management.
//
// # Memberships
//
// A membership ties a user to an organization with a role. Only rows in
// status "active" participate in authentication; GetActiveMembership filters
// the rest out so a suspended or pending member fails resolution with
// MembershipRevoked. Role names are joined from the roles table on every
// read, which is what makes role reassignment visible on the next request.
//
// # Plan Tiers
//
// Free:
//   - 5 seats
//   - 200 active tasks
//   - 1 GB attachment storage
//
// Team:
//   - 25 seats
//   - 5000 active tasks
//   - 25 GB attachment storage
//
// Business:
//   - 100 seats
//   - 50000 active tasks
//   - 250 GB attachment storage
//
// Enterprise:
//   - 1000 seats
//   - Effectively unlimited tasks and storage
//
// Seat limits are stored on the organization row so support can raise them
// above the plan default; task and attachment ceilings derive from the tier.
//
// # Usage Example
//
// Create organization:
//
//	org := &orgs.Organization{
//		Name:     "Acme Corp",
//		PlanTier: orgs.PlanTeam,
//	}
//	service.CreateOrganization(ctx, org)
//
// Quota enforcement:
//
//	if err := service.CheckSeatQuota(ctx, orgID); orgs.IsQuotaExceeded(err) {
//		return errors.New("upgrade plan to add more members")
//	}
//
// # Related Packages
//
//   - pkg/auth: identity resolution consuming the store interfaces
//   - pkg/rbac: roles and permission grants
package orgs
