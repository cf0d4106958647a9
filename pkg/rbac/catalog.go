package rbac

// Wildcard is the canonical grant that satisfies every permission
// requirement. Databases migrated from the original rollout may still
// hold the legacy "admin.access" spelling; reads normalize it, writes
// reject it.
const (
	Wildcard       = "*"
	legacyWildcard = "admin.access"
)

// Permission slugs known to the catalog.
const (
	PermTasksCreate = "tasks.create"
	PermTasksRead   = "tasks.read"
	PermTasksUpdate = "tasks.update"
	PermTasksDelete = "tasks.delete"
	PermTasksAssign = "tasks.assign"

	PermMembersInvite     = "members.invite"
	PermMembersRemove     = "members.remove"
	PermMembersUpdateRole = "members.update_role"

	PermRolesManage = "roles.manage"
	PermOrgsManage  = "orgs.manage"

	PermAttachmentsUpload = "attachments.upload"
	PermAttachmentsDelete = "attachments.delete"
)

// System role names. These match the roles.name column and the RoleName
// carried on resolved identities.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleViewer = "viewer"
)

// NormalizeSlug maps deprecated slug spellings onto their canonical form.
// It runs on every read path; the legacy form is never written back.
func NormalizeSlug(slug string) string {
	if slug == legacyWildcard {
		return Wildcard
	}
	return slug
}

// Catalog returns every permission the system knows about, wildcard
// included. Seed upserts these rows and SetRolePermissions validates
// grants against them.
func Catalog() []Permission {
	return []Permission{
		{Slug: Wildcard, Category: "system", Description: "Every permission, current and future"},

		{Slug: PermTasksCreate, Category: "tasks", Description: "Create tasks"},
		{Slug: PermTasksRead, Category: "tasks", Description: "View tasks and their details"},
		{Slug: PermTasksUpdate, Category: "tasks", Description: "Edit task fields and status"},
		{Slug: PermTasksDelete, Category: "tasks", Description: "Delete tasks"},
		{Slug: PermTasksAssign, Category: "tasks", Description: "Assign tasks to members"},

		{Slug: PermMembersInvite, Category: "members", Description: "Invite users into the organization"},
		{Slug: PermMembersRemove, Category: "members", Description: "Remove members from the organization"},
		{Slug: PermMembersUpdateRole, Category: "members", Description: "Change a member's role"},

		{Slug: PermRolesManage, Category: "roles", Description: "Create, edit and delete custom roles"},
		{Slug: PermOrgsManage, Category: "orgs", Description: "Edit organization settings and plan"},

		{Slug: PermAttachmentsUpload, Category: "attachments", Description: "Upload task attachments"},
		{Slug: PermAttachmentsDelete, Category: "attachments", Description: "Delete task attachments"},
	}
}

// KnownSlug reports whether slug is in the catalog. The legacy wildcard
// alias is not a catalog slug.
func KnownSlug(slug string) bool {
	_, ok := catalogSlugs[slug]
	return ok
}

var catalogSlugs = func() map[string]struct{} {
	set := make(map[string]struct{})
	for _, p := range Catalog() {
		set[p.Slug] = struct{}{}
	}
	return set
}()

// RoleSeed pairs a system role with its fixed grants.
type RoleSeed struct {
	Role   Role
	Grants []string
}

// SystemRoleSeeds returns the four system roles shared by every
// organization. Owner holds the wildcard; the others hold fixed slug
// lists. Seed re-pins these grants on every boot, so hand edits to
// system role grants do not survive a restart.
func SystemRoleSeeds() []RoleSeed {
	return []RoleSeed{
		{
			Role:   Role{Name: RoleOwner, DisplayName: "Owner", Description: "Full control of the organization", IsSystem: true},
			Grants: []string{Wildcard},
		},
		{
			Role: Role{Name: RoleAdmin, DisplayName: "Administrator", Description: "Manage tasks, members and roles", IsSystem: true},
			Grants: []string{
				PermTasksCreate, PermTasksRead, PermTasksUpdate, PermTasksDelete, PermTasksAssign,
				PermMembersInvite, PermMembersRemove, PermMembersUpdateRole,
				PermRolesManage,
				PermAttachmentsUpload, PermAttachmentsDelete,
			},
		},
		{
			Role: Role{Name: RoleMember, DisplayName: "Member", Description: "Day-to-day task work", IsSystem: true},
			Grants: []string{
				PermTasksCreate, PermTasksRead, PermTasksUpdate, PermTasksAssign,
				PermAttachmentsUpload,
			},
		},
		{
			Role:   Role{Name: RoleViewer, DisplayName: "Viewer", Description: "Read-only access to tasks", IsSystem: true},
			Grants: []string{PermTasksRead},
		},
	}
}
