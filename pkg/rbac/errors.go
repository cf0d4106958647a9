package rbac

import "errors"

// Sentinel errors returned by the role store. Callers match them with
// errors.Is; wrapped variants carry the offending value.
var (
	// ErrRoleNotFound is returned when a role id or name resolves to no row.
	ErrRoleNotFound = errors.New("role not found")

	// ErrRoleExists is returned when creating a role whose name is already
	// taken within the organization, system roles included.
	ErrRoleExists = errors.New("role already exists")

	// ErrSystemRole is returned when a write would modify or delete a
	// system role.
	ErrSystemRole = errors.New("system role is read-only")

	// ErrUnknownPermission is returned when a grant references a slug the
	// catalog does not know. The legacy wildcard alias is rejected here
	// too; writes accept only canonical slugs.
	ErrUnknownPermission = errors.New("unknown permission slug")
)
