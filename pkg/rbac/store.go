package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PermissionLoader loads the permission slugs granted to a role. The
// permission caches resolve misses through this interface.
type PermissionLoader interface {
	GetPermissionsForRole(ctx context.Context, roleID int64) ([]string, error)
}

// Store persists roles and their permission grants.
type Store struct {
	db *sql.DB
}

// NewStore creates a role store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

var _ PermissionLoader = (*Store)(nil)

// GetPermissionsForRole returns the slugs granted to a role, normalized.
// A role with no grants yields an empty result, not an error; callers
// cannot distinguish it from a missing role and must not need to.
func (s *Store) GetPermissionsForRole(ctx context.Context, roleID int64) ([]string, error) {
	query := `
		SELECT p.slug
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.slug ASC
	`

	rows, err := s.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load role permissions: %w", err)
	}
	defer rows.Close()

	var slugs []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("failed to scan permission slug: %w", err)
		}
		slugs = append(slugs, NormalizeSlug(slug))
	}

	return slugs, rows.Err()
}

// ListPermissions returns the stored permission catalog.
func (s *Store) ListPermissions(ctx context.Context) ([]Permission, error) {
	query := `
		SELECT id, slug, category, description, created_at
		FROM permissions
		ORDER BY category ASC, slug ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Slug, &p.Category, &p.Description, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		p.Slug = NormalizeSlug(p.Slug)
		perms = append(perms, p)
	}

	return perms, rows.Err()
}

// CreateRole inserts a role and sets its ID and timestamps. Names are
// unique per organization; system roles carry a nil organization.
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	query := `
		INSERT INTO roles (name, display_name, description, organization_id, is_system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	now := time.Now()
	err := s.db.QueryRowContext(ctx, query,
		role.Name,
		role.DisplayName,
		role.Description,
		role.OrganizationID,
		role.IsSystem,
		now,
		now,
	).Scan(&role.ID)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// GetRole retrieves a role by id.
func (s *Store) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	query := `
		SELECT id, name, display_name, description, organization_id, is_system, created_at, updated_at
		FROM roles
		WHERE id = $1
	`
	return scanRole(s.db.QueryRowContext(ctx, query, roleID))
}

// GetRoleByName retrieves a role by name. An organization's own role
// shadows a system role with the same name; pass nil to look up system
// roles only.
func (s *Store) GetRoleByName(ctx context.Context, organizationID *int64, name string) (*Role, error) {
	query := `
		SELECT id, name, display_name, description, organization_id, is_system, created_at, updated_at
		FROM roles
		WHERE name = $1 AND (organization_id = $2 OR organization_id IS NULL)
		ORDER BY organization_id DESC NULLS LAST
		LIMIT 1
	`
	return scanRole(s.db.QueryRowContext(ctx, query, name, organizationID))
}

// ListRoles returns the organization's custom roles plus the system
// roles, system roles first.
func (s *Store) ListRoles(ctx context.Context, organizationID int64) ([]Role, error) {
	query := `
		SELECT id, name, display_name, description, organization_id, is_system, created_at, updated_at
		FROM roles
		WHERE organization_id = $1 OR organization_id IS NULL
		ORDER BY is_system DESC, name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *role)
	}

	return roles, rows.Err()
}

// UpdateRole updates a role's display name and description. System roles
// are refused.
func (s *Store) UpdateRole(ctx context.Context, role *Role) error {
	existing, err := s.GetRole(ctx, role.ID)
	if err != nil {
		return err
	}
	if existing.IsSystem {
		return ErrSystemRole
	}

	query := `
		UPDATE roles
		SET display_name = $1, description = $2, updated_at = $3
		WHERE id = $4
	`

	role.UpdatedAt = time.Now()
	if _, err := s.db.ExecContext(ctx, query, role.DisplayName, role.Description, role.UpdatedAt, role.ID); err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	return nil
}

// DeleteRole removes a custom role and, through the schema, its grants.
// System roles are refused. Memberships still bound to the role block the
// delete at the database until they are reassigned.
func (s *Store) DeleteRole(ctx context.Context, roleID int64) error {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRole
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return nil
}

// SetRolePermissions replaces a role's grants with the given slugs in one
// transaction. Every slug must be canonical and in the catalog; nothing
// is written when any slug is unknown. Duplicates collapse.
func (s *Store) SetRolePermissions(ctx context.Context, roleID int64, slugs []string) error {
	seen := make(map[string]struct{}, len(slugs))
	deduped := make([]string, 0, len(slugs))
	for _, slug := range slugs {
		if !KnownSlug(slug) {
			return fmt.Errorf("%q: %w", slug, ErrUnknownPermission)
		}
		if _, ok := seen[slug]; ok {
			continue
		}
		seen[slug] = struct{}{}
		deduped = append(deduped, slug)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to clear role permissions: %w", err)
	}

	insert := `
		INSERT INTO role_permissions (role_id, permission_id)
		SELECT $1, id FROM permissions WHERE slug = $2
	`
	for _, slug := range deduped {
		result, err := tx.ExecContext(ctx, insert, roleID, slug)
		if err != nil {
			return fmt.Errorf("failed to grant %q: %w", slug, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to grant %q: %w", slug, err)
		}
		if n == 0 {
			return fmt.Errorf("%q: %w", slug, ErrUnknownPermission)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role permissions: %w", err)
	}
	return nil
}

// Seed upserts the permission catalog, creates any missing system roles
// and pins system role grants back to their fixed lists. Safe to run on
// every boot.
func (s *Store) Seed(ctx context.Context) error {
	upsert := `
		INSERT INTO permissions (slug, category, description, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (slug) DO NOTHING
	`

	now := time.Now()
	for _, perm := range Catalog() {
		if _, err := s.db.ExecContext(ctx, upsert, perm.Slug, perm.Category, perm.Description, now); err != nil {
			return fmt.Errorf("failed to seed permission %q: %w", perm.Slug, err)
		}
	}

	for _, seed := range SystemRoleSeeds() {
		role, err := s.GetRoleByName(ctx, nil, seed.Role.Name)
		if errors.Is(err, ErrRoleNotFound) {
			created := seed.Role
			if err := s.CreateRole(ctx, &created); err != nil {
				return fmt.Errorf("failed to seed role %q: %w", seed.Role.Name, err)
			}
			role = &created
		} else if err != nil {
			return err
		}

		if err := s.SetRolePermissions(ctx, role.ID, seed.Grants); err != nil {
			return fmt.Errorf("failed to seed grants for %q: %w", seed.Role.Name, err)
		}
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRole(scanner rowScanner) (*Role, error) {
	var role Role
	var orgID sql.NullInt64

	err := scanner.Scan(
		&role.ID,
		&role.Name,
		&role.DisplayName,
		&role.Description,
		&orgID,
		&role.IsSystem,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan role: %w", err)
	}

	if orgID.Valid {
		id := orgID.Int64
		role.OrganizationID = &id
	}
	return &role, nil
}
