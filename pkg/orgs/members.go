package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/taskhive/taskhive/pkg/auth"
)

// GetActiveMembership loads the active membership tying a user to an
// organization, joined to the role name. Satisfies auth.MembershipStore.
//
// Rows in pending or inactive status never surface here; the resolver maps
// the resulting auth.ErrNotFound to MembershipRevoked.
func (s *PostgresService) GetActiveMembership(ctx context.Context, userID, orgID int64) (*auth.Membership, error) {
	query := `
		SELECT m.id, m.user_id, m.organization_id, m.role_id, r.name, m.status, m.created_at, m.updated_at
		FROM memberships m
		JOIN roles r ON r.id = m.role_id
		WHERE m.user_id = $1 AND m.organization_id = $2 AND m.status = 'active'
	`
	membership := &auth.Membership{}
	err := s.db.QueryRowContext(ctx, query, userID, orgID).Scan(
		&membership.ID, &membership.UserID, &membership.OrganizationID,
		&membership.RoleID, &membership.RoleName, &membership.Status,
		&membership.CreatedAt, &membership.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("membership: %w", auth.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}

	return membership, nil
}

// ListMembers retrieves all members of an organization
func (s *PostgresService) ListMembers(ctx context.Context, orgID int64) ([]*Member, error) {
	query := `
		SELECT m.id, m.organization_id, m.user_id, m.role_id, r.name, m.status,
		       u.email, u.name, m.created_at
		FROM memberships m
		JOIN users u ON u.id = m.user_id
		JOIN roles r ON r.id = m.role_id
		WHERE m.organization_id = $1
		ORDER BY m.created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		member := &Member{}
		var userName sql.NullString
		if err := rows.Scan(
			&member.ID, &member.OrganizationID, &member.UserID, &member.RoleID,
			&member.RoleName, &member.Status, &member.Email, &userName, &member.JoinedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		if userName.Valid {
			member.Name = userName.String
		}
		members = append(members, member)
	}

	return members, rows.Err()
}

// GetMember retrieves a specific member regardless of status
func (s *PostgresService) GetMember(ctx context.Context, orgID, userID int64) (*Member, error) {
	query := `
		SELECT m.id, m.organization_id, m.user_id, m.role_id, r.name, m.status,
		       u.email, u.name, m.created_at
		FROM memberships m
		JOIN users u ON u.id = m.user_id
		JOIN roles r ON r.id = m.role_id
		WHERE m.organization_id = $1 AND m.user_id = $2
	`
	member := &Member{}
	var userName sql.NullString
	err := s.db.QueryRowContext(ctx, query, orgID, userID).Scan(
		&member.ID, &member.OrganizationID, &member.UserID, &member.RoleID,
		&member.RoleName, &member.Status, &member.Email, &userName, &member.JoinedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("member: %w", auth.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}

	if userName.Valid {
		member.Name = userName.String
	}

	return member, nil
}

// AddMember adds a user to an organization after checking the seat quota.
// The seat count and the insert run in one transaction so concurrent adds
// cannot overshoot the limit.
func (s *PostgresService) AddMember(ctx context.Context, orgID, userID, roleID int64, status string) error {
	if status == "" {
		status = auth.MembershipActive
	}
	if err := validMembershipStatus(status); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seatLimit int
	err = tx.QueryRowContext(ctx, `SELECT seat_limit FROM organizations WHERE id = $1 FOR UPDATE`, orgID).Scan(&seatLimit)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("organization: %w", auth.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get organization: %w", err)
	}

	var seatsUsed int64
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memberships WHERE organization_id = $1 AND status = 'active'`, orgID).Scan(&seatsUsed)
	if err != nil {
		return fmt.Errorf("failed to count members: %w", err)
	}
	if seatsUsed >= int64(seatLimit) {
		return &QuotaExceededError{Resource: "seats", Current: seatsUsed, Limit: int64(seatLimit)}
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO memberships (organization_id, user_id, role_id, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (organization_id, user_id) DO NOTHING
	`, orgID, userID, roleID, status)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAlreadyMember
	}

	return tx.Commit()
}

// UpdateMemberRole moves a member to a different role.
//
// No permission-cache invalidation happens here: cache entries are keyed by
// role id, and the resolver re-reads the membership row on every request, so
// the reassignment is visible immediately.
func (s *PostgresService) UpdateMemberRole(ctx context.Context, orgID, userID, roleID int64) error {
	query := `UPDATE memberships SET role_id = $1, updated_at = NOW() WHERE organization_id = $2 AND user_id = $3`
	result, err := s.db.ExecContext(ctx, query, roleID, orgID, userID)
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("member: %w", auth.ErrNotFound)
	}

	return nil
}

// UpdateMemberStatus changes a membership status. Moving a member out of
// active locks them out of the organization on their next request.
func (s *PostgresService) UpdateMemberStatus(ctx context.Context, orgID, userID int64, status string) error {
	if err := validMembershipStatus(status); err != nil {
		return err
	}

	query := `UPDATE memberships SET status = $1, updated_at = NOW() WHERE organization_id = $2 AND user_id = $3`
	result, err := s.db.ExecContext(ctx, query, status, orgID, userID)
	if err != nil {
		return fmt.Errorf("failed to update member status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("member: %w", auth.ErrNotFound)
	}

	return nil
}

// RemoveMember removes a user from an organization
func (s *PostgresService) RemoveMember(ctx context.Context, orgID, userID int64) error {
	query := `DELETE FROM memberships WHERE organization_id = $1 AND user_id = $2`
	result, err := s.db.ExecContext(ctx, query, orgID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("member: %w", auth.ErrNotFound)
	}

	return nil
}

// SweepPendingMemberships deletes pending memberships older than the given
// age. Run by the janitor; invitations that were never accepted expire this
// way.
func (s *PostgresService) SweepPendingMemberships(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	query := `DELETE FROM memberships WHERE status = 'pending' AND created_at < $1`
	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep pending memberships: %w", err)
	}
	return result.RowsAffected()
}

func validMembershipStatus(status string) error {
	switch status {
	case auth.MembershipActive, auth.MembershipInactive, auth.MembershipPending:
		return nil
	default:
		return fmt.Errorf("invalid membership status %q", status)
	}
}
