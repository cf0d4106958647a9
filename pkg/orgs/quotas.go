package orgs

import (
	"context"
	"fmt"
)

// DefaultQuotas returns the resource ceilings for a plan tier. Unknown
// tiers fall back to the free plan.
func DefaultQuotas(tier PlanTier) PlanQuotas {
	switch tier {
	case PlanTeam:
		return PlanQuotas{
			SeatLimit:          25,
			MaxActiveTasks:     5000,
			MaxAttachmentBytes: 25 * 1024 * 1024 * 1024, // 25GB
		}
	case PlanBusiness:
		return PlanQuotas{
			SeatLimit:          100,
			MaxActiveTasks:     50000,
			MaxAttachmentBytes: 250 * 1024 * 1024 * 1024, // 250GB
		}
	case PlanEnterprise:
		return PlanQuotas{
			SeatLimit:          1000,
			MaxActiveTasks:     999999,
			MaxAttachmentBytes: 2048 * 1024 * 1024 * 1024, // 2TB
		}
	default:
		return PlanQuotas{
			SeatLimit:          5,
			MaxActiveTasks:     200,
			MaxAttachmentBytes: 1 * 1024 * 1024 * 1024, // 1GB
		}
	}
}

// CheckSeatQuota checks if the organization can take another active member
func (s *PostgresService) CheckSeatQuota(ctx context.Context, orgID int64) error {
	org, err := s.GetOrganization(ctx, orgID)
	if err != nil {
		return err
	}

	var count int64
	query := `SELECT COUNT(*) FROM memberships WHERE organization_id = $1 AND status = 'active'`
	if err := s.db.QueryRowContext(ctx, query, orgID).Scan(&count); err != nil {
		return fmt.Errorf("failed to count members: %w", err)
	}

	if count >= int64(org.SeatLimit) {
		return &QuotaExceededError{
			Resource: "seats",
			Current:  count,
			Limit:    int64(org.SeatLimit),
		}
	}

	return nil
}

// CheckTaskQuota checks if the organization can create another task.
// Archived tasks do not count against the plan ceiling.
func (s *PostgresService) CheckTaskQuota(ctx context.Context, orgID int64) error {
	org, err := s.GetOrganization(ctx, orgID)
	if err != nil {
		return err
	}
	quotas := DefaultQuotas(org.PlanTier)

	var count int64
	query := `SELECT COUNT(*) FROM tasks WHERE organization_id = $1 AND status <> 'archived'`
	if err := s.db.QueryRowContext(ctx, query, orgID).Scan(&count); err != nil {
		return fmt.Errorf("failed to count tasks: %w", err)
	}

	if count >= int64(quotas.MaxActiveTasks) {
		return &QuotaExceededError{
			Resource: "tasks",
			Current:  count,
			Limit:    int64(quotas.MaxActiveTasks),
		}
	}

	return nil
}

// CheckAttachmentQuota checks if the organization can store additional bytes
func (s *PostgresService) CheckAttachmentQuota(ctx context.Context, orgID int64, additionalBytes int64) error {
	org, err := s.GetOrganization(ctx, orgID)
	if err != nil {
		return err
	}
	quotas := DefaultQuotas(org.PlanTier)

	var used int64
	query := `SELECT COALESCE(SUM(size_bytes), 0) FROM task_attachments WHERE organization_id = $1`
	if err := s.db.QueryRowContext(ctx, query, orgID).Scan(&used); err != nil {
		return fmt.Errorf("failed to sum attachment sizes: %w", err)
	}

	if used+additionalBytes > quotas.MaxAttachmentBytes {
		return &QuotaExceededError{
			Resource: "attachment_storage",
			Current:  used + additionalBytes,
			Limit:    quotas.MaxAttachmentBytes,
		}
	}

	return nil
}
