package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BuildAttachmentKey returns a fresh blob key for an attachment. Keys are
// namespaced by organization and task so a bucket listing groups by tenant,
// and carry a UUID so uploads of the same file name never collide.
func BuildAttachmentKey(orgID, taskID int64) string {
	return fmt.Sprintf("orgs/%d/tasks/%d/%s", orgID, taskID, uuid.NewString())
}

// CreateAttachment inserts an attachment metadata row. The blob must
// already be stored under att.StorageKey; this row makes it visible.
func (s *Store) CreateAttachment(ctx context.Context, att *Attachment) error {
	query := `
		INSERT INTO task_attachments (task_id, organization_id, file_name, content_type, size_bytes, storage_key, uploaded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	now := time.Now()
	err := s.db.QueryRowContext(ctx, query,
		att.TaskID,
		att.OrganizationID,
		att.FileName,
		att.ContentType,
		att.SizeBytes,
		att.StorageKey,
		att.UploadedBy,
		now,
	).Scan(&att.ID)
	if err != nil {
		return fmt.Errorf("failed to create attachment: %w", err)
	}

	att.CreatedAt = now
	return nil
}

// GetAttachment retrieves one attachment, scoped to organization and task.
func (s *Store) GetAttachment(ctx context.Context, orgID, taskID, attachmentID int64) (*Attachment, error) {
	query := `
		SELECT id, task_id, organization_id, file_name, content_type, size_bytes, storage_key, uploaded_by, created_at
		FROM task_attachments
		WHERE id = $1 AND task_id = $2 AND organization_id = $3
	`

	att := &Attachment{}
	err := s.db.QueryRowContext(ctx, query, attachmentID, taskID, orgID).Scan(
		&att.ID, &att.TaskID, &att.OrganizationID, &att.FileName, &att.ContentType,
		&att.SizeBytes, &att.StorageKey, &att.UploadedBy, &att.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAttachmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}

	return att, nil
}

// ListAttachments returns a task's attachments, oldest first.
func (s *Store) ListAttachments(ctx context.Context, orgID, taskID int64) ([]*Attachment, error) {
	query := `
		SELECT id, task_id, organization_id, file_name, content_type, size_bytes, storage_key, uploaded_by, created_at
		FROM task_attachments
		WHERE task_id = $1 AND organization_id = $2
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, taskID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer rows.Close()

	var result []*Attachment
	for rows.Next() {
		att := &Attachment{}
		if err := rows.Scan(
			&att.ID, &att.TaskID, &att.OrganizationID, &att.FileName, &att.ContentType,
			&att.SizeBytes, &att.StorageKey, &att.UploadedBy, &att.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		result = append(result, att)
	}

	return result, rows.Err()
}

// ListAttachmentKeys returns the blob keys of a task's attachments, for
// cleanup after the task is deleted.
func (s *Store) ListAttachmentKeys(ctx context.Context, orgID, taskID int64) ([]string, error) {
	query := `
		SELECT storage_key
		FROM task_attachments
		WHERE task_id = $1 AND organization_id = $2
	`

	rows, err := s.db.QueryContext(ctx, query, taskID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachment keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan attachment key: %w", err)
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// DeleteAttachment removes an attachment metadata row. The caller deletes
// the blob after the row is gone, so a crash in between leaves an orphan
// blob rather than a metadata row pointing at nothing.
func (s *Store) DeleteAttachment(ctx context.Context, orgID, taskID, attachmentID int64) error {
	query := `DELETE FROM task_attachments WHERE id = $1 AND task_id = $2 AND organization_id = $3`

	result, err := s.db.ExecContext(ctx, query, attachmentID, taskID, orgID)
	if err != nil {
		return fmt.Errorf("failed to delete attachment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAttachmentNotFound
	}

	return nil
}

// SumAttachmentBytes returns the total stored attachment bytes for an
// organization, for quota checks.
func (s *Store) SumAttachmentBytes(ctx context.Context, orgID int64) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(size_bytes) FROM task_attachments WHERE organization_id = $1`, orgID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum attachment bytes: %w", err)
	}
	return total.Int64, nil
}
