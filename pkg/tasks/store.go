package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Store persists tasks and attachment metadata. Every query carries an
// organization_id predicate so rows never leak across tenants, even if a
// caller passes an id harvested from another organization.
type Store struct {
	db *sql.DB
}

// NewStore creates a task store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateTask inserts a task and sets its ID and timestamps.
func (s *Store) CreateTask(ctx context.Context, task *Task) error {
	if task.Status == "" {
		task.Status = StatusOpen
	}

	query := `
		INSERT INTO tasks (organization_id, title, description, status, assignee_id, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	now := time.Now()
	err := s.db.QueryRowContext(ctx, query,
		task.OrganizationID,
		task.Title,
		task.Description,
		task.Status,
		task.AssigneeID,
		task.CreatedBy,
		now,
		now,
	).Scan(&task.ID)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	task.CreatedAt = now
	task.UpdatedAt = now
	return nil
}

// GetTask retrieves one of the organization's tasks.
func (s *Store) GetTask(ctx context.Context, orgID, taskID int64) (*Task, error) {
	query := `
		SELECT id, organization_id, title, description, status, assignee_id, created_by, created_at, updated_at
		FROM tasks
		WHERE id = $1 AND organization_id = $2
	`
	return scanTask(s.db.QueryRowContext(ctx, query, taskID, orgID))
}

// ListTasks returns the organization's tasks, newest first.
func (s *Store) ListTasks(ctx context.Context, orgID int64, filter Filter) ([]*Task, error) {
	where := []string{"organization_id = $1"}
	args := []interface{}{orgID}
	argPos := 2

	if filter.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", argPos))
		args = append(args, filter.Status)
		argPos++
	}
	if filter.AssigneeID != nil {
		where = append(where, fmt.Sprintf("assignee_id = $%d", argPos))
		args = append(args, *filter.AssigneeID)
		argPos++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`
		SELECT id, organization_id, title, description, status, assignee_id, created_by, created_at, updated_at
		FROM tasks
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, strings.Join(where, " AND "), argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var result []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, task)
	}

	return result, rows.Err()
}

// UpdateTask applies partial updates to one of the organization's tasks.
func (s *Store) UpdateTask(ctx context.Context, orgID, taskID int64, updates *UpdateTaskRequest) error {
	setClauses := []string{}
	args := []interface{}{}
	argPos := 1

	if updates.Title != nil {
		setClauses = append(setClauses, fmt.Sprintf("title = $%d", argPos))
		args = append(args, *updates.Title)
		argPos++
	}
	if updates.Description != nil {
		setClauses = append(setClauses, fmt.Sprintf("description = $%d", argPos))
		args = append(args, *updates.Description)
		argPos++
	}
	if updates.Status != nil {
		setClauses = append(setClauses, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *updates.Status)
		argPos++
	}

	if len(setClauses) == 0 {
		return nil
	}

	setClauses = append(setClauses, fmt.Sprintf("updated_at = $%d", argPos))
	args = append(args, time.Now())
	argPos++

	args = append(args, taskID, orgID)
	query := fmt.Sprintf("UPDATE tasks SET %s WHERE id = $%d AND organization_id = $%d",
		strings.Join(setClauses, ", "), argPos, argPos+1)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrTaskNotFound
	}

	return nil
}

// AssignTask sets or clears the assignee. A nil assigneeID unassigns.
func (s *Store) AssignTask(ctx context.Context, orgID, taskID int64, assigneeID *int64) error {
	query := `UPDATE tasks SET assignee_id = $1, updated_at = $2 WHERE id = $3 AND organization_id = $4`

	result, err := s.db.ExecContext(ctx, query, assigneeID, time.Now(), taskID, orgID)
	if err != nil {
		return fmt.Errorf("failed to assign task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrTaskNotFound
	}

	return nil
}

// DeleteTask removes one of the organization's tasks. Attachment rows go
// with it via ON DELETE CASCADE; callers are responsible for the blobs.
func (s *Store) DeleteTask(ctx context.Context, orgID, taskID int64) error {
	query := `DELETE FROM tasks WHERE id = $1 AND organization_id = $2`

	result, err := s.db.ExecContext(ctx, query, taskID, orgID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrTaskNotFound
	}

	return nil
}

// CountTasks returns how many tasks the organization has.
func (s *Store) CountTasks(ctx context.Context, orgID int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE organization_id = $1`, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*Task, error) {
	task := &Task{}
	var assignee sql.NullInt64
	err := row.Scan(
		&task.ID, &task.OrganizationID, &task.Title, &task.Description,
		&task.Status, &assignee, &task.CreatedBy, &task.CreatedAt, &task.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	if assignee.Valid {
		task.AssigneeID = &assignee.Int64
	}
	return task, nil
}
