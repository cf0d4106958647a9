package tasks

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	// Minimal schema mirroring the production migrations. Foreign keys to
	// the core tables are omitted; sqlite does not enforce them here.
	_, err = db.Exec(`
		CREATE TABLE tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			organization_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'open',
			assignee_id INTEGER,
			created_by INTEGER NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE task_attachments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id INTEGER NOT NULL,
			organization_id INTEGER NOT NULL,
			file_name TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT 'application/octet-stream',
			size_bytes INTEGER NOT NULL DEFAULT 0,
			storage_key TEXT NOT NULL UNIQUE,
			uploaded_by INTEGER NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		t.Fatalf("Failed to create test tables: %v", err)
	}

	return db
}

func createTestTask(t *testing.T, store *Store, orgID int64, title string) *Task {
	t.Helper()

	task := &Task{
		OrganizationID: orgID,
		Title:          title,
		CreatedBy:      7,
	}
	if err := store.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	return task
}

func TestStoreCreateAndGetTask(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := context.Background()

	task := createTestTask(t, store, 1, "Fix login redirect")
	if task.ID == 0 {
		t.Error("Expected task ID to be set after creation")
	}
	if task.Status != StatusOpen {
		t.Errorf("Expected default status %q, got %q", StatusOpen, task.Status)
	}
	if task.CreatedAt.IsZero() || task.UpdatedAt.IsZero() {
		t.Error("Expected timestamps to be set after creation")
	}

	retrieved, err := store.GetTask(ctx, 1, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if retrieved.Title != "Fix login redirect" {
		t.Errorf("Title = %q, want %q", retrieved.Title, "Fix login redirect")
	}
	if retrieved.CreatedBy != 7 {
		t.Errorf("CreatedBy = %d, want 7", retrieved.CreatedBy)
	}
	if retrieved.AssigneeID != nil {
		t.Errorf("Expected no assignee, got %d", *retrieved.AssigneeID)
	}
}

func TestStoreGetTaskScopedToOrganization(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := context.Background()

	task := createTestTask(t, store, 1, "Org 1 task")

	// The same id through another organization resolves to nothing.
	_, err := store.GetTask(ctx, 2, task.ID)
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound for cross-tenant read, got %v", err)
	}
}

func TestStoreListTasks(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := context.Background()

	first := createTestTask(t, store, 1, "first")
	second := createTestTask(t, store, 1, "second")
	third := createTestTask(t, store, 1, "third")
	createTestTask(t, store, 2, "other tenant")

	assignee := int64(12)
	if err := store.AssignTask(ctx, 1, second.ID, &assignee); err != nil {
		t.Fatalf("AssignTask failed: %v", err)
	}
	done := StatusDone
	if err := store.UpdateTask(ctx, 1, third.ID, &UpdateTaskRequest{Status: &done}); err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}

	t.Run("newest first, tenant filtered", func(t *testing.T) {
		listed, err := store.ListTasks(ctx, 1, Filter{})
		if err != nil {
			t.Fatalf("ListTasks failed: %v", err)
		}
		if len(listed) != 3 {
			t.Fatalf("Expected 3 tasks, got %d", len(listed))
		}
		if listed[0].ID != third.ID || listed[2].ID != first.ID {
			t.Errorf("Expected newest-first order, got %d,%d,%d",
				listed[0].ID, listed[1].ID, listed[2].ID)
		}
	})

	t.Run("status filter", func(t *testing.T) {
		listed, err := store.ListTasks(ctx, 1, Filter{Status: StatusDone})
		if err != nil {
			t.Fatalf("ListTasks failed: %v", err)
		}
		if len(listed) != 1 || listed[0].ID != third.ID {
			t.Errorf("Expected only the done task, got %d tasks", len(listed))
		}
	})

	t.Run("assignee filter", func(t *testing.T) {
		listed, err := store.ListTasks(ctx, 1, Filter{AssigneeID: &assignee})
		if err != nil {
			t.Fatalf("ListTasks failed: %v", err)
		}
		if len(listed) != 1 || listed[0].ID != second.ID {
			t.Errorf("Expected only the assigned task, got %d tasks", len(listed))
		}
	})

	t.Run("limit and offset", func(t *testing.T) {
		listed, err := store.ListTasks(ctx, 1, Filter{Limit: 1, Offset: 1})
		if err != nil {
			t.Fatalf("ListTasks failed: %v", err)
		}
		if len(listed) != 1 || listed[0].ID != second.ID {
			t.Errorf("Expected the middle task, got %d tasks", len(listed))
		}
	})

	t.Run("empty organization", func(t *testing.T) {
		listed, err := store.ListTasks(ctx, 99, Filter{})
		if err != nil {
			t.Fatalf("ListTasks failed: %v", err)
		}
		if len(listed) != 0 {
			t.Errorf("Expected no tasks, got %d", len(listed))
		}
	})
}

func TestStoreUpdateTask(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := context.Background()

	task := createTestTask(t, store, 1, "before")

	title := "after"
	status := StatusInProgress
	err := store.UpdateTask(ctx, 1, task.ID, &UpdateTaskRequest{Title: &title, Status: &status})
	if err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}

	updated, err := store.GetTask(ctx, 1, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if updated.Title != "after" || updated.Status != StatusInProgress {
		t.Errorf("Update not applied: title=%q status=%q", updated.Title, updated.Status)
	}

	// No fields is a no-op, not an error.
	if err := store.UpdateTask(ctx, 1, task.ID, &UpdateTaskRequest{}); err != nil {
		t.Errorf("Empty update returned %v", err)
	}

	// Wrong tenant cannot update.
	err = store.UpdateTask(ctx, 2, task.ID, &UpdateTaskRequest{Title: &title})
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound for cross-tenant update, got %v", err)
	}
}

func TestStoreAssignTask(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := context.Background()

	task := createTestTask(t, store, 1, "triage me")

	assignee := int64(42)
	if err := store.AssignTask(ctx, 1, task.ID, &assignee); err != nil {
		t.Fatalf("AssignTask failed: %v", err)
	}

	assigned, err := store.GetTask(ctx, 1, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if assigned.AssigneeID == nil || *assigned.AssigneeID != 42 {
		t.Errorf("Expected assignee 42, got %v", assigned.AssigneeID)
	}

	// Nil unassigns.
	if err := store.AssignTask(ctx, 1, task.ID, nil); err != nil {
		t.Fatalf("AssignTask(nil) failed: %v", err)
	}
	unassigned, err := store.GetTask(ctx, 1, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if unassigned.AssigneeID != nil {
		t.Errorf("Expected no assignee, got %d", *unassigned.AssigneeID)
	}

	err = store.AssignTask(ctx, 2, task.ID, &assignee)
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound for cross-tenant assign, got %v", err)
	}
}

func TestStoreDeleteTask(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := context.Background()

	task := createTestTask(t, store, 1, "ephemeral")

	// Wrong tenant cannot delete.
	err := store.DeleteTask(ctx, 2, task.ID)
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound for cross-tenant delete, got %v", err)
	}

	if err := store.DeleteTask(ctx, 1, task.ID); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}

	_, err = store.GetTask(ctx, 1, task.ID)
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound after delete, got %v", err)
	}

	err = store.DeleteTask(ctx, 1, task.ID)
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound on second delete, got %v", err)
	}
}

func TestStoreCountTasks(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := context.Background()

	count, err := store.CountTasks(ctx, 1)
	if err != nil {
		t.Fatalf("CountTasks failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0 tasks, got %d", count)
	}

	createTestTask(t, store, 1, "a")
	createTestTask(t, store, 1, "b")
	createTestTask(t, store, 2, "other tenant")

	count, err = store.CountTasks(ctx, 1)
	if err != nil {
		t.Fatalf("CountTasks failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 tasks, got %d", count)
	}
}
