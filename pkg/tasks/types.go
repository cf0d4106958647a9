package tasks

import (
	"errors"
	"time"
)

// Task statuses.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
	StatusArchived   = "archived"
)

var validStatuses = map[string]bool{
	StatusOpen:       true,
	StatusInProgress: true,
	StatusDone:       true,
	StatusArchived:   true,
}

// ValidStatus reports whether s is a known task status.
func ValidStatus(s string) bool {
	return validStatuses[s]
}

var (
	ErrTaskNotFound       = errors.New("task not found")
	ErrAttachmentNotFound = errors.New("attachment not found")
)

// Task is a unit of work belonging to exactly one organization. Every
// store query filters by organization id; a task is invisible outside
// its tenant.
type Task struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	Status         string    `json:"status"`
	AssigneeID     *int64    `json:"assignee_id,omitempty"`
	CreatedBy      int64     `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Attachment is the metadata row for a blob stored under StorageKey.
// The bytes live in blob storage; this row is the source of truth for
// name, type and size.
type Attachment struct {
	ID             int64     `json:"id"`
	TaskID         int64     `json:"task_id"`
	OrganizationID int64     `json:"organization_id"`
	FileName       string    `json:"file_name"`
	ContentType    string    `json:"content_type"`
	SizeBytes      int64     `json:"size_bytes"`
	StorageKey     string    `json:"-"`
	UploadedBy     int64     `json:"uploaded_by"`
	CreatedAt      time.Time `json:"created_at"`
}

// UpdateTaskRequest carries partial task updates. Nil fields are left
// unchanged.
type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
}

// Filter narrows ListTasks. Zero values mean "no constraint".
type Filter struct {
	Status     string
	AssigneeID *int64
	Limit      int
	Offset     int
}
