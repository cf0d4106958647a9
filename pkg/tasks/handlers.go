package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/taskhive/taskhive/pkg/async"
	"github.com/taskhive/taskhive/pkg/auth"
	"github.com/taskhive/taskhive/pkg/httputil"
	"github.com/taskhive/taskhive/pkg/middleware"
	"github.com/taskhive/taskhive/pkg/storage"
)

const (
	maxUploadBytes = 32 << 20 // per-file cap; org quota is enforced upstream
	presignExpiry  = 15 * time.Minute
	cleanupTimeout = 30 * time.Second
	cleanupWorkers = 4
)

// Handlers exposes task management over HTTP. Blob deletes are fired
// after the response; an orphan blob is reclaimable, a dangling metadata
// row is not, so rows always go first.
type Handlers struct {
	store *Store
	blobs storage.BlobStorage
	log   *logrus.Logger
}

// NewHandlers creates task handlers. Logger may be nil.
func NewHandlers(store *Store, blobs storage.BlobStorage, log *logrus.Logger) *Handlers {
	if log == nil {
		log = logrus.New()
	}
	return &Handlers{store: store, blobs: blobs, log: log}
}

// RegisterRoutes registers the task routes on router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/organizations/{org_id}/tasks", h.CreateTask).Methods("POST")
	router.HandleFunc("/organizations/{org_id}/tasks", h.ListTasks).Methods("GET")
	router.HandleFunc("/organizations/{org_id}/tasks/{task_id}", h.GetTask).Methods("GET")
	router.HandleFunc("/organizations/{org_id}/tasks/{task_id}", h.UpdateTask).Methods("PUT")
	router.HandleFunc("/organizations/{org_id}/tasks/{task_id}", h.DeleteTask).Methods("DELETE")
	router.HandleFunc("/organizations/{org_id}/tasks/{task_id}/assignee", h.AssignTask).Methods("PUT")
	router.HandleFunc("/organizations/{org_id}/tasks/{task_id}/attachments", h.UploadAttachment).Methods("POST")
	router.HandleFunc("/organizations/{org_id}/tasks/{task_id}/attachments", h.ListAttachments).Methods("GET")
	router.HandleFunc("/organizations/{org_id}/tasks/{task_id}/attachments/{attachment_id}", h.DownloadAttachment).Methods("GET")
	router.HandleFunc("/organizations/{org_id}/tasks/{task_id}/attachments/{attachment_id}", h.DeleteAttachment).Methods("DELETE")
}

// CreateTask creates a task in the organization. The creator is the
// authenticated identity.
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathID(w, r, "org_id", "organization")
	if !ok {
		return
	}
	identity, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Status      string `json:"status"`
		AssigneeID  *int64 `json:"assignee_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}

	if req.Title == "" {
		httputil.WriteValidationError(w, "title is required")
		return
	}
	if req.Status != "" && !ValidStatus(req.Status) {
		httputil.WriteValidationError(w, fmt.Sprintf("unknown status %q", req.Status))
		return
	}

	task := &Task{
		OrganizationID: orgID,
		Title:          req.Title,
		Description:    req.Description,
		Status:         req.Status,
		AssigneeID:     req.AssigneeID,
		CreatedBy:      identity.UserID,
	}
	if err := h.store.CreateTask(r.Context(), task); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteCreated(w, task)
}

// ListTasks returns the organization's tasks, optionally filtered by
// status and assignee.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathID(w, r, "org_id", "organization")
	if !ok {
		return
	}

	filter := Filter{}
	q := r.URL.Query()

	if status := q.Get("status"); status != "" {
		if !ValidStatus(status) {
			httputil.WriteValidationError(w, fmt.Sprintf("unknown status %q", status))
			return
		}
		filter.Status = status
	}
	if assignee := q.Get("assignee_id"); assignee != "" {
		id, err := strconv.ParseInt(assignee, 10, 64)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid assignee_id")
			return
		}
		filter.AssigneeID = &id
	}
	if limit := q.Get("limit"); limit != "" {
		filter.Limit, _ = strconv.Atoi(limit)
	}
	if offset := q.Get("offset"); offset != "" {
		filter.Offset, _ = strconv.Atoi(offset)
	}

	result, err := h.store.ListTasks(r.Context(), orgID, filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if result == nil {
		result = []*Task{}
	}

	httputil.WriteSuccess(w, result)
}

// GetTask returns one of the organization's tasks.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := h.orgTask(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, task)
}

// UpdateTask applies partial updates to a task.
func (h *Handlers) UpdateTask(w http.ResponseWriter, r *http.Request) {
	orgID, taskID, ok := taskPath(w, r)
	if !ok {
		return
	}

	var req UpdateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}
	if req.Title != nil && *req.Title == "" {
		httputil.WriteValidationError(w, "title cannot be empty")
		return
	}
	if req.Status != nil && !ValidStatus(*req.Status) {
		httputil.WriteValidationError(w, fmt.Sprintf("unknown status %q", *req.Status))
		return
	}

	if err := h.store.UpdateTask(r.Context(), orgID, taskID, &req); err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			httputil.WriteNotFoundError(w, "task not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	task, err := h.store.GetTask(r.Context(), orgID, taskID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, task)
}

// AssignTask sets or clears the task's assignee. A null assignee_id
// unassigns.
func (h *Handlers) AssignTask(w http.ResponseWriter, r *http.Request) {
	orgID, taskID, ok := taskPath(w, r)
	if !ok {
		return
	}

	var req struct {
		AssigneeID *int64 `json:"assignee_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}

	if err := h.store.AssignTask(r.Context(), orgID, taskID, req.AssigneeID); err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			httputil.WriteNotFoundError(w, "task not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	task, err := h.store.GetTask(r.Context(), orgID, taskID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, task)
}

// DeleteTask removes a task. Attachment rows cascade with the task; the
// blobs are deleted after the response so a slow bucket cannot hold up
// the request.
func (h *Handlers) DeleteTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, taskID, ok := taskPath(w, r)
	if !ok {
		return
	}

	keys, err := h.store.ListAttachmentKeys(ctx, orgID, taskID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	if err := h.store.DeleteTask(ctx, orgID, taskID); err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			httputil.WriteNotFoundError(w, "task not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	if len(keys) > 0 {
		h.deleteBlobs(ctx, keys)
	}

	httputil.WriteNoContent(w)
}

// UploadAttachment stores one file for the task: blob first, metadata row
// second. Multipart field name is "file".
func (h *Handlers) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := h.actor(w, r)
	if !ok {
		return
	}
	task, ok := h.orgTask(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteBadRequest(w, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := BuildAttachmentKey(task.OrganizationID, task.ID)
	if err := h.blobs.Put(ctx, key, file, contentType); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	att := &Attachment{
		TaskID:         task.ID,
		OrganizationID: task.OrganizationID,
		FileName:       header.Filename,
		ContentType:    contentType,
		SizeBytes:      header.Size,
		StorageKey:     key,
		UploadedBy:     identity.UserID,
	}
	if err := h.store.CreateAttachment(ctx, att); err != nil {
		// The blob is unreferenced without its row; reclaim it now.
		if delErr := h.blobs.Delete(ctx, key); delErr != nil {
			h.log.Warnf("Failed to reclaim blob %s after metadata failure: %v", key, delErr)
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteCreated(w, att)
}

// ListAttachments returns a task's attachment metadata.
func (h *Handlers) ListAttachments(w http.ResponseWriter, r *http.Request) {
	task, ok := h.orgTask(w, r)
	if !ok {
		return
	}

	atts, err := h.store.ListAttachments(r.Context(), task.OrganizationID, task.ID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if atts == nil {
		atts = []*Attachment{}
	}

	httputil.WriteSuccess(w, atts)
}

// DownloadAttachment serves an attachment. Backends that can presign
// redirect the client straight to the bucket; others stream through.
func (h *Handlers) DownloadAttachment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	att, ok := h.attachment(w, r)
	if !ok {
		return
	}

	if presigner, can := h.blobs.(storage.Presigner); can {
		url, err := presigner.PresignGet(ctx, att.StorageKey, presignExpiry)
		if err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
		http.Redirect(w, r, url, http.StatusFound)
		return
	}

	rc, err := h.blobs.Get(ctx, att.StorageKey)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", att.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(att.SizeBytes, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.FileName))
	if _, err := io.Copy(w, rc); err != nil {
		h.log.Warnf("Failed streaming attachment %d: %v", att.ID, err)
	}
}

// DeleteAttachment removes an attachment: row first, blob after the
// response.
func (h *Handlers) DeleteAttachment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	att, ok := h.attachment(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteAttachment(ctx, att.OrganizationID, att.TaskID, att.ID); err != nil {
		if errors.Is(err, ErrAttachmentNotFound) {
			httputil.WriteNotFoundError(w, "attachment not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	h.deleteBlobs(ctx, []string{att.StorageKey})
	httputil.WriteNoContent(w)
}

// actor returns the authenticated identity, or writes 401.
func (h *Handlers) actor(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, false
	}
	return identity, true
}

// orgTask loads the task named in the path, scoped to the organization in
// the path. On failure it writes the error response and reports false.
func (h *Handlers) orgTask(w http.ResponseWriter, r *http.Request) (*Task, bool) {
	orgID, taskID, ok := taskPath(w, r)
	if !ok {
		return nil, false
	}

	task, err := h.store.GetTask(r.Context(), orgID, taskID)
	if errors.Is(err, ErrTaskNotFound) {
		httputil.WriteNotFoundError(w, "task not found")
		return nil, false
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return nil, false
	}

	return task, true
}

// attachment loads the attachment named in the path, scoped to the task
// and organization in the path.
func (h *Handlers) attachment(w http.ResponseWriter, r *http.Request) (*Attachment, bool) {
	orgID, taskID, ok := taskPath(w, r)
	if !ok {
		return nil, false
	}

	attachmentID, err := strconv.ParseInt(mux.Vars(r)["attachment_id"], 10, 64)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid attachment id")
		return nil, false
	}

	att, err := h.store.GetAttachment(r.Context(), orgID, taskID, attachmentID)
	if errors.Is(err, ErrAttachmentNotFound) {
		httputil.WriteNotFoundError(w, "attachment not found")
		return nil, false
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return nil, false
	}

	return att, true
}

// deleteBlobs removes blob objects after the response is committed. The
// request context is severed so the client disconnecting cannot cancel
// cleanup mid-way.
func (h *Handlers) deleteBlobs(ctx context.Context, keys []string) {
	log := h.log
	blobs := h.blobs
	async.SafeGoDetached(ctx, cleanupTimeout, "attachment blob cleanup", func(ctx context.Context) error {
		errs := async.Batch(ctx, keys, cleanupWorkers, "attachment blob delete", cleanupTimeout,
			func(ctx context.Context, key string) error {
				if err := blobs.Delete(ctx, key); err != nil {
					return fmt.Errorf("blob %s: %w", key, err)
				}
				return nil
			})
		for _, err := range errs {
			log.Warnf("Failed to delete attachment blob: %v", err)
		}
		return nil
	})
}

func taskPath(w http.ResponseWriter, r *http.Request) (orgID, taskID int64, ok bool) {
	orgID, ok = pathID(w, r, "org_id", "organization")
	if !ok {
		return 0, 0, false
	}
	taskID, ok = pathID(w, r, "task_id", "task")
	if !ok {
		return 0, 0, false
	}
	return orgID, taskID, true
}

func pathID(w http.ResponseWriter, r *http.Request, name, label string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid "+label+" id")
		return 0, false
	}
	return id, true
}
