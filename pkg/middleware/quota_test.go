package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/taskhive/taskhive/pkg/contextkeys"
	"github.com/taskhive/taskhive/pkg/orgs"
)

type stubQuotaService struct {
	seatErr   error
	taskErr   error
	attachErr error

	seatCalls   int
	taskCalls   int
	attachCalls int
	lastOrgID   int64
	lastBytes   int64
}

func (s *stubQuotaService) CheckSeatQuota(_ context.Context, orgID int64) error {
	s.seatCalls++
	s.lastOrgID = orgID
	return s.seatErr
}

func (s *stubQuotaService) CheckTaskQuota(_ context.Context, orgID int64) error {
	s.taskCalls++
	s.lastOrgID = orgID
	return s.taskErr
}

func (s *stubQuotaService) CheckAttachmentQuota(_ context.Context, orgID, additionalBytes int64) error {
	s.attachCalls++
	s.lastOrgID = orgID
	s.lastBytes = additionalBytes
	return s.attachErr
}

func quotaRequest(identity *orgIdentity, body io.Reader) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/organizations/5/tasks", body)
	if identity != nil {
		ctx := contextkeys.WithIdentity(req.Context(), identityWithOrg(identity.userID, identity.orgID))
		req = req.WithContext(ctx)
	}
	return req
}

type orgIdentity struct {
	userID int64
	orgID  int64
}

func TestQuotaMiddlewareAllowsUnderLimit(t *testing.T) {
	service := &stubQuotaService{}
	middleware := NewQuotaMiddleware(service, nil)

	handler := middleware.EnforceSeatQuota(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, quotaRequest(&orgIdentity{userID: 1, orgID: 5}, nil))

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rec.Code)
	}
	if service.seatCalls != 1 {
		t.Errorf("seat checks = %d, want 1", service.seatCalls)
	}
	if service.lastOrgID != 5 {
		t.Errorf("charged org %d, want 5", service.lastOrgID)
	}
}

func TestQuotaMiddlewareSeatQuotaExceeded(t *testing.T) {
	service := &stubQuotaService{
		seatErr: &orgs.QuotaExceededError{Resource: "seats", Current: 5, Limit: 5},
	}
	middleware := NewQuotaMiddleware(service, nil)

	handlerCalled := false
	handler := middleware.EnforceSeatQuota(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, quotaRequest(&orgIdentity{userID: 1, orgID: 5}, nil))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if handlerCalled {
		t.Error("handler should not run past an exhausted quota")
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload["resource"] != "seats" {
		t.Errorf("resource = %v, want seats", payload["resource"])
	}
	if payload["current"] != float64(5) || payload["limit"] != float64(5) {
		t.Errorf("current/limit = %v/%v, want 5/5", payload["current"], payload["limit"])
	}
	if msg, _ := payload["error"].(string); !strings.Contains(msg, "quota exceeded") {
		t.Errorf("error message = %q", msg)
	}
}

func TestQuotaMiddlewareTaskQuotaExceeded(t *testing.T) {
	service := &stubQuotaService{
		taskErr: &orgs.QuotaExceededError{Resource: "tasks", Current: 200, Limit: 200},
	}
	middleware := NewQuotaMiddleware(service, nil)

	handler := middleware.EnforceTaskQuota(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, quotaRequest(&orgIdentity{userID: 1, orgID: 5}, nil))

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	if service.taskCalls != 1 {
		t.Errorf("task checks = %d, want 1", service.taskCalls)
	}
}

func TestQuotaMiddlewareSkipsWithoutOrganization(t *testing.T) {
	service := &stubQuotaService{
		seatErr: &orgs.QuotaExceededError{Resource: "seats", Current: 5, Limit: 5},
	}
	middleware := NewQuotaMiddleware(service, nil)

	handler := middleware.EnforceSeatQuota(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// No identity and no loaded organization: nothing to charge
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, quotaRequest(nil, nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if service.seatCalls != 0 {
		t.Errorf("seat checks = %d, want 0", service.seatCalls)
	}
}

func TestQuotaMiddlewareStoreFailureFailsClosed(t *testing.T) {
	service := &stubQuotaService{taskErr: errors.New("connection refused")}
	middleware := NewQuotaMiddleware(service, nil)

	handler := middleware.EnforceTaskQuota(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, quotaRequest(&orgIdentity{userID: 1, orgID: 5}, nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "quota check unavailable") {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestQuotaMiddlewareAttachmentSizing(t *testing.T) {
	service := &stubQuotaService{}
	middleware := NewQuotaMiddleware(service, nil)

	handler := middleware.EnforceAttachmentQuota(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, quotaRequest(&orgIdentity{userID: 1, orgID: 5}, bytes.NewReader(make([]byte, 1024))))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if service.attachCalls != 1 {
		t.Fatalf("attachment checks = %d, want 1", service.attachCalls)
	}
	if service.lastBytes != 1024 {
		t.Errorf("charged %d bytes, want 1024", service.lastBytes)
	}
}

func TestQuotaMiddlewareAttachmentUnknownLength(t *testing.T) {
	service := &stubQuotaService{}
	middleware := NewQuotaMiddleware(service, nil)

	handler := middleware.EnforceAttachmentQuota(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	// A reader of unknown size leaves ContentLength at -1; the check is
	// charged zero bytes and the commit path settles the real size.
	body := io.MultiReader(strings.NewReader("chunked"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, quotaRequest(&orgIdentity{userID: 1, orgID: 5}, body))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if service.lastBytes != 0 {
		t.Errorf("charged %d bytes, want 0", service.lastBytes)
	}
}

func TestQuotaMiddlewarePrefersLoadedOrganization(t *testing.T) {
	service := &stubQuotaService{}
	middleware := NewQuotaMiddleware(service, nil)

	handler := middleware.EnforceSeatQuota(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Identity bound to org 5, but OrganizationContext loaded org 9: the
	// loaded row wins
	req := quotaRequest(&orgIdentity{userID: 1, orgID: 5}, nil)
	req = req.WithContext(contextkeys.WithOrg(req.Context(), &orgs.Organization{ID: 9, Name: "Acme"}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if service.lastOrgID != 9 {
		t.Errorf("charged org %d, want 9", service.lastOrgID)
	}
}
