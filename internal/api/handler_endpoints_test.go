package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/djlord-it/schedbench/internal/domain"
	"github.com/djlord-it/schedbench/internal/store"
)

// mockHandlerStore implements api.Store for handler tests.
type mockHandlerStore struct {
	mu sync.Mutex

	listTriggersFn func(ctx context.Context) ([]domain.Trigger, error)
	getJobFn       func(ctx context.Context, key domain.JobKey) (domain.JobDetail, error)
}

func (s *mockHandlerStore) ListTriggers(ctx context.Context) ([]domain.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listTriggersFn != nil {
		return s.listTriggersFn(ctx)
	}
	return nil, nil
}

func (s *mockHandlerStore) GetJob(ctx context.Context, key domain.JobKey) (domain.JobDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getJobFn != nil {
		return s.getJobFn(ctx, key)
	}
	return domain.JobDetail{}, store.ErrJobNotFound
}

// mockHealthChecker implements HealthChecker for handler tests.
type mockHealthChecker struct {
	mu     sync.Mutex
	pingFn func(ctx context.Context) error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

func newTestHandler(store *mockHandlerStore) *Handler {
	return NewHandler(store, "test-instance")
}

func sampleTriggers(n int) []domain.Trigger {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	out := make([]domain.Trigger, n)
	for i := range out {
		next := base.Add(time.Duration(i) * time.Minute)
		group := domain.DefaultGroup
		if i%2 == 1 {
			group = "RECOVERING_JOBS"
		}
		out[i] = domain.Trigger{
			Key:          domain.TriggerKey{Group: group, Name: fmt.Sprintf("t-%d", i)},
			JobKey:       domain.NewJobKey(fmt.Sprintf("job-%d", i)),
			Priority:     domain.DefaultPriority,
			NextFireTime: &next,
			State:        domain.TriggerStateWaiting,
		}
	}
	return out
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to unmarshal response: %v (%s)", err, w.Body.String())
	}
	return v
}

// --- Health Tests ---

func TestHandler_Health_Simple(t *testing.T) {
	handler := newTestHandler(&mockHandlerStore{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decode[HealthResponse](t, w)
	if resp.Status != "ok" {
		t.Errorf("Status = %q, want ok", resp.Status)
	}
	if resp.InstanceID != "test-instance" {
		t.Errorf("InstanceID = %q, want test-instance", resp.InstanceID)
	}
	if resp.Components != nil {
		t.Errorf("simple health should not include components: %v", resp.Components)
	}
}

func TestHandler_Health_VerboseHealthy(t *testing.T) {
	handler := newTestHandler(&mockHandlerStore{}).WithHealthChecker(&mockHealthChecker{})

	req := httptest.NewRequest(http.MethodGet, "/health?verbose=true", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decode[HealthResponse](t, w)
	if resp.Components["job_store"] != "healthy" {
		t.Errorf("job_store = %q, want healthy", resp.Components["job_store"])
	}
}

func TestHandler_Health_VerboseDegraded(t *testing.T) {
	checker := &mockHealthChecker{pingFn: func(ctx context.Context) error {
		return errors.New("connection refused")
	}}
	handler := newTestHandler(&mockHandlerStore{}).WithHealthChecker(checker)

	req := httptest.NewRequest(http.MethodGet, "/health?verbose=true", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	resp := decode[HealthResponse](t, w)
	if resp.Status != "degraded" {
		t.Errorf("Status = %q, want degraded", resp.Status)
	}
	if resp.Components["job_store"] != "unhealthy: connection refused" {
		t.Errorf("job_store = %q", resp.Components["job_store"])
	}
}

func TestHandler_Health_AnalyticsDown(t *testing.T) {
	redisDown := &mockHealthChecker{pingFn: func(ctx context.Context) error {
		return errors.New("dial tcp: connection refused")
	}}
	handler := newTestHandler(&mockHandlerStore{}).
		WithHealthChecker(&mockHealthChecker{}).
		WithComponent("analytics", redisDown)

	req := httptest.NewRequest(http.MethodGet, "/health?verbose=true", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	resp := decode[HealthResponse](t, w)
	if resp.Components["job_store"] != "healthy" {
		t.Errorf("job_store = %q, want healthy", resp.Components["job_store"])
	}
	if resp.Components["analytics"] != "unhealthy: dial tcp: connection refused" {
		t.Errorf("analytics = %q", resp.Components["analytics"])
	}
}

// --- ListTriggers Tests ---

func TestHandler_ListTriggers(t *testing.T) {
	store := &mockHandlerStore{listTriggersFn: func(ctx context.Context) ([]domain.Trigger, error) {
		return sampleTriggers(3), nil
	}}
	handler := newTestHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/triggers", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[ListTriggersResponse](t, w)
	if resp.Total != 3 || len(resp.Triggers) != 3 {
		t.Fatalf("expected 3 triggers, got total=%d len=%d", resp.Total, len(resp.Triggers))
	}

	first := resp.Triggers[0]
	if first.Name != "t-0" || first.JobName != "job-0" {
		t.Errorf("unexpected first trigger: %+v", first)
	}
	if first.NextFireTime != "2026-01-01T12:00:00Z" {
		t.Errorf("NextFireTime = %q", first.NextFireTime)
	}
	if first.PrevFireTime != "" {
		t.Errorf("PrevFireTime should be omitted, got %q", first.PrevFireTime)
	}
	if first.State != "waiting" {
		t.Errorf("State = %q, want waiting", first.State)
	}
}

func TestHandler_ListTriggers_GroupFilter(t *testing.T) {
	store := &mockHandlerStore{listTriggersFn: func(ctx context.Context) ([]domain.Trigger, error) {
		return sampleTriggers(5), nil
	}}
	handler := newTestHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/triggers?group=RECOVERING_JOBS", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := decode[ListTriggersResponse](t, w)
	if resp.Total != 2 {
		t.Fatalf("expected 2 recovering triggers, got %d", resp.Total)
	}
	for _, tr := range resp.Triggers {
		if tr.Group != "RECOVERING_JOBS" {
			t.Errorf("unexpected group %q", tr.Group)
		}
	}
}

func TestHandler_ListTriggers_Pagination(t *testing.T) {
	store := &mockHandlerStore{listTriggersFn: func(ctx context.Context) ([]domain.Trigger, error) {
		return sampleTriggers(5), nil
	}}
	handler := newTestHandler(store)

	tests := []struct {
		query string
		names []string
	}{
		{"?limit=2", []string{"t-0", "t-1"}},
		{"?limit=2&offset=2", []string{"t-2", "t-3"}},
		{"?limit=2&offset=4", []string{"t-4"}},
		{"?offset=10", nil},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/triggers"+tt.query, nil)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			resp := decode[ListTriggersResponse](t, w)
			if resp.Total != 5 {
				t.Errorf("Total = %d, want 5", resp.Total)
			}
			if len(resp.Triggers) != len(tt.names) {
				t.Fatalf("got %d triggers, want %d", len(resp.Triggers), len(tt.names))
			}
			for i, name := range tt.names {
				if resp.Triggers[i].Name != name {
					t.Errorf("trigger[%d] = %q, want %q", i, resp.Triggers[i].Name, name)
				}
			}
		})
	}
}

func TestHandler_ListTriggers_InvalidPagination(t *testing.T) {
	handler := newTestHandler(&mockHandlerStore{})

	req := httptest.NewRequest(http.MethodGet, "/triggers?limit=abc", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandler_ListTriggers_StoreError(t *testing.T) {
	store := &mockHandlerStore{listTriggersFn: func(ctx context.Context) ([]domain.Trigger, error) {
		return nil, errors.New("db down")
	}}
	handler := newTestHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/triggers", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	resp := decode[ErrorResponse](t, w)
	if resp.Error != "failed to list triggers" {
		t.Errorf("Error = %q", resp.Error)
	}
}

// --- GetJob Tests ---

func TestHandler_GetJob(t *testing.T) {
	var gotKey domain.JobKey
	store := &mockHandlerStore{getJobFn: func(ctx context.Context, key domain.JobKey) (domain.JobDetail, error) {
		gotKey = key
		return domain.JobDetail{
			Key:              key,
			JobType:          "bench",
			RequestsRecovery: true,
			Data:             map[string]string{"k": "v"},
		}, nil
	}}
	handler := newTestHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/jobs/DEFAULT/my-job", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if gotKey != domain.NewJobKey("my-job") {
		t.Errorf("store called with %v", gotKey)
	}
	resp := decode[JobResponse](t, w)
	if resp.JobType != "bench" || !resp.RequestsRecovery || resp.Data["k"] != "v" {
		t.Errorf("unexpected job response: %+v", resp)
	}
}

func TestHandler_GetJob_NotFound(t *testing.T) {
	handler := newTestHandler(&mockHandlerStore{})

	req := httptest.NewRequest(http.MethodGet, "/jobs/DEFAULT/missing", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHandler_GetJob_StoreError(t *testing.T) {
	store := &mockHandlerStore{getJobFn: func(ctx context.Context, key domain.JobKey) (domain.JobDetail, error) {
		return domain.JobDetail{}, errors.New("boom")
	}}
	handler := newTestHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/jobs/DEFAULT/my-job", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestHandler_GetJob_MalformedPath(t *testing.T) {
	handler := newTestHandler(&mockHandlerStore{})

	for _, path := range []string{"/jobs/", "/jobs/DEFAULT", "/jobs/DEFAULT/a/b"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, w.Code)
		}
	}
}

// --- Routing Tests ---

func TestHandler_MethodNotAllowed(t *testing.T) {
	handler := newTestHandler(&mockHandlerStore{})

	req := httptest.NewRequest(http.MethodPost, "/triggers", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestHandler_UnknownPath(t *testing.T) {
	handler := newTestHandler(&mockHandlerStore{})

	req := httptest.NewRequest(http.MethodGet, "/executions", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
