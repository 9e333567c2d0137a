package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/djlord-it/schedbench/internal/domain"
	"github.com/djlord-it/schedbench/internal/store"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

type Store interface {
	ListTriggers(ctx context.Context) ([]domain.Trigger, error)
	GetJob(ctx context.Context, key domain.JobKey) (domain.JobDetail, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// Handler serves a read-only view of the scheduler state.
type Handler struct {
	store      Store
	instanceID string
	checks     []componentCheck
}

type componentCheck struct {
	name    string
	checker HealthChecker
}

func NewHandler(store Store, instanceID string) *Handler {
	return &Handler{store: store, instanceID: instanceID}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	return h.WithComponent("job_store", db)
}

// WithComponent adds a named dependency to verbose /health responses.
func (h *Handler) WithComponent(name string, checker HealthChecker) *Handler {
	h.checks = append(h.checks, componentCheck{name: name, checker: checker})
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	switch {
	case path == "/health":
		h.health(w, r)

	case path == "/triggers":
		h.listTriggers(w, r)

	case strings.HasPrefix(path, "/jobs/"):
		h.getJob(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	InstanceID string            `json:"instance_id,omitempty"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	// Check if verbose mode requested via ?verbose=true
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || len(h.checks) == 0 {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", InstanceID: h.instanceID})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		InstanceID: h.instanceID,
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	for _, c := range h.checks {
		if err := c.checker.PingContext(ctx); err != nil {
			resp.Status = "degraded"
			resp.Components[c.name] = "unhealthy: " + err.Error()
		} else {
			resp.Components[c.name] = "healthy"
		}
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

func (h *Handler) listTriggers(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	triggers, err := h.store.ListTriggers(r.Context())
	if err != nil {
		log.Printf("api: list triggers error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list triggers")
		return
	}

	group := r.URL.Query().Get("group")
	filtered := triggers[:0]
	for _, t := range triggers {
		if group == "" || t.Key.Group == group {
			filtered = append(filtered, t)
		}
	}

	page := paginate(filtered, limit, offset)
	resp := ListTriggersResponse{
		Triggers: make([]TriggerResponse, len(page)),
		Total:    len(filtered),
	}
	for i, t := range page {
		resp.Triggers[i] = newTriggerResponse(t)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	// Extract key from path: /jobs/{group}/{name}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "jobs" || parts[1] == "" || parts[2] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	key := domain.JobKey{Group: parts[1], Name: parts[2]}
	job, err := h.store.GetJob(r.Context(), key)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		log.Printf("api: get job error: job=%s err=%v", key, err)
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	writeJSON(w, http.StatusOK, JobResponse{
		Group:            job.Key.Group,
		Name:             job.Key.Name,
		JobType:          job.JobType,
		Description:      job.Description,
		RequestsRecovery: job.RequestsRecovery,
		Durable:          job.Durable,
		Data:             job.Data,
	})
}

func paginate(ts []domain.Trigger, limit, offset int) []domain.Trigger {
	if offset >= len(ts) {
		return nil
	}
	end := offset + limit
	if end > len(ts) {
		end = len(ts)
	}
	return ts[offset:end]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
