package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/refpilot/refpilot/internal/scrape"
	"github.com/refpilot/refpilot/internal/store"
	"github.com/refpilot/refpilot/pkg/models"
)

// --- mock ScrapeService ---

type mockScrapeService struct {
	triggerFn  func(software string, limit int) (*scrape.TriggerResult, error)
	progressFn func(jobID uuid.UUID) (*models.ScrapeJob, error)
	recentFn   func(limit int) ([]*models.ScrapeJob, error)
}

func (m *mockScrapeService) Trigger(_ context.Context, software string, limit int) (*scrape.TriggerResult, error) {
	return m.triggerFn(software, limit)
}

func (m *mockScrapeService) Progress(_ context.Context, jobID uuid.UUID) (*models.ScrapeJob, error) {
	return m.progressFn(jobID)
}

func (m *mockScrapeService) Recent(_ context.Context, limit int) ([]*models.ScrapeJob, error) {
	return m.recentFn(limit)
}

// --- helpers ---

func postJSON(t *testing.T, path string, body any) *http.Request {
	t.Helper()
	b, _ := json.Marshal(body)
	r := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func parseData(t *testing.T, rec *httptest.ResponseRecorder, wantStatus int) map[string]any {
	t.Helper()
	if rec.Code != wantStatus {
		t.Fatalf("expected %d, got %d: %s", wantStatus, rec.Code, rec.Body.String())
	}
	var env struct {
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env.Data
}

func parseErr(t *testing.T, rec *httptest.ResponseRecorder) (int, string) {
	t.Helper()
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, env.Error.Code
}

func runningJob() *models.ScrapeJob {
	return &models.ScrapeJob{
		ID:        uuid.New(),
		Status:    models.ScrapeJobStatusRunning,
		StartedAt: time.Now().UTC(),
	}
}

// --- trigger tests ---

func TestTriggerScrapeHandler_Detached(t *testing.T) {
	job := runningJob()
	svc := &mockScrapeService{
		triggerFn: func(software string, limit int) (*scrape.TriggerResult, error) {
			return &scrape.TriggerResult{Job: job, Synchronous: false}, nil
		},
	}

	h := NewTriggerScrapeHandler(svc)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postJSON(t, "/api/v1/admin/scrape", map[string]any{"limit": 0}))

	data := parseData(t, rec, http.StatusAccepted)
	if data["logId"] != job.ID.String() {
		t.Errorf("logId = %v", data["logId"])
	}
	if data["status"] != models.ScrapeJobStatusRunning {
		t.Errorf("status = %v", data["status"])
	}
	if _, present := data["programsFound"]; present {
		t.Error("detached response must not carry programsFound")
	}
}

func TestTriggerScrapeHandler_Synchronous(t *testing.T) {
	job := runningJob()
	job.Status = models.ScrapeJobStatusSuccess
	job.ProgramsFound = 7
	now := time.Now().UTC()
	job.CompletedAt = &now

	var captured struct {
		software string
		limit    int
	}
	svc := &mockScrapeService{
		triggerFn: func(software string, limit int) (*scrape.TriggerResult, error) {
			captured.software = software
			captured.limit = limit
			return &scrape.TriggerResult{Job: job, Synchronous: true}, nil
		},
	}

	h := NewTriggerScrapeHandler(svc)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postJSON(t, "/api/v1/admin/scrape", map[string]any{
		"software": "rewardful",
		"limit":    7,
	}))

	data := parseData(t, rec, http.StatusOK)
	if data["status"] != models.ScrapeJobStatusSuccess {
		t.Errorf("status = %v", data["status"])
	}
	if int(data["programsFound"].(float64)) != 7 {
		t.Errorf("programsFound = %v", data["programsFound"])
	}
	if data["completedAt"] == nil {
		t.Error("expected completedAt in synchronous response")
	}
	if captured.software != "rewardful" || captured.limit != 7 {
		t.Errorf("captured = %+v", captured)
	}
}

func TestTriggerScrapeHandler_NegativeLimit(t *testing.T) {
	svc := &mockScrapeService{
		triggerFn: func(string, int) (*scrape.TriggerResult, error) {
			t.Fatal("service must not be called")
			return nil, nil
		},
	}

	h := NewTriggerScrapeHandler(svc)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postJSON(t, "/api/v1/admin/scrape", map[string]any{"limit": -1}))

	status, code := parseErr(t, rec)
	if status != http.StatusBadRequest || code != "INVALID_REQUEST" {
		t.Errorf("got %d %s", status, code)
	}
}

func TestTriggerScrapeHandler_InvalidJSON(t *testing.T) {
	h := NewTriggerScrapeHandler(&mockScrapeService{})
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/admin/scrape", bytes.NewReader([]byte("{broken")))
	h.ServeHTTP(rec, r)

	status, code := parseErr(t, rec)
	if status != http.StatusBadRequest || code != "INVALID_REQUEST" {
		t.Errorf("got %d %s", status, code)
	}
}

func TestTriggerScrapeHandler_ServiceError(t *testing.T) {
	svc := &mockScrapeService{
		triggerFn: func(string, int) (*scrape.TriggerResult, error) {
			return nil, errors.New("create scrape job: connection refused")
		},
	}

	h := NewTriggerScrapeHandler(svc)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postJSON(t, "/api/v1/admin/scrape", map[string]any{"limit": 5}))

	status, code := parseErr(t, rec)
	if status != http.StatusInternalServerError || code != "INTERNAL_ERROR" {
		t.Errorf("got %d %s", status, code)
	}
}

// --- log tests ---

func TestScrapeLogHandler_SingleJob(t *testing.T) {
	job := runningJob()
	progress := "Saved 20/100 programs"
	job.CurrentProgress = &progress

	svc := &mockScrapeService{
		progressFn: func(id uuid.UUID) (*models.ScrapeJob, error) {
			if id != job.ID {
				t.Errorf("looked up %s, want %s", id, job.ID)
			}
			return job, nil
		},
	}

	h := NewScrapeLogHandler(svc)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/scrape?logId="+job.ID.String(), nil))

	data := parseData(t, rec, http.StatusOK)
	log, ok := data["log"].(map[string]any)
	if !ok {
		t.Fatalf("log not a map: %v", data["log"])
	}
	if log["current_progress"] != progress {
		t.Errorf("current_progress = %v", log["current_progress"])
	}
}

func TestScrapeLogHandler_UnknownJob(t *testing.T) {
	svc := &mockScrapeService{
		progressFn: func(uuid.UUID) (*models.ScrapeJob, error) {
			return nil, store.ErrNotFound
		},
	}

	h := NewScrapeLogHandler(svc)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/scrape?logId="+uuid.NewString(), nil))

	status, code := parseErr(t, rec)
	if status != http.StatusNotFound || code != "NOT_FOUND" {
		t.Errorf("got %d %s", status, code)
	}
}

func TestScrapeLogHandler_MalformedLogID(t *testing.T) {
	h := NewScrapeLogHandler(&mockScrapeService{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/scrape?logId=not-a-uuid", nil))

	status, code := parseErr(t, rec)
	if status != http.StatusBadRequest || code != "INVALID_REQUEST" {
		t.Errorf("got %d %s", status, code)
	}
}

func TestScrapeLogHandler_RecentList(t *testing.T) {
	jobs := []*models.ScrapeJob{runningJob(), runningJob()}
	var capturedLimit int
	svc := &mockScrapeService{
		recentFn: func(limit int) ([]*models.ScrapeJob, error) {
			capturedLimit = limit
			return jobs, nil
		},
	}

	h := NewScrapeLogHandler(svc)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/scrape", nil))

	data := parseData(t, rec, http.StatusOK)
	logs, ok := data["logs"].([]any)
	if !ok {
		t.Fatalf("logs not a list: %v", data["logs"])
	}
	if len(logs) != 2 {
		t.Errorf("logs = %d entries, want 2", len(logs))
	}
	if capturedLimit != recentLogCount {
		t.Errorf("limit = %d, want %d", capturedLimit, recentLogCount)
	}
}
