package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/refpilot/refpilot/internal/api/response"
	"github.com/refpilot/refpilot/internal/scrape"
	"github.com/refpilot/refpilot/internal/store"
	"github.com/refpilot/refpilot/pkg/models"
)

const recentLogCount = 10

// ScrapeService defines the orchestrator surface the handlers depend on.
type ScrapeService interface {
	Trigger(ctx context.Context, software string, limit int) (*scrape.TriggerResult, error)
	Progress(ctx context.Context, jobID uuid.UUID) (*models.ScrapeJob, error)
	Recent(ctx context.Context, limit int) ([]*models.ScrapeJob, error)
}

type triggerResponse struct {
	Success       bool       `json:"success"`
	LogID         uuid.UUID  `json:"logId"`
	Status        string     `json:"status,omitempty"`
	ProgramsFound *int       `json:"programsFound,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// NewTriggerScrapeHandler returns an http.HandlerFunc for POST /api/v1/admin/scrape.
// Small bounded scrapes complete inside the request; anything else returns a
// job identity for polling.
func NewTriggerScrapeHandler(svc ScrapeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Software string `json:"software"`
			Limit    int    `json:"limit"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Limit < 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must not be negative", nil)
			return
		}

		result, err := svc.Trigger(r.Context(), req.Software, req.Limit)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to trigger scrape", nil)
			return
		}

		resp := triggerResponse{Success: true, LogID: result.Job.ID, Status: result.Job.Status}
		if result.Synchronous {
			resp.ProgramsFound = &result.Job.ProgramsFound
			resp.CompletedAt = result.Job.CompletedAt
			response.JSON(w, resp)
			return
		}
		response.Accepted(w, resp)
	}
}

// NewScrapeLogHandler returns an http.HandlerFunc for GET /api/v1/admin/scrape.
// With ?logId= it returns one job snapshot; without, the most recent runs.
func NewScrapeLogHandler(svc ScrapeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rawID := r.URL.Query().Get("logId")
		if rawID == "" {
			logs, err := svc.Recent(r.Context(), recentLogCount)
			if err != nil {
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"Failed to list scrape logs", nil)
				return
			}
			response.JSON(w, map[string]any{"logs": logs})
			return
		}

		jobID, err := uuid.Parse(rawID)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "logId must be a valid UUID", nil)
			return
		}

		job, err := svc.Progress(r.Context(), jobID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Scrape log not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to read scrape log", nil)
			return
		}
		response.JSON(w, map[string]any{"log": job})
	}
}
