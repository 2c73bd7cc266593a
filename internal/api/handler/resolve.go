package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/refpilot/refpilot/internal/api/response"
	"github.com/refpilot/refpilot/internal/store"
	"github.com/refpilot/refpilot/pkg/models"
	"github.com/refpilot/refpilot/pkg/urlutil"
)

// RedirectResolver follows a join link to its final destination.
type RedirectResolver interface {
	Resolve(ctx context.Context, rawURL string) string
}

// ResolveStore is the subset of the data store the resolve handler needs.
type ResolveStore interface {
	GetScrapedProgram(ctx context.Context, id uuid.UUID) (*models.ScrapedProgram, error)
	SetFinalJoinURL(ctx context.Context, id uuid.UUID, finalURL string) error
}

// NewResolveRedirectHandler returns an http.HandlerFunc for
// POST /api/v1/admin/resolve-redirect. It resolves a program's join link,
// strips tracking parameters and persists the result as final_join_url.
func NewResolveRedirectHandler(s ResolveStore, resolver RedirectResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ProgramID string `json:"programId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.ProgramID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "programId is required", nil)
			return
		}
		programID, err := uuid.Parse(req.ProgramID)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "programId must be a valid UUID", nil)
			return
		}

		program, err := s.GetScrapedProgram(r.Context(), programID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Scraped program not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load program", nil)
			return
		}
		if program.JoinURL == nil || *program.JoinURL == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Program has no join link to resolve", nil)
			return
		}

		originalURL := *program.JoinURL
		finalURL := resolver.Resolve(r.Context(), originalURL)
		cleanedURL := urlutil.Clean(finalURL)

		if err := s.SetFinalJoinURL(r.Context(), programID, cleanedURL); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to persist resolved link", nil)
			return
		}

		program, err = s.GetScrapedProgram(r.Context(), programID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to reload program", nil)
			return
		}

		response.JSON(w, map[string]any{
			"originalUrl": originalURL,
			"finalUrl":    finalURL,
			"cleanedUrl":  cleanedURL,
			"program":     program,
		})
	}
}
