package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/refpilot/refpilot/internal/api/response"
	"github.com/refpilot/refpilot/internal/export"
)

// ExportService defines the exporter surface the handler depends on.
type ExportService interface {
	Export(ctx context.Context, params export.Params) (*export.Result, error)
}

// NewExportHandler returns an http.HandlerFunc for POST /api/v1/admin/export.
func NewExportHandler(svc ExportService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			DryRun      bool `json:"dryRun"`
			OnlyWithAPI bool `json:"onlyWithAPI"`
			Limit       int  `json:"limit"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Limit < 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must not be negative", nil)
			return
		}

		result, err := svc.Export(r.Context(), export.Params{
			DryRun:      req.DryRun,
			OnlyWithAPI: req.OnlyWithAPI,
			Limit:       req.Limit,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to run export", nil)
			return
		}

		response.JSON(w, map[string]any{"results": result})
	}
}
