package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	mw "github.com/refpilot/refpilot/internal/api/middleware"
	"github.com/refpilot/refpilot/internal/api/response"
	"github.com/refpilot/refpilot/internal/syncbridge"
	"github.com/refpilot/refpilot/pkg/models"
)

// SelectionBridge defines the sync-bridge surface the handlers depend on.
type SelectionBridge interface {
	SyncSelection(ctx context.Context, userID uuid.UUID, programCode, programName, action string) (*syncbridge.SyncResult, error)
	ListSynced(ctx context.Context, userID uuid.UUID) ([]*models.SelectedProgram, error)
}

type syncedProgram struct {
	ProgramID  uuid.UUID `json:"programId"`
	Name       string    `json:"name"`
	Code       string    `json:"code"`
	Software   string    `json:"software"`
	SelectedAt time.Time `json:"selectedAt"`
}

// NewSyncSelectionHandler returns an http.HandlerFunc for POST /api/v1/programs/sync.
// The action vocabulary is deliberately permissive: an unrecognized action
// yields a not-synced success, never an error, so old client builds keep working.
func NewSyncSelectionHandler(bridge SelectionBridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		var req struct {
			ProgramCode string `json:"programCode"`
			ProgramName string `json:"programName"`
			Action      string `json:"action"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Action == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "action is required", nil)
			return
		}
		if req.ProgramCode == "" && req.ProgramName == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"programCode or programName is required", nil)
			return
		}

		result, err := bridge.SyncSelection(r.Context(), userID, req.ProgramCode, req.ProgramName, req.Action)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to sync selection", nil)
			return
		}

		resp := map[string]any{
			"success": true,
			"synced":  result.Synced,
			"action":  result.Action,
		}
		if result.Template != nil {
			resp["program"] = map[string]any{
				"programId": result.Template.ID,
				"name":      result.Template.Name,
				"code":      result.Template.SoftwareKey,
				"software":  result.Template.SoftwareKey,
			}
		}
		response.JSON(w, resp)
	}
}

// NewListSyncedHandler returns an http.HandlerFunc for GET /api/v1/programs/sync.
func NewListSyncedHandler(bridge SelectionBridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		selections, err := bridge.ListSynced(r.Context(), userID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list selections", nil)
			return
		}

		programs := make([]syncedProgram, 0, len(selections))
		for _, sel := range selections {
			programs = append(programs, syncedProgram{
				ProgramID:  sel.TemplateID,
				Name:       sel.Name,
				Code:       sel.SoftwareKey,
				Software:   sel.SoftwareKey,
				SelectedAt: sel.SelectedAt,
			})
		}
		response.JSON(w, map[string]any{"programs": programs})
	}
}
