package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	mw "github.com/refpilot/refpilot/internal/api/middleware"
	"github.com/refpilot/refpilot/internal/api/response"
	"github.com/refpilot/refpilot/internal/cache"
	"github.com/refpilot/refpilot/internal/store"
	"github.com/refpilot/refpilot/pkg/models"
)

const templateListTTL = 60 * time.Second

// TemplateStore is the subset of the data store the templates handler needs.
type TemplateStore interface {
	ListTemplates(ctx context.Context, filter store.TemplateFilter) ([]*models.ProgramTemplate, int, error)
	SelectedTemplateIDs(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]bool, error)
}

// ListCache is the subset of the cache the templates handler needs. May be nil.
type ListCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type templateView struct {
	*models.ProgramTemplate
	IsSelected bool `json:"is_selected"`
}

type templateListing struct {
	Templates []templateView `json:"templates"`
	Meta      response.ListMeta
}

// NewListTemplatesHandler returns an http.HandlerFunc for GET /api/v1/templates.
// Supported filters: selected, recent, software (with &software=), all.
// Results are annotated with is_selected for the calling account and cached
// per (user, filter) for a short window.
func NewListTemplatesHandler(s TemplateStore, c ListCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		q := r.URL.Query()
		filter := store.TemplateFilter{
			Filter:   q.Get("filter"),
			Software: q.Get("software"),
			Search:   q.Get("search"),
			UserID:   userID,
		}
		switch filter.Filter {
		case "", "all", "selected", "recent", "software":
		default:
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"filter must be one of selected, recent, software, all", nil)
			return
		}
		if filter.Filter == "software" && filter.Software == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"software is required with filter=software", nil)
			return
		}

		key := cache.TemplateListKey(userID, filterHash(filter))
		if c != nil {
			if data, ok, err := c.Get(r.Context(), key); err == nil && ok {
				var cached templateListing
				if json.Unmarshal(data, &cached) == nil {
					response.Collection(w, cached.Templates, cached.Meta)
					return
				}
			}
		}

		templates, total, err := s.ListTemplates(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list templates", nil)
			return
		}
		selected, err := s.SelectedTemplateIDs(r.Context(), userID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load selections", nil)
			return
		}

		views := make([]templateView, 0, len(templates))
		selectedCount := 0
		for _, t := range templates {
			isSelected := selected[t.ID]
			if isSelected {
				selectedCount++
			}
			views = append(views, templateView{ProgramTemplate: t, IsSelected: isSelected})
		}

		listing := templateListing{
			Templates: views,
			Meta: response.ListMeta{
				Total: total,
				Counts: map[string]int{
					"returned": len(views),
					"selected": selectedCount,
				},
			},
		}

		if c != nil {
			if data, err := json.Marshal(listing); err == nil {
				_ = c.Set(r.Context(), key, data, templateListTTL)
			}
		}

		response.Collection(w, listing.Templates, listing.Meta)
	}
}

func filterHash(f store.TemplateFilter) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", f.Filter, f.Software, f.Search)))
	return hex.EncodeToString(sum[:8])
}
