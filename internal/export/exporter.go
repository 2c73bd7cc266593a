// Package export maps raw scraped programs into the curated template catalog.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/refpilot/refpilot/internal/store"
	"github.com/refpilot/refpilot/pkg/models"
)

// Store is the subset of the data store the exporter needs.
type Store interface {
	ListUnmappedPrograms(ctx context.Context, onlyWithAPI bool, limit int) ([]*models.ScrapedProgram, error)
	FindTemplateByNameOrKey(ctx context.Context, name, softwareKey string) (*models.ProgramTemplate, error)
	CreateTemplate(ctx context.Context, t *models.ProgramTemplate) error
	MarkProgramMapped(ctx context.Context, id uuid.UUID, templateID uuid.UUID) error
}

// Exporter converts scraped programs into program templates, skipping
// anything the catalog already covers.
type Exporter struct {
	store Store
}

func New(s Store) *Exporter {
	return &Exporter{store: s}
}

// Params controls one export pass.
type Params struct {
	DryRun      bool
	OnlyWithAPI bool
	Limit       int
}

// Outcomes for a single candidate.
const (
	OutcomeCreated     = "created"
	OutcomeWouldCreate = "would_create"
	OutcomeSkipped     = "skipped"
	OutcomeError       = "error"
)

// ProgramResult reports what happened to one candidate.
type ProgramResult struct {
	ProgramID  uuid.UUID  `json:"program_id"`
	Slug       string     `json:"slug"`
	Name       string     `json:"name"`
	Outcome    string     `json:"outcome"`
	Reason     string     `json:"reason,omitempty"`
	TemplateID *uuid.UUID `json:"template_id,omitempty"`
}

// Result aggregates an export pass. In dry-run mode Created counts candidates
// that would be created; no writes occur.
type Result struct {
	Created  int             `json:"created"`
	Skipped  int             `json:"skipped"`
	Errors   int             `json:"errors"`
	Programs []ProgramResult `json:"programs"`
}

// Export runs one pass over unmapped scraped programs. Live mode is
// idempotent: created templates flip the source program's mapped flag, so a
// second pass creates nothing. A failing candidate is counted and skipped,
// never aborting the batch.
func (e *Exporter) Export(ctx context.Context, params Params) (*Result, error) {
	candidates, err := e.store.ListUnmappedPrograms(ctx, params.OnlyWithAPI, params.Limit)
	if err != nil {
		return nil, fmt.Errorf("list export candidates: %w", err)
	}

	result := &Result{Programs: make([]ProgramResult, 0, len(candidates))}
	for _, p := range candidates {
		pr := e.exportOne(ctx, p, params.DryRun)
		switch pr.Outcome {
		case OutcomeCreated, OutcomeWouldCreate:
			result.Created++
		case OutcomeSkipped:
			result.Skipped++
		case OutcomeError:
			result.Errors++
		}
		result.Programs = append(result.Programs, pr)
	}
	return result, nil
}

func (e *Exporter) exportOne(ctx context.Context, p *models.ScrapedProgram, dryRun bool) ProgramResult {
	pr := ProgramResult{ProgramID: p.ID, Slug: p.Slug, Name: p.Name}

	key := SoftwareKey(p.Software)
	existing, err := e.store.FindTemplateByNameOrKey(ctx, p.Name, key)
	if err == nil {
		pr.Outcome = OutcomeSkipped
		pr.Reason = "already mapped"
		pr.TemplateID = &existing.ID
		return pr
	}
	if !errors.Is(err, store.ErrNotFound) {
		slog.Warn("export candidate lookup failed", "slug", p.Slug, "error", err)
		pr.Outcome = OutcomeError
		pr.Reason = err.Error()
		return pr
	}

	tpl := buildTemplate(p, key)

	if dryRun {
		pr.Outcome = OutcomeWouldCreate
		return pr
	}

	if err := e.store.CreateTemplate(ctx, tpl); err != nil {
		slog.Warn("export template create failed", "slug", p.Slug, "error", err)
		pr.Outcome = OutcomeError
		pr.Reason = err.Error()
		return pr
	}
	if err := e.store.MarkProgramMapped(ctx, p.ID, tpl.ID); err != nil {
		// The template exists; the unmapped flag will retry next pass and
		// dedupe against the template by name.
		slog.Warn("mark program mapped failed", "slug", p.Slug, "error", err)
		pr.Outcome = OutcomeError
		pr.Reason = err.Error()
		return pr
	}

	pr.Outcome = OutcomeCreated
	pr.TemplateID = &tpl.ID
	return pr
}

func buildTemplate(p *models.ScrapedProgram, key string) *models.ProgramTemplate {
	authMode := models.AuthModeCredentials
	if p.APISupport {
		authMode = models.AuthModeAPIKey
	}

	now := time.Now().UTC()
	tpl := &models.ProgramTemplate{
		ID:          uuid.New(),
		Name:        p.Name,
		SoftwareKey: key,
		AuthMode:    authMode,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if ref := p.ReferralURL(); ref != "" {
		tpl.ReferralURL = &ref
	}
	return tpl
}

var keyInvalid = regexp.MustCompile(`[^a-z0-9_]+`)

// SoftwareKey normalizes a scraped platform label into the catalog's
// software-key form, e.g. "Post Affiliate Pro" -> "post_affiliate_pro".
func SoftwareKey(software string) string {
	key := strings.ToLower(strings.TrimSpace(software))
	key = strings.ReplaceAll(key, " ", "_")
	key = keyInvalid.ReplaceAllString(key, "")
	return strings.Trim(key, "_")
}
