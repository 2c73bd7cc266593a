// Package syncbridge reconciles an external desktop client's per-program
// selection actions against the authoritative web-side selection set. The
// client is loosely trusted: it authenticates with a bearer key only, and may
// reference programs the web catalog does not curate.
package syncbridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/refpilot/refpilot/internal/store"
	"github.com/refpilot/refpilot/pkg/models"
)

// Client actions. Unknown values are tolerated, not rejected: older or newer
// client versions must never get a hard error for an action we don't know.
const (
	ActionAdd    = "add"
	ActionImport = "import"
	ActionRemove = "remove"
)

// Store is the subset of the data store the bridge needs.
type Store interface {
	FindTemplateByNameOrKey(ctx context.Context, name, softwareKey string) (*models.ProgramTemplate, error)
	UpsertSelection(ctx context.Context, sel *models.UserProgramSelection) error
	DeleteSelection(ctx context.Context, userID, templateID uuid.UUID) error
	ListSelections(ctx context.Context, userID uuid.UUID) ([]*models.SelectedProgram, error)
}

// Bridge applies client selection actions to the web-side record.
type Bridge struct {
	store Store
}

func New(s Store) *Bridge {
	return &Bridge{store: s}
}

// SyncResult reports the outcome of one selection action.
type SyncResult struct {
	Synced   bool
	Action   string
	Template *models.ProgramTemplate
}

// SyncSelection resolves the named program against the template catalog
// (case-insensitive name first, then software key) and applies the action.
// No catalog match is not an error: the result is simply not synced. Both
// add and remove are idempotent.
func (b *Bridge) SyncSelection(ctx context.Context, userID uuid.UUID, programCode, programName, action string) (*SyncResult, error) {
	tpl, err := b.store.FindTemplateByNameOrKey(ctx, programName, programCode)
	if errors.Is(err, store.ErrNotFound) {
		return &SyncResult{Synced: false, Action: action}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve program: %w", err)
	}

	switch action {
	case ActionAdd, ActionImport:
		sel := &models.UserProgramSelection{
			UserID:     userID,
			TemplateID: tpl.ID,
			Source:     models.SelectionSourceClient,
			SelectedAt: time.Now().UTC(),
		}
		if err := b.store.UpsertSelection(ctx, sel); err != nil {
			return nil, fmt.Errorf("upsert selection: %w", err)
		}
		return &SyncResult{Synced: true, Action: action, Template: tpl}, nil

	case ActionRemove:
		if err := b.store.DeleteSelection(ctx, userID, tpl.ID); err != nil {
			return nil, fmt.Errorf("delete selection: %w", err)
		}
		return &SyncResult{Synced: true, Action: action, Template: tpl}, nil

	default:
		return &SyncResult{Synced: false, Action: action, Template: tpl}, nil
	}
}

// ListSynced returns the user's current selections with denormalized program
// display fields, for the client to reconcile its local state against.
func (b *Bridge) ListSynced(ctx context.Context, userID uuid.UUID) ([]*models.SelectedProgram, error) {
	return b.store.ListSelections(ctx, userID)
}
