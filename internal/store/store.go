package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/refpilot/refpilot/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	GetDefaultUser(ctx context.Context) (*models.User, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	CreateScrapeJob(ctx context.Context, job *models.ScrapeJob) error
	GetScrapeJob(ctx context.Context, id uuid.UUID) (*models.ScrapeJob, error)
	ListScrapeJobs(ctx context.Context, limit int) ([]*models.ScrapeJob, error)
	UpdateScrapeJobProgress(ctx context.Context, id uuid.UUID, programsFound int, checkpoint string) error
	CompleteScrapeJob(ctx context.Context, id uuid.UUID, status string, opts ...JobCompleteOption) error
	FailStaleScrapeJobs(ctx context.Context, olderThan time.Duration, detail string) (int, error)

	UpsertScrapedProgram(ctx context.Context, p *models.ScrapedProgram) (*models.ScrapedProgram, error)
	GetScrapedProgram(ctx context.Context, id uuid.UUID) (*models.ScrapedProgram, error)
	ListUnmappedPrograms(ctx context.Context, onlyWithAPI bool, limit int) ([]*models.ScrapedProgram, error)
	SetFinalJoinURL(ctx context.Context, id uuid.UUID, finalURL string) error
	MarkProgramMapped(ctx context.Context, id uuid.UUID, templateID uuid.UUID) error

	CreateTemplate(ctx context.Context, t *models.ProgramTemplate) error
	GetTemplate(ctx context.Context, id uuid.UUID) (*models.ProgramTemplate, error)
	FindTemplateByNameOrKey(ctx context.Context, name, softwareKey string) (*models.ProgramTemplate, error)
	ListTemplates(ctx context.Context, filter TemplateFilter) ([]*models.ProgramTemplate, int, error)

	UpsertSelection(ctx context.Context, sel *models.UserProgramSelection) error
	DeleteSelection(ctx context.Context, userID, templateID uuid.UUID) error
	ListSelections(ctx context.Context, userID uuid.UUID) ([]*models.SelectedProgram, error)
	SelectedTemplateIDs(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]bool, error)
}

// TemplateFilter narrows the catalog listing. UserID scopes the "selected"
// filter and the isSelected annotation; zero value means no user context.
type TemplateFilter struct {
	Filter   string // selected | recent | software | all
	Software string
	Search   string
	UserID   uuid.UUID
	Limit    int
}

// JobCompleteParams collects the optional fields written alongside a job's
// terminal status. Exported so store fakes can interpret options.
type JobCompleteParams struct {
	ProgramsFound *int
	ErrorDetail   *string
	Checkpoint    *string
}

type JobCompleteOption func(*JobCompleteParams)

func WithProgramsFound(n int) JobCompleteOption {
	return func(p *JobCompleteParams) {
		p.ProgramsFound = &n
	}
}

func WithErrorDetail(detail string) JobCompleteOption {
	return func(p *JobCompleteParams) {
		p.ErrorDetail = &detail
	}
}

func WithFinalCheckpoint(checkpoint string) JobCompleteOption {
	return func(p *JobCompleteParams) {
		p.Checkpoint = &checkpoint
	}
}
