package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/refpilot/refpilot/internal/store"
	"github.com/refpilot/refpilot/pkg/models"
)

// checkpointEvery is how many successful upserts pass between progress
// writes, so a concurrent poller sees live movement.
const checkpointEvery = 10

const snapshotTTL = 2 * time.Second

// Store is the subset of the data store the orchestrator needs.
type Store interface {
	CreateScrapeJob(ctx context.Context, job *models.ScrapeJob) error
	GetScrapeJob(ctx context.Context, id uuid.UUID) (*models.ScrapeJob, error)
	ListScrapeJobs(ctx context.Context, limit int) ([]*models.ScrapeJob, error)
	UpdateScrapeJobProgress(ctx context.Context, id uuid.UUID, programsFound int, checkpoint string) error
	CompleteScrapeJob(ctx context.Context, id uuid.UUID, status string, opts ...store.JobCompleteOption) error
	UpsertScrapedProgram(ctx context.Context, p *models.ScrapedProgram) (*models.ScrapedProgram, error)
}

// SnapshotCache absorbs poll traffic for running jobs. May be nil.
type SnapshotCache interface {
	GetJobSnapshot(ctx context.Context, id uuid.UUID) (*models.ScrapeJob, bool, error)
	SetJobSnapshot(ctx context.Context, id uuid.UUID, job *models.ScrapeJob, ttl time.Duration) error
}

// Orchestrator owns the scrape job lifecycle: it decides between synchronous
// and detached execution, drives the extraction worker, persists results and
// keeps the job record's progress current.
type Orchestrator struct {
	store         Store
	browser       Browser
	cache         SnapshotCache
	directoryURL  string
	syncThreshold int
}

// New creates an Orchestrator. cache may be nil, in which case Progress always
// reads the store.
func New(s Store, b Browser, cache SnapshotCache, directoryURL string, syncThreshold int) *Orchestrator {
	return &Orchestrator{
		store:         s,
		browser:       b,
		cache:         cache,
		directoryURL:  directoryURL,
		syncThreshold: syncThreshold,
	}
}

// TriggerResult reports how a trigger was dispatched. Job is the final
// snapshot when Synchronous, otherwise the just-created running record.
type TriggerResult struct {
	Job         *models.ScrapeJob
	Synchronous bool
}

// Trigger creates the job record first, so even an immediate crash leaves an
// observable running job, then either executes inline (small bounded scrapes)
// or detaches and returns the job identity for polling. The hosting
// environment's wall-clock ceiling is why large scrapes never run inside the
// request.
func (o *Orchestrator) Trigger(ctx context.Context, software string, limit int) (*TriggerResult, error) {
	job := &models.ScrapeJob{
		ID:        uuid.New(),
		Status:    models.ScrapeJobStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if software != "" {
		job.SoftwareFilter = &software
	}
	if err := o.store.CreateScrapeJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create scrape job: %w", err)
	}

	if limit > 0 && limit <= o.syncThreshold {
		o.Execute(ctx, job.ID, software, limit)
		snapshot, err := o.store.GetScrapeJob(ctx, job.ID)
		if err != nil {
			return nil, fmt.Errorf("read back scrape job: %w", err)
		}
		return &TriggerResult{Job: snapshot, Synchronous: true}, nil
	}

	// Detached: the execution must outlive the trigger request's context.
	go o.Execute(context.Background(), job.ID, software, limit)
	return &TriggerResult{Job: job, Synchronous: false}, nil
}

// Progress returns a point-in-time snapshot of a job, via a short-TTL cache
// when one is configured. Safe to call concurrently with a running job.
func (o *Orchestrator) Progress(ctx context.Context, jobID uuid.UUID) (*models.ScrapeJob, error) {
	if o.cache != nil {
		if job, ok, err := o.cache.GetJobSnapshot(ctx, jobID); err == nil && ok {
			return job, nil
		}
	}

	job, err := o.store.GetScrapeJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if o.cache != nil {
		if err := o.cache.SetJobSnapshot(ctx, jobID, job, snapshotTTL); err != nil {
			slog.Warn("cache job snapshot", "job_id", jobID, "error", err)
		}
	}
	return job, nil
}

// Recent returns the most recent job records for the polling dashboard.
func (o *Orchestrator) Recent(ctx context.Context, limit int) ([]*models.ScrapeJob, error) {
	return o.store.ListScrapeJobs(ctx, limit)
}

// Execute runs one scrape job to completion. It is the single work unit for
// both the synchronous and detached branches, and always leaves the job in a
// terminal state: success after a full pass, error for a fault in acquisition,
// navigation or parsing. Per-row upsert failures are logged and skipped so a
// large batch degrades instead of aborting.
func (o *Orchestrator) Execute(ctx context.Context, jobID uuid.UUID, software string, limit int) {
	defer func() {
		if r := recover(); r != nil {
			o.fail(ctx, jobID, panicDiagnostic(r))
		}
	}()

	html, err := o.browser.ListingHTML(ctx, o.listingURL(software))
	if err != nil {
		o.fail(ctx, jobID, err.Error())
		return
	}

	candidates, err := ParseListing(html)
	if err != nil {
		o.fail(ctx, jobID, fmt.Sprintf("parse listing: %v", err))
		return
	}

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	total := len(candidates)
	saved := 0
	for i := range candidates {
		candidates[i].ID = uuid.New()
		if _, err := o.store.UpsertScrapedProgram(ctx, &candidates[i]); err != nil {
			slog.Warn("skipping program upsert",
				"job_id", jobID, "slug", candidates[i].Slug, "error", err)
			continue
		}
		saved++

		if saved%checkpointEvery == 0 || saved == total {
			checkpoint := fmt.Sprintf("Saved %d/%d programs", saved, total)
			if err := o.store.UpdateScrapeJobProgress(ctx, jobID, saved, checkpoint); err != nil {
				slog.Warn("write progress checkpoint", "job_id", jobID, "error", err)
			}
		}
	}

	err = o.store.CompleteScrapeJob(ctx, jobID, models.ScrapeJobStatusSuccess,
		store.WithProgramsFound(saved),
		store.WithFinalCheckpoint(fmt.Sprintf("Saved %d/%d programs", saved, total)))
	if err != nil {
		slog.Error("complete scrape job", "job_id", jobID, "error", err)
		return
	}
	slog.Info("scrape job finished", "job_id", jobID, "programs_found", saved, "dropped", total-saved)
}

func (o *Orchestrator) fail(ctx context.Context, jobID uuid.UUID, detail string) {
	slog.Error("scrape job failed", "job_id", jobID, "detail", detail)
	err := o.store.CompleteScrapeJob(ctx, jobID, models.ScrapeJobStatusError,
		store.WithErrorDetail(truncate(detail, 500)))
	if err != nil {
		slog.Error("record scrape job failure", "job_id", jobID, "error", err)
	}
}

func (o *Orchestrator) listingURL(software string) string {
	if software == "" {
		return o.directoryURL
	}
	sep := "?"
	if u, err := url.Parse(o.directoryURL); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	return o.directoryURL + sep + "software=" + url.QueryEscape(software)
}

// panicDiagnostic reduces a recovered panic to its message plus the first
// application stack frame.
func panicDiagnostic(r any) string {
	pc := make([]uintptr, 8)
	n := runtime.Callers(4, pc)
	frame := "unknown"
	if n > 0 {
		f, _ := runtime.CallersFrames(pc[:n]).Next()
		frame = fmt.Sprintf("%s:%d", f.File, f.Line)
	}
	return fmt.Sprintf("panic: %v (%s)", r, frame)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
