package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ScrapeJobStatusRunning = "running"
	ScrapeJobStatusSuccess = "success"
	ScrapeJobStatusError   = "error"
)

// ScrapeJob is the durable log of one directory scrape run. It is created in
// status "running" before any network activity so a crash is still observable,
// mutated only by the job's own execution, and terminal once the status leaves
// "running". Pollers read it via GET /api/v1/admin/scrape?logId=.
type ScrapeJob struct {
	ID              uuid.UUID  `db:"id"               json:"id"`
	SoftwareFilter  *string    `db:"software_filter"  json:"software_filter,omitempty"`
	Status          string     `db:"status"           json:"status"`
	ProgramsFound   int        `db:"programs_found"   json:"programs_found"`
	CurrentProgress *string    `db:"current_progress" json:"current_progress,omitempty"`
	ErrorDetail     *string    `db:"error_detail"     json:"error_detail,omitempty"`
	StartedAt       time.Time  `db:"started_at"       json:"started_at"`
	CompletedAt     *time.Time `db:"completed_at"     json:"completed_at,omitempty"`
}

// Terminal reports whether the job can no longer change state.
func (j *ScrapeJob) Terminal() bool {
	return j.Status != ScrapeJobStatusRunning
}
