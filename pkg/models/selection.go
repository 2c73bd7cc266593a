package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	SelectionSourceWeb    = "web"
	SelectionSourceClient = "client"
)

// UserProgramSelection records that an account wants a given template's
// program tracked. Identity is the (user, template) pair; re-adding is
// idempotent, not an error.
type UserProgramSelection struct {
	UserID     uuid.UUID `db:"user_id"     json:"user_id"`
	TemplateID uuid.UUID `db:"template_id" json:"template_id"`
	Source     string    `db:"source"      json:"source"`
	SelectedAt time.Time `db:"selected_at" json:"selected_at"`
}

// SelectedProgram is the denormalized projection the external client
// reconciles its local state against.
type SelectedProgram struct {
	TemplateID  uuid.UUID `db:"template_id"`
	Name        string    `db:"name"`
	SoftwareKey string    `db:"software_key"`
	Source      string    `db:"source"`
	SelectedAt  time.Time `db:"selected_at"`
}
