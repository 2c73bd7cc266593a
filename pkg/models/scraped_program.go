package models

import (
	"time"

	"github.com/google/uuid"
)

// ScrapedProgram is a raw affiliate-program row extracted from the third-party
// directory. The slug is the natural key: re-scraping an existing slug updates
// fields and last_checked_at instead of inserting a duplicate. Rows are never
// deleted by the pipeline.
type ScrapedProgram struct {
	ID               uuid.UUID  `db:"id"                 json:"id"`
	Slug             string     `db:"slug"               json:"slug"`
	Name             string     `db:"name"               json:"name"`
	Software         string     `db:"software"           json:"software"`
	Commission       string     `db:"commission"         json:"commission"`
	APISupport       bool       `db:"api_support"        json:"api_support"`
	Category         string     `db:"category"           json:"category"`
	LogoURL          *string    `db:"logo_url"           json:"logo_url,omitempty"`
	ReviewURL        *string    `db:"review_url"         json:"review_url,omitempty"`
	JoinURL          *string    `db:"join_url"           json:"join_url,omitempty"`
	FinalJoinURL     *string    `db:"final_join_url"     json:"final_join_url,omitempty"`
	MappedToTemplate bool       `db:"mapped_to_template" json:"mapped_to_template"`
	TemplateID       *uuid.UUID `db:"template_id"        json:"template_id,omitempty"`
	Status           *string    `db:"status"             json:"status,omitempty"`
	LastCheckedAt    time.Time  `db:"last_checked_at"    json:"last_checked_at"`
	CreatedAt        time.Time  `db:"created_at"         json:"created_at"`
}

// ReferralURL returns the join link that should be copied onto an exported
// template, preferring the resolved and cleaned form when present.
func (p *ScrapedProgram) ReferralURL() string {
	if p.FinalJoinURL != nil && *p.FinalJoinURL != "" {
		return *p.FinalJoinURL
	}
	if p.JoinURL != nil {
		return *p.JoinURL
	}
	return ""
}
