package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	AuthModeAPIKey      = "API_KEY"
	AuthModeCredentials = "CREDENTIALS"
	AuthModeBoth        = "BOTH"
)

// ProgramTemplate is the curated, product-facing representation of an
// affiliate program. Created by the exporter or manually; the rest of the
// product reads from this catalog.
type ProgramTemplate struct {
	ID            uuid.UUID `db:"id"             json:"id"`
	Name          string    `db:"name"           json:"name"`
	SoftwareKey   string    `db:"software_key"   json:"software_key"`
	AuthMode      string    `db:"auth_mode"      json:"auth_mode"`
	BaseURL       *string   `db:"base_url"       json:"base_url,omitempty"`
	LoginURL      *string   `db:"login_url"      json:"login_url,omitempty"`
	LabelAPIKey   *string   `db:"label_api_key"  json:"label_api_key,omitempty"`
	LabelUsername *string   `db:"label_username" json:"label_username,omitempty"`
	LabelPassword *string   `db:"label_password" json:"label_password,omitempty"`
	ReferralURL   *string   `db:"referral_url"   json:"referral_url,omitempty"`
	IsActive      bool      `db:"is_active"      json:"is_active"`
	DisplayOrder  int       `db:"display_order"  json:"display_order"`
	CreatedAt     time.Time `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"     json:"updated_at"`
}
