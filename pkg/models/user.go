package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the account record API keys resolve to. Account lifecycle (signup,
// billing, sessions) lives in the parent product; this service only reads it.
type User struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Email     string    `db:"email"      json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
