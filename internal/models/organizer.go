package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Organizer is created during onboarding; the ledger only reads it.
type Organizer struct {
	bun.BaseModel `bun:"table:organizers"`

	ID              string    `json:"id" bun:"id,pk"`
	Name            string    `json:"name" bun:"name"`
	StripeAccountID string    `json:"stripe_account_id" bun:"stripe_account_id"`
	UserID          string    `json:"user_id" bun:"user_id"`
	CreatedAt       time.Time `json:"created_at" bun:"created_at,notnull"`
}
