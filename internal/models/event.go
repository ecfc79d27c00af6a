package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Event is owned by the event service; read-only here.
type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID          string    `json:"id" bun:"id,pk"`
	OrganizerID string    `json:"organizer_id" bun:"organizer_id"`
	Name        string    `json:"event_name" bun:"event_name"`
	VenueName   string    `json:"venue_name" bun:"venue_name"`
	StartDate   string    `json:"start_date" bun:"start_date"`
	CreatedAt   time.Time `json:"created_at" bun:"created_at,notnull"`
}
