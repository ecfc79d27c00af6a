package models

import (
	"time"

	"github.com/uptrace/bun"
)

// OutboxMessage is written in the same transaction as the ledger rows it
// describes and relayed to Kafka afterwards.
type OutboxMessage struct {
	bun.BaseModel `bun:"table:outbox"`

	ID        string     `json:"id" bun:"id,pk"`
	Topic     string     `json:"topic" bun:"topic,notnull"`
	Key       string     `json:"key" bun:"key"`
	Payload   string     `json:"payload" bun:"payload,type:text,notnull"`
	Attempts  int        `json:"attempts" bun:"attempts,notnull,default:0"`
	LastError string     `json:"last_error,omitempty" bun:"last_error,nullzero"`
	SentAt    *time.Time `json:"sent_at,omitempty" bun:"sent_at"`
	CreatedAt time.Time  `json:"created_at" bun:"created_at,notnull"`
}

// BookingNotification is the payload of a booking confirmation message.
type BookingNotification struct {
	PaymentID   string `json:"payment_id"`
	To          string `json:"to"`
	BuyerName   string `json:"buyer_name,omitempty"`
	EventID     string `json:"event_id"`
	EventName   string `json:"event_name,omitempty"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	TicketCount int    `json:"ticket_count"`
	Status      string `json:"status"`
}
