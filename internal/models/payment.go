package models

import (
	"time"

	"github.com/uptrace/bun"
)

type PaymentStatus string

const (
	StatusPending PaymentStatus = "pending"
	StatusSuccess PaymentStatus = "success"
	StatusFailed  PaymentStatus = "failed"
)

type QRStatus string

const (
	QRUnused QRStatus = "unused"
	QRUsed   QRStatus = "used"
)

// Payment is one ticket purchase attempt. Amount is in minor units.
type Payment struct {
	bun.BaseModel `bun:"table:payments"`

	ID            string        `json:"id" bun:"id,pk"`
	UserID        string        `json:"user_id" bun:"user_id"`
	EventID       string        `json:"event_id" bun:"event_id"`
	TransactionID string        `json:"transaction_id" bun:"transaction_id,unique,notnull"`
	Amount        int64         `json:"amount" bun:"amount,notnull"`
	Currency      string        `json:"currency" bun:"currency,notnull"`
	Status        PaymentStatus `json:"status" bun:"status,notnull"`
	PaymentMethod string        `json:"payment_method" bun:"payment_method"`
	QRCode        string        `json:"qr_code" bun:"qr_code"`
	QRStatus      QRStatus      `json:"qr_status" bun:"qr_status,notnull"`
	TicketCount   int           `json:"ticket_count" bun:"ticket_count,notnull"`
	TicketID      string        `json:"ticket_id" bun:"ticket_id"`
	CreatedAt     time.Time     `json:"created_at" bun:"created_at,notnull"`
	UpdatedAt     time.Time     `json:"updated_at" bun:"updated_at,nullzero"`
}

// CanTransition reports whether status may move to next. Only pending rows move.
func (p *Payment) CanTransition(next PaymentStatus) bool {
	if p.Status != StatusPending {
		return false
	}
	return next == StatusSuccess || next == StatusFailed
}

// PaymentIntentRequest is the create-payment-intent body. Amount is in
// minor units (cents); no conversion happens at this boundary.
type PaymentIntentRequest struct {
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency,omitempty"`
	OrganizerID   string `json:"organizerId"`
	UserID        string `json:"userId"`
	EventID       string `json:"eventId"`
	TicketCount   int    `json:"ticketCount"`
	TicketID      string `json:"ticketId"`
	PaymentMethod string `json:"paymentMethod,omitempty"`
}

type PaymentIntentResponse struct {
	ClientSecret string `json:"clientSecret"`
	PaymentID    string `json:"paymentId"`
}

// TicketPayload is sealed into the QR artifact for later redemption.
type TicketPayload struct {
	Amount          int64  `json:"amount"`
	UserID          string `json:"userId"`
	EventID         string `json:"eventId"`
	Status          string `json:"status"`
	Count           int    `json:"count"`
	TicketID        string `json:"ticketId,omitempty"`
	PaymentIntentID string `json:"paymentIntentId"`
}
