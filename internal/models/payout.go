package models

import (
	"strconv"
	"time"

	"github.com/uptrace/bun"
)

const transferGroupPrefix = "group_"

// TransferGroup is the correlation tag shared by every payout bound for one organizer.
func TransferGroup(organizerID string) string {
	return transferGroupPrefix + organizerID
}

// Payout is the organizer's receivable for one Payment.
//
// TransferID is set only while a transfer is believed in flight or settled.
// IsTransferred implies TransferID != "". A lease (LeaseOwner, LeaseUntil)
// marks a row as claimed by one sweeper for the duration of a transfer call.
type Payout struct {
	bun.BaseModel `bun:"table:payouts"`

	ID               string     `json:"id" bun:"id,pk"`
	PaymentID        string     `json:"payment_id" bun:"payment_id,notnull"`
	Amount           int64      `json:"amount" bun:"amount,notnull"`
	Currency         string     `json:"currency" bun:"currency,notnull"`
	OrganizerID      string     `json:"organizer_id" bun:"organizer_id,notnull"`
	UserID           string     `json:"user_id" bun:"user_id"`
	TransferGroup    string     `json:"transfer_group" bun:"transfer_group,notnull"`
	IsTransferred    bool       `json:"is_transferred" bun:"is_transferred,notnull,default:false"`
	TransferID       string     `json:"transfer_id,omitempty" bun:"transfer_id,nullzero"`
	FailedTransferID string     `json:"failed_transfer_id,omitempty" bun:"failed_transfer_id,nullzero"`
	TransferAttempts int        `json:"transfer_attempts" bun:"transfer_attempts,notnull,default:0"`
	LastError        string     `json:"last_error,omitempty" bun:"last_error,nullzero"`
	DeadLettered     bool       `json:"dead_lettered" bun:"dead_lettered,notnull,default:false"`
	ConfirmedAt      *time.Time `json:"confirmed_at,omitempty" bun:"confirmed_at"`
	LeaseOwner       string     `json:"-" bun:"lease_owner,nullzero"`
	LeaseUntil       *time.Time `json:"-" bun:"lease_until"`
	CreatedAt        time.Time  `json:"created_at" bun:"created_at,notnull"`
	UpdatedAt        time.Time  `json:"updated_at" bun:"updated_at,nullzero"`
}

// TransferIdempotencyKey is stable for one attempt and only changes after a
// rejection has been recorded against the row.
func (p *Payout) TransferIdempotencyKey() string {
	return "payout_" + p.ID + "_" + strconv.Itoa(p.TransferAttempts)
}

// TransferStatus is the processor-side truth for a transfer.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferSucceeded TransferStatus = "succeeded"
	TransferFailed    TransferStatus = "failed"
)

// PayoutEvent is published after a ledger transition.
type PayoutEvent struct {
	Type        string    `json:"type"`
	PayoutID    string    `json:"payout_id"`
	PaymentID   string    `json:"payment_id"`
	OrganizerID string    `json:"organizer_id"`
	TransferID  string    `json:"transfer_id"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	Timestamp   time.Time `json:"timestamp"`
}
