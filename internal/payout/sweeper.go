package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-payouts/internal/ledger/db"
	"ms-payouts/internal/metrics"
	"ms-payouts/internal/models"
	"ms-payouts/internal/processor"
)

const (
	opSweep   = "sweep"
	lockSweep = "sweep"

	EventPayoutTransferred = "payout.transferred"
	EventPayoutReverted    = "payout.reverted"
)

// RowFailure records why one payout did not move in a batch run.
type RowFailure struct {
	PayoutID string `json:"payoutId"`
	Error    string `json:"error"`
	// Indeterminate is set when the processor outcome is unknown; the row
	// keeps its idempotency key for the next run.
	Indeterminate bool `json:"indeterminate,omitempty"`
}

type SweepResult struct {
	Scanned      int          `json:"scanned"`
	Transferred  []string     `json:"transferred"`
	Skipped      []string     `json:"skipped"`
	DeadLettered []string     `json:"deadLettered"`
	Failed       []RowFailure `json:"failed"`
}

// Err summarises row failures, or nil when every row succeeded or was skipped.
func (r *SweepResult) Err() error {
	return summarize(r.Failed, r.DeadLettered)
}

// Sweep initiates a transfer for every untransferred payout. Each row is
// leased before the processor call and marked transferred right after it, so
// a failure on one row never affects another and a re-run never transfers a
// marked row twice.
func (s *Service) Sweep(ctx context.Context) (*SweepResult, error) {
	started := time.Now()
	result := &SweepResult{
		Transferred:  []string{},
		Skipped:      []string{},
		DeadLettered: []string{},
		Failed:       []RowFailure{},
	}

	ok, err := s.withRunLock(ctx, lockSweep, func() error {
		rows, err := s.store.ListUntransferredPayouts(ctx, s.opts.BatchSize)
		if err != nil {
			return newError(KindPersistence, opSweep, "Failed to load payouts", err)
		}
		result.Scanned = len(rows)
		s.log.LogProcess("SWEEP", fmt.Sprintf("Found %d untransferred payouts", len(rows)))

		accounts := make(map[string]string)
		for i := range rows {
			if ctx.Err() != nil {
				s.log.Warn("SWEEP", fmt.Sprintf("Sweep cancelled with %d rows left", len(rows)-i))
				break
			}
			s.sweepOne(ctx, &rows[i], accounts, result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newError(KindConflict, opSweep, "A sweep is already running", nil)
	}

	metrics.RunDuration.WithLabelValues(opSweep).Observe(time.Since(started).Seconds())
	s.log.LogProcess("SWEEP", fmt.Sprintf("Sweep done: %d transferred, %d failed, %d skipped, %d dead-lettered",
		len(result.Transferred), len(result.Failed), len(result.Skipped), len(result.DeadLettered)))
	return result, nil
}

func (s *Service) sweepOne(ctx context.Context, row *models.Payout, accounts map[string]string, result *SweepResult) {
	owner := s.opts.Owner

	claimed, err := s.store.ClaimPayout(ctx, row.ID, owner, s.opts.LeaseTTL, s.opts.MaxTransferAttempts)
	if err != nil {
		result.fail(row.ID, err, false)
		return
	}
	if !claimed {
		metrics.TransfersAttempted.WithLabelValues("skipped").Inc()
		result.Skipped = append(result.Skipped, row.ID)
		return
	}

	// Attempts may have moved between the listing and the claim.
	p, err := s.store.GetPayout(ctx, row.ID)
	if err != nil {
		s.release(ctx, row.ID, err.Error())
		result.fail(row.ID, err, false)
		return
	}

	account, err := s.organizerAccount(ctx, p.OrganizerID, accounts)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) || errors.Is(err, errNoConnectedAccount) {
			s.reject(ctx, p, err, result)
			return
		}
		s.release(ctx, p.ID, err.Error())
		result.fail(p.ID, err, false)
		return
	}

	tr, err := s.processor.CreateTransfer(ctx, processor.TransferInput{
		Amount:         p.Amount,
		Currency:       p.Currency,
		Destination:    account,
		TransferGroup:  p.TransferGroup,
		IdempotencyKey: p.TransferIdempotencyKey(),
		Metadata: map[string]string{
			"payout_id":  p.ID,
			"payment_id": p.PaymentID,
		},
	})
	if err != nil {
		if processor.IsRejected(err) {
			s.reject(ctx, p, err, result)
			return
		}
		// Timeout or network failure: the transfer may exist. Keep the
		// attempt count so the retry replays the same idempotency key.
		metrics.TransfersAttempted.WithLabelValues("indeterminate").Inc()
		s.release(ctx, p.ID, err.Error())
		s.log.LogPayout("INDETERMINATE", p.ID, fmt.Sprintf("Transfer outcome unknown, will retry: %v", err))
		result.fail(p.ID, err, true)
		return
	}

	// The transfer exists now; record it even if the caller has gone away.
	marked, err := s.store.MarkPayoutTransferred(context.WithoutCancel(ctx), p.ID, owner, tr.ID)
	if err != nil {
		s.log.LogPayout("MARK_FAILED", p.ID, fmt.Sprintf("Transfer %s created but not recorded: %v", tr.ID, err))
		result.fail(p.ID, fmt.Errorf("transfer %s created but not recorded: %w", tr.ID, err), true)
		return
	}
	if !marked {
		s.log.LogPayout("LEASE_LOST", p.ID, fmt.Sprintf("Transfer %s created after lease expired", tr.ID))
		result.fail(p.ID, fmt.Errorf("lease expired before transfer %s was recorded", tr.ID), true)
		return
	}

	p.TransferID = tr.ID
	p.IsTransferred = true
	metrics.TransfersAttempted.WithLabelValues("transferred").Inc()
	s.log.LogPayout("TRANSFERRED", p.ID, fmt.Sprintf("Transfer %s: %d %s to %s", tr.ID, p.Amount, p.Currency, account))
	s.publish(ctx, s.opts.Topics.PayoutTransferred, p, EventPayoutTransferred)
	result.Transferred = append(result.Transferred, p.ID)
}

// reject records a definitive failure against the row.
func (s *Service) reject(ctx context.Context, p *models.Payout, cause error, result *SweepResult) {
	dead, err := s.store.RecordTransferFailure(context.WithoutCancel(ctx), p.ID, s.opts.Owner, cause.Error(), s.opts.MaxTransferAttempts)
	if err != nil {
		s.log.LogDatabase("UPDATE", "payouts", fmt.Sprintf("Failed to record rejection for %s: %v", p.ID, err))
	}
	if dead {
		metrics.TransfersAttempted.WithLabelValues("dead_lettered").Inc()
		s.log.LogPayout("DEAD_LETTER", p.ID, fmt.Sprintf("Giving up after %d attempts: %v", p.TransferAttempts+1, cause))
		result.DeadLettered = append(result.DeadLettered, p.ID)
		return
	}
	metrics.TransfersAttempted.WithLabelValues("rejected").Inc()
	s.log.LogPayout("REJECTED", p.ID, fmt.Sprintf("Transfer rejected: %v", cause))
	result.fail(p.ID, cause, false)
}

func (s *Service) release(ctx context.Context, id, reason string) {
	if err := s.store.ReleasePayout(context.WithoutCancel(ctx), id, s.opts.Owner, reason); err != nil {
		s.log.LogDatabase("UPDATE", "payouts", fmt.Sprintf("Failed to release lease on %s: %v", id, err))
	}
}

var errNoConnectedAccount = errors.New("organizer has no connected account")

func (s *Service) organizerAccount(ctx context.Context, organizerID string, cache map[string]string) (string, error) {
	if acct, ok := cache[organizerID]; ok {
		return acct, nil
	}
	org, err := s.store.GetOrganizer(ctx, organizerID)
	if err != nil {
		return "", fmt.Errorf("organizer %s: %w", organizerID, err)
	}
	if org.StripeAccountID == "" {
		return "", fmt.Errorf("organizer %s: %w", organizerID, errNoConnectedAccount)
	}
	cache[organizerID] = org.StripeAccountID
	return org.StripeAccountID, nil
}

func (r *SweepResult) fail(id string, err error, indeterminate bool) {
	r.Failed = append(r.Failed, RowFailure{PayoutID: id, Error: err.Error(), Indeterminate: indeterminate})
}

func summarize(failed []RowFailure, dead []string) error {
	if len(failed) == 0 && len(dead) == 0 {
		return nil
	}
	if len(failed) == 0 {
		return fmt.Errorf("%d payouts dead-lettered", len(dead))
	}
	first := failed[0]
	if len(failed) == 1 {
		return fmt.Errorf("payout %s: %s", first.PayoutID, first.Error)
	}
	return fmt.Errorf("%d payouts failed, first %s: %s", len(failed), first.PayoutID, first.Error)
}
