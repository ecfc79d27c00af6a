package payout

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ms-payouts/internal/metrics"
	"ms-payouts/internal/models"

	"golang.org/x/sync/errgroup"
)

const (
	opReconcile   = "reconcile"
	lockReconcile = "reconcile"
)

type ReconcileResult struct {
	Scanned   int      `json:"scanned"`
	Confirmed []string `json:"confirmed"`
	Reverted  []string `json:"reverted"`
	// DeadLettered lists reverted rows that used their last attempt.
	DeadLettered []string     `json:"deadLettered"`
	Pending      []string     `json:"pending"`
	Skipped      []string     `json:"skipped"`
	Failed       []RowFailure `json:"failed"`
}

func (r *ReconcileResult) Err() error {
	return summarize(r.Failed, r.DeadLettered)
}

type reconcileOutcome int

const (
	outcomeConfirmed reconcileOutcome = iota
	outcomeReverted
	outcomeDeadLettered
	outcomePending
	outcomeSkipped
	outcomeFailed
)

// Reconcile brings transferred payouts in line with the processor. A
// succeeded transfer is confirmed, a failed one returns the payout to the
// sweep pool and a pending one is left alone. Rows are checked concurrently
// and a lookup error on one row does not stop the others.
func (s *Service) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	started := time.Now()
	result := &ReconcileResult{
		Confirmed:    []string{},
		Reverted:     []string{},
		DeadLettered: []string{},
		Pending:      []string{},
		Skipped:      []string{},
		Failed:       []RowFailure{},
	}

	ok, err := s.withRunLock(ctx, lockReconcile, func() error {
		rows, err := s.store.ListTransferredPayouts(ctx, s.opts.BatchSize)
		if err != nil {
			return newError(KindPersistence, opReconcile, "Failed to load transferred payouts", err)
		}
		result.Scanned = len(rows)
		s.log.LogProcess("RECONCILE", fmt.Sprintf("Checking %d transfers", len(rows)))

		var mu sync.Mutex
		var g errgroup.Group
		g.SetLimit(s.opts.ReconcileConcurrency)
		for i := range rows {
			p := rows[i]
			g.Go(func() error {
				outcome, err := s.reconcileOne(ctx, &p)
				mu.Lock()
				defer mu.Unlock()
				result.add(p.ID, outcome, err)
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newError(KindConflict, opReconcile, "A reconciliation is already running", nil)
	}

	result.sort()
	metrics.RunDuration.WithLabelValues(opReconcile).Observe(time.Since(started).Seconds())
	s.log.LogProcess("RECONCILE", fmt.Sprintf("Reconcile done: %d confirmed, %d reverted, %d dead-lettered, %d pending, %d failed",
		len(result.Confirmed), len(result.Reverted), len(result.DeadLettered), len(result.Pending), len(result.Failed)))
	return result, nil
}

func (s *Service) reconcileOne(ctx context.Context, p *models.Payout) (reconcileOutcome, error) {
	if err := ctx.Err(); err != nil {
		return outcomeFailed, err
	}

	tr, err := s.processor.GetTransfer(ctx, p.TransferID)
	if err != nil {
		metrics.TransfersReconciled.WithLabelValues("failed").Inc()
		s.log.LogPayout("RECONCILE_ERROR", p.ID, fmt.Sprintf("Error checking transfer %s: %v", p.TransferID, err))
		return outcomeFailed, err
	}

	switch tr.Status {
	case models.TransferSucceeded:
		ok, err := s.store.ConfirmTransfer(ctx, p.ID, p.TransferID)
		if err != nil {
			metrics.TransfersReconciled.WithLabelValues("failed").Inc()
			return outcomeFailed, err
		}
		if !ok {
			return outcomeSkipped, nil
		}
		metrics.TransfersReconciled.WithLabelValues("confirmed").Inc()
		s.log.LogPayout("CONFIRMED", p.ID, fmt.Sprintf("Transfer %s succeeded", p.TransferID))
		return outcomeConfirmed, nil

	case models.TransferFailed:
		reason := fmt.Sprintf("transfer %s failed at processor", p.TransferID)
		ok, dead, err := s.store.RevertTransfer(ctx, p.ID, p.TransferID, reason, s.opts.MaxTransferAttempts)
		if err != nil {
			metrics.TransfersReconciled.WithLabelValues("failed").Inc()
			return outcomeFailed, err
		}
		if !ok {
			return outcomeSkipped, nil
		}
		s.publish(ctx, s.opts.Topics.PayoutReverted, p, EventPayoutReverted)
		if dead {
			metrics.TransfersReconciled.WithLabelValues("dead_lettered").Inc()
			s.log.LogPayout("DEAD_LETTER", p.ID, fmt.Sprintf("Transfer %s failed, giving up after %d attempts", p.TransferID, p.TransferAttempts+1))
			return outcomeDeadLettered, nil
		}
		metrics.TransfersReconciled.WithLabelValues("reverted").Inc()
		s.log.LogPayout("REVERTED", p.ID, fmt.Sprintf("Transfer %s failed, payout returned to sweep", p.TransferID))
		return outcomeReverted, nil

	default:
		metrics.TransfersReconciled.WithLabelValues("pending").Inc()
		return outcomePending, nil
	}
}

func (r *ReconcileResult) add(id string, outcome reconcileOutcome, err error) {
	switch outcome {
	case outcomeConfirmed:
		r.Confirmed = append(r.Confirmed, id)
	case outcomeReverted:
		r.Reverted = append(r.Reverted, id)
	case outcomeDeadLettered:
		r.DeadLettered = append(r.DeadLettered, id)
	case outcomePending:
		r.Pending = append(r.Pending, id)
	case outcomeSkipped:
		r.Skipped = append(r.Skipped, id)
	default:
		msg := "unknown error"
		if err != nil {
			msg = err.Error()
		}
		r.Failed = append(r.Failed, RowFailure{PayoutID: id, Error: msg})
	}
}

func (r *ReconcileResult) sort() {
	sort.Strings(r.Confirmed)
	sort.Strings(r.Reverted)
	sort.Strings(r.DeadLettered)
	sort.Strings(r.Pending)
	sort.Strings(r.Skipped)
	sort.Slice(r.Failed, func(i, j int) bool { return r.Failed[i].PayoutID < r.Failed[j].PayoutID })
}
