// Package scheduler runs periodic ledger jobs such as the sweep and the
// reconciliation when the service is not triggered externally.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ms-payouts/internal/logger"
)

type Job struct {
	Name string
	// Interval 0 disables the job.
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Scheduler struct {
	jobs []Job
	log  *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(log *logger.Logger, jobs ...Job) *Scheduler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Scheduler{jobs: jobs, log: log}
}

// Start launches one goroutine per enabled job. It returns the number started.
func (s *Scheduler) Start(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return 0
	}
	ctx, s.cancel = context.WithCancel(ctx)

	started := 0
	for _, job := range s.jobs {
		if job.Interval <= 0 || job.Run == nil {
			s.log.Info("SCHEDULER", fmt.Sprintf("Job %s disabled", job.Name))
			continue
		}
		started++
		s.wg.Add(1)
		go s.loop(ctx, job)
		s.log.Info("SCHEDULER", fmt.Sprintf("Job %s every %s", job.Name, job.Interval))
	}
	return started
}

// Stop cancels every job and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, job)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("SCHEDULER", fmt.Sprintf("Job %s panicked: %v", job.Name, r))
		}
	}()
	if err := job.Run(ctx); err != nil {
		s.log.Warn("SCHEDULER", fmt.Sprintf("Job %s: %v", job.Name, err))
	}
}
