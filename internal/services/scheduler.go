package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/rtolen/vairify-dev-sub001/internal/metrics"
	"github.com/rtolen/vairify-dev-sub001/internal/models"
	"github.com/rtolen/vairify-dev-sub001/pkg/clock"
	"github.com/rtolen/vairify-dev-sub001/pkg/config"
	"golang.org/x/sync/errgroup"
)

// reconcileEvery is how many sweeps pass between reconciliations while
// running.
const reconcileEvery = 60

// TimeoutHandler advances a session whose deadline fired. *Lifecycle
// implements it.
type TimeoutHandler interface {
	SchedulerTimeout(ctx context.Context, sessionID uuid.UUID) (*models.Session, error)
}

// EscalationRedeliverer retries escalation notices that never went out.
// *Lifecycle implements it.
type EscalationRedeliverer interface {
	RedeliverEscalations(ctx context.Context) (int, error)
}

// MonitoredSessionLister lists sessions by state for reconciliation.
type MonitoredSessionLister interface {
	ListSessionsInStates(ctx context.Context, states []models.State, limit, offset int) ([]*models.Session, int64, error)
}

// Scheduler fires session deadlines from the durable queue.
//
// Each sweep reads the due deadlines, claims each one (only one sweeper
// anywhere wins a claim), and hands the claimed sessions to the lifecycle
// with bounded parallelism. Deadlines are absolute times, so a sweep that
// runs late still applies every overdue step. After a transient failure
// the deadline is put back; a deadline for a session the store does not
// know is dropped.
type Scheduler struct {
	queue     DeadlineQueue
	sessions  MonitoredSessionLister
	timeouts  TimeoutHandler
	redeliver EscalationRedeliverer
	clock     clock.Clock
	interval  time.Duration
	batchSize int
	workers   int
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithEscalationRedelivery makes reconciliation resend missing escalation
// notices through r.
func WithEscalationRedelivery(r EscalationRedeliverer) SchedulerOption {
	return func(s *Scheduler) { s.redeliver = r }
}

// NewScheduler creates a Scheduler from the escort config.
func NewScheduler(queue DeadlineQueue, sessions MonitoredSessionLister, timeouts TimeoutHandler, clk clock.Clock, cfg config.EscortConfig, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		queue:     queue,
		sessions:  sessions,
		timeouts:  timeouts,
		clock:     clk,
		interval:  cfg.SweepInterval,
		batchSize: cfg.SweepBatchSize,
		workers:   cfg.Concurrency,
	}
	if s.interval <= 0 {
		s.interval = 5 * time.Second
	}
	if s.batchSize <= 0 {
		s.batchSize = 100
	}
	if s.workers <= 0 {
		s.workers = 1
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Due       int
	Claimed   int
	Processed int
	Retried   int
	Dropped   int
}

// Run reconciles, then sweeps every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if _, err := s.Reconcile(ctx); err != nil {
		log.Error().Err(err).Msg("Initial deadline reconciliation failed")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Int("workers", s.workers).Msg("Escalation scheduler started")

	sweeps := 0
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Escalation scheduler stopped")
			return
		case <-ticker.C:
		}

		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Deadline sweep failed")
		}

		sweeps++
		if sweeps%reconcileEvery == 0 {
			if _, err := s.Reconcile(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Deadline reconciliation failed")
			}
		}
	}
}

// SweepOnce processes every deadline due now, up to the batch size.
func (s *Scheduler) SweepOnce(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	defer func() { metrics.ObserveSweep(time.Since(start)) }()

	due, err := s.queue.DueDeadlines(ctx, s.clock.Now(), int64(s.batchSize))
	if err != nil {
		return SweepResult{}, err
	}

	result := SweepResult{Due: len(due)}
	outcomes := make([]string, len(due))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i, d := range due {
		claimed, err := s.queue.ClaimDeadline(ctx, d)
		if err != nil {
			log.Warn().Err(err).Str("session_id", d.SessionID.String()).Msg("Failed to claim deadline")
			outcomes[i] = "claim_error"
			continue
		}
		if !claimed {
			outcomes[i] = "lost_claim"
			continue
		}
		result.Claimed++

		g.Go(func() error {
			outcomes[i] = s.fire(gctx, d)
			return nil
		})
	}
	_ = g.Wait()

	for _, outcome := range outcomes {
		metrics.RecordDeadline(outcome)
		switch outcome {
		case "processed":
			result.Processed++
		case "retried":
			result.Retried++
		case "dropped":
			result.Dropped++
		}
	}

	if pending, err := s.queue.PendingDeadlines(ctx); err == nil {
		metrics.SetPendingDeadlines(pending)
	}

	if result.Due > 0 {
		log.Debug().
			Int("due", result.Due).
			Int("claimed", result.Claimed).
			Int("processed", result.Processed).
			Int("retried", result.Retried).
			Int("dropped", result.Dropped).
			Msg("Deadline sweep complete")
	}

	return result, nil
}

// fire applies one claimed deadline and returns the metric outcome.
func (s *Scheduler) fire(ctx context.Context, d models.Deadline) string {
	session, err := s.timeouts.SchedulerTimeout(ctx, d.SessionID)
	if err != nil {
		var integrity *IntegrityError
		if errors.As(err, &integrity) {
			log.Error().
				Err(err).
				Str("session_id", d.SessionID.String()).
				Str("phase", string(d.Phase)).
				Msg("Dropping deadline for inconsistent session")
			return "dropped"
		}

		log.Warn().
			Err(err).
			Str("session_id", d.SessionID.String()).
			Str("phase", string(d.Phase)).
			Msg("Deadline processing failed, re-queueing")

		retry := d
		retry.At = s.clock.Now().Add(s.interval)
		if err := s.queue.ScheduleDeadline(context.WithoutCancel(ctx), retry); err != nil {
			log.Error().Err(err).Str("session_id", d.SessionID.String()).Msg("Failed to re-queue deadline")
		}
		return "retried"
	}

	// A deadline fired early (or only the first of two steps was due)
	// leaves work behind; put the remaining deadlines back.
	for _, next := range models.DeadlinesFor(session) {
		if err := s.queue.ScheduleDeadline(ctx, next); err != nil {
			log.Error().Err(err).Str("session_id", d.SessionID.String()).Msg("Failed to re-queue remaining deadline")
		}
	}
	return "processed"
}

// Reconcile re-enqueues the deadlines of every session still in its
// monitoring window, then resends escalation notices that never went out.
// Enqueueing is idempotent, so it is safe to run while sweeps are in
// progress. Returns the number of monitored sessions.
func (s *Scheduler) Reconcile(ctx context.Context) (int, error) {
	states := []models.State{models.StateActive, models.StateBufferGrace}

	count := 0
	for offset := 0; ; offset += s.batchSize {
		sessions, total, err := s.sessions.ListSessionsInStates(ctx, states, s.batchSize, offset)
		if err != nil {
			return count, err
		}

		for _, session := range sessions {
			for _, d := range models.DeadlinesFor(session) {
				if err := s.queue.ScheduleDeadline(ctx, d); err != nil {
					return count, err
				}
			}
			count++
		}

		if len(sessions) == 0 || int64(offset+len(sessions)) >= total {
			break
		}
	}

	metrics.SetMonitoredSessions(int64(count))
	log.Info().Int("sessions", count).Msg("Deadlines reconciled")

	if s.redeliver != nil {
		sent, err := s.redeliver.RedeliverEscalations(ctx)
		if err != nil {
			return count, err
		}
		if sent > 0 {
			log.Warn().Int("sessions", sent).Msg("Escalation notices redelivered")
		}
	}
	return count, nil
}
