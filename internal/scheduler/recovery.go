package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/greetingsvc/scheduler/internal/domain"
	"github.com/greetingsvc/scheduler/internal/metrics"
	"github.com/greetingsvc/scheduler/internal/repository"
)

// RecoverySweeper runs every 10 minutes (configurable), rescuing records
// that fell through the minute enqueuer's window or got orphaned in
// SENDING by a worker that died mid-attempt.
type RecoverySweeper struct {
	messages      repository.MessageStore
	logger        *slog.Logger
	interval      time.Duration
	grace         time.Duration
	sendingStale  time.Duration
	maxRetries    int
	status        *LoopStatus
	batchLimit    int
}

// NewRecoverySweeper's sendingStale implements spec §4.7's "2 x (send-timeout
// + retry-backoff sum)" rule for presuming a SENDING record orphaned.
func NewRecoverySweeper(messages repository.MessageStore, interval, grace, sendingStale time.Duration, maxRetries int, logger *slog.Logger) *RecoverySweeper {
	return &RecoverySweeper{
		messages:     messages,
		logger:       logger.With("component", "recovery_sweeper"),
		interval:     interval,
		grace:        grace,
		sendingStale: sendingStale,
		maxRetries:   maxRetries,
		status:       newLoopStatus("recovery_sweeper", interval),
		batchLimit:   500,
	}
}

func (s *RecoverySweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("recovery sweeper started", "interval", s.interval, "grace", s.grace)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("recovery sweeper shut down")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *RecoverySweeper) runOnce(ctx context.Context) {
	now := time.Now()
	scheduledCutoff := now.Add(-s.grace)
	sendingCutoff := now.Add(-s.sendingStale)

	missed, err := s.messages.FindMissed(ctx, scheduledCutoff, sendingCutoff, s.batchLimit)
	if err != nil {
		s.logger.Error("find missed failed", "error", err)
		s.status.recordFailure(now, err)
		return
	}

	var recovered, terminated, failed int
	for _, rec := range missed {
		switch {
		case rec.Status == domain.StatusScheduled:
			// Record never got picked up by the minute enqueuer — nothing
			// to transition, it's already SCHEDULED; log so an operator
			// can see the lag if it recurs.
			recovered++
		case rec.Status == domain.StatusSending:
			if rec.RetryCount < s.maxRetries {
				if err := s.messages.TransitionStatus(ctx, rec.ID, domain.StatusSending, domain.StatusScheduled); err != nil {
					if domain.KindOf(err) != domain.KindConflict {
						s.logger.Error("recover stuck-in-sending failed", "message_id", rec.ID, "error", err)
						failed++
					}
					continue
				}
				recovered++
				metrics.RecoveryRescuedTotal.WithLabelValues("recovered").Inc()
			} else {
				if err := s.messages.MarkFailed(ctx, rec.ID, "orphaned in SENDING past retry budget", false, s.maxRetries); err != nil {
					s.logger.Error("terminate stuck-in-sending failed", "message_id", rec.ID, "error", err)
					failed++
					continue
				}
				terminated++
				metrics.RecoveryRescuedTotal.WithLabelValues("terminated").Inc()
			}
		case rec.Status == domain.StatusQueued:
			// A worker claimed the job but died before TransitionStatus to
			// SENDING ever landed — the row is stuck between claim and ack
			// with nothing else watching it (see ClaimedJob's doc comment).
			if rec.RetryCount < s.maxRetries {
				if err := s.messages.TransitionStatus(ctx, rec.ID, domain.StatusQueued, domain.StatusScheduled); err != nil {
					if domain.KindOf(err) != domain.KindConflict {
						s.logger.Error("recover stuck-in-queued failed", "message_id", rec.ID, "error", err)
						failed++
					}
					continue
				}
				recovered++
				metrics.RecoveryRescuedTotal.WithLabelValues("recovered").Inc()
			} else {
				if err := s.messages.MarkFailed(ctx, rec.ID, "orphaned in QUEUED past retry budget", false, s.maxRetries); err != nil {
					s.logger.Error("terminate stuck-in-queued failed", "message_id", rec.ID, "error", err)
					failed++
					continue
				}
				terminated++
				metrics.RecoveryRescuedTotal.WithLabelValues("terminated").Inc()
			}
		}
	}

	if recovered > 0 || terminated > 0 || failed > 0 {
		s.logger.Info("recovery sweeper pass complete", "recovered", recovered, "terminated", terminated, "failed", failed)
	}
	s.status.recordSuccess(now)
}

func (s *RecoverySweeper) Status() Snapshot {
	return s.status.snapshot()
}
