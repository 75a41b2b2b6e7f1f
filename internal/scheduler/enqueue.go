package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/greetingsvc/scheduler/internal/backpressure"
	"github.com/greetingsvc/scheduler/internal/domain"
	"github.com/greetingsvc/scheduler/internal/metrics"
	"github.com/greetingsvc/scheduler/internal/queue"
	"github.com/greetingsvc/scheduler/internal/repository"
)

// MinuteEnqueuer runs every 60s, moving SCHEDULED records whose send
// instant falls within the lookahead window onto the durable queue.
type MinuteEnqueuer struct {
	messages   repository.MessageStore
	queues     map[domain.MessageType]queue.Queue
	gate       *backpressure.Gate
	queueGate  ConnectivityGate
	logger     *slog.Logger
	interval   time.Duration
	lookahead  time.Duration
	status     *LoopStatus
	batchLimit int
}

// queueGate may be nil; when set, a flapping queue connection skips the
// whole pass rather than publish into a dependency that's still bouncing.
func NewMinuteEnqueuer(messages repository.MessageStore, queues map[domain.MessageType]queue.Queue, gate *backpressure.Gate, queueGate ConnectivityGate, interval, lookahead time.Duration, logger *slog.Logger) *MinuteEnqueuer {
	return &MinuteEnqueuer{
		messages:   messages,
		queues:     queues,
		gate:       gate,
		queueGate:  queueGate,
		logger:     logger.With("component", "minute_enqueuer"),
		interval:   interval,
		lookahead:  lookahead,
		status:     newLoopStatus("minute_enqueuer", interval),
		batchLimit: 500,
	}
}

func (e *MinuteEnqueuer) Start(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info("minute enqueuer started", "interval", e.interval, "lookahead", e.lookahead)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("minute enqueuer shut down")
			return
		case <-ticker.C:
			e.runOnce(ctx)
		}
	}
}

func (e *MinuteEnqueuer) runOnce(ctx context.Context) {
	if e.gate != nil && e.gate.IsPaused(ctx) {
		e.logger.Warn("intake paused by backpressure gate, skipping pass")
		return
	}
	if e.queueGate != nil && e.queueGate.IsFlapping() {
		e.logger.Warn("queue connectivity flapping, skipping pass")
		return
	}

	now := time.Now()
	records, err := e.messages.FindScheduledBetween(ctx, now, now.Add(e.lookahead), e.batchLimit)
	if err != nil {
		e.logger.Error("find scheduled between failed", "error", err)
		e.status.recordFailure(now, err)
		return
	}

	var published, failed int
	for _, rec := range records {
		if e.enqueueOne(ctx, rec) {
			published++
		} else {
			failed++
		}
	}

	if published > 0 || failed > 0 {
		e.logger.Info("minute enqueuer pass complete", "published", published, "failed", failed)
	}
	e.status.recordSuccess(now)
}

func (e *MinuteEnqueuer) enqueueOne(ctx context.Context, rec *domain.MessageRecord) bool {
	q, ok := e.queues[rec.Type]
	if !ok {
		e.logger.Error("no queue configured for message type", "type", rec.Type, "message_id", rec.ID)
		return false
	}

	// CAS: only one enqueuer pass (this replica or another) may win the
	// SCHEDULED -> QUEUED transition for a given record.
	if err := e.messages.TransitionStatus(ctx, rec.ID, domain.StatusScheduled, domain.StatusQueued); err != nil {
		if domain.KindOf(err) == domain.KindConflict {
			return false
		}
		e.logger.Error("transition to queued failed", "message_id", rec.ID, "error", err)
		metrics.EnqueuerFailedTotal.WithLabelValues(string(rec.Type)).Inc()
		return false
	}

	job := domain.QueueJob{
		MessageID:      rec.ID,
		UserID:         rec.UserID,
		MessageType:    rec.Type,
		RetryCount:     rec.RetryCount,
		IdempotencyKey: rec.IdempotencyKey,
	}

	deliverAt := rec.ScheduledAt
	if deliverAt.Before(time.Now()) {
		deliverAt = time.Now()
	}

	if err := q.Publish(ctx, job, deliverAt); err != nil {
		e.logger.Error("publish failed, reverting to scheduled", "message_id", rec.ID, "error", err)
		// Publish failed after the CAS already moved the row to QUEUED —
		// revert so the next tick or the recovery sweeper picks it back up
		// rather than stranding it in QUEUED with nothing on the queue.
		if revertErr := e.messages.TransitionStatus(ctx, rec.ID, domain.StatusQueued, domain.StatusScheduled); revertErr != nil {
			e.logger.Error("revert to scheduled failed", "message_id", rec.ID, "error", revertErr)
		}
		metrics.EnqueuerFailedTotal.WithLabelValues(string(rec.Type)).Inc()
		return false
	}

	metrics.EnqueuerPublishedTotal.WithLabelValues(string(rec.Type)).Inc()
	return true
}

func (e *MinuteEnqueuer) Status() Snapshot {
	return e.status.snapshot()
}
