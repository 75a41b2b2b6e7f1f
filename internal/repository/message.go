package repository

import (
	"context"
	"time"

	"github.com/greetingsvc/scheduler/internal/domain"
)

// MessageStore owns the MessageRecord state machine described in spec §4.3.
// Depend on the interface, not the postgres implementation, so the
// scheduler/worker/reschedule packages stay storable against a fake in
// tests.
type MessageStore interface {
	// Create inserts a new SCHEDULED row. The backing unique index covers
	// (idempotency_key) over non-terminal statuses only, so Create returns
	// domain.ErrConflict — never a bare constraint error — when a
	// non-terminal row for the same key already exists.
	Create(ctx context.Context, rec *domain.MessageRecord) (*domain.MessageRecord, error)

	FindByID(ctx context.Context, id string) (*domain.MessageRecord, error)

	// FindScheduledBetween backs the minute enqueuer: every SCHEDULED row
	// whose scheduled_at falls in [from, to).
	FindScheduledBetween(ctx context.Context, from, to time.Time, limit int) ([]*domain.MessageRecord, error)

	// FindScheduledForUser backs RescheduleService: every SCHEDULED row
	// for userID, regardless of when it's due.
	FindScheduledForUser(ctx context.Context, userID string) ([]*domain.MessageRecord, error)

	// FindMissed backs the recovery sweeper: every SCHEDULED row whose
	// scheduled_at is older than scheduledCutoff, plus every QUEUED or
	// SENDING row whose updated_at is older than sendingCutoff (spec §4.7
	// sizes this second cutoff as 2x(send-timeout + retry-backoff sum),
	// distinct from the first because a row stuck in limbo between claim
	// and ack needs longer to be safe to presume dead than a simply-missed
	// enqueue). QUEUED is included alongside SENDING because a worker can
	// die after claiming a job but before it ever transitions the record
	// to SENDING, and that row is otherwise invisible to both the minute
	// enqueuer (no longer SCHEDULED) and the old SENDING-only sweep.
	FindMissed(ctx context.Context, scheduledCutoff, sendingCutoff time.Time, limit int) ([]*domain.MessageRecord, error)

	// CheckIdempotency reports the current non-terminal record for key, if
	// any — used by the daily materializer to skip re-creating a row that
	// already exists for today's occurrence.
	CheckIdempotency(ctx context.Context, key string) (*domain.MessageRecord, error)

	// TransitionStatus performs a compare-and-set: it succeeds only if the
	// row's current status equals from, and reports domain.ErrConflict
	// (not a panic or silent no-op) when another actor already moved it.
	TransitionStatus(ctx context.Context, id string, from, to domain.Status) error

	// MarkSent records a successful vendor delivery: sets status SENT,
	// actual_sent_at to sentAt, and the vendor's response code/body.
	MarkSent(ctx context.Context, id string, sentAt time.Time, vendorCode int, vendorBody string) error

	// MarkFailed records a failed attempt. When retryable and retryCount
	// has not exhausted the configured cap, the row lands in FAILED_RETRY
	// with retry_count incremented; otherwise it lands in FAILED_TERMINAL.
	MarkFailed(ctx context.Context, id string, lastError string, retryable bool, maxRetries int) error

	// TerminateAsRescheduled CAS-transitions a non-terminal row straight to
	// FAILED_TERMINAL with a fixed "RESCHEDULED" reason — used when a
	// profile change invalidates an already-scheduled occurrence.
	TerminateAsRescheduled(ctx context.Context, id string) error
}
