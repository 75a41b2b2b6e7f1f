// Package queue implements the durable, per-type job queue described in
// spec §4.6 as a Postgres transactional outbox — see SPEC_FULL.md §3.5 for
// why no broker client is wired instead.
package queue

import (
	"context"
	"time"

	"github.com/greetingsvc/scheduler/internal/domain"
)

// MaxPayloadBytes is the publish-time size bound spec §4.6 requires.
const MaxPayloadBytes = 1 << 20 // 1 MiB

// ClaimedJob is a job a consumer currently owns: it stays claimed until
// the consumer acks, nacks-with-requeue, or nacks-to-DLQ. No auto-ack —
// a claimed row that a crashed consumer never resolves is only recovered
// by the recovery sweeper's stuck-in-QUEUED-or-SENDING detection on the
// underlying MessageRecord, not by the queue itself re-expiring the claim.
type ClaimedJob struct {
	ClaimID string
	Job     domain.QueueJob
}

// Queue is a single per-type channel: BIRTHDAY and ANNIVERSARY each get
// their own Queue instance so one type's backlog never head-of-line
// blocks the other, per spec §4.6's "independent depth and consumer
// pools" requirement.
type Queue interface {
	// Publish durably persists job, visible for claim no earlier than
	// deliverAt. Returns only after the row is committed — the "publisher
	// confirm" spec §4.6 requires. Rejects payloads over MaxPayloadBytes.
	Publish(ctx context.Context, job domain.QueueJob, deliverAt time.Time) error

	// Claim returns up to prefetch jobs currently visible and unclaimed,
	// marking them claimed by consumerID. A claimed job is invisible to
	// every other Claim call until it is resolved.
	Claim(ctx context.Context, consumerID string, prefetch int) ([]ClaimedJob, error)

	// Ack permanently removes a successfully handled job.
	Ack(ctx context.Context, claimID string) error

	// NackRequeue releases the claim and makes the job visible again
	// after backoff, incrementing its retry count — the outbox's
	// equivalent of the broker DLX delay-requeue spec §4.6 describes.
	NackRequeue(ctx context.Context, claimID string, backoff time.Duration) error

	// NackDLQ moves the job to the dead-letter table and removes it from
	// the live queue, recording reason for forensics.
	NackDLQ(ctx context.Context, claimID, reason string) error
}

// BackoffForRetry implements spec §4.6's fixed exponential backoff
// schedule: 1s, 2s, 4s, 8s, 16s, capped at 60s.
func BackoffForRetry(retryCount int) time.Duration {
	const cap = 60 * time.Second
	if retryCount < 0 {
		retryCount = 0
	}
	delay := time.Second
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	return delay
}
