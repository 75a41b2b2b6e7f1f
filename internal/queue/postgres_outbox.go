package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/greetingsvc/scheduler/internal/domain"
)

// PostgresOutbox is a Queue backed by one Postgres table per message
// type, claimed with FOR UPDATE SKIP LOCKED so concurrent worker-pool
// consumers never double-claim a row — the same pattern the teacher's
// job_repo.go uses for job claiming and Geocoder89's jobs_repo.go uses
// for ClaimNext.
type PostgresOutbox struct {
	pool      *pgxpool.Pool
	table     string // e.g. "queue_jobs_birthday"
	queueName string // "birthday" or "anniversary" — stamped as OriginQueue
}

func NewPostgresOutbox(pool *pgxpool.Pool, table, queueName string) *PostgresOutbox {
	return &PostgresOutbox{pool: pool, table: table, queueName: queueName}
}

func (q *PostgresOutbox) Publish(ctx context.Context, job domain.QueueJob, deliverAt time.Time) error {
	job.OriginQueue = q.queueName

	payload, err := json.Marshal(job)
	if err != nil {
		return domain.NewError(domain.KindInternal, "PostgresOutbox.Publish", fmt.Errorf("marshal job: %w", err))
	}
	if len(payload) > MaxPayloadBytes {
		return domain.NewError(domain.KindValidation, "PostgresOutbox.Publish", fmt.Errorf("job payload is %d bytes, exceeds %d byte bound", len(payload), MaxPayloadBytes))
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			message_id, user_id, message_type, retry_count, idempotency_key,
			origin_queue, payload, visible_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, q.table)

	_, err = q.pool.Exec(ctx, query,
		job.MessageID, job.UserID, job.MessageType, job.RetryCount, job.IdempotencyKey,
		job.OriginQueue, payload, deliverAt,
	)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", q.table, err)
	}
	return nil
}

func (q *PostgresOutbox) Claim(ctx context.Context, consumerID string, prefetch int) ([]ClaimedJob, error) {
	query := fmt.Sprintf(`
		UPDATE %[1]s
		SET    claimed_by = $1, claimed_at = NOW()
		WHERE id IN (
			SELECT id FROM %[1]s
			WHERE  claimed_by IS NULL AND visible_at <= NOW()
			ORDER BY visible_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, payload, retry_count`, q.table)

	rows, err := q.pool.Query(ctx, query, consumerID, prefetch)
	if err != nil {
		return nil, fmt.Errorf("claim from %s: %w", q.table, err)
	}
	defer rows.Close()

	var out []ClaimedJob
	for rows.Next() {
		var id string
		var payload []byte
		var retryCount int
		if err := rows.Scan(&id, &payload, &retryCount); err != nil {
			return nil, fmt.Errorf("scan claimed job: %w", err)
		}
		var job domain.QueueJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return nil, fmt.Errorf("unmarshal claimed job %s: %w", id, err)
		}
		// The payload keeps the count from publish time; NackRequeue only
		// increments the column, so the column is authoritative.
		job.RetryCount = retryCount
		out = append(out, ClaimedJob{ClaimID: id, Job: job})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed jobs: %w", err)
	}
	return out, nil
}

func (q *PostgresOutbox) Ack(ctx context.Context, claimID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, q.table)
	_, err := q.pool.Exec(ctx, query, claimID)
	if err != nil {
		return fmt.Errorf("ack %s: %w", q.table, err)
	}
	return nil
}

func (q *PostgresOutbox) NackRequeue(ctx context.Context, claimID string, backoff time.Duration) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET    claimed_by  = NULL,
		       claimed_at  = NULL,
		       visible_at  = NOW() + $2::interval,
		       retry_count = retry_count + 1
		WHERE id = $1`, q.table)

	_, err := q.pool.Exec(ctx, query, claimID, backoff.String())
	if err != nil {
		return fmt.Errorf("nack-requeue %s: %w", q.table, err)
	}
	return nil
}

func (q *PostgresOutbox) NackDLQ(ctx context.Context, claimID, reason string) error {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin dlq tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	insertQuery := fmt.Sprintf(`
		INSERT INTO queue_dead_letters (
			origin_queue, message_id, user_id, message_type, retry_count,
			idempotency_key, reason, payload
		)
		SELECT origin_queue, message_id, user_id, message_type, retry_count,
		       idempotency_key, $2, payload
		FROM %s WHERE id = $1`, q.table)

	if _, err := tx.Exec(ctx, insertQuery, claimID, reason); err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}

	deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, q.table)
	if _, err := tx.Exec(ctx, deleteQuery, claimID); err != nil {
		return fmt.Errorf("delete from %s after dlq: %w", q.table, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit dlq tx: %w", err)
	}
	return nil
}
