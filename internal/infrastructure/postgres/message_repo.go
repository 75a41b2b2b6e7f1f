package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/greetingsvc/scheduler/internal/domain"
)

// MessageRepository is the postgres-backed domain.MessageRecord store.
// Durability and idempotency both rest on the schema, not on in-process
// locking: a partial unique index over idempotency_key WHERE status IN
// the non-terminal set is what actually prevents a duplicate SCHEDULED
// row, and every status change goes through a CAS UPDATE so two workers
// racing on the same row never both believe they own it.
type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func (r *MessageRepository) Create(ctx context.Context, rec *domain.MessageRecord) (*domain.MessageRecord, error) {
	query := `
		INSERT INTO messages (
			user_id, type, body, scheduled_at, status, retry_count, idempotency_key
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, user_id, type, body, scheduled_at, actual_sent_at, status,
		          retry_count, idempotency_key, vendor_code, vendor_body, last_error,
		          created_at, updated_at`

	row := r.pool.QueryRow(ctx, query,
		rec.UserID, rec.Type, rec.Body, rec.ScheduledAt, rec.Status, rec.RetryCount, rec.IdempotencyKey,
	)

	created, err := scanMessage(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.NewError(domain.KindConflict, "MessageRepository.Create", domain.ErrConflict)
		}
		return nil, err
	}
	return created, nil
}

func (r *MessageRepository) FindByID(ctx context.Context, id string) (*domain.MessageRecord, error) {
	query := `
		SELECT id, user_id, type, body, scheduled_at, actual_sent_at, status,
		       retry_count, idempotency_key, vendor_code, vendor_body, last_error,
		       created_at, updated_at
		FROM messages
		WHERE id = $1`

	row := r.pool.QueryRow(ctx, query, id)
	return scanMessage(row)
}

func (r *MessageRepository) FindScheduledBetween(ctx context.Context, from, to time.Time, limit int) ([]*domain.MessageRecord, error) {
	query := `
		SELECT id, user_id, type, body, scheduled_at, actual_sent_at, status,
		       retry_count, idempotency_key, vendor_code, vendor_body, last_error,
		       created_at, updated_at
		FROM messages
		WHERE status = $1 AND scheduled_at >= $2 AND scheduled_at < $3
		ORDER BY scheduled_at ASC
		LIMIT $4`

	rows, err := r.pool.Query(ctx, query, domain.StatusScheduled, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("find scheduled between: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (r *MessageRepository) FindScheduledForUser(ctx context.Context, userID string) ([]*domain.MessageRecord, error) {
	query := `
		SELECT id, user_id, type, body, scheduled_at, actual_sent_at, status,
		       retry_count, idempotency_key, vendor_code, vendor_body, last_error,
		       created_at, updated_at
		FROM messages
		WHERE user_id = $1 AND status = $2
		ORDER BY scheduled_at ASC`

	rows, err := r.pool.Query(ctx, query, userID, domain.StatusScheduled)
	if err != nil {
		return nil, fmt.Errorf("find scheduled for user: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (r *MessageRepository) FindMissed(ctx context.Context, scheduledCutoff, sendingCutoff time.Time, limit int) ([]*domain.MessageRecord, error) {
	query := `
		SELECT id, user_id, type, body, scheduled_at, actual_sent_at, status,
		       retry_count, idempotency_key, vendor_code, vendor_body, last_error,
		       created_at, updated_at
		FROM messages
		WHERE (status = $1 AND scheduled_at < $2)
		   OR (status = $3 AND updated_at < $4)
		   OR (status = $5 AND updated_at < $4)
		ORDER BY scheduled_at ASC
		LIMIT $6`

	rows, err := r.pool.Query(ctx, query,
		domain.StatusScheduled, scheduledCutoff,
		domain.StatusSending, sendingCutoff,
		domain.StatusQueued,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("find missed: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (r *MessageRepository) CheckIdempotency(ctx context.Context, key string) (*domain.MessageRecord, error) {
	query := `
		SELECT id, user_id, type, body, scheduled_at, actual_sent_at, status,
		       retry_count, idempotency_key, vendor_code, vendor_body, last_error,
		       created_at, updated_at
		FROM messages
		WHERE idempotency_key = $1 AND status = ANY($2)
		LIMIT 1`

	row := r.pool.QueryRow(ctx, query, key, nonTerminalStatuses())
	rec, err := scanMessage(row)
	if errors.Is(err, domain.ErrMessageNotFound) {
		return nil, nil
	}
	return rec, err
}

func (r *MessageRepository) TransitionStatus(ctx context.Context, id string, from, to domain.Status) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return fmt.Errorf("transition status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewError(domain.KindConflict, "MessageRepository.TransitionStatus", domain.ErrConflict)
	}
	return nil
}

func (r *MessageRepository) MarkSent(ctx context.Context, id string, sentAt time.Time, vendorCode int, vendorBody string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET    status         = $2,
		       actual_sent_at = $3,
		       vendor_code    = $4,
		       vendor_body    = $5,
		       updated_at     = NOW()
		WHERE id = $1 AND status = $6`,
		id, domain.StatusSent, sentAt, vendorCode, vendorBody, domain.StatusSending)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewError(domain.KindConflict, "MessageRepository.MarkSent", domain.ErrConflict)
	}
	return nil
}

// MarkFailed CAS-guards against the full non-terminal status set, not just
// SENDING: the recovery sweeper calls it on QUEUED rows orphaned by a worker
// that died before ever reaching SENDING, and the guard still has to reject
// a row another actor already moved to a terminal state out from under it.
func (r *MessageRepository) MarkFailed(ctx context.Context, id string, lastError string, retryable bool, maxRetries int) error {
	if !retryable {
		_, err := r.pool.Exec(ctx, `
			UPDATE messages
			SET    status     = $2,
			       last_error = $3,
			       updated_at = NOW()
			WHERE id = $1 AND status = ANY($4)`,
			id, domain.StatusFailedTerminal, lastError, nonTerminalStatuses())
		if err != nil {
			return fmt.Errorf("mark failed terminal: %w", err)
		}
		return nil
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET    status      = CASE WHEN retry_count + 1 >= $5 THEN $2 ELSE $3 END,
		       retry_count = retry_count + 1,
		       last_error  = $4,
		       updated_at  = NOW()
		WHERE id = $1 AND status = ANY($6)`,
		id, domain.StatusFailedTerminal, domain.StatusFailedRetry, lastError, maxRetries, nonTerminalStatuses())
	if err != nil {
		return fmt.Errorf("mark failed retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewError(domain.KindConflict, "MessageRepository.MarkFailed", domain.ErrConflict)
	}
	return nil
}

func (r *MessageRepository) TerminateAsRescheduled(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET    status     = $2,
		       last_error = 'RESCHEDULED',
		       updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)`,
		id, domain.StatusFailedTerminal, nonTerminalStatuses())
	if err != nil {
		return fmt.Errorf("terminate as rescheduled: %w", err)
	}
	return nil
}

func nonTerminalStatuses() []domain.Status {
	return domain.NonTerminalStatuses
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*domain.MessageRecord, error) {
	var m domain.MessageRecord
	err := row.Scan(
		&m.ID, &m.UserID, &m.Type, &m.Body, &m.ScheduledAt, &m.ActualSentAt, &m.Status,
		&m.RetryCount, &m.IdempotencyKey, &m.VendorCode, &m.VendorBody, &m.LastError,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewError(domain.KindNotFound, "MessageRepository", domain.ErrMessageNotFound)
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}
	return &m, nil
}

func scanMessages(rows pgx.Rows) ([]*domain.MessageRecord, error) {
	var out []*domain.MessageRecord
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}
