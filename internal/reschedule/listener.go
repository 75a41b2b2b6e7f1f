package reschedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// notifyChannel is the Postgres NOTIFY channel the out-of-scope CRUD layer
// publishes on when a user's zone, birthday, anniversary, or deleted flag
// changes. The payload is the bare user id — per Reschedule's own doc
// comment, the service always reloads current state rather than trusting
// the notification body.
const notifyChannel = "scheduler_user_changed"

// Listener subscribes to notifyChannel on a dedicated connection and
// invokes Service.Reschedule for every user id it receives. The exact
// wire contract the CRUD layer uses to reach the core is out of scope;
// Postgres LISTEN/NOTIFY is this deployment's choice since both sides
// already share the same database.
type Listener struct {
	pool    *pgxpool.Pool
	service *Service
	logger  *slog.Logger
}

func NewListener(pool *pgxpool.Pool, service *Service, logger *slog.Logger) *Listener {
	return &Listener{pool: pool, service: service, logger: logger.With("component", "reschedule_listener")}
}

// Start holds a dedicated connection open for LISTEN and reconnects with a
// short backoff if the connection drops, for as long as ctx is live.
func (l *Listener) Start(ctx context.Context) {
	l.logger.Info("reschedule listener started", "channel", notifyChannel)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("reschedule listener shut down")
			return
		default:
		}

		if err := l.listenOnce(ctx); err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			l.logger.Error("listen connection failed, retrying", "error", err)
			time.Sleep(time.Second)
		}
	}
}

func (l *Listener) listenOnce(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}

		userID := notification.Payload
		if err := l.service.Reschedule(ctx, userID); err != nil {
			l.logger.Error("reschedule failed", "user_id", userID, "error", err)
		}
	}
}
