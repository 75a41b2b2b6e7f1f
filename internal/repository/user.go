package repository

import (
	"context"

	"github.com/greetingsvc/scheduler/internal/domain"
)

// UserStore is the core's read-only view onto the out-of-scope profile
// CRUD layer described in spec §1's Non-goals — no create/update/delete
// here, only the lookups the materializer and reschedule service need.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)

	// FindBirthdayToday and FindAnniversaryToday back the daily
	// materializer: every non-deleted user whose birthday/anniversary,
	// evaluated in the user's own zone, falls on "today" somewhere in the
	// window the materializer's cron cadence covers. Implementations
	// over-select by stored (month, day) and let the timezone package's
	// IsAnniversaryToday do the final per-user, zone-aware filter.
	FindBirthdayToday(ctx context.Context, limit int) ([]*domain.User, error)
	FindAnniversaryToday(ctx context.Context, limit int) ([]*domain.User, error)
}
