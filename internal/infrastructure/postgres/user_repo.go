package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/greetingsvc/scheduler/internal/domain"
)

// UserRepository is the core's read-only view onto the profile table the
// out-of-scope CRUD service owns. It never writes birthday, anniversary,
// or zone — only reads them for the daily materializer and reschedule
// notifications.
//
// FindBirthdayToday/FindAnniversaryToday over-select by a day on either
// side of UTC-today (a user in UTC+14 can already be "tomorrow" while one
// in UTC-12 is still "yesterday") and leave the exact zone-local match to
// the timezone package, so a single partial index on (birthday_month,
// birthday_day) WHERE deleted = false covers every zone without per-zone
// branching in SQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	query := `
		SELECT id, first_name, email, zone, birthday_month, birthday_day,
		       anniversary_month, anniversary_day, deleted
		FROM users
		WHERE id = $1`

	row := r.pool.QueryRow(ctx, query, id)
	return scanUser(row)
}

func (r *UserRepository) FindBirthdayToday(ctx context.Context, limit int) ([]*domain.User, error) {
	return r.findByMonthDayWindow(ctx, "birthday_month", "birthday_day", limit)
}

func (r *UserRepository) FindAnniversaryToday(ctx context.Context, limit int) ([]*domain.User, error) {
	return r.findByMonthDayWindow(ctx, "anniversary_month", "anniversary_day", limit)
}

func (r *UserRepository) findByMonthDayWindow(ctx context.Context, monthCol, dayCol string, limit int) ([]*domain.User, error) {
	now := time.Now().UTC()
	yesterday := now.AddDate(0, 0, -1)
	tomorrow := now.AddDate(0, 0, 1)

	query := fmt.Sprintf(`
		SELECT id, first_name, email, zone, birthday_month, birthday_day,
		       anniversary_month, anniversary_day, deleted
		FROM users
		WHERE deleted = false
		  AND (
		        (%[1]s = $1 AND %[2]s = $2) OR
		        (%[1]s = $3 AND %[2]s = $4) OR
		        (%[1]s = $5 AND %[2]s = $6)
		      )
		LIMIT $7`, monthCol, dayCol)

	rows, err := r.pool.Query(ctx, query,
		int(yesterday.Month()), yesterday.Day(),
		int(now.Month()), now.Day(),
		int(tomorrow.Month()), tomorrow.Day(),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("find users by %s window: %w", monthCol, err)
	}
	defer rows.Close()

	var out []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u                                     domain.User
		birthdayMonth, anniversaryMonth       *int
		birthdayDay, anniversaryDay           *int
	)

	err := row.Scan(
		&u.ID, &u.FirstName, &u.Email, &u.Zone,
		&birthdayMonth, &birthdayDay,
		&anniversaryMonth, &anniversaryDay,
		&u.Deleted,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewError(domain.KindNotFound, "UserRepository", domain.ErrUserNotFound)
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	if birthdayMonth != nil && birthdayDay != nil {
		u.Birthday = &domain.CalendarDate{Month: time.Month(*birthdayMonth), Day: *birthdayDay}
	}
	if anniversaryMonth != nil && anniversaryDay != nil {
		u.Anniversary = &domain.CalendarDate{Month: time.Month(*anniversaryMonth), Day: *anniversaryDay}
	}

	return &u, nil
}
