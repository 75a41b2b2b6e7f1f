// seed inserts a handful of fixture users into the local dev database so
// the scheduling pipeline can be exercised end-to-end without the
// out-of-scope CRUD API.
// Run: go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/greetingsvc/scheduler/internal/infrastructure/postgres"
)

// seedPoolConfig is deliberately small — this tool runs once and exits,
// it doesn't need the scheduler process's production pool sizing.
var seedPoolConfig = postgres.PoolConfig{
	MaxConns:          4,
	MinConns:          0,
	MaxConnLifetime:   time.Hour,
	MaxConnIdleTime:   5 * time.Minute,
	HealthCheckPeriod: 30 * time.Second,
	ConnectTimeout:    5 * time.Second,
}

type userSpec struct {
	id          string
	firstName   string
	email       string
	zone        string
	birthday    *monthDay
	anniversary *monthDay
}

type monthDay struct {
	month, day int
}

func main() {
	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	pool, err := postgres.NewPool(ctx, dbURL, seedPoolConfig)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	now := time.Now().UTC()
	today := monthDay{int(now.Month()), now.Day()}

	users := []userSpec{
		{
			id: "user_seed_utc_birthday", firstName: "Uma", email: "uma@example.test",
			zone: "UTC", birthday: &today,
		},
		{
			id: "user_seed_nyc_anniversary", firstName: "Noah", email: "noah@example.test",
			zone: "America/New_York", anniversary: &today,
		},
		{
			id: "user_seed_kiritimati_birthday", firstName: "Kiri", email: "kiri@example.test",
			zone: "Pacific/Kiritimati", birthday: &today,
		},
	}

	// A Feb-29 birthday user is only meaningful to seed when today is
	// Feb 28 in a non-leap year or Feb 29 in a leap year — otherwise the
	// daily materializer correctly skips them, which is not useful to
	// demonstrate on an arbitrary seed run.
	leapYear := time.Date(now.Year(), time.February, 29, 0, 0, 0, 0, time.UTC).Month() == time.February
	if (now.Month() == time.February && now.Day() == 28 && !leapYear) || (now.Month() == time.February && now.Day() == 29) {
		users = append(users, userSpec{
			id: "user_seed_leap_birthday", firstName: "Leif", email: "leif@example.test",
			zone: "UTC", birthday: &monthDay{2, 29},
		})
	}

	var inserted, skipped int
	for _, u := range users {
		tag, err := pool.Exec(ctx, `
			INSERT INTO users (id, first_name, email, zone, birthday_month, birthday_day, anniversary_month, anniversary_day, deleted)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false)
			ON CONFLICT (id) DO NOTHING`,
			u.id, u.firstName, u.email, u.zone,
			monthOf(u.birthday), dayOf(u.birthday),
			monthOf(u.anniversary), dayOf(u.anniversary),
		)
		if err != nil {
			log.Fatalf("insert user %s: %v", u.id, err)
		}
		if tag.RowsAffected() == 0 {
			skipped++
		} else {
			inserted++
		}
	}

	fmt.Println("Seed complete")
	fmt.Printf("  Users created: %d  (skipped %d already existing)\n", inserted, skipped)
	fmt.Println()
	fmt.Println("Run the daily materializer (or wait for its next cron tick) to see")
	fmt.Println("SCHEDULED records appear for these users' occurrences today.")
}

func monthOf(md *monthDay) *int {
	if md == nil {
		return nil
	}
	return &md.month
}

func dayOf(md *monthDay) *int {
	if md == nil {
		return nil
	}
	return &md.day
}
