package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/greetingsvc/scheduler/internal/domain"
	"github.com/greetingsvc/scheduler/internal/idempotency"
	"github.com/greetingsvc/scheduler/internal/metrics"
	"github.com/greetingsvc/scheduler/internal/repository"
	"github.com/greetingsvc/scheduler/internal/timezone"
)

// DailyMaterializer runs on the cron cadence spec §4.7 allows (any
// interval ≤ 6h), and for every user whose birthday or anniversary is
// "today" in their own zone, creates a SCHEDULED MessageRecord — unless
// one already exists for that occurrence.
type DailyMaterializer struct {
	users    repository.UserStore
	messages repository.MessageStore
	peek     *idempotency.PeekCache
	logger   *slog.Logger
	schedule cron.Schedule
	status   *LoopStatus

	batchLimit int
}

func NewDailyMaterializer(users repository.UserStore, messages repository.MessageStore, peek *idempotency.PeekCache, cronExpr string, logger *slog.Logger) (*DailyMaterializer, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, domain.NewError(domain.KindValidation, "NewDailyMaterializer", err)
	}

	return &DailyMaterializer{
		users:      users,
		messages:   messages,
		peek:       peek,
		logger:     logger.With("component", "daily_materializer"),
		schedule:   schedule,
		status:     newLoopStatus("daily_materializer", 6*time.Hour),
		batchLimit: 1000,
	}, nil
}

func (m *DailyMaterializer) Start(ctx context.Context) {
	m.logger.Info("daily materializer started")

	next := m.schedule.Next(time.Now())
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("daily materializer shut down")
			return
		case <-timer.C:
			m.runOnce(ctx)
			next = m.schedule.Next(time.Now())
			timer.Reset(time.Until(next))
		}
	}
}

func (m *DailyMaterializer) runOnce(ctx context.Context) {
	runID := uuid.NewString()
	logger := m.logger.With("run_id", runID)
	logger.Info("daily materializer run starting")

	var created, skipped, failed int

	for _, descriptor := range domain.Descriptors {
		var users []*domain.User
		var err error
		switch descriptor.Type {
		case domain.MessageTypeBirthday:
			users, err = m.users.FindBirthdayToday(ctx, m.batchLimit)
		case domain.MessageTypeAnniversary:
			users, err = m.users.FindAnniversaryToday(ctx, m.batchLimit)
		}
		if err != nil {
			logger.Error("find users failed", "type", descriptor.Type, "error", err)
			m.status.recordFailure(time.Now(), err)
			continue
		}

		for _, user := range users {
			c, s, f := m.materializeOne(ctx, logger, descriptor, user)
			created += c
			skipped += s
			failed += f
		}
	}

	logger.Info("daily materializer run finished", "created", created, "skipped", skipped, "failed", failed)
	metrics.MaterializerRunsTotal.WithLabelValues("success").Inc()
	m.status.recordSuccess(time.Now())
}

// materializeOne isolates one user's failure from the rest of the pass,
// per spec §4.7's "per-user errors are isolated and counted, not fatal".
func (m *DailyMaterializer) materializeOne(ctx context.Context, logger *slog.Logger, descriptor domain.Descriptor, user *domain.User) (created, skipped, failed int) {
	defer func() {
		switch {
		case created > 0:
			metrics.MaterializerRecordsTotal.WithLabelValues(string(descriptor.Type), "created").Inc()
		case failed > 0:
			metrics.MaterializerRecordsTotal.WithLabelValues(string(descriptor.Type), "failed").Inc()
		case skipped > 0:
			metrics.MaterializerRecordsTotal.WithLabelValues(string(descriptor.Type), "skipped").Inc()
		}
	}()

	if user.Deleted {
		return 0, 1, 0
	}

	cal := descriptor.PickCalendarDate(*user)
	if cal == nil {
		return 0, 1, 0
	}

	if !timezone.ValidateZone(user.Zone) {
		logger.Warn("user has invalid zone, skipping", "user_id", user.ID, "zone", user.Zone)
		return 0, 0, 1
	}

	isToday, err := timezone.IsAnniversaryToday(*cal, user.Zone)
	if err != nil {
		logger.Error("is-anniversary-today failed", "user_id", user.ID, "error", err)
		return 0, 0, 1
	}
	if !isToday {
		return 0, 1, 0
	}

	instant, err := m.computeInstant(*cal, user.Zone)
	if err != nil {
		logger.Error("compute send instant failed", "user_id", user.ID, "error", err)
		return 0, 0, 1
	}

	key, err := idempotency.Generate(user.ID, descriptor.Type, instant)
	if err != nil {
		logger.Error("generate idempotency key failed", "user_id", user.ID, "error", err)
		return 0, 0, 1
	}

	if m.peek != nil && m.peek.Seen(ctx, key) {
		return 0, 1, 0
	}

	existing, err := m.messages.CheckIdempotency(ctx, key)
	if err != nil {
		logger.Error("check idempotency failed", "user_id", user.ID, "error", err)
		return 0, 0, 1
	}
	if existing != nil {
		if m.peek != nil {
			_ = m.peek.MarkSeen(ctx, key)
		}
		return 0, 1, 0
	}

	rec := &domain.MessageRecord{
		UserID:         user.ID,
		Type:           descriptor.Type,
		Body:           descriptor.RenderBody(*user),
		ScheduledAt:    instant,
		Status:         domain.StatusScheduled,
		IdempotencyKey: key,
	}

	if _, err := m.messages.Create(ctx, rec); err != nil {
		if domain.KindOf(err) == domain.KindConflict {
			return 0, 1, 0
		}
		logger.Error("create message record failed", "user_id", user.ID, "error", err)
		return 0, 0, 1
	}

	if m.peek != nil {
		_ = m.peek.MarkSeen(ctx, key)
	}

	return 1, 0, 0
}

// computeInstant applies the Feb-29-on-a-non-leap-year substitution: the
// day the materializer already confirmed is "today" (via
// IsAnniversaryToday's own leap-aware comparison) may not be the literal
// (month, day) on the user's record, so the instant is computed from
// today's actual calendar day in zone, not from cal directly.
func (m *DailyMaterializer) computeInstant(cal domain.CalendarDate, zone string) (time.Time, error) {
	loc, err := timezone.LoadLocation(zone)
	if err != nil {
		return time.Time{}, err
	}
	today := time.Now().In(loc)
	effective := domain.CalendarDate{Month: today.Month(), Day: today.Day()}
	return timezone.ComputeSendInstant(effective, zone)
}

func (m *DailyMaterializer) Status() Snapshot {
	return m.status.snapshot()
}
