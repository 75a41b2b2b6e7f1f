// Package reschedule implements the reaction to an out-of-scope profile
// change described in spec §4.9: the CRUD layer notifies the core
// whenever a user's zone, birthday, or anniversary changes, or the user is
// soft-deleted, and the core must retire any already-scheduled occurrence
// that the change invalidates and (re)materialize a correct one.
package reschedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/greetingsvc/scheduler/internal/domain"
	"github.com/greetingsvc/scheduler/internal/idempotency"
	"github.com/greetingsvc/scheduler/internal/repository"
	"github.com/greetingsvc/scheduler/internal/timezone"
)

// Service implements Reschedule.
type Service struct {
	users    repository.UserStore
	messages repository.MessageStore
	logger   *slog.Logger
}

func NewService(users repository.UserStore, messages repository.MessageStore, logger *slog.Logger) *Service {
	return &Service{users: users, messages: messages, logger: logger.With("component", "reschedule_service")}
}

// Reschedule implements spec §4.9's operation. It takes only the user id,
// not the changed fields — the service always reloads the user's current
// state rather than trusting a notification payload,
// since the CRUD layer is the source of truth and the notification could
// be stale by the time this runs.
func (s *Service) Reschedule(ctx context.Context, userID string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}

	oldPending, err := s.messages.FindScheduledForUser(ctx, userID)
	if err != nil {
		return err
	}

	var terminated int
	for _, rec := range oldPending {
		if err := s.messages.TerminateAsRescheduled(ctx, rec.ID); err != nil {
			s.logger.Error("terminate as rescheduled failed", "message_id", rec.ID, "error", err)
			continue
		}
		terminated++
	}

	if terminated > 0 {
		s.logger.Info("terminated stale scheduled records", "user_id", userID, "count", terminated)
	}

	if user.Deleted {
		return nil
	}

	var created int
	for _, descriptor := range domain.Descriptors {
		cal := descriptor.PickCalendarDate(*user)
		if cal == nil {
			continue
		}
		if !timezone.ValidateZone(user.Zone) {
			s.logger.Warn("user has invalid zone, skipping reschedule", "user_id", userID, "zone", user.Zone)
			continue
		}

		isToday, err := timezone.IsAnniversaryToday(*cal, user.Zone)
		if err != nil {
			s.logger.Error("is-anniversary-today failed", "user_id", userID, "error", err)
			continue
		}
		if !isToday {
			continue
		}

		instant, err := computeEffectiveInstant(*cal, user.Zone)
		if err != nil {
			s.logger.Error("compute send instant failed", "user_id", userID, "error", err)
			continue
		}
		if !instant.After(time.Now()) {
			continue
		}

		key, err := idempotency.Generate(userID, descriptor.Type, instant)
		if err != nil {
			s.logger.Error("generate idempotency key failed", "user_id", userID, "error", err)
			continue
		}

		existing, err := s.messages.CheckIdempotency(ctx, key)
		if err != nil {
			s.logger.Error("check idempotency failed", "user_id", userID, "error", err)
			continue
		}
		if existing != nil {
			continue
		}

		rec := &domain.MessageRecord{
			UserID:         userID,
			Type:           descriptor.Type,
			Body:           descriptor.RenderBody(*user),
			ScheduledAt:    instant,
			Status:         domain.StatusScheduled,
			IdempotencyKey: key,
		}
		if _, err := s.messages.Create(ctx, rec); err != nil {
			if domain.KindOf(err) == domain.KindConflict {
				continue
			}
			s.logger.Error("create rescheduled record failed", "user_id", userID, "error", err)
			continue
		}
		created++
	}

	if created > 0 {
		s.logger.Info("created rescheduled records", "user_id", userID, "count", created)
	}

	return nil
}

func computeEffectiveInstant(cal domain.CalendarDate, zone string) (time.Time, error) {
	loc, err := timezone.LoadLocation(zone)
	if err != nil {
		return time.Time{}, err
	}
	today := time.Now().In(loc)
	effective := domain.CalendarDate{Month: today.Month(), Day: today.Day()}
	return timezone.ComputeSendInstant(effective, zone)
}
