package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/greetingsvc/scheduler/internal/domain"
)

func newTestSweeper(messages *fakeMessageStore, maxRetries int) *RecoverySweeper {
	return NewRecoverySweeper(messages, time.Minute, time.Second, time.Minute, maxRetries, testLogger())
}

func TestRecoverySweeper_RecoversStuckSendingUnderRetryBudget(t *testing.T) {
	messages := newFakeMessageStore()
	rec, err := messages.Create(context.Background(), &domain.MessageRecord{
		UserID:         "u1",
		Type:           domain.MessageTypeBirthday,
		Status:         domain.StatusScheduled,
		ScheduledAt:    time.Now().Add(-time.Hour),
		IdempotencyKey: "u1:BIRTHDAY:2026-07-31",
	})
	if err != nil {
		t.Fatalf("setup create failed: %v", err)
	}
	// Force the record into SENDING with UpdatedAt far in the past so it
	// reads as orphaned by the sweeper's staleness cutoff.
	if err := messages.TransitionStatus(context.Background(), rec.ID, domain.StatusScheduled, domain.StatusQueued); err != nil {
		t.Fatalf("transition to queued failed: %v", err)
	}
	if err := messages.TransitionStatus(context.Background(), rec.ID, domain.StatusQueued, domain.StatusSending); err != nil {
		t.Fatalf("transition to sending failed: %v", err)
	}
	messages.mu.Lock()
	messages.records[rec.ID].UpdatedAt = time.Now().Add(-time.Hour)
	messages.mu.Unlock()

	sweeper := newTestSweeper(messages, 5)
	sweeper.runOnce(context.Background())

	got, err := messages.FindByID(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("find by id failed: %v", err)
	}
	if got.Status != domain.StatusScheduled {
		t.Fatalf("expected recovered to SCHEDULED, got %s", got.Status)
	}
}

func TestRecoverySweeper_TerminatesStuckSendingPastRetryBudget(t *testing.T) {
	messages := newFakeMessageStore()
	rec, err := messages.Create(context.Background(), &domain.MessageRecord{
		UserID:         "u2",
		Type:           domain.MessageTypeBirthday,
		Status:         domain.StatusScheduled,
		ScheduledAt:    time.Now().Add(-time.Hour),
		RetryCount:     5,
		IdempotencyKey: "u2:BIRTHDAY:2026-07-31",
	})
	if err != nil {
		t.Fatalf("setup create failed: %v", err)
	}
	if err := messages.TransitionStatus(context.Background(), rec.ID, domain.StatusScheduled, domain.StatusQueued); err != nil {
		t.Fatalf("transition to queued failed: %v", err)
	}
	if err := messages.TransitionStatus(context.Background(), rec.ID, domain.StatusQueued, domain.StatusSending); err != nil {
		t.Fatalf("transition to sending failed: %v", err)
	}
	messages.mu.Lock()
	messages.records[rec.ID].UpdatedAt = time.Now().Add(-time.Hour)
	messages.mu.Unlock()

	sweeper := newTestSweeper(messages, 5)
	sweeper.runOnce(context.Background())

	got, err := messages.FindByID(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("find by id failed: %v", err)
	}
	if got.Status != domain.StatusFailedTerminal {
		t.Fatalf("expected FAILED_TERMINAL, got %s", got.Status)
	}
}

func TestRecoverySweeper_RecoversStuckQueuedUnderRetryBudget(t *testing.T) {
	messages := newFakeMessageStore()
	rec, err := messages.Create(context.Background(), &domain.MessageRecord{
		UserID:         "u3",
		Type:           domain.MessageTypeBirthday,
		Status:         domain.StatusScheduled,
		ScheduledAt:    time.Now().Add(-time.Hour),
		IdempotencyKey: "u3:BIRTHDAY:2026-07-31",
	})
	if err != nil {
		t.Fatalf("setup create failed: %v", err)
	}
	// A worker claimed the job (record moved to QUEUED) and then crashed
	// before ever transitioning it to SENDING.
	if err := messages.TransitionStatus(context.Background(), rec.ID, domain.StatusScheduled, domain.StatusQueued); err != nil {
		t.Fatalf("transition to queued failed: %v", err)
	}
	messages.mu.Lock()
	messages.records[rec.ID].UpdatedAt = time.Now().Add(-time.Hour)
	messages.mu.Unlock()

	sweeper := newTestSweeper(messages, 5)
	sweeper.runOnce(context.Background())

	got, err := messages.FindByID(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("find by id failed: %v", err)
	}
	if got.Status != domain.StatusScheduled {
		t.Fatalf("expected recovered to SCHEDULED, got %s", got.Status)
	}
}

func TestRecoverySweeper_TerminatesStuckQueuedPastRetryBudget(t *testing.T) {
	messages := newFakeMessageStore()
	rec, err := messages.Create(context.Background(), &domain.MessageRecord{
		UserID:         "u4",
		Type:           domain.MessageTypeBirthday,
		Status:         domain.StatusScheduled,
		ScheduledAt:    time.Now().Add(-time.Hour),
		RetryCount:     5,
		IdempotencyKey: "u4:BIRTHDAY:2026-07-31",
	})
	if err != nil {
		t.Fatalf("setup create failed: %v", err)
	}
	if err := messages.TransitionStatus(context.Background(), rec.ID, domain.StatusScheduled, domain.StatusQueued); err != nil {
		t.Fatalf("transition to queued failed: %v", err)
	}
	messages.mu.Lock()
	messages.records[rec.ID].UpdatedAt = time.Now().Add(-time.Hour)
	messages.mu.Unlock()

	sweeper := newTestSweeper(messages, 5)
	sweeper.runOnce(context.Background())

	got, err := messages.FindByID(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("find by id failed: %v", err)
	}
	if got.Status != domain.StatusFailedTerminal {
		t.Fatalf("expected FAILED_TERMINAL, got %s", got.Status)
	}
}
