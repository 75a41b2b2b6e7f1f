package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/greetingsvc/scheduler/internal/domain"
	"github.com/greetingsvc/scheduler/internal/queue"
	"github.com/greetingsvc/scheduler/internal/vendor"
)

// fakeMessageStore is an in-memory repository.MessageStore, modeled on the
// mutex-guarded map the pack's memory repositories use (e.g. Geocoder89's
// EventsRepo) rather than on hand-wired closures, since the state machine
// under test needs real CAS semantics across several methods.
type fakeMessageStore struct {
	mu      sync.Mutex
	records map[string]*domain.MessageRecord
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{records: make(map[string]*domain.MessageRecord)}
}

func (s *fakeMessageStore) Create(_ context.Context, rec *domain.MessageRecord) (*domain.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.records {
		if existing.IdempotencyKey == rec.IdempotencyKey && !existing.Status.Terminal() {
			return nil, domain.NewError(domain.KindConflict, "fakeMessageStore.Create", domain.ErrConflict)
		}
	}

	clone := *rec
	clone.ID = uuid.NewString()
	clone.CreatedAt = time.Now()
	clone.UpdatedAt = clone.CreatedAt
	s.records[clone.ID] = &clone

	out := clone
	return &out, nil
}

func (s *fakeMessageStore) FindByID(_ context.Context, id string) (*domain.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, "fakeMessageStore.FindByID", domain.ErrMessageNotFound)
	}
	out := *rec
	return &out, nil
}

func (s *fakeMessageStore) FindScheduledBetween(_ context.Context, from, to time.Time, limit int) ([]*domain.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.MessageRecord
	for _, rec := range s.records {
		if rec.Status == domain.StatusScheduled && !rec.ScheduledAt.Before(from) && rec.ScheduledAt.Before(to) {
			r := *rec
			out = append(out, &r)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *fakeMessageStore) FindScheduledForUser(_ context.Context, userID string) ([]*domain.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.MessageRecord
	for _, rec := range s.records {
		if rec.UserID == userID && rec.Status == domain.StatusScheduled {
			r := *rec
			out = append(out, &r)
		}
	}
	return out, nil
}

func (s *fakeMessageStore) FindMissed(_ context.Context, scheduledCutoff, sendingCutoff time.Time, limit int) ([]*domain.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.MessageRecord
	for _, rec := range s.records {
		switch {
		case rec.Status == domain.StatusScheduled && rec.ScheduledAt.Before(scheduledCutoff):
			r := *rec
			out = append(out, &r)
		case rec.Status == domain.StatusSending && rec.UpdatedAt.Before(sendingCutoff):
			r := *rec
			out = append(out, &r)
		case rec.Status == domain.StatusQueued && rec.UpdatedAt.Before(sendingCutoff):
			r := *rec
			out = append(out, &r)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *fakeMessageStore) CheckIdempotency(_ context.Context, key string) (*domain.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.IdempotencyKey == key && !rec.Status.Terminal() {
			r := *rec
			return &r, nil
		}
	}
	return nil, nil
}

func (s *fakeMessageStore) TransitionStatus(_ context.Context, id string, from, to domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.NewError(domain.KindNotFound, "fakeMessageStore.TransitionStatus", domain.ErrMessageNotFound)
	}
	if rec.Status != from {
		return domain.NewError(domain.KindConflict, "fakeMessageStore.TransitionStatus", domain.ErrConflict)
	}
	rec.Status = to
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *fakeMessageStore) MarkSent(_ context.Context, id string, sentAt time.Time, vendorCode int, vendorBody string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.NewError(domain.KindNotFound, "fakeMessageStore.MarkSent", domain.ErrMessageNotFound)
	}
	if rec.Status != domain.StatusSending && rec.Status != domain.StatusQueued && rec.Status != domain.StatusScheduled {
		return domain.NewError(domain.KindConflict, "fakeMessageStore.MarkSent", domain.ErrConflict)
	}
	rec.Status = domain.StatusSent
	rec.ActualSentAt = &sentAt
	rec.VendorCode = &vendorCode
	rec.VendorBody = &vendorBody
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *fakeMessageStore) MarkFailed(_ context.Context, id string, lastError string, retryable bool, maxRetries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.NewError(domain.KindNotFound, "fakeMessageStore.MarkFailed", domain.ErrMessageNotFound)
	}
	rec.LastError = &lastError
	rec.UpdatedAt = time.Now()
	if !retryable {
		rec.Status = domain.StatusFailedTerminal
		return nil
	}
	rec.RetryCount++
	if rec.RetryCount >= maxRetries {
		rec.Status = domain.StatusFailedTerminal
	} else {
		rec.Status = domain.StatusFailedRetry
	}
	return nil
}

func (s *fakeMessageStore) TerminateAsRescheduled(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.NewError(domain.KindNotFound, "fakeMessageStore.TerminateAsRescheduled", domain.ErrMessageNotFound)
	}
	if rec.Status.Terminal() {
		return domain.NewError(domain.KindConflict, "fakeMessageStore.TerminateAsRescheduled", domain.ErrConflict)
	}
	reason := "RESCHEDULED"
	rec.Status = domain.StatusFailedTerminal
	rec.LastError = &reason
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *fakeMessageStore) all() []*domain.MessageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.MessageRecord
	for _, rec := range s.records {
		r := *rec
		out = append(out, &r)
	}
	return out
}

// fakeUserStore serves a fixed in-memory user set. It skips the month/day
// pre-filter the real postgres UserRepository does in SQL and returns every
// user with the relevant date set; the materializer's own
// IsAnniversaryToday check does the final filtering.
type fakeUserStore struct {
	users map[string]*domain.User
}

func newFakeUserStore(users ...*domain.User) *fakeUserStore {
	m := make(map[string]*domain.User, len(users))
	for _, u := range users {
		m[u.ID] = u
	}
	return &fakeUserStore{users: m}
}

func (s *fakeUserStore) FindByID(_ context.Context, id string) (*domain.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, "fakeUserStore.FindByID", domain.ErrUserNotFound)
	}
	out := *u
	return &out, nil
}

func (s *fakeUserStore) FindBirthdayToday(_ context.Context, _ int) ([]*domain.User, error) {
	var out []*domain.User
	for _, u := range s.users {
		if u.Birthday != nil {
			dup := *u
			out = append(out, &dup)
		}
	}
	return out, nil
}

func (s *fakeUserStore) FindAnniversaryToday(_ context.Context, _ int) ([]*domain.User, error) {
	var out []*domain.User
	for _, u := range s.users {
		if u.Anniversary != nil {
			dup := *u
			out = append(out, &dup)
		}
	}
	return out, nil
}

// fakeQueue is an in-memory queue.Queue, standing in for the Postgres
// outbox so scheduler/worker tests never touch a database.
type fakeQueue struct {
	mu       sync.Mutex
	jobs     map[string]jobState
	claimSeq int
}

type jobState struct {
	job       domain.QueueJob
	deliverAt time.Time
	claimed   bool
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: make(map[string]jobState)}
}

func (q *fakeQueue) Publish(_ context.Context, job domain.QueueJob, deliverAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[job.MessageID] = jobState{job: job, deliverAt: deliverAt}
	return nil
}

func (q *fakeQueue) Claim(_ context.Context, _ string, prefetch int) ([]queue.ClaimedJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []queue.ClaimedJob
	now := time.Now()
	for id, st := range q.jobs {
		if st.claimed || st.deliverAt.After(now) {
			continue
		}
		st.claimed = true
		q.jobs[id] = st
		q.claimSeq++
		out = append(out, queue.ClaimedJob{ClaimID: id, Job: st.job})
		if len(out) >= prefetch {
			break
		}
	}
	return out, nil
}

func (q *fakeQueue) Ack(_ context.Context, claimID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.jobs, claimID)
	return nil
}

func (q *fakeQueue) NackRequeue(_ context.Context, claimID string, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.jobs[claimID]
	if !ok {
		return nil
	}
	st.claimed = false
	st.deliverAt = time.Now()
	st.job.RetryCount++
	q.jobs[claimID] = st
	return nil
}

func (q *fakeQueue) NackDLQ(_ context.Context, claimID, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.jobs, claimID)
	return nil
}

func (q *fakeQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// fakeGate is a scheduler.ConnectivityGate stub for testing connectivity-gated skip paths.
type fakeGate struct {
	flapping bool
	up       bool
}

func (g *fakeGate) IsFlapping() bool { return g.flapping }
func (g *fakeGate) Up() bool         { return g.up }

// fakeSender is a vendor.Sender whose outcome is scripted per call.
type fakeSender struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (sendResult, error)
}

type sendResult struct {
	statusCode int
	body       string
}

func (s *fakeSender) Send(_ context.Context, _ vendor.Request) (vendor.Result, error) {
	s.mu.Lock()
	call := s.calls
	s.calls++
	s.mu.Unlock()

	res, err := s.fn(call)
	if err != nil {
		return vendor.Result{}, err
	}
	return vendor.Result{StatusCode: res.statusCode, Body: res.body}, nil
}
