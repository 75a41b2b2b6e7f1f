package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/greetingsvc/scheduler/internal/correlation"
	"github.com/greetingsvc/scheduler/internal/domain"
	"github.com/greetingsvc/scheduler/internal/metrics"
	"github.com/greetingsvc/scheduler/internal/queue"
	"github.com/greetingsvc/scheduler/internal/repository"
	"github.com/greetingsvc/scheduler/internal/vendor"
)

// WorkerPool runs one poll loop per queue, each repeatedly claiming a
// batch, fanning the batch out across goroutines (at most concurrency jobs
// in flight across all queues together), and resolving every claimed
// job with exactly one of ack / nack-requeue / nack-dlq before returning,
// per spec §4.8.
type WorkerPool struct {
	id           string
	messages     repository.MessageStore
	users        repository.UserStore
	queues       map[domain.MessageType]queue.Queue
	sender       vendor.Sender
	queueGate    ConnectivityGate
	logger       *slog.Logger
	pollInterval time.Duration
	prefetch     int
	maxRetries   int
	sem          chan struct{}

	wg sync.WaitGroup
}

// NewWorkerPool's concurrency bounds how many claimed jobs this pool ever
// handles at once (spec §6's "N workers per process", default 5), distinct
// from prefetch, which bounds how many jobs a single Claim call pulls off
// the queue per tick. queueGate may be nil (no connectivity gating, e.g. in
// tests); when set, a flapping queue connection makes processBatch skip the
// claim entirely rather than add load to a dependency that's still bouncing.
func NewWorkerPool(messages repository.MessageStore, users repository.UserStore, queues map[domain.MessageType]queue.Queue, sender vendor.Sender, queueGate ConnectivityGate, concurrency, prefetch, maxRetries int, logger *slog.Logger) *WorkerPool {
	hostname, _ := os.Hostname()
	if concurrency <= 0 {
		concurrency = 1
	}
	return &WorkerPool{
		id:           fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		messages:     messages,
		users:        users,
		queues:       queues,
		sender:       sender,
		queueGate:    queueGate,
		logger:       logger.With("component", "worker_pool"),
		pollInterval: time.Second,
		prefetch:     prefetch,
		maxRetries:   maxRetries,
		sem:          make(chan struct{}, concurrency),
	}
}

// Start launches one poll loop per queue (one per message type) and
// blocks until ctx is cancelled and every in-flight job has been acked or
// nacked.
func (p *WorkerPool) Start(ctx context.Context) {
	p.logger.Info("worker pool started", "worker_id", p.id, "prefetch", p.prefetch, "concurrency", cap(p.sem))

	for msgType, q := range p.queues {
		p.wg.Add(1)
		go p.pollLoop(ctx, msgType, q)
	}

	<-ctx.Done()
	p.logger.Info("worker pool draining in-flight jobs")
	p.wg.Wait()
	p.logger.Info("worker pool shut down")
}

func (p *WorkerPool) pollLoop(ctx context.Context, msgType domain.MessageType, q queue.Queue) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.processBatch(ctx, msgType, q)
		}
	}
}

func (p *WorkerPool) processBatch(ctx context.Context, msgType domain.MessageType, q queue.Queue) {
	if p.queueGate != nil && p.queueGate.IsFlapping() {
		p.logger.Warn("queue connectivity flapping, skipping claim", "type", msgType)
		return
	}

	jobs, err := q.Claim(ctx, p.id, p.prefetch)
	if err != nil {
		p.logger.Error("claim failed", "type", msgType, "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, claimed := range jobs {
		wg.Add(1)
		p.sem <- struct{}{}
		go func(c queue.ClaimedJob) {
			defer func() { <-p.sem }()
			metrics.WorkerJobsInFlight.WithLabelValues(string(msgType)).Inc()
			defer metrics.WorkerJobsInFlight.WithLabelValues(string(msgType)).Dec()
			defer wg.Done()
			p.handle(ctx, q, c)
		}(claimed)
	}
	wg.Wait()
}

func (p *WorkerPool) handle(ctx context.Context, q queue.Queue, claimed queue.ClaimedJob) {
	corrID := correlation.New()
	ctx = correlation.WithID(ctx, corrID)
	logger := p.logger.With("message_id", claimed.Job.MessageID, "correlation_id", corrID)

	rec, err := p.messages.FindByID(ctx, claimed.Job.MessageID)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			logger.Warn("message record not found, dropping job")
			p.ack(ctx, q, claimed, logger)
			return
		}
		logger.Error("find by id failed", "error", err)
		p.nackRequeue(ctx, q, claimed, logger)
		return
	}

	if rec.Status == domain.StatusSent {
		// Idempotent short-circuit: this is what makes a broker/outbox
		// redelivery of an already-sent job safe, per spec §4.8 step 3.
		logger.Info("message already sent, dropping job")
		p.ack(ctx, q, claimed, logger)
		return
	}

	from := domain.StatusQueued
	switch rec.Status {
	case domain.StatusScheduled:
		// The recovery sweeper can hand a job straight from SCHEDULED back
		// to SENDING without an intervening QUEUED publish-confirm cycle.
		from = domain.StatusScheduled
	case domain.StatusFailedRetry:
		// A job nack-requeued after a transient failure comes back with its
		// record in FAILED_RETRY; this redelivery is the retry.
		from = domain.StatusFailedRetry
	}

	if err := p.messages.TransitionStatus(ctx, rec.ID, from, domain.StatusSending); err != nil {
		if domain.KindOf(err) == domain.KindConflict {
			logger.Info("lost CAS race to another worker, dropping job")
			p.ack(ctx, q, claimed, logger)
			return
		}
		logger.Error("transition to sending failed", "error", err)
		p.nackRequeue(ctx, q, claimed, logger)
		return
	}

	user, err := p.users.FindByID(ctx, rec.UserID)
	if err != nil {
		logger.Error("resolve recipient failed", "error", err)
		retryable := domain.KindOf(err) != domain.KindNotFound
		if markErr := p.messages.MarkFailed(ctx, rec.ID, fmt.Sprintf("resolve recipient: %v", err), retryable, p.maxRetries); markErr != nil {
			logger.Error("mark failed failed", "error", markErr)
		}
		if retryable {
			p.nackRequeue(ctx, q, claimed, logger)
		} else {
			p.nackDLQ(ctx, q, claimed, err.Error(), logger)
		}
		return
	}

	result, sendErr := p.sender.Send(ctx, vendor.Request{
		Email:          user.Email,
		Body:           rec.Body,
		IdempotencyKey: rec.IdempotencyKey,
	})

	if sendErr == nil {
		if err := p.messages.MarkSent(ctx, rec.ID, time.Now(), result.StatusCode, result.Body); err != nil {
			logger.Error("mark sent failed", "error", err)
		}
		logger.Info("message sent", "status_code", result.StatusCode)
		metrics.WorkerSendResultTotal.WithLabelValues(string(rec.Type), "sent").Inc()
		p.ack(ctx, q, claimed, logger)
		return
	}

	p.handleSendFailure(ctx, q, claimed, rec, sendErr, logger)
}

func (p *WorkerPool) handleSendFailure(ctx context.Context, q queue.Queue, claimed queue.ClaimedJob, rec *domain.MessageRecord, sendErr error, logger *slog.Logger) {
	kind := domain.KindOf(sendErr)
	permanent := kind == domain.KindPermanentExternal

	retryable := !permanent
	retryCountForDecision := rec.RetryCount
	if permanent {
		// MarkFailed gets retryable=false, which lands the record in
		// FAILED_TERMINAL; forcing the count to the cap sends the job to
		// the DLQ regardless of how many attempts remain, per spec §4.8
		// step 8.
		retryCountForDecision = p.maxRetries
	}

	if err := p.messages.MarkFailed(ctx, rec.ID, sendErr.Error(), retryable, p.maxRetries); err != nil {
		logger.Error("mark failed failed", "error", err)
	}

	logger.Warn("send failed", "kind", kind, "error", sendErr)

	terminal := permanent || retryCountForDecision+1 >= p.maxRetries
	if terminal {
		metrics.WorkerSendResultTotal.WithLabelValues(string(rec.Type), "failed_terminal").Inc()
		p.nackDLQ(ctx, q, claimed, sendErr.Error(), logger)
		return
	}

	metrics.WorkerSendResultTotal.WithLabelValues(string(rec.Type), "failed_retry").Inc()
	p.nackRequeue(ctx, q, claimed, logger)
}

func (p *WorkerPool) ack(ctx context.Context, q queue.Queue, claimed queue.ClaimedJob, logger *slog.Logger) {
	if err := q.Ack(ctx, claimed.ClaimID); err != nil {
		logger.Error("ack failed", "error", err)
	}
}

func (p *WorkerPool) nackRequeue(ctx context.Context, q queue.Queue, claimed queue.ClaimedJob, logger *slog.Logger) {
	backoff := queue.BackoffForRetry(claimed.Job.RetryCount)
	if err := q.NackRequeue(ctx, claimed.ClaimID, backoff); err != nil {
		logger.Error("nack-requeue failed", "error", err)
	}
}

func (p *WorkerPool) nackDLQ(ctx context.Context, q queue.Queue, claimed queue.ClaimedJob, reason string, logger *slog.Logger) {
	if err := q.NackDLQ(ctx, claimed.ClaimID, reason); err != nil {
		logger.Error("nack-dlq failed", "error", err)
	}
}
