package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Listener is the minimal shape Supervisor needs from the reschedule
// listener — kept as an interface here rather than importing the
// reschedule package directly, so scheduler depends only on the one
// method it calls.
type Listener interface {
	Start(ctx context.Context)
}

// ConnectivityGate reports whether a dependency's connection is bouncing
// badly enough (spec §5: more than 3 transitions within a minute) that
// callers should fast-fail instead of attempting work against it — the
// same "let the upstream stabilize" idea the vendor breaker's FlapDetector
// already applies, generalized to the Postgres pool and the queue.
type ConnectivityGate interface {
	IsFlapping() bool
	Up() bool
}

// ConnectivityMonitor is the subset of health.ConnectivityMonitor the
// supervisor needs to run and report on, kept as an interface to avoid a
// direct scheduler->health compile-time dependency beyond this file.
type ConnectivityMonitor interface {
	ConnectivityGate
	Run(ctx context.Context, interval time.Duration)
}

// Supervisor owns the daily materializer, the minute enqueuer, the
// recovery sweeper, the worker pool, and the reschedule listener: it
// launches them in dependency order (materializer/enqueuer/sweeper before
// the pool that consumes what they produce), each in its own goroutine on
// the same ctx. Shutdown is not ordered: every component observes the
// same cancellation at once, and Run waits for all of them. Per spec
// §1's Non-goals, this exposes health as a Go API only — no HTTP
// endpoint.
type Supervisor struct {
	daily           *DailyMaterializer
	enqueuer        *MinuteEnqueuer
	sweeper         *RecoverySweeper
	pool            *WorkerPool
	listener        Listener
	postgresMonitor ConnectivityMonitor
	queueMonitor    ConnectivityMonitor
	logger          *slog.Logger
}

// connectivityPollInterval governs how often the Postgres pool and queue
// connectivity monitors ping their dependency.
const connectivityPollInterval = 5 * time.Second

func NewSupervisor(daily *DailyMaterializer, enqueuer *MinuteEnqueuer, sweeper *RecoverySweeper, pool *WorkerPool, listener Listener, postgresMonitor, queueMonitor ConnectivityMonitor, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		daily:           daily,
		enqueuer:        enqueuer,
		sweeper:         sweeper,
		pool:            pool,
		listener:        listener,
		postgresMonitor: postgresMonitor,
		queueMonitor:    queueMonitor,
		logger:          logger.With("component", "supervisor"),
	}
}

// Run starts every component and blocks until ctx is cancelled, at which
// point it waits for all of them to finish draining before returning.
func (s *Supervisor) Run(ctx context.Context) {
	s.logger.Info("supervisor starting components")

	done := make(chan struct{})
	go func() { s.daily.Start(ctx); done <- struct{}{} }()
	go func() { s.enqueuer.Start(ctx); done <- struct{}{} }()
	go func() { s.sweeper.Start(ctx); done <- struct{}{} }()
	go func() { s.pool.Start(ctx); done <- struct{}{} }()
	go func() { s.listener.Start(ctx); done <- struct{}{} }()
	go func() { s.postgresMonitor.Run(ctx, connectivityPollInterval); done <- struct{}{} }()
	go func() { s.queueMonitor.Run(ctx, connectivityPollInterval); done <- struct{}{} }()

	<-ctx.Done()
	s.logger.Info("supervisor shutting down, waiting for components to drain")
	for i := 0; i < 7; i++ {
		<-done
	}
	s.logger.Info("supervisor shut down cleanly")
}

// HealthReport aggregates the status of every supervised loop plus the
// connectivity state of the Postgres pool and the queue.
type HealthReport struct {
	Loops            []Snapshot
	Healthy          bool
	PostgresUp       bool
	PostgresFlapping bool
	QueueUp          bool
	QueueFlapping    bool
}

func (s *Supervisor) Health() HealthReport {
	loops := []Snapshot{
		s.daily.Status(),
		s.enqueuer.Status(),
		s.sweeper.Status(),
	}

	healthy := true
	for _, l := range loops {
		if !l.Healthy {
			healthy = false
		}
	}
	postgresUp := s.postgresMonitor.Up()
	queueUp := s.queueMonitor.Up()
	if !postgresUp || !queueUp {
		healthy = false
	}

	return HealthReport{
		Loops:            loops,
		Healthy:          healthy,
		PostgresUp:       postgresUp,
		PostgresFlapping: s.postgresMonitor.IsFlapping(),
		QueueUp:          queueUp,
		QueueFlapping:    s.queueMonitor.IsFlapping(),
	}
}
