// Package health tracks connectivity to the core's external dependencies
// and classifies a bouncing connection as "flapping" per spec §5, rather
// than just reporting instantaneous up/down like the teacher's readiness
// checker does.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/greetingsvc/scheduler/internal/breaker"
	"github.com/greetingsvc/scheduler/internal/metrics"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// flapThreshold and flapWindow implement spec §5's "more than 3
// transitions within a minute classifies as flapping" rule.
const (
	flapThreshold = 3
	flapWindow    = time.Minute
)

// ConnectivityMonitor periodically pings a dependency and records every
// up/down transition into a rolling-window flap detector. The Postgres
// pool and the queue share the same pgxpool.Pool in this deployment (the
// queue is a transactional outbox on that pool, not a separate broker
// connection), so both get their own named monitor pinging the same pool
// rather than one shared instance — a genuine disconnection would flap
// both independently of which logical dependency an operator is watching.
type ConnectivityMonitor struct {
	name   string
	pinger Pinger
	flap   *breaker.FlapDetector
	logger *slog.Logger

	mu sync.Mutex
	up bool
}

func NewConnectivityMonitor(name string, pinger Pinger, logger *slog.Logger) *ConnectivityMonitor {
	return &ConnectivityMonitor{
		name:   name,
		pinger: pinger,
		flap:   breaker.NewFlapDetector(flapThreshold, flapWindow),
		logger: logger.With("component", "connectivity_monitor", "dependency", name),
		up:     true,
	}
}

// Run pings on a fixed interval until ctx is cancelled.
func (m *ConnectivityMonitor) Run(ctx context.Context, interval time.Duration) {
	m.Check(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check pings the dependency once, recording a transition (and pruning
// the flap window) only when the observed state differs from the last one.
func (m *ConnectivityMonitor) Check(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	up := m.pinger.Ping(checkCtx) == nil
	now := time.Now()

	m.mu.Lock()
	changed := up != m.up
	m.up = up
	m.mu.Unlock()

	gaugeValue := 0.0
	if up {
		gaugeValue = 1.0
	}
	metrics.DependencyUp.WithLabelValues(m.name).Set(gaugeValue)

	if changed {
		m.flap.RecordTransition(now)
		m.logger.Warn("connectivity transition", "up", up, "flapping", m.flap.IsFlapping(now))
	}
}

// Up reports the last observed connectivity state.
func (m *ConnectivityMonitor) Up() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.up
}

// IsFlapping reports whether more than flapThreshold transitions have
// landed within flapWindow — satisfies scheduler.ConnectivityGate.
func (m *ConnectivityMonitor) IsFlapping() bool {
	return m.flap.IsFlapping(time.Now())
}
