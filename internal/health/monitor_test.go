package health_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/greetingsvc/scheduler/internal/health"
)

// scriptedPinger returns the next error off a fixed script each call, then
// repeats the last entry once the script is exhausted.
type scriptedPinger struct {
	mu     sync.Mutex
	script []error
	calls  int
}

func (p *scriptedPinger) Ping(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	if i >= len(p.script) {
		i = len(p.script) - 1
	}
	p.calls++
	return p.script[i]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestConnectivityMonitor_UpWhenPingSucceeds(t *testing.T) {
	m := health.NewConnectivityMonitor("postgres", &scriptedPinger{script: []error{nil}}, testLogger())

	m.Check(context.Background())

	if !m.Up() {
		t.Fatal("expected monitor to report up after a successful ping")
	}
	if m.IsFlapping() {
		t.Fatal("expected not flapping with no transitions yet")
	}
}

func TestConnectivityMonitor_DownWhenPingFails(t *testing.T) {
	m := health.NewConnectivityMonitor("postgres", &scriptedPinger{script: []error{errors.New("dial tcp: refused")}}, testLogger())

	m.Check(context.Background())

	if m.Up() {
		t.Fatal("expected monitor to report down after a failed ping")
	}
}

func TestConnectivityMonitor_FlapsPastThreshold(t *testing.T) {
	// up, down, up, down, up, down, up, down, up: 8 transitions, well past
	// spec's >3-per-minute threshold, all landing inside one window.
	script := []error{
		nil, errors.New("down"), nil, errors.New("down"),
		nil, errors.New("down"), nil, errors.New("down"), nil,
	}
	m := health.NewConnectivityMonitor("queue", &scriptedPinger{script: script}, testLogger())

	for range script {
		m.Check(context.Background())
	}

	if !m.IsFlapping() {
		t.Fatal("expected flapping after 8 transitions within a minute")
	}
}

func TestConnectivityMonitor_NotFlappingWithoutEnoughTransitions(t *testing.T) {
	// up, down, up: only 2 transitions, below the >3 threshold.
	script := []error{nil, errors.New("down"), nil}
	m := health.NewConnectivityMonitor("postgres", &scriptedPinger{script: script}, testLogger())

	for range script {
		m.Check(context.Background())
	}

	if m.IsFlapping() {
		t.Fatal("expected not flapping with only 2 transitions")
	}
}

func TestConnectivityMonitor_RepeatedSameStateIsNotATransition(t *testing.T) {
	// Five consecutive successful pings: zero transitions, regardless of
	// call count, since only a change in observed state counts.
	m := health.NewConnectivityMonitor("postgres", &scriptedPinger{script: []error{nil}}, testLogger())

	for i := 0; i < 5; i++ {
		m.Check(context.Background())
	}

	if m.IsFlapping() {
		t.Fatal("expected not flapping when the dependency never changes state")
	}
}

func TestConnectivityMonitor_RunStopsOnContextCancel(t *testing.T) {
	m := health.NewConnectivityMonitor("postgres", &scriptedPinger{script: []error{nil}}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return after context cancellation")
	}
}
