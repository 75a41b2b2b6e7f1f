package backpressure

import (
	"context"
	"log/slog"
	"runtime"
	"time"
)

// Monitor samples this process's heap usage on an interval and flips the
// shared Gate when it crosses watermarkPct of limitBytes, per SPEC_FULL.md
// §3.3. It re-asserts Pause on every sample above the watermark so the
// gate's short TTL keeps renewing as long as memory stays high, and clears
// it the first sample it observes back under the line.
type Monitor struct {
	gate         *Gate
	logger       *slog.Logger
	interval     time.Duration
	limitBytes   uint64
	watermarkPct int
}

func NewMonitor(gate *Gate, limitBytes uint64, watermarkPct int, interval time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		gate:         gate,
		logger:       logger.With("component", "backpressure_monitor"),
		interval:     interval,
		limitBytes:   limitBytes,
		watermarkPct: watermarkPct,
	}
}

func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("backpressure monitor started", "watermark_pct", m.watermarkPct, "limit_bytes", m.limitBytes)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("backpressure monitor shut down")
			return
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

func (m *Monitor) sample(ctx context.Context) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	pct := float64(stats.HeapInuse) / float64(m.limitBytes) * 100

	if pct >= float64(m.watermarkPct) {
		if err := m.gate.Pause(ctx); err != nil {
			m.logger.Error("pause intake failed", "error", err)
			return
		}
		m.logger.Warn("heap usage over watermark, intake paused", "heap_pct", pct)
		return
	}

	if err := m.gate.Resume(ctx); err != nil {
		m.logger.Error("resume intake failed", "error", err)
	}
}
