// Package memorymonitor implements the memory monitor collaborator: an
// independent actor that ticks, samples host memory, and pushes
// duration-target adjustments into every registered queue, closing the
// "memory monitor ticks adjust VQ's target" flow named as a queue
// collaborator alongside publishers, channels, and the message/index
// stores. Host sampling is grounded on a resource-guard's periodic
// gopsutil/v3 CPU/memory poll, generalized from a fixed CPU/memory budget
// to a RAM-headroom-to-duration-target mapping.
package memorymonitor

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/qbroker/core/internal/metrics"
)

// QueueTarget is the subset of queueactor.Actor the monitor needs: push a
// new RAM duration target (nil means uncapped).
type QueueTarget interface {
	SetRamDurationTarget(ctx context.Context, seconds *float64) error
}

// Config controls how host memory headroom maps to a duration target.
type Config struct {
	// Interval between samples. Defaults to 5s if zero.
	Interval time.Duration
	// HighWatermark is the fraction of total memory (0..1) above which
	// queues are told to shrink toward duration_target=0. Defaults to 0.8.
	HighWatermark float64
	// LowWatermark is the fraction below which queues are told to run
	// uncapped. Defaults to 0.5.
	LowWatermark float64
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.HighWatermark <= 0 {
		c.HighWatermark = 0.8
	}
	if c.LowWatermark <= 0 {
		c.LowWatermark = 0.5
	}
	return c
}

// Monitor samples host memory on a ticker and fans the resulting target out
// to every registered queue.
type Monitor struct {
	log    *zap.Logger
	cfg    Config
	queues map[string]QueueTarget
}

// New creates a monitor with no queues registered yet.
func New(log *zap.Logger, cfg Config) *Monitor {
	return &Monitor{
		log:    log,
		cfg:    cfg.withDefaults(),
		queues: make(map[string]QueueTarget),
	}
}

// Register adds a queue to the fan-out roster, keyed by name for logging.
func (m *Monitor) Register(name string, q QueueTarget) {
	m.queues[name] = q
}

// Unregister drops a queue, e.g. once it's deleted.
func (m *Monitor) Unregister(name string) {
	delete(m.queues, name)
}

// Run ticks at cfg.Interval until ctx is cancelled, sampling host memory
// and pushing a computed duration target to every registered queue.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		if m.log != nil {
			m.log.Warn("memorymonitor: failed to sample host memory", zap.Error(err))
		}
		return
	}

	ratio := vm.UsedPercent / 100
	metrics.MemoryUsageRatio.Set(ratio)

	target := m.targetFor(ratio)
	for name, q := range m.queues {
		if err := q.SetRamDurationTarget(ctx, target); err != nil && m.log != nil {
			m.log.Warn("memorymonitor: failed to push duration target",
				zap.String("queue", name), zap.Error(err))
		}
	}
}

// targetFor maps a used-memory ratio to a duration_target. Above the high
// watermark: 0 (shrink everything to disk). Below the low watermark: nil
// (uncapped, everything may live in RAM). Between: linearly scaled seconds,
// matching set_ram_duration_target(infinity) . set_ram_duration_target(t)
// collapsing to set_ram_duration_target(infinity) at the low end.
func (m *Monitor) targetFor(usedRatio float64) *float64 {
	if usedRatio >= m.cfg.HighWatermark {
		zero := 0.0
		return &zero
	}
	if usedRatio <= m.cfg.LowWatermark {
		return nil
	}
	span := m.cfg.HighWatermark - m.cfg.LowWatermark
	frac := (m.cfg.HighWatermark - usedRatio) / span
	seconds := frac * 60
	return &seconds
}
