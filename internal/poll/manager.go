// Package poll runs the recurring fetch for the selected asset, with
// pause/resume that keeps accumulated state.
package poll

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/sweeney/twin-monitor/internal/clock"
	"github.com/sweeney/twin-monitor/internal/metrics"
)

// Default periods.
const (
	LivePeriod    = 2 * time.Second
	HistoryPeriod = 30 * time.Second
)

// TickFunc fetches and processes one round for key. A returned error skips
// the round; the next scheduled tick retries. ctx is cancelled when the
// manager switches asset, pauses or stops, and a tick must not apply results
// after that.
type TickFunc func(ctx context.Context, key string) error

// Config configures a Manager.
type Config struct {
	// Name labels log lines and metrics, e.g. "live".
	Name   string
	Period time.Duration
	Clock  clock.Clock
	Tick   TickFunc

	// OnSwitch runs when the active key changes, before the first tick for
	// next. It must not call back into the Manager.
	OnSwitch func(prev, next string)
}

// Status is a snapshot of a Manager.
type Status struct {
	Key     string
	Running bool
	Paused  bool
}

// Manager owns the recurring tick for one asset key at a time. Ticks are
// sequential: the next tick is armed only after the previous one returns.
type Manager struct {
	name     string
	period   time.Duration
	clock    clock.Clock
	tick     TickFunc
	onSwitch func(prev, next string)

	mu      sync.Mutex
	key     string
	running bool
	paused  bool
	timer   clock.Timer
	cancel  context.CancelFunc
	gen     uint64
}

// NewManager creates a stopped Manager.
func NewManager(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Period <= 0 {
		cfg.Period = LivePeriod
	}
	return &Manager{
		name:     cfg.Name,
		period:   cfg.Period,
		clock:    cfg.Clock,
		tick:     cfg.Tick,
		onSwitch: cfg.OnSwitch,
	}
}

// Start polls key. A different key than the active one switches asset
// (resetting via OnSwitch) and ticks immediately. The same key is
// idempotent: it resumes if paused and never resets.
func (m *Manager) Start(key string) {
	if key == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if key == m.key {
		if !m.running {
			m.paused = false
			m.startLocked()
		}
		return
	}

	m.switchLocked(key)
	m.paused = false
	m.startLocked()
}

// SwitchTo changes the active key without changing whether the manager is
// polling. A no-op for the active key.
func (m *Manager) SwitchTo(key string) {
	if key == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if key == m.key {
		return
	}
	wasRunning := m.running
	m.switchLocked(key)
	if wasRunning {
		m.startLocked()
	}
}

// Pause stops polling and keeps all state. Idempotent.
func (m *Manager) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.key == "" {
		return
	}
	m.stopLocked()
	m.paused = true
}

// Resume restarts polling the active key with an immediate tick. A no-op if
// already polling or no key was ever started.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.key == "" || m.running {
		return
	}
	m.paused = false
	m.startLocked()
}

// Stop cancels polling and forgets the active key.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked()
	m.key = ""
	m.paused = false
}

// Status returns a snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{Key: m.key, Running: m.running, Paused: m.paused}
}

func (m *Manager) switchLocked(key string) {
	prev := m.key
	m.stopLocked()
	m.key = key
	if m.onSwitch != nil {
		m.onSwitch(prev, key)
	}
}

func (m *Manager) startLocked() {
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true
	m.timer = m.clock.AfterFunc(0, func() { m.fire(ctx, gen) })
}

// stopLocked cancels the armed timer and the in-flight tick.
func (m *Manager) stopLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.running = false
	m.gen++
}

func (m *Manager) fire(ctx context.Context, gen uint64) {
	m.mu.Lock()
	if gen != m.gen || !m.running {
		m.mu.Unlock()
		return
	}
	key := m.key
	m.timer = nil
	m.mu.Unlock()

	if err := m.tick(ctx, key); err != nil {
		metrics.PollTicks.WithLabelValues(m.name, "skipped").Inc()
		if !errors.Is(err, context.Canceled) {
			log.Printf("poll: %s tick for %s skipped: %v", m.name, key, err)
		}
	} else {
		metrics.PollTicks.WithLabelValues(m.name, "ok").Inc()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen == m.gen && m.running {
		m.timer = m.clock.AfterFunc(m.period, func() { m.fire(ctx, gen) })
	}
}
