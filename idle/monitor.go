// Package idle implements the idle-session monitor that runs inside the
// client application for the lifetime of one authenticated session:
// Active → Warning → Expired, driven by user-activity events and a clock.
//
// Timer discipline: the monitor keeps exactly one logical deadline armed at
// a time and stamps every arm with a generation number; a callback from a
// superseded timer is ignored. That closes the classic stale-timer bugs
// (countdown jumps, warnings dismissed by a timer armed before the last
// reset). The countdown itself is recomputed from elapsed wall-clock time
// on every tick rather than decremented, so a delayed tick (tab
// backgrounding) cannot drift the displayed seconds.
package idle

import (
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Phase is the monitor's lifecycle state.
type Phase int

const (
	// PhaseActive means the session is live and activity re-arms the idle
	// timer.
	PhaseActive Phase = iota
	// PhaseWarning means the countdown is showing. Activity is ignored;
	// only Continue or Extend return to Active.
	PhaseWarning
	// PhaseExpired means the timeout callback has fired.
	PhaseExpired
)

// Config tunes a monitor.
type Config struct {
	// Timeout is the total idle allowance before expiry.
	Timeout time.Duration
	// Warning is how much of Timeout is spent in the countdown phase.
	Warning time.Duration
	// ActivityThrottle coalesces activity bursts: re-arms happen at most
	// once per interval. Continuous scrolling must not churn timers.
	ActivityThrottle time.Duration

	// OnTick receives the seconds remaining each countdown second,
	// starting when the warning appears.
	OnTick func(secondsLeft int)
	// OnExpire fires exactly once when the countdown reaches zero. This is
	// the session-teardown hook.
	OnExpire func()
}

// DefaultConfig returns the platform defaults: 30 minute timeout with a
// 2 minute warning, activity throttled to twice a second.
func DefaultConfig() Config {
	return Config{
		Timeout:          30 * time.Minute,
		Warning:          2 * time.Minute,
		ActivityThrottle: 500 * time.Millisecond,
	}
}

// Monitor is the idle-timeout phase machine. Its inputs arrive from UI
// event handlers and timer callbacks on different goroutines, so unlike the
// OTP challenge it carries a mutex; callbacks are always invoked outside it.
type Monitor struct {
	cfg Config
	clk clock.Clock

	mu               sync.Mutex
	phase            Phase
	enabled          bool
	cycleTimeout     time.Duration
	warningStartedAt time.Time
	lastTouch        time.Time
	gen              uint64
	idleTimer        *clock.Timer
	tickTimer        *clock.Timer
}

// NewMonitor creates a monitor. A nil clk uses the real clock; zero config
// fields fall back to DefaultConfig values. The monitor is idle until Start.
func NewMonitor(cfg Config, clk clock.Clock) *Monitor {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Warning <= 0 || cfg.Warning >= cfg.Timeout {
		cfg.Warning = def.Warning
	}
	if cfg.ActivityThrottle <= 0 {
		cfg.ActivityThrottle = def.ActivityThrottle
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Monitor{cfg: cfg, clk: clk, phase: PhaseActive}
}

// Start enables the monitor and arms the idle timer for a full cycle.
func (m *Monitor) Start() {
	m.mu.Lock()
	m.enabled = true
	m.resetLocked(m.cfg.Timeout)
	m.mu.Unlock()
}

// Stop disables the monitor: all timers are cancelled and the phase returns
// to Active without the timeout callback firing. A hard cancel, not a
// transition through Expired.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.enabled = false
	m.cancelTimersLocked()
	m.phase = PhaseActive
	m.mu.Unlock()
}

// Phase reports the current phase.
func (m *Monitor) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Touch records qualifying user activity (pointer-down, key-down, scroll,
// touch, click). It re-arms the idle timer at most once per throttle
// interval, and only while Active: ambient mouse movement must not dismiss
// a showing warning.
func (m *Monitor) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled || m.phase != PhaseActive {
		return
	}

	now := m.clk.Now()
	if !m.lastTouch.IsZero() && now.Sub(m.lastTouch) < m.cfg.ActivityThrottle {
		return
	}
	m.lastTouch = now
	m.armIdleLocked()
}

// Continue returns to Active with the original timeout, from any phase.
// This is the "stay signed in" action.
func (m *Monitor) Continue() {
	m.mu.Lock()
	if m.enabled {
		m.resetLocked(m.cfg.Timeout)
	}
	m.mu.Unlock()
}

// Extend returns to Active with the timeout lengthened by extra for this
// cycle only; the configured timeout is untouched.
func (m *Monitor) Extend(extra time.Duration) {
	m.mu.Lock()
	if m.enabled {
		m.resetLocked(m.cfg.Timeout + extra)
	}
	m.mu.Unlock()
}

// SecondsLeft reports the countdown value: the full warning length while
// Active, the wall-clock remainder while Warning, zero once Expired.
func (m *Monitor) SecondsLeft() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.phase {
	case PhaseActive:
		return int(math.Ceil(m.cfg.Warning.Seconds()))
	case PhaseWarning:
		return m.secondsLeftLocked(m.clk.Now())
	default:
		return 0
	}
}

func (m *Monitor) secondsLeftLocked(now time.Time) int {
	left := m.cfg.Warning - now.Sub(m.warningStartedAt)
	secs := int(math.Ceil(left.Seconds()))
	if secs < 0 {
		return 0
	}
	return secs
}

func (m *Monitor) resetLocked(timeout time.Duration) {
	m.cancelTimersLocked()
	m.phase = PhaseActive
	m.cycleTimeout = timeout
	m.lastTouch = time.Time{}
	m.armIdleLocked()
}

// cancelTimersLocked retires every armed timer. Bumping the generation also
// invalidates callbacks already in flight.
func (m *Monitor) cancelTimersLocked() {
	m.gen++
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
	if m.tickTimer != nil {
		m.tickTimer.Stop()
		m.tickTimer = nil
	}
}

func (m *Monitor) armIdleLocked() {
	m.gen++
	gen := m.gen
	if m.idleTimer != nil {
		m.idleTimer.Stop()
	}
	m.idleTimer = m.clk.AfterFunc(m.cycleTimeout-m.cfg.Warning, func() {
		m.onIdle(gen)
	})
}

func (m *Monitor) onIdle(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || !m.enabled || m.phase != PhaseActive {
		m.mu.Unlock()
		return
	}

	m.phase = PhaseWarning
	m.warningStartedAt = m.clk.Now()
	secs := m.secondsLeftLocked(m.warningStartedAt)
	m.armTickLocked(gen)
	onTick := m.cfg.OnTick
	m.mu.Unlock()

	if onTick != nil {
		onTick(secs)
	}
}

func (m *Monitor) armTickLocked(gen uint64) {
	m.tickTimer = m.clk.AfterFunc(time.Second, func() {
		m.onTick(gen)
	})
}

func (m *Monitor) onTick(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || !m.enabled || m.phase != PhaseWarning {
		m.mu.Unlock()
		return
	}

	secs := m.secondsLeftLocked(m.clk.Now())
	if secs <= 0 {
		m.phase = PhaseExpired
		m.cancelTimersLocked()
		onExpire := m.cfg.OnExpire
		m.mu.Unlock()
		if onExpire != nil {
			onExpire()
		}
		return
	}

	m.armTickLocked(gen)
	onTick := m.cfg.OnTick
	m.mu.Unlock()

	if onTick != nil {
		onTick(secs)
	}
}
