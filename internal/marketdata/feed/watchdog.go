package feed

import (
	"context"
	"log"
	"sync"
	"time"
)

// Watchdog detects a stalled feed by watching tick arrival times. When no
// tick arrives for SilentFor during trading hours it fires OnStale once;
// the first tick after a stall fires OnRecover. The websocket layer can sit
// on a dead TCP connection for minutes, so this runs independently of the
// connection state.
type Watchdog struct {
	mu       sync.Mutex
	lastTick time.Time
	stale    bool

	// SilentFor is how long the feed must be tick-free before it is
	// considered stale. Default: 30 seconds.
	SilentFor time.Duration

	// Gate reports whether ticks are expected at the given time. When nil,
	// ticks are always expected. Wire the market-hours check here so the
	// watchdog stays quiet outside the session.
	Gate func(now time.Time) bool

	OnStale   func(gap time.Duration)
	OnRecover func(gap time.Duration)
}

// NewWatchdog creates a watchdog with the default silence threshold.
func NewWatchdog(silentFor time.Duration) *Watchdog {
	if silentFor <= 0 {
		silentFor = 30 * time.Second
	}
	return &Watchdog{SilentFor: silentFor}
}

// Observe records a tick arrival. Call this on every dispatched tick.
func (w *Watchdog) Observe(now time.Time) {
	w.mu.Lock()
	wasStale := w.stale
	gap := now.Sub(w.lastTick)
	w.lastTick = now
	w.stale = false
	w.mu.Unlock()

	if wasStale && w.OnRecover != nil {
		w.OnRecover(gap)
	}
}

// Check evaluates staleness at the given time and fires OnStale on the
// transition into a stall. Safe to call from a ticker loop.
func (w *Watchdog) Check(now time.Time) {
	if w.Gate != nil && !w.Gate(now) {
		return
	}

	w.mu.Lock()
	if w.lastTick.IsZero() {
		// No tick yet this session. Start the clock instead of alerting
		// on a feed that is still connecting.
		w.lastTick = now
		w.mu.Unlock()
		return
	}
	gap := now.Sub(w.lastTick)
	fire := gap >= w.SilentFor && !w.stale
	if fire {
		w.stale = true
	}
	w.mu.Unlock()

	if fire {
		log.Printf("[feed] watchdog: no ticks for %s", gap.Round(time.Second))
		if w.OnStale != nil {
			w.OnStale(gap)
		}
	}
}

// Stale reports whether the feed is currently considered stalled.
func (w *Watchdog) Stale() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stale
}

// Run checks staleness every interval until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.Check(now)
		}
	}
}
