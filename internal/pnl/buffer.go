// Package pnl implements write-behind persistence of P&L snapshots: the tick
// path stages the latest snapshot per tracker in memory, and a timer flushes
// staged entries to the shared store in bounded batches. Per-tick recompute
// is far more frequent than durable persistence needs to be; buffering turns
// per-tick writes into periodic bulk writes without losing the latest value.
package pnl

import (
	"context"
	"log"
	"sync"
	"time"

	"optionsbot-v1/internal/model"
	redisstore "optionsbot-v1/internal/store/redis"
)

// BufferConfig configures a Buffer.
type BufferConfig struct {
	KV            model.PnlKV
	FlushInterval time.Duration // default 3s
	FlushBatch    int           // max snapshots per flush cycle, default 100
	Timeout       time.Duration // per flush-call store timeout, default 500ms

	// Breaker, if set, wraps store flushes; while open, staged entries
	// simply carry over to a later cycle.
	Breaker *redisstore.CircuitBreaker

	// OnFlush is called with the number of snapshots written each cycle.
	OnFlush func(count int)
	// OnFlushError is called once per failed flush attempt.
	OnFlushError func()
}

// Buffer is the staging map plus flush loop. It is a buffer, not a queue:
// staging twice for the same tracker keeps only the latest snapshot (with
// the high-water mark merged so it cannot regress locally either).
type Buffer struct {
	mu     sync.Mutex
	staged map[string]model.PnlSnapshot

	kv       model.PnlKV
	interval time.Duration
	batch    int
	timeout  time.Duration
	breaker  *redisstore.CircuitBreaker

	done chan struct{}

	onFlush      func(int)
	onFlushError func()
}

// NewBuffer creates a Buffer. Call Run to start the flush loop.
func NewBuffer(cfg BufferConfig) *Buffer {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 3 * time.Second
	}
	if cfg.FlushBatch <= 0 {
		cfg.FlushBatch = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	return &Buffer{
		staged:       make(map[string]model.PnlSnapshot),
		kv:           cfg.KV,
		interval:     cfg.FlushInterval,
		batch:        cfg.FlushBatch,
		timeout:      cfg.Timeout,
		breaker:      cfg.Breaker,
		done:         make(chan struct{}),
		onFlush:      cfg.OnFlush,
		onFlushError: cfg.OnFlushError,
	}
}

// Stage records the latest snapshot for a tracker, last-write-wins per key.
// The staged high-water mark is ratcheted against both the previous staged
// value and the snapshot's own pnl. Never blocks on the store.
func (b *Buffer) Stage(trackerID string, pnl int64, pnlPct float64, ltp, hwm int64) {
	if hwm < pnl {
		hwm = pnl
	}
	b.mu.Lock()
	if prev, ok := b.staged[trackerID]; ok && prev.HWMPnL > hwm {
		hwm = prev.HWMPnL
	}
	b.staged[trackerID] = model.PnlSnapshot{
		TrackerID:  trackerID,
		PnL:        pnl,
		PnLPct:     pnlPct,
		LTP:        ltp,
		HWMPnL:     hwm,
		ObservedAt: time.Now().UTC(),
	}
	b.mu.Unlock()
}

// Run flushes on the configured interval until ctx is cancelled, then drains
// whatever is still staged before returning.
func (b *Buffer) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			// Final drain: keep flushing full batches until empty or the
			// store refuses.
			for b.StagedCount() > 0 {
				if n := b.Flush(); n == 0 {
					return
				}
			}
			return
		case <-ticker.C:
			b.Flush()
		}
	}
}

// Done is closed once Run has drained and returned.
func (b *Buffer) Done() <-chan struct{} { return b.done }

// Flush writes at most one batch of staged snapshots to the shared store and
// returns the number written. Entries beyond the batch bound, and the whole
// batch on failure, carry over to the next cycle.
func (b *Buffer) Flush() int {
	b.mu.Lock()
	if len(b.staged) == 0 {
		b.mu.Unlock()
		return 0
	}
	snaps := make([]model.PnlSnapshot, 0, b.batch)
	for id, s := range b.staged {
		snaps = append(snaps, s)
		delete(b.staged, id)
		if len(snaps) >= b.batch {
			break
		}
	}
	b.mu.Unlock()

	write := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		return b.kv.WriteSnapshots(ctx, snaps)
	}

	var err error
	if b.breaker != nil {
		err = b.breaker.Execute(write)
	} else {
		err = write()
	}
	if err != nil {
		if err != redisstore.ErrCircuitOpen {
			log.Printf("[pnl] flush of %d snapshots failed: %v", len(snaps), err)
		}
		if b.onFlushError != nil {
			b.onFlushError()
		}
		b.restage(snaps)
		return 0
	}

	if b.onFlush != nil {
		b.onFlush(len(snaps))
	}
	return len(snaps)
}

// restage puts failed snapshots back without clobbering anything newer that
// was staged while the flush was in flight.
func (b *Buffer) restage(snaps []model.PnlSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range snaps {
		cur, ok := b.staged[s.TrackerID]
		if !ok {
			b.staged[s.TrackerID] = s
			continue
		}
		if s.HWMPnL > cur.HWMPnL {
			cur.HWMPnL = s.HWMPnL
			b.staged[s.TrackerID] = cur
		}
	}
}

// Fetch returns the freshest snapshot for a tracker: the staged one if
// present, otherwise the shared store's.
func (b *Buffer) Fetch(ctx context.Context, trackerID string) (*model.PnlSnapshot, error) {
	b.mu.Lock()
	if s, ok := b.staged[trackerID]; ok {
		b.mu.Unlock()
		cp := s
		return &cp, nil
	}
	b.mu.Unlock()

	// Local-only mode: nothing staged and no shared store to fall back to.
	if b.kv == nil {
		return nil, nil
	}

	fctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.kv.FetchSnapshot(fctx, trackerID)
}

// Clear removes a tracker's snapshot from the staging map and the store.
func (b *Buffer) Clear(ctx context.Context, trackerID string) error {
	b.mu.Lock()
	delete(b.staged, trackerID)
	b.mu.Unlock()

	// Local-only mode: nothing to clear beyond the staging map.
	if b.kv == nil {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.kv.ClearSnapshot(cctx, trackerID)
}

// StagedCount returns the number of snapshots waiting to be flushed.
func (b *Buffer) StagedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.staged)
}
