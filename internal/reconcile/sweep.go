// Package reconcile rebuilds the in-memory position structures from the
// durable store on a fixed interval. It is read-repair, not replication:
// after a restart or a missed update, the next sweep restores every durably
// active position and prunes entries the store no longer considers open.
package reconcile

import (
	"context"
	"log"
	"strings"
	"time"

	"optionsbot-v1/internal/model"
	"optionsbot-v1/internal/positions"
)

// Config configures a Sweep.
type Config struct {
	Store    model.PositionStore
	Cache    *positions.Cache
	Index    *positions.Index
	Interval time.Duration // default 10s
	Timeout  time.Duration // per LoadActive call, default 3s

	// OnSweep is called after each sweep with the number of records loaded
	// and cache entries pruned.
	OnSweep func(loaded, pruned int)
}

// Sweep is the periodic reconciliation job.
type Sweep struct {
	store    model.PositionStore
	cache    *positions.Cache
	index    *positions.Index
	interval time.Duration
	timeout  time.Duration
	onSweep  func(int, int)
	done     chan struct{}
}

// New creates a Sweep. Call Run to start it.
func New(cfg Config) *Sweep {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &Sweep{
		store:    cfg.Store,
		cache:    cfg.Cache,
		index:    cfg.Index,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		onSweep:  cfg.OnSweep,
		done:     make(chan struct{}),
	}
}

// Run sweeps immediately, then on every interval until ctx is cancelled.
func (s *Sweep) Run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Done is closed once Run has returned.
func (s *Sweep) Done() <-chan struct{} { return s.done }

func (s *Sweep) sweep(ctx context.Context) {
	loaded, pruned, err := s.Once(ctx)
	if err != nil {
		log.Printf("[reconcile] sweep failed: %v (keeping current cache)", err)
		return
	}
	if pruned > 0 {
		log.Printf("[reconcile] swept: %d active, pruned %d orphans", loaded, pruned)
	}
	if s.onSweep != nil {
		s.onSweep(loaded, pruned)
	}
}

// Once performs a single sweep: load every durably active position into the
// cache and index (additive merge), then prune cache entries the store no
// longer lists. Positions opened after the load began are left alone, so the
// sweep never evicts a position that live traffic added moments ago.
func (s *Sweep) Once(ctx context.Context) (loaded, pruned int, err error) {
	loadStart := time.Now().UTC()

	lctx, cancel := context.WithTimeout(ctx, s.timeout)
	records, err := s.store.LoadActive(lctx)
	cancel()
	if err != nil {
		return 0, 0, err
	}

	active := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if rec.Status != model.StatusActive {
			continue
		}
		active[rec.TrackerID] = struct{}{}
		s.cache.AddPosition(rec, rec.SLPrice, rec.TPPrice)
		loaded++
	}

	for _, id := range s.cache.TrackerIDs() {
		if _, ok := active[id]; ok {
			continue
		}
		pos, found := s.cache.GetByTrackerID(id)
		if !found {
			continue
		}
		// Grace for live opens racing the load: anything newer than the
		// load start is not an orphan yet.
		if pos.EntryAt.After(loadStart) {
			continue
		}
		s.cache.Remove(id)
		pruned++
	}

	s.pruneIndex(active)
	return loaded, pruned, nil
}

// pruneIndex drops index entries whose tracker is neither durably active nor
// cached, so a dangling entry resolves as "not found" instead of lingering.
func (s *Sweep) pruneIndex(active map[string]struct{}) {
	for _, key := range s.index.AllKeys() {
		exchange, token, ok := strings.Cut(key, ":")
		if !ok {
			continue
		}
		for _, id := range s.index.TrackersFor(exchange, token) {
			if _, durable := active[id]; durable {
				continue
			}
			if _, cached := s.cache.GetByTrackerID(id); cached {
				continue
			}
			s.index.Remove(id, exchange, token)
		}
	}
}
