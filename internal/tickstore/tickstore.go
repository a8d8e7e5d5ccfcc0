// Package tickstore is the two-tier cache of latest market ticks: a
// process-local table in front of the shared key/value store. Reads are
// local-first with read-through on a miss; writes merge locally and are
// pushed to the shared store off the caller's path, so a slow or dead store
// never stalls tick ingestion.
package tickstore

import (
	"context"
	"log"
	"sync"
	"time"

	"optionsbot-v1/internal/markethours"
	"optionsbot-v1/internal/model"
	redisstore "optionsbot-v1/internal/store/redis"
)

const defaultWriteQueue = 10000

// Config configures a Store.
type Config struct {
	// KV is the shared store tier. May be nil: the store then runs
	// local-only (degraded but functional).
	KV model.TickKV

	// Timeout bounds every shared-store call. Expiry is a cache miss,
	// never an error surfaced to the caller.
	Timeout time.Duration

	// Breaker, if set, wraps shared-store writes so a failing store is
	// skipped instead of timed out on every tick.
	Breaker *redisstore.CircuitBreaker

	// TTL computes the shared-store key TTL for a tick observed at t.
	// Defaults to markethours.TickTTL (end of trading day).
	TTL func(t time.Time) time.Duration

	// OnWriteDrop is called when a write-through is dropped (queue full or
	// store failure). OnWriteDone is called with the duration of each
	// successful shared-store write. Used for metrics.
	OnWriteDrop func()
	OnWriteDone func(d time.Duration)
}

// Store is the two-tier tick cache. Safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	local map[string]*model.Tick

	kv      model.TickKV
	timeout time.Duration
	breaker *redisstore.CircuitBreaker
	ttl     func(time.Time) time.Duration

	writeCh chan model.TickUpdate
	done    chan struct{}

	onWriteDrop func()
	onWriteDone func(time.Duration)
}

// New creates a Store. Call Start to launch the write-through worker and
// Close on shutdown.
func New(cfg Config) *Store {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	if cfg.TTL == nil {
		cfg.TTL = markethours.TickTTL
	}
	return &Store{
		local:       make(map[string]*model.Tick),
		kv:          cfg.KV,
		timeout:     cfg.Timeout,
		breaker:     cfg.Breaker,
		ttl:         cfg.TTL,
		writeCh:     make(chan model.TickUpdate, defaultWriteQueue),
		done:        make(chan struct{}),
		onWriteDrop: cfg.OnWriteDrop,
		onWriteDone: cfg.OnWriteDone,
	}
}

// Start runs the write-through worker until ctx is cancelled.
func (s *Store) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-s.writeCh:
				if !ok {
					return
				}
				s.writeThrough(u)
			}
		}
	}()
}

// Close waits for the write-through worker to stop. Safe to call after the
// Start context is cancelled.
func (s *Store) Close() {
	<-s.done
}

// Put merges the update into the local table and queues the shared-store
// write. It never blocks and never returns an error: write-through failures
// are logged and counted.
func (s *Store) Put(u model.TickUpdate) {
	key := u.Key()

	s.mu.Lock()
	t, ok := s.local[key]
	if !ok {
		t = &model.Tick{Token: u.Token, Exchange: u.Exchange}
		s.local[key] = t
	}
	t.Apply(u)
	s.mu.Unlock()

	if s.kv == nil {
		return
	}
	select {
	case s.writeCh <- u:
	default:
		s.drop("write queue full", key)
	}
}

// LTP returns the last traded price in paise, local-first with read-through.
// The second return is false when no price is known from either tier.
func (s *Store) LTP(ctx context.Context, exchange, token string) (int64, bool) {
	t, ok := s.Fetch(ctx, exchange, token)
	if !ok || t.LTP == 0 {
		return 0, false
	}
	return t.LTP, true
}

// Fetch returns the merged tick for an instrument, local-first. On a local
// miss it falls through to the shared store and repopulates the local entry.
// A store failure is a miss, not an error.
func (s *Store) Fetch(ctx context.Context, exchange, token string) (model.Tick, bool) {
	key := exchange + ":" + token

	s.mu.RLock()
	if t, ok := s.local[key]; ok {
		cp := *t
		s.mu.RUnlock()
		return cp, true
	}
	s.mu.RUnlock()

	if s.kv == nil {
		return model.Tick{}, false
	}

	fctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	t, err := s.kv.FetchTick(fctx, exchange, token)
	if err != nil {
		log.Printf("[tickstore] fetch %s: %v", key, err)
		return model.Tick{}, false
	}
	if t == nil {
		return model.Tick{}, false
	}

	s.mu.Lock()
	// A live tick may have landed while we were fetching; merge under it,
	// not over it.
	if cur, ok := s.local[key]; ok {
		cp := *cur
		s.mu.Unlock()
		return cp, true
	}
	cp := *t
	s.local[key] = t
	s.mu.Unlock()
	return cp, true
}

// Len returns the number of locally cached instruments.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.local)
}

func (s *Store) writeThrough(u model.TickUpdate) {
	at := u.TickTS
	if at.IsZero() {
		at = time.Now()
	}
	ttl := s.ttl(at)
	write := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		return s.kv.MergeTick(ctx, u, ttl)
	}

	start := time.Now()
	var err error
	if s.breaker != nil {
		err = s.breaker.Execute(write)
	} else {
		err = write()
	}
	if err != nil {
		if err != redisstore.ErrCircuitOpen {
			log.Printf("[tickstore] write-through %s: %v", u.Key(), err)
		}
		s.drop("", "")
		return
	}
	if s.onWriteDone != nil {
		s.onWriteDone(time.Since(start))
	}
}

func (s *Store) drop(reason, key string) {
	if reason != "" {
		log.Printf("[tickstore] dropping write for %s: %s", key, reason)
	}
	if s.onWriteDrop != nil {
		s.onWriteDrop()
	}
}
