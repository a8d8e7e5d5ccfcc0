package positions

import (
	"sync"

	"optionsbot-v1/internal/model"
)

// Cache is the process-local table of open-position risk state, keyed by
// tracker id. It is the sole owner of a PositionState while the position is
// active: every field change routes through a Cache method so the monotonic
// invariants (peak ratchet, SL never trails down, active→exited once) are
// enforced in one place.
//
// The cache starts empty after a restart; the reconciliation sweep fills it
// from the durable store. Callers treat "not found" as "unknown", never as
// "not open".
type Cache struct {
	mu        sync.RWMutex
	byTracker map[string]*model.PositionState
	index     *Index
}

// NewCache creates an empty Cache wired to the given routing index.
func NewCache(index *Index) *Cache {
	return &Cache{
		byTracker: make(map[string]*model.PositionState),
		index:     index,
	}
}

// AddPosition registers an open position and its index entry from a durable
// record, with the given initial stop and target. Calling it again for the
// same tracker updates the stops (never downward while active) instead of
// duplicating; live-computed fields survive the upsert.
func (c *Cache) AddPosition(rec model.PositionRecord, slPrice, tpPrice int64) model.PositionState {
	c.mu.Lock()
	p, ok := c.byTracker[rec.TrackerID]
	if !ok {
		p = &model.PositionState{
			TrackerID:     rec.TrackerID,
			Token:         rec.Token,
			Exchange:      rec.Exchange,
			TradingSymbol: rec.TradingSymbol,
			EntryPrice:    rec.EntryPrice,
			Qty:           rec.Qty,
			Side:          rec.Side,
			SLPrice:       slPrice,
			TPPrice:       tpPrice,
			Status:        model.StatusActive,
			EntryAt:       rec.EntryAt,
		}
		c.byTracker[rec.TrackerID] = p
	} else {
		if slPrice > p.SLPrice {
			p.SLPrice = slPrice
		}
		if tpPrice != 0 {
			p.TPPrice = tpPrice
		}
	}
	cp := *p
	c.mu.Unlock()

	c.index.Add(rec.TrackerID, rec.Exchange, rec.Token)
	return cp
}

// UpdateLTP recomputes pnl and pnl_pct at the new price and ratchets the
// peak-profit mark, all under the cache lock so concurrent updates for the
// same tracker cannot regress the ratchet. Returns the updated state, whether
// the peak rose, and whether the tracker was found.
func (c *Cache) UpdateLTP(trackerID string, ltp int64) (model.PositionState, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.byTracker[trackerID]
	if !ok {
		return model.PositionState{}, false, false
	}

	p.CurrentLTP = ltp
	p.PnL = p.ComputePnL(ltp)
	p.PnLPct = p.ComputePnLPct(ltp)

	peakChanged := false
	if p.PnLPct > p.PeakProfitPct {
		p.PeakProfitPct = p.PnLPct
		peakChanged = true
	}
	return *p, peakChanged, true
}

// GetByTrackerID returns a copy of the position state.
func (c *Cache) GetByTrackerID(trackerID string) (model.PositionState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byTracker[trackerID]
	if !ok {
		return model.PositionState{}, false
	}
	return *p, true
}

// FieldUpdate is a partial update applied through UpdatePosition. Nil fields
// are left unchanged.
type FieldUpdate struct {
	SLPrice    *int64
	TPPrice    *int64
	Status     *string
	ExitPrice  *int64
	ExitReason *string
}

// UpdatePosition applies a partial update under the invariants: a stop-loss
// below the current one is ignored while active, and status can only move
// active → exited. Returns the resulting state and whether the tracker was
// found.
func (c *Cache) UpdatePosition(trackerID string, u FieldUpdate) (model.PositionState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.byTracker[trackerID]
	if !ok {
		return model.PositionState{}, false
	}

	if u.SLPrice != nil && *u.SLPrice > p.SLPrice {
		p.SLPrice = *u.SLPrice
	}
	if u.TPPrice != nil {
		p.TPPrice = *u.TPPrice
	}
	if u.Status != nil && *u.Status == model.StatusExited {
		p.Status = model.StatusExited
	}
	if u.ExitPrice != nil {
		p.ExitPrice = *u.ExitPrice
	}
	if u.ExitReason != nil {
		p.ExitReason = *u.ExitReason
	}
	return *p, true
}

// Remove drops a position from the cache and its index entry. Removing an
// unknown tracker is a no-op.
func (c *Cache) Remove(trackerID string) {
	c.mu.Lock()
	p, ok := c.byTracker[trackerID]
	if ok {
		delete(c.byTracker, trackerID)
	}
	c.mu.Unlock()

	if ok {
		c.index.Remove(trackerID, p.Exchange, p.Token)
	}
}

// TrackerIDs returns the ids of all cached positions.
func (c *Cache) TrackerIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.byTracker))
	for id := range c.byTracker {
		out = append(out, id)
	}
	return out
}

// Snapshot returns copies of all cached positions.
func (c *Cache) Snapshot() []model.PositionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.PositionState, 0, len(c.byTracker))
	for _, p := range c.byTracker {
		out = append(out, *p)
	}
	return out
}

// Len returns the number of cached positions.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byTracker)
}
