// Package engine runs the tick dispatch loop: every incoming tick is merged
// into the tick store, routed through the position index to the positions
// holding that instrument, re-marked for P&L, evaluated for trailing-stop
// and peak-drawdown decisions, and staged for write-behind persistence.
// Processing is isolated per position: one bad position never stops the
// loop for the others.
package engine

import (
	"context"
	"log"
	"math"

	"optionsbot-v1/internal/model"
	"optionsbot-v1/internal/pnl"
	"optionsbot-v1/internal/positions"
	"optionsbot-v1/internal/risk"
	"optionsbot-v1/internal/tickstore"
)

// Config wires an Engine.
type Config struct {
	Ticks  *tickstore.Store
	Index  *positions.Index
	Cache  *positions.Cache
	Buffer *pnl.Buffer
	Exits  *risk.Coordinator
	Store  model.PositionStore

	Tiers           []risk.TrailingTier
	PeakDrawdownPct float64

	// OnTick is called once per dispatched tick, OnSLTrail once per applied
	// stop adjustment. Metrics hooks.
	OnTick    func()
	OnSLTrail func()
}

// Engine is the dispatch core. It also exposes the read/mutate surface the
// entry-admission and reporting layers use.
type Engine struct {
	ticks  *tickstore.Store
	index  *positions.Index
	cache  *positions.Cache
	buffer *pnl.Buffer
	exits  *risk.Coordinator
	store  model.PositionStore

	tiers       []risk.TrailingTier
	drawdownPct float64

	onTick    func()
	onSLTrail func()
}

// New creates an Engine.
func New(cfg Config) *Engine {
	if cfg.PeakDrawdownPct <= 0 {
		cfg.PeakDrawdownPct = 5.0
	}
	return &Engine{
		ticks:       cfg.Ticks,
		index:       cfg.Index,
		cache:       cfg.Cache,
		buffer:      cfg.Buffer,
		exits:       cfg.Exits,
		store:       cfg.Store,
		tiers:       cfg.Tiers,
		drawdownPct: cfg.PeakDrawdownPct,
		onTick:      cfg.OnTick,
		onSLTrail:   cfg.OnSLTrail,
	}
}

// Run consumes tick updates until ctx is cancelled or the channel closes.
func (e *Engine) Run(ctx context.Context, tickCh <-chan model.TickUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-tickCh:
			if !ok {
				return
			}
			e.Dispatch(ctx, u)
		}
	}
}

// Dispatch processes one tick update end to end.
func (e *Engine) Dispatch(ctx context.Context, u model.TickUpdate) {
	e.ticks.Put(u)
	if e.onTick != nil {
		e.onTick()
	}

	// Reference-only updates carry no price; nothing to evaluate.
	if u.LTP == nil {
		return
	}
	ltp := *u.LTP

	for _, trackerID := range e.index.TrackersFor(u.Exchange, u.Token) {
		e.evaluate(ctx, trackerID, ltp)
	}
}

func (e *Engine) evaluate(ctx context.Context, trackerID string, ltp int64) {
	// A dangling index entry resolves as not-found here; the sweep will
	// clean it up.
	pos, _, ok := e.cache.UpdateLTP(trackerID, ltp)
	if !ok {
		return
	}

	ev := risk.Evaluate(pos, e.tiers, e.drawdownPct)

	if ev.SLUpdated {
		pos, _ = e.cache.UpdatePosition(trackerID, positions.FieldUpdate{SLPrice: &ev.NewSLPrice})
		if err := e.store.UpdateStops(ctx, trackerID, pos.SLPrice, pos.TPPrice); err != nil {
			log.Printf("[engine] %s: durable stop update failed: %v", trackerID, err)
		}
		if e.onSLTrail != nil {
			e.onSLTrail()
		}
	}

	if ev.ExitRequested {
		res := e.exits.ExecuteExit(ctx, trackerID, ev.Reason)
		if res.Success {
			return // final snapshot already staged by the coordinator
		}
		log.Printf("[engine] %s: exit request failed (%s), will retry on next tick", trackerID, res.ErrorKind)
	}

	e.buffer.Stage(trackerID, pos.PnL, pos.PnLPct, ltp, peakPnl(pos))
}

// peakPnl converts the ratcheted peak percentage into absolute paise for the
// snapshot's high-water mark.
func peakPnl(pos model.PositionState) int64 {
	return int64(math.Round(pos.PeakProfitPct / 100 * float64(pos.EntryPrice*pos.Qty)))
}

// ── Surface for entry admission and reporting ──

// OpenPosition durably records a new open position and registers it with the
// cache and index.
func (e *Engine) OpenPosition(ctx context.Context, rec model.PositionRecord, slPrice, tpPrice int64) (model.PositionState, error) {
	rec.Status = model.StatusActive
	if err := e.store.SaveOpen(ctx, rec); err != nil {
		return model.PositionState{}, err
	}
	state := e.cache.AddPosition(rec, slPrice, tpPrice)
	log.Printf("[engine] opened %s %s qty=%d entry=%d sl=%d tp=%d",
		state.TrackerID, state.TradingSymbol, state.Qty, state.EntryPrice, slPrice, tpPrice)
	return state, nil
}

// LTP returns the latest cached price for an instrument.
func (e *Engine) LTP(ctx context.Context, exchange, token string) (int64, bool) {
	return e.ticks.LTP(ctx, exchange, token)
}

// ActivePositions returns a snapshot of every cached position.
func (e *Engine) ActivePositions() []model.PositionState {
	return e.cache.Snapshot()
}

// GetByTrackerID returns the live state of an open position.
func (e *Engine) GetByTrackerID(trackerID string) (model.PositionState, bool) {
	return e.cache.GetByTrackerID(trackerID)
}

// FetchPnl returns the freshest P&L snapshot for a tracker.
func (e *Engine) FetchPnl(ctx context.Context, trackerID string) (*model.PnlSnapshot, error) {
	return e.buffer.Fetch(ctx, trackerID)
}

// UpdatePosition applies a partial field update through the cache.
func (e *Engine) UpdatePosition(trackerID string, u positions.FieldUpdate) (model.PositionState, bool) {
	return e.cache.UpdatePosition(trackerID, u)
}

// ExecuteExit closes a position once, by tracker id.
func (e *Engine) ExecuteExit(ctx context.Context, trackerID, reason string) risk.ExitResult {
	return e.exits.ExecuteExit(ctx, trackerID, reason)
}
