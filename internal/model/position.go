package model

import "time"

// Side is the direction of a position.
type Side int8

const (
	SideLong  Side = 1
	SideShort Side = -1
)

// Sign returns +1 for long, -1 for short, as an int64 multiplier.
func (s Side) Sign() int64 { return int64(s) }

func (s Side) String() string {
	if s == SideShort {
		return "SHORT"
	}
	return "LONG"
}

// Position status values. The only legal transition is active → exited,
// exactly once.
const (
	StatusActive = "ACTIVE"
	StatusExited = "EXITED"
)

// PositionState is the live risk state of one open position. It is owned by
// the active-position cache while Status is ACTIVE; all mutation goes through
// the cache so the monotonic invariants (peak ratchet, SL never trails down)
// are enforced in one place.
type PositionState struct {
	TrackerID     string    `json:"tracker_id"`
	Token         string    `json:"token"`
	Exchange      string    `json:"exchange"` // NFO, BFO
	TradingSymbol string    `json:"trading_symbol"`
	EntryPrice    int64     `json:"entry_price"` // paise
	Qty           int64     `json:"qty"`
	Side          Side      `json:"side"`
	SLPrice       int64     `json:"sl_price"` // paise, never decreases while active
	TPPrice       int64     `json:"tp_price"` // paise
	CurrentLTP    int64     `json:"current_ltp"`
	PnL           int64     `json:"pnl"` // paise
	PnLPct        float64   `json:"pnl_pct"`
	PeakProfitPct float64   `json:"peak_profit_pct"` // ratchet, never decreases
	Status        string    `json:"status"`
	EntryAt       time.Time `json:"entry_at"`
	ExitPrice     int64     `json:"exit_price"` // paise, set on exit
	ExitReason    string    `json:"exit_reason"`
}

// Key returns the instrument key this position is routed by: "exchange:token".
func (p *PositionState) Key() string {
	return p.Exchange + ":" + p.Token
}

// ComputePnL returns the unrealized P&L in paise at the given LTP.
func (p *PositionState) ComputePnL(ltp int64) int64 {
	return (ltp - p.EntryPrice) * p.Qty * p.Side.Sign()
}

// ComputePnLPct returns the unrealized P&L as a percentage of entry price.
// Returns 0 for a zero entry price rather than dividing by it.
func (p *PositionState) ComputePnLPct(ltp int64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return float64((ltp-p.EntryPrice)*p.Side.Sign()) / float64(p.EntryPrice) * 100
}

// PositionRecord is the durable form of a position as stored in the position
// store. It carries only the fields needed to rebuild cache state after a
// restart; the live-computed fields (pnl, peak) are not durable.
type PositionRecord struct {
	TrackerID     string    `json:"tracker_id"`
	Token         string    `json:"token"`
	Exchange      string    `json:"exchange"`
	TradingSymbol string    `json:"trading_symbol"`
	EntryPrice    int64     `json:"entry_price"` // paise
	Qty           int64     `json:"qty"`
	Side          Side      `json:"side"`
	SLPrice       int64     `json:"sl_price"` // paise
	TPPrice       int64     `json:"tp_price"` // paise
	Status        string    `json:"status"`
	EntryAt       time.Time `json:"entry_at"`
}

// Key returns the instrument key: "exchange:token".
func (r *PositionRecord) Key() string {
	return r.Exchange + ":" + r.Token
}
