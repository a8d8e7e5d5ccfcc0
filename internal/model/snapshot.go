package model

import "time"

// PnlSnapshot is the periodically persisted P&L view of one tracker.
// HWMPnL is a high-water mark in paise: the shared store merges writes so
// that a stored HWM never decreases.
type PnlSnapshot struct {
	TrackerID  string    `json:"tracker_id"`
	PnL        int64     `json:"pnl"`     // paise
	PnLPct     float64   `json:"pnl_pct"` // percent of entry
	LTP        int64     `json:"ltp"`     // paise
	HWMPnL     int64     `json:"hwm_pnl"` // paise, ratcheted
	ObservedAt time.Time `json:"observed_at"`
}
