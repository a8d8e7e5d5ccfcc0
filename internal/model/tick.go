package model

import "time"

// Tick is the merged view of the latest market data for one instrument.
// Prices are stored as int64 in paise (1 INR = 100 paise) to avoid float drift.
// Upstream sends partial updates (a quote leg and a reference leg); the store
// merges them per field, so a zero field means "not received yet".
type Tick struct {
	Token     string    `json:"token"`
	Exchange  string    `json:"exchange"`
	LTP       int64     `json:"ltp"`        // paise
	PrevClose int64     `json:"prev_close"` // paise, previous session close
	Bid       int64     `json:"bid"`        // paise, best bid
	Ask       int64     `json:"ask"`        // paise, best ask
	OI        int64     `json:"oi"`         // open interest
	OIChange  int64     `json:"oi_change"`  // OI delta vs previous session
	Volume    int64     `json:"volume"`     // cumulative traded quantity
	TickTS    time.Time `json:"tick_ts"`    // UTC timestamp of last update
}

// Key returns the cache key for this tick: "exchange:token".
func (t *Tick) Key() string {
	return t.Exchange + ":" + t.Token
}

// TickUpdate is a partial tick. Nil fields were not present in the upstream
// message and must not disturb previously merged values.
type TickUpdate struct {
	Token     string
	Exchange  string
	LTP       *int64
	PrevClose *int64
	Bid       *int64
	Ask       *int64
	OI        *int64
	OIChange  *int64
	Volume    *int64
	TickTS    time.Time
}

// Key returns the cache key for this update: "exchange:token".
func (u *TickUpdate) Key() string {
	return u.Exchange + ":" + u.Token
}

// Apply merges the set fields of u into t, leaving absent fields untouched.
func (t *Tick) Apply(u TickUpdate) {
	t.Token = u.Token
	t.Exchange = u.Exchange
	if u.LTP != nil {
		t.LTP = *u.LTP
	}
	if u.PrevClose != nil {
		t.PrevClose = *u.PrevClose
	}
	if u.Bid != nil {
		t.Bid = *u.Bid
	}
	if u.Ask != nil {
		t.Ask = *u.Ask
	}
	if u.OI != nil {
		t.OI = *u.OI
	}
	if u.OIChange != nil {
		t.OIChange = *u.OIChange
	}
	if u.Volume != nil {
		t.Volume = *u.Volume
	}
	if u.TickTS.After(t.TickTS) {
		t.TickTS = u.TickTS
	}
}

// I64 returns a pointer to v, for building TickUpdate literals.
func I64(v int64) *int64 { return &v }
