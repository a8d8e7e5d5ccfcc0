package model

import "time"

// Instrument describes a tradeable option contract.
type Instrument struct {
	Token         string    `json:"token"`
	Exchange      string    `json:"exchange"` // NFO, BFO
	TradingSymbol string    `json:"trading_symbol"`
	Name          string    `json:"name"`        // underlying, e.g. NIFTY, SENSEX
	OptionType    string    `json:"option_type"` // CE, PE (empty for the underlying index)
	Strike        int64     `json:"strike"`      // paise
	Expiry        time.Time `json:"expiry"`
	LotSize       int64     `json:"lot_size"`
	TickSize      int64     `json:"tick_size"` // minimum price movement in paise
}

// Key returns a unique key for this instrument: "exchange:token".
func (i *Instrument) Key() string {
	return i.Exchange + ":" + i.Token
}
