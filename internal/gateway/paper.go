// Package gateway provides the order gateways the exit coordinator submits
// through: a paper simulator and the live Angel One broker. Both satisfy
// model.OrderGateway, so the rest of the system cannot tell them apart.
package gateway

import (
	"context"
	"log"
	"sync"
	"time"

	"optionsbot-v1/internal/model"

	"github.com/google/uuid"
)

// Fill is one simulated order fill.
type Fill struct {
	OrderID   string    `json:"order_id"`
	TrackerID string    `json:"tracker_id"`
	Token     string    `json:"token"`
	Exchange  string    `json:"exchange"`
	FillPrice int64     `json:"fill_price"` // paise
	FillQty   int64     `json:"fill_qty"`
	Slippage  int64     `json:"slippage"` // paise, always against the position
	FilledAt  time.Time `json:"filled_at"`
}

// Paper simulates exits without broker calls. Fills happen at the position's
// last price with configurable slippage.
type Paper struct {
	mu    sync.RWMutex
	fills []Fill

	slippageBps int64 // basis points, e.g. 5 = 0.05%
}

// NewPaper creates a paper gateway.
func NewPaper(slippageBps int64) *Paper {
	return &Paper{
		fills:       make([]Fill, 0, 256),
		slippageBps: slippageBps,
	}
}

// SubmitExit fills at CurrentLTP minus slippage for a long close (the market
// sell crosses the spread) and plus slippage for a short close.
func (p *Paper) SubmitExit(ctx context.Context, pos model.PositionState) (string, int64, error) {
	orderID := "PAPER-" + uuid.NewString()

	fillPrice := pos.CurrentLTP
	slippage := int64(0)
	if p.slippageBps > 0 {
		slippage = fillPrice * p.slippageBps / 10000
		fillPrice -= slippage * pos.Side.Sign()
	}

	fill := Fill{
		OrderID:   orderID,
		TrackerID: pos.TrackerID,
		Token:     pos.Token,
		Exchange:  pos.Exchange,
		FillPrice: fillPrice,
		FillQty:   pos.Qty,
		Slippage:  slippage,
		FilledAt:  time.Now(),
	}
	p.mu.Lock()
	p.fills = append(p.fills, fill)
	p.mu.Unlock()

	log.Printf("[paper] exit %s %s:%s qty=%d price=%d (slip=%d) order=%s",
		pos.TrackerID, pos.Exchange, pos.Token, pos.Qty, fillPrice, slippage, orderID)
	return orderID, fillPrice, nil
}

// Fills returns a snapshot of all fills.
func (p *Paper) Fills() []Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}
