package gateway

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"optionsbot-v1/internal/model"
	"optionsbot-v1/pkg/smartconnect"
)

// Live submits real market orders through the SmartAPI client. The broker
// does not return the fill price synchronously, so the last traded price is
// fetched right after placement as the fill estimate; the durable record
// keeps that estimate.
type Live struct {
	client *smartconnect.Client
}

// NewLive creates a live gateway over an authenticated client.
func NewLive(client *smartconnect.Client) *Live {
	return &Live{client: client}
}

func (l *Live) SubmitExit(ctx context.Context, pos model.PositionState) (string, int64, error) {
	side := "SELL"
	if pos.Side == model.SideShort {
		side = "BUY"
	}

	orderID, err := l.client.PlaceOrder(ctx, smartconnect.OrderParams{
		Variety:         "NORMAL",
		TradingSymbol:   pos.TradingSymbol,
		SymbolToken:     pos.Token,
		TransactionType: side,
		Exchange:        pos.Exchange,
		OrderType:       "MARKET",
		ProductType:     "CARRYFORWARD",
		Duration:        "DAY",
		Quantity:        strconv.FormatInt(pos.Qty, 10),
	})
	if err != nil {
		return "", 0, fmt.Errorf("live exit %s: %w", pos.TrackerID, err)
	}

	fillPrice, err := l.client.LTP(ctx, pos.Exchange, pos.TradingSymbol, pos.Token)
	if err != nil {
		// Order is placed; fall back to the last cached price rather than
		// failing the exit.
		log.Printf("[live] %s: fill price fetch failed, using cached ltp: %v", pos.TrackerID, err)
		fillPrice = pos.CurrentLTP
	}

	log.Printf("[live] exit %s %s %s qty=%d order=%s fill~%d",
		pos.TrackerID, side, pos.TradingSymbol, pos.Qty, orderID, fillPrice)
	return orderID, fillPrice, nil
}
