package gateway

import (
	"context"
	"strings"
	"testing"

	"optionsbot-v1/internal/model"
)

func paperPosition(side model.Side) model.PositionState {
	return model.PositionState{
		TrackerID:  "trk-1",
		Token:      "40001",
		Exchange:   "NFO",
		EntryPrice: 10000,
		Qty:        75,
		Side:       side,
		CurrentLTP: 10000,
		Status:     model.StatusActive,
	}
}

func TestPaper_SlippageAgainstLong(t *testing.T) {
	p := NewPaper(50) // 0.5%

	orderID, fill, err := p.SubmitExit(context.Background(), paperPosition(model.SideLong))
	if err != nil {
		t.Fatalf("SubmitExit: %v", err)
	}
	if !strings.HasPrefix(orderID, "PAPER-") {
		t.Errorf("orderID = %q, want PAPER- prefix", orderID)
	}
	// Long exit sells: fill below last price.
	if fill != 9950 {
		t.Errorf("fill = %d, want 9950", fill)
	}
}

func TestPaper_SlippageAgainstShort(t *testing.T) {
	p := NewPaper(50)

	_, fill, err := p.SubmitExit(context.Background(), paperPosition(model.SideShort))
	if err != nil {
		t.Fatalf("SubmitExit: %v", err)
	}
	// Short exit buys back: fill above last price.
	if fill != 10050 {
		t.Errorf("fill = %d, want 10050", fill)
	}
}

func TestPaper_ZeroSlippageAndFillLog(t *testing.T) {
	p := NewPaper(0)

	_, fill, err := p.SubmitExit(context.Background(), paperPosition(model.SideLong))
	if err != nil {
		t.Fatalf("SubmitExit: %v", err)
	}
	if fill != 10000 {
		t.Errorf("fill = %d, want 10000", fill)
	}

	fills := p.Fills()
	if len(fills) != 1 {
		t.Fatalf("fills = %d, want 1", len(fills))
	}
	if fills[0].TrackerID != "trk-1" || fills[0].FillQty != 75 {
		t.Errorf("fill record = %+v", fills[0])
	}

	// Order ids are unique per submission.
	id2, _, _ := p.SubmitExit(context.Background(), paperPosition(model.SideLong))
	if id2 == p.Fills()[0].OrderID {
		t.Error("duplicate order id across submissions")
	}
}
