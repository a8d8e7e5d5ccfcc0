package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsbot-v1/internal/model"
)

var testTiers = []TrailingTier{
	{ThresholdPct: 10, SLOffsetPct: -2.5},
	{ThresholdPct: 15, SLOffsetPct: 0}, // breakeven
	{ThresholdPct: 20, SLOffsetPct: 4},
	{ThresholdPct: 30, SLOffsetPct: 10},
}

func activePos(entry, sl int64, pnlPct, peakPct float64) model.PositionState {
	return model.PositionState{
		TrackerID:     "trk-1",
		Token:         "43221",
		Exchange:      "NFO",
		EntryPrice:    entry,
		Qty:           75,
		Side:          model.SideLong,
		SLPrice:       sl,
		PnLPct:        pnlPct,
		PeakProfitPct: peakPct,
		Status:        model.StatusActive,
	}
}

func TestParseTiers_SortsAscending(t *testing.T) {
	tiers, err := ParseTiers("20:4, 10:-2.5 ,30:10,15:0")
	require.NoError(t, err)
	require.Len(t, tiers, 4)
	assert.Equal(t, 10.0, tiers[0].ThresholdPct)
	assert.Equal(t, 30.0, tiers[3].ThresholdPct)
	assert.Equal(t, 0.0, tiers[1].SLOffsetPct)
}

func TestParseTiers_FailFast(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"malformed":    "10-2.5",
		"bad number":   "ten:0",
		"duplicate":    "10:0,10:2",
		"no breakeven": "10:-2.5,20:4",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTiers(input)
			assert.Error(t, err)
		})
	}
}

func TestEvaluate_BreakevenTier(t *testing.T) {
	// 15% profit reaches the breakeven tier: stop moves to entry.
	pos := activePos(10000, 9500, 15.0, 15.0)
	ev := Evaluate(pos, testTiers, 5.0)
	assert.True(t, ev.SLUpdated)
	assert.Equal(t, int64(10000), ev.NewSLPrice)
	assert.Equal(t, ReasonTrailTier, ev.Reason)
	assert.False(t, ev.ExitRequested)
}

func TestEvaluate_SelectsHighestReachedTier(t *testing.T) {
	// 22% profit: the 20% tier (offset +4) applies, not the 30% one.
	pos := activePos(10000, 10000, 22.0, 22.0)
	ev := Evaluate(pos, testTiers, 5.0)
	assert.True(t, ev.SLUpdated)
	assert.Equal(t, int64(10400), ev.NewSLPrice)
}

func TestEvaluate_BelowFirstTierLeavesSLAlone(t *testing.T) {
	pos := activePos(10000, 9500, 4.0, 4.0)
	ev := Evaluate(pos, testTiers, 5.0)
	assert.False(t, ev.SLUpdated)
	assert.False(t, ev.ExitRequested)
	assert.Empty(t, ev.Reason)
}

func TestEvaluate_SLNotImproved(t *testing.T) {
	// Stop already above the tier candidate: leave it, report why. Peak is
	// kept within the drawdown threshold so only the stop path is exercised.
	pos := activePos(10000, 10450, 22.0, 25.0)
	ev := Evaluate(pos, testTiers, 5.0)
	assert.False(t, ev.SLUpdated)
	assert.False(t, ev.ExitRequested)
	assert.Equal(t, ReasonSLNotImproved, ev.Reason)
}

func TestEvaluate_PeakUpdated(t *testing.T) {
	pos := activePos(10000, 9500, 12.0, 8.0)
	ev := Evaluate(pos, testTiers, 5.0)
	assert.True(t, ev.PeakUpdated)

	pos = activePos(10000, 9500, 6.0, 8.0)
	ev = Evaluate(pos, testTiers, 5.0)
	assert.False(t, ev.PeakUpdated)
}

func TestEvaluate_PeakDrawdownBoundary(t *testing.T) {
	cases := []struct {
		name    string
		pnlPct  float64
		peakPct float64
		exit    bool
	}{
		{"drawdown 3.33 points", 21.67, 25.0, false},
		{"drawdown exactly 5 points", 20.0, 25.0, true},
		{"drawdown 7 points", 18.0, 25.0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pos := activePos(10000, 10000, tc.pnlPct, tc.peakPct)
			ev := Evaluate(pos, testTiers, 5.0)
			assert.Equal(t, tc.exit, ev.ExitRequested)
			if tc.exit {
				assert.Equal(t, ReasonPeakDrawdown, ev.Reason)
			}
		})
	}
}

func TestEvaluate_NoExitForExitedPosition(t *testing.T) {
	pos := activePos(10000, 10000, 18.0, 25.0)
	pos.Status = model.StatusExited
	ev := Evaluate(pos, testTiers, 5.0)
	assert.False(t, ev.ExitRequested)
}

// SL monotonicity: across any evaluation sequence, applying each proposed
// stop never yields a lower stop than before.
func TestEvaluate_SLMonotonicOverSequence(t *testing.T) {
	profits := []float64{12, 25, 16, 31, 8, 22, 35, 2}
	pos := activePos(10000, 9500, 0, 0)

	for _, pct := range profits {
		pos.PnLPct = pct
		if pct > pos.PeakProfitPct {
			pos.PeakProfitPct = pct
		}
		prev := pos.SLPrice
		ev := Evaluate(pos, testTiers, 1000) // drawdown exit disabled for this test
		if ev.SLUpdated {
			require.Greater(t, ev.NewSLPrice, prev, "proposed stop must improve")
			pos.SLPrice = ev.NewSLPrice
		}
		assert.GreaterOrEqual(t, pos.SLPrice, prev, "stop trailed backward at pnl %.1f%%", pct)
	}
	// Highest tier seen was 30% → offset +10% → 11000.
	assert.Equal(t, int64(11000), pos.SLPrice)
}
