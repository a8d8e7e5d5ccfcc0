// Package risk holds the per-tick decision layer: the trailing-stop
// controller that ratchets stops upward through configured profit tiers and
// requests an exit when profit retraces too far from its peak, and the exit
// coordinator that performs an exit exactly once.
package risk

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"optionsbot-v1/internal/model"
)

// TrailingTier maps a profit threshold to a stop-loss offset from entry.
// Offsets may be negative (stop still below entry) at low profit levels;
// the breakeven tier has a zero offset.
type TrailingTier struct {
	ThresholdPct float64 // applies once pnl_pct reaches this
	SLOffsetPct  float64 // stop = entry * (1 + offset/100)
}

// ParseTiers parses a "threshold:offset,threshold:offset" table, e.g.
// "10:-2.5,15:0,20:4,30:10". The result is sorted ascending by threshold.
// Fails if the table is empty, has duplicate thresholds, or lacks a
// breakeven (zero-offset) tier.
func ParseTiers(s string) ([]TrailingTier, error) {
	parts := strings.Split(s, ",")
	tiers := make([]TrailingTier, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		th, off, found := strings.Cut(p, ":")
		if !found {
			return nil, fmt.Errorf("tier %q: want threshold:offset", p)
		}
		threshold, err := strconv.ParseFloat(strings.TrimSpace(th), 64)
		if err != nil {
			return nil, fmt.Errorf("tier %q: bad threshold: %w", p, err)
		}
		offset, err := strconv.ParseFloat(strings.TrimSpace(off), 64)
		if err != nil {
			return nil, fmt.Errorf("tier %q: bad offset: %w", p, err)
		}
		tiers = append(tiers, TrailingTier{ThresholdPct: threshold, SLOffsetPct: offset})
	}
	if len(tiers) == 0 {
		return nil, fmt.Errorf("empty tier table")
	}

	sort.Slice(tiers, func(i, j int) bool { return tiers[i].ThresholdPct < tiers[j].ThresholdPct })

	hasBreakeven := false
	for i, t := range tiers {
		if i > 0 && t.ThresholdPct == tiers[i-1].ThresholdPct {
			return nil, fmt.Errorf("duplicate tier threshold %g", t.ThresholdPct)
		}
		if t.SLOffsetPct == 0 {
			hasBreakeven = true
		}
	}
	if !hasBreakeven {
		return nil, fmt.Errorf("tier table has no breakeven (0%% offset) tier")
	}
	return tiers, nil
}

// Evaluation reasons.
const (
	ReasonSLNotImproved = "sl_not_improved"
	ReasonTrailTier     = "trail_tier"
	ReasonPeakDrawdown  = "peak_drawdown"
)

// Evaluation is the outcome of one trailing evaluation. NewSLPrice is only
// meaningful when SLUpdated is true; the caller routes it back through the
// position cache rather than mutating the state directly.
type Evaluation struct {
	PeakUpdated   bool
	SLUpdated     bool
	NewSLPrice    int64 // paise
	ExitRequested bool
	Reason        string
}

// Evaluate is a pure decision function over one position's current state.
// It ratchets the peak-profit mark, selects the highest tier the current
// profit has reached, proposes a stop that only ever moves up, and requests
// an exit once profit has retraced peakDrawdownPct points from its peak.
func Evaluate(pos model.PositionState, tiers []TrailingTier, peakDrawdownPct float64) Evaluation {
	var ev Evaluation

	pnlPct := pos.PnLPct
	peak := pos.PeakProfitPct
	if pnlPct > peak {
		peak = pnlPct
		ev.PeakUpdated = true
	}

	// Highest tier whose threshold the profit has reached. Tiers are sorted
	// ascending, so the last match wins.
	var tier *TrailingTier
	for i := range tiers {
		if tiers[i].ThresholdPct <= pnlPct {
			tier = &tiers[i]
		}
	}
	if tier != nil {
		candidate := int64(math.Round(float64(pos.EntryPrice) * (1 + tier.SLOffsetPct/100)))
		if candidate > pos.SLPrice {
			ev.SLUpdated = true
			ev.NewSLPrice = candidate
			ev.Reason = ReasonTrailTier
		} else {
			ev.Reason = ReasonSLNotImproved
		}
	}

	if peak-pnlPct >= peakDrawdownPct && pos.Status == model.StatusActive {
		ev.ExitRequested = true
		ev.Reason = ReasonPeakDrawdown
	}
	return ev
}
