// cmd/replay feeds recorded ticks through the full position pipeline with a
// paper gateway: trailing stops move, drawdown exits fire, and the run ends
// with a fill summary. Ticks come from a JSON-lines file, one partial tick
// per line, same shape as the sim feed wire format.
//
// Usage:
//
//	go run ./cmd/replay --ticks=data/ticks.jsonl --speed=100 \
//	    --open=trk-1:40001:NFO:NIFTY25SEP24800CE:10000:75:9500
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"optionsbot-v1/internal/engine"
	"optionsbot-v1/internal/gateway"
	"optionsbot-v1/internal/model"
	"optionsbot-v1/internal/pnl"
	"optionsbot-v1/internal/positions"
	"optionsbot-v1/internal/reconcile"
	"optionsbot-v1/internal/risk"
	sqlitestore "optionsbot-v1/internal/store/sqlite"
	"optionsbot-v1/internal/tickstore"
)

// recordedTick mirrors the sim feed wire format.
type recordedTick struct {
	Token     string    `json:"token"`
	Exchange  string    `json:"exchange"`
	LTP       *int64    `json:"ltp,omitempty"`
	PrevClose *int64    `json:"prev_close,omitempty"`
	Bid       *int64    `json:"bid,omitempty"`
	Ask       *int64    `json:"ask,omitempty"`
	OI        *int64    `json:"oi,omitempty"`
	OIChange  *int64    `json:"oi_change,omitempty"`
	Volume    *int64    `json:"volume,omitempty"`
	TickTS    time.Time `json:"tick_ts"`
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	ticksPath := flag.String("ticks", "data/ticks.jsonl", "JSON-lines tick recording")
	dbPath := flag.String("db", "data/replay-positions.db", "SQLite position database")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime)")
	tiersStr := flag.String("tiers", "10:-2.5,15:0,20:4,30:10", "Trailing tiers threshold:offset,...")
	drawdown := flag.Float64("drawdown", 5.0, "Peak drawdown exit, percentage points")
	slippage := flag.Int64("slippage", 5, "Paper slippage in basis points")
	open := flag.String("open", "", "Open a position first: trk:token:exch:symbol:entry:qty:sl")
	flag.Parse()

	tiers, err := risk.ParseTiers(*tiersStr)
	if err != nil {
		log.Fatalf("[replay] tiers: %v", err)
	}

	store, err := sqlitestore.New(sqlitestore.StoreConfig{DBPath: *dbPath})
	if err != nil {
		log.Fatalf("[replay] sqlite open failed: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Local-only tick store; replay never touches Redis.
	ticks := tickstore.New(tickstore.Config{})
	ticks.Start(ctx)
	defer ticks.Close()

	index := positions.NewIndex()
	cache := positions.NewCache(index)
	buffer := pnl.NewBuffer(pnl.BufferConfig{})
	paper := gateway.NewPaper(*slippage)
	exits := risk.NewCoordinator(cache, store, paper, buffer)

	eng := engine.New(engine.Config{
		Ticks:           ticks,
		Index:           index,
		Cache:           cache,
		Buffer:          buffer,
		Exits:           exits,
		Store:           store,
		Tiers:           tiers,
		PeakDrawdownPct: *drawdown,
	})

	if *open != "" {
		if err := openFromSpec(ctx, eng, *open); err != nil {
			log.Fatalf("[replay] --open: %v", err)
		}
	}

	sweep := reconcile.New(reconcile.Config{Store: store, Cache: cache, Index: index})
	loaded, _, err := sweep.Once(ctx)
	if err != nil {
		log.Fatalf("[replay] position load failed: %v", err)
	}
	if cache.Len() == 0 {
		log.Fatal("[replay] no active positions; seed the db or pass --open")
	}
	log.Printf("[replay] tracking %d positions", loaded)

	f, err := os.Open(*ticksPath)
	if err != nil {
		log.Fatalf("[replay] open ticks: %v", err)
	}
	defer f.Close()

	processed := 0
	var prevTS time.Time
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rt recordedTick
		if err := json.Unmarshal([]byte(line), &rt); err != nil {
			log.Printf("[replay] skipping bad line: %v", err)
			continue
		}
		if rt.Token == "" {
			continue
		}

		// Replay the recorded gaps at the requested speed, capped so long
		// overnight gaps do not stall the run.
		if *speed > 0 && !prevTS.IsZero() && rt.TickTS.After(prevTS) {
			gap := time.Duration(float64(rt.TickTS.Sub(prevTS)) / *speed)
			if gap > 5*time.Second {
				gap = 5 * time.Second
			}
			time.Sleep(gap)
		}
		prevTS = rt.TickTS

		eng.Dispatch(ctx, model.TickUpdate{
			Token:     rt.Token,
			Exchange:  rt.Exchange,
			LTP:       rt.LTP,
			PrevClose: rt.PrevClose,
			Bid:       rt.Bid,
			Ask:       rt.Ask,
			OI:        rt.OI,
			OIChange:  rt.OIChange,
			Volume:    rt.Volume,
			TickTS:    rt.TickTS,
		})
		processed++
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("[replay] read ticks: %v", err)
	}

	fills := paper.Fills()
	fmt.Println()
	fmt.Printf("replay complete: %d ticks, %d exits, %d positions still open\n",
		processed, len(fills), cache.Len())
	for _, fill := range fills {
		fmt.Printf("  exit %-10s %s:%s qty=%d fill=%d slip=%d order=%s\n",
			fill.TrackerID, fill.Exchange, fill.Token, fill.FillQty,
			fill.FillPrice, fill.Slippage, fill.OrderID)
	}
	for _, pos := range cache.Snapshot() {
		fmt.Printf("  open %-10s %s pnl=%d (%.2f%%) peak=%.2f%% sl=%d\n",
			pos.TrackerID, pos.TradingSymbol, pos.PnL, pos.PnLPct,
			pos.PeakProfitPct, pos.SLPrice)
	}
}

// openFromSpec parses trk:token:exch:symbol:entry:qty:sl and opens it.
func openFromSpec(ctx context.Context, eng *engine.Engine, spec string) error {
	parts := strings.Split(spec, ":")
	if len(parts) != 7 {
		return fmt.Errorf("want 7 fields, got %d", len(parts))
	}
	entry, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil {
		return fmt.Errorf("entry price: %w", err)
	}
	qty, err := strconv.ParseInt(parts[5], 10, 64)
	if err != nil {
		return fmt.Errorf("qty: %w", err)
	}
	sl, err := strconv.ParseInt(parts[6], 10, 64)
	if err != nil {
		return fmt.Errorf("sl price: %w", err)
	}

	_, err = eng.OpenPosition(ctx, model.PositionRecord{
		TrackerID:     parts[0],
		Token:         parts[1],
		Exchange:      parts[2],
		TradingSymbol: parts[3],
		EntryPrice:    entry,
		Qty:           qty,
		Side:          model.SideLong,
		EntryAt:       time.Now(),
	}, sl, 0)
	return err
}
