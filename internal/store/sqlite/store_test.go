package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"optionsbot-v1/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(StoreConfig{DBPath: filepath.Join(t.TempDir(), "positions.db")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(trackerID string) model.PositionRecord {
	return model.PositionRecord{
		TrackerID:     trackerID,
		Token:         "40001",
		Exchange:      "NFO",
		TradingSymbol: "NIFTY25SEP24800CE",
		EntryPrice:    10000,
		Qty:           75,
		Side:          model.SideLong,
		SLPrice:       9500,
		Status:        model.StatusActive,
		EntryAt:       time.Now().Truncate(time.Second),
	}
}

func TestSaveOpenAndLoadActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := testRecord("trk-1")
	if err := s.SaveOpen(ctx, want); err != nil {
		t.Fatalf("SaveOpen: %v", err)
	}

	recs, err := s.LoadActive(ctx)
	if err != nil {
		t.Fatalf("LoadActive: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("LoadActive returned %d records, want 1", len(recs))
	}
	got := recs[0]
	if got.TrackerID != want.TrackerID || got.EntryPrice != want.EntryPrice ||
		got.Qty != want.Qty || got.Side != want.Side || got.SLPrice != want.SLPrice {
		t.Fatalf("loaded record = %+v, want %+v", got, want)
	}
	if !got.EntryAt.Equal(want.EntryAt) {
		t.Fatalf("EntryAt = %v, want %v", got.EntryAt, want.EntryAt)
	}
}

func TestSaveOpen_UpsertKeepsEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("trk-1")
	if err := s.SaveOpen(ctx, rec); err != nil {
		t.Fatalf("SaveOpen: %v", err)
	}

	// A replay of the open with different entry details must update stops
	// but never rewrite the original entry.
	rec2 := rec
	rec2.EntryPrice = 99999
	rec2.SLPrice = 9700
	if err := s.SaveOpen(ctx, rec2); err != nil {
		t.Fatalf("SaveOpen (replay): %v", err)
	}

	recs, err := s.LoadActive(ctx)
	if err != nil {
		t.Fatalf("LoadActive: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("LoadActive returned %d records, want 1", len(recs))
	}
	if recs[0].EntryPrice != 10000 {
		t.Fatalf("EntryPrice after replay = %d, want 10000", recs[0].EntryPrice)
	}
	if recs[0].SLPrice != 9700 {
		t.Fatalf("SLPrice after replay = %d, want 9700", recs[0].SLPrice)
	}
}

func TestUpdateStops(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveOpen(ctx, testRecord("trk-1")); err != nil {
		t.Fatalf("SaveOpen: %v", err)
	}
	if err := s.UpdateStops(ctx, "trk-1", 9800, 0); err != nil {
		t.Fatalf("UpdateStops: %v", err)
	}

	recs, _ := s.LoadActive(ctx)
	if recs[0].SLPrice != 9800 {
		t.Fatalf("SLPrice = %d, want 9800", recs[0].SLPrice)
	}
	if recs[0].TPPrice != 0 {
		t.Fatalf("TPPrice = %d, want 0 (unset target untouched)", recs[0].TPPrice)
	}

	if err := s.UpdateStops(ctx, "trk-1", 9900, 12000); err != nil {
		t.Fatalf("UpdateStops with tp: %v", err)
	}
	recs, _ = s.LoadActive(ctx)
	if recs[0].SLPrice != 9900 || recs[0].TPPrice != 12000 {
		t.Fatalf("stops = %d/%d, want 9900/12000", recs[0].SLPrice, recs[0].TPPrice)
	}
}

func TestMarkExited_OneWay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveOpen(ctx, testRecord("trk-1")); err != nil {
		t.Fatalf("SaveOpen: %v", err)
	}
	exitAt := time.Now()
	if err := s.MarkExited(ctx, "trk-1", 11000, "peak_drawdown", exitAt); err != nil {
		t.Fatalf("MarkExited: %v", err)
	}

	recs, err := s.LoadActive(ctx)
	if err != nil {
		t.Fatalf("LoadActive: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("LoadActive after exit returned %d records, want 0", len(recs))
	}

	// Second exit is a no-op, not an error and not an overwrite.
	if err := s.MarkExited(ctx, "trk-1", 5000, "manual", time.Now()); err != nil {
		t.Fatalf("MarkExited (repeat): %v", err)
	}
	var exitPrice int64
	var reason string
	err = s.DB().QueryRow(`SELECT exit_price, exit_reason FROM positions WHERE tracker_id = ?`, "trk-1").
		Scan(&exitPrice, &reason)
	if err != nil {
		t.Fatalf("query exited row: %v", err)
	}
	if exitPrice != 11000 || reason != "peak_drawdown" {
		t.Fatalf("exit fields = %d/%q, want 11000/peak_drawdown", exitPrice, reason)
	}
}

func TestLoadActive_Empty(t *testing.T) {
	s := newTestStore(t)
	recs, err := s.LoadActive(context.Background())
	if err != nil {
		t.Fatalf("LoadActive: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("LoadActive on empty db returned %d records", len(recs))
	}
}
