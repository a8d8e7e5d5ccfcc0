package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"optionsbot-v1/internal/model"
)

func TestExitAlert_Levels(t *testing.T) {
	pos := &model.PositionState{
		TradingSymbol: "NIFTY25SEP24800CE",
		EntryPrice:    10000,
		Qty:           75,
		PnL:           150000,
		PnLPct:        20.0,
		PeakProfitPct: 22.5,
	}
	a := ExitAlert(pos, "peak_drawdown", 12000)
	if a.Level != AlertInfo {
		t.Fatalf("profitable exit level = %s, want INFO", a.Level)
	}

	pos.PnL = -50000
	a = ExitAlert(pos, "stop_loss", 9000)
	if a.Level != AlertWarning {
		t.Fatalf("losing exit level = %s, want WARNING", a.Level)
	}
}

func TestFeedStaleAlert_CriticalWithOpenPositions(t *testing.T) {
	a := FeedStaleAlert(45*time.Second, 0)
	if a.Level != AlertWarning {
		t.Fatalf("flat book level = %s, want WARNING", a.Level)
	}
	a = FeedStaleAlert(45*time.Second, 2)
	if a.Level != AlertCritical {
		t.Fatalf("open book level = %s, want CRITICAL", a.Level)
	}
}

func TestFormatAlert_TimestampInIST(t *testing.T) {
	a := Alert{
		Level:   AlertCritical,
		Title:   "Market data feed stale",
		Message: "no ticks for 45s",
		At:      time.Date(2026, time.March, 3, 6, 0, 0, 0, time.UTC), // 11:30 IST
	}
	text := formatAlert(a)
	if !strings.Contains(text, "11:30:00 IST") {
		t.Fatalf("alert text missing IST stamp: %q", text)
	}
	if !strings.Contains(text, "🚨") {
		t.Fatalf("critical alert missing severity marker: %q", text)
	}
	if !strings.Contains(text, `no ticks for 45s`) {
		t.Fatalf("alert text missing message body: %q", text)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	got := escapeMarkdown("P&L -1.5% (trk_1)")
	want := `P&L \-1\.5% \(trk\_1\)`
	if got != want {
		t.Fatalf("escapeMarkdown = %q, want %q", got, want)
	}
}

func TestWebhookNotifier_PostsAlertJSON(t *testing.T) {
	var mu sync.Mutex
	var got Alert

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	err := n.Send(context.Background(), Alert{Level: AlertCritical, Title: "Exit submission failed", Message: "tracker t1"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if got.Level != AlertCritical || got.Title != "Exit submission failed" {
		t.Fatalf("received alert = %+v", got)
	}
	if got.At.IsZero() {
		t.Fatal("At not stamped on the wire")
	}
}

func TestDispatcher_DeliversAndDrains(t *testing.T) {
	var mu sync.Mutex
	var seen []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a Alert
		json.NewDecoder(r.Body).Decode(&a)
		mu.Lock()
		seen = append(seen, a.Title)
		mu.Unlock()
	}))
	defer srv.Close()

	d := NewDispatcher(NewWebhookNotifier(srv.URL))
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	d.Notify(Alert{Title: "first"})
	d.Notify(Alert{Title: "second"})

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("delivered %d alerts, want 2", n)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after cancel")
	}
}
