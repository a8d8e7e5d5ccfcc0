// cmd/tickserver — Demo WebSocket tick server.
// Broadcasts simulated option ticks for running the trader in paper mode
// without broker credentials.
//
// Tick JSON shape matches the sim feed wire format: partial updates with
// optional fields, prices in paise (1 INR = 100 paise):
//
//	{"token":"43125","exchange":"NFO","ltp":1250000,"bid":1249500,"ask":1250500,"volume":84,"tick_ts":"..."}
//
// Most ticks carry only the quote leg (ltp/bid/ask/volume). Every
// TICK_REF_EVERY ticks an open-interest reference leg is broadcast instead,
// with no ltp, so consumers must handle absent fields.
//
// Config (env vars):
//
//	TICK_SERVER_ADDR  — listen address  (default: ":9001")
//	TICK_TOKENS       — comma-separated TOKEN:EXCHANGE pairs (default: "99926000:NSE,43125:NFO")
//	TICK_INTERVAL_MS  — broadcast interval milliseconds (default: "100")
//	TICK_REF_EVERY    — broadcast an OI reference leg every N ticks (default: "50")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wireTick mirrors the sim feed's JSON tick. Pointer fields keep the
// absent-vs-zero distinction on the wire.
type wireTick struct {
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

// instrument holds per-symbol simulation state.
type instrument struct {
	Token     string
	Exchange  string
	Price     int64 // current simulated premium in paise
	PrevClose int64
	OI        int64
	OpenOI    int64
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client — drop tick
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[tickserver] upgrade error: %v", err)
			return
		}
		log.Printf("[tickserver] client connected: %s", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[tickserver] client disconnected: %s", r.RemoteAddr)
		}()

		// Write pump: sends tick JSON to this client.
		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Tick generator ──────────────────────────────────────────────────────────

// walkPremium applies a random walk to the option premium. Option premiums
// move harder than the underlying, so the step is ±0.5% per tick with a
// floor of 5 paise.
func walkPremium(price int64) int64 {
	pct := (rand.Float64() - 0.5) / 100.0
	delta := int64(float64(price) * pct)
	newPrice := price + delta
	if newPrice < 5 {
		newPrice = 5
	}
	return newPrice
}

// quoteLeg builds the per-tick quote broadcast: ltp with a synthetic
// bid/ask spread of ~0.1% and a random traded volume.
func quoteLeg(ins *instrument) wireTick {
	ins.Price = walkPremium(ins.Price)

	spread := ins.Price / 1000
	if spread < 5 {
		spread = 5
	}
	ltp := ins.Price
	bid := ltp - spread
	ask := ltp + spread
	vol := int64(rand.Intn(200) + 1)

	return wireTick{
		Token:    ins.Token,
		Exchange: ins.Exchange,
		LTP:      &ltp,
		Bid:      &bid,
		Ask:      &ask,
		Volume:   &vol,
		TickTS:   time.Now().UTC(),
	}
}

// refLeg builds the occasional reference broadcast: open interest and
// previous close, no ltp.
func refLeg(ins *instrument) wireTick {
	// OI drifts in lots
	ins.OI += int64(rand.Intn(151) - 50)
	if ins.OI < 0 {
		ins.OI = 0
	}
	oi := ins.OI
	oiChg := ins.OI - ins.OpenOI
	prevClose := ins.PrevClose

	return wireTick{
		Token:     ins.Token,
		Exchange:  ins.Exchange,
		OI:        &oi,
		OIChange:  &oiChg,
		PrevClose: &prevClose,
		TickTS:    time.Now().UTC(),
	}
}

func runGenerator(h *hub, instruments []instrument, intervalMs, refEvery int) {
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	n := 0
	for range ticker.C {
		n++
		for i := range instruments {
			var msg wireTick
			if refEvery > 0 && n%refEvery == 0 {
				msg = refLeg(&instruments[i])
			} else {
				msg = quoteLeg(&instruments[i])
			}
			b, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			h.broadcast(b)
		}
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[tickserver] starting demo tick server...")

	rand.Seed(time.Now().UnixNano())

	addr := envOrDefault("TICK_SERVER_ADDR", ":9001")
	tokensEnv := envOrDefault("TICK_TOKENS", "99926000:NSE,43125:NFO")
	intervalMs := envIntOrDefault("TICK_INTERVAL_MS", 100)
	refEvery := envIntOrDefault("TICK_REF_EVERY", 50)

	instruments := parseInstruments(tokensEnv)
	if len(instruments) == 0 {
		log.Fatalf("[tickserver] no instruments configured via TICK_TOKENS")
	}
	log.Printf("[tickserver] instruments: %+v", instruments)
	log.Printf("[tickserver] broadcast interval: %dms, OI leg every %d ticks", intervalMs, refEvery)

	h := newHub()

	go runGenerator(h, instruments, intervalMs, refEvery)

	http.HandleFunc("/ws", wsHandler(h))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})

	log.Printf("[tickserver] ✅ listening on %s  (WebSocket: ws://localhost%s/ws)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[tickserver] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func parseInstruments(s string) []instrument {
	// Default starting premiums in paise (INR × 100)
	defaultPrices := map[string]int64{
		"99926000": 25660_00, // NIFTY 50 index sim (spot)
		"99926009": 57200_00, // BANKNIFTY index sim (spot)
		"43125":    125_00,   // ~₹125.00 option premium
		"43126":    98_50,    // ~₹98.50 option premium
	}

	var result []instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		seg := strings.SplitN(part, ":", 2)
		if len(seg) != 2 {
			log.Printf("[tickserver] skipping invalid token spec: %q", part)
			continue
		}
		token, exchange := strings.TrimSpace(seg[0]), strings.TrimSpace(seg[1])
		price := defaultPrices[token]
		if price == 0 {
			price = 150_00 // default ₹150.00 premium
		}
		oi := int64(rand.Intn(50000) + 10000)
		result = append(result, instrument{
			Token:     token,
			Exchange:  exchange,
			Price:     price,
			PrevClose: price,
			OI:        oi,
			OpenOI:    oi,
		})
	}
	return result
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
