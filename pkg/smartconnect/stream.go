package smartconnect

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// SmartAPI market data stream (smart-stream v2): binary quote frames over
// websocket with a text ping heartbeat.

const (
	streamURI         = "wss://smartapisocket.angelone.in/smart-stream"
	heartbeatMessage  = "ping"
	heartbeatInterval = 10 * time.Second
)

// Subscription modes.
const (
	ModeLTP       = 1
	ModeQuote     = 2
	ModeSnapQuote = 3
)

// Exchange type codes on the wire.
const (
	ExchangeNSECM = 1
	ExchangeNSEFO = 2
	ExchangeBSECM = 3
	ExchangeBSEFO = 4
)

// ExchangeCode maps exchange segment names to wire codes.
func ExchangeCode(exchange string) (int, error) {
	switch exchange {
	case "NSE":
		return ExchangeNSECM, nil
	case "NFO":
		return ExchangeNSEFO, nil
	case "BSE":
		return ExchangeBSECM, nil
	case "BFO":
		return ExchangeBSEFO, nil
	}
	return 0, fmt.Errorf("unknown exchange %q", exchange)
}

// ExchangeName is the inverse of ExchangeCode.
func ExchangeName(code int) string {
	switch code {
	case ExchangeNSECM:
		return "NSE"
	case ExchangeNSEFO:
		return "NFO"
	case ExchangeBSECM:
		return "BSE"
	case ExchangeBSEFO:
		return "BFO"
	}
	return fmt.Sprintf("EX%d", code)
}

// TokenListEntry groups tokens by exchange for a subscribe request.
type TokenListEntry struct {
	ExchangeType int      `json:"exchangeType"`
	Tokens       []string `json:"tokens"`
}

// QuoteTick is one parsed binary frame. Prices are paise, as on the wire.
type QuoteTick struct {
	Mode         int
	ExchangeType int
	Token        string
	Sequence     int64
	ExchangeTS   time.Time

	LTP    int64
	Volume int64

	// Quote/snap-quote fields; zero in LTP mode.
	Open      int64
	High      int64
	Low       int64
	Close     int64 // previous close
	HasQuote  bool
	OI        int64
	OIChgPct  int64
	BestBid   int64
	BestAsk   int64
	HasDepth  bool
	HasSnapOI bool
}

// StreamConfig carries the session credentials for the stream.
type StreamConfig struct {
	AuthToken  string
	APIKey     string
	ClientCode string
	FeedToken  string

	URI string // default: smart-stream production endpoint

	MaxRetries int           // reconnect attempts before giving up, default 5
	RetryDelay time.Duration // base delay between attempts, default 2s
}

// Stream is one websocket connection to the market data feed. Subscriptions
// are remembered and replayed after a reconnect.
type Stream struct {
	cfg    StreamConfig
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
	subs map[int][]TokenListEntry // mode -> entries

	// OnTick receives every parsed quote frame. Called from the read loop.
	OnTick func(QuoteTick)
	// OnReconnect is called after a successful reconnect and resubscribe.
	OnReconnect func()
	// OnDisconnect is called when the stream gives up reconnecting.
	OnDisconnect func(err error)
}

// NewStream creates a Stream. Connect must be called before Subscribe.
func NewStream(cfg StreamConfig) (*Stream, error) {
	if cfg.AuthToken == "" || cfg.APIKey == "" || cfg.ClientCode == "" || cfg.FeedToken == "" {
		return nil, errors.New("smartconnect stream: all credentials required")
	}
	if cfg.URI == "" {
		cfg.URI = streamURI
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &Stream{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		subs:   make(map[int][]TokenListEntry),
	}, nil
}

// Connect dials the stream and starts the read and heartbeat loops. The
// loops stop when ctx is cancelled.
func (s *Stream) Connect(ctx context.Context) error {
	if err := s.dial(); err != nil {
		return err
	}
	go s.readLoop(ctx)
	go s.heartbeatLoop(ctx)
	return nil
}

func (s *Stream) dial() error {
	header := http.Header{}
	header.Set("Authorization", s.cfg.AuthToken)
	header.Set("x-api-key", s.cfg.APIKey)
	header.Set("x-client-code", s.cfg.ClientCode)
	header.Set("x-feed-token", s.cfg.FeedToken)

	conn, resp, err := s.dialer.Dial(s.cfg.URI, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("stream dial: %w (status %s)", err, resp.Status)
		}
		return fmt.Errorf("stream dial: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	log.Printf("[smartconnect] stream connected")
	return nil
}

// Subscribe requests quote frames for the given tokens and remembers the
// subscription for replay after reconnect.
func (s *Stream) Subscribe(mode int, entries []TokenListEntry) error {
	s.mu.Lock()
	s.subs[mode] = mergeEntries(s.subs[mode], entries)
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return errors.New("stream not connected")
	}
	return conn.WriteJSON(subscribeRequest(mode, entries))
}

func subscribeRequest(mode int, entries []TokenListEntry) map[string]any {
	return map[string]any{
		"correlationID": fmt.Sprintf("sub-%d", mode),
		"action":        1,
		"params": map[string]any{
			"mode":      mode,
			"tokenList": entries,
		},
	}
}

func mergeEntries(existing, add []TokenListEntry) []TokenListEntry {
	byExchange := make(map[int]map[string]struct{})
	for _, e := range existing {
		if byExchange[e.ExchangeType] == nil {
			byExchange[e.ExchangeType] = make(map[string]struct{})
		}
		for _, t := range e.Tokens {
			byExchange[e.ExchangeType][t] = struct{}{}
		}
	}
	for _, e := range add {
		if byExchange[e.ExchangeType] == nil {
			byExchange[e.ExchangeType] = make(map[string]struct{})
		}
		for _, t := range e.Tokens {
			byExchange[e.ExchangeType][t] = struct{}{}
		}
	}
	out := make([]TokenListEntry, 0, len(byExchange))
	for ex, set := range byExchange {
		tokens := make([]string, 0, len(set))
		for t := range set {
			tokens = append(tokens, t)
		}
		out = append(out, TokenListEntry{ExchangeType: ex, Tokens: tokens})
	}
	return out
}

func (s *Stream) resubscribe() error {
	s.mu.Lock()
	conn := s.conn
	subs := make(map[int][]TokenListEntry, len(s.subs))
	for mode, entries := range s.subs {
		subs[mode] = entries
	}
	s.mu.Unlock()

	if conn == nil {
		return errors.New("stream not connected")
	}
	for mode, entries := range subs {
		if err := conn.WriteJSON(subscribeRequest(mode, entries)); err != nil {
			return err
		}
	}
	return nil
}

// Close shuts the connection down.
func (s *Stream) Close() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}
}

func (s *Stream) readLoop(ctx context.Context) {
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		mt, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if rerr := s.reconnect(ctx); rerr != nil {
				log.Printf("[smartconnect] stream reconnect failed: %v", rerr)
				if s.OnDisconnect != nil {
					s.OnDisconnect(rerr)
				}
				return
			}
			continue
		}

		switch mt {
		case websocket.BinaryMessage:
			tick, perr := parseQuoteFrame(message)
			if perr != nil {
				log.Printf("[smartconnect] frame parse error: %v", perr)
				continue
			}
			if s.OnTick != nil {
				s.OnTick(tick)
			}
		case websocket.TextMessage:
			// "pong" heartbeats and error notices arrive as text
			if string(message) != "pong" {
				log.Printf("[smartconnect] stream notice: %s", message)
			}
		}
	}
}

func (s *Stream) reconnect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.RetryDelay * time.Duration(attempt)):
		}
		if lastErr = s.dial(); lastErr == nil {
			if lastErr = s.resubscribe(); lastErr == nil {
				log.Printf("[smartconnect] stream reconnected (attempt %d)", attempt)
				if s.OnReconnect != nil {
					s.OnReconnect()
				}
				return nil
			}
		}
		log.Printf("[smartconnect] stream reconnect attempt %d/%d: %v",
			attempt, s.cfg.MaxRetries, lastErr)
	}
	return fmt.Errorf("gave up after %d attempts: %w", s.cfg.MaxRetries, lastErr)
}

func (s *Stream) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(heartbeatMessage)); err != nil {
				log.Printf("[smartconnect] heartbeat write: %v", err)
			}
		}
	}
}

// Binary frame layout (little endian):
//
//	[0]      subscription mode
//	[1]      exchange type
//	[2:27]   token, NUL padded
//	[27:35]  sequence number
//	[35:43]  exchange timestamp, ms
//	[43:51]  last traded price, paise
//
// quote and snap-quote frames continue with traded quantities, OHLC, and for
// snap-quote open interest and best-five depth.
func parseQuoteFrame(b []byte) (QuoteTick, error) {
	if len(b) < 51 {
		return QuoteTick{}, fmt.Errorf("frame too short: %d bytes", len(b))
	}

	tick := QuoteTick{
		Mode:         int(b[0]),
		ExchangeType: int(b[1]),
		Token:        tokenString(b[2:27]),
		Sequence:     int64(binary.LittleEndian.Uint64(b[27:35])),
		ExchangeTS:   time.UnixMilli(int64(binary.LittleEndian.Uint64(b[35:43]))),
		LTP:          int64(binary.LittleEndian.Uint64(b[43:51])),
	}

	if (tick.Mode == ModeQuote || tick.Mode == ModeSnapQuote) && len(b) >= 123 {
		tick.HasQuote = true
		tick.Volume = int64(binary.LittleEndian.Uint64(b[67:75]))
		tick.Open = int64(binary.LittleEndian.Uint64(b[91:99]))
		tick.High = int64(binary.LittleEndian.Uint64(b[99:107]))
		tick.Low = int64(binary.LittleEndian.Uint64(b[107:115]))
		tick.Close = int64(binary.LittleEndian.Uint64(b[115:123]))
	}

	if tick.Mode == ModeSnapQuote && len(b) >= 347 {
		tick.HasSnapOI = true
		tick.OI = int64(binary.LittleEndian.Uint64(b[131:139]))
		tick.OIChgPct = int64(binary.LittleEndian.Uint64(b[139:147]))
		tick.BestBid, tick.BestAsk = parseBestPrices(b[147:347])
		tick.HasDepth = tick.BestBid != 0 || tick.BestAsk != 0
	}

	return tick, nil
}

func tokenString(b []byte) string {
	for i := range b {
		if b[i] == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// parseBestPrices extracts the top-of-book bid and ask from the best-five
// block: ten 20-byte packets, flag 0 = buy side, best level first.
func parseBestPrices(b []byte) (bid, ask int64) {
	for i := 0; i+20 <= len(b); i += 20 {
		p := b[i : i+20]
		flag := binary.LittleEndian.Uint16(p[0:2])
		price := int64(binary.LittleEndian.Uint64(p[10:18]))
		if flag == 0 {
			if bid == 0 {
				bid = price
			}
		} else if ask == 0 {
			ask = price
		}
	}
	return bid, ask
}
