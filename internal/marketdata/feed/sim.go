package feed

import (
	"context"
	"encoding/json"
	"log"
	"net/url"
	"time"

	"optionsbot-v1/internal/model"

	"github.com/gorilla/websocket"
)

// simTick is the JSON wire form of a partial tick. Pointer fields keep the
// absent-vs-zero distinction across the wire.
type simTick struct {
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

// SimConfig configures the simulated feed.
type SimConfig struct {
	// URL of the JSON tick server, e.g. "ws://localhost:9001/ws"
	URL string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds; backoff doubles up to MaxReconnectDelay (30s).
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

func (c *SimConfig) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Sim connects to a plain-JSON websocket tick server. Same interface as the
// live feed, no broker dependency.
type Sim struct {
	cfg SimConfig

	// OnReconnect is called each time the connection is re-established.
	OnReconnect func()
	// OnDrop is called when a tick is dropped because the channel is full.
	OnDrop func()
}

// NewSim creates a simulated feed. Returns an error for an unparseable URL.
func NewSim(cfg SimConfig) (*Sim, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, err
	}
	return &Sim{cfg: cfg}, nil
}

// Start streams ticks into tickCh, reconnecting with backoff, until ctx is
// cancelled.
func (s *Sim) Start(ctx context.Context, tickCh chan<- model.TickUpdate) error {
	delay := s.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := s.runOnce(ctx, tickCh)
		if err == nil {
			return nil
		}

		log.Printf("[feed] sim disconnected (%v), reconnecting in %s", err, delay)
		if s.OnReconnect != nil {
			s.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > s.cfg.MaxReconnectDelay {
			delay = s.cfg.MaxReconnectDelay
		}
	}
}

func (s *Sim) runOnce(ctx context.Context, tickCh chan<- model.TickUpdate) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("[feed] sim connected to %s", s.cfg.URL)

	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		var st simTick
		if err := json.Unmarshal(raw, &st); err != nil {
			log.Printf("[feed] sim parse error: %v (raw: %s)", err, raw)
			continue
		}
		if st.Token == "" {
			continue
		}

		u := model.TickUpdate{
			Token:     st.Token,
			Exchange:  st.Exchange,
			LTP:       st.LTP,
			PrevClose: st.PrevClose,
			Bid:       st.Bid,
			Ask:       st.Ask,
			OI:        st.OI,
			OIChange:  st.OIChange,
			Volume:    st.Volume,
			TickTS:    st.TickTS,
		}
		if u.TickTS.IsZero() {
			u.TickTS = time.Now().UTC()
		}

		select {
		case tickCh <- u:
		default:
			if s.OnDrop != nil {
				s.OnDrop()
			}
			log.Println("[feed] sim tick channel full, dropping tick")
		}
	}
}
