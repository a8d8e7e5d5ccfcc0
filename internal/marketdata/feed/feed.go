// Package feed turns upstream market data into model.TickUpdate values on a
// channel. The live implementation speaks the Angel One binary stream; the
// sim implementation reads JSON ticks from any websocket server, which is
// enough for paper sessions and local testing.
package feed

import (
	"context"
	"fmt"
	"log"
	"time"

	"optionsbot-v1/internal/model"
	"optionsbot-v1/pkg/smartconnect"
)

// LiveConfig carries session credentials and the subscription set.
type LiveConfig struct {
	AuthToken  string
	APIKey     string
	ClientCode string
	FeedToken  string

	// Mode is the subscription depth; snap-quote carries OI and best bid/ask.
	Mode    int
	Entries []smartconnect.TokenListEntry
}

// Live streams the broker feed into a tick channel.
type Live struct {
	cfg    LiveConfig
	stream *smartconnect.Stream

	// OnDrop is called when a tick is dropped because the channel is full.
	OnDrop func()
	// OnReconnect is called after the stream re-establishes its connection.
	OnReconnect func()
}

// NewLive creates a live feed.
func NewLive(cfg LiveConfig) (*Live, error) {
	if cfg.Mode == 0 {
		cfg.Mode = smartconnect.ModeSnapQuote
	}
	stream, err := smartconnect.NewStream(smartconnect.StreamConfig{
		AuthToken:  cfg.AuthToken,
		APIKey:     cfg.APIKey,
		ClientCode: cfg.ClientCode,
		FeedToken:  cfg.FeedToken,
	})
	if err != nil {
		return nil, fmt.Errorf("feed: %w", err)
	}
	return &Live{cfg: cfg, stream: stream}, nil
}

// Start connects, subscribes and streams until ctx is cancelled.
func (f *Live) Start(ctx context.Context, tickCh chan<- model.TickUpdate) error {
	f.stream.OnTick = func(q smartconnect.QuoteTick) {
		u := Normalize(q)
		select {
		case tickCh <- u:
		default:
			if f.OnDrop != nil {
				f.OnDrop()
			}
			log.Println("[feed] tick channel full, dropping tick")
		}
	}
	f.stream.OnReconnect = f.OnReconnect
	f.stream.OnDisconnect = func(err error) {
		log.Printf("[feed] stream gave up: %v", err)
	}

	if err := f.stream.Connect(ctx); err != nil {
		return fmt.Errorf("feed connect: %w", err)
	}
	if err := f.stream.Subscribe(f.cfg.Mode, f.cfg.Entries); err != nil {
		return fmt.Errorf("feed subscribe: %w", err)
	}

	<-ctx.Done()
	f.stream.Close()
	return nil
}

// Normalize converts a parsed stream frame into a partial tick update: only
// fields the frame actually carried are set.
func Normalize(q smartconnect.QuoteTick) model.TickUpdate {
	u := model.TickUpdate{
		Token:    q.Token,
		Exchange: smartconnect.ExchangeName(q.ExchangeType),
		LTP:      model.I64(q.LTP),
		TickTS:   q.ExchangeTS.UTC(),
	}
	if u.TickTS.IsZero() || u.TickTS.Unix() <= 0 {
		u.TickTS = time.Now().UTC()
	}
	if q.HasQuote {
		u.PrevClose = model.I64(q.Close)
		u.Volume = model.I64(q.Volume)
	}
	if q.HasSnapOI {
		u.OI = model.I64(q.OI)
		u.OIChange = model.I64(q.OIChgPct)
	}
	if q.HasDepth {
		u.Bid = model.I64(q.BestBid)
		u.Ask = model.I64(q.BestAsk)
	}
	return u
}
