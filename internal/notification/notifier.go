// Package notification delivers trading alerts (exits, feed stalls,
// recovery events) to external channels: Telegram, generic webhooks, or
// plain logs. Delivery runs off the tick path through a Dispatcher.
package notification

import (
	"context"
	"fmt"
	"log"
	"time"

	"optionsbot-v1/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	At      time.Time  `json:"at"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts instead of delivering them. Used in development
// and as the fallback when no channel is configured.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// rupees formats a paise amount as a rupee string for alert text.
func rupees(paise int64) string {
	return fmt.Sprintf("₹%.2f", float64(paise)/100)
}

// ExitAlert builds the alert for a completed position exit.
func ExitAlert(pos *model.PositionState, reason string, exitPrice int64) Alert {
	level := AlertInfo
	if pos.PnL < 0 {
		level = AlertWarning
	}
	return Alert{
		Level: level,
		Title: fmt.Sprintf("Exit %s (%s)", pos.TradingSymbol, reason),
		Message: fmt.Sprintf("%s x%d exited at %s (entry %s), P&L %s (%.2f%%), peak %.2f%%",
			pos.TradingSymbol, pos.Qty, rupees(exitPrice), rupees(pos.EntryPrice),
			rupees(pos.PnL), pos.PnLPct, pos.PeakProfitPct),
		At: time.Now().UTC(),
	}
}

// ExitFailureAlert builds the alert for an exit that could not be submitted.
// These are critical: the position is still open and past its exit trigger.
func ExitFailureAlert(trackerID string, err error) Alert {
	return Alert{
		Level:   AlertCritical,
		Title:   "Exit submission failed",
		Message: fmt.Sprintf("tracker %s: %v (will retry on next tick)", trackerID, err),
		At:      time.Now().UTC(),
	}
}

// FeedStaleAlert builds the alert for a market-data feed that has gone
// silent during trading hours.
func FeedStaleAlert(silentFor time.Duration, activePositions int) Alert {
	level := AlertWarning
	if activePositions > 0 {
		level = AlertCritical
	}
	return Alert{
		Level:   level,
		Title:   "Market data feed stale",
		Message: fmt.Sprintf("no ticks for %s with %d active positions", silentFor.Round(time.Second), activePositions),
		At:      time.Now().UTC(),
	}
}

// RecoveryAlert builds the startup alert after the reconciliation sweep
// restores positions from the durable store.
func RecoveryAlert(recovered int) Alert {
	return Alert{
		Level:   AlertInfo,
		Title:   "Trader started",
		Message: fmt.Sprintf("recovered %d active positions from store", recovered),
		At:      time.Now().UTC(),
	}
}

// Dispatcher fans alerts out to the configured notifiers from a background
// goroutine, so the tick path never blocks on a slow channel. Alerts are
// dropped (with a log line) if the queue is full.
type Dispatcher struct {
	notifiers []Notifier
	queue     chan Alert
	done      chan struct{}
}

// NewDispatcher creates a dispatcher over the given notifiers. A nil or
// empty notifier list falls back to the log notifier.
func NewDispatcher(notifiers ...Notifier) *Dispatcher {
	if len(notifiers) == 0 {
		notifiers = []Notifier{NewLogNotifier()}
	}
	return &Dispatcher{
		notifiers: notifiers,
		queue:     make(chan Alert, 64),
		done:      make(chan struct{}),
	}
}

// Notify enqueues an alert without blocking.
func (d *Dispatcher) Notify(alert Alert) {
	select {
	case d.queue <- alert:
	default:
		log.Printf("[notify] queue full, dropping alert: %s", alert.Title)
	}
}

// Run delivers queued alerts until ctx is cancelled, then drains the queue.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case alert := <-d.queue:
			d.deliver(ctx, alert)
		case <-ctx.Done():
			for {
				select {
				case alert := <-d.queue:
					d.deliver(context.Background(), alert)
				default:
					return
				}
			}
		}
	}
}

// Done is closed once Run has drained and returned.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) deliver(ctx context.Context, alert Alert) {
	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	for _, n := range d.notifiers {
		if err := n.Send(sendCtx, alert); err != nil {
			log.Printf("[notify] delivery failed: %v", err)
		}
	}
}
