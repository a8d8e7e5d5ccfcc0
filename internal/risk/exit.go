package risk

import (
	"context"
	"log"
	"sync"
	"time"

	"optionsbot-v1/internal/model"
	"optionsbot-v1/internal/pnl"
	"optionsbot-v1/internal/positions"
)

// ErrorKind values surfaced in ExitResult.
const (
	ErrKindGateway = "gateway" // order submission failed; position stays active, retry is safe
)

// ExitResult is the typed outcome of ExecuteExit. A repeated exit for the
// same tracker succeeds with NoOp set and no side effects.
type ExitResult struct {
	Success   bool
	NoOp      bool   // already exited, unknown, or exit already in flight
	OrderID   string
	FillPrice int64 // paise
	ErrorKind string
	Err       error
}

// Coordinator executes exits exactly once per position. The status check and
// the in-flight mark happen under one lock, so two racing exit requests for
// the same tracker produce a single order submission.
type Coordinator struct {
	mu       sync.Mutex
	inflight map[string]struct{}

	cache   *positions.Cache
	store   model.PositionStore
	gateway model.OrderGateway
	buffer  *pnl.Buffer

	// OnExit is called with the final position state after a completed exit.
	OnExit func(pos model.PositionState, reason string, fillPrice int64)
	// OnExitError is called when order submission fails.
	OnExitError func(trackerID string, err error)
}

// NewCoordinator wires the exit path.
func NewCoordinator(cache *positions.Cache, store model.PositionStore, gateway model.OrderGateway, buffer *pnl.Buffer) *Coordinator {
	return &Coordinator{
		inflight: make(map[string]struct{}),
		cache:    cache,
		store:    store,
		gateway:  gateway,
		buffer:   buffer,
	}
}

// ExecuteExit closes a position through the order gateway and transitions it
// to its terminal state: durable status EXITED, removal from the cache and
// index, and a final staged P&L snapshot.
//
// Idempotent: an unknown or already-exited tracker, or one whose exit is
// already in flight, returns success with no side effects. A gateway failure
// leaves the position active so a retry is safe.
func (c *Coordinator) ExecuteExit(ctx context.Context, trackerID, reason string) ExitResult {
	c.mu.Lock()
	pos, ok := c.cache.GetByTrackerID(trackerID)
	if !ok || pos.Status == model.StatusExited {
		c.mu.Unlock()
		log.Printf("[exit] %s: not active, nothing to do", trackerID)
		return ExitResult{Success: true, NoOp: true}
	}
	if _, busy := c.inflight[trackerID]; busy {
		c.mu.Unlock()
		return ExitResult{Success: true, NoOp: true}
	}
	c.inflight[trackerID] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, trackerID)
		c.mu.Unlock()
	}()

	orderID, fillPrice, err := c.gateway.SubmitExit(ctx, pos)
	if err != nil {
		log.Printf("[exit] %s: order submission failed: %v", trackerID, err)
		if c.OnExitError != nil {
			c.OnExitError(trackerID, err)
		}
		return ExitResult{ErrorKind: ErrKindGateway, Err: err}
	}

	exited := model.StatusExited
	c.cache.UpdatePosition(trackerID, positions.FieldUpdate{
		Status:     &exited,
		ExitPrice:  &fillPrice,
		ExitReason: &reason,
	})

	if err := c.store.MarkExited(ctx, trackerID, fillPrice, reason, time.Now().UTC()); err != nil {
		// The order is filled; the durable transition will be repaired by a
		// retry here rather than left half-done.
		log.Printf("[exit] %s: durable exit transition failed: %v (retrying once)", trackerID, err)
		if err2 := c.store.MarkExited(ctx, trackerID, fillPrice, reason, time.Now().UTC()); err2 != nil {
			log.Printf("[exit] %s: durable exit retry failed: %v", trackerID, err2)
		}
	}

	finalPnl := pos.ComputePnL(fillPrice)
	finalPct := pos.ComputePnLPct(fillPrice)
	c.buffer.Stage(trackerID, finalPnl, finalPct, fillPrice, finalPnl)

	c.cache.Remove(trackerID)

	log.Printf("[exit] %s exited: order=%s fill=%d reason=%s pnl=%d",
		trackerID, orderID, fillPrice, reason, finalPnl)
	if c.OnExit != nil {
		final := pos
		final.Status = model.StatusExited
		final.CurrentLTP = fillPrice
		final.ExitPrice = fillPrice
		final.ExitReason = reason
		final.PnL = finalPnl
		final.PnLPct = finalPct
		c.OnExit(final, reason, fillPrice)
	}
	return ExitResult{Success: true, OrderID: orderID, FillPrice: fillPrice}
}
