package model

import (
	"context"
	"time"
)

// ── Storage & execution port interfaces ──
// These decouple the caching/control core from concrete backends
// (Redis, SQLite, broker API). Each implementation satisfies one or more.

// TickKV is the shared key/value side of the tick cache: one hash per
// instrument key, merged field-by-field, with a per-key TTL.
type TickKV interface {
	// MergeTick merges the set fields of the update into the hash for its key
	// and refreshes the key's TTL. Partial writes must not erase fields the
	// update does not carry.
	MergeTick(ctx context.Context, u TickUpdate, ttl time.Duration) error

	// FetchTick loads the merged tick for "exchange:token".
	// Returns nil, nil when the key does not exist.
	FetchTick(ctx context.Context, exchange, token string) (*Tick, error)
}

// PnlKV is the shared P&L snapshot store. Writes merge with the stored value
// so the high-water mark only ever rises.
type PnlKV interface {
	// WriteSnapshots persists a batch of snapshots, applying the HWM ratchet
	// per tracker.
	WriteSnapshots(ctx context.Context, snaps []PnlSnapshot) error

	// FetchSnapshot loads the stored snapshot for a tracker.
	// Returns nil, nil when none exists.
	FetchSnapshot(ctx context.Context, trackerID string) (*PnlSnapshot, error)

	// ClearSnapshot removes the stored snapshot for a tracker.
	ClearSnapshot(ctx context.Context, trackerID string) error
}

// PositionStore is the durable record of positions. It is the source of
// truth the reconciliation sweep reads, and receives the exit transition.
type PositionStore interface {
	// LoadActive returns all positions whose durable status is ACTIVE.
	LoadActive(ctx context.Context) ([]PositionRecord, error)

	// SaveOpen inserts or updates an open position record.
	SaveOpen(ctx context.Context, rec PositionRecord) error

	// UpdateStops persists new stop/target prices for an open position.
	UpdateStops(ctx context.Context, trackerID string, slPrice, tpPrice int64) error

	// MarkExited transitions a position to EXITED with its exit fill details.
	MarkExited(ctx context.Context, trackerID string, exitPrice int64, reason string, at time.Time) error
}

// OrderGateway submits exit orders. Implementations may hit a live broker or
// a paper simulator; the exit coordinator behaves identically against either.
type OrderGateway interface {
	// SubmitExit places a market order closing the position and returns the
	// broker/paper order id and the fill price in paise.
	SubmitExit(ctx context.Context, pos PositionState) (orderID string, fillPrice int64, err error)
}
