package redis

import (
	"context"
	"strconv"
	"time"

	"optionsbot-v1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// Snapshots outlive the trading day so post-close reports can still read
// them; anything older has been settled and is dead weight.
const snapshotTTL = 48 * time.Hour

// hwmMergeScript merges one snapshot into its hash while ratcheting hwm_pnl:
// a write carrying a lower high-water mark than the stored one keeps the
// stored value. Runs atomically server-side, so concurrent flushers cannot
// regress the mark.
var hwmMergeScript = goredis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], 'hwm_pnl'))
local hwm = tonumber(ARGV[4])
if cur and cur > hwm then hwm = cur end
redis.call('HSET', KEYS[1],
  'pnl', ARGV[1], 'pnl_pct', ARGV[2], 'ltp', ARGV[3],
  'hwm_pnl', hwm, 'observed_at', ARGV[5])
redis.call('PEXPIRE', KEYS[1], ARGV[6])
return hwm
`)

// PnlKV stores P&L snapshots as Redis hashes: "pnl:{tracker_id}".
type PnlKV struct {
	client *goredis.Client
}

// NewPnlKV wraps a connected Redis client.
func NewPnlKV(client *goredis.Client) *PnlKV {
	return &PnlKV{client: client}
}

func pnlKey(trackerID string) string {
	return "pnl:" + trackerID
}

// WriteSnapshots persists a batch of snapshots, one ratcheted merge per
// tracker. The batch arrives from the write-behind flusher, so per-snapshot
// roundtrips here are off the tick hot path.
func (kv *PnlKV) WriteSnapshots(ctx context.Context, snaps []model.PnlSnapshot) error {
	for _, s := range snaps {
		err := hwmMergeScript.Run(ctx, kv.client, []string{pnlKey(s.TrackerID)},
			s.PnL,
			strconv.FormatFloat(s.PnLPct, 'f', -1, 64),
			s.LTP,
			s.HWMPnL,
			s.ObservedAt.UnixMilli(),
			snapshotTTL.Milliseconds(),
		).Err()
		if err != nil {
			return err
		}
	}
	return nil
}

// FetchSnapshot loads the stored snapshot for a tracker.
// Returns nil, nil when none exists.
func (kv *PnlKV) FetchSnapshot(ctx context.Context, trackerID string) (*model.PnlSnapshot, error) {
	vals, err := kv.client.HGetAll(ctx, pnlKey(trackerID)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}

	snap := &model.PnlSnapshot{TrackerID: trackerID}
	snap.PnL = parseI64(vals["pnl"])
	snap.PnLPct, _ = strconv.ParseFloat(vals["pnl_pct"], 64)
	snap.LTP = parseI64(vals["ltp"])
	snap.HWMPnL = parseI64(vals["hwm_pnl"])
	if ms := parseI64(vals["observed_at"]); ms > 0 {
		snap.ObservedAt = time.UnixMilli(ms).UTC()
	}
	return snap, nil
}

// ClearSnapshot removes the stored snapshot for a tracker.
func (kv *PnlKV) ClearSnapshot(ctx context.Context, trackerID string) error {
	return kv.client.Del(ctx, pnlKey(trackerID)).Err()
}
