package redis

import (
	"context"
	"strconv"
	"time"

	"optionsbot-v1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// TickKV stores merged ticks as Redis hashes: "tick:{exchange}:{token}".
// HSET gives the per-field merge the two-phase quote/reference feed needs;
// the per-key TTL ages out instruments nobody ticked today.
type TickKV struct {
	client *goredis.Client
}

// NewTickKV wraps a connected Redis client.
func NewTickKV(client *goredis.Client) *TickKV {
	return &TickKV{client: client}
}

func tickKey(exchange, token string) string {
	return "tick:" + exchange + ":" + token
}

// MergeTick writes the set fields of u into the hash for its key and
// refreshes the key TTL, in a single pipeline roundtrip.
func (kv *TickKV) MergeTick(ctx context.Context, u model.TickUpdate, ttl time.Duration) error {
	fields := make(map[string]interface{}, 8)
	if u.LTP != nil {
		fields["ltp"] = *u.LTP
	}
	if u.PrevClose != nil {
		fields["prev_close"] = *u.PrevClose
	}
	if u.Bid != nil {
		fields["bid"] = *u.Bid
	}
	if u.Ask != nil {
		fields["ask"] = *u.Ask
	}
	if u.OI != nil {
		fields["oi"] = *u.OI
	}
	if u.OIChange != nil {
		fields["oi_change"] = *u.OIChange
	}
	if u.Volume != nil {
		fields["volume"] = *u.Volume
	}
	if !u.TickTS.IsZero() {
		fields["tick_ts"] = u.TickTS.UnixMilli()
	}
	if len(fields) == 0 {
		return nil
	}

	key := tickKey(u.Exchange, u.Token)
	pipe := kv.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// FetchTick loads the merged tick for "exchange:token".
// Returns nil, nil when the key does not exist.
func (kv *TickKV) FetchTick(ctx context.Context, exchange, token string) (*model.Tick, error) {
	vals, err := kv.client.HGetAll(ctx, tickKey(exchange, token)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}

	t := &model.Tick{Token: token, Exchange: exchange}
	t.LTP = parseI64(vals["ltp"])
	t.PrevClose = parseI64(vals["prev_close"])
	t.Bid = parseI64(vals["bid"])
	t.Ask = parseI64(vals["ask"])
	t.OI = parseI64(vals["oi"])
	t.OIChange = parseI64(vals["oi_change"])
	t.Volume = parseI64(vals["volume"])
	if ms := parseI64(vals["tick_ts"]); ms > 0 {
		t.TickTS = time.UnixMilli(ms).UTC()
	}
	return t, nil
}

func parseI64(s string) int64 {
	if s == "" {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
