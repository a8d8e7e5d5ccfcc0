package pnl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsbot-v1/internal/model"
)

// fakePnlKV mimics the shared store, including its merge-side HWM ratchet.
type fakePnlKV struct {
	mu     sync.Mutex
	stored map[string]model.PnlSnapshot
	writes int // WriteSnapshots calls
	failed bool
}

func newFakePnlKV() *fakePnlKV {
	return &fakePnlKV{stored: make(map[string]model.PnlSnapshot)}
}

func (f *fakePnlKV) WriteSnapshots(_ context.Context, snaps []model.PnlSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed {
		return errors.New("kv down")
	}
	f.writes++
	for _, s := range snaps {
		if cur, ok := f.stored[s.TrackerID]; ok && cur.HWMPnL > s.HWMPnL {
			s.HWMPnL = cur.HWMPnL
		}
		f.stored[s.TrackerID] = s
	}
	return nil
}

func (f *fakePnlKV) FetchSnapshot(_ context.Context, trackerID string) (*model.PnlSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stored[trackerID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *fakePnlKV) ClearSnapshot(_ context.Context, trackerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.stored, trackerID)
	return nil
}

func (f *fakePnlKV) get(trackerID string) (model.PnlSnapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stored[trackerID]
	return s, ok
}

func TestStage_LastWriteWinsPerTracker(t *testing.T) {
	kv := newFakePnlKV()
	b := NewBuffer(BufferConfig{KV: kv})

	b.Stage("trk-1", 1000, 1.0, 10100, 1000)
	b.Stage("trk-1", 2000, 2.0, 10200, 2000)
	assert.Equal(t, 1, b.StagedCount(), "buffer keys by tracker, not a queue")

	require.Equal(t, 1, b.Flush())
	s, ok := kv.get("trk-1")
	require.True(t, ok)
	assert.Equal(t, int64(2000), s.PnL)
	assert.Equal(t, int64(10200), s.LTP)
}

func TestFlush_BoundedBatchCarriesOver(t *testing.T) {
	kv := newFakePnlKV()
	b := NewBuffer(BufferConfig{KV: kv, FlushBatch: 2})

	for i := 0; i < 5; i++ {
		b.Stage(fmt.Sprintf("trk-%d", i), int64(i*100), float64(i), 10000, int64(i*100))
	}

	assert.Equal(t, 2, b.Flush())
	assert.Equal(t, 3, b.StagedCount(), "remainder carries over")
	assert.Equal(t, 2, b.Flush())
	assert.Equal(t, 1, b.Flush())
	assert.Equal(t, 0, b.StagedCount())
}

func TestHWMRatchet_NeverDecreases(t *testing.T) {
	kv := newFakePnlKV()
	b := NewBuffer(BufferConfig{KV: kv})
	ctx := context.Background()

	b.Stage("trk-1", 1500, 3.0, 10300, 2000)
	b.Flush()
	s, _ := kv.get("trk-1")
	assert.Equal(t, int64(2000), s.HWMPnL)

	b.Stage("trk-1", 2500, 5.0, 10500, 3000)
	b.Flush()
	s, _ = kv.get("trk-1")
	assert.Equal(t, int64(3000), s.HWMPnL)

	// Loss with the carried peak: stored mark must not move down.
	b.Stage("trk-1", -200, -0.4, 9960, 3000)
	b.Flush()
	s, _ = kv.get("trk-1")
	assert.Equal(t, int64(-200), s.PnL)
	assert.Equal(t, int64(3000), s.HWMPnL)

	snap, err := b.Fetch(ctx, "trk-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(3000), snap.HWMPnL)
}

func TestStage_RatchetsHWMAgainstOwnPnl(t *testing.T) {
	kv := newFakePnlKV()
	b := NewBuffer(BufferConfig{KV: kv})

	// Caller passes a stale hwm below the current pnl; staging corrects it.
	b.Stage("trk-1", 5000, 10.0, 11000, 0)
	b.Flush()
	s, _ := kv.get("trk-1")
	assert.Equal(t, int64(5000), s.HWMPnL)
}

func TestFlush_FailureRestagesWithoutLosingNewerData(t *testing.T) {
	kv := newFakePnlKV()
	failures := 0
	b := NewBuffer(BufferConfig{KV: kv, OnFlushError: func() { failures++ }})

	kv.mu.Lock()
	kv.failed = true
	kv.mu.Unlock()

	b.Stage("trk-1", 1000, 1.0, 10100, 8000)
	assert.Equal(t, 0, b.Flush())
	assert.Equal(t, 1, b.StagedCount(), "failed batch carries over")
	assert.Equal(t, 1, failures)

	// A newer snapshot staged after the failure wins, but inherits the peak.
	b.Stage("trk-1", 500, 0.5, 10050, 500)

	kv.mu.Lock()
	kv.failed = false
	kv.mu.Unlock()

	require.Equal(t, 1, b.Flush())
	s, _ := kv.get("trk-1")
	assert.Equal(t, int64(500), s.PnL)
	assert.Equal(t, int64(8000), s.HWMPnL)
}

func TestClear_RemovesStagedAndStored(t *testing.T) {
	kv := newFakePnlKV()
	b := NewBuffer(BufferConfig{KV: kv})
	ctx := context.Background()

	b.Stage("trk-1", 1000, 1.0, 10100, 1000)
	b.Flush()
	b.Stage("trk-1", 1100, 1.1, 10110, 1100)

	require.NoError(t, b.Clear(ctx, "trk-1"))
	assert.Equal(t, 0, b.StagedCount())
	snap, err := b.Fetch(ctx, "trk-1")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestLocalOnly_FetchAndClearWithoutStore(t *testing.T) {
	// No KV configured: the staging map is the whole world.
	b := NewBuffer(BufferConfig{})
	ctx := context.Background()

	b.Stage("trk-1", 1000, 1.0, 10100, 1000)
	snap, err := b.Fetch(ctx, "trk-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(1000), snap.PnL)

	require.NoError(t, b.Clear(ctx, "trk-1"))
	assert.Equal(t, 0, b.StagedCount())

	snap, err = b.Fetch(ctx, "trk-1")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestRun_DrainsOnShutdown(t *testing.T) {
	kv := newFakePnlKV()
	b := NewBuffer(BufferConfig{KV: kv, FlushInterval: time.Hour, FlushBatch: 2})

	for i := 0; i < 5; i++ {
		b.Stage(fmt.Sprintf("trk-%d", i), int64(i), float64(i), 10000, int64(i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	cancel()

	select {
	case <-b.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not drain and return")
	}
	assert.Equal(t, 0, b.StagedCount())
	kv.mu.Lock()
	defer kv.mu.Unlock()
	assert.Len(t, kv.stored, 5, "all staged snapshots flushed on drain")
}
