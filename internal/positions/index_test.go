package positions

import (
	"fmt"
	"sort"
	"sync"
	"testing"
)

func TestIndex_AddRemoveTrackersFor(t *testing.T) {
	ix := NewIndex()
	ix.Add("trk-1", "NFO", "43221")
	ix.Add("trk-2", "NFO", "43221")
	ix.Add("trk-1", "NFO", "43221") // duplicate add is a no-op

	got := ix.TrackersFor("NFO", "43221")
	sort.Strings(got)
	if len(got) != 2 || got[0] != "trk-1" || got[1] != "trk-2" {
		t.Fatalf("TrackersFor = %v, want [trk-1 trk-2]", got)
	}

	ix.Remove("trk-1", "NFO", "43221")
	got = ix.TrackersFor("NFO", "43221")
	if len(got) != 1 || got[0] != "trk-2" {
		t.Fatalf("TrackersFor after remove = %v, want [trk-2]", got)
	}

	ix.Remove("trk-2", "NFO", "43221")
	if got := ix.TrackersFor("NFO", "43221"); len(got) != 0 {
		t.Errorf("TrackersFor after last remove = %v, want empty", got)
	}
	if keys := ix.AllKeys(); len(keys) != 0 {
		t.Errorf("AllKeys = %v, want empty once the set drains", keys)
	}
}

func TestIndex_UnknownKeyResolvesEmpty(t *testing.T) {
	ix := NewIndex()
	if got := ix.TrackersFor("NFO", "nope"); len(got) != 0 {
		t.Errorf("TrackersFor unknown key = %v, want empty", got)
	}
	// Removing from an unknown key must not panic.
	ix.Remove("trk-1", "NFO", "nope")
}

func TestIndex_Clear(t *testing.T) {
	ix := NewIndex()
	ix.Add("trk-1", "NFO", "43221")
	ix.Add("trk-2", "BFO", "871100")
	ix.Clear()
	if keys := ix.AllKeys(); len(keys) != 0 {
		t.Errorf("AllKeys after Clear = %v, want empty", keys)
	}
}

func TestIndex_ConcurrentSweepAndTraffic(t *testing.T) {
	ix := NewIndex()
	var wg sync.WaitGroup

	// Reconciliation-style adds, open/close traffic, and readers at once.
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id := fmt.Sprintf("trk-%d-%d", g, i)
				ix.Add(id, "NFO", "43221")
				ix.Remove(id, "NFO", "43221")
			}
		}(g)
	}
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				ix.TrackersFor("NFO", "43221")
				ix.AllKeys()
			}
		}()
	}
	wg.Wait()

	if got := ix.TrackersFor("NFO", "43221"); len(got) != 0 {
		t.Errorf("index not drained after paired add/remove: %v", got)
	}
}
