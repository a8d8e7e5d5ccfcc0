// Package positions holds the live open-position state: the active-position
// cache that owns each position's risk fields while it is open, and the
// instrument index that routes a tick to the positions interested in it
// without scanning the whole book.
package positions

import "sync"

// Index is the secondary index "exchange:token" → set of tracker ids.
// Safe for concurrent use by the tick path and the reconciliation sweep.
type Index struct {
	mu    sync.RWMutex
	byKey map[string]map[string]struct{}
}

// NewIndex creates an empty Index.
func NewIndex() *Index {
	return &Index{byKey: make(map[string]map[string]struct{})}
}

// Add registers a tracker's interest in an instrument. Adding the same pair
// twice is a no-op.
func (ix *Index) Add(trackerID, exchange, token string) {
	key := exchange + ":" + token
	ix.mu.Lock()
	set, ok := ix.byKey[key]
	if !ok {
		set = make(map[string]struct{})
		ix.byKey[key] = set
	}
	set[trackerID] = struct{}{}
	ix.mu.Unlock()
}

// Remove drops a tracker's interest in an instrument. Removing an absent
// pair is a no-op. Empty sets are deleted so AllKeys stays tight.
func (ix *Index) Remove(trackerID, exchange, token string) {
	key := exchange + ":" + token
	ix.mu.Lock()
	if set, ok := ix.byKey[key]; ok {
		delete(set, trackerID)
		if len(set) == 0 {
			delete(ix.byKey, key)
		}
	}
	ix.mu.Unlock()
}

// TrackersFor returns the tracker ids interested in an instrument. The
// returned slice is a copy; an unknown key yields an empty slice.
func (ix *Index) TrackersFor(exchange, token string) []string {
	key := exchange + ":" + token
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	set, ok := ix.byKey[key]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// AllKeys returns every indexed instrument key.
func (ix *Index) AllKeys() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]string, 0, len(ix.byKey))
	for key := range ix.byKey {
		out = append(out, key)
	}
	return out
}

// Clear empties the index.
func (ix *Index) Clear() {
	ix.mu.Lock()
	ix.byKey = make(map[string]map[string]struct{})
	ix.mu.Unlock()
}
