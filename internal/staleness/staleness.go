// Package staleness tracks, per segment, how many bytes and items have
// become stale (superseded or deleted) since the segment was written.
// Updates are additive and monotonic: GC and the coordinator report newly
// discovered staleness, they never decrement it (spec §4.7). Grounded on
// badger's lfDiscardStats (a map[uint32]int64 of discard counts, updated
// additively from GC candidate scans).
package staleness

import (
	"sync"
	"sync/atomic"
)

// Stats is a point-in-time snapshot of one segment's staleness counters
// alongside its total size, for space-amplification and threshold
// calculations.
type Stats struct {
	SegmentID   uint64
	StaleBytes  uint64
	StaleItems  uint64
	TotalBytes  uint64
	TotalItems  uint64
}

type counters struct {
	staleBytes atomic.Uint64
	staleItems atomic.Uint64
	totalBytes uint64
	totalItems uint64
}

// Map is the coordinator's live staleness table. Registration/retirement of
// a segment takes the map's write lock; marking a segment stale only takes
// a read lock, since it touches an already-present entry's atomics.
type Map struct {
	mu   sync.RWMutex
	byID map[uint64]*counters
}

// New returns an empty staleness map.
func New() *Map {
	return &Map{byID: make(map[uint64]*counters)}
}

// Register adds a freshly written or rewritten segment to the map with
// zero staleness and the given totals.
func (m *Map) Register(id uint64, totalBytes, totalItems uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id] = &counters{totalBytes: totalBytes, totalItems: totalItems}
}

// Unregister removes a retired segment from the map. Subsequent MarkStale
// calls against id are ignored (spec §4.7: "ignored for unknown segment
// ids" covers already-retired segments).
func (m *Map) Unregister(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
}

// MarkStale additively records that bytes/items more of segment id have
// become stale. Idempotency (not double-counting the same superseded write)
// is the caller's contract, not this map's — it only accumulates what it is
// told.
func (m *Map) MarkStale(id uint64, bytes, items uint64) {
	m.mu.RLock()
	c, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return
	}
	c.staleBytes.Add(bytes)
	c.staleItems.Add(items)
}

// Snapshot returns a stats copy for every currently registered segment.
func (m *Map) Snapshot() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Stats, 0, len(m.byID))
	for id, c := range m.byID {
		out = append(out, Stats{
			SegmentID:  id,
			StaleBytes: c.staleBytes.Load(),
			StaleItems: c.staleItems.Load(),
			TotalBytes: c.totalBytes,
			TotalItems: c.totalItems,
		})
	}
	return out
}

// Get returns a single segment's stats snapshot.
func (m *Map) Get(id uint64) (Stats, bool) {
	m.mu.RLock()
	c, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return Stats{}, false
	}
	return Stats{
		SegmentID:  id,
		StaleBytes: c.staleBytes.Load(),
		StaleItems: c.staleItems.Load(),
		TotalBytes: c.totalBytes,
		TotalItems: c.totalItems,
	}, true
}
