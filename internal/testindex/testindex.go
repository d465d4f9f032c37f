// Package testindex is a reference implementation of the external key
// index contract (spec §6.1) used only by this module's own tests to
// exercise the coordinator and GC rewrite protocol. Production code never
// constructs or depends on this type: the real index lives in the caller's
// key-indexing store and is handed to the value log as an interface value.
//
// Adapted from the teacher's internal/index Bitcask keydir: the same
// sync.RWMutex-guarded map shape, repurposed from map[string]*RecordPointer
// to map[string]segment.Handle, plus a compare-and-swap method the keydir
// never needed (the teacher's Bitcask keydir is single-writer and never
// raced GC against live traffic).
package testindex

import (
	"context"
	"sync"

	"github.com/fjall-rs/value-log/internal/segment"
)

// Index is an in-memory map[key]Handle with a compare-and-swap update path.
// Safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	entries map[string]segment.Handle
}

// New returns an empty Index.
func New() *Index {
	return &Index{entries: make(map[string]segment.Handle, 1024)}
}

// Lookup returns the handle currently stored for key, if any.
func (idx *Index) Lookup(key []byte) (segment.Handle, bool, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	h, ok := idx.entries[string(key)]
	return h, ok, nil
}

// CompareAndSwap applies each update independently: update i succeeds (and
// results[i] is true) only if the index currently maps updates[i].Key to
// updates[i].Old; on success the entry is repointed to updates[i].New.
// A zero-value Old handle matches a currently-absent key.
func (idx *Index) CompareAndSwap(ctx context.Context, updates []segment.IndexUpdate) ([]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	results := make([]bool, len(updates))
	for i, u := range updates {
		k := string(u.Key)
		current, ok := idx.entries[k]

		matches := (ok && current == u.Old) || (!ok && u.Old == (segment.Handle{}))
		if !matches {
			results[i] = false
			continue
		}

		idx.entries[k] = u.New
		results[i] = true
	}

	return results, nil
}

// Put seeds key -> handle directly, bypassing CAS. Test setup only.
func (idx *Index) Put(key []byte, h segment.Handle) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[string(key)] = h
}

// Delete removes key entirely. Test setup only.
func (idx *Index) Delete(key []byte) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.entries, string(key))
}

// Len returns the number of entries currently tracked.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}
