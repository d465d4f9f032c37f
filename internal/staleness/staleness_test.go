package staleness_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjall-rs/value-log/internal/staleness"
)

func TestRegisterAndSnapshot(t *testing.T) {
	m := staleness.New()
	m.Register(1, 1000, 10)

	s, ok := m.Get(1)
	require.True(t, ok)
	assert.Equal(t, uint64(1000), s.TotalBytes)
	assert.Equal(t, uint64(10), s.TotalItems)
	assert.Equal(t, uint64(0), s.StaleBytes)
}

func TestMarkStaleIsAdditive(t *testing.T) {
	m := staleness.New()
	m.Register(1, 1000, 10)

	m.MarkStale(1, 100, 1)
	m.MarkStale(1, 50, 1)

	s, _ := m.Get(1)
	assert.Equal(t, uint64(150), s.StaleBytes)
	assert.Equal(t, uint64(2), s.StaleItems)
}

func TestMarkStaleIgnoredForUnknownSegment(t *testing.T) {
	m := staleness.New()
	m.MarkStale(99, 100, 1)

	_, ok := m.Get(99)
	assert.False(t, ok)
}

func TestUnregisterRemovesSegment(t *testing.T) {
	m := staleness.New()
	m.Register(1, 1000, 10)
	m.Unregister(1)

	_, ok := m.Get(1)
	assert.False(t, ok)

	// MarkStale against a just-unregistered id is a no-op, not an error.
	m.MarkStale(1, 10, 1)
	_, ok = m.Get(1)
	assert.False(t, ok)
}

func TestSnapshotIncludesAllRegisteredSegments(t *testing.T) {
	m := staleness.New()
	m.Register(1, 100, 1)
	m.Register(2, 200, 2)

	snap := m.Snapshot()
	assert.Len(t, snap, 2)
}
