package gc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fjall-rs/value-log/internal/gc"
	"github.com/fjall-rs/value-log/internal/staleness"
)

func TestStaleThresholdSelectsOnlyQualifyingSegments(t *testing.T) {
	stats := []staleness.Stats{
		{SegmentID: 1, TotalBytes: 1000, StaleBytes: 900}, // 90% stale
		{SegmentID: 2, TotalBytes: 1000, StaleBytes: 100}, // 10% stale
		{SegmentID: 3, TotalBytes: 1000, StaleBytes: 500}, // 50% stale
	}

	s := gc.StaleThreshold{Threshold: 0.5}
	got := s.SelectCandidates(stats)
	assert.Equal(t, []uint64{1, 3}, got)
}

func TestStaleThresholdSizeTieredOrdersBySize(t *testing.T) {
	stats := []staleness.Stats{
		{SegmentID: 1, TotalBytes: 5000, StaleBytes: 4000},
		{SegmentID: 2, TotalBytes: 1000, StaleBytes: 800},
		{SegmentID: 3, TotalBytes: 2000, StaleBytes: 1800},
	}

	s := gc.StaleThresholdSizeTiered{Threshold: 0.5}
	got := s.SelectCandidates(stats)
	assert.Equal(t, []uint64{2, 3, 1}, got, "smallest qualifying segments first")
}

func TestSpaceAmpTargetStopsOnceTargetMet(t *testing.T) {
	stats := []staleness.Stats{
		{SegmentID: 1, TotalBytes: 1000, StaleBytes: 900},
		{SegmentID: 2, TotalBytes: 1000, StaleBytes: 0},
	}

	// total=2000, live=1100 -> amp ~1.82, already under a loose target.
	s := gc.SpaceAmpTarget{Target: 2.0}
	got := s.SelectCandidates(stats)
	assert.Empty(t, got)
}

func TestSpaceAmpTargetSelectsMostStaleFirst(t *testing.T) {
	stats := []staleness.Stats{
		{SegmentID: 1, TotalBytes: 1000, StaleBytes: 950}, // mostly dead
		{SegmentID: 2, TotalBytes: 1000, StaleBytes: 0},   // fully live
	}

	// total=2000, live=1050 -> amp ~1.9; target 1.1 forces rewriting segment 1.
	s := gc.SpaceAmpTarget{Target: 1.1}
	got := s.SelectCandidates(stats)
	assert.Contains(t, got, uint64(1))
}
