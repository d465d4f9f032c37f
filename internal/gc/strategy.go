// Package gc implements garbage collection for the value log: target
// selection (this file) and the rewrite protocol (rewrite.go). Grounded on
// badger's pickLog (score segments by discard ratio, walk them in score
// order within a work budget) generalized to the spec's three named
// strategies (§4.8).
package gc

import (
	"sort"

	"github.com/fjall-rs/value-log/internal/staleness"
)

// Strategy selects which segments are worth rewriting from a staleness
// snapshot. Implementations must not mutate the snapshot.
type Strategy interface {
	SelectCandidates(stats []staleness.Stats) []uint64
}

func liveBytes(s staleness.Stats) uint64 {
	if s.StaleBytes >= s.TotalBytes {
		return 0
	}
	return s.TotalBytes - s.StaleBytes
}

func staleRatio(s staleness.Stats) float64 {
	if s.TotalBytes == 0 {
		return 0
	}
	return float64(s.StaleBytes) / float64(s.TotalBytes)
}

// StaleThreshold selects every segment whose stale-byte ratio is at or
// above Threshold (spec §4.8, "rewrite any segment more than X% stale").
type StaleThreshold struct {
	Threshold float64
}

func (s StaleThreshold) SelectCandidates(stats []staleness.Stats) []uint64 {
	var out []uint64
	for _, st := range stats {
		if staleRatio(st) >= s.Threshold {
			out = append(out, st.SegmentID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// StaleThresholdSizeTiered is StaleThreshold generalized to prefer
// rewriting smaller qualifying segments first, so a GC pass reclaims the
// most segments (and therefore the most file-count and directory-listing
// overhead) per byte rewritten, grounded on badger's size-bucketed compaction
// tiers (other_examples/0f2d76cd) applied to whole segments rather than
// table levels.
type StaleThresholdSizeTiered struct {
	Threshold float64
}

func (s StaleThresholdSizeTiered) SelectCandidates(stats []staleness.Stats) []uint64 {
	var qualifying []staleness.Stats
	for _, st := range stats {
		if staleRatio(st) >= s.Threshold {
			qualifying = append(qualifying, st)
		}
	}

	sort.Slice(qualifying, func(i, j int) bool {
		if qualifying[i].TotalBytes != qualifying[j].TotalBytes {
			return qualifying[i].TotalBytes < qualifying[j].TotalBytes
		}
		return qualifying[i].SegmentID < qualifying[j].SegmentID
	})

	out := make([]uint64, len(qualifying))
	for i, st := range qualifying {
		out[i] = st.SegmentID
	}
	return out
}

// SpaceAmpTarget selects the most-stale segments first until the
// projected space amplification (total bytes across all segments / live
// bytes across all segments) would fall to or below Target, or every
// segment has been selected (spec §4.8, "rewrite until space-amp <= target").
type SpaceAmpTarget struct {
	Target float64
}

func (s SpaceAmpTarget) SelectCandidates(stats []staleness.Stats) []uint64 {
	var totalBytes, liveBytesSum uint64
	for _, st := range stats {
		totalBytes += st.TotalBytes
		liveBytesSum += liveBytes(st)
	}

	if liveBytesSum == 0 || float64(totalBytes)/float64(liveBytesSum) <= s.Target {
		return nil
	}

	ordered := make([]staleness.Stats, len(stats))
	copy(ordered, stats)
	sort.Slice(ordered, func(i, j int) bool {
		return staleRatio(ordered[i]) > staleRatio(ordered[j])
	})

	var out []uint64
	for _, st := range ordered {
		if liveBytesSum == 0 || float64(totalBytes)/float64(liveBytesSum) <= s.Target {
			break
		}
		out = append(out, st.SegmentID)
		totalBytes -= st.TotalBytes
		liveBytesSum -= liveBytes(st)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
