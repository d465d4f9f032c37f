package options

import (
	"github.com/fjall-rs/value-log/pkg/compression"
)

const (
	// DefaultDataDir is the base directory under which segments/ and the
	// manifest live when no directory is configured.
	DefaultDataDir = "/var/lib/valuelog"

	// MinSegmentTargetSize is the smallest accepted SegmentTargetSize.
	MinSegmentTargetSize uint64 = 8 * 1024 * 1024

	// MaxSegmentTargetSize is the largest accepted SegmentTargetSize.
	MaxSegmentTargetSize uint64 = 4 * 1024 * 1024 * 1024

	// DefaultSegmentTargetSize is the size at which a GC rewrite starts a
	// new output segment once its current one reaches it.
	DefaultSegmentTargetSize uint64 = 256 * 1024 * 1024

	// DefaultWriteBufferSize is the size of the buffered writer in front of
	// each segment's append stream.
	DefaultWriteBufferSize = 256 * 1024

	// DefaultCacheCapacityBytes is the default byte budget of the shared blob cache.
	DefaultCacheCapacityBytes uint64 = 64 * 1024 * 1024

	// DefaultCacheShardCount is the default number of shards the blob cache splits its budget across.
	DefaultCacheShardCount = 16

	// DefaultGCStrategy is the GCStrategy value of the default options.
	DefaultGCStrategy = GCStrategyStaleThreshold

	// DefaultGCStaleThreshold is the fraction of stale bytes (of a segment's
	// total bytes) above which StaleThreshold considers a segment a GC candidate.
	DefaultGCStaleThreshold = 0.5

	// DefaultGCTargetSpaceAmp is the space amplification ratio SpaceAmpTarget tries to stay under.
	DefaultGCTargetSpaceAmp = 1.5

	// DefaultGCConcurrency bounds how many segments a GC pass rewrites in parallel.
	DefaultGCConcurrency = 4
)

// GCStrategyName selects which target-selection strategy a GC pass uses.
type GCStrategyName string

const (
	// GCStrategySpaceAmpTarget picks candidates to keep overall space
	// amplification under Options.GCTargetSpaceAmp.
	GCStrategySpaceAmpTarget GCStrategyName = "space_amp_target"
	// GCStrategyStaleThreshold picks any segment whose stale-byte fraction
	// exceeds Options.GCStaleThreshold.
	GCStrategyStaleThreshold GCStrategyName = "stale_threshold"
	// GCStrategyStaleThresholdSizeTiered applies the StaleThreshold filter
	// and then orders the qualifying segments smallest first; there are no
	// separate size tiers.
	GCStrategyStaleThresholdSizeTiered GCStrategyName = "stale_threshold_size_tiered"
)

// FsyncPolicy names one of the two sync points: a segment finish or a
// manifest swap. Both are synced by default; WithFsyncPolicy turns either
// one on or off independently.
type FsyncPolicy string

const (
	// FsyncPerSegment fsyncs a segment's file (and containing directory) on Finish.
	FsyncPerSegment FsyncPolicy = "per_segment"
	// FsyncPerManifest fsyncs the manifest file on every Register/Unregister swap.
	FsyncPerManifest FsyncPolicy = "per_manifest"
)

var defaultOptions = Options{
	DataDir:              DefaultDataDir,
	SegmentTargetSize:    DefaultSegmentTargetSize,
	WriteBufferSize:      DefaultWriteBufferSize,
	CacheCapacityBytes:   DefaultCacheCapacityBytes,
	CacheShardCount:      DefaultCacheShardCount,
	Compression:          compression.CodecLZ4,
	GCStrategy:           DefaultGCStrategy,
	GCStaleThreshold:     DefaultGCStaleThreshold,
	GCTargetSpaceAmp:     DefaultGCTargetSpaceAmp,
	GCConcurrency:        DefaultGCConcurrency,
	FsyncPerSegmentWrite: true,
	FsyncPerManifestSwap: true,
}

// NewDefaultOptions returns a copy of the value log's default configuration.
func NewDefaultOptions() Options {
	return defaultOptions
}
