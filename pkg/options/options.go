// Package options provides data structures and functions for configuring
// the value log. It defines the parameters that control the size of GC
// output segments, the shared blob cache, the compression codec applied to new writes, and
// garbage collection, following the functional-options convention used
// throughout this codebase.
package options

import (
	"strings"

	"github.com/fjall-rs/value-log/pkg/compression"
)

// Options holds the full configuration surface of a value log instance.
type Options struct {
	// DataDir is the base directory under which "segments/" and the
	// manifest are stored.
	DataDir string `json:"dataDir"`

	// SegmentTargetSize is the size at which a GC rewrite finishes its
	// current output segment and opens a new one. Writers returned by
	// RegisterWriter are not rotated; the caller decides when to finish them.
	//
	//  - Default: 256MB
	//  - Minimum: 8MB
	//  - Maximum: 4GB
	SegmentTargetSize uint64 `json:"segmentTargetSize"`

	// WriteBufferSize is the size of the buffered writer placed in front of
	// a segment's append stream.
	WriteBufferSize int `json:"writeBufferSize"`

	// CacheCapacityBytes is the total byte budget of the shared blob cache,
	// spread approximately evenly across CacheShardCount shards.
	CacheCapacityBytes uint64 `json:"cacheCapacityBytes"`

	// CacheShardCount is the number of shards the blob cache splits its
	// byte budget across.
	CacheShardCount int `json:"cacheShardCount"`

	// Compression is the codec applied to new blob values. Existing blobs
	// keep whatever codec they were written with; a reader always consults
	// the per-record codec byte, never this option.
	Compression compression.CodecID `json:"compression"`

	// GCStrategy names a target-selection strategy. GC does not read it:
	// every GC pass takes its Strategy as an explicit argument.
	GCStrategy GCStrategyName `json:"gcStrategy"`

	// GCStaleThreshold is a stale-byte fraction for the StaleThreshold and
	// StaleThresholdSizeTiered strategies. GC does not read it; the strategy
	// value passed to GC carries its own Threshold.
	GCStaleThreshold float64 `json:"gcStaleThreshold"`

	// GCTargetSpaceAmp is a space amplification ratio for SpaceAmpTarget.
	// GC does not read it; the strategy value passed to GC carries its own
	// target.
	GCTargetSpaceAmp float64 `json:"gcTargetSpaceAmp"`

	// GCConcurrency bounds how many segments a single GC pass rewrites concurrently.
	GCConcurrency int `json:"gcConcurrency"`

	// FsyncPerSegmentWrite, when true, fsyncs a segment file (and its
	// containing directory) when the writer finishes it.
	FsyncPerSegmentWrite bool `json:"fsyncPerSegmentWrite"`

	// FsyncPerManifestSwap, when true, fsyncs the manifest file on every
	// register/unregister swap.
	FsyncPerManifestSwap bool `json:"fsyncPerManifestSwap"`
}

// OptionFunc is a function type that modifies the value log's configuration.
type OptionFunc func(*Options)

// WithDefaultOptions applies the library's default configuration values.
func WithDefaultOptions() OptionFunc {
	return func(o *Options) {
		*o = NewDefaultOptions()
	}
}

// WithDataDir sets the base directory segments and the manifest are stored under.
func WithDataDir(directory string) OptionFunc {
	return func(o *Options) {
		directory = strings.TrimSpace(directory)
		if directory != "" {
			o.DataDir = directory
		}
	}
}

// WithSegmentTargetSize sets the size at which a GC rewrite starts a new
// output segment.
func WithSegmentTargetSize(size uint64) OptionFunc {
	return func(o *Options) {
		if size >= MinSegmentTargetSize && size <= MaxSegmentTargetSize {
			o.SegmentTargetSize = size
		}
	}
}

// WithWriteBufferSize sets the buffered writer size in front of segment appends.
func WithWriteBufferSize(size int) OptionFunc {
	return func(o *Options) {
		if size > 0 {
			o.WriteBufferSize = size
		}
	}
}

// WithCacheCapacityBytes sets the shared blob cache's total byte budget.
func WithCacheCapacityBytes(bytes uint64) OptionFunc {
	return func(o *Options) {
		o.CacheCapacityBytes = bytes
	}
}

// WithCacheShardCount sets the number of shards the blob cache splits its budget across.
func WithCacheShardCount(shards int) OptionFunc {
	return func(o *Options) {
		if shards > 0 {
			o.CacheShardCount = shards
		}
	}
}

// WithCompression sets the codec applied to new blob values.
func WithCompression(codec compression.CodecID) OptionFunc {
	return func(o *Options) {
		o.Compression = codec
	}
}

// WithGCStrategy sets Options.GCStrategy.
func WithGCStrategy(strategy GCStrategyName) OptionFunc {
	return func(o *Options) {
		o.GCStrategy = strategy
	}
}

// WithGCStaleThreshold sets the stale-byte fraction used by the
// StaleThreshold and StaleThresholdSizeTiered strategies.
func WithGCStaleThreshold(fraction float64) OptionFunc {
	return func(o *Options) {
		if fraction > 0 && fraction <= 1 {
			o.GCStaleThreshold = fraction
		}
	}
}

// WithGCTargetSpaceAmp sets the space amplification ratio SpaceAmpTarget tries to stay under.
func WithGCTargetSpaceAmp(ratio float64) OptionFunc {
	return func(o *Options) {
		if ratio >= 1 {
			o.GCTargetSpaceAmp = ratio
		}
	}
}

// WithGCConcurrency bounds how many segments a GC pass rewrites concurrently.
func WithGCConcurrency(n int) OptionFunc {
	return func(o *Options) {
		if n > 0 {
			o.GCConcurrency = n
		}
	}
}

// WithFsyncPolicy enables fsync for the given policy; segment and manifest
// fsync are independently configurable, both default to enabled.
func WithFsyncPolicy(policy FsyncPolicy, enabled bool) OptionFunc {
	return func(o *Options) {
		switch policy {
		case FsyncPerSegment:
			o.FsyncPerSegmentWrite = enabled
		case FsyncPerManifest:
			o.FsyncPerManifestSwap = enabled
		}
	}
}
