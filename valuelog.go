// Package valuelog implements an append-only, segmented blob store for
// key/value-separated storage engines (the WiscKey pattern, as in RocksDB
// BlobDB and Titan). The value log owns values only; keys and their
// locations live in an external index that the caller supplies through
// the Index interface below.
//
// A value log is opened with Open, which recovers its manifest and
// segment set from disk. Writers are obtained with RegisterWriter and
// stream new blobs into a fresh segment; Get resolves a Handle (as
// returned by a writer, or as stored by the caller's index) back to its
// value. GC reclaims space occupied by superseded values by rewriting
// live blobs into new segments and asking the caller's index to relink
// them.
package valuelog

import (
	"context"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/fjall-rs/value-log/internal/engine"
	"github.com/fjall-rs/value-log/internal/gc"
	"github.com/fjall-rs/value-log/internal/segment"
	"github.com/fjall-rs/value-log/pkg/options"
)

// Handle is the opaque pointer an external index stores per live key:
// which segment holds the value, at what offset, and how many on-disk
// bytes it occupies (spec §3, "value handle").
type Handle = segment.Handle

// IndexUpdate is one compare-and-swap request GC issues against the
// external index during a rewrite: "if key still maps to Old, repoint it
// to New" (spec §6.1).
type IndexUpdate = segment.IndexUpdate

// Index is the external key index contract this module consumes but
// never implements in production: the caller's key-indexing store (a
// separate LSM-tree or similar) must satisfy this interface. A reference
// implementation for tests lives in internal/testindex.
type Index interface {
	Lookup(key []byte) (Handle, bool, error)
	CompareAndSwap(ctx context.Context, updates []IndexUpdate) ([]bool, error)
}

// Strategy picks which segments a GC pass should rewrite. The three
// strategies named by the spec live in the gc subpackage re-exports below.
type Strategy = gc.Strategy

// SpaceAmpTarget, StaleThreshold and StaleThresholdSizeTiered re-export the
// gc subpackage's target-selection strategies.
type (
	SpaceAmpTarget           = gc.SpaceAmpTarget
	StaleThreshold           = gc.StaleThreshold
	StaleThresholdSizeTiered = gc.StaleThresholdSizeTiered
)

// StaleUpdate reports additional staleness discovered for one segment,
// e.g. because the caller's index just overwrote or deleted a key.
type StaleUpdate = engine.StaleUpdate

// GCReport summarizes one GC pass's outcome.
type GCReport = engine.GCReport

// Stats is a point-in-time summary of the value log's segment set.
type Stats = engine.Stats

// Options configures a value log instance. See pkg/options for the full
// field list and functional constructors.
type Options = options.Options

// OptionFunc mutates an Options in place; see pkg/options.With* constructors.
type OptionFunc = options.OptionFunc

// ValueLog is a single open value log instance.
type ValueLog struct {
	eng *engine.Engine
}

// Open creates (if absent) the data/segments directories under
// opts.DataDir, recovers the manifest and segment set, and returns a
// ready-to-use ValueLog. fs is the filesystem to operate against;
// production callers pass afero.NewOsFs(), tests pass afero.NewMemMapFs().
func Open(ctx context.Context, fs afero.Fs, log *zap.SugaredLogger, opt ...OptionFunc) (*ValueLog, error) {
	opts := options.NewDefaultOptions()
	for _, o := range opt {
		o(&opts)
	}

	eng, err := engine.Open(ctx, engine.Config{FS: fs, Options: opts, Logger: log})
	if err != nil {
		return nil, err
	}

	return &ValueLog{eng: eng}, nil
}

// Get resolves handle to its value. Returns NotFound if handle's segment
// is not currently registered (never written, or already retired by GC).
func (v *ValueLog) Get(handle Handle) ([]byte, error) {
	return v.eng.Get(handle)
}

// Writer streams new blobs into a freshly allocated segment.
type Writer struct {
	w *engine.Writer
}

// RegisterWriter allocates a new segment and returns a Writer bound to
// it. Call Append for each blob, then Finish to seal, register, and
// publish the segment, or Abort to discard it.
func (v *ValueLog) RegisterWriter() (*Writer, error) {
	w, err := v.eng.RegisterWriter()
	if err != nil {
		return nil, err
	}
	return &Writer{w: w}, nil
}

// SegmentID returns the id of the segment this writer is building.
func (w *Writer) SegmentID() uint64 { return w.w.SegmentID() }

// Append encodes and buffers one blob, returning its handle.
func (w *Writer) Append(key, value []byte) (Handle, error) {
	return w.w.Append(key, value)
}

// Finish seals the segment, registers it, and makes it visible to Get.
func (w *Writer) Finish() (segment.Metadata, error) {
	return w.w.Finish()
}

// Abort discards the segment under construction.
func (w *Writer) Abort() error {
	return w.w.Abort()
}

// MarkStale applies a batch of staleness updates, used by the caller
// after it overwrites or deletes a key so GC can later find the segment
// worth reclaiming.
func (v *ValueLog) MarkStale(updates []StaleUpdate) {
	v.eng.MarkStale(updates)
}

// GC runs one garbage-collection pass: strategy selects candidate
// segments from the current staleness snapshot, and idx is asked to
// relink keys whose values get rewritten. Returns Busy if another GC pass
// is already running.
func (v *ValueLog) GC(ctx context.Context, strategy Strategy, idx Index) (GCReport, error) {
	return v.eng.GC(ctx, strategy, idx)
}

// SpaceAmp returns total-bytes / live-bytes across all live segments.
func (v *ValueLog) SpaceAmp() float64 {
	return v.eng.SpaceAmp()
}

// Stats summarizes the current segment set and staleness map.
func (v *ValueLog) Stats() Stats {
	return v.eng.Stats()
}

// Close releases every open segment reader. The ValueLog is unusable
// afterward.
func (v *ValueLog) Close() error {
	return v.eng.Close()
}
