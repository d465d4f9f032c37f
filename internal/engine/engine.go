// Package engine provides the value log's coordinator: the top-level
// object that owns the segment set, the manifest, the shared blob cache,
// and the staleness map, and exposes get/register-writer/mark-stale/GC as
// a single thread-safe surface.
//
// Segment-set and manifest mutation is guarded by a single writer lock
// (writeMu); two GC passes are additionally prevented from running
// concurrently by a CAS guard, grounded on the teacher's atomic.Bool
// closed-flag idiom generalized from "is this object closed" to "is a GC
// pass currently in flight". Reads take no lock: they load the current
// segment set via atomic.Pointer.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/fjall-rs/value-log/internal/cache"
	"github.com/fjall-rs/value-log/internal/gc"
	"github.com/fjall-rs/value-log/internal/manifest"
	"github.com/fjall-rs/value-log/internal/segment"
	"github.com/fjall-rs/value-log/internal/staleness"
	"github.com/fjall-rs/value-log/pkg/compression"
	valerrors "github.com/fjall-rs/value-log/pkg/errors"
	"github.com/fjall-rs/value-log/pkg/filesys"
	"github.com/fjall-rs/value-log/pkg/options"
	"github.com/fjall-rs/value-log/pkg/seginfo"

	"github.com/spf13/afero"
)

// StaleUpdate reports additional staleness discovered for one segment.
type StaleUpdate struct {
	SegmentID uint64
	Bytes     uint64
	Items     uint64
}

// GCReport summarizes the outcome of one GC pass.
type GCReport struct {
	CandidateSegments []uint64
	NewSegments       []uint64
	RetiredSegments   []uint64
}

// Stats is a point-in-time summary of the coordinator's segment set.
type Stats struct {
	SegmentCount uint64
	TotalBytes   uint64
	StaleBytes   uint64
	LiveBytes    uint64
}

// openSegment is one live, queryable segment: an open reader plus the
// manifest entry that produced it.
type openSegment struct {
	reader *segment.Reader
	entry  manifest.Entry
}

// segmentSet is the coordinator's immutable, point-in-time view of live
// segments. A new segmentSet is built and swapped in under writeMu on
// every registration or GC pass, so concurrent readers that already hold
// a reference to the old set see a consistent (pre- or post-change) view,
// never a torn one (spec §4.6).
type segmentSet struct {
	byID map[uint64]*openSegment
}

func (s *segmentSet) clone() *segmentSet {
	out := &segmentSet{byID: make(map[uint64]*openSegment, len(s.byID))}
	for id, seg := range s.byID {
		out.byID[id] = seg
	}
	return out
}

// Engine is the value log coordinator.
type Engine struct {
	fs          afero.Fs
	dataDir     string
	segmentsDir string
	opts        options.Options
	log         *zap.SugaredLogger
	codec       compression.Codec

	manifest  *manifest.Manifest
	cache     *cache.BlobCache
	staleness *staleness.Map

	segments atomic.Pointer[segmentSet]

	nextSegmentID atomic.Uint64
	gcRunning     atomic.Bool
	closed        atomic.Bool

	// writeMu serializes manifest registration, segment-set swaps, and GC
	// rewrite application. It is a plain mutex, not an atomic.Bool, since
	// these sections legitimately block on disk I/O and must not be
	// skipped the way a busy-reject is for concurrent GC.
	writeMu sync.Mutex
}

// Config bundles everything Open needs to construct an Engine.
type Config struct {
	FS      afero.Fs
	Options options.Options
	Logger  *zap.SugaredLogger
}

// Open creates the data/segments directories if absent, opens (or
// creates) the manifest, recovers it against the segment directory, and
// builds the in-memory segment set, cache, and staleness map from the
// recovered entries.
func Open(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.FS == nil || cfg.Logger == nil {
		return nil, valerrors.NewValidationError(nil, valerrors.ErrorCodeInvalidInput, "engine configuration is required").
			WithField("config").WithRule("required")
	}

	dataDir := cfg.Options.DataDir
	segmentsDir := dataDir + "/segments"

	if err := filesys.CreateDir(cfg.FS, dataDir, 0o755, true); err != nil {
		return nil, err
	}
	if err := filesys.CreateDir(cfg.FS, segmentsDir, 0o755, true); err != nil {
		return nil, err
	}

	codec, err := compression.ByID(cfg.Options.Compression)
	if err != nil {
		return nil, err
	}

	mf, err := manifest.Open(cfg.FS, dataDir, segmentsDir, cfg.Options.FsyncPerManifestSwap)
	if err != nil {
		return nil, err
	}
	if err := mf.Recover(); err != nil {
		return nil, err
	}

	e := &Engine{
		fs:          cfg.FS,
		dataDir:     dataDir,
		segmentsDir: segmentsDir,
		opts:        cfg.Options,
		log:         cfg.Logger,
		codec:       codec,
		manifest:    mf,
		cache:       cache.New(cfg.Options.CacheCapacityBytes, cfg.Options.CacheShardCount),
		staleness:   staleness.New(),
	}

	set := &segmentSet{byID: make(map[uint64]*openSegment)}
	var maxID uint64
	for _, entry := range mf.List() {
		path := seginfo.Path(segmentsDir, entry.SegmentID)
		reader, err := segment.OpenReader(cfg.FS, path, entry.FooterOffset)
		if err != nil {
			return nil, err
		}
		reader.SetID(entry.SegmentID)

		set.byID[entry.SegmentID] = &openSegment{reader: reader, entry: entry}
		e.staleness.Register(entry.SegmentID, entry.TotalDisk, entry.Items)

		if entry.SegmentID >= maxID {
			maxID = entry.SegmentID + 1
		}
	}
	e.segments.Store(set)
	e.nextSegmentID.Store(maxID)

	e.log.Infow("value log opened", "dataDir", dataDir, "segments", len(set.byID))
	return e, nil
}

func (e *Engine) allocSegmentID() uint64 {
	return e.nextSegmentID.Add(1) - 1
}

// Get resolves handle to its decoded value. Cache hits bypass disk and
// decompression (spec §4.4). A handle whose segment is not in the current
// segment set (never written, or already retired by GC) returns NotFound.
func (e *Engine) Get(handle segment.Handle) ([]byte, error) {
	if e.closed.Load() {
		return nil, valerrors.NewSegmentError(nil, valerrors.ErrorCodeInternal, "engine is closed")
	}

	cacheKey := cache.Key{Tenant: e.dataDir, SegmentID: handle.SegmentID, Offset: handle.Offset}
	if v, ok := e.cache.Get(cacheKey); ok {
		return v, nil
	}

	set := e.segments.Load()
	seg, ok := set.byID[handle.SegmentID]
	if !ok {
		return nil, valerrors.NewSegmentError(nil, valerrors.ErrorCodeNotFound, "segment not registered").
			WithSegmentID(handle.SegmentID)
	}

	_, value, err := seg.reader.Read(handle.Offset, handle.Size)
	if err != nil {
		return nil, err
	}

	e.cache.Put(cacheKey, value)
	return value, nil
}

// Writer is a handle returned by RegisterWriter: a builder bound to a
// freshly allocated segment id and a temporary path, per spec §4.8.
type Writer struct {
	eng  *Engine
	id   uint64
	tmp  string
	path string

	inner *segment.Writer
}

// RegisterWriter allocates a new segment id and returns a Writer ready to
// accept appends. The underlying file is created at a temporary path;
// Finish seals it, moves it to its canonical name, and registers it.
func (e *Engine) RegisterWriter() (*Writer, error) {
	if e.closed.Load() {
		return nil, valerrors.NewSegmentError(nil, valerrors.ErrorCodeInternal, "engine is closed")
	}

	id := e.allocSegmentID()
	canonical := seginfo.Path(e.segmentsDir, id)
	tmp := canonical + ".tmp"

	inner, err := segment.OpenWriter(e.fs, tmp, id, e.codec, segment.WriterOptions{
		WriteBufferSize: e.opts.WriteBufferSize,
		Fsync:           e.opts.FsyncPerSegmentWrite,
	})
	if err != nil {
		return nil, err
	}

	return &Writer{eng: e, id: id, tmp: tmp, path: canonical, inner: inner}, nil
}

// SegmentID returns the id this writer's segment will register under.
func (w *Writer) SegmentID() uint64 { return w.id }

// Append streams one blob into the segment under construction.
func (w *Writer) Append(key, value []byte) (segment.Handle, error) {
	return w.inner.Append(key, value)
}

// Finish seals the segment, moves it to its canonical path, registers it
// in the manifest, and publishes it into the live segment set. A failure
// at any step removes the temporary (or, if the rename already happened,
// canonical) file so nothing partially-registered remains.
func (w *Writer) Finish() (segment.Metadata, error) {
	md, err := w.inner.Finish()
	if err != nil {
		w.eng.fs.Remove(w.tmp)
		return segment.Metadata{}, err
	}

	if err := w.eng.fs.Rename(w.tmp, w.path); err != nil {
		w.eng.fs.Remove(w.tmp)
		return segment.Metadata{}, valerrors.NewSegmentError(err, valerrors.ErrorCodeIO, "rename sealed segment failed").
			WithSegmentID(w.id).WithPath(w.path)
	}

	reader, err := segment.OpenReader(w.eng.fs, w.path, md.FooterOffset)
	if err != nil {
		w.eng.fs.Remove(w.path)
		return segment.Metadata{}, err
	}
	reader.SetID(w.id)

	entry := manifest.Entry{
		SegmentID:    w.id,
		FooterOffset: md.FooterOffset,
		FileSize:     md.FileSize,
		Items:        md.Items,
		TotalRaw:     md.TotalRaw,
		TotalDisk:    md.TotalDisk,
		Compression:  md.Compression,
	}

	w.eng.writeMu.Lock()
	defer w.eng.writeMu.Unlock()

	if err := w.eng.manifest.Register(entry); err != nil {
		reader.Close()
		w.eng.fs.Remove(w.path)
		return segment.Metadata{}, err
	}

	w.eng.staleness.Register(w.id, md.TotalDisk, md.Items)

	old := w.eng.segments.Load()
	next := old.clone()
	next.byID[w.id] = &openSegment{reader: reader, entry: entry}
	w.eng.segments.Store(next)

	return md, nil
}

// Abort discards this writer's in-progress segment, removing its
// temporary file. Safe to call after Finish has already failed.
func (w *Writer) Abort() error {
	return w.inner.Abort()
}

// MarkStale applies a batch of staleness updates (spec §4.7). Updates for
// segment ids no longer present (already retired) are silently ignored.
func (e *Engine) MarkStale(updates []StaleUpdate) {
	for _, u := range updates {
		e.staleness.MarkStale(u.SegmentID, u.Bytes, u.Items)
	}
}

// GC runs one garbage-collection pass using strategy for target selection
// and index as the external key index to relink. Returns Busy if another
// GC pass is already in flight (spec §4.9, "two GC passes must not be
// concurrent").
func (e *Engine) GC(ctx context.Context, strategy gc.Strategy, index gc.Index) (GCReport, error) {
	if e.closed.Load() {
		return GCReport{}, valerrors.NewGCError(nil, valerrors.ErrorCodeInternal, "engine is closed")
	}
	if !e.gcRunning.CompareAndSwap(false, true) {
		return GCReport{}, valerrors.NewGCError(nil, valerrors.ErrorCodeBusy, "a GC pass is already running")
	}
	defer e.gcRunning.Store(false)

	snapshot := e.staleness.Snapshot()
	candidates := strategy.SelectCandidates(snapshot)
	report := GCReport{CandidateSegments: candidates}
	if len(candidates) == 0 {
		return report, nil
	}

	rewriter := gc.New(gc.Config{
		FS:          e.fs,
		SegmentsDir: e.segmentsDir,
		Manifest:    e.manifest,
		Staleness:   e.staleness,
		Cache:       e.cache,
		Index:       index,
		Codec:       e.codec,
		TargetSize:  e.opts.SegmentTargetSize,
		Fsync:       e.opts.FsyncPerSegmentWrite,
		Concurrency: e.opts.GCConcurrency,
		AllocID:     e.allocSegmentID,
	})

	e.writeMu.Lock()
	newIDs, retiredIDs, err := rewriter.Rewrite(ctx, candidates)
	if err != nil {
		e.writeMu.Unlock()
		return report, err
	}

	old := e.segments.Load()
	next := old.clone()
	for _, id := range retiredIDs {
		if seg, ok := next.byID[id]; ok {
			seg.reader.Close()
			delete(next.byID, id)
		}
	}
	for _, entry := range e.manifest.List() {
		if _, already := next.byID[entry.SegmentID]; already {
			continue
		}
		isNew := false
		for _, id := range newIDs {
			if id == entry.SegmentID {
				isNew = true
				break
			}
		}
		if !isNew {
			continue
		}
		reader, err := segment.OpenReader(e.fs, seginfo.Path(e.segmentsDir, entry.SegmentID), entry.FooterOffset)
		if err != nil {
			e.writeMu.Unlock()
			return report, err
		}
		reader.SetID(entry.SegmentID)
		next.byID[entry.SegmentID] = &openSegment{reader: reader, entry: entry}
	}
	e.segments.Store(next)
	e.writeMu.Unlock()

	report.NewSegments = newIDs
	report.RetiredSegments = retiredIDs
	e.log.Infow("gc pass finished", "candidates", len(candidates), "new", len(newIDs), "retired", len(retiredIDs))
	return report, nil
}

// SpaceAmp returns the current total-bytes / live-bytes ratio across all
// live segments.
func (e *Engine) SpaceAmp() float64 {
	stats := e.Stats()
	if stats.LiveBytes == 0 {
		return 0
	}
	return float64(stats.TotalBytes) / float64(stats.LiveBytes)
}

// Stats summarizes the current segment set and staleness map.
func (e *Engine) Stats() Stats {
	var out Stats
	for _, s := range e.staleness.Snapshot() {
		out.SegmentCount++
		out.TotalBytes += s.TotalBytes
		out.StaleBytes += s.StaleBytes
		if s.StaleBytes < s.TotalBytes {
			out.LiveBytes += s.TotalBytes - s.StaleBytes
		}
	}
	return out
}

// Close shuts the engine down, closing every open segment reader. Further
// calls return an error; Close itself is idempotent-safe via CAS.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("value log already closed")
	}

	set := e.segments.Load()
	var err error
	for _, seg := range set.byID {
		err = multierr.Append(err, seg.reader.Close())
	}

	e.log.Infow("value log closed")
	return err
}
