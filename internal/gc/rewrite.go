package gc

import (
	"context"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/fjall-rs/value-log/internal/blob"
	"github.com/fjall-rs/value-log/internal/cache"
	"github.com/fjall-rs/value-log/internal/manifest"
	"github.com/fjall-rs/value-log/internal/segment"
	"github.com/fjall-rs/value-log/internal/staleness"
	"github.com/fjall-rs/value-log/pkg/compression"
	valerrors "github.com/fjall-rs/value-log/pkg/errors"
	"github.com/fjall-rs/value-log/pkg/seginfo"
)

// Index is the subset of the external key index contract GC needs (spec
// §6.1). Production callers pass their own implementation; tests pass
// internal/testindex.
type Index interface {
	Lookup(key []byte) (segment.Handle, bool, error)
	CompareAndSwap(ctx context.Context, updates []segment.IndexUpdate) ([]bool, error)
}

// IDAllocator hands out the next segment id. The coordinator owns id
// allocation; GC only consumes it.
type IDAllocator func() uint64

// Rewriter implements the rewrite protocol (spec §4.9): for each candidate
// segment, stream its still-live blobs into new segment(s), register the
// new segments before retiring the old ones, relink the index via CAS, and
// only then unregister the old segments and purge their cache entries.
// Grounded on badger's rewrite/doRunGC (per-blob liveness check, batched
// writes, register-then-retire ordering) and pebble's writeNewBlobFiles
// (lazy, size-capped output segment creation).
type Rewriter struct {
	fs          afero.Fs
	segmentsDir string

	manifest  *manifest.Manifest
	staleness *staleness.Map
	cache     *cache.BlobCache
	index     Index

	codec          compression.Codec
	targetSize     uint64
	fsync          bool
	concurrency    int
	allocSegmentID IDAllocator
}

// Config bundles Rewriter's dependencies.
type Config struct {
	FS          afero.Fs
	SegmentsDir string
	Manifest    *manifest.Manifest
	Staleness   *staleness.Map
	Cache       *cache.BlobCache
	Index       Index
	Codec       compression.Codec
	TargetSize  uint64
	Fsync       bool
	Concurrency int
	AllocID     IDAllocator
}

// New constructs a Rewriter from cfg.
func New(cfg Config) *Rewriter {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Rewriter{
		fs:             cfg.FS,
		segmentsDir:    cfg.SegmentsDir,
		manifest:       cfg.Manifest,
		staleness:      cfg.Staleness,
		cache:          cfg.Cache,
		index:          cfg.Index,
		codec:          cfg.Codec,
		targetSize:     cfg.TargetSize,
		fsync:          cfg.Fsync,
		concurrency:    concurrency,
		allocSegmentID: cfg.AllocID,
	}
}

// liveBlob is one surviving record copied out of a candidate segment,
// along with the handle it must still match in the index at relink time.
type liveBlob struct {
	key   []byte
	value []byte
	old   segment.Handle
}

// Rewrite runs the full protocol against candidateIDs, returning the ids of
// newly written segments and the ids of segments successfully retired.
func (r *Rewriter) Rewrite(ctx context.Context, candidateIDs []uint64) (newSegmentIDs, retiredSegmentIDs []uint64, err error) {
	if len(candidateIDs) == 0 {
		return nil, nil, nil
	}

	// Step 1-2: snapshot candidates and scan each concurrently for
	// still-live blobs (a blob is live iff the index still points at this
	// exact segment+offset).
	liveByCandidate := make([][]liveBlob, len(candidateIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, id := range candidateIDs {
		i, id := i, id
		g.Go(func() error {
			blobs, err := r.scanLive(gctx, id)
			if err != nil {
				return err
			}
			liveByCandidate[i] = blobs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var allLive []liveBlob
	for _, blobs := range liveByCandidate {
		allLive = append(allLive, blobs...)
	}

	// Step 3: stream all live blobs into new, size-capped segment(s).
	newMeta, relocations, err := r.writeNewSegments(allLive)
	if err != nil {
		return nil, nil, err
	}

	// Step 4: register new segments before retiring old ones, so a crash
	// between here and step 6 leaves both old and new segments registered
	// (recoverable), never neither (data loss).
	for _, md := range newMeta {
		entry := manifest.Entry{
			SegmentID:    md.ID,
			FooterOffset: md.FooterOffset,
			FileSize:     md.FileSize,
			Items:        md.Items,
			TotalRaw:     md.TotalRaw,
			TotalDisk:    md.TotalDisk,
			Compression:  md.Compression,
		}
		if err := r.manifest.Register(entry); err != nil {
			return nil, nil, err
		}
		r.staleness.Register(md.ID, md.TotalDisk, md.Items)
		newSegmentIDs = append(newSegmentIDs, md.ID)
	}

	// Step 5: CAS-relink the index. A failed CAS means a concurrent writer
	// already superseded this key; the freshly written copy is simply
	// abandoned (it becomes stale in its new segment and will be reclaimed
	// by a later GC pass).
	if len(relocations) > 0 {
		results, err := r.index.CompareAndSwap(ctx, relocations)
		if err != nil {
			return newSegmentIDs, nil, err
		}
		for i, ok := range results {
			if !ok {
				u := relocations[i]
				r.staleness.MarkStale(u.New.SegmentID, uint64(u.New.Size), 1)
			}
		}
	}

	// Step 6: unregister and purge the old segments, then delete their files.
	if err := r.manifest.Unregister(candidateIDs...); err != nil {
		return newSegmentIDs, nil, err
	}
	for _, id := range candidateIDs {
		r.staleness.Unregister(id)
		r.cache.PurgeSegment(id)
		path := seginfo.Path(r.segmentsDir, id)
		if err := r.fs.Remove(path); err != nil {
			return newSegmentIDs, retiredSegmentIDs, valerrors.NewGCError(err, valerrors.ErrorCodeGCRewriteFailed,
				"remove retired segment failed").WithSegmentIDs(candidateIDs)
		}
		retiredSegmentIDs = append(retiredSegmentIDs, id)
	}

	return newSegmentIDs, retiredSegmentIDs, nil
}

// scanLive opens candidate segment id and returns every blob whose key
// still resolves, in the external index, to this exact segment+offset.
// Iterate itself treats a corrupt blob as stale and skips it, so a single
// bad record in one candidate neither sinks this segment's scan nor, via
// errgroup in Rewrite, the concurrent scan of any sibling candidate. A
// corrupt footer (caught by OpenReader below), or a record whose header
// leaves no usable length (see Reader.Iterate), fails the scan with an error.
func (r *Rewriter) scanLive(ctx context.Context, id uint64) ([]liveBlob, error) {
	entries := r.manifest.List()
	var footerOffset uint64
	found := false
	for _, e := range entries {
		if e.SegmentID == id {
			footerOffset = e.FooterOffset
			found = true
			break
		}
	}
	if !found {
		return nil, nil
	}

	path := seginfo.Path(r.segmentsDir, id)
	reader, err := segment.OpenReader(r.fs, path, footerOffset)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	reader.SetID(id)

	var out []liveBlob
	err = reader.Iterate(func(offset uint64, rec blob.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		handle := segment.Handle{SegmentID: id, Offset: offset, Size: uint32(blob.EncodedSize(len(rec.Key), int(rec.DiskSize)))}
		current, ok, err := r.index.Lookup(rec.Key)
		if err != nil {
			return err
		}
		if !ok || current.SegmentID != id || current.Offset != offset {
			return nil
		}

		out = append(out, liveBlob{key: rec.Key, value: rec.Value, old: handle})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// writeNewSegments streams blobs into one or more size-capped segments,
// creating the next writer lazily only when the previous one fills up.
func (r *Rewriter) writeNewSegments(blobs []liveBlob) ([]segment.Metadata, []segment.IndexUpdate, error) {
	if len(blobs) == 0 {
		return nil, nil, nil
	}

	var metas []segment.Metadata
	var relocations []segment.IndexUpdate

	var writer *segment.Writer
	var id uint64

	finishCurrent := func() error {
		if writer == nil {
			return nil
		}
		md, err := writer.Finish()
		if err != nil {
			return err
		}
		metas = append(metas, md)
		writer = nil
		return nil
	}

	for _, b := range blobs {
		if writer == nil {
			id = r.allocSegmentID()
			path := seginfo.Path(r.segmentsDir, id)
			w, err := segment.OpenWriter(r.fs, path, id, r.codec, segment.WriterOptions{Fsync: r.fsync})
			if err != nil {
				return nil, nil, err
			}
			writer = w
		}

		handle, err := writer.Append(b.key, b.value)
		if err != nil {
			return nil, nil, err
		}

		relocations = append(relocations, segment.IndexUpdate{Key: b.key, Old: b.old, New: handle})

		if writer.Size() >= r.targetSize {
			if err := finishCurrent(); err != nil {
				return nil, nil, err
			}
		}
	}

	if err := finishCurrent(); err != nil {
		return nil, nil, err
	}

	return metas, relocations, nil
}
