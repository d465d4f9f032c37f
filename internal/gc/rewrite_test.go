package gc_test

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjall-rs/value-log/internal/cache"
	"github.com/fjall-rs/value-log/internal/gc"
	"github.com/fjall-rs/value-log/internal/manifest"
	"github.com/fjall-rs/value-log/internal/segment"
	"github.com/fjall-rs/value-log/internal/staleness"
	"github.com/fjall-rs/value-log/internal/testindex"
	"github.com/fjall-rs/value-log/pkg/compression"
	"github.com/fjall-rs/value-log/pkg/seginfo"
)

// writeSegment writes kvs into a fresh segment with the given id, registers
// it in mf and staleness, seeds idx with the resulting handles, and returns
// the handles in kvs order.
func writeSegment(t *testing.T, fs afero.Fs, segmentsDir string, id uint64, mf *manifest.Manifest, st *staleness.Map, idx *testindex.Index, kvs [][2]string) []segment.Handle {
	t.Helper()

	codec, err := compression.ByID(compression.CodecNone)
	require.NoError(t, err)

	path := seginfo.Path(segmentsDir, id)
	w, err := segment.OpenWriter(fs, path, id, codec, segment.WriterOptions{})
	require.NoError(t, err)

	handles := make([]segment.Handle, len(kvs))
	for i, kv := range kvs {
		h, err := w.Append([]byte(kv[0]), []byte(kv[1]))
		require.NoError(t, err)
		handles[i] = h
	}

	md, err := w.Finish()
	require.NoError(t, err)

	require.NoError(t, mf.Register(manifest.Entry{
		SegmentID:    md.ID,
		FooterOffset: md.FooterOffset,
		FileSize:     md.FileSize,
		Items:        md.Items,
		TotalRaw:     md.TotalRaw,
		TotalDisk:    md.TotalDisk,
		Compression:  md.Compression,
	}))
	st.Register(md.ID, md.TotalDisk, md.Items)

	for i, kv := range kvs {
		idx.Put([]byte(kv[0]), handles[i])
	}

	return handles
}

func newRewriter(t *testing.T, fs afero.Fs, segmentsDir string, mf *manifest.Manifest, st *staleness.Map, c *cache.BlobCache, idx gc.Index, nextID *uint64) *gc.Rewriter {
	t.Helper()
	codec, err := compression.ByID(compression.CodecNone)
	require.NoError(t, err)

	return gc.New(gc.Config{
		FS:          fs,
		SegmentsDir: segmentsDir,
		Manifest:    mf,
		Staleness:   st,
		Cache:       c,
		Index:       idx,
		Codec:       codec,
		TargetSize:  1 << 20,
		Fsync:       false,
		Concurrency: 2,
		AllocID: func() uint64 {
			id := *nextID
			*nextID++
			return id
		},
	})
}

func TestRewriteRelinksLiveBlobsAndRetiresOldSegments(t *testing.T) {
	fs := afero.NewMemMapFs()
	segmentsDir := "/data/segments"
	require.NoError(t, fs.MkdirAll(segmentsDir, 0o755))

	mf, err := manifest.Open(fs, "/data", segmentsDir, false)
	require.NoError(t, err)
	st := staleness.New()
	c := cache.New(1<<20, 2)
	idx := testindex.New()

	writeSegment(t, fs, segmentsDir, 1, mf, st, idx, [][2]string{{"a", "1"}, {"b", "2"}})

	// "b" has since been overwritten elsewhere: the index now points it at
	// another segment, so the rewrite sees only "a" as live. Its bytes are
	// also marked stale, as a real caller would.
	idx.Put([]byte("b"), segment.Handle{SegmentID: 99, Offset: 0, Size: 1})
	st.MarkStale(1, 1, 1)

	nextID := uint64(2)
	r := newRewriter(t, fs, segmentsDir, mf, st, c, idx, &nextID)

	newIDs, retiredIDs, err := r.Rewrite(context.Background(), []uint64{1})
	require.NoError(t, err)

	assert.Equal(t, []uint64{1}, retiredIDs)
	require.Len(t, newIDs, 1)

	h, ok, err := idx.Lookup([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, newIDs[0], h.SegmentID, "the surviving key must now point at the new segment")

	entries := mf.List()
	require.Len(t, entries, 1)
	assert.Equal(t, newIDs[0], entries[0].SegmentID)

	exists, err := afero.Exists(fs, seginfo.Path(segmentsDir, 1))
	require.NoError(t, err)
	assert.False(t, exists, "retired segment file must be removed")
}

func TestRewriteEmptyCandidatesIsNoop(t *testing.T) {
	fs := afero.NewMemMapFs()
	segmentsDir := "/data/segments"
	require.NoError(t, fs.MkdirAll(segmentsDir, 0o755))

	mf, err := manifest.Open(fs, "/data", segmentsDir, false)
	require.NoError(t, err)
	st := staleness.New()
	c := cache.New(1<<20, 2)
	idx := testindex.New()
	nextID := uint64(1)

	r := newRewriter(t, fs, segmentsDir, mf, st, c, idx, &nextID)
	newIDs, retiredIDs, err := r.Rewrite(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, newIDs)
	assert.Nil(t, retiredIDs)
}

func TestRewriteSkipsKeysSupersededBeforeTheScan(t *testing.T) {
	fs := afero.NewMemMapFs()
	segmentsDir := "/data/segments"
	require.NoError(t, fs.MkdirAll(segmentsDir, 0o755))

	mf, err := manifest.Open(fs, "/data", segmentsDir, false)
	require.NoError(t, err)
	st := staleness.New()
	c := cache.New(1<<20, 2)
	idx := testindex.New()

	handles := writeSegment(t, fs, segmentsDir, 1, mf, st, idx, [][2]string{{"a", "1"}})

	// "a" has already been overwritten elsewhere by the time the rewrite
	// scans candidate segment 1, so the liveness check in scanLive drops it.
	idx.Put([]byte("a"), segment.Handle{SegmentID: 42, Offset: 0, Size: handles[0].Size})

	nextID := uint64(2)
	r := newRewriter(t, fs, segmentsDir, mf, st, c, idx, &nextID)

	newIDs, retiredIDs, err := r.Rewrite(context.Background(), []uint64{1})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, retiredIDs)
	assert.Empty(t, newIDs, "no live blobs means no new segment is written")

	got, ok, err := idx.Lookup([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(42), got.SegmentID, "the superseding pointer must be untouched")
}

func TestRewriteTreatsACorruptMiddleBlobAsStaleAndRelinksTheRest(t *testing.T) {
	fs := afero.NewMemMapFs()
	segmentsDir := "/data/segments"
	require.NoError(t, fs.MkdirAll(segmentsDir, 0o755))

	mf, err := manifest.Open(fs, "/data", segmentsDir, false)
	require.NoError(t, err)
	st := staleness.New()
	c := cache.New(1<<20, 2)
	idx := testindex.New()

	handles := writeSegment(t, fs, segmentsDir, 1, mf, st, idx, [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}})

	// Bit-flip the middle blob ("b") in place, after the index has already
	// recorded its (now corrupt) handle.
	path := seginfo.Path(segmentsDir, 1)
	raw, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	mid := handles[1]
	raw[mid.Offset+uint64(mid.Size)-1] ^= 0xFF
	require.NoError(t, afero.WriteFile(fs, path, raw, 0o644))

	nextID := uint64(2)
	r := newRewriter(t, fs, segmentsDir, mf, st, c, idx, &nextID)

	newIDs, retiredIDs, err := r.Rewrite(context.Background(), []uint64{1})
	require.NoError(t, err, "a corrupt blob in one candidate must not fail the whole rewrite")
	assert.Equal(t, []uint64{1}, retiredIDs)
	require.Len(t, newIDs, 1)

	ha, ok, err := idx.Lookup([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, newIDs[0], ha.SegmentID, "a surrounds the corrupt record and must still be relinked")

	hc, ok, err := idx.Lookup([]byte("c"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, newIDs[0], hc.SegmentID, "c surrounds the corrupt record and must still be relinked")

	hb, ok, err := idx.Lookup([]byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), hb.SegmentID, "b's corrupt blob was dropped as stale, so its index entry still points at the retired segment")
}
