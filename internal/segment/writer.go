package segment

import (
	"bufio"
	"bytes"
	"path/filepath"
	"sync/atomic"

	"github.com/spf13/afero"

	"github.com/fjall-rs/value-log/internal/blob"
	"github.com/fjall-rs/value-log/pkg/compression"
	valerrors "github.com/fjall-rs/value-log/pkg/errors"
	"github.com/fjall-rs/value-log/pkg/filesys"
)

// WriterOptions configures a Writer's buffering and durability behavior.
type WriterOptions struct {
	// WriteBufferSize sizes the bufio.Writer placed in front of the append stream.
	WriteBufferSize int
	// Fsync, when true, durably syncs the file (and its containing
	// directory) on Finish.
	Fsync bool
}

// Writer builds a single immutable segment file. It buffers appends, tracks
// running statistics, and writes the footer + trailing magic on Finish.
// Grounded on the teacher's storage.go append/offset-tracking discipline,
// generalized so segment rotation is the caller's decision rather than the
// writer's.
type Writer struct {
	fs   afero.Fs
	file afero.File
	path string
	id   uint64

	codec  compression.Codec
	buf    *bufio.Writer
	offset uint64

	items     uint64
	totalRaw  uint64
	totalDisk uint64
	minKey    []byte
	maxKey    []byte

	fsync  bool
	closed atomic.Bool
}

// OpenWriter creates a new segment file at path and returns a Writer ready
// to accept appends. The file must not already exist.
func OpenWriter(fs afero.Fs, path string, id uint64, codec compression.Codec, opts WriterOptions) (*Writer, error) {
	if opts.WriteBufferSize <= 0 {
		opts.WriteBufferSize = 256 * 1024
	}

	f, err := filesys.CreateFile(fs, path, false)
	if err != nil {
		return nil, valerrors.ClassifyFileOpenError(err, path, path)
	}

	return &Writer{
		fs:    fs,
		file:  f,
		path:  path,
		id:    id,
		codec: codec,
		buf:   bufio.NewWriterSize(f, opts.WriteBufferSize),
		fsync: opts.Fsync,
	}, nil
}

// Append encodes key/value as a blob record, writes it, and returns a
// handle locating it within this segment.
func (w *Writer) Append(key, value []byte) (Handle, error) {
	if w.closed.Load() {
		return Handle{}, valerrors.NewSegmentError(nil, valerrors.ErrorCodeBuilderClosed, "segment writer already finished").
			WithSegmentID(w.id).WithPath(w.path)
	}

	rec, err := blob.Encode(key, value, w.codec)
	if err != nil {
		return Handle{}, err
	}

	n, err := w.buf.Write(rec)
	if err != nil {
		return Handle{}, valerrors.NewSegmentError(err, valerrors.ErrorCodeIO, "segment append write failed").
			WithSegmentID(w.id).WithPath(w.path).WithOffset(int64(w.offset))
	}

	handle := Handle{SegmentID: w.id, Offset: w.offset, Size: uint32(n)}

	w.offset += uint64(n)
	w.items++
	w.totalRaw += uint64(len(value))
	w.totalDisk += uint64(n)

	if w.minKey == nil || bytes.Compare(key, w.minKey) < 0 {
		w.minKey = append([]byte(nil), key...)
	}
	if w.maxKey == nil || bytes.Compare(key, w.maxKey) > 0 {
		w.maxKey = append([]byte(nil), key...)
	}

	return handle, nil
}

// Size returns the number of bytes appended to the segment so far,
// excluding the not-yet-written footer.
func (w *Writer) Size() uint64 { return w.offset }

// Finish flushes the write buffer, appends the footer and trailing magic,
// syncs per WriterOptions.Fsync, and closes the file. The Writer cannot be
// used afterward.
func (w *Writer) Finish() (Metadata, error) {
	if !w.closed.CompareAndSwap(false, true) {
		return Metadata{}, valerrors.NewSegmentError(nil, valerrors.ErrorCodeBuilderClosed, "segment writer already finished").
			WithSegmentID(w.id).WithPath(w.path)
	}

	footerOffset := w.offset

	footBytes, err := encodeFooter(footer{
		Items:       w.items,
		TotalRaw:    w.totalRaw,
		TotalDisk:   w.totalDisk,
		MinKey:      w.minKey,
		MaxKey:      w.maxKey,
		Compression: w.codec.ID(),
	})
	if err != nil {
		w.file.Close()
		return Metadata{}, valerrors.NewSegmentError(err, valerrors.ErrorCodeInternal, "encode footer failed").
			WithSegmentID(w.id).WithPath(w.path)
	}

	if _, err := w.buf.Write(footBytes); err != nil {
		w.file.Close()
		return Metadata{}, valerrors.NewSegmentError(err, valerrors.ErrorCodeIO, "segment footer write failed").
			WithSegmentID(w.id).WithPath(w.path)
	}

	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return Metadata{}, valerrors.NewSegmentError(err, valerrors.ErrorCodeIO, "segment flush failed").
			WithSegmentID(w.id).WithPath(w.path)
	}

	if w.fsync {
		if err := filesys.SyncFile(w.file); err != nil {
			w.file.Close()
			return Metadata{}, valerrors.ClassifySyncError(err, w.path, w.path, int64(w.offset))
		}
	}

	fileSize := footerOffset + uint64(len(footBytes))

	if err := w.file.Close(); err != nil {
		return Metadata{}, valerrors.NewSegmentError(err, valerrors.ErrorCodeIO, "segment close failed").
			WithSegmentID(w.id).WithPath(w.path)
	}

	if w.fsync {
		if err := filesys.SyncDir(w.fs, parentDir(w.path)); err != nil {
			return Metadata{}, valerrors.ClassifySyncError(err, w.path, w.path, int64(w.offset))
		}
	}

	return Metadata{
		ID:           w.id,
		Items:        w.items,
		TotalRaw:     w.totalRaw,
		TotalDisk:    w.totalDisk,
		MinKey:       w.minKey,
		MaxKey:       w.maxKey,
		Compression:  w.codec.ID(),
		FooterOffset: footerOffset,
		FileSize:     fileSize,
	}, nil
}

func parentDir(path string) string {
	return filepath.Dir(path)
}

// Abort discards a partially written segment: it closes and removes the
// underlying file. Used when a register_writer caller fails before Finish,
// so nothing partially-registered remains (spec §4, register_writer).
func (w *Writer) Abort() error {
	if w.closed.CompareAndSwap(false, true) {
		w.file.Close()
	}
	return w.fs.Remove(w.path)
}
