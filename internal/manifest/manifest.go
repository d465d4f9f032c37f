// Package manifest implements the value log's atomic segment registry: the
// single source of truth for which segments are live, crash-safe across
// register/unregister swaps and able to recover a consistent view after a
// crash (spec §4.5). Grounded on badger's openOrCreateFiles/doneWriting
// durable-rename discipline and the teacher's fsync-then-rename segment
// handling, generalized from "finalize one file" to "atomically replace
// the whole registry".
package manifest

import (
	"encoding/binary"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spf13/afero"

	"github.com/fjall-rs/value-log/pkg/checksum"
	"github.com/fjall-rs/value-log/pkg/compression"
	valerrors "github.com/fjall-rs/value-log/pkg/errors"
	"github.com/fjall-rs/value-log/pkg/filesys"
	"github.com/fjall-rs/value-log/pkg/seginfo"
)

const (
	fileName    = "manifest"
	tmpFileName = "manifest.tmp"
)

// Entry describes one live segment as tracked by the manifest.
type Entry struct {
	SegmentID    uint64
	FooterOffset uint64
	FileSize     uint64
	Items        uint64
	TotalRaw     uint64
	TotalDisk    uint64
	Compression  compression.CodecID
}

// Manifest is the durable registry of live segments. All mutating methods
// hold an internal lock and perform a full write-temp/fsync/rename swap, so
// concurrent Register/Unregister calls serialize automatically.
type Manifest struct {
	fs          afero.Fs
	dir         string
	segmentsDir string
	fsync       bool

	mu      sync.Mutex
	entries map[uint64]Entry
}

var sum = checksum.NewCRC32C()

// Open loads an existing manifest from dir, or creates an empty one if none
// exists yet.
func Open(fs afero.Fs, dir, segmentsDir string, fsync bool) (*Manifest, error) {
	m := &Manifest{fs: fs, dir: dir, segmentsDir: segmentsDir, fsync: fsync, entries: make(map[uint64]Entry)}

	path := filepath.Join(dir, fileName)
	exists, err := filesys.Exists(fs, path)
	if err != nil {
		return nil, valerrors.NewManifestError(err, valerrors.ErrorCodeIO, "stat manifest failed").WithPath(path)
	}
	if !exists {
		if err := m.swap(); err != nil {
			return nil, err
		}
		return m, nil
	}

	buf, err := filesys.ReadFile(fs, path)
	if err != nil {
		return nil, valerrors.NewManifestError(err, valerrors.ErrorCodeIO, "read manifest failed").WithPath(path)
	}

	entries, err := decode(buf)
	if err != nil {
		return nil, err
	}

	m.entries = entries
	return m, nil
}

// Register durably adds entry to the manifest, replacing any prior entry
// for the same segment id.
func (m *Manifest) Register(entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.SegmentID] = entry
	return m.swap()
}

// Unregister durably removes the given segment ids from the manifest.
func (m *Manifest) Unregister(ids ...uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.entries, id)
	}
	return m.swap()
}

// List returns every currently registered entry, sorted by segment id.
func (m *Manifest) List() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SegmentID < out[j].SegmentID })
	return out
}

// swap durably replaces the manifest file with the current entry set via a
// write-temp + fsync + rename sequence. Caller must hold m.mu.
func (m *Manifest) swap() error {
	path := filepath.Join(m.dir, fileName)
	tmpPath := filepath.Join(m.dir, tmpFileName)

	buf := encode(m.entries)

	f, err := filesys.CreateFile(m.fs, tmpPath, true)
	if err != nil {
		return valerrors.NewManifestError(err, valerrors.ErrorCodeManifestSwapFailed, "create manifest temp file failed").WithPath(tmpPath)
	}

	if _, err := f.Write(buf); err != nil {
		f.Close()
		return valerrors.NewManifestError(err, valerrors.ErrorCodeManifestSwapFailed, "write manifest temp file failed").WithPath(tmpPath)
	}

	if m.fsync {
		if err := filesys.SyncFile(f); err != nil {
			f.Close()
			return valerrors.NewManifestError(err, valerrors.ErrorCodeManifestSwapFailed, "sync manifest temp file failed").WithPath(tmpPath)
		}
	}

	if err := f.Close(); err != nil {
		return valerrors.NewManifestError(err, valerrors.ErrorCodeManifestSwapFailed, "close manifest temp file failed").WithPath(tmpPath)
	}

	if err := m.fs.Rename(tmpPath, path); err != nil {
		return valerrors.NewManifestError(err, valerrors.ErrorCodeManifestSwapFailed, "rename manifest temp file failed").WithPath(path)
	}

	if m.fsync {
		if err := filesys.SyncDir(m.fs, m.dir); err != nil {
			return valerrors.NewManifestError(err, valerrors.ErrorCodeManifestSwapFailed, "sync manifest directory failed").WithPath(m.dir)
		}
	}

	return nil
}

func encode(entries map[uint64]Entry) []byte {
	ids := make([]uint64, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	const entrySize = 8 + 8 + 8 + 8 + 8 + 8 + 1
	buf := make([]byte, 8+len(ids)*entrySize+4)

	off := 0
	binary.LittleEndian.PutUint64(buf[off:], uint64(len(ids)))
	off += 8

	for _, id := range ids {
		e := entries[id]
		binary.LittleEndian.PutUint64(buf[off:], e.SegmentID)
		off += 8
		binary.LittleEndian.PutUint64(buf[off:], e.FooterOffset)
		off += 8
		binary.LittleEndian.PutUint64(buf[off:], e.FileSize)
		off += 8
		binary.LittleEndian.PutUint64(buf[off:], e.Items)
		off += 8
		binary.LittleEndian.PutUint64(buf[off:], e.TotalRaw)
		off += 8
		binary.LittleEndian.PutUint64(buf[off:], e.TotalDisk)
		off += 8
		buf[off] = byte(e.Compression)
		off++
	}

	crc := sum.Sum(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:], crc)

	return buf[:off+4]
}

func decode(buf []byte) (map[uint64]Entry, error) {
	if len(buf) < 8+4 {
		return nil, corrupt("manifest shorter than minimum size")
	}

	crcOff := len(buf) - 4
	wantCRC := binary.LittleEndian.Uint32(buf[crcOff:])
	gotCRC := sum.Sum(buf[:crcOff])
	if gotCRC != wantCRC {
		return nil, corrupt("manifest checksum mismatch")
	}

	count := binary.LittleEndian.Uint64(buf[0:8])
	const entrySize = 8 + 8 + 8 + 8 + 8 + 8 + 1
	off := 8

	entries := make(map[uint64]Entry, count)
	for i := uint64(0); i < count; i++ {
		if off+entrySize > crcOff {
			return nil, corrupt("manifest entry table truncated")
		}
		e := Entry{
			SegmentID:    binary.LittleEndian.Uint64(buf[off:]),
			FooterOffset: binary.LittleEndian.Uint64(buf[off+8:]),
			FileSize:     binary.LittleEndian.Uint64(buf[off+16:]),
			Items:        binary.LittleEndian.Uint64(buf[off+24:]),
			TotalRaw:     binary.LittleEndian.Uint64(buf[off+32:]),
			TotalDisk:    binary.LittleEndian.Uint64(buf[off+40:]),
			Compression:  compression.CodecID(buf[off+48]),
		}
		entries[e.SegmentID] = e
		off += entrySize
	}

	return entries, nil
}

func corrupt(msg string) error {
	return valerrors.NewManifestError(nil, valerrors.ErrorCodeCorruptManifest, msg)
}

// Recover reconciles the manifest against the segment files actually
// present in segmentsDir: segment files with no manifest entry are orphans
// and are deleted (spec §4.5, "delete files not in manifest"); a manifest
// entry whose segment file is absent is fatal (spec §4.5, "fatal on
// missing file with manifest entry").
func (m *Manifest) Recover() error {
	onDisk, err := seginfo.List(m.fs, m.segmentsDir)
	if err != nil {
		return valerrors.NewManifestError(err, valerrors.ErrorCodeIO, "list segment files failed").WithPath(m.segmentsDir)
	}

	present := make(map[uint64]bool, len(onDisk))
	for _, id := range onDisk {
		present[id] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.entries {
		if !present[id] {
			return valerrors.NewManifestError(nil, valerrors.ErrorCodeMissingSegment,
				"manifest entry refers to a missing segment file").WithSegmentID(id).WithPath(m.segmentsDir)
		}
	}

	for id := range present {
		if _, ok := m.entries[id]; !ok {
			path := seginfo.Path(m.segmentsDir, id)
			if err := m.fs.Remove(path); err != nil {
				return valerrors.NewManifestError(err, valerrors.ErrorCodeOrphanSegment, "delete orphan segment failed").
					WithSegmentID(id).WithPath(path)
			}
		}
	}

	return nil
}
