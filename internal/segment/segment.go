// Package segment implements the segmented append-store: the writer that
// builds an immutable segment file, the reader that serves point reads
// against one, and the footer format that makes a segment self-describing.
// Grounded on the teacher's internal/storage/storage.go open/append/offset-
// tracking discipline, on iamBelugaa-kvix's storage.go header-then-payload
// read path (io.SectionReader, small/large payload split), and on badger's
// logFile/iterate for sequential scanning.
package segment

import "github.com/fjall-rs/value-log/pkg/compression"

// Handle locates one blob record within a segment. This is the value the
// external key index stores per key (spec §6.1).
type Handle struct {
	SegmentID uint64
	Offset    uint64
	Size      uint32
}

// IndexUpdate describes one compare-and-swap request against the external
// key index: "if key currently maps to Old, atomically repoint it to New".
// GC uses this to relink a key to its rewritten location without racing a
// concurrent writer that may have superseded it in the meantime (spec §4.9
// step 5 — "CAS-relink, abandon the copy on failure").
type IndexUpdate struct {
	Key []byte
	Old Handle
	New Handle
}

// Metadata summarizes a finished segment, reconstructable from its footer
// alone (spec §4, "Segment metadata"). FooterOffset and FileSize are not
// part of the on-disk footer itself — they are recorded by the manifest so
// a reader can jump straight to the footer instead of scanning backward
// for it, since the footer's variable-length key fields make its length
// unknown in advance.
type Metadata struct {
	ID           uint64
	Items        uint64
	TotalRaw     uint64
	TotalDisk    uint64
	MinKey       []byte
	MaxKey       []byte
	Compression  compression.CodecID
	FooterOffset uint64
	FileSize     uint64
}
