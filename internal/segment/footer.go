package segment

import (
	"encoding/binary"
	"fmt"

	"github.com/fjall-rs/value-log/pkg/checksum"
	"github.com/fjall-rs/value-log/pkg/compression"
	valerrors "github.com/fjall-rs/value-log/pkg/errors"
)

// footerMagic is the fixed trailing byte every segment file ends with
// (spec §6.4 "footer_magic:8"), letting recovery reject a truncated
// segment with a single byte read at the end of the file.
const footerMagic = 0xFE

var footerSum = checksum.NewCRC32C()

// footer is the fixed-layout trailer every segment carries, per spec §6.4:
//
//	[ items:64 | total_raw:64 | total_disk:64 | min_key_len:16 | min_key |
//	  max_key_len:16 | max_key | compression:8 | footer_crc:32 | footer_magic:8 ]
type footer struct {
	Items       uint64
	TotalRaw    uint64
	TotalDisk   uint64
	MinKey      []byte
	MaxKey      []byte
	Compression compression.CodecID
}

func encodeFooter(f footer) ([]byte, error) {
	if len(f.MinKey) > 0xFFFF || len(f.MaxKey) > 0xFFFF {
		return nil, fmt.Errorf("segment: footer key too long")
	}

	fixed := 8 + 8 + 8 + 2 + len(f.MinKey) + 2 + len(f.MaxKey) + 1
	buf := make([]byte, fixed+4+1)

	off := 0
	binary.LittleEndian.PutUint64(buf[off:], f.Items)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], f.TotalRaw)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], f.TotalDisk)
	off += 8
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(f.MinKey)))
	off += 2
	copy(buf[off:], f.MinKey)
	off += len(f.MinKey)
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(f.MaxKey)))
	off += 2
	copy(buf[off:], f.MaxKey)
	off += len(f.MaxKey)
	buf[off] = byte(f.Compression)
	off++

	crc := footerSum.Sum(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:], crc)
	off += 4
	buf[off] = footerMagic

	return buf, nil
}

// decodeFooter parses a footer from the tail of a segment file. buf must
// contain exactly the footer bytes (OpenReader reads from the footer offset
// recorded in the manifest to the end of the file).
func decodeFooter(buf []byte) (footer, error) {
	if len(buf) < 8+8+8+2+2+1+4+1 {
		return footer{}, corruptSegment("footer shorter than minimum size")
	}
	if buf[len(buf)-1] != footerMagic {
		return footer{}, corruptSegment("footer magic mismatch")
	}

	crcOff := len(buf) - 5
	wantCRC := binary.LittleEndian.Uint32(buf[crcOff:])
	gotCRC := footerSum.Sum(buf[:crcOff])
	if gotCRC != wantCRC {
		return footer{}, corruptSegment("footer checksum mismatch")
	}

	off := 0
	items := binary.LittleEndian.Uint64(buf[off:])
	off += 8
	totalRaw := binary.LittleEndian.Uint64(buf[off:])
	off += 8
	totalDisk := binary.LittleEndian.Uint64(buf[off:])
	off += 8

	minKeyLen := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	if off+minKeyLen > crcOff {
		return footer{}, corruptSegment("footer min key overruns buffer")
	}
	minKey := append([]byte(nil), buf[off:off+minKeyLen]...)
	off += minKeyLen

	maxKeyLen := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	if off+maxKeyLen > crcOff {
		return footer{}, corruptSegment("footer max key overruns buffer")
	}
	maxKey := append([]byte(nil), buf[off:off+maxKeyLen]...)
	off += maxKeyLen

	if off >= crcOff {
		return footer{}, corruptSegment("footer compression byte missing")
	}
	codec := compression.CodecID(buf[off])

	return footer{
		Items:       items,
		TotalRaw:    totalRaw,
		TotalDisk:   totalDisk,
		MinKey:      minKey,
		MaxKey:      maxKey,
		Compression: codec,
	}, nil
}

func corruptSegment(msg string) error {
	return valerrors.NewSegmentError(nil, valerrors.ErrorCodeCorruptSegment, msg)
}
