// Package blob implements the on-disk blob record codec: the header + key +
// value layout a segment writer appends and a segment reader decodes. The
// format is spec §6.3, normative:
//
//	[ magic:2 | crc:4 | key_len:16 | val_len_raw:32 | val_len_disk:32 | compression:8 | reserved:8 | key | value_disk ]
//
// The checksum covers the header (with the crc field zeroed) concatenated
// with key || value_disk. The key is stored inline and never compressed, so
// GC can recover it from a blob alone without consulting the external
// index. Grounded on badger's value.go header/encodeEntry/CRC-over-payload
// pattern, generalized from badger's single fixed codec to this module's
// pluggable compression.Codec.
package blob

import (
	"encoding/binary"
	"fmt"

	"github.com/fjall-rs/value-log/pkg/checksum"
	"github.com/fjall-rs/value-log/pkg/compression"
	valerrors "github.com/fjall-rs/value-log/pkg/errors"
)

var magic = [2]byte{0xB1, 0x0B}

const (
	// HeaderSize is the fixed size, in bytes, of a blob record's header
	// (spec §6.3), before the variable-length key and value_disk fields.
	HeaderSize = 18
	headerSize = HeaderSize

	offMagic        = 0
	offCRC          = 2
	offKeyLen       = 6
	offValLenRaw    = 8
	offValLenDisk   = 12
	offCompression  = 16
	offReserved     = 17

	// MaxKeyLen is the largest key length the key_len:16 header field can
	// represent. Zero-length keys are rejected, so valid key lengths are
	// [1, 65535] (spec §9 open question, resolved as an exclusive upper
	// bound of 65536).
	MaxKeyLen = 65535
)

var sum = checksum.NewCRC32C()

// Record is a decoded blob record.
type Record struct {
	Key         []byte
	Value       []byte
	Compression compression.CodecID
	// RawSize is the uncompressed value length, kept for statistics even
	// when Value is returned decompressed.
	RawSize uint32
	// DiskSize is the on-disk (possibly compressed) value length.
	DiskSize uint32
}

// Encode serializes key/value into a blob record, compressing value with codec.
func Encode(key, value []byte, codec compression.Codec) ([]byte, error) {
	if len(key) == 0 || len(key) > MaxKeyLen {
		return nil, valerrors.NewValidationError(nil, valerrors.ErrorCodeInvalidInput, "key length out of bounds").
			WithField("key").WithRule("range").WithProvided(len(key)).WithDetail("max", MaxKeyLen)
	}

	valueDisk, err := codec.Compress(nil, value)
	if err != nil {
		return nil, fmt.Errorf("blob: compress: %w", err)
	}

	if uint64(len(valueDisk)) > 1<<32-1 || uint64(len(value)) > 1<<32-1 {
		return nil, valerrors.NewValidationError(nil, valerrors.ErrorCodeInvalidInput, "value length exceeds 32-bit bound").
			WithField("value").WithRule("range")
	}

	buf := make([]byte, headerSize+len(key)+len(valueDisk))
	buf[offMagic] = magic[0]
	buf[offMagic+1] = magic[1]
	binary.LittleEndian.PutUint16(buf[offKeyLen:], uint16(len(key)))
	binary.LittleEndian.PutUint32(buf[offValLenRaw:], uint32(len(value)))
	binary.LittleEndian.PutUint32(buf[offValLenDisk:], uint32(len(valueDisk)))
	buf[offCompression] = byte(codec.ID())
	buf[offReserved] = 0

	copy(buf[headerSize:], key)
	copy(buf[headerSize+len(key):], valueDisk)

	crc := sum.SumAll(buf[:offCRC], buf[offCRC+4:])
	binary.LittleEndian.PutUint32(buf[offCRC:], crc)

	return buf, nil
}

// Decode parses and verifies a single blob record from the start of buf. It
// returns the decoded record and the number of bytes consumed from buf. On a
// checksum, codec or decompression error the consumed count is still the
// record's full length, so a caller can skip exactly this record and resume
// decoding at the next one instead of abandoning the rest of the stream.
// When buf is shorter than a header, the magic does not match, the key
// length is zero, or the record runs past the end of buf, the consumed
// count is 0.
func Decode(buf []byte) (Record, int, error) {
	if len(buf) < headerSize {
		return Record{}, 0, corrupt("blob record shorter than header")
	}

	if buf[offMagic] != magic[0] || buf[offMagic+1] != magic[1] {
		return Record{}, 0, corrupt("blob magic mismatch")
	}

	keyLen := binary.LittleEndian.Uint16(buf[offKeyLen:])
	valLenRaw := binary.LittleEndian.Uint32(buf[offValLenRaw:])
	valLenDisk := binary.LittleEndian.Uint32(buf[offValLenDisk:])
	codecID := compression.CodecID(buf[offCompression])
	wantCRC := binary.LittleEndian.Uint32(buf[offCRC:])

	if keyLen == 0 {
		return Record{}, 0, corrupt("zero-length key")
	}

	total := headerSize + int(keyLen) + int(valLenDisk)
	if total > len(buf) {
		return Record{}, 0, corrupt("blob record truncated")
	}

	header := make([]byte, headerSize)
	copy(header, buf[:headerSize])
	binary.LittleEndian.PutUint32(header[offCRC:], 0)

	gotCRC := sum.SumAll(header, buf[headerSize:total])
	if gotCRC != wantCRC {
		return Record{}, total, corrupt("blob checksum mismatch")
	}

	key := make([]byte, keyLen)
	copy(key, buf[headerSize:headerSize+int(keyLen)])

	codec, err := compression.ByID(codecID)
	if err != nil {
		return Record{}, total, corrupt(err.Error())
	}

	value, err := codec.Decompress(make([]byte, 0, valLenRaw), buf[headerSize+int(keyLen):total])
	if err != nil {
		return Record{}, total, corrupt(fmt.Sprintf("decompress: %v", err))
	}
	if uint32(len(value)) != valLenRaw {
		return Record{}, total, corrupt("decompressed value length mismatch")
	}

	return Record{
		Key:         key,
		Value:       value,
		Compression: codecID,
		RawSize:     valLenRaw,
		DiskSize:    valLenDisk,
	}, total, nil
}

// EncodedSize returns how large an encoded record would be given the raw
// key length and on-disk (compressed) value length, without allocating.
func EncodedSize(keyLen, diskValueLen int) int {
	return headerSize + keyLen + diskValueLen
}

func corrupt(msg string) error {
	return valerrors.NewSegmentError(nil, valerrors.ErrorCodeCorruptBlob, msg)
}
