// Package compression provides the pluggable codec layer used to compress
// blob values before they are written into a segment. The blob record format
// tags every record with the codec that produced it, so segments can mix
// codecs over time as the configured default changes.
package compression

import (
	"fmt"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CodecID identifies a compression codec on the wire. It is stored as a
// single byte in every blob record header (spec §6.3), so the set of known
// codecs is small and fixed.
type CodecID uint8

const (
	// CodecNone stores values uncompressed.
	CodecNone CodecID = iota
	// CodecSnappy compresses values with Snappy.
	CodecSnappy
	// CodecLZ4 compresses values with LZ4.
	CodecLZ4
	// CodecZstd compresses values with zstd.
	CodecZstd
)

// Codec compresses and decompresses blob values. Implementations must be
// safe for concurrent use, since a single configured Codec is shared by
// every writer and reader in the value log.
type Codec interface {
	ID() CodecID
	// Compress appends the compressed form of src to dst and returns the result.
	Compress(dst, src []byte) ([]byte, error)
	// Decompress appends the decompressed form of src to dst and returns the result.
	Decompress(dst, src []byte) ([]byte, error)
}

// ByID returns the codec registered for id, or an error if id is unknown.
// Readers use this to select the decompressor named by a blob record's
// codec byte, independent of whatever codec the caller configured for new
// writes.
func ByID(id CodecID) (Codec, error) {
	c, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("compression: unknown codec id %d", id)
	}
	return c, nil
}

var registry = map[CodecID]Codec{
	CodecNone:   noneCodec{},
	CodecSnappy: snappyCodec{},
	CodecLZ4:    lz4Codec{},
	CodecZstd:   newZstdCodec(),
}

type noneCodec struct{}

func (noneCodec) ID() CodecID { return CodecNone }

func (noneCodec) Compress(dst, src []byte) ([]byte, error) {
	return append(dst, src...), nil
}

func (noneCodec) Decompress(dst, src []byte) ([]byte, error) {
	return append(dst, src...), nil
}

type snappyCodec struct{}

func (snappyCodec) ID() CodecID { return CodecSnappy }

func (snappyCodec) Compress(dst, src []byte) ([]byte, error) {
	out := snappy.Encode(nil, src)
	return append(dst, out...), nil
}

func (snappyCodec) Decompress(dst, src []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, src)
	if err != nil {
		return nil, fmt.Errorf("compression: snappy decode: %w", err)
	}
	return append(dst, out...), nil
}

type lz4Codec struct{}

func (lz4Codec) ID() CodecID { return CodecLZ4 }

// lz4 block tags. CompressBlock documents a 0,nil return when the block
// doesn't shrink (random/high-entropy bytes, short strings, already-
// compressed data); that is not an error, so Compress falls back to storing
// src raw behind a one-byte tag rather than failing the write.
const (
	lz4TagRaw byte = iota
	lz4TagCompressed
)

func (lz4Codec) Compress(dst, src []byte) ([]byte, error) {
	buf := make([]byte, lz4.CompressBlockBound(len(src)))
	var c lz4.Compressor
	n, err := c.CompressBlock(src, buf)
	if err != nil {
		return nil, fmt.Errorf("compression: lz4 compress: %w", err)
	}
	if n == 0 {
		out := append(dst, lz4TagRaw)
		return append(out, src...), nil
	}
	out := append(dst, lz4TagCompressed)
	return append(out, buf[:n]...), nil
}

func (lz4Codec) Decompress(dst, src []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, fmt.Errorf("compression: lz4 decompress: missing block tag")
	}
	tag, body := src[0], src[1:]
	if tag == lz4TagRaw {
		return append(dst, body...), nil
	}

	// The value log knows the original, uncompressed size from the blob
	// header, so the output buffer is sized by the caller via dst's capacity.
	buf := make([]byte, cap(dst)-len(dst))
	if len(buf) == 0 {
		buf = make([]byte, 4*len(body)+64)
	}
	n, err := lz4.UncompressBlock(body, buf)
	if err != nil {
		return nil, fmt.Errorf("compression: lz4 decompress: %w", err)
	}
	return append(dst, buf[:n]...), nil
}

type zstdCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newZstdCodec() *zstdCodec {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		panic(fmt.Sprintf("compression: zstd encoder init: %v", err))
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("compression: zstd decoder init: %v", err))
	}
	return &zstdCodec{encoder: enc, decoder: dec}
}

func (z *zstdCodec) ID() CodecID { return CodecZstd }

func (z *zstdCodec) Compress(dst, src []byte) ([]byte, error) {
	return z.encoder.EncodeAll(src, dst), nil
}

func (z *zstdCodec) Decompress(dst, src []byte) ([]byte, error) {
	out, err := z.decoder.DecodeAll(src, dst)
	if err != nil {
		return nil, fmt.Errorf("compression: zstd decode: %w", err)
	}
	return out, nil
}
