package blob_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjall-rs/value-log/internal/blob"
	"github.com/fjall-rs/value-log/pkg/compression"
	valerrors "github.com/fjall-rs/value-log/pkg/errors"
)

func codec(t *testing.T, id compression.CodecID) compression.Codec {
	t.Helper()
	c, err := compression.ByID(id)
	require.NoError(t, err)
	return c
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := codec(t, compression.CodecNone)

	key := []byte("my-key")
	value := []byte("my-value-bytes")

	encoded, err := blob.Encode(key, value, c)
	require.NoError(t, err)

	rec, n, err := blob.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, len(encoded), n)
	assert.Equal(t, key, rec.Key)
	assert.Equal(t, value, rec.Value)
	assert.Equal(t, compression.CodecNone, rec.Compression)
}

func TestEncodeDecodeWithCompression(t *testing.T) {
	c := codec(t, compression.CodecZstd)

	key := []byte("k")
	value := []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	encoded, err := blob.Encode(key, value, c)
	require.NoError(t, err)

	rec, _, err := blob.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, value, rec.Value)
	assert.Less(t, int(rec.DiskSize), len(value), "zstd should compress a long repeated run")
}

func TestDecodeMultipleRecordsBackToBack(t *testing.T) {
	c := codec(t, compression.CodecNone)

	a, err := blob.Encode([]byte("a"), []byte("1"), c)
	require.NoError(t, err)
	b, err := blob.Encode([]byte("bb"), []byte("22"), c)
	require.NoError(t, err)

	buf := append(append([]byte{}, a...), b...)

	rec1, n1, err := blob.Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), rec1.Key)

	rec2, _, err := blob.Decode(buf[n1:])
	require.NoError(t, err)
	assert.Equal(t, []byte("bb"), rec2.Key)
}

func TestEncodeRejectsEmptyKey(t *testing.T) {
	c := codec(t, compression.CodecNone)
	_, err := blob.Encode(nil, []byte("v"), c)
	require.Error(t, err)
	assert.True(t, valerrors.IsValidationError(err))
}

func TestEncodeRejectsOversizedKey(t *testing.T) {
	c := codec(t, compression.CodecNone)
	bigKey := make([]byte, blob.MaxKeyLen+1)
	_, err := blob.Encode(bigKey, []byte("v"), c)
	require.Error(t, err)
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	c := codec(t, compression.CodecNone)
	encoded, err := blob.Encode([]byte("k"), []byte("v"), c)
	require.NoError(t, err)

	_, _, err = blob.Decode(encoded[:len(encoded)-2])
	assert.Error(t, err)
}

func TestDecodeRejectsCorruptedMagic(t *testing.T) {
	c := codec(t, compression.CodecNone)
	encoded, err := blob.Encode([]byte("k"), []byte("v"), c)
	require.NoError(t, err)

	encoded[0] ^= 0xFF
	_, _, err = blob.Decode(encoded)
	assert.Error(t, err)
}

func TestDecodeRejectsFlippedPayloadByte(t *testing.T) {
	c := codec(t, compression.CodecNone)
	encoded, err := blob.Encode([]byte("key"), []byte("value"), c)
	require.NoError(t, err)

	encoded[len(encoded)-1] ^= 0xFF
	_, _, err = blob.Decode(encoded)
	assert.Error(t, err)
}

func TestDecodeOnChecksumMismatchStillReportsConsumedLength(t *testing.T) {
	c := codec(t, compression.CodecNone)

	a, err := blob.Encode([]byte("a"), []byte("1"), c)
	require.NoError(t, err)
	b, err := blob.Encode([]byte("bb"), []byte("22"), c)
	require.NoError(t, err)
	buf := append(append([]byte{}, a...), b...)

	buf[len(a)-1] ^= 0xFF // flip the last byte of a's value, inside the first record only

	_, n, err := blob.Decode(buf)
	require.Error(t, err)
	require.Equal(t, len(a), n, "a corrupt record's length must still be reported so a caller can skip past it")

	rec2, _, err := blob.Decode(buf[n:])
	require.NoError(t, err)
	assert.Equal(t, []byte("bb"), rec2.Key, "the next record must still be decodable by skipping n bytes")
}

func TestEncodeAllowsEmptyValue(t *testing.T) {
	c := codec(t, compression.CodecNone)
	encoded, err := blob.Encode([]byte("k"), nil, c)
	require.NoError(t, err)

	rec, _, err := blob.Decode(encoded)
	require.NoError(t, err)
	assert.Empty(t, rec.Value)
}

func TestEncodedSizeMatchesActualEncoding(t *testing.T) {
	c := codec(t, compression.CodecNone)
	key, value := []byte("abc"), []byte("defgh")
	encoded, err := blob.Encode(key, value, c)
	require.NoError(t, err)
	assert.Equal(t, len(encoded), blob.EncodedSize(len(key), len(value)))
}
