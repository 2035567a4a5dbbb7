package resp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSimpleString(t *testing.T) {
	n, f, err := Decode([]byte("+OK\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, SimpleString, f.Type)
	assert.Equal(t, "ok", f.Str)
}

func TestDecodeBulkString(t *testing.T) {
	n, f, err := Decode([]byte("$5\r\nhello\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, BulkString, f.Type)
	assert.Equal(t, "hello", string(f.Bulk))
}

func TestDecodeNullBulk(t *testing.T) {
	n, f, err := Decode([]byte("$-1\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Nil(t, f.Bulk)
}

func TestDecodeArrayOfBulk(t *testing.T) {
	buf := []byte("*2\r\n$4\r\nPING\r\n$4\r\nabcd\r\n")
	n, f, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	require.Equal(t, Array, f.Type)
	require.Len(t, f.Items, 2)
	assert.Equal(t, "ping", string(f.Items[0].Bulk))
	assert.Equal(t, "abcd", string(f.Items[1].Bulk))
}

func TestDecodeNeedsMoreBytes(t *testing.T) {
	_, _, err := Decode([]byte("*2\r\n$4\r\nPING\r\n$4\r\nabc"))
	assert.ErrorIs(t, err, ErrIncomplete)

	_, _, err = Decode([]byte("$5\r\nhel"))
	assert.ErrorIs(t, err, ErrIncomplete)

	_, _, err = Decode([]byte("+OK"))
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestDecodeUnrecognizedLeadingByte(t *testing.T) {
	_, _, err := Decode([]byte(":5\r\n"))
	assert.ErrorIs(t, err, ErrUnrecognized)
}

// TestDecoderPrefixSafety checks that decoding a valid frame followed by an
// arbitrary suffix consumes exactly the encoded frame's length and ignores
// the trailing bytes.
func TestDecoderPrefixSafety(t *testing.T) {
	frame := ArrayOf(BulkFromString("get"), BulkFromString("foo"))
	encoded := Encode(frame)

	suffixes := [][]byte{nil, []byte("x"), []byte("*1\r\n$4\r\nPING\r\n"), []byte("\r\n")}
	for _, suffix := range suffixes {
		combined := append(append([]byte{}, encoded...), suffix...)
		n, decoded, err := Decode(combined)
		require.NoError(t, err)
		assert.Equal(t, len(encoded), n)
		require.Len(t, decoded.Items, 2)
		assert.Equal(t, "get", string(decoded.Items[0].Bulk))
	}
}

// TestCodecRoundTrip checks encode-then-decode for the subset of frame
// shapes this system actually exchanges on the wire: simple strings, bulk
// strings (including null), and arrays thereof. Decode only recognizes
// '+', '$' and '*' leading bytes, so Integer/Boolean/Double/BigNumber/
// VerbatimString frames — fully supported by Encode for completeness —
// are outside Decode's contract and are not exercised here.
func TestCodecRoundTrip(t *testing.T) {
	cases := []Frame{
		SimpleStr("ok"),
		SimpleStr("pong"),
		NullBulk(),
		BulkFromString("hello world"),
		BulkFromString(""),
		ArrayOf(BulkFromString("set"), BulkFromString("k"), BulkFromString("v")),
		{Type: Array, ArrayNull: true},
	}

	for _, f := range cases {
		encoded := Encode(f)
		n, decoded, err := Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, len(encoded), n)
		assert.Equal(t, f, decoded)
	}
}

func TestEncodeNullBulkAndNullArray(t *testing.T) {
	assert.Equal(t, []byte("$-1\r\n"), Encode(NullBulk()))
	assert.Equal(t, []byte("*-1\r\n"), Encode(Frame{Type: Array, ArrayNull: true}))
}
