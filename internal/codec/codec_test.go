package codec_test

import (
	"context"
	"strings"
	"testing"

	"github.com/ilkerhalil/kvlite/internal/codec"
	"github.com/stretchr/testify/require"
)

func newCodec(t *testing.T, threshold int) *codec.Codec {
	t.Helper()
	return codec.New(codec.MsgpackSerializer{}, codec.ZstdCompressor{}, threshold)
}

func TestEncodeDecodeRoundTripsSmallValue(t *testing.T) {
	c := newCodec(t, codec.DefaultMinCompressionLength)
	data, compressed, err := c.Encode("hello")
	require.NoError(t, err)
	require.False(t, compressed)

	var out string
	require.NoError(t, c.Decode(context.Background(), data, compressed, &out))
	require.Equal(t, "hello", out)
}

func TestEncodeCompressesAboveThreshold(t *testing.T) {
	c := newCodec(t, 16)
	payload := strings.Repeat("x", 4096)
	data, compressed, err := c.Encode(payload)
	require.NoError(t, err)
	require.True(t, compressed)
	require.Less(t, len(data), len(payload))

	var out string
	require.NoError(t, c.Decode(context.Background(), data, compressed, &out))
	require.Equal(t, payload, out)
}

func TestEncodeLeavesSmallValueUncompressed(t *testing.T) {
	c := newCodec(t, 4096)
	// msgpack prefixes a string this long with a 3-byte str16 header, so
	// 4092 characters serialize to 4095 bytes: one below the threshold.
	payload := strings.Repeat("y", 4092)
	_, compressed, err := c.Encode(payload)
	require.NoError(t, err)
	require.False(t, compressed)
}

func TestDecodeFailsOnCorruptBytes(t *testing.T) {
	c := newCodec(t, codec.DefaultMinCompressionLength)
	var out string
	err := c.Decode(context.Background(), []byte{0xff, 0x00, 0x13, 0x37}, true, &out)
	require.Error(t, err)
}

func TestEncodeDecodeEmptyValue(t *testing.T) {
	c := newCodec(t, codec.DefaultMinCompressionLength)
	data, compressed, err := c.Encode("")
	require.NoError(t, err)
	require.False(t, compressed)

	var out string
	require.NoError(t, c.Decode(context.Background(), data, compressed, &out))
	require.Equal(t, "", out)
}
