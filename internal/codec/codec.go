// Package codec implements the value pipeline (C1): serialize, then
// opportunistically compress above a size threshold, producing the
// binary column stored by a dialect. Decoding reverses both steps using
// the stored compressed flag.
package codec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"
)

// DefaultMinCompressionLength is the threshold, in bytes, at or above
// which a serialized value is compressed (spec.md §4.1, §4.7 minValueLengthForCompression).
const DefaultMinCompressionLength = 4096

// Serializer converts values to and from a byte stream. Implementations
// must be deterministic and length-agnostic (spec.md §6).
type Serializer interface {
	Serialize(value any) ([]byte, error)
	Deserialize(data []byte, out any) error
}

// Compressor frames a byte stream so the decoder needs no out-of-band
// length (spec.md §6).
type Compressor interface {
	Compress(w io.Writer, data []byte) error
	Decompress(r io.Reader) ([]byte, error)
}

// Clock is the source of UTC time (spec.md §6), injected so tests can
// control it deterministically.
type Clock interface {
	NowUnixSeconds() int64
}

// SystemClock is the default Clock, backed by time.Now.
type SystemClock struct{}

// NowUnixSeconds returns the current UTC time as seconds since epoch.
func (SystemClock) NowUnixSeconds() int64 { return time.Now().UTC().Unix() }

// Codec wires a Serializer and Compressor together with a compression
// threshold to implement encode/decode (C1).
type Codec struct {
	Serializer           Serializer
	Compressor           Compressor
	MinCompressionLength int
}

// New returns a Codec with the given collaborators and threshold. A
// threshold of 0 or less falls back to DefaultMinCompressionLength.
func New(s Serializer, c Compressor, minCompressionLength int) *Codec {
	if minCompressionLength <= 0 {
		minCompressionLength = DefaultMinCompressionLength
	}
	return &Codec{Serializer: s, Compressor: c, MinCompressionLength: minCompressionLength}
}

// Encode serializes value and, if the serialized form is at least
// MinCompressionLength bytes, compresses it and reports compressed=true.
func (c *Codec) Encode(value any) (data []byte, compressed bool, err error) {
	raw, err := c.Serializer.Serialize(value)
	if err != nil {
		return nil, false, fmt.Errorf("codec: serialize: %w", err)
	}
	if len(raw) < c.MinCompressionLength {
		return raw, false, nil
	}
	var buf bytes.Buffer
	if err := c.Compressor.Compress(&buf, raw); err != nil {
		return nil, false, fmt.Errorf("codec: compress: %w", err)
	}
	return buf.Bytes(), true, nil
}

// Decode reverses Encode and deserializes the result into out. Any
// failure here is treated by callers as a corrupt row: the caller must
// remove the offending entry and report "absent" (spec.md §4.1, §7),
// Decode itself only reports the error.
func (c *Codec) Decode(ctx context.Context, data []byte, compressed bool, out any) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	raw := data
	if compressed {
		decompressed, err := c.Compressor.Decompress(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("codec: decompress: %w", err)
		}
		raw = decompressed
	}
	if err := c.Serializer.Deserialize(raw, out); err != nil {
		return fmt.Errorf("codec: deserialize: %w", err)
	}
	return nil
}
