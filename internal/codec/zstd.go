package codec

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// ZstdCompressor is the default Compressor (spec.md §6). zstd frames are
// self-delimiting, so Decompress needs no out-of-band length.
type ZstdCompressor struct {
	// Level controls the compression/speed tradeoff; zero uses the
	// library default (zstd.SpeedDefault).
	Level zstd.EncoderLevel
}

// Compress writes the zstd-framed encoding of data to w.
func (z ZstdCompressor) Compress(w io.Writer, data []byte) error {
	level := z.Level
	if level == 0 {
		level = zstd.SpeedDefault
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(level))
	if err != nil {
		return fmt.Errorf("zstd: new encoder: %w", err)
	}
	if _, err := enc.Write(data); err != nil {
		_ = enc.Close()
		return fmt.Errorf("zstd: write: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("zstd: close: %w", err)
	}
	return nil
}

// Decompress reads a zstd-framed stream from r and returns the decoded
// bytes.
func (ZstdCompressor) Decompress(r io.Reader) ([]byte, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("zstd: new decoder: %w", err)
	}
	defer dec.Close()
	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("zstd: read: %w", err)
	}
	return out, nil
}
