package loadx

import (
	"bytes"
	"fmt"

	seekable "github.com/SaveTheRbtz/zstd-seekable-format-go"
	"github.com/klauspost/compress/zstd"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

func isZstd(b []byte) bool {
	return bytes.HasPrefix(b, zstdMagic)
}

// unzstd decompresses a zstd wrapped image. Seekable archives are read
// through their seek table. Anything else is treated as a plain zstd stream.
func unzstd(data []byte, limit int64) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd decoder err, %w", ErrDecodeFailure, err)
	}
	defer dec.Close()

	if r, err := seekable.NewReader(bytes.NewReader(data), dec); err == nil {
		defer r.Close()
		return readLimited(r, limit)
	}

	stream, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: zstd stream err, %w", ErrDecodeFailure, err)
	}
	defer stream.Close()
	return readLimited(stream, limit)
}
