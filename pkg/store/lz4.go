package store

import (
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// compressPayload lz4-block-compresses raw. When compression does not
// help, the raw payload is returned with a zero compressed length.
func compressPayload(raw []byte) ([]byte, int) {
	bound := lz4.CompressBlockBound(len(raw))
	dst := make([]byte, bound)

	written, err := lz4.CompressBlock(raw, dst, nil)
	if err != nil || written == 0 || written >= len(raw) {
		return raw, 0
	}

	return dst[:written], written
}

// decompressPayload reverses compressPayload.
func decompressPayload(payload []byte, rawLen, compLen uint32) ([]byte, error) {
	if compLen == 0 {
		if uint32(len(payload)) != rawLen {
			return nil, fmt.Errorf("%w: raw length %d, want %d", ErrCorruptFrame, len(payload), rawLen)
		}

		return payload, nil
	}

	raw := make([]byte, rawLen)

	n, err := lz4.UncompressBlock(payload, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
	}

	if uint32(n) != rawLen {
		return nil, fmt.Errorf("%w: decompressed %d bytes, want %d", ErrCorruptFrame, n, rawLen)
	}

	return raw, nil
}
