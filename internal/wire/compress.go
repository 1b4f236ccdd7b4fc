package wire

import (
	"encoding/base64"
	"errors"

	"github.com/pierrec/lz4"
)

// MinCompressibleSize mirrors the teacher's threshold below which
// compression overhead isn't worth paying.
const MinCompressibleSize = 70

var ErrDecompressFailed = errors.New("wire: lz4 decompression failed")

// CompressPayload LZ4-compresses payload and base64-encodes it for
// embedding in a Message's Payload field, returning ok=false when the
// payload is too small or doesn't compress, in which case the caller
// should send it uncompressed.
func CompressPayload(payload []byte) (encoded string, uncompressedSize int, ok bool) {
	if len(payload) < MinCompressibleSize {
		return "", 0, false
	}

	bound := lz4.CompressBlockBound(len(payload))
	compressed := make([]byte, bound)
	var hashTable [1 << 16]int
	n, err := lz4.CompressBlock(payload, compressed, hashTable[:])
	if err != nil || n == 0 || n >= len(payload) {
		return "", 0, false
	}

	return base64.StdEncoding.EncodeToString(compressed[:n]), len(payload), true
}

// DecompressPayload reverses CompressPayload given the original size
// carried in Message.UncompressedSize.
func DecompressPayload(encoded string, uncompressedSize int) ([]byte, error) {
	if uncompressedSize <= 0 {
		return nil, ErrDecompressFailed
	}
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}

	out := make([]byte, uncompressedSize)
	n, err := lz4.UncompressBlock(compressed, out)
	if err != nil {
		return nil, err
	}
	if n != uncompressedSize {
		return nil, ErrDecompressFailed
	}
	return out, nil
}
