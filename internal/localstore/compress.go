package localstore

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/zstd"
)

const (
	// CompressionThreshold is the length in characters below which content
	// is stored verbatim.
	CompressionThreshold = 500
	compressedMarker     = "\x00LZ\x00"
)

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// Compress tags and compresses s when it is at least CompressionThreshold
// characters long.
func Compress(s string) string {
	if utf8.RuneCountInString(s) < CompressionThreshold {
		return s
	}
	packed := encoder.EncodeAll([]byte(s), nil)
	return compressedMarker + base64.StdEncoding.EncodeToString(packed)
}

// Decompress reverses Compress. Untagged input, and input that fails to
// decode, is returned unchanged.
func Decompress(s string) string {
	if !strings.HasPrefix(s, compressedMarker) {
		return s
	}
	packed, err := base64.StdEncoding.DecodeString(s[len(compressedMarker):])
	if err != nil {
		return s
	}
	out, err := decoder.DecodeAll(packed, nil)
	if err != nil {
		return s
	}
	return string(out)
}

// IsCompressed reports whether s carries the compression marker.
func IsCompressed(s string) bool {
	return strings.HasPrefix(s, compressedMarker)
}
