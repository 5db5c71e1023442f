package localstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompressBelowThresholdIsIdentity(t *testing.T) {
	for _, s := range []string{"", "hi", strings.Repeat("a", CompressionThreshold-1), strings.Repeat("é", CompressionThreshold-1)} {
		assert.Equal(t, s, Compress(s))
		assert.Equal(t, s, Decompress(Compress(s)))
	}
}

func TestCompressRoundTripAboveThreshold(t *testing.T) {
	inputs := []string{
		strings.Repeat("a", CompressionThreshold),
		strings.Repeat("the quick brown fox ", 200),
		strings.Repeat("日本語のテキスト", 100),
		compressedMarker + strings.Repeat("x", CompressionThreshold),
	}
	for _, s := range inputs {
		packed := Compress(s)
		assert.NotEqual(t, s, packed)
		assert.True(t, IsCompressed(packed))
		assert.Equal(t, s, Decompress(packed))
	}
}

func TestDecompressNeverFails(t *testing.T) {
	inputs := []string{
		compressedMarker,
		compressedMarker + "!!!not base64!!!",
		compressedMarker + "aGVsbG8=",
		"\x00LZ",
		"plain text",
	}
	for _, s := range inputs {
		assert.NotPanics(t, func() {
			assert.Equal(t, s, Decompress(s))
		})
	}
}
