package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 50))

	for _, lib := range []Library{Snappy, LZ4, Gzip} {
		c := New(16, lib, nil)
		encoded := c.Encode(payload)
		assert.NotEqualf(t, payload, encoded, "%s: expected payload to be tagged/compressed", lib)

		decoded, err := c.Decode(encoded)
		require.NoErrorf(t, err, "%s: Decode()", lib)
		assert.Equalf(t, payload, decoded, "%s: round trip mismatch", lib)
	}
}

func TestEncodeBelowThresholdUntagged(t *testing.T) {
	c := New(1024, Snappy, nil)
	payload := []byte("short")
	encoded := c.Encode(payload)
	assert.Equal(t, payload, encoded, "expected untagged passthrough below threshold")
}

func TestEncodeDisabledWhenNone(t *testing.T) {
	c := New(1, None, nil)
	payload := []byte(strings.Repeat("x", 100))
	encoded := c.Encode(payload)
	assert.Equal(t, payload, encoded, "expected passthrough when library is None")
}

func TestDecodeUnknownTagPassthrough(t *testing.T) {
	c := New(16, Snappy, nil)
	payload := []byte("no tag on this one")
	decoded, err := c.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded, "expected untagged input to pass through unchanged")
}

func TestChangingLibraryDoesNotBreakOldReads(t *testing.T) {
	writer := New(16, Snappy, nil)
	payload := []byte(strings.Repeat("legacy payload data ", 20))
	encoded := writer.Encode(payload)

	reader := New(16, LZ4, nil)
	decoded, err := reader.Decode(encoded)
	require.NoError(t, err, "Decode() after switching library")
	assert.Equal(t, payload, decoded, "switching compressionLibrary broke reads of records written under the previous one")
}
