// Copyright 2025 James Ross
package payloadcompress

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressBelowThresholdIsRaw(t *testing.T) {
	payload := []byte(`{"small":"payload"}`)
	stored := Compress(payload)
	assert.Equal(t, byte(0), stored[0])
	assert.Equal(t, payload, stored[1:])
}

func TestCompressAboveThresholdRoundTrips(t *testing.T) {
	payload := []byte(strings.Repeat("authorization-event-data", 50))
	require.Greater(t, len(payload), Threshold)

	stored := Compress(payload)
	assert.Equal(t, byte(1), stored[0])
	assert.Less(t, len(stored), len(payload))

	got, err := Decompress(stored)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, got))
}

func TestDecompressEmpty(t *testing.T) {
	got, err := Decompress(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecompressUnknownMarker(t *testing.T) {
	_, err := Decompress([]byte{9, 1, 2, 3})
	assert.Error(t, err)
}
