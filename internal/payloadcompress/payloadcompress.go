// Copyright 2025 James Ross
//
// Package payloadcompress zstd-compresses event_data and outbox payloads
// above a size threshold before they hit Postgres, grounded on
// internal/smart-payload-deduplication/compression.go's ZstdCompressor,
// trimmed to the stateless encode/decode this domain needs (no dictionary
// training, no running stats -- those serve that package's dedup-detection
// use case, not plain storage compression).
package payloadcompress

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Threshold is the payload size, in bytes, at or above which Compress
// actually compresses. Below it, the zstd frame overhead isn't worth paying.
const Threshold = 512

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// Compress prefixes every payload with a one-byte format marker so
// Decompress can tell the two forms apart: 0 followed by the payload as-is
// when it is under Threshold, else 1 followed by a zstd-compressed copy.
// Stored data without a marker byte is not accepted by Decompress.
func Compress(payload []byte) []byte {
	if len(payload) < Threshold {
		return append([]byte{0}, payload...)
	}
	compressed := encoder.EncodeAll(payload, make([]byte, 0, len(payload)))
	return append([]byte{1}, compressed...)
}

// Decompress reverses Compress.
func Decompress(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return stored, nil
	}
	marker, body := stored[0], stored[1:]
	switch marker {
	case 0:
		return body, nil
	case 1:
		out, err := decoder.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unrecognized payload compression marker %d", marker)
	}
}
