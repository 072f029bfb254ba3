// Package compress provides the bounded payload compression codec used for
// chat message payloads on the wire.
//
// Compression is plain gzip. Decompression enforces an output-size bound
// while the stream expands, so a maliciously crafted stream claiming a huge
// logical size can never make this process allocate more than the bound
// plus a small constant overhead.
package compress

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// DefaultMaxOutputSize is the bound applied to inbound chat payloads.
const DefaultMaxOutputSize = 64 * 1024

var (
	// ErrCorruptData indicates input that is not a valid compressed stream.
	ErrCorruptData = errors.New("corrupt compressed data")

	// ErrOutputTooLarge indicates a stream whose decompressed form exceeds
	// the caller's bound.
	ErrOutputTooLarge = errors.New("decompressed output exceeds limit")
)

// Compress compresses data with gzip. Empty input produces a valid stream
// that decompresses back to empty. Tiny or incompressible input may grow;
// only round-trip correctness is guaranteed in that case.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compression write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compression close failed: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress expands a gzip stream, failing as soon as the produced output
// would exceed maxOutput bytes. Exactly maxOutput bytes of genuine output is
// a success. Malformed input yields ErrCorruptData, never a panic or a
// partial buffer.
func Decompress(data []byte, maxOutput int) ([]byte, error) {
	if maxOutput < 0 {
		return nil, fmt.Errorf("%w: negative limit %d", ErrOutputTooLarge, maxOutput)
	}

	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Decompress",
			"input":    len(data),
			"error":    err,
		}).Debug("Rejected invalid compressed stream")
		return nil, fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	defer r.Close()

	// Reading one byte past the bound distinguishes "exactly at the limit"
	// from "over the limit" without ever buffering more than maxOutput+1.
	limited := io.LimitReader(r, int64(maxOutput)+1)
	out, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	if len(out) > maxOutput {
		logrus.WithFields(logrus.Fields{
			"function": "Decompress",
			"limit":    maxOutput,
		}).Warn("Rejected oversized compressed payload")
		return nil, fmt.Errorf("%w: limit %d", ErrOutputTooLarge, maxOutput)
	}
	return out, nil
}
