// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"github.com/cafelua/agentd/lib/codec"
)

// Format selects the export record encoding.
type Format string

const (
	// FormatJSONL writes one JSON object per line.
	FormatJSONL Format = "jsonl"
	// FormatCBOR writes a CBOR sequence, one data item per event.
	FormatCBOR Format = "cbor"
)

// Compression selects the stream compression wrapped around the
// encoded records.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// ExportOptions configures Export. The zero value exports every event
// as uncompressed JSON Lines.
type ExportOptions struct {
	// Filter selects events. Limit and Offset are ignored: every
	// matching event is exported.
	Filter      Filter
	Format      Format
	Compression Compression
}

// ExportResult describes a finished export.
type ExportResult struct {
	Events int
	// Bytes counts what was written to the destination, after
	// compression.
	Bytes int64
	// Digest is the hex BLAKE3-256 of those bytes.
	Digest string
}

// cborEvent mirrors Event with the payload decoded, so the CBOR
// output carries a nested map instead of a JSON byte string.
type cborEvent struct {
	ID         int64  `cbor:"id"`
	Timestamp  string `cbor:"timestamp"`
	RequestID  string `cbor:"request_id"`
	EventType  string `cbor:"event_type"`
	ToolName   string `cbor:"tool_name,omitempty"`
	ToolCallID string `cbor:"tool_call_id,omitempty"`
	Tier       *int64 `cbor:"tier,omitempty"`
	Success    *bool  `cbor:"success,omitempty"`
	Payload    any    `cbor:"payload,omitempty"`
}

// Export streams every event matching options.Filter to w, newest
// first, and returns the count and digest of the output.
func (s *Store) Export(ctx context.Context, w io.Writer, options ExportOptions) (ExportResult, error) {
	format := options.Format
	if format == "" {
		format = FormatJSONL
	}
	if format != FormatJSONL && format != FormatCBOR {
		return ExportResult{}, fmt.Errorf("audit: unknown export format %q", format)
	}

	hasher := blake3.New()
	counter := &countingWriter{}
	sink := io.MultiWriter(w, hasher, counter)

	compressed, err := compressor(sink, options.Compression)
	if err != nil {
		return ExportResult{}, err
	}

	encode := encoderFor(format, compressed)
	result := ExportResult{}
	var beforeID int64
	for {
		where, args := options.Filter.where(beforeID)
		query := `SELECT id, timestamp, request_id, event_type, tool_name, tool_call_id, tier, success, payload
			FROM audit_events` + where + ` ORDER BY id DESC LIMIT ?`
		args = append(args, MaxQueryLimit)

		page, err := s.selectEvents(ctx, query, args)
		if err != nil {
			compressed.Close()
			return ExportResult{}, fmt.Errorf("audit: export: %w", err)
		}
		for _, event := range page {
			if err := encode(event); err != nil {
				compressed.Close()
				return ExportResult{}, fmt.Errorf("audit: export event %d: %w", event.ID, err)
			}
		}
		result.Events += len(page)
		if len(page) < MaxQueryLimit {
			break
		}
		beforeID = page[len(page)-1].ID
	}

	if err := compressed.Close(); err != nil {
		return ExportResult{}, fmt.Errorf("audit: finishing %s stream: %w", options.Compression, err)
	}
	result.Bytes = counter.n
	result.Digest = hex.EncodeToString(hasher.Sum(nil))
	return result, nil
}

func encoderFor(format Format, w io.Writer) func(Event) error {
	if format == FormatCBOR {
		encoder := codec.NewEncoder(w)
		return func(event Event) error {
			record := cborEvent{
				ID:         event.ID,
				Timestamp:  event.Timestamp,
				RequestID:  event.RequestID,
				EventType:  event.EventType,
				ToolName:   event.ToolName,
				ToolCallID: event.ToolCallID,
				Tier:       event.Tier,
				Success:    event.Success,
			}
			if event.Payload != nil {
				if err := json.Unmarshal(event.Payload, &record.Payload); err != nil {
					return fmt.Errorf("decoding stored payload: %w", err)
				}
			}
			return encoder.Encode(record)
		}
	}
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	return func(event Event) error {
		return encoder.Encode(event)
	}
}

func compressor(w io.Writer, compression Compression) (io.WriteCloser, error) {
	switch compression {
	case "", CompressionNone:
		return nopCloser{w}, nil
	case CompressionZstd:
		encoder, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("audit: creating zstd writer: %w", err)
		}
		return encoder, nil
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("audit: unknown compression %q", compression)
	}
}

// Decompress wraps r according to compression, for reading an export
// back.
func Decompress(r io.Reader, compression Compression) (io.ReadCloser, error) {
	switch compression {
	case "", CompressionNone:
		return io.NopCloser(r), nil
	case CompressionZstd:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("audit: creating zstd reader: %w", err)
		}
		return decoder.IOReadCloser(), nil
	case CompressionLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("audit: unknown compression %q", compression)
	}
}

// Digest returns the hex BLAKE3-256 of data, matching
// ExportResult.Digest.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type countingWriter struct{ n int64 }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

