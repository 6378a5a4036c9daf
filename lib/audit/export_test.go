// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/cafelua/agentd/lib/codec"
)

func TestExportJSONL(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	observe(t, store, `{"type":"tool_use","requestId":"req-1","toolName":"read_file","args":{"path":"/etc/hosts"}}`)
	observe(t, store, `{"type":"usage","requestId":"req-1","cost":0.25,"model":"m"}`)
	observe(t, store, `{"type":"error","requestId":"req-2","message":"boom"}`)

	var output bytes.Buffer
	result, err := store.Export(context.Background(), &output, ExportOptions{
		Filter: Filter{RequestID: "req-1", Limit: 1},
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if result.Events != 2 {
		t.Errorf("Events = %d, want 2 (Limit must be ignored)", result.Events)
	}
	if result.Bytes != int64(output.Len()) {
		t.Errorf("Bytes = %d, wrote %d", result.Bytes, output.Len())
	}
	if result.Digest != Digest(output.Bytes()) {
		t.Errorf("Digest = %s, want %s", result.Digest, Digest(output.Bytes()))
	}

	scanner := bufio.NewScanner(&output)
	var kinds []Kind
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("line %q: %v", scanner.Text(), err)
		}
		if event.RequestID != "req-1" {
			t.Errorf("exported event from %s", event.RequestID)
		}
		kinds = append(kinds, event.Kind())
	}
	if len(kinds) != 2 || kinds[0] != KindUsage || kinds[1] != KindToolUse {
		t.Errorf("kinds = %v, want [usage tool_use]", kinds)
	}
}

func TestExportPagesPastQueryCap(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	const total = MaxQueryLimit + 37
	for range total {
		insert(t, store, "req", KindError, "")
	}

	result, err := store.Export(context.Background(), io.Discard, ExportOptions{})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if result.Events != total {
		t.Errorf("Events = %d, want %d", result.Events, total)
	}
}

func TestExportCompressedCBOR(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	observe(t, store, `{"type":"usage","requestId":"req-1","inputTokens":7,"cost":0.5,"model":"m"}`)
	observe(t, store, `{"type":"tool_result","requestId":"req-1","toolName":"grep","success":false,"output":"none"}`)

	for _, compression := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		t.Run(string(compression), func(t *testing.T) {
			var output bytes.Buffer
			result, err := store.Export(context.Background(), &output, ExportOptions{
				Format:      FormatCBOR,
				Compression: compression,
			})
			if err != nil {
				t.Fatalf("Export: %v", err)
			}
			if result.Digest != Digest(output.Bytes()) {
				t.Errorf("digest mismatch")
			}

			reader, err := Decompress(&output, compression)
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			defer reader.Close()

			decoder := codec.NewDecoder(reader)
			var events []map[string]any
			for {
				var event map[string]any
				err := decoder.Decode(&event)
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					t.Fatalf("Decode: %v", err)
				}
				events = append(events, event)
			}
			if len(events) != 2 {
				t.Fatalf("decoded %d events, want 2", len(events))
			}
			if events[0]["event_type"] != "tool_result" || events[0]["success"] != false {
				t.Errorf("first event = %v", events[0])
			}
			payload, ok := events[1]["payload"].(map[string]any)
			if !ok {
				t.Fatalf("usage payload decoded as %T, want map", events[1]["payload"])
			}
			if payload["model"] != "m" || payload["cost"] != 0.5 {
				t.Errorf("usage payload = %v", payload)
			}
		})
	}
}

func TestExportDeterministic(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	observe(t, store, `{"type":"approval_request","requestId":"r","args":{"b":1,"a":2},"description":"d"}`)

	var digests []string
	for range 2 {
		result, err := store.Export(context.Background(), io.Discard, ExportOptions{Format: FormatCBOR})
		if err != nil {
			t.Fatalf("Export: %v", err)
		}
		digests = append(digests, result.Digest)
	}
	if digests[0] != digests[1] {
		t.Errorf("repeated exports differ: %s vs %s", digests[0], digests[1])
	}
}

func TestExportRejectsUnknownOptions(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	if _, err := store.Export(context.Background(), io.Discard, ExportOptions{Format: "xml"}); err == nil {
		t.Error("unknown format accepted")
	}
	if _, err := store.Export(context.Background(), io.Discard, ExportOptions{Compression: "brotli"}); err == nil {
		t.Error("unknown compression accepted")
	}
}
