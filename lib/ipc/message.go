// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Message types the worker and agentd exchange.
const (
	TypeText             = "text"
	TypeAudio            = "audio"
	TypeFinish           = "finish"
	TypeToolUse          = "tool_use"
	TypeToolResult       = "tool_result"
	TypeApprovalRequest  = "approval_request"
	TypeApprovalResponse = "approval_response"
	TypeUsage            = "usage"
	TypeError            = "error"
	TypeCancelStream     = "cancel_stream"
)

// ErrNotObject is returned by Decode for valid JSON that is not an
// object.
var ErrNotObject = errors.New("ipc: line is not a JSON object")

// Message is one decoded protocol line. Raw holds the line exactly as
// received (without the trailing newline); Fields holds each top-level
// member undecoded.
type Message struct {
	Raw    json.RawMessage
	Fields map[string]json.RawMessage
}

// Decode parses line as a single JSON object.
func Decode(line []byte) (Message, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return Message{}, ErrNotObject
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return Message{}, fmt.Errorf("ipc: decoding line: %w", err)
	}
	if fields == nil {
		return Message{}, ErrNotObject
	}
	raw := make(json.RawMessage, len(line))
	copy(raw, line)
	return Message{Raw: raw, Fields: fields}, nil
}

// Type returns the "type" field, or "" when it is missing or not a
// string.
func (m Message) Type() string {
	value, _ := m.String("type")
	return value
}

// RequestID returns the "requestId" field, or "".
func (m Message) RequestID() string {
	value, _ := m.String("requestId")
	return value
}

// Value returns the raw JSON of a field. JSON null counts as absent.
func (m Message) Value(key string) (json.RawMessage, bool) {
	raw, ok := m.Fields[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false
	}
	return raw, true
}

// String returns a string field. Non-string values report false.
func (m Message) String(key string) (string, bool) {
	var value string
	return value, m.decode(key, &value)
}

// Int returns an integral number field.
func (m Message) Int(key string) (int64, bool) {
	var value int64
	return value, m.decode(key, &value)
}

// Uint returns a non-negative integral number field.
func (m Message) Uint(key string) (uint64, bool) {
	var value uint64
	return value, m.decode(key, &value)
}

// Float returns a number field.
func (m Message) Float(key string) (float64, bool) {
	var value float64
	return value, m.decode(key, &value)
}

// Bool returns a boolean field.
func (m Message) Bool(key string) (bool, bool) {
	var value bool
	return value, m.decode(key, &value)
}

func (m Message) decode(key string, target any) bool {
	raw, ok := m.Value(key)
	if !ok {
		return false
	}
	return json.Unmarshal(raw, target) == nil
}
