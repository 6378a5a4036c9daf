// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/cafelua/agentd/lib/ipc"
)

const (
	// MaxPayloadBytes bounds every free-form text field in a stored
	// payload.
	MaxPayloadBytes = 4096

	// TruncationMarker is appended to text cut at MaxPayloadBytes.
	TruncationMarker = "...[truncated]"
)

// Truncate returns s unchanged if it fits in MaxPayloadBytes.
// Otherwise it returns the longest prefix of at most MaxPayloadBytes
// that ends on a rune boundary, followed by TruncationMarker. Invalid
// UTF-8 is cut at most utf8.UTFMax bytes short of the cap.
func Truncate(s string) string {
	if len(s) <= MaxPayloadBytes {
		return s
	}
	end := MaxPayloadBytes
	for end > MaxPayloadBytes-utf8.UTFMax && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end] + TruncationMarker
}

type toolUsePayload struct {
	Args json.RawMessage `json:"args"`
}

type toolResultPayload struct {
	Output string  `json:"output"`
	Error  *string `json:"error,omitempty"`
}

type approvalRequestPayload struct {
	Args        json.RawMessage `json:"args"`
	Description string          `json:"description"`
}

// UsagePayload is the stored shape of a usage event. Stats sums Cost
// across all usage rows.
type UsagePayload struct {
	InputTokens  uint64  `json:"inputTokens"`
	OutputTokens uint64  `json:"outputTokens"`
	Cost         float64 `json:"cost"`
	Model        string  `json:"model"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type decisionPayload struct {
	Decision string `json:"decision"`
}

// buildPayload extracts the whitelisted fields for kind from message.
// Missing fields take their zero value.
func buildPayload(kind Kind, message ipc.Message) (json.RawMessage, error) {
	switch kind {
	case KindToolUse:
		return encodePayload(toolUsePayload{Args: boundedValue(message, "args")})
	case KindToolResult:
		output, _ := message.String("output")
		payload := toolResultPayload{Output: Truncate(output)}
		if errorText, ok := message.String("error"); ok {
			errorText = Truncate(errorText)
			payload.Error = &errorText
		}
		return encodePayload(payload)
	case KindApprovalRequest:
		description, _ := message.String("description")
		return encodePayload(approvalRequestPayload{
			Args:        boundedValue(message, "args"),
			Description: Truncate(description),
		})
	case KindUsage:
		var payload UsagePayload
		payload.InputTokens, _ = message.Uint("inputTokens")
		payload.OutputTokens, _ = message.Uint("outputTokens")
		payload.Cost, _ = message.Float("cost")
		payload.Model, _ = message.String("model")
		return encodePayload(payload)
	case KindError:
		text, _ := message.String("message")
		return encodePayload(errorPayload{Message: Truncate(text)})
	case KindApprovalDecision:
		decision, _ := message.String("decision")
		return encodePayload(decisionPayload{Decision: decision})
	case KindPassthrough:
		return nil, fmt.Errorf("audit: passthrough messages have no payload")
	default:
		return nil, fmt.Errorf("audit: no payload shape for %s", kind)
	}
}

// boundedValue returns a field's JSON compacted, or, when the compact
// form exceeds MaxPayloadBytes, that form truncated and re-encoded as
// a JSON string. Missing fields yield nil, which encodes as null.
func boundedValue(message ipc.Message, key string) json.RawMessage {
	raw, ok := message.Value(key)
	if !ok {
		return nil
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return nil
	}
	if compact.Len() <= MaxPayloadBytes {
		return compact.Bytes()
	}
	encoded, err := encodePayload(Truncate(compact.String()))
	if err != nil {
		return nil
	}
	return encoded
}

func encodePayload(value any) (json.RawMessage, error) {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return nil, fmt.Errorf("audit: encoding payload: %w", err)
	}
	return bytes.TrimRight(buffer.Bytes(), "\n"), nil
}
