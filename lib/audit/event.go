// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"encoding/json"
	"fmt"

	"github.com/cafelua/agentd/lib/ipc"
)

// TimestampLayout is the stored timestamp format: UTC with
// millisecond precision and no zone suffix. Timestamps compare
// correctly as strings, which is how Filter.From and Filter.To are
// applied.
const TimestampLayout = "2006-01-02T15:04:05.000"

// Event is one stored audit record. Events are never modified after
// insertion, and IDs increase in insertion order.
//
// EventType is the stored name as written, which may be a kind this
// build does not know (rows from other tools or newer versions).
type Event struct {
	ID         int64           `json:"id"`
	Timestamp  string          `json:"timestamp"`
	RequestID  string          `json:"request_id"`
	EventType  string          `json:"event_type"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Tier       *int64          `json:"tier,omitempty"`
	Success    *bool           `json:"success,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Kind returns the event's kind, or KindPassthrough when EventType is
// not a kind this build stores.
func (e Event) Kind() Kind {
	kind, err := ParseKind(e.EventType)
	if err != nil {
		return KindPassthrough
	}
	return kind
}

// Record is an event ready for insertion. The store assigns the ID and
// timestamp. Empty ToolName and ToolCallID are stored as NULL.
type Record struct {
	RequestID  string
	Kind       Kind
	ToolName   string
	ToolCallID string
	Tier       *int64
	Success    *bool
	Payload    json.RawMessage
}

// RecordFromMessage shapes a worker message into a Record. It reports
// false for messages whose type is not audited.
func RecordFromMessage(message ipc.Message) (Record, bool, error) {
	kind := KindOf(message.Type())
	if !kind.Audited() {
		return Record{}, false, nil
	}
	payload, err := buildPayload(kind, message)
	if err != nil {
		return Record{}, false, err
	}
	record := Record{
		RequestID: message.RequestID(),
		Kind:      kind,
		Payload:   payload,
	}
	record.ToolName, _ = message.String("toolName")
	record.ToolCallID, _ = message.String("toolCallId")
	if tier, ok := message.Int("tier"); ok {
		record.Tier = &tier
	}
	if success, ok := message.Bool("success"); ok {
		record.Success = &success
	}
	return record, true, nil
}

// DecisionRecord derives the approval_decision record for an outgoing
// approval response. Only the decision is kept in the payload.
func DecisionRecord(response ipc.ApprovalResponse) (Record, error) {
	payload, err := encodePayload(decisionPayload{Decision: response.Decision})
	if err != nil {
		return Record{}, fmt.Errorf("audit: shaping approval decision: %w", err)
	}
	return Record{
		RequestID:  response.RequestID,
		Kind:       KindApprovalDecision,
		ToolName:   response.ToolName,
		ToolCallID: response.ToolCallID,
		Payload:    payload,
	}, nil
}
