// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import "encoding/json"

// CancelStream asks the worker to abandon the in-flight response for
// a request.
type CancelStream struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
}

// NewCancelStream encodes a cancel_stream line for requestID.
func NewCancelStream(requestID string) ([]byte, error) {
	return json.Marshal(CancelStream{Type: TypeCancelStream, RequestID: requestID})
}

// ApprovalResponse is the user's answer to an approval_request.
// Decision is typically "once", "always" or "reject"; it is passed
// through as given.
type ApprovalResponse struct {
	Type       string `json:"type"`
	RequestID  string `json:"requestId"`
	ToolName   string `json:"toolName,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`
	Decision   string `json:"decision"`
}

// AsApprovalResponse reports whether m is an approval_response and, if
// so, returns its fields. Missing fields are left empty.
func (m Message) AsApprovalResponse() (ApprovalResponse, bool) {
	if m.Type() != TypeApprovalResponse {
		return ApprovalResponse{}, false
	}
	response := ApprovalResponse{
		Type:      TypeApprovalResponse,
		RequestID: m.RequestID(),
	}
	response.ToolName, _ = m.String("toolName")
	response.ToolCallID, _ = m.String("toolCallId")
	response.Decision, _ = m.String("decision")
	return response, true
}
