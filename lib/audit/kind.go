// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"fmt"

	"github.com/cafelua/agentd/lib/ipc"
)

// Kind is the closed set of audited event kinds. The zero value,
// KindPassthrough, marks messages that are relayed but never audited.
type Kind uint8

const (
	KindPassthrough Kind = iota
	KindToolUse
	KindToolResult
	KindApprovalRequest
	KindUsage
	KindError
	KindApprovalDecision
)

var kindNames = [...]string{
	KindPassthrough:      "passthrough",
	KindToolUse:          "tool_use",
	KindToolResult:       "tool_result",
	KindApprovalRequest:  "approval_request",
	KindUsage:            "usage",
	KindError:            "error",
	KindApprovalDecision: "approval_decision",
}

// KindOf classifies a worker message type. Types outside the audited
// set, including approval_decision which the worker never emits,
// return KindPassthrough.
func KindOf(messageType string) Kind {
	switch messageType {
	case ipc.TypeToolUse:
		return KindToolUse
	case ipc.TypeToolResult:
		return KindToolResult
	case ipc.TypeApprovalRequest:
		return KindApprovalRequest
	case ipc.TypeUsage:
		return KindUsage
	case ipc.TypeError:
		return KindError
	default:
		return KindPassthrough
	}
}

// ParseKind parses a stored event_type name.
func ParseKind(name string) (Kind, error) {
	for kind, kindName := range kindNames {
		if Kind(kind) != KindPassthrough && kindName == name {
			return Kind(kind), nil
		}
	}
	return KindPassthrough, fmt.Errorf("audit: unknown event kind %q", name)
}

// Audited reports whether events of this kind are stored.
func (k Kind) Audited() bool {
	return k != KindPassthrough && int(k) < len(kindNames)
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}
