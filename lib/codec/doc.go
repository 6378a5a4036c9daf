// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is agentd's CBOR configuration.
//
// Audit exports can be written as a CBOR sequence: one self-delimiting
// data item per event, concatenated with no framing. Encoding uses
// Core Deterministic Encoding (RFC 8949 §4.2), so exporting the same
// events twice yields identical bytes and therefore identical
// digests. Types implementing encoding.TextMarshaler are written as
// text strings.
//
// Decoding into an untyped target produces map[string]any rather than
// the library default of map[any]any, so decoded exports can be handed
// to encoding/json.
package codec
