// Copyright 2024 Edgeo SCADA contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package opcuaproto defines the wire-level OPC UA types shared by the
// client and connection pool layers: node identifiers, variants, status
// codes and the request/response shapes needed for Read, Write,
// CreateSubscription and CreateMonitoredItems.
package opcuaproto

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// IdentifierType is the kind tag of a NodeID's identifier component.
type IdentifierType byte

const (
	IdentifierNumeric IdentifierType = 'i'
	IdentifierString  IdentifierType = 's'
	IdentifierGUID    IdentifierType = 'g'
	IdentifierOpaque  IdentifierType = 'b'
)

// NodeID identifies a node within a single OPC UA server's address space.
// The canonical textual form is "ns=<u16>;<i|s|g|b>=<payload>"; namespace 0
// numeric identifiers may also be written without the "ns=0;" prefix.
type NodeID struct {
	Namespace  uint16
	Type       IdentifierType
	Numeric    uint32
	StringID   string
	GUID       string
	OpaqueID   []byte
}

// NewNumericNodeID builds a numeric NodeID on the given namespace.
func NewNumericNodeID(ns uint16, id uint32) NodeID {
	return NodeID{Namespace: ns, Type: IdentifierNumeric, Numeric: id}
}

// NewStringNodeID builds a string-identifier NodeID on the given namespace.
func NewStringNodeID(ns uint16, id string) NodeID {
	return NodeID{Namespace: ns, Type: IdentifierString, StringID: id}
}

// String renders the canonical textual form, always including "ns=".
func (n NodeID) String() string {
	switch n.Type {
	case IdentifierNumeric:
		return fmt.Sprintf("ns=%d;i=%d", n.Namespace, n.Numeric)
	case IdentifierString:
		return fmt.Sprintf("ns=%d;s=%s", n.Namespace, n.StringID)
	case IdentifierGUID:
		return fmt.Sprintf("ns=%d;g=%s", n.Namespace, n.GUID)
	case IdentifierOpaque:
		return fmt.Sprintf("ns=%d;b=%s", n.Namespace, hex.EncodeToString(n.OpaqueID))
	default:
		return fmt.Sprintf("ns=%d;?", n.Namespace)
	}
}

// ParseNodeID parses the canonical textual NodeID form. "i=<n>" without a
// namespace segment is accepted and defaults to namespace 0.
func ParseNodeID(s string) (NodeID, error) {
	var ns uint16
	rest := s
	if strings.HasPrefix(s, "ns=") {
		parts := strings.SplitN(s, ";", 2)
		if len(parts) != 2 {
			return NodeID{}, fmt.Errorf("opcuaproto: malformed node id %q", s)
		}
		n, err := strconv.ParseUint(strings.TrimPrefix(parts[0], "ns="), 10, 16)
		if err != nil {
			return NodeID{}, fmt.Errorf("opcuaproto: malformed namespace in %q: %w", s, err)
		}
		ns = uint16(n)
		rest = parts[1]
	}
	if len(rest) < 2 || rest[1] != '=' {
		return NodeID{}, fmt.Errorf("opcuaproto: malformed identifier in %q", s)
	}
	kind, payload := rest[0], rest[2:]
	switch IdentifierType(kind) {
	case IdentifierNumeric:
		id, err := strconv.ParseUint(payload, 10, 32)
		if err != nil {
			return NodeID{}, fmt.Errorf("opcuaproto: malformed numeric identifier in %q: %w", s, err)
		}
		return NodeID{Namespace: ns, Type: IdentifierNumeric, Numeric: uint32(id)}, nil
	case IdentifierString:
		return NodeID{Namespace: ns, Type: IdentifierString, StringID: payload}, nil
	case IdentifierGUID:
		return NodeID{Namespace: ns, Type: IdentifierGUID, GUID: payload}, nil
	case IdentifierOpaque:
		raw, err := hex.DecodeString(payload)
		if err != nil {
			return NodeID{}, fmt.Errorf("opcuaproto: malformed opaque identifier in %q: %w", s, err)
		}
		return NodeID{Namespace: ns, Type: IdentifierOpaque, OpaqueID: raw}, nil
	default:
		return NodeID{}, fmt.Errorf("opcuaproto: unsupported identifier kind %q in %q", string(kind), s)
	}
}

// Equal reports whether two NodeIDs refer to the same node.
func (n NodeID) Equal(other NodeID) bool {
	return n.String() == other.String()
}
