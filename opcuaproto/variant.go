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

package opcuaproto

import "time"

// TypeID is the builtin OPC UA data type tag carried by a Variant.
type TypeID byte

const (
	TypeNull TypeID = iota
	TypeBoolean
	TypeSByte
	TypeByte
	TypeInt16
	TypeUInt16
	TypeInt32
	TypeUInt32
	TypeInt64
	TypeUInt64
	TypeFloat
	TypeDouble
	TypeString
	TypeDateTime
	TypeByteString
)

// Variant is OPC UA's tagged-value container. Array holds element values
// when IsArray is set; Value is unused in that case.
type Variant struct {
	Type    TypeID
	Value   any
	IsArray bool
	Array   []any
}

// DataValue pairs a Variant with source/server timestamps and a status
// code, as delivered in Read responses and DataChange notifications.
type DataValue struct {
	Value           Variant
	Status          StatusCode
	SourceTimestamp time.Time
	ServerTimestamp time.Time
}

// AttributeID identifies which attribute of a node a Read/Write targets.
type AttributeID uint32

const (
	AttributeNodeID     AttributeID = 1
	AttributeNodeClass  AttributeID = 2
	AttributeBrowseName AttributeID = 3
	AttributeValue      AttributeID = 13
	AttributeDataType   AttributeID = 14
)

func (a AttributeID) String() string {
	switch a {
	case AttributeNodeID:
		return "NodeId"
	case AttributeNodeClass:
		return "NodeClass"
	case AttributeBrowseName:
		return "BrowseName"
	case AttributeValue:
		return "Value"
	case AttributeDataType:
		return "DataType"
	default:
		return "Unknown"
	}
}

// ServiceID names an OPC UA service for error/metrics attribution.
type ServiceID uint32

const (
	ServiceRead ServiceID = iota
	ServiceWrite
	ServiceCreateSubscription
	ServiceCreateMonitoredItems
	ServiceDeleteMonitoredItems
	ServicePublish
	ServiceCreateSession
	ServiceActivateSession
	ServiceCloseSession
)

func (s ServiceID) String() string {
	switch s {
	case ServiceRead:
		return "Read"
	case ServiceWrite:
		return "Write"
	case ServiceCreateSubscription:
		return "CreateSubscription"
	case ServiceCreateMonitoredItems:
		return "CreateMonitoredItems"
	case ServiceDeleteMonitoredItems:
		return "DeleteMonitoredItems"
	case ServicePublish:
		return "Publish"
	case ServiceCreateSession:
		return "CreateSession"
	case ServiceActivateSession:
		return "ActivateSession"
	case ServiceCloseSession:
		return "CloseSession"
	default:
		return "Unknown"
	}
}

// ReadValueID names one attribute read target.
type ReadValueID struct {
	NodeID      NodeID
	AttributeID AttributeID
}

// WriteValue names one attribute write target and its new value.
type WriteValue struct {
	NodeID      NodeID
	AttributeID AttributeID
	Value       DataValue
}

// MonitoringMode controls whether a monitored item reports notifications.
type MonitoringMode uint32

const (
	MonitoringDisabled MonitoringMode = iota
	MonitoringSampling
	MonitoringReporting
)

// MonitoringParameters configures sampling and queueing for one monitored
// item, mirroring the OPC UA MonitoringParameters structure.
type MonitoringParameters struct {
	SamplingInterval time.Duration
	QueueSize        uint32
	DiscardOldest    bool
}

// MonitoredItemCreateRequest requests monitoring of one node attribute.
type MonitoredItemCreateRequest struct {
	ItemToMonitor  ReadValueID
	MonitoringMode MonitoringMode
	Parameters     MonitoringParameters
}

// MonitoredItemCreateResult is the per-item outcome of
// CreateMonitoredItems.
type MonitoredItemCreateResult struct {
	Status              StatusCode
	MonitoredItemID     uint32
	RevisedSampling     time.Duration
	RevisedQueueSize    uint32
}

// DataChangeNotification carries one monitored item's new value as
// delivered by a Publish response.
type DataChangeNotification struct {
	MonitoredItemID uint32
	Value           DataValue
}
