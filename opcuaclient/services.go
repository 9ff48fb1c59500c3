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
	"context"
	"fmt"
	"time"

	"github.com/hadijannat/basyx-opcua-bridge/opcuaproto"
)

// Read performs a Read service call for the given attributes and returns
// one DataValue per requested ReadValueID, in request order.
func (c *Client) Read(ctx context.Context, items []opcuaproto.ReadValueID) ([]opcuaproto.DataValue, error) {
	if !c.IsSessionActive() {
		return nil, opcuaproto.NewOPCUAError(opcuaproto.ServiceRead, opcuaproto.StatusBadSessionClosed, "session not active")
	}
	started := time.Now()
	defer func() { c.metrics.ReadLatency.Observe(time.Since(started)) }()
	c.metrics.Reads.Add(int64(len(items)))

	d, err := c.sendRequest(ctx, opcuaproto.NewNumericNodeID(0, serviceReadRequest), opcuaproto.ServiceRead, func(e *opcuaproto.Encoder) {
		encodeRequestHeader(e, c.buildRequestHeader(c.nextRequestHandle(), c.opts.timeout))
		e.WriteDouble(0)  // MaxAge
		e.WriteUInt32(0)  // TimestampsToReturn = Both
		e.WriteInt32(int32(len(items)))
		for _, item := range items {
			e.WriteNodeID(item.NodeID)
			e.WriteUInt32(uint32(item.AttributeID))
			e.WriteString("") // IndexRange
			e.WriteUInt16(0)  // DataEncoding.NamespaceIndex
			e.WriteString("") // DataEncoding.Name
		}
	})
	if err != nil {
		return nil, err
	}
	rh, err := decodeResponseHeader(d)
	if err != nil {
		return nil, err
	}
	if rh.ServiceResult.IsBad() {
		return nil, opcuaproto.NewOPCUAError(opcuaproto.ServiceRead, rh.ServiceResult, "")
	}
	count, err := d.ReadInt32()
	if err != nil {
		return nil, err
	}
	results := make([]opcuaproto.DataValue, count)
	for i := range results {
		results[i], err = d.ReadDataValue()
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// ReadValue is a convenience wrapper reading a single node's Value
// attribute.
func (c *Client) ReadValue(ctx context.Context, id opcuaproto.NodeID) (opcuaproto.DataValue, error) {
	values, err := c.Read(ctx, []opcuaproto.ReadValueID{{NodeID: id, AttributeID: opcuaproto.AttributeValue}})
	if err != nil {
		return opcuaproto.DataValue{}, err
	}
	return values[0], nil
}

// Write performs a Write service call and returns one StatusCode per
// WriteValue, in request order.
func (c *Client) Write(ctx context.Context, items []opcuaproto.WriteValue) ([]opcuaproto.StatusCode, error) {
	if !c.IsSessionActive() {
		return nil, opcuaproto.NewOPCUAError(opcuaproto.ServiceWrite, opcuaproto.StatusBadSessionClosed, "session not active")
	}
	started := time.Now()
	defer func() { c.metrics.WriteLatency.Observe(time.Since(started)) }()
	c.metrics.Writes.Add(int64(len(items)))

	deadline := c.opts.timeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < deadline {
			deadline = d
		}
	}
	if deadline <= 0 {
		return nil, opcuaproto.NewOPCUAError(opcuaproto.ServiceWrite, opcuaproto.StatusBadTimeout, "write deadline exceeded before dispatch")
	}

	d, err := c.sendRequest(ctx, opcuaproto.NewNumericNodeID(0, serviceWriteRequest), opcuaproto.ServiceWrite, func(e *opcuaproto.Encoder) {
		encodeRequestHeader(e, c.buildRequestHeader(c.nextRequestHandle(), deadline))
		e.WriteInt32(int32(len(items)))
		for _, item := range items {
			e.WriteNodeID(item.NodeID)
			e.WriteUInt32(uint32(item.AttributeID))
			e.WriteString("") // IndexRange
			e.WriteDataValue(item.Value)
		}
	})
	if err != nil {
		return nil, err
	}
	rh, err := decodeResponseHeader(d)
	if err != nil {
		return nil, err
	}
	if rh.ServiceResult.IsBad() {
		return nil, opcuaproto.NewOPCUAError(opcuaproto.ServiceWrite, rh.ServiceResult, "")
	}
	count, err := d.ReadInt32()
	if err != nil {
		return nil, err
	}
	statuses := make([]opcuaproto.StatusCode, count)
	for i := range statuses {
		statuses[i], err = d.ReadStatusCode()
		if err != nil {
			return nil, err
		}
	}
	return statuses, nil
}

// WriteValue is a convenience wrapper writing a single node's Value
// attribute.
func (c *Client) WriteValue(ctx context.Context, id opcuaproto.NodeID, v opcuaproto.Variant) (opcuaproto.StatusCode, error) {
	statuses, err := c.Write(ctx, []opcuaproto.WriteValue{{
		NodeID:      id,
		AttributeID: opcuaproto.AttributeValue,
		Value:       opcuaproto.DataValue{Value: v, Status: opcuaproto.StatusGood},
	}})
	if err != nil {
		return 0, err
	}
	return statuses[0], nil
}

// errorFromContext translates a context error into the matching OPC UA
// status code.
func errorFromContext(ctx context.Context, service opcuaproto.ServiceID) error {
	if err := ctx.Err(); err != nil {
		return opcuaproto.NewOPCUAError(service, opcuaproto.StatusBadTimeout, fmt.Sprintf("context: %v", err))
	}
	return nil
}
