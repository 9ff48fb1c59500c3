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
	"sync"
	"sync/atomic"
	"time"

	"github.com/hadijannat/basyx-opcua-bridge/opcuaproto"
)

var monitoredItemIDSeq uint32

// Subscription streams DataChangeNotifications for a set of monitored
// items created against one Client. Notifications is buffered (256
// entries); while the buffer is full, newly arriving notifications are
// dropped with a warning rather than blocking the publish loop.
type Subscription struct {
	id     uint32
	client *Client
	opts   *subscriptionOptions
	notify chan opcuaproto.DataChangeNotification

	mu     sync.Mutex
	closed bool
}

// CreateSubscription creates a subscription with no monitored items yet;
// call CreateMonitoredItems to add nodes.
func (c *Client) CreateSubscription(ctx context.Context, opts ...SubscriptionOption) (*Subscription, error) {
	if !c.IsSessionActive() {
		return nil, opcuaproto.NewOPCUAError(opcuaproto.ServiceCreateSubscription, opcuaproto.StatusBadSessionClosed, "session not active")
	}
	o := defaultSubscriptionOptions()
	for _, opt := range opts {
		opt(o)
	}

	d, err := c.sendRequest(ctx, opcuaproto.NewNumericNodeID(0, serviceCreateSubscriptionRequest), opcuaproto.ServiceCreateSubscription, func(e *opcuaproto.Encoder) {
		encodeRequestHeader(e, c.buildRequestHeader(c.nextRequestHandle(), c.opts.timeout))
		e.WriteDouble(float64(o.publishingInterval / time.Millisecond))
		e.WriteUInt32(o.lifetimeCount)
		e.WriteUInt32(o.maxKeepAliveCount)
		e.WriteUInt32(o.maxNotifications)
		e.WriteBoolean(o.publishingEnabled)
		e.WriteByte(o.priority)
	})
	if err != nil {
		return nil, err
	}
	rh, err := decodeResponseHeader(d)
	if err != nil {
		return nil, err
	}
	if rh.ServiceResult.IsBad() {
		return nil, opcuaproto.NewOPCUAError(opcuaproto.ServiceCreateSubscription, rh.ServiceResult, "")
	}
	id, err := d.ReadUInt32()
	if err != nil {
		return nil, err
	}
	if _, err := d.ReadDouble(); err != nil { // RevisedPublishingInterval
		return nil, err
	}
	if _, err := d.ReadUInt32(); err != nil { // RevisedLifetimeCount
		return nil, err
	}
	if _, err := d.ReadUInt32(); err != nil { // RevisedMaxKeepAliveCount
		return nil, err
	}

	sub := &Subscription{
		id:     id,
		client: c,
		opts:   o,
		notify: make(chan opcuaproto.DataChangeNotification, 256),
	}
	c.subsMu.Lock()
	c.subs[id] = sub
	c.subsMu.Unlock()
	c.logger.Debug("subscription created", "subscription_id", id, "publishing_interval", o.publishingInterval)
	return sub, nil
}

// CreateMonitoredItems adds nodes to the subscription, one
// MonitoredItemCreateResult per request item in order. The client
// handle assigned to each item doubles as the MonitoredItemID returned
// here and the id DataChange notifications for that item carry.
func (s *Subscription) CreateMonitoredItems(ctx context.Context, items []opcuaproto.MonitoredItemCreateRequest) ([]opcuaproto.MonitoredItemCreateResult, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("opcuaclient: subscription %d is closed", s.id)
	}
	s.mu.Unlock()

	handles := make([]uint32, len(items))
	for i := range items {
		handles[i] = atomic.AddUint32(&monitoredItemIDSeq, 1)
	}

	d, err := s.client.sendRequest(ctx, opcuaproto.NewNumericNodeID(0, serviceCreateMonitoredItemsRequest), opcuaproto.ServiceCreateMonitoredItems, func(e *opcuaproto.Encoder) {
		encodeRequestHeader(e, s.client.buildRequestHeader(s.client.nextRequestHandle(), s.client.opts.timeout))
		e.WriteUInt32(s.id)
		e.WriteUInt32(0) // TimestampsToReturn = Both
		e.WriteInt32(int32(len(items)))
		for i, item := range items {
			e.WriteNodeID(item.ItemToMonitor.NodeID)
			e.WriteUInt32(uint32(item.ItemToMonitor.AttributeID))
			e.WriteString("") // IndexRange
			e.WriteUInt16(0)  // DataEncoding.NamespaceIndex
			e.WriteString("") // DataEncoding.Name
			e.WriteUInt32(uint32(item.MonitoringMode))
			e.WriteUInt32(handles[i]) // ClientHandle
			e.WriteDouble(float64(item.Parameters.SamplingInterval / time.Millisecond))
			e.WriteByte(0x00) // Filter: null ExtensionObject
			e.WriteUInt32(item.Parameters.QueueSize)
			e.WriteBoolean(item.Parameters.DiscardOldest)
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
		return nil, opcuaproto.NewOPCUAError(opcuaproto.ServiceCreateMonitoredItems, rh.ServiceResult, "")
	}
	count, err := d.ReadInt32()
	if err != nil {
		return nil, err
	}

	results := make([]opcuaproto.MonitoredItemCreateResult, count)
	for i := range results {
		status, err := d.ReadStatusCode()
		if err != nil {
			return nil, err
		}
		miID, err := d.ReadUInt32()
		if err != nil {
			return nil, err
		}
		revSampling, err := d.ReadDouble()
		if err != nil {
			return nil, err
		}
		revQueueSize, err := d.ReadUInt32()
		if err != nil {
			return nil, err
		}
		results[i] = opcuaproto.MonitoredItemCreateResult{
			Status:           status,
			MonitoredItemID:  miID,
			RevisedSampling:  time.Duration(revSampling) * time.Millisecond,
			RevisedQueueSize: revQueueSize,
		}
	}
	return results, nil
}

// Notifications returns the channel on which DataChangeNotifications are
// delivered. It is closed when the subscription is deleted.
func (s *Subscription) Notifications() <-chan opcuaproto.DataChangeNotification {
	return s.notify
}

// Delete tears down the subscription and its monitored items.
func (s *Subscription) Delete(ctx context.Context) error {
	s.client.subsMu.Lock()
	delete(s.client.subs, s.id)
	s.client.subsMu.Unlock()
	s.close()
	return nil
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.notify)
}

// pendingAck is a subscription acknowledgement carried on the next
// PublishRequest, telling the server it can release the sequence number.
type pendingAck struct {
	subscriptionID uint32
	sequenceNumber uint32
}

// startPublishLoop launches the single goroutine that keeps one
// PublishRequest outstanding for the lifetime of the session, routing
// every DataChangeNotification it receives to the owning Subscription.
func (c *Client) startPublishLoop() {
	c.mu.Lock()
	if c.publishStop != nil {
		c.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	c.publishStop = stop
	c.mu.Unlock()

	go c.publishLoop(stop)
}

func (c *Client) publishLoop(stop chan struct{}) {
	var pending []pendingAck
	for {
		select {
		case <-stop:
			return
		default:
		}
		if !c.IsConnected() {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.timeout+10*time.Second)
		acks := pending
		notifications, seq, subID, err := c.publish(ctx, acks)
		cancel()
		if err != nil {
			c.logger.Warn("publish request failed, faulting session", "error", err)
			c.setState(StateFaulted)
			return
		}
		pending = nil
		if subID != 0 {
			pending = append(pending, pendingAck{subscriptionID: subID, sequenceNumber: seq})
		}
		if len(notifications) > 0 {
			c.routeNotifications(subID, notifications)
		}
	}
}

// publish sends one PublishRequest, acknowledging acks, and returns the
// DataChangeNotifications carried by the response along with the
// sequence number and subscription id they belong to.
func (c *Client) publish(ctx context.Context, acks []pendingAck) ([]opcuaproto.DataChangeNotification, uint32, uint32, error) {
	d, err := c.sendRequest(ctx, opcuaproto.NewNumericNodeID(0, servicePublishRequest), opcuaproto.ServicePublish, func(e *opcuaproto.Encoder) {
		encodeRequestHeader(e, c.buildRequestHeader(c.nextRequestHandle(), c.opts.timeout))
		e.WriteInt32(int32(len(acks)))
		for _, a := range acks {
			e.WriteUInt32(a.subscriptionID)
			e.WriteUInt32(a.sequenceNumber)
		}
	})
	if err != nil {
		return nil, 0, 0, err
	}
	rh, err := decodeResponseHeader(d)
	if err != nil {
		return nil, 0, 0, err
	}
	if rh.ServiceResult.IsBad() {
		c.metrics.PublishErrors.Add(1)
		return nil, 0, 0, opcuaproto.NewOPCUAError(opcuaproto.ServicePublish, rh.ServiceResult, "")
	}
	subID, err := d.ReadUInt32()
	if err != nil {
		return nil, 0, 0, err
	}
	availCount, err := d.ReadInt32()
	if err != nil {
		return nil, 0, 0, err
	}
	for i := int32(0); i < availCount; i++ {
		if _, err := d.ReadUInt32(); err != nil {
			return nil, 0, 0, err
		}
	}
	if _, err := d.ReadBoolean(); err != nil { // MoreNotifications
		return nil, 0, 0, err
	}
	seqNum, err := d.ReadUInt32()
	if err != nil {
		return nil, 0, 0, err
	}
	if _, err := d.ReadDateTime(); err != nil { // PublishTime
		return nil, 0, 0, err
	}
	notifCount, err := d.ReadInt32()
	if err != nil {
		return nil, 0, 0, err
	}

	var out []opcuaproto.DataChangeNotification
	for i := int32(0); i < notifCount; i++ {
		typeID, err := d.ReadNodeID()
		if err != nil {
			return nil, 0, 0, err
		}
		encFlag, err := d.ReadByte()
		if err != nil {
			return nil, 0, 0, err
		}
		if encFlag == 0x00 {
			continue
		}
		bodyLen, err := d.ReadInt32()
		if err != nil {
			return nil, 0, 0, err
		}
		if typeID.Type == opcuaproto.IdentifierNumeric && typeID.Numeric == typeIDDataChangeNotification {
			items, err := decodeDataChangeNotificationBody(d)
			if err != nil {
				return nil, 0, 0, err
			}
			out = append(out, items...)
		} else {
			d.Skip(int(bodyLen))
		}
	}

	resultsCount, err := d.ReadInt32()
	if err != nil {
		return nil, 0, 0, err
	}
	for i := int32(0); i < resultsCount; i++ {
		if _, err := d.ReadStatusCode(); err != nil {
			return nil, 0, 0, err
		}
	}
	return out, seqNum, subID, nil
}

func (c *Client) routeNotifications(subID uint32, items []opcuaproto.DataChangeNotification) {
	c.subsMu.Lock()
	sub, ok := c.subs[subID]
	c.subsMu.Unlock()
	if !ok {
		return
	}
	for _, n := range items {
		c.metrics.NotificationsOut.Add(1)
		select {
		case sub.notify <- n:
		default:
			c.logger.Warn("subscription notify channel full, dropping notification", "subscription_id", subID)
		}
	}
}
