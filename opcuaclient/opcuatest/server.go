// Package opcuatest is a minimal OPC UA TCP server used by opcuaclient's
// and connpool's tests. It speaks the same simplified wire dialect as
// opcuaclient: HEL/ACK, an unsecured OpenSecureChannel exchange,
// CreateSession/ActivateSession, Read, Write, CreateSubscription,
// CreateMonitoredItems and a long-polling Publish. It holds one shared
// node address space and, per connection, a set of subscriptions keyed
// by the client handles registered against them.
package opcuatest

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hadijannat/basyx-opcua-bridge/opcuaproto"
)

const (
	serviceCreateSessionRequest         = 461
	serviceCreateSessionResponse        = 464
	serviceActivateSessionRequest       = 467
	serviceActivateSessionResponse      = 470
	serviceReadRequest                  = 631
	serviceReadResponse                 = 634
	serviceWriteRequest                 = 673
	serviceWriteResponse                = 676
	serviceCreateSubscriptionRequest    = 787
	serviceCreateSubscriptionResponse   = 790
	serviceCreateMonitoredItemsRequest  = 751
	serviceCreateMonitoredItemsResponse = 754
	servicePublishRequest               = 826
	servicePublishResponse              = 829
	serviceOpenSecureChannelResponse    = 449

	typeIDDataChangeNotification = 811
)

type frameType [4]byte

var (
	frameHello        = frameType{'H', 'E', 'L', 'F'}
	frameAcknowledge  = frameType{'A', 'C', 'K', 'F'}
	frameOpenChannel  = frameType{'O', 'P', 'N', 'F'}
	frameCloseChannel = frameType{'C', 'L', 'O', 'F'}
	frameMessage      = frameType{'M', 'S', 'G', 'F'}
)

func readFrame(r io.Reader) (frameType, []byte, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return frameType{}, nil, err
	}
	var t frameType
	copy(t[:], header[:4])
	size := binary.LittleEndian.Uint32(header[4:8])
	if size < 8 {
		return t, nil, fmt.Errorf("opcuatest: invalid frame size %d", size)
	}
	body := make([]byte, size-8)
	if _, err := io.ReadFull(r, body); err != nil {
		return t, nil, err
	}
	return t, body, nil
}

func writeFrame(w *bufio.ReadWriter, t frameType, body []byte) error {
	var header [8]byte
	copy(header[:4], t[:])
	binary.LittleEndian.PutUint32(header[4:8], uint32(8+len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	return w.Flush()
}

var idCounter uint32

func nextID() uint32 { return atomic.AddUint32(&idCounter, 1) }

type requestHeader struct {
	RequestHandle uint32
}

// decodeRequestHeader mirrors opcuaclient's encodeRequestHeader: a plain
// byte in place of AdditionalHeader rather than a full ExtensionObject,
// since both ends of this wire are this module's own code.
func decodeRequestHeader(d *opcuaproto.Decoder) (requestHeader, error) {
	var h requestHeader
	if _, err := d.ReadNodeID(); err != nil { // AuthenticationToken
		return h, err
	}
	if _, err := d.ReadDateTime(); err != nil { // Timestamp
		return h, err
	}
	handle, err := d.ReadUInt32()
	if err != nil {
		return h, err
	}
	h.RequestHandle = handle
	if _, err := d.ReadUInt32(); err != nil { // ReturnDiagnostics
		return h, err
	}
	if _, err := d.ReadString(); err != nil { // AuditEntryID
		return h, err
	}
	if _, err := d.ReadUInt32(); err != nil { // TimeoutHint
		return h, err
	}
	if _, err := d.ReadByte(); err != nil { // AdditionalHeader null marker
		return h, err
	}
	return h, nil
}

func encodeResponseHeader(e *opcuaproto.Encoder, requestHandle uint32, result opcuaproto.StatusCode) {
	e.WriteDateTime(time.Now().UTC())
	e.WriteUInt32(requestHandle)
	e.WriteStatusCode(result)
	e.WriteInt32(0) // StringTable: empty
}

// serverSub is one subscription's server-side bookkeeping: the nodes its
// monitored items watch, keyed by the ClientHandle the client assigned,
// and the DataChangeNotifications queued for the next Publish response.
type serverSub struct {
	mu      sync.Mutex
	items   map[uint32]opcuaproto.NodeID
	pending []opcuaproto.DataChangeNotification
}

// Server is a fake OPC UA endpoint bound to 127.0.0.1:0. One Server can
// serve many sequential or concurrent connections against one shared
// node address space.
type Server struct {
	mu     sync.Mutex
	ln     net.Listener
	values map[string]opcuaproto.Variant
	conns  map[net.Conn]struct{}
	closed bool
}

// NewServer starts listening and registers a cleanup with tb.
func NewServer(tb testing.TB) *Server {
	tb.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("opcuatest: listen: %v", err)
	}
	s := &Server{
		ln:     ln,
		values: make(map[string]opcuaproto.Variant),
		conns:  make(map[net.Conn]struct{}),
	}
	go s.acceptLoop()
	tb.Cleanup(s.Close)
	return s
}

// Addr returns the "host:port" a Client should dial.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Close stops accepting connections and closes every open one.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	_ = s.ln.Close()
	for _, c := range conns {
		_ = c.Close()
	}
}

// DropConnections forcibly closes every currently open connection
// without closing the listener, simulating a transport-level fault a
// session should reconnect from.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// SetValue seeds the address space so a subsequent Read observes v.
func (s *Server) SetValue(node opcuaproto.NodeID, v opcuaproto.Variant) {
	s.mu.Lock()
	s.values[node.String()] = v
	s.mu.Unlock()
}

// Value returns the last value written or seeded for node.
func (s *Server) Value(node opcuaproto.NodeID) (opcuaproto.Variant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[node.String()]
	return v, ok
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		go s.handleConn(conn)
	}
}

type connState struct {
	srv       *Server
	rw        *bufio.ReadWriter
	channelID uint32
	tokenID   uint32

	subsMu sync.Mutex
	subs   map[uint32]*serverSub

	newData chan struct{}
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	cs := &connState{
		srv:     s,
		rw:      bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		subs:    make(map[uint32]*serverSub),
		newData: make(chan struct{}, 1),
	}

	if err := cs.handshake(); err != nil {
		return
	}
	for {
		t, body, err := readFrame(cs.rw)
		if err != nil {
			return
		}
		switch t {
		case frameMessage:
			if err := cs.handleMessage(body); err != nil {
				return
			}
		case frameCloseChannel:
			return
		default:
			return
		}
	}
}

func (cs *connState) handshake() error {
	t, _, err := readFrame(cs.rw)
	if err != nil {
		return err
	}
	if t != frameHello {
		return fmt.Errorf("opcuatest: expected hello, got %q", t)
	}

	ack := opcuaproto.NewEncoder()
	ack.WriteUInt32(0)          // ProtocolVersion
	ack.WriteUInt32(64 * 1024)  // ReceiveBufferSize
	ack.WriteUInt32(64 * 1024)  // SendBufferSize
	ack.WriteUInt32(4 * 1024 * 1024) // MaxMessageSize
	ack.WriteUInt32(0)          // MaxChunkCount
	if err := writeFrame(cs.rw, frameAcknowledge, ack.Bytes()); err != nil {
		return err
	}

	t, body, err := readFrame(cs.rw)
	if err != nil {
		return err
	}
	if t != frameOpenChannel {
		return fmt.Errorf("opcuatest: expected open secure channel, got %q", t)
	}
	return cs.handleOpenSecureChannel(body)
}

func (cs *connState) handleOpenSecureChannel(body []byte) error {
	d := opcuaproto.NewDecoder(body)
	if _, err := d.ReadUInt32(); err != nil { // requested channel id, 0
		return err
	}
	policyURI, err := d.ReadString()
	if err != nil {
		return err
	}
	if _, err := d.ReadByteString(); err != nil { // SenderCertificate
		return err
	}
	if _, err := d.ReadByteString(); err != nil { // ReceiverCertificateThumbprint
		return err
	}
	seq, err := d.ReadUInt32()
	if err != nil {
		return err
	}
	reqID, err := d.ReadUInt32()
	if err != nil {
		return err
	}
	if _, err := d.ReadNodeID(); err != nil { // service type id, 446
		return err
	}
	h, err := decodeRequestHeader(d)
	if err != nil {
		return err
	}
	if _, err := d.ReadUInt32(); err != nil { // ClientProtocolVersion
		return err
	}
	if _, err := d.ReadUInt32(); err != nil { // RequestType
		return err
	}
	if _, err := d.ReadUInt32(); err != nil { // SecurityMode
		return err
	}
	if _, err := d.ReadByteString(); err != nil { // ClientNonce
		return err
	}
	if _, err := d.ReadUInt32(); err != nil { // RequestedLifetime
		return err
	}

	channelID := nextID()
	cs.channelID = channelID
	cs.tokenID = channelID

	resp := opcuaproto.NewEncoder()
	resp.WriteUInt32(channelID)
	resp.WriteString(policyURI)
	resp.WriteByteString(nil)
	resp.WriteByteString(nil)
	resp.WriteUInt32(seq)
	resp.WriteUInt32(reqID)
	resp.WriteNodeID(opcuaproto.NewNumericNodeID(0, serviceOpenSecureChannelResponse))
	encodeResponseHeader(resp, h.RequestHandle, opcuaproto.StatusGood)
	resp.WriteUInt32(0) // ServerProtocolVersion
	resp.WriteUInt32(channelID)
	resp.WriteUInt32(cs.tokenID)
	resp.WriteDateTime(time.Now().UTC())
	resp.WriteUInt32(3600000) // RevisedLifetime
	resp.WriteByteString(nil) // ServerNonce
	return writeFrame(cs.rw, frameOpenChannel, resp.Bytes())
}

func (cs *connState) handleMessage(body []byte) error {
	d := opcuaproto.NewDecoder(body)
	if _, err := d.ReadUInt32(); err != nil { // channelID
		return err
	}
	if _, err := d.ReadUInt32(); err != nil { // tokenID
		return err
	}
	seq, err := d.ReadUInt32()
	if err != nil {
		return err
	}
	reqID, err := d.ReadUInt32()
	if err != nil {
		return err
	}
	svc, err := d.ReadNodeID()
	if err != nil {
		return err
	}

	switch svc.Numeric {
	case serviceCreateSessionRequest:
		return cs.handleCreateSession(d, seq, reqID)
	case serviceActivateSessionRequest:
		return cs.handleActivateSession(d, seq, reqID)
	case serviceReadRequest:
		return cs.handleRead(d, seq, reqID)
	case serviceWriteRequest:
		return cs.handleWrite(d, seq, reqID)
	case serviceCreateSubscriptionRequest:
		return cs.handleCreateSubscription(d, seq, reqID)
	case serviceCreateMonitoredItemsRequest:
		return cs.handleCreateMonitoredItems(d, seq, reqID)
	case servicePublishRequest:
		return cs.handlePublish(d, seq, reqID)
	default:
		return fmt.Errorf("opcuatest: unsupported service id %d", svc.Numeric)
	}
}

func (cs *connState) writeResponse(seq, reqID uint32, respSvc uint32, fn func(*opcuaproto.Encoder)) error {
	e := opcuaproto.NewEncoder()
	e.WriteUInt32(cs.channelID)
	e.WriteUInt32(cs.tokenID)
	e.WriteUInt32(seq)
	e.WriteUInt32(reqID)
	e.WriteNodeID(opcuaproto.NewNumericNodeID(0, respSvc))
	fn(e)
	return writeFrame(cs.rw, frameMessage, e.Bytes())
}

func (cs *connState) handleCreateSession(d *opcuaproto.Decoder, seq, reqID uint32) error {
	h, err := decodeRequestHeader(d)
	if err != nil {
		return err
	}
	if _, err := d.ReadString(); err != nil { // ApplicationURI
		return err
	}
	if _, err := d.ReadString(); err != nil { // ApplicationName
		return err
	}
	if _, err := d.ReadString(); err != nil { // SessionName
		return err
	}
	if _, err := d.ReadByteString(); err != nil { // ClientNonce
		return err
	}
	if _, err := d.ReadDouble(); err != nil { // RequestedSessionTimeout
		return err
	}

	sessionID := opcuaproto.NewNumericNodeID(1, nextID())
	authToken := opcuaproto.NewNumericNodeID(1, nextID())

	return cs.writeResponse(seq, reqID, serviceCreateSessionResponse, func(e *opcuaproto.Encoder) {
		encodeResponseHeader(e, h.RequestHandle, opcuaproto.StatusGood)
		e.WriteNodeID(sessionID)
		e.WriteNodeID(authToken)
		e.WriteDouble(60000)
		e.WriteByteString(nil)
	})
}

func (cs *connState) handleActivateSession(d *opcuaproto.Decoder, seq, reqID uint32) error {
	h, err := decodeRequestHeader(d)
	if err != nil {
		return err
	}
	if _, err := d.ReadString(); err != nil { // ClientSignature.Algorithm
		return err
	}
	if _, err := d.ReadByteString(); err != nil { // ClientSignature.Signature
		return err
	}
	if _, err := d.ReadInt32(); err != nil { // ClientSoftwareCertificates
		return err
	}
	n, err := d.ReadInt32() // LocaleIDs
	if err != nil {
		return err
	}
	for i := int32(0); i < n; i++ {
		if _, err := d.ReadString(); err != nil {
			return err
		}
	}
	if _, err := d.ReadNodeID(); err != nil { // UserIdentityToken TypeId
		return err
	}
	if _, err := d.ReadByte(); err != nil { // encoding flag
		return err
	}
	bodyLen, err := d.ReadInt32()
	if err != nil {
		return err
	}
	d.Skip(int(bodyLen))
	if _, err := d.ReadString(); err != nil { // UserTokenSignature.Algorithm
		return err
	}
	if _, err := d.ReadByteString(); err != nil { // UserTokenSignature.Signature
		return err
	}

	return cs.writeResponse(seq, reqID, serviceActivateSessionResponse, func(e *opcuaproto.Encoder) {
		encodeResponseHeader(e, h.RequestHandle, opcuaproto.StatusGood)
		e.WriteByteString(nil) // ServerNonce
		e.WriteInt32(0)        // Results: empty
	})
}

func (cs *connState) handleRead(d *opcuaproto.Decoder, seq, reqID uint32) error {
	h, err := decodeRequestHeader(d)
	if err != nil {
		return err
	}
	if _, err := d.ReadDouble(); err != nil { // MaxAge
		return err
	}
	if _, err := d.ReadUInt32(); err != nil { // TimestampsToReturn
		return err
	}
	count, err := d.ReadInt32()
	if err != nil {
		return err
	}
	nodes := make([]opcuaproto.NodeID, count)
	for i := range nodes {
		nodes[i], err = d.ReadNodeID()
		if err != nil {
			return err
		}
		if _, err := d.ReadUInt32(); err != nil { // AttributeID
			return err
		}
		if _, err := d.ReadString(); err != nil { // IndexRange
			return err
		}
		if _, err := d.ReadUInt16(); err != nil { // DataEncoding.NamespaceIndex
			return err
		}
		if _, err := d.ReadString(); err != nil { // DataEncoding.Name
			return err
		}
	}

	return cs.writeResponse(seq, reqID, serviceReadResponse, func(e *opcuaproto.Encoder) {
		encodeResponseHeader(e, h.RequestHandle, opcuaproto.StatusGood)
		e.WriteInt32(int32(len(nodes)))
		for _, n := range nodes {
			v, ok := cs.srv.Value(n)
			if !ok {
				e.WriteDataValue(opcuaproto.DataValue{Status: opcuaproto.StatusBadNodeIDUnknown})
				continue
			}
			e.WriteDataValue(opcuaproto.DataValue{Value: v, Status: opcuaproto.StatusGood, SourceTimestamp: time.Now().UTC()})
		}
	})
}

func (cs *connState) handleWrite(d *opcuaproto.Decoder, seq, reqID uint32) error {
	h, err := decodeRequestHeader(d)
	if err != nil {
		return err
	}
	count, err := d.ReadInt32()
	if err != nil {
		return err
	}
	type writeItem struct {
		node opcuaproto.NodeID
		dv   opcuaproto.DataValue
	}
	items := make([]writeItem, count)
	for i := range items {
		items[i].node, err = d.ReadNodeID()
		if err != nil {
			return err
		}
		if _, err := d.ReadUInt32(); err != nil { // AttributeID
			return err
		}
		if _, err := d.ReadString(); err != nil { // IndexRange
			return err
		}
		items[i].dv, err = d.ReadDataValue()
		if err != nil {
			return err
		}
	}

	for _, it := range items {
		cs.srv.SetValue(it.node, it.dv.Value)
		cs.notifyWrite(it.node, it.dv)
	}

	return cs.writeResponse(seq, reqID, serviceWriteResponse, func(e *opcuaproto.Encoder) {
		encodeResponseHeader(e, h.RequestHandle, opcuaproto.StatusGood)
		e.WriteInt32(int32(len(items)))
		for range items {
			e.WriteStatusCode(opcuaproto.StatusGood)
		}
	})
}

func (cs *connState) notifyWrite(node opcuaproto.NodeID, dv opcuaproto.DataValue) {
	cs.subsMu.Lock()
	for _, sub := range cs.subs {
		sub.mu.Lock()
		for handle, n := range sub.items {
			if n.Equal(node) {
				sub.pending = append(sub.pending, opcuaproto.DataChangeNotification{MonitoredItemID: handle, Value: dv})
			}
		}
		sub.mu.Unlock()
	}
	cs.subsMu.Unlock()
	select {
	case cs.newData <- struct{}{}:
	default:
	}
}

func (cs *connState) handleCreateSubscription(d *opcuaproto.Decoder, seq, reqID uint32) error {
	h, err := decodeRequestHeader(d)
	if err != nil {
		return err
	}
	if _, err := d.ReadDouble(); err != nil { // RequestedPublishingInterval
		return err
	}
	if _, err := d.ReadUInt32(); err != nil { // LifetimeCount
		return err
	}
	if _, err := d.ReadUInt32(); err != nil { // MaxKeepAliveCount
		return err
	}
	if _, err := d.ReadUInt32(); err != nil { // MaxNotificationsPerPublish
		return err
	}
	if _, err := d.ReadBoolean(); err != nil { // PublishingEnabled
		return err
	}
	if _, err := d.ReadByte(); err != nil { // Priority
		return err
	}

	subID := nextID()
	cs.subsMu.Lock()
	cs.subs[subID] = &serverSub{items: make(map[uint32]opcuaproto.NodeID)}
	cs.subsMu.Unlock()

	return cs.writeResponse(seq, reqID, serviceCreateSubscriptionResponse, func(e *opcuaproto.Encoder) {
		encodeResponseHeader(e, h.RequestHandle, opcuaproto.StatusGood)
		e.WriteUInt32(subID)
		e.WriteDouble(100)
		e.WriteUInt32(0)
		e.WriteUInt32(0)
	})
}

func (cs *connState) handleCreateMonitoredItems(d *opcuaproto.Decoder, seq, reqID uint32) error {
	h, err := decodeRequestHeader(d)
	if err != nil {
		return err
	}
	subID, err := d.ReadUInt32()
	if err != nil {
		return err
	}
	if _, err := d.ReadUInt32(); err != nil { // TimestampsToReturn
		return err
	}
	count, err := d.ReadInt32()
	if err != nil {
		return err
	}
	type item struct {
		node   opcuaproto.NodeID
		handle uint32
	}
	items := make([]item, count)
	for i := range items {
		items[i].node, err = d.ReadNodeID()
		if err != nil {
			return err
		}
		if _, err := d.ReadUInt32(); err != nil { // AttributeID
			return err
		}
		if _, err := d.ReadString(); err != nil { // IndexRange
			return err
		}
		if _, err := d.ReadUInt16(); err != nil { // DataEncoding.NamespaceIndex
			return err
		}
		if _, err := d.ReadString(); err != nil { // DataEncoding.Name
			return err
		}
		if _, err := d.ReadUInt32(); err != nil { // MonitoringMode
			return err
		}
		items[i].handle, err = d.ReadUInt32() // ClientHandle
		if err != nil {
			return err
		}
		if _, err := d.ReadDouble(); err != nil { // SamplingInterval
			return err
		}
		if _, err := d.ReadByte(); err != nil { // Filter: null ExtensionObject
			return err
		}
		if _, err := d.ReadUInt32(); err != nil { // QueueSize
			return err
		}
		if _, err := d.ReadBoolean(); err != nil { // DiscardOldest
			return err
		}
	}

	cs.subsMu.Lock()
	sub, ok := cs.subs[subID]
	if ok {
		sub.mu.Lock()
		for _, it := range items {
			sub.items[it.handle] = it.node
		}
		sub.mu.Unlock()
	}
	cs.subsMu.Unlock()

	result := opcuaproto.StatusGood
	if !ok {
		result = opcuaproto.StatusBadNodeIDUnknown
	}

	return cs.writeResponse(seq, reqID, serviceCreateMonitoredItemsResponse, func(e *opcuaproto.Encoder) {
		encodeResponseHeader(e, h.RequestHandle, result)
		if result.IsBad() {
			e.WriteInt32(0)
			return
		}
		e.WriteInt32(int32(len(items)))
		for _, it := range items {
			e.WriteStatusCode(opcuaproto.StatusGood)
			e.WriteUInt32(it.handle) // MonitoredItemID = ClientHandle
			e.WriteDouble(100)
			e.WriteUInt32(10)
		}
	})
}

func (cs *connState) handlePublish(d *opcuaproto.Decoder, seq, reqID uint32) error {
	h, err := decodeRequestHeader(d)
	if err != nil {
		return err
	}
	ackCount, err := d.ReadInt32()
	if err != nil {
		return err
	}
	for i := int32(0); i < ackCount; i++ {
		if _, err := d.ReadUInt32(); err != nil { // subscriptionID
			return err
		}
		if _, err := d.ReadUInt32(); err != nil { // sequenceNumber
			return err
		}
	}

	subID, notifs := cs.waitForNotifications(300 * time.Millisecond)

	return cs.writeResponse(seq, reqID, servicePublishResponse, func(e *opcuaproto.Encoder) {
		encodeResponseHeader(e, h.RequestHandle, opcuaproto.StatusGood)
		e.WriteUInt32(subID)
		e.WriteInt32(0)        // AvailableSequenceNumbers
		e.WriteBoolean(false)  // MoreNotifications
		e.WriteUInt32(nextID())
		e.WriteDateTime(time.Now().UTC())
		if len(notifs) == 0 {
			e.WriteInt32(0)
		} else {
			e.WriteInt32(1)
			e.WriteNodeID(opcuaproto.NewNumericNodeID(0, typeIDDataChangeNotification))
			e.WriteByte(0x01)
			body := opcuaproto.NewEncoder()
			body.WriteInt32(int32(len(notifs)))
			for _, n := range notifs {
				body.WriteUInt32(n.MonitoredItemID)
				body.WriteDataValue(n.Value)
			}
			body.WriteInt32(-1) // DiagnosticInfos: null array
			e.WriteInt32(int32(len(body.Bytes())))
			e.Write(body.Bytes())
		}
		e.WriteInt32(ackCount)
		for i := int32(0); i < ackCount; i++ {
			e.WriteStatusCode(opcuaproto.StatusGood)
		}
	})
}

// waitForNotifications polls every subscription on this connection for
// up to timeout, returning as soon as one has queued DataChangeNotifications.
// It returns a zero subscription id and no notifications if none appear
// in time, which the client treats as an empty keep-alive.
func (cs *connState) waitForNotifications(timeout time.Duration) (uint32, []opcuaproto.DataChangeNotification) {
	deadline := time.Now().Add(timeout)
	for {
		if id, notifs := cs.takePending(); id != 0 {
			return id, notifs
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return cs.anySubID(), nil
		}
		wait := remaining
		if wait > 50*time.Millisecond {
			wait = 50 * time.Millisecond
		}
		select {
		case <-cs.newData:
		case <-time.After(wait):
		}
	}
}

func (cs *connState) takePending() (uint32, []opcuaproto.DataChangeNotification) {
	cs.subsMu.Lock()
	defer cs.subsMu.Unlock()
	for id, sub := range cs.subs {
		sub.mu.Lock()
		if len(sub.pending) > 0 {
			notifs := sub.pending
			sub.pending = nil
			sub.mu.Unlock()
			return id, notifs
		}
		sub.mu.Unlock()
	}
	return 0, nil
}

func (cs *connState) anySubID() uint32 {
	cs.subsMu.Lock()
	defer cs.subsMu.Unlock()
	for id := range cs.subs {
		return id
	}
	return 0
}
