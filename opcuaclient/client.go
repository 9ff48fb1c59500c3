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

// Package opcuaclient implements a single OPC UA session: secure channel
// handshake, session creation/activation, Read/Write and Subscription
// services. It deliberately owns no reconnect policy of its own — that
// responsibility belongs to the connection pool sitting above it.
package opcuaclient

import (
	"bufio"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hadijannat/basyx-opcua-bridge/opcuaproto"
)

// ConnectionState is the observable lifecycle state of a Client.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateFaulted
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateFaulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// Client is a single OPC UA session against one endpoint. It is not safe
// for concurrent Connect/Close calls, but Read/Write/CreateSubscription
// may be called concurrently once connected.
type Client struct {
	addr     string
	opts     *clientOptions
	security *SecurityConfig
	logger   *slog.Logger
	metrics  *Metrics

	mu         sync.RWMutex
	state      ConnectionState
	transport  *tcpTransport
	rw         *bufio.ReadWriter
	sessionID  string
	authToken  opcuaproto.NodeID

	secureChannelID uint32
	tokenID         uint32
	requestSeq      uint32
	seqCounter      uint32

	sendMu sync.Mutex

	subs   map[uint32]*Subscription
	subsMu sync.Mutex

	publishOnce sync.Once
	publishStop chan struct{}
}

// NewClient constructs a Client bound to addr without connecting.
func NewClient(addr string, opts ...Option) (*Client, error) {
	o := defaultOptions()
	o.endpoint = addr
	for _, opt := range opts {
		opt(o)
	}
	sec, err := NewSecurityConfig(o.securityPolicy, o.securityMode, o.certPEM, o.keyPEM)
	if err != nil {
		return nil, err
	}
	if o.securityMode != opcuaproto.MessageSecurityModeNone && o.securityPolicy == opcuaproto.SecurityPolicyNone {
		return nil, fmt.Errorf("opcuaclient: security mode %s requires a security policy other than None", o.securityMode)
	}
	return &Client{
		addr:     addr,
		opts:     o,
		security: sec,
		logger:   o.logger.With("endpoint", addr),
		metrics:  NewMetrics(),
		state:    StateDisconnected,
		subs:     make(map[uint32]*Subscription),
	}, nil
}

// State returns the Client's current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// IsConnected reports whether the secure channel and session are up.
func (c *Client) IsConnected() bool { return c.State() == StateConnected }

// Metrics exposes the client's counters and latency histograms.
func (c *Client) Metrics() *Metrics { return c.metrics }

// Connect dials the endpoint and performs the HEL/ACK handshake.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	timeout := c.opts.timeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < timeout {
			timeout = d
		}
	}
	t, err := dialTCP(c.addr, timeout)
	if err != nil {
		c.setState(StateFaulted)
		return err
	}
	c.mu.Lock()
	c.transport = t
	c.rw = bufio.NewReadWriter(bufio.NewReader(t), bufio.NewWriter(t))
	c.mu.Unlock()

	if err := c.sendHello(); err != nil {
		c.setState(StateFaulted)
		return err
	}
	if err := c.readAck(); err != nil {
		c.setState(StateFaulted)
		return err
	}
	c.logger.Debug("hello/ack exchanged")
	return nil
}

func (c *Client) sendHello() error {
	hello := helloMessage{
		ProtocolVersion:   protocolVersion,
		ReceiveBufferSize: defaultReceiveBufferSize,
		SendBufferSize:    defaultSendBufferSize,
		MaxMessageSize:    defaultMaxMessageSize,
		MaxChunkCount:     defaultMaxChunkCount,
		EndpointURL:       c.addr,
	}
	c.mu.RLock()
	rw := c.rw
	c.mu.RUnlock()
	if rw == nil {
		return fmt.Errorf("opcuaclient: not connected")
	}
	size := uint32(8 + 20 + 4 + len(c.addr))
	header := messageHeader{Type: msgHello, MessageSize: size}
	if err := header.encode(rw); err != nil {
		return fmt.Errorf("opcuaclient: sending hello: %w", err)
	}
	if err := hello.encode(rw); err != nil {
		return fmt.Errorf("opcuaclient: sending hello: %w", err)
	}
	return rw.Flush()
}

func (c *Client) readAck() error {
	c.mu.RLock()
	rw := c.rw
	c.mu.RUnlock()
	if rw == nil {
		return fmt.Errorf("opcuaclient: not connected")
	}
	header, err := decodeMessageHeader(rw)
	if err != nil {
		return fmt.Errorf("opcuaclient: reading ack header: %w", err)
	}
	body := make([]byte, header.MessageSize-8)
	if _, err := io.ReadFull(rw, body); err != nil {
		return fmt.Errorf("opcuaclient: reading ack body: %w", err)
	}
	switch header.Type {
	case msgAcknowledge:
		ack, err := decodeAckMessage(body)
		if err != nil {
			return err
		}
		c.logger.Debug("server ack", "protocol_version", ack.ProtocolVersion, "max_message_size", ack.MaxMessageSize)
		return nil
	case msgError:
		em, err := decodeErrorMessage(body)
		if err != nil {
			return err
		}
		return opcuaproto.NewOPCUAError(opcuaproto.ServiceCreateSession, opcuaproto.StatusCode(em.Error), em.Reason)
	default:
		return fmt.Errorf("opcuaclient: unexpected message type %q waiting for ack", header.Type)
	}
}

// ConnectAndActivateSession connects, opens a secure channel and creates
// and activates a session, bringing the Client to StateConnected.
func (c *Client) ConnectAndActivateSession(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	if err := c.openSecureChannel(ctx); err != nil {
		c.setState(StateFaulted)
		return err
	}
	if err := c.createAndActivateSession(ctx); err != nil {
		c.setState(StateFaulted)
		return err
	}
	c.setState(StateConnected)
	c.startPublishLoop()
	return nil
}

// openSecureChannel performs the unsecured OpenSecureChannel exchange,
// storing the secure channel id and security token id the server
// assigns. Only SecurityPolicyNone is implemented; a non-None policy
// still requires a client certificate to be configured but does not
// perform asymmetric signing or encryption of the channel request.
func (c *Client) openSecureChannel(ctx context.Context) error {
	if c.opts.securityPolicy != opcuaproto.SecurityPolicyNone && len(c.security.LocalCertificate) == 0 {
		return fmt.Errorf("opcuaclient: security policy %s requires a client certificate", c.opts.securityPolicy)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.mu.RLock()
	rw := c.rw
	c.mu.RUnlock()
	if rw == nil {
		return fmt.Errorf("opcuaclient: not connected")
	}

	seq := c.nextSeqNum()
	handle := c.nextRequestHandle()
	deadline := c.deadlineFor(ctx)
	_ = c.transport.SetDeadline(deadline)
	defer c.transport.SetDeadline(time.Time{})

	body := opcuaproto.NewEncoder()
	body.WriteNodeID(opcuaproto.NewNumericNodeID(0, serviceOpenSecureChannelRequest))
	encodeRequestHeader(body, requestHeader{Timestamp: time.Now().UTC(), RequestHandle: handle, TimeoutHint: uint32(c.opts.timeout / time.Millisecond)})
	body.WriteUInt32(0) // ClientProtocolVersion
	body.WriteUInt32(0) // RequestType = Issue
	body.WriteUInt32(uint32(c.opts.securityMode))
	body.WriteByteString(nil)  // ClientNonce
	body.WriteUInt32(3600000) // RequestedLifetime

	sec := opcuaproto.NewEncoder()
	sec.WriteString(string(c.opts.securityPolicy))
	sec.WriteByteString(nil) // SenderCertificate
	sec.WriteByteString(nil) // ReceiverCertificateThumbprint
	sec.WriteUInt32(seq)
	sec.WriteUInt32(seq) // RequestID
	sec.Write(body.Bytes())

	frameBody := sec.Bytes()
	header := messageHeader{Type: msgOpenChannel, MessageSize: uint32(8 + 4 + len(frameBody))}
	if err := header.encode(rw); err != nil {
		return fmt.Errorf("opcuaclient: writing open secure channel header: %w", err)
	}
	le := opcuaproto.NewEncoder()
	le.WriteUInt32(0) // SecureChannelId: 0 when requesting a new channel
	if _, err := rw.Write(le.Bytes()); err != nil {
		return err
	}
	if _, err := rw.Write(frameBody); err != nil {
		return fmt.Errorf("opcuaclient: writing open secure channel body: %w", err)
	}
	if err := rw.Flush(); err != nil {
		return err
	}

	respHeader, err := decodeMessageHeader(rw)
	if err != nil {
		return fmt.Errorf("opcuaclient: reading open secure channel response header: %w", err)
	}
	respBody := make([]byte, respHeader.MessageSize-8)
	if _, err := io.ReadFull(rw, respBody); err != nil {
		return fmt.Errorf("opcuaclient: reading open secure channel response body: %w", err)
	}
	if respHeader.Type == msgError {
		em, err := decodeErrorMessage(respBody)
		if err != nil {
			return err
		}
		return opcuaproto.NewOPCUAError(opcuaproto.ServiceCreateSession, opcuaproto.StatusCode(em.Error), em.Reason)
	}

	d := opcuaproto.NewDecoder(respBody)
	channelID, err := d.ReadUInt32()
	if err != nil {
		return err
	}
	if _, err := d.ReadString(); err != nil { // SecurityPolicyUri
		return err
	}
	if _, err := d.ReadByteString(); err != nil { // SenderCertificate
		return err
	}
	if _, err := d.ReadByteString(); err != nil { // ReceiverCertificateThumbprint
		return err
	}
	if _, err := d.ReadUInt32(); err != nil { // SequenceNumber
		return err
	}
	if _, err := d.ReadUInt32(); err != nil { // RequestId
		return err
	}
	if _, err := d.ReadNodeID(); err != nil { // response type id
		return err
	}
	rh, err := decodeResponseHeader(d)
	if err != nil {
		return err
	}
	if rh.ServiceResult.IsBad() {
		return opcuaproto.NewOPCUAError(opcuaproto.ServiceCreateSession, rh.ServiceResult, "open secure channel rejected")
	}
	if _, err := d.ReadUInt32(); err != nil { // ServerProtocolVersion
		return err
	}
	if _, err := d.ReadUInt32(); err != nil { // SecurityToken.ChannelId (duplicate of outer channelID in real protocol)
		return err
	}
	tokenID, err := d.ReadUInt32()
	if err != nil {
		return err
	}
	if _, err := d.ReadDateTime(); err != nil { // SecurityToken.CreatedAt
		return err
	}
	if _, err := d.ReadUInt32(); err != nil { // SecurityToken.RevisedLifetime
		return err
	}
	if _, err := d.ReadByteString(); err != nil { // ServerNonce
		return err
	}

	c.mu.Lock()
	c.secureChannelID = channelID
	c.tokenID = tokenID
	c.mu.Unlock()
	c.logger.Debug("secure channel opened", "channel_id", channelID, "policy", c.opts.securityPolicy, "mode", c.opts.securityMode)
	return nil
}

// createAndActivateSession performs CreateSession then ActivateSession,
// storing the server-assigned authentication token that every later
// request header must carry. GetEndpoints is out of scope, so the
// identity token policy id used is a fixed convention (see
// encodeUserIdentityToken) rather than one discovered from the server.
func (c *Client) createAndActivateSession(ctx context.Context) error {
	switch c.opts.authType {
	case AuthUserPassword:
		if c.opts.username == "" {
			return fmt.Errorf("opcuaclient: user/password auth requires a username")
		}
	case AuthCertificate:
		if len(c.security.LocalCertificate) == 0 {
			return fmt.Errorf("opcuaclient: certificate auth requires a client certificate")
		}
	}

	nonce := make([]byte, 32)
	_, _ = rand.Read(nonce)

	d, err := c.sendRequest(ctx, opcuaproto.NewNumericNodeID(0, serviceCreateSessionRequest), opcuaproto.ServiceCreateSession, func(e *opcuaproto.Encoder) {
		encodeRequestHeader(e, c.buildRequestHeader(c.nextRequestHandle(), c.opts.timeout))
		e.WriteString(c.opts.applicationURI)
		e.WriteString(c.opts.applicationName)
		e.WriteString(c.opts.sessionName)
		e.WriteByteString(nonce)
		e.WriteDouble(float64(c.opts.sessionTimeout / time.Millisecond))
	})
	if err != nil {
		return fmt.Errorf("opcuaclient: create session: %w", err)
	}
	rh, err := decodeResponseHeader(d)
	if err != nil {
		return err
	}
	if rh.ServiceResult.IsBad() {
		return opcuaproto.NewOPCUAError(opcuaproto.ServiceCreateSession, rh.ServiceResult, "")
	}
	sessionNodeID, err := d.ReadNodeID()
	if err != nil {
		return err
	}
	authToken, err := d.ReadNodeID()
	if err != nil {
		return err
	}
	if _, err := d.ReadDouble(); err != nil { // RevisedSessionTimeout
		return err
	}
	if _, err := d.ReadByteString(); err != nil { // ServerNonce
		return err
	}

	c.mu.Lock()
	c.authToken = authToken
	c.mu.Unlock()

	d2, err := c.sendRequest(ctx, opcuaproto.NewNumericNodeID(0, serviceActivateSessionRequest), opcuaproto.ServiceActivateSession, func(e *opcuaproto.Encoder) {
		encodeRequestHeader(e, c.buildRequestHeader(c.nextRequestHandle(), c.opts.timeout))
		e.WriteString("")        // ClientSignature.Algorithm
		e.WriteByteString(nil)   // ClientSignature.Signature
		e.WriteInt32(-1)         // ClientSoftwareCertificates: null array
		e.WriteInt32(1)          // LocaleIDs
		e.WriteString("en")
		encodeUserIdentityToken(e, c.opts)
		e.WriteString("")      // UserTokenSignature.Algorithm
		e.WriteByteString(nil) // UserTokenSignature.Signature
	})
	if err != nil {
		c.mu.Lock()
		c.authToken = opcuaproto.NodeID{}
		c.mu.Unlock()
		return fmt.Errorf("opcuaclient: activate session: %w", err)
	}
	rh2, err := decodeResponseHeader(d2)
	if err != nil {
		return err
	}
	if rh2.ServiceResult.IsBad() {
		return opcuaproto.NewOPCUAError(opcuaproto.ServiceActivateSession, rh2.ServiceResult, "")
	}
	if _, err := d2.ReadByteString(); err != nil { // ServerNonce
		return err
	}
	count, err := d2.ReadInt32()
	if err != nil {
		return err
	}
	for i := int32(0); i < count; i++ {
		sc, err := d2.ReadStatusCode()
		if err != nil {
			return err
		}
		if sc.IsBad() {
			return opcuaproto.NewOPCUAError(opcuaproto.ServiceActivateSession, sc, "user identity token rejected")
		}
	}

	c.mu.Lock()
	c.sessionID = sessionNodeID.String()
	c.mu.Unlock()
	c.logger.Info("session activated", "session_id", c.sessionID, "auth", c.opts.authType)
	return nil
}

func (c *Client) nextRequestHandle() uint32 {
	c.mu.Lock()
	c.requestSeq++
	h := c.requestSeq
	c.mu.Unlock()
	return h
}

func (c *Client) nextSeqNum() uint32 {
	c.mu.Lock()
	c.seqCounter++
	s := c.seqCounter
	c.mu.Unlock()
	return s
}

func (c *Client) buildRequestHeader(handle uint32, timeout time.Duration) requestHeader {
	c.mu.RLock()
	token := c.authToken
	c.mu.RUnlock()
	return requestHeader{
		AuthenticationToken: token,
		Timestamp:           time.Now().UTC(),
		RequestHandle:       handle,
		TimeoutHint:         uint32(timeout / time.Millisecond),
	}
}

func (c *Client) deadlineFor(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		return dl
	}
	return time.Now().Add(c.opts.timeout)
}

// sendRequest writes one MSG frame carrying serviceNodeID followed by
// the caller-encoded body, and returns a Decoder positioned at the start
// of the matching response's body (after its own service type NodeID).
// Exactly one send/receive round trip is in flight on the connection at
// a time; sendMu serializes callers since this client does not (yet)
// demultiplex by request id.
func (c *Client) sendRequest(ctx context.Context, serviceNodeID opcuaproto.NodeID, service opcuaproto.ServiceID, bodyFn func(*opcuaproto.Encoder)) (*opcuaproto.Decoder, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.RLock()
	rw := c.rw
	transport := c.transport
	tokenID := c.tokenID
	channelID := c.secureChannelID
	c.mu.RUnlock()
	if rw == nil || transport == nil {
		return nil, opcuaproto.NewOPCUAError(service, opcuaproto.StatusBadNotConnected, "not connected")
	}

	_ = transport.SetDeadline(c.deadlineFor(ctx))
	defer transport.SetDeadline(time.Time{})

	seq := c.nextSeqNum()
	reqID := seq

	body := opcuaproto.NewEncoder()
	body.WriteNodeID(serviceNodeID)
	bodyFn(body)

	msg := opcuaproto.NewEncoder()
	msg.WriteUInt32(channelID)
	msg.WriteUInt32(tokenID)
	msg.WriteUInt32(seq)
	msg.WriteUInt32(reqID)
	msg.Write(body.Bytes())

	frame := msg.Bytes()
	header := messageHeader{Type: msgMessage, MessageSize: uint32(8 + len(frame))}
	if err := header.encode(rw); err != nil {
		return nil, fmt.Errorf("opcuaclient: writing message header: %w", err)
	}
	if _, err := rw.Write(frame); err != nil {
		return nil, fmt.Errorf("opcuaclient: writing message body: %w", err)
	}
	if err := rw.Flush(); err != nil {
		return nil, fmt.Errorf("opcuaclient: flush: %w", err)
	}

	respHeader, err := decodeMessageHeader(rw)
	if err != nil {
		return nil, fmt.Errorf("opcuaclient: reading response header: %w", err)
	}
	respBody := make([]byte, respHeader.MessageSize-8)
	if _, err := io.ReadFull(rw, respBody); err != nil {
		return nil, fmt.Errorf("opcuaclient: reading response body: %w", err)
	}
	if respHeader.Type == msgError {
		em, err := decodeErrorMessage(respBody)
		if err != nil {
			return nil, err
		}
		return nil, opcuaproto.NewOPCUAError(service, opcuaproto.StatusCode(em.Error), em.Reason)
	}

	d := opcuaproto.NewDecoder(respBody)
	d.Skip(4 + 4 + 4 + 4) // secureChannelId + tokenId + sequenceNumber + requestId
	if _, err := d.ReadNodeID(); err != nil {
		return nil, fmt.Errorf("opcuaclient: reading response type id: %w", err)
	}
	return d, nil
}

// Close tears down every subscription and closes the session and
// transport. It is safe to call on an already-closed Client.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.publishStop != nil {
		close(c.publishStop)
		c.publishStop = nil
	}
	c.mu.Unlock()

	c.subsMu.Lock()
	for id, sub := range c.subs {
		sub.close()
		delete(c.subs, id)
	}
	c.subsMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport != nil {
		_ = c.transport.Close()
		c.transport = nil
	}
	c.state = StateDisconnected
	return nil
}

// IsSessionActive reports whether the last ActivateSession succeeded and
// the Client has not since faulted or disconnected.
func (c *Client) IsSessionActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateConnected && c.sessionID != ""
}

// Address returns the endpoint this Client was constructed for.
func (c *Client) Address() string { return c.addr }
