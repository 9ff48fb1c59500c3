// Package connpool maintains one OPC UA Session per configured endpoint,
// with automatic reconnect, exponential backoff and transparent
// subscription restoration across reconnects.
package connpool

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/hadijannat/basyx-opcua-bridge/opcuaclient"
	"github.com/hadijannat/basyx-opcua-bridge/opcuaproto"
)

// SessionState mirrors the per-endpoint lifecycle named in the data
// model: Disconnected -> Connecting -> Connected -> Faulted -> Connecting
// ..., with Stopping -> Disconnected terminal.
type SessionState int

const (
	Disconnected SessionState = iota
	Connecting
	Connected
	Faulted
	Stopping
)

func (s SessionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Faulted:
		return "Faulted"
	case Stopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
	jitterFraction = 0.25
)

// EndpointConfig describes one OPC UA endpoint the pool maintains a
// Session for.
type EndpointConfig struct {
	Name           string
	URL            string
	SecurityPolicy opcuaproto.SecurityPolicy
	SecurityMode   opcuaproto.MessageSecurityMode
	CertPEM        []byte
	KeyPEM         []byte
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

func (e EndpointConfig) clientOptions() []opcuaclient.Option {
	opts := []opcuaclient.Option{
		opcuaclient.WithSecurityPolicy(e.SecurityPolicy),
	}
	if e.SecurityMode != opcuaproto.MessageSecurityModeInvalid {
		opts = append(opts, opcuaclient.WithSecurityMode(e.SecurityMode))
	}
	if e.ConnectTimeout > 0 {
		opts = append(opts, opcuaclient.WithTimeout(e.ConnectTimeout))
	}
	if len(e.CertPEM) > 0 {
		opts = append(opts, opcuaclient.WithCertificate(e.CertPEM, e.KeyPEM))
	}
	if e.Username != "" {
		opts = append(opts, opcuaclient.WithUserPasswordAuth(e.Username, e.Password))
	}
	return opts
}

// subscriptionSpec is a registered subscription request, replayed against
// a fresh Client every time the session reconnects.
type subscriptionSpec struct {
	id       int
	items    []opcuaproto.MonitoredItemCreateRequest
	onChange func(opcuaproto.NodeID, opcuaproto.DataValue)
	opts     []opcuaclient.SubscriptionOption
}

// session owns the reconnect loop and current Client for one endpoint.
type session struct {
	cfg    EndpointConfig
	logger *slog.Logger

	mu          sync.RWMutex
	state       SessionState
	client      *opcuaclient.Client
	backoff     time.Duration
	reconnects  int64
	waiters     []chan struct{}

	specsMu sync.Mutex
	specs   []*subscriptionSpec
	nextSub int

	stopCh chan struct{}
	doneCh chan struct{}
}

func newSession(cfg EndpointConfig, logger *slog.Logger) *session {
	return &session{
		cfg:     cfg,
		logger:  logger.With("endpoint", cfg.Name),
		state:   Disconnected,
		backoff: initialBackoff,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

func (s *session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	var waiters []chan struct{}
	if st == Connected {
		waiters, s.waiters = s.waiters, nil
	}
	s.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

func (s *session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *session) currentClient() *opcuaclient.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// waitConnected blocks until the session reaches Connected or ctx is
// cancelled, returning the live client or an error.
func (s *session) waitConnected(ctx context.Context) (*opcuaclient.Client, error) {
	s.mu.Lock()
	if s.state == Connected {
		c := s.client
		s.mu.Unlock()
		return c, nil
	}
	if s.state == Stopping {
		s.mu.Unlock()
		return nil, ErrUnavailable
	}
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	select {
	case <-ch:
		return s.currentClient(), nil
	case <-ctx.Done():
		return nil, ErrUnavailable
	case <-s.stopCh:
		return nil, ErrUnavailable
	}
}

// run is the per-session reconnect loop: connect, register subscriptions,
// wait for the client to fault or the pool to stop, repeat with backoff.
func (s *session) run() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		s.setState(Connecting)
		client, err := opcuaclient.NewClient(s.cfg.URL, s.cfg.clientOptions()...)
		if err != nil {
			s.logger.Error("failed to construct client", "error", err)
			if s.sleepBackoff() {
				return
			}
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), connectDeadline(s.cfg))
		err = client.ConnectAndActivateSession(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("connect failed, backing off", "error", err, "reconnects", s.incrementReconnects())
			if s.sleepBackoff() {
				return
			}
			continue
		}

		s.mu.Lock()
		s.client = client
		s.backoff = initialBackoff
		s.mu.Unlock()
		s.setState(Connected)
		s.logger.Info("session connected")

		s.resubscribeAll(client)

		s.waitUntilFaultedOrStopped(client)
		if s.State() == Stopping {
			return
		}
		s.setState(Faulted)
		s.logger.Warn("session faulted, will reconnect")
	}
}

func connectDeadline(cfg EndpointConfig) time.Duration {
	if cfg.ConnectTimeout > 0 {
		return cfg.ConnectTimeout
	}
	return 5 * time.Second
}

func (s *session) incrementReconnects() int64 {
	s.mu.Lock()
	s.reconnects++
	n := s.reconnects
	s.mu.Unlock()
	return n
}

// sleepBackoff waits the current backoff duration (with jitter), doubling
// it for next time up to maxBackoff. Returns true if the session was
// stopped while sleeping.
func (s *session) sleepBackoff() bool {
	s.mu.Lock()
	d := s.backoff
	jitter := d.Seconds() * jitterFraction * (rand.Float64()*2 - 1)
	wait := d + time.Duration(jitter*float64(time.Second))
	if wait < 0 {
		wait = d
	}
	next := d * 2
	if next > maxBackoff {
		next = maxBackoff
	}
	s.backoff = next
	s.mu.Unlock()

	select {
	case <-time.After(wait):
		return false
	case <-s.stopCh:
		return true
	}
}

// waitUntilFaultedOrStopped blocks until the underlying client disconnects
// or the pool signals shutdown. There is no push notification from the
// client on fault, so this polls IsConnected on a short interval, mirroring
// the health-check cadence used elsewhere in the pool.
func (s *session) waitUntilFaultedOrStopped(client *opcuaclient.Client) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			s.setState(Stopping)
			_ = client.Close(context.Background())
			return
		case <-ticker.C:
			if !client.IsConnected() {
				return
			}
		}
	}
}

func (s *session) stop() {
	close(s.stopCh)
	<-s.doneCh
	if c := s.currentClient(); c != nil {
		_ = c.Close(context.Background())
	}
	s.setState(Disconnected)
}
