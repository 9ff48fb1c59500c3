package connpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hadijannat/basyx-opcua-bridge/opcuaclient"
	"github.com/hadijannat/basyx-opcua-bridge/opcuaproto"
)

// SubscriptionSpec lists the nodes one logical subscription should
// monitor, along with the callback invoked for every DataChange.
type SubscriptionSpec struct {
	Nodes    []SubscriptionItem
	OnChange func(opcuaproto.NodeID, opcuaproto.DataValue)
}

// SubscriptionItem names one monitored node and its sampling parameters.
type SubscriptionItem struct {
	NodeID           opcuaproto.NodeID
	SamplingInterval time.Duration
	QueueSize        uint32
}

// SubscriptionHandle lets a caller later reason about a submitted
// subscription; currently opaque, reserved for future cancellation.
type SubscriptionHandle struct {
	Endpoint string
	id       int
}

// Pool maintains one Session per configured endpoint.
type Pool struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	sessions map[string]*session

	withSessionTimeout time.Duration
	writeTimeout       time.Duration
}

// PoolOption configures a Pool at construction.
type PoolOption func(*Pool)

func WithLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithSessionWaitTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.withSessionTimeout = d }
}

func WithWriteTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.writeTimeout = d }
}

// New constructs a Pool for the given endpoints. Call Start to begin
// connecting.
func New(endpoints []EndpointConfig, opts ...PoolOption) *Pool {
	p := &Pool{
		logger:             slog.Default(),
		sessions:           make(map[string]*session),
		withSessionTimeout: 5 * time.Second,
		writeTimeout:       5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, ep := range endpoints {
		p.sessions[ep.Name] = newSession(ep, p.logger)
	}
	return p
}

// Start creates every Session in Connecting state and begins its
// reconnect loop. It returns once all loops have been launched; it does
// not wait for connections to succeed.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.sessions) == 0 {
		return fmt.Errorf("connpool: no endpoints configured")
	}
	for _, s := range p.sessions {
		go s.run()
	}
	return nil
}

// Stop drains every session: closes subscriptions, cancels the reconnect
// loop and closes the underlying client.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.RLock()
	sessions := make([]*session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *session) {
			defer wg.Done()
			s.stop()
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WithSession provides a Connected client to fn, waiting up to the pool's
// configured timeout for the named session to become ready.
func (p *Pool) WithSession(ctx context.Context, endpoint string, fn func(*opcuaclient.Client) error) error {
	s, err := p.session(endpoint)
	if err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, p.withSessionTimeout)
	defer cancel()
	client, err := s.waitConnected(waitCtx)
	if err != nil {
		return ErrUnavailable
	}
	return fn(client)
}

// SubmitSubscription registers spec against the named endpoint's session.
// If the session is already Connected, the subscription is created
// immediately; in any case it is replayed on every subsequent reconnect.
func (p *Pool) SubmitSubscription(ctx context.Context, endpoint string, spec SubscriptionSpec) (SubscriptionHandle, error) {
	s, err := p.session(endpoint)
	if err != nil {
		return SubscriptionHandle{}, err
	}

	items := make([]opcuaproto.MonitoredItemCreateRequest, len(spec.Nodes))
	for i, n := range spec.Nodes {
		items[i] = opcuaproto.MonitoredItemCreateRequest{
			ItemToMonitor: opcuaproto.ReadValueID{NodeID: n.NodeID, AttributeID: opcuaproto.AttributeValue},
			MonitoringMode: opcuaproto.MonitoringReporting,
			Parameters: opcuaproto.MonitoringParameters{
				SamplingInterval: n.SamplingInterval,
				QueueSize:        n.QueueSize,
				DiscardOldest:    true,
			},
		}
	}

	s.specsMu.Lock()
	s.nextSub++
	id := s.nextSub
	registered := &subscriptionSpec{id: id, items: items, onChange: spec.OnChange}
	s.specs = append(s.specs, registered)
	s.specsMu.Unlock()

	if client := s.currentClient(); client != nil && s.State() == Connected {
		if err := createOneSubscription(client, registered, s.logger); err != nil {
			s.logger.Warn("immediate subscription create failed, will retry on next reconnect", "error", err)
		}
	}
	return SubscriptionHandle{Endpoint: endpoint, id: id}, nil
}

// WriteValue writes variant to one node on the named endpoint's session.
func (p *Pool) WriteValue(ctx context.Context, endpoint string, nodeID opcuaproto.NodeID, variant opcuaproto.Variant) error {
	s, err := p.session(endpoint)
	if err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, p.withSessionTimeout)
	defer cancel()
	client, err := s.waitConnected(waitCtx)
	if err != nil {
		return ErrUnavailable
	}

	writeCtx, writeCancel := context.WithTimeout(ctx, p.writeTimeout)
	defer writeCancel()
	status, err := client.WriteValue(writeCtx, nodeID, variant)
	if err != nil {
		return wrapOpcError(endpoint, err)
	}
	if status.IsBad() {
		return wrapOpcError(endpoint, opcuaproto.NewOPCUAError(opcuaproto.ServiceWrite, status, ""))
	}
	return nil
}

func (p *Pool) session(endpoint string) (*session, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sessions[endpoint]
	if !ok {
		return nil, fmt.Errorf("connpool: unknown endpoint %q", endpoint)
	}
	return s, nil
}

// SessionState reports the current state of the named endpoint's session,
// used by the Sync Manager's health check.
func (p *Pool) SessionState(endpoint string) (SessionState, error) {
	s, err := p.session(endpoint)
	if err != nil {
		return Disconnected, err
	}
	return s.State(), nil
}

// Ready reports whether every configured session is Connected.
func (p *Pool) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.sessions {
		if s.State() != Connected {
			return false
		}
	}
	return true
}

func (s *session) resubscribeAll(client *opcuaclient.Client) {
	s.specsMu.Lock()
	specs := append([]*subscriptionSpec(nil), s.specs...)
	s.specsMu.Unlock()

	for _, spec := range specs {
		if err := createOneSubscription(client, spec, s.logger); err != nil {
			s.logger.Error("failed to restore subscription after reconnect", "error", err)
		}
	}
}

func createOneSubscription(client *opcuaclient.Client, spec *subscriptionSpec, logger *slog.Logger) error {
	ctx := context.Background()
	sub, err := client.CreateSubscription(ctx)
	if err != nil {
		return err
	}
	results, err := sub.CreateMonitoredItems(ctx, spec.items)
	if err != nil {
		return err
	}
	idToNode := make(map[uint32]opcuaproto.NodeID, len(spec.items))
	for i, item := range spec.items {
		if results[i].Status.IsGood() {
			idToNode[results[i].MonitoredItemID] = item.ItemToMonitor.NodeID
		} else {
			logger.Warn("monitored item create failed", "node_id", item.ItemToMonitor.NodeID.String(), "status", results[i].Status)
		}
	}
	go func() {
		for notif := range sub.Notifications() {
			node, ok := idToNode[notif.MonitoredItemID]
			if !ok {
				continue
			}
			if spec.onChange != nil {
				spec.onChange(node, notif.Value)
			}
		}
	}()
	return nil
}
