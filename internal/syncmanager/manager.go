// Package syncmanager owns the bridge's startup and shutdown ordering
// and exposes the aggregate health signal consumed by the process's
// readiness probe.
package syncmanager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hadijannat/basyx-opcua-bridge/internal/aasclient"
	"github.com/hadijannat/basyx-opcua-bridge/internal/connpool"
	"github.com/hadijannat/basyx-opcua-bridge/internal/controller"
	"github.com/hadijannat/basyx-opcua-bridge/internal/mapping"
	"github.com/hadijannat/basyx-opcua-bridge/internal/monitor"
)

// Config carries the Sync Manager's own timing knobs; everything else
// it coordinates is constructed and injected as already-configured
// components.
type Config struct {
	// Endpoints lists every OPC UA endpoint name the Monitor should
	// subscribe across.
	Endpoints []string
	// PollInterval is aas.poll_interval_seconds; besides pacing the AAS
	// Client's fallback poller it also paces the health probe, per
	// Healthy's "2x poll interval" staleness window.
	PollInterval time.Duration
	// ShutdownGrace bounds how long Stop waits for in-flight work
	// before forcing teardown. Defaults to 5s.
	ShutdownGrace time.Duration
	Logger        *slog.Logger
}

// Manager sequences startup as Mapping Registry -> AAS Client ->
// Connection Pool -> Monitor/Controller. On shutdown it waits for its
// own loops, then stops the Connection Pool and AAS Client concurrently,
// each phase bounded by the shutdown grace period; the Pool and AAS
// Client are not stopped one after the other in reverse startup order.
type Manager struct {
	registry   *mapping.Registry
	aas        *aasclient.Client
	pool       *connpool.Pool
	monitor    *monitor.Monitor
	controller *controller.Controller
	cfg        Config
	logger     *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	probeMu     sync.Mutex
	lastProbeOK bool
	lastProbeAt time.Time
}

// New assembles a Manager from its already-constructed components. The
// Mapping Registry has no start/stop of its own: it is immutable once
// resolved, so "initializing" it is simply building it before New is
// called.
func New(registry *mapping.Registry, aas *aasclient.Client, pool *connpool.Pool, mon *monitor.Monitor, ctl *controller.Controller, cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry:   registry,
		aas:        aas,
		pool:       pool,
		monitor:    mon,
		controller: ctl,
		cfg:        cfg,
		logger:     logger,
	}
}

// Start brings every component up in dependency order and returns once
// each step's own Start call has returned; it does not wait for OPC UA
// sessions or AAS ingress to actually become ready, only for them to
// begin trying.
func (m *Manager) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	if err := m.aas.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("syncmanager: start aas client: %w", err)
	}
	if err := m.pool.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("syncmanager: start connection pool: %w", err)
	}
	if err := m.monitor.Start(runCtx, m.cfg.Endpoints); err != nil {
		cancel()
		return fmt.Errorf("syncmanager: start monitor: %w", err)
	}

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.controller.Run(runCtx, m.aas.Events())
	}()
	go func() {
		defer m.wg.Done()
		m.probeLoop(runCtx)
	}()

	m.logger.Info("sync manager started", "endpoints", m.cfg.Endpoints)
	return nil
}

// Stop cancels the Controller and health-probe loops, waits up to
// ShutdownGrace for them to exit, then tears down the Connection Pool
// and AAS Client concurrently (they no longer depend on each other
// once nothing is consuming their output), each bounded by the same
// grace period.
func (m *Manager) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}

	grace := m.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		m.logger.Warn("shutdown grace period elapsed before controller/probe loops exited")
	}

	stopCtx, stopCancel := context.WithTimeout(ctx, grace)
	defer stopCancel()

	g, gctx := errgroup.WithContext(stopCtx)
	g.Go(func() error {
		return m.pool.Stop(gctx)
	})
	g.Go(func() error {
		m.aas.Stop()
		return nil
	})
	return g.Wait()
}

// Healthy reports readiness per the Sync Manager contract: every
// configured endpoint Connected, and the AAS Client's last health
// probe successful within 2x the poll interval.
func (m *Manager) Healthy() bool {
	if !m.pool.Ready() {
		return false
	}
	m.probeMu.Lock()
	ok, at := m.lastProbeOK, m.lastProbeAt
	m.probeMu.Unlock()
	if !ok || at.IsZero() {
		return false
	}
	window := 2 * m.probeInterval()
	return time.Since(at) <= window
}

func (m *Manager) probeInterval() time.Duration {
	if m.cfg.PollInterval > 0 {
		return m.cfg.PollInterval
	}
	return 5 * time.Second
}

func (m *Manager) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(m.probeInterval())
	defer ticker.Stop()
	m.probeOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeOnce(ctx)
		}
	}
}

func (m *Manager) probeOnce(ctx context.Context) {
	err := m.aas.Probe(ctx)
	m.probeMu.Lock()
	m.lastProbeOK = err == nil
	m.lastProbeAt = time.Now()
	m.probeMu.Unlock()
	if err != nil {
		m.logger.Warn("aas health probe failed", "error", err)
	}
}
