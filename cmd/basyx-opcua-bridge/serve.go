package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hadijannat/basyx-opcua-bridge/internal/aasclient"
	"github.com/hadijannat/basyx-opcua-bridge/internal/audit"
	"github.com/hadijannat/basyx-opcua-bridge/internal/config"
	"github.com/hadijannat/basyx-opcua-bridge/internal/connpool"
	"github.com/hadijannat/basyx-opcua-bridge/internal/controller"
	"github.com/hadijannat/basyx-opcua-bridge/internal/loopcache"
	"github.com/hadijannat/basyx-opcua-bridge/internal/mapping"
	"github.com/hadijannat/basyx-opcua-bridge/internal/monitor"
	"github.com/hadijannat/basyx-opcua-bridge/internal/syncmanager"
	"github.com/hadijannat/basyx-opcua-bridge/opcuaclient"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bridge and run until interrupted",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received interrupt, shutting down")
		cancel()
	}()

	if err := preflightOpcUaEndpoints(ctx, cfg); err != nil {
		return err
	}

	registry, err := mapping.NewRegistry(cfg.MappingRules())
	if err != nil {
		return err
	}

	aasCfg := cfg.AasClientConfig()
	aasCfg.PollTargets = config.PollTargetsFor(registry)
	aasCfg.Logger = logger
	aasClient := aasclient.New(aasCfg)

	if err := preflightAasRepository(ctx, aasClient); err != nil {
		return err
	}

	endpoints, err := cfg.ConnpoolEndpoints()
	if err != nil {
		return err
	}
	pool := connpool.New(endpoints, connpool.WithSessionWaitTimeout(10*time.Second))

	cache := loopcache.New(
		cfg.Aas.Events.DedupMaxEntries,
		time.Duration(cfg.Aas.Events.DedupTTLSeconds)*time.Second,
	)

	var sinks []audit.Sink
	if cfg.Observability.AuditEnabled && len(cfg.Observability.AuditKafkaBrokers) > 0 {
		kafkaSink := audit.NewKafkaSink(cfg.Observability.AuditKafkaBrokers, cfg.Observability.AuditKafkaTopic)
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
	}
	recorder := audit.NewRecorder(logger, sinks...)

	mon := monitor.New(registry, pool, aasClient, cache, logger)
	ctl := controller.New(registry, pool, cache, recorder, logger)

	mgr := syncmanager.New(registry, aasClient, pool, mon, ctl, cfg.SyncManagerConfig())

	if err := mgr.Start(ctx); err != nil {
		return err
	}

	logger.Info("bridge started")
	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := mgr.Stop(stopCtx); err != nil {
		logger.Error("shutdown did not complete cleanly", "error", err)
	}
	return nil
}

// preflightOpcUaEndpoints attempts one synchronous connect per
// configured endpoint before the Connection Pool's long-lived reconnect
// loop takes over, so that a permanently rejected credential aborts
// startup (exit code 2) instead of retrying forever in the background.
// Any other connect failure (the server is simply down right now) is
// logged and left for the pool to retry, per "no error causes the
// process to exit once start has returned success."
func preflightOpcUaEndpoints(ctx context.Context, cfg *config.BridgeConfig) error {
	for _, ep := range cfg.OpcUA.Endpoints {
		policy, _ := config.ParseSecurityPolicy(ep.SecurityPolicy)
		mode, _ := config.ParseSecurityMode(ep.SecurityMode)

		opts := []opcuaclient.Option{
			opcuaclient.WithSecurityPolicy(policy),
			opcuaclient.WithSecurityMode(mode),
		}
		timeout := 5 * time.Second
		if ep.TimeoutMs > 0 {
			timeout = time.Duration(ep.TimeoutMs) * time.Millisecond
		}
		opts = append(opts, opcuaclient.WithTimeout(timeout))
		if ep.CertPath != "" {
			certPEM, keyPEM, err := readCertPair(ep.CertPath, ep.KeyPath)
			if err != nil {
				return err
			}
			opts = append(opts, opcuaclient.WithCertificate(certPEM, keyPEM))
		}
		if ep.Username != "" {
			opts = append(opts, opcuaclient.WithUserPasswordAuth(ep.Username, ep.Password))
		}

		addr := trimOpcScheme(ep.URL)
		client, err := opcuaclient.NewClient(addr, opts...)
		if err != nil {
			slog.Default().Warn("preflight: could not construct opc ua client, deferring to pool", "endpoint", ep.Name, "error", err)
			continue
		}
		connectCtx, connectCancel := context.WithTimeout(ctx, timeout)
		err = client.ConnectAndActivateSession(connectCtx)
		connectCancel()
		_ = client.Close(context.Background())
		if err == nil {
			continue
		}
		if opcuaErr, ok := asOPCUAAuthError(err); ok {
			return &fatalOpcUaAuthError{Endpoint: ep.Name, Err: opcuaErr}
		}
		slog.Default().Warn("preflight: endpoint not reachable yet, pool will retry", "endpoint", ep.Name, "error", err)
	}
	return nil
}

func readCertPair(certPath, keyPath string) ([]byte, []byte, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading certificate %s: %w", certPath, err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading private key %s: %w", keyPath, err)
	}
	return certPEM, keyPEM, nil
}

// preflightAasRepository probes the AAS repository once before starting
// event ingress; a 401/403 aborts startup (exit code 3), anything else
// (including a 5xx or connection refused) is left for the Sync
// Manager's ongoing health probe to keep reporting as unhealthy.
func preflightAasRepository(ctx context.Context, client *aasclient.Client) error {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err := client.CheckAuth(probeCtx)
	if err == nil {
		return nil
	}
	if httpErr, ok := asAasAuthError(err); ok {
		return &fatalAasAuthError{Err: httpErr}
	}
	slog.Default().Warn("preflight: aas repository not reachable yet, will keep probing", "error", err)
	return nil
}
