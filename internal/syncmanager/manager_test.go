package syncmanager

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hadijannat/basyx-opcua-bridge/internal/aasclient"
	"github.com/hadijannat/basyx-opcua-bridge/internal/audit"
	"github.com/hadijannat/basyx-opcua-bridge/internal/connpool"
	"github.com/hadijannat/basyx-opcua-bridge/internal/controller"
	"github.com/hadijannat/basyx-opcua-bridge/internal/loopcache"
	"github.com/hadijannat/basyx-opcua-bridge/internal/mapping"
	"github.com/hadijannat/basyx-opcua-bridge/internal/monitor"
)

func TestHealthyRequiresFreshProbeAndReadyPool(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(ts.Close)

	pool := connpool.New(nil) // no endpoints: Ready() is vacuously true
	aas := aasclient.New(aasclient.Config{BaseURL: ts.URL})
	m := New(nil, aas, pool, nil, nil, Config{PollInterval: 50 * time.Millisecond})

	require.False(t, m.Healthy(), "no probe has run yet")

	m.probeOnce(context.Background())
	require.True(t, m.Healthy())
}

func TestHealthyFalseOnceProbeWindowElapses(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(ts.Close)

	pool := connpool.New(nil)
	aas := aasclient.New(aasclient.Config{BaseURL: ts.URL})
	m := New(nil, aas, pool, nil, nil, Config{PollInterval: 10 * time.Millisecond})

	m.probeOnce(context.Background())
	require.True(t, m.Healthy())

	m.probeMu.Lock()
	m.lastProbeAt = time.Now().Add(-time.Hour)
	m.probeMu.Unlock()

	require.False(t, m.Healthy())
}

func TestHealthyFalseWhenPoolNotReady(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(ts.Close)

	pool := connpool.New([]connpool.EndpointConfig{{Name: "plc1", URL: "127.0.0.1:1"}})
	aas := aasclient.New(aasclient.Config{BaseURL: ts.URL})
	m := New(nil, aas, pool, nil, nil, Config{PollInterval: 10 * time.Millisecond})

	m.probeOnce(context.Background())
	require.False(t, m.Healthy(), "an unconnected endpoint must keep the manager unhealthy regardless of probe state")
}

func TestStartAndStopCompleteWithoutBlocking(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(ts.Close)

	registry, err := mapping.NewRegistry(nil)
	require.NoError(t, err)

	aas := aasclient.New(aasclient.Config{BaseURL: ts.URL, PollInterval: 10 * time.Millisecond})
	pool := connpool.New(
		[]connpool.EndpointConfig{{Name: "plc1", URL: "127.0.0.1:1"}},
		connpool.WithSessionWaitTimeout(20*time.Millisecond),
	)
	cache := loopcache.New(64, time.Minute)
	mon := monitor.New(registry, pool, aas, cache, nil)
	recorder := audit.NewRecorder(nil)
	ctl := controller.New(registry, pool, cache, recorder, nil)

	m := New(registry, aas, pool, mon, ctl, Config{
		Endpoints:     []string{"plc1"},
		PollInterval:  10 * time.Millisecond,
		ShutdownGrace: 200 * time.Millisecond,
	})

	require.NoError(t, m.Start(context.Background()))

	stopped := make(chan error, 1)
	go func() { stopped <- m.Stop(context.Background()) }()

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return within the shutdown grace period")
	}
}
