package aasclient

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPollOnceDiffingSuppressesRepeats(t *testing.T) {
	current := "10"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(current))
	}))
	defer srv.Close()

	rest := newRestClient(srv.URL, false, false, false)
	out := make(chan ElementChanged, 4)
	p := newPoller(rest, time.Hour, []PollTarget{{SubmodelID: "sm1", IDShortPath: "Temperature"}}, slog.Default(), out)

	p.pollOnce()
	require.Len(t, out, 1)

	p.pollOnce()
	require.Len(t, out, 1, "unchanged value must not be re-emitted")

	current = "20"
	p.pollOnce()
	require.Len(t, out, 2)
}

func TestPollRunStopsOnContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("1"))
	}))
	defer srv.Close()

	rest := newRestClient(srv.URL, false, false, false)
	out := make(chan ElementChanged, 16)
	p := newPoller(rest, time.Millisecond, []PollTarget{{SubmodelID: "sm1", IDShortPath: "X"}}, slog.Default(), out)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after context cancel")
	}
}
