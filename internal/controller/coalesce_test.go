package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hadijannat/basyx-opcua-bridge/internal/aasclient"
	"github.com/hadijannat/basyx-opcua-bridge/internal/mapping"
)

func TestWriteCoalescerLaterValueWins(t *testing.T) {
	w := newWriteCoalescer()
	el := mapping.ElementRef{SubmodelID: "sm1", IDShortPath: "Setpoint"}

	started := make(chan float64, 1)
	release := make(chan struct{})
	var processed []float64

	process := func(ev aasclient.ElementChanged) {
		processed = append(processed, ev.Value.(float64))
		started <- ev.Value.(float64)
		<-release
	}

	w.submit(el, aasclient.ElementChanged{Value: 1.0}, process)
	require.Equal(t, 1.0, <-started)

	w.submit(el, aasclient.ElementChanged{Value: 2.0}, process)
	w.submit(el, aasclient.ElementChanged{Value: 3.0}, process)

	release <- struct{}{}
	require.Equal(t, 3.0, <-started)
	release <- struct{}{}

	require.Equal(t, []float64{1.0, 3.0}, processed)
}

func TestWriteCoalescerDistinctElementsRunIndependently(t *testing.T) {
	w := newWriteCoalescer()
	elA := mapping.ElementRef{SubmodelID: "sm1", IDShortPath: "A"}
	elB := mapping.ElementRef{SubmodelID: "sm1", IDShortPath: "B"}

	done := make(chan string, 2)
	process := func(ev aasclient.ElementChanged) {
		done <- ev.Value.(string)
	}

	w.submit(elA, aasclient.ElementChanged{Value: "a"}, process)
	w.submit(elB, aasclient.ElementChanged{Value: "b"}, process)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case v := <-done:
			seen[v] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for both elements to process")
		}
	}
	require.True(t, seen["a"])
	require.True(t, seen["b"])
}
