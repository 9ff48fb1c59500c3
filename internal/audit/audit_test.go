package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hadijannat/basyx-opcua-bridge/internal/mapping"
)

type fakeSink struct {
	mu      sync.Mutex
	records []Record
	failN   int
}

func (f *fakeSink) Write(_ context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return errFakeSink
	}
	f.records = append(f.records, rec)
	return nil
}

var errFakeSink = errors.New("fake sink write failure")

func TestRecorderStampsTimestampAndCorrelationID(t *testing.T) {
	sink := &fakeSink{}
	rec := NewRecorder(slog.Default(), sink)

	el := mapping.ElementRef{SubmodelID: "sm1", IDShortPath: "Temperature"}
	node := mapping.NodeRef{EndpointName: "plc1", NodeID: "ns=2;s=Temp"}
	rec.Record(context.Background(), Accepted(DirectionAasToOpc, node, el, 20.0, 21.0, "operator1"))

	require.Len(t, sink.records, 1)
	got := sink.records[0]
	require.False(t, got.Timestamp.IsZero())
	require.NotEmpty(t, got.CorrelationID)
	require.Equal(t, OutcomeAccepted, got.Outcome)
	require.Equal(t, "operator1", got.UserID)
}

func TestRecorderFansOutToMultipleSinks(t *testing.T) {
	a, b := &fakeSink{}, &fakeSink{}
	rec := NewRecorder(slog.Default(), a, b)

	el := mapping.ElementRef{SubmodelID: "sm1", IDShortPath: "Temperature"}
	node := mapping.NodeRef{EndpointName: "plc1", NodeID: "ns=2;s=Temp"}
	rec.Record(context.Background(), Rejected(DirectionAasToOpc, node, el, "abc", "", RejectTypeError))

	require.Len(t, a.records, 1)
	require.Len(t, b.records, 1)
	require.Equal(t, RejectTypeError, a.records[0].RejectReason)
}

func TestRecorderSurvivesSinkFailure(t *testing.T) {
	failing := &fakeSink{failN: 1}
	rec := NewRecorder(slog.Default(), failing)

	el := mapping.ElementRef{SubmodelID: "sm1", IDShortPath: "Temperature"}
	node := mapping.NodeRef{EndpointName: "plc1", NodeID: "ns=2;s=Temp"}

	require.NotPanics(t, func() {
		rec.Record(context.Background(), Deferred(DirectionAasToOpc, node, el, 1, ""))
	})
	require.Empty(t, failing.records)
}

func TestStdoutSinkWriteNeverErrors(t *testing.T) {
	sink := NewStdoutSink(slog.Default())
	el := mapping.ElementRef{SubmodelID: "sm1", IDShortPath: "Temperature"}
	node := mapping.NodeRef{EndpointName: "plc1", NodeID: "ns=2;s=Temp"}
	err := sink.Write(context.Background(), Accepted(DirectionOpcToAas, node, el, nil, 1, ""))
	require.NoError(t, err)
}
