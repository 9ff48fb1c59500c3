package controller

import (
	"context"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hadijannat/basyx-opcua-bridge/internal/aasclient"
	"github.com/hadijannat/basyx-opcua-bridge/internal/audit"
	"github.com/hadijannat/basyx-opcua-bridge/internal/codec"
	"github.com/hadijannat/basyx-opcua-bridge/internal/connpool"
	"github.com/hadijannat/basyx-opcua-bridge/internal/loopcache"
	"github.com/hadijannat/basyx-opcua-bridge/internal/mapping"
)

type captureSink struct {
	mu      sync.Mutex
	records []audit.Record
}

func (s *captureSink) Write(_ context.Context, rec audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *captureSink) all() []audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Record(nil), s.records...)
}

func newTestMapping(t *testing.T, rule mapping.Rule) *mapping.Mapping {
	t.Helper()
	rule.Enabled = true
	reg, err := mapping.NewRegistry([]mapping.Rule{rule})
	require.NoError(t, err)
	mp, ok := reg.ByElementRef(mapping.ElementRef{SubmodelID: rule.SubmodelID, IDShortPath: rule.IDShortPath})
	require.True(t, ok)
	return mp
}

func newTestController(pool *connpool.Pool, sink *captureSink) *Controller {
	cache := loopcache.New(64, time.Minute)
	recorder := audit.NewRecorder(nil, sink)
	return New(nil, pool, cache, recorder, nil)
}

func TestProcessEventRejectsOnEncodeTypeError(t *testing.T) {
	mp := newTestMapping(t, mapping.Rule{
		EndpointName: "plc1", OpcNodeID: "ns=2;s=Setpoint",
		SubmodelID: "sm1", IDShortPath: "Setpoint",
		ValueType: codec.Double, Direction: mapping.DirectionAasToOpc,
	})
	sink := &captureSink{}
	c := newTestController(nil, sink)

	c.processEvent(context.Background(), mp, aasclient.ElementChanged{Value: "not-a-number", UserID: "op1"})

	recs := sink.all()
	require.Len(t, recs, 1)
	require.Equal(t, audit.OutcomeRejected, recs[0].Outcome)
	require.Equal(t, audit.RejectTypeError, recs[0].RejectReason)
	require.Equal(t, "op1", recs[0].UserID)
}

func TestProcessEventRejectsOnRangeError(t *testing.T) {
	max := 100.0
	mp := newTestMapping(t, mapping.Rule{
		EndpointName: "plc1", OpcNodeID: "ns=2;s=Setpoint",
		SubmodelID: "sm1", IDShortPath: "Setpoint",
		ValueType: codec.Double, Direction: mapping.DirectionAasToOpc,
		Range: &mapping.Range{Max: &max},
	})
	sink := &captureSink{}
	c := newTestController(nil, sink)

	c.processEvent(context.Background(), mp, aasclient.ElementChanged{Value: 150.0, UserID: "op1"})

	recs := sink.all()
	require.Len(t, recs, 1)
	require.Equal(t, audit.OutcomeRejected, recs[0].Outcome)
	require.Equal(t, audit.RejectRangeError, recs[0].RejectReason)
}

func TestProcessEventSuppressesLoopWithoutTouchingPool(t *testing.T) {
	mp := newTestMapping(t, mapping.Rule{
		EndpointName: "plc1", OpcNodeID: "ns=2;s=Setpoint",
		SubmodelID: "sm1", IDShortPath: "Setpoint",
		ValueType: codec.Double, Direction: mapping.DirectionAasToOpc,
	})
	sink := &captureSink{}
	cache := loopcache.New(64, time.Minute)
	recorder := audit.NewRecorder(nil, sink)
	c := New(nil, nil, cache, recorder, nil)

	cache.Remember(mp.ElementRef.String(), hex.EncodeToString(codec.Hash(42.0)))

	c.processEvent(context.Background(), mp, aasclient.ElementChanged{Value: 42.0, UserID: "op1"})

	require.Empty(t, sink.all(), "a value matching the loop-suppression cache must never reach the pool or the recorder")
}

func TestProcessEventDefersWhenSessionUnavailable(t *testing.T) {
	mp := newTestMapping(t, mapping.Rule{
		EndpointName: "plc1", OpcNodeID: "ns=2;s=Setpoint",
		SubmodelID: "sm1", IDShortPath: "Setpoint",
		ValueType: codec.Double, Direction: mapping.DirectionAasToOpc,
	})
	sink := &captureSink{}
	pool := connpool.New(
		[]connpool.EndpointConfig{{Name: "plc1", URL: "127.0.0.1:1"}},
		connpool.WithSessionWaitTimeout(30*time.Millisecond),
	)
	// pool.Start is deliberately not called: the session stays Disconnected
	// forever, so WriteValue must time out into ErrUnavailable.
	c := newTestController(pool, sink)

	c.processEvent(context.Background(), mp, aasclient.ElementChanged{Value: 42.0, UserID: "op1"})

	recs := sink.all()
	require.Len(t, recs, 1)
	require.Equal(t, audit.OutcomeDeferred, recs[0].Outcome)
}

