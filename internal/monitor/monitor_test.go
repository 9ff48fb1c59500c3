package monitor

import (
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hadijannat/basyx-opcua-bridge/internal/aasclient"
	"github.com/hadijannat/basyx-opcua-bridge/internal/codec"
	"github.com/hadijannat/basyx-opcua-bridge/internal/loopcache"
	"github.com/hadijannat/basyx-opcua-bridge/internal/mapping"
	"github.com/hadijannat/basyx-opcua-bridge/opcuaproto"
)

func newTestRegistry(t *testing.T, rule mapping.Rule) *mapping.Registry {
	t.Helper()
	rule.Enabled = true
	reg, err := mapping.NewRegistry([]mapping.Rule{rule})
	require.NoError(t, err)
	return reg
}

func newTestMonitor(t *testing.T, reg *mapping.Registry, handler http.HandlerFunc) (*Monitor, *int32) {
	t.Helper()
	var hits int32
	wrapped := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		handler(w, r)
	}
	ts := httptest.NewServer(http.HandlerFunc(wrapped))
	t.Cleanup(ts.Close)

	aas := aasclient.New(aasclient.Config{BaseURL: ts.URL})
	cache := loopcache.New(64, time.Minute)
	return New(reg, nil, aas, cache, nil), &hits
}

func goodDataValue(v opcuaproto.Variant) opcuaproto.DataValue {
	return opcuaproto.DataValue{Value: v, Status: opcuaproto.StatusGood, SourceTimestamp: time.Now()}
}

func TestHandleDataChangeDropsUnmappedNode(t *testing.T) {
	reg, err := mapping.NewRegistry(nil)
	require.NoError(t, err)
	m, hits := newTestMonitor(t, reg, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	nodeID := opcuaproto.NewStringNodeID(2, "Temp")
	m.handleDataChange("plc1", nodeID, goodDataValue(opcuaproto.Variant{Type: opcuaproto.TypeDouble, Value: 21.5}))
	require.Zero(t, atomic.LoadInt32(hits))
}

func TestHandleDataChangeDropsWhenDirectionDisallows(t *testing.T) {
	rule := mapping.Rule{
		EndpointName: "plc1", OpcNodeID: "ns=2;s=Temp",
		SubmodelID: "sm1", IDShortPath: "Temperature",
		ValueType: codec.Double, Direction: mapping.DirectionAasToOpc,
	}
	reg := newTestRegistry(t, rule)
	m, hits := newTestMonitor(t, reg, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	nodeID := opcuaproto.NewStringNodeID(2, "Temp")
	m.handleDataChange("plc1", nodeID, goodDataValue(opcuaproto.Variant{Type: opcuaproto.TypeDouble, Value: 21.5}))
	require.Zero(t, atomic.LoadInt32(hits))
}

func TestHandleDataChangeDropsBadStatusValue(t *testing.T) {
	rule := mapping.Rule{
		EndpointName: "plc1", OpcNodeID: "ns=2;s=Temp",
		SubmodelID: "sm1", IDShortPath: "Temperature",
		ValueType: codec.Double, Direction: mapping.DirectionOpcToAas,
	}
	reg := newTestRegistry(t, rule)
	m, hits := newTestMonitor(t, reg, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	nodeID := opcuaproto.NewStringNodeID(2, "Temp")
	dv := opcuaproto.DataValue{Value: opcuaproto.Variant{Type: opcuaproto.TypeDouble, Value: 21.5}, Status: opcuaproto.StatusBadNotConnected}
	m.handleDataChange("plc1", nodeID, dv)
	require.Zero(t, atomic.LoadInt32(hits))
}

func TestHandleDataChangeDropsOnDecodeFailure(t *testing.T) {
	rule := mapping.Rule{
		EndpointName: "plc1", OpcNodeID: "ns=2;s=Temp",
		SubmodelID: "sm1", IDShortPath: "Temperature",
		ValueType: codec.Double, Direction: mapping.DirectionOpcToAas,
	}
	reg := newTestRegistry(t, rule)
	m, hits := newTestMonitor(t, reg, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	nodeID := opcuaproto.NewStringNodeID(2, "Temp")
	// a non-numeric string value cannot be decoded as xs:double
	m.handleDataChange("plc1", nodeID, goodDataValue(opcuaproto.Variant{Type: opcuaproto.TypeDouble, Value: "not-a-number"}))
	require.Zero(t, atomic.LoadInt32(hits))
}

func TestHandleDataChangeDropsOutOfRangeValue(t *testing.T) {
	max := 100.0
	rule := mapping.Rule{
		EndpointName: "plc1", OpcNodeID: "ns=2;s=Temp",
		SubmodelID: "sm1", IDShortPath: "Temperature",
		ValueType: codec.Double, Direction: mapping.DirectionOpcToAas,
		Range: &mapping.Range{Max: &max},
	}
	reg := newTestRegistry(t, rule)
	m, hits := newTestMonitor(t, reg, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	nodeID := opcuaproto.NewStringNodeID(2, "Temp")
	m.handleDataChange("plc1", nodeID, goodDataValue(opcuaproto.Variant{Type: opcuaproto.TypeDouble, Value: 150.0}))
	require.Zero(t, atomic.LoadInt32(hits), "out-of-range value must not be written to the aas repository")
}

func TestHandleDataChangeSuppressesRepeatedValue(t *testing.T) {
	rule := mapping.Rule{
		EndpointName: "plc1", OpcNodeID: "ns=2;s=Temp",
		SubmodelID: "sm1", IDShortPath: "Temperature",
		ValueType: codec.Double, Direction: mapping.DirectionOpcToAas,
	}
	reg := newTestRegistry(t, rule)
	m, hits := newTestMonitor(t, reg, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	nodeID := opcuaproto.NewStringNodeID(2, "Temp")
	dv := goodDataValue(opcuaproto.Variant{Type: opcuaproto.TypeDouble, Value: 21.5})

	m.handleDataChange("plc1", nodeID, dv)
	require.EqualValues(t, 1, atomic.LoadInt32(hits))

	m.handleDataChange("plc1", nodeID, dv)
	require.EqualValues(t, 1, atomic.LoadInt32(hits), "repeated identical value must not trigger a second AAS write")
}

func TestHandleDataChangeWritesAndRemembersHashOnChange(t *testing.T) {
	rule := mapping.Rule{
		EndpointName: "plc1", OpcNodeID: "ns=2;s=Temp",
		SubmodelID: "sm1", IDShortPath: "Temperature",
		ValueType: codec.Double, Direction: mapping.DirectionOpcToAas,
	}
	reg := newTestRegistry(t, rule)
	var gotPaths []string
	m, hits := newTestMonitor(t, reg, func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	nodeID := opcuaproto.NewStringNodeID(2, "Temp")

	m.handleDataChange("plc1", nodeID, goodDataValue(opcuaproto.Variant{Type: opcuaproto.TypeDouble, Value: 21.5}))
	m.handleDataChange("plc1", nodeID, goodDataValue(opcuaproto.Variant{Type: opcuaproto.TypeDouble, Value: 22.0}))

	require.EqualValues(t, 2, atomic.LoadInt32(hits))
	require.Len(t, gotPaths, 2)
	require.Contains(t, gotPaths[0], "Temperature")

	mp, ok := reg.ByNodeRef(mapping.NodeRef{EndpointName: "plc1", NodeID: nodeID.String()})
	require.True(t, ok)
	require.True(t, m.cache.Matches(mp.ElementRef.String(), hex.EncodeToString(codec.Hash(22.0))))
}
