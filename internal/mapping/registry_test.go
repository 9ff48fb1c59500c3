package mapping

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hadijannat/basyx-opcua-bridge/internal/codec"
)

func TestNewRegistryResolvesDefaults(t *testing.T) {
	reg, err := NewRegistry([]Rule{{
		EndpointName: "plc1",
		OpcNodeID:    "ns=2;s=Temperature",
		SubmodelID:   "urn:factory:submodel:sensors",
		IDShortPath:  "Temperature",
		ValueType:    codec.Double,
		Enabled:      true,
	}})
	require.NoError(t, err)
	require.Len(t, reg.All(), 1)

	m, ok := reg.ByNodeRef(NodeRef{EndpointName: "plc1", NodeID: "ns=2;s=Temperature"})
	require.True(t, ok)
	require.Equal(t, DirectionBidirectional, m.Direction)
	require.Equal(t, 100*1_000_000, int(m.SamplingInterval))

	_, ok = reg.ByElementRef(ElementRef{SubmodelID: "urn:factory:submodel:sensors", IDShortPath: "Temperature"})
	require.True(t, ok)
}

func TestNewRegistryRejectsDuplicateNodeRef(t *testing.T) {
	rule := Rule{
		EndpointName: "plc1",
		OpcNodeID:    "ns=2;s=Temperature",
		SubmodelID:   "urn:a",
		IDShortPath:  "A",
		ValueType:    codec.Double,
		Enabled:      true,
	}
	dup := rule
	dup.SubmodelID = "urn:b"
	dup.IDShortPath = "B"

	_, err := NewRegistry([]Rule{rule, dup})
	require.Error(t, err)
}

func TestNewRegistryRejectsUnsupportedValueType(t *testing.T) {
	_, err := NewRegistry([]Rule{{
		EndpointName: "plc1",
		OpcNodeID:    "ns=2;s=X",
		SubmodelID:   "urn:a",
		IDShortPath:  "A",
		ValueType:    "xs:unknown",
		Enabled:      true,
	}})
	require.Error(t, err)
}

func TestNewRegistrySkipsDisabledRules(t *testing.T) {
	reg, err := NewRegistry([]Rule{{
		EndpointName: "plc1",
		OpcNodeID:    "ns=2;s=X",
		SubmodelID:   "urn:a",
		IDShortPath:  "A",
		ValueType:    codec.Double,
		Enabled:      false,
	}})
	require.NoError(t, err)
	require.Empty(t, reg.All())
}
