// Package monitor implements the OPC UA -> AAS half of the bridge: it
// subscribes to every opc_to_aas/bidirectional mapping's node and
// mirrors each DataChange into the AAS repository.
package monitor

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/hadijannat/basyx-opcua-bridge/internal/aasclient"
	"github.com/hadijannat/basyx-opcua-bridge/internal/codec"
	"github.com/hadijannat/basyx-opcua-bridge/internal/connpool"
	"github.com/hadijannat/basyx-opcua-bridge/internal/loopcache"
	"github.com/hadijannat/basyx-opcua-bridge/internal/mapping"
	"github.com/hadijannat/basyx-opcua-bridge/opcuaproto"
)

// Monitor drains OPC UA DataChange notifications, decodes them per the
// Mapping Registry, and forwards the result to the AAS Client.
type Monitor struct {
	registry *mapping.Registry
	pool     *connpool.Pool
	aas      *aasclient.Client
	cache    *loopcache.Cache
	logger   *slog.Logger
}

// New constructs a Monitor. cache is the Loop-Suppression Cache shared
// with the Controller.
func New(registry *mapping.Registry, pool *connpool.Pool, aas *aasclient.Client, cache *loopcache.Cache, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{registry: registry, pool: pool, aas: aas, cache: cache, logger: logger}
}

// Start submits one subscription per endpoint covering every mapping
// whose direction allows opc->aas flow.
func (m *Monitor) Start(ctx context.Context, endpoints []string) error {
	for _, endpoint := range endpoints {
		mappings := m.registry.ForEndpoint(endpoint)
		var items []connpool.SubscriptionItem
		for _, mp := range mappings {
			if !mp.Direction.AllowsOpcToAas() {
				continue
			}
			nodeID, err := opcuaproto.ParseNodeID(mp.NodeRef.NodeID)
			if err != nil {
				m.logger.Warn("skipping mapping with malformed node id", "node_ref", mp.NodeRef.String(), "error", err)
				continue
			}
			items = append(items, connpool.SubscriptionItem{
				NodeID:           nodeID,
				SamplingInterval: mp.SamplingInterval,
				QueueSize:        uint32(mp.QueueSize),
			})
		}
		if len(items) == 0 {
			continue
		}
		ep := endpoint
		_, err := m.pool.SubmitSubscription(ctx, endpoint, connpool.SubscriptionSpec{
			Nodes: items,
			OnChange: func(nodeID opcuaproto.NodeID, dv opcuaproto.DataValue) {
				m.handleDataChange(ep, nodeID, dv)
			},
		})
		if err != nil {
			return fmt.Errorf("monitor: submit subscription for %s: %w", endpoint, err)
		}
	}
	return nil
}

// handleDataChange implements the Monitor's six-step pipeline for one
// DataChange notification.
func (m *Monitor) handleDataChange(endpoint string, nodeID opcuaproto.NodeID, dv opcuaproto.DataValue) {
	ref := mapping.NodeRef{EndpointName: endpoint, NodeID: nodeID.String()}
	mp, ok := m.registry.ByNodeRef(ref)
	if !ok {
		m.logger.Warn("data change for unmapped node", "node_ref", ref.String())
		return
	}
	if !mp.Direction.AllowsOpcToAas() {
		return
	}
	if dv.Status.IsBad() {
		m.logger.Warn("dropping bad-status data change", "node_ref", ref.String(), "status", dv.Status)
		return
	}

	value, err := codec.Decode(dv.Value, mp.ValueType)
	if err != nil {
		m.logger.Warn("dropping data change: decode failed", "node_ref", ref.String(), "error", err)
		return
	}

	if mp.Range != nil {
		if f, ok := asFloat(value); ok && !mp.Range.Contains(f) {
			m.logger.Warn("dropping data change: value out of range", "node_ref", ref.String(), "element_ref", mp.ElementRef.String(), "value", value)
			return
		}
	}

	h := hex.EncodeToString(codec.Hash(value))
	if m.cache.Matches(mp.ElementRef.String(), h) {
		return
	}

	if err := m.aas.WriteValue(mp.ElementRef.SubmodelID, mp.ElementRef.IDShortPath, value, mp.ValueType); err != nil {
		m.logger.Warn("aas write failed, dropping sample", "element_ref", mp.ElementRef.String(), "error", err)
		return
	}

	m.cache.Remember(mp.ElementRef.String(), h)
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
