// Package controller implements the AAS -> OPC UA half of the bridge:
// it consumes ElementChanged events from the AAS Client, validates and
// encodes each one, and writes the result through the Connection Pool.
package controller

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"

	"github.com/hadijannat/basyx-opcua-bridge/internal/aasclient"
	"github.com/hadijannat/basyx-opcua-bridge/internal/audit"
	"github.com/hadijannat/basyx-opcua-bridge/internal/codec"
	"github.com/hadijannat/basyx-opcua-bridge/internal/connpool"
	"github.com/hadijannat/basyx-opcua-bridge/internal/loopcache"
	"github.com/hadijannat/basyx-opcua-bridge/internal/mapping"
	"github.com/hadijannat/basyx-opcua-bridge/opcuaproto"
)

// Controller drains an AAS Client's event channel and drives writes
// through the Connection Pool, per the six-step pipeline: look up
// mapping, encode, range-check, loop-suppress, write, audit.
type Controller struct {
	registry *mapping.Registry
	pool     *connpool.Pool
	cache    *loopcache.Cache
	recorder *audit.Recorder
	logger   *slog.Logger

	coalescer *writeCoalescer

	lastMu  sync.Mutex
	lastVal map[mapping.NodeRef]any
}

// New constructs a Controller. cache is the Loop-Suppression Cache
// shared with the Monitor.
func New(registry *mapping.Registry, pool *connpool.Pool, cache *loopcache.Cache, recorder *audit.Recorder, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		registry:  registry,
		pool:      pool,
		cache:     cache,
		recorder:  recorder,
		logger:    logger,
		coalescer: newWriteCoalescer(),
		lastVal:   make(map[mapping.NodeRef]any),
	}
}

// Run drains events until ctx is cancelled or the channel closes.
func (c *Controller) Run(ctx context.Context, events <-chan aasclient.ElementChanged) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.dispatch(ctx, ev)
		}
	}
}

func (c *Controller) dispatch(ctx context.Context, ev aasclient.ElementChanged) {
	el := mapping.ElementRef{SubmodelID: ev.SubmodelID, IDShortPath: ev.IDShortPath}
	mp, ok := c.registry.ByElementRef(el)
	if !ok || !mp.Direction.AllowsAasToOpc() {
		return
	}
	c.coalescer.submit(el, ev, func(ev aasclient.ElementChanged) {
		c.processEvent(ctx, mp, ev)
	})
}

func (c *Controller) processEvent(ctx context.Context, mp *mapping.Mapping, ev aasclient.ElementChanged) {
	variant, err := codec.Encode(ev.Value, mp.ValueType)
	if err != nil {
		c.record(audit.Rejected(audit.DirectionAasToOpc, mp.NodeRef, mp.ElementRef, ev.Value, ev.UserID, rejectReasonFor(err)))
		return
	}

	if mp.Range != nil {
		if f, ok := asFloat(variant.Value); ok && !mp.Range.Contains(f) {
			c.record(audit.Rejected(audit.DirectionAasToOpc, mp.NodeRef, mp.ElementRef, ev.Value, ev.UserID, audit.RejectRangeError))
			return
		}
	}

	decoded, err := codec.Decode(variant, mp.ValueType)
	if err != nil {
		c.record(audit.Rejected(audit.DirectionAasToOpc, mp.NodeRef, mp.ElementRef, ev.Value, ev.UserID, rejectReasonFor(err)))
		return
	}

	h := hex.EncodeToString(codec.Hash(decoded))
	if c.cache.Matches(mp.ElementRef.String(), h) {
		return
	}

	nodeID, err := opcuaproto.ParseNodeID(mp.NodeRef.NodeID)
	if err != nil {
		c.logger.Error("mapping has malformed node id, cannot write", "node_ref", mp.NodeRef.String(), "error", err)
		return
	}

	writeErr := c.pool.WriteValue(ctx, mp.NodeRef.EndpointName, nodeID, variant)
	if connpool.IsUnavailable(writeErr) {
		c.record(audit.Deferred(audit.DirectionAasToOpc, mp.NodeRef, mp.ElementRef, decoded, ev.UserID))
		return
	}
	if writeErr != nil {
		c.record(audit.Rejected(audit.DirectionAasToOpc, mp.NodeRef, mp.ElementRef, decoded, ev.UserID, audit.RejectOpcError))
		return
	}

	prior := c.swapLastValue(mp.NodeRef, decoded)
	c.record(audit.Accepted(audit.DirectionAasToOpc, mp.NodeRef, mp.ElementRef, prior, decoded, ev.UserID))
	c.cache.Remember(mp.ElementRef.String(), h)
}

func (c *Controller) record(rec audit.Record) {
	if c.recorder != nil {
		c.recorder.Record(context.Background(), rec)
	}
}

func (c *Controller) swapLastValue(ref mapping.NodeRef, next any) any {
	c.lastMu.Lock()
	defer c.lastMu.Unlock()
	prior := c.lastVal[ref]
	c.lastVal[ref] = next
	return prior
}

func rejectReasonFor(err error) audit.RejectReason {
	var typeErr *codec.TypeError
	var rangeErr *codec.RangeError
	switch {
	case errors.As(err, &typeErr):
		return audit.RejectTypeError
	case errors.As(err, &rangeErr):
		return audit.RejectRangeError
	default:
		return audit.RejectTypeError
	}
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
