package mapping

import (
	"fmt"
	"time"

	"github.com/hadijannat/basyx-opcua-bridge/internal/codec"
)

// Rule is the source configuration shape a Mapping is resolved from.
type Rule struct {
	EndpointName       string
	OpcNodeID          string
	SubmodelID         string
	IDShortPath        string
	ValueType          codec.ValueType
	Direction          Direction
	Range              *Range
	SamplingIntervalMs int
	QueueSize          int
	Enabled            bool
}

// Mapping is a validated, immutable binding between one OPC UA node and
// one AAS submodel element, consulted by both Monitor and Controller.
type Mapping struct {
	NodeRef            NodeRef
	ElementRef         ElementRef
	ValueType          codec.ValueType
	Range              *Range
	Direction          Direction
	SamplingInterval   time.Duration
	QueueSize          int
}

const (
	defaultSamplingIntervalMs = 100
	defaultQueueSize          = 10
)

// Registry is the read-only lookup shared by Monitor and Controller. It
// exposes no mutation path after NewRegistry returns.
type Registry struct {
	byNodeRef    map[NodeRef]*Mapping
	byElementRef map[ElementRef]*Mapping
	all          []*Mapping
}

// NewRegistry validates and indexes rules, rejecting duplicate keys on
// either index and mappings whose declared ValueType is unsupported.
func NewRegistry(rules []Rule) (*Registry, error) {
	r := &Registry{
		byNodeRef:    make(map[NodeRef]*Mapping),
		byElementRef: make(map[ElementRef]*Mapping),
	}
	for i, rule := range rules {
		if !rule.Enabled {
			continue
		}
		m, err := resolve(rule)
		if err != nil {
			return nil, fmt.Errorf("mapping: rule %d: %w", i, err)
		}
		if _, exists := r.byNodeRef[m.NodeRef]; exists {
			return nil, fmt.Errorf("mapping: duplicate NodeRef %s", m.NodeRef)
		}
		if _, exists := r.byElementRef[m.ElementRef]; exists {
			return nil, fmt.Errorf("mapping: duplicate ElementRef %s", m.ElementRef)
		}
		r.byNodeRef[m.NodeRef] = m
		r.byElementRef[m.ElementRef] = m
		r.all = append(r.all, m)
	}
	return r, nil
}

func resolve(rule Rule) (*Mapping, error) {
	if !codec.Supported(rule.ValueType) {
		return nil, fmt.Errorf("unsupported value type %q", rule.ValueType)
	}
	if rule.EndpointName == "" || rule.OpcNodeID == "" {
		return nil, fmt.Errorf("opcua node reference is required")
	}
	if rule.SubmodelID == "" || rule.IDShortPath == "" {
		return nil, fmt.Errorf("aas element reference is required")
	}
	direction := rule.Direction
	if direction == "" {
		direction = DirectionBidirectional
	}
	samplingMs := rule.SamplingIntervalMs
	if samplingMs <= 0 {
		samplingMs = defaultSamplingIntervalMs
	}
	queueSize := rule.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Mapping{
		NodeRef:          NodeRef{EndpointName: rule.EndpointName, NodeID: rule.OpcNodeID},
		ElementRef:       ElementRef{SubmodelID: rule.SubmodelID, IDShortPath: rule.IDShortPath},
		ValueType:        rule.ValueType,
		Range:            rule.Range,
		Direction:        direction,
		SamplingInterval: time.Duration(samplingMs) * time.Millisecond,
		QueueSize:        queueSize,
	}, nil
}

// ByNodeRef looks up the Mapping bound to an OPC UA node, if any.
func (r *Registry) ByNodeRef(ref NodeRef) (*Mapping, bool) {
	m, ok := r.byNodeRef[ref]
	return m, ok
}

// ByElementRef looks up the Mapping bound to an AAS element, if any.
func (r *Registry) ByElementRef(ref ElementRef) (*Mapping, bool) {
	m, ok := r.byElementRef[ref]
	return m, ok
}

// All returns every resolved Mapping, in registration order.
func (r *Registry) All() []*Mapping {
	return r.all
}

// ForEndpoint returns every Mapping bound to the given OPC UA endpoint.
func (r *Registry) ForEndpoint(endpointName string) []*Mapping {
	var out []*Mapping
	for _, m := range r.all {
		if m.NodeRef.EndpointName == endpointName {
			out = append(out, m)
		}
	}
	return out
}
