// Package mapping implements the bridge's Mapping Registry: an
// immutable, pre-validated lookup binding OPC UA nodes to AAS submodel
// elements, indexed both ways.
package mapping

import "fmt"

// NodeRef identifies an OPC UA node by the endpoint it lives on and its
// canonical textual NodeId.
type NodeRef struct {
	EndpointName string
	NodeID       string
}

func (r NodeRef) String() string { return fmt.Sprintf("%s/%s", r.EndpointName, r.NodeID) }

// ElementRef identifies an AAS submodel element by submodel id and
// slash-separated idShortPath.
type ElementRef struct {
	SubmodelID   string
	IDShortPath  string
}

func (r ElementRef) String() string { return fmt.Sprintf("%s#%s", r.SubmodelID, r.IDShortPath) }

// Direction constrains which way a Mapping is allowed to flow.
type Direction string

const (
	DirectionOpcToAas      Direction = "opc_to_aas"
	DirectionAasToOpc      Direction = "aas_to_opc"
	DirectionBidirectional Direction = "bidirectional"
)

// AllowsOpcToAas reports whether values may flow from OPC UA to AAS.
func (d Direction) AllowsOpcToAas() bool {
	return d == DirectionOpcToAas || d == DirectionBidirectional
}

// AllowsAasToOpc reports whether values may flow from AAS to OPC UA.
func (d Direction) AllowsAasToOpc() bool {
	return d == DirectionAasToOpc || d == DirectionBidirectional
}

// Range is an optional inclusive bound enforced after type coercion.
type Range struct {
	Min, Max *float64
}

// Contains reports whether v falls within the range, or true if the
// range has no bounds configured.
func (r *Range) Contains(v float64) bool {
	if r == nil {
		return true
	}
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}
