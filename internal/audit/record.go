// Package audit records every attempted AAS-to-OPC-UA write so that
// operators can reconstruct who changed what, and whether the write
// actually landed.
package audit

import (
	"time"

	"github.com/hadijannat/basyx-opcua-bridge/internal/mapping"
)

// Direction names which side of the bridge originated the write attempt
// this record describes. It reuses mapping.Direction's opc_to_aas/
// aas_to_opc vocabulary rather than inventing a parallel one.
type Direction = mapping.Direction

const (
	DirectionAasToOpc = mapping.DirectionAasToOpc
	DirectionOpcToAas = mapping.DirectionOpcToAas
)

// Outcome is the terminal disposition of one write attempt.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
	OutcomeDeferred Outcome = "deferred"
)

// RejectReason further classifies an Outcome of Rejected.
type RejectReason string

const (
	RejectNone        RejectReason = ""
	RejectTypeError   RejectReason = "type_error"
	RejectRangeError  RejectReason = "range_error"
	RejectOpcError    RejectReason = "opc_error"
	RejectHTTPError   RejectReason = "http_error"
)

// Record is one entry in the audit trail, matching the AuditRecord shape:
// timestamp, direction, nodeRef, elementRef, priorValue, newValue, userId,
// outcome.
type Record struct {
	Timestamp   time.Time
	Direction   Direction
	NodeRef     mapping.NodeRef
	ElementRef  mapping.ElementRef
	PriorValue  any
	NewValue    any
	UserID      string
	Outcome     Outcome
	RejectReason RejectReason
	CorrelationID string
}

// Accepted builds a Record for a write that succeeded.
func Accepted(dir Direction, node mapping.NodeRef, el mapping.ElementRef, prior, next any, userID string) Record {
	return Record{
		Direction:  dir,
		NodeRef:    node,
		ElementRef: el,
		PriorValue: prior,
		NewValue:   next,
		UserID:     userID,
		Outcome:    OutcomeAccepted,
	}
}

// Rejected builds a Record for a write that was refused before or during
// delivery.
func Rejected(dir Direction, node mapping.NodeRef, el mapping.ElementRef, attempted any, userID string, reason RejectReason) Record {
	return Record{
		Direction:    dir,
		NodeRef:      node,
		ElementRef:   el,
		NewValue:     attempted,
		UserID:       userID,
		Outcome:      OutcomeRejected,
		RejectReason: reason,
	}
}

// Deferred builds a Record for a write that could not be attempted
// because the target endpoint was unavailable; the event itself is not
// queued for retry, only logged.
func Deferred(dir Direction, node mapping.NodeRef, el mapping.ElementRef, attempted any, userID string) Record {
	return Record{
		Direction:  dir,
		NodeRef:    node,
		ElementRef: el,
		NewValue:   attempted,
		UserID:     userID,
		Outcome:    OutcomeDeferred,
	}
}
