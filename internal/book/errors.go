package book

import (
	"fmt"
)

// IntegrityKind classifies how a book desynchronized from the venue.
type IntegrityKind uint8

const (
	// UnknownOrder means an update or delete referenced an order id
	// the book does not hold.
	UnknownOrder IntegrityKind = iota + 1
	// Crossed means a delta left the best bid at or above the best ask.
	Crossed
)

func (k IntegrityKind) String() string {
	switch k {
	case UnknownOrder:
		return "UNKNOWN_ORDER"
	case Crossed:
		return "CROSSED"
	default:
		return "UNKNOWN"
	}
}

// IntegrityError is fatal to the affected instrument's book state.
// The consumer must resynchronize from a fresh snapshot; local repair
// is not attempted.
type IntegrityError struct {
	InstrumentID string
	Kind         IntegrityKind
	OrderID      uint64
	Detail       string
}

func (e *IntegrityError) Error() string {
	if e.Kind == UnknownOrder {
		return fmt.Sprintf("book integrity violation for %s: %s order_id=%d: %s",
			e.InstrumentID, e.Kind, e.OrderID, e.Detail)
	}
	return fmt.Sprintf("book integrity violation for %s: %s: %s", e.InstrumentID, e.Kind, e.Detail)
}
