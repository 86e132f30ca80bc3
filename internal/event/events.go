// Package event defines the sequenced messages flowing through the
// engine inbox. Every event carries an engine sequence number and an
// event timestamp; the engine assigns and validates the sequence.
package event

import (
	"sync"

	"marketcore/internal/book"
	"marketcore/internal/domain"
	"marketcore/pkg/quant"
)

// Type defines the type of event.
type Type uint16

const (
	EvBookDelta Type = iota + 1
	EvOrderFilled
	EvAccountState
	EvMarkPrice
)

// Event is the interface for all engine events.
type Event interface {
	GetSeq() uint64
	GetTs() quant.UnixNanos
	GetType() Type
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	Seq uint64          `json:"seq"`
	Ts  quant.UnixNanos `json:"ts"`
}

func (e BaseEvent) GetSeq() uint64         { return e.Seq }
func (e BaseEvent) GetTs() quant.UnixNanos { return e.Ts }

// SetSeq assigns the engine sequence. Only the sequencer calls this.
func (e *BaseEvent) SetSeq(seq uint64) { e.Seq = seq }

// BookDeltaEvent is one order book delta for an instrument. The
// embedded venue sequence orders deltas within the instrument stream.
type BookDeltaEvent struct {
	BaseEvent
	InstrumentID  string            `json:"instrument_id"`
	Action        domain.BookAction `json:"action"`
	Order         book.BookOrder    `json:"order"`
	VenueSequence uint64            `json:"venue_sequence"`
}

func (e BookDeltaEvent) GetType() Type { return EvBookDelta }

// OrderFilledEvent carries one execution report into the engine.
type OrderFilledEvent struct {
	BaseEvent
	Fill domain.OrderFilled `json:"fill"`
}

func (e OrderFilledEvent) GetType() Type { return EvOrderFilled }

// AccountStateEvent carries a venue balance snapshot.
type AccountStateEvent struct {
	BaseEvent
	State domain.AccountState `json:"state"`
}

func (e AccountStateEvent) GetType() Type { return EvAccountState }

// MarkPriceEvent updates the mark used for unrealized PnL.
type MarkPriceEvent struct {
	BaseEvent
	InstrumentID string      `json:"instrument_id"`
	Price        quant.Price `json:"price"`
}

func (e MarkPriceEvent) GetType() Type { return EvMarkPrice }

// bookDeltaPool recycles the highest-rate event type to keep the
// hotpath allocation-free under bursty depth updates.
var bookDeltaPool = sync.Pool{
	New: func() any { return new(BookDeltaEvent) },
}

// AcquireBookDeltaEvent returns a zeroed event from the pool.
func AcquireBookDeltaEvent() *BookDeltaEvent {
	return bookDeltaPool.Get().(*BookDeltaEvent)
}

// ReleaseBookDeltaEvent resets and returns the event to the pool. The
// caller must not retain the pointer afterwards.
func ReleaseBookDeltaEvent(e *BookDeltaEvent) {
	*e = BookDeltaEvent{}
	bookDeltaPool.Put(e)
}
