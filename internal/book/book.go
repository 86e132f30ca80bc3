// Package book maintains price-time-priority views of venue liquidity
// from discrete delta operations, plus the trader's own working orders
// in a separate side-channel book.
package book

import (
	"fmt"

	"github.com/shopspring/decimal"

	"marketcore/internal/domain"
	"marketcore/pkg/quant"
	"marketcore/pkg/safe"
)

// PriceLevel is an aggregated (price, size) pair for display and
// coarse-grained decision making.
type PriceLevel struct {
	Price quant.Price
	Size  quant.Quantity
}

// OrderBook is a consistent, queryable view of one instrument's
// resting liquidity. It is mutated sequentially by the arrival order
// of deltas for that instrument; no internal locking.
type OrderBook struct {
	InstrumentID string

	bids ladder
	asks ladder

	Sequence    uint64
	TsLast      quant.UnixNanos
	UpdateCount uint64
}

// NewOrderBook creates an empty book for the instrument.
func NewOrderBook(instrumentID string) *OrderBook {
	return &OrderBook{
		InstrumentID: instrumentID,
		bids:         newLadder(domain.Buy),
		asks:         newLadder(domain.Sell),
	}
}

// Add inserts an order at the back of its price level's queue.
// Returns an IntegrityError if the resulting book is crossed.
func (b *OrderBook) Add(order BookOrder, sequence uint64, tsEvent quant.UnixNanos) error {
	b.sideLadder(order.Side).add(order)
	b.stamp(sequence, tsEvent)
	return b.checkNotCrossed()
}

// Update replaces the order identified by its id at its (possibly
// new) price. An unknown id means the book has desynchronized from
// the venue and is reported, never ignored.
func (b *OrderBook) Update(order BookOrder, sequence uint64, tsEvent quant.UnixNanos) error {
	if !b.sideLadder(order.Side).update(order) {
		return &IntegrityError{
			InstrumentID: b.InstrumentID,
			Kind:         UnknownOrder,
			OrderID:      order.OrderID,
			Detail:       "update for order not in book",
		}
	}
	b.stamp(sequence, tsEvent)
	return b.checkNotCrossed()
}

// Delete removes the order identified by its id. An unknown id is a
// data-integrity error, as with Update.
func (b *OrderBook) Delete(order BookOrder, sequence uint64, tsEvent quant.UnixNanos) error {
	if !b.sideLadder(order.Side).delete(order.OrderID) {
		return &IntegrityError{
			InstrumentID: b.InstrumentID,
			Kind:         UnknownOrder,
			OrderID:      order.OrderID,
			Detail:       "delete for order not in book",
		}
	}
	b.stamp(sequence, tsEvent)
	return nil
}

// Clear empties both sides. The update counter still increments: an
// observable "event happened" signal even when the book was empty.
func (b *OrderBook) Clear(sequence uint64, tsEvent quant.UnixNanos) {
	b.bids.clear()
	b.asks.clear()
	b.stamp(sequence, tsEvent)
}

// ApplyDelta dispatches one delta operation onto the book.
func (b *OrderBook) ApplyDelta(action domain.BookAction, order BookOrder, sequence uint64, tsEvent quant.UnixNanos) error {
	switch action {
	case domain.BookAdd:
		return b.Add(order, sequence, tsEvent)
	case domain.BookUpdate:
		return b.Update(order, sequence, tsEvent)
	case domain.BookDelete:
		return b.Delete(order, sequence, tsEvent)
	case domain.BookClear:
		b.Clear(sequence, tsEvent)
		return nil
	default:
		return fmt.Errorf("book %s: unhandled delta action %d", b.InstrumentID, action)
	}
}

// BestBidPrice returns the highest bid, if any.
func (b *OrderBook) BestBidPrice() (quant.Price, bool) {
	return b.bids.bestPrice()
}

// BestAskPrice returns the lowest ask, if any.
func (b *OrderBook) BestAskPrice() (quant.Price, bool) {
	return b.asks.bestPrice()
}

// BestBidSize returns the aggregate size at the best bid, if any.
func (b *OrderBook) BestBidSize() (quant.Quantity, bool) {
	level, ok := b.bids.best()
	if !ok {
		return quant.Quantity{}, false
	}
	return level.Size(), true
}

// BestAskSize returns the aggregate size at the best ask, if any.
func (b *OrderBook) BestAskSize() (quant.Quantity, bool) {
	level, ok := b.asks.best()
	if !ok {
		return quant.Quantity{}, false
	}
	return level.Size(), true
}

// Bids returns aggregated bid levels, most aggressive first.
func (b *OrderBook) Bids() []PriceLevel {
	return aggregate(b.bids.inOrder())
}

// Asks returns aggregated ask levels, most aggressive first.
func (b *OrderBook) Asks() []PriceLevel {
	return aggregate(b.asks.inOrder())
}

// Spread returns best ask minus best bid as a decimal.
func (b *OrderBook) Spread() (decimal.Decimal, bool) {
	bid, okB := b.BestBidPrice()
	ask, okA := b.BestAskPrice()
	if !okB || !okA {
		return decimal.Decimal{}, false
	}
	return ask.AsDecimal().Sub(bid.AsDecimal()), true
}

// Midpoint returns the bid/ask midpoint as a decimal.
func (b *OrderBook) Midpoint() (decimal.Decimal, bool) {
	bid, okB := b.BestBidPrice()
	ask, okA := b.BestAskPrice()
	if !okB || !okA {
		return decimal.Decimal{}, false
	}
	return bid.AsDecimal().Add(ask.AsDecimal()).Div(decimal.NewFromInt(2)), true
}

// GetAvgPxForQuantity walks the opposite side from best to worst,
// accumulating liquidity until qty is filled, and returns the
// size-weighted average price. When depth is insufficient the average
// covers whatever liquidity exists: a best-effort approximation, not
// an error. Returns zero when that side is empty.
func (b *OrderBook) GetAvgPxForQuantity(qty quant.Quantity, side domain.OrderSide) decimal.Decimal {
	var levels []*Level
	if side == domain.Buy {
		levels = b.asks.inOrder()
	} else {
		levels = b.bids.inOrder()
	}

	remaining := qty.AsDecimal()
	filled := decimal.Zero
	weighted := decimal.Zero

	for _, level := range levels {
		if remaining.Sign() <= 0 {
			break
		}
		available := level.Size().AsDecimal()
		take := decimal.Min(remaining, available)
		weighted = weighted.Add(level.Price.AsDecimal().Mul(take))
		filled = filled.Add(take)
		remaining = remaining.Sub(take)
	}

	if filled.IsZero() {
		return decimal.Zero
	}
	return weighted.Div(filled)
}

// GroupBids re-buckets bids into coarser price increments, rounding
// bucket prices down, capped to depthLimit buckets from the best.
func (b *OrderBook) GroupBids(increment quant.Price, depthLimit int) []PriceLevel {
	return group(b.bids.inOrder(), increment, depthLimit, true)
}

// GroupAsks re-buckets asks into coarser price increments, rounding
// bucket prices up, capped to depthLimit buckets from the best.
func (b *OrderBook) GroupAsks(increment quant.Price, depthLimit int) []PriceLevel {
	return group(b.asks.inOrder(), increment, depthLimit, false)
}

func (b *OrderBook) sideLadder(side domain.OrderSide) *ladder {
	if side == domain.Buy {
		return &b.bids
	}
	return &b.asks
}

func (b *OrderBook) stamp(sequence uint64, tsEvent quant.UnixNanos) {
	b.Sequence = sequence
	b.TsLast = tsEvent
	b.UpdateCount++
}

// checkNotCrossed surfaces a crossed book. The state is left as the
// deltas produced it; the caller resynchronizes rather than repairs.
func (b *OrderBook) checkNotCrossed() error {
	bid, okB := b.bids.bestPrice()
	ask, okA := b.asks.bestPrice()
	if okB && okA && bid.Raw >= ask.Raw {
		return &IntegrityError{
			InstrumentID: b.InstrumentID,
			Kind:         Crossed,
			Detail:       fmt.Sprintf("best bid %s >= best ask %s", bid, ask),
		}
	}
	return nil
}

func aggregate(levels []*Level) []PriceLevel {
	out := make([]PriceLevel, 0, len(levels))
	for _, level := range levels {
		out = append(out, PriceLevel{Price: level.Price, Size: level.Size()})
	}
	return out
}

func group(levels []*Level, increment quant.Price, depthLimit int, roundDown bool) []PriceLevel {
	if increment.Raw <= 0 {
		panic("grouping increment must be positive")
	}
	if depthLimit <= 0 {
		return nil
	}

	out := make([]PriceLevel, 0, depthLimit)
	for _, level := range levels {
		key := bucketKey(level.Price.Raw, increment.Raw, roundDown)
		sizeRaw := level.Size().Raw
		prec := level.Size().Precision

		if n := len(out); n > 0 && out[n-1].Price.Raw == key {
			out[n-1].Size = quant.QtyFromRaw(safe.Add(out[n-1].Size.Raw, sizeRaw), out[n-1].Size.Precision)
			continue
		}
		if len(out) == depthLimit {
			break
		}
		out = append(out, PriceLevel{
			Price: quant.PriceFromRaw(key, increment.Precision),
			Size:  quant.QtyFromRaw(sizeRaw, prec),
		})
	}
	return out
}

// bucketKey floors (bids) or ceils (asks) a price onto the increment
// grid, correct for negative prices as well.
func bucketKey(raw, increment int64, roundDown bool) int64 {
	q := raw / increment
	r := raw % increment
	if r == 0 {
		return raw
	}
	if roundDown {
		if raw < 0 {
			q--
		}
	} else {
		if raw > 0 {
			q++
		}
	}
	return q * increment
}
