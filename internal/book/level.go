package book

import (
	"marketcore/internal/domain"
	"marketcore/pkg/quant"
	"marketcore/pkg/safe"
)

// BookOrder is one resting order of public liquidity. It is owned
// exclusively by the book holding it and replaced wholesale when a
// delta arrives.
type BookOrder struct {
	Side    domain.OrderSide
	Price   quant.Price
	Size    quant.Quantity
	OrderID uint64
}

// Level is a single price level holding its orders in arrival order.
// Insertion order is fill priority.
type Level struct {
	Price  quant.Price
	orders []BookOrder
}

func newLevel(price quant.Price) *Level {
	return &Level{Price: price}
}

// Add appends an order at the back of the FIFO queue.
func (l *Level) Add(order BookOrder) {
	l.orders = append(l.orders, order)
}

// Update replaces the order with the same id in place, keeping its
// queue position. Returns false if the id is not at this level.
func (l *Level) Update(order BookOrder) bool {
	for i := range l.orders {
		if l.orders[i].OrderID == order.OrderID {
			l.orders[i] = order
			return true
		}
	}
	return false
}

// Delete removes the order with the given id. Returns false if absent.
func (l *Level) Delete(orderID uint64) bool {
	for i := range l.orders {
		if l.orders[i].OrderID == orderID {
			l.orders = append(l.orders[:i], l.orders[i+1:]...)
			return true
		}
	}
	return false
}

// Size is the aggregate resting size at this level.
func (l *Level) Size() quant.Quantity {
	if len(l.orders) == 0 {
		return quant.QtyZero(0)
	}
	raw := int64(0)
	for i := range l.orders {
		raw = safe.Add(raw, l.orders[i].Size.Raw)
	}
	return quant.QtyFromRaw(raw, l.orders[0].Size.Precision)
}

// Len is the number of resting orders at this level.
func (l *Level) Len() int {
	return len(l.orders)
}

// Orders returns the resting orders in priority order.
func (l *Level) Orders() []BookOrder {
	out := make([]BookOrder, len(l.orders))
	copy(out, l.orders)
	return out
}
