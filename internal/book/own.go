package book

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"marketcore/internal/domain"
	"marketcore/pkg/quant"
)

// OwnBookOrder is one of the trader's own working orders. It tracks
// the order's venue-acknowledged status alongside price and size, and
// is keyed by client order id rather than a venue book sequence.
type OwnBookOrder struct {
	ClientOrderID string
	Side          domain.OrderSide
	Price         quant.Price
	Size          quant.Quantity
	OrderType     domain.OrderType
	TimeInForce   domain.TimeInForce
	Status        domain.OrderStatus
	TsLast        quant.UnixNanos
}

// Exposure is price x size as a decimal.
func (o OwnBookOrder) Exposure() decimal.Decimal {
	return o.Price.AsDecimal().Mul(o.Size.AsDecimal())
}

// SignedSize is size for BUY, negated size for SELL.
func (o OwnBookOrder) SignedSize() decimal.Decimal {
	if o.Side == domain.Sell {
		return o.Size.AsDecimal().Neg()
	}
	return o.Size.AsDecimal()
}

func (o OwnBookOrder) String() string {
	return fmt.Sprintf("OwnBookOrder(%s %s %s @ %s %s %s)",
		o.ClientOrderID, o.Side, o.Size, o.Price, o.OrderType, o.Status)
}

type ownLevel struct {
	price  quant.Price
	orders []OwnBookOrder // FIFO by arrival at this price
}

// OwnOrderBook tracks the trader's own resting orders separately from
// public liquidity, for self-trade prevention and queue-position
// estimation. The primary index maps client order id to (side, price)
// for O(1) update and delete.
type OwnOrderBook struct {
	InstrumentID string

	bidLevels map[int64]*ownLevel
	askLevels map[int64]*ownLevel
	index     map[string]ownKey

	count  uint64
	TsLast quant.UnixNanos
}

type ownKey struct {
	side     domain.OrderSide
	priceRaw int64
}

// NewOwnOrderBook creates an empty own-order book for the instrument.
func NewOwnOrderBook(instrumentID string) *OwnOrderBook {
	return &OwnOrderBook{
		InstrumentID: instrumentID,
		bidLevels:    make(map[int64]*ownLevel),
		askLevels:    make(map[int64]*ownLevel),
		index:        make(map[string]ownKey),
	}
}

// Count is the number of events applied, including clears.
func (b *OwnOrderBook) Count() uint64 {
	return b.count
}

// Add appends the order at the back of its price bucket's FIFO queue.
// Re-adding a live client order id is a data-integrity error.
func (b *OwnOrderBook) Add(order OwnBookOrder, tsEvent quant.UnixNanos) error {
	if _, exists := b.index[order.ClientOrderID]; exists {
		return fmt.Errorf("own book %s: order %s already present", b.InstrumentID, order.ClientOrderID)
	}
	b.insert(order)
	b.bump(tsEvent)
	return nil
}

// Update replaces the order in place when the price is unchanged,
// keeping its queue position. A price change moves the order to the
// back of the new bucket's queue: price amendment forfeits time
// priority, mirroring venue behavior.
func (b *OwnOrderBook) Update(order OwnBookOrder, tsEvent quant.UnixNanos) error {
	key, ok := b.index[order.ClientOrderID]
	if !ok {
		return fmt.Errorf("own book %s: update for unknown order %s", b.InstrumentID, order.ClientOrderID)
	}

	if key.side == order.Side && key.priceRaw == order.Price.Raw {
		level := b.levels(key.side)[key.priceRaw]
		for i := range level.orders {
			if level.orders[i].ClientOrderID == order.ClientOrderID {
				level.orders[i] = order
				break
			}
		}
	} else {
		b.remove(order.ClientOrderID, key)
		b.insert(order)
	}

	b.bump(tsEvent)
	return nil
}

// Delete removes the order by client order id.
func (b *OwnOrderBook) Delete(clientOrderID string, tsEvent quant.UnixNanos) error {
	key, ok := b.index[clientOrderID]
	if !ok {
		return fmt.Errorf("own book %s: delete for unknown order %s", b.InstrumentID, clientOrderID)
	}
	b.remove(clientOrderID, key)
	b.bump(tsEvent)
	return nil
}

// Clear removes all orders. The event counter increments exactly once
// regardless of how many orders were removed.
func (b *OwnOrderBook) Clear(tsEvent quant.UnixNanos) {
	b.bidLevels = make(map[int64]*ownLevel)
	b.askLevels = make(map[int64]*ownLevel)
	b.index = make(map[string]ownKey)
	b.bump(tsEvent)
}

// Order returns the order with the given client order id, if present.
func (b *OwnOrderBook) Order(clientOrderID string) (OwnBookOrder, bool) {
	key, ok := b.index[clientOrderID]
	if !ok {
		return OwnBookOrder{}, false
	}
	level := b.levels(key.side)[key.priceRaw]
	for i := range level.orders {
		if level.orders[i].ClientOrderID == clientOrderID {
			return level.orders[i], true
		}
	}
	panic(fmt.Sprintf("own book %s: index out of sync for %s", b.InstrumentID, clientOrderID))
}

// BidsToMap exposes price -> FIFO-ordered own orders for the buy side.
func (b *OwnOrderBook) BidsToMap() map[quant.Price][]OwnBookOrder {
	return toMap(b.bidLevels)
}

// AsksToMap exposes price -> FIFO-ordered own orders for the sell side.
func (b *OwnOrderBook) AsksToMap() map[quant.Price][]OwnBookOrder {
	return toMap(b.askLevels)
}

// BidPrices returns the buy-side prices in descending order.
func (b *OwnOrderBook) BidPrices() []quant.Price {
	return sortedPrices(b.bidLevels, true)
}

// AskPrices returns the sell-side prices in ascending order.
func (b *OwnOrderBook) AskPrices() []quant.Price {
	return sortedPrices(b.askLevels, false)
}

func (b *OwnOrderBook) levels(side domain.OrderSide) map[int64]*ownLevel {
	if side == domain.Buy {
		return b.bidLevels
	}
	return b.askLevels
}

func (b *OwnOrderBook) insert(order OwnBookOrder) {
	levels := b.levels(order.Side)
	level, ok := levels[order.Price.Raw]
	if !ok {
		level = &ownLevel{price: order.Price}
		levels[order.Price.Raw] = level
	}
	level.orders = append(level.orders, order)
	b.index[order.ClientOrderID] = ownKey{side: order.Side, priceRaw: order.Price.Raw}
}

func (b *OwnOrderBook) remove(clientOrderID string, key ownKey) {
	levels := b.levels(key.side)
	level, ok := levels[key.priceRaw]
	if !ok {
		panic(fmt.Sprintf("own book %s: index references missing level", b.InstrumentID))
	}
	for i := range level.orders {
		if level.orders[i].ClientOrderID == clientOrderID {
			level.orders = append(level.orders[:i], level.orders[i+1:]...)
			break
		}
	}
	if len(level.orders) == 0 {
		delete(levels, key.priceRaw)
	}
	delete(b.index, clientOrderID)
}

func (b *OwnOrderBook) bump(tsEvent quant.UnixNanos) {
	b.count++
	b.TsLast = tsEvent
}

func toMap(levels map[int64]*ownLevel) map[quant.Price][]OwnBookOrder {
	out := make(map[quant.Price][]OwnBookOrder, len(levels))
	for _, level := range levels {
		orders := make([]OwnBookOrder, len(level.orders))
		copy(orders, level.orders)
		out[level.price] = orders
	}
	return out
}

func sortedPrices(levels map[int64]*ownLevel, descending bool) []quant.Price {
	out := make([]quant.Price, 0, len(levels))
	for _, level := range levels {
		out = append(out, level.price)
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Raw > out[j].Raw
		}
		return out[i].Raw < out[j].Raw
	})
	return out
}
