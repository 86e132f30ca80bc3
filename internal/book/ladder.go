package book

import (
	"sort"

	"marketcore/internal/domain"
	"marketcore/pkg/quant"
)

// ladder is one side of a book: price levels plus an order-id index
// for O(log n) level lookup and O(1) id resolution. Keys are kept
// sorted ascending; iteration order is derived from the side.
type ladder struct {
	side   domain.OrderSide
	levels map[int64]*Level
	keys   []int64          // sorted ascending by price raw
	index  map[uint64]int64 // order id -> price raw
}

func newLadder(side domain.OrderSide) ladder {
	return ladder{
		side:   side,
		levels: make(map[int64]*Level),
		index:  make(map[uint64]int64),
	}
}

func (l *ladder) add(order BookOrder) {
	key := order.Price.Raw
	level, ok := l.levels[key]
	if !ok {
		level = newLevel(order.Price)
		l.levels[key] = level
		l.insertKey(key)
	}
	level.Add(order)
	l.index[order.OrderID] = key
}

// update moves the order to its (possibly new) price. A price change
// forfeits queue priority: the order leaves its old bucket and joins
// the back of the new one.
func (l *ladder) update(order BookOrder) bool {
	oldKey, ok := l.index[order.OrderID]
	if !ok {
		return false
	}
	if oldKey == order.Price.Raw {
		return l.levels[oldKey].Update(order)
	}
	l.removeFromLevel(oldKey, order.OrderID)
	l.add(order)
	return true
}

func (l *ladder) delete(orderID uint64) bool {
	key, ok := l.index[orderID]
	if !ok {
		return false
	}
	l.removeFromLevel(key, orderID)
	delete(l.index, orderID)
	return true
}

func (l *ladder) clear() {
	l.levels = make(map[int64]*Level)
	l.keys = l.keys[:0]
	l.index = make(map[uint64]int64)
}

// best returns the most aggressive level: highest bid, lowest ask.
func (l *ladder) best() (*Level, bool) {
	if len(l.keys) == 0 {
		return nil, false
	}
	if l.side == domain.Buy {
		return l.levels[l.keys[len(l.keys)-1]], true
	}
	return l.levels[l.keys[0]], true
}

// inOrder returns levels most aggressive first.
func (l *ladder) inOrder() []*Level {
	out := make([]*Level, 0, len(l.keys))
	if l.side == domain.Buy {
		for i := len(l.keys) - 1; i >= 0; i-- {
			out = append(out, l.levels[l.keys[i]])
		}
	} else {
		for _, k := range l.keys {
			out = append(out, l.levels[k])
		}
	}
	return out
}

func (l *ladder) bestPrice() (quant.Price, bool) {
	level, ok := l.best()
	if !ok {
		return quant.Price{}, false
	}
	return level.Price, true
}

func (l *ladder) removeFromLevel(key int64, orderID uint64) {
	level, ok := l.levels[key]
	if !ok {
		return
	}
	level.Delete(orderID)
	if level.Len() == 0 {
		delete(l.levels, key)
		l.removeKey(key)
	}
}

func (l *ladder) insertKey(key int64) {
	i := sort.Search(len(l.keys), func(i int) bool { return l.keys[i] >= key })
	l.keys = append(l.keys, 0)
	copy(l.keys[i+1:], l.keys[i:])
	l.keys[i] = key
}

func (l *ladder) removeKey(key int64) {
	i := sort.Search(len(l.keys), func(i int) bool { return l.keys[i] >= key })
	if i < len(l.keys) && l.keys[i] == key {
		l.keys = append(l.keys[:i], l.keys[i+1:]...)
	}
}
