package book

import (
	"testing"

	"marketcore/internal/domain"
	"marketcore/pkg/quant"
)

func ownOrder(id string, side domain.OrderSide, price, size string) OwnBookOrder {
	return OwnBookOrder{
		ClientOrderID: id,
		Side:          side,
		Price:         quant.MustPrice(price, 2),
		Size:          quant.MustQty(size, 0),
		OrderType:     domain.Limit,
		TimeInForce:   domain.GTC,
		Status:        domain.Accepted,
	}
}

func TestOwnOrderBookAddAndLookup(t *testing.T) {
	b := NewOwnOrderBook("ETHUSDT-PERP")

	if err := b.Add(ownOrder("O-1", domain.Buy, "100.00", "5"), 100); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := b.Add(ownOrder("O-1", domain.Buy, "100.00", "5"), 200); err == nil {
		t.Fatal("re-adding a live client order id should error")
	}

	got, ok := b.Order("O-1")
	if !ok || got.Price.String() != "100.00" {
		t.Fatalf("lookup = %+v (%v), want O-1 at 100.00", got, ok)
	}
	if _, ok := b.Order("O-2"); ok {
		t.Fatal("unknown id should not resolve")
	}
}

func TestOwnOrderBookFIFOWithinLevel(t *testing.T) {
	b := NewOwnOrderBook("ETHUSDT-PERP")
	for _, o := range []OwnBookOrder{
		ownOrder("O-1", domain.Buy, "100.00", "5"),
		ownOrder("O-2", domain.Buy, "100.00", "3"),
		ownOrder("O-3", domain.Buy, "100.00", "7"),
	} {
		if err := b.Add(o, 1); err != nil {
			t.Fatalf("add %s: %v", o.ClientOrderID, err)
		}
	}

	bids := b.BidsToMap()
	orders := bids[quant.MustPrice("100.00", 2)]
	if len(orders) != 3 {
		t.Fatalf("want 3 orders at level, got %d", len(orders))
	}
	for i, want := range []string{"O-1", "O-2", "O-3"} {
		if orders[i].ClientOrderID != want {
			t.Fatalf("position %d = %s, want %s", i, orders[i].ClientOrderID, want)
		}
	}
}

func TestOwnOrderBookUpdateSamePriceKeepsPosition(t *testing.T) {
	b := NewOwnOrderBook("ETHUSDT-PERP")
	if err := b.Add(ownOrder("O-1", domain.Buy, "100.00", "5"), 1); err != nil {
		t.Fatal(err)
	}
	if err := b.Add(ownOrder("O-2", domain.Buy, "100.00", "3"), 2); err != nil {
		t.Fatal(err)
	}

	if err := b.Update(ownOrder("O-1", domain.Buy, "100.00", "2"), 3); err != nil {
		t.Fatalf("update: %v", err)
	}

	orders := b.BidsToMap()[quant.MustPrice("100.00", 2)]
	if orders[0].ClientOrderID != "O-1" || orders[0].Size.String() != "2" {
		t.Fatalf("size-only amend should keep queue position, got %+v", orders)
	}
}

func TestOwnOrderBookUpdatePriceChangeForfeitsPriority(t *testing.T) {
	b := NewOwnOrderBook("ETHUSDT-PERP")
	if err := b.Add(ownOrder("O-1", domain.Buy, "100.00", "5"), 1); err != nil {
		t.Fatal(err)
	}
	if err := b.Add(ownOrder("O-2", domain.Buy, "99.00", "3"), 2); err != nil {
		t.Fatal(err)
	}
	if err := b.Add(ownOrder("O-3", domain.Buy, "99.00", "4"), 3); err != nil {
		t.Fatal(err)
	}

	if err := b.Update(ownOrder("O-1", domain.Buy, "99.00", "5"), 4); err != nil {
		t.Fatalf("update: %v", err)
	}

	orders := b.BidsToMap()[quant.MustPrice("99.00", 2)]
	if len(orders) != 3 || orders[2].ClientOrderID != "O-1" {
		t.Fatalf("repriced order should join the back of the queue, got %+v", orders)
	}
	if prices := b.BidPrices(); len(prices) != 1 {
		t.Fatalf("old level should be gone, got prices %v", prices)
	}
}

func TestOwnOrderBookDelete(t *testing.T) {
	b := NewOwnOrderBook("ETHUSDT-PERP")
	if err := b.Add(ownOrder("O-1", domain.Buy, "100.00", "5"), 1); err != nil {
		t.Fatal(err)
	}

	if err := b.Delete("O-1", 2); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := b.Delete("O-1", 3); err == nil {
		t.Fatal("deleting an unknown order should error")
	}
	if len(b.BidPrices()) != 0 {
		t.Fatal("level should be removed with its last order")
	}
}

func TestOwnOrderBookClearCountsOnce(t *testing.T) {
	b := NewOwnOrderBook("ETHUSDT-PERP")
	for i, o := range []OwnBookOrder{
		ownOrder("O-1", domain.Buy, "100.00", "5"),
		ownOrder("O-2", domain.Sell, "101.00", "3"),
		ownOrder("O-3", domain.Sell, "102.00", "7"),
	} {
		if err := b.Add(o, quant.UnixNanos(i)); err != nil {
			t.Fatal(err)
		}
	}
	before := b.Count()

	b.Clear(999)

	if b.Count() != before+1 {
		t.Fatalf("count = %d, want %d: clear is one event", b.Count(), before+1)
	}
	if len(b.BidsToMap()) != 0 || len(b.AsksToMap()) != 0 {
		t.Fatal("book should be empty after clear")
	}
	if b.TsLast != 999 {
		t.Fatalf("ts_last = %d, want 999", b.TsLast)
	}
}

func TestOwnOrderBookPriceOrdering(t *testing.T) {
	b := NewOwnOrderBook("ETHUSDT-PERP")
	for i, o := range []OwnBookOrder{
		ownOrder("B-1", domain.Buy, "99.00", "1"),
		ownOrder("B-2", domain.Buy, "101.00", "1"),
		ownOrder("B-3", domain.Buy, "100.00", "1"),
		ownOrder("A-1", domain.Sell, "103.00", "1"),
		ownOrder("A-2", domain.Sell, "102.00", "1"),
	} {
		if err := b.Add(o, quant.UnixNanos(i)); err != nil {
			t.Fatal(err)
		}
	}

	bids := b.BidPrices()
	wantBids := []string{"101.00", "100.00", "99.00"}
	for i, w := range wantBids {
		if bids[i].String() != w {
			t.Fatalf("bid prices = %v, want descending %v", bids, wantBids)
		}
	}

	asks := b.AskPrices()
	wantAsks := []string{"102.00", "103.00"}
	for i, w := range wantAsks {
		if asks[i].String() != w {
			t.Fatalf("ask prices = %v, want ascending %v", asks, wantAsks)
		}
	}
}

func TestOwnBookOrderExposureAndSignedSize(t *testing.T) {
	buy := ownOrder("O-1", domain.Buy, "100.00", "5")
	if buy.Exposure().String() != "500" {
		t.Fatalf("exposure = %s, want 500", buy.Exposure())
	}
	if buy.SignedSize().String() != "5" {
		t.Fatalf("signed size = %s, want 5", buy.SignedSize())
	}

	sell := ownOrder("O-2", domain.Sell, "100.00", "5")
	if sell.SignedSize().String() != "-5" {
		t.Fatalf("signed size = %s, want -5", sell.SignedSize())
	}
}
