package storage

import (
	"context"
	"testing"

	"marketcore/internal/book"
	"marketcore/internal/domain"
	"marketcore/internal/event"
	"marketcore/pkg/quant"
)

func newTestStore(t *testing.T) *EventStore {
	t.Helper()
	store, err := NewEventStore(t.TempDir() + "/events.db")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGetLastSeqEmpty(t *testing.T) {
	store := newTestStore(t)

	seq, err := store.GetLastSeq(context.Background())
	if err != nil {
		t.Fatalf("GetLastSeq: %v", err)
	}
	if seq != 0 {
		t.Errorf("expected 0 on empty log, got %d", seq)
	}
}

func TestSaveAndLoadEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	delta := &event.BookDeltaEvent{
		BaseEvent:    event.BaseEvent{Seq: 1, Ts: 100},
		InstrumentID: "BTCUSDT-PERP",
		Action:       domain.BookAdd,
		Order: book.BookOrder{
			Side:    domain.Buy,
			Price:   quant.MustPrice("50000.00", 2),
			Size:    quant.MustQty("1.500", 3),
			OrderID: 42,
		},
		VenueSequence: 7,
	}
	mark := &event.MarkPriceEvent{
		BaseEvent:    event.BaseEvent{Seq: 2, Ts: 200},
		InstrumentID: "BTCUSDT-PERP",
		Price:        quant.MustPrice("50050.00", 2),
	}

	if err := store.SaveEvent(ctx, delta); err != nil {
		t.Fatalf("SaveEvent delta: %v", err)
	}
	if err := store.SaveEvent(ctx, mark); err != nil {
		t.Fatalf("SaveEvent mark: %v", err)
	}

	last, err := store.GetLastSeq(ctx)
	if err != nil {
		t.Fatalf("GetLastSeq: %v", err)
	}
	if last != 2 {
		t.Errorf("last seq = %d, want 2", last)
	}

	events, err := store.LoadEvents(ctx, 1)
	if err != nil {
		t.Fatalf("LoadEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("loaded %d events, want 2", len(events))
	}

	got, ok := events[0].(*event.BookDeltaEvent)
	if !ok {
		t.Fatalf("expected *BookDeltaEvent, got %T", events[0])
	}
	if got.Order.Price.String() != "50000.00" || got.Order.OrderID != 42 {
		t.Errorf("round-tripped delta = %+v", got)
	}
	if got.VenueSequence != 7 {
		t.Errorf("venue sequence = %d", got.VenueSequence)
	}

	gotMark, ok := events[1].(*event.MarkPriceEvent)
	if !ok {
		t.Fatalf("expected *MarkPriceEvent, got %T", events[1])
	}
	if gotMark.Price.String() != "50050.00" {
		t.Errorf("round-tripped mark = %+v", gotMark)
	}
}

func TestSaveEventRejectsDuplicateSeq(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ev := &event.MarkPriceEvent{
		BaseEvent:    event.BaseEvent{Seq: 1, Ts: 1},
		InstrumentID: "BTCUSDT-PERP",
		Price:        quant.MustPrice("1.00", 2),
	}
	if err := store.SaveEvent(ctx, ev); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := store.SaveEvent(ctx, ev); err == nil {
		t.Error("second save with same seq should fail")
	}
}

func TestLoadEventsFromOffset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for seq := uint64(1); seq <= 5; seq++ {
		ev := &event.MarkPriceEvent{
			BaseEvent:    event.BaseEvent{Seq: seq, Ts: quant.UnixNanos(seq)},
			InstrumentID: "BTCUSDT-PERP",
			Price:        quant.MustPrice("1.00", 2),
		}
		if err := store.SaveEvent(ctx, ev); err != nil {
			t.Fatalf("save %d: %v", seq, err)
		}
	}

	events, err := store.LoadEvents(ctx, 3)
	if err != nil {
		t.Fatalf("LoadEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("loaded %d events, want 3", len(events))
	}
	if events[0].GetSeq() != 3 {
		t.Errorf("first loaded seq = %d, want 3", events[0].GetSeq())
	}
}
