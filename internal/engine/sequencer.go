// Package engine is the single-threaded core that folds the event
// stream into books, positions and the account. Exactly one goroutine
// runs the hot path; everything else talks to it through the inbox or
// the snapshot accessors.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"marketcore/internal/account"
	"marketcore/internal/book"
	"marketcore/internal/bus"
	"marketcore/internal/domain"
	"marketcore/internal/event"
	"marketcore/internal/fsm"
	"marketcore/internal/infra"
	"marketcore/internal/position"
	"marketcore/internal/storage"
	"marketcore/pkg/quant"
)

// Lifecycle states.
const (
	StateInitialized = "INITIALIZED"
	StateRunning     = "RUNNING"
	StateStopped     = "STOPPED"
	StateFaulted     = "FAULTED"
)

func lifecycleTable() map[fsm.Transition]string {
	return map[fsm.Transition]string{
		{State: StateInitialized, Trigger: "start"}: StateRunning,
		{State: StateInitialized, Trigger: "stop"}:  StateStopped,
		{State: StateRunning, Trigger: "stop"}:      StateStopped,
		{State: StateRunning, Trigger: "fault"}:     StateFaulted,
		{State: StateStopped, Trigger: "start"}:     StateRunning,
	}
}

type sequenced interface {
	SetSeq(seq uint64)
}

// Sequencer is the core single-threaded event processor.
type Sequencer struct {
	inbox       chan event.Event
	instruments map[string]*domain.Instrument

	books     map[string]*book.OrderBook
	positions map[string]*position.Position
	marks     map[string]quant.Price
	desynced  map[string]bool
	account   account.Account

	nextSeq uint64
	store   *storage.EventStore
	bus     *bus.Bus

	resyncBreaker *infra.CircuitBreaker
	resyncLimiter *infra.RateLimiter
	lifecycle     *fsm.Machine

	log *slog.Logger

	// Used only for external reads. The Run goroutine is the single
	// writer and mutates books, positions and marks without holding
	// mu, so the Get* accessors return advisory snapshots, not values
	// consistent with any particular event.
	mu sync.RWMutex
}

// NewSequencer creates a sequencer over the given instruments. The
// store and account may be nil (no persistence / data-only node).
func NewSequencer(inboxSize int, instruments []*domain.Instrument, acct account.Account,
	store *storage.EventStore, b *bus.Bus, log *slog.Logger) *Sequencer {
	if log == nil {
		log = slog.Default()
	}
	if b == nil {
		b = bus.New(log)
	}
	byID := make(map[string]*domain.Instrument, len(instruments))
	for _, inst := range instruments {
		byID[inst.ID] = inst
	}
	return &Sequencer{
		inbox:         make(chan event.Event, inboxSize),
		instruments:   byID,
		books:         make(map[string]*book.OrderBook),
		positions:     make(map[string]*position.Position),
		marks:         make(map[string]quant.Price),
		desynced:      make(map[string]bool),
		account:       acct,
		nextSeq:       1,
		store:         store,
		bus:           b,
		resyncBreaker: infra.NewCircuitBreaker(infra.DefaultCircuitBreakerConfig("resync")),
		resyncLimiter: infra.NewRateLimiter(3, 0.5),
		lifecycle:     fsm.New(lifecycleTable(), StateInitialized),
		log:           log,
	}
}

// Inbox returns the event channel. External workers send events here.
func (s *Sequencer) Inbox() chan<- event.Event {
	return s.inbox
}

// Bus returns the bus the sequencer publishes on.
func (s *Sequencer) Bus() *bus.Bus { return s.bus }

// LifecycleState returns the current lifecycle state.
func (s *Sequencer) LifecycleState() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lifecycle.State()
}

// RecoverFromWAL restores state by replaying all events from the log.
// Replay and live use the same dispatch path.
func (s *Sequencer) RecoverFromWAL(ctx context.Context) error {
	if s.store == nil {
		s.log.Info("no store configured, starting fresh")
		return nil
	}

	lastSeq, err := s.store.GetLastSeq(ctx)
	if err != nil {
		return fmt.Errorf("failed to get last seq: %w", err)
	}
	if lastSeq == 0 {
		s.log.Info("event log is empty, starting fresh")
		return nil
	}

	events, err := s.store.LoadEvents(ctx, 1)
	if err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}

	s.log.Info("replaying events from log", "count", len(events))
	for _, ev := range events {
		s.ReplayEvent(ev)
	}
	s.log.Info("state recovered from log", "next_seq", s.nextSeq)
	return nil
}

// ValidateSequence checks for gaps on pre-sequenced events. Small gaps
// are tolerated and fast-forwarded; large gaps halt the engine.
// Returns false when the event is a duplicate and must be skipped.
func (s *Sequencer) ValidateSequence(evSeq uint64) bool {
	expected := s.nextSeq
	if evSeq == expected {
		return true
	}

	diff := int64(evSeq) - int64(expected)

	if diff < 0 {
		s.log.Warn("SEQUENCE_DUPLICATE_IGNORED", "expected", expected, "got", evSeq)
		return false
	}

	if diff <= 10 {
		s.log.Warn("SEQUENCE_GAP_TOLERATED", "expected", expected, "got", evSeq, "gap", diff)
		s.nextSeq = evSeq
		return true
	}

	panic(fmt.Sprintf("SEQUENCE_GAP_FATAL: expected %d, got %d", expected, evSeq))
}

// Run starts the main event loop. This MUST be run in a single goroutine.
func (s *Sequencer) Run(ctx context.Context) {
	s.mu.Lock()
	_, err := s.lifecycle.Trigger("start")
	s.mu.Unlock()
	if err != nil {
		s.log.Error("sequencer cannot start", "err", err)
		return
	}
	s.log.Info("sequencer started")

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("CRITICAL_PANIC_DETECTED", "panic", r)
			s.DumpState("panic_dump.json")
			s.mu.Lock()
			s.lifecycle.Trigger("fault")
			s.mu.Unlock()
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sequencer stopping")
			s.mu.Lock()
			s.lifecycle.Trigger("stop")
			s.mu.Unlock()
			return
		case ev := <-s.inbox:
			s.processEvent(ev)
		}
	}
}

func (s *Sequencer) processEvent(ev event.Event) {
	// Feed events arrive unsequenced; the engine stamps them. Events
	// that already carry a sequence go through gap validation.
	if ev.GetSeq() == 0 {
		ev.(sequenced).SetSeq(s.nextSeq)
	} else if !s.ValidateSequence(ev.GetSeq()) {
		return
	}

	// Log-first: state mutation only after the event is durable.
	if s.store != nil {
		if err := s.store.SaveEvent(context.Background(), ev); err != nil {
			panic(fmt.Sprintf("PERSISTENCE_FAILURE: %v", err))
		}
	}

	s.dispatch(ev)
	s.nextSeq++
}

// ProcessEventForTest runs one event through the live path without
// the run loop. Test helper only.
func (s *Sequencer) ProcessEventForTest(ev event.Event) {
	s.processEvent(ev)
}

// ReplayEvent processes an event synchronously without logging it.
// Used exclusively during recovery and by the backtest replayer.
func (s *Sequencer) ReplayEvent(ev event.Event) {
	if ev.GetSeq() != s.nextSeq {
		panic(fmt.Sprintf("REPLAY_GAP_DETECTED: expected %d, got %d", s.nextSeq, ev.GetSeq()))
	}
	s.dispatch(ev)
	s.nextSeq++
}

func (s *Sequencer) dispatch(ev event.Event) {
	switch e := ev.(type) {
	case *event.BookDeltaEvent:
		s.handleBookDelta(e)
		event.ReleaseBookDeltaEvent(e)
	case *event.OrderFilledEvent:
		s.handleOrderFilled(e)
	case *event.AccountStateEvent:
		s.handleAccountState(e)
	case *event.MarkPriceEvent:
		s.handleMarkPrice(e)
	default:
		s.log.Warn("unknown event type", "type", ev.GetType())
	}
}

func (s *Sequencer) handleBookDelta(e *event.BookDeltaEvent) {
	b, ok := s.books[e.InstrumentID]
	if !ok {
		b = book.NewOrderBook(e.InstrumentID)
		s.books[e.InstrumentID] = b
	}

	if err := b.ApplyDelta(e.Action, e.Order, e.VenueSequence, e.Ts); err != nil {
		s.markDesynced(e.InstrumentID, err)
		return
	}

	// A clear delta is the start of a snapshot; the desync is healed.
	if e.Action == domain.BookClear && s.desynced[e.InstrumentID] {
		delete(s.desynced, e.InstrumentID)
		s.resyncBreaker.RecordSuccess()
		s.log.Info("book resynced", "instrument_id", e.InstrumentID)
	}

	s.bus.Publish("data.book."+e.InstrumentID, TopOfBook{
		InstrumentID: e.InstrumentID,
		BidPrice:     optionalPrice(b.BestBidPrice),
		AskPrice:     optionalPrice(b.BestAskPrice),
		BidSize:      optionalQty(b.BestBidSize),
		AskSize:      optionalQty(b.BestAskSize),
		Ts:           e.Ts,
	})
}

// markDesynced flags the instrument and asks the feed for a snapshot,
// gated so a flapping stream cannot hammer the venue.
func (s *Sequencer) markDesynced(instrumentID string, cause error) {
	first := !s.desynced[instrumentID]
	s.desynced[instrumentID] = true
	s.log.Error("book integrity violated", "instrument_id", instrumentID, "err", cause)

	if first {
		s.resyncBreaker.RecordFailure()
	}
	if s.resyncBreaker.Allow() && s.resyncLimiter.TryAcquire() {
		s.bus.Publish("data.book.resync_request."+instrumentID, cause)
	}
}

func (s *Sequencer) handleOrderFilled(e *event.OrderFilledEvent) {
	fill := e.Fill
	inst, ok := s.instruments[fill.InstrumentID]
	if !ok {
		s.log.Warn("fill for unknown instrument dropped", "instrument_id", fill.InstrumentID)
		return
	}

	if fill.Commission == nil && s.account != nil && fill.LiquiditySide != domain.NoLiquiditySide {
		c, err := s.account.CalculateCommission(inst, fill.LastQty, fill.LastPx, fill.LiquiditySide, false)
		if err != nil {
			s.log.Warn("commission calculation failed", "trade_id", fill.TradeID, "err", err)
		} else {
			fill.Commission = &c
		}
	}

	pos, ok := s.positions[fill.PositionID]
	if !ok {
		p, err := position.New(inst, fill)
		if err != nil {
			s.log.Error("position open rejected", "position_id", fill.PositionID, "err", err)
			return
		}
		s.positions[fill.PositionID] = p
		pos = p
	} else {
		if err := pos.Apply(fill); err != nil {
			s.log.Error("fill rejected", "position_id", fill.PositionID, "trade_id", fill.TradeID, "err", err)
			return
		}
	}

	if s.account != nil && pos.IsClosed() {
		if pnls, err := s.account.CalculatePnLs(inst, fill, pos); err == nil {
			s.bus.Publish("events.account.pnl."+s.account.ID(), pnls)
		}
	}

	s.bus.Publish("events.position."+fill.PositionID, pos.ToDict())
}

func (s *Sequencer) handleAccountState(e *event.AccountStateEvent) {
	if s.account == nil {
		s.log.Warn("account state dropped, no account configured", "account_id", e.State.AccountID)
		return
	}
	if err := s.account.Apply(e.State); err != nil {
		s.log.Error("account state rejected", "account_id", e.State.AccountID, "err", err)
		return
	}
	s.bus.Publish("events.account."+s.account.ID(), e.State)
}

func (s *Sequencer) handleMarkPrice(e *event.MarkPriceEvent) {
	s.marks[e.InstrumentID] = e.Price
	s.bus.Publish("data.mark_price."+e.InstrumentID, e.Price)
}

// TopOfBook is the published best-bid/offer snapshot.
type TopOfBook struct {
	InstrumentID string          `json:"instrument_id"`
	BidPrice     *quant.Price    `json:"bid_price,omitempty"`
	AskPrice     *quant.Price    `json:"ask_price,omitempty"`
	BidSize      *quant.Quantity `json:"bid_size,omitempty"`
	AskSize      *quant.Quantity `json:"ask_size,omitempty"`
	Ts           quant.UnixNanos `json:"ts"`
}

func optionalPrice(get func() (quant.Price, bool)) *quant.Price {
	if p, ok := get(); ok {
		return &p
	}
	return nil
}

func optionalQty(get func() (quant.Quantity, bool)) *quant.Quantity {
	if q, ok := get(); ok {
		return &q
	}
	return nil
}

// GetNextSeq returns the next expected sequence (external read).
func (s *Sequencer) GetNextSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextSeq
}

// IsDesynced reports whether the instrument's book lost integrity and
// is waiting for a snapshot.
func (s *Sequencer) IsDesynced(instrumentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.desynced[instrumentID]
}

// GetTopOfBook returns the current best bid/offer (external read).
func (s *Sequencer) GetTopOfBook(instrumentID string) (TopOfBook, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.books[instrumentID]
	if !ok {
		return TopOfBook{}, false
	}
	return TopOfBook{
		InstrumentID: instrumentID,
		BidPrice:     optionalPrice(b.BestBidPrice),
		AskPrice:     optionalPrice(b.BestAskPrice),
		BidSize:      optionalQty(b.BestBidSize),
		AskSize:      optionalQty(b.BestAskSize),
	}, true
}

// GetMarkPrice returns the last mark for the instrument.
func (s *Sequencer) GetMarkPrice(instrumentID string) (quant.Price, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.marks[instrumentID]
	return p, ok
}

// GetPositionSnapshot returns a position as its flat string form
// (external read; the live Position never leaves the hot path).
func (s *Sequencer) GetPositionSnapshot(positionID string) (map[string]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[positionID]
	if !ok {
		return nil, false
	}
	return pos.ToDict(), true
}

// DumpState writes the entire internal state to a file (for post-mortem).
func (s *Sequencer) DumpState(filename string) {
	s.log.Info("dumping internal state", "file", filename)

	positions := make(map[string]map[string]string, len(s.positions))
	for id, pos := range s.positions {
		positions[id] = pos.ToDict()
	}
	books := make(map[string]TopOfBook, len(s.books))
	for id := range s.books {
		if tob, ok := s.topOfBookLocked(id); ok {
			books[id] = tob
		}
	}

	data := struct {
		NextSeq   uint64                       `json:"next_seq"`
		Positions map[string]map[string]string `json:"positions"`
		Books     map[string]TopOfBook         `json:"books"`
		Marks     map[string]quant.Price       `json:"marks"`
		Desynced  map[string]bool              `json:"desynced"`
	}{
		NextSeq:   s.nextSeq,
		Positions: positions,
		Books:     books,
		Marks:     s.marks,
		Desynced:  s.desynced,
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		s.log.Error("failed to marshal state", "err", err)
		return
	}
	if err := os.WriteFile(filename, b, 0644); err != nil {
		s.log.Error("failed to write state dump", "err", err)
	}
}

func (s *Sequencer) topOfBookLocked(instrumentID string) (TopOfBook, bool) {
	b, ok := s.books[instrumentID]
	if !ok {
		return TopOfBook{}, false
	}
	return TopOfBook{
		InstrumentID: instrumentID,
		BidPrice:     optionalPrice(b.BestBidPrice),
		AskPrice:     optionalPrice(b.BestAskPrice),
		BidSize:      optionalQty(b.BestBidSize),
		AskSize:      optionalQty(b.BestAskSize),
	}, true
}