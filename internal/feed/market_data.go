package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"marketcore/internal/book"
	"marketcore/internal/domain"
	"marketcore/internal/event"
	"marketcore/pkg/quant"
)

// MarketDataHandler converts normalized stream messages into engine
// events. One handler serves every subscribed instrument on the
// connection; unknown instruments are skipped until their reference
// data arrives.
type MarketDataHandler struct {
	url         string
	instruments map[string]*domain.Instrument
	inbox       chan<- event.Event
	log         *slog.Logger

	now func() quant.UnixNanos
}

// NewMarketDataHandler builds a handler for the given instruments.
func NewMarketDataHandler(url string, instruments []*domain.Instrument,
	inbox chan<- event.Event, log *slog.Logger) *MarketDataHandler {
	if log == nil {
		log = slog.Default()
	}
	byID := make(map[string]*domain.Instrument, len(instruments))
	for _, inst := range instruments {
		byID[inst.ID] = inst
	}
	return &MarketDataHandler{
		url:         url,
		instruments: byID,
		inbox:       inbox,
		log:         log,
		now:         func() quant.UnixNanos { return quant.UnixNanos(time.Now().UnixNano()) },
	}
}

func (h *MarketDataHandler) GetURL() string { return h.url }
func (h *MarketDataHandler) ID() string     { return "MARKET_DATA" }

// OnConnect subscribes to every configured instrument stream.
func (h *MarketDataHandler) OnConnect(ctx context.Context, conn *websocket.Conn) error {
	ids := make([]string, 0, len(h.instruments))
	for id := range h.instruments {
		ids = append(ids, id)
	}
	sub := struct {
		Op   string   `json:"op"`
		Args []string `json:"args"`
	}{Op: "subscribe", Args: ids}
	return conn.WriteJSON(sub)
}

// OnPing keeps the connection alive with a control frame.
func (h *MarketDataHandler) OnPing(ctx context.Context, conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// OnMessage parses one wire message and forwards the resulting event.
// Malformed messages are logged and dropped; the stream keeps going.
func (h *MarketDataHandler) OnMessage(ctx context.Context, msg []byte) {
	ev, err := h.Parse(msg)
	if err != nil {
		h.log.Warn("feed message dropped", "err", err)
		return
	}
	if ev == nil {
		return
	}
	select {
	case h.inbox <- ev:
	case <-ctx.Done():
	}
}

type wireMessage struct {
	Type         string `json:"type"`
	InstrumentID string `json:"instrument_id"`
	TsEvent      int64  `json:"ts_event"`

	// delta
	Action   string `json:"action,omitempty"`
	Side     string `json:"side,omitempty"`
	Price    string `json:"price,omitempty"`
	Size     string `json:"size,omitempty"`
	OrderID  uint64 `json:"order_id,omitempty"`
	Sequence uint64 `json:"sequence,omitempty"`

	// fill
	ClientOrderID string `json:"client_order_id,omitempty"`
	VenueOrderID  string `json:"venue_order_id,omitempty"`
	TradeID       string `json:"trade_id,omitempty"`
	PositionID    string `json:"position_id,omitempty"`
	LastQty       string `json:"last_qty,omitempty"`
	LastPx        string `json:"last_px,omitempty"`
	Commission    string `json:"commission,omitempty"`
	Liquidity     string `json:"liquidity,omitempty"`
}

// Parse converts one wire message into an engine event. A nil event
// with nil error means the message was intentionally skipped.
func (h *MarketDataHandler) Parse(msg []byte) (event.Event, error) {
	var m wireMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, fmt.Errorf("malformed feed message: %w", err)
	}

	inst, ok := h.instruments[m.InstrumentID]
	if !ok {
		// Expected while reference data is still loading.
		h.log.Debug("message for unloaded instrument skipped", "instrument_id", m.InstrumentID)
		return nil, nil
	}

	switch m.Type {
	case "delta":
		return h.parseDelta(inst, &m)
	case "mark_price":
		return h.parseMarkPrice(inst, &m)
	case "fill":
		return h.parseFill(inst, &m)
	default:
		return nil, fmt.Errorf("unknown feed message type %q", m.Type)
	}
}

func (h *MarketDataHandler) parseDelta(inst *domain.Instrument, m *wireMessage) (event.Event, error) {
	action, err := domain.BookActionFromStr(m.Action)
	if err != nil {
		return nil, err
	}

	ev := event.AcquireBookDeltaEvent()
	ev.Ts = quant.UnixNanos(m.TsEvent)
	ev.InstrumentID = inst.ID
	ev.Action = action
	ev.VenueSequence = m.Sequence

	if action != domain.BookClear {
		side, err := domain.OrderSideFromStr(m.Side)
		if err != nil {
			event.ReleaseBookDeltaEvent(ev)
			return nil, err
		}
		price, err := quant.PriceFromStr(m.Price, inst.PricePrecision)
		if err != nil {
			event.ReleaseBookDeltaEvent(ev)
			return nil, err
		}
		size, err := quant.QtyFromStr(m.Size, inst.SizePrecision)
		if err != nil {
			event.ReleaseBookDeltaEvent(ev)
			return nil, err
		}
		ev.Order = book.BookOrder{Side: side, Price: price, Size: size, OrderID: m.OrderID}
	}
	return ev, nil
}

func (h *MarketDataHandler) parseMarkPrice(inst *domain.Instrument, m *wireMessage) (event.Event, error) {
	price, err := quant.PriceFromStr(m.Price, inst.PricePrecision)
	if err != nil {
		return nil, err
	}
	return &event.MarkPriceEvent{
		BaseEvent:    event.BaseEvent{Ts: quant.UnixNanos(m.TsEvent)},
		InstrumentID: inst.ID,
		Price:        price,
	}, nil
}

func (h *MarketDataHandler) parseFill(inst *domain.Instrument, m *wireMessage) (event.Event, error) {
	side, err := domain.OrderSideFromStr(m.Side)
	if err != nil {
		return nil, err
	}
	qty, err := quant.QtyFromStr(m.LastQty, inst.SizePrecision)
	if err != nil {
		return nil, err
	}
	px, err := quant.PriceFromStr(m.LastPx, inst.PricePrecision)
	if err != nil {
		return nil, err
	}

	var commission *quant.Money
	if m.Commission != "" {
		c, err := quant.MoneyFromStr(m.Commission)
		if err != nil {
			return nil, err
		}
		commission = &c
	}

	tradeID := m.TradeID
	if tradeID == "" {
		// Some venues omit trade ids on liquidation fills.
		tradeID = uuid.NewString()
	}

	fill := domain.OrderFilled{
		InstrumentID:  inst.ID,
		ClientOrderID: m.ClientOrderID,
		VenueOrderID:  m.VenueOrderID,
		TradeID:       tradeID,
		PositionID:    m.PositionID,
		OrderSide:     side,
		LastQty:       qty,
		LastPx:        px,
		Commission:    commission,
		LiquiditySide: liquidityFromStr(m.Liquidity),
		TsEvent:       quant.UnixNanos(m.TsEvent),
		TsInit:        h.now(),
	}
	if err := fill.Validate(); err != nil {
		return nil, err
	}
	return &event.OrderFilledEvent{
		BaseEvent: event.BaseEvent{Ts: fill.TsEvent},
		Fill:      fill,
	}, nil
}

func liquidityFromStr(s string) domain.LiquiditySide {
	switch s {
	case "MAKER":
		return domain.Maker
	case "TAKER":
		return domain.Taker
	default:
		return domain.NoLiquiditySide
	}
}
