// Package position converts fill events into running exposure and
// profit, reproducing venue economics for partial fills, side flips
// and commission drag on both linear and inverse instruments.
package position

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"marketcore/internal/domain"
	"marketcore/pkg/quant"
)

// Position is the net exposure for one instrument under one position
// id. It is mutated sequentially by the arrival order of fills; no
// internal locking.
type Position struct {
	instrument *domain.Instrument

	ID             string
	OpeningOrderID string
	ClosingOrderID string

	// Entry is the side of the very first fill, retained across flips
	// and reopens for reporting.
	Entry domain.OrderSide
	Side  domain.PositionSide

	signedQty decimal.Decimal
	Quantity  quant.Quantity
	PeakQty   quant.Quantity

	AvgPxOpen  decimal.Decimal
	AvgPxClose decimal.Decimal
	// closedQty accumulates the closing fills of the current leg so
	// AvgPxClose is their size-weighted average. It resets when a new
	// leg opens.
	closedQty decimal.Decimal

	RealizedReturn decimal.Decimal
	RealizedPnL    quant.Money

	TsInit   quant.UnixNanos
	TsOpened quant.UnixNanos
	TsLast   quant.UnixNanos
	// TsClosed is zero while open; after a flip it describes the leg
	// that was just closed.
	TsClosed quant.UnixNanos

	events      []domain.OrderFilled
	tradeIDs    map[string]struct{}
	commissions map[string]quant.Money
}

// New creates a position from its opening fill.
func New(instrument *domain.Instrument, fill domain.OrderFilled) (*Position, error) {
	if err := fill.Validate(); err != nil {
		return nil, err
	}
	p := &Position{
		instrument:  instrument,
		ID:          fill.PositionID,
		Entry:       fill.OrderSide,
		RealizedPnL: quant.MoneyZero(instrument.SettlementCurrency()),
		TsInit:      fill.TsInit,
		tradeIDs:    make(map[string]struct{}),
		commissions: make(map[string]quant.Money),
	}
	if err := p.Apply(fill); err != nil {
		return nil, err
	}
	return p, nil
}

// Instrument returns the read-only reference data this position prices
// against.
func (p *Position) Instrument() *domain.Instrument {
	return p.instrument
}

func (p *Position) IsOpen() bool   { return p.Side != domain.Flat }
func (p *Position) IsClosed() bool { return p.Side == domain.Flat }
func (p *Position) IsLong() bool   { return p.Side == domain.Long }
func (p *Position) IsShort() bool  { return p.Side == domain.Short }

// SignedQty is positive long, negative short, zero flat.
func (p *Position) SignedQty() decimal.Decimal {
	return p.signedQty
}

// Events returns every fill applied, in order, across flips and
// reopens.
func (p *Position) Events() []domain.OrderFilled {
	out := make([]domain.OrderFilled, len(p.events))
	copy(out, p.events)
	return out
}

// EventCount is the number of fills applied.
func (p *Position) EventCount() int {
	return len(p.events)
}

// Commissions returns the accumulated commission per currency.
func (p *Position) Commissions() []quant.Money {
	out := make([]quant.Money, 0, len(p.commissions))
	for _, m := range p.commissions {
		out = append(out, m)
	}
	return out
}

// Apply folds one fill into the position. A duplicate trade id is a
// data-integrity error and leaves the position unchanged. A fill that
// crosses through flat closes the old leg and opens the new one in
// this single call.
func (p *Position) Apply(fill domain.OrderFilled) error {
	if err := fill.Validate(); err != nil {
		return err
	}
	if fill.InstrumentID != p.instrument.ID {
		return fmt.Errorf("position %s: fill for instrument %s does not match %s",
			p.ID, fill.InstrumentID, p.instrument.ID)
	}
	if _, dup := p.tradeIDs[fill.TradeID]; dup {
		return fmt.Errorf("position %s: duplicate trade id %s", p.ID, fill.TradeID)
	}

	fillQty := fill.LastQty.AsDecimal()
	fillPx := fill.LastPx.AsDecimal()

	switch {
	case p.signedQty.IsZero():
		// A fresh leg from flat clears the closed-leg stats; history
		// stays in events, commissions and realized PnL. A flip keeps
		// them, since the close happens in the same apply.
		p.AvgPxClose = decimal.Zero
		p.TsClosed = 0
		p.ClosingOrderID = ""
		p.openLeg(fill, fillQty, fillPx)
	case sameDirection(p.Side, fill.OrderSide):
		p.increase(fillQty, fillPx)
	default:
		openQty := p.signedQty.Abs()
		switch fillQty.Cmp(openQty) {
		case -1:
			p.decrease(fillQty, fillPx)
		case 0:
			p.decrease(fillQty, fillPx)
			p.Side = domain.Flat
			p.TsClosed = fill.TsEvent
			p.ClosingOrderID = fill.ClientOrderID
		default:
			// Close-and-flip in one apply: realize on the full open
			// quantity, then the excess opens the opposite leg.
			excess := fillQty.Sub(openQty)
			p.decrease(openQty, fillPx)
			p.TsClosed = fill.TsEvent
			p.ClosingOrderID = fill.ClientOrderID
			p.openLeg(fill, excess, fillPx)
		}
	}

	p.applyCommission(fill.Commission)
	p.TsLast = fill.TsEvent
	p.events = append(p.events, fill)
	p.tradeIDs[fill.TradeID] = struct{}{}

	if p.Quantity.Cmp(p.PeakQty) > 0 {
		p.PeakQty = p.Quantity
	}
	return nil
}

// CalculatePnL prices a closed quantity between two price points using
// the entry side of the current leg. Inverse instruments settle in the
// base asset and use the reciprocal-price formula.
func (p *Position) CalculatePnL(avgPxOpen, avgPxClose decimal.Decimal, qty quant.Quantity) quant.Money {
	return p.calculatePnL(avgPxOpen, avgPxClose, qty.AsDecimal(), p.Side)
}

// UnrealizedPnL marks the open quantity against the given price.
// Returns zero money when flat.
func (p *Position) UnrealizedPnL(mark quant.Price) quant.Money {
	if p.Side == domain.Flat {
		return quant.MoneyZero(p.instrument.SettlementCurrency())
	}
	return p.calculatePnL(p.AvgPxOpen, mark.AsDecimal(), p.signedQty.Abs(), p.Side)
}

// TotalPnL is realized plus unrealized at the given mark.
func (p *Position) TotalPnL(mark quant.Price) quant.Money {
	return p.RealizedPnL.Add(p.UnrealizedPnL(mark))
}

// NotionalValue is the open exposure at the given mark, denominated in
// the settlement currency.
func (p *Position) NotionalValue(mark quant.Price) quant.Money {
	if p.instrument.IsInverse {
		return quant.NewMoney(p.instrument.NotionalInverse(p.Quantity, mark), p.instrument.SettlementCurrency())
	}
	return quant.NewMoney(p.instrument.Notional(p.Quantity, mark), p.instrument.SettlementCurrency())
}

func (p *Position) String() string {
	return fmt.Sprintf("Position(%s %s %s %s)", p.ID, p.Side, p.Quantity, p.instrument.ID)
}

func (p *Position) openLeg(fill domain.OrderFilled, qty, px decimal.Decimal) {
	if fill.OrderSide == domain.Buy {
		p.Side = domain.Long
		p.signedQty = qty
	} else {
		p.Side = domain.Short
		p.signedQty = qty.Neg()
	}
	p.Quantity = quant.QtyFromDecimalRounded(qty, p.instrument.SizePrecision)
	p.AvgPxOpen = px
	p.closedQty = decimal.Zero
	p.TsOpened = fill.TsEvent
	p.OpeningOrderID = fill.ClientOrderID
}

func (p *Position) increase(qty, px decimal.Decimal) {
	oldQty := p.signedQty.Abs()
	newQty := oldQty.Add(qty)
	p.AvgPxOpen = p.AvgPxOpen.Mul(oldQty).Add(px.Mul(qty)).Div(newQty)
	if p.Side == domain.Long {
		p.signedQty = newQty
	} else {
		p.signedQty = newQty.Neg()
	}
	p.Quantity = quant.QtyFromDecimalRounded(newQty, p.instrument.SizePrecision)
}

// decrease realizes PnL on closeQty at px and shrinks the open leg.
// closeQty never exceeds the open quantity here; the flip path splits
// the fill before calling.
func (p *Position) decrease(closeQty, px decimal.Decimal) {
	pnl := p.calculatePnL(p.AvgPxOpen, px, closeQty, p.Side)
	p.RealizedPnL = p.RealizedPnL.Add(pnl)

	p.AvgPxClose = p.AvgPxClose.Mul(p.closedQty).Add(px.Mul(closeQty)).Div(p.closedQty.Add(closeQty))
	p.closedQty = p.closedQty.Add(closeQty)
	if !p.AvgPxOpen.IsZero() {
		ret := p.AvgPxClose.Div(p.AvgPxOpen).Sub(decimal.NewFromInt(1))
		if p.Side == domain.Short {
			ret = ret.Neg()
		}
		p.RealizedReturn = ret
	}

	remaining := p.signedQty.Abs().Sub(closeQty)
	if p.Side == domain.Long {
		p.signedQty = remaining
	} else {
		p.signedQty = remaining.Neg()
	}
	p.Quantity = quant.QtyFromDecimalRounded(remaining, p.instrument.SizePrecision)
}

func (p *Position) calculatePnL(openPx, closePx, qty decimal.Decimal, side domain.PositionSide) quant.Money {
	settlement := p.instrument.SettlementCurrency()
	mult := p.instrument.Multiplier.AsDecimal()

	var pnl decimal.Decimal
	if p.instrument.IsInverse {
		if openPx.IsZero() || closePx.IsZero() {
			panic(fmt.Sprintf("position %s: inverse pnl at zero price", p.ID))
		}
		one := decimal.NewFromInt(1)
		pnl = qty.Mul(mult).Mul(one.Div(openPx).Sub(one.Div(closePx)))
	} else {
		pnl = qty.Mul(mult).Mul(closePx.Sub(openPx))
	}
	if side == domain.Short {
		pnl = pnl.Neg()
	}
	return quant.NewMoney(pnl, settlement)
}

// applyCommission records the fill's commission and, when it settles
// in the position's settlement currency, subtracts it from realized
// PnL immediately. Other-currency commissions accumulate in the
// ledger only.
func (p *Position) applyCommission(commission *quant.Money) {
	if commission == nil || commission.IsZero() {
		return
	}
	code := commission.Currency.Code
	if existing, ok := p.commissions[code]; ok {
		p.commissions[code] = existing.Add(*commission)
	} else {
		p.commissions[code] = *commission
	}
	if code == p.RealizedPnL.Currency.Code {
		p.RealizedPnL = p.RealizedPnL.Sub(*commission)
	}
}

func sameDirection(side domain.PositionSide, orderSide domain.OrderSide) bool {
	return (side == domain.Long && orderSide == domain.Buy) ||
		(side == domain.Short && orderSide == domain.Sell)
}

// ToDict serializes to a flat key-value map with every numeric field
// as a decimal string, never a float. FromDict inverts it exactly.
func (p *Position) ToDict() map[string]string {
	comms := make([]string, 0, len(p.commissions))
	for _, m := range p.Commissions() {
		comms = append(comms, m.String())
	}
	// Stable order for comparison and storage.
	sort.Strings(comms)

	return map[string]string{
		"position_id":      p.ID,
		"instrument_id":    p.instrument.ID,
		"opening_order_id": p.OpeningOrderID,
		"closing_order_id": p.ClosingOrderID,
		"entry":            p.Entry.String(),
		"side":             p.Side.String(),
		"signed_qty":       p.signedQty.String(),
		"quantity":         p.Quantity.String(),
		"peak_qty":         p.PeakQty.String(),
		"avg_px_open":      p.AvgPxOpen.String(),
		"avg_px_close":     p.AvgPxClose.String(),
		"closed_qty":       p.closedQty.String(),
		"realized_return":  p.RealizedReturn.String(),
		"realized_pnl":     p.RealizedPnL.String(),
		"commissions":      strings.Join(comms, ","),
		"ts_init":          strconv.FormatInt(int64(p.TsInit), 10),
		"ts_opened":        strconv.FormatInt(int64(p.TsOpened), 10),
		"ts_last":          strconv.FormatInt(int64(p.TsLast), 10),
		"ts_closed":        strconv.FormatInt(int64(p.TsClosed), 10),
	}
}

// FromDict reconstructs a position snapshot. Applied fill events are
// not serialized; the snapshot carries the accumulated state only.
func FromDict(instrument *domain.Instrument, d map[string]string) (*Position, error) {
	if d["instrument_id"] != instrument.ID {
		return nil, fmt.Errorf("snapshot instrument %s does not match %s", d["instrument_id"], instrument.ID)
	}
	entry, err := domain.OrderSideFromStr(d["entry"])
	if err != nil {
		return nil, err
	}
	side, err := domain.PositionSideFromStr(d["side"])
	if err != nil {
		return nil, err
	}

	p := &Position{
		instrument:     instrument,
		ID:             d["position_id"],
		OpeningOrderID: d["opening_order_id"],
		ClosingOrderID: d["closing_order_id"],
		Entry:          entry,
		Side:           side,
		tradeIDs:       make(map[string]struct{}),
		commissions:    make(map[string]quant.Money),
	}

	decimals := map[string]*decimal.Decimal{
		"signed_qty":      &p.signedQty,
		"avg_px_open":     &p.AvgPxOpen,
		"avg_px_close":    &p.AvgPxClose,
		"closed_qty":      &p.closedQty,
		"realized_return": &p.RealizedReturn,
	}
	for key, dst := range decimals {
		v, err := decimal.NewFromString(d[key])
		if err != nil {
			return nil, fmt.Errorf("snapshot field %s: %w", key, err)
		}
		*dst = v
	}

	if p.Quantity, err = quant.QtyFromStr(d["quantity"], instrument.SizePrecision); err != nil {
		return nil, fmt.Errorf("snapshot field quantity: %w", err)
	}
	if p.PeakQty, err = quant.QtyFromStr(d["peak_qty"], instrument.SizePrecision); err != nil {
		return nil, fmt.Errorf("snapshot field peak_qty: %w", err)
	}
	if p.RealizedPnL, err = quant.MoneyFromStr(d["realized_pnl"]); err != nil {
		return nil, fmt.Errorf("snapshot field realized_pnl: %w", err)
	}

	if d["commissions"] != "" {
		for _, s := range strings.Split(d["commissions"], ",") {
			m, err := quant.MoneyFromStr(s)
			if err != nil {
				return nil, fmt.Errorf("snapshot commission %q: %w", s, err)
			}
			p.commissions[m.Currency.Code] = m
		}
	}

	timestamps := map[string]*quant.UnixNanos{
		"ts_init":   &p.TsInit,
		"ts_opened": &p.TsOpened,
		"ts_last":   &p.TsLast,
		"ts_closed": &p.TsClosed,
	}
	for key, dst := range timestamps {
		n, err := strconv.ParseInt(d[key], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("snapshot field %s: %w", key, err)
		}
		*dst = quant.UnixNanos(n)
	}
	return p, nil
}
