package bet

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Position aggregates bets into net exposure and realized PnL using
// weighted-average-cost offsetting. The side is derived from the sign
// of the exposure; zero exposure means no side.
type Position struct {
	price       decimal.Decimal
	exposure    decimal.Decimal
	realizedPnL decimal.Decimal
	bets        []Bet
}

// NewPosition returns an empty (flat) position.
func NewPosition() *Position {
	return &Position{}
}

func (p *Position) Price() decimal.Decimal       { return p.price }
func (p *Position) Exposure() decimal.Decimal    { return p.exposure }
func (p *Position) RealizedPnL() decimal.Decimal { return p.realizedPnL }

// Bets returns the applied bets in arrival order.
func (p *Position) Bets() []Bet {
	out := make([]Bet, len(p.bets))
	copy(out, p.bets)
	return out
}

// SideOK returns the position side and whether one exists. Exposure of
// zero has no side.
func (p *Position) SideOK() (Side, bool) {
	switch p.exposure.Sign() {
	case 1:
		return Back, true
	case -1:
		return Lay, true
	default:
		return Back, false
	}
}

// AsBet converts the current exposure into an equivalent single bet at
// the position's average price.
func (p *Position) AsBet() (Bet, bool) {
	side, ok := p.SideOK()
	if !ok {
		return Bet{}, false
	}
	stake := p.exposure.Div(p.price)
	if side == Lay {
		stake = stake.Neg()
	}
	return New(p.price, stake, side), true
}

// AddBet applies a bet: same-direction bets accumulate exposure,
// opposite-direction bets offset it, realizing PnL on the offset
// portion; an overshoot flips the position to the bet's price.
func (p *Position) AddBet(b Bet) {
	side, ok := p.SideOK()
	if !ok || side == b.Side() {
		p.increase(b)
	} else {
		p.decrease(b)
	}
	p.bets = append(p.bets, b)
}

func (p *Position) increase(b Bet) {
	if _, ok := p.SideOK(); !ok {
		p.price = b.Price()
	}
	p.exposure = p.exposure.Add(b.Exposure())
}

func (p *Position) decrease(b Bet) {
	absBet := b.Exposure().Abs()
	absSelf := p.exposure.Abs()

	switch absBet.Cmp(absSelf) {
	case -1:
		// Partial offset: realize PnL on the offset volume only.
		side, _ := p.SideOK()
		offset := New(p.price, absBet.Div(p.price), side)
		p.realizedPnL = p.realizedPnL.Add(PnL(b, offset))
		p.exposure = p.exposure.Add(b.Exposure())
	case 1:
		// Overshoot: close the whole position and flip to the bet's
		// price with the residual exposure.
		if self, ok := p.AsBet(); ok {
			p.realizedPnL = p.realizedPnL.Add(PnL(b, self))
		}
		p.price = b.Price()
		p.exposure = p.exposure.Add(b.Exposure())
	default:
		if self, ok := p.AsBet(); ok {
			p.realizedPnL = p.realizedPnL.Add(PnL(b, self))
		}
		p.price = decimal.Zero
		p.exposure = decimal.Zero
	}
}

// UnrealizedPnL is the PnL locked in by flattening at the given price.
func (p *Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	flattening, ok := p.FlatteningBet(price)
	if !ok {
		return decimal.Zero
	}
	self, ok := p.AsBet()
	if !ok {
		return decimal.Zero
	}
	return PnL(flattening, self)
}

// TotalPnL is realized plus unrealized at the given price.
func (p *Position) TotalPnL(price decimal.Decimal) decimal.Decimal {
	return p.realizedPnL.Add(p.UnrealizedPnL(price))
}

// FlatteningBet is the single opposite-side bet at the given price
// that brings exposure to exactly zero.
func (p *Position) FlatteningBet(price decimal.Decimal) (Bet, bool) {
	side, ok := p.SideOK()
	if !ok {
		return Bet{}, false
	}
	stake := p.exposure.Div(price)
	if side == Lay {
		stake = stake.Neg()
	}
	return New(price, stake, side.Opposite()), true
}

// Reset clears exposure and realized PnL, keeping the bet history.
func (p *Position) Reset() {
	p.price = decimal.Zero
	p.exposure = decimal.Zero
	p.realizedPnL = decimal.Zero
}

func (p *Position) String() string {
	return fmt.Sprintf("BetPosition(price: %s, exposure: %s, realized_pnl: %s)",
		p.price.StringFixed(2), p.exposure.StringFixed(2), p.realizedPnL.StringFixed(2))
}
