// Package bet implements exposure, liability and profit primitives for
// directional wagers quoted in decimal odds. BACK maps onto long
// exposure, LAY onto short exposure with the inverted payoff.
package bet

import (
	"fmt"

	"github.com/shopspring/decimal"

	"marketcore/internal/domain"
)

// Side is the direction of a bet.
type Side uint8

const (
	Back Side = iota
	Lay
)

func (s Side) String() string {
	if s == Lay {
		return "LAY"
	}
	return "BACK"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Back {
		return Lay
	}
	return Back
}

var one = decimal.NewFromInt(1)

// Bet is an immutable wager of stake at decimal-odds price.
type Bet struct {
	price decimal.Decimal
	stake decimal.Decimal
	side  Side
}

// New creates a bet.
func New(price, stake decimal.Decimal, side Side) Bet {
	return Bet{price: price, stake: stake, side: side}
}

// FromStakeOrLiability creates a bet interpreting volume as stake for
// BACK and as liability for LAY.
func FromStakeOrLiability(price, volume decimal.Decimal, side Side) Bet {
	if side == Lay {
		return FromLiability(price, volume, side)
	}
	return New(price, volume, side)
}

// FromLiability creates a LAY bet sized so that its liability equals
// the given amount. Panics for BACK, where liability is just the stake.
func FromLiability(price, liability decimal.Decimal, side Side) Bet {
	if side != Lay {
		panic("liability-based betting is only applicable for the LAY side")
	}
	return New(price, liability.Div(price.Sub(one)), side)
}

func (b Bet) Price() decimal.Decimal { return b.price }
func (b Bet) Stake() decimal.Decimal { return b.stake }
func (b Bet) Side() Side             { return b.side }

// Exposure is price x stake, positive for BACK and negative for LAY.
func (b Bet) Exposure() decimal.Decimal {
	if b.side == Lay {
		return b.price.Mul(b.stake).Neg()
	}
	return b.price.Mul(b.stake)
}

// Liability is the amount at risk: the stake for BACK,
// stake x (price - 1) for LAY.
func (b Bet) Liability() decimal.Decimal {
	if b.side == Lay {
		return b.stake.Mul(b.price.Sub(one))
	}
	return b.stake
}

// Profit is the winnings if the bet lands: stake x (price - 1) for
// BACK, the stake for LAY.
func (b Bet) Profit() decimal.Decimal {
	if b.side == Lay {
		return b.stake
	}
	return b.stake.Mul(b.price.Sub(one))
}

// OutcomeWinPayoff is the payoff when the backed outcome wins.
func (b Bet) OutcomeWinPayoff() decimal.Decimal {
	if b.side == Lay {
		return b.Liability().Neg()
	}
	return b.Profit()
}

// OutcomeLosePayoff is the payoff when the backed outcome loses.
func (b Bet) OutcomeLosePayoff() decimal.Decimal {
	if b.side == Lay {
		return b.Profit()
	}
	return b.Liability().Neg()
}

// HedgingStake is the stake at newPrice on the opposite side that
// equalizes payoff across both outcomes.
func (b Bet) HedgingStake(newPrice decimal.Decimal) decimal.Decimal {
	if b.side == Lay {
		return b.stake.Div(newPrice.Div(b.price))
	}
	return b.price.Div(newPrice).Mul(b.stake)
}

// HedgingBet is the opposite-side bet at newPrice with HedgingStake.
func (b Bet) HedgingBet(newPrice decimal.Decimal) Bet {
	return New(newPrice, b.HedgingStake(newPrice), b.side.Opposite())
}

func (b Bet) String() string {
	return fmt.Sprintf("Bet(%s @ %s x%s)", b.side, b.price.StringFixed(2), b.stake.StringFixed(2))
}

// PnL sums outcome-win payoffs across a set of bets. Bets with
// equalized payoffs return the locked-in profit regardless of outcome.
func PnL(bets ...Bet) decimal.Decimal {
	total := decimal.Zero
	for _, b := range bets {
		total = total.Add(b.OutcomeWinPayoff())
	}
	return total
}

// ProbabilityToBet converts an implied probability and notional volume
// into a bet: BUY becomes BACK at price 1/probability, SELL becomes
// LAY, each with stake volume/price.
func ProbabilityToBet(probability, volume decimal.Decimal, side domain.OrderSide) Bet {
	price := one.Div(probability)
	stake := volume.Div(price)
	switch side {
	case domain.Buy:
		return New(price, stake, Back)
	case domain.Sell:
		return New(price, stake, Lay)
	default:
		panic("order side must be specified to derive a bet")
	}
}

// InverseProbabilityToBet converts using the complementary probability
// and the inverted side.
func InverseProbabilityToBet(probability, volume decimal.Decimal, side domain.OrderSide) Bet {
	return ProbabilityToBet(one.Sub(probability), volume, side.Opposite())
}
