package account

import (
	"fmt"

	"marketcore/internal/domain"
	"marketcore/internal/position"
	"marketcore/pkg/quant"
)

// CashAccount is the unleveraged variant: orders lock the full
// notional, and PnL settles in the instrument's settlement currency.
type CashAccount struct {
	*baseAccount
}

// NewCashAccount builds the account from its initial balance snapshot.
func NewCashAccount(initial domain.AccountState) (*CashAccount, error) {
	base, err := newBaseAccount(domain.CashAccountType, initial)
	if err != nil {
		return nil, err
	}
	return &CashAccount{baseAccount: base}, nil
}

// CalculateBalanceLocked is the balance an order would lock while
// working. A BUY locks the quote notional; a SELL locks the base
// quantity being sold. Accounts with a base-currency override need an
// external conversion rate, which the core does not hold, so a
// mismatching currency is an error rather than a silent guess.
func (a *CashAccount) CalculateBalanceLocked(instrument *domain.Instrument, side domain.OrderSide,
	qty quant.Quantity, px quant.Price) (quant.Money, error) {
	var locked quant.Money
	switch side {
	case domain.Buy:
		locked = quant.NewMoney(instrument.Notional(qty, px), instrument.QuoteCurrency)
	case domain.Sell:
		if instrument.BaseCurrency == nil {
			return quant.Money{}, fmt.Errorf("account %s: SELL on %s has no base currency to lock",
				a.id, instrument.ID)
		}
		locked = quant.NewMoney(qty.AsDecimal().Mul(instrument.Multiplier.AsDecimal()), *instrument.BaseCurrency)
	default:
		return quant.Money{}, fmt.Errorf("account %s: order side must be specified", a.id)
	}

	if a.baseCurrency != nil && a.baseCurrency.Code != locked.Currency.Code {
		return quant.Money{}, fmt.Errorf("account %s: locking %s requires conversion to %s",
			a.id, locked.Currency.Code, a.baseCurrency.Code)
	}
	return locked, nil
}

// CalculatePnLs returns the realized PnL the fill produced, as held by
// the position after the fill was applied. Cash accounts settle in a
// single currency per instrument.
func (a *CashAccount) CalculatePnLs(instrument *domain.Instrument, fill domain.OrderFilled,
	pos *position.Position) ([]quant.Money, error) {
	if pos == nil {
		return nil, fmt.Errorf("account %s: fill %s has no position to settle", a.id, fill.TradeID)
	}
	if pos.Instrument().ID != instrument.ID {
		return nil, fmt.Errorf("account %s: position %s does not match instrument %s",
			a.id, pos.ID, instrument.ID)
	}
	return []quant.Money{pos.RealizedPnL}, nil
}

// CalculateCommission applies the shared fee model.
func (a *CashAccount) CalculateCommission(instrument *domain.Instrument, lastQty quant.Quantity,
	lastPx quant.Price, liquiditySide domain.LiquiditySide, useQuoteForInverse bool) (quant.Money, error) {
	return a.calculateCommission(instrument, lastQty, lastPx, liquiditySide, useQuoteForInverse)
}
