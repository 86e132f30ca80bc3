package account

import (
	"fmt"

	"github.com/shopspring/decimal"

	"marketcore/internal/domain"
	"marketcore/internal/position"
	"marketcore/pkg/quant"
)

// MarginAccount is the leveraged variant: orders consume margin
// instead of locking full notional. Leverage resolves per instrument
// with a global default fallback.
type MarginAccount struct {
	*baseAccount

	defaultLeverage decimal.Decimal
	leverages       map[string]decimal.Decimal
}

// NewMarginAccount builds the account from its initial balance
// snapshot with leverage 1 until configured otherwise.
func NewMarginAccount(initial domain.AccountState) (*MarginAccount, error) {
	base, err := newBaseAccount(domain.MarginAccountType, initial)
	if err != nil {
		return nil, err
	}
	return &MarginAccount{
		baseAccount:     base,
		defaultLeverage: decimal.NewFromInt(1),
		leverages:       make(map[string]decimal.Decimal),
	}, nil
}

// SetDefaultLeverage sets the global fallback leverage.
func (a *MarginAccount) SetDefaultLeverage(leverage decimal.Decimal) error {
	if leverage.LessThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("account %s: leverage %s below 1", a.id, leverage)
	}
	a.defaultLeverage = leverage
	return nil
}

// SetLeverage overrides leverage for one instrument.
func (a *MarginAccount) SetLeverage(instrumentID string, leverage decimal.Decimal) error {
	if leverage.LessThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("account %s: leverage %s below 1 for %s", a.id, leverage, instrumentID)
	}
	a.leverages[instrumentID] = leverage
	return nil
}

// Leverage resolves the effective leverage for an instrument.
func (a *MarginAccount) Leverage(instrumentID string) decimal.Decimal {
	if lev, ok := a.leverages[instrumentID]; ok {
		return lev
	}
	return a.defaultLeverage
}

// IsUnleveraged reports whether the effective leverage is exactly 1.
func (a *MarginAccount) IsUnleveraged(instrumentID string) bool {
	return a.Leverage(instrumentID).Equal(decimal.NewFromInt(1))
}

// CalculateInitialMargin is the margin consumed when an order is
// placed: notional divided by effective leverage. Inverse instruments
// denominate in the base currency unless useQuoteForInverse is set.
func (a *MarginAccount) CalculateInitialMargin(instrument *domain.Instrument, qty quant.Quantity,
	px quant.Price, useQuoteForInverse bool) quant.Money {
	notional, currency := a.notional(instrument, qty, px, useQuoteForInverse)
	return quant.NewMoney(notional.Div(a.Leverage(instrument.ID)), currency)
}

// CalculateMaintenanceMargin is the margin required to keep a position
// open: notional times the instrument's maintenance rate. Unleveraged
// inverse instruments require the full inverse notional; leverage is
// never applied implicitly.
func (a *MarginAccount) CalculateMaintenanceMargin(instrument *domain.Instrument, qty quant.Quantity,
	px quant.Price, useQuoteForInverse bool) quant.Money {
	notional, currency := a.notional(instrument, qty, px, useQuoteForInverse)
	if instrument.IsInverse && a.IsUnleveraged(instrument.ID) {
		return quant.NewMoney(notional, currency)
	}
	return quant.NewMoney(notional.Mul(instrument.MarginMaint), currency)
}

// CalculatePnLs mirrors the cash variant: realized PnL settles in the
// instrument's settlement currency.
func (a *MarginAccount) CalculatePnLs(instrument *domain.Instrument, fill domain.OrderFilled,
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
func (a *MarginAccount) CalculateCommission(instrument *domain.Instrument, lastQty quant.Quantity,
	lastPx quant.Price, liquiditySide domain.LiquiditySide, useQuoteForInverse bool) (quant.Money, error) {
	return a.calculateCommission(instrument, lastQty, lastPx, liquiditySide, useQuoteForInverse)
}

// ToDict extends the ledger snapshot with the leverage settings, one
// leverage_<instrument> key per override.
func (a *MarginAccount) ToDict() map[string]string {
	d := a.baseAccount.ToDict()
	d["default_leverage"] = a.defaultLeverage.String()
	for instrumentID, lev := range a.leverages {
		d["leverage_"+instrumentID] = lev.String()
	}
	return d
}

func (a *MarginAccount) notional(instrument *domain.Instrument, qty quant.Quantity,
	px quant.Price, useQuoteForInverse bool) (decimal.Decimal, quant.Currency) {
	switch {
	case instrument.IsInverse && !useQuoteForInverse:
		return instrument.NotionalInverse(qty, px), *instrument.BaseCurrency
	case instrument.IsInverse:
		return qty.AsDecimal().Mul(instrument.Multiplier.AsDecimal()), instrument.QuoteCurrency
	default:
		return instrument.Notional(qty, px), instrument.QuoteCurrency
	}
}
