// Package account maintains per-currency balance ledgers and computes
// the capital consequences of orders and fills: locked balance for
// cash accounts, margin for leveraged accounts, and per-fill
// commission for both.
package account

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"marketcore/internal/domain"
	"marketcore/internal/position"
	"marketcore/pkg/quant"
)

// Account is the shared surface of the cash and margin variants. One
// account is shared across every position booked under it, so callers
// must serialize mutations.
type Account interface {
	ID() string
	Type() domain.AccountType
	BaseCurrency() *quant.Currency

	Apply(state domain.AccountState) error
	EventCount() int
	ToDict() map[string]string

	Balance(currency quant.Currency) (domain.AccountBalance, bool)
	Balances() []domain.AccountBalance
	BalanceTotal(currency quant.Currency) (quant.Money, bool)
	BalanceFree(currency quant.Currency) (quant.Money, bool)
	BalanceLocked(currency quant.Currency) (quant.Money, bool)

	CalculateCommission(instrument *domain.Instrument, lastQty quant.Quantity, lastPx quant.Price,
		liquiditySide domain.LiquiditySide, useQuoteForInverse bool) (quant.Money, error)
	CalculatePnLs(instrument *domain.Instrument, fill domain.OrderFilled, pos *position.Position) ([]quant.Money, error)
}

// baseAccount carries the ledger machinery common to both variants.
type baseAccount struct {
	id           string
	accountType  domain.AccountType
	baseCurrency *quant.Currency

	balances map[string]domain.AccountBalance
	events   []domain.AccountState
}

func newBaseAccount(accountType domain.AccountType, initial domain.AccountState) (*baseAccount, error) {
	if initial.AccountType != accountType {
		return nil, fmt.Errorf("account %s: initial state type %s does not match %s",
			initial.AccountID, initial.AccountType, accountType)
	}
	a := &baseAccount{
		id:           initial.AccountID,
		accountType:  accountType,
		baseCurrency: initial.BaseCurrency,
		balances:     make(map[string]domain.AccountBalance),
	}
	if err := a.Apply(initial); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *baseAccount) ID() string                    { return a.id }
func (a *baseAccount) Type() domain.AccountType      { return a.accountType }
func (a *baseAccount) BaseCurrency() *quant.Currency { return a.baseCurrency }
func (a *baseAccount) EventCount() int               { return len(a.events) }

// Apply folds a balance snapshot into the ledger. Each currency the
// state carries replaces that currency's ledger wholesale; currencies
// not mentioned are untouched.
func (a *baseAccount) Apply(state domain.AccountState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	if state.AccountID != a.id {
		return fmt.Errorf("account %s: state for %s does not belong here", a.id, state.AccountID)
	}
	for _, b := range state.Balances {
		b.Verify()
		a.balances[b.Currency().Code] = b
	}
	a.events = append(a.events, state)
	return nil
}

func (a *baseAccount) Balance(currency quant.Currency) (domain.AccountBalance, bool) {
	b, ok := a.balances[currency.Code]
	return b, ok
}

// Balances returns every currency ledger, ordered by currency code.
func (a *baseAccount) Balances() []domain.AccountBalance {
	out := make([]domain.AccountBalance, 0, len(a.balances))
	for _, b := range a.balances {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Currency().Code < out[j].Currency().Code
	})
	return out
}

func (a *baseAccount) BalanceTotal(currency quant.Currency) (quant.Money, bool) {
	b, ok := a.balances[currency.Code]
	if !ok {
		return quant.Money{}, false
	}
	return b.Total, true
}

func (a *baseAccount) BalanceFree(currency quant.Currency) (quant.Money, bool) {
	b, ok := a.balances[currency.Code]
	if !ok {
		return quant.Money{}, false
	}
	return b.Free, true
}

func (a *baseAccount) BalanceLocked(currency quant.Currency) (quant.Money, bool) {
	b, ok := a.balances[currency.Code]
	if !ok {
		return quant.Money{}, false
	}
	return b.Locked, true
}

// calculateCommission implements the shared fee model. Linear
// instruments pay in the quote currency on qty x px x multiplier.
// Inverse instruments pay in the base currency on the reciprocal
// notional, unless useQuoteForInverse forces quote denomination on
// qty x multiplier.
func (a *baseAccount) calculateCommission(instrument *domain.Instrument, lastQty quant.Quantity,
	lastPx quant.Price, liquiditySide domain.LiquiditySide, useQuoteForInverse bool) (quant.Money, error) {
	rate, err := instrument.FeeRate(liquiditySide)
	if err != nil {
		return quant.Money{}, err
	}

	var notional decimal.Decimal
	var currency quant.Currency
	switch {
	case instrument.IsInverse && !useQuoteForInverse:
		notional = instrument.NotionalInverse(lastQty, lastPx)
		currency = *instrument.BaseCurrency
	case instrument.IsInverse:
		notional = lastQty.AsDecimal().Mul(instrument.Multiplier.AsDecimal())
		currency = instrument.QuoteCurrency
	default:
		notional = instrument.Notional(lastQty, lastPx)
		currency = instrument.QuoteCurrency
	}
	return quant.NewMoney(notional.Mul(rate), currency), nil
}

// ToDict serializes the ledger to flat decimal strings, one triple of
// keys per currency.
func (a *baseAccount) ToDict() map[string]string {
	d := map[string]string{
		"account_id":   a.id,
		"account_type": a.accountType.String(),
	}
	if a.baseCurrency != nil {
		d["base_currency"] = a.baseCurrency.Code
	}
	for _, b := range a.Balances() {
		code := b.Currency().Code
		d["total_"+code] = b.Total.FixedString()
		d["free_"+code] = b.Free.FixedString()
		d["locked_"+code] = b.Locked.FixedString()
	}
	return d
}

// FromDict reconstructs an account snapshot. Applied state events are
// not serialized; the snapshot carries the current ledger only.
func FromDict(d map[string]string) (Account, error) {
	accountType, err := domain.AccountTypeFromStr(d["account_type"])
	if err != nil {
		return nil, err
	}

	var base *quant.Currency
	if code := d["base_currency"]; code != "" {
		c, err := quant.CurrencyFromCode(code)
		if err != nil {
			return nil, err
		}
		base = &c
	}

	var balances []domain.AccountBalance
	for key, value := range d {
		if !strings.HasPrefix(key, "total_") {
			continue
		}
		code := strings.TrimPrefix(key, "total_")
		currency, err := quant.CurrencyFromCode(code)
		if err != nil {
			return nil, err
		}
		total, err := quant.MoneyFromFixedStr(value, currency)
		if err != nil {
			return nil, err
		}
		free, err := quant.MoneyFromFixedStr(d["free_"+code], currency)
		if err != nil {
			return nil, err
		}
		locked, err := quant.MoneyFromFixedStr(d["locked_"+code], currency)
		if err != nil {
			return nil, err
		}
		balances = append(balances, domain.NewAccountBalance(total, locked, free))
	}

	initial := domain.AccountState{
		AccountID:    d["account_id"],
		AccountType:  accountType,
		BaseCurrency: base,
		Balances:     balances,
	}
	if accountType == domain.MarginAccountType {
		acct, err := NewMarginAccount(initial)
		if err != nil {
			return nil, err
		}
		if v, ok := d["default_leverage"]; ok {
			lev, err := decimal.NewFromString(v)
			if err != nil {
				return nil, fmt.Errorf("account %s: bad default_leverage %q", initial.AccountID, v)
			}
			if err := acct.SetDefaultLeverage(lev); err != nil {
				return nil, err
			}
		}
		for key, value := range d {
			if !strings.HasPrefix(key, "leverage_") {
				continue
			}
			lev, err := decimal.NewFromString(value)
			if err != nil {
				return nil, fmt.Errorf("account %s: bad %s %q", initial.AccountID, key, value)
			}
			if err := acct.SetLeverage(strings.TrimPrefix(key, "leverage_"), lev); err != nil {
				return nil, err
			}
		}
		return acct, nil
	}
	return NewCashAccount(initial)
}
