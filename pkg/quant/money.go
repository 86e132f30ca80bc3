package quant

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"marketcore/pkg/safe"
)

// Money is an amount in a specific currency, rounded to the currency's
// precision. Serialization always goes through decimal strings so that
// round-trips are exact.
type Money struct {
	Raw      int64    `json:"raw"`
	Currency Currency `json:"currency"`
}

// NewMoney creates money from a decimal amount, rounding half away from
// zero to the currency's precision.
func NewMoney(amount decimal.Decimal, currency Currency) Money {
	rounded := amount.Round(int32(currency.Precision))
	raw, err := rawFromDecimal(rounded, currency.Precision)
	if err != nil {
		panic(fmt.Sprintf("money amount out of range: %v", err))
	}
	return Money{Raw: raw, Currency: currency}
}

// MoneyFromStr parses strings of the form "1525000.00 USD".
func MoneyFromStr(s string) (Money, error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return Money{}, fmt.Errorf("invalid money string %q, expected \"<amount> <code>\"", s)
	}
	currency, err := CurrencyFromCode(parts[1])
	if err != nil {
		return Money{}, err
	}
	return MoneyFromFixedStr(parts[0], currency)
}

// MoneyFromFixedStr parses an amount-only decimal string for a known
// currency. This is the from_dict counterpart of FixedString.
func MoneyFromFixedStr(s string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid money amount %q: %w", s, err)
	}
	if !d.Round(int32(currency.Precision)).Equal(d) {
		return Money{}, fmt.Errorf("amount %q exceeds %s precision %d", s, currency.Code, currency.Precision)
	}
	return NewMoney(d, currency), nil
}

// MoneyZero returns zero money in the given currency.
func MoneyZero(currency Currency) Money {
	return Money{Raw: 0, Currency: currency}
}

// MustMoney parses "<amount> <code>" and panics on failure. Test helper
// use only.
func MustMoney(s string) Money {
	m, err := MoneyFromStr(s)
	if err != nil {
		panic(err)
	}
	return m
}

// AsDecimal returns the exact decimal amount.
func (m Money) AsDecimal() decimal.Decimal {
	return decimal.New(m.Raw, -FixedPrecision)
}

// Float64 converts for boundary use only.
func (m Money) Float64() float64 {
	f, _ := m.AsDecimal().Float64()
	return f
}

func (m Money) IsZero() bool     { return m.Raw == 0 }
func (m Money) IsNegative() bool { return m.Raw < 0 }

// Add returns the sum of two amounts. Panics on currency mismatch.
func (m Money) Add(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Raw: safe.Add(m.Raw, other.Raw), Currency: m.Currency}
}

// Sub returns the difference of two amounts. Panics on currency mismatch.
func (m Money) Sub(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Raw: safe.Sub(m.Raw, other.Raw), Currency: m.Currency}
}

// Neg returns the negated amount.
func (m Money) Neg() Money {
	return Money{Raw: safe.Neg(m.Raw), Currency: m.Currency}
}

// FixedString renders the amount only, at the currency's precision,
// e.g. "1525000.00". Used for flat key-value serialization.
func (m Money) FixedString() string {
	return m.AsDecimal().StringFixed(int32(m.Currency.Precision))
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.FixedString(), m.Currency.Code)
}

func (m Money) assertSameCurrency(other Money) {
	if m.Currency.Code != other.Currency.Code {
		panic(fmt.Sprintf("currency mismatch: %s vs %s", m.Currency.Code, other.Currency.Code))
	}
}
