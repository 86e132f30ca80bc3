package quant

import (
	"fmt"

	"github.com/shopspring/decimal"

	"marketcore/pkg/safe"
)

// Fixed-point representation shared by Price, Quantity and Money.
// Raw values are scaled by 10^9, generalizing the teacher pattern of
// Micros (10^6) and Sats (10^8) to one uniform scale.
const (
	FixedPrecision = 9
	FixedScale     = 1_000_000_000
)

// UnixNanos is a Unix timestamp in nanoseconds.
type UnixNanos int64

// Price is an instrument price with a fixed display precision.
// The raw value is exact; no binary floating point is held internally.
type Price struct {
	Raw       int64 `json:"raw"`
	Precision uint8 `json:"precision"`
}

// NewPrice validates and creates a price from a decimal value.
// The value must be representable at the given precision.
func NewPrice(value decimal.Decimal, precision uint8) (Price, error) {
	raw, err := rawFromDecimal(value, precision)
	if err != nil {
		return Price{}, fmt.Errorf("invalid price: %w", err)
	}
	return Price{Raw: raw, Precision: precision}, nil
}

// PriceFromStr parses a decimal string into a price.
func PriceFromStr(s string, precision uint8) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, fmt.Errorf("invalid price %q: %w", s, err)
	}
	return NewPrice(d, precision)
}

// PriceFromRaw creates a price directly from a raw fixed-point value.
func PriceFromRaw(raw int64, precision uint8) Price {
	if precision > FixedPrecision {
		panic(fmt.Sprintf("price precision %d exceeds maximum %d", precision, FixedPrecision))
	}
	return Price{Raw: raw, Precision: precision}
}

// MustPrice parses a decimal string and panics on failure. Test helper
// and constant-table use only.
func MustPrice(s string, precision uint8) Price {
	p, err := PriceFromStr(s, precision)
	if err != nil {
		panic(err)
	}
	return p
}

// AsDecimal returns the exact decimal value.
func (p Price) AsDecimal() decimal.Decimal {
	return decimal.New(p.Raw, -FixedPrecision)
}

// Float64 converts for boundary use only (display, external APIs).
func (p Price) Float64() float64 {
	f, _ := p.AsDecimal().Float64()
	return f
}

func (p Price) IsZero() bool     { return p.Raw == 0 }
func (p Price) IsPositive() bool { return p.Raw > 0 }

// Cmp compares two prices by raw value.
func (p Price) Cmp(other Price) int {
	switch {
	case p.Raw < other.Raw:
		return -1
	case p.Raw > other.Raw:
		return 1
	default:
		return 0
	}
}

// Add returns the sum of two prices at p's precision.
func (p Price) Add(other Price) Price {
	return Price{Raw: safe.Add(p.Raw, other.Raw), Precision: p.Precision}
}

// Sub returns the difference of two prices at p's precision.
func (p Price) Sub(other Price) Price {
	return Price{Raw: safe.Sub(p.Raw, other.Raw), Precision: p.Precision}
}

func (p Price) String() string {
	return p.AsDecimal().StringFixed(int32(p.Precision))
}

func rawFromDecimal(value decimal.Decimal, precision uint8) (int64, error) {
	if precision > FixedPrecision {
		return 0, fmt.Errorf("precision %d exceeds maximum %d", precision, FixedPrecision)
	}
	if !value.Round(int32(precision)).Equal(value) {
		return 0, fmt.Errorf("value %s not representable at precision %d", value, precision)
	}
	shifted := value.Shift(FixedPrecision)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("value %s not representable as fixed-point", value)
	}
	return shifted.IntPart(), nil
}
