package quant

import (
	"fmt"

	"github.com/shopspring/decimal"

	"marketcore/pkg/safe"
)

// Quantity is a non-negative size with a fixed display precision.
// Negative quantities are a programming error, not an input error.
type Quantity struct {
	Raw       int64 `json:"raw"`
	Precision uint8 `json:"precision"`
}

// NewQuantity validates and creates a quantity from a decimal value.
// Panics if the value is negative.
func NewQuantity(value decimal.Decimal, precision uint8) (Quantity, error) {
	if value.IsNegative() {
		panic(fmt.Sprintf("quantity must not be negative, was %s", value))
	}
	raw, err := rawFromDecimal(value, precision)
	if err != nil {
		return Quantity{}, fmt.Errorf("invalid quantity: %w", err)
	}
	return Quantity{Raw: raw, Precision: precision}, nil
}

// QtyFromStr parses a decimal string into a quantity.
func QtyFromStr(s string, precision uint8) (Quantity, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Quantity{}, fmt.Errorf("invalid quantity %q: %w", s, err)
	}
	return NewQuantity(d, precision)
}

// QtyFromRaw creates a quantity directly from a raw fixed-point value.
// Panics if the raw value is negative.
func QtyFromRaw(raw int64, precision uint8) Quantity {
	if raw < 0 {
		panic(fmt.Sprintf("quantity raw must not be negative, was %d", raw))
	}
	if precision > FixedPrecision {
		panic(fmt.Sprintf("quantity precision %d exceeds maximum %d", precision, FixedPrecision))
	}
	return Quantity{Raw: raw, Precision: precision}
}

// QtyZero returns a zero quantity at the given precision.
func QtyZero(precision uint8) Quantity {
	return Quantity{Raw: 0, Precision: precision}
}

// MustQty parses a decimal string and panics on failure. Test helper
// and constant-table use only.
func MustQty(s string, precision uint8) Quantity {
	q, err := QtyFromStr(s, precision)
	if err != nil {
		panic(err)
	}
	return q
}

// QtyFromDecimalRounded rounds a non-negative decimal to the precision
// and converts. Used where arithmetic produces sub-tick remainders.
func QtyFromDecimalRounded(value decimal.Decimal, precision uint8) Quantity {
	if value.IsNegative() {
		panic(fmt.Sprintf("quantity must not be negative, was %s", value))
	}
	q, err := NewQuantity(value.Round(int32(precision)), precision)
	if err != nil {
		panic(err)
	}
	return q
}

// AsDecimal returns the exact decimal value.
func (q Quantity) AsDecimal() decimal.Decimal {
	return decimal.New(q.Raw, -FixedPrecision)
}

// Float64 converts for boundary use only.
func (q Quantity) Float64() float64 {
	f, _ := q.AsDecimal().Float64()
	return f
}

func (q Quantity) IsZero() bool     { return q.Raw == 0 }
func (q Quantity) IsPositive() bool { return q.Raw > 0 }

// Cmp compares two quantities by raw value.
func (q Quantity) Cmp(other Quantity) int {
	switch {
	case q.Raw < other.Raw:
		return -1
	case q.Raw > other.Raw:
		return 1
	default:
		return 0
	}
}

// Add returns the sum of two quantities at q's precision.
func (q Quantity) Add(other Quantity) Quantity {
	return Quantity{Raw: safe.Add(q.Raw, other.Raw), Precision: q.Precision}
}

// Sub returns the difference of two quantities at q's precision.
// Panics if the result would be negative.
func (q Quantity) Sub(other Quantity) Quantity {
	raw := safe.Sub(q.Raw, other.Raw)
	if raw < 0 {
		panic(fmt.Sprintf("quantity subtraction underflow: %s - %s", q, other))
	}
	return Quantity{Raw: raw, Precision: q.Precision}
}

func (q Quantity) String() string {
	return q.AsDecimal().StringFixed(int32(q.Precision))
}
