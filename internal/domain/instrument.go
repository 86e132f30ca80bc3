package domain

import (
	"fmt"

	"github.com/shopspring/decimal"

	"marketcore/pkg/quant"
)

// Instrument is immutable contract metadata loaded once from venue
// reference data and shared read-only across books, positions and
// accounts.
type Instrument struct {
	ID             string
	PricePrecision uint8
	SizePrecision  uint8
	PriceIncrement quant.Price
	SizeIncrement  quant.Quantity
	Multiplier     quant.Quantity
	IsInverse      bool

	// BaseCurrency is nil for instruments quoted without a distinct
	// base asset (e.g. index CFDs).
	BaseCurrency  *quant.Currency
	QuoteCurrency quant.Currency

	MakerFee decimal.Decimal
	TakerFee decimal.Decimal

	MarginInit  decimal.Decimal
	MarginMaint decimal.Decimal

	// Quantity limits; zero values mean "no limit".
	MaxQuantity quant.Quantity
	MinQuantity quant.Quantity

	LotSize quant.Quantity
}

// NewInstrument validates reference data at load time. Malformed
// metadata is rejected here so downstream code can trust the fields.
func NewInstrument(inst Instrument) (*Instrument, error) {
	if inst.ID == "" {
		return nil, fmt.Errorf("instrument id must not be empty")
	}
	if inst.PricePrecision > quant.FixedPrecision {
		return nil, fmt.Errorf("instrument %s: price precision %d exceeds maximum %d",
			inst.ID, inst.PricePrecision, quant.FixedPrecision)
	}
	if inst.SizePrecision > quant.FixedPrecision {
		return nil, fmt.Errorf("instrument %s: size precision %d exceeds maximum %d",
			inst.ID, inst.SizePrecision, quant.FixedPrecision)
	}
	if inst.IsInverse && inst.BaseCurrency == nil {
		return nil, fmt.Errorf("instrument %s: inverse instrument requires a base currency", inst.ID)
	}
	if inst.Multiplier.IsZero() {
		inst.Multiplier = quant.MustQty("1", 0)
	}
	if inst.MakerFee.Abs().GreaterThan(decimal.NewFromInt(1)) ||
		inst.TakerFee.Abs().GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("instrument %s: fee rates must be fractions, not percentages", inst.ID)
	}
	if !inst.MaxQuantity.IsZero() && inst.MinQuantity.Cmp(inst.MaxQuantity) > 0 {
		return nil, fmt.Errorf("instrument %s: min quantity exceeds max quantity", inst.ID)
	}
	return &inst, nil
}

// SettlementCurrency is the currency PnL and commissions settle in:
// the base asset for inverse contracts, otherwise the quote asset.
func (i *Instrument) SettlementCurrency() quant.Currency {
	if i.IsInverse {
		return *i.BaseCurrency
	}
	return i.QuoteCurrency
}

// FeeRate returns the commission rate for the given liquidity side.
// NoLiquiditySide is invalid input, not a zero-fee default.
func (i *Instrument) FeeRate(side LiquiditySide) (decimal.Decimal, error) {
	switch side {
	case Maker:
		return i.MakerFee, nil
	case Taker:
		return i.TakerFee, nil
	default:
		return decimal.Decimal{}, fmt.Errorf("instrument %s: liquidity side must be specified for fee lookup", i.ID)
	}
}

// Notional computes quantity x price x multiplier in the quote
// currency. For inverse instruments the caller decides denomination;
// see NotionalInverse.
func (i *Instrument) Notional(qty quant.Quantity, px quant.Price) decimal.Decimal {
	return qty.AsDecimal().Mul(px.AsDecimal()).Mul(i.Multiplier.AsDecimal())
}

// NotionalInverse computes quantity x multiplier / price, the notional
// of an inverse contract denominated in the base asset.
func (i *Instrument) NotionalInverse(qty quant.Quantity, px quant.Price) decimal.Decimal {
	if px.IsZero() {
		panic(fmt.Sprintf("instrument %s: inverse notional at zero price", i.ID))
	}
	return qty.AsDecimal().Mul(i.Multiplier.AsDecimal()).Div(px.AsDecimal())
}

// ValidateQuantity checks an order quantity against the instrument's
// limits. Returns a typed validation error for the caller to handle.
func (i *Instrument) ValidateQuantity(qty quant.Quantity) error {
	if !i.MinQuantity.IsZero() && qty.Cmp(i.MinQuantity) < 0 {
		return fmt.Errorf("quantity %s below minimum %s for %s", qty, i.MinQuantity, i.ID)
	}
	if !i.MaxQuantity.IsZero() && qty.Cmp(i.MaxQuantity) > 0 {
		return fmt.Errorf("quantity %s above maximum %s for %s", qty, i.MaxQuantity, i.ID)
	}
	return nil
}
