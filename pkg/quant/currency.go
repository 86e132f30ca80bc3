package quant

import (
	"fmt"
	"sync"
)

// Currency identifies a settlement asset and its display precision.
// Instances are compared by value; two currencies are equal iff their
// codes match.
type Currency struct {
	Code      string `json:"code"`
	Precision uint8  `json:"precision"`
}

// Predefined currencies. Fiat carries 2 decimal places, crypto 8.
var (
	AUD  = Currency{Code: "AUD", Precision: 2}
	EUR  = Currency{Code: "EUR", Precision: 2}
	GBP  = Currency{Code: "GBP", Precision: 2}
	JPY  = Currency{Code: "JPY", Precision: 0}
	USD  = Currency{Code: "USD", Precision: 2}
	BTC  = Currency{Code: "BTC", Precision: 8}
	ETH  = Currency{Code: "ETH", Precision: 8}
	SOL  = Currency{Code: "SOL", Precision: 8}
	USDT = Currency{Code: "USDT", Precision: 8}
	USDC = Currency{Code: "USDC", Precision: 8}
)

var (
	currencyMu       sync.RWMutex
	currencyRegistry = map[string]Currency{
		"AUD": AUD, "EUR": EUR, "GBP": GBP, "JPY": JPY, "USD": USD,
		"BTC": BTC, "ETH": ETH, "SOL": SOL, "USDT": USDT, "USDC": USDC,
	}
)

// CurrencyFromCode resolves a currency code against the registry.
// Unknown codes are a validation error; callers operating in a lenient
// mode should register the currency first.
func CurrencyFromCode(code string) (Currency, error) {
	currencyMu.RLock()
	defer currencyMu.RUnlock()

	c, ok := currencyRegistry[code]
	if !ok {
		return Currency{}, fmt.Errorf("unknown currency code %q", code)
	}
	return c, nil
}

// RegisterCurrency adds a currency to the registry, overwriting any
// existing entry with the same code.
func RegisterCurrency(c Currency) error {
	if c.Code == "" {
		return fmt.Errorf("currency code must not be empty")
	}
	if c.Precision > FixedPrecision {
		return fmt.Errorf("currency precision %d exceeds maximum %d", c.Precision, FixedPrecision)
	}

	currencyMu.Lock()
	defer currencyMu.Unlock()
	currencyRegistry[c.Code] = c
	return nil
}

func (c Currency) String() string {
	return c.Code
}
