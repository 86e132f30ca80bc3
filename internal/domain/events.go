package domain

import (
	"fmt"

	"marketcore/pkg/quant"
)

// OrderFilled is an execution report for one fill of an order.
// Commission may be nil when the venue leaves it to the account's
// commission model.
type OrderFilled struct {
	InstrumentID  string
	ClientOrderID string
	VenueOrderID  string
	TradeID       string
	PositionID    string
	OrderSide     OrderSide
	LastQty       quant.Quantity
	LastPx        quant.Price
	Commission    *quant.Money
	LiquiditySide LiquiditySide
	TsEvent       quant.UnixNanos
	TsInit        quant.UnixNanos
}

// Validate rejects fills the accounting core cannot process.
func (f *OrderFilled) Validate() error {
	if f.InstrumentID == "" {
		return fmt.Errorf("fill missing instrument id")
	}
	if f.OrderSide == NoOrderSide {
		return fmt.Errorf("fill %s has no order side", f.TradeID)
	}
	if f.LastQty.IsZero() {
		return fmt.Errorf("fill %s has zero quantity", f.TradeID)
	}
	if f.PositionID == "" {
		return fmt.Errorf("fill %s missing position id", f.TradeID)
	}
	return nil
}

// AccountState is a full balance snapshot for an account. Applying it
// replaces the account's per-currency ledgers wholesale.
type AccountState struct {
	AccountID    string
	AccountType  AccountType
	BaseCurrency *quant.Currency
	Balances     []AccountBalance
	IsReported   bool
	TsEvent      quant.UnixNanos
	TsInit       quant.UnixNanos
}

// Validate checks the snapshot shape. Balance identity violations
// panic inside NewAccountBalance before a state reaches here.
func (s *AccountState) Validate() error {
	if s.AccountID == "" {
		return fmt.Errorf("account state missing account id")
	}
	if len(s.Balances) == 0 {
		return fmt.Errorf("account state for %s carries no balances", s.AccountID)
	}
	seen := make(map[string]bool, len(s.Balances))
	for _, b := range s.Balances {
		code := b.Currency().Code
		if seen[code] {
			return fmt.Errorf("account state for %s has duplicate %s balance", s.AccountID, code)
		}
		seen[code] = true
	}
	return nil
}
