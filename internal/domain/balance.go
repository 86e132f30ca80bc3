package domain

import (
	"fmt"

	"marketcore/pkg/quant"
)

// AccountBalance is one currency ledger entry of an account snapshot.
// The identity total == free + locked holds at all times; breaking it
// is a programming error.
type AccountBalance struct {
	Total  quant.Money
	Locked quant.Money
	Free   quant.Money
}

// NewAccountBalance asserts the balance identity and currency
// consistency before returning the entry.
func NewAccountBalance(total, locked, free quant.Money) AccountBalance {
	if total.Currency != locked.Currency || total.Currency != free.Currency {
		panic(fmt.Sprintf("account balance currency mismatch: %s/%s/%s",
			total.Currency, locked.Currency, free.Currency))
	}
	if total.Raw != free.Raw+locked.Raw {
		panic(fmt.Sprintf("account balance identity violated: total %s != free %s + locked %s",
			total, free, locked))
	}
	return AccountBalance{Total: total, Locked: locked, Free: free}
}

// Currency returns the ledger currency.
func (b AccountBalance) Currency() quant.Currency {
	return b.Total.Currency
}

// Verify re-asserts the balance identity. Call after any mutation path
// that reconstructs the entry.
func (b AccountBalance) Verify() {
	if b.Total.Raw != b.Free.Raw+b.Locked.Raw {
		panic(fmt.Sprintf("account balance identity violated: total %s != free %s + locked %s",
			b.Total, b.Free, b.Locked))
	}
}

func (b AccountBalance) String() string {
	return fmt.Sprintf("AccountBalance(total=%s, locked=%s, free=%s)", b.Total, b.Locked, b.Free)
}
