package account

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketcore/internal/domain"
	"marketcore/internal/position"
	"marketcore/pkg/quant"
)

func balance(total, locked, free string) domain.AccountBalance {
	return domain.NewAccountBalance(
		quant.MustMoney(total),
		quant.MustMoney(locked),
		quant.MustMoney(free),
	)
}

func state(id string, accountType domain.AccountType, balances ...domain.AccountBalance) domain.AccountState {
	return domain.AccountState{
		AccountID:   id,
		AccountType: accountType,
		Balances:    balances,
		IsReported:  true,
		TsEvent:     1,
		TsInit:      1,
	}
}

func audUsd(t *testing.T) *domain.Instrument {
	t.Helper()
	aud := quant.AUD
	inst, err := domain.NewInstrument(domain.Instrument{
		ID:             "AUD/USD.SIM",
		PricePrecision: 5,
		SizePrecision:  0,
		PriceIncrement: quant.MustPrice("0.00001", 5),
		SizeIncrement:  quant.MustQty("1", 0),
		BaseCurrency:   &aud,
		QuoteCurrency:  quant.USD,
		MakerFee:       decimal.RequireFromString("0.0001"),
		TakerFee:       decimal.RequireFromString("0.0002"),
	})
	require.NoError(t, err)
	return inst
}

func xbtUsd(t *testing.T) *domain.Instrument {
	t.Helper()
	btc := quant.BTC
	inst, err := domain.NewInstrument(domain.Instrument{
		ID:             "XBTUSD.SIM",
		PricePrecision: 2,
		SizePrecision:  0,
		PriceIncrement: quant.MustPrice("0.01", 2),
		SizeIncrement:  quant.MustQty("1", 0),
		IsInverse:      true,
		BaseCurrency:   &btc,
		QuoteCurrency:  quant.USD,
		MakerFee:       decimal.RequireFromString("-0.00025"),
		TakerFee:       decimal.RequireFromString("0.00075"),
		MarginMaint:    decimal.RequireFromString("0.005"),
	})
	require.NoError(t, err)
	return inst
}

func btcUsdtLinear(t *testing.T) *domain.Instrument {
	t.Helper()
	btc := quant.BTC
	inst, err := domain.NewInstrument(domain.Instrument{
		ID:             "BTCUSDT-PERP.SIM",
		PricePrecision: 2,
		SizePrecision:  3,
		PriceIncrement: quant.MustPrice("0.01", 2),
		SizeIncrement:  quant.MustQty("0.001", 3),
		BaseCurrency:   &btc,
		QuoteCurrency:  quant.USDT,
		MakerFee:       decimal.RequireFromString("0.0002"),
		TakerFee:       decimal.RequireFromString("0.0004"),
		MarginMaint:    decimal.RequireFromString("0.005"),
	})
	require.NoError(t, err)
	return inst
}

func TestCashAccountApplyState(t *testing.T) {
	acct, err := NewCashAccount(state("SIM-001", domain.CashAccountType,
		balance("1000.00 USD", "0.00 USD", "1000.00 USD"),
	))
	require.NoError(t, err)

	assert.Equal(t, "SIM-001", acct.ID())
	assert.Equal(t, domain.CashAccountType, acct.Type())
	assert.Equal(t, 1, acct.EventCount())

	total, ok := acct.BalanceTotal(quant.USD)
	require.True(t, ok)
	assert.Equal(t, "1000.00 USD", total.String())

	// A later snapshot replaces the USD ledger and introduces BTC.
	require.NoError(t, acct.Apply(state("SIM-001", domain.CashAccountType,
		balance("900.00 USD", "100.00 USD", "800.00 USD"),
		balance("1.00000000 BTC", "0.00000000 BTC", "1.00000000 BTC"),
	)))

	free, ok := acct.BalanceFree(quant.USD)
	require.True(t, ok)
	assert.Equal(t, "800.00 USD", free.String())
	locked, ok := acct.BalanceLocked(quant.USD)
	require.True(t, ok)
	assert.Equal(t, "100.00 USD", locked.String())
	assert.Equal(t, 2, acct.EventCount())
	assert.Len(t, acct.Balances(), 2)
}

func TestCashAccountRejectsForeignState(t *testing.T) {
	acct, err := NewCashAccount(state("SIM-001", domain.CashAccountType,
		balance("1000.00 USD", "0.00 USD", "1000.00 USD"),
	))
	require.NoError(t, err)

	err = acct.Apply(state("SIM-999", domain.CashAccountType,
		balance("1.00 USD", "0.00 USD", "1.00 USD"),
	))
	assert.ErrorContains(t, err, "does not belong")
}

func TestCashAccountTypeMismatch(t *testing.T) {
	_, err := NewCashAccount(state("SIM-001", domain.MarginAccountType,
		balance("1000.00 USD", "0.00 USD", "1000.00 USD"),
	))
	assert.ErrorContains(t, err, "does not match")
}

func TestCashAccountCalculateBalanceLocked(t *testing.T) {
	acct, err := NewCashAccount(state("SIM-001", domain.CashAccountType,
		balance("1000000.00 USD", "0.00 USD", "1000000.00 USD"),
	))
	require.NoError(t, err)
	inst := audUsd(t)

	buy, err := acct.CalculateBalanceLocked(inst, domain.Buy, quant.MustQty("100000", 0), quant.MustPrice("0.80000", 5))
	require.NoError(t, err)
	assert.Equal(t, "80000.00 USD", buy.String())

	sell, err := acct.CalculateBalanceLocked(inst, domain.Sell, quant.MustQty("100000", 0), quant.MustPrice("0.80000", 5))
	require.NoError(t, err)
	assert.Equal(t, "100000.00 AUD", sell.String())

	_, err = acct.CalculateBalanceLocked(inst, domain.NoOrderSide, quant.MustQty("1", 0), quant.MustPrice("1.00000", 5))
	assert.ErrorContains(t, err, "side must be specified")
}

func TestCashAccountBaseCurrencyNeedsConversion(t *testing.T) {
	usd := quant.USD
	st := state("SIM-001", domain.CashAccountType,
		balance("1000000.00 USD", "0.00 USD", "1000000.00 USD"),
	)
	st.BaseCurrency = &usd
	acct, err := NewCashAccount(st)
	require.NoError(t, err)
	inst := audUsd(t)

	// BUY locks USD, matching the account base currency.
	_, err = acct.CalculateBalanceLocked(inst, domain.Buy, quant.MustQty("1000", 0), quant.MustPrice("0.80000", 5))
	assert.NoError(t, err)

	// SELL would lock AUD, which needs an external conversion rate.
	_, err = acct.CalculateBalanceLocked(inst, domain.Sell, quant.MustQty("1000", 0), quant.MustPrice("0.80000", 5))
	assert.ErrorContains(t, err, "requires conversion")
}

func TestCommissionLinear(t *testing.T) {
	acct, err := NewCashAccount(state("SIM-001", domain.CashAccountType,
		balance("1000000.00 USD", "0.00 USD", "1000000.00 USD"),
	))
	require.NoError(t, err)
	inst := audUsd(t)

	taker, err := acct.CalculateCommission(inst, quant.MustQty("100000", 0), quant.MustPrice("1.00000", 5), domain.Taker, false)
	require.NoError(t, err)
	assert.Equal(t, "20.00 USD", taker.String())

	maker, err := acct.CalculateCommission(inst, quant.MustQty("100000", 0), quant.MustPrice("1.00000", 5), domain.Maker, false)
	require.NoError(t, err)
	assert.Equal(t, "10.00 USD", maker.String())
}

func TestCommissionInverse(t *testing.T) {
	acct, err := NewMarginAccount(state("SIM-001", domain.MarginAccountType,
		balance("10.00000000 BTC", "0.00000000 BTC", "10.00000000 BTC"),
	))
	require.NoError(t, err)
	inst := xbtUsd(t)

	// 100000 / 10000 = 10 BTC notional; 10 x 0.00075 = 0.0075 BTC.
	base, err := acct.CalculateCommission(inst, quant.MustQty("100000", 0), quant.MustPrice("10000.00", 2), domain.Taker, false)
	require.NoError(t, err)
	assert.Equal(t, "0.00750000 BTC", base.String())

	// Quote denomination uses qty x multiplier, no price division.
	quote, err := acct.CalculateCommission(inst, quant.MustQty("100000", 0), quant.MustPrice("10000.00", 2), domain.Taker, true)
	require.NoError(t, err)
	assert.Equal(t, "75.00 USD", quote.String())

	// Negative maker rate is a rebate.
	rebate, err := acct.CalculateCommission(inst, quant.MustQty("100000", 0), quant.MustPrice("10000.00", 2), domain.Maker, false)
	require.NoError(t, err)
	assert.Equal(t, "-0.00250000 BTC", rebate.String())
}

func TestCommissionNoLiquiditySideIsError(t *testing.T) {
	acct, err := NewCashAccount(state("SIM-001", domain.CashAccountType,
		balance("1000.00 USD", "0.00 USD", "1000.00 USD"),
	))
	require.NoError(t, err)

	_, err = acct.CalculateCommission(audUsd(t), quant.MustQty("1", 0), quant.MustPrice("1.00000", 5), domain.NoLiquiditySide, false)
	assert.ErrorContains(t, err, "liquidity side")
}

func TestMarginAccountLeverage(t *testing.T) {
	acct, err := NewMarginAccount(state("SIM-001", domain.MarginAccountType,
		balance("100000.00000000 USDT", "0.00000000 USDT", "100000.00000000 USDT"),
	))
	require.NoError(t, err)
	inst := btcUsdtLinear(t)

	assert.True(t, acct.IsUnleveraged(inst.ID))

	require.NoError(t, acct.SetDefaultLeverage(decimal.NewFromInt(10)))
	assert.Equal(t, "10", acct.Leverage(inst.ID).String())
	assert.False(t, acct.IsUnleveraged(inst.ID))

	require.NoError(t, acct.SetLeverage(inst.ID, decimal.NewFromInt(5)))
	assert.Equal(t, "5", acct.Leverage(inst.ID).String())
	assert.Equal(t, "10", acct.Leverage("ETHUSDT-PERP.SIM").String())

	assert.Error(t, acct.SetDefaultLeverage(decimal.RequireFromString("0.5")))
	assert.Error(t, acct.SetLeverage(inst.ID, decimal.Zero))
}

func TestMarginAccountInitialMargin(t *testing.T) {
	acct, err := NewMarginAccount(state("SIM-001", domain.MarginAccountType,
		balance("100000.00000000 USDT", "0.00000000 USDT", "100000.00000000 USDT"),
	))
	require.NoError(t, err)
	inst := btcUsdtLinear(t)
	require.NoError(t, acct.SetLeverage(inst.ID, decimal.NewFromInt(10)))

	// 1 x 50000 / 10 = 5000 USDT.
	margin := acct.CalculateInitialMargin(inst, quant.MustQty("1.000", 3), quant.MustPrice("50000.00", 2), false)
	assert.Equal(t, "5000.00000000 USDT", margin.String())
}

func TestMarginAccountMaintenanceMargin(t *testing.T) {
	acct, err := NewMarginAccount(state("SIM-001", domain.MarginAccountType,
		balance("100000.00000000 USDT", "0.00000000 USDT", "100000.00000000 USDT"),
	))
	require.NoError(t, err)
	inst := btcUsdtLinear(t)
	require.NoError(t, acct.SetLeverage(inst.ID, decimal.NewFromInt(10)))

	// 1 x 50000 x 0.005 = 250 USDT.
	margin := acct.CalculateMaintenanceMargin(inst, quant.MustQty("1.000", 3), quant.MustPrice("50000.00", 2), false)
	assert.Equal(t, "250.00000000 USDT", margin.String())
}

func TestMarginAccountUnleveragedInverseFullNotional(t *testing.T) {
	acct, err := NewMarginAccount(state("SIM-001", domain.MarginAccountType,
		balance("100.00000000 BTC", "0.00000000 BTC", "100.00000000 BTC"),
	))
	require.NoError(t, err)
	inst := xbtUsd(t)

	// Leverage 1: maintenance is the full inverse notional, 10 BTC.
	margin := acct.CalculateMaintenanceMargin(inst, quant.MustQty("100000", 0), quant.MustPrice("10000.00", 2), false)
	assert.Equal(t, "10.00000000 BTC", margin.String())

	// Leveraged, the maintenance rate applies instead.
	require.NoError(t, acct.SetLeverage(inst.ID, decimal.NewFromInt(10)))
	margin = acct.CalculateMaintenanceMargin(inst, quant.MustQty("100000", 0), quant.MustPrice("10000.00", 2), false)
	assert.Equal(t, "0.05000000 BTC", margin.String())
}

func TestAccountCalculatePnLs(t *testing.T) {
	acct, err := NewCashAccount(state("SIM-001", domain.CashAccountType,
		balance("1000000.00 USD", "0.00 USD", "1000000.00 USD"),
	))
	require.NoError(t, err)
	inst := audUsd(t)

	open := domain.OrderFilled{
		InstrumentID:  inst.ID,
		ClientOrderID: "O-1",
		TradeID:       "T-1",
		PositionID:    "P-1",
		OrderSide:     domain.Buy,
		LastQty:       quant.MustQty("100000", 0),
		LastPx:        quant.MustPrice("1.00000", 5),
		LiquiditySide: domain.Taker,
		TsEvent:       1,
		TsInit:        1,
	}
	pos, err := position.New(inst, open)
	require.NoError(t, err)

	closeFill := open
	closeFill.ClientOrderID = "O-2"
	closeFill.TradeID = "T-2"
	closeFill.OrderSide = domain.Sell
	closeFill.LastPx = quant.MustPrice("1.00010", 5)
	closeFill.TsEvent = 2
	require.NoError(t, pos.Apply(closeFill))

	pnls, err := acct.CalculatePnLs(inst, closeFill, pos)
	require.NoError(t, err)
	require.Len(t, pnls, 1)
	assert.Equal(t, "10.00 USD", pnls[0].String())

	_, err = acct.CalculatePnLs(inst, closeFill, nil)
	assert.Error(t, err)
}

func TestAccountToDict(t *testing.T) {
	acct, err := NewCashAccount(state("SIM-001", domain.CashAccountType,
		balance("1525000.00 USD", "25000.00 USD", "1500000.00 USD"),
	))
	require.NoError(t, err)

	d := acct.ToDict()
	assert.Equal(t, "SIM-001", d["account_id"])
	assert.Equal(t, "CASH", d["account_type"])
	assert.Equal(t, "1525000.00", d["total_USD"])
	assert.Equal(t, "1500000.00", d["free_USD"])
	assert.Equal(t, "25000.00", d["locked_USD"])
}

func TestAccountDictRoundTrip(t *testing.T) {
	acct, err := NewMarginAccount(state("SIM-002", domain.MarginAccountType,
		balance("1525000.00 USD", "25000.00 USD", "1500000.00 USD"),
		balance("2.00000000 BTC", "0.50000000 BTC", "1.50000000 BTC"),
	))
	require.NoError(t, err)

	restored, err := FromDict(acct.ToDict())
	require.NoError(t, err)

	assert.Equal(t, acct.ID(), restored.ID())
	assert.Equal(t, domain.MarginAccountType, restored.Type())
	assert.Equal(t, acct.ToDict(), restored.ToDict(), "serialization must be stable across a round trip")

	locked, ok := restored.BalanceLocked(quant.BTC)
	require.True(t, ok)
	assert.Equal(t, "0.50000000 BTC", locked.String())
}

func TestMarginAccountDictRoundTripsLeverage(t *testing.T) {
	acct, err := NewMarginAccount(state("SIM-002", domain.MarginAccountType,
		balance("1000000.00 USD", "0.00 USD", "1000000.00 USD"),
	))
	require.NoError(t, err)
	require.NoError(t, acct.SetDefaultLeverage(decimal.NewFromInt(10)))
	require.NoError(t, acct.SetLeverage("XBTUSD.SIM", decimal.NewFromInt(25)))

	d := acct.ToDict()
	assert.Equal(t, "10", d["default_leverage"])
	assert.Equal(t, "25", d["leverage_XBTUSD.SIM"])

	restored, err := FromDict(d)
	require.NoError(t, err)

	margin, ok := restored.(*MarginAccount)
	require.True(t, ok, "restored account must be the margin variant")
	assert.True(t, margin.Leverage("ETHUSD.SIM").Equal(decimal.NewFromInt(10)),
		"default leverage must survive the round trip")
	assert.True(t, margin.Leverage("XBTUSD.SIM").Equal(decimal.NewFromInt(25)),
		"per-instrument override must survive the round trip")
	assert.Equal(t, d, restored.ToDict())
}
