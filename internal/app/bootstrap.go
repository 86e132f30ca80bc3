// Package app orchestrates node startup: config, logging, workspace,
// stores, reference data and the account.
package app

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/shopspring/decimal"

	"marketcore/internal/account"
	"marketcore/internal/catalog"
	"marketcore/internal/domain"
	"marketcore/internal/infra"
	"marketcore/internal/storage"
	"marketcore/pkg/quant"
)

// Bootstrap wires the startup sequence and owns the resulting handles.
type Bootstrap struct {
	Config      *infra.Config
	Log         *slog.Logger
	EventStore  *storage.EventStore
	Catalog     *catalog.Catalog
	Instruments []*domain.Instrument
	Account     account.Account

	unlock func()
}

// NewBootstrap creates an empty bootstrap.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization. On error the node
// must not start; partially acquired resources are released by Close.
func (b *Bootstrap) Initialize() error {
	cfg, err := infra.LoadConfig(infra.ResolveConfigPath())
	if err != nil {
		return err
	}
	b.Config = cfg

	b.Log = infra.NewLogger(cfg.Logging.Level, nil)
	slog.SetDefault(b.Log)
	b.Log.Info("bootstrapping", "app", cfg.App.Name, "version", cfg.App.Version)

	workDir := infra.GetWorkspaceDir()
	dataDir := filepath.Join(workDir, "data")
	if err := infra.EnsureDir(dataDir); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	// One process per workspace; the stores are single-writer.
	unlock, err := infra.CreateLockFile(workDir)
	if err != nil {
		return err
	}
	b.unlock = unlock

	evStore, err := storage.NewEventStore(filepath.Join(dataDir, "events.db"))
	if err != nil {
		return err
	}
	b.EventStore = evStore

	catalogPath := cfg.Catalog.Path
	if catalogPath == "" {
		catalogPath = filepath.Join(dataDir, "catalog.db")
	}
	cat, err := catalog.Open(catalogPath)
	if err != nil {
		return err
	}
	b.Catalog = cat

	instruments, err := buildInstruments(cfg)
	if err != nil {
		return err
	}
	b.Instruments = instruments

	acct, err := buildAccount(cfg)
	if err != nil {
		return err
	}
	b.Account = acct

	b.Log.Info("bootstrap complete",
		"instruments", len(instruments), "account", acct.ID(), "account_type", acct.Type())
	return nil
}

// Close releases everything Initialize acquired, in reverse order.
func (b *Bootstrap) Close() {
	if b.Catalog != nil {
		b.Catalog.Close()
	}
	if b.EventStore != nil {
		b.EventStore.Close()
	}
	if b.unlock != nil {
		b.unlock()
	}
}

// buildInstruments turns the config reference section into validated
// instruments. Subscribed ids without a reference entry get linear
// USDT perp defaults.
func buildInstruments(cfg *infra.Config) ([]*domain.Instrument, error) {
	out := make([]*domain.Instrument, 0, len(cfg.Feed.Instruments))
	for _, id := range cfg.Feed.Instruments {
		ref, ok := cfg.Reference[id]
		if !ok {
			ref = infra.InstrumentRef{
				PricePrecision: 2,
				SizePrecision:  3,
				QuoteCurrency:  "USDT",
			}
		}

		inst := domain.Instrument{
			ID:             id,
			PricePrecision: ref.PricePrecision,
			SizePrecision:  ref.SizePrecision,
			IsInverse:      ref.IsInverse,
		}

		quote, err := quant.CurrencyFromCode(ref.QuoteCurrency)
		if err != nil {
			return nil, fmt.Errorf("instrument %s: %w", id, err)
		}
		inst.QuoteCurrency = quote

		if ref.BaseCurrency != "" {
			base, err := quant.CurrencyFromCode(ref.BaseCurrency)
			if err != nil {
				return nil, fmt.Errorf("instrument %s: %w", id, err)
			}
			inst.BaseCurrency = &base
		}

		if ref.Multiplier != "" {
			mult, err := quant.QtyFromStr(ref.Multiplier, quant.FixedPrecision)
			if err != nil {
				return nil, fmt.Errorf("instrument %s multiplier: %w", id, err)
			}
			inst.Multiplier = mult
		}

		if inst.MakerFee, err = refRate(ref.MakerFee); err != nil {
			return nil, fmt.Errorf("instrument %s maker fee: %w", id, err)
		}
		if inst.TakerFee, err = refRate(ref.TakerFee); err != nil {
			return nil, fmt.Errorf("instrument %s taker fee: %w", id, err)
		}
		if inst.MarginInit, err = refRate(ref.MarginInit); err != nil {
			return nil, fmt.Errorf("instrument %s initial margin rate: %w", id, err)
		}
		if inst.MarginMaint, err = refRate(ref.MarginMaint); err != nil {
			return nil, fmt.Errorf("instrument %s maintenance margin rate: %w", id, err)
		}

		validated, err := domain.NewInstrument(inst)
		if err != nil {
			return nil, err
		}
		out = append(out, validated)
	}
	return out, nil
}

func refRate(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Decimal{}, nil
	}
	return decimal.NewFromString(s)
}

// buildAccount creates the configured account with its opening balance
// snapshot.
func buildAccount(cfg *infra.Config) (account.Account, error) {
	if len(cfg.Account.InitialBalances) == 0 {
		return nil, fmt.Errorf("account %s: at least one initial balance is required", cfg.Account.ID)
	}

	balances := make([]domain.AccountBalance, 0, len(cfg.Account.InitialBalances))
	for _, s := range cfg.Account.InitialBalances {
		total, err := quant.MoneyFromStr(s)
		if err != nil {
			return nil, fmt.Errorf("account %s initial balance %q: %w", cfg.Account.ID, s, err)
		}
		balances = append(balances, domain.NewAccountBalance(total, quant.MoneyZero(total.Currency), total))
	}

	accountType, err := domain.AccountTypeFromStr(cfg.Account.Type)
	if err != nil {
		return nil, err
	}
	initial := domain.AccountState{
		AccountID:   cfg.Account.ID,
		AccountType: accountType,
		Balances:    balances,
	}

	switch accountType {
	case domain.MarginAccountType:
		acct, err := account.NewMarginAccount(initial)
		if err != nil {
			return nil, err
		}
		if cfg.Account.DefaultLeverage > 0 {
			if err := acct.SetDefaultLeverage(decimal.NewFromFloat(cfg.Account.DefaultLeverage)); err != nil {
				return nil, err
			}
		}
		return acct, nil
	default:
		return account.NewCashAccount(initial)
	}
}
