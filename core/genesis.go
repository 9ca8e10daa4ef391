package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chainrule-labs/pesto-contracts-sub000/config"
	"github.com/chainrule-labs/pesto-contracts-sub000/core/state"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/fees"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/lending"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/oracle"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/token"
)

// Genesis seeds an empty store from cfg: tokens, prices, lending reserves,
// the fee collector, swap liquidity and initial balances. It runs as a single
// operation and refuses to run twice.
func (p *Protocol) Genesis(ctx context.Context, cfg *config.Protocol) error {
	if cfg == nil {
		return fmt.Errorf("core: genesis config required")
	}
	return p.exec.Execute(ctx, "protocol.genesis", func(tx *Tx) error {
		applied, err := tx.State.KVGet(genesisKey, nil)
		if err != nil {
			return err
		}
		if applied {
			return ErrGenesisApplied
		}
		e := p.bind(tx)
		// Seeding is not subject to module pauses.
		e.pool.SetPauses(nil)
		e.router.SetPauses(nil)
		e.collector.SetPauses(nil)
		if err := seedTokens(e, cfg); err != nil {
			return err
		}
		if err := e.collector.Init(fees.Settings{
			Owner:                   p.owner,
			ProtocolFeeRatePermille: cfg.ProtocolFeeRatePermille,
			ClientRate:              cfg.ClientRate,
		}); err != nil {
			return fmt.Errorf("genesis: fee collector: %w", err)
		}
		if err := seedPools(e, cfg); err != nil {
			return err
		}
		if err := seedAllocations(e, cfg); err != nil {
			return err
		}
		if err := tx.State.SetStateVersion(state.StateVersion); err != nil {
			return err
		}
		return tx.State.KVPut(genesisKey, true)
	})
}

// EnsureGenesis applies cfg unless the store was already seeded.
func (p *Protocol) EnsureGenesis(ctx context.Context, cfg *config.Protocol, logger *slog.Logger) error {
	applied, err := p.Bootstrapped(ctx)
	if err != nil {
		return err
	}
	if applied {
		return state.EnsureStateVersion(p.exec.Database(), false)
	}
	if err := p.Genesis(ctx, cfg); err != nil {
		return err
	}
	if logger != nil {
		logger.Info("genesis applied",
			slog.Int("tokens", len(cfg.Tokens)),
			slog.Int("pools", len(cfg.Pools)),
			slog.Int("allocations", len(cfg.Genesis)))
	}
	return nil
}

func seedTokens(e *engines, cfg *config.Protocol) error {
	for _, tok := range cfg.Tokens {
		addr, err := config.ParseAddress(tok.Address)
		if err != nil {
			return fmt.Errorf("genesis: token %s: %w", tok.Symbol, err)
		}
		meta := token.Metadata{Address: addr, Symbol: strings.ToUpper(strings.TrimSpace(tok.Symbol)), Decimals: tok.Decimals}
		if err := e.ledger.Register(meta); err != nil {
			return fmt.Errorf("genesis: token %s: %w", tok.Symbol, err)
		}
		price, err := config.ParseUnits(tok.PriceUSD, oracle.PriceDecimals)
		if err != nil {
			return fmt.Errorf("genesis: token %s price: %w", tok.Symbol, err)
		}
		if err := e.oracle.SetPrice(addr, price, "genesis"); err != nil {
			return fmt.Errorf("genesis: token %s price: %w", tok.Symbol, err)
		}
		// Tokens without a liquidation threshold are tradable but not
		// listed in the lending pool.
		if tok.LiquidationThresholdBps == 0 {
			continue
		}
		if err := e.pool.InitReserve(lending.ReserveConfig{
			Token:                   addr,
			Decimals:                tok.Decimals,
			LTVBps:                  tok.LTVBps,
			LiquidationThresholdBps: tok.LiquidationThresholdBps,
			ReserveFactorBps:        tok.ReserveFactorBps,
		}); err != nil {
			return fmt.Errorf("genesis: reserve %s: %w", tok.Symbol, err)
		}
	}
	return nil
}

func seedPools(e *engines, cfg *config.Protocol) error {
	if len(cfg.Pools) == 0 {
		return nil
	}
	provider, err := config.ParseAddress(cfg.LiquidityProvider)
	if err != nil {
		return fmt.Errorf("genesis: liquidity provider: %w", err)
	}
	for _, pool := range cfg.Pools {
		a, _ := cfg.TokenBySymbol(pool.TokenA)
		b, _ := cfg.TokenBySymbol(pool.TokenB)
		addrA, _ := config.ParseAddress(a.Address)
		addrB, _ := config.ParseAddress(b.Address)
		amountA, err := config.ParseUnits(pool.ReserveA, a.Decimals)
		if err != nil {
			return fmt.Errorf("genesis: pool %s/%s: %w", a.Symbol, b.Symbol, err)
		}
		amountB, err := config.ParseUnits(pool.ReserveB, b.Decimals)
		if err != nil {
			return fmt.Errorf("genesis: pool %s/%s: %w", a.Symbol, b.Symbol, err)
		}
		if err := e.ledger.Mint(addrA, provider, amountA); err != nil {
			return err
		}
		if err := e.ledger.Mint(addrB, provider, amountB); err != nil {
			return err
		}
		if _, err := e.router.AddLiquidity(provider, addrA, addrB, pool.Fee, amountA, amountB); err != nil {
			return fmt.Errorf("genesis: pool %s/%s: %w", a.Symbol, b.Symbol, err)
		}
	}
	return nil
}

func seedAllocations(e *engines, cfg *config.Protocol) error {
	for _, alloc := range cfg.Genesis {
		tok, _ := cfg.TokenBySymbol(alloc.Token)
		tokenAddr, _ := config.ParseAddress(tok.Address)
		account, err := config.ParseAddress(alloc.Account)
		if err != nil {
			return fmt.Errorf("genesis: allocation: %w", err)
		}
		amount, err := config.ParseUnits(alloc.Amount, tok.Decimals)
		if err != nil {
			return fmt.Errorf("genesis: allocation %s: %w", tok.Symbol, err)
		}
		if err := e.ledger.Mint(tokenAddr, account, amount); err != nil {
			return fmt.Errorf("genesis: allocation %s: %w", tok.Symbol, err)
		}
		if alloc.Supply {
			if err := e.pool.Supply(account, tokenAddr, amount); err != nil {
				return fmt.Errorf("genesis: supply %s: %w", tok.Symbol, err)
			}
		}
	}
	return nil
}
