package config

import (
	"fmt"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/chainrule-labs/pesto-contracts-sub000/native/fees"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/oracle"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/swap"
)

const maxDecimals = 18

// Validate checks the configuration is internally consistent.
func (c *Protocol) Validate() error {
	if c == nil {
		return fmt.Errorf("protocol config: nil")
	}
	owner, err := ParseAddress(c.Owner)
	if err != nil {
		return fmt.Errorf("protocol config: owner: %w", err)
	}
	if owner == (ethcommon.Address{}) {
		return fmt.Errorf("protocol config: owner must not be the zero address")
	}
	for name, value := range map[string]string{
		"factory":   c.FactoryAddress,
		"pool":      c.PoolAddress,
		"router":    c.RouterAddress,
		"collector": c.CollectorAddress,
	} {
		if _, err := ParseAddress(value); err != nil {
			return fmt.Errorf("protocol config: %s address: %w", name, err)
		}
	}
	if err := fees.ValidateProtocolFeeRate(c.ProtocolFeeRatePermille); err != nil {
		return fmt.Errorf("protocol config: %w", err)
	}
	if err := fees.ValidateClientRate(c.ClientRate); err != nil {
		return fmt.Errorf("protocol config: %w", err)
	}
	if c.Quotas.Position.MaxRequestsPerEpoch > 0 && c.Quotas.Position.EpochSeconds == 0 {
		return fmt.Errorf("protocol config: position quota needs EpochSeconds")
	}

	seen := make(map[string]bool, len(c.Tokens))
	for _, tok := range c.Tokens {
		key := strings.ToUpper(strings.TrimSpace(tok.Symbol))
		if key == "" {
			return fmt.Errorf("protocol config: token symbol required")
		}
		if seen[key] {
			return fmt.Errorf("protocol config: duplicate token %s", tok.Symbol)
		}
		seen[key] = true
		if _, err := ParseAddress(tok.Address); err != nil {
			return fmt.Errorf("protocol config: token %s: %w", tok.Symbol, err)
		}
		if tok.Decimals > maxDecimals {
			return fmt.Errorf("protocol config: token %s: decimals %d exceed %d", tok.Symbol, tok.Decimals, maxDecimals)
		}
		price, err := ParseUnits(tok.PriceUSD, oracle.PriceDecimals)
		if err != nil {
			return fmt.Errorf("protocol config: token %s price: %w", tok.Symbol, err)
		}
		if price.IsZero() {
			return fmt.Errorf("protocol config: token %s price must be positive", tok.Symbol)
		}
		if tok.LTVBps > tok.LiquidationThresholdBps || tok.LiquidationThresholdBps > 10_000 {
			return fmt.Errorf("protocol config: token %s: ltv must not exceed liquidation threshold", tok.Symbol)
		}
	}
	for _, pool := range c.Pools {
		a, okA := c.TokenBySymbol(pool.TokenA)
		b, okB := c.TokenBySymbol(pool.TokenB)
		if !okA || !okB {
			return fmt.Errorf("protocol config: pool %s/%s references an unknown token", pool.TokenA, pool.TokenB)
		}
		if !swap.SupportedFee(pool.Fee) {
			return fmt.Errorf("protocol config: pool %s/%s: unsupported fee tier %d", pool.TokenA, pool.TokenB, pool.Fee)
		}
		if _, err := ParseUnits(pool.ReserveA, a.Decimals); err != nil {
			return fmt.Errorf("protocol config: pool %s/%s: %w", pool.TokenA, pool.TokenB, err)
		}
		if _, err := ParseUnits(pool.ReserveB, b.Decimals); err != nil {
			return fmt.Errorf("protocol config: pool %s/%s: %w", pool.TokenA, pool.TokenB, err)
		}
	}
	if len(c.Pools) > 0 {
		if _, err := ParseAddress(c.LiquidityProvider); err != nil {
			return fmt.Errorf("protocol config: liquidity provider: %w", err)
		}
	}
	for _, alloc := range c.Genesis {
		tok, ok := c.TokenBySymbol(alloc.Token)
		if !ok {
			return fmt.Errorf("protocol config: genesis allocation references unknown token %s", alloc.Token)
		}
		if _, err := ParseAddress(alloc.Account); err != nil {
			return fmt.Errorf("protocol config: genesis allocation: %w", err)
		}
		if _, err := ParseUnits(alloc.Amount, tok.Decimals); err != nil {
			return fmt.Errorf("protocol config: genesis allocation: %w", err)
		}
	}
	return nil
}
