package lending

import (
	"fmt"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/chainrule-labs/pesto-contracts-sub000/native/decimals"
)

// ReserveConfig captures the governance controlled parameters of a reserve.
type ReserveConfig struct {
	Token    ethcommon.Address
	Decimals uint8
	// LTVBps caps how much debt value each unit of supplied value may back,
	// expressed in basis points.
	LTVBps uint64
	// LiquidationThresholdBps is the collateral weight used by the health
	// factor, expressed in basis points.
	LiquidationThresholdBps uint64
	// ReserveFactorBps is the share of borrow interest withheld from
	// suppliers, expressed in basis points.
	ReserveFactorBps uint64
}

// Validate checks the reserve parameters are coherent.
func (c ReserveConfig) Validate() error {
	if c.Token == (ethcommon.Address{}) {
		return fmt.Errorf("%w: token address required", ErrInvalidReserveConfig)
	}
	if c.Decimals > decimals.Basis {
		return fmt.Errorf("%w: %d decimals", decimals.ErrDecimalsTooLarge, c.Decimals)
	}
	if c.LiquidationThresholdBps == 0 || c.LiquidationThresholdBps > 10_000 {
		return fmt.Errorf("%w: liquidation threshold %d bps", ErrInvalidReserveConfig, c.LiquidationThresholdBps)
	}
	if c.LTVBps > c.LiquidationThresholdBps {
		return fmt.Errorf("%w: ltv %d bps above liquidation threshold %d bps", ErrInvalidReserveConfig, c.LTVBps, c.LiquidationThresholdBps)
	}
	if c.ReserveFactorBps > 10_000 {
		return fmt.Errorf("%w: reserve factor %d bps", ErrInvalidReserveConfig, c.ReserveFactorBps)
	}
	return nil
}

// Reserve is the accounting state of one token market. Balances are kept
// scaled by the cumulative indexes so interest accrues without touching every
// account.
type Reserve struct {
	Token                   ethcommon.Address
	Decimals                uint8
	LTVBps                  uint64
	LiquidationThresholdBps uint64
	ReserveFactorBps        uint64
	// SupplyIndex is the cumulative interest index applied to supplier
	// balances, in ray.
	SupplyIndex *big.Int
	// BorrowIndex is the cumulative interest index applied to borrower
	// debt, in ray.
	BorrowIndex       *big.Int
	TotalScaledSupply *big.Int
	TotalScaledDebt   *big.Int
	// LastAccrual records the unix second when indexes were last refreshed.
	LastAccrual uint64
}

// Clone returns a deep copy of the reserve.
func (r *Reserve) Clone() *Reserve {
	if r == nil {
		return nil
	}
	clone := *r
	clone.SupplyIndex = cloneBig(r.SupplyIndex)
	clone.BorrowIndex = cloneBig(r.BorrowIndex)
	clone.TotalScaledSupply = cloneBig(r.TotalScaledSupply)
	clone.TotalScaledDebt = cloneBig(r.TotalScaledDebt)
	return &clone
}

// TotalSupplied returns the suppliers' claim including accrued interest.
func (r *Reserve) TotalSupplied() *big.Int {
	return liquidityFromShares(r.TotalScaledSupply, r.SupplyIndex)
}

// TotalDebt returns the outstanding debt including accrued interest.
func (r *Reserve) TotalDebt() *big.Int {
	return debtFromScaled(r.TotalScaledDebt, r.BorrowIndex)
}

func (r *Reserve) ensureDefaults() {
	if r.SupplyIndex == nil || r.SupplyIndex.Sign() == 0 {
		r.SupplyIndex = new(big.Int).Set(ray)
	}
	if r.BorrowIndex == nil || r.BorrowIndex.Sign() == 0 {
		r.BorrowIndex = new(big.Int).Set(ray)
	}
	if r.TotalScaledSupply == nil {
		r.TotalScaledSupply = new(big.Int)
	}
	if r.TotalScaledDebt == nil {
		r.TotalScaledDebt = new(big.Int)
	}
}

// AccountData summarises an account's exposure across every reserve. USD
// values carry 26 decimals: 18 from normalisation and 8 from the oracle.
type AccountData struct {
	TotalCollateralUSD *uint256.Int
	TotalDebtUSD       *uint256.Int
	// BorrowCapacityUSD is the LTV weighted collateral value.
	BorrowCapacityUSD *uint256.Int
	// LiquidationCapacityUSD is the liquidation threshold weighted
	// collateral value.
	LiquidationCapacityUSD *uint256.Int
	// HealthFactor is LiquidationCapacityUSD / TotalDebtUSD in 18 decimals.
	// Accounts without debt report the maximum value.
	HealthFactor *uint256.Int
}

// Healthy reports whether the account is above the liquidation threshold.
func (d AccountData) Healthy() bool {
	if d.HealthFactor == nil {
		return true
	}
	return !d.HealthFactor.Lt(uint256.MustFromBig(wad))
}
