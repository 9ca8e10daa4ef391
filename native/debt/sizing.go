// Package debt converts a collateral amount and a target loan-to-value ratio
// into the borrow amount requested from the lending pool.
package debt

import (
	"errors"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/chainrule-labs/pesto-contracts-sub000/native/common"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/decimals"
)

var (
	errLTVRange      = fmt.Errorf("debt: ltv must be a percentage: %w", common.ErrOutOfRange)
	errPriceRequired = fmt.Errorf("debt: debt price must be positive: %w", common.ErrArithmetic)
	errNilOracle     = errors.New("debt: price source not configured")
)

var hundred = uint256.NewInt(100)

// Inputs carries the operands of the borrow amount formula. Prices share the
// oracle's fixed decimal basis; factors are 10^(18-decimals) per token.
type Inputs struct {
	CollateralAmount *uint256.Int
	LTV              uint64
	CollateralPrice  *uint256.Int
	DebtPrice        *uint256.Int
	CollateralFactor *uint256.Int
	DebtFactor       *uint256.Int
}

// ComputeBorrowAmount evaluates
//
//	collateralUSD = amount * collateralPrice * collateralFactor
//	debtUSD       = collateralUSD * ltv / 100
//	borrow        = debtUSD / (debtPrice * debtFactor)
//
// with floor division at every step. The LTV is trusted: whether the pool
// accepts the resulting borrow is decided by the pool.
func ComputeBorrowAmount(in Inputs) (*uint256.Int, error) {
	if in.LTV > 100 {
		return nil, errLTVRange
	}
	if in.LTV == 0 || common.OrZero(in.CollateralAmount).IsZero() {
		return common.Zero(), nil
	}
	collateralUSD, err := common.Mul(in.CollateralAmount, in.CollateralPrice)
	if err != nil {
		return nil, err
	}
	collateralUSD, err = common.Mul(collateralUSD, in.CollateralFactor)
	if err != nil {
		return nil, err
	}
	debtUSD, err := common.MulDiv(collateralUSD, uint256.NewInt(in.LTV), hundred)
	if err != nil {
		return nil, err
	}
	denominator, err := common.Mul(in.DebtPrice, in.DebtFactor)
	if err != nil {
		return nil, err
	}
	if denominator.IsZero() {
		return nil, errPriceRequired
	}
	return common.Div(debtUSD, denominator)
}

// PriceSource exposes the oracle quote used for sizing.
type PriceSource interface {
	AssetPrice(token ethcommon.Address) (*uint256.Int, error)
}

// Leg identifies one side of the sizing computation.
type Leg struct {
	Token      ethcommon.Address
	Normalizer decimals.Normalizer
}

// Sizer binds the borrow formula to a live price source.
type Sizer struct {
	prices PriceSource
}

// NewSizer constructs a sizer reading prices from the supplied oracle.
func NewSizer(prices PriceSource) *Sizer {
	return &Sizer{prices: prices}
}

// BorrowAmount sizes the debt to draw against amount of collateral at ltv
// percent using current oracle prices.
func (s *Sizer) BorrowAmount(collateral, debt Leg, amount *uint256.Int, ltv uint64) (*uint256.Int, error) {
	if s == nil || s.prices == nil {
		return nil, errNilOracle
	}
	collateralPrice, err := s.prices.AssetPrice(collateral.Token)
	if err != nil {
		return nil, fmt.Errorf("debt: collateral price: %w", err)
	}
	debtPrice, err := s.prices.AssetPrice(debt.Token)
	if err != nil {
		return nil, fmt.Errorf("debt: debt price: %w", err)
	}
	return ComputeBorrowAmount(Inputs{
		CollateralAmount: amount,
		LTV:              ltv,
		CollateralPrice:  collateralPrice,
		DebtPrice:        debtPrice,
		CollateralFactor: collateral.Normalizer.Factor(),
		DebtFactor:       debt.Normalizer.Factor(),
	})
}
