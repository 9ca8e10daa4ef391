package position

import (
	"errors"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/chainrule-labs/pesto-contracts-sub000/native/common"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/debt"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/decimals"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/fees"
)

var (
	errNilState = errors.New("position: state not configured")

	ErrPositionExists   = errors.New("position: owner already holds a position for these tokens")
	ErrPositionNotFound = errors.New("position: not found")
	ErrZeroToken        = errors.New("position: token address required")
	ErrZeroOwner        = fmt.Errorf("position: owner required: %w", common.ErrUnauthorized)
	ErrTokenConflict    = fmt.Errorf("position: debt token must differ from collateral and base: %w", common.ErrTokenConflict)
	ErrLeverageConflict = fmt.Errorf("position: leverage requires collateral and base to match: %w", common.ErrTokenConflict)
	ErrInvalidLTV       = fmt.Errorf("position: ltv must be within 1..100: %w", common.ErrOutOfRange)
	ErrInvalidAmount    = fmt.Errorf("position: amount must be positive: %w", common.ErrOutOfRange)
	ErrDustBorrow       = fmt.Errorf("position: collateral too small to size a borrow: %w", common.ErrOutOfRange)
)

// Position identifies one leveraged exposure. The decimals of each leg are
// captured when the position is created and never change.
type Position struct {
	Address            ethcommon.Address
	Owner              ethcommon.Address
	CollateralToken    ethcommon.Address
	CollateralDecimals uint8
	DebtToken          ethcommon.Address
	DebtDecimals       uint8
	BaseToken          ethcommon.Address
	BaseDecimals       uint8
	CreatedAt          uint64
	Nonce              uint64
}

// SameCollateralAndBase reports whether the collateral leg and the base leg
// share one pool position.
func (p Position) SameCollateralAndBase() bool {
	return p.CollateralToken == p.BaseToken
}

func (p Position) collateralLeg() (debt.Leg, error) {
	n, err := decimals.New(p.CollateralDecimals)
	return debt.Leg{Token: p.CollateralToken, Normalizer: n}, err
}

func (p Position) debtLeg() (debt.Leg, error) {
	n, err := decimals.New(p.DebtDecimals)
	return debt.Leg{Token: p.DebtToken, Normalizer: n}, err
}

// AddParams opens or grows a position with fresh collateral.
type AddParams struct {
	CollateralAmount *uint256.Int
	// LTV is the target loan to value in percent.
	LTV              uint64
	SwapAmountOutMin *uint256.Int
	PoolFee          uint32
	Client           ethcommon.Address
}

// LeverageParams draws additional debt without fresh collateral.
type LeverageParams struct {
	DebtAmount       *uint256.Int
	SwapAmountOutMin *uint256.Int
	PoolFee          uint32
	Client           ethcommon.Address
}

// CloseParams unwinds part or all of a position. Either amount may be
// lending.MaxAmount to withdraw the full supplied balance; zero skips that
// leg.
type CloseParams struct {
	BaseAmount       *uint256.Int
	CollateralAmount *uint256.Int
	PoolFee          uint32
	// ExactOutput swaps for exactly the outstanding debt plus the interest
	// buffer and returns the unused base as gains. Otherwise all withdrawn
	// base is swapped with SwapAmountOutMin as the guard.
	ExactOutput      bool
	SwapAmountOutMin *uint256.Int
}

// AddResult reports the amounts moved by Add.
type AddResult struct {
	Collateral *uint256.Int
	Debt       *uint256.Int
	Base       *uint256.Int
	Fees       fees.Receipt
}

// LeverageResult reports the amounts moved by AddLeverage.
type LeverageResult struct {
	Debt *uint256.Int
	Base *uint256.Int
	Fees fees.Receipt
}

// CloseResult reports the amounts moved by Close.
type CloseResult struct {
	BaseWithdrawn       *uint256.Int
	SwapIn              *uint256.Int
	SwapOut             *uint256.Int
	Repaid              *uint256.Int
	Gains               *uint256.Int
	CollateralWithdrawn *uint256.Int
	RemainingDebt       *uint256.Int
}

// Snapshot is the live view of a position across the pool and the ledger.
type Snapshot struct {
	Position   Position
	Collateral *uint256.Int
	// Base is zero when collateral and base are the same token; the shared
	// balance is reported once as Collateral.
	Base        *uint256.Int
	Debt        *uint256.Int
	PendingBase *uint256.Int
}

// Empty reports whether the position holds nothing.
func (s Snapshot) Empty() bool {
	for _, v := range []*uint256.Int{s.Collateral, s.Base, s.Debt, s.PendingBase} {
		if v != nil && !v.IsZero() {
			return false
		}
	}
	return true
}
