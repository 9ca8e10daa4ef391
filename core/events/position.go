package events

import (
	"strconv"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/chainrule-labs/pesto-contracts-sub000/core/types"
)

const (
	// TypePositionCreated is emitted when the registry deploys a new position account.
	TypePositionCreated = "position.created"
	// TypePositionAdded records collateral added and debt opened against it.
	TypePositionAdded = "position.added"
	// TypeLeverageAdded records extra debt drawn against existing collateral.
	TypeLeverageAdded = "position.leverage_added"
	// TypePositionClosed records a (partial) unwind of a position.
	TypePositionClosed = "position.closed"
	// TypePositionSwept records stray balances returned to the owner.
	TypePositionSwept = "position.swept"
)

// PositionCreated announces a new position account.
type PositionCreated struct {
	Position        ethcommon.Address
	Owner           ethcommon.Address
	CollateralToken ethcommon.Address
	DebtToken       ethcommon.Address
	BaseToken       ethcommon.Address
	Nonce           uint64
}

func (PositionCreated) EventType() string { return TypePositionCreated }

func (e PositionCreated) Event() *types.Event {
	attrs := map[string]string{
		"position": formatAddress(e.Position),
		"owner":    formatAddress(e.Owner),
		"nonce":    formatUint(e.Nonce),
	}
	setAddress(attrs, "collateralToken", e.CollateralToken)
	setAddress(attrs, "debtToken", e.DebtToken)
	setAddress(attrs, "baseToken", e.BaseToken)
	return &types.Event{Type: TypePositionCreated, Attributes: attrs}
}

// PositionAdded carries the post-fee collateral supplied, the debt borrowed and
// the base token received from the swap.
type PositionAdded struct {
	Position   ethcommon.Address
	Owner      ethcommon.Address
	Collateral *uint256.Int
	Debt       *uint256.Int
	Base       *uint256.Int
	Fee        *uint256.Int
	Client     ethcommon.Address
	LTV        uint64
}

func (PositionAdded) EventType() string { return TypePositionAdded }

func (e PositionAdded) Event() *types.Event {
	attrs := map[string]string{
		"position":   formatAddress(e.Position),
		"owner":      formatAddress(e.Owner),
		"collateral": formatAmount(e.Collateral),
		"debt":       formatAmount(e.Debt),
		"base":       formatAmount(e.Base),
		"fee":        formatAmount(e.Fee),
		"ltv":        formatUint(e.LTV),
	}
	setAddress(attrs, "client", e.Client)
	return &types.Event{Type: TypePositionAdded, Attributes: attrs}
}

// LeverageAdded carries the gross debt drawn, the fee taken from it and the
// base token supplied back.
type LeverageAdded struct {
	Position ethcommon.Address
	Owner    ethcommon.Address
	Debt     *uint256.Int
	Fee      *uint256.Int
	Base     *uint256.Int
	Client   ethcommon.Address
}

func (LeverageAdded) EventType() string { return TypeLeverageAdded }

func (e LeverageAdded) Event() *types.Event {
	attrs := map[string]string{
		"position": formatAddress(e.Position),
		"owner":    formatAddress(e.Owner),
		"debt":     formatAmount(e.Debt),
		"fee":      formatAmount(e.Fee),
		"base":     formatAmount(e.Base),
	}
	setAddress(attrs, "client", e.Client)
	return &types.Event{Type: TypeLeverageAdded, Attributes: attrs}
}

// PositionClosed reports the outcome of a close.
type PositionClosed struct {
	Position            ethcommon.Address
	Owner               ethcommon.Address
	BaseWithdrawn       *uint256.Int
	SwapIn              *uint256.Int
	SwapOut             *uint256.Int
	Repaid              *uint256.Int
	Gains               *uint256.Int
	CollateralWithdrawn *uint256.Int
	RemainingDebt       *uint256.Int
	ExactOutput         bool
}

func (PositionClosed) EventType() string { return TypePositionClosed }

func (e PositionClosed) Event() *types.Event {
	return &types.Event{
		Type: TypePositionClosed,
		Attributes: map[string]string{
			"position":            formatAddress(e.Position),
			"owner":               formatAddress(e.Owner),
			"baseWithdrawn":       formatAmount(e.BaseWithdrawn),
			"swapIn":              formatAmount(e.SwapIn),
			"swapOut":             formatAmount(e.SwapOut),
			"repaid":              formatAmount(e.Repaid),
			"gains":               formatAmount(e.Gains),
			"collateralWithdrawn": formatAmount(e.CollateralWithdrawn),
			"remainingDebt":       formatAmount(e.RemainingDebt),
			"exactOutput":         strconv.FormatBool(e.ExactOutput),
		},
	}
}

// PositionSwept reports a stray balance moved from the position to its owner.
type PositionSwept struct {
	Position ethcommon.Address
	Owner    ethcommon.Address
	Token    ethcommon.Address
	Amount   *uint256.Int
}

func (PositionSwept) EventType() string { return TypePositionSwept }

func (e PositionSwept) Event() *types.Event {
	return &types.Event{
		Type: TypePositionSwept,
		Attributes: map[string]string{
			"position": formatAddress(e.Position),
			"owner":    formatAddress(e.Owner),
			"token":    formatAddress(e.Token),
			"amount":   formatAmount(e.Amount),
		},
	}
}
