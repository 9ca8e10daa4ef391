package events

import (
	"strconv"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/chainrule-labs/pesto-contracts-sub000/core/types"
)

const (
	// TypeSwapExecuted is emitted whenever the router settles a swap.
	TypeSwapExecuted = "swap.executed"
	// TypeLiquidityAdded is emitted when reserves are deposited into a pool.
	TypeLiquidityAdded = "swap.liquidity_added"
)

type SwapExecuted struct {
	Trader    ethcommon.Address
	Recipient ethcommon.Address
	TokenIn   ethcommon.Address
	TokenOut  ethcommon.Address
	Fee       uint32
	AmountIn  *uint256.Int
	AmountOut *uint256.Int
}

func (SwapExecuted) EventType() string { return TypeSwapExecuted }

func (e SwapExecuted) Event() *types.Event {
	attrs := map[string]string{
		"tokenIn":   formatAddress(e.TokenIn),
		"tokenOut":  formatAddress(e.TokenOut),
		"fee":       strconv.FormatUint(uint64(e.Fee), 10),
		"amountIn":  formatAmount(e.AmountIn),
		"amountOut": formatAmount(e.AmountOut),
	}
	setAddress(attrs, "trader", e.Trader)
	setAddress(attrs, "recipient", e.Recipient)
	return &types.Event{Type: TypeSwapExecuted, Attributes: attrs}
}

type LiquidityAdded struct {
	Provider ethcommon.Address
	Token0   ethcommon.Address
	Token1   ethcommon.Address
	Fee      uint32
	Amount0  *uint256.Int
	Amount1  *uint256.Int
}

func (LiquidityAdded) EventType() string { return TypeLiquidityAdded }

func (e LiquidityAdded) Event() *types.Event {
	attrs := map[string]string{
		"token0":  formatAddress(e.Token0),
		"token1":  formatAddress(e.Token1),
		"fee":     strconv.FormatUint(uint64(e.Fee), 10),
		"amount0": formatAmount(e.Amount0),
		"amount1": formatAmount(e.Amount1),
	}
	setAddress(attrs, "provider", e.Provider)
	return &types.Event{Type: TypeLiquidityAdded, Attributes: attrs}
}
