package swap

import (
	"errors"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/chainrule-labs/pesto-contracts-sub000/core/events"
	"github.com/chainrule-labs/pesto-contracts-sub000/core/state"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/common"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/token"
	"github.com/chainrule-labs/pesto-contracts-sub000/storage"
)

var (
	routerAddr = ethcommon.HexToAddress("0x00000000000000000000000000000000000000e0")
	usdc       = ethcommon.HexToAddress("0x00000000000000000000000000000000000000a1")
	weth       = ethcommon.HexToAddress("0x00000000000000000000000000000000000000a2")
	maker      = ethcommon.HexToAddress("0x00000000000000000000000000000000000000c1")
	trader     = ethcommon.HexToAddress("0x00000000000000000000000000000000000000c2")
)

func amount(t *testing.T, raw string) *uint256.Int {
	t.Helper()
	v, err := uint256.FromDecimal(raw)
	require.NoError(t, err)
	return v
}

func newRouterFixture(t *testing.T) (*Router, *token.Ledger, *events.Buffer) {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	ledger := token.NewLedger()
	ledger.SetState(manager)
	require.NoError(t, ledger.Register(token.Metadata{Address: usdc, Symbol: "USDC", Decimals: 6}))
	require.NoError(t, ledger.Register(token.Metadata{Address: weth, Symbol: "WETH", Decimals: 18}))
	require.NoError(t, ledger.Mint(usdc, maker, amount(t, "2000000000000")))
	require.NoError(t, ledger.Mint(weth, maker, amount(t, "1000000000000000000000")))
	require.NoError(t, ledger.Mint(weth, trader, amount(t, "1000000000000000000")))

	router := NewRouter(routerAddr, ledger)
	router.SetState(manager)
	router.SetNowFunc(func() time.Time { return time.Unix(1_700_000_000, 0) })
	buf := &events.Buffer{}
	router.SetEmitter(buf)
	// 2,000,000 USDC against 1,000 WETH prices WETH at 2,000.
	_, err := router.AddLiquidity(maker, weth, usdc, FeeMedium, amount(t, "1000000000000000000000"), amount(t, "2000000000000"))
	require.NoError(t, err)
	return router, ledger, buf
}

func TestSwapExactInputPaysQuotedOutput(t *testing.T) {
	router, ledger, buf := newRouterFixture(t)
	in := amount(t, "250000000000000000")
	quote, err := router.QuoteExactInput(weth, usdc, FeeMedium, in)
	require.NoError(t, err)
	// Slightly under 500 USDC after the 0.3% fee and price impact.
	require.True(t, quote.Lt(uint256.NewInt(500_000_000)))
	require.True(t, quote.Gt(uint256.NewInt(497_000_000)))

	out, err := router.SwapExactInput(trader, ExactInputParams{
		TokenIn: weth, TokenOut: usdc, Fee: FeeMedium, AmountIn: in, AmountOutMinimum: quote,
	})
	require.NoError(t, err)
	require.True(t, out.Eq(quote))

	bal, err := ledger.BalanceOf(usdc, trader)
	require.NoError(t, err)
	require.True(t, bal.Eq(out))

	pool, err := router.Pool(usdc, weth, FeeMedium)
	require.NoError(t, err)
	require.Equal(t, usdc, pool.Token0)
	require.Equal(t, "1000250000000000000000", pool.Reserve1.Dec())
	require.Equal(t, 2, buf.Len())
}

func TestSwapExactInputEnforcesMinimum(t *testing.T) {
	router, ledger, _ := newRouterFixture(t)
	_, err := router.SwapExactInput(trader, ExactInputParams{
		TokenIn: weth, TokenOut: usdc, Fee: FeeMedium,
		AmountIn:         amount(t, "250000000000000000"),
		AmountOutMinimum: uint256.NewInt(500_000_000),
	})
	require.ErrorIs(t, err, ErrInsufficientOutput)
	require.ErrorIs(t, err, common.ErrInsufficientOutput)

	bal, _ := ledger.BalanceOf(weth, trader)
	require.Equal(t, "1000000000000000000", bal.Dec())
}

func TestSwapExactOutputHonoursMaximum(t *testing.T) {
	router, ledger, _ := newRouterFixture(t)
	want := uint256.NewInt(100_000_000)
	need, err := router.QuoteExactOutput(weth, usdc, FeeMedium, want)
	require.NoError(t, err)

	_, err = router.SwapExactOutput(trader, ExactOutputParams{
		TokenIn: weth, TokenOut: usdc, Fee: FeeMedium, AmountOut: want,
		AmountInMaximum: new(uint256.Int).SubUint64(need, 1),
	})
	require.ErrorIs(t, err, ErrExcessiveInput)

	spent, err := router.SwapExactOutput(trader, ExactOutputParams{
		TokenIn: weth, TokenOut: usdc, Fee: FeeMedium, AmountOut: want, AmountInMaximum: need,
	})
	require.NoError(t, err)
	require.True(t, spent.Eq(need))
	got, _ := ledger.BalanceOf(usdc, trader)
	require.True(t, got.Eq(want))
}

func TestExactOutputRoundsInputUp(t *testing.T) {
	reserveIn := amount(t, "1000000000000000000000")
	reserveOut := uint256.NewInt(2_000_000_000_000)
	for _, fee := range []uint32{FeeLowest, FeeLow, FeeMedium, FeeHigh} {
		for _, raw := range []uint64{1, 7, 999_999, 123_456_789} {
			want := uint256.NewInt(raw)
			in, err := amountInFor(want, reserveIn, reserveOut, fee)
			require.NoError(t, err)
			out, err := amountOutFor(in, reserveIn, reserveOut, fee)
			require.NoError(t, err)
			require.False(t, out.Lt(want), "fee %d want %d got %s", fee, raw, out)
		}
	}
}

func TestRouterValidation(t *testing.T) {
	router, _, _ := newRouterFixture(t)
	_, err := router.AddLiquidity(maker, usdc, usdc, FeeLow, uint256.NewInt(1), uint256.NewInt(1))
	require.True(t, errors.Is(err, common.ErrTokenConflict))

	_, err = router.AddLiquidity(maker, usdc, weth, 2500, uint256.NewInt(1), uint256.NewInt(1))
	require.ErrorIs(t, err, common.ErrOutOfRange)

	_, err = router.QuoteExactInput(weth, usdc, FeeLow, uint256.NewInt(1))
	require.ErrorIs(t, err, ErrPoolNotFound)

	_, err = router.SwapExactInput(trader, ExactInputParams{
		TokenIn: weth, TokenOut: usdc, Fee: FeeMedium, AmountIn: uint256.NewInt(1_000_000), Deadline: 1,
	})
	require.ErrorIs(t, err, ErrDeadlineExpired)

	_, err = router.QuoteExactOutput(weth, usdc, FeeMedium, uint256.NewInt(2_000_000_000_000))
	require.ErrorIs(t, err, ErrInsufficientLiquidity)

	pools, err := router.Pools()
	require.NoError(t, err)
	require.Len(t, pools, 1)
}
