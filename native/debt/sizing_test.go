package debt

import (
	"errors"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/chainrule-labs/pesto-contracts-sub000/native/common"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/decimals"
)

func usdcWethInputs(ltv uint64) Inputs {
	return Inputs{
		CollateralAmount: uint256.NewInt(1_000_000_000), // 1000 units at 6 decimals
		LTV:              ltv,
		CollateralPrice:  uint256.NewInt(100_000_000),     // $1 with 8 decimals
		DebtPrice:        uint256.NewInt(200_000_000_000), // $2000 with 8 decimals
		CollateralFactor: decimals.MustNew(6).Factor(),
		DebtFactor:       decimals.MustNew(18).Factor(),
	}
}

func formula(in Inputs) *uint256.Int {
	collateralUSD := new(uint256.Int).Mul(in.CollateralAmount, in.CollateralPrice)
	collateralUSD.Mul(collateralUSD, in.CollateralFactor)
	debtUSD := new(uint256.Int).Mul(collateralUSD, uint256.NewInt(in.LTV))
	debtUSD.Div(debtUSD, uint256.NewInt(100))
	den := new(uint256.Int).Mul(in.DebtPrice, in.DebtFactor)
	return debtUSD.Div(debtUSD, den)
}

func TestBorrowAmountMatchesFormulaAcrossDecimals(t *testing.T) {
	in := usdcWethInputs(50)
	got, err := ComputeBorrowAmount(in)
	require.NoError(t, err)
	require.True(t, got.Eq(formula(in)))
	// 1000 USD at 50% is 500 USD, a quarter of one 2000 USD token.
	require.Equal(t, "250000000000000000", got.Dec())
}

func TestBorrowAmountZeroLTV(t *testing.T) {
	got, err := ComputeBorrowAmount(usdcWethInputs(0))
	require.NoError(t, err)
	require.True(t, got.IsZero())
}

func TestBorrowAmountMonotonicInLTV(t *testing.T) {
	prev := common.Zero()
	for ltv := uint64(1); ltv <= 100; ltv++ {
		got, err := ComputeBorrowAmount(usdcWethInputs(ltv))
		require.NoError(t, err)
		require.True(t, got.Sign() > 0, "ltv %d", ltv)
		require.True(t, got.Gt(prev), "ltv %d did not increase the borrow amount", ltv)
		prev = got
	}
}

func TestBorrowAmountRejectsInvalidInputs(t *testing.T) {
	_, err := ComputeBorrowAmount(usdcWethInputs(101))
	require.True(t, errors.Is(err, common.ErrOutOfRange))

	in := usdcWethInputs(50)
	in.DebtPrice = common.Zero()
	_, err = ComputeBorrowAmount(in)
	require.ErrorIs(t, err, common.ErrArithmetic)

	in = usdcWethInputs(50)
	in.CollateralAmount = new(uint256.Int).SetAllOne()
	_, err = ComputeBorrowAmount(in)
	require.ErrorIs(t, err, common.ErrArithmetic)
}

type fixedPrices map[ethcommon.Address]*uint256.Int

func (f fixedPrices) AssetPrice(token ethcommon.Address) (*uint256.Int, error) {
	price, ok := f[token]
	if !ok {
		return nil, errors.New("no price")
	}
	return price, nil
}

func TestSizerReadsOraclePrices(t *testing.T) {
	usdc := ethcommon.HexToAddress("0x01")
	weth := ethcommon.HexToAddress("0x02")
	sizer := NewSizer(fixedPrices{
		usdc: uint256.NewInt(100_000_000),
		weth: uint256.NewInt(200_000_000_000),
	})
	got, err := sizer.BorrowAmount(
		Leg{Token: usdc, Normalizer: decimals.MustNew(6)},
		Leg{Token: weth, Normalizer: decimals.MustNew(18)},
		uint256.NewInt(1_000_000_000), 50,
	)
	require.NoError(t, err)
	require.Equal(t, "250000000000000000", got.Dec())

	_, err = sizer.BorrowAmount(Leg{Token: ethcommon.HexToAddress("0x03")}, Leg{Token: weth}, uint256.NewInt(1), 10)
	require.Error(t, err)
}
