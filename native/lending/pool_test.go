package lending

import (
	"errors"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/chainrule-labs/pesto-contracts-sub000/core/state"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/common"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/oracle"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/token"
	"github.com/chainrule-labs/pesto-contracts-sub000/storage"
)

var (
	poolAddr = ethcommon.HexToAddress("0x00000000000000000000000000000000000000f0")
	usdc     = ethcommon.HexToAddress("0x00000000000000000000000000000000000000a1")
	weth     = ethcommon.HexToAddress("0x00000000000000000000000000000000000000a2")
	lender   = ethcommon.HexToAddress("0x00000000000000000000000000000000000000b1")
	alice    = ethcommon.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type poolFixture struct {
	pool   *Pool
	ledger *token.Ledger
	now    time.Time
}

func mustAmount(t *testing.T, raw string) *uint256.Int {
	t.Helper()
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return v
}

func newPoolFixture(t *testing.T) *poolFixture {
	t.Helper()
	fx := &poolFixture{now: time.Unix(1_700_000_000, 0)}
	clock := func() time.Time { return fx.now }
	manager := state.NewManager(storage.NewMemDB())

	fx.ledger = token.NewLedger()
	fx.ledger.SetState(manager)
	for _, meta := range []token.Metadata{
		{Address: usdc, Symbol: "USDC", Decimals: 6},
		{Address: weth, Symbol: "WETH", Decimals: 18},
	} {
		if err := fx.ledger.Register(meta); err != nil {
			t.Fatalf("register %s: %v", meta.Symbol, err)
		}
	}

	prices := oracle.New(0)
	prices.SetState(manager)
	prices.SetNowFunc(clock)
	if err := prices.SetPrice(usdc, uint256.NewInt(1_00000000), "test"); err != nil {
		t.Fatalf("price: %v", err)
	}
	if err := prices.SetPrice(weth, uint256.NewInt(2_000_00000000), "test"); err != nil {
		t.Fatalf("price: %v", err)
	}

	fx.pool = NewPool(poolAddr, fx.ledger, prices)
	fx.pool.SetState(manager)
	fx.pool.SetNowFunc(clock)
	for _, cfg := range []ReserveConfig{
		{Token: usdc, Decimals: 6, LTVBps: 8_000, LiquidationThresholdBps: 8_500, ReserveFactorBps: 1_000},
		{Token: weth, Decimals: 18, LTVBps: 7_500, LiquidationThresholdBps: 8_000, ReserveFactorBps: 1_000},
	} {
		if err := fx.pool.InitReserve(cfg); err != nil {
			t.Fatalf("init reserve: %v", err)
		}
	}

	if err := fx.ledger.Mint(weth, lender, mustAmount(t, "10000000000000000000")); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := fx.pool.Supply(lender, weth, mustAmount(t, "10000000000000000000")); err != nil {
		t.Fatalf("seed liquidity: %v", err)
	}
	if err := fx.ledger.Mint(usdc, alice, uint256.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	return fx
}

func TestBorrowRepayWithdrawCycle(t *testing.T) {
	fx := newPoolFixture(t)
	if err := fx.pool.Supply(alice, usdc, uint256.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	quarter := mustAmount(t, "250000000000000000")
	if err := fx.pool.Borrow(alice, weth, quarter); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	debt, err := fx.pool.VariableDebtBalance(weth, alice)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	if !debt.Eq(quarter) {
		t.Fatalf("expected debt %s, got %s", quarter, debt)
	}

	// $500 borrowed against $800 of capacity; another $400 must fail.
	if err := fx.pool.Borrow(alice, weth, mustAmount(t, "200000000000000000")); !errors.Is(err, ErrBorrowCapacityExceeded) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	if _, err := fx.pool.Withdraw(alice, usdc, MaxAmount, alice); !errors.Is(err, ErrHealthCheckFailed) {
		t.Fatalf("expected health check failure, got %v", err)
	}

	data, err := fx.pool.AccountData(alice)
	if err != nil {
		t.Fatalf("account data: %v", err)
	}
	if data.TotalDebtUSD.Cmp(mustAmount(t, "50000000000000000000000000000")) != 0 {
		t.Fatalf("unexpected debt value %s", data.TotalDebtUSD)
	}
	if !data.Healthy() {
		t.Fatalf("expected healthy account")
	}

	repaid, err := fx.pool.Repay(alice, alice, weth, MaxAmount)
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if !repaid.Eq(quarter) {
		t.Fatalf("expected full repayment, got %s", repaid)
	}
	if _, err := fx.pool.Repay(alice, alice, weth, uint256.NewInt(1)); !errors.Is(err, ErrNoDebtToRepay) {
		t.Fatalf("expected no debt error, got %v", err)
	}

	withdrawn, err := fx.pool.Withdraw(alice, usdc, MaxAmount, alice)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if withdrawn.Uint64() != 1_000_000_000 {
		t.Fatalf("unexpected withdrawal %s", withdrawn)
	}
	bal, _ := fx.ledger.BalanceOf(usdc, alice)
	if bal.Uint64() != 1_000_000_000 {
		t.Fatalf("expected collateral back, got %s", bal)
	}
}

func TestRepayIsCappedAtDebt(t *testing.T) {
	fx := newPoolFixture(t)
	_ = fx.pool.Supply(alice, usdc, uint256.NewInt(1_000_000_000))
	if err := fx.pool.Borrow(alice, weth, uint256.NewInt(1_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := fx.ledger.Mint(weth, alice, uint256.NewInt(5_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	repaid, err := fx.pool.Repay(alice, alice, weth, uint256.NewInt(400))
	if err != nil {
		t.Fatalf("partial repay: %v", err)
	}
	if repaid.Uint64() != 400 {
		t.Fatalf("expected 400 repaid, got %s", repaid)
	}
	debt, _ := fx.pool.VariableDebtBalance(weth, alice)
	if debt.Uint64() != 600 {
		t.Fatalf("expected 600 outstanding, got %s", debt)
	}
	repaid, err = fx.pool.Repay(alice, alice, weth, uint256.NewInt(602))
	if err != nil {
		t.Fatalf("repay with buffer: %v", err)
	}
	if repaid.Uint64() != 600 {
		t.Fatalf("expected cap at 600, got %s", repaid)
	}
	bal, _ := fx.ledger.BalanceOf(weth, alice)
	if bal.Uint64() != 1_000+5_000-1_000 {
		t.Fatalf("unexpected remaining balance %s", bal)
	}
}

func TestInterestAccruesOverTime(t *testing.T) {
	fx := newPoolFixture(t)
	_ = fx.pool.Supply(alice, usdc, uint256.NewInt(1_000_000_000))
	quarter := mustAmount(t, "250000000000000000")
	if err := fx.pool.Borrow(alice, weth, quarter); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	fx.now = fx.now.Add(365 * 24 * time.Hour)

	debt, err := fx.pool.VariableDebtBalance(weth, alice)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	if !debt.Gt(quarter) {
		t.Fatalf("expected debt to grow beyond %s, got %s", quarter, debt)
	}
	supplied, err := fx.pool.ATokenBalance(weth, lender)
	if err != nil {
		t.Fatalf("supplied: %v", err)
	}
	if !supplied.Gt(mustAmount(t, "10000000000000000000")) {
		t.Fatalf("expected supplier balance to grow, got %s", supplied)
	}
	growthDebt := new(uint256.Int).Sub(debt, quarter)
	growthSupply := new(uint256.Int).Sub(supplied, mustAmount(t, "10000000000000000000"))
	if growthSupply.Gt(growthDebt) {
		t.Fatalf("suppliers cannot earn more than borrowers pay: %s > %s", growthSupply, growthDebt)
	}
}

func TestPausedPoolRejectsSupply(t *testing.T) {
	fx := newPoolFixture(t)
	fx.pool.SetPauses(common.StaticPauses{"lending": true})
	if err := fx.pool.Supply(alice, usdc, uint256.NewInt(100)); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	bal, _ := fx.ledger.BalanceOf(usdc, alice)
	if bal.Uint64() != 1_000_000_000 {
		t.Fatalf("expected supplier balance to remain, got %s", bal)
	}
}

func TestReserveConfigValidation(t *testing.T) {
	fx := newPoolFixture(t)
	cases := []ReserveConfig{
		{Token: alice, Decimals: 6, LTVBps: 9_000, LiquidationThresholdBps: 8_000},
		{Token: alice, Decimals: 6, LTVBps: 0, LiquidationThresholdBps: 0},
		{Token: alice, Decimals: 19, LTVBps: 1, LiquidationThresholdBps: 2},
	}
	for i, cfg := range cases {
		if err := fx.pool.InitReserve(cfg); !errors.Is(err, common.ErrOutOfRange) {
			t.Fatalf("case %d: expected out of range, got %v", i, err)
		}
	}
	if err := fx.pool.InitReserve(ReserveConfig{Token: usdc, Decimals: 6, LTVBps: 1, LiquidationThresholdBps: 2}); !errors.Is(err, ErrReserveExists) {
		t.Fatalf("expected duplicate reserve error, got %v", err)
	}
}
