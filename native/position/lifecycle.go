package position

import (
	"errors"
	"fmt"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/chainrule-labs/pesto-contracts-sub000/core/events"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/common"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/debt"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/fees"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/lending"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/swap"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/token"
)

const moduleName = "position"

// DefaultInterestBuffer is added to the outstanding debt when closing so
// interest accrued between quote and repayment still clears the loan.
const DefaultInterestBuffer uint64 = 2

var errMissingCollaborator = errors.New("position: lifecycle collaborator not configured")

// TokenLedger moves tokens held by position accounts.
type TokenLedger interface {
	Transfer(token, from, to ethcommon.Address, amount *uint256.Int) error
	TransferFrom(token, spender, from, to ethcommon.Address, amount *uint256.Int) error
	BalanceOf(token, account ethcommon.Address) (*uint256.Int, error)
	Permit(p token.Permit) error
}

// LendingPool is the market positions supply to and borrow from.
type LendingPool interface {
	Supply(supplier, token ethcommon.Address, amount *uint256.Int) error
	Withdraw(account, token ethcommon.Address, amount *uint256.Int, recipient ethcommon.Address) (*uint256.Int, error)
	Borrow(borrower, token ethcommon.Address, amount *uint256.Int) error
	Repay(payer, onBehalfOf, token ethcommon.Address, amount *uint256.Int) (*uint256.Int, error)
	VariableDebtBalance(token, account ethcommon.Address) (*uint256.Int, error)
	ATokenBalance(token, account ethcommon.Address) (*uint256.Int, error)
}

// SwapRouter converts between position legs.
type SwapRouter interface {
	SwapExactInput(trader ethcommon.Address, p swap.ExactInputParams) (*uint256.Int, error)
	SwapExactOutput(trader ethcommon.Address, p swap.ExactOutputParams) (*uint256.Int, error)
}

// PriceOracle quotes USD prices with 8 decimals.
type PriceOracle interface {
	AssetPrice(token ethcommon.Address) (*uint256.Int, error)
}

// FeeCollector skims the protocol fee from a flow.
type FeeCollector interface {
	CollectFees(payer, client, token ethcommon.Address, gross *uint256.Int) (fees.Receipt, error)
}

// Lifecycle sequences the collaborator calls that open, grow and unwind a
// position. Every call must run inside one atomic operation: a failing step
// returns immediately and the executor discards everything before it.
type Lifecycle struct {
	ledger    TokenLedger
	pool      LendingPool
	router    SwapRouter
	collector FeeCollector
	sizer     *debt.Sizer

	emitter  events.Emitter
	pauses   common.PauseView
	nowFn    func() time.Time
	deadline time.Duration
	buffer   *uint256.Int
}

// NewLifecycle wires the lifecycle to its collaborators.
func NewLifecycle(ledger TokenLedger, pool LendingPool, router SwapRouter, oracle PriceOracle, collector FeeCollector) *Lifecycle {
	return &Lifecycle{
		ledger:    ledger,
		pool:      pool,
		router:    router,
		collector: collector,
		sizer:     debt.NewSizer(oracle),
		emitter:   events.NoopEmitter{},
		nowFn:     time.Now,
		buffer:    uint256.NewInt(DefaultInterestBuffer),
	}
}

func (l *Lifecycle) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	l.emitter = emitter
}

func (l *Lifecycle) SetPauses(view common.PauseView) { l.pauses = view }

func (l *Lifecycle) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	l.nowFn = now
}

// SetSwapDeadline bounds how long after submission a swap may settle. Zero
// disables the bound.
func (l *Lifecycle) SetSwapDeadline(window time.Duration) { l.deadline = window }

// SetInterestBuffer overrides the repayment buffer in debt token units.
func (l *Lifecycle) SetInterestBuffer(units uint64) { l.buffer = uint256.NewInt(units) }

func (l *Lifecycle) swapDeadline() uint64 {
	if l.deadline <= 0 {
		return 0
	}
	return uint64(l.nowFn().Add(l.deadline).Unix())
}

func (l *Lifecycle) begin(caller ethcommon.Address, pos Position) error {
	if l == nil || l.ledger == nil || l.pool == nil || l.router == nil || l.collector == nil {
		return errMissingCollaborator
	}
	if err := common.RequireOwner(caller, pos.Owner); err != nil {
		return err
	}
	return common.Guard(l.pauses, moduleName)
}

// Add pulls fresh collateral from the owner, skims the fee, supplies the
// rest, borrows against it at the requested LTV and supplies the base token
// bought with the debt.
func (l *Lifecycle) Add(caller ethcommon.Address, pos Position, p AddParams) (AddResult, error) {
	if err := l.begin(caller, pos); err != nil {
		return AddResult{}, err
	}
	if p.LTV == 0 || p.LTV > 100 {
		return AddResult{}, fmt.Errorf("%w: got %d", ErrInvalidLTV, p.LTV)
	}
	if p.CollateralAmount == nil || p.CollateralAmount.IsZero() {
		return AddResult{}, ErrInvalidAmount
	}
	collateralLeg, err := pos.collateralLeg()
	if err != nil {
		return AddResult{}, err
	}
	debtLeg, err := pos.debtLeg()
	if err != nil {
		return AddResult{}, err
	}

	if err := l.ledger.TransferFrom(pos.CollateralToken, pos.Address, pos.Owner, pos.Address, p.CollateralAmount); err != nil {
		return AddResult{}, err
	}
	receipt, err := l.collector.CollectFees(pos.Address, p.Client, pos.CollateralToken, p.CollateralAmount)
	if err != nil {
		return AddResult{}, err
	}
	collateral := receipt.Net
	if collateral.IsZero() {
		return AddResult{}, ErrInvalidAmount
	}
	if err := l.pool.Supply(pos.Address, pos.CollateralToken, collateral); err != nil {
		return AddResult{}, err
	}

	borrow, err := l.sizer.BorrowAmount(collateralLeg, debtLeg, collateral, p.LTV)
	if err != nil {
		return AddResult{}, err
	}
	if borrow.IsZero() {
		return AddResult{}, ErrDustBorrow
	}
	if err := l.pool.Borrow(pos.Address, pos.DebtToken, borrow); err != nil {
		return AddResult{}, err
	}
	base, err := l.swapToBase(pos, borrow, p.SwapAmountOutMin, p.PoolFee)
	if err != nil {
		return AddResult{}, err
	}
	if err := l.pool.Supply(pos.Address, pos.BaseToken, base); err != nil {
		return AddResult{}, err
	}

	l.emitter.Emit(events.PositionAdded{
		Position:   pos.Address,
		Owner:      pos.Owner,
		Collateral: common.Clone(collateral),
		Debt:       common.Clone(borrow),
		Base:       common.Clone(base),
		Fee:        common.Clone(receipt.ProtocolFee),
		Client:     p.Client,
		LTV:        p.LTV,
	})
	return AddResult{Collateral: collateral, Debt: borrow, Base: base, Fees: receipt}, nil
}

// AddWithPermit applies the owner's signed approval for the position account
// and then adds collateral.
func (l *Lifecycle) AddWithPermit(caller ethcommon.Address, pos Position, p AddParams, permit token.Permit) (AddResult, error) {
	if err := l.begin(caller, pos); err != nil {
		return AddResult{}, err
	}
	if permit.Token != pos.CollateralToken || permit.Owner != pos.Owner || permit.Spender != pos.Address {
		return AddResult{}, fmt.Errorf("%w: permit does not approve the position for its collateral", common.ErrUnauthorized)
	}
	if err := l.ledger.Permit(permit); err != nil {
		return AddResult{}, err
	}
	return l.Add(caller, pos, p)
}

// AddLeverage borrows DebtAmount against the existing collateral, skims the
// fee from the borrowed amount and supplies the base token bought with the
// rest. Only positions whose collateral is their base qualify.
func (l *Lifecycle) AddLeverage(caller ethcommon.Address, pos Position, p LeverageParams) (LeverageResult, error) {
	if err := l.begin(caller, pos); err != nil {
		return LeverageResult{}, err
	}
	if !pos.SameCollateralAndBase() {
		return LeverageResult{}, ErrLeverageConflict
	}
	if p.DebtAmount == nil || p.DebtAmount.IsZero() {
		return LeverageResult{}, ErrInvalidAmount
	}
	if err := l.pool.Borrow(pos.Address, pos.DebtToken, p.DebtAmount); err != nil {
		return LeverageResult{}, err
	}
	receipt, err := l.collector.CollectFees(pos.Address, p.Client, pos.DebtToken, p.DebtAmount)
	if err != nil {
		return LeverageResult{}, err
	}
	if receipt.Net.IsZero() {
		return LeverageResult{}, ErrInvalidAmount
	}
	base, err := l.swapToBase(pos, receipt.Net, p.SwapAmountOutMin, p.PoolFee)
	if err != nil {
		return LeverageResult{}, err
	}
	if err := l.pool.Supply(pos.Address, pos.BaseToken, base); err != nil {
		return LeverageResult{}, err
	}
	l.emitter.Emit(events.LeverageAdded{
		Position: pos.Address,
		Owner:    pos.Owner,
		Debt:     common.Clone(p.DebtAmount),
		Fee:      common.Clone(receipt.ProtocolFee),
		Base:     common.Clone(base),
		Client:   p.Client,
	})
	return LeverageResult{Debt: common.Clone(p.DebtAmount), Base: base, Fees: receipt}, nil
}

func (l *Lifecycle) swapToBase(pos Position, amountIn, minOut *uint256.Int, fee uint32) (*uint256.Int, error) {
	return l.router.SwapExactInput(pos.Address, swap.ExactInputParams{
		TokenIn:          pos.DebtToken,
		TokenOut:         pos.BaseToken,
		Fee:              fee,
		Recipient:        pos.Address,
		Deadline:         l.swapDeadline(),
		AmountIn:         amountIn,
		AmountOutMinimum: common.OrZero(minOut),
	})
}

// Close withdraws base from the pool, swaps it into the debt token and repays
// the loan, then withdraws the requested collateral to the owner.
//
// With ExactOutput the swap buys exactly debt plus the interest buffer and
// the base left over is sent to the owner as gains. Otherwise every withdrawn
// unit is sold and the proceeds repay what they can. A position without debt
// skips the swap and all withdrawn base is gains.
func (l *Lifecycle) Close(caller ethcommon.Address, pos Position, p CloseParams) (CloseResult, error) {
	if err := l.begin(caller, pos); err != nil {
		return CloseResult{}, err
	}
	res := CloseResult{
		BaseWithdrawn:       common.Zero(),
		SwapIn:              common.Zero(),
		SwapOut:             common.Zero(),
		Repaid:              common.Zero(),
		Gains:               common.Zero(),
		CollateralWithdrawn: common.Zero(),
	}
	if p.BaseAmount != nil && !p.BaseAmount.IsZero() {
		withdrawn, err := l.pool.Withdraw(pos.Address, pos.BaseToken, p.BaseAmount, pos.Address)
		if err != nil {
			return CloseResult{}, err
		}
		res.BaseWithdrawn = withdrawn
	}
	if !res.BaseWithdrawn.IsZero() {
		if err := l.unwind(pos, p, &res); err != nil {
			return CloseResult{}, err
		}
	}
	if !res.Gains.IsZero() {
		if err := l.ledger.Transfer(pos.BaseToken, pos.Address, pos.Owner, res.Gains); err != nil {
			return CloseResult{}, err
		}
	}
	if p.CollateralAmount != nil && !p.CollateralAmount.IsZero() {
		withdrawn, err := l.pool.Withdraw(pos.Address, pos.CollateralToken, p.CollateralAmount, pos.Owner)
		if err != nil {
			return CloseResult{}, err
		}
		res.CollateralWithdrawn = withdrawn
	}
	remaining, err := l.pool.VariableDebtBalance(pos.DebtToken, pos.Address)
	if err != nil {
		return CloseResult{}, err
	}
	res.RemainingDebt = remaining

	l.emitter.Emit(events.PositionClosed{
		Position:            pos.Address,
		Owner:               pos.Owner,
		BaseWithdrawn:       common.Clone(res.BaseWithdrawn),
		SwapIn:              common.Clone(res.SwapIn),
		SwapOut:             common.Clone(res.SwapOut),
		Repaid:              common.Clone(res.Repaid),
		Gains:               common.Clone(res.Gains),
		CollateralWithdrawn: common.Clone(res.CollateralWithdrawn),
		RemainingDebt:       common.Clone(res.RemainingDebt),
		ExactOutput:         p.ExactOutput,
	})
	return res, nil
}

func (l *Lifecycle) unwind(pos Position, p CloseParams, res *CloseResult) error {
	owed, err := l.pool.VariableDebtBalance(pos.DebtToken, pos.Address)
	if err != nil {
		return err
	}
	if owed.IsZero() {
		res.Gains = common.Clone(res.BaseWithdrawn)
		return nil
	}
	target, err := common.Add(owed, l.buffer)
	if err != nil {
		return err
	}
	if p.ExactOutput {
		amountIn, err := l.router.SwapExactOutput(pos.Address, swap.ExactOutputParams{
			TokenIn:         pos.BaseToken,
			TokenOut:        pos.DebtToken,
			Fee:             p.PoolFee,
			Recipient:       pos.Address,
			Deadline:        l.swapDeadline(),
			AmountOut:       target,
			AmountInMaximum: res.BaseWithdrawn,
		})
		if err != nil {
			return err
		}
		res.SwapIn, res.SwapOut = amountIn, target
		// The router never spends more than AmountInMaximum.
		res.Gains = new(uint256.Int).Sub(res.BaseWithdrawn, amountIn)
	} else {
		amountOut, err := l.router.SwapExactInput(pos.Address, swap.ExactInputParams{
			TokenIn:          pos.BaseToken,
			TokenOut:         pos.DebtToken,
			Fee:              p.PoolFee,
			Recipient:        pos.Address,
			Deadline:         l.swapDeadline(),
			AmountIn:         res.BaseWithdrawn,
			AmountOutMinimum: common.OrZero(p.SwapAmountOutMin),
		})
		if err != nil {
			return err
		}
		res.SwapIn, res.SwapOut = common.Clone(res.BaseWithdrawn), amountOut
		target = common.Min(amountOut, target)
	}
	if target.IsZero() {
		return nil
	}
	repaid, err := l.pool.Repay(pos.Address, pos.Address, pos.DebtToken, target)
	if err != nil {
		return err
	}
	res.Repaid = repaid
	return nil
}

// Sweep returns any token balance stranded on the position account, such as
// repayment dust, to the owner.
func (l *Lifecycle) Sweep(caller ethcommon.Address, pos Position, tokenAddr ethcommon.Address) (*uint256.Int, error) {
	if err := l.begin(caller, pos); err != nil {
		return nil, err
	}
	balance, err := l.ledger.BalanceOf(tokenAddr, pos.Address)
	if err != nil {
		return nil, err
	}
	if balance.IsZero() {
		return balance, nil
	}
	if err := l.ledger.Transfer(tokenAddr, pos.Address, pos.Owner, balance); err != nil {
		return nil, err
	}
	l.emitter.Emit(events.PositionSwept{Position: pos.Address, Owner: pos.Owner, Token: tokenAddr, Amount: common.Clone(balance)})
	return balance, nil
}

// Snapshot reads the position's pool balances and the base tokens waiting on
// the position account.
func (l *Lifecycle) Snapshot(pos Position) (Snapshot, error) {
	if l == nil || l.ledger == nil || l.pool == nil {
		return Snapshot{}, errMissingCollaborator
	}
	snap := Snapshot{Position: pos, Base: common.Zero()}
	var err error
	if snap.Collateral, err = l.pool.ATokenBalance(pos.CollateralToken, pos.Address); err != nil {
		return Snapshot{}, err
	}
	if !pos.SameCollateralAndBase() {
		if snap.Base, err = l.pool.ATokenBalance(pos.BaseToken, pos.Address); err != nil {
			return Snapshot{}, err
		}
	}
	if snap.Debt, err = l.pool.VariableDebtBalance(pos.DebtToken, pos.Address); err != nil {
		return Snapshot{}, err
	}
	if snap.PendingBase, err = l.ledger.BalanceOf(pos.BaseToken, pos.Address); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

var _ LendingPool = (*lending.Pool)(nil)
