package swap

import (
	"fmt"
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/chainrule-labs/pesto-contracts-sub000/core/events"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/common"
)

const moduleName = "swap"

// TokenLedger settles the token legs of a swap.
type TokenLedger interface {
	Transfer(token, from, to ethcommon.Address, amount *uint256.Int) error
}

type routerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Router is a constant-product venue with Uniswap style fee tiers. All pool
// reserves are custodied by the router address in the token ledger.
type Router struct {
	state   routerState
	ledger  TokenLedger
	address ethcommon.Address
	emitter events.Emitter
	pauses  common.PauseView
	nowFn   func() time.Time
}

// NewRouter constructs a router that custodies reserves at address.
func NewRouter(address ethcommon.Address, ledger TokenLedger) *Router {
	return &Router{
		ledger:  ledger,
		address: address,
		emitter: events.NoopEmitter{},
		nowFn:   time.Now,
	}
}

func (r *Router) SetState(state routerState) { r.state = state }

func (r *Router) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	r.emitter = emitter
}

func (r *Router) SetPauses(view common.PauseView) { r.pauses = view }

func (r *Router) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	r.nowFn = now
}

// Address returns the custody account of the router.
func (r *Router) Address() ethcommon.Address { return r.address }

func (r *Router) ready() error {
	if r == nil || r.state == nil {
		return fmt.Errorf("swap: state not configured")
	}
	return nil
}

// Pool returns the pool for the unordered pair and fee tier.
func (r *Router) Pool(tokenA, tokenB ethcommon.Address, fee uint32) (Pool, error) {
	if err := r.ready(); err != nil {
		return Pool{}, err
	}
	token0, token1, err := sortTokens(tokenA, tokenB)
	if err != nil {
		return Pool{}, err
	}
	var pool Pool
	ok, err := r.state.KVGet(poolKey(token0, token1, fee), &pool)
	if err != nil {
		return Pool{}, err
	}
	if !ok {
		return Pool{}, fmt.Errorf("%w: %s/%s fee %d", ErrPoolNotFound, token0.Hex(), token1.Hex(), fee)
	}
	pool.Reserve0 = common.OrZero(pool.Reserve0)
	pool.Reserve1 = common.OrZero(pool.Reserve1)
	return pool, nil
}

// Pools lists every pool in creation order.
func (r *Router) Pools() ([]Pool, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	var index [][]byte
	if err := r.state.KVGetList(poolIndexKey, &index); err != nil {
		return nil, err
	}
	out := make([]Pool, 0, len(index))
	for _, key := range index {
		var pool Pool
		if _, err := r.state.KVGet(key, &pool); err != nil {
			return nil, err
		}
		out = append(out, pool)
	}
	return out, nil
}

// AddLiquidity deposits both legs of a pair, creating the pool on first use.
func (r *Router) AddLiquidity(provider, tokenA, tokenB ethcommon.Address, fee uint32, amountA, amountB *uint256.Int) (Pool, error) {
	if err := r.ready(); err != nil {
		return Pool{}, err
	}
	if !SupportedFee(fee) {
		return Pool{}, fmt.Errorf("%w: %d", ErrUnsupportedFee, fee)
	}
	if amountA == nil || amountA.IsZero() || amountB == nil || amountB.IsZero() {
		return Pool{}, ErrInvalidAmount
	}
	token0, token1, err := sortTokens(tokenA, tokenB)
	if err != nil {
		return Pool{}, err
	}
	amount0, amount1 := amountA, amountB
	if token0 != tokenA {
		amount0, amount1 = amountB, amountA
	}
	key := poolKey(token0, token1, fee)
	var pool Pool
	ok, err := r.state.KVGet(key, &pool)
	if err != nil {
		return Pool{}, err
	}
	if !ok {
		pool = Pool{Token0: token0, Token1: token1, Fee: fee}
		if err := r.state.KVAppend(poolIndexKey, key); err != nil {
			return Pool{}, err
		}
	}
	if pool.Reserve0, err = common.Add(common.OrZero(pool.Reserve0), amount0); err != nil {
		return Pool{}, err
	}
	if pool.Reserve1, err = common.Add(common.OrZero(pool.Reserve1), amount1); err != nil {
		return Pool{}, err
	}
	if err := r.ledger.Transfer(token0, provider, r.address, amount0); err != nil {
		return Pool{}, err
	}
	if err := r.ledger.Transfer(token1, provider, r.address, amount1); err != nil {
		return Pool{}, err
	}
	if err := r.state.KVPut(key, pool); err != nil {
		return Pool{}, err
	}
	r.emitter.Emit(events.LiquidityAdded{
		Provider: provider,
		Token0:   token0,
		Token1:   token1,
		Fee:      fee,
		Amount0:  common.Clone(amount0),
		Amount1:  common.Clone(amount1),
	})
	return pool.Clone(), nil
}

// QuoteExactInput returns the output of swapping amountIn without executing.
func (r *Router) QuoteExactInput(tokenIn, tokenOut ethcommon.Address, fee uint32, amountIn *uint256.Int) (*uint256.Int, error) {
	pool, err := r.Pool(tokenIn, tokenOut, fee)
	if err != nil {
		return nil, err
	}
	reserveIn, reserveOut := pool.reserves(tokenIn)
	return amountOutFor(amountIn, reserveIn, reserveOut, fee)
}

// QuoteExactOutput returns the input needed to receive amountOut without
// executing.
func (r *Router) QuoteExactOutput(tokenIn, tokenOut ethcommon.Address, fee uint32, amountOut *uint256.Int) (*uint256.Int, error) {
	pool, err := r.Pool(tokenIn, tokenOut, fee)
	if err != nil {
		return nil, err
	}
	reserveIn, reserveOut := pool.reserves(tokenIn)
	return amountInFor(amountOut, reserveIn, reserveOut, fee)
}

// SwapExactInput swaps the full input from trader and pays at least the
// minimum output to the recipient. The output amount is returned.
func (r *Router) SwapExactInput(trader ethcommon.Address, p ExactInputParams) (*uint256.Int, error) {
	if err := r.precheck(p.Deadline); err != nil {
		return nil, err
	}
	pool, err := r.Pool(p.TokenIn, p.TokenOut, p.Fee)
	if err != nil {
		return nil, err
	}
	reserveIn, reserveOut := pool.reserves(p.TokenIn)
	amountOut, err := amountOutFor(p.AmountIn, reserveIn, reserveOut, p.Fee)
	if err != nil {
		return nil, err
	}
	if minOut := common.OrZero(p.AmountOutMinimum); amountOut.Lt(minOut) {
		return nil, fmt.Errorf("%w: got %s, minimum %s", ErrInsufficientOutput, amountOut.Dec(), minOut.Dec())
	}
	if err := r.settle(trader, p.Recipient, pool, p.TokenIn, p.AmountIn, amountOut); err != nil {
		return nil, err
	}
	return amountOut, nil
}

// SwapExactOutput swaps at most the maximum input from trader so the
// recipient receives exactly the requested output. The input amount is
// returned and never exceeds AmountInMaximum.
func (r *Router) SwapExactOutput(trader ethcommon.Address, p ExactOutputParams) (*uint256.Int, error) {
	if err := r.precheck(p.Deadline); err != nil {
		return nil, err
	}
	pool, err := r.Pool(p.TokenIn, p.TokenOut, p.Fee)
	if err != nil {
		return nil, err
	}
	reserveIn, reserveOut := pool.reserves(p.TokenIn)
	amountIn, err := amountInFor(p.AmountOut, reserveIn, reserveOut, p.Fee)
	if err != nil {
		return nil, err
	}
	if maxIn := common.OrZero(p.AmountInMaximum); amountIn.Gt(maxIn) {
		return nil, fmt.Errorf("%w: needs %s, maximum %s", ErrExcessiveInput, amountIn.Dec(), maxIn.Dec())
	}
	if err := r.settle(trader, p.Recipient, pool, p.TokenIn, amountIn, p.AmountOut); err != nil {
		return nil, err
	}
	return amountIn, nil
}

func (r *Router) precheck(deadline uint64) error {
	if err := r.ready(); err != nil {
		return err
	}
	if err := common.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	if deadline != 0 && uint64(r.nowFn().Unix()) > deadline {
		return ErrDeadlineExpired
	}
	return nil
}

func (r *Router) settle(trader, recipient ethcommon.Address, pool Pool, tokenIn ethcommon.Address, amountIn, amountOut *uint256.Int) error {
	tokenOut := pool.Token1
	if tokenIn == pool.Token1 {
		tokenOut = pool.Token0
	}
	if recipient == (ethcommon.Address{}) {
		recipient = trader
	}
	reserveIn, reserveOut := pool.reserves(tokenIn)
	newIn, err := common.Add(reserveIn, amountIn)
	if err != nil {
		return err
	}
	newOut, err := common.Sub(reserveOut, amountOut)
	if err != nil {
		return err
	}
	if tokenIn == pool.Token0 {
		pool.Reserve0, pool.Reserve1 = newIn, newOut
	} else {
		pool.Reserve0, pool.Reserve1 = newOut, newIn
	}
	if err := r.ledger.Transfer(tokenIn, trader, r.address, amountIn); err != nil {
		return err
	}
	if err := r.ledger.Transfer(tokenOut, r.address, recipient, amountOut); err != nil {
		return err
	}
	if err := r.state.KVPut(poolKey(pool.Token0, pool.Token1, pool.Fee), pool); err != nil {
		return err
	}
	r.emitter.Emit(events.SwapExecuted{
		Trader:    trader,
		Recipient: recipient,
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		Fee:       pool.Fee,
		AmountIn:  common.Clone(amountIn),
		AmountOut: common.Clone(amountOut),
	})
	return nil
}

// amountOutFor implements the x*y=k output with the fee taken from the input:
// out = reserveOut*in*(1e6-fee) / (reserveIn*1e6 + in*(1e6-fee)).
func amountOutFor(amountIn, reserveIn, reserveOut *uint256.Int, fee uint32) (*uint256.Int, error) {
	if amountIn == nil || amountIn.IsZero() {
		return nil, ErrInvalidAmount
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	inWithFee := new(big.Int).Mul(amountIn.ToBig(), big.NewInt(int64(feeDenominator-fee)))
	numerator := new(big.Int).Mul(reserveOut.ToBig(), inWithFee)
	denominator := new(big.Int).Mul(reserveIn.ToBig(), big.NewInt(feeDenominator))
	denominator.Add(denominator, inWithFee)
	out := numerator.Quo(numerator, denominator)
	if out.Sign() == 0 {
		return nil, fmt.Errorf("%w: output rounds to zero", ErrInsufficientOutput)
	}
	amount, overflow := uint256.FromBig(out)
	if overflow {
		return nil, common.ErrArithmetic
	}
	return amount, nil
}

// amountInFor inverts amountOutFor, rounding the input up:
// in = reserveIn*out*1e6 / ((reserveOut-out)*(1e6-fee)) + 1.
func amountInFor(amountOut, reserveIn, reserveOut *uint256.Int, fee uint32) (*uint256.Int, error) {
	if amountOut == nil || amountOut.IsZero() {
		return nil, ErrInvalidAmount
	}
	if reserveIn.IsZero() || !amountOut.Lt(reserveOut) {
		return nil, fmt.Errorf("%w: requested %s of %s", ErrInsufficientLiquidity, amountOut.Dec(), reserveOut.Dec())
	}
	numerator := new(big.Int).Mul(reserveIn.ToBig(), amountOut.ToBig())
	numerator.Mul(numerator, big.NewInt(feeDenominator))
	remaining := new(big.Int).Sub(reserveOut.ToBig(), amountOut.ToBig())
	denominator := remaining.Mul(remaining, big.NewInt(int64(feeDenominator-fee)))
	in := numerator.Quo(numerator, denominator)
	in.Add(in, big.NewInt(1))
	amount, overflow := uint256.FromBig(in)
	if overflow {
		return nil, common.ErrArithmetic
	}
	return amount, nil
}
