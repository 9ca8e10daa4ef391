package lending

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/chainrule-labs/pesto-contracts-sub000/native/common"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/decimals"
)

var (
	errNilState = errors.New("lending pool: state not configured")

	ErrUnknownReserve         = errors.New("lending pool: reserve not initialised")
	ErrReserveExists          = errors.New("lending pool: reserve already initialised")
	ErrInvalidReserveConfig   = fmt.Errorf("lending pool: invalid reserve config: %w", common.ErrOutOfRange)
	ErrInvalidAmount          = errors.New("lending pool: amount must be positive")
	ErrInsufficientSupply     = errors.New("lending pool: withdrawal exceeds supplied balance")
	ErrInsufficientLiquidity  = errors.New("lending pool: insufficient liquidity")
	ErrBorrowCapacityExceeded = errors.New("lending pool: borrow exceeds collateral capacity")
	ErrHealthCheckFailed      = errors.New("lending pool: health factor below 1")
	ErrNoDebtToRepay          = errors.New("lending pool: no outstanding debt to repay")
)

// MaxAmount is the "everything" sentinel accepted by Withdraw and Repay.
var MaxAmount = new(uint256.Int).SetAllOne()

const moduleName = "lending"

// TokenLedger moves the underlying tokens in and out of the pool account.
type TokenLedger interface {
	Transfer(token, from, to ethcommon.Address, amount *uint256.Int) error
	BalanceOf(token, account ethcommon.Address) (*uint256.Int, error)
}

// PriceOracle returns USD prices with 8 decimals.
type PriceOracle interface {
	AssetPrice(token ethcommon.Address) (*uint256.Int, error)
}

type poolState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

type scaledRecord struct {
	Value *big.Int
}

// Pool is a multi-reserve variable rate lending market. Supplied tokens are
// held by the pool address in the token ledger; suppliers and borrowers hold
// scaled balances that grow with the reserve indexes.
type Pool struct {
	state    poolState
	ledger   TokenLedger
	oracle   PriceOracle
	address  ethcommon.Address
	models   map[ethcommon.Address]*InterestModel
	fallback *InterestModel
	pauses   common.PauseView
	nowFn    func() time.Time
}

// NewPool constructs a pool that custodies funds at address.
func NewPool(address ethcommon.Address, ledger TokenLedger, oracle PriceOracle) *Pool {
	return &Pool{
		ledger:   ledger,
		oracle:   oracle,
		address:  address,
		models:   make(map[ethcommon.Address]*InterestModel),
		fallback: DefaultInterestModel.Clone(),
		nowFn:    time.Now,
	}
}

// SetState wires the pool to the operation's persistence layer.
func (p *Pool) SetState(state poolState) { p.state = state }

func (p *Pool) SetPauses(view common.PauseView) {
	if p == nil {
		return
	}
	p.pauses = view
}

func (p *Pool) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	p.nowFn = now
}

// SetInterestModel configures the rate curve of one reserve. A nil model
// freezes the reserve's indexes.
func (p *Pool) SetInterestModel(token ethcommon.Address, model *InterestModel) {
	if p == nil {
		return
	}
	p.models[token] = model.Clone()
}

// Address returns the account that custodies pool liquidity.
func (p *Pool) Address() ethcommon.Address { return p.address }

func (p *Pool) modelFor(token ethcommon.Address) *InterestModel {
	if model, ok := p.models[token]; ok {
		return model
	}
	return p.fallback
}

func (p *Pool) now() uint64 {
	ts := p.nowFn().UTC().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (p *Pool) ready() error {
	if p == nil || p.state == nil {
		return errNilState
	}
	return nil
}

// InitReserve lists a new token market.
func (p *Pool) InitReserve(cfg ReserveConfig) error {
	if err := p.ready(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	ok, err := p.state.KVGet(reserveKey(cfg.Token), nil)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: %s", ErrReserveExists, cfg.Token.Hex())
	}
	reserve := &Reserve{
		Token:                   cfg.Token,
		Decimals:                cfg.Decimals,
		LTVBps:                  cfg.LTVBps,
		LiquidationThresholdBps: cfg.LiquidationThresholdBps,
		ReserveFactorBps:        cfg.ReserveFactorBps,
		LastAccrual:             p.now(),
	}
	reserve.ensureDefaults()
	if err := p.state.KVPut(reserveKey(cfg.Token), reserve); err != nil {
		return err
	}
	return p.state.KVAppend(reserveIndexKey, cfg.Token.Bytes())
}

// Reserve returns the reserve state with interest accrued to now.
func (p *Pool) Reserve(token ethcommon.Address) (*Reserve, error) {
	return p.loadReserve(token)
}

// Reserves lists every reserve with interest accrued to now.
func (p *Pool) Reserves() ([]*Reserve, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	var index [][]byte
	if err := p.state.KVGetList(reserveIndexKey, &index); err != nil {
		return nil, err
	}
	out := make([]*Reserve, 0, len(index))
	for _, raw := range index {
		reserve, err := p.loadReserve(ethcommon.BytesToAddress(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, reserve)
	}
	return out, nil
}

func (p *Pool) loadReserve(token ethcommon.Address) (*Reserve, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	reserve := new(Reserve)
	ok, err := p.state.KVGet(reserveKey(token), reserve)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownReserve, token.Hex())
	}
	reserve.ensureDefaults()
	p.accrue(reserve, p.now())
	return reserve, nil
}

// accrue advances the reserve indexes to now using the reserve's rate curve.
func (p *Pool) accrue(reserve *Reserve, now uint64) {
	if now <= reserve.LastAccrual {
		return
	}
	delta := now - reserve.LastAccrual
	reserve.LastAccrual = now
	model := p.modelFor(reserve.Token)
	if model == nil || reserve.TotalScaledDebt.Sign() == 0 {
		return
	}
	totalDebt := reserve.TotalDebt()
	totalSupplied := reserve.TotalSupplied()
	borrowAPR := model.BorrowAPR(totalDebt, totalSupplied)
	supplyRate := model.SupplyAPY(totalDebt, totalSupplied, reserve.ReserveFactorBps)
	reserve.BorrowIndex = rayMul(reserve.BorrowIndex, rateFactor(borrowAPR, delta))
	reserve.SupplyIndex = rayMul(reserve.SupplyIndex, rateFactor(supplyRate, delta))
}

func (p *Pool) loadScaled(key []byte) (*big.Int, error) {
	var rec scaledRecord
	ok, err := p.state.KVGet(key, &rec)
	if err != nil {
		return nil, err
	}
	if !ok || rec.Value == nil {
		return new(big.Int), nil
	}
	return rec.Value, nil
}

func (p *Pool) storeScaled(key []byte, value *big.Int) error {
	if value == nil || value.Sign() == 0 {
		return p.state.KVDelete(key)
	}
	return p.state.KVPut(key, scaledRecord{Value: value})
}

func (p *Pool) trackAsset(account, token ethcommon.Address) error {
	return p.state.KVAppend(accountAssetsKey(account), token.Bytes())
}

func (p *Pool) liquidity(token ethcommon.Address) (*big.Int, error) {
	if p.ledger == nil {
		return nil, fmt.Errorf("lending pool: token ledger not configured")
	}
	held, err := p.ledger.BalanceOf(token, p.address)
	if err != nil {
		return nil, err
	}
	return toBig(held), nil
}

// Supply moves amount of token from supplier into the pool and credits the
// supplier's collateral balance.
func (p *Pool) Supply(supplier, token ethcommon.Address, amount *uint256.Int) error {
	if err := p.ready(); err != nil {
		return err
	}
	if err := common.Guard(p.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	reserve, err := p.loadReserve(token)
	if err != nil {
		return err
	}
	if err := p.ledger.Transfer(token, supplier, p.address, amount); err != nil {
		return err
	}
	key := supplySharesKey(token, supplier)
	shares, err := p.loadScaled(key)
	if err != nil {
		return err
	}
	minted := sharesFromLiquidity(toBig(amount), reserve.SupplyIndex)
	if err := p.storeScaled(key, new(big.Int).Add(shares, minted)); err != nil {
		return err
	}
	reserve.TotalScaledSupply = new(big.Int).Add(reserve.TotalScaledSupply, minted)
	if err := p.trackAsset(supplier, token); err != nil {
		return err
	}
	return p.state.KVPut(reserveKey(token), reserve)
}

// Withdraw burns supplied balance and sends the tokens to recipient.
// MaxAmount withdraws everything. The withdrawn amount is returned.
func (p *Pool) Withdraw(account, token ethcommon.Address, amount *uint256.Int, recipient ethcommon.Address) (*uint256.Int, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	if err := common.Guard(p.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	reserve, err := p.loadReserve(token)
	if err != nil {
		return nil, err
	}
	key := supplySharesKey(token, account)
	shares, err := p.loadScaled(key)
	if err != nil {
		return nil, err
	}
	balance := liquidityFromShares(shares, reserve.SupplyIndex)
	requested := toBig(amount)
	if amount.Eq(MaxAmount) {
		requested = balance
	}
	if requested.Cmp(balance) > 0 {
		return nil, fmt.Errorf("%w: requested %s, supplied %s", ErrInsufficientSupply, requested, balance)
	}
	if requested.Sign() == 0 {
		return new(uint256.Int), nil
	}
	burned := shares
	if requested.Cmp(balance) < 0 {
		burned = minBig(sharesFromLiquidity(requested, reserve.SupplyIndex), shares)
	}
	available, err := p.liquidity(token)
	if err != nil {
		return nil, err
	}
	if available.Cmp(requested) < 0 {
		return nil, fmt.Errorf("%w: %s available", ErrInsufficientLiquidity, available)
	}
	remaining := new(big.Int).Sub(shares, burned)

	indebted, err := p.hasDebt(account)
	if err != nil {
		return nil, err
	}
	if indebted {
		debt, err := p.loadScaled(scaledDebtKey(token, account))
		if err != nil {
			return nil, err
		}
		data, err := p.accountData(account, &override{
			token:    token,
			supplied: liquidityFromShares(remaining, reserve.SupplyIndex),
			debt:     debtFromScaled(debt, reserve.BorrowIndex),
		})
		if err != nil {
			return nil, err
		}
		if !data.Healthy() {
			return nil, ErrHealthCheckFailed
		}
	}

	if err := p.storeScaled(key, remaining); err != nil {
		return nil, err
	}
	reserve.TotalScaledSupply = new(big.Int).Sub(reserve.TotalScaledSupply, burned)
	if reserve.TotalScaledSupply.Sign() < 0 {
		reserve.TotalScaledSupply.SetInt64(0)
	}
	if err := p.state.KVPut(reserveKey(token), reserve); err != nil {
		return nil, err
	}
	out, err := fromBig(requested)
	if err != nil {
		return nil, err
	}
	if err := p.ledger.Transfer(token, p.address, recipient, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Borrow opens variable rate debt for borrower and sends the tokens to it.
// The borrower's LTV weighted collateral must cover the new total debt.
func (p *Pool) Borrow(borrower, token ethcommon.Address, amount *uint256.Int) error {
	if err := p.ready(); err != nil {
		return err
	}
	if err := common.Guard(p.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	reserve, err := p.loadReserve(token)
	if err != nil {
		return err
	}
	borrowed := toBig(amount)
	available, err := p.liquidity(token)
	if err != nil {
		return err
	}
	if available.Cmp(borrowed) < 0 {
		return fmt.Errorf("%w: %s available, %s requested", ErrInsufficientLiquidity, available, borrowed)
	}
	debtKey := scaledDebtKey(token, borrower)
	scaled, err := p.loadScaled(debtKey)
	if err != nil {
		return err
	}
	shares, err := p.loadScaled(supplySharesKey(token, borrower))
	if err != nil {
		return err
	}
	projected := new(big.Int).Add(debtFromScaled(scaled, reserve.BorrowIndex), borrowed)
	data, err := p.accountData(borrower, &override{
		token:    token,
		supplied: liquidityFromShares(shares, reserve.SupplyIndex),
		debt:     projected,
	})
	if err != nil {
		return err
	}
	if data.TotalDebtUSD.Gt(data.BorrowCapacityUSD) {
		return fmt.Errorf("%w: debt %s > capacity %s (usd e26)", ErrBorrowCapacityExceeded, data.TotalDebtUSD.Dec(), data.BorrowCapacityUSD.Dec())
	}

	minted := scaledDebtFromAmount(borrowed, reserve.BorrowIndex)
	if err := p.storeScaled(debtKey, new(big.Int).Add(scaled, minted)); err != nil {
		return err
	}
	reserve.TotalScaledDebt = new(big.Int).Add(reserve.TotalScaledDebt, minted)
	if err := p.trackAsset(borrower, token); err != nil {
		return err
	}
	if err := p.state.KVPut(reserveKey(token), reserve); err != nil {
		return err
	}
	return p.ledger.Transfer(token, p.address, borrower, amount)
}

// Repay pays down the debt of onBehalfOf using payer's tokens. The repayment
// is capped at the outstanding debt; MaxAmount repays everything. The amount
// actually repaid is returned.
func (p *Pool) Repay(payer, onBehalfOf, token ethcommon.Address, amount *uint256.Int) (*uint256.Int, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	if err := common.Guard(p.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	reserve, err := p.loadReserve(token)
	if err != nil {
		return nil, err
	}
	debtKey := scaledDebtKey(token, onBehalfOf)
	scaled, err := p.loadScaled(debtKey)
	if err != nil {
		return nil, err
	}
	debt := debtFromScaled(scaled, reserve.BorrowIndex)
	if debt.Sign() == 0 {
		return nil, ErrNoDebtToRepay
	}
	repay := debt
	if !amount.Eq(MaxAmount) {
		repay = minBig(toBig(amount), debt)
	}
	burned := scaled
	if repay.Cmp(debt) < 0 {
		burned = minBig(scaledDebtFromAmount(repay, reserve.BorrowIndex), scaled)
		if burned.Cmp(scaled) == 0 {
			// Rounding would clear the debt without full payment.
			burned = new(big.Int).Sub(scaled, big.NewInt(1))
		}
	}
	out, err := fromBig(repay)
	if err != nil {
		return nil, err
	}
	if err := p.ledger.Transfer(token, payer, p.address, out); err != nil {
		return nil, err
	}
	if err := p.storeScaled(debtKey, new(big.Int).Sub(scaled, burned)); err != nil {
		return nil, err
	}
	reserve.TotalScaledDebt = new(big.Int).Sub(reserve.TotalScaledDebt, burned)
	if reserve.TotalScaledDebt.Sign() < 0 {
		reserve.TotalScaledDebt.SetInt64(0)
	}
	if err := p.state.KVPut(reserveKey(token), reserve); err != nil {
		return nil, err
	}
	return out, nil
}

// VariableDebtBalance returns the debt of account in token including accrued
// interest.
func (p *Pool) VariableDebtBalance(token, account ethcommon.Address) (*uint256.Int, error) {
	reserve, err := p.loadReserve(token)
	if err != nil {
		return nil, err
	}
	scaled, err := p.loadScaled(scaledDebtKey(token, account))
	if err != nil {
		return nil, err
	}
	return fromBig(debtFromScaled(scaled, reserve.BorrowIndex))
}

// ATokenBalance returns the supplied balance of account in token including
// accrued interest.
func (p *Pool) ATokenBalance(token, account ethcommon.Address) (*uint256.Int, error) {
	reserve, err := p.loadReserve(token)
	if err != nil {
		return nil, err
	}
	shares, err := p.loadScaled(supplySharesKey(token, account))
	if err != nil {
		return nil, err
	}
	return fromBig(liquidityFromShares(shares, reserve.SupplyIndex))
}

// AccountData summarises the account across every reserve it touched.
func (p *Pool) AccountData(account ethcommon.Address) (AccountData, error) {
	if err := p.ready(); err != nil {
		return AccountData{}, err
	}
	return p.accountData(account, nil)
}

func (p *Pool) hasDebt(account ethcommon.Address) (bool, error) {
	var assets [][]byte
	if err := p.state.KVGetList(accountAssetsKey(account), &assets); err != nil {
		return false, err
	}
	for _, raw := range assets {
		scaled, err := p.loadScaled(scaledDebtKey(ethcommon.BytesToAddress(raw), account))
		if err != nil {
			return false, err
		}
		if scaled.Sign() > 0 {
			return true, nil
		}
	}
	return false, nil
}

// override substitutes projected balances for one reserve when evaluating a
// pending mutation.
type override struct {
	token    ethcommon.Address
	supplied *big.Int
	debt     *big.Int
}

func (p *Pool) accountData(account ethcommon.Address, o *override) (AccountData, error) {
	var assets [][]byte
	if err := p.state.KVGetList(accountAssetsKey(account), &assets); err != nil {
		return AccountData{}, err
	}
	tokens := make([]ethcommon.Address, 0, len(assets)+1)
	seen := make(map[ethcommon.Address]bool, len(assets)+1)
	for _, raw := range assets {
		token := ethcommon.BytesToAddress(raw)
		if !seen[token] {
			seen[token] = true
			tokens = append(tokens, token)
		}
	}
	if o != nil && !seen[o.token] {
		tokens = append(tokens, o.token)
	}

	collateral := new(big.Int)
	debt := new(big.Int)
	borrowCap := new(big.Int)
	liqCap := new(big.Int)
	for _, token := range tokens {
		reserve, err := p.loadReserve(token)
		if err != nil {
			return AccountData{}, err
		}
		var supplied, owed *big.Int
		if o != nil && o.token == token {
			supplied, owed = o.supplied, o.debt
		} else {
			shares, err := p.loadScaled(supplySharesKey(token, account))
			if err != nil {
				return AccountData{}, err
			}
			scaled, err := p.loadScaled(scaledDebtKey(token, account))
			if err != nil {
				return AccountData{}, err
			}
			supplied = liquidityFromShares(shares, reserve.SupplyIndex)
			owed = debtFromScaled(scaled, reserve.BorrowIndex)
		}
		if supplied.Sign() == 0 && owed.Sign() == 0 {
			continue
		}
		unit, err := p.unitValue(reserve)
		if err != nil {
			return AccountData{}, err
		}
		suppliedUSD := new(big.Int).Mul(supplied, unit)
		collateral.Add(collateral, suppliedUSD)
		debt.Add(debt, new(big.Int).Mul(owed, unit))
		borrowCap.Add(borrowCap, bpsOf(suppliedUSD, reserve.LTVBps))
		liqCap.Add(liqCap, bpsOf(suppliedUSD, reserve.LiquidationThresholdBps))
	}

	health := new(big.Int).Set(toBig(MaxAmount))
	if debt.Sign() > 0 {
		health = new(big.Int).Mul(liqCap, wad)
		health.Quo(health, debt)
	}
	out := AccountData{}
	var err error
	if out.TotalCollateralUSD, err = fromBig(collateral); err != nil {
		return AccountData{}, err
	}
	if out.TotalDebtUSD, err = fromBig(debt); err != nil {
		return AccountData{}, err
	}
	if out.BorrowCapacityUSD, err = fromBig(borrowCap); err != nil {
		return AccountData{}, err
	}
	if out.LiquidationCapacityUSD, err = fromBig(liqCap); err != nil {
		return AccountData{}, err
	}
	if out.HealthFactor, err = fromBig(health); err != nil {
		return AccountData{}, err
	}
	return out, nil
}

// unitValue is the USD value of one base unit of the reserve token: the
// normalisation factor times the oracle price.
func (p *Pool) unitValue(reserve *Reserve) (*big.Int, error) {
	if p.oracle == nil {
		return nil, fmt.Errorf("lending pool: price oracle not configured")
	}
	price, err := p.oracle.AssetPrice(reserve.Token)
	if err != nil {
		return nil, err
	}
	factor, err := decimals.ConversionFactor(reserve.Decimals)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Mul(toBig(price), toBig(factor)), nil
}

func bpsOf(v *big.Int, bps uint64) *big.Int {
	out := new(big.Int).Mul(v, new(big.Int).SetUint64(bps))
	return out.Quo(out, basisPoints)
}
