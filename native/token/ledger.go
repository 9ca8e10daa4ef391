package token

import (
	"fmt"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/chainrule-labs/pesto-contracts-sub000/core/events"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/common"
)

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	KVGetAmount(key []byte) (*uint256.Int, error)
	KVPutAmount(key []byte, amount *uint256.Int) error
}

// Ledger tracks balances, allowances and permit nonces for every registered
// token. It is bound to the state of a single operation via SetState.
type Ledger struct {
	state   ledgerState
	emitter events.Emitter
	nowFn   func() time.Time
}

// NewLedger constructs a ledger with a no-op emitter.
func NewLedger() *Ledger {
	return &Ledger{emitter: events.NoopEmitter{}, nowFn: time.Now}
}

// SetState binds the ledger to the operation's state.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

// SetEmitter configures the audit sink.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	l.emitter = emitter
}

// SetNowFunc overrides the clock used for permit deadlines.
func (l *Ledger) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	l.nowFn = now
}

func (l *Ledger) ready() error {
	if l == nil || l.state == nil {
		return fmt.Errorf("token: state not configured")
	}
	return nil
}

func (l *Ledger) emit(e events.Event) {
	if l.emitter != nil {
		l.emitter.Emit(e)
	}
}

// Register records a new token. Decimals are fixed for the token's lifetime.
func (l *Ledger) Register(meta Metadata) error {
	if err := l.ready(); err != nil {
		return err
	}
	if err := meta.Validate(); err != nil {
		return err
	}
	ok, err := l.state.KVGet(metaKey(meta.Address), nil)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: %s", ErrTokenExists, meta.Address.Hex())
	}
	if err := l.state.KVPut(metaKey(meta.Address), meta); err != nil {
		return err
	}
	return l.state.KVAppend(tokenIndexKey, meta.Address.Bytes())
}

// Token returns the metadata recorded for addr.
func (l *Ledger) Token(addr ethcommon.Address) (Metadata, error) {
	if err := l.ready(); err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	ok, err := l.state.KVGet(metaKey(addr), &meta)
	if err != nil {
		return Metadata{}, err
	}
	if !ok {
		return Metadata{}, fmt.Errorf("%w: %s", ErrUnknownToken, addr.Hex())
	}
	return meta, nil
}

// Tokens lists every registered token in registration order.
func (l *Ledger) Tokens() ([]Metadata, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	var index [][]byte
	if err := l.state.KVGetList(tokenIndexKey, &index); err != nil {
		return nil, err
	}
	out := make([]Metadata, 0, len(index))
	for _, raw := range index {
		meta, err := l.Token(ethcommon.BytesToAddress(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	return out, nil
}

// Decimals returns the token's decimal count.
func (l *Ledger) Decimals(addr ethcommon.Address) (uint8, error) {
	meta, err := l.Token(addr)
	if err != nil {
		return 0, err
	}
	return meta.Decimals, nil
}

// BalanceOf returns the balance of account in token.
func (l *Ledger) BalanceOf(token, account ethcommon.Address) (*uint256.Int, error) {
	if _, err := l.Token(token); err != nil {
		return nil, err
	}
	return l.state.KVGetAmount(balanceKey(token, account))
}

// Transfer moves amount of token from one account to another.
func (l *Ledger) Transfer(token, from, to ethcommon.Address, amount *uint256.Int) error {
	if _, err := l.Token(token); err != nil {
		return err
	}
	if to == (ethcommon.Address{}) {
		return ErrZeroAddress
	}
	amount = common.OrZero(amount)
	if amount.IsZero() {
		return nil
	}
	fromBal, err := l.state.KVGetAmount(balanceKey(token, from))
	if err != nil {
		return err
	}
	if fromBal.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, from.Hex(), fromBal.Dec(), amount.Dec())
	}
	if from != to {
		toBal, err := l.state.KVGetAmount(balanceKey(token, to))
		if err != nil {
			return err
		}
		newTo, err := common.Add(toBal, amount)
		if err != nil {
			return err
		}
		if err := l.state.KVPutAmount(balanceKey(token, from), new(uint256.Int).Sub(fromBal, amount)); err != nil {
			return err
		}
		if err := l.state.KVPutAmount(balanceKey(token, to), newTo); err != nil {
			return err
		}
	}
	l.emit(events.Transfer{Token: token, From: from, To: to, Amount: common.Clone(amount)})
	return nil
}

// Mint credits amount of token to an account. Only genesis and the dev faucet
// mint; protocol operations never create supply.
func (l *Ledger) Mint(token, to ethcommon.Address, amount *uint256.Int) error {
	if _, err := l.Token(token); err != nil {
		return err
	}
	if to == (ethcommon.Address{}) {
		return ErrZeroAddress
	}
	bal, err := l.state.KVGetAmount(balanceKey(token, to))
	if err != nil {
		return err
	}
	next, err := common.Add(bal, amount)
	if err != nil {
		return err
	}
	if err := l.state.KVPutAmount(balanceKey(token, to), next); err != nil {
		return err
	}
	l.emit(events.Transfer{Token: token, To: to, Amount: common.Clone(common.OrZero(amount))})
	return nil
}

// Approve sets the allowance spender may draw from owner.
func (l *Ledger) Approve(token, owner, spender ethcommon.Address, amount *uint256.Int) error {
	return l.approve(token, owner, spender, amount, false)
}

func (l *Ledger) approve(token, owner, spender ethcommon.Address, amount *uint256.Int, viaPermit bool) error {
	if _, err := l.Token(token); err != nil {
		return err
	}
	if spender == (ethcommon.Address{}) || owner == (ethcommon.Address{}) {
		return ErrZeroAddress
	}
	amount = common.OrZero(amount)
	if err := l.state.KVPutAmount(allowanceKey(token, owner, spender), amount); err != nil {
		return err
	}
	l.emit(events.Approval{Token: token, Owner: owner, Spender: spender, Amount: common.Clone(amount), Permit: viaPermit})
	return nil
}

// Allowance returns what spender may still draw from owner.
func (l *Ledger) Allowance(token, owner, spender ethcommon.Address) (*uint256.Int, error) {
	if _, err := l.Token(token); err != nil {
		return nil, err
	}
	return l.state.KVGetAmount(allowanceKey(token, owner, spender))
}

// TransferFrom moves amount from one account to another on behalf of spender,
// consuming allowance unless it is unlimited.
func (l *Ledger) TransferFrom(token, spender, from, to ethcommon.Address, amount *uint256.Int) error {
	amount = common.OrZero(amount)
	if spender != from {
		allowance, err := l.Allowance(token, from, spender)
		if err != nil {
			return err
		}
		if allowance.Lt(amount) {
			return fmt.Errorf("%w: %s approved %s, needs %s", ErrInsufficientAllowance, spender.Hex(), allowance.Dec(), amount.Dec())
		}
		if !allowance.Eq(MaxAllowance) {
			if err := l.state.KVPutAmount(allowanceKey(token, from, spender), new(uint256.Int).Sub(allowance, amount)); err != nil {
				return err
			}
		}
	}
	return l.Transfer(token, from, to, amount)
}

// Nonce returns the next permit nonce expected for owner.
func (l *Ledger) Nonce(token, owner ethcommon.Address) (uint64, error) {
	if err := l.ready(); err != nil {
		return 0, err
	}
	var nonce uint64
	if _, err := l.state.KVGet(nonceKey(token, owner), &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}
