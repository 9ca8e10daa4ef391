package position

import (
	"fmt"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/chainrule-labs/pesto-contracts-sub000/core/events"
)

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// TokenRegistry resolves token precision at creation time.
type TokenRegistry interface {
	Decimals(token ethcommon.Address) (uint8, error)
}

// Registry records positions. Position accounts are derived from the factory
// address and a monotonically increasing nonce the same way contract
// addresses are.
type Registry struct {
	state   registryState
	tokens  TokenRegistry
	factory ethcommon.Address
	emitter events.Emitter
	nowFn   func() time.Time
}

// NewRegistry constructs a registry deriving accounts from factory.
func NewRegistry(factory ethcommon.Address, tokens TokenRegistry) *Registry {
	return &Registry{factory: factory, tokens: tokens, emitter: events.NoopEmitter{}, nowFn: time.Now}
}

func (r *Registry) SetState(state registryState) { r.state = state }

func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	r.emitter = emitter
}

func (r *Registry) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	r.nowFn = now
}

// Factory returns the address position accounts are derived from.
func (r *Registry) Factory() ethcommon.Address { return r.factory }

func (r *Registry) ready() error {
	if r == nil || r.state == nil {
		return errNilState
	}
	return nil
}

// Create records a new position for owner over the collateral, debt and base
// triple. The debt token must differ from both other legs; collateral and
// base may coincide.
//
// An owner holds at most one position per triple for good. Closing unwinds
// balances but keeps the record, so a later re-open goes through Lookup and
// Add on the existing address; Create on the same triple returns
// ErrPositionExists.
func (r *Registry) Create(owner, collateral, debtToken, base ethcommon.Address) (Position, error) {
	if err := r.ready(); err != nil {
		return Position{}, err
	}
	zero := ethcommon.Address{}
	if owner == zero {
		return Position{}, ErrZeroOwner
	}
	if collateral == zero || debtToken == zero || base == zero {
		return Position{}, ErrZeroToken
	}
	if debtToken == collateral || debtToken == base {
		return Position{}, ErrTokenConflict
	}
	exists, err := r.state.KVGet(tripleKey(owner, collateral, debtToken, base), nil)
	if err != nil {
		return Position{}, err
	}
	if exists {
		return Position{}, ErrPositionExists
	}
	pos := Position{
		Owner:           owner,
		CollateralToken: collateral,
		DebtToken:       debtToken,
		BaseToken:       base,
	}
	if pos.CollateralDecimals, err = r.tokens.Decimals(collateral); err != nil {
		return Position{}, fmt.Errorf("position: collateral token: %w", err)
	}
	if pos.DebtDecimals, err = r.tokens.Decimals(debtToken); err != nil {
		return Position{}, fmt.Errorf("position: debt token: %w", err)
	}
	if pos.BaseDecimals, err = r.tokens.Decimals(base); err != nil {
		return Position{}, fmt.Errorf("position: base token: %w", err)
	}
	var nonce uint64
	if _, err := r.state.KVGet(nonceKey, &nonce); err != nil {
		return Position{}, err
	}
	pos.Nonce = nonce
	pos.Address = ethcrypto.CreateAddress(r.factory, nonce)
	if ts := r.nowFn().UTC().Unix(); ts > 0 {
		pos.CreatedAt = uint64(ts)
	}
	taken, err := r.state.KVGet(recordKey(pos.Address), nil)
	if err != nil {
		return Position{}, err
	}
	if taken {
		return Position{}, fmt.Errorf("%w: account %s", ErrPositionExists, pos.Address.Hex())
	}
	if err := r.state.KVPut(nonceKey, nonce+1); err != nil {
		return Position{}, err
	}
	if err := r.state.KVPut(recordKey(pos.Address), pos); err != nil {
		return Position{}, err
	}
	if err := r.state.KVPut(tripleKey(owner, collateral, debtToken, base), pos.Address); err != nil {
		return Position{}, err
	}
	if err := r.state.KVAppend(ownerKey(owner), pos.Address.Bytes()); err != nil {
		return Position{}, err
	}
	r.emitter.Emit(events.PositionCreated{
		Position:        pos.Address,
		Owner:           owner,
		CollateralToken: collateral,
		DebtToken:       debtToken,
		BaseToken:       base,
		Nonce:           nonce,
	})
	return pos, nil
}

// Get loads the position recorded at addr.
func (r *Registry) Get(addr ethcommon.Address) (Position, error) {
	if err := r.ready(); err != nil {
		return Position{}, err
	}
	var pos Position
	ok, err := r.state.KVGet(recordKey(addr), &pos)
	if err != nil {
		return Position{}, err
	}
	if !ok {
		return Position{}, fmt.Errorf("%w: %s", ErrPositionNotFound, addr.Hex())
	}
	return pos, nil
}

// Lookup returns the position owner holds over the given triple.
func (r *Registry) Lookup(owner, collateral, debtToken, base ethcommon.Address) (Position, error) {
	if err := r.ready(); err != nil {
		return Position{}, err
	}
	var addr ethcommon.Address
	ok, err := r.state.KVGet(tripleKey(owner, collateral, debtToken, base), &addr)
	if err != nil {
		return Position{}, err
	}
	if !ok {
		return Position{}, ErrPositionNotFound
	}
	return r.Get(addr)
}

// ListByOwner returns owner's positions in creation order.
func (r *Registry) ListByOwner(owner ethcommon.Address) ([]Position, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	var raw [][]byte
	if err := r.state.KVGetList(ownerKey(owner), &raw); err != nil {
		return nil, err
	}
	out := make([]Position, 0, len(raw))
	for _, b := range raw {
		pos, err := r.Get(ethcommon.BytesToAddress(b))
		if err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, nil
}
