package oracle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/chainrule-labs/pesto-contracts-sub000/core/events"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/common"
)

// PriceDecimals is the fixed precision of every USD price.
const PriceDecimals = 8

var (
	// ErrNoPrice indicates no price was ever posted for the asset.
	ErrNoPrice = errors.New("oracle: no price for asset")
	// ErrStalePrice indicates the stored price is older than the configured
	// freshness window.
	ErrStalePrice = errors.New("oracle: price is stale")
	// ErrInvalidPrice rejects zero prices.
	ErrInvalidPrice = fmt.Errorf("oracle: price must be positive: %w", common.ErrOutOfRange)
)

var pricePrefix = []byte("oracle/price/")

func priceKey(token ethcommon.Address) []byte {
	buf := make([]byte, len(pricePrefix), len(pricePrefix)+ethcommon.AddressLength)
	copy(buf, pricePrefix)
	return append(buf, token.Bytes()...)
}

// Quote is a posted USD price with PriceDecimals of precision.
type Quote struct {
	Token     ethcommon.Address
	Price     *uint256.Int
	UpdatedAt uint64
	Source    string
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q Quote) Clone() Quote {
	clone := q
	clone.Price = common.Clone(q.Price)
	return clone
}

type oracleState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Oracle serves administrator-posted prices. Prices are set, never derived.
type Oracle struct {
	state   oracleState
	emitter events.Emitter
	nowFn   func() time.Time
	maxAge  time.Duration
}

// New constructs an oracle. A zero maxAge disables the staleness guard.
func New(maxAge time.Duration) *Oracle {
	return &Oracle{emitter: events.NoopEmitter{}, nowFn: time.Now, maxAge: maxAge}
}

func (o *Oracle) SetState(state oracleState) { o.state = state }

func (o *Oracle) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	o.emitter = emitter
}

func (o *Oracle) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	o.nowFn = now
}

// MaxAge returns the freshness window.
func (o *Oracle) MaxAge() time.Duration { return o.maxAge }

// SetPrice posts a new price for token.
func (o *Oracle) SetPrice(token ethcommon.Address, price *uint256.Int, source string) error {
	if o == nil || o.state == nil {
		return fmt.Errorf("oracle: state not configured")
	}
	if price == nil || price.IsZero() {
		return ErrInvalidPrice
	}
	now := o.nowFn().UTC().Unix()
	quote := Quote{Token: token, Price: common.Clone(price), UpdatedAt: uint64(now), Source: strings.TrimSpace(source)}
	if err := o.state.KVPut(priceKey(token), quote); err != nil {
		return err
	}
	o.emitter.Emit(events.OraclePriceUpdated{Token: token, Price: common.Clone(price), UpdatedAt: now})
	return nil
}

// Quote returns the stored quote for token without checking freshness.
func (o *Oracle) Quote(token ethcommon.Address) (Quote, error) {
	if o == nil || o.state == nil {
		return Quote{}, fmt.Errorf("oracle: state not configured")
	}
	var quote Quote
	ok, err := o.state.KVGet(priceKey(token), &quote)
	if err != nil {
		return Quote{}, err
	}
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrNoPrice, token.Hex())
	}
	return quote, nil
}

// AssetPrice returns the fresh USD price of token.
func (o *Oracle) AssetPrice(token ethcommon.Address) (*uint256.Int, error) {
	quote, err := o.Quote(token)
	if err != nil {
		return nil, err
	}
	if o.maxAge > 0 {
		age := o.nowFn().UTC().Sub(time.Unix(int64(quote.UpdatedAt), 0))
		if age > o.maxAge {
			return nil, fmt.Errorf("%w: %s last updated %s ago", ErrStalePrice, token.Hex(), age.Truncate(time.Second))
		}
	}
	return common.Clone(quote.Price), nil
}
