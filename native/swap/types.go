package swap

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/chainrule-labs/pesto-contracts-sub000/native/common"
)

// Fee tiers in hundredths of a basis point.
const (
	FeeLowest uint32 = 100
	FeeLow    uint32 = 500
	FeeMedium uint32 = 3000
	FeeHigh   uint32 = 10000

	feeDenominator = 1_000_000
)

var (
	ErrPoolNotFound          = errors.New("swap: pool not found")
	ErrUnsupportedFee        = fmt.Errorf("swap: unsupported fee tier: %w", common.ErrOutOfRange)
	ErrIdenticalTokens       = fmt.Errorf("swap: identical tokens: %w", common.ErrTokenConflict)
	ErrInvalidAmount         = errors.New("swap: amount must be positive")
	ErrInsufficientLiquidity = errors.New("swap: insufficient liquidity")
	ErrDeadlineExpired       = errors.New("swap: transaction too old")
	// ErrInsufficientOutput reports an exact-input swap below its minimum.
	ErrInsufficientOutput = fmt.Errorf("swap: too little received: %w", common.ErrInsufficientOutput)
	// ErrExcessiveInput reports an exact-output swap above its maximum input.
	ErrExcessiveInput = fmt.Errorf("swap: too much requested: %w", common.ErrInsufficientOutput)
)

// SupportedFee reports whether fee is one of the listed tiers.
func SupportedFee(fee uint32) bool {
	switch fee {
	case FeeLowest, FeeLow, FeeMedium, FeeHigh:
		return true
	}
	return false
}

// Pool is a constant-product market for an ordered token pair and fee tier.
type Pool struct {
	Token0   ethcommon.Address
	Token1   ethcommon.Address
	Fee      uint32
	Reserve0 *uint256.Int
	Reserve1 *uint256.Int
}

// Clone returns a deep copy of the pool.
func (p Pool) Clone() Pool {
	clone := p
	clone.Reserve0 = common.Clone(p.Reserve0)
	clone.Reserve1 = common.Clone(p.Reserve1)
	return clone
}

// reserves returns the reserves oriented for a swap from tokenIn.
func (p Pool) reserves(tokenIn ethcommon.Address) (in, out *uint256.Int) {
	if tokenIn == p.Token0 {
		return common.OrZero(p.Reserve0), common.OrZero(p.Reserve1)
	}
	return common.OrZero(p.Reserve1), common.OrZero(p.Reserve0)
}

// ExactInputParams describes a swap of a fixed input for at least a minimum
// output.
type ExactInputParams struct {
	TokenIn          ethcommon.Address
	TokenOut         ethcommon.Address
	Fee              uint32
	Recipient        ethcommon.Address
	Deadline         uint64
	AmountIn         *uint256.Int
	AmountOutMinimum *uint256.Int
}

// ExactOutputParams describes a swap for a fixed output costing at most a
// maximum input.
type ExactOutputParams struct {
	TokenIn         ethcommon.Address
	TokenOut        ethcommon.Address
	Fee             uint32
	Recipient       ethcommon.Address
	Deadline        uint64
	AmountOut       *uint256.Int
	AmountInMaximum *uint256.Int
}

func sortTokens(a, b ethcommon.Address) (ethcommon.Address, ethcommon.Address, error) {
	switch bytes.Compare(a.Bytes(), b.Bytes()) {
	case 0:
		return ethcommon.Address{}, ethcommon.Address{}, ErrIdenticalTokens
	case 1:
		return b, a, nil
	}
	return a, b, nil
}

var (
	poolPrefix   = []byte("swap/pool/")
	poolIndexKey = []byte("swap/pool/index")
)

func poolKey(token0, token1 ethcommon.Address, fee uint32) []byte {
	buf := make([]byte, 0, len(poolPrefix)+2*ethcommon.AddressLength+4)
	buf = append(buf, poolPrefix...)
	buf = append(buf, token0.Bytes()...)
	buf = append(buf, token1.Bytes()...)
	return binary.BigEndian.AppendUint32(buf, fee)
}
