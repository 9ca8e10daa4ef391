package fees

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/chainrule-labs/pesto-contracts-sub000/native/common"
)

const (
	// MinClientRate and MaxClientRate bound the share of the max fee, in
	// percent, that is routed to referring clients and their users.
	MinClientRate uint64 = 30
	MaxClientRate uint64 = 100
	// DefaultClientRate applies until the owner configures another value.
	DefaultClientRate uint64 = 30
	// MaxTakeRate bounds the client take rate in percent.
	MaxTakeRate uint64 = 100
	// MinProtocolFeeRatePermille and MaxProtocolFeeRatePermille bound the
	// protocol fee rate, in thousandths of the gross amount.
	MinProtocolFeeRatePermille uint64 = 1
	MaxProtocolFeeRatePermille uint64 = 100
)

var (
	ErrClientRateOutOfRange   = fmt.Errorf("fees: client rate must be within %d..%d: %w", MinClientRate, MaxClientRate, common.ErrOutOfRange)
	ErrTakeRateOutOfRange     = fmt.Errorf("fees: take rate must be within 0..%d: %w", MaxTakeRate, common.ErrOutOfRange)
	ErrProtocolRateOutOfRange = fmt.Errorf("fees: protocol fee rate must be within %d..%d permille: %w", MinProtocolFeeRatePermille, MaxProtocolFeeRatePermille, common.ErrOutOfRange)
)

// Allocation is the outcome of splitting one fee.
type Allocation struct {
	// MaxFee is the fee before any client rebate.
	MaxFee *uint256.Int
	// ProtocolFee is what the payer actually pays: MaxFee less UserSavings.
	// ClientFee is carved out of it.
	ProtocolFee *uint256.Int
	// ClientFee is credited to the referring client.
	ClientFee *uint256.Int
	// UserSavings is the rebate left with the payer.
	UserSavings *uint256.Int
}

// Revenue is the part of ProtocolFee the protocol keeps.
func (a Allocation) Revenue() *uint256.Int {
	return new(uint256.Int).Sub(common.OrZero(a.ProtocolFee), common.OrZero(a.ClientFee))
}

// ValidateClientRate checks rate against the configurable client rate range.
func ValidateClientRate(rate uint64) error {
	if rate < MinClientRate || rate > MaxClientRate {
		return fmt.Errorf("%w: got %d", ErrClientRateOutOfRange, rate)
	}
	return nil
}

// ValidateTakeRate checks a client's take rate.
func ValidateTakeRate(rate uint64) error {
	if rate > MaxTakeRate {
		return fmt.Errorf("%w: got %d", ErrTakeRateOutOfRange, rate)
	}
	return nil
}

// ValidateProtocolFeeRate checks the protocol fee rate in permille.
func ValidateProtocolFeeRate(permille uint64) error {
	if permille < MinProtocolFeeRatePermille || permille > MaxProtocolFeeRatePermille {
		return fmt.Errorf("%w: got %d", ErrProtocolRateOutOfRange, permille)
	}
	return nil
}

// MaxFee returns gross * ratePermille / 1000.
func MaxFee(gross *uint256.Int, ratePermille uint64) (*uint256.Int, error) {
	return common.MulDiv(common.OrZero(gross), uint256.NewInt(ratePermille), uint256.NewInt(1000))
}

// Allocate splits maxFee between the client, the client's users and the
// protocol:
//
//	userSavings = (100 - takeRate) * clientRate * maxFee / 10000
//	clientFee   = clientRate * maxFee / 100 - userSavings
//	protocolFee = maxFee - userSavings
func Allocate(maxFee *uint256.Int, takeRate, clientRate uint64) (Allocation, error) {
	if err := ValidateTakeRate(takeRate); err != nil {
		return Allocation{}, err
	}
	if clientRate > MaxClientRate {
		return Allocation{}, fmt.Errorf("%w: got %d", ErrClientRateOutOfRange, clientRate)
	}
	maxFee = common.OrZero(maxFee)
	userRate := uint256.NewInt((MaxTakeRate - takeRate) * clientRate)
	userSavings, err := common.MulDiv(maxFee, userRate, uint256.NewInt(10_000))
	if err != nil {
		return Allocation{}, err
	}
	clientShare, err := common.MulDiv(maxFee, uint256.NewInt(clientRate), uint256.NewInt(100))
	if err != nil {
		return Allocation{}, err
	}
	clientFee, err := common.Sub(clientShare, userSavings)
	if err != nil {
		return Allocation{}, err
	}
	protocolFee, err := common.Sub(maxFee, userSavings)
	if err != nil {
		return Allocation{}, err
	}
	return Allocation{
		MaxFee:      common.Clone(maxFee),
		ProtocolFee: protocolFee,
		ClientFee:   clientFee,
		UserSavings: userSavings,
	}, nil
}

// Split computes the maximum fee on gross and allocates it. Without a client
// the whole maximum fee goes to the protocol.
func Split(gross *uint256.Int, protocolRatePermille, takeRate, clientRate uint64, hasClient bool) (Allocation, error) {
	maxFee, err := MaxFee(gross, protocolRatePermille)
	if err != nil {
		return Allocation{}, err
	}
	if !hasClient {
		return Allocation{
			MaxFee:      maxFee,
			ProtocolFee: common.Clone(maxFee),
			ClientFee:   common.Zero(),
			UserSavings: common.Zero(),
		}, nil
	}
	return Allocate(maxFee, takeRate, clientRate)
}
