// Package decimals lifts token amounts into the common 18-decimal basis used
// for cross-token arithmetic and lowers results back to native precision.
package decimals

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/chainrule-labs/pesto-contracts-sub000/native/common"
)

// Basis is the decimal precision every amount is normalised to.
const Basis = 18

var ErrDecimalsTooLarge = fmt.Errorf("decimals: precision exceeds %d: %w", Basis, common.ErrOutOfRange)

var ten = uint256.NewInt(10)

// ConversionFactor returns 10^(18-decimals).
func ConversionFactor(decimals uint8) (*uint256.Int, error) {
	if decimals > Basis {
		return nil, ErrDecimalsTooLarge
	}
	return new(uint256.Int).Exp(ten, uint256.NewInt(uint64(Basis-decimals))), nil
}

// Normalizer carries the conversion factor for one token. It is fixed at
// construction and never mutated.
type Normalizer struct {
	decimals uint8
	factor   uint256.Int
}

// New builds a normalizer for a token with the supplied precision.
func New(decimals uint8) (Normalizer, error) {
	factor, err := ConversionFactor(decimals)
	if err != nil {
		return Normalizer{}, err
	}
	return Normalizer{decimals: decimals, factor: *factor}, nil
}

// MustNew is New for compile-time known precisions.
func MustNew(decimals uint8) Normalizer {
	n, err := New(decimals)
	if err != nil {
		panic(err)
	}
	return n
}

// Decimals reports the native precision.
func (n Normalizer) Decimals() uint8 {
	if n.factor.IsZero() {
		return Basis
	}
	return n.decimals
}

// Factor returns a copy of 10^(18-decimals).
func (n Normalizer) Factor() *uint256.Int {
	if n.factor.IsZero() {
		// zero value normalizer behaves as an 18-decimal token
		return uint256.NewInt(1)
	}
	return new(uint256.Int).Set(&n.factor)
}

// Lift scales a native amount into the 18-decimal basis.
func (n Normalizer) Lift(amount *uint256.Int) (*uint256.Int, error) {
	return common.Mul(amount, n.Factor())
}

// Lower scales an 18-decimal amount back to native precision, truncating.
func (n Normalizer) Lower(amount *uint256.Int) *uint256.Int {
	return new(uint256.Int).Div(common.OrZero(amount), n.Factor())
}
