package common

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Zero returns a fresh zero value.
func Zero() *uint256.Int { return new(uint256.Int) }

// OrZero substitutes nil amounts with zero so stored records decode safely.
func OrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

// Add returns a+b or ErrArithmetic on overflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(OrZero(a), OrZero(b))
	if overflow {
		return nil, fmt.Errorf("%w: addition overflow", ErrArithmetic)
	}
	return out, nil
}

// Sub returns a-b or ErrArithmetic on underflow.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	out, underflow := new(uint256.Int).SubOverflow(OrZero(a), OrZero(b))
	if underflow {
		return nil, fmt.Errorf("%w: subtraction underflow", ErrArithmetic)
	}
	return out, nil
}

// Mul returns a*b or ErrArithmetic on overflow.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulOverflow(OrZero(a), OrZero(b))
	if overflow {
		return nil, fmt.Errorf("%w: multiplication overflow", ErrArithmetic)
	}
	return out, nil
}

// Div floors a/b. A zero divisor is an arithmetic failure rather than the
// silent zero uint256 would otherwise return.
func Div(a, b *uint256.Int) (*uint256.Int, error) {
	if b == nil || b.IsZero() {
		return nil, fmt.Errorf("%w: division by zero", ErrArithmetic)
	}
	return new(uint256.Int).Div(OrZero(a), b), nil
}

// MulDiv computes floor(a*b/d) and fails when either the product or the
// quotient leaves the 256-bit range.
func MulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d == nil || d.IsZero() {
		return nil, fmt.Errorf("%w: division by zero", ErrArithmetic)
	}
	out, overflow := new(uint256.Int).MulDivOverflow(OrZero(a), OrZero(b), d)
	if overflow {
		return nil, fmt.Errorf("%w: mul-div overflow", ErrArithmetic)
	}
	return out, nil
}

// Min returns a copy of the smaller value.
func Min(a, b *uint256.Int) *uint256.Int {
	if OrZero(a).Lt(OrZero(b)) {
		return new(uint256.Int).Set(OrZero(a))
	}
	return new(uint256.Int).Set(OrZero(b))
}

// Clone copies v, mapping nil to zero.
func Clone(v *uint256.Int) *uint256.Int {
	return new(uint256.Int).Set(OrZero(v))
}

// ParseAmount decodes a base-10 amount string.
func ParseAmount(raw string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid amount %q", ErrOutOfRange, raw)
	}
	return v, nil
}
