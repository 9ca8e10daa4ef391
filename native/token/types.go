package token

import (
	"errors"
	"fmt"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/chainrule-labs/pesto-contracts-sub000/native/common"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/decimals"
)

var (
	ErrUnknownToken           = errors.New("token: unknown token")
	ErrTokenExists            = errors.New("token: token already registered")
	ErrInvalidMetadata        = errors.New("token: invalid metadata")
	ErrInsufficientBalance    = errors.New("token: insufficient balance")
	ErrInsufficientAllowance  = errors.New("token: insufficient allowance")
	ErrZeroAddress            = errors.New("token: zero address")
	ErrPermitExpired          = fmt.Errorf("token: permit expired: %w", common.ErrUnauthorized)
	ErrPermitNonce            = fmt.Errorf("token: permit nonce mismatch: %w", common.ErrUnauthorized)
	ErrInvalidPermitSignature = fmt.Errorf("token: invalid permit signature: %w", common.ErrUnauthorized)
)

// MaxAllowance is the unlimited approval sentinel. TransferFrom never
// decrements it.
var MaxAllowance = new(uint256.Int).SetAllOne()

// Metadata describes a registered fungible token.
type Metadata struct {
	Address  ethcommon.Address
	Symbol   string
	Decimals uint8
}

// Validate checks the metadata is usable by the protocol.
func (m Metadata) Validate() error {
	if m.Address == (ethcommon.Address{}) {
		return fmt.Errorf("%w: address required", ErrInvalidMetadata)
	}
	if strings.TrimSpace(m.Symbol) == "" {
		return fmt.Errorf("%w: symbol required", ErrInvalidMetadata)
	}
	if m.Decimals > decimals.Basis {
		return fmt.Errorf("%w: %s has %d decimals", decimals.ErrDecimalsTooLarge, m.Symbol, m.Decimals)
	}
	return nil
}

// Normalizer returns the decimal normalizer for the token.
func (m Metadata) Normalizer() decimals.Normalizer {
	return decimals.MustNew(m.Decimals)
}
