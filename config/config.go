package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

const (
	DefaultProtocolFeeRatePermille = 3
	DefaultClientRate              = 30
	DefaultInterestBuffer          = 2
	DefaultSwapDeadlineSeconds     = 300
	DefaultOracleMaxAgeSeconds     = 3600
)

// Protocol is the genesis and runtime configuration of the position
// protocol.
type Protocol struct {
	// Owner administers the fee collector and the price oracle. There is no
	// implicit owner.
	Owner string

	FactoryAddress    string
	PoolAddress       string
	RouterAddress     string
	CollectorAddress  string
	LiquidityProvider string

	ProtocolFeeRatePermille uint64
	ClientRate              uint64
	InterestBuffer          uint64
	SwapDeadlineSeconds     uint64
	OracleMaxAgeSeconds     uint64

	Tokens  []Token
	Pools   []Pool
	Genesis []Allocation
	Pauses  Pauses
	Quotas  Quotas
}

// Load decodes the protocol configuration at path, applies defaults and
// validates it.
func Load(path string) (*Protocol, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read protocol config: %w", err)
	}
	return Parse(string(raw))
}

// Parse decodes a TOML document.
func Parse(doc string) (*Protocol, error) {
	cfg := &Protocol{}
	meta, err := toml.Decode(doc, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode protocol config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("protocol config: unknown field %s", undecoded[0])
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Protocol) applyDefaults() {
	if c.ProtocolFeeRatePermille == 0 {
		c.ProtocolFeeRatePermille = DefaultProtocolFeeRatePermille
	}
	if c.ClientRate == 0 {
		c.ClientRate = DefaultClientRate
	}
	if c.InterestBuffer == 0 {
		c.InterestBuffer = DefaultInterestBuffer
	}
	if c.SwapDeadlineSeconds == 0 {
		c.SwapDeadlineSeconds = DefaultSwapDeadlineSeconds
	}
	if c.OracleMaxAgeSeconds == 0 {
		c.OracleMaxAgeSeconds = DefaultOracleMaxAgeSeconds
	}
	defaults := map[*string]string{
		&c.FactoryAddress:   "0x00000000000000000000000000000000000f4c70",
		&c.PoolAddress:      "0x00000000000000000000000000000000000f4c71",
		&c.RouterAddress:    "0x00000000000000000000000000000000000f4c72",
		&c.CollectorAddress: "0x00000000000000000000000000000000000f4c73",
	}
	for field, value := range defaults {
		if strings.TrimSpace(*field) == "" {
			*field = value
		}
	}
}

// SwapDeadline is the window swaps must settle in.
func (c *Protocol) SwapDeadline() time.Duration {
	return time.Duration(c.SwapDeadlineSeconds) * time.Second
}

// OracleMaxAge is the oldest price the oracle still serves.
func (c *Protocol) OracleMaxAge() time.Duration {
	return time.Duration(c.OracleMaxAgeSeconds) * time.Second
}

// TokenBySymbol finds a configured token.
func (c *Protocol) TokenBySymbol(symbol string) (Token, bool) {
	for _, tok := range c.Tokens {
		if strings.EqualFold(tok.Symbol, strings.TrimSpace(symbol)) {
			return tok, true
		}
	}
	return Token{}, false
}

// ParseAddress decodes a 0x prefixed hex account.
func ParseAddress(raw string) (ethcommon.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !ethcommon.IsHexAddress(trimmed) {
		return ethcommon.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return ethcommon.HexToAddress(trimmed), nil
}

// ParseUnits converts a human readable amount such as "12.5" into base units
// of a token with the given precision. Amounts finer than the precision are
// rejected rather than truncated.
func ParseUnits(raw string, decimals uint8) (*uint256.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid amount %q: negative", raw)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("invalid amount %q: more than %d decimals", raw, decimals)
	}
	out, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("invalid amount %q: overflows 256 bits", raw)
	}
	return out, nil
}

// FormatUnits renders base units of a token with the given precision.
func FormatUnits(amount *uint256.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount.ToBig(), -int32(decimals)).String()
}
