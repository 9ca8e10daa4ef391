package config

// Pauses switches individual modules off. A paused module rejects every
// state changing call.
type Pauses struct {
	Position bool
	Lending  bool
	Swap     bool
	Fees     bool
}

// IsPaused implements common.PauseView.
func (p Pauses) IsPaused(module string) bool {
	switch module {
	case "position":
		return p.Position
	case "lending":
		return p.Lending
	case "swap":
		return p.Swap
	case "fees":
		return p.Fees
	}
	return false
}

// Quota defines per caller limits on lifecycle operations.
type Quota struct {
	MaxRequestsPerEpoch uint32
	EpochSeconds        uint32
}

// Quotas groups quotas for each rate limited module.
type Quotas struct {
	Position Quota
}

// InterestModel is the kinked borrow rate curve of one reserve, in basis
// points per year.
type InterestModel struct {
	BaseBps   uint64
	Slope1Bps uint64
	Slope2Bps uint64
	KinkBps   uint64
}

// Token lists a token and its lending market.
type Token struct {
	Symbol   string
	Address  string
	Decimals uint8
	// PriceUSD is the initial oracle price in dollars, e.g. "2000.5".
	PriceUSD                string
	LTVBps                  uint64
	LiquidationThresholdBps uint64
	ReserveFactorBps        uint64
	Interest                *InterestModel
}

// Pool seeds swap liquidity. Amounts are in whole token units and may carry
// a fractional part up to the token's precision.
type Pool struct {
	TokenA   string
	TokenB   string
	Fee      uint32
	ReserveA string
	ReserveB string
}

// Allocation credits a genesis balance. With Supply set the tokens are
// supplied to the lending pool on behalf of Account instead.
type Allocation struct {
	Account string
	Token   string
	Amount  string
	Supply  bool
}
