package events

import (
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/chainrule-labs/pesto-contracts-sub000/core/types"
)

const (
	// TypeFeesCollected marks a protocol fee assessed on a position operation.
	TypeFeesCollected = "fees.collected"
	// TypeClientWithdrawal marks a client draining its accrued fee balance.
	TypeClientWithdrawal = "fees.client_withdrawal"
	// TypeClientRateUpdated marks an owner change to the client rate.
	TypeClientRateUpdated = "fees.client_rate_updated"
	// TypeTakeRateUpdated marks a client changing its own take rate.
	TypeTakeRateUpdated = "fees.take_rate_updated"
	// TypeFeesSwept marks protocol revenue leaving the collector.
	TypeFeesSwept = "fees.swept"
)

// FeesCollected records the outcome of a fee split for analytics pipelines.
type FeesCollected struct {
	Payer       ethcommon.Address
	Client      ethcommon.Address
	Token       ethcommon.Address
	Gross       *uint256.Int
	MaxFee      *uint256.Int
	ProtocolFee *uint256.Int
	ClientFee   *uint256.Int
	UserSavings *uint256.Int
}

// EventType satisfies the events.Event interface.
func (FeesCollected) EventType() string { return TypeFeesCollected }

// Event converts the structured payload into a broadcastable event.
func (e FeesCollected) Event() *types.Event {
	attrs := map[string]string{
		"token":       formatAddress(e.Token),
		"gross":       formatAmount(e.Gross),
		"maxFee":      formatAmount(e.MaxFee),
		"protocolFee": formatAmount(e.ProtocolFee),
		"clientFee":   formatAmount(e.ClientFee),
		"userSavings": formatAmount(e.UserSavings),
	}
	setAddress(attrs, "payer", e.Payer)
	setAddress(attrs, "client", e.Client)
	return &types.Event{Type: TypeFeesCollected, Attributes: attrs}
}

// ClientWithdrawal records a client fee payout.
type ClientWithdrawal struct {
	Client ethcommon.Address
	Token  ethcommon.Address
	Amount *uint256.Int
}

func (ClientWithdrawal) EventType() string { return TypeClientWithdrawal }

func (e ClientWithdrawal) Event() *types.Event {
	return &types.Event{
		Type: TypeClientWithdrawal,
		Attributes: map[string]string{
			"client": formatAddress(e.Client),
			"token":  formatAddress(e.Token),
			"amount": formatAmount(e.Amount),
		},
	}
}

// ClientRateUpdated records the new global client rate.
type ClientRateUpdated struct {
	Previous uint64
	Rate     uint64
}

func (ClientRateUpdated) EventType() string { return TypeClientRateUpdated }

func (e ClientRateUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeClientRateUpdated,
		Attributes: map[string]string{
			"previous": formatUint(e.Previous),
			"rate":     formatUint(e.Rate),
		},
	}
}

// TakeRateUpdated records a client's new take rate.
type TakeRateUpdated struct {
	Client ethcommon.Address
	Rate   uint64
}

func (TakeRateUpdated) EventType() string { return TypeTakeRateUpdated }

func (e TakeRateUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeTakeRateUpdated,
		Attributes: map[string]string{
			"client": formatAddress(e.Client),
			"rate":   formatUint(e.Rate),
		},
	}
}

// FeesSwept records protocol revenue transferred to the owner.
type FeesSwept struct {
	Token     ethcommon.Address
	Recipient ethcommon.Address
	Amount    *uint256.Int
}

func (FeesSwept) EventType() string { return TypeFeesSwept }

func (e FeesSwept) Event() *types.Event {
	return &types.Event{
		Type: TypeFeesSwept,
		Attributes: map[string]string{
			"token":     formatAddress(e.Token),
			"recipient": formatAddress(e.Recipient),
			"amount":    formatAmount(e.Amount),
		},
	}
}
