package events

import (
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/chainrule-labs/pesto-contracts-sub000/core/types"
)

const (
	// TypeTransfer is emitted for every token balance movement.
	TypeTransfer = "token.transfer"
	// TypeApproval is emitted when an allowance is set directly or via permit.
	TypeApproval = "token.approval"
)

type Transfer struct {
	Token  ethcommon.Address
	From   ethcommon.Address
	To     ethcommon.Address
	Amount *uint256.Int
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{
		"token":  formatAddress(e.Token),
		"amount": formatAmount(e.Amount),
	}
	// Mints carry no sender.
	setAddress(attrs, "from", e.From)
	setAddress(attrs, "to", e.To)
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}

type Approval struct {
	Token   ethcommon.Address
	Owner   ethcommon.Address
	Spender ethcommon.Address
	Amount  *uint256.Int
	Permit  bool
}

func (Approval) EventType() string { return TypeApproval }

func (e Approval) Event() *types.Event {
	attrs := map[string]string{
		"token":   formatAddress(e.Token),
		"owner":   formatAddress(e.Owner),
		"spender": formatAddress(e.Spender),
		"amount":  formatAmount(e.Amount),
	}
	if e.Permit {
		attrs["permit"] = "true"
	}
	return &types.Event{Type: TypeApproval, Attributes: attrs}
}
