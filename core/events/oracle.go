package events

import (
	"strconv"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/chainrule-labs/pesto-contracts-sub000/core/types"
)

// TypeOraclePriceUpdated is emitted when an administrator posts a new price.
const TypeOraclePriceUpdated = "oracle.price_updated"

type OraclePriceUpdated struct {
	Token     ethcommon.Address
	Price     *uint256.Int
	UpdatedAt int64
}

func (OraclePriceUpdated) EventType() string { return TypeOraclePriceUpdated }

func (e OraclePriceUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeOraclePriceUpdated,
		Attributes: map[string]string{
			"token":     formatAddress(e.Token),
			"price":     formatAmount(e.Price),
			"updatedAt": strconv.FormatInt(e.UpdatedAt, 10),
		},
	}
}
