package events

import (
	"strconv"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func formatAddress(addr ethcommon.Address) string {
	return addr.Hex()
}

func setAddress(attrs map[string]string, key string, addr ethcommon.Address) {
	if addr == (ethcommon.Address{}) {
		return
	}
	attrs[key] = formatAddress(addr)
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
