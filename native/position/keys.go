package position

import (
	ethcommon "github.com/ethereum/go-ethereum/common"
)

var (
	recordPrefix = []byte("position/record/")
	ownerPrefix  = []byte("position/owner/")
	triplePrefix = []byte("position/triple/")
	nonceKey     = []byte("position/nonce")
)

func positionKey(prefix []byte, parts ...ethcommon.Address) []byte {
	key := make([]byte, len(prefix), len(prefix)+len(parts)*ethcommon.AddressLength)
	copy(key, prefix)
	for _, part := range parts {
		key = append(key, part.Bytes()...)
	}
	return key
}

func recordKey(addr ethcommon.Address) []byte { return positionKey(recordPrefix, addr) }

func ownerKey(owner ethcommon.Address) []byte { return positionKey(ownerPrefix, owner) }

func tripleKey(owner, collateral, debt, base ethcommon.Address) []byte {
	return positionKey(triplePrefix, owner, collateral, debt, base)
}
