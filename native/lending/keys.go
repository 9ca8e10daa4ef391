package lending

import ethcommon "github.com/ethereum/go-ethereum/common"

var (
	reservePrefix      = []byte("lending/reserve/")
	reserveIndexKey    = []byte("lending/reserve/index")
	supplySharesPrefix = []byte("lending/supply/")
	scaledDebtPrefix   = []byte("lending/debt/")
	accountAssetPrefix = []byte("lending/assets/")
)

func addressKey(prefix []byte, parts ...ethcommon.Address) []byte {
	buf := make([]byte, len(prefix), len(prefix)+len(parts)*ethcommon.AddressLength)
	copy(buf, prefix)
	for _, part := range parts {
		buf = append(buf, part.Bytes()...)
	}
	return buf
}

func reserveKey(token ethcommon.Address) []byte { return addressKey(reservePrefix, token) }

func supplySharesKey(token, account ethcommon.Address) []byte {
	return addressKey(supplySharesPrefix, token, account)
}

func scaledDebtKey(token, account ethcommon.Address) []byte {
	return addressKey(scaledDebtPrefix, token, account)
}

func accountAssetsKey(account ethcommon.Address) []byte {
	return addressKey(accountAssetPrefix, account)
}
