package fees

import ethcommon "github.com/ethereum/go-ethereum/common"

var (
	settingsKey         = []byte("fees/settings")
	takeRatePrefix      = []byte("fees/take/")
	clientBalancePrefix = []byte("fees/balance/")
	clientTotalPrefix   = []byte("fees/total/")
	clientTokensPrefix  = []byte("fees/tokens/")
)

func feeKey(prefix []byte, parts ...ethcommon.Address) []byte {
	buf := make([]byte, len(prefix), len(prefix)+len(parts)*ethcommon.AddressLength)
	copy(buf, prefix)
	for _, part := range parts {
		buf = append(buf, part.Bytes()...)
	}
	return buf
}

func takeRateKey(client ethcommon.Address) []byte { return feeKey(takeRatePrefix, client) }

func clientBalanceKey(client, token ethcommon.Address) []byte {
	return feeKey(clientBalancePrefix, client, token)
}

func clientTotalKey(token ethcommon.Address) []byte { return feeKey(clientTotalPrefix, token) }

func clientTokensKey(client ethcommon.Address) []byte { return feeKey(clientTokensPrefix, client) }
