package token

import ethcommon "github.com/ethereum/go-ethereum/common"

var (
	tokenMetaPrefix   = []byte("token/meta/")
	tokenIndexKey     = []byte("token/index")
	balancePrefix     = []byte("token/balance/")
	allowancePrefix   = []byte("token/allowance/")
	permitNoncePrefix = []byte("token/nonce/")
)

func joinKey(prefix []byte, parts ...ethcommon.Address) []byte {
	buf := make([]byte, len(prefix), len(prefix)+len(parts)*ethcommon.AddressLength)
	copy(buf, prefix)
	for _, part := range parts {
		buf = append(buf, part.Bytes()...)
	}
	return buf
}

func metaKey(token ethcommon.Address) []byte { return joinKey(tokenMetaPrefix, token) }

func balanceKey(token, account ethcommon.Address) []byte {
	return joinKey(balancePrefix, token, account)
}

func allowanceKey(token, owner, spender ethcommon.Address) []byte {
	return joinKey(allowancePrefix, token, owner, spender)
}

func nonceKey(token, owner ethcommon.Address) []byte {
	return joinKey(permitNoncePrefix, token, owner)
}
