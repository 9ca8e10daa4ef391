package token

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/chainrule-labs/pesto-contracts-sub000/native/common"
)

var permitDomain = []byte("pesto/token-permit/v1")

// Permit is an off-line signed approval. The signature is a 65 byte
// secp256k1 signature over PermitDigest.
type Permit struct {
	Token     ethcommon.Address
	Owner     ethcommon.Address
	Spender   ethcommon.Address
	Value     *uint256.Int
	Nonce     uint64
	Deadline  uint64
	Signature []byte
}

// PermitDigest returns the keccak256 digest the owner signs.
func PermitDigest(p Permit) []byte {
	var nonce, deadline [8]byte
	binary.BigEndian.PutUint64(nonce[:], p.Nonce)
	binary.BigEndian.PutUint64(deadline[:], p.Deadline)
	value := common.OrZero(p.Value).Bytes32()
	return ethcrypto.Keccak256(
		permitDomain,
		p.Token.Bytes(),
		p.Owner.Bytes(),
		p.Spender.Bytes(),
		value[:],
		nonce[:],
		deadline[:],
	)
}

// SignPermit signs the permit with key and returns the signature.
func SignPermit(p Permit, key *ecdsa.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("token: signing key required")
	}
	return ethcrypto.Sign(PermitDigest(p), key)
}

// RecoverPermitSigner returns the address that produced the permit signature.
func RecoverPermitSigner(p Permit) (ethcommon.Address, error) {
	if len(p.Signature) != ethcrypto.SignatureLength {
		return ethcommon.Address{}, fmt.Errorf("%w: expected %d bytes", ErrInvalidPermitSignature, ethcrypto.SignatureLength)
	}
	sig := append([]byte(nil), p.Signature...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(PermitDigest(p), sig)
	if err != nil {
		return ethcommon.Address{}, fmt.Errorf("%w: %v", ErrInvalidPermitSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Permit verifies a signed approval and applies it, consuming the owner's
// nonce.
func (l *Ledger) Permit(p Permit) error {
	if err := l.ready(); err != nil {
		return err
	}
	if p.Deadline != 0 && uint64(l.nowFn().Unix()) > p.Deadline {
		return ErrPermitExpired
	}
	expected, err := l.Nonce(p.Token, p.Owner)
	if err != nil {
		return err
	}
	if p.Nonce != expected {
		return fmt.Errorf("%w: expected %d got %d", ErrPermitNonce, expected, p.Nonce)
	}
	signer, err := RecoverPermitSigner(p)
	if err != nil {
		return err
	}
	if signer != p.Owner {
		return fmt.Errorf("%w: signed by %s", ErrInvalidPermitSignature, signer.Hex())
	}
	if err := l.state.KVPut(nonceKey(p.Token, p.Owner), expected+1); err != nil {
		return err
	}
	return l.approve(p.Token, p.Owner, p.Spender, p.Value, true)
}
