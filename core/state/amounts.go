package state

import (
	"fmt"

	"github.com/holiman/uint256"
)

type amountRecord struct {
	Value *uint256.Int
}

// KVGetAmount loads a uint256 amount stored with KVPutAmount. Missing keys read
// as zero.
func (m *Manager) KVGetAmount(key []byte) (*uint256.Int, error) {
	var rec amountRecord
	ok, err := m.KVGet(key, &rec)
	if err != nil {
		return nil, fmt.Errorf("kv: decode amount: %w", err)
	}
	if !ok || rec.Value == nil {
		return new(uint256.Int), nil
	}
	return rec.Value, nil
}

// KVPutAmount stores amount under key. Zero amounts delete the key so empty
// balances leave no residue in the database.
func (m *Manager) KVPutAmount(key []byte, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return m.KVDelete(key)
	}
	return m.KVPut(key, amountRecord{Value: new(uint256.Int).Set(amount)})
}
