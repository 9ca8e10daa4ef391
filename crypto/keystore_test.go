package crypto

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"
)

func init() {
	scryptN = keystore.LightScryptN
	scryptP = keystore.LightScryptP
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "keys", "owner.json")
	require.NoError(t, SaveToKeystore(path, key, "correct horse", false))

	loaded, err := LoadFromKeystore(path, "correct horse")
	require.NoError(t, err)
	require.Equal(t, key.Address(), loaded.Address())
	require.Equal(t, key.Bytes(), loaded.Bytes())

	_, err = LoadFromKeystore(path, "wrong")
	require.Error(t, err)
}

func TestKeystoreRefusesOverwrite(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "owner.json")
	require.NoError(t, SaveToKeystore(path, key, "pass", false))

	other, err := GeneratePrivateKey()
	require.NoError(t, err)
	require.Error(t, SaveToKeystore(path, other, "pass", false))
	require.NoError(t, SaveToKeystore(path, other, "pass", true))

	loaded, err := LoadFromKeystore(path, "pass")
	require.NoError(t, err)
	require.Equal(t, other.Address(), loaded.Address())
}

func TestPrivateKeyFromHex(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	raw := hexutil.Encode(key.Bytes())

	parsed, err := PrivateKeyFromHex(raw)
	require.NoError(t, err)
	require.Equal(t, key.Address(), parsed.Address())

	parsed, err = PrivateKeyFromHex(raw[2:])
	require.NoError(t, err)
	require.Equal(t, key.Address(), parsed.Address())

	_, err = PrivateKeyFromHex("0xzz")
	require.Error(t, err)
}
