package state

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/chainrule-labs/pesto-contracts-sub000/storage"
)

type sampleRecord struct {
	Name   string
	Amount *uint256.Int
	Flag   bool
}

func TestKVRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	key := []byte("sample/1")

	ok, err := m.KVGet(key, &sampleRecord{})
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.KVPut(key, sampleRecord{Name: "one", Amount: uint256.NewInt(42), Flag: true}))
	var got sampleRecord
	ok, err = m.KVGet(key, &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "one", got.Name)
	require.Equal(t, uint64(42), got.Amount.Uint64())
	require.True(t, got.Flag)

	require.NoError(t, m.KVDelete(key))
	ok, err = m.KVGet(key, &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestKVAppendDeduplicates(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	key := []byte("list")

	var empty [][]byte
	require.NoError(t, m.KVGetList(key, &empty))
	require.NotNil(t, empty)
	require.Len(t, empty, 0)

	require.NoError(t, m.KVAppend(key, []byte("a")))
	require.NoError(t, m.KVAppend(key, []byte("b")))
	require.NoError(t, m.KVAppend(key, []byte("a")))

	var list [][]byte
	require.NoError(t, m.KVGetList(key, &list))
	require.Equal(t, [][]byte{[]byte("a"), []byte("b")}, list)
}

func TestKVWritesStayInOverlayUntilCommit(t *testing.T) {
	db := storage.NewMemDB()
	ov := storage.NewOverlay(db)
	m := NewManager(ov)
	require.NoError(t, m.KVPut([]byte("k"), uint64(7)))
	require.Empty(t, db.Keys())

	ov.Discard()
	var out uint64
	ok, err := NewManager(db).KVGet([]byte("k"), &out)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEnsureStateVersion(t *testing.T) {
	db := storage.NewMemDB()
	require.NoError(t, EnsureStateVersion(db, false))

	require.NoError(t, NewManager(db).SetStateVersion(StateVersion+1))
	require.ErrorIs(t, EnsureStateVersion(db, false), ErrStateVersionMismatch)
	require.NoError(t, EnsureStateVersion(db, true))

	require.NoError(t, NewManager(db).SetStateVersion(StateVersion))
	require.NoError(t, EnsureStateVersion(db, false))
}

func TestKVAmountsDefaultToZero(t *testing.T) {
	db := storage.NewMemDB()
	m := NewManager(db)
	key := []byte("balance")

	got, err := m.KVGetAmount(key)
	require.NoError(t, err)
	require.True(t, got.IsZero())

	require.NoError(t, m.KVPutAmount(key, uint256.NewInt(99)))
	got, err = m.KVGetAmount(key)
	require.NoError(t, err)
	require.Equal(t, uint64(99), got.Uint64())

	require.NoError(t, m.KVPutAmount(key, new(uint256.Int)))
	require.Empty(t, db.Keys())
}
