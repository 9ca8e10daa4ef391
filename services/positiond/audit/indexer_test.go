package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/chainrule-labs/pesto-contracts-sub000/core/events"
)

var (
	positionA = ethcommon.HexToAddress("0x00000000000000000000000000000000000000aa")
	positionB = ethcommon.HexToAddress("0x00000000000000000000000000000000000000bb")
	owner     = ethcommon.HexToAddress("0x00000000000000000000000000000000000000c1")
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := Open("sqlite", dsn)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func swept(pos ethcommon.Address, amount uint64) events.PositionSwept {
	return events.PositionSwept{Position: pos, Owner: owner, Token: pos, Amount: uint256.NewInt(amount)}
}

func TestIndexerPersistsAndFilters(t *testing.T) {
	db := openTestDB(t)
	idx, err := NewIndexer(db, nil)
	require.NoError(t, err)
	idx.SetNowFunc(func() time.Time { return time.Unix(1_700_000_000, 0) })

	idx.Emit(swept(positionA, 1))
	idx.Emit(swept(positionB, 2))
	idx.Emit(swept(positionA, 3))

	all, err := idx.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, []uint64{1, 2, 3}, []uint64{all[0].Seq, all[1].Seq, all[2].Seq})

	onlyA, err := idx.List(context.Background(), Filter{Position: positionA.Hex()})
	require.NoError(t, err)
	require.Len(t, onlyA, 2)
	attrs, err := onlyA[1].Attrs()
	require.NoError(t, err)
	require.Equal(t, "3", attrs["amount"])
	require.Equal(t, owner.Hex(), onlyA[1].Owner)

	paged, err := idx.List(context.Background(), Filter{AfterSeq: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	require.Equal(t, uint64(2), paged[0].Seq)
}

func TestIndexerIDsAreContentAddressed(t *testing.T) {
	db := openTestDB(t)
	idx, err := NewIndexer(db, nil)
	require.NoError(t, err)
	first, err := idx.Record(context.Background(), swept(positionA, 1))
	require.NoError(t, err)
	second, err := idx.Record(context.Background(), swept(positionA, 1))
	require.NoError(t, err)
	require.Len(t, first.ID, 64)
	require.NotEqual(t, first.ID, second.ID)

	// A restarted indexer continues the sequence.
	resumed, err := NewIndexer(db, nil)
	require.NoError(t, err)
	third, err := resumed.Record(context.Background(), swept(positionB, 1))
	require.NoError(t, err)
	require.Equal(t, uint64(3), third.Seq)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	require.Error(t, err)
}
