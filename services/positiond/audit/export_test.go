package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
)

func TestExportWritesParquet(t *testing.T) {
	db := openTestDB(t)
	idx, err := NewIndexer(db, nil)
	require.NoError(t, err)
	idx.Emit(swept(positionA, 1))
	idx.Emit(swept(positionB, 2))
	idx.Emit(swept(positionA, 3))

	path := filepath.Join(t.TempDir(), "audit.parquet")
	n, err := idx.Export(context.Background(), path, Filter{Position: positionA.Hex()})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(exportRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	require.EqualValues(t, 2, pr.GetNumRows())

	rows := make([]exportRow, 2)
	require.NoError(t, pr.Read(&rows))
	require.Equal(t, int64(1), rows[0].Seq)
	require.Equal(t, int64(3), rows[1].Seq)
	require.Equal(t, positionA.Hex(), rows[1].Position)
	require.Contains(t, rows[1].Attributes, `"amount":"3"`)
}
