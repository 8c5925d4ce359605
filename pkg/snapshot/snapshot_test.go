package snapshot

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusdb/nexusdb/pkg/catalog"
	"github.com/nexusdb/nexusdb/pkg/txn"
	"github.com/nexusdb/nexusdb/pkg/types"
	"github.com/nexusdb/nexusdb/pkg/wal"
)

func testSchema() *types.Schema {
	return types.NewSchema("accounts", []types.ColumnDef{
		{Name: "id", Type: types.TypeInteger, PrimaryKey: true},
		{Name: "balance", Type: types.TypeFloat, Nullable: true},
	})
}

func TestMetadataRoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteMetadata(dir, Metadata{LSN: 42, TimestampMS: 1000}))

	m, ok, err := ReadMetadata(dir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, wal.LSN(42), m.LSN)
	assert.Equal(t, int64(1000), m.TimestampMS)
}

func TestReadMetadataMissingIsNotError(t *testing.T) {
	_, ok, err := ReadMetadata(t.TempDir())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTableSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	schema := testSchema()
	rows := []TableRow{
		{RowID: 1, Row: types.Row{types.NewInteger(1), types.NewFloat(10.5)}},
		{RowID: 2, Row: types.Row{types.NewInteger(2), types.Null}},
	}
	require.NoError(t, WriteTableSnapshot(dir, schema.TableName, schema, rows, wal.LSN(7), false, 64))

	loaded, ok, err := LoadTableSnapshot(dir, schema.TableName)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, wal.LSN(7), loaded.SourceLSN)
	assert.Equal(t, schema.TableName, loaded.Schema.TableName)
	require.Len(t, loaded.Rows, 2)
	assert.Equal(t, int64(1), loaded.Rows[0].RowID)
}

func TestTableSnapshotCompressedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	schema := testSchema()
	rows := make([]TableRow, 20)
	for i := range rows {
		rows[i] = TableRow{RowID: int64(i), Row: types.Row{types.NewInteger(int64(i)), types.NewFloat(1.5)}}
	}
	require.NoError(t, WriteTableSnapshot(dir, schema.TableName, schema, rows, wal.LSN(3), true, 8))

	loaded, ok, err := LoadTableSnapshot(dir, schema.TableName)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, loaded.Rows, 20)
}

func TestLoadTableSnapshotMissingIsNotError(t *testing.T) {
	_, ok, err := LoadTableSnapshot(t.TempDir(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProcessLockExcludesSecondAcquirer(t *testing.T) {
	dir := t.TempDir()
	l1, err := AcquireLock(dir)
	require.NoError(t, err)

	_, err = AcquireLock(dir)
	assert.Error(t, err)

	require.NoError(t, l1.Release())
	l2, err := AcquireLock(dir)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}

func TestSchemaCodecRoundTrip(t *testing.T) {
	schema := testSchema()
	encoded := EncodeSchema(schema)
	decoded, err := DecodeSchema(encoded)
	require.NoError(t, err)
	assert.Equal(t, schema.TableName, decoded.TableName)
	require.Len(t, decoded.Columns, len(schema.Columns))
	assert.Equal(t, schema.Columns[0].Name, decoded.Columns[0].Name)
	assert.True(t, decoded.Columns[0].PrimaryKey)
	assert.True(t, decoded.Columns[1].Nullable)
}

func TestRecoverReplaysCommittedAndSkipsUncommitted(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "wal.log")

	w, err := wal.Open(walPath, wal.Options{Durability: wal.DurabilityNormal}, 0)
	require.NoError(t, err)

	schema := testSchema()
	_, err = w.Append(wal.Entry{TxnID: 1, TableName: schema.TableName, Op: wal.OpCreateTable, OpData: EncodeSchema(schema)})
	require.NoError(t, err)
	_, err = w.Append(wal.Entry{TxnID: 1, RowID: 1, TableName: schema.TableName, Op: wal.OpInsert,
		OpData: wal.EncodeRow(types.Row{types.NewInteger(1), types.NewFloat(5)})})
	require.NoError(t, err)
	_, err = w.Append(wal.Entry{TxnID: 1, RowID: 2, TableName: schema.TableName, Op: wal.OpInsert,
		OpData: wal.EncodeRow(types.Row{types.NewInteger(2), types.NewFloat(6)})})
	require.NoError(t, err)
	_, err = w.Append(wal.Entry{TxnID: 1, Op: wal.OpCommit})
	require.NoError(t, err)
	// An uncommitted third insert under a different txn: must not survive recovery.
	_, err = w.Append(wal.Entry{TxnID: 2, RowID: 3, TableName: schema.TableName, Op: wal.OpInsert,
		OpData: wal.EncodeRow(types.Row{types.NewInteger(3), types.NewFloat(7)})})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	cat := catalog.New()
	registry := txn.NewRegistry()
	result, err := Recover(dir, walPath, cat, registry)
	require.NoError(t, err)
	require.Contains(t, result.Tables, schema.TableName)

	tbl := result.Tables[schema.TableName]
	count := tbl.Store.CountLive(txn.ID(999), txn.Seq(1<<30))
	assert.Equal(t, int64(2), count)
}
