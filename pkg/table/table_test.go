package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusdb/nexusdb/pkg/dberr"
	"github.com/nexusdb/nexusdb/pkg/index"
	"github.com/nexusdb/nexusdb/pkg/txn"
	"github.com/nexusdb/nexusdb/pkg/types"
)

func newUsersTable() (*Table, *txn.Registry) {
	schema := types.NewSchema("users", []types.ColumnDef{
		{Name: "id", Type: types.TypeInteger, PrimaryKey: true},
		{Name: "name", Type: types.TypeText},
	})
	reg := txn.NewRegistry()
	return NewTable(schema, reg), reg
}

func newHandle(tbl *Table, reg *txn.Registry) (*Handle, txn.ID) {
	id, begin := reg.Allocate()
	return NewHandle(tbl, txn.NewLocalStore(id, begin)), id
}

func TestInsertThenGetWithinSameTransaction(t *testing.T) {
	tbl, reg := newUsersTable()
	h, _ := newHandle(tbl, reg)

	rowID := h.Insert(types.Row{types.NewInteger(1), types.NewText("ada")})
	row, ok := h.Get(rowID)
	require.True(t, ok)
	assert.Equal(t, "ada", row.Get(1).Text())
}

func TestInsertNotVisibleToOtherTransactionBeforeCommit(t *testing.T) {
	tbl, reg := newUsersTable()
	h, _ := newHandle(tbl, reg)
	rowID := h.Insert(types.Row{types.NewInteger(1), types.NewText("ada")})

	other, _ := newHandle(tbl, reg)
	_, ok := other.Get(rowID)
	assert.False(t, ok)
}

func TestApplyWritesMakesRowVisibleToNewTransaction(t *testing.T) {
	tbl, reg := newUsersTable()
	h, id := newHandle(tbl, reg)
	rowID := h.Insert(types.Row{types.NewInteger(1), types.NewText("ada")})

	reg.MarkCommitted(id)
	require.NoError(t, h.ApplyWrites(id))

	other, _ := newHandle(tbl, reg)
	row, ok := other.Get(rowID)
	require.True(t, ok)
	assert.Equal(t, "ada", row.Get(1).Text())
}

func TestUpdateClaimConflictsWithConcurrentWriter(t *testing.T) {
	tbl, reg := newUsersTable()
	writer, writerID := newHandle(tbl, reg)
	rowID := writer.Insert(types.Row{types.NewInteger(1), types.NewText("ada")})
	reg.MarkCommitted(writerID)
	require.NoError(t, writer.ApplyWrites(writerID))

	a, _ := newHandle(tbl, reg)
	b, _ := newHandle(tbl, reg)

	require.NoError(t, a.Update(rowID, types.Row{types.NewInteger(1), types.NewText("ada2")}))
	err := b.Update(rowID, types.Row{types.NewInteger(1), types.NewText("ada3")})
	require.Error(t, err)
	assert.Equal(t, dberr.KindConcurrentWrite, dberr.KindOf(err))
}

func TestValidateReadSetDetectsConcurrentCommit(t *testing.T) {
	tbl, reg := newUsersTable()
	writer, writerID := newHandle(tbl, reg)
	rowID := writer.Insert(types.Row{types.NewInteger(1), types.NewText("ada")})
	reg.MarkCommitted(writerID)
	require.NoError(t, writer.ApplyWrites(writerID))

	reader, _ := newHandle(tbl, reg)
	_, ok := reader.Get(rowID)
	require.True(t, ok)

	updater, updaterID := newHandle(tbl, reg)
	require.NoError(t, updater.Update(rowID, types.Row{types.NewInteger(1), types.NewText("ada2")}))
	reg.MarkCommitted(updaterID)
	require.NoError(t, updater.ApplyWrites(updaterID))

	err := reader.ValidateReadSet()
	require.Error(t, err)
	assert.Equal(t, dberr.KindSerializationFailure, dberr.KindOf(err))
}

func TestDeleteThenGetReturnsAbsent(t *testing.T) {
	tbl, reg := newUsersTable()
	writer, writerID := newHandle(tbl, reg)
	rowID := writer.Insert(types.Row{types.NewInteger(1), types.NewText("ada")})
	reg.MarkCommitted(writerID)
	require.NoError(t, writer.ApplyWrites(writerID))

	deleter, deleterID := newHandle(tbl, reg)
	require.NoError(t, deleter.Delete(rowID))
	reg.MarkCommitted(deleterID)
	require.NoError(t, deleter.ApplyWrites(deleterID))

	reader, _ := newHandle(tbl, reg)
	_, ok := reader.Get(rowID)
	assert.False(t, ok)
}

func TestScanYieldsCommittedAndLocalRows(t *testing.T) {
	tbl, reg := newUsersTable()
	writer, writerID := newHandle(tbl, reg)
	writer.Insert(types.Row{types.NewInteger(1), types.NewText("ada")})
	reg.MarkCommitted(writerID)
	require.NoError(t, writer.ApplyWrites(writerID))

	h, _ := newHandle(tbl, reg)
	h.Insert(types.Row{types.NewInteger(2), types.NewText("grace")})

	var names []string
	h.Scan(func(sr ScanRow) bool {
		names = append(names, sr.Row.Get(1).Text())
		return true
	})
	assert.ElementsMatch(t, []string{"ada", "grace"}, names)
}

func TestAttachIndexPopulatesFromExistingRows(t *testing.T) {
	tbl, reg := newUsersTable()
	writer, writerID := newHandle(tbl, reg)
	writer.Insert(types.Row{types.NewInteger(1), types.NewText("ada")})
	reg.MarkCommitted(writerID)
	require.NoError(t, writer.ApplyWrites(writerID))

	idx := index.NewOrdered("idx_id", true)
	require.NoError(t, tbl.AttachIndex("idx_id", []string{"id"}, idx, true))

	ids := idx.LookupEqual([]types.Value{types.NewInteger(1)})
	assert.Equal(t, []int64{0}, ids)
}

func TestIndexForColumnFindsSingleColumnIndex(t *testing.T) {
	tbl, _ := newUsersTable()
	idx := index.NewOrdered("idx_id", true)
	require.NoError(t, tbl.AttachIndex("idx_id", []string{"id"}, idx, false))

	found, ok := tbl.IndexForColumn("id")
	assert.True(t, ok)
	assert.Equal(t, idx, found)

	_, ok = tbl.IndexForColumn("name")
	assert.False(t, ok)
}

func TestDetachIndexRemovesIt(t *testing.T) {
	tbl, _ := newUsersTable()
	idx := index.NewOrdered("idx_id", true)
	require.NoError(t, tbl.AttachIndex("idx_id", []string{"id"}, idx, false))
	tbl.DetachIndex("idx_id")

	_, ok := tbl.IndexForColumn("id")
	assert.False(t, ok)
}

func TestRowCountAndCountLive(t *testing.T) {
	tbl, reg := newUsersTable()
	writer, writerID := newHandle(tbl, reg)
	writer.Insert(types.Row{types.NewInteger(1), types.NewText("ada")})
	reg.MarkCommitted(writerID)
	require.NoError(t, writer.ApplyWrites(writerID))

	h, _ := newHandle(tbl, reg)
	assert.Equal(t, int64(1), h.RowCount())
	assert.Equal(t, int64(1), h.CountLive())
}
