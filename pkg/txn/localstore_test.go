package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nexusdb/nexusdb/pkg/types"
)

func TestStageWriteThenLocalWrite(t *testing.T) {
	l := NewLocalStore(1, 1)
	row := types.Row{types.NewInteger(1)}
	l.StageWrite("users", 10, row)

	w, ok := l.LocalWrite("users", 10)
	assert.True(t, ok)
	assert.False(t, w.Deleted)
	assert.Equal(t, row, w.Row)
}

func TestStageDeleteMarksDeleted(t *testing.T) {
	l := NewLocalStore(1, 1)
	l.StageDelete("users", 10)
	w, ok := l.LocalWrite("users", 10)
	assert.True(t, ok)
	assert.True(t, w.Deleted)
}

func TestLocalWriteMissingReturnsFalse(t *testing.T) {
	l := NewLocalStore(1, 1)
	_, ok := l.LocalWrite("users", 99)
	assert.False(t, ok)
}

func TestWritesForTableReturnsAllStagedWrites(t *testing.T) {
	l := NewLocalStore(1, 1)
	l.StageWrite("users", 1, types.Row{types.NewInteger(1)})
	l.StageWrite("users", 2, types.Row{types.NewInteger(2)})
	l.StageWrite("other", 3, types.Row{types.NewInteger(3)})

	writes := l.WritesForTable("users")
	assert.Len(t, writes, 2)

	assert.Empty(t, l.WritesForTable("missing"))
}

func TestRecordReadThenReadsForTable(t *testing.T) {
	l := NewLocalStore(1, 1)
	l.RecordRead("users", 1, true, 7, 3)
	l.RecordRead("users", 2, false, 0, 4)

	reads := l.ReadsForTable("users")
	assert.Len(t, reads, 2)
}

func TestRecordReadOverwritesPreviousObservation(t *testing.T) {
	l := NewLocalStore(1, 1)
	l.RecordRead("users", 1, true, 7, 3)
	l.RecordRead("users", 1, true, 9, 5)

	reads := l.ReadsForTable("users")
	assert.Len(t, reads, 1)
	assert.Equal(t, ID(9), reads[0].CreatorTxn)
}

func TestTablesReturnsUnionOfReadAndWriteTables(t *testing.T) {
	l := NewLocalStore(1, 1)
	l.StageWrite("orders", 1, types.Row{types.NewInteger(1)})
	l.RecordRead("users", 2, true, 1, 1)

	tables := l.Tables()
	assert.ElementsMatch(t, []string{"orders", "users"}, tables)
}
