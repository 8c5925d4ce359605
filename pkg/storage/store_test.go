package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusdb/nexusdb/pkg/dberr"
	"github.com/nexusdb/nexusdb/pkg/txn"
	"github.com/nexusdb/nexusdb/pkg/types"
)

func commitRow(s *Store, reg *txn.Registry, rowID int64, row types.Row) txn.ID {
	writer, _ := reg.Allocate()
	reg.MarkCommitted(writer)
	s.ApplyCommitted([]CommittedWrite{
		{RowID: rowID, CreatorTxn: writer, DeleterTxn: NoDeleter, Row: row, CreateTime: 1},
	}, nil)
	return writer
}

func TestTryClaimConflictsAcrossTransactions(t *testing.T) {
	reg := txn.NewRegistry()
	s := NewStore("t", reg)

	a, _ := reg.Allocate()
	b, _ := reg.Allocate()

	require.NoError(t, s.TryClaim(1, a))
	// the same transaction re-claiming its own intent is fine
	require.NoError(t, s.TryClaim(1, a))

	err := s.TryClaim(1, b)
	require.Error(t, err)
	assert.Equal(t, dberr.KindConcurrentWrite, dberr.KindOf(err))
}

func TestReleaseClaimAllowsOtherTxnToClaim(t *testing.T) {
	reg := txn.NewRegistry()
	s := NewStore("t", reg)

	a, _ := reg.Allocate()
	b, _ := reg.Allocate()

	require.NoError(t, s.TryClaim(1, a))
	s.ReleaseClaim(1)
	require.NoError(t, s.TryClaim(1, b))

	holder, ok := s.ClaimHolder(1)
	assert.True(t, ok)
	assert.Equal(t, b, holder)
}

func TestApplyCommittedThenReadVisible(t *testing.T) {
	reg := txn.NewRegistry()
	s := NewStore("t", reg)

	row := types.Row{types.NewInteger(1), types.NewText("ada")}
	commitRow(s, reg, 1, row)

	viewer, viewerBegin := reg.Allocate()
	got, ok := s.ReadVisible(1, viewer, viewerBegin)
	require.True(t, ok)
	assert.Equal(t, row, got)
}

func TestReadVisibleHidesRowFromEarlierSnapshot(t *testing.T) {
	reg := txn.NewRegistry()
	s := NewStore("t", reg)

	viewer, viewerBegin := reg.Allocate() // snapshot begins before the write commits

	commitRow(s, reg, 1, types.Row{types.NewInteger(1)})

	_, ok := s.ReadVisible(1, viewer, viewerBegin)
	assert.False(t, ok, "a row committed after the viewer's snapshot began must stay invisible")
}

func TestCurrentHeadIgnoresViewerVisibility(t *testing.T) {
	reg := txn.NewRegistry()
	s := NewStore("t", reg)

	earlyViewer, earlyBegin := reg.Allocate()
	commitRow(s, reg, 1, types.Row{types.NewInteger(1)})

	// CurrentHead must see the committed row even though earlyViewer's
	// snapshot predates the commit.
	head, ok := s.CurrentHead(1)
	require.True(t, ok)
	assert.Equal(t, int64(1), head.RowID)

	_, ok = s.ReadVisible(1, earlyViewer, earlyBegin)
	assert.False(t, ok)
}

func TestApplyCommittedDeleteMakesRowInvisible(t *testing.T) {
	reg := txn.NewRegistry()
	s := NewStore("t", reg)

	commitRow(s, reg, 1, types.Row{types.NewInteger(1)})

	deleter, _ := reg.Allocate()
	reg.MarkCommitted(deleter)
	s.ApplyCommitted([]CommittedWrite{
		{RowID: 1, CreatorTxn: deleter, DeleterTxn: deleter, Row: nil, CreateTime: 2},
	}, nil)

	viewer, viewerBegin := reg.Allocate()
	_, ok := s.ReadVisible(1, viewer, viewerBegin)
	assert.False(t, ok)

	_, ok = s.CurrentHead(1)
	assert.False(t, ok, "CurrentHead must not surface a tombstoned row as live")
}

func TestFullScanStopsEarlyWhenSinkReturnsFalse(t *testing.T) {
	reg := txn.NewRegistry()
	s := NewStore("t", reg)

	for i := int64(1); i <= 5; i++ {
		commitRow(s, reg, i, types.Row{types.NewInteger(i)})
	}

	viewer, viewerBegin := reg.Allocate()

	var seen int
	scanned := s.FullScan(viewer, viewerBegin, func(ScanRow) bool {
		seen++
		return seen < 2
	})
	assert.Equal(t, 2, seen)
	assert.GreaterOrEqual(t, scanned, 2)
}

func TestFullScanVisitsAllVisibleRows(t *testing.T) {
	reg := txn.NewRegistry()
	s := NewStore("t", reg)

	for i := int64(1); i <= 3; i++ {
		commitRow(s, reg, i, types.Row{types.NewInteger(i)})
	}

	viewer, viewerBegin := reg.Allocate()

	var rows []int64
	s.FullScan(viewer, viewerBegin, func(sr ScanRow) bool {
		rows = append(rows, sr.RowID)
		return true
	})
	assert.Len(t, rows, 3)
}

func TestCountLiveReflectsCommitsAndDeletes(t *testing.T) {
	reg := txn.NewRegistry()
	s := NewStore("t", reg)

	commitRow(s, reg, 1, types.Row{types.NewInteger(1)})
	commitRow(s, reg, 2, types.Row{types.NewInteger(2)})

	viewer, viewerBegin := reg.Allocate()
	assert.Equal(t, int64(2), s.CountLive(viewer, viewerBegin))

	deleter, _ := reg.Allocate()
	reg.MarkCommitted(deleter)
	s.ApplyCommitted([]CommittedWrite{
		{RowID: 1, CreatorTxn: deleter, DeleterTxn: deleter, Row: nil, CreateTime: 3},
	}, nil)

	viewer2, viewerBegin2 := reg.Allocate()
	assert.Equal(t, int64(1), s.CountLive(viewer2, viewerBegin2))
}

func TestApproxRowCountTracksInsertsAndDeletes(t *testing.T) {
	reg := txn.NewRegistry()
	s := NewStore("t", reg)

	commitRow(s, reg, 1, types.Row{types.NewInteger(1)})
	assert.Equal(t, int64(1), s.ApproxRowCount())

	deleter, _ := reg.Allocate()
	reg.MarkCommitted(deleter)
	s.ApplyCommitted([]CommittedWrite{
		{RowID: 1, CreatorTxn: deleter, DeleterTxn: deleter, Row: nil, CreateTime: 2},
	}, nil)
	assert.Equal(t, int64(0), s.ApproxRowCount())
}

func TestReadAsOfTxnSeesOnlyVersionsUpToThatTransaction(t *testing.T) {
	reg := txn.NewRegistry()
	s := NewStore("t", reg)

	writer := commitRow(s, reg, 1, types.Row{types.NewInteger(1)})

	laterWriter, _ := reg.Allocate()
	reg.MarkCommitted(laterWriter)
	s.ApplyCommitted([]CommittedWrite{
		{RowID: 1, CreatorTxn: laterWriter, DeleterTxn: NoDeleter, Row: types.Row{types.NewInteger(2)}, CreateTime: 2},
	}, nil)

	row, ok := s.ReadAsOfTxn(1, writer)
	require.True(t, ok)
	assert.Equal(t, int64(1), row[0].Int())

	row, ok = s.ReadAsOfTxn(1, laterWriter)
	require.True(t, ok)
	assert.Equal(t, int64(2), row[0].Int())
}

func TestAllocateRowIDIsMonotonic(t *testing.T) {
	reg := txn.NewRegistry()
	s := NewStore("t", reg)

	a := s.AllocateRowID()
	b := s.AllocateRowID()
	assert.Less(t, a, b)
}

func TestSortedRowIDsAreOrdered(t *testing.T) {
	reg := txn.NewRegistry()
	s := NewStore("t", reg)

	commitRow(s, reg, 5, types.Row{types.NewInteger(5)})
	commitRow(s, reg, 1, types.Row{types.NewInteger(1)})
	commitRow(s, reg, 3, types.Row{types.NewInteger(3)})

	assert.Equal(t, []int64{1, 3, 5}, s.SortedRowIDs())
}
