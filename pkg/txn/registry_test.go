package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllocateMarksActive(t *testing.T) {
	r := NewRegistry()
	id1, begin1 := r.Allocate()
	id2, begin2 := r.Allocate()
	assert.NotEqual(t, id1, id2)
	assert.Less(t, begin1, begin2)
	assert.Equal(t, 2, r.ActiveCount())
}

func TestOwnWritesAlwaysVisible(t *testing.T) {
	r := NewRegistry()
	id, begin := r.Allocate()
	assert.True(t, r.IsVisible(id, id, begin))
}

func TestRecoveryTxnIDAlwaysVisible(t *testing.T) {
	r := NewRegistry()
	_, begin := r.Allocate()
	assert.True(t, r.IsVisible(RecoveryTxnID, 42, begin))
}

func TestCommittedBeforeViewerBeginIsVisible(t *testing.T) {
	r := NewRegistry()
	writer, _ := r.Allocate()
	r.MarkCommitted(writer)

	viewer, viewerBegin := r.Allocate()
	assert.True(t, r.IsVisible(writer, viewer, viewerBegin))
}

func TestCommittedAfterViewerBeginIsNotVisible(t *testing.T) {
	r := NewRegistry()
	viewer, viewerBegin := r.Allocate()

	writer, _ := r.Allocate()
	r.MarkCommitted(writer)

	assert.False(t, r.IsVisible(writer, viewer, viewerBegin))
}

func TestUncommittedWriteIsNotVisibleToOthers(t *testing.T) {
	r := NewRegistry()
	writer, _ := r.Allocate()
	viewer, viewerBegin := r.Allocate()
	assert.False(t, r.IsVisible(writer, viewer, viewerBegin))
}

func TestAbortedTransactionNeverBecomesVisible(t *testing.T) {
	r := NewRegistry()
	writer, _ := r.Allocate()
	r.MarkAborted(writer)

	viewer, viewerBegin := r.Allocate()
	assert.False(t, r.IsVisible(writer, viewer, viewerBegin))
	assert.Equal(t, 1, r.ActiveCount(), "only the viewer remains active")
}

func TestMinActiveBeginSeqTracksOldestActiveTxn(t *testing.T) {
	r := NewRegistry()
	_, begin1 := r.Allocate()
	id2, _ := r.Allocate()
	r.MarkCommitted(id2)

	assert.Equal(t, begin1, r.MinActiveBeginSeq())
}

func TestCommitSeqOfOnlyReturnsOkForCommitted(t *testing.T) {
	r := NewRegistry()
	id, _ := r.Allocate()
	_, ok := r.CommitSeqOf(id)
	assert.False(t, ok)

	commitSeq := r.MarkCommitted(id)
	got, ok := r.CommitSeqOf(id)
	assert.True(t, ok)
	assert.Equal(t, commitSeq, got)
}
