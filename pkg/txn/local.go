package txn

import (
	"sync"

	"github.com/nexusdb/nexusdb/pkg/types"
)

// ReadSetEntry records what a transaction observed when it read a row, so
// commit-time validation can detect that the row changed underneath it
// (§4.4, §5 first-committer-wins). It deliberately holds only the creator
// id of the version chain entry the transaction saw, not a pointer into
// pkg/storage's version chain: txn sits below storage in the import graph
// (storage depends on txn for visibility, not the reverse), so the
// version-chain type itself cannot appear here. The table facade (which
// imports both) compares this struct's CreatorTxn with the creator of the
// chain's current head.
type ReadSetEntry struct {
	RowID      int64
	Present    bool // false if the row did not exist (or was not visible) when read
	CreatorTxn ID   // creator of the version this txn actually saw
	ReadSeq    Seq  // registry sequence at the moment of the read
}

// PendingWrite is one uncommitted row mutation buffered in a transaction's
// local store, not yet visible to any other transaction (§4.4).
type PendingWrite struct {
	RowID   int64
	Row     types.Row // nil for a delete
	Deleted bool
}

// LocalStore is the per-transaction workspace of §4.4: uncommitted writes
// this transaction has made, plus the set of rows it has read, keyed by
// table so one transaction can touch many tables.
type LocalStore struct {
	TxnID ID
	Begin Seq

	mu      sync.Mutex
	writes  map[string]map[int64]*PendingWrite
	reads   map[string]map[int64]ReadSetEntry
}

func NewLocalStore(txnID ID, begin Seq) *LocalStore {
	return &LocalStore{
		TxnID:  txnID,
		Begin:  begin,
		writes: make(map[string]map[int64]*PendingWrite),
		reads:  make(map[string]map[int64]ReadSetEntry),
	}
}

// RecordRead adds (or overwrites) a read-set entry for (table, rowID).
// Repeated reads of the same row within one transaction keep only the
// most recent observation, matching snapshot isolation's single
// consistent view per §4.2. present is false when the row was absent (or
// not visible) at read time; creator is meaningless in that case.
func (l *LocalStore) RecordRead(table string, rowID int64, present bool, creator ID, seq Seq) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.reads[table]
	if !ok {
		m = make(map[int64]ReadSetEntry)
		l.reads[table] = m
	}
	m[rowID] = ReadSetEntry{RowID: rowID, Present: present, CreatorTxn: creator, ReadSeq: seq}
}

// StageWrite buffers an insert/update for rowID in table, uncommitted.
func (l *LocalStore) StageWrite(table string, rowID int64, row types.Row) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := l.writesFor(table)
	m[rowID] = &PendingWrite{RowID: rowID, Row: row}
}

// StageDelete buffers a delete for rowID in table, uncommitted.
func (l *LocalStore) StageDelete(table string, rowID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := l.writesFor(table)
	m[rowID] = &PendingWrite{RowID: rowID, Deleted: true}
}

func (l *LocalStore) writesFor(table string) map[int64]*PendingWrite {
	m, ok := l.writes[table]
	if !ok {
		m = make(map[int64]*PendingWrite)
		l.writes[table] = m
	}
	return m
}

// LocalWrite returns this transaction's own buffered write for (table,
// rowID), if any — read-your-own-writes within a transaction (§4.2).
func (l *LocalStore) LocalWrite(table string, rowID int64) (*PendingWrite, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.writes[table]
	if !ok {
		return nil, false
	}
	w, ok := m[rowID]
	return w, ok
}

// WritesForTable returns a snapshot slice of this transaction's buffered
// writes for table, for the commit path to apply.
func (l *LocalStore) WritesForTable(table string) []*PendingWrite {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.writes[table]
	if !ok {
		return nil
	}
	out := make([]*PendingWrite, 0, len(m))
	for _, w := range m {
		out = append(out, w)
	}
	return out
}

// Tables returns the set of table names this transaction touched, in no
// particular order — used by commit to iterate every table's staged
// writes and by rollback to release every table's claims.
func (l *LocalStore) Tables() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := make(map[string]struct{}, len(l.writes)+len(l.reads))
	for t := range l.writes {
		seen[t] = struct{}{}
	}
	for t := range l.reads {
		seen[t] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	return out
}

// ReadsForTable returns this transaction's read-set for table, used by
// commit-time validation (§4.2, §5), which runs for every transaction, to
// detect that a row it depended on changed after it was read.
func (l *LocalStore) ReadsForTable(table string) []ReadSetEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.reads[table]
	if !ok {
		return nil
	}
	out := make([]ReadSetEntry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	return out
}
