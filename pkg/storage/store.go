package storage

import (
	"sort"
	"sync"

	"go.uber.org/atomic"

	"github.com/nexusdb/nexusdb/pkg/dberr"
	"github.com/nexusdb/nexusdb/pkg/txn"
	"github.com/nexusdb/nexusdb/pkg/types"
)

// Store is the per-table version-store state of §3/§4.3: chains, arena,
// uncommitted-write intents, and the row-id allocator. Indexes and zone
// maps live alongside it (pkg/index, pkg/zonemap) and are driven by the
// table facade (pkg/table), not by Store itself, to keep this package
// focused on the chain/visibility mechanics.
type Store struct {
	TableName string
	registry  *txn.Registry
	arena     *Arena

	chainsMu sync.RWMutex
	chains   map[int64]*Chain

	intentsMu   sync.Mutex
	uncommitted map[int64]txn.ID // row_id -> claiming txn

	nextRowID atomic.Int64
	rowCount  atomic.Int64 // approximate live-row counter, §3 invariant 5
}

func NewStore(tableName string, registry *txn.Registry) *Store {
	return &Store{
		TableName:   tableName,
		registry:    registry,
		arena:       NewArena(),
		chains:      make(map[int64]*Chain),
		uncommitted: make(map[int64]txn.ID),
	}
}

// AllocateRowID hands out the next monotonic row id.
func (s *Store) AllocateRowID() int64 {
	return s.nextRowID.Add(1) - 1
}

func (s *Store) chainFor(rowID int64, create bool) *Chain {
	s.chainsMu.RLock()
	c, ok := s.chains[rowID]
	s.chainsMu.RUnlock()
	if ok || !create {
		return c
	}
	s.chainsMu.Lock()
	defer s.chainsMu.Unlock()
	if c, ok = s.chains[rowID]; ok {
		return c
	}
	c = &Chain{}
	s.chains[rowID] = c
	return c
}

// TryClaim implements intent tracking (§4.3, §5): atomic compare-and-
// insert on uncommitted_writes. Fails with ConcurrentWrite if another
// transaction already holds the intent.
func (s *Store) TryClaim(rowID int64, txnID txn.ID) error {
	s.intentsMu.Lock()
	defer s.intentsMu.Unlock()
	if holder, ok := s.uncommitted[rowID]; ok && holder != txnID {
		return dberr.Conflict(s.TableName, rowID, dberr.KindConcurrentWrite,
			"row already claimed by another in-flight transaction")
	}
	s.uncommitted[rowID] = txnID
	return nil
}

// ReleaseClaim drops an intent, used on rollback and after a successful
// commit's apply step.
func (s *Store) ReleaseClaim(rowID int64) {
	s.intentsMu.Lock()
	delete(s.uncommitted, rowID)
	s.intentsMu.Unlock()
}

// ClaimHolder returns the transaction currently holding an intent on
// rowID, if any.
func (s *Store) ClaimHolder(rowID int64) (txn.ID, bool) {
	s.intentsMu.Lock()
	defer s.intentsMu.Unlock()
	id, ok := s.uncommitted[rowID]
	return id, ok
}

// ReadVisible implements the §4.3 read path: walk the chain from head,
// returning the first version visible to viewer whose deletion (if any)
// is not also visible. Returns (row, ok).
func (s *Store) ReadVisible(rowID int64, viewer txn.ID, viewerBegin txn.Seq) (types.Row, bool) {
	c := s.chainFor(rowID, false)
	if c == nil {
		return nil, false
	}
	for e := c.Head(); e != nil; e = e.Prev {
		if IsVisible(&e.Version, s.registry, viewer, viewerBegin) {
			return s.materialize(&e.Version), true
		}
	}
	return nil, false
}

// ReadVisibleVersion is ReadVisible but also returns the winning version's
// metadata, needed by the table facade to populate the transaction's
// read-set for commit-time conflict detection (§4.4, §5).
func (s *Store) ReadVisibleVersion(rowID int64, viewer txn.ID, viewerBegin txn.Seq) (*RowVersion, bool) {
	c := s.chainFor(rowID, false)
	if c == nil {
		return nil, false
	}
	for e := c.Head(); e != nil; e = e.Prev {
		if IsVisible(&e.Version, s.registry, viewer, viewerBegin) {
			return &e.Version, true
		}
	}
	return nil, false
}

// ReadAsOfTxn implements §4.3 AS OF TRANSACTION semantics.
func (s *Store) ReadAsOfTxn(rowID int64, asOf txn.ID) (types.Row, bool) {
	c := s.chainFor(rowID, false)
	if c == nil {
		return nil, false
	}
	for e := c.Head(); e != nil; e = e.Prev {
		if IsVisibleAsOfTxn(&e.Version, asOf) {
			return s.materialize(&e.Version), true
		}
	}
	return nil, false
}

// ReadAsOfTime implements §4.3 AS OF TIMESTAMP semantics with the
// documented deletion-time imprecision (§9): it returns the newest
// version whose CreateTime <= ts that is not superseded by a newer
// version also <= ts.
func (s *Store) ReadAsOfTime(rowID int64, tsMicros int64) (types.Row, bool) {
	c := s.chainFor(rowID, false)
	if c == nil {
		return nil, false
	}
	for e := c.Head(); e != nil; e = e.Prev {
		if IsVisibleAsOfTime(&e.Version, tsMicros) {
			if e.Version.DeleterTxn != NoDeleter {
				return nil, false
			}
			return s.materialize(&e.Version), true
		}
	}
	return nil, false
}

// CurrentHead returns the chain head for rowID regardless of visibility —
// since only committed writes are ever pushed onto a chain (uncommitted
// work lives in each transaction's LocalStore until commit), the head is
// always the latest *committed* version. Used for commit-time conflict
// detection (§5) and index maintenance (§4.4 step 2), which need "what is
// committed right now", not "what is visible to some snapshot".
func (s *Store) CurrentHead(rowID int64) (*RowVersion, bool) {
	c := s.chainFor(rowID, false)
	if c == nil {
		return nil, false
	}
	e := c.Head()
	if e == nil || !e.Version.IsLive() {
		return nil, false
	}
	return &e.Version, true
}

func (s *Store) materialize(v *RowVersion) types.Row {
	if v.InlineRow != nil {
		return v.InlineRow
	}
	return s.arena.Read(v.ArenaIndex)
}

// CommittedWrite is one row's new head to install as part of an
// apply_committed batch (§4.3).
type CommittedWrite struct {
	RowID      int64
	CreatorTxn txn.ID
	DeleterTxn txn.ID // NoDeleter if this write is not itself a delete
	Row        types.Row
	CreateTime int64
}

// ApplyCommitted installs a batch of new chain heads atomically from the
// caller's point of view: each row's arena entry is allocated and CAS'd
// onto its chain, uncommitted_writes entries are cleared, and the zone
// maps are invalidated (§4.3, §4.6). The invalidateZones callback lets the
// table facade (which owns the zone maps) be notified without this
// package importing pkg/zonemap.
func (s *Store) ApplyCommitted(writes []CommittedWrite, invalidateZones func()) {
	for _, w := range writes {
		arenaIdx := int64(-1)
		if w.DeleterTxn == NoDeleter { // only live (non-tombstone) rows need arena payload
			arenaIdx = s.arena.Insert(w.Row, w.RowID, int64(w.CreatorTxn), w.CreateTime)
		}
		entry := &VersionChainEntry{Version: RowVersion{
			RowID:      w.RowID,
			CreatorTxn: w.CreatorTxn,
			DeleterTxn: w.DeleterTxn,
			CreateTime: w.CreateTime,
			ArenaIndex: arenaIdx,
			InlineRow:  w.Row,
		}}
		c := s.chainFor(w.RowID, true)
		c.Push(entry)
		s.ReleaseClaim(w.RowID)
		if w.DeleterTxn == NoDeleter && entry.Prev == nil {
			s.rowCount.Add(1)
		} else if w.DeleterTxn != NoDeleter {
			s.rowCount.Add(-1)
		}
	}
	if invalidateZones != nil {
		invalidateZones()
	}
}

// ScanRow is one row produced by a full-table scan.
type ScanRow struct {
	RowID int64
	Row   types.Row
}

// FullScan acquires the arena's read guard exactly once (§4.1 guarantee)
// and yields every chain head visible to viewer, via the supplied sink.
// The sink returning false stops the scan early (LIMIT propagation, §9's
// "dropping the producer" early-termination contract); scannedRows
// reports how many chain heads were actually inspected, for callers that
// assert a scan-termination bound (S4 in §8).
func (s *Store) FullScan(viewer txn.ID, viewerBegin txn.Seq, sink func(ScanRow) bool) (scannedRows int) {
	guards := s.arena.ReadGuards()
	defer guards.Release()

	s.chainsMu.RLock()
	heads := make([]*Chain, 0, len(s.chains))
	rowIDs := make([]int64, 0, len(s.chains))
	for id, c := range s.chains {
		heads = append(heads, c)
		rowIDs = append(rowIDs, id)
	}
	s.chainsMu.RUnlock()

	for i, c := range heads {
		scannedRows++
		e := c.Head()
		if e == nil {
			continue
		}
		if !IsVisible(&e.Version, s.registry, viewer, viewerBegin) {
			continue
		}
		var row types.Row
		if e.Version.InlineRow != nil {
			row = e.Version.InlineRow
		} else {
			row = guards.Read(e.Version.ArenaIndex)
		}
		if !sink(ScanRow{RowID: rowIDs[i], Row: row}) {
			return scannedRows
		}
	}
	return scannedRows
}

// SortedRowIDs returns the set of row ids with any chain entry, sorted —
// used where callers depend on row_id ordering (§4.3 notes this is
// "required only where callers depend on it").
func (s *Store) SortedRowIDs() []int64 {
	s.chainsMu.RLock()
	defer s.chainsMu.RUnlock()
	ids := make([]int64, 0, len(s.chains))
	for id := range s.chains {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CountLive implements §4.3's count_live: iterate chain heads and count
// visible, non-deleted ones. COUNT(*) with no predicate calls this
// directly (§4.10 strategy 3, §8 property 6).
func (s *Store) CountLive(viewer txn.ID, viewerBegin txn.Seq) int64 {
	s.chainsMu.RLock()
	chains := make([]*Chain, 0, len(s.chains))
	for _, c := range s.chains {
		chains = append(chains, c)
	}
	s.chainsMu.RUnlock()

	var n int64
	for _, c := range chains {
		e := c.Head()
		if e == nil {
			continue
		}
		if IsVisible(&e.Version, s.registry, viewer, viewerBegin) {
			n++
		}
	}
	return n
}

// ApproxRowCount returns the cached row_count statistic (§3 invariant 5):
// ApplyCommitted adjusts it per committed write, and nothing (ANALYZE
// included) recounts it from the chains.
func (s *Store) ApproxRowCount() int64 {
	return s.rowCount.Load()
}

// Arena exposes the underlying arena so the table facade's index
// maintenance can read prior row versions.
func (s *Store) Arena() *Arena { return s.arena }
