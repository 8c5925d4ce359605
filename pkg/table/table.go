// Package table implements the transaction-aware table facade of §4.9:
// the per-transaction, per-table handle combining the version store, the
// transaction-local store, and the index subsystem.
package table

import (
	"time"

	"github.com/nexusdb/nexusdb/pkg/dberr"
	"github.com/nexusdb/nexusdb/pkg/index"
	"github.com/nexusdb/nexusdb/pkg/storage"
	"github.com/nexusdb/nexusdb/pkg/txn"
	"github.com/nexusdb/nexusdb/pkg/types"
	"github.com/nexusdb/nexusdb/pkg/zonemap"
)

// Table wires one table's Store, Schema, ZoneMap, and named indexes
// together; it is shared process-wide (unlike Handle, which is
// per-transaction).
type Table struct {
	Schema  *types.Schema
	Store   *storage.Store
	ZoneMap *zonemap.TableZoneMap
	Indexes map[string]index.Index // keyed by index name
	// IndexColumns records which column(s) each index covers, for the
	// executor's index-selection logic (§4.10) and commit-time uniqueness
	// checks (§4.4 step 1).
	IndexColumns map[string][]string
}

// IndexForColumns returns a named index covering exactly cols (in that
// column order), for the executor's scan-strategy selection (§4.10) and
// ANY/IN probes. A composite index matches only when its whole column
// list equals cols; no leftmost-prefix match is made here.
func (t *Table) IndexForColumns(cols []string) (index.Index, bool) {
	for name, covered := range t.IndexColumns {
		if len(covered) != len(cols) {
			continue
		}
		match := true
		for i := range cols {
			if types.Fold(covered[i]) != types.Fold(cols[i]) {
				match = false
				break
			}
		}
		if match {
			return t.Indexes[name], true
		}
	}
	return nil, false
}

// IndexForColumn is the common single-column case of IndexForColumns,
// also matching a composite index's leftmost column.
func (t *Table) IndexForColumn(col string) (index.Index, bool) {
	if idx, ok := t.IndexForColumns([]string{col}); ok {
		return idx, true
	}
	for name, covered := range t.IndexColumns {
		if len(covered) > 0 && types.Fold(covered[0]) == types.Fold(col) {
			return t.Indexes[name], true
		}
	}
	return nil, false
}

func NewTable(schema *types.Schema, registry *txn.Registry) *Table {
	return &Table{
		Schema:       schema,
		Store:        storage.NewStore(schema.TableName, registry),
		ZoneMap:      zonemap.NewTableZoneMap(),
		Indexes:      make(map[string]index.Index),
		IndexColumns: make(map[string][]string),
	}
}

// Handle is a per-transaction handle on one Table (§4.9): it binds a
// Table to a LocalStore and exposes get/scan/insert/update/delete plus
// commit/rollback for exactly this table. A transaction that touches N
// tables holds N handles.
type Handle struct {
	table *Table
	local *txn.LocalStore
}

func NewHandle(t *Table, local *txn.LocalStore) *Handle {
	return &Handle{table: t, local: local}
}

// Get implements get(row_id) -> Option<Row> (§4.9): local uncommitted
// writes take priority (read-your-own-writes), then the global version
// store filtered by visibility, with row normalization for schema drift.
func (h *Handle) Get(rowID int64) (types.Row, bool) {
	if w, ok := h.local.LocalWrite(h.table.Schema.TableName, rowID); ok {
		if w.Deleted {
			return nil, false
		}
		return types.Normalize(w.Row, h.table.Schema), true
	}
	version, ok := h.table.Store.ReadVisibleVersion(rowID, h.local.TxnID, h.local.Begin)
	if !ok {
		h.local.RecordRead(h.table.Schema.TableName, rowID, false, 0, h.local.Begin)
		return nil, false
	}
	h.local.RecordRead(h.table.Schema.TableName, rowID, true, version.CreatorTxn, h.local.Begin)
	row, ok := h.table.Store.ReadVisible(rowID, h.local.TxnID, h.local.Begin)
	if !ok {
		return nil, false
	}
	return types.Normalize(row, h.table.Schema), true
}

// ScanRow is one row produced by Scan, paired with its row id for
// subsequent Update/Delete calls.
type ScanRow struct {
	RowID int64
	Row   types.Row
}

// Scan implements scan(projection, filter?, limit?) -> row stream (§4.9).
// Projection and filtering are the executor's job (pkg/exec compiles and
// applies them); Scan itself only yields every row visible to this
// transaction, folding in local uncommitted writes on top of the
// committed view, and normalizes each row to the current schema. The
// returned count is how many chain heads the underlying version store
// actually inspected, for callers asserting the §8 S4 scan-termination
// bound.
func (h *Handle) Scan(sink func(ScanRow) bool) int {
	localWrites := h.local.WritesForTable(h.table.Schema.TableName)
	overridden := make(map[int64]*struct {
		row     types.Row
		deleted bool
	}, len(localWrites))
	for _, w := range localWrites {
		overridden[w.RowID] = &struct {
			row     types.Row
			deleted bool
		}{row: w.Row, deleted: w.Deleted}
	}

	stop := false
	scanned := h.table.Store.FullScan(h.local.TxnID, h.local.Begin, func(sr storage.ScanRow) bool {
		if ov, ok := overridden[sr.RowID]; ok {
			delete(overridden, sr.RowID)
			if ov.deleted {
				return true
			}
			if !sink(ScanRow{RowID: sr.RowID, Row: types.Normalize(ov.row, h.table.Schema)}) {
				stop = true
				return false
			}
			return true
		}
		if !sink(ScanRow{RowID: sr.RowID, Row: types.Normalize(sr.Row, h.table.Schema)}) {
			stop = true
			return false
		}
		return true
	})
	if stop {
		return scanned
	}
	// Rows inserted locally this transaction have no committed chain yet.
	for rowID, ov := range overridden {
		if ov.deleted {
			continue
		}
		if !sink(ScanRow{RowID: rowID, Row: types.Normalize(ov.row, h.table.Schema)}) {
			return scanned
		}
	}
	return scanned
}

// Insert implements insert(row) -> row_id (§4.9): allocates a row id and
// stages the write locally; nothing is visible to other transactions
// until commit.
func (h *Handle) Insert(row types.Row) int64 {
	rowID := h.table.Store.AllocateRowID()
	h.local.StageWrite(h.table.Schema.TableName, rowID, types.Normalize(row, h.table.Schema))
	return rowID
}

// Update implements update(row_id, new_row) (§4.9): claims the row
// (detecting concurrent writers), records the prior version in the
// read-set for commit-time conflict detection, and stages the new row.
func (h *Handle) Update(rowID int64, newRow types.Row) error {
	if err := h.table.Store.TryClaim(rowID, h.local.TxnID); err != nil {
		return err
	}
	if version, ok := h.table.Store.ReadVisibleVersion(rowID, h.local.TxnID, h.local.Begin); ok {
		h.local.RecordRead(h.table.Schema.TableName, rowID, true, version.CreatorTxn, h.local.Begin)
	} else {
		h.local.RecordRead(h.table.Schema.TableName, rowID, false, 0, h.local.Begin)
	}
	h.local.StageWrite(h.table.Schema.TableName, rowID, types.Normalize(newRow, h.table.Schema))
	return nil
}

// Delete implements delete(row_id) (§4.9).
func (h *Handle) Delete(rowID int64) error {
	if err := h.table.Store.TryClaim(rowID, h.local.TxnID); err != nil {
		return err
	}
	if version, ok := h.table.Store.ReadVisibleVersion(rowID, h.local.TxnID, h.local.Begin); ok {
		h.local.RecordRead(h.table.Schema.TableName, rowID, true, version.CreatorTxn, h.local.Begin)
	} else {
		h.local.RecordRead(h.table.Schema.TableName, rowID, false, 0, h.local.Begin)
	}
	h.local.StageDelete(h.table.Schema.TableName, rowID)
	return nil
}

// ValidateReadSet implements the §5 optimistic conflict check for this
// table's portion of the transaction's read-set: for each row read,
// compare the creator observed at read time against the row's current
// committed head's creator. A different creator than observed means a
// newer version committed since the read, triggering SerializationFailure.
func (h *Handle) ValidateReadSet() error {
	for _, entry := range h.local.ReadsForTable(h.table.Schema.TableName) {
		version, ok := h.table.Store.CurrentHead(entry.RowID)
		currentlyPresent := ok
		if entry.Present != currentlyPresent {
			return dberr.Conflict(h.table.Schema.TableName, entry.RowID, dberr.KindSerializationFailure,
				"row presence changed since read")
		}
		if currentlyPresent && version.CreatorTxn != entry.CreatorTxn {
			return dberr.Conflict(h.table.Schema.TableName, entry.RowID, dberr.KindSerializationFailure,
				"row modified by a concurrently committed transaction")
		}
	}
	return nil
}

// ApplyWrites converts this transaction's staged writes for this table
// into storage.CommittedWrite entries at the given commit sequence's
// creator id, maintains index entries, and applies them to the version
// store. Called by the transaction coordinator (pkg/engine) once every
// table's ValidateReadSet has passed.
func (h *Handle) ApplyWrites(commitTxnID txn.ID) error {
	writes := h.local.WritesForTable(h.table.Schema.TableName)
	if len(writes) == 0 {
		return nil
	}
	nowUS := time.Now().UnixMicro()
	batch := make([]storage.CommittedWrite, 0, len(writes))
	for _, w := range writes {
		deleter := storage.NoDeleter
		if w.Deleted {
			deleter = commitTxnID
		}
		batch = append(batch, storage.CommittedWrite{
			RowID:      w.RowID,
			CreatorTxn: commitTxnID,
			DeleterTxn: deleter,
			Row:        w.Row,
			CreateTime: nowUS,
		})
	}
	if err := h.updateIndexes(writes); err != nil {
		return err
	}
	h.table.Store.ApplyCommitted(batch, h.table.ZoneMap.Invalidate)
	return nil
}

func (h *Handle) updateIndexes(writes []*txn.PendingWrite) error {
	for name, idx := range h.table.Indexes {
		cols := h.table.IndexColumns[name]
		for _, w := range writes {
			// Remove the index entry for the row's prior committed value,
			// read from the store's current chain head.
			if prior, ok := h.table.Store.CurrentHead(w.RowID); ok {
				priorRow := prior.InlineRow
				if priorRow == nil {
					priorRow = h.table.Store.Arena().Read(prior.ArenaIndex)
				}
				idx.Remove(projectColumns(priorRow, h.table.Schema, cols), w.RowID)
			}
			if !w.Deleted {
				if err := idx.Add(projectColumns(w.Row, h.table.Schema, cols), w.RowID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func projectColumns(row types.Row, schema *types.Schema, cols []string) []types.Value {
	out := make([]types.Value, len(cols))
	for i, c := range cols {
		idx := schema.ColumnIndex(c)
		if idx >= 0 && idx < len(row) {
			out[i] = row[idx]
		} else {
			out[i] = types.Null
		}
	}
	return out
}

// RebuildIndexes implements §4.14's post-recovery index population: one
// full pass over every live row, adding it to every attached index,
// instead of the O(N*M) alternative of re-deriving each index
// independently. Recovery restores no index definitions (CreateIndex is
// not replayed and snapshots hold none), so on a freshly recovered table
// the index set is empty and this returns without scanning.
func (t *Table) RebuildIndexes() error {
	if len(t.Indexes) == 0 {
		return nil
	}
	var rebuildErr error
	t.Store.FullScan(txn.RecoveryTxnID, txn.Seq(1<<62), func(sr storage.ScanRow) bool {
		row := types.Normalize(sr.Row, t.Schema)
		for name, idx := range t.Indexes {
			cols := t.IndexColumns[name]
			if err := idx.Add(projectColumns(row, t.Schema, cols), sr.RowID); err != nil {
				rebuildErr = err
				return false
			}
		}
		return true
	})
	return rebuildErr
}

// AttachIndex registers idx under name as covering cols and, when
// populate is true, backfills it from every currently live row at once.
// populate=false leaves idx empty for a later RebuildIndexes; the
// engine's CreateIndex passes true, and recovery attaches no indexes.
func (t *Table) AttachIndex(name string, cols []string, idx index.Index, populate bool) error {
	t.Indexes[name] = idx
	t.IndexColumns[name] = cols
	if !populate {
		return nil
	}
	var buildErr error
	t.Store.FullScan(txn.RecoveryTxnID, txn.Seq(1<<62), func(sr storage.ScanRow) bool {
		row := types.Normalize(sr.Row, t.Schema)
		if err := idx.Add(projectColumns(row, t.Schema, cols), sr.RowID); err != nil {
			buildErr = err
			return false
		}
		return true
	})
	return buildErr
}

// DetachIndex removes a named index (DROP INDEX).
func (t *Table) DetachIndex(name string) {
	delete(t.Indexes, name)
	delete(t.IndexColumns, name)
}

// RowCount returns the live-row statistic (§3 invariant 5), approximate.
func (h *Handle) RowCount() int64 { return h.table.Store.ApproxRowCount() }

// CountLive implements the COUNT(*) fast path (§4.10 strategy 3).
func (h *Handle) CountLive() int64 {
	return h.table.Store.CountLive(h.local.TxnID, h.local.Begin)
}
