package snapshot

import (
	"os"
	"strings"

	"github.com/nexusdb/nexusdb/pkg/catalog"
	"github.com/nexusdb/nexusdb/pkg/dberr"
	"github.com/nexusdb/nexusdb/pkg/storage"
	"github.com/nexusdb/nexusdb/pkg/table"
	"github.com/nexusdb/nexusdb/pkg/txn"
	"github.com/nexusdb/nexusdb/pkg/wal"
)

// Result is what a successful recovery hands back to the engine: the
// reconstructed tables and the LSN the WAL append counter should resume
// from.
type Result struct {
	Tables  map[string]*table.Table
	NextLSN wal.LSN
}

// Recover implements §4.14's two-phase crash recovery.
//
// Phase 0 loads every table's newest snapshot, if any, and sets
// start_lsn to the minimum of their source LSNs (0 if there are no
// snapshots yet, meaning the WAL alone holds the whole history).
//
// Phase 1 sweeps the WAL once end to end, recording which transaction
// ids actually reached a Commit record; a later Rollback for the same
// id (which cannot happen under this engine's single-writer-per-txn
// model, but costs nothing to handle) un-marks it.
//
// Phase 2 re-sweeps the WAL, applying only entries whose LSN is past
// start_lsn and whose txn_id was marked committed in phase 1. Data ops
// for uncommitted or aborted transactions are skipped entirely, so a
// torn-off final transaction never becomes visible (§8 scenario S3).
//
// Index population is deferred until every row from both the snapshot
// and the replayed WAL is in place, then done in one pass per table via
// Table.RebuildIndexes, matching §4.14's "one O(N+M) pass" requirement.
func Recover(dir, walPath string, cat *catalog.Catalog, registry *txn.Registry) (*Result, error) {
	tables := make(map[string]*table.Table)
	startLSN := wal.LSN(0)

	meta, hasMeta, err := ReadMetadata(dir)
	if err != nil {
		return nil, err
	}
	if hasMeta {
		startLSN = meta.LSN
	}

	if err := loadSnapshots(dir, cat, registry, tables); err != nil {
		return nil, err
	}

	committed := make(map[txn.ID]bool)
	if _, err := wal.Replay(walPath, func(e wal.Entry) error {
		switch e.Op {
		case wal.OpCommit:
			committed[e.TxnID] = true
		case wal.OpRollback:
			delete(committed, e.TxnID)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	lastLSN, err := wal.Replay(walPath, func(e wal.Entry) error {
		if e.LSN <= startLSN || e.Op == wal.OpCommit || e.Op == wal.OpRollback {
			return nil
		}
		if !committed[e.TxnID] {
			return nil
		}
		return applyRecoveredEntry(tables, cat, registry, e)
	})
	if err != nil {
		return nil, err
	}

	for _, t := range tables {
		if err := t.RebuildIndexes(); err != nil {
			return nil, err
		}
	}

	next := startLSN + 1
	if lastLSN+1 > next {
		next = lastLSN + 1
	}
	return &Result{Tables: tables, NextLSN: next}, nil
}

func loadSnapshots(dir string, cat *catalog.Catalog, registry *txn.Registry, tables map[string]*table.Table) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return dberr.Wrap(dberr.KindResource, err, "listing snapshot directory %q", dir)
	}
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".snap") {
			continue
		}
		tableName := strings.TrimSuffix(de.Name(), ".snap")
		loaded, ok, err := LoadTableSnapshot(dir, tableName)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		t := table.NewTable(loaded.Schema, registry)
		if err := cat.CreateTable(loaded.Schema); err != nil {
			return err
		}
		batch := make([]storage.CommittedWrite, 0, len(loaded.Rows))
		for _, r := range loaded.Rows {
			batch = append(batch, storage.CommittedWrite{
				RowID:      r.RowID,
				CreatorTxn: txn.RecoveryTxnID,
				DeleterTxn: storage.NoDeleter,
				Row:        r.Row,
			})
		}
		t.Store.ApplyCommitted(batch, t.ZoneMap.Invalidate)
		tables[loaded.Schema.TableName] = t
	}
	return nil
}

// applyRecoveredEntry replays one already-confirmed-committed WAL entry
// directly against the recovered table set, bypassing the normal
// txn.LocalStore/Handle staging protocol entirely: recovery has no live
// transaction, and every applied row is immediately and unconditionally
// visible, which is exactly what RecoveryTxnID means to
// txn.Registry.IsVisible.
//
// AlterTable/CreateIndex/DropIndex/CreateView/DropView entries are
// logged for audit continuity but are not replayed here, and the catalog
// keeps its definitions in memory only. Index and view definitions
// therefore do not survive a restart, and an ALTER TABLE survives only
// once a later snapshot has recorded the table's columns. A table
// created after the last snapshot is still recoverable, since
// OpCreateTable is replayed below.
func applyRecoveredEntry(tables map[string]*table.Table, cat *catalog.Catalog, registry *txn.Registry, e wal.Entry) error {
	switch e.Op {
	case wal.OpCreateTable:
		schema, err := DecodeSchema(e.OpData)
		if err != nil {
			return err
		}
		if _, exists := tables[schema.TableName]; exists {
			return nil
		}
		t := table.NewTable(schema, registry)
		if err := cat.CreateTable(schema); err != nil {
			return err
		}
		tables[schema.TableName] = t
	case wal.OpDropTable:
		delete(tables, e.TableName)
		_ = cat.DropTable(e.TableName)
	case wal.OpInsert, wal.OpUpdate:
		t, ok := tables[e.TableName]
		if !ok {
			return nil
		}
		row, err := wal.DecodeRow(e.OpData)
		if err != nil {
			return err
		}
		t.Store.ApplyCommitted([]storage.CommittedWrite{{
			RowID:      e.RowID,
			CreatorTxn: txn.RecoveryTxnID,
			DeleterTxn: storage.NoDeleter,
			Row:        row,
			CreateTime: e.TimeUS,
		}}, t.ZoneMap.Invalidate)
	case wal.OpDelete:
		t, ok := tables[e.TableName]
		if !ok {
			return nil
		}
		t.Store.ApplyCommitted([]storage.CommittedWrite{{
			RowID:      e.RowID,
			CreatorTxn: txn.RecoveryTxnID,
			DeleterTxn: txn.RecoveryTxnID,
			CreateTime: e.TimeUS,
		}}, t.ZoneMap.Invalidate)
	}
	return nil
}
