package engine

import (
	"time"

	"github.com/nexusdb/nexusdb/pkg/dberr"
	"github.com/nexusdb/nexusdb/pkg/table"
	"github.com/nexusdb/nexusdb/pkg/txn"
	"github.com/nexusdb/nexusdb/pkg/types"
	"github.com/nexusdb/nexusdb/pkg/wal"
)

// Transaction is §6.5's begin()/begin_with_isolation(level) handle: one
// snapshot-isolated unit of work spanning any number of tables, backed
// by a txn.LocalStore for staged writes and, for a durable database, a
// per-row WAL entry appended as each write is staged.
type Transaction struct {
	db      *Database
	id      txn.ID
	begin   txn.Seq
	local   *txn.LocalStore
	handles map[string]*table.Handle
	done    bool
}

// Begin starts a snapshot-isolation transaction (§4.2's default).
func (db *Database) Begin() (*Transaction, error) {
	return db.BeginWithIsolation(txn.SnapshotIsolation)
}

// BeginWithIsolation implements §6.5's begin_with_isolation(level). level
// is accepted but not used: every transaction runs under snapshot
// isolation with commit-time read-set validation, whatever level is given.
func (db *Database) BeginWithIsolation(level txn.IsolationLevel) (*Transaction, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	id, begin := db.Registry.Allocate()
	return &Transaction{
		db:      db,
		id:      id,
		begin:   begin,
		local:   txn.NewLocalStore(id, begin),
		handles: make(map[string]*table.Handle),
	}, nil
}

func (tx *Transaction) handleFor(tableName string) (*table.Handle, error) {
	key := types.Fold(tableName)
	if h, ok := tx.handles[key]; ok {
		return h, nil
	}
	t, ok := tx.db.Tables[key]
	if !ok {
		return nil, dberr.New(dberr.KindSemantic, "unknown table %q", tableName)
	}
	h := table.NewHandle(t, tx.local)
	tx.handles[key] = h
	return h, nil
}

// appendWAL logs one data op against the live WAL, a no-op for an
// in-memory database (§4.14 only durable databases carry a log).
func (tx *Transaction) appendWAL(op wal.Op, tableName string, rowID int64, row types.Row) error {
	if tx.db.wal == nil {
		return nil
	}
	var opData []byte
	if row != nil {
		opData = wal.EncodeRow(row)
	}
	_, err := tx.db.wal.Append(wal.Entry{
		TxnID:     tx.id,
		RowID:     rowID,
		TimeUS:    time.Now().UnixMicro(),
		TableName: tableName,
		Op:        op,
		OpData:    opData,
	})
	return err
}

// Commit validates every touched table's read-set (§5's optimistic
// conflict check), then, only if every table is clear, durably marks the
// transaction committed in the WAL and applies its writes to the live
// version stores. A conflict leaves the database untouched and returns a
// retry-eligible error (pkg/retry.IsRetryable).
func (tx *Transaction) Commit() error {
	if tx.done {
		return dberr.New(dberr.KindInternal, "transaction already finished")
	}
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	tx.done = true

	for _, h := range tx.handles {
		if err := h.ValidateReadSet(); err != nil {
			tx.db.Registry.MarkAborted(tx.id)
			tx.appendWAL(wal.OpRollback, "", 0, nil)
			return err
		}
	}

	if err := tx.appendWAL(wal.OpCommit, "", 0, nil); err != nil {
		tx.db.Registry.MarkAborted(tx.id)
		return err
	}
	tx.db.Registry.MarkCommitted(tx.id)

	touched := make(map[string]struct{}, len(tx.handles))
	for name, h := range tx.handles {
		if err := h.ApplyWrites(tx.id); err != nil {
			// Writes are already WAL-durable; a failure applying them to
			// memory here is an internal invariant violation, not a
			// recoverable conflict (ValidateReadSet already passed).
			return dberr.Wrap(dberr.KindInternal, err, "applying committed writes for table %q", name)
		}
		touched[name] = struct{}{}
	}
	for name := range touched {
		tx.db.Engine.Cache.Invalidate(name)
	}
	return nil
}

// Rollback discards every staged write without touching the live
// version stores (§4.9: staged writes never left LocalStore).
func (tx *Transaction) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.db.mu.RLock()
	defer tx.db.mu.RUnlock()
	tx.db.Registry.MarkAborted(tx.id)
	return tx.appendWAL(wal.OpRollback, "", 0, nil)
}

// Insert implements the insert half of §4.9's table operations at the
// engine's transaction boundary: stage the row locally and append its
// WAL entry (undone automatically if the transaction never commits).
func (tx *Transaction) Insert(tableName string, row types.Row) (int64, error) {
	h, err := tx.handleFor(tableName)
	if err != nil {
		return 0, err
	}
	rowID := h.Insert(row)
	if err := tx.appendWAL(wal.OpInsert, types.Fold(tableName), rowID, row); err != nil {
		return 0, err
	}
	return rowID, nil
}

func (tx *Transaction) Update(tableName string, rowID int64, newRow types.Row) error {
	h, err := tx.handleFor(tableName)
	if err != nil {
		return err
	}
	if err := h.Update(rowID, newRow); err != nil {
		return err
	}
	return tx.appendWAL(wal.OpUpdate, types.Fold(tableName), rowID, newRow)
}

func (tx *Transaction) Delete(tableName string, rowID int64) error {
	h, err := tx.handleFor(tableName)
	if err != nil {
		return err
	}
	if err := h.Delete(rowID); err != nil {
		return err
	}
	return tx.appendWAL(wal.OpDelete, types.Fold(tableName), rowID, nil)
}
