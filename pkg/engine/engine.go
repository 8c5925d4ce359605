// Package engine implements §6.5's public database facade: open/close,
// transaction lifecycle, statement dispatch, periodic snapshots, and
// EXPLAIN rendering, wired on top of pkg/exec (SELECT), pkg/table/pkg/txn
// (DML), pkg/catalog (DDL), and pkg/wal/pkg/snapshot (durability).
package engine

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nexusdb/nexusdb/pkg/catalog"
	"github.com/nexusdb/nexusdb/pkg/dberr"
	"github.com/nexusdb/nexusdb/pkg/dsn"
	"github.com/nexusdb/nexusdb/pkg/exec"
	"github.com/nexusdb/nexusdb/pkg/functions"
	"github.com/nexusdb/nexusdb/pkg/snapshot"
	"github.com/nexusdb/nexusdb/pkg/storage"
	"github.com/nexusdb/nexusdb/pkg/table"
	"github.com/nexusdb/nexusdb/pkg/txn"
	"github.com/nexusdb/nexusdb/pkg/wal"
)

// Database is one open nexusdb instance: the shared catalog/table set
// exec.Engine reads, the transaction registry, and (for a file:// DSN)
// the WAL writer, process lock, and snapshot scheduler that give it
// durability across restarts (§4.14).
type Database struct {
	mu sync.RWMutex

	cfg dsn.Config
	dir string // "" for memory://

	Engine   *exec.Engine
	Catalog  *catalog.Catalog
	Tables   map[string]*table.Table
	Registry *txn.Registry

	wal     *wal.Writer
	walPath string
	lock    *snapshot.ProcessLock

	scheduler *scheduler
	logger    *zap.Logger

	ddlTxnSeq int64
}

// Open resolves dsnString (§6.3) and opens the corresponding database,
// running §4.14's two-phase recovery first if a file:// database already
// has a WAL and/or snapshots on disk.
func Open(dsnString string) (*Database, error) {
	cfg, err := dsn.Parse(dsnString)
	if err != nil {
		return nil, err
	}
	if cfg.InMemory {
		return newDatabase(cfg, ""), nil
	}
	return openFile(cfg)
}

// OpenInMemory is the §6.5 open_in_memory() convenience constructor: a
// non-durable database with no backing directory, WAL, or lock.
func OpenInMemory() (*Database, error) {
	return newDatabase(dsn.Config{InMemory: true}, ""), nil
}

func newDatabase(cfg dsn.Config, dir string) *Database {
	cat := catalog.New()
	tables := make(map[string]*table.Table)
	registry := txn.NewRegistry()
	fns := functions.NewDefaultRegistry()
	logger := zap.NewNop()

	db := &Database{
		cfg:      cfg,
		dir:      dir,
		Catalog:  cat,
		Tables:   tables,
		Registry: registry,
		logger:   logger,
	}
	db.Engine = exec.NewEngine(cat, tables, fns, registry, logger)
	return db
}

func openFile(cfg dsn.Config) (*Database, error) {
	dir := cfg.Path
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, dberr.Wrap(dberr.KindResource, err, "creating database directory %q", dir)
	}

	lock, err := snapshot.AcquireLock(dir)
	if err != nil {
		return nil, err
	}

	db := newDatabase(cfg, dir)
	db.lock = lock
	db.walPath = filepath.Join(dir, "wal.log")

	result, err := snapshot.Recover(dir, db.walPath, db.Catalog, db.Registry)
	if err != nil {
		lock.Release()
		return nil, err
	}
	for name, t := range result.Tables {
		db.Tables[name] = t
	}

	w, err := wal.Open(db.walPath, wal.Options{
		Durability:           cfg.Durability,
		Compress:             cfg.WALCompression,
		CompressionThreshold: cfg.CompressionThreshold,
	}, result.NextLSN-1)
	if err != nil {
		lock.Release()
		return nil, err
	}
	db.wal = w

	db.scheduler = newScheduler(db, cfg)
	db.scheduler.Start()

	return db, nil
}

// Close flushes and closes the WAL, stops the snapshot scheduler, and
// releases the process lock. In-memory databases simply discard state.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.scheduler != nil {
		db.scheduler.Stop()
	}
	var err error
	if db.wal != nil {
		err = dberr.Combine(err, db.wal.Close())
	}
	if db.lock != nil {
		err = dberr.Combine(err, db.lock.Release())
	}
	return err
}

// TableExists implements §6.5's table_exists(name).
func (db *Database) TableExists(name string) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.Catalog.TableExists(name)
}

// CreateSnapshot implements §6.5's create_snapshot(): writes a fresh
// metadata file plus a per-table snapshot file for every table, each
// consistent as of the WAL's current LSN. In-memory databases have
// nothing to persist.
func (db *Database) CreateSnapshot() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.createSnapshotLocked()
}

func (db *Database) createSnapshotLocked() error {
	if db.dir == "" {
		return nil
	}
	sourceLSN := db.currentLSN()
	for name, t := range db.Tables {
		rows := make([]snapshot.TableRow, 0, int(t.Store.ApproxRowCount()))
		t.Store.FullScan(txn.RecoveryTxnID, txn.Seq(1<<62), func(sr storage.ScanRow) bool {
			rows = append(rows, snapshot.TableRow{RowID: sr.RowID, Row: sr.Row})
			return true
		})
		if err := snapshot.WriteTableSnapshot(db.dir, name, t.Schema, rows, sourceLSN, db.cfg.SnapshotCompression, db.cfg.CompressionThreshold); err != nil {
			return err
		}
	}
	return snapshot.WriteMetadata(db.dir, snapshot.Metadata{LSN: sourceLSN, TimestampMS: time.Now().UnixMilli()})
}

func (db *Database) currentLSN() wal.LSN {
	if db.wal == nil {
		return 0
	}
	return db.wal.LastLSN()
}

// nextDDLTxnID allocates a dedicated, immediately-committed transaction
// id for a single DDL statement (§4.14 treats DDL as auto-committing:
// there is no multi-statement DDL transaction in this engine).
func (db *Database) nextDDLTxnID() txn.ID {
	id, _ := db.Registry.Allocate()
	return id
}
