// Package wal implements the write-ahead log of §4.14: the on-disk entry
// format, the fixed operation-code set, the three durability modes, and
// the LSN counter every appended entry draws from. pkg/snapshot builds on
// the same row codec for its per-table payloads; pkg/engine owns the
// actual open-file lifecycle and drives Writer/Replay at commit and at
// startup respectively.
package wal

import (
	"go.uber.org/atomic"

	"github.com/nexusdb/nexusdb/pkg/txn"
)

// Op is one of §4.14's twelve WAL operation codes.
type Op uint8

const (
	OpCreateTable Op = 1
	OpDropTable   Op = 2
	OpInsert      Op = 3
	OpUpdate      Op = 4
	OpDelete      Op = 5
	OpCommit      Op = 6
	OpRollback    Op = 7
	OpAlterTable  Op = 8
	OpCreateIndex Op = 9
	OpDropIndex   Op = 10
	OpCreateView  Op = 11
	OpDropView    Op = 12
)

func (o Op) String() string {
	switch o {
	case OpCreateTable:
		return "CreateTable"
	case OpDropTable:
		return "DropTable"
	case OpInsert:
		return "Insert"
	case OpUpdate:
		return "Update"
	case OpDelete:
		return "Delete"
	case OpCommit:
		return "Commit"
	case OpRollback:
		return "Rollback"
	case OpAlterTable:
		return "AlterTable"
	case OpCreateIndex:
		return "CreateIndex"
	case OpDropIndex:
		return "DropIndex"
	case OpCreateView:
		return "CreateView"
	case OpDropView:
		return "DropView"
	default:
		return "Unknown"
	}
}

// Durability names §4.14's three fsync policies.
type Durability uint8

const (
	// DurabilityNone never fsyncs; fastest, loses the tail on crash.
	DurabilityNone Durability = iota
	// DurabilityNormal fsyncs the WAL file at every commit.
	DurabilityNormal
	// DurabilityFull fsyncs the WAL file and its parent directory at
	// every commit, surviving a crash that loses the directory entry
	// itself (relevant the first time a brand new WAL segment is created).
	DurabilityFull
)

func ParseDurability(s string) (Durability, bool) {
	switch s {
	case "none":
		return DurabilityNone, true
	case "normal", "":
		return DurabilityNormal, true
	case "full":
		return DurabilityFull, true
	default:
		return 0, false
	}
}

// LSN is the monotonically increasing log sequence number stamped on
// every appended entry (§4.14's 8-byte entry header field).
type LSN int64

// Counter hands out LSNs; go.uber.org/atomic backs it the same way
// pkg/txn's Registry backs its transaction/sequence counters.
type Counter struct {
	next atomic.Int64
}

// NewCounter starts numbering LSNs from start+1 (e.g. a replayed log's
// highest observed LSN), matching recovery's "resume after the last
// durable record" requirement.
func NewCounter(start LSN) *Counter {
	c := &Counter{}
	c.next.Store(int64(start) + 1)
	return c
}

func (c *Counter) Next() LSN { return LSN(c.next.Add(1) - 1) }

// Peek returns the LSN the next Next() call will hand out, without
// consuming it.
func (c *Counter) Peek() LSN { return LSN(c.next.Load()) }

// Entry is one logical WAL record (§4.14's entry body, the part the CRC
// covers along with the LSN/size header): a transaction's mutation of one
// table, or a lifecycle marker (Commit/Rollback carry no table/op_data).
type Entry struct {
	LSN       LSN
	TxnID     txn.ID
	RowID     int64
	TimeUS    int64
	TableName string
	Op        Op
	OpData    []byte
}
