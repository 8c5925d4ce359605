package storage

import (
	"sync"

	"github.com/nexusdb/nexusdb/pkg/types"
)

// arenaMeta records where one row's values live in the contiguous Data
// slice: Data[Start:End] reconstructs the row (§3: "metadata: [(row_id,
// start, end, creator_txn, create_time)]").
type arenaMeta struct {
	RowID      int64
	Start      int
	End        int
	CreatorTxn int64
	CreateTime int64
}

// Arena is contiguous, append-only storage for committed row payloads
// (§4.1). A full scan acquires its read lock once (O(1) locks, not
// O(N)) and performs zero per-row Value-slice allocations; Read returns a
// slice into the shared backing array.
type Arena struct {
	mu   sync.RWMutex
	meta []arenaMeta
	data []types.Value
}

func NewArena() *Arena {
	return &Arena{}
}

// Insert appends a row's values and returns its arena index (the position
// in meta), per §4.1's insert contract.
func (a *Arena) Insert(row types.Row, rowID int64, creator int64, createTimeUS int64) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	start := len(a.data)
	a.data = append(a.data, row...)
	end := len(a.data)
	idx := int64(len(a.meta))
	a.meta = append(a.meta, arenaMeta{RowID: rowID, Start: start, End: end, CreatorTxn: creator, CreateTime: createTimeUS})
	return idx
}

// Read returns a borrowed slice for one arena index. Callers must hold
// (or have already acquired) a scan-scoped read guard via ReadGuards when
// reading many rows in one scan, to satisfy the O(1)-total-locks
// guarantee; Read alone takes its own short-lived lock, suitable for
// point lookups.
func (a *Arena) Read(idx int64) types.Row {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.readLocked(idx)
}

func (a *Arena) readLocked(idx int64) types.Row {
	if idx < 0 || int(idx) >= len(a.meta) {
		return nil
	}
	m := a.meta[idx]
	return types.Row(a.data[m.Start:m.End])
}

// Guards is the acquire-once-per-scan read guard pair described in §4.1.
type Guards struct {
	arena *Arena
}

// ReadGuards acquires the arena's read lock for the duration of a full
// scan; callers must call Release when the scan completes (or on any
// early-exit path, including via defer) to satisfy the scoped-resource-
// acquisition requirement of §9.
func (a *Arena) ReadGuards() *Guards {
	a.mu.RLock()
	return &Guards{arena: a}
}

func (g *Guards) Read(idx int64) types.Row {
	return g.arena.readLocked(idx)
}

func (g *Guards) Release() {
	g.arena.mu.RUnlock()
}

// Len returns the number of committed row versions stored in the arena
// (not the number of live rows — that is count_live in Store).
func (a *Arena) Len() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return int64(len(a.meta))
}
