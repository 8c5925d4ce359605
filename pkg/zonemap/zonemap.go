// Package zonemap implements the per-column, per-segment min/max/null-count
// summaries of §4.6. ANALYZE rebuilds them and every commit marks them
// stale; the query executor does not consult them, so no segment or scan
// is eliminated through them.
package zonemap

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/nexusdb/nexusdb/pkg/types"
)

// SegmentSize is the number of rows summarized by one zone-map segment.
// Smaller segments prune more precisely at the cost of more segments to
// check; 1024 matches the teacher's batch/chunk sizing convention
// elsewhere in its storage layer.
const SegmentSize = 1024

// Segment is one {min, max, null_count} summary over SegmentSize rows.
type Segment struct {
	Min       types.Value
	Max       types.Value
	NullCount int64
	RowCount  int64
	hasValue  bool
}

func (s *Segment) observe(v types.Value) {
	s.RowCount++
	if v.Kind() == types.KindNull {
		s.NullCount++
		return
	}
	if !s.hasValue {
		s.Min, s.Max = v, v
		s.hasValue = true
		return
	}
	if types.Compare(v, s.Min) < 0 {
		s.Min = v
	}
	if types.Compare(v, s.Max) > 0 {
		s.Max = v
	}
}

// ColumnMap holds every segment for one column.
type ColumnMap struct {
	Column   string
	Segments []Segment
}

// TableZoneMap is one table's full set of column zone maps, plus the
// staleness flag of §4.6: any commit affecting the table sets stale, and
// only an explicit ANALYZE clears it and rebuilds the segments.
type TableZoneMap struct {
	mu      sync.RWMutex
	columns map[string]*ColumnMap
	stale   atomic.Bool
}

func NewTableZoneMap() *TableZoneMap {
	z := &TableZoneMap{columns: make(map[string]*ColumnMap)}
	z.stale.Store(true) // no segments built yet
	return z
}

// Invalidate marks the zone map stale; called from the version store's
// apply_committed path (§4.3) after every commit touching this table.
func (z *TableZoneMap) Invalidate() {
	z.stale.Store(true)
}

func (z *TableZoneMap) IsStale() bool {
	return z.stale.Load()
}

// Rebuild recomputes every column's segments from a full column-major
// snapshot of the table's current live rows, implementing §4.6's
// "rebuilt by an explicit ANALYZE operation". columnValues maps column
// name to the ordered slice of values across all live rows (row order
// must match across columns so that row i's values line up).
func (z *TableZoneMap) Rebuild(columnValues map[string][]types.Value) {
	z.mu.Lock()
	defer z.mu.Unlock()
	cols := make(map[string]*ColumnMap, len(columnValues))
	for name, values := range columnValues {
		cm := &ColumnMap{Column: name}
		for i := 0; i < len(values); i += SegmentSize {
			end := i + SegmentSize
			if end > len(values) {
				end = len(values)
			}
			var seg Segment
			for _, v := range values[i:end] {
				seg.observe(v)
			}
			cm.Segments = append(cm.Segments, seg)
		}
		cols[name] = cm
	}
	z.columns = cols
	z.stale.Store(false)
}

// CanEliminateAll reports whether every segment of column can be proven to
// contain no row satisfying the predicate pred (called once per segment
// with that segment's min/max/null_count). Returns false (cannot prune)
// whenever the map is stale — callers must check IsStale first and skip
// pruning entirely in that case, per §4.6.
func (z *TableZoneMap) CanEliminateAll(column string, pred func(min, max types.Value, nullCount, rowCount int64) bool) bool {
	if z.stale.Load() {
		return false
	}
	z.mu.RLock()
	defer z.mu.RUnlock()
	cm, ok := z.columns[column]
	if !ok || len(cm.Segments) == 0 {
		return false
	}
	for _, seg := range cm.Segments {
		if seg.RowCount == seg.NullCount {
			continue // an all-null segment never contributes a non-null match
		}
		if !pred(seg.Min, seg.Max, seg.NullCount, seg.RowCount) {
			return false
		}
	}
	return true
}

// EqualityRangeExcludes builds the common "value < min or value > max"
// elimination predicate for an equality comparison, per §4.6's "computes
// whether a predicate can eliminate all segments".
func EqualityRangeExcludes(target types.Value) func(min, max types.Value, nullCount, rowCount int64) bool {
	return func(min, max types.Value, _, _ int64) bool {
		return types.Compare(target, min) < 0 || types.Compare(target, max) > 0
	}
}
