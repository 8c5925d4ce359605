// Package exec implements the query executor of §4.10: execute_select's
// preamble, source resolution, scan-strategy selection, predicate
// pushdown, join planning, and result pipeline, plus the specialized
// aggregation (§4.11), window (§4.12), and CTE/subquery (§4.13) engines
// it dispatches to.
package exec

import (
	"github.com/nexusdb/nexusdb/pkg/ast"
	"github.com/nexusdb/nexusdb/pkg/dberr"
	"github.com/nexusdb/nexusdb/pkg/types"
)

// ColumnBinding names one output column of a RowSet: the table/subquery
// alias it came from (for qualified lookups like `t.col`) plus its name.
type ColumnBinding struct {
	Table string
	Name  string
}

// RowSet is a materialized intermediate result: every stage of the
// executor (scan, join, project, aggregate, window) consumes and
// produces one. Materializing between stages trades some streaming
// throughput for a pipeline simple enough to reason about stage by
// stage, matching the teacher's own preference for explicit intermediate
// structures over a fused iterator chain.
type RowSet struct {
	Columns []ColumnBinding
	Rows    []types.Row
}

func (rs *RowSet) columnIndex(qualifier, name string) int {
	folded := types.Fold(name)
	best := -1
	for i, c := range rs.Columns {
		if types.Fold(c.Name) != folded {
			continue
		}
		if qualifier == "" {
			if best != -1 {
				// Ambiguous unqualified reference; the first match
				// wins, and no error is reported, so callers qualify
				// the column to reach a later one.
				continue
			}
			best = i
			continue
		}
		if types.Fold(c.Table) == types.Fold(qualifier) {
			return i
		}
	}
	return best
}

// ColumnIndexFunc adapts a RowSet into the callback shape pkg/expr's
// Compiler expects for resolving ast.Ident column references.
func (rs *RowSet) ColumnIndexFunc() func(ast.Ident) (int, bool, error) {
	return func(id ast.Ident) (int, bool, error) {
		idx := rs.columnIndex(id.Qualifier, id.Name)
		if idx < 0 {
			return 0, false, dberr.New(dberr.KindSemantic, "unknown column %q", qualifiedName(id))
		}
		return idx, false, nil
	}
}

func qualifiedName(id ast.Ident) string {
	if id.Qualifier == "" {
		return id.Name
	}
	return id.Qualifier + "." + id.Name
}

// clone returns a RowSet with an independently-appendable Rows slice but
// sharing column metadata and row contents (rows themselves are treated
// as immutable once produced, matching the storage layer's convention).
func (rs *RowSet) clone() *RowSet {
	out := &RowSet{Columns: rs.Columns, Rows: make([]types.Row, len(rs.Rows))}
	copy(out.Rows, rs.Rows)
	return out
}
