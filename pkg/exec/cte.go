package exec

import (
	"context"

	"github.com/nexusdb/nexusdb/pkg/ast"
	"github.com/nexusdb/nexusdb/pkg/dberr"
	"github.com/nexusdb/nexusdb/pkg/types"
)

// materializeCtes implements §4.13's CTE registry: each definition is
// materialized once (recursive ones via bounded fixed-point iteration)
// and registered into a derived QueryState by lowercased name, so every
// later reference in the same statement (including a later CTE
// referencing an earlier one) resolves against already-materialized
// rows rather than re-running the defining query.
func (eng *Engine) materializeCtes(ctx context.Context, qs *QueryState, with *ast.WithClause) (*QueryState, error) {
	for _, def := range with.Ctes {
		var rows *RowSet
		var err error
		if def.Recursive {
			rows, err = eng.materializeRecursiveCte(ctx, qs, def)
		} else {
			rows, err = eng.executeSelect(ctx, qs, def.Select, nil, nil)
		}
		if err != nil {
			return nil, err
		}
		rows = applyCteColumnAliases(rows, def.ColumnAliases)
		qs = qs.withCte(def.Name, rows)
	}
	return qs, nil
}

func applyCteColumnAliases(rows *RowSet, aliases []string) *RowSet {
	if len(aliases) == 0 {
		return rows
	}
	cols := make([]ColumnBinding, len(rows.Columns))
	copy(cols, rows.Columns)
	for i, a := range aliases {
		if i < len(cols) {
			cols[i].Name = a
		}
	}
	return &RowSet{Columns: cols, Rows: rows.Rows}
}

// materializeRecursiveCte implements the anchor/recursive-member
// fixed-point iteration: the anchor (first branch of the defining
// UNION/UNION ALL) seeds the working set, then the recursive member
// re-runs against only the *previous* iteration's working set (bound to
// the CTE's own name) until it contributes no new rows. An iteration that
// still adds rows when maxRecursiveCteIterations is reached makes the
// whole materialization fail with a KindResource error (§4.13).
func (eng *Engine) materializeRecursiveCte(ctx context.Context, qs *QueryState, def ast.CteDef) (*RowSet, error) {
	anchor := def.Select
	var recursiveOps []ast.SetOperation
	if len(anchor.SetOps) > 0 {
		recursiveOps = anchor.SetOps
		anchorOnly := *anchor
		anchorOnly.SetOps = nil
		anchor = &anchorOnly
	}

	result, err := eng.executeSelect(ctx, qs, anchor, nil, nil)
	if err != nil {
		return nil, err
	}
	if len(recursiveOps) == 0 {
		return result, nil
	}

	working := result
	all := &RowSet{Columns: result.Columns, Rows: append([]types.Row(nil), result.Rows...)}
	distinctOp := false
	for _, op := range recursiveOps {
		if op.Kind == ast.SetOpUnion {
			distinctOp = true
		}
	}

	for iter := 0; iter < maxRecursiveCteIterations; iter++ {
		if len(working.Rows) == 0 {
			break
		}
		iterState := qs.withCte(def.Name, working)
		var nextRows []types.Row
		for _, op := range recursiveOps {
			rs, err := eng.executeSelect(ctx, iterState, op.Right, nil, nil)
			if err != nil {
				return nil, err
			}
			nextRows = append(nextRows, rs.Rows...)
		}
		if len(nextRows) == 0 {
			break
		}

		if distinctOp {
			seen := make(map[string]struct{}, len(all.Rows))
			for _, r := range all.Rows {
				seen[rowDistinctKey(r)] = struct{}{}
			}
			var fresh []types.Row
			for _, r := range nextRows {
				k := rowDistinctKey(r)
				if _, ok := seen[k]; ok {
					continue
				}
				seen[k] = struct{}{}
				fresh = append(fresh, r)
			}
			nextRows = fresh
			if len(nextRows) == 0 {
				break
			}
		}

		all.Rows = append(all.Rows, nextRows...)
		working = &RowSet{Columns: all.Columns, Rows: nextRows}

		if iter == maxRecursiveCteIterations-1 {
			return nil, dberr.New(dberr.KindResource, "recursive CTE %q exceeded %d iterations", def.Name, maxRecursiveCteIterations)
		}
	}
	return all, nil
}
