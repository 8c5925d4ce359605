package exec

import (
	"context"

	"github.com/nexusdb/nexusdb/pkg/ast"
	"github.com/nexusdb/nexusdb/pkg/dberr"
	"github.com/nexusdb/nexusdb/pkg/types"
)

// executeSetOps implements §4.10's UNION/INTERSECT/EXCEPT: the left-hand
// statement runs through the normal dispatch (stripped of its own set
// operations to avoid infinite recursion), each right-hand branch
// likewise, then combines left-to-right in the order the parser recorded
// them. UNION ALL skips the dedup pass entirely (the documented fast
// path); UNION/INTERSECT/EXCEPT all require matching column counts.
func (eng *Engine) executeSetOps(ctx context.Context, qs *QueryState, stmt *ast.SelectStatement) (*RowSet, error) {
	leftOnly := *stmt
	leftOnly.SetOps = nil
	leftOnly.OrderBy = nil
	leftOnly.Limit = nil
	leftOnly.Offset = nil
	acc, err := eng.executeSelect(ctx, qs, &leftOnly, nil, nil)
	if err != nil {
		return nil, err
	}

	for _, op := range stmt.SetOps {
		right, err := eng.executeSelect(ctx, qs, op.Right, nil, nil)
		if err != nil {
			return nil, err
		}
		if len(acc.Columns) != len(right.Columns) {
			return nil, dberr.New(dberr.KindSemantic, "set operation operands have differing column counts (%d vs %d)", len(acc.Columns), len(right.Columns))
		}
		acc, err = combineSetOp(op.Kind, acc, right)
		if err != nil {
			return nil, err
		}
	}

	if len(stmt.OrderBy) > 0 {
		if err := orderBy(eng, qs, acc, stmt.OrderBy, stmt.Limit, stmt.Offset); err != nil {
			return nil, err
		}
	}
	applyLimitOffset(acc, stmt.Limit, stmt.Offset)
	return acc, nil
}

func combineSetOp(kind ast.SetOpKind, left, right *RowSet) (*RowSet, error) {
	switch kind {
	case ast.SetOpUnionAll:
		return &RowSet{Columns: left.Columns, Rows: append(append([]types.Row(nil), left.Rows...), right.Rows...)}, nil
	case ast.SetOpUnion:
		combined := &RowSet{Columns: left.Columns, Rows: append(append([]types.Row(nil), left.Rows...), right.Rows...)}
		return distinctRows(combined), nil
	case ast.SetOpIntersect:
		rset := make(map[string]struct{}, len(right.Rows))
		for _, r := range right.Rows {
			rset[rowDistinctKey(r)] = struct{}{}
		}
		seen := make(map[string]struct{}, len(left.Rows))
		var out []types.Row
		for _, r := range left.Rows {
			k := rowDistinctKey(r)
			if _, ok := rset[k]; !ok {
				continue
			}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, r)
		}
		return &RowSet{Columns: left.Columns, Rows: out}, nil
	case ast.SetOpExcept:
		rset := make(map[string]struct{}, len(right.Rows))
		for _, r := range right.Rows {
			rset[rowDistinctKey(r)] = struct{}{}
		}
		seen := make(map[string]struct{}, len(left.Rows))
		var out []types.Row
		for _, r := range left.Rows {
			k := rowDistinctKey(r)
			if _, ok := rset[k]; ok {
				continue
			}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, r)
		}
		return &RowSet{Columns: left.Columns, Rows: out}, nil
	default:
		return nil, dberr.New(dberr.KindInternal, "unknown set operation kind %d", kind)
	}
}
