package exec

import (
	"github.com/nexusdb/nexusdb/pkg/ast"
	"github.com/nexusdb/nexusdb/pkg/dberr"
	"github.com/nexusdb/nexusdb/pkg/expr"
	"github.com/nexusdb/nexusdb/pkg/types"
)

// compilerFor builds an expr.Compiler bound to rs (and, for join
// predicates, a second RowSet whose columns resolve via the VM's
// SecondRow slot). Outer-row correlation resolves against qs.OuterRS,
// the enclosing query's column bindings for this nested call (§4.13).
// eng and qs supply the function registry and subquery-compilation
// machinery.
func compilerFor(eng *Engine, qs *QueryState, rs, second *RowSet) *expr.Compiler {
	return &expr.Compiler{
		ColumnIndex: func(id ast.Ident) (int, bool, error) {
			if idx := rs.columnIndex(id.Qualifier, id.Name); idx >= 0 {
				return idx, false, nil
			}
			if second != nil {
				if idx := second.columnIndex(id.Qualifier, id.Name); idx >= 0 {
					return idx, true, nil
				}
			}
			return 0, false, dberr.New(dberr.KindSemantic, "unknown column %q", qualifiedName(id))
		},
		OuterIndex: func(id ast.Ident) (int, error) {
			if qs.OuterRS == nil {
				return 0, dberr.New(dberr.KindSemantic, "no outer row in scope for %q", qualifiedName(id))
			}
			idx := qs.OuterRS.columnIndex(id.Qualifier, id.Name)
			if idx < 0 {
				return 0, dberr.New(dberr.KindSemantic, "unknown outer column %q", qualifiedName(id))
			}
			return idx, nil
		},
		CompileSubquery: func(stmt *ast.SelectStatement, kind string) (*expr.Subquery, error) {
			return compileSubquery(eng, qs, stmt, kind, rs)
		},
	}
}

// evalContext builds a VM Context for evaluating row (optionally paired
// with a second row for join predicates) against bound parameters and
// qs's current outer-row binding, if any.
func evalContext(eng *Engine, qs *QueryState, row, second types.Row) *expr.Context {
	return &expr.Context{
		Row:        row,
		SecondRow:  second,
		Positional: qs.Positional,
		Named:      qs.Named,
		OuterRow:   qs.OuterRow,
		TxnID:      int64(qs.Local.TxnID),
		Call:       eng.Functions.Call,
	}
}

// compileAndFilter compiles predicate against rs (no join partner) and
// returns a function selecting the rows for which it evaluates truthy
// (§4.7: NULL/false both exclude, matching SQL WHERE).
func compileAndFilter(eng *Engine, qs *QueryState, rs *RowSet, predicate *ast.Expr) (func(types.Row) (bool, error), error) {
	if predicate == nil {
		return func(types.Row) (bool, error) { return true, nil }, nil
	}
	prog, err := expr.Compile(predicate, compilerFor(eng, qs, rs, nil))
	if err != nil {
		return nil, err
	}
	vm := expr.NewVM()
	return func(row types.Row) (bool, error) {
		v, err := vm.Eval(prog, evalContext(eng, qs, row, nil))
		if err != nil {
			return false, err
		}
		return !v.IsNull() && v.Bool(), nil
	}, nil
}

// applyResidualFilter filters rs in place against predicate (the
// non-pushable residual of §4.10's predicate pushdown).
func applyResidualFilter(eng *Engine, qs *QueryState, rs *RowSet, predicate *ast.Expr) error {
	if predicate == nil {
		return nil
	}
	keep, err := compileAndFilter(eng, qs, rs, predicate)
	if err != nil {
		return err
	}
	out := rs.Rows[:0]
	for _, row := range rs.Rows {
		ok, err := keep(row)
		if err != nil {
			return err
		}
		if ok {
			out = append(out, row)
		}
	}
	rs.Rows = out
	return nil
}
