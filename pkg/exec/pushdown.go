package exec

import "github.com/nexusdb/nexusdb/pkg/ast"

// splitConjuncts flattens the top-level AND tree of e into its leaf
// conjuncts (§4.10: "Split WHERE into conjuncts"). A nil e yields no
// conjuncts; a non-AND e yields itself as the sole conjunct.
func splitConjuncts(e *ast.Expr) []*ast.Expr {
	if e == nil {
		return nil
	}
	if e.Kind == ast.ExprBinary && e.Op == "and" {
		return append(splitConjuncts(e.Args[0]), splitConjuncts(e.Args[1])...)
	}
	return []*ast.Expr{e}
}

// joinConjuncts rebuilds an AND tree from conjuncts, or nil if empty.
func joinConjuncts(conjuncts []*ast.Expr) *ast.Expr {
	if len(conjuncts) == 0 {
		return nil
	}
	out := conjuncts[0]
	for _, c := range conjuncts[1:] {
		out = &ast.Expr{Kind: ast.ExprBinary, Op: "and", Args: []*ast.Expr{out, c}}
	}
	return out
}

// isPushable implements §4.10's pushable/non-pushable classification:
// comparisons, AND/OR of pushables, IN, BETWEEN, and LIKE with a constant
// pattern push down to storage_expr; function calls (which may have
// side effects in a richer dialect) and subqueries do not, since they
// either cannot run without full row materialization or cannot safely be
// re-evaluated by the storage scan.
func isPushable(e *ast.Expr) bool {
	if e == nil {
		return true
	}
	switch e.Kind {
	case ast.ExprLiteral, ast.ExprColumn, ast.ExprParam:
		return true
	case ast.ExprBinary:
		switch e.Op {
		case "and", "or", "=", "<>", "!=", "<", "<=", ">", ">=":
			return isPushable(e.Args[0]) && isPushable(e.Args[1])
		default:
			return false
		}
	case ast.ExprUnary:
		return e.Op == "not" && isPushable(e.Args[0])
	case ast.ExprIn:
		if e.InQuery != nil {
			return false
		}
		if !isPushable(e.Args[0]) {
			return false
		}
		for _, it := range e.InList {
			if !isPushable(it) {
				return false
			}
		}
		return true
	case ast.ExprBetween:
		return isPushable(e.Args[0]) && isPushable(e.Low) && isPushable(e.High)
	case ast.ExprLike:
		return isPushable(e.Args[0]) && e.Args[1].Kind == ast.ExprLiteral
	case ast.ExprIsNull, ast.ExprIsNotNull:
		return isPushable(e.Args[0])
	default: // ExprFuncCall, ExprCast, ExprSubquery, ExprCoalesce, ExprCase
		return false
	}
}

// partitionPushdown splits where's conjuncts into a pushable slice
// (recombined into one AND expression, the storage_expr) and a residual
// slice applied as an in-memory filter after the scan.
func partitionPushdown(where *ast.Expr) (pushed *ast.Expr, residual *ast.Expr) {
	conjuncts := splitConjuncts(where)
	var pushedParts, residualParts []*ast.Expr
	for _, c := range conjuncts {
		if isPushable(c) {
			pushedParts = append(pushedParts, c)
		} else {
			residualParts = append(residualParts, c)
		}
	}
	return joinConjuncts(pushedParts), joinConjuncts(residualParts)
}

// referencedColumns collects every column Ident referenced anywhere in e,
// used by join planning to classify predicates as left-only/right-only
// /cross-table (§4.10).
func referencedColumns(e *ast.Expr, out map[string][]ast.Ident) {
	if e == nil {
		return
	}
	if e.Kind == ast.ExprColumn {
		out[e.Column.Qualifier] = append(out[e.Column.Qualifier], e.Column)
		return
	}
	for _, a := range e.Args {
		referencedColumns(a, out)
	}
	referencedColumns(e.Low, out)
	referencedColumns(e.High, out)
	referencedColumns(e.CaseOperand, out)
	referencedColumns(e.ElseExpr, out)
	for _, it := range e.InList {
		referencedColumns(it, out)
	}
	for _, wt := range e.WhenThens {
		referencedColumns(wt.When, out)
		referencedColumns(wt.Then, out)
	}
}

// qualifiersOf returns the set of table qualifiers an expression touches.
func qualifiersOf(e *ast.Expr) map[string]struct{} {
	refs := make(map[string][]ast.Ident)
	referencedColumns(e, refs)
	out := make(map[string]struct{}, len(refs))
	for q := range refs {
		out[q] = struct{}{}
	}
	return out
}
