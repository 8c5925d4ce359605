package exec

import (
	"sort"
	"strings"
	"sync"

	"github.com/nexusdb/nexusdb/pkg/ast"
	"github.com/nexusdb/nexusdb/pkg/types"
)

// cachedEntry is one cached SELECT * result (§4.10's semantic result
// cache): the table it was read from, the conjunct set of its WHERE
// clause (for subsumption checks), and the rows themselves.
type cachedEntry struct {
	table     string
	conjuncts []string // canonical textual form of each top-level AND conjunct
	rows      []types.Row
	columns   []ColumnBinding
}

// ResultCache implements §4.10's optional semantic result cache: it
// caches whole-table SELECT * results whose WHERE is free of subqueries,
// parameters, and aggregation, and serves a new query from a cached entry
// when the cached predicate subsumes (is implied by containment of) the
// new one. Invalidated per-table on commit.
type ResultCache struct {
	mu      sync.Mutex
	byTable map[string][]*cachedEntry
}

func NewResultCache() *ResultCache {
	return &ResultCache{byTable: make(map[string][]*cachedEntry)}
}

// Invalidate drops every cached entry for table, called on commit of any
// write touching it (§4.10).
func (rc *ResultCache) Invalidate(table string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.byTable, types.Fold(table))
}

// Eligible reports whether stmt qualifies for the cache at all: a plain
// `SELECT * FROM <table>` with no joins, aggregation, ORDER BY, LIMIT,
// OFFSET, params, or subqueries in WHERE.
func Eligible(stmt *ast.SelectStatement) (table string, ok bool) {
	if stmt.Distinct || stmt.GroupBy != nil || stmt.Having != nil || len(stmt.SetOps) > 0 ||
		len(stmt.OrderBy) > 0 || stmt.Limit != nil || stmt.Offset != nil {
		return "", false
	}
	if len(stmt.Projection) != 1 || !stmt.Projection[0].Wildcard {
		return "", false
	}
	if stmt.From == nil || stmt.From.Kind != ast.TableExprTable {
		return "", false
	}
	if containsParamOrSubquery(stmt.Where) {
		return "", false
	}
	return stmt.From.Table.Name, true
}

func containsParamOrSubquery(e *ast.Expr) bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case ast.ExprParam, ast.ExprSubquery:
		return true
	}
	if containsParamOrSubquery(e.Low) || containsParamOrSubquery(e.High) || containsParamOrSubquery(e.CaseOperand) || containsParamOrSubquery(e.ElseExpr) {
		return true
	}
	for _, a := range e.Args {
		if containsParamOrSubquery(a) {
			return true
		}
	}
	for _, it := range e.InList {
		if containsParamOrSubquery(it) {
			return true
		}
	}
	for _, wt := range e.WhenThens {
		if containsParamOrSubquery(wt.When) || containsParamOrSubquery(wt.Then) {
			return true
		}
	}
	return false
}

// canonicalConjuncts returns a sorted, textual canonical form of where's
// top-level AND conjuncts, used both to store a cache entry's predicate
// and to test subsumption by set containment: a cached entry whose
// conjunct set is a subset of the new query's conjunct set produced the
// superset of rows the new query needs, so it can be filtered in memory
// instead of re-scanning storage.
func canonicalConjuncts(where *ast.Expr) []string {
	parts := splitConjuncts(where)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, canonicalExprText(p))
	}
	sort.Strings(out)
	return out
}

// Lookup returns a cached entry whose conjunct set subsumes where's, if
// any. Exact-duplicate WHEREs also satisfy subsumption (subset-of-self).
func (rc *ResultCache) Lookup(table string, where *ast.Expr) (*cachedEntry, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	entries := rc.byTable[types.Fold(table)]
	if len(entries) == 0 {
		return nil, false
	}
	want := canonicalConjuncts(where)
	wantSet := make(map[string]struct{}, len(want))
	for _, w := range want {
		wantSet[w] = struct{}{}
	}
	for _, e := range entries {
		if isSubsetOf(e.conjuncts, wantSet) {
			return e, true
		}
	}
	return nil, false
}

func isSubsetOf(subset []string, superset map[string]struct{}) bool {
	for _, s := range subset {
		if _, ok := superset[s]; !ok {
			return false
		}
	}
	return true
}

// Store caches a fresh SELECT * result for table under where's conjunct
// set, bounding the per-table entry list to avoid unbounded growth from
// many distinct ad hoc predicates.
func (rc *ResultCache) Store(table string, where *ast.Expr, columns []ColumnBinding, rows []types.Row) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	key := types.Fold(table)
	const maxEntriesPerTable = 32
	entries := rc.byTable[key]
	if len(entries) >= maxEntriesPerTable {
		entries = entries[1:]
	}
	entries = append(entries, &cachedEntry{
		table:     table,
		conjuncts: canonicalConjuncts(where),
		rows:      rows,
		columns:   columns,
	})
	rc.byTable[key] = entries
}

func canonicalExprText(e *ast.Expr) string {
	var sb strings.Builder
	writeExprText(&sb, e)
	return sb.String()
}

func writeExprText(sb *strings.Builder, e *ast.Expr) {
	if e == nil {
		sb.WriteString("<nil>")
		return
	}
	switch e.Kind {
	case ast.ExprLiteral:
		sb.WriteString(e.Literal.String())
	case ast.ExprColumn:
		sb.WriteString(qualifiedName(e.Column))
	case ast.ExprBinary:
		sb.WriteByte('(')
		writeExprText(sb, e.Args[0])
		sb.WriteString(" " + e.Op + " ")
		writeExprText(sb, e.Args[1])
		sb.WriteByte(')')
	case ast.ExprUnary:
		sb.WriteString(e.Op + "(")
		writeExprText(sb, e.Args[0])
		sb.WriteByte(')')
	case ast.ExprBetween:
		writeExprText(sb, e.Args[0])
		sb.WriteString(" between ")
		writeExprText(sb, e.Low)
		sb.WriteString(" and ")
		writeExprText(sb, e.High)
	case ast.ExprIn:
		writeExprText(sb, e.Args[0])
		sb.WriteString(" in (")
		for i, it := range e.InList {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeExprText(sb, it)
		}
		sb.WriteByte(')')
	case ast.ExprLike:
		writeExprText(sb, e.Args[0])
		sb.WriteString(" like ")
		writeExprText(sb, e.Args[1])
	case ast.ExprIsNull:
		writeExprText(sb, e.Args[0])
		sb.WriteString(" is null")
	case ast.ExprIsNotNull:
		writeExprText(sb, e.Args[0])
		sb.WriteString(" is not null")
	case ast.ExprFuncCall:
		sb.WriteString(strings.ToLower(e.FuncName) + "(")
		for i, a := range e.Args {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeExprText(sb, a)
		}
		sb.WriteByte(')')
	default:
		sb.WriteString("?")
	}
}
