package exec

import (
	"context"
	"strconv"

	"github.com/nexusdb/nexusdb/pkg/ast"
	"github.com/nexusdb/nexusdb/pkg/dberr"
	"github.com/nexusdb/nexusdb/pkg/index"
	"github.com/nexusdb/nexusdb/pkg/table"
	"github.com/nexusdb/nexusdb/pkg/types"
)

// scanHint carries the result-pipeline shape of the enclosing statement
// down into scan-strategy selection (§4.10's own cross-reference to "the
// fuller statement shape this function does not [see]"): a single-column
// ORDER BY with a LIMIT lets the scan skip straight to an index-ordered
// top-N read instead of materializing every row for a later sort (§8 S4).
// Only single, unjoined table sources with no WHERE and no DISTINCT are
// eligible; anything else scans normally and sorts in orderBy.
type scanHint struct {
	column     string
	descending bool
	n          int64 // limit+offset rows needed, in sorted order
	applied    bool  // set by scanTable when tryTopNScan served the rows
}

// computeScanHint implements the eligibility check above. It intentionally
// stays conservative: a hint only helps when scanTable can satisfy ORDER
// BY itself, so anything that might still need a residual filter or a
// join after the scan is left for the plain path.
func computeScanHint(stmt *ast.SelectStatement) *scanHint {
	if stmt.From == nil || stmt.From.Kind != ast.TableExprTable {
		return nil
	}
	if stmt.Where != nil || stmt.Distinct || len(stmt.OrderBy) != 1 || stmt.Limit == nil {
		return nil
	}
	item := stmt.OrderBy[0]
	if item.Expr == nil || item.Expr.Kind != ast.ExprColumn {
		return nil
	}
	alias := stmt.From.Table.Alias
	if alias == "" {
		alias = stmt.From.Table.Name
	}
	if q := item.Expr.Column.Qualifier; q != "" && types.Fold(q) != types.Fold(alias) {
		return nil
	}
	n := *stmt.Limit
	if stmt.Offset != nil {
		n += *stmt.Offset
	}
	if n < 0 {
		return nil
	}
	return &scanHint{column: item.Expr.Column.Name, descending: item.Descending, n: n}
}

// resolveSource implements §4.10's FROM-clause resolution: CTE, then
// view, then table (in that priority), else UnknownTable; joins and
// subquery/VALUES sources recurse through the same entry point. hint is
// nil everywhere except the single eligible call from executeBasic.
func (eng *Engine) resolveSource(ctx context.Context, qs *QueryState, from *ast.TableExpression, where *ast.Expr, hint *scanHint) (*RowSet, error) {
	if from == nil {
		// SELECT with no FROM: one synthetic row, no columns, so a
		// constant-only projection still has something to evaluate against.
		return &RowSet{Rows: []types.Row{{}}}, nil
	}
	// These source kinds never reach scanTable, so where's pushable
	// conjuncts are applied here, to a copy (CTE rows are shared).
	filtered := func(rs *RowSet, err error) (*RowSet, error) {
		pushed, _ := partitionPushdown(where)
		if err != nil || pushed == nil {
			return rs, err
		}
		rs = rs.clone()
		return rs, eng.applyPushedFilter(qs, rs, pushed)
	}
	switch from.Kind {
	case ast.TableExprTable:
		return eng.resolveNamedSource(ctx, qs, from.Table, where, hint)
	case ast.TableExprSubquery:
		return filtered(eng.resolveSubquerySource(ctx, qs, from.Sub))
	case ast.TableExprJoin:
		return filtered(eng.resolveJoin(ctx, qs, from.Join))
	case ast.TableExprValues:
		return filtered(resolveValuesSource(from.Values), nil)
	case ast.TableExprCte:
		return filtered(eng.resolveCteReference(qs, from.Cte))
	default:
		return nil, dberr.New(dberr.KindInternal, "unknown table expression kind %d", from.Kind)
	}
}

// resolveNamedSource implements the CTE -> view -> table priority order.
func (eng *Engine) resolveNamedSource(ctx context.Context, qs *QueryState, ts *ast.TableSource, where *ast.Expr, hint *scanHint) (*RowSet, error) {
	alias := ts.Alias
	if alias == "" {
		alias = ts.Name
	}

	// A CTE or view never reaches scanTable, so where's pushable
	// conjuncts are applied here, to a copy (CTE rows are shared).
	filtered := func(rs *RowSet) (*RowSet, error) {
		pushed, _ := partitionPushdown(where)
		if pushed == nil {
			return rs, nil
		}
		rs = rs.clone()
		return rs, eng.applyPushedFilter(qs, rs, pushed)
	}

	if rows, ok := qs.Ctes[types.Fold(ts.Name)]; ok {
		return filtered(rebindAlias(rows, alias))
	}

	if view, ok := eng.Catalog.View(ts.Name); ok {
		child := qs.child()
		rs, err := eng.executeSelect(ctx, child, view.Select, nil, nil)
		if err != nil {
			return nil, err
		}
		return filtered(rebindAlias(rs, alias))
	}

	t, ok := eng.Tables[types.Fold(ts.Name)]
	if !ok {
		return nil, dberr.New(dberr.KindSemantic, "unknown table %q", ts.Name)
	}
	return eng.scanTable(ctx, qs, t, alias, where, hint)
}

func rebindAlias(rs *RowSet, alias string) *RowSet {
	cols := make([]ColumnBinding, len(rs.Columns))
	for i, c := range rs.Columns {
		cols[i] = ColumnBinding{Table: alias, Name: c.Name}
	}
	return &RowSet{Columns: cols, Rows: rs.Rows}
}

func (eng *Engine) resolveCteReference(qs *QueryState, ref *ast.CteReference) (*RowSet, error) {
	rows, ok := qs.Ctes[types.Fold(ref.Name)]
	if !ok {
		return nil, dberr.New(dberr.KindSemantic, "unknown CTE %q", ref.Name)
	}
	alias := ref.Alias
	if alias == "" {
		alias = ref.Name
	}
	return rebindAlias(rows, alias), nil
}

func (eng *Engine) resolveSubquerySource(ctx context.Context, qs *QueryState, sub *ast.SubquerySource) (*RowSet, error) {
	child := qs.child()
	rs, err := eng.executeSelect(ctx, child, sub.Select, nil, nil)
	if err != nil {
		return nil, err
	}
	return rebindAlias(rs, sub.Alias), nil
}

func resolveValuesSource(vs *ast.ValuesSource) *RowSet {
	ncols := 0
	if len(vs.Rows) > 0 {
		ncols = len(vs.Rows[0])
	}
	cols := make([]ColumnBinding, ncols)
	for i := range cols {
		cols[i] = ColumnBinding{Table: vs.Alias, Name: colN(i)}
	}
	rows := make([]types.Row, len(vs.Rows))
	for i, exprs := range vs.Rows {
		row := make(types.Row, len(exprs))
		for j, e := range exprs {
			row[j] = e.Literal
		}
		rows[i] = row
	}
	return &RowSet{Columns: cols, Rows: rows}
}

func colN(i int) string {
	return "column" + strconv.Itoa(i+1)
}

// scanTable implements §4.10's scan-strategy selection for a single
// table source. Strategies attempted, in order: 6 (indexed top-N for an
// ORDER BY + LIMIT that computeScanHint found eligible, §8 S4), 5/4
// (indexed equality/IN-list/range probe), else strategy 1, a full scan
// with the pushable portion of the predicate applied as storage_expr and
// the residual applied by the caller once join partners (if any) are
// available. COUNT(*)'s own fast path is handled by executeAggregate,
// which sees the fuller statement shape this function does not.
func (eng *Engine) scanTable(ctx context.Context, qs *QueryState, t *table.Table, alias string, where *ast.Expr, hint *scanHint) (*RowSet, error) {
	h := table.NewHandle(t, qs.Local)
	cols := make([]ColumnBinding, len(t.Schema.Columns))
	for i, c := range t.Schema.Columns {
		cols[i] = ColumnBinding{Table: alias, Name: c.Name}
	}

	if hint != nil {
		if rows, ok := eng.tryTopNScan(h, t, cols, *hint); ok {
			hint.applied = true
			return &RowSet{Columns: cols, Rows: rows}, nil
		}
	}

	local := tableLocalPredicate(where, alias)
	pushed, _ := partitionPushdown(local)

	if rowIDs, probed := eng.tryIndexProbe(t, pushed); probed {
		rows := make([]types.Row, 0, len(rowIDs))
		for _, id := range rowIDs {
			if row, ok := h.Get(id); ok {
				rows = append(rows, row)
			}
		}
		rs := &RowSet{Columns: cols, Rows: rows}
		if err := eng.applyPushedFilter(qs, rs, pushed); err != nil {
			return nil, err
		}
		return rs, nil
	}

	rows := make([]types.Row, 0)
	scanned := h.Scan(func(sr table.ScanRow) bool {
		rows = append(rows, sr.Row)
		return ctx.Err() == nil
	})
	_ = scanned // the visited-row count is not used by this path
	if err := ctx.Err(); err != nil {
		return nil, dberr.Wrap(dberr.KindTimeoutOrCancelled, err, "scan of %q cancelled", t.Schema.TableName)
	}

	rs := &RowSet{Columns: cols, Rows: rows}
	if err := eng.applyPushedFilter(qs, rs, pushed); err != nil {
		return nil, err
	}
	return rs, nil
}

// tryTopNScan implements strategy 6: when an ordered-map index covers
// hint.column, ask it directly for the hint.n row ids closest to the
// requested extreme (§8 S4's "terminate iteration before consuming all
// rows"), fetch just those rows, and return them already in ORDER BY
// order so the caller can skip sorting entirely. ok is false when no
// qualifying index exists, falling through to the plain scan path.
func (eng *Engine) tryTopNScan(h *table.Handle, t *table.Table, cols []ColumnBinding, hint scanHint) ([]types.Row, bool) {
	idx, ok := t.IndexForColumn(hint.column)
	if !ok {
		return nil, false
	}
	topN, ok := idx.(index.TopNCapable)
	if !ok {
		return nil, false
	}
	if hint.n <= 0 {
		return nil, true
	}
	rowIDs := topN.TopN(int(hint.n), hint.descending)
	rows := make([]types.Row, 0, len(rowIDs))
	for _, id := range rowIDs {
		if row, ok := h.Get(id); ok {
			rows = append(rows, row)
		}
	}
	return rows, true
}

func (eng *Engine) applyPushedFilter(qs *QueryState, rs *RowSet, pushed *ast.Expr) error {
	if pushed == nil {
		return nil
	}
	return applyResidualFilter(eng, qs, rs, pushed)
}

// tableLocalPredicate extracts the conjuncts of where referencing only
// alias (or no table at all, the single-source case), leaving
// cross-table join predicates for the join planner.
func tableLocalPredicate(where *ast.Expr, alias string) *ast.Expr {
	if where == nil {
		return nil
	}
	var keep []*ast.Expr
	for _, c := range splitConjuncts(where) {
		quals := qualifiersOf(c)
		if len(quals) == 0 {
			keep = append(keep, c)
			continue
		}
		if len(quals) == 1 {
			_, own := quals[alias]
			_, unqualified := quals[""]
			if own || unqualified {
				keep = append(keep, c)
			}
		}
	}
	return joinConjuncts(keep)
}

// tryIndexProbe implements strategy 5 (indexed equality/IN-list probe)
// and the range-lookup half of strategy 4: a single top-level conjunct
// of the form `col = lit`, `col IN (lits)`, or a comparison/BETWEEN
// against a literal, where an index covers col, retrieves candidate row
// ids directly instead of a full scan. Returns ok=false (fall through to
// a full scan) when no single pushed conjunct matches this shape.
func (eng *Engine) tryIndexProbe(t *table.Table, pushed *ast.Expr) ([]int64, bool) {
	for _, c := range splitConjuncts(pushed) {
		if ids, ok := eng.tryIndexProbeOne(t, c); ok {
			return ids, true
		}
	}
	return nil, false
}

func (eng *Engine) tryIndexProbeOne(t *table.Table, c *ast.Expr) ([]int64, bool) {
	if c == nil {
		return nil, false
	}
	switch c.Kind {
	case ast.ExprBinary:
		col, lit, ok := columnLiteralOperands(c)
		if !ok {
			return nil, false
		}
		idx, ok := t.IndexForColumn(col.Name)
		if !ok {
			return nil, false
		}
		colDef, _ := t.Schema.Column(col.Name)
		switch c.Op {
		case "=":
			if index.PreferFullScanForBooleanEquality(colDef.Type.Kind(), "=") {
				return nil, false
			}
			return idx.LookupEqual([]types.Value{lit}), true
		case "<", "<=":
			ids, ok := idx.LookupRange(nil, []types.Value{lit}, false, c.Op == "<=")
			return ids, ok
		case ">", ">=":
			ids, ok := idx.LookupRange([]types.Value{lit}, nil, c.Op == ">=", false)
			return ids, ok
		}
		return nil, false
	case ast.ExprIn:
		if c.InQuery != nil || c.Args[0].Kind != ast.ExprColumn {
			return nil, false
		}
		idx, ok := t.IndexForColumn(c.Args[0].Column.Name)
		if !ok {
			return nil, false
		}
		lists := make([][]types.Value, len(c.InList))
		for i, it := range c.InList {
			if it.Kind != ast.ExprLiteral {
				return nil, false
			}
			lists[i] = []types.Value{it.Literal}
		}
		return idx.LookupIn(lists), true
	case ast.ExprBetween:
		if c.Args[0].Kind != ast.ExprColumn || c.Low.Kind != ast.ExprLiteral || c.High.Kind != ast.ExprLiteral {
			return nil, false
		}
		idx, ok := t.IndexForColumn(c.Args[0].Column.Name)
		if !ok {
			return nil, false
		}
		ids, ok := idx.LookupRange([]types.Value{c.Low.Literal}, []types.Value{c.High.Literal}, true, true)
		return ids, ok
	}
	return nil, false
}

// columnLiteralOperands normalizes `col OP lit` and `lit OP col` into
// (col, lit) plus success, since the pushable-equality/range probe only
// cares about the pair, not which side the parser put each on.
func columnLiteralOperands(c *ast.Expr) (ast.Ident, types.Value, bool) {
	l, r := c.Args[0], c.Args[1]
	if l.Kind == ast.ExprColumn && r.Kind == ast.ExprLiteral {
		return l.Column, r.Literal, true
	}
	if r.Kind == ast.ExprColumn && l.Kind == ast.ExprLiteral {
		return r.Column, l.Literal, true
	}
	return ast.Ident{}, types.Value{}, false
}
