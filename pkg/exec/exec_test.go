package exec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nexusdb/nexusdb/pkg/ast"
	"github.com/nexusdb/nexusdb/pkg/catalog"
	"github.com/nexusdb/nexusdb/pkg/functions"
	"github.com/nexusdb/nexusdb/pkg/table"
	"github.com/nexusdb/nexusdb/pkg/txn"
	"github.com/nexusdb/nexusdb/pkg/types"
)

// testFixture wires a minimal but real Engine + one open transaction, the
// shape every test in this package needs to resolve a FROM-clause against.
type testFixture struct {
	eng *Engine
	qs  *QueryState
	reg *txn.Registry
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	reg := txn.NewRegistry()
	cat := catalog.New()
	fns := functions.NewDefaultRegistry()
	eng := NewEngine(cat, map[string]*table.Table{}, fns, reg, zap.NewNop())

	id, begin := reg.Allocate()
	local := txn.NewLocalStore(id, begin)
	qs := NewQueryState(local, nil, nil, false)
	return &testFixture{eng: eng, qs: qs, reg: reg}
}

// createTable registers schema in both the catalog and the engine's live
// table set, then inserts rows via a fresh Handle bound to the fixture's
// open transaction, committing immediately so later reads see them
// (mirroring how pkg/engine's commit path would drive writes into pkg/exec).
func (f *testFixture) createTable(t *testing.T, schema *types.Schema, rows []types.Row) *table.Table {
	t.Helper()
	require.NoError(t, f.eng.Catalog.CreateTable(schema))
	tbl := table.NewTable(schema, f.reg)
	f.eng.Tables[types.Fold(schema.TableName)] = tbl

	h := table.NewHandle(tbl, f.qs.Local)
	for _, r := range rows {
		h.Insert(r)
	}
	require.NoError(t, h.ApplyWrites(f.qs.Local.TxnID))
	f.reg.MarkCommitted(f.qs.Local.TxnID)
	// A fresh transaction/local store so subsequent reads in the same test
	// see the just-committed rows as ordinary visible history, not as
	// read-your-own-writes against a still-open txn.
	id, begin := f.reg.Allocate()
	f.qs = NewQueryState(txn.NewLocalStore(id, begin), nil, nil, false)
	return tbl
}

func intCol(name string) types.ColumnDef  { return types.ColumnDef{Name: name, Type: types.TypeInteger} }
func textCol(name string) types.ColumnDef { return types.ColumnDef{Name: name, Type: types.TypeText} }

func colExpr(table, name string) *ast.Expr {
	return &ast.Expr{Kind: ast.ExprColumn, Column: ast.Ident{Qualifier: table, Name: name}}
}

func litExpr(v types.Value) *ast.Expr {
	return &ast.Expr{Kind: ast.ExprLiteral, Literal: v}
}

func binExpr(op string, l, r *ast.Expr) *ast.Expr {
	return &ast.Expr{Kind: ast.ExprBinary, Op: op, Args: []*ast.Expr{l, r}}
}

func selectItem(e *ast.Expr, alias string) ast.SelectItem {
	return ast.SelectItem{Expr: e, Alias: alias}
}

func fromTable(name string) *ast.TableExpression {
	return &ast.TableExpression{Kind: ast.TableExprTable, Table: &ast.TableSource{Name: name, Alias: name}}
}

func tableValues(t *testing.T) (*testFixture, *table.Table) {
	f := newFixture(t)
	schema := types.NewSchema("people", []types.ColumnDef{
		intCol("id"), textCol("name"), intCol("age"),
	})
	rows := []types.Row{
		{types.NewInteger(1), types.NewText("alice"), types.NewInteger(30)},
		{types.NewInteger(2), types.NewText("bob"), types.NewInteger(25)},
		{types.NewInteger(3), types.NewText("carol"), types.NewInteger(25)},
	}
	tbl := f.createTable(t, schema, rows)
	return f, tbl
}

func TestExecuteBasicSelectAll(t *testing.T) {
	f, _ := tableValues(t)
	stmt := &ast.SelectStatement{
		Projection: []ast.SelectItem{{Wildcard: true}},
		From:       fromTable("people"),
	}
	rs, err := f.eng.Execute(context.Background(), stmt, f.qs)
	require.NoError(t, err)
	assert.Len(t, rs.Rows, 3)
	assert.Len(t, rs.Columns, 3)
}

func TestExecuteBasicSelectWhereEquality(t *testing.T) {
	f, _ := tableValues(t)
	stmt := &ast.SelectStatement{
		Projection: []ast.SelectItem{selectItem(colExpr("people", "name"), "")},
		From:       fromTable("people"),
		Where:      binExpr("=", colExpr("people", "age"), litExpr(types.NewInteger(25))),
	}
	rs, err := f.eng.Execute(context.Background(), stmt, f.qs)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 2)
	names := []string{rs.Rows[0][0].Text(), rs.Rows[1][0].Text()}
	assert.ElementsMatch(t, []string{"bob", "carol"}, names)
}

func TestExecuteBasicOrderByLimit(t *testing.T) {
	f, _ := tableValues(t)
	stmt := &ast.SelectStatement{
		Projection: []ast.SelectItem{
			selectItem(colExpr("people", "name"), ""),
			selectItem(colExpr("people", "age"), "age"),
		},
		From:    fromTable("people"),
		OrderBy: []ast.OrderByItem{{Expr: colExpr("", "age")}},
		Limit:   int64Ptr(1),
	}
	rs, err := f.eng.Execute(context.Background(), stmt, f.qs)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 1)
	assert.Equal(t, "bob", rs.Rows[0][0].Text())
}

func TestExecuteDistinct(t *testing.T) {
	f, _ := tableValues(t)
	stmt := &ast.SelectStatement{
		Distinct:   true,
		Projection: []ast.SelectItem{selectItem(colExpr("people", "age"), "age")},
		From:       fromTable("people"),
	}
	rs, err := f.eng.Execute(context.Background(), stmt, f.qs)
	require.NoError(t, err)
	assert.Len(t, rs.Rows, 2)
}

func TestExecuteAggregateGroupBy(t *testing.T) {
	f, _ := tableValues(t)
	ageExpr := colExpr("people", "age")
	countCall := &ast.Expr{Kind: ast.ExprFuncCall, FuncName: "count"}
	stmt := &ast.SelectStatement{
		Projection: []ast.SelectItem{
			selectItem(ageExpr, "age"),
			selectItem(countCall, "n"),
		},
		From:    fromTable("people"),
		GroupBy: &ast.GroupBy{Exprs: []*ast.Expr{ageExpr}},
		OrderBy: []ast.OrderByItem{{Expr: colExpr("", "age")}},
	}
	rs, err := f.eng.Execute(context.Background(), stmt, f.qs)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 2)
	assert.Equal(t, int64(25), rs.Rows[0][0].Int())
	assert.Equal(t, int64(2), rs.Rows[0][1].Int())
	assert.Equal(t, int64(30), rs.Rows[1][0].Int())
	assert.Equal(t, int64(1), rs.Rows[1][1].Int())
}

func TestExecuteAggregateGlobalZeroRows(t *testing.T) {
	f := newFixture(t)
	schema := types.NewSchema("empty_t", []types.ColumnDef{intCol("id")})
	f.createTable(t, schema, nil)
	countCall := &ast.Expr{Kind: ast.ExprFuncCall, FuncName: "count"}
	stmt := &ast.SelectStatement{
		Projection: []ast.SelectItem{selectItem(countCall, "n")},
		From:       fromTable("empty_t"),
	}
	rs, err := f.eng.Execute(context.Background(), stmt, f.qs)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 1)
	assert.Equal(t, int64(0), rs.Rows[0][0].Int())
}

func TestExecuteWindowRowNumber(t *testing.T) {
	f, _ := tableValues(t)
	rn := &ast.Expr{
		Kind:     ast.ExprFuncCall,
		FuncName: "row_number",
		Over: &ast.WindowSpec{
			OrderBy: []ast.OrderByItem{{Expr: colExpr("people", "age")}},
		},
	}
	stmt := &ast.SelectStatement{
		Projection: []ast.SelectItem{
			selectItem(colExpr("people", "name"), ""),
			selectItem(rn, "rn"),
		},
		From:    fromTable("people"),
		OrderBy: []ast.OrderByItem{{Expr: colExpr("", "rn")}},
	}
	rs, err := f.eng.Execute(context.Background(), stmt, f.qs)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 3)
	assert.Equal(t, int64(1), rs.Rows[0][1].Int())
	assert.Equal(t, int64(3), rs.Rows[2][1].Int())
}

func TestExecuteSetOpsUnion(t *testing.T) {
	f, _ := tableValues(t)
	left := &ast.SelectStatement{
		Projection: []ast.SelectItem{selectItem(colExpr("people", "age"), "age")},
		From:       fromTable("people"),
		Where:      binExpr("=", colExpr("people", "age"), litExpr(types.NewInteger(25))),
	}
	right := &ast.SelectStatement{
		Projection: []ast.SelectItem{selectItem(colExpr("people", "age"), "age")},
		From:       fromTable("people"),
		Where:      binExpr("=", colExpr("people", "age"), litExpr(types.NewInteger(30))),
	}
	stmt := &ast.SelectStatement{
		Projection: left.Projection,
		From:       left.From,
		Where:      left.Where,
		SetOps:     []ast.SetOperation{{Kind: ast.SetOpUnion, Right: right}},
	}
	rs, err := f.eng.Execute(context.Background(), stmt, f.qs)
	require.NoError(t, err)
	assert.Len(t, rs.Rows, 2)
}

func TestExecuteSetOpsUnionAllKeepsDuplicates(t *testing.T) {
	f, _ := tableValues(t)
	left := &ast.SelectStatement{
		Projection: []ast.SelectItem{selectItem(colExpr("people", "age"), "age")},
		From:       fromTable("people"),
		Where:      binExpr("=", colExpr("people", "age"), litExpr(types.NewInteger(25))),
	}
	right := &ast.SelectStatement{
		Projection: []ast.SelectItem{selectItem(colExpr("people", "age"), "age")},
		From:       fromTable("people"),
		Where:      binExpr("=", colExpr("people", "age"), litExpr(types.NewInteger(25))),
	}
	stmt := &ast.SelectStatement{
		Projection: left.Projection,
		From:       left.From,
		Where:      left.Where,
		SetOps:     []ast.SetOperation{{Kind: ast.SetOpUnionAll, Right: right}},
	}
	rs, err := f.eng.Execute(context.Background(), stmt, f.qs)
	require.NoError(t, err)
	assert.Len(t, rs.Rows, 4)
}

func TestExecuteJoinInner(t *testing.T) {
	f, _ := tableValues(t)
	schema := types.NewSchema("pets", []types.ColumnDef{intCol("owner_id"), textCol("pet_name")})
	f.createTable(t, schema, []types.Row{
		{types.NewInteger(1), types.NewText("rex")},
		{types.NewInteger(2), types.NewText("tom")},
	})

	join := &ast.TableExpression{
		Kind: ast.TableExprJoin,
		Join: &ast.JoinSource{
			Left:  fromTable("people"),
			Right: fromTable("pets"),
			Kind:  ast.JoinInner,
			On:    binExpr("=", colExpr("people", "id"), colExpr("pets", "owner_id")),
		},
	}
	stmt := &ast.SelectStatement{
		Projection: []ast.SelectItem{
			selectItem(colExpr("people", "name"), ""),
			selectItem(colExpr("pets", "pet_name"), ""),
		},
		From: join,
	}
	rs, err := f.eng.Execute(context.Background(), stmt, f.qs)
	require.NoError(t, err)
	assert.Len(t, rs.Rows, 2)
}

func TestExecuteJoinLeftPadsUnmatched(t *testing.T) {
	f, _ := tableValues(t)
	schema := types.NewSchema("pets2", []types.ColumnDef{intCol("owner_id"), textCol("pet_name")})
	f.createTable(t, schema, []types.Row{
		{types.NewInteger(1), types.NewText("rex")},
	})

	join := &ast.TableExpression{
		Kind: ast.TableExprJoin,
		Join: &ast.JoinSource{
			Left:  fromTable("people"),
			Right: fromTable("pets2"),
			Kind:  ast.JoinLeft,
			On:    binExpr("=", colExpr("people", "id"), colExpr("pets2", "owner_id")),
		},
	}
	stmt := &ast.SelectStatement{
		Projection: []ast.SelectItem{
			selectItem(colExpr("people", "name"), ""),
			selectItem(colExpr("pets2", "pet_name"), ""),
		},
		From: join,
	}
	rs, err := f.eng.Execute(context.Background(), stmt, f.qs)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 3)
	unmatched := 0
	for _, row := range rs.Rows {
		if row[1].IsNull() {
			unmatched++
		}
	}
	assert.Equal(t, 2, unmatched)
}

func TestExecuteCteNonRecursive(t *testing.T) {
	f, _ := tableValues(t)
	cte := ast.CteDef{
		Name: "adults",
		Select: &ast.SelectStatement{
			Projection: []ast.SelectItem{{Wildcard: true}},
			From:       fromTable("people"),
			Where:      binExpr(">=", colExpr("people", "age"), litExpr(types.NewInteger(30))),
		},
	}
	stmt := &ast.SelectStatement{
		With:       &ast.WithClause{Ctes: []ast.CteDef{cte}},
		Projection: []ast.SelectItem{{Wildcard: true}},
		From:       &ast.TableExpression{Kind: ast.TableExprCte, Cte: &ast.CteReference{Name: "adults", Alias: "adults"}},
	}
	rs, err := f.eng.Execute(context.Background(), stmt, f.qs)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 1)
	assert.Equal(t, "alice", rs.Rows[0][1].Text())
}

func TestExecuteRecursiveCteCountUp(t *testing.T) {
	f := newFixture(t)
	one := selectItem(litExpr(types.NewInteger(1)), "n")
	anchor := &ast.SelectStatement{Projection: []ast.SelectItem{one}}
	recursive := &ast.SelectStatement{
		Projection: []ast.SelectItem{selectItem(binExpr("+", colExpr("counter", "n"), litExpr(types.NewInteger(1))), "n")},
		From:       &ast.TableExpression{Kind: ast.TableExprCte, Cte: &ast.CteReference{Name: "counter", Alias: "counter"}},
		Where:      binExpr("<", colExpr("counter", "n"), litExpr(types.NewInteger(5))),
	}
	anchor.SetOps = []ast.SetOperation{{Kind: ast.SetOpUnionAll, Right: recursive}}

	cte := ast.CteDef{Name: "counter", Recursive: true, Select: anchor}
	stmt := &ast.SelectStatement{
		With:       &ast.WithClause{Ctes: []ast.CteDef{cte}},
		Projection: []ast.SelectItem{{Wildcard: true}},
		From:       &ast.TableExpression{Kind: ast.TableExprCte, Cte: &ast.CteReference{Name: "counter", Alias: "counter"}},
		OrderBy:    []ast.OrderByItem{{Expr: colExpr("", "n")}},
	}
	rs, err := f.eng.Execute(context.Background(), stmt, f.qs)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 5)
	assert.Equal(t, int64(1), rs.Rows[0][0].Int())
	assert.Equal(t, int64(5), rs.Rows[4][0].Int())
}

func TestExecuteScalarSubqueryInWhere(t *testing.T) {
	f, _ := tableValues(t)
	inner := &ast.SelectStatement{
		Projection: []ast.SelectItem{selectItem(&ast.Expr{Kind: ast.ExprFuncCall, FuncName: "max", Args: []*ast.Expr{colExpr("people", "age")}}, "")},
		From:       fromTable("people"),
	}
	stmt := &ast.SelectStatement{
		Projection: []ast.SelectItem{selectItem(colExpr("people", "name"), "")},
		From:       fromTable("people"),
		Where: binExpr("=", colExpr("people", "age"), &ast.Expr{
			Kind: ast.ExprSubquery, Subquery: inner, SubqueryKind: "scalar",
		}),
	}
	rs, err := f.eng.Execute(context.Background(), stmt, f.qs)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 1)
	assert.Equal(t, "alice", rs.Rows[0][0].Text())
}

func int64Ptr(v int64) *int64 { return &v }
