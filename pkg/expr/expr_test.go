package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusdb/nexusdb/pkg/ast"
	"github.com/nexusdb/nexusdb/pkg/types"
)

func plainCompiler() *Compiler {
	return &Compiler{
		ColumnIndex: func(id ast.Ident) (int, bool, error) {
			switch id.Name {
			case "age":
				return 0, false, nil
			case "name":
				return 1, false, nil
			}
			return 0, false, assertUnknownColumn(id.Name)
		},
	}
}

func assertUnknownColumn(name string) error {
	return &columnNotFoundError{name}
}

type columnNotFoundError struct{ name string }

func (e *columnNotFoundError) Error() string { return "unknown column " + e.name }

func litInt(n int64) *ast.Expr  { return &ast.Expr{Kind: ast.ExprLiteral, Literal: types.NewInteger(n)} }
func litText(s string) *ast.Expr { return &ast.Expr{Kind: ast.ExprLiteral, Literal: types.NewText(s)} }
func col(name string) *ast.Expr {
	return &ast.Expr{Kind: ast.ExprColumn, Column: ast.Ident{Name: name}}
}

func evalExpr(t *testing.T, e *ast.Expr, row types.Row) types.Value {
	t.Helper()
	prog, err := Compile(e, plainCompiler())
	require.NoError(t, err)
	v, err := NewVM().Eval(prog, &Context{Row: row})
	require.NoError(t, err)
	return v
}

func TestCompileAndEvalArithmetic(t *testing.T) {
	e := &ast.Expr{Kind: ast.ExprBinary, Op: "+", Args: []*ast.Expr{litInt(2), litInt(3)}}
	v := evalExpr(t, e, nil)
	assert.Equal(t, int64(5), v.Int())
}

func TestCompileAndEvalColumnReference(t *testing.T) {
	e := col("age")
	v := evalExpr(t, e, types.Row{types.NewInteger(42), types.NewText("ada")})
	assert.Equal(t, int64(42), v.Int())
}

func TestCompileAndEvalComparison(t *testing.T) {
	e := &ast.Expr{Kind: ast.ExprBinary, Op: ">", Args: []*ast.Expr{col("age"), litInt(18)}}
	v := evalExpr(t, e, types.Row{types.NewInteger(42)})
	assert.True(t, v.Bool())
}

func TestThreeValuedAndWithNull(t *testing.T) {
	e := &ast.Expr{Kind: ast.ExprBinary, Op: "and", Args: []*ast.Expr{
		{Kind: ast.ExprLiteral, Literal: types.Null},
		{Kind: ast.ExprLiteral, Literal: types.NewBoolean(false)},
	}}
	v := evalExpr(t, e, nil)
	assert.False(t, v.IsNull(), "NULL AND FALSE is FALSE, not unknown")
	assert.False(t, v.Bool())
}

func TestThreeValuedAndNullPropagatesWhenNoFalse(t *testing.T) {
	e := &ast.Expr{Kind: ast.ExprBinary, Op: "and", Args: []*ast.Expr{
		{Kind: ast.ExprLiteral, Literal: types.Null},
		{Kind: ast.ExprLiteral, Literal: types.NewBoolean(true)},
	}}
	v := evalExpr(t, e, nil)
	assert.True(t, v.IsNull())
}

func TestLikeWithWildcards(t *testing.T) {
	e := &ast.Expr{Kind: ast.ExprLike, Args: []*ast.Expr{litText("hello world"), litText("hello%")}}
	v := evalExpr(t, e, nil)
	assert.True(t, v.Bool())
}

func TestLikeNegated(t *testing.T) {
	e := &ast.Expr{Kind: ast.ExprLike, Negated: true, Args: []*ast.Expr{litText("hello world"), litText("hello%")}}
	v := evalExpr(t, e, nil)
	assert.False(t, v.Bool())
}

func TestBetweenInclusive(t *testing.T) {
	e := &ast.Expr{Kind: ast.ExprBetween, Args: []*ast.Expr{litInt(5)}, Low: litInt(1), High: litInt(10)}
	v := evalExpr(t, e, nil)
	assert.True(t, v.Bool())
}

func TestInListWithConstantFoldedHashSet(t *testing.T) {
	e := &ast.Expr{
		Kind: ast.ExprIn,
		Args: []*ast.Expr{litInt(2)},
		InList: []*ast.Expr{litInt(1), litInt(2), litInt(3)},
	}
	v := evalExpr(t, e, nil)
	assert.True(t, v.Bool())
}

func TestInListNegated(t *testing.T) {
	e := &ast.Expr{
		Kind:     ast.ExprIn,
		Negated:  true,
		Args:     []*ast.Expr{litInt(5)},
		InList:   []*ast.Expr{litInt(1), litInt(2), litInt(3)},
	}
	v := evalExpr(t, e, nil)
	assert.True(t, v.Bool())
}

func TestCoalesceReturnsFirstNonNull(t *testing.T) {
	e := &ast.Expr{Kind: ast.ExprCoalesce, Args: []*ast.Expr{
		{Kind: ast.ExprLiteral, Literal: types.Null},
		litInt(7),
	}}
	v := evalExpr(t, e, nil)
	assert.Equal(t, int64(7), v.Int())
}

func TestCastIntegerToText(t *testing.T) {
	e := &ast.Expr{Kind: ast.ExprCast, Args: []*ast.Expr{litInt(42)}, CastType: "TEXT"}
	v := evalExpr(t, e, nil)
	assert.Equal(t, "42", v.Text())
}

func TestCastTextToIntegerFailsOnNonNumeric(t *testing.T) {
	e := &ast.Expr{Kind: ast.ExprCast, Args: []*ast.Expr{litText("not-a-number")}, CastType: "INTEGER"}
	prog, err := Compile(e, plainCompiler())
	require.NoError(t, err)
	_, err = NewVM().Eval(prog, &Context{})
	assert.Error(t, err)
}

func TestCaseWhenThenElse(t *testing.T) {
	e := &ast.Expr{
		Kind: ast.ExprCase,
		WhenThens: []ast.WhenThen{
			{When: &ast.Expr{Kind: ast.ExprBinary, Op: ">", Args: []*ast.Expr{col("age"), litInt(65)}}, Then: litText("senior")},
			{When: &ast.Expr{Kind: ast.ExprBinary, Op: ">=", Args: []*ast.Expr{col("age"), litInt(18)}}, Then: litText("adult")},
		},
		ElseExpr: litText("minor"),
	}
	v := evalExpr(t, e, types.Row{types.NewInteger(30)})
	assert.Equal(t, "adult", v.Text())

	v = evalExpr(t, e, types.Row{types.NewInteger(10)})
	assert.Equal(t, "minor", v.Text())
}

func TestDivisionByZeroReturnsError(t *testing.T) {
	e := &ast.Expr{Kind: ast.ExprBinary, Op: "/", Args: []*ast.Expr{litInt(1), litInt(0)}}
	prog, err := Compile(e, plainCompiler())
	require.NoError(t, err)
	_, err = NewVM().Eval(prog, &Context{})
	assert.Error(t, err)
}

func TestIsNullAndIsNotNull(t *testing.T) {
	isNull := &ast.Expr{Kind: ast.ExprIsNull, Args: []*ast.Expr{{Kind: ast.ExprLiteral, Literal: types.Null}}}
	v := evalExpr(t, isNull, nil)
	assert.True(t, v.Bool())

	isNotNull := &ast.Expr{Kind: ast.ExprIsNotNull, Args: []*ast.Expr{litInt(1)}}
	v = evalExpr(t, isNotNull, nil)
	assert.True(t, v.Bool())
}
