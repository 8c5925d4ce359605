package expr

import (
	"strings"

	"github.com/nexusdb/nexusdb/pkg/ast"
	"github.com/nexusdb/nexusdb/pkg/dberr"
	"github.com/nexusdb/nexusdb/pkg/types"
)

// Compiler lowers ast.Expr trees into a Program. ColumnIndex resolves an
// ast.Ident to a positional column index in the row being evaluated (for
// the main row) or the second row (for join predicates); OuterIndex does
// the same for outer-row correlation.
type Compiler struct {
	ColumnIndex func(ast.Ident) (idx int, second bool, err error)
	OuterIndex  func(ast.Ident) (int, error)
	// CompileSubquery lowers a nested SELECT into a *Subquery; supplied by
	// pkg/exec, which owns SELECT execution.
	CompileSubquery func(*ast.SelectStatement, string) (*Subquery, error)

	instrs []Instruction
	consts []any
}

// Compile lowers a single ast.Expr into a Program whose single entry
// point starts at instruction 0 and leaves one Value on the stack.
func Compile(e *ast.Expr, c *Compiler) (*Program, error) {
	c.instrs = nil
	c.consts = nil
	if err := c.emit(e); err != nil {
		return nil, err
	}
	c.instrs = append(c.instrs, Instruction{Op: OpReturn})
	return &Program{Instructions: c.instrs, Constants: c.consts}, nil
}

func (c *Compiler) addConst(v any) int {
	c.consts = append(c.consts, v)
	return len(c.consts) - 1
}

func (c *Compiler) emit(e *ast.Expr) error {
	switch e.Kind {
	case ast.ExprLiteral:
		c.instrs = append(c.instrs, Instruction{Op: OpLoadConst, Arg1: c.addConst(e.Literal)})
		return nil

	case ast.ExprColumn:
		idx, second, err := c.ColumnIndex(e.Column)
		if err != nil {
			return err
		}
		if second {
			c.instrs = append(c.instrs, Instruction{Op: OpLoadSecondRowColumn, Arg1: idx})
		} else {
			c.instrs = append(c.instrs, Instruction{Op: OpLoadColumn, Arg1: idx})
		}
		return nil

	case ast.ExprParam:
		if e.ParamName != "" {
			c.instrs = append(c.instrs, Instruction{Op: OpLoadNamedParam, Arg1: c.addConst(e.ParamName)})
		} else {
			c.instrs = append(c.instrs, Instruction{Op: OpLoadParam, Arg1: e.ParamIndex})
		}
		return nil

	case ast.ExprOuterColumn:
		idx, err := c.OuterIndex(e.OuterColumn)
		if err != nil {
			return err
		}
		c.instrs = append(c.instrs, Instruction{Op: OpLoadOuterColumn, Arg1: idx})
		return nil

	case ast.ExprBinary:
		return c.emitBinary(e)

	case ast.ExprUnary:
		if err := c.emit(e.Args[0]); err != nil {
			return err
		}
		switch e.Op {
		case "neg":
			c.instrs = append(c.instrs, Instruction{Op: OpNeg})
		case "not":
			c.instrs = append(c.instrs, Instruction{Op: OpNot})
		default:
			return dberr.New(dberr.KindSemantic, "unknown unary operator %q", e.Op)
		}
		return nil

	case ast.ExprLike:
		if err := c.emit(e.Args[0]); err != nil {
			return err
		}
		if err := c.emit(e.Args[1]); err != nil {
			return err
		}
		arg1 := 0
		if e.Negated {
			arg1 = 1
		}
		c.instrs = append(c.instrs, Instruction{Op: OpLike, Arg1: arg1})
		return nil

	case ast.ExprBetween:
		if err := c.emit(e.Args[0]); err != nil {
			return err
		}
		if err := c.emit(e.Low); err != nil {
			return err
		}
		if err := c.emit(e.High); err != nil {
			return err
		}
		arg1 := 0
		if e.Negated {
			arg1 = 1
		}
		c.instrs = append(c.instrs, Instruction{Op: OpBetween, Arg1: arg1})
		return nil

	case ast.ExprIn:
		return c.emitIn(e)

	case ast.ExprIsNull, ast.ExprIsNotNull:
		if err := c.emit(e.Args[0]); err != nil {
			return err
		}
		op := OpIsNull
		if e.Kind == ast.ExprIsNotNull {
			op = OpIsNotNull
		}
		c.instrs = append(c.instrs, Instruction{Op: op})
		return nil

	case ast.ExprCoalesce:
		for _, a := range e.Args {
			if err := c.emit(a); err != nil {
				return err
			}
		}
		c.instrs = append(c.instrs, Instruction{Op: OpCoalesce, Arg1: len(e.Args)})
		return nil

	case ast.ExprFuncCall:
		for _, a := range e.Args {
			if err := c.emit(a); err != nil {
				return err
			}
		}
		nameIdx := c.addConst(strings.ToLower(e.FuncName))
		c.instrs = append(c.instrs, Instruction{Op: OpCall, Arg1: nameIdx, Arg2: len(e.Args)})
		return nil

	case ast.ExprCast:
		if err := c.emit(e.Args[0]); err != nil {
			return err
		}
		c.instrs = append(c.instrs, Instruction{Op: OpCast, Arg1: c.addConst(e.CastType)})
		return nil

	case ast.ExprSubquery:
		return c.emitSubquery(e)

	case ast.ExprCase:
		return c.emitCase(e)

	default:
		return dberr.New(dberr.KindInternal, "unhandled expression kind %d", e.Kind)
	}
}

func (c *Compiler) emitBinary(e *ast.Expr) error {
	if err := c.emit(e.Args[0]); err != nil {
		return err
	}
	if err := c.emit(e.Args[1]); err != nil {
		return err
	}
	var op Op
	switch e.Op {
	case "+":
		op = OpAdd
	case "-":
		op = OpSub
	case "*":
		op = OpMul
	case "/":
		op = OpDiv
	case "%":
		op = OpMod
	case "^":
		op = OpPow
	case "=":
		op = OpEq
	case "<>", "!=":
		op = OpNe
	case "<":
		op = OpLt
	case "<=":
		op = OpLe
	case ">":
		op = OpGt
	case ">=":
		op = OpGe
	case "and":
		op = OpAnd
	case "or":
		op = OpOr
	case "||":
		op = OpConcat
	default:
		return dberr.New(dberr.KindSemantic, "unknown binary operator %q", e.Op)
	}
	c.instrs = append(c.instrs, Instruction{Op: op})
	return nil
}

func (c *Compiler) emitIn(e *ast.Expr) error {
	if err := c.emit(e.Args[0]); err != nil {
		return err
	}
	if e.InQuery != nil {
		sq, err := c.CompileSubquery(e.InQuery, "in")
		if err != nil {
			return err
		}
		c.instrs = append(c.instrs, Instruction{Op: OpSubqueryIn, Arg1: c.addConst(sq)})
		return nil
	}
	// Constant-foldable lists compile to a shared hash set (O(1) lookup);
	// lists containing non-literal expressions fall back to linear OpInList.
	allLiteral := true
	for _, it := range e.InList {
		if it.Kind != ast.ExprLiteral {
			allLiteral = false
			break
		}
	}
	if allLiteral {
		values := make([]types.Value, len(e.InList))
		for i, it := range e.InList {
			values[i] = it.Literal
		}
		hs := NewHashSet(values)
		arg1 := c.addConst(hs)
		if e.Negated {
			c.instrs = append(c.instrs, Instruction{Op: OpInHashSet, Arg1: arg1})
			c.instrs = append(c.instrs, Instruction{Op: OpNot})
		} else {
			c.instrs = append(c.instrs, Instruction{Op: OpInHashSet, Arg1: arg1})
		}
		return nil
	}
	for _, it := range e.InList {
		if err := c.emit(it); err != nil {
			return err
		}
	}
	c.instrs = append(c.instrs, Instruction{Op: OpInList, Arg1: len(e.InList)})
	if e.Negated {
		c.instrs = append(c.instrs, Instruction{Op: OpNot})
	}
	return nil
}

func (c *Compiler) emitSubquery(e *ast.Expr) error {
	switch e.SubqueryKind {
	case "exists":
		sq, err := c.CompileSubquery(e.Subquery, "exists")
		if err != nil {
			return err
		}
		c.instrs = append(c.instrs, Instruction{Op: OpSubqueryExists, Arg1: c.addConst(sq)})
		return nil
	case "any", "all":
		sq, err := c.CompileSubquery(e.Subquery, e.SubqueryKind)
		if err != nil {
			return err
		}
		if err := c.emit(e.Args[0]); err != nil {
			return err
		}
		cmpIdx := c.addConst(CompareOp(e.CompareOp))
		c.instrs = append(c.instrs, Instruction{Op: OpSubqueryAnyAll, Arg1: c.addConst(sq), Arg2: cmpIdx})
		return nil
	default: // scalar
		sq, err := c.CompileSubquery(e.Subquery, "scalar")
		if err != nil {
			return err
		}
		c.instrs = append(c.instrs, Instruction{Op: OpSubqueryScalar, Arg1: c.addConst(sq)})
		return nil
	}
}

// emitCase lowers CASE into the existing coalesce/jump primitives: a
// CASE expression is equivalent to nested IF/ELSE, compiled as a chain of
// jump-if-false instructions so evaluation short-circuits like SQL CASE.
func (c *Compiler) emitCase(e *ast.Expr) error {
	var jumpToEndPatches []int
	for _, wt := range e.WhenThens {
		cond := wt.When
		if e.CaseOperand != nil {
			cond = &ast.Expr{Kind: ast.ExprBinary, Op: "=", Args: []*ast.Expr{e.CaseOperand, wt.When}}
		}
		if err := c.emit(cond); err != nil {
			return err
		}
		jumpFalsePos := len(c.instrs)
		c.instrs = append(c.instrs, Instruction{Op: OpJumpIfFalse}) // patched below
		if err := c.emit(wt.Then); err != nil {
			return err
		}
		jumpEndPos := len(c.instrs)
		c.instrs = append(c.instrs, Instruction{Op: OpJump}) // patched below
		jumpToEndPatches = append(jumpToEndPatches, jumpEndPos)
		c.instrs[jumpFalsePos].Arg1 = len(c.instrs)
	}
	if e.ElseExpr != nil {
		if err := c.emit(e.ElseExpr); err != nil {
			return err
		}
	} else {
		c.instrs = append(c.instrs, Instruction{Op: OpLoadConst, Arg1: c.addConst(types.Null)})
	}
	end := len(c.instrs)
	for _, pos := range jumpToEndPatches {
		c.instrs[pos].Arg1 = end
	}
	return nil
}
