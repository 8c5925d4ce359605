package expr

import (
	"math"
	"strconv"
	"strings"

	"github.com/nexusdb/nexusdb/pkg/dberr"
	"github.com/nexusdb/nexusdb/pkg/types"
)

// FunctionCaller invokes a registered function by name; supplied by
// pkg/functions so pkg/expr does not depend on the registry directly
// (avoiding an import cycle, since aggregate/window functions in
// pkg/functions may themselves reference compiled expressions).
type FunctionCaller func(name string, args []types.Value) (types.Value, error)

// Context is the VM's execution context (§4.7): the current row, an
// optional second row (join predicates), positional and named
// parameters, an optional outer-row binding (correlated subqueries), and
// the active transaction id for subquery execution.
type Context struct {
	Row          types.Row
	SecondRow    types.Row
	Positional   []types.Value
	Named        map[string]types.Value
	OuterRow     types.Row
	TxnID        int64
	Call         FunctionCaller

	// InProbe is the left-hand operand of an `x IN (subquery)` test, set
	// by the VM immediately before invoking an OpSubqueryIn Subquery's
	// Run so the runner (which alone can build/cache the subquery's
	// result hash set) has something to test membership against; the
	// runner returns the membership boolean directly as its Value.
	InProbe types.Value

	// AnyAllProbe/AnyAllOp are the operand and comparator of an
	// `x op ANY/ALL (subquery)` test (§4.13's ALL/ANY rewrites), set by
	// the VM before invoking an OpSubqueryAnyAll Subquery's Run. The
	// runner alone knows whether the rewrite needs MAX, MIN, IN, or
	// NOT IN of the subquery's result set, so Run returns the final
	// boolean directly rather than a scalar for the VM to compare.
	AnyAllProbe types.Value
	AnyAllOp    CompareOp
}

// VM is a thread-local evaluator: the Program is shared by reference and
// never mutated during execution, so many VMs can run the same Program
// concurrently, each with its own stack (§4.7: "no locks in the hot
// path").
type VM struct {
	stack []types.Value
}

// NewVM creates a VM with a small pre-sized stack; the stack's backing
// array is reused across Eval calls (capacity carries over, per §4.7's
// "stack reuses capacity across row evaluations").
func NewVM() *VM {
	return &VM{stack: make([]types.Value, 0, 16)}
}

func (m *VM) push(v types.Value) { m.stack = append(m.stack, v) }

func (m *VM) pop() types.Value {
	n := len(m.stack) - 1
	v := m.stack[n]
	m.stack = m.stack[:n]
	return v
}

func (m *VM) popN(n int) []types.Value {
	start := len(m.stack) - n
	out := append([]types.Value(nil), m.stack[start:]...)
	m.stack = m.stack[:start]
	return out
}

// Eval runs prog to completion against ctx and returns the single
// resulting Value. The stack is reset (length 0, capacity retained)
// before execution.
func (m *VM) Eval(prog *Program, ctx *Context) (types.Value, error) {
	m.stack = m.stack[:0]
	ip := 0
	for ip < len(prog.Instructions) {
		in := prog.Instructions[ip]
		switch in.Op {
		case OpReturn:
			return m.pop(), nil

		case OpLoadColumn:
			if in.Arg1 >= len(ctx.Row) {
				return types.Null, dberr.New(dberr.KindInternal, "column index %d out of range", in.Arg1)
			}
			m.push(ctx.Row[in.Arg1])

		case OpLoadSecondRowColumn:
			if in.Arg1 >= len(ctx.SecondRow) {
				return types.Null, dberr.New(dberr.KindInternal, "second-row column index %d out of range", in.Arg1)
			}
			m.push(ctx.SecondRow[in.Arg1])

		case OpLoadOuterColumn:
			if in.Arg1 >= len(ctx.OuterRow) {
				return types.Null, dberr.New(dberr.KindInternal, "outer-row column index %d out of range", in.Arg1)
			}
			m.push(ctx.OuterRow[in.Arg1])

		case OpLoadConst:
			m.push(prog.Constants[in.Arg1].(types.Value))

		case OpLoadParam:
			if in.Arg1 >= len(ctx.Positional) {
				return types.Null, dberr.New(dberr.KindSemantic, "positional parameter $%d not bound", in.Arg1+1)
			}
			m.push(ctx.Positional[in.Arg1])

		case OpLoadNamedParam:
			name := prog.Constants[in.Arg1].(string)
			v, ok := ctx.Named[name]
			if !ok {
				return types.Null, dberr.New(dberr.KindSemantic, "named parameter :%s not bound", name)
			}
			m.push(v)

		case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpPow:
			b, a := m.pop(), m.pop()
			v, err := arith(in.Op, a, b)
			if err != nil {
				return types.Null, err
			}
			m.push(v)

		case OpNeg:
			a := m.pop()
			if a.IsNull() {
				m.push(types.Null)
			} else if a.Kind() == types.KindInteger {
				m.push(types.NewInteger(-a.Int()))
			} else {
				m.push(types.NewFloat(-a.AsFloat64()))
			}

		case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
			b, a := m.pop(), m.pop()
			m.push(compareOp(in.Op, a, b))

		case OpAnd:
			b, a := m.pop(), m.pop()
			m.push(threeValuedAnd(a, b))

		case OpOr:
			b, a := m.pop(), m.pop()
			m.push(threeValuedOr(a, b))

		case OpNot:
			a := m.pop()
			if a.IsNull() {
				m.push(types.Null)
			} else {
				m.push(types.NewBoolean(!a.Bool()))
			}

		case OpConcat:
			b, a := m.pop(), m.pop()
			if a.IsNull() || b.IsNull() {
				m.push(types.Null)
			} else {
				m.push(types.NewText(a.Text() + b.Text()))
			}

		case OpLike:
			pattern, value := m.pop(), m.pop()
			if value.IsNull() || pattern.IsNull() {
				m.push(types.Null)
				break
			}
			matched := likeMatch(value.Text(), pattern.Text())
			if in.Arg1 == 1 {
				matched = !matched
			}
			m.push(types.NewBoolean(matched))

		case OpInList:
			args := m.popN(in.Arg1)
			target := m.pop()
			m.push(inList(target, args))

		case OpInHashSet:
			target := m.pop()
			hs := prog.Constants[in.Arg1].(*HashSet)
			if target.IsNull() {
				m.push(types.Null)
			} else {
				m.push(types.NewBoolean(hs.Contains(target)))
			}

		case OpBetween:
			high, low, value := m.pop(), m.pop(), m.pop()
			v := between(value, low, high)
			if in.Arg1 == 1 && !v.IsNull() {
				v = types.NewBoolean(!v.Bool())
			}
			m.push(v)

		case OpIsNull:
			m.push(types.NewBoolean(m.pop().IsNull()))

		case OpIsNotNull:
			m.push(types.NewBoolean(!m.pop().IsNull()))

		case OpCoalesce:
			args := m.popN(in.Arg1)
			result := types.Null
			for _, a := range args {
				if !a.IsNull() {
					result = a
					break
				}
			}
			m.push(result)

		case OpCall:
			args := m.popN(in.Arg2)
			name := prog.Constants[in.Arg1].(string)
			if ctx.Call == nil {
				return types.Null, dberr.New(dberr.KindInternal, "no function caller installed in execution context")
			}
			v, err := ctx.Call(name, args)
			if err != nil {
				return types.Null, err
			}
			m.push(v)

		case OpCast:
			a := m.pop()
			typeName := prog.Constants[in.Arg1].(string)
			v, err := castValue(a, typeName)
			if err != nil {
				return types.Null, err
			}
			m.push(v)

		case OpJump:
			ip = in.Arg1
			continue

		case OpJumpIfFalse:
			cond := m.pop()
			if cond.IsNull() || !cond.Bool() {
				ip = in.Arg1
				continue
			}

		case OpSubqueryScalar, OpSubqueryExists, OpSubqueryIn:
			sq := prog.Constants[in.Arg1].(*Subquery)
			if in.Op == OpSubqueryIn {
				ctx.InProbe = m.pop()
			}
			v, err := sq.Run(ctx)
			if err != nil {
				return types.Null, err
			}
			if in.Op == OpSubqueryIn {
				m.push(inSubqueryResult(ctx.InProbe, v))
			} else {
				m.push(v)
			}

		case OpSubqueryAnyAll:
			ctx.AnyAllProbe = m.pop()
			ctx.AnyAllOp = prog.Constants[in.Arg2].(CompareOp)
			sq := prog.Constants[in.Arg1].(*Subquery)
			v, err := sq.Run(ctx)
			if err != nil {
				return types.Null, err
			}
			m.push(v)

		default:
			return types.Null, dberr.New(dberr.KindInternal, "unknown opcode %d", in.Op)
		}
		ip++
	}
	if len(m.stack) == 0 {
		return types.Null, nil
	}
	return m.pop(), nil
}

func arith(op Op, a, b types.Value) (types.Value, error) {
	if a.IsNull() || b.IsNull() {
		return types.Null, nil
	}
	if a.Kind() != types.KindInteger && a.Kind() != types.KindFloat {
		return types.Null, dberr.New(dberr.KindSemantic, "arithmetic on non-numeric operand %s", a.Kind())
	}
	if b.Kind() != types.KindInteger && b.Kind() != types.KindFloat {
		return types.Null, dberr.New(dberr.KindSemantic, "arithmetic on non-numeric operand %s", b.Kind())
	}
	bothInt := a.Kind() == types.KindInteger && b.Kind() == types.KindInteger
	if bothInt && op != OpDiv && op != OpPow {
		ai, bi := a.Int(), b.Int()
		switch op {
		case OpAdd:
			return types.NewInteger(ai + bi), nil
		case OpSub:
			return types.NewInteger(ai - bi), nil
		case OpMul:
			return types.NewInteger(ai * bi), nil
		case OpMod:
			if bi == 0 {
				return types.Null, dberr.New(dberr.KindSemantic, "division by zero")
			}
			return types.NewInteger(ai % bi), nil
		}
	}
	af, bf := a.AsFloat64(), b.AsFloat64()
	switch op {
	case OpAdd:
		return types.NewFloat(af + bf), nil
	case OpSub:
		return types.NewFloat(af - bf), nil
	case OpMul:
		return types.NewFloat(af * bf), nil
	case OpDiv:
		if bf == 0 {
			return types.Null, dberr.New(dberr.KindSemantic, "division by zero")
		}
		return types.NewFloat(af / bf), nil
	case OpMod:
		if bf == 0 {
			return types.Null, dberr.New(dberr.KindSemantic, "division by zero")
		}
		return types.NewFloat(floatMod(af, bf)), nil
	case OpPow:
		return types.NewFloat(floatPow(af, bf)), nil
	}
	return types.Null, dberr.New(dberr.KindInternal, "unreachable arithmetic op %d", op)
}

func compareOp(op Op, a, b types.Value) types.Value {
	if a.IsNull() || b.IsNull() {
		return types.Null // three-valued unknown (§4.7)
	}
	c := types.Compare(a, b)
	switch op {
	case OpEq:
		return types.NewBoolean(types.Equal(a, b))
	case OpNe:
		return types.NewBoolean(!types.Equal(a, b))
	case OpLt:
		return types.NewBoolean(c < 0)
	case OpLe:
		return types.NewBoolean(c <= 0)
	case OpGt:
		return types.NewBoolean(c > 0)
	case OpGe:
		return types.NewBoolean(c >= 0)
	}
	return types.Null
}

// threeValuedAnd implements §4.7: short-circuits to false if any argument
// is false; unknown if no false and any unknown; else true.
func threeValuedAnd(a, b types.Value) types.Value {
	aFalse := !a.IsNull() && !a.Bool()
	bFalse := !b.IsNull() && !b.Bool()
	if aFalse || bFalse {
		return types.NewBoolean(false)
	}
	if a.IsNull() || b.IsNull() {
		return types.Null
	}
	return types.NewBoolean(true)
}

// threeValuedOr is the symmetric rule for OR (§4.7).
func threeValuedOr(a, b types.Value) types.Value {
	aTrue := !a.IsNull() && a.Bool()
	bTrue := !b.IsNull() && b.Bool()
	if aTrue || bTrue {
		return types.NewBoolean(true)
	}
	if a.IsNull() || b.IsNull() {
		return types.Null
	}
	return types.NewBoolean(false)
}

func between(value, low, high types.Value) types.Value {
	if value.IsNull() || low.IsNull() || high.IsNull() {
		return types.Null
	}
	return types.NewBoolean(types.Compare(value, low) >= 0 && types.Compare(value, high) <= 0)
}

func inList(target types.Value, candidates []types.Value) types.Value {
	if target.IsNull() {
		return types.Null
	}
	sawNull := false
	for _, c := range candidates {
		if c.IsNull() {
			sawNull = true
			continue
		}
		if types.Equal(target, c) {
			return types.NewBoolean(true)
		}
	}
	if sawNull {
		return types.Null
	}
	return types.NewBoolean(false)
}

// inSubqueryResult applies the outer three-valued-logic wrapper around a
// subquery runner's membership boolean: a NULL probe value makes `x IN
// (subquery)` unknown regardless of the subquery's contents, matching
// plain IN-list semantics (§4.7).
func inSubqueryResult(target, membership types.Value) types.Value {
	if target.IsNull() {
		return types.Null
	}
	return membership
}

func compareAgainst(operand types.Value, cmp CompareOp, aggregated types.Value) types.Value {
	if operand.IsNull() || aggregated.IsNull() {
		return types.Null
	}
	c := types.Compare(operand, aggregated)
	switch cmp {
	case CompareEq:
		return types.NewBoolean(types.Equal(operand, aggregated))
	case CompareNe:
		return types.NewBoolean(!types.Equal(operand, aggregated))
	case CompareLt:
		return types.NewBoolean(c < 0)
	case CompareLe:
		return types.NewBoolean(c <= 0)
	case CompareGt:
		return types.NewBoolean(c > 0)
	case CompareGe:
		return types.NewBoolean(c >= 0)
	}
	return types.Null
}

// likeMatch implements SQL LIKE with `%` (any run) and `_` (single char)
// wildcards and `\` escaping, per §4.7.
func likeMatch(s, pattern string) bool {
	return likeMatchRunes([]rune(s), []rune(pattern))
}

func likeMatchRunes(s, p []rune) bool {
	var si, pi int
	var starIdx = -1
	var matchIdx int
	for si < len(s) {
		if pi < len(p) && p[pi] == '\\' && pi+1 < len(p) {
			if si < len(s) && s[si] == p[pi+1] {
				si++
				pi += 2
				continue
			}
		} else if pi < len(p) && (p[pi] == '_' || p[pi] == s[si]) {
			si++
			pi++
			continue
		} else if pi < len(p) && p[pi] == '%' {
			starIdx = pi
			matchIdx = si
			pi++
			continue
		}
		if starIdx != -1 {
			pi = starIdx + 1
			matchIdx++
			si = matchIdx
			continue
		}
		return false
	}
	for pi < len(p) && p[pi] == '%' {
		pi++
	}
	return pi == len(p)
}

func floatMod(a, b float64) float64 { return math.Mod(a, b) }

func floatPow(base, exp float64) float64 { return math.Pow(base, exp) }

func castValue(v types.Value, typeName string) (types.Value, error) {
	if v.IsNull() {
		return types.Null, nil
	}
	switch strings.ToUpper(typeName) {
	case "INTEGER", "INT", "BIGINT":
		switch v.Kind() {
		case types.KindInteger:
			return v, nil
		case types.KindFloat:
			return types.NewInteger(int64(v.Float())), nil
		case types.KindBoolean:
			if v.Bool() {
				return types.NewInteger(1), nil
			}
			return types.NewInteger(0), nil
		case types.KindText:
			n, err := strconv.ParseInt(strings.TrimSpace(v.Text()), 10, 64)
			if err != nil {
				return types.Null, dberr.New(dberr.KindSemantic, "cannot cast %q to INTEGER", v.Text())
			}
			return types.NewInteger(n), nil
		}
	case "FLOAT", "DOUBLE", "REAL":
		switch v.Kind() {
		case types.KindInteger, types.KindFloat:
			return types.NewFloat(v.AsFloat64()), nil
		case types.KindText:
			f, err := strconv.ParseFloat(strings.TrimSpace(v.Text()), 64)
			if err != nil {
				return types.Null, dberr.New(dberr.KindSemantic, "cannot cast %q to FLOAT", v.Text())
			}
			return types.NewFloat(f), nil
		}
	case "TEXT", "VARCHAR", "STRING":
		return types.NewText(v.String()), nil
	case "BOOLEAN", "BOOL":
		switch v.Kind() {
		case types.KindBoolean:
			return v, nil
		case types.KindInteger:
			return types.NewBoolean(v.Int() != 0), nil
		case types.KindText:
			switch strings.ToLower(v.Text()) {
			case "true", "t", "1":
				return types.NewBoolean(true), nil
			case "false", "f", "0":
				return types.NewBoolean(false), nil
			}
		}
	}
	return types.Null, dberr.New(dberr.KindSemantic, "cannot cast %s to %s", v.Kind(), typeName)
}
