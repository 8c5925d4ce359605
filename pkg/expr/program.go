// Package expr implements the expression compiler and stack-based
// evaluation VM of §4.7: AST expressions lower into an immutable Program
// of bytecode instructions plus a constant pool, shared by reference
// across threads; each thread owns its own VM instance.
package expr

import "github.com/nexusdb/nexusdb/pkg/types"

// Op is one VM instruction opcode.
type Op uint8

const (
	OpLoadColumn Op = iota
	OpLoadConst
	OpLoadParam
	OpLoadNamedParam
	OpLoadOuterColumn
	OpLoadSecondRowColumn

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg
	OpPow

	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe

	OpAnd
	OpOr
	OpNot

	OpConcat
	OpLike // operand: pattern is top of stack, negated flag in Arg1

	OpInList    // Arg1 = operand count
	OpInHashSet // Arg1 = index of a precomputed hash set in the constant pool

	OpBetween // pops (value, low, high); Arg1 = negated flag

	OpIsNull
	OpIsNotNull
	OpCoalesce // Arg1 = operand count

	OpCall // Arg1 = function-name const index, Arg2 = arg count

	OpJump       // Arg1 = absolute instruction index
	OpJumpIfFalse
	OpReturn

	OpSubqueryScalar // Arg1 = compiled-subquery const index
	OpSubqueryExists
	OpSubqueryIn
	OpSubqueryAnyAll // Arg1 = compiled-subquery const index, Arg2 = comparator const index

	OpCast // Arg1 = type-name const index
)

// Instruction is one bytecode instruction. Arg1/Arg2 are reused for
// different meanings depending on Op, documented alongside each Op above.
type Instruction struct {
	Op   Op
	Arg1 int
	Arg2 int
}

// HashSet is a precomputed IN-list hash set for OpInHashSet (§4.7: "O(1)
// membership against a shared hash set").
type HashSet struct {
	members map[uint64][]types.Value
}

func NewHashSet(values []types.Value) *HashSet {
	hs := &HashSet{members: make(map[uint64][]types.Value, len(values))}
	for _, v := range values {
		k := v.HashKey()
		hs.members[k] = append(hs.members[k], v)
	}
	return hs
}

func (hs *HashSet) Contains(v types.Value) bool {
	for _, cand := range hs.members[v.HashKey()] {
		if types.Equal(cand, v) {
			return true
		}
	}
	return false
}

// Subquery is an embedded compiled SELECT plan, opaque to this package —
// pkg/exec supplies the concrete executor function that runs it against
// the current execution context's transaction and outer-row binding.
type Subquery struct {
	Run func(ctx *Context) (types.Value, error)
}

// Program is an immutable vector of instructions plus a constant pool,
// shared by reference across threads (§4.7). Constants is a slice of
// `any` holding types.Value, *HashSet, *Subquery, string (function/type
// names), or CompareOp, indexed by the instruction Arg fields.
type Program struct {
	Instructions []Instruction
	Constants    []any
}

// CompareOp names an ANY/ALL comparator, resolved at compile time.
type CompareOp string

const (
	CompareEq CompareOp = "="
	CompareNe CompareOp = "<>"
	CompareLt CompareOp = "<"
	CompareLe CompareOp = "<="
	CompareGt CompareOp = ">"
	CompareGe CompareOp = ">="
)
