// Package ast defines the typed statement tree the parser (an external
// collaborator per §1/§6.4) is expected to produce. Only the parser's
// output contract is specified here — no tokenizer or grammar.
package ast

import "github.com/nexusdb/nexusdb/pkg/types"

// Ident is a possibly-qualified column or table identifier (e.g. `t.col`).
type Ident struct {
	Qualifier string // "" if unqualified
	Name      string
}

// Expr is the tagged-union expression tree the compiler (pkg/expr) walks.
// It intentionally mirrors the instruction groups of §4.7 so compilation
// is close to a 1:1 lowering.
type Expr struct {
	Kind ExprKind

	// Literal
	Literal types.Value

	// Column reference
	Column Ident

	// Positional/named parameter
	ParamIndex int
	ParamName  string

	// OuterColumn: correlated-subquery reference to an enclosing row.
	OuterColumn Ident

	// Unary/binary/function operators
	Op       string // "+","-","*","/","%","neg","and","or","not","like","concat", etc.
	Args     []*Expr
	Negated  bool // for LIKE/BETWEEN/IN negation

	// Function call
	FuncName string
	Distinct bool
	// Over is non-nil when this function call carries an OVER clause,
	// making it a window function call rather than a scalar/aggregate
	// call (§4.12). A named window reference (`OVER win_name`) is
	// resolved against the enclosing SelectStatement's WindowDefs by the
	// executor before Over is consulted directly.
	Over     *WindowSpec
	OverName string

	// BETWEEN
	Low, High *Expr

	// IN
	InList  []*Expr
	InQuery *SelectStatement

	// CAST
	CastType string

	// Subquery expressions: scalar, exists, any/all
	Subquery     *SelectStatement
	SubqueryKind string // "scalar","exists","any","all"
	CompareOp    string // for ANY/ALL: the comparison operator applied

	// CASE
	CaseOperand *Expr
	WhenThens   []WhenThen
	ElseExpr    *Expr

	Alias string
}

type WhenThen struct {
	When *Expr
	Then *Expr
}

type ExprKind uint8

const (
	ExprLiteral ExprKind = iota
	ExprColumn
	ExprParam
	ExprOuterColumn
	ExprBinary
	ExprUnary
	ExprLike
	ExprBetween
	ExprIn
	ExprIsNull
	ExprIsNotNull
	ExprCoalesce
	ExprFuncCall
	ExprCast
	ExprSubquery
	ExprCase
)

// SelectItem is one projected expression, optionally aliased.
type SelectItem struct {
	Expr     *Expr
	Alias    string
	Wildcard bool   // SELECT *
	TableWildcard string // SELECT t.*
}

// OrderByItem is one ORDER BY key.
type OrderByItem struct {
	Expr       *Expr
	Descending bool
	NullsFirst *bool // nil = use the per-key default rule (§9)
}

// TableExpression is the tagged union of FROM-clause sources (§6.4).
type TableExpression struct {
	Kind TableExprKind

	Table *TableSource
	Sub   *SubquerySource
	Join  *JoinSource
	Values *ValuesSource
	Cte   *CteReference
}

type TableExprKind uint8

const (
	TableExprTable TableExprKind = iota
	TableExprSubquery
	TableExprJoin
	TableExprValues
	TableExprCte
)

type TableSource struct {
	Name  string
	Alias string
}

type SubquerySource struct {
	Select *SelectStatement
	Alias  string
}

type JoinKind uint8

const (
	JoinInner JoinKind = iota
	JoinLeft
	JoinRight
	JoinFull
	JoinCross
)

type JoinSource struct {
	Left, Right *TableExpression
	Kind        JoinKind
	On          *Expr
}

type ValuesSource struct {
	Rows  [][]*Expr
	Alias string
}

type CteReference struct {
	Name  string
	Alias string
}

// SetOpKind is the kind of set operation combining two SELECTs.
type SetOpKind uint8

const (
	SetOpUnion SetOpKind = iota
	SetOpUnionAll
	SetOpIntersect
	SetOpExcept
)

type SetOperation struct {
	Kind  SetOpKind
	Right *SelectStatement
}

// GroupingSetKind distinguishes plain GROUP BY from ROLLUP/CUBE/explicit
// GROUPING SETS (§4.11).
type GroupingSetKind uint8

const (
	GroupingPlain GroupingSetKind = iota
	GroupingRollup
	GroupingCube
	GroupingSets
)

type GroupBy struct {
	Kind  GroupingSetKind
	Exprs []*Expr
	// Sets is populated only for explicit GROUPING SETS: each inner slice
	// is one grouping set's column list (a subset of Exprs).
	Sets [][]*Expr
}

// WindowFrame is the optional frame clause of a window spec (§4.12).
type FrameUnit uint8

const (
	FrameRows FrameUnit = iota
	FrameRange
)

type FrameBound struct {
	UnboundedPreceding bool
	UnboundedFollowing bool
	CurrentRow         bool
	Offset             *Expr
	Preceding          bool // Offset is a PRECEDING bound if true, else FOLLOWING
}

type WindowFrame struct {
	Unit  FrameUnit
	Start FrameBound
	End   FrameBound
}

type WindowSpec struct {
	Name        string // for WINDOW name AS (...) clauses
	PartitionBy []*Expr
	OrderBy     []OrderByItem
	Frame       *WindowFrame
}

// WithClause is the optional CTE preamble (WITH [RECURSIVE] name AS (...)).
type CteDef struct {
	Name      string
	ColumnAliases []string
	Recursive bool
	Select    *SelectStatement
}

type WithClause struct {
	Ctes []CteDef
}

// SelectStatement is the typed SELECT tree the executor consumes (§6.4).
type SelectStatement struct {
	With       *WithClause
	Distinct   bool
	Projection []SelectItem
	From       *TableExpression
	Where      *Expr
	GroupBy    *GroupBy
	Having     *Expr
	WindowDefs map[string]WindowSpec
	OrderBy    []OrderByItem
	Limit      *int64
	Offset     *int64
	SetOps     []SetOperation
}

// Statement is the top-level tagged union of executable statements. Only
// SELECT is executed by pkg/exec; the DML/DDL forms are consumed directly
// by the table/catalog facades.
type Statement struct {
	Kind   StatementKind
	Select *SelectStatement

	// DML
	InsertTable string
	InsertCols  []string
	InsertRows  [][]*Expr
	UpdateTable string
	UpdateSet   map[string]*Expr
	UpdateWhere *Expr
	DeleteTable string
	DeleteWhere *Expr

	// DDL
	CreateTable *CreateTableStmt
	DropTable   string
	AlterTable  *AlterTableStmt
	CreateIndex *CreateIndexStmt
	DropIndex   string
	Analyze     string // table name, "" means all tables
}

type StatementKind uint8

const (
	StmtSelect StatementKind = iota
	StmtInsert
	StmtUpdate
	StmtDelete
	StmtCreateTable
	StmtDropTable
	StmtAlterTable
	StmtCreateIndex
	StmtDropIndex
	StmtAnalyze
)

type CreateTableStmt struct {
	Name    string
	Columns []ColumnSpec
}

type ColumnSpec struct {
	Name       string
	Type       string
	Nullable   bool
	PrimaryKey bool
	Default    *Expr
}

type AlterTableStmt struct {
	Table      string
	AddColumn  *ColumnSpec
	DropColumn string
}

type CreateIndexStmt struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
	Kind    string // "" lets the engine auto-select per §4.5
}
