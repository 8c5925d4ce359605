package exec

import (
	"time"

	"go.uber.org/zap"

	"github.com/nexusdb/nexusdb/pkg/catalog"
	"github.com/nexusdb/nexusdb/pkg/functions"
	"github.com/nexusdb/nexusdb/pkg/table"
	"github.com/nexusdb/nexusdb/pkg/txn"
	"github.com/nexusdb/nexusdb/pkg/types"
)

// maxExecutionDepth bounds subquery/CTE/view recursion (§4.10's "install
// a timeout guard" preamble also implies a depth guard against runaway
// nested views/subqueries, since a wall-clock timeout alone would still
// let a pathological plan exhaust the stack first).
const maxExecutionDepth = 64

// maxRecursiveCteIterations is §4.13's explicit recursive-CTE bound.
const maxRecursiveCteIterations = 10000

// Engine is the process-wide, read-mostly dependency set every query
// execution shares: the catalog, the live table set, and the function
// registry. It holds no per-query state.
type Engine struct {
	Catalog   *catalog.Catalog
	Tables    map[string]*table.Table
	Functions *functions.Registry
	Registry  *txn.Registry
	Logger    *zap.Logger
	Cache     *ResultCache
}

func NewEngine(cat *catalog.Catalog, tables map[string]*table.Table, fns *functions.Registry, reg *txn.Registry, logger *zap.Logger) *Engine {
	return &Engine{
		Catalog:   cat,
		Tables:    tables,
		Functions: fns,
		Registry:  reg,
		Logger:    logger,
		Cache:     NewResultCache(),
	}
}

// QueryState is the per-execution-call state threaded through
// execute_select and its descendants: the requesting transaction's local
// store, bound parameters, CTE bindings in scope, nesting depth, and the
// subquery result cache for this top-level statement's lifetime (§4.13:
// "cache by SQL-form key within the outer query's lifetime").
type QueryState struct {
	Local      *txn.LocalStore
	Positional []types.Value
	Named      map[string]types.Value

	// Ctes maps a lowercased CTE name to its already-materialized rows
	// (§4.13). A nested scope (recursive member execution) gets its own
	// child QueryState with an overridden entry via withCte.
	Ctes map[string]*RowSet

	// OuterRS/OuterRow give a correlated subquery's body access to its
	// enclosing query's column bindings and the one specific row
	// currently being tested (§4.13's per-row correlated evaluation).
	// Both are nil outside a correlated-subquery body.
	OuterRS  *RowSet
	OuterRow types.Row

	depth int

	// subqueryCache memoizes non-correlated scalar and EXISTS subquery
	// results by SQL-form key for the lifetime of the outermost statement
	// (§4.13).
	subqueryCache map[string]types.Value

	// InExplicitTxn disables the semantic result cache (§4.10: "Do not
	// use the cache inside explicit transactions").
	InExplicitTxn bool

	StartedAt time.Time
}

// NewQueryState begins a fresh top-level execute_select call.
func NewQueryState(local *txn.LocalStore, positional []types.Value, named map[string]types.Value, explicitTxn bool) *QueryState {
	return &QueryState{
		Local:         local,
		Positional:    positional,
		Named:         named,
		Ctes:          make(map[string]*RowSet),
		subqueryCache: make(map[string]types.Value),
		InExplicitTxn: explicitTxn,
		StartedAt:     time.Now(),
	}
}

// child derives nested-call state (subquery, CTE recursive step, view
// expansion) sharing the cache and CTE bindings but one level deeper.
func (qs *QueryState) child() *QueryState {
	c := *qs
	c.depth++
	return &c
}

// withCte returns a derived state where name additionally resolves to
// rows, without disturbing the parent's bindings (used for a recursive
// CTE's per-iteration rebinding of its own name to the working set).
func (qs *QueryState) withCte(name string, rows *RowSet) *QueryState {
	c := qs.child()
	c.Ctes = make(map[string]*RowSet, len(qs.Ctes)+1)
	for k, v := range qs.Ctes {
		c.Ctes[k] = v
	}
	c.Ctes[types.Fold(name)] = rows
	return c
}
