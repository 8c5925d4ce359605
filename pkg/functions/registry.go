// Package functions implements the process-wide function registry of
// §4.8: scalar, aggregate, and window capability sets, populated at
// initialization and looked up case-insensitively.
package functions

import (
	"sync"

	"golang.org/x/text/cases"

	"github.com/nexusdb/nexusdb/pkg/dberr"
	"github.com/nexusdb/nexusdb/pkg/types"
)

var foldCaser = cases.Fold()

func fold(name string) string { return foldCaser.String(name) }

// ScalarFunction is the stateless scalar capability set (§4.8).
type ScalarFunction interface {
	Evaluate(args []types.Value) (types.Value, error)
}

type ScalarFunc func(args []types.Value) (types.Value, error)

func (f ScalarFunc) Evaluate(args []types.Value) (types.Value, error) { return f(args) }

// AggregateFunction is the aggregate capability set (§4.8). Accumulate is
// called once per input row; AccumulateOrdered additionally carries sort
// keys for ordered-set aggregates. Reset returns the accumulator to its
// initial state so one allocated instance can be reused across groups.
type AggregateFunction interface {
	Accumulate(value types.Value, distinct bool)
	AccumulateOrdered(value types.Value, sortKeys []types.Value, distinct bool)
	Finalize() (types.Value, error)
	Reset()
}

// AggregateFactory constructs a fresh accumulator instance; the registry
// stores factories, not shared accumulator instances, since each group
// (or partition) needs its own accumulation state.
type AggregateFactory func() AggregateFunction

// WindowKind discriminates the three window-function families of §4.12.
type WindowKind uint8

const (
	WindowRanking WindowKind = iota
	WindowOffset
	WindowAggregate
)

// WindowFunction computes a result for one row of a partition, given the
// partition's full row set (already sorted by the window's ORDER BY),
// the current row's position, and any evaluated call arguments.
// ROW_NUMBER ignores args; RANK, DENSE_RANK, PERCENT_RANK and CUME_DIST
// compare the sort key the caller places at args[0]; NTILE reads its
// bucket count from args[0]; offset functions use args[0] as the value
// expression and (for LAG/LEAD) args[1]/args[2] as offset/default.
type WindowFunction interface {
	Kind() WindowKind
	// Compute evaluates the function for the row at index pos within
	// partition (a precomputed slice of per-row evaluated args, one per
	// partition row, aligned to the partition's sorted order).
	Compute(partitionArgs [][]types.Value, pos int) (types.Value, error)
}

// FunctionInfo is the registry entry for one function name, capturing
// which capability sets it supports. A name may be both an aggregate and
// a window function (e.g. SUM used as a window aggregate), matching the
// teacher's own function catalog shape.
type FunctionInfo struct {
	Name      string
	Scalar    ScalarFunction
	Aggregate AggregateFactory
	Window    func() WindowFunction
}

// Registry is the immutable-after-init, case-insensitive function lookup
// table of §4.8.
type Registry struct {
	mu   sync.RWMutex
	byFn map[string]*FunctionInfo
}

func NewRegistry() *Registry {
	return &Registry{byFn: make(map[string]*FunctionInfo)}
}

func (r *Registry) Register(info *FunctionInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byFn[fold(info.Name)] = info
}

func (r *Registry) Lookup(name string) (*FunctionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byFn[fold(name)]
	return info, ok
}

// Call is the FunctionCaller the expr VM invokes for OpCall: resolves a
// scalar function by name and evaluates it.
func (r *Registry) Call(name string, args []types.Value) (types.Value, error) {
	info, ok := r.Lookup(name)
	if !ok || info.Scalar == nil {
		return types.Null, dberr.New(dberr.KindSemantic, "unknown function %q", name)
	}
	return info.Scalar.Evaluate(args)
}

// NewAccumulator resolves an aggregate function's factory and returns a
// fresh accumulator instance, or an error if name is not a registered
// aggregate.
func (r *Registry) NewAccumulator(name string) (AggregateFunction, error) {
	info, ok := r.Lookup(name)
	if !ok || info.Aggregate == nil {
		return nil, dberr.New(dberr.KindSemantic, "unknown aggregate function %q", name)
	}
	return info.Aggregate(), nil
}

// NewWindowFunction resolves a window function by name.
func (r *Registry) NewWindowFunction(name string) (WindowFunction, error) {
	info, ok := r.Lookup(name)
	if !ok || info.Window == nil {
		return nil, dberr.New(dberr.KindSemantic, "unknown window function %q", name)
	}
	return info.Window(), nil
}

// NewDefaultRegistry builds the modest built-in function library of
// §4.8/SPEC_FULL.md's supplemented-features note: only the registry
// contract is fully specified, so this wires a representative set
// (arithmetic/string/date scalars, SUM/COUNT/AVG/MIN/MAX aggregates,
// ROW_NUMBER/RANK/DENSE_RANK/LAG/LEAD window functions) rather than the
// teacher's full catalog (spatial/vector/ICU/financial bodies are out of
// scope per §1).
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	registerScalars(r)
	registerAggregates(r)
	registerWindows(r)
	return r
}
