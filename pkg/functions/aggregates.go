package functions

import "github.com/nexusdb/nexusdb/pkg/types"

func registerAggregates(r *Registry) {
	r.Register(&FunctionInfo{Name: "count", Aggregate: func() AggregateFunction { return &countAgg{} }})
	r.Register(&FunctionInfo{Name: "sum", Aggregate: func() AggregateFunction { return &sumAgg{} }})
	r.Register(&FunctionInfo{Name: "avg", Aggregate: func() AggregateFunction { return &avgAgg{} }})
	r.Register(&FunctionInfo{Name: "min", Aggregate: func() AggregateFunction { return &minMaxAgg{isMin: true} }})
	r.Register(&FunctionInfo{Name: "max", Aggregate: func() AggregateFunction { return &minMaxAgg{} }})
}

// distinctTracker implements the §4.8 "DISTINCT implemented by function's
// internal hash set" requirement, shared by every aggregate below.
type distinctTracker struct {
	seen map[uint64][]types.Value
}

func (d *distinctTracker) seenBefore(v types.Value) bool {
	if d.seen == nil {
		d.seen = make(map[uint64][]types.Value)
	}
	k := v.HashKey()
	for _, cand := range d.seen[k] {
		if types.Equal(cand, v) {
			return true
		}
	}
	d.seen[k] = append(d.seen[k], v)
	return false
}

func (d *distinctTracker) reset() { d.seen = nil }

type countAgg struct {
	n        int64
	distinct distinctTracker
}

func (a *countAgg) Accumulate(value types.Value, distinct bool) {
	if value.IsNull() {
		return
	}
	if distinct && a.distinct.seenBefore(value) {
		return
	}
	a.n++
}

func (a *countAgg) AccumulateOrdered(value types.Value, _ []types.Value, distinct bool) {
	a.Accumulate(value, distinct)
}

func (a *countAgg) Finalize() (types.Value, error) { return types.NewInteger(a.n), nil }

func (a *countAgg) Reset() { a.n = 0; a.distinct.reset() }

// CountStar is COUNT(*): it has no DISTINCT and counts every row,
// including those with null columns, so it is kept separate from
// countAgg's column-level null skipping.
type CountStar struct{ n int64 }

func (a *CountStar) Accumulate(types.Value, bool)              { a.n++ }
func (a *CountStar) AccumulateOrdered(types.Value, []types.Value, bool) { a.n++ }
func (a *CountStar) Finalize() (types.Value, error)            { return types.NewInteger(a.n), nil }
func (a *CountStar) Reset()                                    { a.n = 0 }

type sumAgg struct {
	sumF     float64
	sumI     int64
	isFloat  bool
	any      bool
	distinct distinctTracker
}

func (a *sumAgg) Accumulate(value types.Value, distinct bool) {
	if value.IsNull() {
		return
	}
	if distinct && a.distinct.seenBefore(value) {
		return
	}
	a.any = true
	if value.Kind() == types.KindFloat {
		a.isFloat = true
	}
	if a.isFloat {
		a.sumF += value.AsFloat64()
	} else {
		a.sumI += value.Int()
	}
}

func (a *sumAgg) AccumulateOrdered(value types.Value, _ []types.Value, distinct bool) {
	a.Accumulate(value, distinct)
}

func (a *sumAgg) Finalize() (types.Value, error) {
	if !a.any {
		return types.Null, nil
	}
	if a.isFloat {
		return types.NewFloat(a.sumF), nil
	}
	return types.NewInteger(a.sumI), nil
}

func (a *sumAgg) Reset() { *a = sumAgg{} }

type avgAgg struct {
	sum      float64
	n        int64
	distinct distinctTracker
}

func (a *avgAgg) Accumulate(value types.Value, distinct bool) {
	if value.IsNull() {
		return
	}
	if distinct && a.distinct.seenBefore(value) {
		return
	}
	a.sum += value.AsFloat64()
	a.n++
}

func (a *avgAgg) AccumulateOrdered(value types.Value, _ []types.Value, distinct bool) {
	a.Accumulate(value, distinct)
}

func (a *avgAgg) Finalize() (types.Value, error) {
	if a.n == 0 {
		return types.Null, nil
	}
	return types.NewFloat(a.sum / float64(a.n)), nil
}

func (a *avgAgg) Reset() { *a = avgAgg{} }

type minMaxAgg struct {
	isMin    bool
	current  types.Value
	any      bool
	distinct distinctTracker
}

func (a *minMaxAgg) Accumulate(value types.Value, distinct bool) {
	if value.IsNull() {
		return
	}
	if distinct && a.distinct.seenBefore(value) {
		return
	}
	if !a.any {
		a.current, a.any = value, true
		return
	}
	c := types.Compare(value, a.current)
	if (a.isMin && c < 0) || (!a.isMin && c > 0) {
		a.current = value
	}
}

func (a *minMaxAgg) AccumulateOrdered(value types.Value, _ []types.Value, distinct bool) {
	a.Accumulate(value, distinct)
}

func (a *minMaxAgg) Finalize() (types.Value, error) {
	if !a.any {
		return types.Null, nil
	}
	return a.current, nil
}

func (a *minMaxAgg) Reset() { *a = minMaxAgg{isMin: a.isMin} }
