package functions

import "github.com/nexusdb/nexusdb/pkg/types"

func registerWindows(r *Registry) {
	r.Register(&FunctionInfo{Name: "row_number", Window: func() WindowFunction { return &rowNumberFn{} }})
	r.Register(&FunctionInfo{Name: "rank", Window: func() WindowFunction { return &rankFn{} }})
	r.Register(&FunctionInfo{Name: "dense_rank", Window: func() WindowFunction { return &rankFn{dense: true} }})
	r.Register(&FunctionInfo{Name: "percent_rank", Window: func() WindowFunction { return &percentRankFn{} }})
	r.Register(&FunctionInfo{Name: "cume_dist", Window: func() WindowFunction { return &cumeDistFn{} }})
	r.Register(&FunctionInfo{Name: "ntile", Window: func() WindowFunction { return &ntileFn{} }})
	r.Register(&FunctionInfo{Name: "lag", Window: func() WindowFunction { return &lagLeadFn{isLag: true} }})
	r.Register(&FunctionInfo{Name: "lead", Window: func() WindowFunction { return &lagLeadFn{} }})
	r.Register(&FunctionInfo{Name: "first_value", Window: func() WindowFunction { return &firstLastFn{first: true} }})
	r.Register(&FunctionInfo{Name: "last_value", Window: func() WindowFunction { return &firstLastFn{} }})
	r.Register(&FunctionInfo{Name: "nth_value", Window: func() WindowFunction { return &nthValueFn{} }})
}

// The window functions below receive partitionArgs: one evaluated
// argument vector per row of the partition, in ORDER BY-sorted order
// (§4.12 step 3: "precompute ORDER BY expression values once per input
// row"). Ranking functions additionally need the sort-key comparison,
// which the caller (pkg/exec's window engine) supplies as the 0th
// synthetic argument for rank-family functions so this package stays
// free of direct ast/expr dependencies.

type rowNumberFn struct{}

func (rowNumberFn) Kind() WindowKind { return WindowRanking }
func (rowNumberFn) Compute(partitionArgs [][]types.Value, pos int) (types.Value, error) {
	return types.NewInteger(int64(pos + 1)), nil
}

// rankFn implements RANK (gap-on-ties) and, with dense=true, DENSE_RANK
// (no gaps). partitionArgs[i][0] carries the row's sort-key tuple encoded
// as a single comparable Value by the caller (a composite text encoding
// when multiple ORDER BY keys are present).
type rankFn struct{ dense bool }

func (f *rankFn) Kind() WindowKind { return WindowRanking }
func (f *rankFn) Compute(partitionArgs [][]types.Value, pos int) (types.Value, error) {
	key := partitionArgs[pos][0]
	if f.dense {
		// DENSE_RANK: 1 + number of distinct groups before pos (rows are
		// already sorted, so equal-key rows are contiguous; counting
		// distinct differing keys before pos counts groups, not rows).
		var distinct []types.Value
		for i := 0; i < pos; i++ {
			if types.Equal(partitionArgs[i][0], key) {
				continue
			}
			novel := true
			for _, d := range distinct {
				if types.Equal(d, partitionArgs[i][0]) {
					novel = false
					break
				}
			}
			if novel {
				distinct = append(distinct, partitionArgs[i][0])
			}
		}
		return types.NewInteger(int64(len(distinct)) + 1), nil
	}
	// RANK: 1 + count of rows (not groups) before pos with a different
	// key, producing the characteristic gap after a tied group.
	diff := int64(0)
	for i := 0; i < pos; i++ {
		if !types.Equal(partitionArgs[i][0], key) {
			diff++
		}
	}
	return types.NewInteger(diff + 1), nil
}

type percentRankFn struct{}

func (percentRankFn) Kind() WindowKind { return WindowRanking }
func (percentRankFn) Compute(partitionArgs [][]types.Value, pos int) (types.Value, error) {
	total := int64(len(partitionArgs))
	if total <= 1 {
		return types.NewFloat(0), nil
	}
	rankFn := rankFn{}
	rankVal, err := rankFn.Compute(partitionArgs, pos)
	if err != nil {
		return types.Null, err
	}
	return types.NewFloat(float64(rankVal.Int()-1) / float64(total-1)), nil
}

type cumeDistFn struct{}

func (cumeDistFn) Kind() WindowKind { return WindowRanking }
func (cumeDistFn) Compute(partitionArgs [][]types.Value, pos int) (types.Value, error) {
	total := int64(len(partitionArgs))
	key := partitionArgs[pos][0]
	count := int64(0)
	for i := 0; i < len(partitionArgs); i++ {
		if types.Compare(partitionArgs[i][0], key) <= 0 {
			count++
		}
	}
	return types.NewFloat(float64(count) / float64(total)), nil
}

// ntileFn divides the partition into n roughly-equal buckets. args[0] is
// the bucket-count expression, evaluated once (the caller guarantees a
// constant value per partition, mirroring SQL's NTILE(n) signature).
type ntileFn struct{}

func (ntileFn) Kind() WindowKind { return WindowRanking }
func (ntileFn) Compute(partitionArgs [][]types.Value, pos int) (types.Value, error) {
	n := partitionArgs[pos][0].Int()
	total := int64(len(partitionArgs))
	if n <= 0 || total == 0 {
		return types.Null, nil
	}
	base := total / n
	rem := total % n
	// Buckets [0, rem) get one extra row each, matching SQL's NTILE spread.
	bucket := int64(0)
	cursor := int64(0)
	for b := int64(0); b < n; b++ {
		size := base
		if b < rem {
			size++
		}
		if int64(pos) < cursor+size {
			bucket = b + 1
			break
		}
		cursor += size
	}
	return types.NewInteger(bucket), nil
}

// lagLeadFn implements LAG/LEAD(expr, n, default). partitionArgs[i] =
// [value, offset, defaultValue] as evaluated by the caller for row i;
// offset/default are read from the *current* row's slot per SQL semantics.
type lagLeadFn struct{ isLag bool }

func (lagLeadFn) Kind() WindowKind { return WindowOffset }
func (f lagLeadFn) Compute(partitionArgs [][]types.Value, pos int) (types.Value, error) {
	row := partitionArgs[pos]
	offset := int64(1)
	if len(row) > 1 && !row[1].IsNull() {
		offset = row[1].Int()
	}
	var def types.Value = types.Null
	if len(row) > 2 {
		def = row[2]
	}
	var target int
	if f.isLag {
		target = pos - int(offset)
	} else {
		target = pos + int(offset)
	}
	if target < 0 || target >= len(partitionArgs) {
		return def, nil
	}
	return partitionArgs[target][0], nil
}

type firstLastFn struct{ first bool }

func (firstLastFn) Kind() WindowKind { return WindowOffset }
func (f firstLastFn) Compute(partitionArgs [][]types.Value, pos int) (types.Value, error) {
	if len(partitionArgs) == 0 {
		return types.Null, nil
	}
	if f.first {
		return partitionArgs[0][0], nil
	}
	return partitionArgs[len(partitionArgs)-1][0], nil
}

type nthValueFn struct{}

func (nthValueFn) Kind() WindowKind { return WindowOffset }
func (nthValueFn) Compute(partitionArgs [][]types.Value, pos int) (types.Value, error) {
	row := partitionArgs[pos]
	if len(row) < 2 || row[1].IsNull() {
		return types.Null, nil
	}
	n := int(row[1].Int())
	if n < 1 || n > len(partitionArgs) {
		return types.Null, nil
	}
	return partitionArgs[n-1][0], nil
}
