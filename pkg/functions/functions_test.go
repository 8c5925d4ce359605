package functions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusdb/nexusdb/pkg/types"
)

func TestRegistryLookupIsCaseInsensitive(t *testing.T) {
	r := NewDefaultRegistry()
	_, ok := r.Lookup("UPPER")
	assert.True(t, ok)
	_, ok = r.Lookup("upper")
	assert.True(t, ok)
}

func TestRegistryCallUnknownFunctionErrors(t *testing.T) {
	r := NewDefaultRegistry()
	_, err := r.Call("not_a_real_function", nil)
	assert.Error(t, err)
}

func TestScalarAbs(t *testing.T) {
	r := NewDefaultRegistry()
	v, err := r.Call("abs", []types.Value{types.NewInteger(-5)})
	require.NoError(t, err)
	assert.Equal(t, int64(5), v.Int())
}

func TestScalarUpperLower(t *testing.T) {
	r := NewDefaultRegistry()
	v, err := r.Call("upper", []types.Value{types.NewText("abc")})
	require.NoError(t, err)
	assert.Equal(t, "ABC", v.Text())

	v, err = r.Call("lower", []types.Value{types.NewText("ABC")})
	require.NoError(t, err)
	assert.Equal(t, "abc", v.Text())
}

func TestScalarSubstr(t *testing.T) {
	r := NewDefaultRegistry()
	v, err := r.Call("substr", []types.Value{types.NewText("hello world"), types.NewInteger(1), types.NewInteger(5)})
	require.NoError(t, err)
	assert.Equal(t, "hello", v.Text())
}

func TestScalarConcatNullPropagates(t *testing.T) {
	r := NewDefaultRegistry()
	v, err := r.Call("concat", []types.Value{types.NewText("a"), types.Null})
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestAggregateCountSkipsNulls(t *testing.T) {
	acc, err := NewDefaultRegistry().NewAccumulator("count")
	require.NoError(t, err)
	acc.Accumulate(types.NewInteger(1), false)
	acc.Accumulate(types.Null, false)
	acc.Accumulate(types.NewInteger(2), false)
	v, err := acc.Finalize()
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.Int())
}

func TestAggregateCountDistinct(t *testing.T) {
	acc, err := NewDefaultRegistry().NewAccumulator("count")
	require.NoError(t, err)
	acc.Accumulate(types.NewInteger(1), true)
	acc.Accumulate(types.NewInteger(1), true)
	acc.Accumulate(types.NewInteger(2), true)
	v, err := acc.Finalize()
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.Int())
}

func TestAggregateSumAllNullReturnsNull(t *testing.T) {
	acc, err := NewDefaultRegistry().NewAccumulator("sum")
	require.NoError(t, err)
	acc.Accumulate(types.Null, false)
	v, err := acc.Finalize()
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestAggregateSumIntegerStaysInteger(t *testing.T) {
	acc, err := NewDefaultRegistry().NewAccumulator("sum")
	require.NoError(t, err)
	acc.Accumulate(types.NewInteger(2), false)
	acc.Accumulate(types.NewInteger(3), false)
	v, err := acc.Finalize()
	require.NoError(t, err)
	assert.Equal(t, int64(5), v.Int())
}

func TestAggregateAvg(t *testing.T) {
	acc, err := NewDefaultRegistry().NewAccumulator("avg")
	require.NoError(t, err)
	acc.Accumulate(types.NewInteger(2), false)
	acc.Accumulate(types.NewInteger(4), false)
	v, err := acc.Finalize()
	require.NoError(t, err)
	assert.Equal(t, 3.0, v.AsFloat64())
}

func TestAggregateMinMax(t *testing.T) {
	minAcc, err := NewDefaultRegistry().NewAccumulator("min")
	require.NoError(t, err)
	minAcc.Accumulate(types.NewInteger(5), false)
	minAcc.Accumulate(types.NewInteger(1), false)
	v, err := minAcc.Finalize()
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Int())

	maxAcc, err := NewDefaultRegistry().NewAccumulator("max")
	require.NoError(t, err)
	maxAcc.Accumulate(types.NewInteger(5), false)
	maxAcc.Accumulate(types.NewInteger(9), false)
	v, err = maxAcc.Finalize()
	require.NoError(t, err)
	assert.Equal(t, int64(9), v.Int())
}

func TestAggregateResetReturnsToInitialState(t *testing.T) {
	acc, err := NewDefaultRegistry().NewAccumulator("sum")
	require.NoError(t, err)
	acc.Accumulate(types.NewInteger(10), false)
	acc.Reset()
	v, err := acc.Finalize()
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestWindowRowNumber(t *testing.T) {
	w, err := NewDefaultRegistry().NewWindowFunction("row_number")
	require.NoError(t, err)
	v, err := w.Compute(nil, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v.Int())
}

func TestWindowRankWithTies(t *testing.T) {
	w, err := NewDefaultRegistry().NewWindowFunction("rank")
	require.NoError(t, err)
	partition := [][]types.Value{
		{types.NewInteger(10)},
		{types.NewInteger(10)},
		{types.NewInteger(20)},
	}
	v0, err := w.Compute(partition, 0)
	require.NoError(t, err)
	v1, err := w.Compute(partition, 1)
	require.NoError(t, err)
	v2, err := w.Compute(partition, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v0.Int())
	assert.Equal(t, int64(1), v1.Int(), "tied rows share rank 1")
	assert.Equal(t, int64(3), v2.Int(), "rank after a tie skips to 3, not 2")
}

func TestWindowDenseRankWithTies(t *testing.T) {
	w, err := NewDefaultRegistry().NewWindowFunction("dense_rank")
	require.NoError(t, err)
	partition := [][]types.Value{
		{types.NewInteger(10)},
		{types.NewInteger(10)},
		{types.NewInteger(20)},
	}
	v2, err := w.Compute(partition, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2.Int(), "dense_rank never skips after a tie")
}

func TestWindowLag(t *testing.T) {
	w, err := NewDefaultRegistry().NewWindowFunction("lag")
	require.NoError(t, err)
	partition := [][]types.Value{
		{types.NewInteger(1)},
		{types.NewInteger(2)},
		{types.NewInteger(3)},
	}
	v, err := w.Compute(partition, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Int())

	v, err = w.Compute(partition, 0)
	require.NoError(t, err)
	assert.True(t, v.IsNull(), "lag before the first row returns the default (NULL)")
}

func TestWindowLead(t *testing.T) {
	w, err := NewDefaultRegistry().NewWindowFunction("lead")
	require.NoError(t, err)
	partition := [][]types.Value{
		{types.NewInteger(1)},
		{types.NewInteger(2)},
		{types.NewInteger(3)},
	}
	v, err := w.Compute(partition, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v.Int())
}

func TestWindowFirstLastValue(t *testing.T) {
	first, err := NewDefaultRegistry().NewWindowFunction("first_value")
	require.NoError(t, err)
	last, err := NewDefaultRegistry().NewWindowFunction("last_value")
	require.NoError(t, err)

	partition := [][]types.Value{
		{types.NewInteger(1)},
		{types.NewInteger(2)},
		{types.NewInteger(3)},
	}
	v, err := first.Compute(partition, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Int())

	v, err = last.Compute(partition, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v.Int())
}

func TestWindowNtileSpreadsRemainderAcrossFirstBuckets(t *testing.T) {
	w, err := NewDefaultRegistry().NewWindowFunction("ntile")
	require.NoError(t, err)
	partition := make([][]types.Value, 5)
	for i := range partition {
		partition[i] = []types.Value{types.NewInteger(2)} // 5 rows, 2 buckets
	}
	var buckets []int64
	for i := range partition {
		v, err := w.Compute(partition, i)
		require.NoError(t, err)
		buckets = append(buckets, v.Int())
	}
	assert.Equal(t, []int64{1, 1, 1, 2, 2}, buckets)
}
