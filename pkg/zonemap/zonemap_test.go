package zonemap

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nexusdb/nexusdb/pkg/types"
)

func intValues(vs ...int64) []types.Value {
	out := make([]types.Value, len(vs))
	for i, v := range vs {
		out[i] = types.NewInteger(v)
	}
	return out
}

func TestNewTableZoneMapStartsStale(t *testing.T) {
	z := NewTableZoneMap()
	assert.True(t, z.IsStale())
}

func TestRebuildClearsStaleAndComputesMinMax(t *testing.T) {
	z := NewTableZoneMap()
	z.Rebuild(map[string][]types.Value{
		"age": intValues(5, 1, 9, 3),
	})
	assert.False(t, z.IsStale())

	excludesOutOfRange := EqualityRangeExcludes(types.NewInteger(100))
	assert.True(t, z.CanEliminateAll("age", excludesOutOfRange))

	excludesInRange := EqualityRangeExcludes(types.NewInteger(5))
	assert.False(t, z.CanEliminateAll("age", excludesInRange))
}

func TestInvalidateMarksStaleAgain(t *testing.T) {
	z := NewTableZoneMap()
	z.Rebuild(map[string][]types.Value{"age": intValues(1, 2)})
	assert.False(t, z.IsStale())

	z.Invalidate()
	assert.True(t, z.IsStale())
}

func TestCanEliminateAllFalseWhenStale(t *testing.T) {
	z := NewTableZoneMap()
	excludes := EqualityRangeExcludes(types.NewInteger(100))
	assert.False(t, z.CanEliminateAll("age", excludes), "a stale map must never be used to prune")
}

func TestCanEliminateAllFalseForUnknownColumn(t *testing.T) {
	z := NewTableZoneMap()
	z.Rebuild(map[string][]types.Value{"age": intValues(1, 2)})

	excludes := EqualityRangeExcludes(types.NewInteger(100))
	assert.False(t, z.CanEliminateAll("missing_column", excludes))
}

func TestRebuildAcrossMultipleSegments(t *testing.T) {
	z := NewTableZoneMap()
	values := make([]int64, 0, SegmentSize*2+5)
	for i := int64(0); i < SegmentSize*2+5; i++ {
		values = append(values, i)
	}
	z.Rebuild(map[string][]types.Value{"n": intValues(values...)})

	excludesAboveRange := EqualityRangeExcludes(types.NewInteger(int64(len(values)) + 1000))
	assert.True(t, z.CanEliminateAll("n", excludesAboveRange))

	excludesWithinRange := EqualityRangeExcludes(types.NewInteger(SegmentSize + 1))
	assert.False(t, z.CanEliminateAll("n", excludesWithinRange))
}

func TestAllNullSegmentNeverBlocksElimination(t *testing.T) {
	z := NewTableZoneMap()
	z.Rebuild(map[string][]types.Value{
		"n": {types.Null, types.Null, types.Null},
	})

	excludes := EqualityRangeExcludes(types.NewInteger(1))
	assert.True(t, z.CanEliminateAll("n", excludes))
}
