package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusdb/nexusdb/pkg/types"
)

func TestBitmapAddAndLookupEqual(t *testing.T) {
	b := NewBitmap("idx_active")
	require.NoError(t, b.Add([]types.Value{types.NewBoolean(true)}, 1))
	require.NoError(t, b.Add([]types.Value{types.NewBoolean(true)}, 2))
	require.NoError(t, b.Add([]types.Value{types.NewBoolean(false)}, 3))

	ids := b.LookupEqual([]types.Value{types.NewBoolean(true)})
	assert.ElementsMatch(t, []int64{1, 2}, ids)
}

func TestBitmapRemove(t *testing.T) {
	b := NewBitmap("idx")
	key := []types.Value{types.NewBoolean(true)}
	require.NoError(t, b.Add(key, 1))
	b.Remove(key, 1)
	assert.Empty(t, b.LookupEqual(key))
}

func TestBitmapAnd(t *testing.T) {
	b := NewBitmap("idx")
	require.NoError(t, b.Add([]types.Value{types.NewBoolean(true)}, 1))
	require.NoError(t, b.Add([]types.Value{types.NewBoolean(true)}, 2))
	require.NoError(t, b.Add([]types.Value{types.NewBoolean(false)}, 2))

	ids := b.And([]types.Value{types.NewBoolean(true)}, []types.Value{types.NewBoolean(false)})
	assert.ElementsMatch(t, []int64{2}, ids)
}

func TestBitmapNot(t *testing.T) {
	b := NewBitmap("idx")
	require.NoError(t, b.Add([]types.Value{types.NewBoolean(true)}, 1))

	universe := []int64{1, 2, 3}
	ids := b.Not([]types.Value{types.NewBoolean(true)}, universe)
	assert.ElementsMatch(t, []int64{2, 3}, ids)
}

func TestBitmapLookupRangeUnsupported(t *testing.T) {
	b := NewBitmap("idx")
	_, ok := b.LookupRange(nil, nil, true, true)
	assert.False(t, ok)
}
