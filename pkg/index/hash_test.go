package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusdb/nexusdb/pkg/dberr"
	"github.com/nexusdb/nexusdb/pkg/types"
)

func TestHashAddAndLookupEqual(t *testing.T) {
	h := NewHash("idx_email", false)
	require.NoError(t, h.Add([]types.Value{types.NewText("a@example.com")}, 1))
	require.NoError(t, h.Add([]types.Value{types.NewText("a@example.com")}, 2))

	ids := h.LookupEqual([]types.Value{types.NewText("a@example.com")})
	assert.ElementsMatch(t, []int64{1, 2}, ids)
	assert.Nil(t, h.LookupEqual([]types.Value{types.NewText("missing")}))
}

func TestHashUniqueRejectsSecondInsert(t *testing.T) {
	h := NewHash("idx_email", true)
	require.NoError(t, h.Add([]types.Value{types.NewText("a@example.com")}, 1))
	err := h.Add([]types.Value{types.NewText("a@example.com")}, 2)
	require.Error(t, err)
	assert.Equal(t, dberr.KindConstraint, dberr.KindOf(err))
}

func TestHashRemove(t *testing.T) {
	h := NewHash("idx", false)
	key := []types.Value{types.NewInteger(1)}
	require.NoError(t, h.Add(key, 10))
	h.Remove(key, 10)
	assert.Empty(t, h.LookupEqual(key))
}

func TestHashLookupInUnionsMultipleKeys(t *testing.T) {
	h := NewHash("idx", false)
	require.NoError(t, h.Add([]types.Value{types.NewInteger(1)}, 1))
	require.NoError(t, h.Add([]types.Value{types.NewInteger(2)}, 2))

	ids := h.LookupIn([][]types.Value{
		{types.NewInteger(1)},
		{types.NewInteger(2)},
	})
	assert.ElementsMatch(t, []int64{1, 2}, ids)
}

func TestHashLookupRangeUnsupported(t *testing.T) {
	h := NewHash("idx", false)
	_, ok := h.LookupRange(nil, nil, true, true)
	assert.False(t, ok)
}

func TestHashSpillsToOverflowPastFourInlineEntries(t *testing.T) {
	h := NewHash("idx", false)
	key := []types.Value{types.NewInteger(1)}
	for i := int64(0); i < 6; i++ {
		require.NoError(t, h.Add(key, i))
	}
	assert.Len(t, h.LookupEqual(key), 6)
}
