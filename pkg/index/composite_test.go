package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusdb/nexusdb/pkg/types"
)

func TestCompositeLeftmostPrefixLen(t *testing.T) {
	c := NewComposite("idx_lastname_firstname", []string{"last_name", "first_name"}, false)

	assert.Equal(t, 2, c.LeftmostPrefixLen(map[string]struct{}{
		"last_name": {}, "first_name": {},
	}))
	assert.Equal(t, 1, c.LeftmostPrefixLen(map[string]struct{}{
		"last_name": {},
	}))
	assert.Equal(t, 0, c.LeftmostPrefixLen(map[string]struct{}{
		"first_name": {},
	}))
}

func TestCompositeLookupPrefixEqual(t *testing.T) {
	c := NewComposite("idx", []string{"last_name", "first_name"}, false)
	require.NoError(t, c.Add([]types.Value{types.NewText("Lovelace"), types.NewText("Ada")}, 1))
	require.NoError(t, c.Add([]types.Value{types.NewText("Lovelace"), types.NewText("Byron")}, 2))
	require.NoError(t, c.Add([]types.Value{types.NewText("Hopper"), types.NewText("Grace")}, 3))

	ids := c.LookupPrefixEqual([]types.Value{types.NewText("Lovelace")}, 1)
	assert.ElementsMatch(t, []int64{1, 2}, ids)
}
