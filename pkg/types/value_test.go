package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareNumericCrossKind(t *testing.T) {
	assert.Equal(t, 0, Compare(NewInteger(1), NewFloat(1.0)))
	assert.Equal(t, -1, Compare(NewInteger(1), NewFloat(2.0)))
	assert.Equal(t, 1, Compare(NewFloat(2.5), NewInteger(2)))
}

func TestCompareNullSortsFirst(t *testing.T) {
	assert.Equal(t, -1, Compare(Null, NewInteger(0)))
	assert.Equal(t, 1, Compare(NewInteger(0), Null))
	assert.Equal(t, 0, Compare(Null, Null))
}

func TestCompareText(t *testing.T) {
	assert.Equal(t, -1, Compare(NewText("a"), NewText("b")))
	assert.Equal(t, 0, Compare(NewText("same"), NewText("same")))
}

func TestEqualNumericCrossKind(t *testing.T) {
	assert.True(t, Equal(NewInteger(3), NewFloat(3.0)))
	assert.False(t, Equal(NewInteger(3), NewFloat(3.5)))
}

func TestEqualNullIsNeverEqual(t *testing.T) {
	assert.False(t, Equal(Null, Null))
	assert.False(t, Equal(Null, NewInteger(0)))
}

func TestHashKeyDistinguishesIntegerAndFloat(t *testing.T) {
	i := NewInteger(1)
	f := NewFloat(1.0)
	assert.True(t, Equal(i, f), "sanity: SQL-equal for comparison purposes")
	assert.NotEqual(t, i.HashKey(), f.HashKey(), "but distinct hash identities per §3")
}

func TestHashKeyStableForEqualValues(t *testing.T) {
	assert.Equal(t, NewText("hello").HashKey(), NewText("hello").HashKey())
	assert.Equal(t, NewInteger(42).HashKey(), NewInteger(42).HashKey())
}

func TestIsNull(t *testing.T) {
	assert.True(t, Null.IsNull())
	assert.False(t, NewInteger(0).IsNull())
}

func TestAsFloat64WidensInteger(t *testing.T) {
	assert.Equal(t, 5.0, NewInteger(5).AsFloat64())
	assert.Equal(t, 2.5, NewFloat(2.5).AsFloat64())
}
