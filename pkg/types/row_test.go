package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRowClone(t *testing.T) {
	r := Row{NewInteger(1), NewText("a")}
	c := r.Clone()
	c[0] = NewInteger(99)
	assert.Equal(t, int64(1), r[0].Int(), "original row must be unaffected by mutating the clone")
	assert.Equal(t, int64(99), c[0].Int())
}

func TestRowGetOutOfRangeReturnsNull(t *testing.T) {
	r := Row{NewInteger(1)}
	assert.True(t, r.Get(5).IsNull())
	assert.True(t, r.Get(-1).IsNull())
	assert.Equal(t, int64(1), r.Get(0).Int())
}

func TestNormalizePadsAddedColumn(t *testing.T) {
	def := NewText("default-name")
	schema := NewSchema("t", []ColumnDef{
		{Name: "id", Type: TypeInteger},
		{Name: "name", Type: TypeText, Default: &def},
	})
	r := Row{NewInteger(1)} // written before "name" was added
	out := Normalize(r, schema)
	assert.Len(t, out, 2)
	assert.Equal(t, "default-name", out[1].Text())
}

func TestNormalizePadsWithNullWhenNoDefault(t *testing.T) {
	schema := NewSchema("t", []ColumnDef{
		{Name: "id", Type: TypeInteger},
		{Name: "name", Type: TypeText},
	})
	out := Normalize(Row{NewInteger(1)}, schema)
	assert.Len(t, out, 2)
	assert.True(t, out[1].IsNull())
}

func TestNormalizeTruncatesDroppedColumn(t *testing.T) {
	schema := NewSchema("t", []ColumnDef{
		{Name: "id", Type: TypeInteger},
	})
	out := Normalize(Row{NewInteger(1), NewText("stale")}, schema)
	assert.Len(t, out, 1)
}

func TestNormalizeNoOpWhenLengthsMatch(t *testing.T) {
	schema := NewSchema("t", []ColumnDef{{Name: "id", Type: TypeInteger}})
	r := Row{NewInteger(7)}
	assert.Equal(t, r, Normalize(r, schema))
}
