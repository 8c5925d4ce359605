package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColumnIndexCaseInsensitive(t *testing.T) {
	schema := NewSchema("users", []ColumnDef{
		{Name: "ID", Type: TypeInteger},
		{Name: "Name", Type: TypeText},
	})
	assert.Equal(t, 0, schema.ColumnIndex("id"))
	assert.Equal(t, 1, schema.ColumnIndex("NAME"))
	assert.Equal(t, -1, schema.ColumnIndex("missing"))
}

func TestAddColumnRebuildsIndex(t *testing.T) {
	schema := NewSchema("users", []ColumnDef{{Name: "id", Type: TypeInteger}})
	schema.AddColumn(ColumnDef{Name: "email", Type: TypeText})
	idx := schema.ColumnIndex("email")
	assert.Equal(t, 1, idx)
	col, ok := schema.Column("email")
	assert.True(t, ok)
	assert.Equal(t, TypeText, col.Type)
}

func TestDropColumnRemovesAndReturnsFalseIfMissing(t *testing.T) {
	schema := NewSchema("users", []ColumnDef{
		{Name: "id", Type: TypeInteger},
		{Name: "email", Type: TypeText},
	})
	assert.True(t, schema.DropColumn("email"))
	assert.Equal(t, -1, schema.ColumnIndex("email"))
	assert.False(t, schema.DropColumn("email"))
}

func TestPrimaryKeyColumn(t *testing.T) {
	schema := NewSchema("users", []ColumnDef{
		{Name: "id", Type: TypeInteger, PrimaryKey: true},
		{Name: "name", Type: TypeText},
	})
	name, ok := schema.PrimaryKeyColumn()
	assert.True(t, ok)
	assert.Equal(t, "id", name)

	noKey := NewSchema("t", []ColumnDef{{Name: "x", Type: TypeText}})
	_, ok = noKey.PrimaryKeyColumn()
	assert.False(t, ok)
}

func TestDataTypeKindMapping(t *testing.T) {
	assert.Equal(t, KindInteger, TypeInteger.Kind())
	assert.Equal(t, KindText, TypeText.Kind())
	assert.Equal(t, KindJSON, TypeJSON.Kind())
}

func TestFoldIsCaseInsensitive(t *testing.T) {
	assert.Equal(t, Fold("ID"), Fold("id"))
	assert.Equal(t, Fold("MixedCase"), Fold("mixedcase"))
}
