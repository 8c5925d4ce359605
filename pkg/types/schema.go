package types

import (
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var foldCaser = cases.Fold()

// Fold normalizes an identifier for case-insensitive lookup (§3: "Column
// lookup is case-insensitive"). Used for column, table, function and
// index names throughout the engine instead of ad hoc strings.ToLower.
func Fold(identifier string) string {
	return foldCaser.String(identifier)
}

var _ = language.Und // keep golang.org/x/text/language linked for cases.Fold's locale plumbing

// DataType names the SQL type of a column. It mirrors a Value Kind but is
// kept distinct because a column's declared type constrains writes
// (NOT NULL, defaults) independent of any particular value's runtime Kind.
type DataType uint8

const (
	TypeInteger DataType = iota
	TypeFloat
	TypeBoolean
	TypeText
	TypeTimestamp
	TypeJSON
)

func (t DataType) String() string {
	switch t {
	case TypeInteger:
		return "INTEGER"
	case TypeFloat:
		return "FLOAT"
	case TypeBoolean:
		return "BOOLEAN"
	case TypeText:
		return "TEXT"
	case TypeTimestamp:
		return "TIMESTAMP"
	case TypeJSON:
		return "JSON"
	default:
		return "UNKNOWN"
	}
}

func (t DataType) Kind() Kind {
	switch t {
	case TypeInteger:
		return KindInteger
	case TypeFloat:
		return KindFloat
	case TypeBoolean:
		return KindBoolean
	case TypeTimestamp:
		return KindTimestamp
	case TypeJSON:
		return KindJSON
	default:
		return KindText
	}
}

// ColumnDef describes one column of a table.
type ColumnDef struct {
	Name       string
	Type       DataType
	Nullable   bool
	Default    *Value // nil means no default (NULL if also not-nullable is a constraint error)
	PrimaryKey bool
}

// IndexDef describes one index's metadata, kept on the Schema so the
// catalog and the index subsystem (pkg/index) agree on what exists.
type IndexDef struct {
	Name     string
	Columns  []string
	Unique   bool
	Kind     string // "ordered", "hash", "bitmap", "composite" — see pkg/index
	Explicit bool   // user specified the kind, vs. auto-selected
}

// Schema is the ordered column list and table-level metadata for one
// table. Column lookup is case-insensitive (§3); the Schema keeps a
// folded-name index to make that O(1).
type Schema struct {
	TableName string
	Columns   []ColumnDef
	Indexes   []IndexDef

	byFoldedName map[string]int
}

// NewSchema builds a Schema and its case-insensitive lookup index.
func NewSchema(tableName string, columns []ColumnDef) *Schema {
	s := &Schema{TableName: tableName, Columns: columns}
	s.rebuildIndex()
	return s
}

func (s *Schema) rebuildIndex() {
	s.byFoldedName = make(map[string]int, len(s.Columns))
	for i, c := range s.Columns {
		s.byFoldedName[Fold(c.Name)] = i
	}
}

// ColumnIndex returns the ordinal position of a column by case-insensitive
// name, or -1 if unknown.
func (s *Schema) ColumnIndex(name string) int {
	if i, ok := s.byFoldedName[Fold(name)]; ok {
		return i
	}
	return -1
}

// Column returns the ColumnDef by case-insensitive name.
func (s *Schema) Column(name string) (ColumnDef, bool) {
	i := s.ColumnIndex(name)
	if i < 0 {
		return ColumnDef{}, false
	}
	return s.Columns[i], true
}

// AddColumn implements the additive half of basic ALTER TABLE (§ supplemented
// features): appends a column, defaulting existing rows at read time via
// normalization (§4.9), not by rewriting stored rows.
func (s *Schema) AddColumn(col ColumnDef) {
	s.Columns = append(s.Columns, col)
	s.rebuildIndex()
}

// DropColumn implements the subtractive half of basic ALTER TABLE. Returns
// false if the column did not exist.
func (s *Schema) DropColumn(name string) bool {
	i := s.ColumnIndex(name)
	if i < 0 {
		return false
	}
	s.Columns = append(s.Columns[:i], s.Columns[i+1:]...)
	s.rebuildIndex()
	return true
}

// PrimaryKeyColumn returns the name of the single-column primary key, if
// one is declared (composite primary keys are out of scope for the direct
// row_id lookup fast path in §4.10's scan-strategy selection).
func (s *Schema) PrimaryKeyColumn() (string, bool) {
	for _, c := range s.Columns {
		if c.PrimaryKey {
			return c.Name, true
		}
	}
	return "", false
}

func (c ColumnDef) String() string {
	nullability := "NOT NULL"
	if c.Nullable {
		nullability = "NULL"
	}
	return fmt.Sprintf("%s %s %s", c.Name, c.Type, nullability)
}
