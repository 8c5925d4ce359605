// Package catalog implements schema/index/view metadata management: the
// case-insensitive table registry driving CREATE/ALTER/DROP TABLE,
// CREATE/DROP INDEX, CREATE/DROP VIEW, and ANALYZE (§2 row 2, §4.9's
// source-resolution priority of §4.10: CTE, then view, then table).
package catalog

import (
	"sync"

	"github.com/nexusdb/nexusdb/pkg/ast"
	"github.com/nexusdb/nexusdb/pkg/dberr"
	"github.com/nexusdb/nexusdb/pkg/types"
)

// View is a stored, named SELECT definition. Views are not materialized;
// the executor re-plans the underlying SELECT on every reference, per
// the source-resolution order of §4.10.
type View struct {
	Name   string
	Select *ast.SelectStatement
}

// Catalog holds every table's Schema, every view definition, keyed
// case-insensitively (§3: "Column lookup is case-insensitive" extends
// here to table/view/index names, matching the teacher's catalog
// convention).
type Catalog struct {
	mu     sync.RWMutex
	tables map[string]*types.Schema
	views  map[string]*View
}

func New() *Catalog {
	return &Catalog{
		tables: make(map[string]*types.Schema),
		views:  make(map[string]*View),
	}
}

func (c *Catalog) CreateTable(schema *types.Schema) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := types.Fold(schema.TableName)
	if _, ok := c.tables[key]; ok {
		return dberr.New(dberr.KindSemantic, "table %q already exists", schema.TableName)
	}
	c.tables[key] = schema
	return nil
}

func (c *Catalog) DropTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := types.Fold(name)
	if _, ok := c.tables[key]; !ok {
		return dberr.New(dberr.KindSemantic, "unknown table %q", name)
	}
	delete(c.tables, key)
	return nil
}

func (c *Catalog) Table(name string) (*types.Schema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.tables[types.Fold(name)]
	return s, ok
}

func (c *Catalog) TableExists(name string) bool {
	_, ok := c.Table(name)
	return ok
}

// TableNames returns every table name, for ANALYZE (no table given) and
// for introspection.
func (c *Catalog) TableNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.tables))
	for _, s := range c.tables {
		out = append(out, s.TableName)
	}
	return out
}

// AlterTable applies the basic ADD/DROP COLUMN forms (§1's "schema
// migrations beyond basic ALTER" non-goal implies exactly these two are
// in scope).
func (c *Catalog) AlterTable(stmt *ast.AlterTableStmt) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	schema, ok := c.tables[types.Fold(stmt.Table)]
	if !ok {
		return dberr.New(dberr.KindSemantic, "unknown table %q", stmt.Table)
	}
	if stmt.AddColumn != nil {
		var def *types.Value
		if stmt.AddColumn.Default != nil && stmt.AddColumn.Default.Kind == ast.ExprLiteral {
			v := stmt.AddColumn.Default.Literal
			def = &v
		}
		schema.AddColumn(types.ColumnDef{
			Name:     stmt.AddColumn.Name,
			Type:     ParseDataType(stmt.AddColumn.Type),
			Nullable: stmt.AddColumn.Nullable,
			Default:  def,
		})
		return nil
	}
	if stmt.DropColumn != "" {
		if !schema.DropColumn(stmt.DropColumn) {
			return dberr.New(dberr.KindSemantic, "unknown column %q", stmt.DropColumn)
		}
		return nil
	}
	return dberr.New(dberr.KindSemantic, "empty ALTER TABLE statement")
}

// ParseDataType maps a CREATE/ALTER TABLE column type keyword to its
// types.DataType, shared with pkg/engine's CREATE TABLE dispatch so both
// paths agree on the same small set of recognized spellings.
func ParseDataType(name string) types.DataType {
	switch name {
	case "INTEGER", "INT", "BIGINT":
		return types.TypeInteger
	case "FLOAT", "DOUBLE", "REAL":
		return types.TypeFloat
	case "BOOLEAN", "BOOL":
		return types.TypeBoolean
	case "TIMESTAMP":
		return types.TypeTimestamp
	case "JSON":
		return types.TypeJSON
	default:
		return types.TypeText
	}
}

// CreateIndex registers an index definition on the target table's schema.
// Index construction/population is the table facade's responsibility
// (pkg/table), since it needs the version store to backfill existing rows.
func (c *Catalog) CreateIndex(stmt *ast.CreateIndexStmt) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	schema, ok := c.tables[types.Fold(stmt.Table)]
	if !ok {
		return dberr.New(dberr.KindSemantic, "unknown table %q", stmt.Table)
	}
	for _, idx := range schema.Indexes {
		if types.Fold(idx.Name) == types.Fold(stmt.Name) {
			return dberr.New(dberr.KindSemantic, "index %q already exists", stmt.Name)
		}
	}
	schema.Indexes = append(schema.Indexes, types.IndexDef{
		Name:     stmt.Name,
		Columns:  stmt.Columns,
		Unique:   stmt.Unique,
		Kind:     stmt.Kind,
		Explicit: true,
	})
	return nil
}

func (c *Catalog) DropIndex(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, schema := range c.tables {
		for i, idx := range schema.Indexes {
			if types.Fold(idx.Name) == types.Fold(name) {
				schema.Indexes = append(schema.Indexes[:i], schema.Indexes[i+1:]...)
				return nil
			}
		}
	}
	return dberr.New(dberr.KindSemantic, "unknown index %q", name)
}

func (c *Catalog) CreateView(name string, stmt *ast.SelectStatement) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := types.Fold(name)
	if _, ok := c.views[key]; ok {
		return dberr.New(dberr.KindSemantic, "view %q already exists", name)
	}
	c.views[key] = &View{Name: name, Select: stmt}
	return nil
}

func (c *Catalog) DropView(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := types.Fold(name)
	if _, ok := c.views[key]; !ok {
		return dberr.New(dberr.KindSemantic, "unknown view %q", name)
	}
	delete(c.views, key)
	return nil
}

func (c *Catalog) View(name string) (*View, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.views[types.Fold(name)]
	return v, ok
}
