package engine

import (
	"context"
	"time"

	"github.com/nexusdb/nexusdb/pkg/ast"
	"github.com/nexusdb/nexusdb/pkg/catalog"
	"github.com/nexusdb/nexusdb/pkg/dberr"
	"github.com/nexusdb/nexusdb/pkg/exec"
	"github.com/nexusdb/nexusdb/pkg/expr"
	"github.com/nexusdb/nexusdb/pkg/index"
	"github.com/nexusdb/nexusdb/pkg/retry"
	"github.com/nexusdb/nexusdb/pkg/snapshot"
	"github.com/nexusdb/nexusdb/pkg/table"
	"github.com/nexusdb/nexusdb/pkg/txn"
	"github.com/nexusdb/nexusdb/pkg/types"
	"github.com/nexusdb/nexusdb/pkg/wal"
)

// Query implements §6.5's query(sql): plan and run a SELECT within tx's
// snapshot (an implicit, single-statement transaction if tx is nil).
func (db *Database) Query(tx *Transaction, stmt *ast.SelectStatement, positional []types.Value, named map[string]types.Value) (*types.ResultSet, error) {
	owned := tx == nil
	if owned {
		var err error
		tx, err = db.Begin()
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()
	}
	qs := exec.NewQueryState(tx.local, positional, named, !owned)
	return db.Engine.Execute(context.Background(), stmt, qs)
}

// Execute implements §6.5's execute(sql) for everything that is not a
// SELECT: DDL is applied directly (auto-committing, §4.14), DML runs
// inside a fresh implicit transaction that is retried per pkg/retry on a
// conflict. Use an explicit Transaction's Insert/Update/Delete/Commit
// instead when the statement must share a transaction with others.
func (db *Database) Execute(stmt *ast.Statement, positional []types.Value, named map[string]types.Value) (int64, error) {
	switch stmt.Kind {
	case ast.StmtSelect:
		return 0, dberr.New(dberr.KindSemantic, "Execute does not run SELECT statements; use Query")
	case ast.StmtCreateTable, ast.StmtDropTable, ast.StmtAlterTable, ast.StmtCreateIndex, ast.StmtDropIndex, ast.StmtAnalyze:
		return 0, db.executeDDL(stmt)
	default:
		var affected int64
		err := retry.Do(context.Background(), retry.DefaultPolicy(), func() error {
			tx, err := db.Begin()
			if err != nil {
				return err
			}
			n, err := tx.Execute(stmt, positional, named)
			if err != nil {
				tx.Rollback()
				return err
			}
			if err := tx.Commit(); err != nil {
				return err
			}
			affected = n
			return nil
		})
		return affected, err
	}
}

// Execute runs one DML statement (INSERT/UPDATE/DELETE) as part of tx,
// staging its writes without committing them.
func (tx *Transaction) Execute(stmt *ast.Statement, positional []types.Value, named map[string]types.Value) (int64, error) {
	switch stmt.Kind {
	case ast.StmtInsert:
		return tx.execInsert(stmt, positional, named)
	case ast.StmtUpdate:
		return tx.execUpdate(stmt, positional, named)
	case ast.StmtDelete:
		return tx.execDelete(stmt, positional, named)
	default:
		return 0, dberr.New(dberr.KindSemantic, "statement kind %d is not DML", stmt.Kind)
	}
}

// valueCompiler builds an expr.Compiler for a context with no source row
// at all (INSERT value expressions): any column reference is an error.
func valueCompiler() *expr.Compiler {
	return &expr.Compiler{
		ColumnIndex: func(id ast.Ident) (int, bool, error) {
			return 0, false, dberr.New(dberr.KindSemantic, "column reference %q is not allowed in an INSERT value", id.Name)
		},
		OuterIndex: func(id ast.Ident) (int, error) {
			return 0, dberr.New(dberr.KindSemantic, "no outer row in scope for %q", id.Name)
		},
		CompileSubquery: func(*ast.SelectStatement, string) (*expr.Subquery, error) {
			return nil, dberr.New(dberr.KindSemantic, "subqueries are not supported in INSERT values")
		},
	}
}

// rowCompiler builds an expr.Compiler resolving column references
// against schema's column order — the shape UPDATE's SET/WHERE and
// DELETE's WHERE need to evaluate against one already-fetched row.
func rowCompiler(schema *types.Schema) *expr.Compiler {
	return &expr.Compiler{
		ColumnIndex: func(id ast.Ident) (int, bool, error) {
			idx := schema.ColumnIndex(id.Name)
			if idx < 0 {
				return 0, false, dberr.New(dberr.KindSemantic, "unknown column %q", id.Name)
			}
			return idx, false, nil
		},
		OuterIndex: func(id ast.Ident) (int, error) {
			return 0, dberr.New(dberr.KindSemantic, "no outer row in scope for %q", id.Name)
		},
		CompileSubquery: func(*ast.SelectStatement, string) (*expr.Subquery, error) {
			return nil, dberr.New(dberr.KindSemantic, "subqueries are not supported in this context")
		},
	}
}

func (tx *Transaction) evalCtx(positional []types.Value, named map[string]types.Value, row types.Row) *expr.Context {
	return &expr.Context{
		Row:        row,
		Positional: positional,
		Named:      named,
		TxnID:      int64(tx.id),
		Call:       tx.db.Engine.Functions.Call,
	}
}

// execInsert implements the row construction step of INSERT: each value
// expression is compiled with no row context (literals, params, and
// constant expressions only), then merged onto a row pre-filled with
// every column's default or NULL.
func (tx *Transaction) execInsert(stmt *ast.Statement, positional []types.Value, named map[string]types.Value) (int64, error) {
	schema, ok := tx.db.Catalog.Table(stmt.InsertTable)
	if !ok {
		return 0, dberr.New(dberr.KindSemantic, "unknown table %q", stmt.InsertTable)
	}
	cols := stmt.InsertCols
	if len(cols) == 0 {
		cols = make([]string, len(schema.Columns))
		for i, c := range schema.Columns {
			cols[i] = c.Name
		}
	}

	vm := expr.NewVM()
	comp := valueCompiler()
	var inserted int64
	for _, values := range stmt.InsertRows {
		if len(values) != len(cols) {
			return inserted, dberr.New(dberr.KindSemantic, "INSERT column count %d does not match value count %d", len(cols), len(values))
		}
		row := make(types.Row, len(schema.Columns))
		for i, c := range schema.Columns {
			if c.Default != nil {
				row[i] = *c.Default
			} else {
				row[i] = types.Null
			}
		}
		for i, colName := range cols {
			idx := schema.ColumnIndex(colName)
			if idx < 0 {
				return inserted, dberr.New(dberr.KindSemantic, "unknown column %q", colName)
			}
			prog, err := expr.Compile(values[i], comp)
			if err != nil {
				return inserted, err
			}
			v, err := vm.Eval(prog, tx.evalCtx(positional, named, nil))
			if err != nil {
				return inserted, err
			}
			row[idx] = v
		}
		if err := checkNotNull(schema, row); err != nil {
			return inserted, err
		}
		if _, err := tx.Insert(stmt.InsertTable, row); err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

func checkNotNull(schema *types.Schema, row types.Row) error {
	for i, c := range schema.Columns {
		if !c.Nullable && row[i].IsNull() {
			return dberr.New(dberr.KindConstraint, "column %q is NOT NULL", c.Name)
		}
	}
	return nil
}

// matchingRows scans table and returns the rows satisfying where (nil
// means every row matches), gathered up front so UPDATE/DELETE never
// mutate the version store while FullScan is iterating it.
func (tx *Transaction) matchingRows(tableName string, where *ast.Expr) ([]table.ScanRow, *types.Schema, error) {
	schema, ok := tx.db.Catalog.Table(tableName)
	if !ok {
		return nil, nil, dberr.New(dberr.KindSemantic, "unknown table %q", tableName)
	}
	h, err := tx.handleFor(tableName)
	if err != nil {
		return nil, nil, err
	}
	var filter func(types.Row) (bool, error)
	if where != nil {
		prog, err := expr.Compile(where, rowCompiler(schema))
		if err != nil {
			return nil, nil, err
		}
		vm := expr.NewVM()
		filter = func(row types.Row) (bool, error) {
			v, err := vm.Eval(prog, tx.evalCtx(nil, nil, row))
			if err != nil {
				return false, err
			}
			return !v.IsNull() && v.Bool(), nil
		}
	}
	var matched []table.ScanRow
	var scanErr error
	h.Scan(func(sr table.ScanRow) bool {
		if filter == nil {
			matched = append(matched, sr)
			return true
		}
		ok, err := filter(sr.Row)
		if err != nil {
			scanErr = err
			return false
		}
		if ok {
			matched = append(matched, sr)
		}
		return true
	})
	if scanErr != nil {
		return nil, nil, scanErr
	}
	return matched, schema, nil
}

func (tx *Transaction) execUpdate(stmt *ast.Statement, positional []types.Value, named map[string]types.Value) (int64, error) {
	matched, schema, err := tx.matchingRows(stmt.UpdateTable, stmt.UpdateWhere)
	if err != nil {
		return 0, err
	}
	vm := expr.NewVM()
	comp := rowCompiler(schema)
	var updated int64
	for _, sr := range matched {
		newRow := sr.Row.Clone()
		for colName, valueExpr := range stmt.UpdateSet {
			idx := schema.ColumnIndex(colName)
			if idx < 0 {
				return updated, dberr.New(dberr.KindSemantic, "unknown column %q", colName)
			}
			prog, err := expr.Compile(valueExpr, comp)
			if err != nil {
				return updated, err
			}
			v, err := vm.Eval(prog, tx.evalCtx(positional, named, sr.Row))
			if err != nil {
				return updated, err
			}
			newRow[idx] = v
		}
		if err := checkNotNull(schema, newRow); err != nil {
			return updated, err
		}
		if err := tx.Update(stmt.UpdateTable, sr.RowID, newRow); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

func (tx *Transaction) execDelete(stmt *ast.Statement, positional []types.Value, named map[string]types.Value) (int64, error) {
	matched, _, err := tx.matchingRows(stmt.DeleteTable, stmt.DeleteWhere)
	if err != nil {
		return 0, err
	}
	var deleted int64
	for _, sr := range matched {
		if err := tx.Delete(stmt.DeleteTable, sr.RowID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// executeDDL applies CREATE/DROP/ALTER TABLE, CREATE/DROP INDEX, and
// ANALYZE directly against the catalog and live table set. Each DDL
// statement is its own auto-committing unit (§4.14): the catalog change
// and its WAL record both happen under one freshly allocated, immediately
// committed transaction id, with no read-set to validate.
func (db *Database) executeDDL(stmt *ast.Statement) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	id := db.nextDDLTxnID()

	switch stmt.Kind {
	case ast.StmtCreateTable:
		return db.ddlCreateTable(id, stmt.CreateTable)
	case ast.StmtDropTable:
		return db.ddlDropTable(id, stmt.DropTable)
	case ast.StmtAlterTable:
		return db.ddlAlterTable(id, stmt.AlterTable)
	case ast.StmtCreateIndex:
		return db.ddlCreateIndex(id, stmt.CreateIndex)
	case ast.StmtDropIndex:
		return db.ddlDropIndex(id, stmt.DropIndex)
	case ast.StmtAnalyze:
		return db.ddlAnalyze(stmt.Analyze)
	default:
		return dberr.New(dberr.KindInternal, "unhandled DDL statement kind %d", stmt.Kind)
	}
}

func (db *Database) walAppendDDL(id txn.ID, op wal.Op, tableName string, opData []byte) error {
	if db.wal == nil {
		return nil
	}
	_, err := db.wal.Append(wal.Entry{
		TxnID:     id,
		TimeUS:    time.Now().UnixMicro(),
		TableName: tableName,
		Op:        op,
		OpData:    opData,
	})
	return err
}

func (db *Database) ddlCreateTable(id txn.ID, stmt *ast.CreateTableStmt) error {
	cols := make([]types.ColumnDef, len(stmt.Columns))
	for i, c := range stmt.Columns {
		var def *types.Value
		if c.Default != nil && c.Default.Kind == ast.ExprLiteral {
			v := c.Default.Literal
			def = &v
		}
		cols[i] = types.ColumnDef{
			Name:       c.Name,
			Type:       catalog.ParseDataType(c.Type),
			Nullable:   c.Nullable,
			Default:    def,
			PrimaryKey: c.PrimaryKey,
		}
	}
	schema := types.NewSchema(stmt.Name, cols)
	if err := db.Catalog.CreateTable(schema); err != nil {
		return err
	}
	db.Tables[schema.TableName] = table.NewTable(schema, db.Registry)
	return db.walAppendDDL(id, wal.OpCreateTable, schema.TableName, snapshot.EncodeSchema(schema))
}

func (db *Database) ddlDropTable(id txn.ID, name string) error {
	if err := db.Catalog.DropTable(name); err != nil {
		return err
	}
	delete(db.Tables, types.Fold(name))
	return db.walAppendDDL(id, wal.OpDropTable, name, nil)
}

func (db *Database) ddlAlterTable(id txn.ID, stmt *ast.AlterTableStmt) error {
	if err := db.Catalog.AlterTable(stmt); err != nil {
		return err
	}
	return db.walAppendDDL(id, wal.OpAlterTable, stmt.Table, nil)
}

// ddlCreateIndex registers the index in the catalog, then constructs and
// backfills the concrete pkg/index instance via Table.AttachIndex (§4.5).
func (db *Database) ddlCreateIndex(id txn.ID, stmt *ast.CreateIndexStmt) error {
	schema, ok := db.Catalog.Table(stmt.Table)
	if !ok {
		return dberr.New(dberr.KindSemantic, "unknown table %q", stmt.Table)
	}
	if err := db.Catalog.CreateIndex(stmt); err != nil {
		return err
	}
	colTypes := make([]types.Kind, len(stmt.Columns))
	for i, c := range stmt.Columns {
		col, ok := schema.Column(c)
		if !ok {
			return dberr.New(dberr.KindSemantic, "unknown column %q", c)
		}
		colTypes[i] = col.Type.Kind()
	}
	kind := index.SelectKind(colTypes)
	if stmt.Kind != "" {
		switch stmt.Kind {
		case "ordered":
			kind = index.KindOrderedMap
		case "hash":
			kind = index.KindHash
		case "bitmap":
			kind = index.KindBitmap
		case "composite":
			kind = index.KindComposite
		}
	}
	var idx index.Index
	switch kind {
	case index.KindHash:
		idx = index.NewHash(stmt.Name, stmt.Unique)
	case index.KindBitmap:
		idx = index.NewBitmap(stmt.Name)
	case index.KindComposite:
		idx = index.NewComposite(stmt.Name, stmt.Columns, stmt.Unique)
	default:
		idx = index.NewOrdered(stmt.Name, stmt.Unique)
	}
	t := db.Tables[types.Fold(stmt.Table)]
	if err := t.AttachIndex(stmt.Name, stmt.Columns, idx, true); err != nil {
		return err
	}
	return db.walAppendDDL(id, wal.OpCreateIndex, stmt.Table, nil)
}

func (db *Database) ddlDropIndex(id txn.ID, name string) error {
	if err := db.Catalog.DropIndex(name); err != nil {
		return err
	}
	for _, t := range db.Tables {
		t.DetachIndex(name)
	}
	return db.walAppendDDL(id, wal.OpDropIndex, "", nil)
}

// ddlAnalyze implements §6.5's analyze(table?): it rebuilds the zone map
// of the named table, or of every table when none is named, from the
// table's committed live rows.
func (db *Database) ddlAnalyze(tableName string) error {
	if tableName != "" && !db.Catalog.TableExists(tableName) {
		return dberr.New(dberr.KindSemantic, "unknown table %q", tableName)
	}
	for name, t := range db.Tables {
		if tableName != "" && types.Fold(name) != types.Fold(tableName) {
			continue
		}
		cols := make(map[string][]types.Value, len(t.Schema.Columns))
		table.NewHandle(t, txn.NewLocalStore(txn.RecoveryTxnID, txn.Seq(1<<62))).Scan(func(sr table.ScanRow) bool {
			for i, c := range t.Schema.Columns {
				cols[c.Name] = append(cols[c.Name], sr.Row.Get(i))
			}
			return true
		})
		t.ZoneMap.Rebuild(cols)
	}
	return nil
}

