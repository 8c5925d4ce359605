package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusdb/nexusdb/pkg/ast"
	"github.com/nexusdb/nexusdb/pkg/types"
)

func usersCreateStmt() *ast.Statement {
	return &ast.Statement{
		Kind: ast.StmtCreateTable,
		CreateTable: &ast.CreateTableStmt{
			Name: "users",
			Columns: []ast.ColumnSpec{
				{Name: "id", Type: "INTEGER", PrimaryKey: true},
				{Name: "name", Type: "TEXT", Nullable: true},
			},
		},
	}
}

func insertStmt(id int64, name string) *ast.Statement {
	return &ast.Statement{
		Kind:        ast.StmtInsert,
		InsertTable: "users",
		InsertCols:  []string{"id", "name"},
		InsertRows: [][]*ast.Expr{
			{
				{Kind: ast.ExprLiteral, Literal: types.NewInteger(id)},
				{Kind: ast.ExprLiteral, Literal: types.NewText(name)},
			},
		},
	}
}

func selectAllStmt() *ast.SelectStatement {
	return &ast.SelectStatement{
		Projection: []ast.SelectItem{{Wildcard: true}},
		From: &ast.TableExpression{
			Kind:  ast.TableExprTable,
			Table: &ast.TableSource{Name: "users"},
		},
	}
}

func TestOpenInMemoryDDLAndDML(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.executeDDL(usersCreateStmt()))
	assert.True(t, db.TableExists("users"))

	affected, err := db.Execute(insertStmt(1, "ada"), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	rs, err := db.Query(nil, selectAllStmt(), nil, nil)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 1)
}

func TestExplicitTransactionCommit(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.executeDDL(usersCreateStmt()))

	tx, err := db.Begin()
	require.NoError(t, err)
	_, err = tx.Execute(insertStmt(1, "grace"), nil, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	rs, err := db.Query(nil, selectAllStmt(), nil, nil)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 1)
}

func TestExplicitTransactionRollbackDiscardsWrites(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.executeDDL(usersCreateStmt()))

	tx, err := db.Begin()
	require.NoError(t, err)
	_, err = tx.Execute(insertStmt(1, "ada"), nil, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	rs, err := db.Query(nil, selectAllStmt(), nil, nil)
	require.NoError(t, err)
	assert.Len(t, rs.Rows, 0)
}

func TestCommitAfterFinishIsError(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	assert.NoError(t, tx.Rollback()) // second Rollback is a no-op
	assert.Error(t, tx.Commit())     // Commit after Rollback must fail
}

func TestFileDatabaseRestartsDurably(t *testing.T) {
	dir := t.TempDir()
	dsnString := "file://" + filepath.ToSlash(dir)

	db, err := Open(dsnString)
	require.NoError(t, err)
	require.NoError(t, db.executeDDL(usersCreateStmt()))
	_, err = db.Execute(insertStmt(1, "ada"), nil, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reopened, err := Open(dsnString)
	require.NoError(t, err)
	defer reopened.Close()

	assert.True(t, reopened.TableExists("users"))
	rs, err := reopened.Query(nil, selectAllStmt(), nil, nil)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 1)
}

func TestCreateSnapshotThenRecover(t *testing.T) {
	dir := t.TempDir()
	dsnString := "file://" + filepath.ToSlash(dir)

	db, err := Open(dsnString)
	require.NoError(t, err)
	require.NoError(t, db.executeDDL(usersCreateStmt()))
	_, err = db.Execute(insertStmt(1, "ada"), nil, nil)
	require.NoError(t, err)
	require.NoError(t, db.CreateSnapshot())
	_, err = db.Execute(insertStmt(2, "grace"), nil, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reopened, err := Open(dsnString)
	require.NoError(t, err)
	defer reopened.Close()

	rs, err := reopened.Query(nil, selectAllStmt(), nil, nil)
	require.NoError(t, err)
	assert.Len(t, rs.Rows, 2)
}

func TestDropTableRemovesFromCatalogAndTables(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.executeDDL(usersCreateStmt()))

	require.NoError(t, db.executeDDL(&ast.Statement{Kind: ast.StmtDropTable, DropTable: "users"}))
	assert.False(t, db.TableExists("users"))
}

func TestUpdateAndDeleteDML(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.executeDDL(usersCreateStmt()))
	_, err = db.Execute(insertStmt(1, "ada"), nil, nil)
	require.NoError(t, err)

	updateStmt := &ast.Statement{
		Kind:        ast.StmtUpdate,
		UpdateTable: "users",
		UpdateSet: map[string]*ast.Expr{
			"name": {Kind: ast.ExprLiteral, Literal: types.NewText("ada lovelace")},
		},
	}
	n, err := db.Execute(updateStmt, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	deleteStmt := &ast.Statement{Kind: ast.StmtDelete, DeleteTable: "users"}
	n, err = db.Execute(deleteStmt, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rs, err := db.Query(nil, selectAllStmt(), nil, nil)
	require.NoError(t, err)
	assert.Len(t, rs.Rows, 0)
}

func TestExecuteRejectsSelect(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.executeDDL(usersCreateStmt()))

	_, err = db.Execute(&ast.Statement{Kind: ast.StmtSelect}, nil, nil)
	assert.Error(t, err)
}
