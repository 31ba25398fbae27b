package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgunnarsson/dbgrid/internal/db"
	"github.com/bgunnarsson/dbgrid/internal/testutil"
)

func openSQLite(t *testing.T) *Gateway {
	t.Helper()
	g, err := Open(context.Background(), db.Config{
		Backend: db.BackendSqlite,
		Path:    testutil.TempDBPath(t),
	}, testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func mustExec(t *testing.T, g *Gateway, query string) *db.Result {
	t.Helper()
	res, err := g.Execute(context.Background(), query)
	require.NoError(t, err, query)
	return res
}

func columnNames(cols []db.Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

func assertNoTempTables(t *testing.T, g *Gateway) {
	t.Helper()
	tables, err := g.ListTables(context.Background())
	require.NoError(t, err)
	for _, name := range tables {
		assert.NotContains(t, name, "_rebuild_", "leftover temporary table")
	}
}

func TestOpen_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("unsupported backend", func(t *testing.T) {
		_, err := Open(ctx, db.Config{Backend: "oracle"}, nil)
		require.Error(t, err)

		var connErr *db.ConnectionError
		require.ErrorAs(t, err, &connErr)
		var unsupported *db.UnsupportedBackendError
		require.ErrorAs(t, err, &unsupported)
		assert.Equal(t, "oracle", unsupported.Backend)
		assert.Equal(t, db.Backends(), unsupported.Available)
	})

	t.Run("sqlite without path", func(t *testing.T) {
		_, err := Open(ctx, db.Config{Backend: db.BackendSqlite}, nil)
		var connErr *db.ConnectionError
		require.ErrorAs(t, err, &connErr)
		assert.Equal(t, db.BackendSqlite, connErr.Backend)
	})
}

func TestCreateTable(t *testing.T) {
	ctx := context.Background()
	g := openSQLite(t)

	err := g.CreateTable(ctx, "people", []db.Column{
		{Name: "id", Type: "INTEGER PRIMARY KEY"},
		{Name: "name", Type: "TEXT"},
		{Name: "age", Type: "INTEGER"},
	}, 3)
	require.NoError(t, err)

	tables, err := g.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"people"}, tables)

	schema := g.GetSchema(ctx, "people")
	require.Len(t, schema, 3)
	assert.Equal(t, []string{"id", "name", "age"}, columnNames(schema))
	assert.True(t, schema[0].PrimaryKey)
	assert.False(t, schema[1].PrimaryKey)

	snap, err := g.GetTableData(ctx, "people")
	require.NoError(t, err)
	assert.Equal(t, "people", snap.Table)
	assert.Equal(t, "id", snap.PrimaryKey)
	require.Len(t, snap.Rows, 3)
	for i, row := range snap.Rows {
		assert.Equal(t, int64(i+1), row["id"])
		assert.Equal(t, "", row["name"])
		assert.Equal(t, int64(0), row["age"])
	}
}

func TestCreateTable_OnlyKeyColumn(t *testing.T) {
	ctx := context.Background()
	g := openSQLite(t)

	require.NoError(t, g.CreateTable(ctx, "ids", []db.Column{{Name: "id", Type: "INTEGER PRIMARY KEY"}}, 2))

	snap, err := g.GetTableData(ctx, "ids")
	require.NoError(t, err)
	assert.Len(t, snap.Rows, 2)
}

func TestCreateTable_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		table   string
		columns []db.Column
		rows    int
	}{
		{name: "empty table name", table: " ", columns: []db.Column{{Name: "a", Type: "TEXT"}}},
		{name: "no columns", table: "t"},
		{name: "empty column name", table: "t", columns: []db.Column{{Name: "", Type: "TEXT"}}},
		{name: "duplicate column", table: "t", columns: []db.Column{{Name: "a", Type: "TEXT"}, {Name: "A", Type: "INTEGER"}}},
		{name: "injected type", table: "t", columns: []db.Column{{Name: "a", Type: "TEXT); DROP TABLE x; --"}}},
		{name: "negative rows", table: "t", columns: []db.Column{{Name: "a", Type: "TEXT"}}, rows: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			g := openSQLite(t)

			err := g.CreateTable(ctx, tt.table, tt.columns, tt.rows)
			var ddlErr *db.DDLError
			require.ErrorAs(t, err, &ddlErr)
			assert.Equal(t, "create table", ddlErr.Op)

			tables, err := g.ListTables(ctx)
			require.NoError(t, err)
			assert.Empty(t, tables)
		})
	}
}

func TestGetSchema_MissingTable(t *testing.T) {
	g := openSQLite(t)

	schema := g.GetSchema(context.Background(), "nope")
	assert.NotNil(t, schema)
	assert.Empty(t, schema)
}

func TestGetTableData_MissingTable(t *testing.T) {
	g := openSQLite(t)

	_, err := g.GetTableData(context.Background(), "nope")
	var qErr *db.QueryError
	require.ErrorAs(t, err, &qErr)
	assert.Equal(t, "nope", qErr.Table)
}

func TestUpdateRecord(t *testing.T) {
	ctx := context.Background()
	g := openSQLite(t)

	require.NoError(t, g.CreateTable(ctx, "t", []db.Column{
		{Name: "id", Type: "INTEGER"},
		{Name: "name", Type: "TEXT"},
		{Name: "age", Type: "INTEGER"},
	}, 3))

	snap, err := g.GetTableData(ctx, "t")
	require.NoError(t, err)
	require.Len(t, snap.Rows, 3)
	for _, row := range snap.Rows {
		assert.Equal(t, int64(0), row["id"])
	}

	// all three rows share id 0, so the key does not identify one row
	err = g.UpdateRecord(ctx, "t", "id", int64(0), "name", "Alice")
	var wErr *db.WriteError
	require.ErrorAs(t, err, &wErr)
	assert.ErrorIs(t, err, db.ErrAmbiguousMatch)

	snap, err = g.GetTableData(ctx, "t")
	require.NoError(t, err)
	for _, row := range snap.Rows {
		assert.Equal(t, "", row["name"], "ambiguous update must not write")
	}

	res := mustExec(t, g, "UPDATE t SET id = rowid")
	assert.Equal(t, int64(3), res.RowsAffected)
	assert.False(t, res.IsQuery)

	require.NoError(t, g.UpdateRecord(ctx, "t", "id", int64(1), "name", "Alice"))

	snap, err = g.GetTableData(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, "Alice", snap.Rows[0]["name"])
	assert.Equal(t, "", snap.Rows[1]["name"])
	assert.Equal(t, "", snap.Rows[2]["name"])

	t.Run("no match", func(t *testing.T) {
		err := g.UpdateRecord(ctx, "t", "id", int64(42), "name", "Bob")
		assert.ErrorIs(t, err, db.ErrNoMatch)
	})

	t.Run("null value", func(t *testing.T) {
		require.NoError(t, g.UpdateRecord(ctx, "t", "id", int64(2), "age", nil))
		res := mustExec(t, g, "SELECT age FROM t WHERE id = 2")
		require.Len(t, res.Rows, 1)
		assert.Nil(t, res.Rows[0][0])
	})

	t.Run("missing column", func(t *testing.T) {
		err := g.UpdateRecord(ctx, "t", "id", int64(1), "nope", "x")
		require.ErrorAs(t, err, &wErr)
		assert.Equal(t, "t", wErr.Table)
	})
}

func TestAddColumn(t *testing.T) {
	ctx := context.Background()
	g := openSQLite(t)

	require.NoError(t, g.CreateTable(ctx, "t", []db.Column{
		{Name: "id", Type: "INTEGER PRIMARY KEY"},
		{Name: "name", Type: "TEXT"},
	}, 2))

	require.NoError(t, g.AddColumn(ctx, "t", "email", "VARCHAR(255)"))

	schema := g.GetSchema(ctx, "t")
	assert.Equal(t, []string{"id", "name", "email"}, columnNames(schema))

	snap, err := g.GetTableData(ctx, "t")
	require.NoError(t, err)
	require.Len(t, snap.Rows, 2)
	for _, row := range snap.Rows {
		assert.Nil(t, row["email"])
	}

	t.Run("invalid type", func(t *testing.T) {
		err := g.AddColumn(ctx, "t", "bad", "TEXT; DROP TABLE t")
		var ddlErr *db.DDLError
		require.ErrorAs(t, err, &ddlErr)
		assert.Len(t, g.GetSchema(ctx, "t"), 3)
	})

	t.Run("existing column", func(t *testing.T) {
		err := g.AddColumn(ctx, "t", "name", "TEXT")
		var ddlErr *db.DDLError
		require.ErrorAs(t, err, &ddlErr)
	})
}

func TestRemoveColumn(t *testing.T) {
	ctx := context.Background()
	g := openSQLite(t)

	mustExec(t, g, `CREATE TABLE people (id INTEGER PRIMARY KEY, name TEXT NOT NULL DEFAULT 'x', age INTEGER)`)
	mustExec(t, g, `INSERT INTO people (name, age) VALUES ('ann', 31), ('bob', 42)`)

	require.NoError(t, g.RemoveColumn(ctx, "people", "age"))

	schema := g.GetSchema(ctx, "people")
	require.Len(t, schema, 2)
	assert.Equal(t, []string{"id", "name"}, columnNames(schema))
	assert.True(t, schema[0].PrimaryKey)
	assert.True(t, schema[1].NotNull)
	assert.Equal(t, "'x'", schema[1].Default)

	snap, err := g.GetTableData(ctx, "people")
	require.NoError(t, err)
	require.Len(t, snap.Rows, 2)
	assert.Equal(t, db.Row{"id": int64(1), "name": "ann"}, snap.Rows[0])
	assert.Equal(t, db.Row{"id": int64(2), "name": "bob"}, snap.Rows[1])

	// id is still a rowid alias
	mustExec(t, g, `INSERT INTO people (name) VALUES ('cat')`)
	res := mustExec(t, g, `SELECT id FROM people WHERE name = 'cat'`)
	assert.Equal(t, int64(3), res.Rows[0][0])

	assertNoTempTables(t, g)

	t.Run("missing column", func(t *testing.T) {
		err := g.RemoveColumn(ctx, "people", "nope")
		var ddlErr *db.DDLError
		require.ErrorAs(t, err, &ddlErr)
		assert.Len(t, g.GetSchema(ctx, "people"), 2)
	})

	t.Run("missing table", func(t *testing.T) {
		err := g.RemoveColumn(ctx, "nope", "name")
		var ddlErr *db.DDLError
		require.ErrorAs(t, err, &ddlErr)
	})
}

func TestRemoveColumn_OnlyColumn(t *testing.T) {
	ctx := context.Background()
	g := openSQLite(t)

	require.NoError(t, g.CreateTable(ctx, "single", []db.Column{{Name: "a", Type: "TEXT"}}, 1))

	err := g.RemoveColumn(ctx, "single", "a")
	var ddlErr *db.DDLError
	require.ErrorAs(t, err, &ddlErr)
	assert.Len(t, g.GetSchema(ctx, "single"), 1)
}

func TestRemoveColumn_FailedCopyLeavesTableIntact(t *testing.T) {
	ctx := context.Background()
	g := openSQLite(t)

	// dropping b shrinks the key to a, which the existing rows violate
	mustExec(t, g, `CREATE TABLE pairs (a INTEGER, b INTEGER, note TEXT, PRIMARY KEY (a, b))`)
	mustExec(t, g, `INSERT INTO pairs VALUES (1, 1, 'one'), (1, 2, 'two')`)

	err := g.RemoveColumn(ctx, "pairs", "b")
	var ddlErr *db.DDLError
	require.ErrorAs(t, err, &ddlErr)
	assert.Contains(t, strings.ToUpper(err.Error()), "UNIQUE")

	assert.Equal(t, []string{"a", "b", "note"}, columnNames(g.GetSchema(ctx, "pairs")))
	snap, err := g.GetTableData(ctx, "pairs")
	require.NoError(t, err)
	assert.Len(t, snap.Rows, 2)

	tables, err := g.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"pairs"}, tables)

	// session settings are restored after the failed rebuild
	res := mustExec(t, g, "PRAGMA foreign_keys")
	assert.Equal(t, int64(1), res.Rows[0][0])
	res = mustExec(t, g, "PRAGMA legacy_alter_table")
	assert.Equal(t, int64(0), res.Rows[0][0])
}

func TestRemoveColumn_KeepsForeignKeysOfOtherTables(t *testing.T) {
	ctx := context.Background()
	g := openSQLite(t)

	mustExec(t, g, `CREATE TABLE parent (id INTEGER PRIMARY KEY, name TEXT, extra TEXT)`)
	mustExec(t, g, `CREATE TABLE child (id INTEGER PRIMARY KEY, parent_id INTEGER REFERENCES parent(id))`)
	mustExec(t, g, `INSERT INTO parent (name, extra) VALUES ('p', 'x')`)
	mustExec(t, g, `INSERT INTO child (parent_id) VALUES (1)`)

	require.NoError(t, g.RemoveColumn(ctx, "parent", "extra"))

	res := mustExec(t, g, `SELECT sql FROM sqlite_master WHERE name = 'child'`)
	require.Len(t, res.Rows, 1)
	assert.Contains(t, res.Rows[0][0], "parent")
	assert.NotContains(t, res.Rows[0][0], "_rebuild_")

	res = mustExec(t, g, "PRAGMA foreign_key_check")
	assert.Empty(t, res.Rows)
}

func TestRemoveColumn_ExpressionDefaults(t *testing.T) {
	ctx := context.Background()
	g := openSQLite(t)

	mustExec(t, g, `CREATE TABLE ev (id INTEGER PRIMARY KEY, at TEXT DEFAULT (datetime('now')), n INTEGER DEFAULT (1+2), x TEXT)`)
	mustExec(t, g, `INSERT INTO ev (x) VALUES ('old')`)

	require.NoError(t, g.RemoveColumn(ctx, "ev", "x"))
	assert.Equal(t, []string{"id", "at", "n"}, columnNames(g.GetSchema(ctx, "ev")))
	assertNoTempTables(t, g)

	mustExec(t, g, `INSERT INTO ev DEFAULT VALUES`)
	res := mustExec(t, g, `SELECT n, at IS NOT NULL FROM ev ORDER BY id`)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, int64(3), res.Rows[1][0])
	assert.Equal(t, int64(1), res.Rows[1][1])
}

func TestColumnChanges_KeepConstraints(t *testing.T) {
	ctx := context.Background()
	g := openSQLite(t)

	mustExec(t, g, `CREATE TABLE u (id INTEGER PRIMARY KEY, email TEXT UNIQUE, age INTEGER CHECK (age >= 0), x TEXT, y TEXT)`)
	mustExec(t, g, `CREATE INDEX u_age ON u (age)`)
	mustExec(t, g, `CREATE TABLE audit (id INTEGER PRIMARY KEY, email TEXT)`)
	mustExec(t, g, `CREATE TRIGGER u_audit AFTER INSERT ON u BEGIN INSERT INTO audit (email) VALUES (new.email); END`)
	mustExec(t, g, `INSERT INTO u (email, age, x, y) VALUES ('a@x', 1, 'x', 'y')`)

	require.NoError(t, g.RenameColumn(ctx, "u", "x", "z"))
	require.NoError(t, g.RemoveColumn(ctx, "u", "y"))
	assert.Equal(t, []string{"id", "email", "age", "z"}, columnNames(g.GetSchema(ctx, "u")))
	assertNoTempTables(t, g)

	_, err := g.Execute(ctx, `INSERT INTO u (email, age) VALUES ('a@x', 2)`)
	assert.Error(t, err, "UNIQUE kept")
	_, err = g.Execute(ctx, `INSERT INTO u (email, age) VALUES ('b@x', -5)`)
	assert.Error(t, err, "CHECK kept")

	mustExec(t, g, `INSERT INTO u (email, age) VALUES ('c@x', 3)`)
	res := mustExec(t, g, `SELECT COUNT(*) FROM audit`)
	assert.Equal(t, int64(2), res.Rows[0][0], "trigger kept")

	res = mustExec(t, g, `SELECT name FROM sqlite_master WHERE type IN ('index', 'trigger') AND tbl_name = 'u' AND sql IS NOT NULL ORDER BY name`)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "u_age", res.Rows[0][0])
	assert.Equal(t, "u_audit", res.Rows[1][0])

	t.Run("constrained column", func(t *testing.T) {
		err := g.RemoveColumn(ctx, "u", "email")
		var ddlErr *db.DDLError
		require.ErrorAs(t, err, &ddlErr)
		assert.Equal(t, []string{"id", "email", "age", "z"}, columnNames(g.GetSchema(ctx, "u")))

		snap, err := g.GetTableData(ctx, "u")
		require.NoError(t, err)
		assert.Len(t, snap.Rows, 2)
	})
}

func TestRenameColumn(t *testing.T) {
	ctx := context.Background()
	g := openSQLite(t)

	require.NoError(t, g.CreateTable(ctx, "t", []db.Column{
		{Name: "id", Type: "INTEGER PRIMARY KEY"},
		{Name: "name", Type: "TEXT"},
		{Name: "age", Type: "INTEGER"},
	}, 0))
	_, err := g.BatchInsert(ctx, "t", []db.Row{{"name": "ann", "age": 30}})
	require.NoError(t, err)

	require.NoError(t, g.RenameColumn(ctx, "t", "name", "full_name"))

	schema := g.GetSchema(ctx, "t")
	assert.Equal(t, []string{"id", "full_name", "age"}, columnNames(schema))
	assert.True(t, schema[0].PrimaryKey)

	snap, err := g.GetTableData(ctx, "t")
	require.NoError(t, err)
	require.Len(t, snap.Rows, 1)
	assert.Equal(t, "ann", snap.Rows[0]["full_name"])
	assert.Equal(t, int64(30), snap.Rows[0]["age"])
	assertNoTempTables(t, g)

	tests := []struct {
		name string
		from string
		to   string
	}{
		{name: "target exists", from: "full_name", to: "AGE"},
		{name: "missing source", from: "nope", to: "other"},
		{name: "empty target", from: "age", to: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.RenameColumn(ctx, "t", tt.from, tt.to)
			var ddlErr *db.DDLError
			require.ErrorAs(t, err, &ddlErr)
			assert.Equal(t, []string{"id", "full_name", "age"}, columnNames(g.GetSchema(ctx, "t")))
		})
	}
}

func TestRenameAndDropTable(t *testing.T) {
	ctx := context.Background()
	g := openSQLite(t)

	require.NoError(t, g.CreateTable(ctx, "a", []db.Column{{Name: "x", Type: "TEXT"}}, 1))
	require.NoError(t, g.CreateTable(ctx, "b", []db.Column{{Name: "y", Type: "TEXT"}}, 0))

	require.NoError(t, g.RenameTable(ctx, "a", "c"))
	tables, err := g.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, tables)

	snap, err := g.GetTableData(ctx, "c")
	require.NoError(t, err)
	assert.Len(t, snap.Rows, 1)

	err = g.RenameTable(ctx, "c", "b")
	var ddlErr *db.DDLError
	require.ErrorAs(t, err, &ddlErr)

	require.NoError(t, g.DropTable(ctx, "c"))
	require.NoError(t, g.DropTable(ctx, "c"), "dropping a missing table is not an error")

	tables, err = g.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, tables)
}

func TestBatchInsert(t *testing.T) {
	ctx := context.Background()
	g := openSQLite(t)

	require.NoError(t, g.CreateTable(ctx, "t", []db.Column{
		{Name: "id", Type: "INTEGER PRIMARY KEY"},
		{Name: "name", Type: "TEXT"},
		{Name: "age", Type: "INTEGER"},
	}, 0))

	n, err := g.BatchInsert(ctx, "t", []db.Row{
		{"ID": 99, "Name": "ann", "age": 30},
		{"name": "bob"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	snap, err := g.GetTableData(ctx, "t")
	require.NoError(t, err)
	require.Len(t, snap.Rows, 2)
	assert.Equal(t, db.Row{"id": int64(1), "name": "ann", "age": int64(30)}, snap.Rows[0])
	assert.Equal(t, db.Row{"id": int64(2), "name": "bob", "age": nil}, snap.Rows[1])

	t.Run("empty input", func(t *testing.T) {
		n, err := g.BatchInsert(ctx, "t", nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("missing table", func(t *testing.T) {
		_, err := g.BatchInsert(ctx, "nope", []db.Row{{"name": "x"}})
		var wErr *db.WriteError
		require.ErrorAs(t, err, &wErr)
		assert.Equal(t, "nope", wErr.Table)
	})
}

func TestBatchInsert_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	g := openSQLite(t)

	mustExec(t, g, `CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`)

	n, err := g.BatchInsert(ctx, "t", []db.Row{
		{"name": "ok"},
		{"name": nil},
	})
	var wErr *db.WriteError
	require.ErrorAs(t, err, &wErr)
	assert.Zero(t, n)

	snap, err := g.GetTableData(ctx, "t")
	require.NoError(t, err)
	assert.Empty(t, snap.Rows)
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	g := openSQLite(t)

	mustExec(t, g, `CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)`)
	res := mustExec(t, g, `INSERT INTO t (name) VALUES ('a'), ('b')`)
	assert.Equal(t, int64(2), res.RowsAffected)

	tests := []struct {
		name  string
		query string
		cols  []string
		rows  int
	}{
		{name: "select", query: "SELECT id, name FROM t ORDER BY id", cols: []string{"id", "name"}, rows: 2},
		{name: "lowercase with", query: "with x as (select 1 as n) select n from x", cols: []string{"n"}, rows: 1},
		{name: "leading comment", query: "-- count\nSELECT COUNT(*) AS c FROM t", cols: []string{"c"}, rows: 1},
		{name: "block comment", query: "/* hi */ SELECT name FROM t WHERE id = 1", cols: []string{"name"}, rows: 1},
		{name: "pragma", query: "PRAGMA table_info(t)", rows: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := g.Execute(ctx, tt.query)
			require.NoError(t, err)
			assert.True(t, res.IsQuery)
			if tt.cols != nil {
				assert.Equal(t, tt.cols, res.Columns)
			}
			assert.Len(t, res.Rows, tt.rows)
		})
	}

	t.Run("empty statement", func(t *testing.T) {
		_, err := g.Execute(ctx, "  -- nothing")
		var qErr *db.QueryError
		require.ErrorAs(t, err, &qErr)
	})

	t.Run("bad query", func(t *testing.T) {
		_, err := g.Execute(ctx, "SELECT * FROM missing")
		var qErr *db.QueryError
		require.ErrorAs(t, err, &qErr)
		assert.Equal(t, "SELECT * FROM missing", qErr.Query)
	})

	t.Run("bad statement", func(t *testing.T) {
		_, err := g.Execute(ctx, "DELETE FROM missing")
		var wErr *db.WriteError
		require.ErrorAs(t, err, &wErr)
	})
}

func TestCommit(t *testing.T) {
	ctx := context.Background()
	g := openSQLite(t)

	require.NoError(t, g.Commit(ctx), "nothing pending")

	mustExec(t, g, `CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)`)
	mustExec(t, g, "BEGIN")
	mustExec(t, g, `INSERT INTO t (name) VALUES ('a')`)
	assert.True(t, g.inTx)

	require.NoError(t, g.Commit(ctx))
	assert.False(t, g.inTx)

	// the transaction is gone, so there is nothing left to roll back
	_, err := g.Execute(ctx, "ROLLBACK")
	require.Error(t, err)

	res := mustExec(t, g, "SELECT COUNT(*) FROM t")
	assert.Equal(t, int64(1), res.Rows[0][0])
}

func TestGatewayWrites_RefusedWhileTxPending(t *testing.T) {
	ctx := context.Background()
	g := openSQLite(t)

	mustExec(t, g, `CREATE TABLE p (id INTEGER PRIMARY KEY, name TEXT, note TEXT)`)
	mustExec(t, g, `INSERT INTO p (name) VALUES ('a'), ('b')`)
	mustExec(t, g, "BEGIN")
	mustExec(t, g, `DELETE FROM p WHERE id = 2`)

	err := g.UpdateRecord(ctx, "p", "id", int64(1), "name", "z")
	var wErr *db.WriteError
	require.ErrorAs(t, err, &wErr)
	assert.ErrorIs(t, err, db.ErrTxPending)

	assert.ErrorIs(t, g.AddColumn(ctx, "p", "extra", "TEXT"), db.ErrTxPending)
	assert.ErrorIs(t, g.RemoveColumn(ctx, "p", "note"), db.ErrTxPending)
	assert.ErrorIs(t, g.RenameColumn(ctx, "p", "note", "memo"), db.ErrTxPending)
	_, err = g.BatchInsert(ctx, "p", []db.Row{{"name": "c"}})
	assert.ErrorIs(t, err, db.ErrTxPending)
	assert.ErrorIs(t, g.Optimize(ctx), db.ErrTxPending)
	assert.True(t, g.inTx)

	// the user's transaction is still open and can be undone
	mustExec(t, g, "ROLLBACK")
	assert.False(t, g.inTx)

	res := mustExec(t, g, "SELECT COUNT(*) FROM p")
	assert.Equal(t, int64(2), res.Rows[0][0])
	assert.Equal(t, []string{"id", "name", "note"}, columnNames(g.GetSchema(ctx, "p")))

	require.NoError(t, g.UpdateRecord(ctx, "p", "id", int64(1), "name", "z"))
}

func TestTrackSession(t *testing.T) {
	tests := []struct {
		name  string
		start bool
		query string
		want  bool
	}{
		{name: "begin", query: "BEGIN", want: true},
		{name: "start transaction", query: "start transaction", want: true},
		{name: "start other", query: "START SLAVE", want: false},
		{name: "commit", start: true, query: "COMMIT", want: false},
		{name: "end", start: true, query: "END", want: false},
		{name: "rollback", start: true, query: "rollback", want: false},
		{name: "rollback to savepoint", start: true, query: "ROLLBACK TO sp1", want: true},
		{name: "insert", start: true, query: "INSERT INTO t VALUES (1)", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &Gateway{inTx: tt.start}
			g.trackSession(firstKeyword(tt.query), tt.query)
			assert.Equal(t, tt.want, g.inTx)
		})
	}
}

func TestKeywords(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{query: "select 1", want: []string{"SELECT"}},
		{query: "  -- a\n  /* b */ Update t set x = 1", want: []string{"UPDATE", "T"}},
		{query: "(SELECT name FROM t)", want: []string{"SELECT", "NAME"}},
		{query: "start transaction;", want: []string{"START", "TRANSACTION"}},
		{query: "-- only a comment", want: nil},
		{query: "/* unterminated", want: nil},
		{query: "", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := keywords(tt.query, 2)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPropertiesAndOptimize(t *testing.T) {
	ctx := context.Background()
	g := openSQLite(t)

	require.NoError(t, g.CreateTable(ctx, "t", []db.Column{
		{Name: "id", Type: "INTEGER PRIMARY KEY"},
		{Name: "name", Type: "TEXT"},
	}, 4))

	props, err := g.Properties(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, "t", props.Name)
	assert.Equal(t, int64(4), props.Rows)
	assert.Equal(t, []string{"id", "name"}, columnNames(props.Columns))

	_, err = g.Properties(ctx, "missing")
	var qErr *db.QueryError
	require.ErrorAs(t, err, &qErr)

	require.NoError(t, g.Optimize(ctx))
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	g := openSQLite(t)
	require.NoError(t, g.CreateTable(ctx, "t", []db.Column{{Name: "a", Type: "TEXT"}}, 1))

	require.NoError(t, g.Close())
	require.NoError(t, g.Close(), "second close is a no-op")

	_, err := g.ListTables(ctx)
	assert.ErrorIs(t, err, db.ErrClosed)
	_, err = g.GetTableData(ctx, "t")
	assert.ErrorIs(t, err, db.ErrClosed)
	assert.Empty(t, g.GetSchema(ctx, "t"))
	assert.ErrorIs(t, g.UpdateRecord(ctx, "t", "a", "", "a", "x"), db.ErrClosed)
	assert.ErrorIs(t, g.AddColumn(ctx, "t", "b", "TEXT"), db.ErrClosed)
	assert.ErrorIs(t, g.RemoveColumn(ctx, "t", "a"), db.ErrClosed)
	assert.ErrorIs(t, g.Commit(ctx), db.ErrClosed)
	_, err = g.Execute(ctx, "SELECT 1")
	assert.ErrorIs(t, err, db.ErrClosed)
	_, err = g.BatchInsert(ctx, "t", []db.Row{{"a": "x"}})
	assert.ErrorIs(t, err, db.ErrClosed)

	assert.True(t, errors.Is(g.Optimize(ctx), db.ErrClosed))
}
