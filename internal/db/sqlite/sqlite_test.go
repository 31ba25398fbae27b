package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgunnarsson/dbgrid/internal/db"
)

var (
	_ db.Dialect   = Dialect{}
	_ db.Rebuilder = Dialect{}
)

func TestQuoteIdent(t *testing.T) {
	d := New()
	assert.Equal(t, `"people"`, d.QuoteIdent("people"))
	assert.Equal(t, `"a""b"`, d.QuoteIdent(`a"b`))
}

func TestStatements(t *testing.T) {
	d := New()
	assert.Empty(t, d.DropColumnSQL("t", "a"))
	assert.Empty(t, d.RenameColumnSQL("t", "a", "b"))
	assert.Equal(t, `ALTER TABLE "t" ADD COLUMN "a" TEXT`, d.AddColumnSQL("t", "a", "TEXT"))
	assert.Equal(t, `ALTER TABLE "t" RENAME TO "u"`, d.RenameTableSQL("t", "u"))
	assert.Equal(t, `DROP TABLE IF EXISTS "t"`, d.DropTableSQL("t"))
	assert.Equal(t, `INSERT INTO "t" DEFAULT VALUES`, d.InsertDefaultsSQL("t"))
	assert.Equal(t, "?", d.Placeholder(3))
	assert.Equal(t, []string{"PRAGMA foreign_keys = OFF", "PRAGMA legacy_alter_table = ON"}, d.RebuildPragmas(true))
	assert.Equal(t, []string{"PRAGMA legacy_alter_table = OFF", "PRAGMA foreign_keys = ON"}, d.RebuildPragmas(false))
	assert.Equal(t, `ALTER TABLE "t" DROP COLUMN "a"`, d.InPlaceDropColumnSQL("t", "a"))
	assert.Equal(t, `ALTER TABLE "t" RENAME COLUMN "a" TO "b"`, d.InPlaceRenameColumnSQL("t", "a", "b"))
}

func TestNormalizeValue(t *testing.T) {
	d := New()
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "abc", d.NormalizeValue([]byte("abc"), "text"))
	assert.Equal(t, []byte{1, 2}, d.NormalizeValue([]byte{1, 2}, "blob"))
	assert.Equal(t, "2024-05-01T12:00:00Z", d.NormalizeValue(ts, "datetime"))
	assert.Equal(t, int64(5), d.NormalizeValue(int64(5), "integer"))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	d := New()

	_, err := d.Open(ctx, db.Config{})
	assert.Error(t, err)

	sqldb, err := d.Open(ctx, db.Config{Path: t.TempDir() + "/x.db"})
	require.NoError(t, err)
	defer sqldb.Close()

	var fk int
	require.NoError(t, sqldb.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	_, err = sqldb.ExecContext(ctx, `CREATE TABLE b (x TEXT); CREATE TABLE A (y INTEGER PRIMARY KEY, z TEXT NOT NULL DEFAULT 'q')`)
	require.NoError(t, err)

	tables, err := d.ListTables(ctx, sqldb)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "b"}, tables)

	cols, err := d.DescribeTable(ctx, sqldb, "A")
	require.NoError(t, err)
	assert.Equal(t, []db.Column{
		{Name: "y", Type: "INTEGER", PrimaryKey: true},
		{Name: "z", Type: "TEXT", NotNull: true, Default: "'q'"},
	}, cols)
}

func TestRebuildLosses(t *testing.T) {
	ctx := context.Background()
	d := New()

	sqldb, err := d.Open(ctx, db.Config{Path: t.TempDir() + "/x.db"})
	require.NoError(t, err)
	defer sqldb.Close()

	_, err = sqldb.ExecContext(ctx, `
		CREATE TABLE plain (id INTEGER PRIMARY KEY, name TEXT NOT NULL DEFAULT 'x');
		CREATE TABLE pairs (a INTEGER, b INTEGER, PRIMARY KEY (a, b));
		CREATE TABLE u (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT UNIQUE,
			age INTEGER CHECK (age >= 0),
			owner INTEGER REFERENCES plain(id)
		);
		CREATE INDEX u_age ON u(age);
		CREATE TRIGGER u_touch AFTER UPDATE ON u BEGIN SELECT 1; END;
	`)
	require.NoError(t, err)

	tests := []struct {
		table string
		want  []string
	}{
		{table: "plain"},
		{table: "pairs"},
		{table: "missing"},
		{table: "u", want: []string{
			"CHECK constraint",
			"AUTOINCREMENT",
			"UNIQUE constraint",
			`index "u_age"`,
			"FOREIGN KEY constraint",
			`trigger "u_touch"`,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			losses, err := d.RebuildLosses(ctx, sqldb, tt.table)
			require.NoError(t, err)
			assert.Equal(t, tt.want, losses)
		})
	}
}
