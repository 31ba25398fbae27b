package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register driver

	"github.com/bgunnarsson/dbgrid/internal/db"
)

type Dialect struct{}

func New() Dialect {
	return Dialect{}
}

func (Dialect) Backend() db.Backend {
	return db.BackendSqlite
}

func (Dialect) Open(ctx context.Context, cfg db.Config) (*sql.DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("empty sqlite path")
	}

	// Keep it simple: open by plain path, then enable pragmas explicitly.
	sqldb, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}

	// One connection, never recycled, so per-connection pragmas stick.
	sqldb.SetMaxOpenConns(1)
	sqldb.SetConnMaxLifetime(0)

	if _, err := sqldb.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
		_ = sqldb.Close()
		return nil, err
	}

	return sqldb, nil
}

// very basic identifier quoting – enough for sqlite
func (Dialect) QuoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func (Dialect) Placeholder(int) string {
	return "?"
}

func (Dialect) ListTables(ctx context.Context, q db.Querier) ([]string, error) {
	// hide internal sqlite_% objects
	const query = `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table'
		  AND name NOT LIKE 'sqlite_%'
		ORDER BY lower(name);
	`

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (d Dialect) DescribeTable(ctx context.Context, q db.Querier, table string) ([]db.Column, error) {
	query := fmt.Sprintf("PRAGMA table_info(%s);", d.QuoteIdent(table))
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []db.Column
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, db.Column{
			Name:       name,
			Type:       ctype,
			PrimaryKey: pk > 0,
			NotNull:    notnull != 0,
			Default:    dflt.String,
		})
	}
	return cols, rows.Err()
}

func (d Dialect) AddColumnSQL(table, column, typ string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", d.QuoteIdent(table), d.QuoteIdent(column), typ)
}

// SQLite column removal and rename go through a table rebuild.
func (Dialect) DropColumnSQL(string, string) string {
	return ""
}

func (Dialect) RenameColumnSQL(string, string, string) string {
	return ""
}

func (d Dialect) RenameTableSQL(from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", d.QuoteIdent(from), d.QuoteIdent(to))
}

func (d Dialect) DropTableSQL(table string) string {
	return "DROP TABLE IF EXISTS " + d.QuoteIdent(table)
}

func (d Dialect) InsertDefaultsSQL(table string) string {
	return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", d.QuoteIdent(table))
}

func (Dialect) OptimizeSQL([]string) []string {
	return []string{"VACUUM", "PRAGMA optimize"}
}

// RebuildPragmas keeps foreign keys in other tables pointing at the original
// name while it is moved aside, and stops enforcement during the copy.
func (Dialect) RebuildPragmas(start bool) []string {
	if start {
		return []string{"PRAGMA foreign_keys = OFF", "PRAGMA legacy_alter_table = ON"}
	}
	return []string{"PRAGMA legacy_alter_table = OFF", "PRAGMA foreign_keys = ON"}
}

// tableClauses are parts of a CREATE TABLE statement that PRAGMA table_info
// does not report.
var tableClauses = []struct {
	name string
	re   *regexp.Regexp
}{
	{"CHECK constraint", regexp.MustCompile(`(?i)\bCHECK\s*\(`)},
	{"COLLATE clause", regexp.MustCompile(`(?i)\bCOLLATE\b`)},
	{"ON CONFLICT clause", regexp.MustCompile(`(?i)\bON\s+CONFLICT\b`)},
	{"AUTOINCREMENT", regexp.MustCompile(`(?i)\bAUTOINCREMENT\b`)},
	{"WITHOUT ROWID", regexp.MustCompile(`(?i)\bWITHOUT\s+ROWID\b`)},
	{"STRICT", regexp.MustCompile(`(?i)\bSTRICT\s*$`)},
}

// RebuildLosses reports what recreating table from its table_info would
// drop: indexes, constraints, triggers and generated columns.
func (Dialect) RebuildLosses(ctx context.Context, q db.Querier, table string) ([]string, error) {
	var createSQL sql.NullString
	err := q.QueryRowContext(ctx, `SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&createSQL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var losses []string
	for _, c := range tableClauses {
		if c.re.MatchString(createSQL.String) {
			losses = append(losses, c.name)
		}
	}

	indexes, err := queryPairs(ctx, q, `SELECT name, origin FROM pragma_index_list(?) ORDER BY name`, table)
	if err != nil {
		return nil, err
	}
	for _, ix := range indexes {
		switch ix[1] {
		case "u":
			if !slices.Contains(losses, "UNIQUE constraint") {
				losses = append(losses, "UNIQUE constraint")
			}
		case "c":
			losses = append(losses, fmt.Sprintf("index %q", ix[0]))
		}
	}

	counts := []struct {
		name  string
		query string
	}{
		{"FOREIGN KEY constraint", `SELECT COUNT(*) FROM pragma_foreign_key_list(?)`},
		{"generated column", `SELECT COUNT(*) FROM pragma_table_xinfo(?) WHERE hidden IN (2, 3)`},
	}
	for _, c := range counts {
		var n int
		if err := q.QueryRowContext(ctx, c.query, table).Scan(&n); err != nil {
			return nil, err
		}
		if n > 0 {
			losses = append(losses, c.name)
		}
	}

	triggers, err := queryPairs(ctx, q, `SELECT name, type FROM sqlite_master WHERE type = 'trigger' AND tbl_name = ? ORDER BY name`, table)
	if err != nil {
		return nil, err
	}
	for _, tr := range triggers {
		losses = append(losses, fmt.Sprintf("trigger %q", tr[0]))
	}
	return losses, nil
}

func queryPairs(ctx context.Context, q db.Querier, query string, args ...any) ([][2]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][2]string
	for rows.Next() {
		var p [2]string
		if err := rows.Scan(&p[0], &p[1]); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InPlaceDropColumnSQL uses ALTER TABLE DROP COLUMN, which keeps the rest of
// the definition but refuses columns that are keyed, indexed or referenced.
func (d Dialect) InPlaceDropColumnSQL(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", d.QuoteIdent(table), d.QuoteIdent(column))
}

func (d Dialect) InPlaceRenameColumnSQL(table, from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", d.QuoteIdent(table), d.QuoteIdent(from), d.QuoteIdent(to))
}

func (Dialect) NormalizeValue(v any, dbType string) any {
	switch x := v.(type) {
	case []byte:
		if db.IsTextType(dbType) {
			return string(x)
		}
		return x
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return x
	}
}
