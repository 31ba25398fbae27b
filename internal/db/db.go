package db

import (
	"context"
	"database/sql"
	"strings"
)

type Backend string

const (
	BackendSqlite   Backend = "sqlite"
	BackendMysql    Backend = "mysql"
	BackendPostgres Backend = "postgres"
	BackendMssql    Backend = "mssql"
)

// Backends lists every backend a dialect exists for.
func Backends() []Backend {
	return []Backend{BackendSqlite, BackendMysql, BackendPostgres, BackendMssql}
}

// ParseBackend maps user input ("SQLite", "pg", ...) onto a Backend.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sqlite", "sqlite3":
		return BackendSqlite, nil
	case "mysql", "mariadb":
		return BackendMysql, nil
	case "postgres", "postgresql", "pg":
		return BackendPostgres, nil
	case "mssql", "sqlserver":
		return BackendMssql, nil
	}
	return "", &UnsupportedBackendError{Backend: s, Available: Backends()}
}

// Config describes one connection. It is not modified after a gateway opens it.
type Config struct {
	Backend  Backend
	Path     string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Options  map[string]string
}

type Column struct {
	Name       string
	Type       string
	PrimaryKey bool
	NotNull    bool
	Default    string
}

type Row map[string]any

// Snapshot is a point-in-time copy of a whole table.
type Snapshot struct {
	Table      string
	Columns    []Column
	PrimaryKey string
	Rows       []Row
}

// ColumnNames returns the snapshot's column names in order.
func (s *Snapshot) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Result is what a raw statement produced: rows for queries, a count otherwise.
type Result struct {
	Columns      []string
	Rows         [][]any
	RowsAffected int64
	IsQuery      bool
}

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect is the per-backend capability set the gateway is written against.
//
// The *SQL builders receive unquoted identifiers and do their own quoting.
// DropColumnSQL and RenameColumnSQL return "" when the backend has no native
// form, in which case the gateway rebuilds the table.
type Dialect interface {
	Backend() Backend
	Open(ctx context.Context, cfg Config) (*sql.DB, error)

	QuoteIdent(name string) string
	Placeholder(n int) string

	ListTables(ctx context.Context, q Querier) ([]string, error)
	DescribeTable(ctx context.Context, q Querier, table string) ([]Column, error)

	AddColumnSQL(table, column, typ string) string
	DropColumnSQL(table, column string) string
	RenameColumnSQL(table, from, to string) string
	RenameTableSQL(from, to string) string
	DropTableSQL(table string) string
	InsertDefaultsSQL(table string) string
	OptimizeSQL(tables []string) []string

	NormalizeValue(v any, dbType string) any
}

// Rebuilder is implemented by dialects that rebuild tables to drop or rename
// columns.
//
// RebuildPragmas are run outside any transaction around the rebuild.
// RebuildLosses lists what of table a rebuild from DescribeTable would not
// carry over (indexes, constraints, triggers). When it is non-empty the
// gateway runs the InPlace statement instead, or refuses when that is "".
type Rebuilder interface {
	RebuildPragmas(start bool) []string
	RebuildLosses(ctx context.Context, q Querier, table string) ([]string, error)
	InPlaceDropColumnSQL(table, column string) string
	InPlaceRenameColumnSQL(table, from, to string) string
}

// IsTextType reports whether a declared type stores text, using SQLite's
// affinity rules, which also cover the common MySQL/PostgreSQL spellings.
func IsTextType(typ string) bool {
	t := strings.ToUpper(typ)
	for _, s := range []string{"CHAR", "CLOB", "TEXT", "STRING"} {
		if strings.Contains(t, s) {
			return true
		}
	}
	return false
}

// DefaultValue is the placeholder value new rows get for a column type:
// "" for text, 0 for everything else.
func DefaultValue(typ string) any {
	if IsTextType(typ) {
		return ""
	}
	return 0
}

// ScanRows reads every remaining row of rows into memory, passing each value
// through the dialect's normalizer.
func ScanRows(rows *sql.Rows, d Dialect) ([]string, [][]any, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, err
	}

	var data [][]any
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		for i, v := range values {
			dbType := ""
			if i < len(types) && types[i] != nil {
				dbType = strings.ToLower(types[i].DatabaseTypeName())
			}
			values[i] = d.NormalizeValue(v, dbType)
		}
		data = append(data, values)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return names, data, nil
}
