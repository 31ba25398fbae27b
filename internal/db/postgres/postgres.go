package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bgunnarsson/dbgrid/internal/db"
)

type Dialect struct{}

func New() Dialect {
	return Dialect{}
}

func (Dialect) Backend() db.Backend {
	return db.BackendPostgres
}

// DSN builds a key=value connection string. A raw "dsn" option wins.
func DSN(cfg db.Config) string {
	if raw := cfg.Options["dsn"]; raw != "" {
		return raw
	}

	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s", quote(host), port, quote(cfg.Database), quote(sslmode))
	if cfg.User != "" {
		dsn += " user=" + quote(cfg.User)
	}
	if cfg.Password != "" {
		dsn += " password=" + quote(cfg.Password)
	}
	return dsn
}

var dsnEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// quote renders v as a single-quoted key=value connection string value.
func quote(v string) string {
	return "'" + dsnEscaper.Replace(v) + "'"
}

func (Dialect) Open(ctx context.Context, cfg db.Config) (*sql.DB, error) {
	if cfg.Database == "" && cfg.Options["dsn"] == "" {
		return nil, fmt.Errorf("empty postgres database name")
	}

	connCfg, err := pgx.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	sqldb := stdlib.OpenDB(*connCfg)
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	sqldb.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := sqldb.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, err
	}

	return sqldb, nil
}

// QuoteIdent quotes each part of an optionally schema-qualified name.
func (Dialect) QuoteIdent(id string) string {
	parts := strings.Split(id, ".")
	for i, p := range parts {
		parts[i] = pgx.Identifier{p}.Sanitize()
	}
	return strings.Join(parts, ".")
}

func (Dialect) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func (Dialect) ListTables(ctx context.Context, q db.Querier) ([]string, error) {
	const query = `
SELECT table_name
FROM information_schema.tables
WHERE table_type = 'BASE TABLE'
  AND table_schema = current_schema()
ORDER BY table_name;
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

const queryDescribeTable = `
SELECT
	c.column_name,
	c.data_type,
	c.is_nullable,
	COALESCE(c.column_default, ''),
	CASE WHEN pk.column_name IS NOT NULL THEN true ELSE false END AS is_primary
FROM information_schema.columns c
LEFT JOIN (
	SELECT ku.column_name
	FROM information_schema.table_constraints tc
	JOIN information_schema.key_column_usage ku
		ON tc.constraint_name = ku.constraint_name
		AND tc.table_schema = ku.table_schema
	WHERE tc.constraint_type = 'PRIMARY KEY'
		AND tc.table_schema = $1
		AND tc.table_name = $2
) pk ON c.column_name = pk.column_name
WHERE c.table_schema = $1
  AND c.table_name = $2
ORDER BY c.ordinal_position`

// DescribeTable accepts either "table" or "schema.table".
func (Dialect) DescribeTable(ctx context.Context, q db.Querier, table string) ([]db.Column, error) {
	var schema string
	name := table
	if dot := strings.Index(table, "."); dot != -1 {
		schema = table[:dot]
		name = table[dot+1:]
	} else if err := q.QueryRowContext(ctx, "SELECT current_schema()").Scan(&schema); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, queryDescribeTable, schema, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []db.Column
	for rows.Next() {
		var col db.Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &col.Default, &col.PrimaryKey); err != nil {
			return nil, err
		}
		col.NotNull = nullable == "NO"
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cols, nil
}

func (d Dialect) AddColumnSQL(table, column, typ string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", d.QuoteIdent(table), d.QuoteIdent(column), typ)
}

func (d Dialect) DropColumnSQL(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", d.QuoteIdent(table), d.QuoteIdent(column))
}

func (d Dialect) RenameColumnSQL(table, from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", d.QuoteIdent(table), d.QuoteIdent(from), d.QuoteIdent(to))
}

// The target of RENAME TO is never schema-qualified.
func (d Dialect) RenameTableSQL(from, to string) string {
	if dot := strings.LastIndex(to, "."); dot != -1 {
		to = to[dot+1:]
	}
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", d.QuoteIdent(from), pgx.Identifier{to}.Sanitize())
}

func (d Dialect) DropTableSQL(table string) string {
	return "DROP TABLE IF EXISTS " + d.QuoteIdent(table)
}

func (d Dialect) InsertDefaultsSQL(table string) string {
	return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", d.QuoteIdent(table))
}

func (Dialect) OptimizeSQL([]string) []string {
	return []string{"VACUUM ANALYZE"}
}

func (Dialect) NormalizeValue(v any, _ string) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return x
	}
}
