package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/bgunnarsson/dbgrid/internal/db"
)

type Dialect struct{}

func New() Dialect {
	return Dialect{}
}

func (Dialect) Backend() db.Backend {
	return db.BackendMysql
}

// DSN builds a go-sql-driver DSN from cfg. A raw "dsn" option wins.
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
		port = 3306
	}

	c := mysql.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	c.DBName = cfg.Database
	// report matched rather than changed rows so single-row updates can be verified
	c.ClientFoundRows = true
	return c.FormatDSN()
}

func (Dialect) Open(ctx context.Context, cfg db.Config) (*sql.DB, error) {
	if cfg.Database == "" && cfg.Options["dsn"] == "" {
		return nil, fmt.Errorf("empty mysql database name")
	}

	sqldb, err := sql.Open("mysql", DSN(cfg))
	if err != nil {
		return nil, err
	}

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

func (Dialect) QuoteIdent(id string) string {
	return "`" + strings.ReplaceAll(id, "`", "``") + "`"
}

func (Dialect) Placeholder(int) string {
	return "?"
}

func (Dialect) ListTables(ctx context.Context, q db.Querier) ([]string, error) {
	const query = `
SELECT table_name
FROM information_schema.tables
WHERE table_type = 'BASE TABLE'
  AND table_schema = DATABASE()
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

func (Dialect) DescribeTable(ctx context.Context, q db.Querier, table string) ([]db.Column, error) {
	const query = `
SELECT column_name, column_type, column_key, is_nullable, COALESCE(column_default, '')
FROM information_schema.columns
WHERE table_schema = DATABASE()
  AND table_name = ?
ORDER BY ordinal_position;
`
	rows, err := q.QueryContext(ctx, query, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []db.Column
	for rows.Next() {
		var col db.Column
		var key, nullable string
		if err := rows.Scan(&col.Name, &col.Type, &key, &nullable, &col.Default); err != nil {
			return nil, err
		}
		col.PrimaryKey = key == "PRI"
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

// RENAME COLUMN needs MySQL 8.0 / MariaDB 10.5.
func (d Dialect) RenameColumnSQL(table, from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", d.QuoteIdent(table), d.QuoteIdent(from), d.QuoteIdent(to))
}

func (d Dialect) RenameTableSQL(from, to string) string {
	return fmt.Sprintf("RENAME TABLE %s TO %s", d.QuoteIdent(from), d.QuoteIdent(to))
}

func (d Dialect) DropTableSQL(table string) string {
	return "DROP TABLE IF EXISTS " + d.QuoteIdent(table)
}

func (d Dialect) InsertDefaultsSQL(table string) string {
	return fmt.Sprintf("INSERT INTO %s () VALUES ()", d.QuoteIdent(table))
}

func (d Dialect) OptimizeSQL(tables []string) []string {
	if len(tables) == 0 {
		return nil
	}
	quoted := make([]string, len(tables))
	for i, t := range tables {
		quoted[i] = d.QuoteIdent(t)
	}
	return []string{"ANALYZE TABLE " + strings.Join(quoted, ", ")}
}

func (Dialect) NormalizeValue(v any, _ string) any {
	switch x := v.(type) {
	case []byte:
		// MySQL returns TEXT/VARCHAR as []byte
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return x
	}
}
