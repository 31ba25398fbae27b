package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/azuread"

	"github.com/bgunnarsson/dbgrid/internal/db"
)

type Dialect struct{}

func New() Dialect {
	return Dialect{}
}

func (Dialect) Backend() db.Backend {
	return db.BackendMssql
}

// DSN builds a sqlserver:// URL. A raw "dsn" option wins; any other option is
// passed through as a query parameter (e.g. fedauth, encrypt).
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
		port = 1433
	}

	query := url.Values{}
	if cfg.Database != "" {
		query.Set("database", cfg.Database)
	}
	for k, v := range cfg.Options {
		query.Set(k, v)
	}

	u := &url.URL{
		Scheme:   "sqlserver",
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		RawQuery: query.Encode(),
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	return u.String()
}

// Open opens a MSSQL connection.
// If the DSN contains "fedauth=", we use the Azure AD driver (azuresql)
// so things like ActiveDirectoryInteractive / AzCli work.
func (Dialect) Open(ctx context.Context, cfg db.Config) (*sql.DB, error) {
	dsn := DSN(cfg)

	driverName := "sqlserver"
	if strings.Contains(strings.ToLower(dsn), "fedauth=") {
		driverName = azuread.DriverName // "azuresql"
	}

	sqldb, err := sql.Open(driverName, dsn)
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
	parts := strings.Split(id, ".")
	for i, p := range parts {
		parts[i] = "[" + strings.ReplaceAll(p, "]", "]]") + "]"
	}
	return strings.Join(parts, ".")
}

func (Dialect) Placeholder(n int) string {
	return fmt.Sprintf("@p%d", n)
}

func (Dialect) ListTables(ctx context.Context, q db.Querier) ([]string, error) {
	const query = `
SELECT TABLE_NAME AS name
FROM INFORMATION_SCHEMA.TABLES
WHERE TABLE_TYPE = 'BASE TABLE'
  AND TABLE_SCHEMA = SCHEMA_NAME()
ORDER BY TABLE_NAME;
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

// DescribeTable accepts either "table" or "schema.table".
func (Dialect) DescribeTable(ctx context.Context, q db.Querier, table string) ([]db.Column, error) {
	schema := ""
	name := table
	if dot := strings.Index(table, "."); dot != -1 {
		schema = table[:dot]
		name = table[dot+1:]
	}

	const query = `
SELECT c.COLUMN_NAME, c.DATA_TYPE, c.IS_NULLABLE, COALESCE(c.COLUMN_DEFAULT, ''),
	CASE WHEN k.COLUMN_NAME IS NULL THEN 0 ELSE 1 END
FROM INFORMATION_SCHEMA.COLUMNS c
LEFT JOIN (
	SELECT ku.TABLE_SCHEMA, ku.TABLE_NAME, ku.COLUMN_NAME
	FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
	JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE ku
		ON tc.CONSTRAINT_NAME = ku.CONSTRAINT_NAME
		AND tc.TABLE_SCHEMA = ku.TABLE_SCHEMA
	WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
) k ON k.TABLE_SCHEMA = c.TABLE_SCHEMA AND k.TABLE_NAME = c.TABLE_NAME AND k.COLUMN_NAME = c.COLUMN_NAME
WHERE c.TABLE_SCHEMA = COALESCE(NULLIF(@p1, ''), SCHEMA_NAME()) AND c.TABLE_NAME = @p2
ORDER BY c.ORDINAL_POSITION;
`
	rows, err := q.QueryContext(ctx, query, schema, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []db.Column
	for rows.Next() {
		var col db.Column
		var nullable string
		var pk int
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &col.Default, &pk); err != nil {
			return nil, err
		}
		col.NotNull = nullable == "NO"
		col.PrimaryKey = pk == 1
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cols, nil
}

func (d Dialect) AddColumnSQL(table, column, typ string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD %s %s", d.QuoteIdent(table), d.QuoteIdent(column), typ)
}

func (d Dialect) DropColumnSQL(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", d.QuoteIdent(table), d.QuoteIdent(column))
}

func (Dialect) RenameColumnSQL(table, from, to string) string {
	return fmt.Sprintf("EXEC sp_rename %s, %s, 'COLUMN'", literal(table+"."+from), literal(to))
}

func (Dialect) RenameTableSQL(from, to string) string {
	return fmt.Sprintf("EXEC sp_rename %s, %s", literal(from), literal(to))
}

func (d Dialect) DropTableSQL(table string) string {
	return "DROP TABLE IF EXISTS " + d.QuoteIdent(table)
}

func (d Dialect) InsertDefaultsSQL(table string) string {
	return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", d.QuoteIdent(table))
}

func (Dialect) OptimizeSQL([]string) []string {
	return []string{"EXEC sp_updatestats"}
}

func (Dialect) NormalizeValue(v any, dbType string) any {
	switch x := v.(type) {
	case []byte:
		// NEVER string() binary; it wrecks the table.
		switch dbType {
		case "uniqueidentifier":
			return formatUniqueIdentifier(x)
		case "char", "varchar", "text", "nchar", "nvarchar", "ntext", "decimal", "numeric", "money", "smallmoney":
			return string(x)
		default:
			// safe hex representation for any other binary
			return fmt.Sprintf("0x%x", x)
		}
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return x
	}
}

func literal(s string) string {
	return "N'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func formatUniqueIdentifier(b []byte) string {
	if len(b) != 16 {
		return fmt.Sprintf("%x", b)
	}

	return fmt.Sprintf("%02x%02x%02x%02x-%02x%02x-%02x%02x-%02x%02x-%02x%02x%02x%02x%02x%02x",
		b[3], b[2], b[1], b[0],
		b[5], b[4],
		b[7], b[6],
		b[8], b[9],
		b[10], b[11], b[12], b[13], b[14], b[15],
	)
}
