package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bgunnarsson/dbgrid/internal/db"
)

// Properties summarizes one table.
type Properties struct {
	Name    string
	Columns []db.Column
	Rows    int64
}

// CreateTable creates name with the given ordered columns if it does not
// exist yet and fills it with initialRows rows of default values ("" for
// text columns, 0 otherwise). Columns declared PRIMARY KEY are left to the
// backend. The whole operation commits or fails as one.
func (g *Gateway) CreateTable(ctx context.Context, name string, columns []db.Column, initialRows int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	fail := func(err error) error {
		g.logger.Error("create table failed", slog.String("table", name), slog.Any("error", err))
		return &db.DDLError{Op: "create table", Table: name, Cause: err}
	}

	if err := validateName("table", name); err != nil {
		return fail(err)
	}
	if err := validateColumns(columns); err != nil {
		return fail(err)
	}
	if initialRows < 0 {
		return fail(fmt.Errorf("negative initial row count %d", initialRows))
	}

	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = g.dialect.QuoteIdent(c.Name) + " " + strings.TrimSpace(c.Type)
	}
	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", g.dialect.QuoteIdent(name), strings.Join(defs, ", "))

	var names, marks []string
	var values []any
	for _, c := range columns {
		if declaresPrimaryKey(c.Type) {
			continue
		}
		names = append(names, g.dialect.QuoteIdent(c.Name))
		values = append(values, db.DefaultValue(c.Type))
	}
	insert := g.dialect.InsertDefaultsSQL(name)
	if len(names) > 0 {
		marks = g.placeholders(1, len(names))
		insert = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			g.dialect.QuoteIdent(name), strings.Join(names, ", "), strings.Join(marks, ", "))
	}

	err := g.withTxLocked(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, create); err != nil {
			return err
		}
		for i := 0; i < initialRows; i++ {
			if _, err := tx.ExecContext(ctx, insert, values...); err != nil {
				return fmt.Errorf("insert initial row %d: %w", i+1, err)
			}
		}
		return nil
	})
	if err != nil {
		return fail(err)
	}

	g.logger.Info("table created", slog.String("table", name), slog.Int("initial_rows", initialRows))
	return nil
}

// ListTables returns the table names in the order the backend reports them.
func (g *Gateway) ListTables(ctx context.Context) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tables, err := g.listTablesLocked(ctx)
	if err != nil {
		g.logger.Error("list tables failed", slog.Any("error", err))
		return nil, &db.QueryError{Op: "list tables", Cause: err}
	}
	g.logger.Debug("retrieved tables", slog.Any("tables", tables))
	return tables, nil
}

func (g *Gateway) listTablesLocked(ctx context.Context) ([]string, error) {
	if g.conn == nil {
		return nil, db.ErrClosed
	}
	return g.dialect.ListTables(ctx, g.conn)
}

// GetSchema returns the ordered columns of table. Introspection failures are
// logged and yield an empty schema.
func (g *Gateway) GetSchema(ctx context.Context, table string) []db.Column {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn == nil {
		g.logger.Error("get schema failed", slog.String("table", table), slog.Any("error", db.ErrClosed))
		return []db.Column{}
	}
	cols, err := g.dialect.DescribeTable(ctx, g.conn, table)
	if err != nil {
		g.logger.Error("get schema failed", slog.String("table", table), slog.Any("error", err))
		return []db.Column{}
	}
	if cols == nil {
		cols = []db.Column{}
	}
	return cols
}

// GetTableData fetches every row of table.
func (g *Gateway) GetTableData(ctx context.Context, table string) (*db.Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap, err := g.tableDataLocked(ctx, table)
	if err != nil {
		g.logger.Error("get table data failed", slog.String("table", table), slog.Any("error", err))
		return nil, &db.QueryError{Op: "get table data", Table: table, Cause: err}
	}
	return snap, nil
}

func (g *Gateway) tableDataLocked(ctx context.Context, table string) (*db.Snapshot, error) {
	if g.conn == nil {
		return nil, db.ErrClosed
	}

	described, err := g.dialect.DescribeTable(ctx, g.conn, table)
	if err != nil {
		g.logger.Warn("describe table failed", slog.String("table", table), slog.Any("error", err))
		described = nil
	}

	rows, err := g.conn.QueryContext(ctx, "SELECT * FROM "+g.dialect.QuoteIdent(table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names, data, err := db.ScanRows(rows, g.dialect)
	if err != nil {
		return nil, err
	}

	cols := make([]db.Column, len(names))
	for i, name := range names {
		if j := findColumn(described, name); j >= 0 {
			cols[i] = described[j]
			cols[i].Name = name
		} else {
			cols[i] = db.Column{Name: name}
		}
	}

	snap := &db.Snapshot{
		Table:      table,
		Columns:    cols,
		PrimaryKey: primaryKey(cols),
		Rows:       make([]db.Row, 0, len(data)),
	}
	for _, values := range data {
		row := make(db.Row, len(names))
		for i, name := range names {
			row[name] = values[i]
		}
		snap.Rows = append(snap.Rows, row)
	}
	return snap, nil
}

// AddColumn appends a column to table.
func (g *Gateway) AddColumn(ctx context.Context, table, column, typ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	err := validateName("column", column)
	if err == nil {
		err = validateType(typ)
	}
	if err == nil {
		stmt := g.dialect.AddColumnSQL(table, column, strings.TrimSpace(typ))
		err = g.withTxLocked(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, stmt)
			return err
		})
	}
	if err != nil {
		g.logger.Error("add column failed", slog.String("table", table), slog.String("column", column), slog.Any("error", err))
		return &db.DDLError{Op: "add column", Table: table, Cause: err}
	}

	g.logger.Info("added column", slog.String("table", table), slog.String("column", column))
	return nil
}

// DropTable removes table. Dropping a missing table is not an error.
func (g *Gateway) DropTable(ctx context.Context, table string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	err := g.withTxLocked(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, g.dialect.DropTableSQL(table))
		return err
	})
	if err != nil {
		g.logger.Error("drop table failed", slog.String("table", table), slog.Any("error", err))
		return &db.DDLError{Op: "drop table", Table: table, Cause: err}
	}

	g.logger.Info("dropped table", slog.String("table", table))
	return nil
}

// RenameTable renames from to to.
func (g *Gateway) RenameTable(ctx context.Context, from, to string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	err := validateName("table", to)
	if err == nil {
		err = g.withTxLocked(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, g.dialect.RenameTableSQL(from, to))
			return err
		})
	}
	if err != nil {
		g.logger.Error("rename table failed", slog.String("table", from), slog.String("to", to), slog.Any("error", err))
		return &db.DDLError{Op: "rename table", Table: from, Cause: err}
	}

	g.logger.Info("renamed table", slog.String("from", from), slog.String("to", to))
	return nil
}

// Properties reports the column list and row count of table.
func (g *Gateway) Properties(ctx context.Context, table string) (*Properties, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	props, err := g.propertiesLocked(ctx, table)
	if err != nil {
		g.logger.Error("table properties failed", slog.String("table", table), slog.Any("error", err))
		return nil, &db.QueryError{Op: "table properties", Table: table, Cause: err}
	}
	return props, nil
}

func (g *Gateway) propertiesLocked(ctx context.Context, table string) (*Properties, error) {
	if g.conn == nil {
		return nil, db.ErrClosed
	}
	cols, err := g.dialect.DescribeTable(ctx, g.conn, table)
	if err != nil {
		return nil, err
	}

	var count int64
	q := "SELECT COUNT(*) FROM " + g.dialect.QuoteIdent(table)
	if err := g.conn.QueryRowContext(ctx, q).Scan(&count); err != nil {
		return nil, err
	}

	return &Properties{Name: table, Columns: cols, Rows: count}, nil
}

// Optimize runs the backend's maintenance statements (VACUUM and friends).
// They run outside a transaction because most backends refuse them inside one.
func (g *Gateway) Optimize(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	err := g.optimizeLocked(ctx)
	if err != nil {
		g.logger.Error("optimization failed", slog.Any("error", err))
		return &db.DDLError{Op: "optimize", Cause: err}
	}

	g.logger.Info("database optimized")
	return nil
}

func (g *Gateway) optimizeLocked(ctx context.Context) error {
	if err := g.idleLocked(); err != nil {
		return err
	}
	tables, err := g.dialect.ListTables(ctx, g.conn)
	if err != nil {
		return err
	}
	for _, stmt := range g.dialect.OptimizeSQL(tables) {
		if _, err := g.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return nil
}
