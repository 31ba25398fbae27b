package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/bgunnarsson/dbgrid/internal/db"
)

// RemoveColumn drops column from table. Backends without a native DROP
// COLUMN get a table rebuild; either way rows and the remaining columns are
// preserved, and a failure leaves the table as it was.
func (g *Gateway) RemoveColumn(ctx context.Context, table, column string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var err error
	if stmt := g.dialect.DropColumnSQL(table, column); stmt != "" {
		err = g.withTxLocked(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, stmt)
			return err
		})
	} else {
		var inPlace string
		if r, ok := g.dialect.(db.Rebuilder); ok {
			inPlace = r.InPlaceDropColumnSQL(table, column)
		}
		err = g.rebuildLocked(ctx, table, inPlace, func(cols []db.Column) ([]db.Column, []string, error) {
			i := findColumn(cols, column)
			if i < 0 {
				return nil, nil, fmt.Errorf("no such column %q", column)
			}
			if len(cols) == 1 {
				return nil, nil, fmt.Errorf("cannot remove the only column %q", column)
			}
			target := make([]db.Column, 0, len(cols)-1)
			target = append(target, cols[:i]...)
			target = append(target, cols[i+1:]...)
			source := make([]string, len(target))
			for j, c := range target {
				source[j] = c.Name
			}
			return target, source, nil
		})
	}
	if err != nil {
		g.logger.Error("remove column failed", slog.String("table", table), slog.String("column", column), slog.Any("error", err))
		return &db.DDLError{Op: "remove column", Table: table, Cause: err}
	}

	g.logger.Info("removed column", slog.String("table", table), slog.String("column", column))
	return nil
}

// RenameColumn renames column from to to in table, rebuilding the table on
// backends without a native RENAME COLUMN.
func (g *Gateway) RenameColumn(ctx context.Context, table, from, to string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	err := validateName("column", to)
	if err == nil {
		if stmt := g.dialect.RenameColumnSQL(table, from, to); stmt != "" {
			err = g.withTxLocked(ctx, func(tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, stmt)
				return err
			})
		} else {
			var inPlace string
			if r, ok := g.dialect.(db.Rebuilder); ok {
				inPlace = r.InPlaceRenameColumnSQL(table, from, to)
			}
			err = g.rebuildLocked(ctx, table, inPlace, func(cols []db.Column) ([]db.Column, []string, error) {
				i := findColumn(cols, from)
				if i < 0 {
					return nil, nil, fmt.Errorf("no such column %q", from)
				}
				if j := findColumn(cols, to); j >= 0 && j != i {
					return nil, nil, fmt.Errorf("column %q already exists", to)
				}
				target := make([]db.Column, len(cols))
				source := make([]string, len(cols))
				copy(target, cols)
				for j, c := range cols {
					source[j] = c.Name
				}
				target[i].Name = to
				return target, source, nil
			})
		}
	}
	if err != nil {
		g.logger.Error("rename column failed",
			slog.String("table", table), slog.String("column", from), slog.String("to", to), slog.Any("error", err))
		return &db.DDLError{Op: "rename column", Table: table, Cause: err}
	}

	g.logger.Info("renamed column", slog.String("table", table), slog.String("from", from), slog.String("to", to))
	return nil
}

// reshapeFunc maps the current columns to the rebuilt table's columns and,
// position by position, the existing column each one is copied from.
type reshapeFunc func(cols []db.Column) (target []db.Column, source []string, err error)

// rebuildLocked recreates table under a new shape: move the original aside
// under a temporary name, create the new table, copy the rows across by
// explicit column list, and drop the original. All four steps share one
// transaction, so on failure the original table is back under its name and
// no temporary table is left behind.
//
// A table whose definition holds more than the column list can express is
// altered with inPlace instead, or left alone when inPlace is "".
func (g *Gateway) rebuildLocked(ctx context.Context, table, inPlace string, reshape reshapeFunc) error {
	if err := g.idleLocked(); err != nil {
		return err
	}

	if r, ok := g.dialect.(db.Rebuilder); ok {
		losses, err := r.RebuildLosses(ctx, g.conn, table)
		if err != nil {
			return fmt.Errorf("inspect %q: %w", table, err)
		}
		if len(losses) > 0 {
			if inPlace == "" {
				return fmt.Errorf("%w %s", db.ErrLossyRebuild, strings.Join(losses, ", "))
			}
			g.logger.Debug("altering in place", slog.String("table", table), slog.Any("keeps", losses))
			return g.withTxLocked(ctx, func(tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, inPlace)
				return err
			})
		}

		for _, stmt := range r.RebuildPragmas(true) {
			if _, err := g.conn.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("%s: %w", stmt, err)
			}
		}
		defer func() {
			for _, stmt := range r.RebuildPragmas(false) {
				if _, err := g.conn.ExecContext(context.WithoutCancel(ctx), stmt); err != nil {
					g.logger.Error("restore session settings failed", slog.String("stmt", stmt), slog.Any("error", err))
				}
			}
		}()
	}

	return g.withTxLocked(ctx, func(tx *sql.Tx) error {
		cols, err := g.dialect.DescribeTable(ctx, tx, table)
		if err != nil {
			return err
		}
		if len(cols) == 0 {
			return fmt.Errorf("table does not exist")
		}

		target, source, err := reshape(cols)
		if err != nil {
			return err
		}

		tmp := tempTableName(table)
		steps := []string{
			g.dialect.RenameTableSQL(table, tmp),
			g.createTableSQL(table, target),
			g.copyRowsSQL(tmp, table, target, source),
			g.dialect.DropTableSQL(tmp),
		}
		for _, stmt := range steps {
			g.logger.Debug("rebuild step", slog.String("table", table), slog.String("sql", stmt))
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("rebuild %q: %w", table, err)
			}
		}
		return nil
	})
}

func tempTableName(table string) string {
	return fmt.Sprintf("_%s_rebuild_%s", table, strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// createTableSQL renders a full definition, keeping types, NOT NULL,
// defaults and the primary key.
func (g *Gateway) createTableSQL(table string, cols []db.Column) string {
	defs := make([]string, 0, len(cols)+1)
	var pks []string
	for _, c := range cols {
		def := g.dialect.QuoteIdent(c.Name)
		if c.Type != "" {
			def += " " + c.Type
		}
		if c.NotNull {
			def += " NOT NULL"
		}
		// table_info reports expression defaults without their parentheses
		if c.Default != "" {
			def += " DEFAULT (" + c.Default + ")"
		}
		defs = append(defs, def)
		if c.PrimaryKey {
			pks = append(pks, g.dialect.QuoteIdent(c.Name))
		}
	}
	if len(pks) > 0 {
		defs = append(defs, "PRIMARY KEY ("+strings.Join(pks, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", g.dialect.QuoteIdent(table), strings.Join(defs, ", "))
}

func (g *Gateway) copyRowsSQL(from, to string, target []db.Column, source []string) string {
	dst := make([]string, len(target))
	src := make([]string, len(source))
	for i := range target {
		dst[i] = g.dialect.QuoteIdent(target[i].Name)
		src[i] = g.dialect.QuoteIdent(source[i])
	}
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		g.dialect.QuoteIdent(to), strings.Join(dst, ", "), strings.Join(src, ", "), g.dialect.QuoteIdent(from))
}
