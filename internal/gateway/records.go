package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bgunnarsson/dbgrid/internal/db"
)

// UpdateRecord sets column to value in the single row of table whose
// pkColumn equals pkValue, and commits. If the key matches no row or more
// than one, nothing is written and the error wraps db.ErrNoMatch or
// db.ErrAmbiguousMatch.
func (g *Gateway) UpdateRecord(ctx context.Context, table, pkColumn string, pkValue any, column string, value any) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	q := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s = %s",
		g.dialect.QuoteIdent(table),
		g.dialect.QuoteIdent(column), g.dialect.Placeholder(1),
		g.dialect.QuoteIdent(pkColumn), g.dialect.Placeholder(2))

	err := g.withTxLocked(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, q, value, pkValue)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		switch {
		case n == 0:
			return db.ErrNoMatch
		case n > 1:
			return fmt.Errorf("%w (%d rows)", db.ErrAmbiguousMatch, n)
		}
		return nil
	})
	if err != nil {
		g.logger.Error("update record failed",
			slog.String("table", table), slog.String("key", pkColumn), slog.Any("value", pkValue), slog.Any("error", err))
		return &db.WriteError{Op: "update record", Table: table, Cause: err}
	}

	g.logger.Info("updated record",
		slog.String("table", table), slog.String("key", pkColumn), slog.Any("value", pkValue), slog.String("column", column))
	return nil
}

// BatchInsert inserts rows into table, matching values to columns by name.
// A column named "id" is skipped so the backend can generate it; columns
// missing from a row get NULL. Either every row is inserted or none is.
func (g *Gateway) BatchInsert(ctx context.Context, table string, rows []db.Row) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(rows) == 0 {
		return 0, nil
	}

	inserted := 0
	err := g.withTxLocked(ctx, func(tx *sql.Tx) error {
		cols, err := g.dialect.DescribeTable(ctx, tx, table)
		if err != nil {
			return err
		}
		if len(cols) == 0 {
			return fmt.Errorf("table does not exist")
		}

		var names, quoted []string
		for _, c := range cols {
			if strings.EqualFold(c.Name, "id") {
				continue
			}
			names = append(names, c.Name)
			quoted = append(quoted, g.dialect.QuoteIdent(c.Name))
		}
		if len(names) == 0 {
			return fmt.Errorf("no insertable columns")
		}

		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			g.dialect.QuoteIdent(table), strings.Join(quoted, ", "), strings.Join(g.placeholders(1, len(names)), ", ")))
		if err != nil {
			return err
		}
		defer stmt.Close()

		values := make([]any, len(names))
		for i, row := range rows {
			for j, name := range names {
				values[j] = lookup(row, name)
			}
			if _, err := stmt.ExecContext(ctx, values...); err != nil {
				return fmt.Errorf("row %d: %w", i+1, err)
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		g.logger.Error("batch insert failed", slog.String("table", table), slog.Any("error", err))
		return 0, &db.WriteError{Op: "batch insert", Table: table, Cause: err}
	}

	g.logger.Info("batch inserted", slog.String("table", table), slog.Int("rows", inserted))
	return inserted, nil
}

// lookup finds name in row, falling back to a case-insensitive match so
// imported headers need not repeat the schema's casing.
func lookup(row db.Row, name string) any {
	if v, ok := row[name]; ok {
		return v
	}
	for k, v := range row {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return nil
}
