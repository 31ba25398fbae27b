package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bgunnarsson/dbgrid/internal/db"
)

// Execute runs one caller-supplied statement as is. Row-returning statements
// (SELECT, WITH, PRAGMA, SHOW, EXPLAIN, VALUES, DESCRIBE) produce rows, all
// others a count of affected rows.
//
// Execute does no escaping or validation of any kind: callers building the
// statement from user text own that.
func (g *Gateway) Execute(ctx context.Context, query string) (*db.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	keyword := firstKeyword(query)
	if keyword == "" {
		return nil, &db.QueryError{Op: "execute", Query: query, Cause: fmt.Errorf("empty statement")}
	}
	if g.conn == nil {
		return nil, &db.QueryError{Op: "execute", Query: query, Cause: db.ErrClosed}
	}

	if isQueryKeyword(keyword) {
		rows, err := g.conn.QueryContext(ctx, query)
		if err != nil {
			g.logger.Error("query execution failed", slog.Any("error", err))
			return nil, &db.QueryError{Op: "execute", Query: query, Cause: err}
		}
		defer rows.Close()

		names, data, err := db.ScanRows(rows, g.dialect)
		if err != nil {
			g.logger.Error("query execution failed", slog.Any("error", err))
			return nil, &db.QueryError{Op: "execute", Query: query, Cause: err}
		}
		return &db.Result{Columns: names, Rows: data, RowsAffected: int64(len(data)), IsQuery: true}, nil
	}

	res, err := g.conn.ExecContext(ctx, query)
	if err != nil {
		g.logger.Error("statement execution failed", slog.Any("error", err))
		return nil, &db.WriteError{Op: "execute", Cause: err}
	}
	g.trackSession(keyword, query)

	n, err := res.RowsAffected()
	if err != nil {
		// DDL and transaction control have no meaningful count on some drivers.
		n = 0
	}
	g.logger.Debug("statement executed", slog.String("keyword", keyword), slog.Int64("rows_affected", n))
	return &db.Result{RowsAffected: n}, nil
}

// trackSession follows transactions opened and closed by raw statements so
// Commit knows whether anything is pending.
func (g *Gateway) trackSession(keyword, query string) {
	switch keyword {
	case "BEGIN":
		g.inTx = true
	case "START":
		if secondKeyword(query) == "TRANSACTION" {
			g.inTx = true
		}
	case "COMMIT", "END", "ROLLBACK":
		if keyword == "ROLLBACK" && secondKeyword(query) == "TO" {
			return
		}
		g.inTx = false
	}
}

var queryKeywords = map[string]bool{
	"SELECT":   true,
	"WITH":     true,
	"PRAGMA":   true,
	"SHOW":     true,
	"EXPLAIN":  true,
	"VALUES":   true,
	"DESCRIBE": true,
	"DESC":     true,
}

func isQueryKeyword(keyword string) bool {
	return queryKeywords[keyword]
}

func firstKeyword(query string) string {
	fields := keywords(query, 1)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func secondKeyword(query string) string {
	fields := keywords(query, 2)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

// keywords returns up to n leading words of query, upper-cased, skipping
// leading "--" line comments and "/* */" block comments.
func keywords(query string, n int) []string {
	s := strings.TrimSpace(query)
	for {
		switch {
		case strings.HasPrefix(s, "--"):
			if i := strings.IndexByte(s, '\n'); i >= 0 {
				s = strings.TrimSpace(s[i+1:])
				continue
			}
			return nil
		case strings.HasPrefix(s, "/*"):
			if i := strings.Index(s, "*/"); i >= 0 {
				s = strings.TrimSpace(s[i+2:])
				continue
			}
			return nil
		}
		break
	}

	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	})
	if len(fields) > n {
		fields = fields[:n]
	}
	for i := range fields {
		fields[i] = strings.ToUpper(fields[i])
	}
	return fields
}
