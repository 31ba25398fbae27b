// Package gateway is the single point of contact with a SQL backend. It turns
// table operations into dialect-specific SQL and normalizes results into
// db.Snapshot and db.Column values.
//
// A Gateway owns exactly one connection. Every method blocks until the
// backend answers and is serialized with the others, so the auto-save timer
// may call Commit from its own goroutine.
package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bgunnarsson/dbgrid/internal/db"
	"github.com/bgunnarsson/dbgrid/internal/db/mssql"
	"github.com/bgunnarsson/dbgrid/internal/db/mysql"
	"github.com/bgunnarsson/dbgrid/internal/db/postgres"
	"github.com/bgunnarsson/dbgrid/internal/db/sqlite"
)

// Gateway wraps one pinned connection and the dialect it was opened with.
type Gateway struct {
	mu      sync.Mutex
	cfg     db.Config
	dialect db.Dialect
	sqldb   *sql.DB
	conn    *sql.Conn
	logger  *slog.Logger

	// set while a transaction opened through Execute is pending
	inTx bool
}

// DialectFor is the central backend factory.
func DialectFor(backend db.Backend) (db.Dialect, error) {
	switch backend {
	case "", db.BackendSqlite:
		return sqlite.New(), nil
	case db.BackendMysql:
		return mysql.New(), nil
	case db.BackendPostgres:
		return postgres.New(), nil
	case db.BackendMssql:
		return mssql.New(), nil
	default:
		return nil, &db.UnsupportedBackendError{Backend: string(backend), Available: db.Backends()}
	}
}

// Open connects to the backend named by cfg. It fails fast: a bad backend
// name or an unreachable database yields a *db.ConnectionError.
// If logger is nil, a discard logger is used.
func Open(ctx context.Context, cfg db.Config, logger *slog.Logger) (*Gateway, error) {
	d, err := DialectFor(cfg.Backend)
	if err != nil {
		return nil, &db.ConnectionError{Backend: cfg.Backend, Cause: err}
	}
	return OpenDialect(ctx, cfg, d, logger)
}

// OpenDialect connects with an explicit dialect.
func OpenDialect(ctx context.Context, cfg db.Config, d db.Dialect, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	sqldb, err := d.Open(ctx, cfg)
	if err != nil {
		logger.Error("connect failed", slog.String("backend", string(d.Backend())), slog.Any("error", err))
		return nil, &db.ConnectionError{Backend: d.Backend(), Cause: err}
	}

	g, err := New(ctx, sqldb, d, logger)
	if err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	g.cfg = cfg

	logger.Info("connected", slog.String("backend", string(d.Backend())))
	return g, nil
}

// New wraps an already opened *sql.DB. The gateway pins one connection from
// it and takes ownership of sqldb.
func New(ctx context.Context, sqldb *sql.DB, d db.Dialect, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	sqldb.SetMaxOpenConns(1)
	conn, err := sqldb.Conn(ctx)
	if err != nil {
		return nil, &db.ConnectionError{Backend: d.Backend(), Cause: err}
	}

	return &Gateway{
		cfg:     db.Config{Backend: d.Backend()},
		dialect: d,
		sqldb:   sqldb,
		conn:    conn,
		logger:  logger,
	}, nil
}

// Backend returns the backend the gateway talks to.
func (g *Gateway) Backend() db.Backend {
	return g.dialect.Backend()
}

// Dialect returns the dialect the gateway was opened with.
func (g *Gateway) Dialect() db.Dialect {
	return g.dialect
}

// Close releases the connection. Close is idempotent.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn == nil {
		return nil
	}

	g.logger.Debug("closing database connection")
	connErr := g.conn.Close()
	dbErr := g.sqldb.Close()
	g.conn = nil
	g.sqldb = nil
	g.inTx = false

	return errors.Join(connErr, dbErr)
}

// Commit flushes a transaction opened through Execute. Every other write
// commits on its own and is refused while such a transaction is open, so
// with nothing pending Commit does nothing.
func (g *Gateway) Commit(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn == nil {
		return &db.WriteError{Op: "commit", Cause: db.ErrClosed}
	}
	if err := g.flushLocked(ctx); err != nil {
		return &db.WriteError{Op: "commit", Cause: err}
	}
	return nil
}

func (g *Gateway) flushLocked(ctx context.Context) error {
	if !g.inTx {
		g.logger.Debug("commit: nothing pending")
		return nil
	}
	if _, err := g.conn.ExecContext(ctx, "COMMIT"); err != nil {
		g.logger.Error("commit failed", slog.Any("error", err))
		return err
	}
	g.inTx = false
	g.logger.Info("changes committed")
	return nil
}

// idleLocked fails unless the gateway is open and no transaction opened
// through Execute is pending.
func (g *Gateway) idleLocked() error {
	if g.conn == nil {
		return db.ErrClosed
	}
	if g.inTx {
		return db.ErrTxPending
	}
	return nil
}

// withTxLocked runs fn in a transaction on the pinned connection, committing
// on success and rolling back on any error.
func (g *Gateway) withTxLocked(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := g.idleLocked(); err != nil {
		return err
	}

	tx, err := g.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			g.logger.Error("rollback failed", slog.Any("error", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// placeholders returns n dialect placeholders starting at position from.
func (g *Gateway) placeholders(from, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = g.dialect.Placeholder(from + i)
	}
	return out
}
