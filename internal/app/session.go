// Package app ties the gateway, the grid model and the auto-save timer into
// a session that front ends drive through named actions.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bgunnarsson/dbgrid/internal/autosave"
	"github.com/bgunnarsson/dbgrid/internal/config"
	"github.com/bgunnarsson/dbgrid/internal/db"
	"github.com/bgunnarsson/dbgrid/internal/gateway"
	"github.com/bgunnarsson/dbgrid/internal/grid"
)

var ErrNotConnected = errors.New("no database connected")

// Session holds at most one open database and the grid bound to it.
type Session struct {
	logger   *slog.Logger
	interval time.Duration

	mu    sync.Mutex
	gw    *gateway.Gateway
	model *grid.Model
	saver *autosave.Timer

	// OnSaveError receives auto-save failures.
	OnSaveError func(error)
}

// NewSession returns an unconnected session. A non-positive interval uses
// the auto-save default.
func NewSession(logger *slog.Logger, interval time.Duration) *Session {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Session{logger: logger, interval: interval}
}

// Connect opens the database described by setup, replacing any open one.
// With mustExist set a missing sqlite file is an error instead of being
// created.
func (s *Session) Connect(ctx context.Context, setup *config.Setup, mustExist bool) error {
	if err := setup.Validate(); err != nil {
		return &ConfigError{Cause: err}
	}
	cfg, err := setup.DBConfig()
	if err != nil {
		return &ConfigError{Cause: err}
	}
	if mustExist && cfg.Backend == db.BackendSqlite {
		if _, err := os.Stat(cfg.Path); err != nil {
			return &db.ConnectionError{Backend: cfg.Backend, Cause: fmt.Errorf("open %s: %w", cfg.Path, err)}
		}
	}

	gw, err := gateway.Open(ctx, cfg, s.logger.With(slog.String("component", "gateway")))
	if err != nil {
		return err
	}

	interval := s.interval
	if setup.Autosave > 0 {
		interval = setup.Autosave
	}
	saver := autosave.New(gw, interval, s.logger.With(slog.String("component", "autosave")))
	saver.OnError = s.saveFailed
	model := grid.New(gw,
		grid.WithLogger(s.logger.With(slog.String("component", "grid"))),
		grid.WithCellChanged(func(int, int) { saver.Arm() }),
	)

	s.mu.Lock()
	old := s.gw
	oldSaver := s.saver
	s.gw, s.model, s.saver = gw, model, saver
	s.mu.Unlock()

	if old != nil {
		oldSaver.Stop()
		if err := old.Close(); err != nil {
			s.logger.Warn("closing previous database failed", slog.Any("error", err))
		}
	}
	s.logger.Info("connected", slog.String("backend", string(cfg.Backend)))
	return nil
}

// Connected reports whether a database is open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gw != nil
}

// Gateway returns the open gateway or ErrNotConnected.
func (s *Session) Gateway() (*gateway.Gateway, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gw == nil {
		return nil, ErrNotConnected
	}
	return s.gw, nil
}

// Grid returns the grid of the open database, or nil.
func (s *Session) Grid() *grid.Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// Saver returns the auto-save timer of the open database, or nil.
func (s *Session) Saver() *autosave.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saver
}

// Close flushes pending changes and closes the database. Calling it again
// is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	gw, saver := s.gw, s.saver
	s.gw, s.model, s.saver = nil, nil, nil
	s.mu.Unlock()

	if gw == nil {
		return nil
	}
	saver.Stop()
	return errors.Join(gw.Commit(context.Background()), gw.Close())
}

func (s *Session) parts() (*gateway.Gateway, *grid.Model, *autosave.Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gw == nil {
		return nil, nil, nil, ErrNotConnected
	}
	return s.gw, s.model, s.saver, nil
}

func (s *Session) saveFailed(err error) {
	if s.OnSaveError != nil {
		s.OnSaveError(err)
	}
}

// ConfigError reports an unusable setup.
type ConfigError struct {
	Cause error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %v", e.Cause)
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}
