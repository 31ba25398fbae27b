// Package grid presents one table as an editable, ordered grid of cells.
//
// A Model caches a full snapshot of its bound table. Reads never touch the
// database; an edit goes to the database first and reaches the cache only
// once the database accepted it.
package grid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bgunnarsson/dbgrid/internal/db"
)

var (
	ErrUnbound        = errors.New("no table loaded")
	ErrLoadInProgress = errors.New("a load is already in progress")
	ErrOutOfRange     = errors.New("cell out of range")
)

// Source is the part of the gateway a Model needs.
type Source interface {
	GetTableData(ctx context.Context, table string) (*db.Snapshot, error)
	UpdateRecord(ctx context.Context, table, pkColumn string, pkValue any, column string, value any) error
}

type Option func(*Model)

// WithViewChanged registers fn to run after every successful Load.
func WithViewChanged(fn func(table string)) Option {
	return func(m *Model) { m.onView = append(m.onView, fn) }
}

// WithCellChanged registers fn to run after every successful SetCellValue.
func WithCellChanged(fn func(row, col int)) Option {
	return func(m *Model) { m.onCell = append(m.onCell, fn) }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Model) { m.logger = logger }
}

// Model is the in-memory projection of one table.
type Model struct {
	src    Source
	logger *slog.Logger
	onView []func(table string)
	onCell []func(row, col int)

	loading atomic.Bool

	mu   sync.RWMutex
	snap *db.Snapshot
}

// New returns an unbound model.
func New(src Source, opts ...Option) *Model {
	m := &Model{src: src}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	return m
}

// Load binds the model to table and replaces the cache with a fresh
// snapshot. A failed load leaves the previous binding and cache in place.
func (m *Model) Load(ctx context.Context, table string) error {
	if !m.loading.CompareAndSwap(false, true) {
		return ErrLoadInProgress
	}
	defer m.loading.Store(false)

	snap, err := m.src.GetTableData(ctx, table)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.snap = snap
	m.mu.Unlock()

	m.logger.Debug("grid loaded", slog.String("table", table), slog.Int("rows", len(snap.Rows)))
	for _, fn := range m.onView {
		fn(table)
	}
	return nil
}

// Refresh reloads the bound table.
func (m *Model) Refresh(ctx context.Context) error {
	table, ok := m.Table()
	if !ok {
		return ErrUnbound
	}
	return m.Load(ctx, table)
}

// Table returns the bound table name.
func (m *Model) Table() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snap == nil {
		return "", false
	}
	return m.snap.Table, true
}

func (m *Model) Bound() bool {
	_, ok := m.Table()
	return ok
}

func (m *Model) RowCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snap == nil {
		return 0
	}
	return len(m.snap.Rows)
}

func (m *Model) ColumnCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snap == nil {
		return 0
	}
	return len(m.snap.Columns)
}

// Columns returns a copy of the cached column descriptors.
func (m *Model) Columns() []db.Column {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snap == nil {
		return nil
	}
	return append([]db.Column(nil), m.snap.Columns...)
}

// Header returns the name of column col.
func (m *Model) Header(col int) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snap == nil {
		return "", ErrUnbound
	}
	if col < 0 || col >= len(m.snap.Columns) {
		return "", ErrOutOfRange
	}
	return m.snap.Columns[col].Name, nil
}

// PrimaryKey returns the column rows are identified by.
func (m *Model) PrimaryKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snap == nil {
		return ""
	}
	return m.snap.PrimaryKey
}

// Snapshot returns the cached snapshot. Callers must not modify it.
func (m *Model) Snapshot() *db.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// CellValue returns the cached value at row, col.
func (m *Model) CellValue(row, col int) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name, err := m.cellLocked(row, col)
	if err != nil {
		return nil, err
	}
	return m.snap.Rows[row][name], nil
}

// CellText renders the cached value at row, col for display.
func (m *Model) CellText(row, col int) (string, error) {
	v, err := m.CellValue(row, col)
	if err != nil {
		return "", err
	}
	return db.FormatValue(v), nil
}

// SetCellValue writes value to row, col through the gateway, identifying
// the row by its primary key value. The cache is updated only when the
// write succeeded.
func (m *Model) SetCellValue(ctx context.Context, row, col int, value any) error {
	m.mu.RLock()
	name, err := m.cellLocked(row, col)
	if err != nil {
		m.mu.RUnlock()
		return err
	}
	table := m.snap.Table
	pk := m.snap.PrimaryKey
	pkValue, err := m.keyLocked(row)
	m.mu.RUnlock()
	if err != nil {
		return &db.WriteError{Op: "update record", Table: table, Cause: err}
	}

	if err := m.src.UpdateRecord(ctx, table, pk, pkValue, name, value); err != nil {
		return err
	}

	m.mu.Lock()
	// the snapshot may have been replaced by a concurrent Load
	if m.snap != nil && m.snap.Table == table && row < len(m.snap.Rows) {
		m.snap.Rows[row][name] = value
	}
	m.mu.Unlock()

	for _, fn := range m.onCell {
		fn(row, col)
	}
	return nil
}

func (m *Model) cellLocked(row, col int) (string, error) {
	if m.snap == nil {
		return "", ErrUnbound
	}
	if row < 0 || row >= len(m.snap.Rows) || col < 0 || col >= len(m.snap.Columns) {
		return "", fmt.Errorf("%w: row %d, column %d", ErrOutOfRange, row, col)
	}
	return m.snap.Columns[col].Name, nil
}

// keyLocked returns the primary key value of row after checking that it
// identifies exactly one cached row.
func (m *Model) keyLocked(row int) (any, error) {
	pk := m.snap.PrimaryKey
	if pk == "" {
		return nil, fmt.Errorf("table has no key column")
	}
	v, ok := m.snap.Rows[row][pk]
	if !ok {
		return nil, fmt.Errorf("key column %q missing from row", pk)
	}
	if v == nil {
		return nil, fmt.Errorf("key column %q is NULL", pk)
	}

	matches := 0
	for _, r := range m.snap.Rows {
		if db.FormatValue(r[pk]) == db.FormatValue(v) {
			matches++
		}
	}
	if matches > 1 {
		return nil, fmt.Errorf("%w: %d cached rows share %s = %s", db.ErrAmbiguousMatch, matches, pk, db.FormatValue(v))
	}
	return v, nil
}
