package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/bgunnarsson/dbgrid/internal/config"
	"github.com/bgunnarsson/dbgrid/internal/db"
	"github.com/bgunnarsson/dbgrid/internal/gateway"
	"github.com/bgunnarsson/dbgrid/internal/grid"
	"github.com/bgunnarsson/dbgrid/internal/transfer"
)

// ActionID names a user-facing command.
type ActionID string

const (
	ActionNewDatabase     ActionID = "new-database"
	ActionOpenDatabase    ActionID = "open-database"
	ActionRefresh         ActionID = "refresh"
	ActionOptimize        ActionID = "optimize"
	ActionChangeTable     ActionID = "change-table"
	ActionNewTable        ActionID = "new-table"
	ActionRenameTable     ActionID = "rename-table"
	ActionDeleteTable     ActionID = "delete-table"
	ActionTableProperties ActionID = "table-properties"
	ActionEditRecord      ActionID = "edit-record"
	ActionAddColumn       ActionID = "add-column"
	ActionRemoveColumn    ActionID = "remove-column"
	ActionRenameColumn    ActionID = "rename-column"
	ActionExport          ActionID = "export"
	ActionImport          ActionID = "import"
	ActionCommit          ActionID = "commit"
	ActionSchema          ActionID = "schema"
	ActionExecute         ActionID = "execute"
)

// Args carries the inputs of an action. Each action reads only the fields
// it needs. An empty Table means the table bound to the grid.
type Args struct {
	Setup *config.Setup

	Table       string
	NewName     string
	Column      string
	Type        string
	Columns     []db.Column
	InitialRows int

	Row   int
	Col   int
	Value any

	Path string
	SQL  string
}

// Outcome is what an action produced. Fields an action has nothing for
// stay zero.
type Outcome struct {
	Message    string
	Snapshot   *db.Snapshot
	Result     *db.Result
	Schema     []db.Column
	Tables     []string
	Properties *gateway.Properties
}

type UnknownActionError struct {
	ID ActionID
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %q", e.ID)
}

type actionFunc func(ctx context.Context, s *Session, args Args) (*Outcome, error)

var actions = map[ActionID]actionFunc{
	ActionNewDatabase:     newDatabase,
	ActionOpenDatabase:    openDatabase,
	ActionRefresh:         refresh,
	ActionOptimize:        optimize,
	ActionChangeTable:     changeTable,
	ActionNewTable:        newTable,
	ActionRenameTable:     renameTable,
	ActionDeleteTable:     deleteTable,
	ActionTableProperties: tableProperties,
	ActionEditRecord:      editRecord,
	ActionAddColumn:       addColumn,
	ActionRemoveColumn:    removeColumn,
	ActionRenameColumn:    renameColumn,
	ActionExport:          exportTable,
	ActionImport:          importTable,
	ActionCommit:          commit,
	ActionSchema:          schema,
	ActionExecute:         execute,
}

// Actions lists every registered action id, sorted.
func Actions() []ActionID {
	ids := make([]ActionID, 0, len(actions))
	for id := range actions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Do runs the action registered under id.
func (s *Session) Do(ctx context.Context, id ActionID, args Args) (*Outcome, error) {
	fn, ok := actions[id]
	if !ok {
		return nil, &UnknownActionError{ID: id}
	}
	s.logger.Debug("action", slog.String("id", string(id)))
	out, err := fn(ctx, s, args)
	if err != nil {
		s.logger.Debug("action failed", slog.String("id", string(id)), slog.Any("error", err))
		return nil, err
	}
	return out, nil
}

func newDatabase(ctx context.Context, s *Session, args Args) (*Outcome, error) {
	if args.Setup == nil {
		return nil, &ConfigError{Cause: errors.New("missing setup")}
	}
	if err := s.Connect(ctx, args.Setup, false); err != nil {
		return nil, err
	}
	gw, model, _, err := s.parts()
	if err != nil {
		return nil, err
	}

	setup := args.Setup
	if setup.IsNew {
		if err := gw.CreateTable(ctx, setup.Table, setup.TableColumns(), setup.InitialRows); err != nil {
			return nil, err
		}
	}
	return connected(ctx, gw, model, setup.Table)
}

func openDatabase(ctx context.Context, s *Session, args Args) (*Outcome, error) {
	if args.Setup == nil {
		return nil, &ConfigError{Cause: errors.New("missing setup")}
	}
	setup := *args.Setup
	setup.IsNew = false
	if err := s.Connect(ctx, &setup, true); err != nil {
		return nil, err
	}
	gw, model, _, err := s.parts()
	if err != nil {
		return nil, err
	}
	return connected(ctx, gw, model, setup.Table)
}

// connected lists the tables of a freshly opened database and binds the
// grid to table, or to the first table when none is named.
func connected(ctx context.Context, gw *gateway.Gateway, model *grid.Model, table string) (*Outcome, error) {
	tables, err := gw.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Tables: tables, Message: fmt.Sprintf("%d tables", len(tables))}
	if table == "" && len(tables) > 0 {
		table = tables[0]
	}
	if table == "" {
		return out, nil
	}
	if err := model.Load(ctx, table); err != nil {
		return nil, err
	}
	out.Snapshot = model.Snapshot()
	return out, nil
}

func refresh(ctx context.Context, s *Session, _ Args) (*Outcome, error) {
	gw, model, _, err := s.parts()
	if err != nil {
		return nil, err
	}
	tables, err := gw.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Tables: tables}
	if !model.Bound() {
		return out, nil
	}
	if err := model.Refresh(ctx); err != nil {
		return nil, err
	}
	out.Snapshot = model.Snapshot()
	return out, nil
}

func optimize(ctx context.Context, s *Session, _ Args) (*Outcome, error) {
	gw, _, _, err := s.parts()
	if err != nil {
		return nil, err
	}
	if err := gw.Optimize(ctx); err != nil {
		return nil, err
	}
	return &Outcome{Message: "database optimized"}, nil
}

func changeTable(ctx context.Context, s *Session, args Args) (*Outcome, error) {
	_, model, _, err := s.parts()
	if err != nil {
		return nil, err
	}
	if args.Table == "" {
		return nil, errors.New("change table: no table given")
	}
	if err := model.Load(ctx, args.Table); err != nil {
		return nil, err
	}
	return &Outcome{Snapshot: model.Snapshot()}, nil
}

func newTable(ctx context.Context, s *Session, args Args) (*Outcome, error) {
	gw, model, _, err := s.parts()
	if err != nil {
		return nil, err
	}
	if err := gw.CreateTable(ctx, args.Table, args.Columns, args.InitialRows); err != nil {
		return nil, err
	}
	if err := model.Load(ctx, args.Table); err != nil {
		return nil, err
	}
	return &Outcome{
		Message:  fmt.Sprintf("table %s created", args.Table),
		Snapshot: model.Snapshot(),
	}, nil
}

func renameTable(ctx context.Context, s *Session, args Args) (*Outcome, error) {
	gw, model, _, err := s.parts()
	if err != nil {
		return nil, err
	}
	from := tableArg(model, args)
	if err := gw.RenameTable(ctx, from, args.NewName); err != nil {
		return nil, err
	}
	out := &Outcome{Message: fmt.Sprintf("table %s renamed to %s", from, args.NewName)}
	if bound, ok := model.Table(); ok && bound == from {
		if err := model.Load(ctx, args.NewName); err != nil {
			return nil, err
		}
		out.Snapshot = model.Snapshot()
	}
	return out, nil
}

func deleteTable(ctx context.Context, s *Session, args Args) (*Outcome, error) {
	gw, model, _, err := s.parts()
	if err != nil {
		return nil, err
	}
	table := tableArg(model, args)
	if err := gw.DropTable(ctx, table); err != nil {
		return nil, err
	}
	tables, err := gw.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Message: fmt.Sprintf("table %s dropped", table), Tables: tables}
	// the grid moves on to a remaining table; with none left it keeps the
	// stale binding and its next refresh fails
	if bound, ok := model.Table(); ok && bound == table && len(tables) > 0 {
		if err := model.Load(ctx, tables[0]); err != nil {
			return nil, err
		}
		out.Snapshot = model.Snapshot()
	}
	return out, nil
}

func tableProperties(ctx context.Context, s *Session, args Args) (*Outcome, error) {
	gw, model, _, err := s.parts()
	if err != nil {
		return nil, err
	}
	props, err := gw.Properties(ctx, tableArg(model, args))
	if err != nil {
		return nil, err
	}
	return &Outcome{Properties: props, Schema: props.Columns}, nil
}

func editRecord(ctx context.Context, s *Session, args Args) (*Outcome, error) {
	_, model, _, err := s.parts()
	if err != nil {
		return nil, err
	}
	if args.Table != "" {
		if bound, ok := model.Table(); !ok || bound != args.Table {
			if err := model.Load(ctx, args.Table); err != nil {
				return nil, err
			}
		}
	}
	if err := model.SetCellValue(ctx, args.Row, args.Col, args.Value); err != nil {
		return nil, err
	}
	return &Outcome{Snapshot: model.Snapshot()}, nil
}

func addColumn(ctx context.Context, s *Session, args Args) (*Outcome, error) {
	return alterColumns(ctx, s, args, func(gw *gateway.Gateway, table string) error {
		return gw.AddColumn(ctx, table, args.Column, args.Type)
	})
}

func removeColumn(ctx context.Context, s *Session, args Args) (*Outcome, error) {
	return alterColumns(ctx, s, args, func(gw *gateway.Gateway, table string) error {
		return gw.RemoveColumn(ctx, table, args.Column)
	})
}

func renameColumn(ctx context.Context, s *Session, args Args) (*Outcome, error) {
	return alterColumns(ctx, s, args, func(gw *gateway.Gateway, table string) error {
		return gw.RenameColumn(ctx, table, args.Column, args.NewName)
	})
}

// alterColumns runs a column change and reloads the grid when it shows the
// altered table.
func alterColumns(ctx context.Context, s *Session, args Args, alter func(*gateway.Gateway, string) error) (*Outcome, error) {
	gw, model, _, err := s.parts()
	if err != nil {
		return nil, err
	}
	table := tableArg(model, args)
	if err := alter(gw, table); err != nil {
		return nil, err
	}
	out := &Outcome{Schema: gw.GetSchema(ctx, table)}
	if bound, ok := model.Table(); ok && bound == table {
		if err := model.Refresh(ctx); err != nil {
			return nil, err
		}
		out.Snapshot = model.Snapshot()
	}
	return out, nil
}

func exportTable(ctx context.Context, s *Session, args Args) (*Outcome, error) {
	gw, model, _, err := s.parts()
	if err != nil {
		return nil, err
	}
	table := tableArg(model, args)
	snap, err := gw.GetTableData(ctx, table)
	if err != nil {
		return nil, err
	}
	if err := transfer.ExportFile(args.Path, snap); err != nil {
		return nil, fmt.Errorf("export %s: %w", table, err)
	}
	return &Outcome{Message: fmt.Sprintf("exported %d rows to %s", len(snap.Rows), args.Path)}, nil
}

func importTable(ctx context.Context, s *Session, args Args) (*Outcome, error) {
	gw, model, _, err := s.parts()
	if err != nil {
		return nil, err
	}
	table := tableArg(model, args)
	rows, err := transfer.ImportFile(args.Path)
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", table, err)
	}
	n, err := gw.BatchInsert(ctx, table, rows)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Message: fmt.Sprintf("imported %d rows into %s", n, table)}
	if bound, ok := model.Table(); ok && bound == table {
		if err := model.Refresh(ctx); err != nil {
			return nil, err
		}
		out.Snapshot = model.Snapshot()
	}
	return out, nil
}

func commit(ctx context.Context, s *Session, _ Args) (*Outcome, error) {
	gw, _, saver, err := s.parts()
	if err != nil {
		return nil, err
	}
	saver.Stop()
	if err := gw.Commit(ctx); err != nil {
		return nil, err
	}
	return &Outcome{Message: "changes committed"}, nil
}

func schema(ctx context.Context, s *Session, args Args) (*Outcome, error) {
	gw, model, _, err := s.parts()
	if err != nil {
		return nil, err
	}
	return &Outcome{Schema: gw.GetSchema(ctx, tableArg(model, args))}, nil
}

func execute(ctx context.Context, s *Session, args Args) (*Outcome, error) {
	gw, model, saver, err := s.parts()
	if err != nil {
		return nil, err
	}
	// edits are already committed; a later tick must not end a BEGIN run here
	saver.Stop()
	res, err := gw.Execute(ctx, args.SQL)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Result: res}
	if !res.IsQuery && model.Bound() {
		// the statement may have dropped the bound table
		if err := model.Refresh(ctx); err != nil {
			s.logger.Warn("grid refresh after statement failed", slog.Any("error", err))
		} else {
			out.Snapshot = model.Snapshot()
		}
	}
	return out, nil
}

func tableArg(model *grid.Model, args Args) string {
	if args.Table != "" {
		return args.Table
	}
	table, _ := model.Table()
	return table
}
