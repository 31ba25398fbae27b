package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bgunnarsson/dbgrid/internal/app"
	"github.com/bgunnarsson/dbgrid/internal/config"
	"github.com/bgunnarsson/dbgrid/internal/db"
	"github.com/bgunnarsson/dbgrid/internal/print"
)

var (
	tableColumns string
	initialRows  int
	setNull      bool
	saveProfile  bool
)

var initCmd = &cobra.Command{
	Use:   "init TABLE",
	Short: "Create a database with its first table",
	Long: `Init connects to the configured database, creating a SQLite file if
needed, and creates TABLE with the given columns and empty rows.

Example:
  dbgrid init --path notes.db notes --columns "id:INTEGER PRIMARY KEY,title:TEXT" --rows 3`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{noConnect: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cols, err := config.ParseColumns(tableColumns)
		if err != nil {
			return err
		}
		s := *setup
		s.IsNew = true
		s.Table = args[0]
		s.Columns = cols
		s.InitialRows = initialRows

		out, err := session.Do(cmd.Context(), app.ActionNewDatabase, app.Args{Setup: &s})
		if err != nil {
			return err
		}
		if saveProfile {
			path, err := config.DefaultPath()
			if err != nil {
				return err
			}
			if err := config.Save(&s, path); err != nil {
				return fmt.Errorf("save profile: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Profile saved to", path)
		}
		printOutcome(cmd, out)
		return nil
	},
}

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List tables",
	Args:  cobra.NoArgs,
	RunE:  runTables,
}

func runTables(cmd *cobra.Command, args []string) error {
	out, err := session.Do(cmd.Context(), app.ActionRefresh, app.Args{})
	if err != nil {
		return err
	}
	printTables(cmd, out.Tables)
	return nil
}

var schemaCmd = &cobra.Command{
	Use:   "schema TABLE",
	Short: "Show the columns of a table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := session.Do(cmd.Context(), app.ActionSchema, app.Args{Table: args[0]})
		if err != nil {
			return err
		}
		if len(out.Schema) == 0 {
			return fmt.Errorf("table %q not found", args[0])
		}
		print.RenderSchema(cmd.OutOrStdout(), out.Schema, printOptions())
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show TABLE",
	Short: "Print every row of a table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := session.Do(cmd.Context(), app.ActionChangeTable, app.Args{Table: args[0]})
		if err != nil {
			return err
		}
		printOutcome(cmd, out)
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set TABLE ROW COLUMN [VALUE]",
	Short: "Change one cell",
	Long: `Set writes VALUE into COLUMN of the ROW-th row (counting from 0, in the
order show prints them). The row is identified by its primary key.

Example:
  dbgrid set notes 0 title "groceries"
  dbgrid set notes 2 title --null`,
	Args: cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		row, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid row %q: %w", args[1], err)
		}
		var value any
		switch {
		case setNull:
		case len(args) == 4:
			value = args[3]
		default:
			return fmt.Errorf("set: missing VALUE (or --null)")
		}

		ctx := cmd.Context()
		if _, err := session.Do(ctx, app.ActionChangeTable, app.Args{Table: args[0]}); err != nil {
			return err
		}
		col, err := columnIndex(session.Grid().Columns(), args[2])
		if err != nil {
			return err
		}
		out, err := session.Do(ctx, app.ActionEditRecord, app.Args{Table: args[0], Row: row, Col: col, Value: value})
		if err != nil {
			return err
		}
		if _, err := session.Do(ctx, app.ActionCommit, app.Args{}); err != nil {
			return err
		}
		printOutcome(cmd, out)
		return nil
	},
}

var addColumnCmd = &cobra.Command{
	Use:   "add-column TABLE COLUMN TYPE",
	Short: "Add a column to a table",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSchemaChange(cmd, app.ActionAddColumn, app.Args{Table: args[0], Column: args[1], Type: args[2]})
	},
}

var dropColumnCmd = &cobra.Command{
	Use:   "drop-column TABLE COLUMN",
	Short: "Remove a column from a table",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSchemaChange(cmd, app.ActionRemoveColumn, app.Args{Table: args[0], Column: args[1]})
	},
}

var renameColumnCmd = &cobra.Command{
	Use:   "rename-column TABLE OLD NEW",
	Short: "Rename a column",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSchemaChange(cmd, app.ActionRenameColumn, app.Args{Table: args[0], Column: args[1], NewName: args[2]})
	},
}

func runSchemaChange(cmd *cobra.Command, id app.ActionID, args app.Args) error {
	out, err := session.Do(cmd.Context(), id, args)
	if err != nil {
		return err
	}
	print.RenderSchema(cmd.OutOrStdout(), out.Schema, printOptions())
	return nil
}

var newTableCmd = &cobra.Command{
	Use:   "new-table TABLE",
	Short: "Create a table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		specs, err := config.ParseColumns(tableColumns)
		if err != nil {
			return err
		}
		s := config.Setup{Columns: specs}
		out, err := session.Do(cmd.Context(), app.ActionNewTable, app.Args{
			Table:       args[0],
			Columns:     s.TableColumns(),
			InitialRows: initialRows,
		})
		if err != nil {
			return err
		}
		printOutcome(cmd, out)
		return nil
	},
}

var renameTableCmd = &cobra.Command{
	Use:   "rename-table OLD NEW",
	Short: "Rename a table",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := session.Do(cmd.Context(), app.ActionRenameTable, app.Args{Table: args[0], NewName: args[1]})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out.Message)
		return nil
	},
}

var dropTableCmd = &cobra.Command{
	Use:   "drop-table TABLE",
	Short: "Delete a table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := session.Do(cmd.Context(), app.ActionDeleteTable, app.Args{Table: args[0]})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out.Message)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export TABLE FILE",
	Short: "Write a table to a .csv or .json file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := session.Do(cmd.Context(), app.ActionExport, app.Args{Table: args[0], Path: args[1]})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out.Message)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import TABLE FILE",
	Short: "Insert the rows of a .csv or .json file into a table",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := session.Do(cmd.Context(), app.ActionImport, app.Args{Table: args[0], Path: args[1]})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out.Message)
		return nil
	},
}

var execCmd = &cobra.Command{
	Use:   "exec SQL",
	Short: "Run one SQL statement",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := session.Do(cmd.Context(), app.ActionExecute, app.Args{SQL: strings.Join(args, " ")})
		if err != nil {
			return err
		}
		print.RenderResult(cmd.OutOrStdout(), out.Result, printOptions())
		return nil
	},
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Run backend maintenance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := session.Do(cmd.Context(), app.ActionOptimize, app.Args{})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out.Message)
		return nil
	},
}

var propsCmd = &cobra.Command{
	Use:   "props TABLE",
	Short: "Show table properties",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := session.Do(cmd.Context(), app.ActionTableProperties, app.Args{Table: args[0]})
		if err != nil {
			return err
		}
		p := out.Properties
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Table:   %s\n", p.Name)
		fmt.Fprintf(w, "Columns: %d\n", len(p.Columns))
		fmt.Fprintf(w, "Rows:    %d\n", p.Rows)
		print.RenderSchema(w, p.Columns, printOptions())
		return nil
	},
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start the interactive SQL shell",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runShell(cmd)
	},
}

func init() {
	initCmd.Flags().StringVar(&tableColumns, "columns", "", `columns as "name:TYPE,..." (required)`)
	initCmd.Flags().IntVar(&initialRows, "rows", 0, "number of empty rows to insert")
	initCmd.Flags().BoolVar(&saveProfile, "save", false, "save the connection as the default profile")
	_ = initCmd.MarkFlagRequired("columns")

	newTableCmd.Flags().StringVar(&tableColumns, "columns", "", `columns as "name:TYPE,..." (required)`)
	newTableCmd.Flags().IntVar(&initialRows, "rows", 0, "number of empty rows to insert")
	_ = newTableCmd.MarkFlagRequired("columns")

	setCmd.Flags().BoolVar(&setNull, "null", false, "set the cell to NULL")
}

func printOutcome(cmd *cobra.Command, out *app.Outcome) {
	w := cmd.OutOrStdout()
	if out.Snapshot != nil {
		print.RenderSnapshot(w, out.Snapshot, printOptions())
		return
	}
	if out.Message != "" {
		fmt.Fprintln(w, out.Message)
	}
}

func printTables(cmd *cobra.Command, tables []string) {
	rows := make([][]string, len(tables))
	for i, t := range tables {
		rows[i] = []string{t}
	}
	print.RenderTable(cmd.OutOrStdout(), []string{"table"}, rows, printOptions())
}

// columnIndex resolves a column by name, falling back to a numeric index.
func columnIndex(cols []db.Column, name string) (int, error) {
	for i, c := range cols {
		if strings.EqualFold(c.Name, name) {
			return i, nil
		}
	}
	if i, err := strconv.Atoi(name); err == nil && i >= 0 && i < len(cols) {
		return i, nil
	}
	return 0, fmt.Errorf("no column %q", name)
}
