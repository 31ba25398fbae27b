// Command dbgrid browses and edits database tables from the terminal.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bgunnarsson/dbgrid/internal/app"
	"github.com/bgunnarsson/dbgrid/internal/config"
	"github.com/bgunnarsson/dbgrid/internal/print"
)

var (
	// configFile is set by the --config flag.
	configFile string
	verbose    bool

	v = config.New()

	// setup and session are initialized by PersistentPreRunE and session is
	// closed by run.
	setup   *config.Setup
	session *app.Session
)

// commands carrying this annotation create the database themselves.
const noConnect = "no-connect"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// run executes one command line and closes the session however it ended.
func run(args []string) error {
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return errors.Join(err, closeSession())
}

var rootCmd = &cobra.Command{
	Use:   "dbgrid",
	Short: "Browse and edit database tables",
	Long: `dbgrid opens a SQLite, MySQL, PostgreSQL or SQL Server database and
lets you list, view and edit its tables, change their columns, move rows in
and out of CSV or JSON files and run raw SQL.

Without a subcommand it starts an interactive SQL shell when stdout is a
terminal and lists the tables otherwise.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: openSession,
	RunE: func(cmd *cobra.Command, args []string) error {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return runShell(cmd)
		}
		return runTables(cmd, args)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default: ./config.yaml or ~/.dbgrid/config.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
	flags.String("backend", "", "backend: sqlite, mysql, postgres or mssql (default: sqlite)")
	flags.String("path", "", "sqlite database file")
	flags.String("host", "", "database host")
	flags.Int("port", 0, "database port")
	flags.String("user", "", "database user")
	flags.String("password", "", "database password")
	flags.String("database", "", "database name")
	flags.Duration("autosave", 0, "delay before an edit is committed (default: 500ms)")

	for _, key := range []string{"backend", "path", "host", "port", "user", "password", "database", "autosave"} {
		if err := v.BindPFlag(key, flags.Lookup(key)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(
		initCmd,
		tablesCmd,
		schemaCmd,
		showCmd,
		setCmd,
		addColumnCmd,
		dropColumnCmd,
		renameColumnCmd,
		newTableCmd,
		renameTableCmd,
		dropTableCmd,
		exportCmd,
		importCmd,
		execCmd,
		optimizeCmd,
		propsCmd,
		shellCmd,
	)
}

// openSession loads the profile and, unless the command creates the
// database itself, opens it.
func openSession(cmd *cobra.Command, args []string) error {
	s, err := config.Load(v, configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setup = s

	logger := newLogger(cmd.ErrOrStderr(), verbose)
	session = app.NewSession(logger, setup.Autosave)
	session.OnSaveError = func(err error) {
		fmt.Fprintln(cmd.ErrOrStderr(), "auto-save failed:", err)
	}

	if cmd.Annotations[noConnect] != "" {
		return nil
	}
	_, err = session.Do(cmd.Context(), app.ActionOpenDatabase, app.Args{Setup: setup})
	return err
}

// closeSession commits what is pending and releases the database.
func closeSession() error {
	if session == nil {
		return nil
	}
	s := session
	session = nil
	return s.Close()
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func printOptions() print.Options {
	return print.Options{MaxWidth: 60}
}
