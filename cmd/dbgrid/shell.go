package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/bgunnarsson/dbgrid/internal/app"
	"github.com/bgunnarsson/dbgrid/internal/print"
)

const (
	shellPrompt     = "dbgrid> "
	shellContPrompt = "    ...> "
)

func runShell(cmd *cobra.Command) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          shellPrompt,
		HistoryFile:     historyPath(),
		AutoComplete:    newShellCompleter(cmd),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize shell: %w", err)
	}
	defer func() { _ = rl.Close() }()

	gw, err := session.Gateway()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "dbgrid shell (%s)\n", gw.Backend())
	_, _ = fmt.Fprintln(out, "Type .help for commands, .quit to exit")

	var buf strings.Builder
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			buf.Reset()
			rl.SetPrompt(shellPrompt)
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if buf.Len() == 0 && strings.HasPrefix(line, ".") {
			if quit := handleDotCommand(cmd, line); quit {
				break
			}
			continue
		}

		// statements run once they end with a semicolon
		buf.WriteString(line)
		if !strings.HasSuffix(line, ";") {
			buf.WriteString(" ")
			rl.SetPrompt(shellContPrompt)
			continue
		}
		rl.SetPrompt(shellPrompt)

		query := strings.TrimSuffix(buf.String(), ";")
		buf.Reset()

		res, err := session.Do(ctx, app.ActionExecute, app.Args{SQL: query})
		if err != nil {
			_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
			continue
		}
		print.RenderResult(out, res.Result, printOptions())
	}
	return nil
}

// handleDotCommand runs a shell command and reports whether the shell
// should exit.
func handleDotCommand(cmd *cobra.Command, line string) bool {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])

	needTable := func() (string, bool) {
		if len(parts) < 2 {
			_, _ = fmt.Fprintf(errOut, "Usage: %s <table>\n", command)
			return "", false
		}
		return parts[1], true
	}

	var err error
	switch command {
	case ".quit", ".exit":
		return true

	case ".help":
		printShellHelp(out)

	case ".tables":
		var res *app.Outcome
		if res, err = session.Do(ctx, app.ActionRefresh, app.Args{}); err == nil {
			printTables(cmd, res.Tables)
		}

	case ".schema":
		table, ok := needTable()
		if !ok {
			return false
		}
		var res *app.Outcome
		if res, err = session.Do(ctx, app.ActionSchema, app.Args{Table: table}); err == nil {
			print.RenderSchema(out, res.Schema, printOptions())
		}

	case ".show":
		table, ok := needTable()
		if !ok {
			return false
		}
		var res *app.Outcome
		if res, err = session.Do(ctx, app.ActionChangeTable, app.Args{Table: table}); err == nil {
			print.RenderSnapshot(out, res.Snapshot, printOptions())
		}

	case ".props":
		table, ok := needTable()
		if !ok {
			return false
		}
		var res *app.Outcome
		if res, err = session.Do(ctx, app.ActionTableProperties, app.Args{Table: table}); err == nil {
			_, _ = fmt.Fprintf(out, "%s: %d columns, %d rows\n", res.Properties.Name, len(res.Properties.Columns), res.Properties.Rows)
		}

	case ".commit":
		var res *app.Outcome
		if res, err = session.Do(ctx, app.ActionCommit, app.Args{}); err == nil {
			_, _ = fmt.Fprintln(out, res.Message)
		}

	default:
		_, _ = fmt.Fprintf(errOut, "Unknown command: %s (type .help for commands)\n", command)
	}

	if err != nil {
		_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
	}
	return false
}

func printShellHelp(w io.Writer) {
	help := `
Commands:
  .help           Show this help message
  .tables         List all tables
  .schema <name>  Show the columns of a table
  .show <name>    Print every row of a table
  .props <name>   Show column and row counts
  .commit         Commit an open transaction
  .quit / .exit   Exit the shell

Statements must end with a semicolon (;).
`
	_, _ = fmt.Fprintln(w, help)
}

// newShellCompleter completes dot commands and, after .schema/.show/.props,
// table names.
func newShellCompleter(cmd *cobra.Command) *readline.PrefixCompleter {
	var tables []readline.PrefixCompleterInterface
	if res, err := session.Do(cmd.Context(), app.ActionRefresh, app.Args{}); err == nil {
		for _, t := range res.Tables {
			tables = append(tables, readline.PcItem(t))
		}
	}

	return readline.NewPrefixCompleter(
		readline.PcItem(".help"),
		readline.PcItem(".tables"),
		readline.PcItem(".schema", tables...),
		readline.PcItem(".show", tables...),
		readline.PcItem(".props", tables...),
		readline.PcItem(".commit"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	dir := filepath.Join(home, ".dbgrid")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return ""
	}
	return filepath.Join(dir, "history")
}
