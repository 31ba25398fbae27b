package print

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/bgunnarsson/dbgrid/internal/db"
)

type Options struct {
	MaxWidth int // max width for each column, 0 = 40
}

// RenderSnapshot prints every row of a table snapshot.
func RenderSnapshot(w io.Writer, snap *db.Snapshot, opts Options) {
	header := snap.ColumnNames()
	cells := make([][]string, len(snap.Rows))
	for i, row := range snap.Rows {
		cells[i] = make([]string, len(header))
		for j, name := range header {
			cells[i][j] = db.FormatValue(row[name])
		}
	}
	RenderTable(w, header, cells, opts)
}

// RenderResult prints the outcome of a raw statement.
func RenderResult(w io.Writer, res *db.Result, opts Options) {
	if !res.IsQuery {
		fmt.Fprintf(w, "Rows affected: %d\n", res.RowsAffected)
		return
	}
	cells := make([][]string, len(res.Rows))
	for i, row := range res.Rows {
		cells[i] = make([]string, len(row))
		for j, v := range row {
			cells[i][j] = db.FormatValue(v)
		}
	}
	RenderTable(w, res.Columns, cells, opts)
}

// RenderSchema prints one line per column: name, type and flags.
func RenderSchema(w io.Writer, cols []db.Column, opts Options) {
	cells := make([][]string, len(cols))
	for i, c := range cols {
		var flags []string
		if c.PrimaryKey {
			flags = append(flags, "PK")
		}
		if c.NotNull {
			flags = append(flags, "NOT NULL")
		}
		if c.Default != "" {
			flags = append(flags, "DEFAULT "+c.Default)
		}
		cells[i] = []string{c.Name, c.Type, strings.Join(flags, " ")}
	}
	RenderTable(w, []string{"column", "type", "flags"}, cells, opts)
}

func RenderTable(w io.Writer, header []string, rows [][]string, opts Options) {
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = 40
	}

	cols := len(header)
	if cols == 0 {
		fmt.Fprintln(w, "(no columns)")
		return
	}

	// compute widths
	widths := make([]int, cols)
	for i, name := range header {
		widths[i] = min(utf8.RuneCountInString(name), opts.MaxWidth)
	}

	for _, r := range rows {
		for i, cell := range r {
			if i >= cols {
				break
			}
			if l := min(utf8.RuneCountInString(cell), opts.MaxWidth); l > widths[i] {
				widths[i] = l
			}
		}
	}

	// helpers
	sep := func(ch string) string {
		var b strings.Builder
		b.WriteString("+")
		for i := range widths {
			b.WriteString(strings.Repeat(ch, widths[i]+2))
			b.WriteString("+")
		}
		return b.String()
	}

	writeRow := func(cells []string) {
		var b strings.Builder
		b.WriteString("|")
		for i := range widths {
			c := ""
			if i < len(cells) {
				c = cells[i]
			}
			cut := truncate(oneLine(c), widths[i])
			b.WriteString(" ")
			b.WriteString(padRight(cut, widths[i]))
			b.WriteString(" |")
		}
		fmt.Fprintln(w, b.String())
	}

	// header
	fmt.Fprintln(w, sep("-"))
	writeRow(header)
	fmt.Fprintln(w, sep("="))

	// data
	for _, r := range rows {
		writeRow(r)
	}
	fmt.Fprintln(w, sep("-"))
	fmt.Fprintf(w, "(%d rows)\n", len(rows))
}

func oneLine(s string) string {
	return strings.NewReplacer("\n", " ", "\t", " ", "\r", "").Replace(s)
}

func padRight(s string, w int) string {
	n := utf8.RuneCountInString(s)
	if n >= w {
		return s
	}
	return s + strings.Repeat(" ", w-n)
}

func truncate(s string, w int) string {
	r := []rune(s)
	if len(r) <= w {
		return s
	}
	if w <= 2 {
		return string(r[:w])
	}
	return string(r[:w-3]) + "..."
}
