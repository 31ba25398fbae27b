// Package transfer moves table rows in and out of CSV and JSON files.
package transfer

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bgunnarsson/dbgrid/internal/db"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

var ErrUnknownFormat = errors.New("unknown file format (want .csv or .json)")

// FormatFor picks the format from a file name's extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%s: %w", path, ErrUnknownFormat)
}

// Export writes snap to w. CSV gets a header row of column names and one
// record per row, NULL as an empty field. JSON gets an array of objects
// whose keys follow column order.
func Export(w io.Writer, format Format, snap *db.Snapshot) error {
	switch format {
	case FormatCSV:
		return exportCSV(w, snap)
	case FormatJSON:
		return exportJSON(w, snap)
	}
	return ErrUnknownFormat
}

// Import reads rows from r. CSV values stay strings; JSON numbers become
// int64 or float64.
func Import(r io.Reader, format Format) ([]db.Row, error) {
	switch format {
	case FormatCSV:
		return importCSV(r)
	case FormatJSON:
		return importJSON(r)
	}
	return nil, ErrUnknownFormat
}

// ExportFile writes snap to path in the format its extension names.
func ExportFile(path string, snap *db.Snapshot) (err error) {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return Export(f, format, snap)
}

// ImportFile reads rows from path in the format its extension names.
func ImportFile(path string) ([]db.Row, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Import(f, format)
}

func exportCSV(w io.Writer, snap *db.Snapshot) error {
	cw := csv.NewWriter(w)
	header := snap.ColumnNames()
	if err := cw.Write(header); err != nil {
		return err
	}
	record := make([]string, len(header))
	for _, row := range snap.Rows {
		for i, name := range header {
			if v := row[name]; v != nil {
				record[i] = db.FormatValue(v)
			} else {
				record[i] = ""
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// orderedRow marshals as a JSON object with keys in column order.
type orderedRow struct {
	keys []string
	row  db.Row
}

func (o orderedRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		v := o.row[k]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		val, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func exportJSON(w io.Writer, snap *db.Snapshot) error {
	keys := snap.ColumnNames()
	out := make([]orderedRow, len(snap.Rows))
	for i, row := range snap.Rows {
		out[i] = orderedRow{keys: keys, row: row}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func importCSV(r io.Reader) ([]db.Row, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	var rows []db.Row
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		row := make(db.Row, len(header))
		for i, name := range header {
			row[name] = record[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func importJSON(r io.Reader) ([]db.Row, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}

	rows := make([]db.Row, len(raw))
	for i, obj := range raw {
		row := make(db.Row, len(obj))
		for k, v := range obj {
			nv, err := normalizeJSON(v)
			if err != nil {
				return nil, fmt.Errorf("row %d, key %q: %w", i+1, k, err)
			}
			row[k] = nv
		}
		rows[i] = row
	}
	return rows, nil
}

// normalizeJSON turns decoded JSON into values a driver accepts: numbers
// become int64 or float64, nested objects and arrays their JSON text.
func normalizeJSON(v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		return x.Float64()
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		return x, nil
	}
}
