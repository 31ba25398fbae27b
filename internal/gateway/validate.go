package gateway

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bgunnarsson/dbgrid/internal/db"
)

// Declared types are spliced into DDL verbatim, so they are restricted to
// words, sizes and simple constraints ("VARCHAR(20) NOT NULL", "DECIMAL(10,2)").
var typePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_ (),]*$`)

func validateName(kind, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("empty %s name", kind)
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("invalid %s name %q", kind, name)
	}
	return nil
}

func validateType(typ string) error {
	if !typePattern.MatchString(strings.TrimSpace(typ)) {
		return fmt.Errorf("invalid column type %q", typ)
	}
	return nil
}

func validateColumns(columns []db.Column) error {
	if len(columns) == 0 {
		return fmt.Errorf("no columns")
	}
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if err := validateName("column", c.Name); err != nil {
			return err
		}
		if err := validateType(c.Type); err != nil {
			return err
		}
		key := strings.ToLower(c.Name)
		if seen[key] {
			return fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[key] = true
	}
	return nil
}

func declaresPrimaryKey(typ string) bool {
	return strings.Contains(strings.ToUpper(typ), "PRIMARY KEY")
}

// primaryKey picks the row identity column: the declared single-column
// primary key if there is one, else the first column.
func primaryKey(cols []db.Column) string {
	var pks []string
	for _, c := range cols {
		if c.PrimaryKey {
			pks = append(pks, c.Name)
		}
	}
	if len(pks) == 1 {
		return pks[0]
	}
	if len(cols) > 0 {
		return cols[0].Name
	}
	return ""
}

func findColumn(cols []db.Column, name string) int {
	for i, c := range cols {
		if c.Name == name {
			return i
		}
	}
	for i, c := range cols {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}
