package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bgunnarsson/dbgrid/internal/db"
)

// Setup is everything the setup step collects: where to connect and,
// for a new database, the first table to create.
type Setup struct {
	Backend  string            `mapstructure:"backend"`
	Path     string            `mapstructure:"path"`
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	User     string            `mapstructure:"user"`
	Password string            `mapstructure:"password"`
	Database string            `mapstructure:"database"`
	SSLMode  string            `mapstructure:"sslmode"`
	Options  map[string]string `mapstructure:"options"`

	Table       string       `mapstructure:"table"`
	Columns     []ColumnSpec `mapstructure:"columns"`
	InitialRows int          `mapstructure:"initial_rows"`
	IsNew       bool         `mapstructure:"is_new"`

	Autosave time.Duration `mapstructure:"autosave"`
}

// ColumnSpec is one (name, type) pair of a new table.
type ColumnSpec struct {
	Name string `mapstructure:"name"`
	Type string `mapstructure:"type"`
}

// Validate checks the setup is complete enough to connect and, when IsNew,
// to create the first table.
func (s *Setup) Validate() error {
	backend, err := db.ParseBackend(s.Backend)
	if err != nil {
		return err
	}

	switch backend {
	case db.BackendSqlite:
		if s.Path == "" {
			return errors.New("sqlite requires a database path")
		}
	default:
		if s.Database == "" && s.Options["dsn"] == "" {
			return fmt.Errorf("%s requires a database name", backend)
		}
	}

	if s.IsNew {
		if s.Table == "" {
			return errors.New("a new database needs a table name")
		}
		if len(s.Columns) == 0 {
			return errors.New("a new database needs at least one column")
		}
		if s.InitialRows < 0 {
			return fmt.Errorf("initial rows must not be negative, got %d", s.InitialRows)
		}
	}
	return nil
}

// DBConfig converts the connection part of the setup.
func (s *Setup) DBConfig() (db.Config, error) {
	backend, err := db.ParseBackend(s.Backend)
	if err != nil {
		return db.Config{}, err
	}
	return db.Config{
		Backend:  backend,
		Path:     s.Path,
		Host:     s.Host,
		Port:     s.Port,
		User:     s.User,
		Password: s.Password,
		Database: s.Database,
		SSLMode:  s.SSLMode,
		Options:  s.Options,
	}, nil
}

// TableColumns converts the column specs of a new table.
func (s *Setup) TableColumns() []db.Column {
	cols := make([]db.Column, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = db.Column{Name: c.Name, Type: c.Type}
	}
	return cols
}

// ParseColumns parses "id:INTEGER,name:TEXT". A column without a type
// defaults to TEXT.
func ParseColumns(s string) ([]ColumnSpec, error) {
	var out []ColumnSpec
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, typ, found := strings.Cut(part, ":")
		name = strings.TrimSpace(name)
		typ = strings.TrimSpace(typ)
		if name == "" {
			return nil, fmt.Errorf("column %q has no name", part)
		}
		if !found || typ == "" {
			typ = "TEXT"
		}
		out = append(out, ColumnSpec{Name: name, Type: typ})
	}
	return out, nil
}
