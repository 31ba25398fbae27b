package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/zalando/go-keyring"

	"github.com/bgunnarsson/dbgrid/internal/autosave"
	"github.com/bgunnarsson/dbgrid/internal/db"
)

const (
	configDir  = ".dbgrid"
	configFile = "config"
	configType = "yaml"
	envPrefix  = "DBGRID"

	keyringService = "dbgrid"
)

// New returns a viper instance with defaults and DBGRID_* environment
// variables wired in. Flags can be bound onto it before Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("backend", "sqlite")
	v.SetDefault("autosave", autosave.DefaultInterval.String())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file into v and unmarshals the result. An explicit
// path must exist; otherwise ./config.yaml and ~/.dbgrid/config.yaml are
// tried and a missing file is not an error.
func Load(v *viper.Viper, path string) (*Setup, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFile)
		v.SetConfigType(configType)
		v.AddConfigPath(".")
		if dir, err := configDirPath(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	setup := &Setup{}
	if err := v.Unmarshal(setup); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// a password given by flag or env wins over the stored one
	if setup.Password == "" && setup.User != "" {
		if pw, err := keyring.Get(keyringService, credentialKey(setup)); err == nil {
			setup.Password = pw
		}
	}
	return setup, nil
}

// Save writes setup as a profile to path, creating its directory. The
// password goes to the OS keyring, never into the file.
func Save(setup *Setup, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if setup.Password != "" && setup.User != "" {
		if err := keyring.Set(keyringService, credentialKey(setup), setup.Password); err != nil {
			return fmt.Errorf("store password: %w", err)
		}
	}

	v := viper.New()
	v.Set("backend", setup.Backend)
	v.Set("path", setup.Path)
	v.Set("host", setup.Host)
	v.Set("port", setup.Port)
	v.Set("user", setup.User)
	v.Set("database", setup.Database)
	v.Set("sslmode", setup.SSLMode)
	if len(setup.Options) > 0 {
		v.Set("options", setup.Options)
	}
	if setup.Autosave > 0 {
		v.Set("autosave", setup.Autosave.String())
	}
	return v.WriteConfigAs(path)
}

// DefaultPath is ~/.dbgrid/config.yaml.
func DefaultPath() (string, error) {
	dir, err := configDirPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile+"."+configType), nil
}

func configDirPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configDir), nil
}

// credentialKey names a login in the keyring, e.g. "postgres://app@db:5432/shop".
func credentialKey(s *Setup) string {
	backend, err := db.ParseBackend(s.Backend)
	if err != nil {
		backend = db.Backend(s.Backend)
	}
	return fmt.Sprintf("%s://%s@%s:%d/%s", backend, s.User, s.Host, s.Port, s.Database)
}
