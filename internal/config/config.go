package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"tamperkv/internal/hasher"
	"tamperkv/internal/logging"
)

// Backup backends.
const (
	BackendBolt   = "bolt"
	BackendPebble = "pebble"
)

type Config struct {
	Store   StoreConfig   `toml:"store"`
	SSH     SSHConfig     `toml:"ssh"`
	Logging LoggingConfig `toml:"log"`
}

type StoreConfig struct {
	DataDir       string `toml:"data_dir"`
	PrimaryFile   string `toml:"primary_file"`
	BackupFile    string `toml:"backup_file"`
	BackupBackend string `toml:"backup_backend"`
	HashAlgorithm string `toml:"hash_algorithm"`
	SeedKey       string `toml:"seed_key"`
	SeedValue     string `toml:"seed_value"`
}

type SSHConfig struct {
	Listen         string  `toml:"listen"`
	AuthorizedKeys string  `toml:"authorized_keys"`
	CommandsPerSec float64 `toml:"commands_per_sec"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		Store: StoreConfig{
			DataDir:       "~/.tamperkv",
			PrimaryFile:   "primary.db",
			BackupFile:    "backup.db",
			BackupBackend: BackendBolt,
			HashAlgorithm: hasher.SHA256,
			SeedKey:       "key1",
			SeedValue:     "Hello world",
		},
		SSH: SSHConfig{
			Listen:         "127.0.0.1:2323",
			AuthorizedKeys: "authorized_keys",
			CommandsPerSec: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a TOML config file and returns the parsed Config.
// If path is empty, ~/.tamperkv/config.toml is used when present and
// defaults are returned otherwise.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = expandHome("~/.tamperkv/config.toml")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail late at startup.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Store.DataDir) == "" {
		errs = append(errs, errors.New("store.data_dir must not be empty"))
	}
	if c.Store.PrimaryFile == "" || c.Store.BackupFile == "" {
		errs = append(errs, errors.New("store.primary_file and store.backup_file must not be empty"))
	}
	if c.Store.PrimaryFile != "" && c.Store.PrimaryFile == c.Store.BackupFile {
		errs = append(errs, errors.New("store.primary_file and store.backup_file must differ"))
	}
	switch c.Store.BackupBackend {
	case BackendBolt, BackendPebble:
	default:
		errs = append(errs, fmt.Errorf("store.backup_backend: unsupported backend %q", c.Store.BackupBackend))
	}
	if _, err := hasher.New(c.Store.HashAlgorithm); err != nil {
		errs = append(errs, fmt.Errorf("store.hash_algorithm: %w", err))
	}
	if c.Store.SeedKey == "" {
		errs = append(errs, errors.New("store.seed_key must not be empty"))
	}

	if c.SSH.Listen != "" {
		if err := validateListenAddr(c.SSH.Listen); err != nil {
			errs = append(errs, fmt.Errorf("ssh.listen: %w", err))
		}
	}
	if c.SSH.CommandsPerSec <= 0 {
		errs = append(errs, fmt.Errorf("ssh.commands_per_sec must be positive, got %v", c.SSH.CommandsPerSec))
	}

	if !logging.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// PrimaryPath returns the absolute location of the primary database.
func (c *Config) PrimaryPath() string {
	return c.resolve(c.Store.PrimaryFile)
}

// BackupPath returns the absolute location of the backup database.
func (c *Config) BackupPath() string {
	return c.resolve(c.Store.BackupFile)
}

// AuthorizedKeysPath returns the location of the SSH authorized_keys file.
func (c *Config) AuthorizedKeysPath() string {
	return c.resolve(c.SSH.AuthorizedKeys)
}

func (c *Config) resolve(name string) string {
	name = expandHome(name)
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(expandHome(c.Store.DataDir), name)
}

func validateListenAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if host == "" {
		return fmt.Errorf("missing host in %q", addr)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 0 || p > 65535 {
		return fmt.Errorf("invalid port in %q", addr)
	}
	return nil
}

// ExpandHome resolves a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	return expandHome(path)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
