// Package config loads the auditkv configuration file.
//
// The file is YAML. Keys it leaves out keep their defaults, so a local file
// only needs to name what it changes. Loading a path that does not exist
// writes the defaults there.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/roach88/auditkv/internal/digest"
	"github.com/roach88/auditkv/internal/logging"
)

// DefaultPath is the config file used when --config is not given.
const DefaultPath = "auditkv.yaml"

// Config is the complete service configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Server   ServerConfig   `yaml:"server"`
	Audit    AuditConfig    `yaml:"audit"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig locates the SQLite file.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// StorageConfig controls how values are stored. DigestBits is fixed once a
// database has been created.
type StorageConfig struct {
	DigestBits  int    `yaml:"digest_bits"`
	Compression string `yaml:"compression"`
}

// ServerConfig controls the HTTP boundary.
type ServerConfig struct {
	Address                   string  `yaml:"address"`
	Port                      int     `yaml:"port"`
	KeyBits                   int     `yaml:"key_bits"`
	SuperfluousHeadersAllowed bool    `yaml:"superfluous_headers_allowed"`
	MaxValueBytes             int64   `yaml:"max_value_bytes"`
	RateLimit                 float64 `yaml:"rate_limit"` // requests/second, 0 disables
	RateBurst                 int     `yaml:"rate_burst"`
}

// AuditConfig selects which operations are audited besides writes and
// deletes.
type AuditConfig struct {
	Retrievals bool `yaml:"retrievals"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Requests bool   `yaml:"requests"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "data.db"},
		Storage: StorageConfig{
			DigestBits:  digest.DefaultBits,
			Compression: "none",
		},
		Server: ServerConfig{
			Address:                   "127.0.0.1",
			Port:                      8080,
			KeyBits:                   256,
			SuperfluousHeadersAllowed: true,
			MaxValueBytes:             16 << 20,
			RateBurst:                 20,
		},
		Audit: AuditConfig{Retrievals: true},
		Log: LogConfig{
			Level:    "info",
			Format:   logging.FormatText,
			Requests: true,
		},
	}
}

// Load reads the config at path, overlays it on Default, applies AUDITKV_*
// environment overrides and validates the result. If path does not exist the
// defaults are written to it first.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := Save(cfg, path); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Save writes cfg to path as YAML, creating parent directories.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Environment overrides.
const (
	EnvDatabasePath  = "AUDITKV_DATABASE_PATH"
	EnvServerAddress = "AUDITKV_SERVER_ADDRESS"
	EnvServerPort    = "AUDITKV_SERVER_PORT"
	EnvLogLevel      = "AUDITKV_LOG_LEVEL"
)

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDatabasePath); ok && v != "" {
		cfg.Database.Path = v
	}
	if v, ok := lookup(EnvServerAddress); ok && v != "" {
		cfg.Server.Address = v
	}
	if v, ok := lookup(EnvServerPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvServerPort, err)
		}
		cfg.Server.Port = port
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Log.Level = v
	}
	return nil
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path must not be empty"))
	}
	if _, err := digest.New(c.Storage.DigestBits); err != nil {
		errs = append(errs, fmt.Errorf("storage.digest_bits: %w", err))
	}
	switch c.Storage.Compression {
	case "none", "zstd":
	default:
		errs = append(errs, fmt.Errorf("storage.compression must be none or zstd, got %q", c.Storage.Compression))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.KeyBits <= 0 || c.Server.KeyBits%4 != 0 {
		errs = append(errs, fmt.Errorf("server.key_bits must be a positive multiple of 4, got %d", c.Server.KeyBits))
	}
	if c.Server.MaxValueBytes < 0 {
		errs = append(errs, errors.New("server.max_value_bytes must not be negative"))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit must not be negative"))
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		errs = append(errs, errors.New("server.rate_burst must be at least 1 when rate limiting"))
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case logging.FormatText, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// ListenAddr returns the host:port the server binds to.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Address, strconv.Itoa(c.Server.Port))
}
