// Package config provides YAML configuration loading and validation for
// dirwatcher. Values from the file can be overridden by command-line flags
// before the configuration is finalised.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Finalize.
const (
	DefaultExtension         = ".txt"
	DefaultInterval          = time.Second
	DefaultLogLevel          = "info"
	DefaultLogFile           = "dirwatcher.log"
	DefaultLogFormat         = "auto"
	DefaultPostgresBatchSize = 100
)

// Config is the top-level configuration structure for dirwatcher.
type Config struct {
	// Directory is the directory to watch. Required.
	Directory string `yaml:"directory"`

	// Extension is the case-sensitive file name suffix to scan. Defaults to
	// ".txt".
	Extension string `yaml:"extension"`

	// Magic is the substring searched for in each line. Required.
	Magic string `yaml:"magic"`

	// Interval is the poll period. In YAML it is either a Go duration
	// string ("500ms") or an integer number of seconds. Defaults to 1s.
	Interval Interval `yaml:"interval"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info".
	LogLevel string `yaml:"log_level"`

	// LogFile is the fixed log destination written alongside the console.
	// Defaults to "dirwatcher.log"; the value "-" disables the file.
	LogFile string `yaml:"log_file"`

	// LogFormat selects the console format: "auto", "text", or "json".
	LogFormat string `yaml:"log_format"`

	// Journal configures the local SQLite event journal.
	Journal JournalConfig `yaml:"journal"`

	// Audit configures the optional hash-chained event trail.
	Audit AuditConfig `yaml:"audit"`

	// Postgres configures the optional PostgreSQL event store.
	Postgres PostgresConfig `yaml:"postgres"`

	// Status configures the optional HTTP status API.
	Status StatusConfig `yaml:"status"`
}

// JournalConfig holds the SQLite journal settings.
type JournalConfig struct {
	// Path is the SQLite database file. Empty disables the journal.
	Path string `yaml:"path"`
}

// AuditConfig holds the tamper-evident event trail settings.
type AuditConfig struct {
	// Path is the JSON-lines trail file. Empty disables the trail.
	Path string `yaml:"path"`
}

// PostgresConfig holds the PostgreSQL event store settings.
type PostgresConfig struct {
	// DSN is a libpq-style connection string or URL. Empty disables the
	// store.
	DSN string `yaml:"dsn"`

	// BatchSize is the maximum number of journal entries forwarded per
	// poll cycle. Defaults to 100.
	BatchSize int `yaml:"batch_size"`
}

// StatusConfig holds the HTTP status API settings.
type StatusConfig struct {
	// Addr is the listen address (e.g. "127.0.0.1:9100"). Empty disables
	// the API.
	Addr string `yaml:"addr"`

	// JWTPublicKey is the path to a PEM RSA public key. When set, /api
	// routes require an RS256 bearer token.
	JWTPublicKey string `yaml:"jwt_public_key"`

	// Issuer, if set, must match the token "iss" claim.
	Issuer string `yaml:"issuer"`

	// Audience, if set, must appear in the token "aud" claim.
	Audience string `yaml:"audience"`
}

// Interval is a poll period that unmarshals from either a duration string or
// an integer number of seconds.
type Interval time.Duration

// Duration returns i as a time.Duration.
func (i Interval) Duration() time.Duration { return time.Duration(i) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (i *Interval) UnmarshalYAML(node *yaml.Node) error {
	return i.Set(node.Value)
}

// Set parses s as a number of seconds or a duration string. Together with
// String and Type it lets an Interval back a command-line flag.
func (i *Interval) Set(s string) error {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		*i = Interval(time.Duration(n * float64(time.Second)))
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("interval %q: want seconds or a duration like \"500ms\"", s)
	}
	*i = Interval(d)
	return nil
}

func (i Interval) String() string { return time.Duration(i).String() }

// Type names the flag value type in help output.
func (i Interval) Type() string { return "interval" }

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validLogFormats is the set of accepted console formats.
var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

// Load reads the YAML file at path without applying defaults or validating,
// so that callers can layer flag overrides on top. An empty path returns an
// empty Config.
func Load(path string) (*Config, error) {
	var cfg Config
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}
	return &cfg, nil
}

// Finalize applies defaults and validates cfg. The returned error joins
// every problem found.
func (cfg *Config) Finalize() error {
	applyDefaults(cfg)
	return validate(cfg)
}

// applyDefaults fills in zero-value optional fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Extension == "" {
		cfg.Extension = DefaultExtension
	}
	if cfg.Interval == 0 {
		cfg.Interval = Interval(DefaultInterval)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.LogFile == "" {
		cfg.LogFile = DefaultLogFile
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = DefaultLogFormat
	}
	if cfg.Postgres.BatchSize <= 0 {
		cfg.Postgres.BatchSize = DefaultPostgresBatchSize
	}
}

// validate checks that all required fields are populated and that enumerated
// fields contain only valid values.
func validate(cfg *Config) error {
	var errs []error

	if cfg.Directory == "" {
		errs = append(errs, errors.New("directory is required"))
	}
	if cfg.Magic == "" {
		errs = append(errs, errors.New("magic is required"))
	}
	if cfg.Interval < 0 {
		errs = append(errs, fmt.Errorf("interval %s must be positive", cfg.Interval.Duration()))
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}
	if !validLogFormats[cfg.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format %q must be one of: auto, text, json", cfg.LogFormat))
	}
	if cfg.Postgres.DSN != "" && cfg.Journal.Path == "" {
		errs = append(errs, errors.New("postgres.dsn requires journal.path: events are forwarded from the journal"))
	}
	if cfg.Status.JWTPublicKey != "" && cfg.Status.Addr == "" {
		errs = append(errs, errors.New("status.jwt_public_key requires status.addr"))
	}

	return errors.Join(errs...)
}
