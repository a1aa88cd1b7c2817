// Package config loads docgraph settings from a YAML file, a .env file and
// DOCGRAPH_* environment variables, in that order of increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFile is read from the working directory when no path is given.
const DefaultFile = "docgraph.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DOCGRAPH_"

// Backend names.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendNeo4j  = "neo4j"
)

// Config is the effective configuration.
type Config struct {
	// Scope is the named graph operations run against.
	Scope   string        `yaml:"scope" json:"scope"`
	Store   StoreConfig   `yaml:"store" json:"store"`
	Journal JournalConfig `yaml:"journal" json:"journal"`
	Log     LogConfig     `yaml:"log" json:"log"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// StoreConfig selects and configures the triple store backend.
type StoreConfig struct {
	Backend string       `yaml:"backend" json:"backend"`
	SQLite  SQLiteConfig `yaml:"sqlite" json:"sqlite"`
	Neo4j   Neo4jConfig  `yaml:"neo4j" json:"neo4j"`
}

type SQLiteConfig struct {
	Path string `yaml:"path" json:"path"`
}

type Neo4jConfig struct {
	URI      string `yaml:"uri" json:"uri"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	Database string `yaml:"database" json:"database"`
}

// JournalConfig controls the operation journal. An empty Path shares the
// SQLite store database when the backend is sqlite and keeps the journal
// in memory otherwise.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	// File enables a rotating log file instead of stderr.
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
}

type MetricsConfig struct {
	// Textfile is written with the metric registry after each command.
	Textfile string `yaml:"textfile" json:"textfile"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Scope: "default",
		Store: StoreConfig{
			Backend: BackendSQLite,
			SQLite:  SQLiteConfig{Path: "docgraph.db"},
			Neo4j:   Neo4jConfig{Database: "neo4j"},
		},
		Journal: JournalConfig{Enabled: true},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load builds the effective configuration. path names the YAML file; when
// empty, DefaultFile is used if present. envFile names the dotenv file and
// may be missing.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	// godotenv.Load never overrides variables already set in the process.
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from DOCGRAPH_* variables. Key dots become
// underscores: store.sqlite.path is DOCGRAPH_STORE_SQLITE_PATH.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"SCOPE":                &c.Scope,
		"STORE_BACKEND":        &c.Store.Backend,
		"STORE_SQLITE_PATH":    &c.Store.SQLite.Path,
		"STORE_NEO4J_URI":      &c.Store.Neo4j.URI,
		"STORE_NEO4J_USERNAME": &c.Store.Neo4j.Username,
		"STORE_NEO4J_PASSWORD": &c.Store.Neo4j.Password,
		"STORE_NEO4J_DATABASE": &c.Store.Neo4j.Database,
		"JOURNAL_PATH":         &c.Journal.Path,
		"LOG_LEVEL":            &c.Log.Level,
		"LOG_FORMAT":           &c.Log.Format,
		"LOG_FILE":             &c.Log.File,
		"METRICS_TEXTFILE":     &c.Metrics.Textfile,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"LOG_MAX_SIZE_MB": &c.Log.MaxSizeMB,
		"LOG_MAX_BACKUPS": &c.Log.MaxBackups,
	}
	for key, dst := range ints {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}

	if v, ok := lookup(EnvPrefix + "JOURNAL_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse %sJOURNAL_ENABLED: %w", EnvPrefix, err)
		}
		c.Journal.Enabled = b
	}
	return nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Scope) == "" {
		errs = append(errs, errors.New("scope is empty"))
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.SQLite.Path == "" {
			errs = append(errs, errors.New("store.sqlite.path is required for the sqlite backend"))
		}
	case BackendNeo4j:
		if c.Store.Neo4j.URI == "" {
			errs = append(errs, errors.New("store.neo4j.uri is required for the neo4j backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log.level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 {
		errs = append(errs, errors.New("log rotation limits must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
