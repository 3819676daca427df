// Package config loads the YAML file that tells the CLI how to build a
// provider: which dialect to format for, which database to run against,
// where the entity mapping lives and how the compiler behaves.
//
//	dialect: sqlite
//	database: shop.db
//	mapping: ./mapping
//	paging: native
//	plan_cache:
//	  max_entries: 512
//	log:
//	  level: info
//	  queries: true
//	include:
//	  Customer: [orders]
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/relq/internal/binder"
	"github.com/roach88/relq/internal/dialect"
	"github.com/roach88/relq/internal/optimizer"
)

// Config is the decoded configuration file.
type Config struct {
	// Dialect names the store language. Default: sqlite.
	Dialect string `yaml:"dialect"`

	// Database is the SQLite database path. Empty or ":memory:" means a
	// private in-memory database.
	Database string `yaml:"database,omitempty"`

	// Mapping is the directory of the CUE entity specs. Relative paths are
	// resolved against the config file's directory.
	Mapping string `yaml:"mapping"`

	// Paging is "native" or "row_number". Default: native.
	Paging string `yaml:"paging,omitempty"`

	PlanCache PlanCache `yaml:"plan_cache,omitempty"`
	Log       Log       `yaml:"log,omitempty"`

	// Include maps an entity to the associations loaded with it.
	Include map[string][]string `yaml:"include,omitempty"`
}

// PlanCache bounds the compiled plan cache.
type PlanCache struct {
	// MaxEntries of 0 means unbounded.
	MaxEntries int `yaml:"max_entries"`
}

// Log configures the provider's logger.
type Log struct {
	// Level is debug, info, warn or error. Default: info.
	Level string `yaml:"level,omitempty"`
	// Queries logs every command text at debug level.
	Queries bool `yaml:"queries,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{Dialect: dialect.SQLite.Name, Paging: "native", Log: Log{Level: "info"}}
}

// Load reads and validates a configuration file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or holds invalid values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.resolve(filepath.Dir(path))
	return cfg, nil
}

// Parse decodes and validates configuration YAML.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) resolve(base string) {
	if c.Mapping != "" && !filepath.IsAbs(c.Mapping) {
		c.Mapping = filepath.Join(base, c.Mapping)
	}
	if c.Database != "" && c.Database != ":memory:" && !filepath.IsAbs(c.Database) {
		c.Database = filepath.Join(base, c.Database)
	}
}

// Validate checks that every value is one the provider understands.
func (c *Config) Validate() error {
	if _, err := dialect.ByName(c.Dialect); err != nil {
		return err
	}
	if _, err := c.PagingMode(); err != nil {
		return err
	}
	if c.PlanCache.MaxEntries < 0 {
		return fmt.Errorf("plan_cache.max_entries must not be negative, got %d", c.PlanCache.MaxEntries)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	for entity, assocs := range c.Include {
		if len(assocs) == 0 {
			return fmt.Errorf("include.%s: list at least one association", entity)
		}
	}
	return nil
}

// Language returns the configured dialect.
func (c *Config) Language() *dialect.Language {
	lang, err := dialect.ByName(c.Dialect)
	if err != nil {
		return dialect.SQLite
	}
	return lang
}

// PagingMode returns the configured paging strategy.
func (c *Config) PagingMode() (optimizer.Paging, error) {
	switch c.Paging {
	case "", "native":
		return optimizer.PagingNative, nil
	case "row_number":
		return optimizer.PagingRowNumber, nil
	}
	return 0, fmt.Errorf("paging must be native or row_number, got %q", c.Paging)
}

// Policy returns the configured relationship loading policy.
func (c *Config) Policy() binder.Policy {
	return binder.Policy{Include: c.Include}
}

// LogLevel returns the configured slog level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if c.Log.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.Log.Level))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
