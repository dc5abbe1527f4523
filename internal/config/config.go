// Package config loads the vectorize service configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hupe1980/vectorize/codec"
	"github.com/hupe1980/vectorize/distance"
	"github.com/hupe1980/vectorize/internal/snapshot"
	"github.com/hupe1980/vectorize/model"
	"github.com/hupe1980/vectorize/wal"
)

// Config is the top-level service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Data     DataConfig     `mapstructure:"data"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Query    QueryConfig    `mapstructure:"query"`
	Graph    GraphConfig    `mapstructure:"graph"`
	Indexes  []IndexConfig  `mapstructure:"indexes"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Listen          string        `mapstructure:"listen"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DataConfig controls journaling. An empty Dir keeps indexes in memory only.
type DataConfig struct {
	Dir        string `mapstructure:"dir"`
	Durability string `mapstructure:"durability"`
	Codec      string `mapstructure:"codec"`
	Compress   bool   `mapstructure:"compress"`
}

// SnapshotConfig selects where snapshots are stored.
type SnapshotConfig struct {
	Backend     string        `mapstructure:"backend"`
	Dir         string        `mapstructure:"dir"`
	Bucket      string        `mapstructure:"bucket"`
	Prefix      string        `mapstructure:"prefix"`
	Endpoint    string        `mapstructure:"endpoint"`
	Region      string        `mapstructure:"region"`
	AccessKey   string        `mapstructure:"access_key"`
	SecretKey   string        `mapstructure:"secret_key"`
	UseSSL      bool          `mapstructure:"use_ssl"`
	Compression string        `mapstructure:"compression"`
	Interval    time.Duration `mapstructure:"interval"`
}

// LimitsConfig bounds per-index resources. Zero disables a limit.
type LimitsConfig struct {
	MemoryBytes          int64   `mapstructure:"memory_bytes"`
	MaxConcurrentQueries int64   `mapstructure:"max_concurrent_queries"`
	MutationsPerSecond   float64 `mapstructure:"mutations_per_second"`
	MutationBurst        int     `mapstructure:"mutation_burst"`
	IOBytesPerSecond     int64   `mapstructure:"io_bytes_per_second"`
}

// QueryConfig tunes query execution.
type QueryConfig struct {
	MaxTopK             int `mapstructure:"max_top_k"`
	BruteForceThreshold int `mapstructure:"brute_force_threshold"`
}

// GraphConfig tunes the proximity graph.
type GraphConfig struct {
	M        int `mapstructure:"m"`
	EF       int `mapstructure:"ef"`
	EFSearch int `mapstructure:"ef_search"`
}

// IndexConfig declares an index created at startup.
type IndexConfig struct {
	Name       string `mapstructure:"name"`
	Dimensions int    `mapstructure:"dimensions"`
	Metric     string `mapstructure:"metric"`
	Preset     string `mapstructure:"preset"`
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix VECTORIZE_).
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.max_body_bytes", 32<<20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("data.durability", "group-commit")
	v.SetDefault("data.codec", "msgpack")
	v.SetDefault("snapshot.backend", "none")
	v.SetDefault("snapshot.compression", "zstd")
	v.SetDefault("query.max_top_k", 100)
	v.SetDefault("query.brute_force_threshold", 256)

	// Environment
	v.SetEnvPrefix("VECTORIZE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// File
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("vectorize")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/vectorize")
		v.AddConfigPath("/etc/vectorize")
		// No config file is fine; defaults and env vars still apply.
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors.
// It returns a slice of all validation errors found, collecting all issues
// rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateLog()...)
	errs = append(errs, c.validateData()...)
	errs = append(errs, c.validateSnapshot()...)
	errs = append(errs, c.validateIndexes()...)

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		return append(errs, errors.New("config: server.listen must not be empty"))
	}
	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		return append(errs, fmt.Errorf("config: server.listen must be a valid host:port address, got %q: %w", c.Server.Listen, err))
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("config: server.listen port must be between 0 and 65535, got %q", portStr))
	}
	if c.Server.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("config: server.max_body_bytes must not be negative, got %d", c.Server.MaxBodyBytes))
	}

	return errs
}

func (c *Config) validateLog() []error {
	var errs []error

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Errorf("config: log.level must be one of [debug, info, warn, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Errorf("config: log.format must be one of [text, json], got %q", c.Log.Format))
	}

	return errs
}

func (c *Config) validateData() []error {
	var errs []error

	if _, ok := wal.ParseDurabilityMode(c.Data.Durability); !ok {
		errs = append(errs, fmt.Errorf("config: data.durability must be one of [async, group-commit, sync], got %q", c.Data.Durability))
	}
	if _, ok := codec.ByName(c.Data.Codec); !ok {
		errs = append(errs, fmt.Errorf("config: data.codec must be one of %v, got %q", codec.Names(), c.Data.Codec))
	}

	return errs
}

func (c *Config) validateSnapshot() []error {
	var errs []error

	s := c.Snapshot
	switch s.Backend {
	case "none":
	case "local", "badger":
		if s.Dir == "" {
			errs = append(errs, fmt.Errorf("config: snapshot.dir is required for backend %q", s.Backend))
		}
	case "s3":
		if s.Bucket == "" {
			errs = append(errs, errors.New("config: snapshot.bucket is required for backend \"s3\""))
		}
	case "minio":
		if s.Bucket == "" || s.Endpoint == "" {
			errs = append(errs, errors.New("config: snapshot.bucket and snapshot.endpoint are required for backend \"minio\""))
		}
	default:
		errs = append(errs, fmt.Errorf("config: snapshot.backend must be one of [none, local, badger, s3, minio], got %q", s.Backend))
	}
	if _, err := snapshot.ParseCompression(s.Compression); err != nil {
		errs = append(errs, fmt.Errorf("config: snapshot.compression: %w", err))
	}
	if s.Interval < 0 {
		errs = append(errs, fmt.Errorf("config: snapshot.interval must not be negative, got %s", s.Interval))
	}

	return errs
}

func (c *Config) validateIndexes() []error {
	var errs []error

	seen := make(map[string]bool, len(c.Indexes))
	for i, ix := range c.Indexes {
		if ix.Name == "" {
			errs = append(errs, fmt.Errorf("config: indexes[%d].name must not be empty", i))
		} else if seen[ix.Name] {
			errs = append(errs, fmt.Errorf("config: indexes[%d].name %q is declared twice", i, ix.Name))
		}
		seen[ix.Name] = true

		if _, err := distance.ParseMetric(ix.Metric); err != nil {
			errs = append(errs, fmt.Errorf("config: indexes[%d].metric: %w", i, err))
		}
		if ix.Preset != "" {
			if _, ok := model.KnownModel(ix.Preset).Dimensions(); !ok {
				errs = append(errs, fmt.Errorf("config: indexes[%d].preset %q is not a known model", i, ix.Preset))
			}
		} else if ix.Dimensions <= 0 {
			errs = append(errs, fmt.Errorf("config: indexes[%d].dimensions must be positive, got %d", i, ix.Dimensions))
		}
	}

	return errs
}
