// Package config provides configuration management for the coverage converter.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/coverage-analysis/pkg/compression"
	apperrors "github.com/coverage-analysis/pkg/errors"
)

// EnvPrefix prefixes environment overrides, e.g. COVERAGE_REPORT_FORMAT.
const EnvPrefix = "COVERAGE"

// Config holds all configuration for the application.
type Config struct {
	Cache     CacheConfig     `mapstructure:"cache"`
	Classpath ClasspathConfig `mapstructure:"classpath"`
	Report    ReportConfig    `mapstructure:"report"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Index     IndexConfig     `mapstructure:"index"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// CacheConfig holds structural analysis cache configuration.
type CacheConfig struct {
	// Strict turns a class name seen with two different contents into an error.
	Strict  bool `mapstructure:"strict"`
	Workers int  `mapstructure:"workers"`
}

// ClasspathConfig selects the classes that are analyzed.
type ClasspathConfig struct {
	Includes    []string `mapstructure:"includes"`
	Excludes    []string `mapstructure:"excludes"`
	SkipRuntime bool     `mapstructure:"skip_runtime"`

	// AgentPrefixes are extra packages of in-process agents, dropped with
	// the runtime classes.
	AgentPrefixes []string `mapstructure:"agent_prefixes"`
}

// ReportConfig holds report writer configuration.
type ReportConfig struct {
	Format     string `mapstructure:"format"` // xml or json
	OutputDir  string `mapstructure:"output_dir"`
	Name       string `mapstructure:"name"`
	SplitAfter int    `mapstructure:"split_after"`
	// FlushTimeout bounds the upload of each finished part.
	FlushTimeout time.Duration `mapstructure:"flush_timeout"`
	Compression  string        `mapstructure:"compression"` // none, gzip or zstd

	// QueueCapacity is the number of sessions buffered ahead of the writer.
	QueueCapacity int `mapstructure:"queue_capacity"`
	// DrainTimeout bounds writing the sessions still queued once decoding is
	// done; zero waits for all of them.
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"` // cos or local
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`     // e.g., "myqcloud.com"
	Scheme    string `mapstructure:"scheme"`     // e.g., "https" or "http"
	LocalPath string `mapstructure:"local_path"` // for local storage
	Prefix    string `mapstructure:"prefix"`     // key prefix for report parts
}

// IndexConfig holds the report index database configuration.
type IndexConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Database DatabaseConfig `mapstructure:"database"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // sqlite, postgres or mysql
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"` // empty logs to stderr
}

// TelemetryConfig holds trace export configuration. OTEL_* environment
// variables are applied on top when tracing starts.
type TelemetryConfig struct {
	Enabled     bool              `mapstructure:"enabled"`
	ServiceName string            `mapstructure:"service_name"`
	Endpoint    string            `mapstructure:"endpoint"`
	Protocol    string            `mapstructure:"protocol"` // grpc or http/protobuf
	Insecure    bool              `mapstructure:"insecure"`
	Headers     map[string]string `mapstructure:"headers"`
	Sampler     string            `mapstructure:"sampler"`
	SamplerArg  string            `mapstructure:"sampler_arg"`
}

// Load reads configuration from the specified file path. A missing file
// falls back to defaults and environment overrides.
func Load(configPath string) (*Config, error) {
	v := newViper()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("coverage")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/coverage-converter")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, apperrors.Wrap(apperrors.CodeConfigError, "failed to read config file", err)
		}
	}

	return decode(v)
}

// LoadFromReader loads configuration from content (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := newViper()
	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "failed to read config", err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "failed to unmarshal config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("cache.strict", false)
	v.SetDefault("cache.workers", 0)

	v.SetDefault("classpath.includes", []string{})
	v.SetDefault("classpath.excludes", []string{})
	v.SetDefault("classpath.skip_runtime", true)
	v.SetDefault("classpath.agent_prefixes", []string{})

	v.SetDefault("report.format", "xml")
	v.SetDefault("report.output_dir", "./coverage")
	v.SetDefault("report.name", "testwise")
	v.SetDefault("report.split_after", 0)
	v.SetDefault("report.flush_timeout", 30*time.Second)
	v.SetDefault("report.compression", "none")
	v.SetDefault("report.queue_capacity", 64)
	v.SetDefault("report.drain_timeout", 5*time.Minute)

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./storage")

	v.SetDefault("index.enabled", false)
	v.SetDefault("index.database.type", "sqlite")
	v.SetDefault("index.database.database", "coverage-index.db")
	v.SetDefault("index.database.max_conns", 10)

	v.SetDefault("log.level", "info")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "coverage-converter")
	v.SetDefault("telemetry.protocol", "grpc")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Report.Format) {
	case "xml", "json":
	default:
		return invalid("unsupported report format: %s", c.Report.Format)
	}
	if c.Report.Name == "" {
		return invalid("report name is required")
	}
	if c.Report.SplitAfter < 0 {
		return invalid("report split_after must not be negative")
	}
	if c.Report.FlushTimeout < 0 {
		return invalid("report flush_timeout must not be negative")
	}
	if c.Report.QueueCapacity < 0 || c.Report.DrainTimeout < 0 {
		return invalid("report queue_capacity and drain_timeout must not be negative")
	}
	if _, err := compression.ParseType(c.Report.Compression); err != nil {
		return invalid("%v", err)
	}
	if c.Cache.Workers < 0 {
		return invalid("cache workers must not be negative")
	}

	if c.Index.Enabled {
		switch c.Index.Database.Type {
		case "sqlite", "sqlite3", "postgres", "postgresql", "mysql":
		default:
			return invalid("unsupported database type: %s", c.Index.Database.Type)
		}
		if c.Index.Database.Type != "sqlite" && c.Index.Database.Type != "sqlite3" && c.Index.Database.Host == "" {
			return invalid("database host is required")
		}
	}

	// Storage details are validated by the storage package when enabled.

	switch strings.ToLower(c.Telemetry.Protocol) {
	case "", "grpc", "http", "http/protobuf":
	default:
		return invalid("unsupported telemetry protocol: %s", c.Telemetry.Protocol)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("unsupported log level: %s", c.Log.Level)
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return apperrors.New(apperrors.CodeConfigError, fmt.Sprintf(format, args...))
}
