// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
)

// EnvPrefix namespaces environment overrides, e.g. SCALPEL_ENGINE_WORKER_CONCURRENCY.
const EnvPrefix = "SCALPEL"

// Cache backends.
const (
	CacheBackendFile     = "file"
	CacheBackendPostgres = "postgres"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Engine() EngineConfig
	Scan() ScanConfig
	Rules() RulesConfig
	Matcher() MatcherConfig
	Taint() TaintConfig
	Cache() CacheConfig

	// Setters used by CLI flag overrides.
	SetScanConfig(sc ScanConfig)
	SetEngineWorkerConcurrency(int)
	SetEngineParallel(bool)
	SetRulePaths([]string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	EngineCfg   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	ScanCfg     ScanConfig     `mapstructure:"scan" yaml:"scan"`
	RulesCfg    RulesConfig    `mapstructure:"rules" yaml:"rules"`
	MatcherCfg  MatcherConfig  `mapstructure:"matcher" yaml:"matcher"`
	TaintCfg    TaintConfig    `mapstructure:"taint" yaml:"taint"`
	CacheCfg    CacheConfig    `mapstructure:"cache" yaml:"cache"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Engine() EngineConfig     { return c.EngineCfg }
func (c *Config) Scan() ScanConfig         { return c.ScanCfg }
func (c *Config) Rules() RulesConfig       { return c.RulesCfg }
func (c *Config) Matcher() MatcherConfig   { return c.MatcherCfg }
func (c *Config) Taint() TaintConfig       { return c.TaintCfg }
func (c *Config) Cache() CacheConfig       { return c.CacheCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetScanConfig(sc ScanConfig)      { c.ScanCfg = sc }
func (c *Config) SetEngineWorkerConcurrency(w int) { c.EngineCfg.WorkerConcurrency = w }
func (c *Config) SetEngineParallel(b bool)         { c.EngineCfg.Parallel = b }
func (c *Config) SetRulePaths(paths []string)      { c.RulesCfg.Paths = paths }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details for the postgres cache backend.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// EngineConfig configures scan execution.
type EngineConfig struct {
	WorkerConcurrency int           `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	Parallel          bool          `mapstructure:"parallel" yaml:"parallel"`
	FileTimeout       time.Duration `mapstructure:"file_timeout" yaml:"file_timeout"`
}

// ScanConfig selects files and filters results. CLI flags override it.
type ScanConfig struct {
	Include     []string `mapstructure:"include" yaml:"include"`
	Exclude     []string `mapstructure:"exclude" yaml:"exclude"`
	MaxFileSize int64    `mapstructure:"max_file_size" yaml:"max_file_size"`
	MinSeverity string   `mapstructure:"min_severity" yaml:"min_severity"`
	Incremental bool     `mapstructure:"incremental" yaml:"incremental"`
	BaseRef     string   `mapstructure:"base_ref" yaml:"base_ref"`
}

// RulesConfig lists rule files and directories.
type RulesConfig struct {
	Paths []string `mapstructure:"paths" yaml:"paths"`
}

// MatcherConfig tunes the pattern matcher.
type MatcherConfig struct {
	CacheSize int `mapstructure:"cache_size" yaml:"cache_size"`
	// AndSemantics is "intersect" or "same_node".
	AndSemantics string `mapstructure:"and_semantics" yaml:"and_semantics"`
}

// TaintConfig tunes the taint engine.
type TaintConfig struct {
	Bidirectional    bool `mapstructure:"bidirectional" yaml:"bidirectional"`
	IncludeSanitized bool `mapstructure:"include_sanitized" yaml:"include_sanitized"`
}

// CacheConfig selects where incremental results are stored.
type CacheConfig struct {
	Backend   string        `mapstructure:"backend" yaml:"backend"`
	Dir       string        `mapstructure:"dir" yaml:"dir"`
	IOTimeout time.Duration `mapstructure:"io_timeout" yaml:"io_timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "scalpel-sast")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Engine --
	v.SetDefault("engine.worker_concurrency", 4)
	v.SetDefault("engine.parallel", true)
	v.SetDefault("engine.file_timeout", "30s")

	// -- Scan --
	v.SetDefault("scan.include", []string{})
	v.SetDefault("scan.exclude", []string{".git/**", "node_modules/**", "vendor/**"})
	v.SetDefault("scan.max_file_size", 1<<20)
	v.SetDefault("scan.min_severity", "")
	v.SetDefault("scan.incremental", false)
	v.SetDefault("scan.base_ref", "")

	// -- Rules --
	v.SetDefault("rules.paths", []string{"rules"})

	// -- Matcher --
	v.SetDefault("matcher.cache_size", 1000)
	v.SetDefault("matcher.and_semantics", "intersect")

	// -- Taint --
	v.SetDefault("taint.bidirectional", false)
	v.SetDefault("taint.include_sanitized", false)

	// -- Cache --
	v.SetDefault("cache.backend", CacheBackendFile)
	v.SetDefault("cache.dir", "~/.cache/scalpel-sast")
	v.SetDefault("cache.io_timeout", "5s")
}

// BindEnv makes every key overridable through SCALPEL_-prefixed variables.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	dir, err := homedir.Expand(cfg.CacheCfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to expand cache.dir: %w", err)
	}
	cfg.CacheCfg.Dir = dir

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.EngineCfg.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if c.EngineCfg.FileTimeout <= 0 {
		return fmt.Errorf("engine.file_timeout must be a positive duration")
	}
	if c.ScanCfg.MaxFileSize < 0 {
		return fmt.Errorf("scan.max_file_size cannot be negative")
	}
	if s := c.ScanCfg.MinSeverity; s != "" {
		if _, ok := schemas.ParseSeverity(s); !ok {
			return fmt.Errorf("scan.min_severity %q is not a known severity", s)
		}
	}
	switch c.MatcherCfg.AndSemantics {
	case "", "intersect", "same_node":
	default:
		return fmt.Errorf("matcher.and_semantics must be intersect or same_node, got %q", c.MatcherCfg.AndSemantics)
	}
	if c.MatcherCfg.CacheSize < 0 {
		return fmt.Errorf("matcher.cache_size cannot be negative")
	}
	if err := c.CacheCfg.Validate(c.DatabaseCfg); err != nil {
		return fmt.Errorf("cache configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the cache settings. The postgres backend needs database.url.
func (cc *CacheConfig) Validate(db DatabaseConfig) error {
	switch cc.Backend {
	case CacheBackendFile:
		if cc.Dir == "" {
			return fmt.Errorf("dir is required for the file backend")
		}
	case CacheBackendPostgres:
		if db.URL == "" {
			return fmt.Errorf("database.url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", cc.Backend)
	}
	if cc.IOTimeout <= 0 {
		return fmt.Errorf("io_timeout must be a positive duration")
	}
	return nil
}
