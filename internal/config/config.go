package config

import (
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Policy   PolicyConfig   `yaml:"policy" mapstructure:"policy"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Batch    BatchConfig    `yaml:"batch" mapstructure:"batch"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RatePerSecond  float64  `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	RateBurst      int      `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// PolicyConfig points at per-assessment-year policy files. An empty Dir
// uses the embedded tables.
type PolicyConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// PipelineConfig configures the per-return orchestrator.
type PipelineConfig struct {
	AssessmentYear     string `yaml:"assessment_year" mapstructure:"assessment_year"`
	Regime             string `yaml:"regime" mapstructure:"regime"`
	FormType           string `yaml:"form_type" mapstructure:"form_type"`
	LeaseTTLSecs       int    `yaml:"lease_ttl_secs" mapstructure:"lease_ttl_secs"`
	RetryAttempts      int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMillis int    `yaml:"retry_backoff_millis" mapstructure:"retry_backoff_millis"`
	RulesFile          string `yaml:"rules_file" mapstructure:"rules_file"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentReturns int `yaml:"max_concurrent_returns" mapstructure:"max_concurrent_returns"`
}

// LeaseTTL returns the lease TTL as a duration.
func (p PipelineConfig) LeaseTTL() time.Duration {
	return time.Duration(p.LeaseTTLSecs) * time.Second
}

// RetryBackoff returns the initial store retry backoff.
func (p PipelineConfig) RetryBackoff() time.Duration {
	return time.Duration(p.RetryBackoffMillis) * time.Millisecond
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TAXPREP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "taxprep.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_per_second", 20.0)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("policy.dir", "")
	v.SetDefault("pipeline.assessment_year", "2025-26")
	v.SetDefault("pipeline.regime", "NEW")
	v.SetDefault("pipeline.form_type", "ITR1")
	v.SetDefault("pipeline.lease_ttl_secs", 300)
	v.SetDefault("pipeline.retry_attempts", 3)
	v.SetDefault("pipeline.retry_backoff_millis", 50)
	v.SetDefault("batch.max_concurrent_returns", 5)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings every command depends on. Mode "serve"
// additionally checks the HTTP server.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	if strings.TrimSpace(c.Pipeline.AssessmentYear) == "" {
		problems = append(problems, "pipeline.assessment_year is required")
	}
	switch strings.ToUpper(c.Pipeline.Regime) {
	case "OLD", "NEW":
	default:
		problems = append(problems, "pipeline.regime must be OLD or NEW")
	}
	if c.Pipeline.LeaseTTLSecs <= 0 {
		problems = append(problems, "pipeline.lease_ttl_secs must be > 0")
	}
	if c.Pipeline.RetryAttempts < 1 {
		problems = append(problems, "pipeline.retry_attempts must be >= 1")
	}
	if c.Batch.MaxConcurrentReturns < 1 || c.Batch.MaxConcurrentReturns > 50 {
		problems = append(problems, "batch.max_concurrent_returns must be between 1 and 50")
	}

	switch mode {
	case "", "cli":
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Server.RatePerSecond < 0 {
			problems = append(problems, "server.rate_per_second must be >= 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
