package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Source    SourceConfig    `yaml:"source" mapstructure:"source"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Retention RetentionConfig `yaml:"retention" mapstructure:"retention"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string     `yaml:"driver" mapstructure:"driver"`
	Path        string     `yaml:"path" mapstructure:"path"`
	DatabaseURL string     `yaml:"database_url" mapstructure:"database_url"`
	Pool        PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// PoolConfig tunes the postgres connection pool.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key           string  `yaml:"key" mapstructure:"key"`
	Model         string  `yaml:"model" mapstructure:"model"`
	MaxTokens     int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature   float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxRetries    int     `yaml:"max_retries" mapstructure:"max_retries"`
	BaseDelaySecs int     `yaml:"base_delay_secs" mapstructure:"base_delay_secs"`
	MaxBodyChars  int     `yaml:"max_body_chars" mapstructure:"max_body_chars"`
}

// SourceConfig configures the Reddit listing client.
type SourceConfig struct {
	Subreddits        []string `yaml:"subreddits" mapstructure:"subreddits"`
	Keywords          []string `yaml:"keywords" mapstructure:"keywords"`
	PerSubredditLimit int      `yaml:"per_subreddit_limit" mapstructure:"per_subreddit_limit"`
	RequestsPerSec    float64  `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	TimeoutSecs       int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent         string   `yaml:"user_agent" mapstructure:"user_agent"`
}

// BatchConfig configures classification fan-out.
type BatchConfig struct {
	Concurrency    int `yaml:"concurrency" mapstructure:"concurrency"`
	ChunkSize      int `yaml:"chunk_size" mapstructure:"chunk_size"`
	ChunkPauseSecs int `yaml:"chunk_pause_secs" mapstructure:"chunk_pause_secs"`
}

// PipelineConfig configures run orchestration.
type PipelineConfig struct {
	MaxAttempts       int `yaml:"max_attempts" mapstructure:"max_attempts"`
	CoolDownMins      int `yaml:"cool_down_mins" mapstructure:"cool_down_mins"`
	UnclassifiedLimit int `yaml:"unclassified_limit" mapstructure:"unclassified_limit"`
}

// RetentionConfig configures the purge window.
type RetentionConfig struct {
	Days int `yaml:"days" mapstructure:"days"`
}

// ServerConfig configures the API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks the fields required for the given mode: "run" and
// "serve" need classification credentials and a source, "query" only
// needs a reachable store.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown store.driver %q", c.Store.Driver))
	}
	if c.Retention.Days < 1 {
		problems = append(problems, "retention.days must be >= 1")
	}

	switch mode {
	case "run", "serve":
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		if len(c.Source.Subreddits) == 0 {
			problems = append(problems, "source.subreddits must not be empty")
		}
		if c.Batch.Concurrency < 1 || c.Batch.Concurrency > 50 {
			problems = append(problems, "batch.concurrency must be between 1 and 50")
		}
		if mode == "serve" && c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "query":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("JOBRADAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "jobradar.db")
	v.SetDefault("store.pool.max_conns", 4)
	v.SetDefault("store.pool.min_conns", 1)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 800)
	v.SetDefault("anthropic.temperature", 0.1)
	v.SetDefault("anthropic.max_retries", 3)
	v.SetDefault("anthropic.base_delay_secs", 1)
	v.SetDefault("anthropic.max_body_chars", 3000)
	v.SetDefault("source.subreddits", []string{
		"WebDeveloperJobs",
		"AppDevelopers",
		"forhire",
		"PythonJobs",
		"cofounders",
		"BigDataJobs",
		"remotepython",
		"MachineLearningJobs",
	})
	v.SetDefault("source.keywords", []string{
		"developer",
		"[hiring]",
		"engineer",
		"full stack",
		"backend",
		"frontend",
		"software",
		"programmer",
		"coding",
		"remote",
		"freelance",
	})
	v.SetDefault("source.per_subreddit_limit", 25)
	v.SetDefault("source.requests_per_sec", 1.0)
	v.SetDefault("source.timeout_secs", 15)
	v.SetDefault("source.user_agent", "jobradar/1.0 (job post radar)")
	v.SetDefault("batch.concurrency", 10)
	v.SetDefault("batch.chunk_size", 20)
	v.SetDefault("batch.chunk_pause_secs", 2)
	v.SetDefault("pipeline.max_attempts", 3)
	v.SetDefault("pipeline.cool_down_mins", 60)
	v.SetDefault("pipeline.unclassified_limit", 200)
	v.SetDefault("retention.days", 14)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
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
