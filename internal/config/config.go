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
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Scoring   ScoringConfig   `yaml:"scoring" mapstructure:"scoring"`
	Lifecycle LifecycleConfig `yaml:"lifecycle" mapstructure:"lifecycle"`
	Export    ExportConfig    `yaml:"export" mapstructure:"export"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
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
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ScoringConfig points the scorer at its questionnaire and policy table.
type ScoringConfig struct {
	QuestionnairePath string `yaml:"questionnaire_path" mapstructure:"questionnaire_path"`
	PolicyPath        string `yaml:"policy_path" mapstructure:"policy_path"`
	// AutoOpenLevel is the lowest eligibility level for which an intake
	// submission opens a case on its own. Empty disables auto-open.
	AutoOpenLevel string `yaml:"auto_open_level" mapstructure:"auto_open_level"`
}

// LifecycleConfig tunes the case state machine guards.
type LifecycleConfig struct {
	DefaultExpectedDocuments int      `yaml:"default_expected_documents" mapstructure:"default_expected_documents"`
	DraftingRatio            float64  `yaml:"drafting_ratio" mapstructure:"drafting_ratio"`
	RequiredPaidMilestones   int      `yaml:"required_paid_milestones" mapstructure:"required_paid_milestones"`
	CivilStatusChecklist     []string `yaml:"civil_status_checklist" mapstructure:"civil_status_checklist"`
	SweepConcurrency         int      `yaml:"sweep_concurrency" mapstructure:"sweep_concurrency"`
}

// ExportConfig configures export generation.
type ExportConfig struct {
	SchemaVersion     string `yaml:"schema_version" mapstructure:"schema_version"`
	TimelineLimitDays int    `yaml:"timeline_limit_days" mapstructure:"timeline_limit_days"`
}

// NotifyConfig configures outbound case event webhooks.
type NotifyConfig struct {
	WebhookURL     string        `yaml:"webhook_url" mapstructure:"webhook_url"`
	RateLimit      float64       `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs    int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retry          RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit        CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
	DLQMaxRetries  int           `yaml:"dlq_max_retries" mapstructure:"dlq_max_retries"`
	DLQReplayBatch int           `yaml:"dlq_replay_batch" mapstructure:"dlq_replay_batch"`
}

// RetryConfig configures exponential backoff.
type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoff     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier     float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures the webhook circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// NotionConfig holds Notion API credentials and the questionnaire database.
type NotionConfig struct {
	Token      string `yaml:"token" mapstructure:"token"`
	QuestionDB string `yaml:"question_db" mapstructure:"question_db"`
}

// Load reads configuration from config.yaml in the working directory and
// PORTAL_* environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "portal.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("scoring.questionnaire_path", "testdata/questionnaire.json")
	v.SetDefault("scoring.auto_open_level", "MEDIUM")
	v.SetDefault("lifecycle.default_expected_documents", 12)
	v.SetDefault("lifecycle.drafting_ratio", 0.5)
	v.SetDefault("lifecycle.required_paid_milestones", 3)
	v.SetDefault("lifecycle.civil_status_checklist", []string{
		"applicant_birth_certificate",
		"parent_birth_certificate",
		"parents_marriage_certificate",
		"ancestor_birth_certificate",
	})
	v.SetDefault("lifecycle.sweep_concurrency", 8)
	v.SetDefault("export.schema_version", "1.0.0")
	v.SetDefault("export.timeline_limit_days", 180)
	v.SetDefault("notify.rate_limit", 5.0)
	v.SetDefault("notify.timeout_secs", 10)
	v.SetDefault("notify.retry.max_attempts", 3)
	v.SetDefault("notify.retry.initial_backoff_ms", 500)
	v.SetDefault("notify.retry.max_backoff_ms", 10000)
	v.SetDefault("notify.retry.multiplier", 2.0)
	v.SetDefault("notify.retry.jitter_fraction", 0.2)
	v.SetDefault("notify.circuit.failure_threshold", 5)
	v.SetDefault("notify.circuit.reset_timeout_secs", 30)
	v.SetDefault("notify.dlq_max_retries", 5)
	v.SetDefault("notify.dlq_replay_batch", 50)

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

var validLevels = map[string]bool{"HIGH": true, "MEDIUM": true, "LOW": true, "VERY_LOW": true}

// Validate checks the fields a command needs. mode is the command name
// ("serve", "cases", "notify", ...); unknown modes only get the common checks.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required for postgres")
	}

	if c.Lifecycle.DefaultExpectedDocuments < 1 {
		errs = append(errs, "lifecycle.default_expected_documents must be at least 1")
	}
	if c.Lifecycle.DraftingRatio <= 0 || c.Lifecycle.DraftingRatio > 1 {
		errs = append(errs, "lifecycle.drafting_ratio must be in (0, 1]")
	}
	if c.Lifecycle.RequiredPaidMilestones < 0 || c.Lifecycle.RequiredPaidMilestones > 12 {
		errs = append(errs, "lifecycle.required_paid_milestones must be between 0 and 12")
	}
	if c.Scoring.AutoOpenLevel != "" && !validLevels[c.Scoring.AutoOpenLevel] {
		errs = append(errs, fmt.Sprintf("scoring.auto_open_level %q is not a known level", c.Scoring.AutoOpenLevel))
	}

	switch mode {
	case "serve":
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
		}
	case "notify":
		if c.Notify.WebhookURL == "" {
			errs = append(errs, "notify.webhook_url is required")
		}
	case "notion":
		if c.Notion.Token == "" {
			errs = append(errs, "notion.token is required")
		}
		if c.Notion.QuestionDB == "" {
			errs = append(errs, "notion.question_db is required")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
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
