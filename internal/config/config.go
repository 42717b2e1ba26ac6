// Package config provides configuration loading, validation, and defaults
// for the HuddleBot application. Values come from defaults, an optional
// config.yaml file, and BOT_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config contains all application configuration values.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Bot       BotConfig       `mapstructure:"bot"`
	Graph     GraphConfig     `mapstructure:"graph"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Messages  MessagesConfig  `mapstructure:"messages"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig holds SQLite connection settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// BotConfig holds the Bot Framework channel registration and listener
// settings. AppID and AppPassword are the AAD application credentials the
// connector authenticates with; TenantID restricts inbound activities to a
// single tenant when set.
type BotConfig struct {
	AppID       string        `mapstructure:"app_id"       validate:"required"`
	AppPassword string        `mapstructure:"app_password" validate:"required"`
	TenantID    string        `mapstructure:"tenant_id"`
	ListenAddr  string        `mapstructure:"listen_addr"  validate:"required"`
	SendTimeout time.Duration `mapstructure:"send_timeout" validate:"min=1s,max=2m"`

	// VerifyInbound disables inbound JWT verification when false. Only
	// meant for the Bot Framework Emulator during local development.
	VerifyInbound bool `mapstructure:"verify_inbound"`
}

// GraphConfig holds Microsoft Graph credentials. When Enabled is false the
// Graph-backed dialogue steps degrade to channel-only data.
type GraphConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	TenantID     string `mapstructure:"tenant_id"     validate:"required_if=Enabled true"`
	ClientID     string `mapstructure:"client_id"     validate:"required_if=Enabled true"`
	ClientSecret string `mapstructure:"client_secret" validate:"required_if=Enabled true"`
}

// HTTPConfig holds the dashboard API server settings.
type HTTPConfig struct {
	ListenAddr     string        `mapstructure:"listen_addr"  validate:"required"`
	JWTSecret      string        `mapstructure:"jwt_secret"   validate:"required,min=16"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"    validate:"min=1m,max=24h"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// BatchConfig controls the proactive message batch processor.
type BatchConfig struct {
	QueueSize     int           `mapstructure:"queue_size"     validate:"min=1"`
	BatchSize     int           `mapstructure:"batch_size"     validate:"min=1"`
	FlushInterval time.Duration `mapstructure:"flush_interval" validate:"min=100ms"`
	Workers       int           `mapstructure:"workers"        validate:"min=1,max=64"`
	MaxAttempts   int           `mapstructure:"max_attempts"   validate:"min=1,max=10"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"  validate:"min=100ms"`
}

// TaskConfig enables a named scheduled task with a cron expression.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// SchedulerConfig maps task names to their schedules.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// MessagesConfig holds user-facing bot text.
type MessagesConfig struct {
	Welcome        string `mapstructure:"welcome"`
	Help           string `mapstructure:"help"`
	UnknownInput   string `mapstructure:"unknown_input"`
	GeneralError   string `mapstructure:"general_error"`
	Cancelled      string `mapstructure:"cancelled"`
	MenuPrompt     string `mapstructure:"menu_prompt"`
	TemplatePrompt string `mapstructure:"template_prompt"`
	NoTemplate     string `mapstructure:"no_template"`
	NoProfile      string `mapstructure:"no_profile"`
	CardExpired    string `mapstructure:"card_expired"`
}

// Load reads configuration from the given YAML file (optional), applies
// defaults, merges BOT_* environment variables, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// With an explicit SetConfigFile a missing file surfaces as
		// fs.ErrNotExist, not viper's ConfigFileNotFoundError.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Missing config file is fine, defaults plus env carry the load.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", true)

	v.SetDefault("database.path", "storage.db")

	// Secrets have empty-string defaults so env-only deployments register
	// the keys with viper.
	v.SetDefault("bot.app_id", "")
	v.SetDefault("bot.app_password", "")
	v.SetDefault("bot.tenant_id", "")
	v.SetDefault("bot.listen_addr", ":3978")
	v.SetDefault("bot.send_timeout", 15*time.Second)
	v.SetDefault("bot.verify_inbound", true)

	v.SetDefault("graph.enabled", false)
	v.SetDefault("graph.tenant_id", "")
	v.SetDefault("graph.client_id", "")
	v.SetDefault("graph.client_secret", "")

	v.SetDefault("http.listen_addr", ":8080")
	v.SetDefault("http.jwt_secret", "")
	v.SetDefault("http.token_ttl", time.Hour)

	v.SetDefault("batch.queue_size", 1024)
	v.SetDefault("batch.batch_size", 25)
	v.SetDefault("batch.flush_interval", 5*time.Second)
	v.SetDefault("batch.workers", 8)
	v.SetDefault("batch.max_attempts", 3)
	v.SetDefault("batch.retry_backoff", 2*time.Second)

	v.SetDefault("scheduler.tasks.batch_drain.enabled", true)
	v.SetDefault("scheduler.tasks.batch_drain.schedule", "*/5 * * * *")
	v.SetDefault("scheduler.tasks.cache_sweep.enabled", true)
	v.SetDefault("scheduler.tasks.cache_sweep.schedule", "*/15 * * * *")
	v.SetDefault("scheduler.tasks.pending_card_expiry.enabled", true)
	v.SetDefault("scheduler.tasks.pending_card_expiry.schedule", "0 * * * *")
	v.SetDefault("scheduler.tasks.sql_maintenance.enabled", true)
	v.SetDefault("scheduler.tasks.sql_maintenance.schedule", "0 4 * * *")

	v.SetDefault("messages.welcome", "Hi! I'm HuddleBot. Say anything to get started.")
	v.SetDefault("messages.help", "I can show your conversation token, send a template card, or look up your profile. Type 'cancel' any time to start over.")
	v.SetDefault("messages.unknown_input", "Sorry, I didn't catch that. Type 'help' to see what I can do.")
	v.SetDefault("messages.general_error", "Something went wrong. Please try again later.")
	v.SetDefault("messages.cancelled", "Okay, cancelled.")
	v.SetDefault("messages.menu_prompt", "What would you like to do?")
	v.SetDefault("messages.template_prompt", "Which template should I send?")
	v.SetDefault("messages.no_template", "I couldn't find a template with that name.")
	v.SetDefault("messages.no_profile", "I couldn't look up your profile right now.")
	v.SetDefault("messages.card_expired", "That card has expired. Please start over.")
}
