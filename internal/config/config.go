// Package config loads the bot configuration from a YAML file, an optional
// .env file and MNEMOBOT_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrConfiguration wraps every loading and validation failure.
var ErrConfiguration = errors.New("configuration error")

// EnvPrefix is the prefix of environment overrides, e.g. MNEMOBOT_TELEGRAM_TOKEN.
const EnvPrefix = "MNEMOBOT"

// Config is the complete application configuration.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	Database   DatabaseConfig   `mapstructure:"database"`
	MediaGroup MediaGroupConfig `mapstructure:"media_group"`
	Router     RouterConfig     `mapstructure:"router"`
	Documents  DocumentsConfig  `mapstructure:"documents"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Messages   MessagesConfig   `mapstructure:"messages"`
	Timezone   string           `mapstructure:"timezone" validate:"required,timezone"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// TelegramConfig holds transport settings. AllowedUsers holds usernames or numeric ids;
// an empty list allows everyone.
type TelegramConfig struct {
	Token           string        `mapstructure:"token"            validate:"required"`
	AllowedUsers    []string      `mapstructure:"allowed_users"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout" validate:"required,min=1s"`
	// Workers is the number of concurrent update handlers. Media group leaders block
	// a worker while collecting, so at least two are needed.
	Workers int `mapstructure:"workers" validate:"min=2"`
}

// GeminiConfig holds the reasoning backend settings.
type GeminiConfig struct {
	APIKey            string  `mapstructure:"api_key"             validate:"required"`
	Model             string  `mapstructure:"model"               validate:"required"`
	EmbeddingModel    string  `mapstructure:"embedding_model"     validate:"required"`
	Temperature       float32 `mapstructure:"temperature"         validate:"min=0,max=2"`
	MaxRetries        int     `mapstructure:"max_retries"         validate:"min=0,max=10"`
	RetryDelaySeconds int     `mapstructure:"retry_delay_seconds" validate:"min=0"`
	MaxToolSteps      int     `mapstructure:"max_tool_steps"      validate:"min=1,max=20"`
}

// DatabaseConfig holds the SQLite database location.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// MediaGroupConfig tunes media-group batching.
type MediaGroupConfig struct {
	QuiescenceWindow time.Duration `mapstructure:"quiescence_window" validate:"required,min=100ms"`
	MaxAge           time.Duration `mapstructure:"max_age"           validate:"required,gtfield=QuiescenceWindow"`
}

// RouterConfig tunes the conversation router.
type RouterConfig struct {
	HistoryLimit int `mapstructure:"history_limit" validate:"min=1,max=200"`
}

// DocumentsConfig holds the output directory of generated documents.
type DocumentsConfig struct {
	OutputDir string `mapstructure:"output_dir" validate:"required"`
}

// TaskConfig enables and schedules one task. Schedule is a six-field cron expression.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}

// SchedulerConfig maps task names to their settings.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

// MessagesConfig holds every user-visible string.
type MessagesConfig struct {
	Start         string `mapstructure:"start"          validate:"required"`
	Help          string `mapstructure:"help"           validate:"required"`
	NotAuthorized string `mapstructure:"not_authorized" validate:"required"`
	Unsupported   string `mapstructure:"unsupported"    validate:"required"`
	Failure       string `mapstructure:"failure"        validate:"required"` // formatted with the error detail
	Processing    string `mapstructure:"processing"     validate:"required"`
	Reminder      string `mapstructure:"reminder"       validate:"required"` // formatted with the reminder text
	NoReminders   string `mapstructure:"no_reminders"   validate:"required"`
	RemindersHead string `mapstructure:"reminders_head" validate:"required"`
	DismissUsage  string `mapstructure:"dismiss_usage"  validate:"required"`
	Dismissed     string `mapstructure:"dismissed"      validate:"required"` // formatted with the reminder id
	DismissFailed string `mapstructure:"dismiss_failed" validate:"required"` // formatted with the reminder id
	Fallback      string `mapstructure:"fallback"       validate:"required"`
	Retrieving    string `mapstructure:"retrieving"     validate:"required"`
	Retrieved     string `mapstructure:"retrieved"      validate:"required"`
	Storing       string `mapstructure:"storing"        validate:"required"`
	Stored        string `mapstructure:"stored"         validate:"required"`
	SourcedFrom   string `mapstructure:"sourced_from"   validate:"required"`
	DocumentFound string `mapstructure:"document_found" validate:"required"`
	Generating    string `mapstructure:"generating"     validate:"required"`
	DocumentReady string `mapstructure:"document_ready" validate:"required"`
}

// Location returns the configured time zone. Load has already validated it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load reads the configuration at path over the built-in defaults. A missing file is
// not an error; environment variables (optionally from .env) override file values.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: failed to load .env: %v", ErrConfiguration, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Keys without defaults are invisible to AutomaticEnv during Unmarshal.
	for _, key := range []string{"telegram.token", "gemini.api_key"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("%w: failed to bind %s: %v", ErrConfiguration, key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: failed to read %s: %v", ErrConfiguration, path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("telegram.allowed_users", []string{})
	v.SetDefault("telegram.download_timeout", 30*time.Second)
	v.SetDefault("telegram.workers", 8)

	v.SetDefault("gemini.model", "gemini-2.0-flash")
	v.SetDefault("gemini.embedding_model", "text-embedding-004")
	v.SetDefault("gemini.temperature", 0.2)
	v.SetDefault("gemini.max_retries", 3)
	v.SetDefault("gemini.retry_delay_seconds", 2)
	v.SetDefault("gemini.max_tool_steps", 6)

	v.SetDefault("database.path", "./mnemobot.db")

	v.SetDefault("media_group.quiescence_window", 5*time.Second)
	v.SetDefault("media_group.max_age", 300*time.Second)

	v.SetDefault("router.history_limit", 20)

	v.SetDefault("documents.output_dir", "./documents")

	v.SetDefault("scheduler.tasks.reminder_delivery.enabled", true)
	v.SetDefault("scheduler.tasks.reminder_delivery.schedule", "0 * * * * *")
	v.SetDefault("scheduler.tasks.media_group_sweep.enabled", true)
	v.SetDefault("scheduler.tasks.media_group_sweep.schedule", "*/30 * * * * *")
	v.SetDefault("scheduler.tasks.sql_maintenance.enabled", true)
	v.SetDefault("scheduler.tasks.sql_maintenance.schedule", "0 0 3 * * *")

	v.SetDefault("timezone", "UTC")

	v.SetDefault("messages.start", "👋 Hi! Send me notes, photos, documents or voice messages and I'll remember them. Ask me about them later, or ask me to remind you of something.")
	v.SetDefault("messages.help", "Send any message to store or retrieve information.\n\n/reminders - list pending reminders\n/dismiss <id> - dismiss a pending reminder\n/help - show this message")
	v.SetDefault("messages.not_authorized", "🚫 Access denied.")
	v.SetDefault("messages.unsupported", "⚠️ Sorry, this message format is not supported.")
	v.SetDefault("messages.failure", "❌ Something went wrong while handling your message: %s")
	v.SetDefault("messages.processing", "⏳ Working on it...")
	v.SetDefault("messages.reminder", "⏰ Reminder: %s")
	v.SetDefault("messages.no_reminders", "You have no pending reminders.")
	v.SetDefault("messages.reminders_head", "📋 Pending reminders:")
	v.SetDefault("messages.dismiss_usage", "Usage: /dismiss <reminder id>")
	v.SetDefault("messages.dismissed", "✅ Reminder %d dismissed.")
	v.SetDefault("messages.dismiss_failed", "Reminder %d is not pending.")
	v.SetDefault("messages.fallback", "I'm sorry, but I couldn't understand your request.")
	v.SetDefault("messages.retrieving", "🔍 Analyzing and retrieving relevant information...")
	v.SetDefault("messages.retrieved", "✅ Analyzing and retrieving relevant information...")
	v.SetDefault("messages.storing", "⚪ Updating Information database")
	v.SetDefault("messages.stored", "✅ Information database updated")
	v.SetDefault("messages.sourced_from", "🔶 Information sourced from message ids: %s")
	v.SetDefault("messages.document_found", "🔶 Document found from message ids: %s")
	v.SetDefault("messages.generating", "⚪ Generating the requested document.")
	v.SetDefault("messages.document_ready", "The document has been generated with file name: %s")
}
