package main

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/BTreeMap/ScriptFlow/internal/api"
	"github.com/BTreeMap/ScriptFlow/internal/genai"
	"github.com/BTreeMap/ScriptFlow/internal/store"
	"github.com/BTreeMap/ScriptFlow/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ScriptFlow state data
	DefaultStateDir = "/var/lib/scriptflow"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "scriptflow.db"
	// DefaultIdleTimeout closes sessions nobody has written to for this long
	DefaultIdleTimeout = 24 * time.Hour
)

// Config is the resolved configuration of a command run.
type Config struct {
	StateDir          string        `mapstructure:"state-dir"`
	DatabaseURL       string        `mapstructure:"database-url"`
	APIAddr           string        `mapstructure:"api-addr"`
	AllowedOrigins    string        `mapstructure:"allowed-origins"`
	DefinitionsDir    string        `mapstructure:"definitions-dir"`
	OpenAIKey         string        `mapstructure:"openai-api-key"`
	OpenAIModel       string        `mapstructure:"openai-model"`
	TwilioWebhook     string        `mapstructure:"twilio-webhook"`
	DirectDelivery    string        `mapstructure:"direct-delivery"`
	OutboxMaxAttempts int           `mapstructure:"outbox-max-attempts"`
	IdleTimeout       time.Duration `mapstructure:"idle-timeout"`
	LogLevel          string        `mapstructure:"log-level"`
}

// envBindings maps configuration keys to the environment variables that set them.
var envBindings = map[string]string{
	"state-dir":           "SCRIPTFLOW_STATE_DIR",
	"database-url":        "DATABASE_URL",
	"api-addr":            "SCRIPTFLOW_API_ADDR",
	"allowed-origins":     "SCRIPTFLOW_ALLOWED_ORIGINS",
	"definitions-dir":     "SCRIPTFLOW_DEFINITIONS_DIR",
	"openai-api-key":      "OPENAI_API_KEY",
	"openai-model":        "OPENAI_MODEL",
	"twilio-webhook":      "SCRIPTFLOW_TWILIO_WEBHOOK",
	"direct-delivery":     "SCRIPTFLOW_DIRECT_DELIVERY",
	"outbox-max-attempts": "SCRIPTFLOW_OUTBOX_MAX_ATTEMPTS",
	"idle-timeout":        "SCRIPTFLOW_IDLE_TIMEOUT",
	"log-level":           "SCRIPTFLOW_LOG_LEVEL",
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("state-dir", DefaultStateDir)
	v.SetDefault("api-addr", api.DefaultAddr)
	v.SetDefault("allowed-origins", "*")
	v.SetDefault("openai-model", string(genai.DefaultModel))
	v.SetDefault("outbox-max-attempts", store.DefaultOutboxMaxAttempts)
	v.SetDefault("idle-timeout", DefaultIdleTimeout)
	v.SetDefault("log-level", "info")
	for key, env := range envBindings {
		// BindEnv only fails without a key.
		_ = v.BindEnv(key, env)
	}
	return v
}

// bindFlags binds every flag in fs whose name is a configuration key. A bool flag is
// bound only when set on the command line, so an unset switch keeps its automatic
// default.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Value.Type() == "bool" && !f.Changed {
			return
		}
		if _, ok := envBindings[f.Name]; ok && err == nil {
			err = v.BindPFlag(f.Name, f)
		}
	})
	return err
}

// loadEnvFile loads .env from the working directory when present.
func loadEnvFile() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("loadEnvFile: no .env file loaded", "error", err)
	} else {
		slog.Debug("loadEnvFile: .env file loaded")
	}
}

func loadConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to read configuration: %w", err)
	}
	slog.Debug("loadConfig: configuration resolved",
		"state_dir", cfg.StateDir,
		"database_url_set", cfg.DatabaseURL != "",
		"api_addr", cfg.APIAddr,
		"definitions_dir", cfg.DefinitionsDir,
		"openai_key_set", cfg.OpenAIKey != "",
		"outbox_max_attempts", cfg.OutboxMaxAttempts,
		"idle_timeout", cfg.IdleTimeout,
		"log_level", cfg.LogLevel)
	return cfg, nil
}

// DSN returns the store DSN: DatabaseURL, or a SQLite file in the state directory.
func (c Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return filepath.Join(c.StateDir, DefaultDBFileName)
}

// StoreOptions selects the store backend from the DSN.
func (c Config) StoreOptions() []store.Option {
	dsn := c.DSN()
	if store.DetectDSNType(dsn) == "postgres" {
		return []store.Option{store.WithPostgresDSN(dsn)}
	}
	return []store.Option{store.WithSQLiteDSN(dsn)}
}

// Origins returns the CORS origins allowed to call the API.
func (c Config) Origins() []string {
	return util.SplitList(c.AllowedOrigins)
}

// WebhookEnabled reports whether the Twilio webhook is mounted. Unset follows def.
func (c Config) WebhookEnabled(def bool) bool {
	return util.ParseBool(c.TwilioWebhook, def)
}

// Direct reports whether WhatsApp replies are sent inline instead of through the outbox.
func (c Config) Direct() bool {
	return util.ParseBool(c.DirectDelivery, false)
}

// initLogger installs a text slog handler at the configured level.
func initLogger(w io.Writer, level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
}
