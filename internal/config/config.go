package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      LoggingConfig   `yaml:"log"`
	REST     RESTConfig      `yaml:"rest"`
	Stream   StreamConfig    `yaml:"stream"`
	Entry    EntryConfig     `yaml:"entry"`
	State    StateConfig     `yaml:"state"`
	NATS     NATSConfig      `yaml:"nats"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Capture  CaptureConfig   `yaml:"capture"`
	Telegram TelegramConfig  `yaml:"telegram"`
	Accounts []AccountConfig `yaml:"accounts"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type RESTConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	RecvWindow int64         `yaml:"recv_window"`
}

type StreamConfig struct {
	URL               string        `yaml:"url"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	SessionMaxAge     time.Duration `yaml:"session_max_age"`
}

type EntryConfig struct {
	MaxRetries      int           `yaml:"max_retries"`
	FillTimeout     time.Duration `yaml:"fill_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxChasePercent float64       `yaml:"max_chase_percent"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type NATSConfig struct {
	Enabled *bool  `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

func (c NATSConfig) EnabledValue() bool {
	return c.Enabled != nil && *c.Enabled
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (c MetricsConfig) EnabledValue() bool {
	return c.Enabled != nil && *c.Enabled
}

type CaptureConfig struct {
	Enabled    bool          `yaml:"enabled"`
	DSN        string        `yaml:"dsn"`
	BufferSize int           `yaml:"buffer_size"`
	FlushEvery time.Duration `yaml:"flush_every"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`

	// Operator command polling. Commands are accepted only from the
	// configured chat, and from listed user IDs when the list is set.
	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
}

type AccountConfig struct {
	ID         string `yaml:"id"`
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	Quantity   string `yaml:"quantity"`
	Simulation bool   `yaml:"simulation"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://fapi.asterdex.com"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.REST.RecvWindow == 0 {
		cfg.REST.RecvWindow = 5000
	}
	if cfg.Stream.URL == "" {
		cfg.Stream.URL = "wss://fstream.asterdex.com"
	}
	if cfg.Stream.ReconnectDelay == 0 {
		cfg.Stream.ReconnectDelay = 5 * time.Second
	}
	if cfg.Stream.HeartbeatInterval == 0 {
		cfg.Stream.HeartbeatInterval = 3 * time.Minute
	}
	if cfg.Stream.SessionMaxAge == 0 {
		cfg.Stream.SessionMaxAge = 23 * time.Hour
	}
	if cfg.Entry.MaxRetries == 0 {
		cfg.Entry.MaxRetries = 3
	}
	if cfg.Entry.FillTimeout == 0 {
		cfg.Entry.FillTimeout = 2 * time.Second
	}
	if cfg.Entry.PollInterval == 0 {
		cfg.Entry.PollInterval = 250 * time.Millisecond
	}
	if cfg.Entry.MaxChasePercent == 0 {
		cfg.Entry.MaxChasePercent = 0.5
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/aster-fleet-bot.db"
	}
	if cfg.NATS.Enabled == nil {
		enabled := true
		cfg.NATS.Enabled = &enabled
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://127.0.0.1:4222"
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "aster.signals"
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Capture.BufferSize == 0 {
		cfg.Capture.BufferSize = 1024
	}
	if cfg.Capture.FlushEvery == 0 {
		cfg.Capture.FlushEvery = 5 * time.Second
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 3 * time.Second
	}
}

// applyEnvOverrides lets deploy environments inject secrets without
// writing them into the YAML file. Credential fields also expand
// ${VAR} references.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ASTER_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("ASTER_TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("ASTER_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("ASTER_CAPTURE_DSN"); v != "" {
		cfg.Capture.DSN = v
	}
	for i := range cfg.Accounts {
		cfg.Accounts[i].APIKey = os.ExpandEnv(cfg.Accounts[i].APIKey)
		cfg.Accounts[i].APISecret = os.ExpandEnv(cfg.Accounts[i].APISecret)
	}
}

func validate(cfg *Config) error {
	if cfg.Entry.MaxRetries < 0 {
		return errors.New("entry.max_retries must be >= 0")
	}
	if cfg.Entry.FillTimeout < 0 {
		return errors.New("entry.fill_timeout must be >= 0")
	}
	if cfg.Entry.PollInterval < 0 {
		return errors.New("entry.poll_interval must be >= 0")
	}
	if cfg.Entry.MaxChasePercent < 0 {
		return errors.New("entry.max_chase_percent must be >= 0")
	}
	if cfg.Stream.ReconnectDelay < 0 {
		return errors.New("stream.reconnect_delay must be >= 0")
	}
	if cfg.Stream.SessionMaxAge < 0 {
		return errors.New("stream.session_max_age must be >= 0")
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	if cfg.Telegram.Enabled && (cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "") {
		return errors.New("telegram.enabled requires token and chat_id")
	}
	if cfg.Telegram.OperatorEnabled && !cfg.Telegram.Enabled {
		return errors.New("telegram.operator_enabled requires telegram.enabled")
	}
	if cfg.Capture.Enabled && cfg.Capture.DSN == "" {
		return errors.New("capture.enabled requires dsn")
	}
	seen := make(map[string]struct{}, len(cfg.Accounts))
	for i, acc := range cfg.Accounts {
		if acc.ID == "" {
			return fmt.Errorf("accounts[%d].id is required", i)
		}
		if _, dup := seen[acc.ID]; dup {
			return fmt.Errorf("duplicate account id %q", acc.ID)
		}
		seen[acc.ID] = struct{}{}
		if !acc.Simulation && (acc.APIKey == "" || acc.APISecret == "") {
			return fmt.Errorf("account %q requires api_key and api_secret", acc.ID)
		}
	}
	return nil
}
