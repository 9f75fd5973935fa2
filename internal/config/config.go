// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted at load time
const (
	EnvAPIKey      = "ZABBIX_ASSISTANT_OPENAI_API_KEY"
	EnvAPIKeyAlt   = "OPENAI_API_KEY"
	EnvBaseURL     = "ZABBIX_ASSISTANT_OPENAI_BASE_URL"
	EnvListenAddr  = "ZABBIX_ASSISTANT_LISTEN_ADDR"
	EnvDBPath      = "ZABBIX_ASSISTANT_DB_PATH"
	EnvLogLevel    = "ZABBIX_ASSISTANT_LOG_LEVEL"
	DefaultBaseURL = "https://api.openai.com/v1"
)

// CompletionConfig holds the fixed completion parameters. Callers never override these per request.
type CompletionConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	APIKey      string        `yaml:"-"` // from env only
}

// DispatcherConfig sizes the background worker pool
type DispatcherConfig struct {
	Workers       int           `yaml:"workers"`
	QueueSize     int           `yaml:"queue_size"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// LogConfig is passed through to logging.Init
type LogConfig struct {
	Format string `yaml:"format"` // "json", "console" or "auto"
	Level  string `yaml:"level"`
}

// User maps a bearer token to a caller identity
type User struct {
	ID       string `yaml:"id"`
	TokenEnv string `yaml:"token_env"` // env var name holding the token
	Token    string `yaml:"-"`         // resolved at load time
}

// Config for the assistant server
type Config struct {
	ListenAddr      string           `yaml:"listen_addr"`
	DBPath          string           `yaml:"db_path"`
	TLSCert         string           `yaml:"tls_cert"`
	TLSKey          string           `yaml:"tls_key"`
	MaxPayloadBytes int64            `yaml:"max_payload_bytes"`
	ProbeTimeout    time.Duration    `yaml:"probe_timeout"`
	Completion      CompletionConfig `yaml:"completion"`
	Dispatcher      DispatcherConfig `yaml:"dispatcher"`
	Log             LogConfig        `yaml:"log"`
	Users           []User           `yaml:"users"`
}

// Default returns a config with every tunable set
func Default() *Config {
	return &Config{
		ListenAddr:      ":8080",
		DBPath:          "zabbix-assistant.db",
		MaxPayloadBytes: 64 << 10,
		ProbeTimeout:    15 * time.Second,
		Completion: CompletionConfig{
			BaseURL:     DefaultBaseURL,
			Model:       "gpt-4.1-nano",
			MaxTokens:   500,
			Temperature: 0.7,
			Timeout:     60 * time.Second,
		},
		Dispatcher: DispatcherConfig{
			Workers:       4,
			QueueSize:     128,
			SweepInterval: 30 * time.Second,
		},
		Log: LogConfig{Format: "auto", Level: "info"},
	}
}

// Load reads the YAML file at path over the defaults, then applies .env and
// environment overrides. An empty path yields defaults plus environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("Loaded environment from .env in current directory")
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// Env overrides
	cfg.Completion.APIKey = firstNonEmpty(os.Getenv(EnvAPIKey), os.Getenv(EnvAPIKeyAlt))
	if base := os.Getenv(EnvBaseURL); base != "" {
		cfg.Completion.BaseURL = base
	}
	if addr := os.Getenv(EnvListenAddr); addr != "" {
		cfg.ListenAddr = addr
	}
	if p := os.Getenv(EnvDBPath); p != "" {
		cfg.DBPath = p
	}
	if lvl := os.Getenv(EnvLogLevel); lvl != "" {
		cfg.Log.Level = lvl
	}

	// Resolve caller tokens from env vars
	for i := range cfg.Users {
		if cfg.Users[i].TokenEnv != "" {
			cfg.Users[i].Token = os.Getenv(cfg.Users[i].TokenEnv)
		}
	}

	return cfg, nil
}

// Validate reports every problem with the config at once
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ListenAddr) == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		errs = append(errs, errors.New("tls_cert and tls_key must be set together"))
	}
	if c.Completion.MaxTokens <= 0 {
		errs = append(errs, errors.New("completion.max_tokens must be positive"))
	}
	if c.Completion.Temperature < 0 || c.Completion.Temperature > 2 {
		errs = append(errs, fmt.Errorf("completion.temperature %v out of range [0,2]", c.Completion.Temperature))
	}
	if c.Dispatcher.Workers <= 0 {
		errs = append(errs, errors.New("dispatcher.workers must be positive"))
	}
	if c.Dispatcher.QueueSize <= 0 {
		errs = append(errs, errors.New("dispatcher.queue_size must be positive"))
	}

	seen := make(map[string]bool)
	for _, u := range c.Users {
		if u.ID == "" {
			errs = append(errs, errors.New("user with empty id"))
			continue
		}
		if seen[u.ID] {
			errs = append(errs, fmt.Errorf("duplicate user id %q", u.ID))
		}
		seen[u.ID] = true
		if u.Token == "" {
			errs = append(errs, fmt.Errorf("user %q has no token (set %s)", u.ID, u.TokenEnv))
		}
	}
	return errors.Join(errs...)
}

// Tokens returns the bearer token to user id table
func (c *Config) Tokens() map[string]string {
	tokens := make(map[string]string, len(c.Users))
	for _, u := range c.Users {
		if u.Token != "" {
			tokens[u.Token] = u.ID
		}
	}
	return tokens
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
