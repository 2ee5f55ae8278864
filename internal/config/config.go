// Package config loads walink's JSON5 configuration file and applies
// environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/walink/internal/dispatch"
	"github.com/nextlevelbuilder/walink/internal/responders"
	"github.com/nextlevelbuilder/walink/internal/session"
)

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "WALINK_CONFIG"

type Config struct {
	Bot       BotConfig       `json:"bot"`
	Session   SessionConfig   `json:"session"`
	Store     StoreConfig     `json:"store"`
	Transport TransportConfig `json:"transport"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Server    ServerConfig    `json:"server"`
	Log       LogConfig       `json:"log"`
}

type BotConfig struct {
	Name               string   `json:"name"`
	Prefix             string   `json:"prefix"`
	ImageURL           string   `json:"image_url,omitempty"`
	Timezone           string   `json:"timezone"`
	Reactions          []string `json:"reactions,omitempty"`
	ReplyRatePerMinute int      `json:"reply_rate_per_minute,omitempty"`
}

type SessionConfig struct {
	ReconnectDelayMs int  `json:"reconnect_delay_ms"`
	MaxReconnects    int  `json:"max_reconnects"`
	ResumeOnStart    bool `json:"resume_on_start"`
	PairTimeoutMs    int  `json:"pair_timeout_ms"`
}

type StoreConfig struct {
	Backend     string `json:"backend"` // file, sqlite, postgres, redis
	Dir         string `json:"dir"`
	DSN         string `json:"dsn,omitempty"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	RedisPrefix string `json:"redis_prefix,omitempty"`
}

type TransportConfig struct {
	DeviceDir  string `json:"device_dir"`
	ClientName string `json:"client_name,omitempty"`
	LogLevel   string `json:"log_level,omitempty"`
}

type DispatchConfig struct {
	QueueSize     int `json:"queue_size"`
	SendTimeoutMs int `json:"send_timeout_ms"`
	DedupeTTLMs   int `json:"dedupe_ttl_ms"`
	DedupeSize    int `json:"dedupe_size"`
}

type ServerConfig struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	RatePerMinute int    `json:"rate_per_minute"`
	RateBurst     int    `json:"rate_burst"`
	// TrustProxy honours forwarded client IPs; only behind a reverse proxy.
	TrustProxy bool `json:"trust_proxy"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // text or json
}

// DataDir is the default root for sessions and device databases.
func DataDir() string {
	if dir := os.Getenv("WALINK_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".walink"
	}
	return filepath.Join(home, ".walink")
}

// DefaultPath is where the config file lives when WALINK_CONFIG is unset.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(DataDir(), "config.json")
}

// Default returns a config with every field set to its default.
func Default() *Config {
	data := DataDir()
	return &Config{
		Bot: BotConfig{
			Name:     "WALINK BOT",
			Prefix:   ".",
			Timezone: "Africa/Lagos",
		},
		Session: SessionConfig{
			ReconnectDelayMs: 5000,
			MaxReconnects:    5,
			ResumeOnStart:    true,
			PairTimeoutMs:    60000,
		},
		Store: StoreConfig{
			Backend:     "file",
			Dir:         filepath.Join(data, "sessions"),
			RedisPrefix: "walink",
		},
		Transport: TransportConfig{
			DeviceDir:  filepath.Join(data, "devices"),
			ClientName: "Chrome (Linux)",
			LogLevel:   "warn",
		},
		Dispatch: DispatchConfig{
			QueueSize:     64,
			SendTimeoutMs: 30000,
			DedupeTTLMs:   20 * 60 * 1000,
			DedupeSize:    5000,
		},
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          8000,
			RatePerMinute: 10,
			RateBurst:     3,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as indented JSON, replacing path atomically.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return renameio.WriteFile(path, append(data, '\n'), 0o600)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("WALINK_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("WALINK_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("WALINK_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("WALINK_REDIS_ADDR"); v != "" {
		c.Store.RedisAddr = v
	}
	if v := os.Getenv("WALINK_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate rejects settings the program cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if len([]rune(strings.TrimSpace(c.Bot.Prefix))) != 1 {
		errs = append(errs, fmt.Errorf("bot.prefix must be a single character, got %q", c.Bot.Prefix))
	}
	if c.Session.MaxReconnects < 0 {
		errs = append(errs, errors.New("session.max_reconnects must not be negative"))
	}
	if c.Session.ReconnectDelayMs < 0 {
		errs = append(errs, errors.New("session.reconnect_delay_ms must not be negative"))
	}
	switch c.Store.Backend {
	case "file", "sqlite", "postgres", "redis":
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not one of file, sqlite, postgres, redis", c.Store.Backend))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	return errors.Join(errs...)
}

func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Session.ReconnectDelayMs) * time.Millisecond
}

func (c *Config) PairTimeout() time.Duration {
	return time.Duration(c.Session.PairTimeoutMs) * time.Millisecond
}

func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.Dispatch.SendTimeoutMs) * time.Millisecond
}

func (c *Config) DedupeTTL() time.Duration {
	return time.Duration(c.Dispatch.DedupeTTLMs) * time.Millisecond
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// BotSettings converts the bot section into responder settings.
func (c *Config) BotSettings() responders.Settings {
	return responders.Settings{
		Prefix:   strings.TrimSpace(c.Bot.Prefix),
		BotName:  c.Bot.Name,
		ImageURL: c.Bot.ImageURL,
		Emojis:   c.Bot.Reactions,
		Location: responders.LoadLocation(c.Bot.Timezone),
	}
}

func (c *Config) SessionOptions() session.Options {
	return session.Options{
		Backend:     c.Store.Backend,
		Dir:         c.Store.Dir,
		DSN:         c.Store.DSN,
		RedisAddr:   c.Store.RedisAddr,
		RedisPrefix: c.Store.RedisPrefix,
	}
}

// DispatchOptions leaves Bus unset; the caller owns it.
func (c *Config) DispatchOptions() dispatch.Options {
	return dispatch.Options{
		QueueSize:   c.Dispatch.QueueSize,
		SendTimeout: c.SendTimeout(),
		DedupeTTL:   c.DedupeTTL(),
		DedupeSize:  c.Dispatch.DedupeSize,
	}
}
