package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/layer-3/pairgate/adapters/events"
	"github.com/layer-3/pairgate/adapters/store"
	"github.com/layer-3/pairgate/service"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// Config is the configuration of the pairgate server
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Redis   RedisConfig   `yaml:"redis"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Events  EventsConfig  `yaml:"events"`
	Session SessionConfig `yaml:"session"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Port      int           `yaml:"port"`
	APIKeys   []string      `yaml:"api_keys"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	// RateLimit is the sustained request rate per client IP, per second.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
	// ConnectsPerHour bounds connect requests per client IP.
	ConnectsPerHour int           `yaml:"connects_per_hour"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type RedisConfig struct {
	URL        string        `yaml:"url"`
	Prefix     string        `yaml:"prefix"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type BridgeConfig struct {
	URL string `yaml:"url"`
}

type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Topic   string `yaml:"topic"`
}

type SessionConfig struct {
	Mode            string        `yaml:"mode"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	ConnectedTTL    time.Duration `yaml:"connected_ttl"`
	PairingTimeout  time.Duration `yaml:"pairing_timeout"`
	ReconnectDelay  time.Duration `yaml:"reconnect_delay"`
	MaxReconnects   int           `yaml:"max_reconnects"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// LoadError reports a configuration file that could not be used
type LoadError struct {
	File    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Default returns the built-in configuration
func Default() Config {
	sc := service.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Port:            3000,
			TokenTTL:        12 * time.Hour,
			RateLimit:       10,
			RateBurst:       20,
			ConnectsPerHour: 100,
			ShutdownTimeout: 15 * time.Second,
		},
		Redis: RedisConfig{
			URL:        "redis://localhost:6379/0",
			Prefix:     store.DefaultPrefix,
			SessionTTL: store.DefaultSessionTTL,
		},
		Bridge: BridgeConfig{URL: "ws://localhost:8085/bridge"},
		Events: EventsConfig{Enabled: true, Topic: events.DefaultTopic},
		Session: SessionConfig{
			Mode:            string(sc.Mode),
			ResponseTimeout: sc.ResponseTimeout,
			ConnectedTTL:    sc.ConnectedTTL,
			PairingTimeout:  sc.PairingTimeout,
			ReconnectDelay:  sc.Reconnect.Delay,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the YAML file at path, if any, on top of the defaults, then applies
// environment overrides and validates the result
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, &LoadError{File: path, Message: "failed to read file", Cause: err}
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, &LoadError{File: path, Message: "failed to parse YAML", Cause: err}
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs error

	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}

	num("PORT", &c.Server.Port)
	if v, ok := lookup("API_KEYS"); ok && v != "" {
		c.Server.APIKeys = splitList(v)
	}
	str("JWT_SECRET", &c.Server.JWTSecret)
	str("REDIS_URL", &c.Redis.URL)
	str("REDIS_PREFIX", &c.Redis.Prefix)
	dur("SESSION_TTL", &c.Redis.SessionTTL)
	str("BRIDGE_URL", &c.Bridge.URL)
	str("EVENTS_TOPIC", &c.Events.Topic)
	if v, ok := lookup("EVENTS_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("EVENTS_ENABLED: %w", err))
		} else {
			c.Events.Enabled = b
		}
	}
	str("BOOTSTRAP_MODE", &c.Session.Mode)
	dur("RESPONSE_TIMEOUT", &c.Session.ResponseTimeout)
	dur("RECONNECT_DELAY", &c.Session.ReconnectDelay)
	num("MAX_RECONNECTS", &c.Session.MaxReconnects)
	str("LOG_LEVEL", &c.Log.Level)

	return errs
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate rejects configurations the server cannot start with
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if len(c.Server.APIKeys) == 0 && c.Server.JWTSecret == "" {
		return errors.New("no credentials configured: set API_KEYS or JWT_SECRET")
	}
	if c.Redis.URL == "" {
		return errors.New("redis url is required")
	}
	u, err := url.Parse(c.Bridge.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("bridge url %q must be a ws:// or wss:// URL", c.Bridge.URL)
	}
	if c.Session.MaxReconnects < 0 {
		return errors.New("max_reconnects must not be negative")
	}
	if err := c.Service().Validate(); err != nil {
		return err
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}

// Service returns the lifecycle controller configuration
func (c Config) Service() service.Config {
	return service.Config{
		Mode:            service.BootstrapMode(c.Session.Mode),
		ResponseTimeout: c.Session.ResponseTimeout,
		ConnectedTTL:    c.Session.ConnectedTTL,
		PairingTimeout:  c.Session.PairingTimeout,
		Reconnect: service.ReconnectPolicy{
			Delay:       c.Session.ReconnectDelay,
			MaxAttempts: c.Session.MaxReconnects,
		},
	}
}

// Store returns the credential store options
func (c Config) Store() store.Options {
	return store.Options{Prefix: c.Redis.Prefix, SessionTTL: c.Redis.SessionTTL}
}

// RateLimits returns the general and connect request limits per client IP
func (c Config) RateLimits() (general rate.Limit, connect rate.Limit) {
	if c.Server.RateLimit > 0 {
		general = rate.Limit(c.Server.RateLimit)
	}
	if c.Server.ConnectsPerHour > 0 {
		connect = rate.Every(time.Hour / time.Duration(c.Server.ConnectsPerHour))
	}
	return general, connect
}

// Logger builds the zap logger described by the log section
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
