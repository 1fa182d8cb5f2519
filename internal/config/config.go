// Package config provides YAML-based configuration loading for the session
// client. Values from the file can be overridden from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	session "github.com/koscakluka/ema-session/core"
	"github.com/koscakluka/ema-session/core/dedup"
	"github.com/koscakluka/ema-session/core/events"
	"github.com/koscakluka/ema-session/core/socket"
	"github.com/koscakluka/ema-session/internal/utils"
	"gopkg.in/yaml.v3"
)

const (
	EnvServerURL = "EMA_SERVER_URL"
	EnvAPIKey    = "EMA_API_KEY"

	DefaultServerURL = "http://localhost:5000/ws"
)

// Config is the top-level client configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ServerConfig holds the connection settings of the agent server.
type ServerConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	// HandshakeTimeout bounds the connection handshake, 0 waits for the
	// caller's context only.
	HandshakeTimeout *time.Duration `yaml:"handshake_timeout"`
	// PingInterval is how often the connection is checked, 0 disables the
	// check.
	PingInterval *time.Duration `yaml:"ping_interval"`
}

type SessionConfig struct {
	ResponseFormat string `yaml:"response_format"`
	// DedupSize bounds the remembered turn fingerprints, 0 keeps all of them.
	DedupSize *int          `yaml:"dedup_size"`
	DedupTTL  time.Duration `yaml:"dedup_ttl"`
}

type ReconnectConfig struct {
	Enabled     *bool         `yaml:"enabled"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts uint64        `yaml:"max_attempts"`
}

// Load reads a YAML config file from path and returns a validated Config. An
// empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Parse(nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config, applying environment
// overrides.
func Parse(data []byte) (*Config, error) {
	return parse(data, os.LookupEnv)
}

func parse(data []byte, lookupEnv func(string) (string, bool)) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv(lookupEnv)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookupEnv func(string) (string, bool)) {
	if serverURL, ok := lookupEnv(EnvServerURL); ok && strings.TrimSpace(serverURL) != "" {
		c.Server.URL = strings.TrimSpace(serverURL)
	}
	if apiKey, ok := lookupEnv(EnvAPIKey); ok {
		c.Server.APIKey = strings.TrimSpace(apiKey)
	}
}

// applyDefaults fills in default values.
func (c *Config) applyDefaults() {
	if c.Server.URL == "" {
		c.Server.URL = DefaultServerURL
	}
	if c.Server.HandshakeTimeout == nil {
		c.Server.HandshakeTimeout = utils.Ptr(socket.DefaultHandshakeTimeout)
	}
	if c.Server.PingInterval == nil {
		c.Server.PingInterval = utils.Ptr(socket.DefaultPingInterval)
	}
	if c.Session.ResponseFormat == "" {
		c.Session.ResponseFormat = events.ResponseFormatText
	}
	if c.Session.DedupSize == nil {
		c.Session.DedupSize = utils.Ptr(dedup.DefaultSize)
	}

	defaults := session.DefaultReconnectPolicy()
	if c.Reconnect.Enabled == nil {
		c.Reconnect.Enabled = utils.Ptr(defaults.Enabled)
	}
	if c.Reconnect.BaseDelay == 0 {
		c.Reconnect.BaseDelay = defaults.BaseDelay
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = defaults.MaxDelay
	}
}

// Validate checks that all fields are present and consistent. Callers that
// change a loaded Config validate it again before use.
func (c *Config) Validate() error {
	var errs []string
	if endpoint, err := url.Parse(c.Server.URL); err != nil {
		errs = append(errs, fmt.Sprintf("server.url is invalid: %v", err))
	} else {
		switch endpoint.Scheme {
		case "http", "https", "ws", "wss":
		default:
			errs = append(errs, fmt.Sprintf("server.url has unsupported scheme %q", endpoint.Scheme))
		}
	}
	if utils.Deref(c.Server.HandshakeTimeout, 0) < 0 {
		errs = append(errs, "server.handshake_timeout must not be negative")
	}
	if utils.Deref(c.Server.PingInterval, 0) < 0 {
		errs = append(errs, "server.ping_interval must not be negative")
	}
	switch c.Session.ResponseFormat {
	case events.ResponseFormatText, events.ResponseFormatAudio, events.ResponseFormatBoth:
	default:
		errs = append(errs, fmt.Sprintf("session.response_format %q is not one of text, audio, both", c.Session.ResponseFormat))
	}
	if utils.Deref(c.Session.DedupSize, 0) < 0 {
		errs = append(errs, "session.dedup_size must not be negative")
	}
	if c.Session.DedupTTL < 0 {
		errs = append(errs, "session.dedup_ttl must not be negative")
	}
	if c.Reconnect.BaseDelay < 0 || c.Reconnect.MaxDelay < 0 {
		errs = append(errs, "reconnect delays must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Dialer builds the websocket dialer for the configured server.
func (c *Config) Dialer() *socket.Dialer {
	return socket.NewDialer(c.Server.URL,
		socket.WithAPIKey(c.Server.APIKey),
		socket.WithHandshakeTimeout(utils.Deref(c.Server.HandshakeTimeout, socket.DefaultHandshakeTimeout)),
		socket.WithPingInterval(utils.Deref(c.Server.PingInterval, socket.DefaultPingInterval)),
	)
}

func (c *Config) ReconnectPolicy() session.ReconnectPolicy {
	return session.ReconnectPolicy{
		Enabled:     utils.Deref(c.Reconnect.Enabled, true),
		BaseDelay:   c.Reconnect.BaseDelay,
		MaxDelay:    c.Reconnect.MaxDelay,
		MaxAttempts: c.Reconnect.MaxAttempts,
	}
}

// SessionOptions translates the configuration into session options. The
// dialer connects to the configured server.
func (c *Config) SessionOptions() []session.SessionOption {
	return []session.SessionOption{
		session.WithDialer(c.Dialer()),
		session.WithReconnectPolicy(c.ReconnectPolicy()),
		session.WithDedupCache(utils.Deref(c.Session.DedupSize, dedup.DefaultSize), c.Session.DedupTTL),
		session.WithResponseFormat(c.Session.ResponseFormat),
	}
}
