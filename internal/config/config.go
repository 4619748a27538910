package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattyg/ui-common-library/pkg/logger"
)

const (
	// TransportDirect talks to a conductor app interface over a websocket.
	TransportDirect = "direct"
	// TransportHosted goes through the hosted gateway.
	TransportHosted = "hosted"

	defaultAppWSURL = "ws://localhost:8888"
	configFileName  = "config.yaml"
)

type Config struct {
	// Home is the directory where happclient keeps local state.
	Home string
	// AppID is the installed app id used for app info lookups.
	AppID string
	// AppWSURL is the conductor app interface URL.
	AppWSURL string
	// Transport selects the connection container (direct|hosted).
	Transport string

	// HostedURL is the hosted gateway base URL.
	HostedURL string
	// HappID identifies the hosted app.
	HappID string
	// HostedMock replaces the hosted gateway with an in-process stand-in.
	HostedMock bool

	// SigningKey is the path to the zome call signing seed.
	SigningKey string
	// SessionFile is the path to the saved hosted session token.
	SessionFile string

	// LogLevel is the minimum log level.
	LogLevel string
	// Debug enables verbose logging.
	Debug bool
	// MetricsAddr serves Prometheus metrics when set.
	MetricsAddr string
}

// fileConfig is the on-disk shape of config.yaml. Unset fields keep their
// defaults.
type fileConfig struct {
	AppID       string `yaml:"app_id"`
	AppWSURL    string `yaml:"app_ws_url"`
	Transport   string `yaml:"transport"`
	HostedURL   string `yaml:"hosted_url"`
	HappID      string `yaml:"happ_id"`
	HostedMock  *bool  `yaml:"hosted_mock"`
	SigningKey  string `yaml:"signing_key"`
	SessionFile string `yaml:"session_file"`
	LogLevel    string `yaml:"log_level"`
	Debug       *bool  `yaml:"debug"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Load loads configuration from defaults, then $HAPP_HOME/config.yaml, then
// the environment.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	home := getenvFirst("HAPP_HOME", "HC_HOME")
	if home == "" {
		home = filepath.Join(homeDir, ".happclient")
	}
	if err := os.MkdirAll(home, 0700); err != nil {
		return nil, fmt.Errorf("failed to create happclient home: %w", err)
	}

	cfg := &Config{
		Home:        home,
		AppWSURL:    defaultAppWSURL,
		Transport:   TransportDirect,
		SigningKey:  filepath.Join(home, "signing.key"),
		SessionFile: filepath.Join(home, "session.token"),
		LogLevel:    "info",
	}

	if err := cfg.loadFile(filepath.Join(home, configFileName)); err != nil {
		return nil, err
	}
	cfg.loadEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportDirect:
		if c.AppWSURL == "" {
			return fmt.Errorf("HAPP_APP_WS_URL is required for the direct transport")
		}
	case TransportHosted:
		if c.HostedURL == "" && !c.HostedMock {
			return fmt.Errorf("HAPP_HOSTED_URL is required for the hosted transport")
		}
	default:
		return fmt.Errorf("invalid HAPP_TRANSPORT %q (expected direct or hosted)", c.Transport)
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid HAPP_LOG_LEVEL: %w", err)
	}
	return nil
}

// Level returns the effective log level. Debug lowers it to debug.
func (c *Config) Level() logger.Level {
	level, _ := logger.ParseLevel(c.LogLevel)
	if c.Debug && level > logger.LevelDebug {
		return logger.LevelDebug
	}
	return level
}

// Save writes the current settings to config.yaml in Home.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.Home, 0700); err != nil {
		return fmt.Errorf("failed to create happclient home: %w", err)
	}

	mock, debug := c.HostedMock, c.Debug
	data, err := yaml.Marshal(fileConfig{
		AppID:       c.AppID,
		AppWSURL:    c.AppWSURL,
		Transport:   c.Transport,
		HostedURL:   c.HostedURL,
		HappID:      c.HappID,
		HostedMock:  &mock,
		SigningKey:  c.SigningKey,
		SessionFile: c.SessionFile,
		LogLevel:    c.LogLevel,
		Debug:       &debug,
		MetricsAddr: c.MetricsAddr,
	})
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(filepath.Join(c.Home, configFileName), data, 0600)
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	setString(&c.AppID, fc.AppID)
	setString(&c.AppWSURL, fc.AppWSURL)
	setString(&c.Transport, fc.Transport)
	setString(&c.HostedURL, fc.HostedURL)
	setString(&c.HappID, fc.HappID)
	setString(&c.SigningKey, fc.SigningKey)
	setString(&c.SessionFile, fc.SessionFile)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.MetricsAddr, fc.MetricsAddr)
	if fc.HostedMock != nil {
		c.HostedMock = *fc.HostedMock
	}
	if fc.Debug != nil {
		c.Debug = *fc.Debug
	}
	return nil
}

func (c *Config) loadEnv() {
	setString(&c.AppID, getenvFirst("HAPP_APP_ID", "HC_APP_ID"))
	setString(&c.AppWSURL, getenvFirst("HAPP_APP_WS_URL", "HC_APP_WS_URL"))
	setString(&c.Transport, strings.ToLower(getenvFirst("HAPP_TRANSPORT", "HC_TRANSPORT")))
	setString(&c.HostedURL, getenvFirst("HAPP_HOSTED_URL", "HC_HOSTED_URL"))
	setString(&c.HappID, getenvFirst("HAPP_HAPP_ID", "HC_HAPP_ID"))
	setString(&c.SigningKey, getenvFirst("HAPP_SIGNING_KEY", "HC_SIGNING_KEY"))
	setString(&c.SessionFile, getenvFirst("HAPP_SESSION_FILE", "HC_SESSION_FILE"))
	setString(&c.LogLevel, getenvFirst("HAPP_LOG_LEVEL", "HC_LOG_LEVEL"))
	setString(&c.MetricsAddr, getenvFirst("HAPP_METRICS_ADDR", "HC_METRICS_ADDR"))

	if v := getenvFirst("HAPP_HOSTED_MOCK", "HC_HOSTED_MOCK"); v != "" {
		c.HostedMock = isTrue(v)
	}
	if os.Getenv("DEBUG") != "" {
		c.Debug = isTrue(os.Getenv("DEBUG"))
	}
	if v := getenvFirst("HAPP_DEBUG", "HC_DEBUG"); v != "" {
		c.Debug = isTrue(v)
	}
}

func setString(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}

func isTrue(v string) bool {
	return v == "true" || v == "1"
}

func getenvFirst(primary, fallback string) string {
	if val := os.Getenv(primary); val != "" {
		return val
	}
	return os.Getenv(fallback)
}
