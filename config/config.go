package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"stockdesk/internal/model"
	"stockdesk/pkg/kiwoom"
)

const (
	defaultAPIURL     = kiwoom.DefaultRootURL
	defaultListenAddr = "127.0.0.1:7420"
	defaultTimeout    = 10 * time.Second
	appDirName        = "StockDesk"
	dbFileName        = "stock.db"
)

// Config holds all application configuration. Values come from an optional
// YAML file and are then overridden by environment variables.
type Config struct {
	// Upstream credentials. May be empty; login then requires explicit keys.
	AppKey    string `yaml:"app_key"`
	SecretKey string `yaml:"secret_key"`

	APIURL  string        `yaml:"api_url"`
	MockAPI bool          `yaml:"mock_api"` // default api_url to the mock-trading root
	Timeout time.Duration `yaml:"timeout"`
	Debug   bool          `yaml:"debug"`

	// Upstream transport
	ProxyURL    string `yaml:"proxy_url"`
	InsecureTLS bool   `yaml:"insecure_tls"`

	// Local storage
	DataDir string `yaml:"data_dir"`
	DBPath  string `yaml:"db_path"`

	// Local surfaces
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"` // empty disables /metrics

	// Optional result mirror; empty RedisAddr disables it.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`

	LogLevel string `yaml:"log_level"`
}

// Load reads the YAML file at path (a missing file is fine), applies
// environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, &model.ConfigError{Field: "file", Err: fmt.Errorf("parse %s: %w", path, err)}
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, &model.ConfigError{Field: "file", Err: err}
		}
	}

	if err := overrideWithEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that would otherwise fail later in confusing ways.
// Missing credentials are not checked here; see RequireCredentials.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &model.ConfigError{Field: "api_url", Err: fmt.Errorf("invalid URL %q", c.APIURL)}
	}
	if c.ProxyURL != "" {
		p, err := url.Parse(c.ProxyURL)
		if err != nil || p.Scheme == "" || p.Host == "" {
			return &model.ConfigError{Field: "proxy_url", Err: fmt.Errorf("invalid URL %q", c.ProxyURL)}
		}
	}
	if c.Timeout <= 0 {
		return &model.ConfigError{Field: "timeout", Err: fmt.Errorf("must be positive, got %s", c.Timeout)}
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return &model.ConfigError{Field: "log_level", Err: fmt.Errorf("unknown level %q", c.LogLevel)}
	}
	if c.DBPath == "" {
		return &model.ConfigError{Field: "db_path", Err: errors.New("empty")}
	}
	return nil
}

// RequireCredentials reports a ConfigError when either key is missing.
func (c *Config) RequireCredentials() error {
	if strings.TrimSpace(c.AppKey) == "" {
		return &model.ConfigError{Field: "app_key", Err: errors.New("not set (APP_KEY)")}
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return &model.ConfigError{Field: "secret_key", Err: errors.New("not set (SECRET_KEY)")}
	}
	return nil
}

// LogDir is where the rotating log file lives.
func (c *Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

func (c *Config) applyDefaults() error {
	if c.APIURL == "" {
		c.APIURL = defaultAPIURL
		if c.MockAPI {
			c.APIURL = kiwoom.MockRootURL
		}
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
	if c.DataDir == "" {
		dir, err := defaultDataDir()
		if err != nil {
			return &model.ConfigError{Field: "data_dir", Err: err}
		}
		c.DataDir = dir
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, dbFileName)
	}
	return nil
}

// defaultDataDir resolves the per-user application directory.
func defaultDataDir() (string, error) {
	var base string
	var err error
	if runtime.GOOS == "windows" {
		base = os.Getenv("LOCALAPPDATA")
		if base == "" {
			base, err = os.UserConfigDir()
		}
	} else {
		base, err = os.UserConfigDir()
	}
	if err != nil {
		return "", err
	}
	return filepath.Join(base, appDirName), nil
}

func overrideWithEnv(cfg *Config) error {
	cfg.AppKey = getEnv("APP_KEY", cfg.AppKey)
	cfg.SecretKey = getEnv("SECRET_KEY", cfg.SecretKey)
	cfg.APIURL = getEnv("STOCKDESK_API_URL", cfg.APIURL)
	cfg.DataDir = getEnv("STOCKDESK_DATA_DIR", cfg.DataDir)
	cfg.DBPath = getEnv("STOCKDESK_DB_PATH", cfg.DBPath)
	cfg.ListenAddr = getEnv("STOCKDESK_LISTEN_ADDR", cfg.ListenAddr)
	cfg.MetricsAddr = getEnv("STOCKDESK_METRICS_ADDR", cfg.MetricsAddr)
	cfg.RedisAddr = getEnv("STOCKDESK_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("STOCKDESK_REDIS_PASSWORD", cfg.RedisPassword)
	cfg.LogLevel = getEnv("STOCKDESK_LOG_LEVEL", cfg.LogLevel)
	cfg.ProxyURL = getEnv("STOCKDESK_PROXY_URL", cfg.ProxyURL)
	if strings.EqualFold(os.Getenv("STOCKDESK_DEBUG"), "true") {
		cfg.Debug = true
	}
	if strings.EqualFold(os.Getenv("STOCKDESK_MOCK_API"), "true") {
		cfg.MockAPI = true
	}
	if strings.EqualFold(os.Getenv("STOCKDESK_INSECURE_TLS"), "true") {
		cfg.InsecureTLS = true
	}
	if v := os.Getenv("STOCKDESK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return &model.ConfigError{Field: "timeout", Err: fmt.Errorf("STOCKDESK_TIMEOUT: %w", err)}
		}
		cfg.Timeout = d
	}
	return nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
