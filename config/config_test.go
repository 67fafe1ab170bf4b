package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"stockdesk/internal/model"
	"stockdesk/pkg/kiwoom"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"APP_KEY", "SECRET_KEY", "STOCKDESK_API_URL", "STOCKDESK_DATA_DIR", "STOCKDESK_DB_PATH",
		"STOCKDESK_LISTEN_ADDR", "STOCKDESK_METRICS_ADDR", "STOCKDESK_REDIS_ADDR",
		"STOCKDESK_REDIS_PASSWORD", "STOCKDESK_LOG_LEVEL", "STOCKDESK_TIMEOUT", "STOCKDESK_DEBUG",
		"STOCKDESK_PROXY_URL", "STOCKDESK_MOCK_API", "STOCKDESK_INSECURE_TLS",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("STOCKDESK_DATA_DIR", dir)

	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIURL != defaultAPIURL {
		t.Errorf("APIURL: got %q", cfg.APIURL)
	}
	if cfg.Timeout != defaultTimeout {
		t.Errorf("Timeout: got %s", cfg.Timeout)
	}
	if cfg.DBPath != filepath.Join(dir, "stock.db") {
		t.Errorf("DBPath: got %q", cfg.DBPath)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel: got %q", cfg.LogLevel)
	}
}

func TestLoad_FileThenEnvOverride(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "stockdesk.yaml")
	yml := `
app_key: file-key
secret_key: file-secret
api_url: https://mockapi.kiwoom.com/
timeout: 3s
data_dir: ` + dir + `
log_level: DEBUG
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("APP_KEY", "env-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AppKey != "env-key" {
		t.Errorf("env should override file app key, got %q", cfg.AppKey)
	}
	if cfg.SecretKey != "file-secret" {
		t.Errorf("SecretKey: got %q", cfg.SecretKey)
	}
	if cfg.APIURL != "https://mockapi.kiwoom.com" {
		t.Errorf("trailing slash should be trimmed, got %q", cfg.APIURL)
	}
	if cfg.Timeout != 3*time.Second {
		t.Errorf("Timeout: got %s", cfg.Timeout)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel: got %q", cfg.LogLevel)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"bad url":     {"STOCKDESK_API_URL": "ftp://example.com"},
		"bad timeout": {"STOCKDESK_TIMEOUT": "soon"},
		"neg timeout": {"STOCKDESK_TIMEOUT": "-1s"},
		"bad level":   {"STOCKDESK_LOG_LEVEL": "chatty"},
		"bad proxy":   {"STOCKDESK_PROXY_URL": "not a url"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("STOCKDESK_DATA_DIR", t.TempDir())
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			var cfgErr *model.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
		})
	}
}

func TestLoad_TransportOptions(t *testing.T) {
	clearEnv(t)
	t.Setenv("STOCKDESK_DATA_DIR", t.TempDir())
	t.Setenv("STOCKDESK_MOCK_API", "true")
	t.Setenv("STOCKDESK_PROXY_URL", "http://127.0.0.1:3128")
	t.Setenv("STOCKDESK_INSECURE_TLS", "TRUE")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIURL != kiwoom.MockRootURL {
		t.Errorf("mock_api should select the mock root, got %q", cfg.APIURL)
	}
	if cfg.ProxyURL != "http://127.0.0.1:3128" || !cfg.InsecureTLS {
		t.Errorf("transport options: %+v", cfg)
	}
}

func TestRequireCredentials(t *testing.T) {
	cfg := &Config{AppKey: "k"}
	err := cfg.RequireCredentials()
	var cfgErr *model.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "secret_key" {
		t.Fatalf("expected secret_key ConfigError, got %v", err)
	}

	cfg.SecretKey = "s"
	if err := cfg.RequireCredentials(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
