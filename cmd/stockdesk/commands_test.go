package main

import (
	"errors"
	"testing"

	"stockdesk/internal/model"
)

func TestParseFields(t *testing.T) {
	got, err := parseFields([]string{"stk_cd=005930", "qry_dt=20261016", "note=a=b"})
	if err != nil {
		t.Fatal(err)
	}
	if got["stk_cd"] != "005930" || got["qry_dt"] != "20261016" || got["note"] != "a=b" {
		t.Errorf("parseFields = %v", got)
	}

	for _, bad := range []string{"stk_cd", "=x"} {
		if _, err := parseFields([]string{bad}); err == nil {
			t.Errorf("parseFields(%q) should fail", bad)
		}
	}
}

func TestCommandsHaveDistinctNames(t *testing.T) {
	seen := map[string]bool{}
	for _, c := range commands {
		if seen[c.Name()] {
			t.Errorf("duplicate command %q", c.Name())
		}
		seen[c.Name()] = true
	}
	for _, want := range []string{"serve", "login", "refresh", "search", "query", "endpoints"} {
		if !seen[want] {
			t.Errorf("missing command %q", want)
		}
	}
}

func TestLoadConfig_RequiresCredentialsForLogin(t *testing.T) {
	t.Setenv("STOCKDESK_DATA_DIR", t.TempDir())
	t.Setenv("APP_KEY", "")
	t.Setenv("SECRET_KEY", "")

	_, err := loadConfig(true)
	var cfgErr *model.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "app_key" {
		t.Fatalf("expected app_key ConfigError, got %v", err)
	}

	if _, err := loadConfig(false); err != nil {
		t.Errorf("offline commands should not need credentials: %v", err)
	}

	t.Setenv("APP_KEY", "k")
	t.Setenv("SECRET_KEY", "s")
	if _, err := loadConfig(true); err != nil {
		t.Errorf("with credentials: %v", err)
	}
}
