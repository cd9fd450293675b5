package config

import (
	"flag"
	"testing"
)

func loadEnvWith(env map[string]string, args []string) *Env {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	getenv := func(k string) string { return env[k] }
	return LoadEnvFromArgs(fs, getenv, args)
}

func TestLoadEnv_Defaults(t *testing.T) {
	t.Parallel()

	cfg := loadEnvWith(nil, nil)
	if cfg.SearchURL != "http://localhost:9200" {
		t.Fatalf("SearchURL = %q", cfg.SearchURL)
	}
	if cfg.ObjstoreURL != "http://localhost:9000" {
		t.Fatalf("ObjstoreURL = %q", cfg.ObjstoreURL)
	}
	if cfg.HTTPTimeoutSec != 60 {
		t.Fatalf("HTTPTimeoutSec = %d, want 60", cfg.HTTPTimeoutSec)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.DSN != "" {
		t.Fatalf("DSN = %q, want empty", cfg.DSN)
	}
}

// TestLoadEnv_Precedence verifies env values seed the defaults and CLI
// flags override them.
func TestLoadEnv_Precedence(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"DB_DSN":       "postgresql://from-env",
		"SEARCH_URL":   "http://search-env:9200",
		"HTTP_TIMEOUT": "30",
	}

	cfg := loadEnvWith(env, nil)
	if cfg.DSN != "postgresql://from-env" || cfg.SearchURL != "http://search-env:9200" {
		t.Fatalf("env seeding failed: %+v", cfg)
	}
	if cfg.HTTPTimeoutSec != 30 {
		t.Fatalf("HTTPTimeoutSec = %d, want 30", cfg.HTTPTimeoutSec)
	}

	cfg = loadEnvWith(env, []string{"-dsn=postgresql://from-flag", "-http_timeout=15"})
	if cfg.DSN != "postgresql://from-flag" {
		t.Fatalf("flag should override env: %q", cfg.DSN)
	}
	if cfg.HTTPTimeoutSec != 15 {
		t.Fatalf("HTTPTimeoutSec = %d, want 15", cfg.HTTPTimeoutSec)
	}
}

func TestLoadEnv_BadIntEnv(t *testing.T) {
	t.Parallel()

	cfg := loadEnvWith(map[string]string{"HTTP_TIMEOUT": "soon"}, nil)
	if cfg.HTTPTimeoutSec != 60 {
		t.Fatalf("HTTPTimeoutSec = %d, want default on unparsable env", cfg.HTTPTimeoutSec)
	}
}

func TestNormalizeLevel(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"debug", "debug"},
		{"WARN", "warn"},
		{"Error", "error"},
		{"verbose", "info"},
		{"", "info"},
	}
	for _, tc := range cases {
		if got := NormalizeLevel(tc.in); got != tc.want {
			t.Fatalf("NormalizeLevel(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
