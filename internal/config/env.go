package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
)

// Env holds process-level settings sourced from command-line flags with
// environment-variable fallbacks. Connection credentials live here rather
// than in run files so run specs stay shareable.
type Env struct {
	// Warehouse connectivity.
	DSN string // Postgres DSN for the staged loader.

	// Search-source connectivity.
	SearchURL      string // Base URL of the search cluster.
	SearchUser     string // Basic-auth username; empty disables auth.
	SearchPassword string // Basic-auth password.

	// Object-store connectivity.
	ObjstoreURL string // Base URL of the raw object store.

	// Tunables.
	HTTPTimeoutSec int    // Per-request timeout for source HTTP calls.
	LogLevel       string // zerolog level name: debug, info, warn, error.
}

// LoadEnvFromArgs builds an Env by defining flags on fs, wiring each flag
// to an environment-variable fallback via getenv, and parsing args. This is
// the most testable entry point: callers supply a private FlagSet, a getenv
// func (often backed by a map), and a synthetic arg slice.
//
// Precedence:
//  1. Environment values seed each flag's default.
//  2. Explicit CLI flags (in args) override the seeded defaults.
func LoadEnvFromArgs(fs *flag.FlagSet, getenv func(string) string, args []string) *Env {
	cfg := &Env{}

	envOrDefaultFn := func(k, d string) string {
		if v := getenv(k); v != "" {
			return v
		}
		return d
	}
	intEnvOrDefaultFn := func(k string, d int) int {
		if v := getenv(k); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				return i
			}
		}
		return d
	}

	fs.StringVar(&cfg.DSN, "dsn", getenv("DB_DSN"), "Postgres DSN for the warehouse loader")

	fs.StringVar(&cfg.SearchURL, "search_url", envOrDefaultFn("SEARCH_URL", "http://localhost:9200"), "Search cluster base URL")
	fs.StringVar(&cfg.SearchUser, "search_user", getenv("SEARCH_USER"), "Search cluster username (empty disables auth)")
	fs.StringVar(&cfg.SearchPassword, "search_password", getenv("SEARCH_PASSWORD"), "Search cluster password")

	fs.StringVar(&cfg.ObjstoreURL, "objstore_url", envOrDefaultFn("OBJSTORE_URL", "http://localhost:9000"), "Object store base URL")

	fs.IntVar(&cfg.HTTPTimeoutSec, "http_timeout", intEnvOrDefaultFn("HTTP_TIMEOUT", 60), "Per-request HTTP timeout in seconds")
	fs.StringVar(&cfg.LogLevel, "log_level", envOrDefaultFn("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	if args == nil {
		args = []string{}
	}
	_ = fs.Parse(args)
	return cfg
}

// LoadEnv is the production entry point. It wires the loader to the process
// flag set, reads environment variables via os.Getenv, and parses
// os.Args[1:].
func LoadEnv() *Env {
	return LoadEnvFromArgs(flag.CommandLine, os.Getenv, os.Args[1:])
}

// NormalizeLevel maps a level name to its canonical lowercase form,
// defaulting to "info" for unknown values.
func NormalizeLevel(level string) string {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
		return strings.ToLower(level)
	}
	return "info"
}
