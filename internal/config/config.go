package config

import (
	"os"
	"strconv"
)

const (
	defaultPort           = "8000"
	defaultThinkingBudget = 16000
	defaultDBPath         = "agproxy.db"

	// Compiled-in OAuth client for the Antigravity IDE surface. Overridable
	// via ANTIGRAVITY_CLIENT_ID / ANTIGRAVITY_CLIENT_SECRET.
	defaultClientID     = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	defaultClientSecret = "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"
)

// Config holds all runtime options read from the environment.
type Config struct {
	Port                string
	ClientID            string
	ClientSecret        string
	DefaultRefreshToken string
	ProjectIDOverride   string
	KeepThinking        bool
	ThinkingBudget      int
	Verbose             bool
	MonitorEnabled      bool
	DBPath              string
	ModelsFile          string
}

// FromEnv builds a Config from environment variables, applying defaults.
func FromEnv() Config {
	cfg := Config{
		Port:                envOr("PORT", defaultPort),
		ClientID:            envOr("ANTIGRAVITY_CLIENT_ID", defaultClientID),
		ClientSecret:        envOr("ANTIGRAVITY_CLIENT_SECRET", defaultClientSecret),
		DefaultRefreshToken: os.Getenv("ANTIGRAVITY_REFRESH_TOKEN"),
		ProjectIDOverride:   os.Getenv("ANTIGRAVITY_PROJECT_ID"),
		KeepThinking:        os.Getenv("KEEP_THINKING") == "true",
		ThinkingBudget:      defaultThinkingBudget,
		Verbose:             os.Getenv("AGPROXY_VERBOSE") == "true",
		MonitorEnabled:      os.Getenv("AGPROXY_MONITOR") == "true",
		DBPath:              envOr("AGPROXY_DB", defaultDBPath),
		ModelsFile:          os.Getenv("AGPROXY_MODELS_FILE"),
	}

	if raw := os.Getenv("THINKING_BUDGET"); raw != "" {
		if budget, err := strconv.Atoi(raw); err == nil && budget > 0 {
			cfg.ThinkingBudget = budget
		}
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
