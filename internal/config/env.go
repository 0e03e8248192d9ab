package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Store backends selectable with REVISIONABLE_STORE.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Server holds process-level settings that are not part of revisionable.yaml.
type Server struct {
	Addr        string   `env:"REVISIONABLE_ADDR"         envDefault:":8080"`
	ConfigPath  string   `env:"REVISIONABLE_CONFIG_PATH"  envDefault:"."`
	Backend     string   `env:"REVISIONABLE_STORE"        envDefault:"memory"`
	CORSOrigins []string `env:"REVISIONABLE_CORS_ORIGINS" envSeparator:","`
	LogLevel    string   `env:"REVISIONABLE_LOG_LEVEL"    envDefault:"info"`
	Strict      bool     `env:"REVISIONABLE_STRICT"`
}

// ParseServer loads Server settings from the environment.
func ParseServer() (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	switch cfg.Backend {
	case BackendMemory, BackendSQLite, BackendPostgres:
	default:
		return Server{}, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
	return cfg, nil
}

// Level maps LogLevel onto a slog level, defaulting to info.
func (s Server) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
