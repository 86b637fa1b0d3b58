package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/tudstk/songwriter-copilot/internal/storage"
)

// Server configures the rating service. Zero values are filled from the
// environment and then from defaults.
type Server struct {
	Addr      string
	OutputDir string
	StoreKind string
	StoreDSN  string
	RedisAddr string
	LogLevel  string
}

// ServerFromEnv reads SONGWRITER_* variables through getenv, falling back to
// defaults for anything unset.
func ServerFromEnv(getenv func(string) string) Server {
	if getenv == nil {
		getenv = os.Getenv
	}
	get := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}
	return Server{
		Addr:      get("SONGWRITER_ADDR", ":8080"),
		OutputDir: get("SONGWRITER_OUTPUT_DIR", "runs"),
		StoreKind: get("SONGWRITER_STORE", storage.DefaultStoreKind),
		StoreDSN:  get("SONGWRITER_STORE_DSN", ""),
		RedisAddr: get("SONGWRITER_REDIS_ADDR", ""),
		LogLevel:  get("SONGWRITER_LOG_LEVEL", "info"),
	}
}

// Merge returns s with every empty field taken from fallback.
func (s Server) Merge(fallback Server) Server {
	pick := func(v, f string) string {
		if v != "" {
			return v
		}
		return f
	}
	return Server{
		Addr:      pick(s.Addr, fallback.Addr),
		OutputDir: pick(s.OutputDir, fallback.OutputDir),
		StoreKind: pick(s.StoreKind, fallback.StoreKind),
		StoreDSN:  pick(s.StoreDSN, fallback.StoreDSN),
		RedisAddr: pick(s.RedisAddr, fallback.RedisAddr),
		LogLevel:  pick(s.LogLevel, fallback.LogLevel),
	}
}

func (s Server) Validate() error {
	if s.Addr == "" {
		return fmt.Errorf("%w: listen address is required", ErrInvalid)
	}
	if s.OutputDir == "" {
		return fmt.Errorf("%w: output directory is required", ErrInvalid)
	}
	switch s.StoreKind {
	case "memory":
	case "sqlite", "postgres":
		if s.StoreDSN == "" {
			return fmt.Errorf("%w: %s store needs a dsn", ErrInvalid, s.StoreKind)
		}
	default:
		return fmt.Errorf("%w: unsupported store %q", ErrInvalid, s.StoreKind)
	}
	switch strings.ToLower(s.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unsupported log level %q", ErrInvalid, s.LogLevel)
	}
	return nil
}
