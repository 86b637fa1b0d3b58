package config

import (
	"errors"
	"testing"
)

func TestServerFromEnv(t *testing.T) {
	env := map[string]string{
		"SONGWRITER_ADDR":       "127.0.0.1:9000",
		"SONGWRITER_STORE":      "sqlite",
		"SONGWRITER_STORE_DSN":  "/tmp/songwriter.db",
		"SONGWRITER_REDIS_ADDR": " ",
	}
	cfg := ServerFromEnv(func(key string) string { return env[key] })
	if cfg.Addr != "127.0.0.1:9000" || cfg.StoreKind != "sqlite" || cfg.StoreDSN != "/tmp/songwriter.db" {
		t.Fatalf("unexpected server config: %+v", cfg)
	}
	if cfg.OutputDir != "runs" || cfg.LogLevel != "info" || cfg.RedisAddr != "" {
		t.Fatalf("expected defaults for unset values: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestServerMergePrefersExplicitValues(t *testing.T) {
	explicit := Server{Addr: ":7000"}
	merged := explicit.Merge(ServerFromEnv(func(string) string { return "" }))
	if merged.Addr != ":7000" || merged.StoreKind != "memory" || merged.OutputDir != "runs" {
		t.Fatalf("unexpected merge: %+v", merged)
	}
}

func TestServerValidate(t *testing.T) {
	base := ServerFromEnv(func(string) string { return "" })
	cases := []func(*Server){
		func(s *Server) { s.Addr = "" },
		func(s *Server) { s.StoreKind = "postgres" },
		func(s *Server) { s.StoreKind = "mongo" },
		func(s *Server) { s.LogLevel = "verbose" },
	}
	for i, mutate := range cases {
		cfg := base
		mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
			t.Fatalf("case %d: expected invalid config, got %v", i, err)
		}
	}
}
