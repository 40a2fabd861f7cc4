package utils

import (
	"testing"
	"time"
)

func TestPostgresPoolConfigDefaults(t *testing.T) {
	cfg := PostgresPoolConfig{}.withDefaults()
	if cfg.MaxOpenConns <= 0 || cfg.MaxIdleConns <= 0 {
		t.Fatalf("expected positive pool sizes, got %+v", cfg)
	}
	if cfg.ConnMaxLifetime <= 0 || cfg.ConnMaxIdleTime <= 0 || cfg.PingTimeout <= 0 {
		t.Fatalf("expected positive durations, got %+v", cfg)
	}
}

func TestPostgresPoolConfigKeepsOverrides(t *testing.T) {
	cfg := PostgresPoolConfig{MaxOpenConns: 5, PingTimeout: time.Second}.withDefaults()
	if cfg.MaxOpenConns != 5 {
		t.Fatalf("expected override to survive, got %d", cfg.MaxOpenConns)
	}
	if cfg.PingTimeout != time.Second {
		t.Fatalf("expected override to survive, got %v", cfg.PingTimeout)
	}
}
