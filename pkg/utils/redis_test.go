package utils

import (
	"context"
	"testing"
	"time"
)

func TestRedisConfigDefaults(t *testing.T) {
	cfg := RedisConfig{Addr: "localhost:6379"}.withDefaults()
	if cfg.DialTimeout <= 0 || cfg.ReadTimeout <= 0 || cfg.WriteTimeout <= 0 {
		t.Fatalf("expected positive timeouts, got %+v", cfg)
	}
	if cfg.PoolSize <= 0 || cfg.PoolTimeout <= 0 || cfg.PingTimeout <= 0 {
		t.Fatalf("expected positive pool settings, got %+v", cfg)
	}
}

func TestAcquireConcurrencyCapValidatesInput(t *testing.T) {
	ctx := context.Background()
	if _, err := AcquireConcurrencyCap(ctx, nil, "k", 1, time.Minute); err == nil {
		t.Fatal("expected error for nil client")
	}
	if err := ReleaseConcurrencyCap(ctx, nil, "k"); err == nil {
		t.Fatal("expected error for nil client")
	}
}
