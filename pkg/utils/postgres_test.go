package utils

import (
	"testing"
	"time"
)

func TestPostgresPoolConfig_Defaults(t *testing.T) {
	got := PostgresPoolConfig{MaxOpenConns: 5}.withDefaults()
	if got.MaxOpenConns != 5 {
		t.Fatalf("explicit values must be kept, got %d", got.MaxOpenConns)
	}
	if got.MaxIdleConns != 2 || got.ConnMaxLifetime != 30*time.Minute || got.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected defaults: %+v", got)
	}

	got = PostgresPoolConfig{MaxOpenConns: 1, MaxIdleConns: 4}.withDefaults()
	if got.MaxIdleConns != 1 {
		t.Fatalf("idle conns must not exceed open conns, got %d", got.MaxIdleConns)
	}
}
