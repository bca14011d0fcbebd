package db

import (
	"strings"
	"testing"

	"autopay-backend/internal/config"
)

func TestWithSessionTimeoutsURL(t *testing.T) {
	cfg := config.DatabaseConfig{DSN: "postgres://u:p@localhost:5432/pay?sslmode=disable", LockTimeoutMs: 5000, StatementTimeoutMs: 30000}
	got := withSessionTimeouts(cfg)
	if !strings.HasSuffix(got, "?sslmode=disable&lock_timeout=5000&statement_timeout=30000&timezone=UTC") {
		t.Fatalf("unexpected dsn %s", got)
	}

	cfg.DSN = "postgres://u:p@localhost:5432/pay"
	got = withSessionTimeouts(cfg)
	if !strings.Contains(got, "/pay?lock_timeout=5000") {
		t.Fatalf("unexpected dsn %s", got)
	}
}

func TestWithSessionTimeoutsKeywordDSN(t *testing.T) {
	cfg := config.DatabaseConfig{DSN: "host=localhost dbname=pay", LockTimeoutMs: 100, StatementTimeoutMs: 200}
	got := withSessionTimeouts(cfg)
	if got != "host=localhost dbname=pay lock_timeout=100 statement_timeout=200 timezone=UTC" {
		t.Fatalf("unexpected dsn %s", got)
	}
}

func TestDataMigrationsAreVersioned(t *testing.T) {
	seen := map[string]bool{}
	for _, m := range GetDataMigrations() {
		if m.Version == "" || m.Up == nil || m.Down == nil {
			t.Fatalf("incomplete migration %+v", m)
		}
		if seen[m.Version] {
			t.Fatalf("duplicate migration version %s", m.Version)
		}
		seen[m.Version] = true
	}
}
