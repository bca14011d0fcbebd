package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  port: 9090\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090 got %d", cfg.Server.Port)
	}
	if cfg.Payment.ExpirySweepInterval() != time.Minute {
		t.Fatalf("expected 1m expiry sweep got %s", cfg.Payment.ExpirySweepInterval())
	}
	if cfg.Payment.ActiveWindow() != 2*time.Hour {
		t.Fatalf("expected 2h active window got %s", cfg.Payment.ActiveWindow())
	}
	if cfg.Sources.BscScan.RequiredConfirmations != 15 || cfg.Sources.BlockCypher.RequiredConfirmations != 6 {
		t.Fatalf("unexpected confirmation defaults: %+v", cfg.Sources)
	}
	if cfg.Sources.CoinEx.BaseURL != "https://api.coinex.com/v2" {
		t.Fatalf("unexpected coinex url %s", cfg.Sources.CoinEx.BaseURL)
	}
}

func TestParseCapsCoinExPageLimit(t *testing.T) {
	cfg, err := Parse([]byte("sources:\n  coinex:\n    pageLimit: 500\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Sources.CoinEx.PageLimit != 100 {
		t.Fatalf("expected page limit 100 got %d", cfg.Sources.CoinEx.PageLimit)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("DATABASE_DSN", "postgres://env")
	t.Setenv("SERVER_PORT", "7000")
	t.Setenv("BSCSCAN_BASE_URL", "http://bscscan.local/api")

	cfg, err := Parse([]byte("database:\n  dsn: postgres://file\nserver:\n  port: 9090\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Database.DSN != "postgres://env" {
		t.Fatalf("expected env dsn got %s", cfg.Database.DSN)
	}
	if cfg.Server.Port != 7000 {
		t.Fatalf("expected port 7000 got %d", cfg.Server.Port)
	}
	if cfg.Sources.BscScan.BaseURL != "http://bscscan.local/api" {
		t.Fatalf("unexpected bscscan url %s", cfg.Sources.BscScan.BaseURL)
	}
}

func TestLoadConfigSetsGlobal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("database:\n  driver: memory\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := LoadConfig(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if AppConfig == nil || AppConfig.Database.Driver != "memory" {
		t.Fatalf("expected memory driver, got %+v", AppConfig)
	}
}

func TestEnvListsAreTrimmed(t *testing.T) {
	t.Setenv("ADMIN_ALLOWED_IPS", " 10.0.0.0/8, ,192.168.1.5 ")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example")

	cfg, err := Parse([]byte("cors:\n  allowedOrigins: [\"https://file.example\"]\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Admin.AllowedIPs) != 2 || cfg.Admin.AllowedIPs[0] != "10.0.0.0/8" || cfg.Admin.AllowedIPs[1] != "192.168.1.5" {
		t.Fatalf("unexpected allowed ips %q", cfg.Admin.AllowedIPs)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "https://app.example" {
		t.Fatalf("unexpected origins %q", cfg.CORS.AllowedOrigins)
	}
	if cfg.CORS.MaxAge != 3600 {
		t.Fatalf("expected default max age 3600 got %d", cfg.CORS.MaxAge)
	}
}
