package app

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("HTTPAddr=%q want=%q", cfg.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Fatalf("log defaults=%q/%q want=info/json", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.MaxConnections != 10_000 || cfg.MaxPerWallet != 3 || cfg.MaxSubscriptions != 20 {
		t.Fatalf("broker caps=%d/%d/%d want 10000/3/20",
			cfg.MaxConnections, cfg.MaxPerWallet, cfg.MaxSubscriptions)
	}
	if cfg.RateLimit != 60 || cfg.RateWindow != time.Minute {
		t.Fatalf("rate limit=%d/%v want 60/1m", cfg.RateLimit, cfg.RateWindow)
	}
	if cfg.HeartbeatInterval != 21*time.Second || cfg.HeartbeatTimeout != 13*time.Second {
		t.Fatalf("heartbeat=%v/%v want 21s/13s", cfg.HeartbeatInterval, cfg.HeartbeatTimeout)
	}
	if cfg.HistoryLimit != 100 || cfg.HistoryTTL != 30*24*time.Hour {
		t.Fatalf("history=%d/%v want 100/720h", cfg.HistoryLimit, cfg.HistoryTTL)
	}
	if cfg.WhaleThreshold != 1_000_000 {
		t.Fatalf("WhaleThreshold=%d want 1000000", cfg.WhaleThreshold)
	}
	if cfg.InternalToken != "" {
		t.Fatalf("InternalToken=%q want empty", cfg.InternalToken)
	}
	if !cfg.IngressEnabled {
		t.Fatal("IngressEnabled default must be true")
	}
	if cfg.ReadinessRequireStore {
		t.Fatal("ReadinessRequireStore default must be false")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("HERALD_HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("HERALD_WS_MAX_CONNECTIONS", "250")
	t.Setenv("HERALD_WS_RATE_WINDOW", "30s")
	t.Setenv("HERALD_WHALE_THRESHOLD", "5000000")
	t.Setenv("HERALD_INGRESS_ENABLED", "false")
	t.Setenv("HERALD_INTERNAL_API_TOKEN", "s3cret")

	cfg := LoadConfig()

	if cfg.HTTPAddr != "127.0.0.1:9000" {
		t.Fatalf("HTTPAddr=%q want=%q", cfg.HTTPAddr, "127.0.0.1:9000")
	}
	if cfg.MaxConnections != 250 {
		t.Fatalf("MaxConnections=%d want=250", cfg.MaxConnections)
	}
	if cfg.RateWindow != 30*time.Second {
		t.Fatalf("RateWindow=%v want=30s", cfg.RateWindow)
	}
	if cfg.WhaleThreshold != 5_000_000 {
		t.Fatalf("WhaleThreshold=%d want=5000000", cfg.WhaleThreshold)
	}
	if cfg.IngressEnabled {
		t.Fatal("IngressEnabled must honor the override")
	}
	if cfg.InternalToken != "s3cret" {
		t.Fatalf("InternalToken=%q want=%q", cfg.InternalToken, "s3cret")
	}
}

func TestEnvHelpersIgnoreGarbage(t *testing.T) {
	t.Setenv("HERALD_TEST_INT", "not-a-number")
	t.Setenv("HERALD_TEST_DUR", "soon")
	t.Setenv("HERALD_TEST_U64", "-5")

	if got := EnvInt("HERALD_TEST_INT", 7); got != 7 {
		t.Fatalf("EnvInt fallback=%d want=7", got)
	}
	if got := EnvDuration("HERALD_TEST_DUR", time.Second); got != time.Second {
		t.Fatalf("EnvDuration fallback=%v want=1s", got)
	}
	if got := EnvUint64("HERALD_TEST_U64", 9); got != 9 {
		t.Fatalf("EnvUint64 fallback=%d want=9", got)
	}
}
