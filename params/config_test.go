package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	if cfg.Exchange.BaseCurrency != "DAI" {
		t.Errorf("expected DAI base currency, got %s", cfg.Exchange.BaseCurrency)
	}
	if cfg.Exchange.CompactFilled {
		t.Error("compaction should be off by default")
	}
	if len(cfg.Seed.Tokens) != 4 || cfg.Seed.Tokens[0] != "DAI" {
		t.Errorf("unexpected seed tokens %v", cfg.Seed.Tokens)
	}
	if cfg.Node.MempoolSize != 10000 || cfg.Node.DrainInterval != 100*time.Millisecond {
		t.Errorf("unexpected mempool settings %d %v", cfg.Node.MempoolSize, cfg.Node.DrainInterval)
	}
	if cfg.Seed.FeedInterval != 0 {
		t.Error("feeder should be off by default")
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	content := "BASE_CURRENCY=USDC\nSEED_TOKENS=USDC, WETH ,\nAPI_ADDR=:9999\n"
	if err := os.WriteFile(envFile, []byte(content), 0644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("API_ADDR", ":7000")
	t.Setenv("COMPACT_FILLED", "true")
	t.Setenv("SEED_AMOUNT", "250")
	t.Setenv("DRAIN_INTERVAL", "2s")
	t.Setenv("FEED_INTERVAL", "bogus")
	t.Setenv("MEMPOOL_SIZE", "-3")

	cfg := LoadFromEnv(envFile)
	t.Cleanup(func() {
		os.Unsetenv("BASE_CURRENCY")
		os.Unsetenv("SEED_TOKENS")
	})

	if cfg.Exchange.BaseCurrency != "USDC" {
		t.Errorf("expected USDC from .env, got %s", cfg.Exchange.BaseCurrency)
	}
	// real environment wins over .env
	if cfg.Node.APIAddr != ":7000" {
		t.Errorf("expected :7000, got %s", cfg.Node.APIAddr)
	}
	if !cfg.Exchange.CompactFilled {
		t.Error("expected compaction enabled")
	}
	if cfg.Seed.Amount != 250 {
		t.Errorf("expected seed amount 250, got %d", cfg.Seed.Amount)
	}
	if len(cfg.Seed.Tokens) != 2 || cfg.Seed.Tokens[1] != "WETH" {
		t.Errorf("unexpected seed tokens %v", cfg.Seed.Tokens)
	}
	if cfg.Node.DrainInterval != 2*time.Second {
		t.Errorf("expected 2s drain interval, got %v", cfg.Node.DrainInterval)
	}
	// invalid values keep defaults
	if cfg.Seed.FeedInterval != 0 || cfg.Node.MempoolSize != 10000 {
		t.Errorf("invalid overrides applied: feed=%v mempool=%d", cfg.Seed.FeedInterval, cfg.Node.MempoolSize)
	}
}
