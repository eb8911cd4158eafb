package guardspan

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	if err := validateConfig(DefaultConfig()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RateLimit.Window != 60*time.Second || cfg.RateLimit.Max != 100 {
		t.Fatalf("rate defaults = %v/%d, want 60s/100", cfg.RateLimit.Window, cfg.RateLimit.Max)
	}
	if cfg.Token.TTL != 24*time.Hour {
		t.Fatalf("token ttl = %v, want 24h", cfg.Token.TTL)
	}
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"window below 1s", func(c *Config) { c.RateLimit.Window = 100 * time.Millisecond }},
		{"max below 1", func(c *Config) { c.RateLimit.Max = -1 }},
		{"ttl below 1m", func(c *Config) { c.Token.TTL = 10 * time.Second }},
	}

	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(&cfg)
		if err := validateConfig(cfg); !errors.Is(err, ErrConfigInvalid) {
			t.Errorf("%s: validateConfig = %v, want ErrConfigInvalid", tc.name, err)
		}
	}
}

func TestBuildFillsZeroValues(t *testing.T) {
	engine, err := New().WithConfig(Config{}).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if engine.config.RateLimit.Window != 60*time.Second {
		t.Fatalf("window = %v, want default 60s", engine.config.RateLimit.Window)
	}
	if engine.config.Token.TTL != 24*time.Hour {
		t.Fatalf("ttl = %v, want default 24h", engine.config.Token.TTL)
	}
}

func TestBuilderSingleUse(t *testing.T) {
	b := New()
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("second Build succeeded, want error")
	}
}
