package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	def := Default()
	if err := Validate(&def); err != nil {
		t.Fatalf("Default() does not validate: %v", err)
	}
	if def.Pricing.Spot != 100 || def.Pricing.Volatility != 0.2 || def.Heatmap.Size != 10 {
		t.Fatalf("unexpected defaults: %+v", def.Pricing)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
[server]
name = "pricer-test"

[server.http]
port = 9090
read_timeout = "3s"

[heatmap]
size = 20
workers = 4

[heatmap.bounds]
spot_min = "K * 0.5"
spot_max = "K * 1.5"
vol_min = "v * 0.5"
vol_max = "v * 1.5"
`)
	var cfg Config
	if err := Load(path, &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Name != "pricer-test" || cfg.Server.HTTP.Port != 9090 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Server.HTTP.ReadTimeout != 3*time.Second {
		t.Errorf("read_timeout = %v", cfg.Server.HTTP.ReadTimeout)
	}
	if cfg.Server.HTTP.WriteTimeout != 10*time.Second {
		t.Errorf("write_timeout should keep default, got %v", cfg.Server.HTTP.WriteTimeout)
	}
	if cfg.Heatmap.Size != 20 || cfg.Heatmap.Workers != 4 || cfg.Heatmap.MaxSize != 30 {
		t.Errorf("heatmap = %+v", cfg.Heatmap)
	}
	if cfg.Heatmap.Bounds.SpotMin != "K * 0.5" {
		t.Errorf("bounds = %+v", cfg.Heatmap.Bounds)
	}
	if cfg.Pricing.Strike != 100 {
		t.Errorf("pricing defaults lost: %+v", cfg.Pricing)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "[server]\nname = \"env-test\"\n")
	t.Setenv("APP_PRICING_VOLATILITY", "0.35")
	t.Setenv("APP_LOG_LEVEL", "debug")

	var cfg Config
	if err := Load(path, &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pricing.Volatility != 0.35 {
		t.Errorf("volatility = %v, want 0.35", cfg.Pricing.Volatility)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"size above max":   "[heatmap]\nsize = 50\n",
		"bad environment":  "[server]\nenvironment = \"staging\"\n",
		"bad backend":      "[ratelimit]\nbackend = \"memcached\"\n",
		"min above max":    "[heatmap]\nmin_size = 40\n",
		"empty bound expr": "[heatmap.bounds]\nvol_max = \"\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			var cfg Config
			if err := Load(writeConfig(t, body), &cfg); err == nil {
				t.Fatalf("Load accepted invalid config: %+v", cfg)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	var cfg Config
	if err := Load(filepath.Join(t.TempDir(), "missing.toml"), &cfg); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadWithoutFile(t *testing.T) {
	var cfg Config
	if err := Load("", &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Name != "bspricer" {
		t.Fatalf("expected defaults, got %+v", cfg.Server)
	}
}

func TestMaskedJSON(t *testing.T) {
	cfg := Default()
	cfg.RateLimit.Redis.Password = "hunter2"
	out, err := MaskedJSON(cfg)
	if err != nil {
		t.Fatalf("MaskedJSON: %v", err)
	}
	if strings.Contains(out, "hunter2") {
		t.Fatalf("password leaked: %s", out)
	}
	if !strings.Contains(out, "******") {
		t.Fatalf("mask marker missing: %s", out)
	}
}

func TestLoadShippedConfig(t *testing.T) {
	var cfg Config
	if err := Load("../configs/bspricer/config.toml", &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Heatmap.Workers != 4 || cfg.Log.SlowThreshold != 200*time.Millisecond {
		t.Errorf("heatmap workers = %d, slow threshold = %v", cfg.Heatmap.Workers, cfg.Log.SlowThreshold)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.Redis.Prefix != "bspricer:ratelimit:" {
		t.Errorf("ratelimit = %+v", cfg.RateLimit)
	}
}
