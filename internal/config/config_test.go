package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/crashguard/internal/history"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crashguard.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(PathEnv, "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Guard.QuickCrashWindow != 10*time.Second || cfg.Guard.MaxCrashCount != 3 {
		t.Fatalf("unexpected guard defaults %+v", cfg.Guard)
	}
	if cfg.Guard.Strategy != "precise" || cfg.Store.Backend != history.BackendMemory {
		t.Fatalf("unexpected defaults %+v %+v", cfg.Guard, cfg.Store)
	}
	if cfg.Store.Timeout != history.DefaultTimeout {
		t.Fatalf("expected default store timeout, got %s", cfg.Store.Timeout)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
guard:
  quickCrashWindow: 5s
  maxCrashCount: 4
  strategy: opaque
store:
  backend: sqlite
  path: /var/lib/crashguard/history.db
server:
  address: 127.0.0.1:0
logging:
  level: debug
`)
	t.Setenv("CRASHGUARD_GUARD_MAX_CRASH_COUNT", "6")
	t.Setenv("CRASHGUARD_STORE_NAMESPACE", "tenant-a")
	t.Setenv("CRASHGUARD_LOG_JSON", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Guard.QuickCrashWindow != 5*time.Second || cfg.Guard.Strategy != "opaque" {
		t.Fatalf("unexpected guard config %+v", cfg.Guard)
	}
	if cfg.Guard.MaxCrashCount != 6 {
		t.Fatalf("expected env to override maxCrashCount, got %d", cfg.Guard.MaxCrashCount)
	}
	if cfg.Store.Namespace != "tenant-a" || !cfg.Logging.JSON || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected overrides %+v %+v", cfg.Store, cfg.Logging)
	}
	opts := cfg.StoreOptions()
	if opts.Backend != history.BackendSQLite || opts.Path != "/var/lib/crashguard/history.db" {
		t.Fatalf("unexpected store options %+v", opts)
	}
}

func TestLoadPathFromEnv(t *testing.T) {
	path := writeConfig(t, "guard:\n  strategy: b\n")
	t.Setenv(PathEnv, path)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Guard.Strategy != "b" {
		t.Fatalf("expected strategy from %s, got %q", PathEnv, cfg.Guard.Strategy)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestLoadEnvError(t *testing.T) {
	t.Setenv(PathEnv, "")
	t.Setenv("CRASHGUARD_GUARD_QUICK_CRASH_WINDOW", "soon")
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"window", func(c *Config) { c.Guard.QuickCrashWindow = 0 }, "quickCrashWindow"},
		{"limit", func(c *Config) { c.Guard.MaxCrashCount = -1 }, "maxCrashCount"},
		{"strategy", func(c *Config) { c.Guard.Strategy = "guess" }, "guard.strategy"},
		{"backend", func(c *Config) { c.Store.Backend = "etcd" }, "not supported"},
		{"sqlite path", func(c *Config) { c.Store.Backend = "sqlite" }, "store.path"},
		{"redis url", func(c *Config) { c.Store.Backend = "redis" }, "store.redisURL"},
		{"restart delay", func(c *Config) { c.Supervisor.RestartDelay = -time.Second }, "restartDelay"},
	}
	for _, tc := range cases {
		cfg := defaultConfig()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error mentioning %q, got %v", tc.name, tc.want, err)
		}
	}
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
