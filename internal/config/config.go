package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/miradorstack/crashguard/internal/history"
	"github.com/miradorstack/crashguard/internal/models"
)

// PathEnv names the variable consulted when no config path is given.
const PathEnv = "CRASHGUARD_CONFIG"

// Config captures every setting of the crash guard and its supervisor.
type Config struct {
	Guard      GuardConfig      `yaml:"guard" envPrefix:"GUARD_"`
	Store      StoreConfig      `yaml:"store" envPrefix:"STORE_"`
	Detector   DetectorConfig   `yaml:"detector" envPrefix:"DETECTOR_"`
	Patch      PatchConfig      `yaml:"patch" envPrefix:"PATCH_"`
	Mitigation MitigationConfig `yaml:"mitigation" envPrefix:"MITIGATION_"`
	Supervisor SupervisorConfig `yaml:"supervisor" envPrefix:"SUPERVISOR_"`
	Server     ServerConfig     `yaml:"server" envPrefix:"SERVER_"`
	Logging    LoggingConfig    `yaml:"logging" envPrefix:"LOG_"`
}

// GuardConfig controls the crash loop guard itself.
type GuardConfig struct {
	QuickCrashWindow time.Duration `yaml:"quickCrashWindow" env:"QUICK_CRASH_WINDOW"`
	MaxCrashCount    int           `yaml:"maxCrashCount" env:"MAX_CRASH_COUNT"`
	// Strategy is "precise" when the hook framework reports exact exception types, "opaque" otherwise.
	Strategy       string `yaml:"strategy" env:"STRATEGY"`
	WarningMessage string `yaml:"warningMessage" env:"WARNING_MESSAGE"`
}

// StoreConfig selects where fast crash counts are persisted.
type StoreConfig struct {
	Backend   string        `yaml:"backend" env:"BACKEND"`
	Path      string        `yaml:"path" env:"PATH"`
	RedisURL  string        `yaml:"redisURL" env:"REDIS_URL"`
	Namespace string        `yaml:"namespace" env:"NAMESPACE"`
	Timeout   time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// DetectorConfig controls hook framework signatures.
type DetectorConfig struct {
	SignaturesPath string `yaml:"signaturesPath" env:"SIGNATURES_PATH"`
}

// PatchConfig locates the patch loader's shared state.
type PatchConfig struct {
	StateFile string `yaml:"stateFile" env:"STATE_FILE"`
}

// MitigationConfig controls how peers of the crashing process are found.
type MitigationConfig struct {
	PeerPIDGlob string `yaml:"peerPIDGlob" env:"PEER_PID_GLOB"`
}

// SupervisorConfig controls child restarts.
type SupervisorConfig struct {
	RestartDelay time.Duration `yaml:"restartDelay" env:"RESTART_DELAY"`
	MaxRestarts  int           `yaml:"maxRestarts" env:"MAX_RESTARTS"`
	StderrTail   int           `yaml:"stderrTail" env:"STDERR_TAIL"`
	PIDFile      string        `yaml:"pidFile" env:"PID_FILE"`
}

// ServerConfig controls the gRPC health listener and the metrics endpoint.
type ServerConfig struct {
	Address         string        `yaml:"address" env:"ADDRESS"`
	MetricsAddress  string        `yaml:"metricsAddress" env:"METRICS_ADDRESS"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout" env:"GRACEFUL_TIMEOUT"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
	JSON  bool   `yaml:"json" env:"JSON"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(PathEnv)
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "CRASHGUARD_"}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Guard: GuardConfig{
			QuickCrashWindow: 10 * time.Second,
			MaxCrashCount:    3,
			Strategy:         string(models.StrategyPrecise),
		},
		Store: StoreConfig{
			Backend:   history.BackendMemory,
			Namespace: history.DefaultNamespace,
			Timeout:   history.DefaultTimeout,
		},
		Patch: PatchConfig{StateFile: "crashguard/patch.yaml"},
		Supervisor: SupervisorConfig{
			RestartDelay: time.Second,
			MaxRestarts:  5,
			StderrTail:   64 * 1024,
		},
		Server: ServerConfig{
			Address:         "127.0.0.1:50061",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

// Validate rejects settings the guard cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Guard.QuickCrashWindow <= 0 {
		errs = append(errs, fmt.Errorf("guard.quickCrashWindow must be positive, got %s", c.Guard.QuickCrashWindow))
	}
	if c.Guard.MaxCrashCount <= 0 {
		errs = append(errs, fmt.Errorf("guard.maxCrashCount must be positive, got %d", c.Guard.MaxCrashCount))
	}
	if _, err := models.ParseStrategy(c.Guard.Strategy); err != nil {
		errs = append(errs, fmt.Errorf("guard.strategy: %w", err))
	}
	switch strings.ToLower(strings.TrimSpace(c.Store.Backend)) {
	case "", history.BackendMemory, history.BackendNone:
	case history.BackendSQLite:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the sqlite backend"))
		}
	case history.BackendRedis:
		if c.Store.RedisURL == "" {
			errs = append(errs, errors.New("store.redisURL is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not supported", c.Store.Backend))
	}
	if c.Supervisor.RestartDelay < 0 {
		errs = append(errs, fmt.Errorf("supervisor.restartDelay must not be negative, got %s", c.Supervisor.RestartDelay))
	}
	return errors.Join(errs...)
}

// StoreOptions translates the store section for history.Open.
func (c *Config) StoreOptions() history.Options {
	return history.Options{
		Backend:   c.Store.Backend,
		Path:      c.Store.Path,
		RedisURL:  c.Store.RedisURL,
		Namespace: c.Store.Namespace,
		Timeout:   c.Store.Timeout,
	}
}
