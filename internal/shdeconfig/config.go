// Package shdeconfig loads and holds the tunable knobs that govern a debug session.
//
// Configuration is a global, mutex-guarded singleton loaded once per process,
// mirroring the reference orchestrator's pkg/config: callers always read a
// value copy via Get, never a pointer into the live singleton, so a config
// reload mid-session cannot race a component reading a field out from under it.
package shdeconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"shde/internal/logx"
)

// Thresholds carries every knob enumerated in the specification's
// Configuration section.
type Thresholds struct {
	ApplyThreshold      float64 `yaml:"apply_threshold"`
	RetryThreshold      float64 `yaml:"retry_threshold"`
	MaxAttempts         int     `yaml:"max_attempts"`
	MaxRetries          int     `yaml:"max_retries"`
	SessionMaxRetries   int     `yaml:"session_max_retries"`
	OraclePromptRetries int     `yaml:"oracle_prompt_retries"`
	ValidationMinScore  float64 `yaml:"validation_min_score"`
}

// DefaultThresholds returns the specification's default knob values.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ApplyThreshold:      0.75,
		RetryThreshold:      0.20,
		MaxAttempts:         3,
		MaxRetries:          3,
		SessionMaxRetries:   3,
		OraclePromptRetries: 3,
		ValidationMinScore:  0.75,
	}
}

// OracleProvider names one of the supported model providers.
type OracleProvider string

const (
	ProviderAnthropic OracleProvider = "anthropic"
	ProviderOpenAI    OracleProvider = "openai"
	ProviderOllama    OracleProvider = "ollama"
	ProviderGoogle    OracleProvider = "google"
)

// OracleConfig configures the Patch Oracle Adapter's provider chain.
type OracleConfig struct {
	Providers        []OracleProvider `yaml:"providers"`
	OllamaHost       string           `yaml:"ollama_host"`
	MaxContextTokens int              `yaml:"max_context_tokens"`
	CallTimeoutSecs  int              `yaml:"call_timeout_secs"`
}

// DefaultOracleConfig returns a two-provider default chain, matching the
// specification's "at least two providers SHOULD be configured".
func DefaultOracleConfig() OracleConfig {
	return OracleConfig{
		Providers:        []OracleProvider{ProviderAnthropic, ProviderOpenAI},
		OllamaHost:       "http://localhost:11434",
		MaxContextTokens: 4000,
		CallTimeoutSecs:  30,
	}
}

// Config is the full top-level configuration document.
type Config struct {
	DataDir    string       `yaml:"data_dir"`
	Thresholds Thresholds   `yaml:"thresholds"`
	Oracle     OracleConfig `yaml:"oracle"`
}

//nolint:gochecknoglobals // intentional process-wide singleton, guarded by mu
var (
	mu       sync.RWMutex
	current  *Config
	cfgFile  = "shde.yaml"
	cfgLog   = logx.NewLogger("shdeconfig")
)

// Default returns a Config populated entirely with compiled-in defaults,
// rooted at the given data directory.
func Default(dataDir string) Config {
	return Config{
		DataDir:    dataDir,
		Thresholds: DefaultThresholds(),
		Oracle:     DefaultOracleConfig(),
	}
}

// Load reads <dataDir>/shde.yaml, falling back to compiled-in defaults when
// the file does not exist. The loaded config becomes the process singleton.
func Load(dataDir string) (Config, error) {
	mu.Lock()
	defer mu.Unlock()

	cfg := Default(dataDir)
	path := filepath.Join(dataDir, cfgFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfgLog.Info("no config file at %s, using defaults", path)
			current = &cfg
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		cfgLog.Warn("malformed config %s, using defaults: %v", path, err)
		cfg = Default(dataDir)
		current = &cfg
		return cfg, nil
	}

	// Values omitted from the file fall back to defaults field-by-field.
	if cfg.DataDir == "" {
		cfg.DataDir = dataDir
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	if len(cfg.Oracle.Providers) == 0 {
		cfg.Oracle = DefaultOracleConfig()
	}

	current = &cfg
	return cfg, nil
}

// Get returns a copy of the current process-wide configuration.
// Panics if Load has not been called; callers must load config at startup.
func Get() Config {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		panic("shdeconfig.Load must be called before Get")
	}
	return *current
}

// Save writes the current config back to <DataDir>/shde.yaml.
func Save(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	path := filepath.Join(cfg.DataDir, cfgFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}

	current = &cfg
	return nil
}

// PatchDataDir returns <DataDir>/patch_data. It does not create the
// directory.
func (c Config) PatchDataDir() string {
	return filepath.Join(c.DataDir, "patch_data")
}

// BackupsDir returns <DataDir>/rollback_backups.
func (c Config) BackupsDir() string {
	return filepath.Join(c.DataDir, "rollback_backups")
}

// LearningDBPath returns <DataDir>/learning_db.json.
func (c Config) LearningDBPath() string {
	return filepath.Join(c.DataDir, "learning_db.json")
}

// ReportPath returns <DataDir>/debugging_report.json.
func (c Config) ReportPath() string {
	return filepath.Join(c.DataDir, "debugging_report.json")
}

// SessionStatePath returns the path used to persist a session's FSM state.
func (c Config) SessionStatePath(sessionID string) string {
	return filepath.Join(c.DataDir, fmt.Sprintf("session_%s.json", sessionID))
}
