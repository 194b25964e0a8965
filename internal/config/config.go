// Package config assembles the engine's configuration from defaults, a
// YAML document, and environment overrides (spec §6).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/r3e-network/mev-searcher/internal/errs"
)

// TradingPair is one (token_a, token_b, amount_in) scan target.
type TradingPair struct {
	TokenA  string `yaml:"token_a"`
	TokenB  string `yaml:"token_b"`
	AmountIn string `yaml:"amount_in"` // decimal string; parsed into uint256 at startup
}

// EngineConfig controls the scan/rank/dispatch cycle.
type EngineConfig struct {
	ScanIntervalMS          int64         `yaml:"scan_interval_ms" env:"ENGINE_SCAN_INTERVAL_MS"`
	MinProfitThreshold      float64       `yaml:"min_profit_threshold" env:"ENGINE_MIN_PROFIT_THRESHOLD"`
	MaxConcurrentExecutions int           `yaml:"max_concurrent_executions" env:"ENGINE_MAX_CONCURRENT_EXECUTIONS"`
	TradingPairs            []TradingPair `yaml:"trading_pairs"`
}

// ScanInterval returns ScanIntervalMS as a time.Duration.
func (e EngineConfig) ScanInterval() time.Duration {
	return time.Duration(e.ScanIntervalMS) * time.Millisecond
}

// RPCEndpointConfig describes one upstream chain endpoint.
type RPCEndpointConfig struct {
	Name              string  `yaml:"name"`
	URL               string  `yaml:"url"`
	Weight            int     `yaml:"weight"`
	TimeoutMS         int64   `yaml:"timeout_ms"`
	IsPrimary         bool    `yaml:"is_primary"`
	SupportsMempool   bool    `yaml:"supports_mempool"`
	SupportsTrace     bool    `yaml:"supports_trace"`
	MaxBlockLag       uint64  `yaml:"max_block_lag"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Timeout returns TimeoutMS as a time.Duration.
func (e RPCEndpointConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutMS) * time.Millisecond
}

// GateConfig controls the admission/congestion gate.
type GateConfig struct {
	MaxConcurrentSims       int   `yaml:"max_concurrent_sims" env:"GATE_MAX_CONCURRENT_SIMS"`
	CPUThresholdPercent     float64 `yaml:"cpu_threshold_percent" env:"GATE_CPU_THRESHOLD_PERCENT"`
	MemoryThresholdPercent  float64 `yaml:"memory_threshold_percent" env:"GATE_MEMORY_THRESHOLD_PERCENT"`
	MaxQueueSize            int   `yaml:"max_queue_size" env:"GATE_MAX_QUEUE_SIZE"`
	ResourceCheckIntervalMS int64 `yaml:"resource_check_interval_ms" env:"GATE_RESOURCE_CHECK_INTERVAL_MS"`
	SimulationTimeoutMS     int64 `yaml:"simulation_timeout_ms" env:"GATE_SIMULATION_TIMEOUT_MS"`
}

func (g GateConfig) ResourceCheckInterval() time.Duration {
	return time.Duration(g.ResourceCheckIntervalMS) * time.Millisecond
}

func (g GateConfig) SimulationTimeout() time.Duration {
	return time.Duration(g.SimulationTimeoutMS) * time.Millisecond
}

// TimeGuardConfig controls clock-drift monitoring.
type TimeGuardConfig struct {
	CheckIntervalSecs  int64 `yaml:"check_interval_secs" env:"TIMEGUARD_CHECK_INTERVAL_SECS"`
	WarningThresholdMS int64 `yaml:"warning_threshold_ms" env:"TIMEGUARD_WARNING_THRESHOLD_MS"`
	CriticalThresholdMS int64 `yaml:"critical_threshold_ms" env:"TIMEGUARD_CRITICAL_THRESHOLD_MS"`
	EmergencyThresholdMS int64 `yaml:"emergency_threshold_ms" env:"TIMEGUARD_EMERGENCY_THRESHOLD_MS"`
	MaxStratum          int   `yaml:"max_stratum" env:"TIMEGUARD_MAX_STRATUM"`
	AutoRestartSync     bool  `yaml:"auto_restart_sync" env:"TIMEGUARD_AUTO_RESTART_SYNC"`
}

func (t TimeGuardConfig) CheckInterval() time.Duration {
	return time.Duration(t.CheckIntervalSecs) * time.Second
}

// RotationConfig controls per-directory log rotation in the disk guard.
type RotationConfig struct {
	MaxSizeMB  int64 `yaml:"max_size_mb"`
	MaxFiles   int   `yaml:"max_files"`
	Compress   bool  `yaml:"compress"`
	MaxAgeDays int   `yaml:"max_age_days"`
}

// DiskGuardDirConfig is one monitored directory.
type DiskGuardDirConfig struct {
	Path           string         `yaml:"path"`
	MaxSizeMB      int64          `yaml:"max_size_mb"`
	Rotation       RotationConfig `yaml:"rotation"`
	CleanupEnabled bool           `yaml:"cleanup_enabled"`
}

// DiskGuardConfig controls the disk/log guard's usage-percent tiers and
// the monitored directory list.
type DiskGuardConfig struct {
	CheckIntervalSecs      int64                `yaml:"check_interval_secs" env:"DISKGUARD_CHECK_INTERVAL_SECS"`
	WarningPercent         float64              `yaml:"warning_percent" env:"DISKGUARD_WARNING_PERCENT"`
	CriticalPercent        float64              `yaml:"critical_percent" env:"DISKGUARD_CRITICAL_PERCENT"`
	EmergencyPercent       float64              `yaml:"emergency_percent" env:"DISKGUARD_EMERGENCY_PERCENT"`
	EmergencyReclaimTargetMB int64              `yaml:"emergency_reclaim_target_mb" env:"DISKGUARD_EMERGENCY_RECLAIM_TARGET_MB"`
	Directories            []DiskGuardDirConfig `yaml:"directories"`
}

func (d DiskGuardConfig) CheckInterval() time.Duration {
	return time.Duration(d.CheckIntervalSecs) * time.Second
}

// LoggingConfig selects the logger's level, format, and output destination.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// HTTPConfig controls the optional status/health HTTP surface.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled" env:"HTTP_ENABLED"`
	Addr    string `yaml:"addr" env:"HTTP_ADDR"`
}

// VenueConfig describes one configured on-chain venue the compatibility
// matrix may admit.
type VenueConfig struct {
	Name              string  `yaml:"name"`
	Chain             string  `yaml:"chain"`
	Active            bool    `yaml:"active"`
	SupportsFlashSwap bool    `yaml:"supports_flash_swap"`
	TWAPStability     float64 `yaml:"twap_stability"`
	GasOverhead       uint64  `yaml:"gas_overhead"`
	LiquidityScore    float64 `yaml:"liquidity_score"`
}

// LenderConfig describes one configured flash-loan source.
type LenderConfig struct {
	Name            string   `yaml:"name"`
	Chain           string   `yaml:"chain"`
	Healthy         bool     `yaml:"healthy"`
	SupportedAssets []string `yaml:"supported_assets"`
}

// AssetConfig whitelists one token symbol and caps its trade size.
type AssetConfig struct {
	Symbol      string `yaml:"symbol"`
	Whitelisted bool   `yaml:"whitelisted"`
	MaxTrade    string `yaml:"max_trade"` // decimal string, parsed into uint256 at startup
}

// MatrixConfig controls the compatibility matrix's refresh cadence and
// the static universe it is built from (spec §4.6).
type MatrixConfig struct {
	TTLSeconds int64         `yaml:"ttl_seconds" env:"MATRIX_TTL_SECONDS"`
	Venues     []VenueConfig `yaml:"venues"`
	Lenders    []LenderConfig `yaml:"lenders"`
	Assets     []AssetConfig `yaml:"assets"`
}

// TTL returns TTLSeconds as a time.Duration.
func (m MatrixConfig) TTL() time.Duration {
	return time.Duration(m.TTLSeconds) * time.Second
}

// Config is the top-level configuration document (spec §6).
type Config struct {
	Engine         EngineConfig        `yaml:"engine"`
	RPC            []RPCEndpointConfig `yaml:"rpc"`
	Gate           GateConfig          `yaml:"gate"`
	TimeGuard      TimeGuardConfig     `yaml:"time_guard"`
	DiskGuard      DiskGuardConfig     `yaml:"disk_guard"`
	Matrix         MatrixConfig        `yaml:"matrix"`
	Logging        LoggingConfig       `yaml:"logging"`
	HTTP           HTTPConfig          `yaml:"http"`
	SimulationMode bool                `yaml:"simulation_mode" env:"SIMULATION_MODE"`
}

// New returns a Config populated with spec-default values.
func New() *Config {
	return &Config{
		Engine: EngineConfig{
			ScanIntervalMS:          2000,
			MinProfitThreshold:      0.0,
			MaxConcurrentExecutions: 10,
		},
		Gate: GateConfig{
			MaxConcurrentSims:       8,
			CPUThresholdPercent:     85,
			MemoryThresholdPercent:  90,
			MaxQueueSize:            64,
			ResourceCheckIntervalMS: 5000,
			SimulationTimeoutMS:     8000,
		},
		TimeGuard: TimeGuardConfig{
			CheckIntervalSecs:    30,
			WarningThresholdMS:   10,
			CriticalThresholdMS:  50,
			EmergencyThresholdMS: 200,
			MaxStratum:           4,
			AutoRestartSync:      false,
		},
		DiskGuard: DiskGuardConfig{
			CheckIntervalSecs:        60,
			WarningPercent:           75,
			CriticalPercent:          85,
			EmergencyPercent:         95,
			EmergencyReclaimTargetMB: 100,
		},
		Matrix: MatrixConfig{
			TTLSeconds: 300,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePrefix: "searcher",
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Addr:    ":8090",
		},
		SimulationMode: true,
	}
}

// Load assembles configuration with the precedence: defaults, then a
// .env file (github.com/joho/godotenv), then a YAML document at path
// (or $CONFIG_FILE, or configs/config.yaml), then environment
// overrides (github.com/joeshaw/envdecode) — env wins.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	yamlPath := strings.TrimSpace(path)
	if yamlPath == "" {
		yamlPath = strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	}
	if yamlPath == "" {
		yamlPath = "configs/config.yaml"
	}
	if err := loadFromFile(yamlPath, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate checks the config for the conditions spec §7 kind 6 treats
// as fatal init errors.
func (c *Config) Validate() error {
	if c == nil {
		return errs.ConfigInvalid("config", "nil configuration")
	}
	if len(c.RPC) == 0 {
		return errs.MissingEndpoint()
	}
	hasPrimary := false
	names := make(map[string]bool, len(c.RPC))
	for _, e := range c.RPC {
		if strings.TrimSpace(e.Name) == "" {
			return errs.ConfigInvalid("rpc.name", "endpoint name must not be empty")
		}
		if names[e.Name] {
			return errs.ConfigInvalid("rpc.name", fmt.Sprintf("duplicate endpoint name %q", e.Name))
		}
		names[e.Name] = true
		if strings.TrimSpace(e.URL) == "" {
			return errs.ConfigInvalid("rpc.url", fmt.Sprintf("endpoint %q has no url", e.Name))
		}
		if e.Weight <= 0 {
			return errs.ConfigInvalid("rpc.weight", fmt.Sprintf("endpoint %q must have a positive weight", e.Name))
		}
		if e.IsPrimary {
			hasPrimary = true
		}
	}
	if !hasPrimary {
		return errs.ConfigInvalid("rpc.is_primary", "at least one endpoint must be marked primary")
	}
	if c.Engine.ScanIntervalMS <= 0 {
		return errs.ConfigInvalid("engine.scan_interval_ms", "must be positive")
	}
	if c.Engine.MaxConcurrentExecutions <= 0 {
		return errs.ConfigInvalid("engine.max_concurrent_executions", "must be positive")
	}
	if c.Gate.MaxConcurrentSims <= 0 {
		return errs.ConfigInvalid("gate.max_concurrent_sims", "must be positive")
	}
	if c.Gate.MaxQueueSize <= 0 {
		return errs.ConfigInvalid("gate.max_queue_size", "must be positive")
	}
	if c.Gate.CPUThresholdPercent <= 0 || c.Gate.CPUThresholdPercent > 100 {
		return errs.ConfigInvalid("gate.cpu_threshold_percent", "must be in (0, 100]")
	}
	if c.Gate.MemoryThresholdPercent <= 0 || c.Gate.MemoryThresholdPercent > 100 {
		return errs.ConfigInvalid("gate.memory_threshold_percent", "must be in (0, 100]")
	}
	if c.TimeGuard.WarningThresholdMS >= c.TimeGuard.CriticalThresholdMS ||
		c.TimeGuard.CriticalThresholdMS >= c.TimeGuard.EmergencyThresholdMS {
		return errs.ConfigInvalid("time_guard", "thresholds must be strictly increasing: warning < critical < emergency")
	}
	if c.DiskGuard.WarningPercent >= c.DiskGuard.CriticalPercent ||
		c.DiskGuard.CriticalPercent >= c.DiskGuard.EmergencyPercent {
		return errs.ConfigInvalid("disk_guard", "thresholds must be strictly increasing: warning < critical < emergency")
	}
	return nil
}
