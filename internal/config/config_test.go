package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/mev-searcher/internal/errs"
)

func validConfig() *Config {
	cfg := New()
	cfg.RPC = []RPCEndpointConfig{
		{Name: "primary", URL: "https://rpc.example/a", Weight: 100, IsPrimary: true},
		{Name: "secondary", URL: "https://rpc.example/b", Weight: 80},
	}
	return cfg
}

func TestNewDefaults(t *testing.T) {
	cfg := New()
	assert.EqualValues(t, 2000, cfg.Engine.ScanIntervalMS)
	assert.Equal(t, 8, cfg.Gate.MaxConcurrentSims)
	assert.Equal(t, int64(5000), cfg.Gate.ResourceCheckIntervalMS)
	assert.True(t, cfg.SimulationMode)
}

func TestValidateRequiresEndpoints(t *testing.T) {
	cfg := New()
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrCodeMissingEndpoint))
}

func TestValidateRequiresPrimary(t *testing.T) {
	cfg := New()
	cfg.RPC = []RPCEndpointConfig{{Name: "a", URL: "https://x", Weight: 1}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrCodeConfigInvalid))
}

func TestValidateRejectsDuplicateNames(t *testing.T) {
	cfg := validConfig()
	cfg.RPC = append(cfg.RPC, RPCEndpointConfig{Name: "primary", URL: "https://dup", Weight: 1})
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestValidateRejectsBadThresholdOrdering(t *testing.T) {
	cfg := validConfig()
	cfg.TimeGuard.WarningThresholdMS = 100
	cfg.TimeGuard.CriticalThresholdMS = 50
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "time_guard")
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestScanIntervalConversion(t *testing.T) {
	e := EngineConfig{ScanIntervalMS: 2500}
	assert.Equal(t, int64(2500), e.ScanInterval().Milliseconds())
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := `
engine:
  scan_interval_ms: 1500
  max_concurrent_executions: 4
rpc:
  - name: primary
    url: https://rpc.example/a
    weight: 100
    is_primary: true
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, 1500, cfg.Engine.ScanIntervalMS)
	assert.Equal(t, 4, cfg.Engine.MaxConcurrentExecutions)
	require.Len(t, cfg.RPC, 1)
	assert.Equal(t, "primary", cfg.RPC[0].Name)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.EqualValues(t, 2000, cfg.Engine.ScanIntervalMS)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  scan_interval_ms: 1500\n"), 0o644))

	t.Setenv("ENGINE_SCAN_INTERVAL_MS", "777")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, 777, cfg.Engine.ScanIntervalMS)
}
