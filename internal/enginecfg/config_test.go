package enginecfg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaultsWhenEnvUnset(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "devmatrix-execengine", cfg.Service.Name)
	assert.Equal(t, 16, cfg.Engine.GlobalParallelism)
	assert.Equal(t, []float64{0.7, 0.5, 0.3}, cfg.Engine.TemperatureSchedule)
	assert.Equal(t, "per_wave", cfg.Engine.GateMode)
	assert.Equal(t, 24*time.Hour, cfg.Engine.PromptCacheTTL)
}

func TestLoad_ReadsOverridesFromEnv(t *testing.T) {
	t.Setenv("ENGINE_SERVICE_NAME", "custom-engine")
	t.Setenv("ENGINE_GLOBAL_PARALLELISM", "32")
	t.Setenv("ENGINE_COST_SOFT_USD", "10")
	t.Setenv("ENGINE_COST_HARD_USD", "20")
	t.Setenv("ENGINE_GATE_MODE", "per_masterplan")
	t.Setenv("ENGINE_TEMPERATURE_SCHEDULE", "0.9,0.6,0.1")
	t.Setenv("ENGINE_ABORT_ON_CRITICAL_FAILURE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "custom-engine", cfg.Service.Name)
	assert.Equal(t, 32, cfg.Engine.GlobalParallelism)
	assert.Equal(t, 10.0, cfg.Engine.CostSoftUSD)
	assert.Equal(t, 20.0, cfg.Engine.CostHardUSD)
	assert.Equal(t, "per_masterplan", cfg.Engine.GateMode)
	assert.Equal(t, []float64{0.9, 0.6, 0.1}, cfg.Engine.TemperatureSchedule)
	assert.True(t, cfg.Engine.AbortOnCriticalFailure)
}

func TestLoad_MalformedIntFallsBackToDefault(t *testing.T) {
	t.Setenv("ENGINE_GLOBAL_PARALLELISM", "not-a-number")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Engine.GlobalParallelism)
}

func TestLoad_RejectsSoftCapAboveHardCap(t *testing.T) {
	t.Setenv("ENGINE_COST_SOFT_USD", "100")
	t.Setenv("ENGINE_COST_HARD_USD", "50")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsUnknownGateMode(t *testing.T) {
	t.Setenv("ENGINE_GATE_MODE", "per_atom")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsQueueThresholdOutOfRange(t *testing.T) {
	t.Setenv("ENGINE_QUEUE_THRESHOLD_PCT", "1.5")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate_AcceptsZeroSoftCap(t *testing.T) {
	cfg := &Config{Engine: EngineConfig{
		CostSoftUSD:       0,
		CostHardUSD:       10,
		GateMode:          "per_wave",
		QueueThresholdPct: 0.8,
	}}
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsNegativeCostCap(t *testing.T) {
	cfg := &Config{Engine: EngineConfig{
		CostSoftUSD:       -1,
		CostHardUSD:       10,
		GateMode:          "per_wave",
		QueueThresholdPct: 0.8,
	}}
	assert.Error(t, cfg.Validate())
}

func TestGetEnvAsFloatSlice_IgnoresUnparsableSegments(t *testing.T) {
	t.Setenv("ENGINE_TEMPERATURE_SCHEDULE", "0.5,garbage,0.1")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.1}, cfg.Engine.TemperatureSchedule)
}
