package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 250, cfg.DefaultRate)
	assert.Equal(t, uint16(0x48), cfg.I2CAddress)
	assert.Equal(t, 0.5, cfg.HighpassHz)
	assert.Equal(t, 40.0, cfg.LowpassHz)
	assert.Equal(t, 3.0, cfg.DetectFactor)
	assert.Equal(t, 200*time.Millisecond, cfg.Refractory)
	assert.Equal(t, 120.0, cfg.Alerts.AFSDNNMs)
	assert.Equal(t, "ecg/session/start", cfg.StartTopic)

	d := cfg.SessionDefaults()
	assert.True(t, d.Filter)
	assert.Equal(t, 50*time.Millisecond, d.DetectParams.EnvelopeWindow)
	assert.Equal(t, 3, cfg.AnalysisParams().Alerts.LongPRCount)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("SAMPLE_RATE", "860")
	t.Setenv("I2C_ADDRESS", "0x49")
	t.Setenv("STREAM_FILTER", "false")
	t.Setenv("DETECT_REFRACTORY", "250ms")
	t.Setenv("ALERT_LOW_SDNN_MS", "40")
	t.Setenv("SOURCE", "SIM")

	cfg := FromEnv()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 860, cfg.DefaultRate)
	assert.Equal(t, uint16(0x49), cfg.I2CAddress)
	assert.False(t, cfg.StreamFilter)
	assert.Equal(t, 250*time.Millisecond, cfg.StreamParams().Refractory)
	assert.Equal(t, 40.0, cfg.Alerts.LowSDNNMs)
	assert.Equal(t, "sim", cfg.SourceKind)
}

func TestFromEnv_BadNumbersFallBack(t *testing.T) {
	t.Setenv("SAMPLE_RATE", "fast")
	t.Setenv("LOWPASS_HZ", "")
	t.Setenv("SHUTDOWN_GRACE", "soon")

	cfg := FromEnv()
	assert.Equal(t, 250, cfg.DefaultRate)
	assert.Equal(t, 40.0, cfg.LowpassHz)
	assert.Equal(t, 5*time.Second, cfg.ShutdownGrace)
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"rate":     func(c *Config) { c.DefaultRate = 0 },
		"cutoffs":  func(c *Config) { c.LowpassHz = 0.2 },
		"factor":   func(c *Config) { c.DetectFactor = 0 },
		"envelope": func(c *Config) { c.EnvelopeWindow = 0 },
		"zstd":     func(c *Config) { c.ExportZstd = 9 },
		"source":   func(c *Config) { c.SourceKind = "spi" },
		"scorer":   func(c *Config) { c.ScorerKind = "onnx" },
	} {
		cfg := FromEnv()
		mutate(cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}
