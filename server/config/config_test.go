package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Session.Window)
	assert.Equal(t, []string{"*"}, cfg.Security.AllowedOrigins)
	assert.NoError(t, cfg.ValidateConfig(zap.NewNop()))
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("PROCESSOR_TIMEOUT", "750ms")
	t.Setenv("PROCESSOR_CACHE_RESULTS", "false")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("MODEL_VERSION", "rf-2")
	t.Setenv("LANDMARK_MAX_RETRIES", "not-a-number")

	cfg := LoadConfig()

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 750*time.Millisecond, cfg.Processor.ProcessingTimeout)
	assert.False(t, cfg.Processor.CacheResults)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Security.AllowedOrigins)
	assert.Equal(t, "rf-2", cfg.Model.Version)
	assert.Equal(t, 2, cfg.Landmark.MaxRetries)
}

func TestValidateConfigCollectsErrors(t *testing.T) {
	cfg := LoadConfig()
	cfg.Server.Port = 0
	cfg.Processor.MaxWorkers = 0
	cfg.Model.EncoderPath = ""
	cfg.Security.EnableHTTPS = true

	err := cfg.ValidateConfig(zap.NewNop())
	require.Error(t, err)

	msg := err.Error()
	for _, want := range []string{"server port", "worker", "encoder paths", "HTTPS"} {
		assert.True(t, strings.Contains(msg, want), "missing %q in %q", want, msg)
	}
}
