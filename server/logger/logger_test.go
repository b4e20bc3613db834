package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/san-kum/drowsiness-cv/server/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")

	log, err := New(config.LoggingConfig{Level: "debug", Format: "json", Output: path, MaxSize: 1})
	require.NoError(t, err)

	log.Info("model artifacts loaded")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"model artifacts loaded"`)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud", Format: "console"})
	assert.Error(t, err)
}
