package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesRotatedFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	logger, err := New(Options{Dir: dir, Level: "debug", Format: "json", MaxSizeMB: 1, MaxBackups: 1})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	Component(logger, "scheduler").Info("hello")

	data, err := os.ReadFile(filepath.Join(dir, "alert-dispatcher.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"scheduler"`)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestNewFallsBackToInfo(t *testing.T) {
	logger, err := New(Options{Dir: t.TempDir(), Level: "chatty"})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}
