package rdmnet

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestValidateRejectsHeartbeatOrdering(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeartbeatTimeout = cfg.HeartbeatSendInterval
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBackoffOrdering(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BackoffMax = cfg.BackoffMin - time.Millisecond
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsSmallRecvBuffer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecvBufferSize = 4
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsPooledWithoutMaxConnections(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllocStrategy = AllocPooled
	cfg.MaxConnections = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateAcceptsPooledWithMaxConnections(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllocStrategy = AllocPooled
	cfg.MaxConnections = 16
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "nonsense"
	assert.Error(t, cfg.Validate())
}

func TestLoadConfigFallsBackToDefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().HeartbeatSendInterval, cfg.HeartbeatSendInterval)
}

func TestLoadConfigAppliesEnvironmentOverride(t *testing.T) {
	t.Setenv("RDMNET_LOG_LEVEL", "debug")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestConfigSaveAndReload(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "warn"
	path := filepath.Join(t.TempDir(), "rdmnet.yaml")
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "log_level: warn")

	reloaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", reloaded.LogLevel)
}
