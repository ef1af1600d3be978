package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "yolov8", cfg.ModelFormat)
	assert.Equal(t, 100, cfg.RecentLogCapacity)
	assert.Equal(t, 0.25, cfg.DefaultConfidence)
	assert.Equal(t, 0.45, cfg.DefaultIOU)
	assert.Equal(t, 10, cfg.DefaultAlertThreshold)
	assert.Equal(t, 12*time.Hour, cfg.SessionTTL)
	assert.EqualValues(t, 200<<20, cfg.MaxUploadBytes())
	assert.EqualValues(t, 4<<30, cfg.MaxOutputDirBytes())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Debug())
}

func TestLoad_GeneratesSessionSecret(t *testing.T) {
	first, err := Load("")
	require.NoError(t, err)
	second, err := Load("")
	require.NoError(t, err)

	assert.True(t, first.SessionSecretGenerated)
	assert.Len(t, first.SessionSecret, 64)
	assert.NotEqual(t, first.SessionSecret, second.SessionSecret, "each start gets its own secret")

	t.Setenv("SESSION_SECRET", "configured-secret")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "configured-secret", cfg.SessionSecret)
	assert.False(t, cfg.SessionSecretGenerated)
}

func TestLoad_LogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Debug())

	t.Setenv("LOG_LEVEL", "verbose")
	_, err = Load("")
	assert.Error(t, err)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MODEL_FORMAT", "SSD")
	t.Setenv("DEFAULT_ALERT_THRESHOLD", "3")
	t.Setenv("RETENTION_INTERVAL", "30s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "ssd", cfg.ModelFormat)
	assert.Equal(t, 3, cfg.DefaultAlertThreshold)
	assert.Equal(t, 30*time.Second, cfg.RetentionInterval)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queuewatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 7070\nrecent_log_capacity: 5\nwebcam_fps: 2.5\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, 5, cfg.RecentLogCapacity)
	assert.Equal(t, 2.5, cfg.WebcamFPS)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{Port: 8080, ModelFormat: "yolov8", RecentLogCapacity: 10, DefaultConfidence: 0.5, DefaultIOU: 0.5, DefaultAlertThreshold: 1}
	}

	cfg := base()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.VideoWorkers, "worker counts are clamped")
	assert.Equal(t, 1, cfg.VideoFrameParallelism)
	assert.Equal(t, 1, cfg.VideoQueueSize)
	assert.Equal(t, "info", cfg.LogLevel, "empty level means info")

	for name, mutate := range map[string]func(*Config){
		"port":       func(c *Config) { c.Port = 0 },
		"format":     func(c *Config) { c.ModelFormat = "detr" },
		"capacity":   func(c *Config) { c.RecentLogCapacity = 0 },
		"confidence": func(c *Config) { c.DefaultConfidence = 1.5 },
		"iou":        func(c *Config) { c.DefaultIOU = -0.1 },
		"threshold":  func(c *Config) { c.DefaultAlertThreshold = 0 },
		"log level":  func(c *Config) { c.LogLevel = "trace" },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
