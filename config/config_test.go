package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"COMFYJOB_SERVER_URL", "COMFYJOB_TIMEOUT", "COMFYJOB_POLL_INTERVAL",
	"COMFYJOB_HTTP_TIMEOUT", "COMFYJOB_PRESET_FILE", "COMFYJOB_LOG_LEVEL",
	"COMFYJOB_OUTPUT_DIR", "COMFYJOB_S3_ENDPOINT", "COMFYJOB_S3_REGION",
	"COMFYJOB_S3_ACCESS_KEY", "COMFYJOB_S3_SECRET_KEY", "COMFYJOB_S3_BUCKET",
	"COMFYJOB_S3_USE_SSL", "COMFYJOB_S3_PREFIX",
}

// clearEnv blanks every variable Load reads. t.Setenv restores them after
// the test; godotenv treats the empty value as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	require.Equal(t, DefaultServerURL, cfg.ServerURL)
	require.Equal(t, 300*time.Second, cfg.Timeout)
	require.Equal(t, time.Second, cfg.PollInterval)
	require.Equal(t, 10*time.Second, cfg.HTTPTimeout)
	require.Equal(t, slog.LevelInfo, cfg.LogLevel)
	require.Equal(t, ".", cfg.OutputDir)
	require.Empty(t, cfg.PresetFile)
	require.Equal(t, "us-east-1", cfg.S3.Region)
	require.False(t, cfg.S3.Enabled())
}

func TestLoadFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("COMFYJOB_SERVER_URL", "http://gpu-box:8188/")
	t.Setenv("COMFYJOB_TIMEOUT", "90")
	t.Setenv("COMFYJOB_POLL_INTERVAL", "250ms")
	t.Setenv("COMFYJOB_HTTP_TIMEOUT", "2m")
	t.Setenv("COMFYJOB_LOG_LEVEL", "debug")
	t.Setenv("COMFYJOB_S3_ENDPOINT", "minio:9000")
	t.Setenv("COMFYJOB_S3_BUCKET", "images")
	t.Setenv("COMFYJOB_S3_USE_SSL", "true")
	t.Setenv("COMFYJOB_S3_PREFIX", "runs/today")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	require.Equal(t, "http://gpu-box:8188", cfg.ServerURL)
	require.Equal(t, 90*time.Second, cfg.Timeout)
	require.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	require.Equal(t, 2*time.Minute, cfg.HTTPTimeout)
	require.Equal(t, slog.LevelDebug, cfg.LogLevel)
	require.True(t, cfg.S3.Enabled())
	require.True(t, cfg.S3.UseSSL)
	require.Equal(t, "runs/today", cfg.S3.Prefix)
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"COMFYJOB_SERVER_URL=http://from-file:8188\n"+
			"COMFYJOB_OUTPUT_DIR=/tmp/images\n"+
			"COMFYJOB_PRESET_FILE=preset.json\n"), 0o644))
	t.Setenv("COMFYJOB_SERVER_URL", "http://from-env:8188")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://from-env:8188", cfg.ServerURL)
	require.Equal(t, "/tmp/images", cfg.OutputDir)
	require.Equal(t, "preset.json", cfg.PresetFile)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"COMFYJOB_TIMEOUT":       "soon",
		"COMFYJOB_POLL_INTERVAL": "0s",
		"COMFYJOB_HTTP_TIMEOUT":  "-5s",
		"COMFYJOB_LOG_LEVEL":     "chatty",
		"COMFYJOB_S3_USE_SSL":    "maybe",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			require.ErrorContains(t, err, key)
		})
	}
}
