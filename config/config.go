package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/richinsley/comfyjob/sink"
)

const (
	DefaultServerURL    = "http://127.0.0.1:8188"
	DefaultTimeout      = 300 * time.Second
	DefaultPollInterval = time.Second
	DefaultHTTPTimeout  = 10 * time.Second
)

type Config struct {
	ServerURL    string
	Timeout      time.Duration
	PollInterval time.Duration
	HTTPTimeout  time.Duration
	// PresetFile replaces the built-in preset when set.
	PresetFile string
	LogLevel   slog.Level
	OutputDir  string
	S3         sink.S3Config
}

// Load reads the given .env files (".env" when none are named; a missing
// file is not an error) and then the COMFYJOB_* environment variables.
// Variables already set in the environment win over .env values.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	cfg := &Config{
		ServerURL:  strings.TrimRight(firstNonEmpty(env("COMFYJOB_SERVER_URL"), DefaultServerURL), "/"),
		PresetFile: env("COMFYJOB_PRESET_FILE"),
		OutputDir:  firstNonEmpty(env("COMFYJOB_OUTPUT_DIR"), "."),
		S3: sink.S3Config{
			Endpoint:  env("COMFYJOB_S3_ENDPOINT"),
			Region:    firstNonEmpty(env("COMFYJOB_S3_REGION"), "us-east-1"),
			AccessKey: env("COMFYJOB_S3_ACCESS_KEY"),
			SecretKey: env("COMFYJOB_S3_SECRET_KEY"),
			Bucket:    env("COMFYJOB_S3_BUCKET"),
			Prefix:    env("COMFYJOB_S3_PREFIX"),
		},
	}

	var err error
	if cfg.Timeout, err = duration("COMFYJOB_TIMEOUT", DefaultTimeout); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = duration("COMFYJOB_POLL_INTERVAL", DefaultPollInterval); err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("COMFYJOB_POLL_INTERVAL must be positive, got %v", cfg.PollInterval)
	}
	if cfg.HTTPTimeout, err = duration("COMFYJOB_HTTP_TIMEOUT", DefaultHTTPTimeout); err != nil {
		return nil, err
	}
	if cfg.LogLevel, err = ParseLogLevel(env("COMFYJOB_LOG_LEVEL")); err != nil {
		return nil, err
	}
	if raw := env("COMFYJOB_S3_USE_SSL"); raw != "" {
		if cfg.S3.UseSSL, err = strconv.ParseBool(raw); err != nil {
			return nil, fmt.Errorf("COMFYJOB_S3_USE_SSL: %w", err)
		}
	}
	return cfg, nil
}

// ParseLogLevel accepts debug, info, warn or error; empty means info.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("COMFYJOB_LOG_LEVEL: %w", err)
	}
	return level, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// duration accepts Go durations ("90s", "5m") or a bare number of seconds.
func duration(key string, def time.Duration) (time.Duration, error) {
	raw := env(key)
	if raw == "" {
		return def, nil
	}
	var d time.Duration
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		d = time.Duration(secs * float64(time.Second))
	} else if d, err = time.ParseDuration(raw); err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %v", key, d)
	}
	return d, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
