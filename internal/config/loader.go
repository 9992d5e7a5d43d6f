package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"selfserve/internal/logger"
)

// rawConfig is used for JSON unmarshaling with duration strings.
type rawConfig struct {
	ServiceName  string             `json:"ServiceName"`
	DisplayName  string             `json:"DisplayName"`
	Description  string             `json:"Description"`
	StartType    string             `json:"StartType"`
	ErrorControl string             `json:"ErrorControl"`
	LockDir      string             `json:"LockDir"`
	StopTimeout  string             `json:"StopTimeout"`
	Heartbeat    rawHeartbeatConfig `json:"Heartbeat"`
	Logging      *rawLoggingConfig  `json:"Logging"`
}

type rawHeartbeatConfig struct {
	Interval string `json:"Interval"`
}

type rawLoggingConfig struct {
	Level      string `json:"Level"`
	FilePath   string `json:"FilePath"`
	MaxSizeMB  int    `json:"MaxSizeMB"`
	MaxBackups int    `json:"MaxBackups"`
	MaxAgeDays int    `json:"MaxAgeDays"`
	Compress   *bool  `json:"Compress"`
	Console    *bool  `json:"Console"`
	Format     string `json:"Format"`
}

// DefaultPath returns the configuration file for the executable at exe:
// the value of SELFSERVE_CONFIG when set, otherwise <exe-dir>/<exe-base>.json.
func DefaultPath(exe string) string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return strings.TrimSuffix(exe, filepath.Ext(exe)) + ".json"
}

// Load reads configuration from path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from JSON bytes.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	parsed, err := convertRawConfig(&raw)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	cfg.Merge(parsed)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func convertRawConfig(raw *rawConfig) (*Config, error) {
	cfg := &Config{
		ServiceName:  raw.ServiceName,
		DisplayName:  raw.DisplayName,
		Description:  raw.Description,
		StartType:    raw.StartType,
		ErrorControl: raw.ErrorControl,
		LockDir:      raw.LockDir,
		Logging:      logger.DefaultConfig(),
	}

	var err error
	if cfg.StopTimeout, err = parseDuration("StopTimeout", raw.StopTimeout); err != nil {
		return nil, err
	}
	if cfg.Heartbeat.Interval, err = parseDuration("Heartbeat.Interval", raw.Heartbeat.Interval); err != nil {
		return nil, err
	}
	if raw.Logging != nil {
		cfg.Logging = convertRawLogging(raw.Logging)
	}
	return cfg, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s duration: %s is negative", field, s)
	}
	return d, nil
}

// convertRawLogging overlays the fields present in raw onto the logging defaults.
func convertRawLogging(raw *rawLoggingConfig) logger.Config {
	lc := logger.DefaultConfig()
	if raw.Level != "" {
		lc.Level = raw.Level
	}
	if raw.FilePath != "" {
		lc.FilePath = raw.FilePath
	}
	if raw.MaxSizeMB != 0 {
		lc.MaxSizeMB = raw.MaxSizeMB
	}
	if raw.MaxBackups != 0 {
		lc.MaxBackups = raw.MaxBackups
	}
	if raw.MaxAgeDays != 0 {
		lc.MaxAgeDays = raw.MaxAgeDays
	}
	if raw.Format != "" {
		lc.Format = raw.Format
	}
	if raw.Compress != nil {
		lc.Compress = *raw.Compress
	}
	if raw.Console != nil {
		lc.Console = *raw.Console
	}
	return lc
}
