// Package config provides configuration management for the service binary.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"selfserve/internal/logger"
	"selfserve/internal/scm"
	"selfserve/internal/service"
)

// EnvPath overrides the configuration file location.
const EnvPath = "SELFSERVE_CONFIG"

// Config is the root configuration structure.
type Config struct {
	ServiceName  string          `json:"ServiceName"`
	DisplayName  string          `json:"DisplayName"`
	Description  string          `json:"Description"`
	StartType    string          `json:"StartType"`    // "auto", "demand" or "disabled"
	ErrorControl string          `json:"ErrorControl"` // "ignore", "normal", "severe" or "critical"
	LockDir      string          `json:"LockDir"`      // Unix only; default /run/lock, else /var/lock or /tmp
	StopTimeout  time.Duration   `json:"StopTimeout"`  // bound for reaping a console instance
	Heartbeat    HeartbeatConfig `json:"Heartbeat"`
	Logging      logger.Config   `json:"Logging"`
}

// HeartbeatConfig configures the hosted heartbeat workload.
type HeartbeatConfig struct {
	Interval time.Duration `json:"Interval"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:  "SelfServe",
		StartType:    "auto",
		ErrorControl: "normal",
		StopTimeout:  30 * time.Second,
		Heartbeat: HeartbeatConfig{
			Interval: time.Minute,
		},
		Logging: logger.DefaultConfig(),
	}
}

// Merge overlays the non-zero fields of other onto c. The Logging booleans
// are always taken from other.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if other.ServiceName != "" {
		c.ServiceName = other.ServiceName
	}
	if other.DisplayName != "" {
		c.DisplayName = other.DisplayName
	}
	if other.Description != "" {
		c.Description = other.Description
	}
	if other.StartType != "" {
		c.StartType = other.StartType
	}
	if other.ErrorControl != "" {
		c.ErrorControl = other.ErrorControl
	}
	if other.LockDir != "" {
		c.LockDir = other.LockDir
	}
	if other.StopTimeout > 0 {
		c.StopTimeout = other.StopTimeout
	}
	if other.Heartbeat.Interval > 0 {
		c.Heartbeat.Interval = other.Heartbeat.Interval
	}
	mergeLogging(&c.Logging, other.Logging)
}

func mergeLogging(dst *logger.Config, src logger.Config) {
	if src.Level != "" {
		dst.Level = src.Level
	}
	if src.FilePath != "" {
		dst.FilePath = src.FilePath
	}
	if src.MaxSizeMB != 0 {
		dst.MaxSizeMB = src.MaxSizeMB
	}
	if src.MaxBackups != 0 {
		dst.MaxBackups = src.MaxBackups
	}
	if src.MaxAgeDays != 0 {
		dst.MaxAgeDays = src.MaxAgeDays
	}
	if src.Format != "" {
		dst.Format = src.Format
	}
	dst.Compress = src.Compress
	dst.Console = src.Console
}

// Validate checks enumerated fields.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return errors.New("ServiceName must not be empty")
	}
	if _, err := scm.ParseStartType(strings.ToLower(c.StartType)); err != nil {
		return fmt.Errorf("StartType: %w", err)
	}
	if _, err := scm.ParseErrorControl(strings.ToLower(c.ErrorControl)); err != nil {
		return fmt.Errorf("ErrorControl: %w", err)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("Logging.Format: invalid format %q", c.Logging.Format)
	}
	return nil
}

// ResolvePaths makes relative file locations absolute against baseDir.
// A service is started with an arbitrary working directory, so every path
// is anchored at the executable's directory instead.
func (c *Config) ResolvePaths(baseDir string) {
	if c.Logging.FilePath != "" && !filepath.IsAbs(c.Logging.FilePath) {
		c.Logging.FilePath = filepath.Join(baseDir, c.Logging.FilePath)
	}
	if c.LockDir != "" && !filepath.IsAbs(c.LockDir) {
		c.LockDir = filepath.Join(baseDir, c.LockDir)
	}
}

// LogDir returns the directory holding the log file.
func (c *Config) LogDir() string {
	if c.Logging.FilePath == "" {
		return "log"
	}
	return filepath.Dir(c.Logging.FilePath)
}

// ServiceConfig builds the service manager entry for binaryPath.
func (c *Config) ServiceConfig(binaryPath string) (scm.ServiceConfig, error) {
	st, err := scm.ParseStartType(strings.ToLower(c.StartType))
	if err != nil {
		return scm.ServiceConfig{}, err
	}
	ec, err := scm.ParseErrorControl(strings.ToLower(c.ErrorControl))
	if err != nil {
		return scm.ServiceConfig{}, err
	}
	display := c.DisplayName
	if display == "" {
		display = c.ServiceName
	}
	return scm.ServiceConfig{
		Name:         c.ServiceName,
		DisplayName:  display,
		Description:  c.Description,
		BinaryPath:   binaryPath,
		Environment:  []string{service.RunModeEnv + "=service"},
		StartType:    st,
		ErrorControl: ec,
	}, nil
}
