// Package config handles configuration for autosdk.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/autosdk/pkg/core"
)

// Config represents the workspace configuration (config.yaml or config.toml).
type Config struct {
	Host  HostConfig  `yaml:"host" toml:"host"`
	Click ClickConfig `yaml:"click" toml:"click"`
	Tap   TapConfig   `yaml:"tap" toml:"tap"`
	Watch WatchConfig `yaml:"watch" toml:"watch"`
	Log   LogConfig   `yaml:"log" toml:"log"`
}

// HostConfig selects and addresses the UI host.
type HostConfig struct {
	Driver        string `yaml:"driver" toml:"driver"`               // uiautomator2 or mock
	Serial        string `yaml:"serial" toml:"serial"`               // adb device serial
	Socket        string `yaml:"socket" toml:"socket"`               // unix socket of the server
	Port          int    `yaml:"port" toml:"port"`                   // server port on the device
	AppID         string `yaml:"appId" toml:"appId"`                 // package owning the accessibility service
	HierarchyFile string `yaml:"hierarchyFile" toml:"hierarchyFile"` // mock driver input
	Service       string `yaml:"service" toml:"service"`             // accessibility service component
	AVD           string `yaml:"avd" toml:"avd"`                     // emulator to boot when no device is attached
}

// ClickConfig is the duration window of gesture clicks.
type ClickConfig struct {
	MinDurationMs int `yaml:"minDurationMs" toml:"minDurationMs"`
	MaxDurationMs int `yaml:"maxDurationMs" toml:"maxDurationMs"`
}

// TapConfig is the press duration of raw taps.
type TapConfig struct {
	DurationMs int `yaml:"durationMs" toml:"durationMs"`
}

// WatchConfig controls page source polling.
type WatchConfig struct {
	IntervalMs int `yaml:"intervalMs" toml:"intervalMs"`
}

// LogConfig controls the log file.
type LogConfig struct {
	Path  string `yaml:"path" toml:"path"`
	Level string `yaml:"level" toml:"level"`
}

// Driver names.
const (
	DriverUIAutomator2 = "uiautomator2"
	DriverMock         = "mock"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Host: HostConfig{
			Driver: DriverUIAutomator2,
			Port:   6790,
		},
		Click: ClickConfig{MinDurationMs: 1, MaxDurationMs: 200},
		Tap:   TapConfig{DurationMs: 100},
		Watch: WatchConfig{IntervalMs: 500},
		Log:   LogConfig{Level: "info"},
	}
}

// Load loads configuration from a file on top of Default. Files ending in
// .toml are read as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, core.ErrInvalidConfig.WithCause(fmt.Errorf("%s: %w", path, err))
	}

	return cfg, nil
}

// LoadFromDir looks for config.yaml, config.yml or config.toml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range []string{"config.yaml", "config.yml", "config.toml"} {
		configPath := filepath.Join(dir, name)
		if _, err := os.Stat(configPath); err == nil {
			return Load(configPath)
		}
	}

	// No config file found, return defaults
	return Default(), nil
}

// Validate checks value ranges and the driver name.
func (c *Config) Validate() error {
	switch c.Host.Driver {
	case DriverUIAutomator2, DriverMock:
	default:
		return core.ErrInvalidConfig.WithMessage(fmt.Sprintf("unknown driver %q", c.Host.Driver))
	}
	if c.Host.Driver == DriverMock && c.Host.HierarchyFile == "" {
		return core.ErrMissingRequired.WithMessage("mock driver requires host.hierarchyFile")
	}
	if c.Host.Port < 0 || c.Host.Port > 65535 {
		return core.ErrInvalidConfig.WithMessage(fmt.Sprintf("port %d out of range", c.Host.Port))
	}
	if c.Click.MinDurationMs < 0 || c.Click.MinDurationMs > c.Click.MaxDurationMs {
		return core.ErrInvalidConfig.WithMessage(fmt.Sprintf("click duration window [%d,%d] is invalid",
			c.Click.MinDurationMs, c.Click.MaxDurationMs))
	}
	if c.Tap.DurationMs < 0 {
		return core.ErrInvalidConfig.WithMessage("tap duration must not be negative")
	}
	if c.Watch.IntervalMs <= 0 {
		return core.ErrInvalidConfig.WithMessage("watch interval must be positive")
	}
	return nil
}

// ClickWindow returns the click duration window.
func (c *Config) ClickWindow() (time.Duration, time.Duration) {
	return time.Duration(c.Click.MinDurationMs) * time.Millisecond,
		time.Duration(c.Click.MaxDurationMs) * time.Millisecond
}

// TapDuration returns the raw tap press duration.
func (c *Config) TapDuration() time.Duration {
	return time.Duration(c.Tap.DurationMs) * time.Millisecond
}

// WatchInterval returns the page source polling interval.
func (c *Config) WatchInterval() time.Duration {
	return time.Duration(c.Watch.IntervalMs) * time.Millisecond
}
