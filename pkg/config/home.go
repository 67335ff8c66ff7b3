package config

import (
	"os"
	"path/filepath"
	"sync"
)

const envHome = "AUTOSDK_HOME"

var (
	homeOnce sync.Once
	homeDir  string
)

// GetHome returns the autosdk home directory.
//
// Resolution order:
//  1. $AUTOSDK_HOME environment variable
//  2. Parent of the binary's directory (if binary is in <home>/bin/)
//  3. Current working directory (development fallback)
func GetHome() string {
	homeOnce.Do(func() {
		homeDir = resolveHome()
	})
	return homeDir
}

// GetLogsDir returns <home>/logs.
func GetLogsDir() string {
	return filepath.Join(GetHome(), "logs")
}

// DefaultLogPath returns <home>/logs/autosdk.log.
func DefaultLogPath() string {
	return filepath.Join(GetLogsDir(), "autosdk.log")
}

// LoadDefault loads the configuration found in the home directory, or the
// built-in defaults when there is none.
func LoadDefault() (*Config, error) {
	return LoadFromDir(GetHome())
}

func resolveHome() string {
	// 1. Environment variable
	if env := os.Getenv(envHome); env != "" {
		return env
	}

	// 2. Binary-relative: if binary is at <home>/bin/autosdk, use <home>
	if execPath, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
			execPath = resolved
		}
		binDir := filepath.Dir(execPath)
		if filepath.Base(binDir) == "bin" {
			return filepath.Dir(binDir)
		}
	}

	// 3. Current working directory
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}

	return "."
}

// ResetHome resets the cached home directory (for testing).
func ResetHome() {
	homeOnce = sync.Once{}
	homeDir = ""
}
