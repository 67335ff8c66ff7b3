// Package cli provides the command-line interface for autosdk.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/autosdk/pkg/config"
	"github.com/devicelab-dev/autosdk/pkg/logger"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Config file (.yaml or .toml); defaults to config.yaml in AUTOSDK_HOME",
		EnvVars: []string{"AUTOSDK_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "driver",
		Aliases: []string{"d"},
		Usage:   "Host driver (uiautomator2, mock)",
		EnvVars: []string{"AUTOSDK_DRIVER"},
	},
	&cli.StringFlag{
		Name:    "hierarchy-file",
		Usage:   "UIAutomator hierarchy dump served by the mock driver",
		EnvVars: []string{"AUTOSDK_HIERARCHY_FILE"},
	},
	&cli.StringFlag{
		Name:    "device",
		Aliases: []string{"serial", "s"},
		Usage:   "adb serial of the device to drive",
		EnvVars: []string{"ANDROID_SERIAL"},
	},
	&cli.StringFlag{
		Name:    "avd",
		Usage:   "Emulator to boot when no device is attached",
		EnvVars: []string{"AUTOSDK_AVD"},
	},
	&cli.StringFlag{
		Name:    "socket",
		Usage:   "Unix socket of an already forwarded UIAutomator2 server",
		EnvVars: []string{"AUTOSDK_SOCKET"},
	},
	&cli.IntFlag{
		Name:    "driver-host-port",
		Usage:   "Host port of an already forwarded UIAutomator2 server",
		EnvVars: []string{"AUTOSDK_DRIVER_HOST_PORT"},
	},
	&cli.StringFlag{
		Name:    "app-id",
		Usage:   "Package owning the accessibility service",
		EnvVars: []string{"AUTOSDK_APP_ID"},
	},
	&cli.StringFlag{
		Name:    "service",
		Usage:   "Accessibility service component (pkg/.Class)",
		EnvVars: []string{"AUTOSDK_SERVICE"},
	},
	&cli.StringFlag{
		Name:    "log-file",
		Usage:   "Write the debug log to this file",
		EnvVars: []string{"AUTOSDK_LOG_FILE"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Log to stderr",
		EnvVars: []string{"AUTOSDK_VERBOSE"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// Commands are the autosdk subcommands.
var Commands = []*cli.Command{
	hierarchyCommand,
	findCommand,
	clickCommand,
	tapCommand,
	swipeCommand,
	watchCommand,
	runCommand,
	doctorCommand,
}

// NewApp builds the CLI application.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "autosdk",
		Usage:   "Query and drive Android UIs through the accessibility tree",
		Version: Version,
		Description: `autosdk finds nodes in the accessibility tree of the foreground app
and clicks, taps or swipes them, from the command line or from scripts.

Examples:
  autosdk hierarchy --compact
  autosdk find --text-contains Sign
  autosdk click --text OK --strategy match
  autosdk -d mock --hierarchy-file screen.xml watch
  autosdk run login.js --var user=alice`,
		Flags:    GlobalFlags,
		Commands: Commands,
		Before:   setup,
		After: func(c *cli.Context) error {
			logger.Close()
			return nil
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup wires logging and colors before any command runs.
func setup(c *cli.Context) error {
	if c.Bool("no-ansi") {
		colorsEnabled = false
	}

	if path := c.String("log-file"); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		if err := logger.Init(path); err != nil {
			return err
		}
	} else if c.Bool("verbose") {
		logger.SetOutput(os.Stderr)
	}
	return nil
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}

	if c.IsSet("driver") {
		cfg.Host.Driver = c.String("driver")
	}
	if c.IsSet("hierarchy-file") {
		cfg.Host.HierarchyFile = c.String("hierarchy-file")
		// A dump on the command line implies the offline driver.
		if !c.IsSet("driver") {
			cfg.Host.Driver = config.DriverMock
		}
	}
	if c.IsSet("device") {
		cfg.Host.Serial = c.String("device")
	}
	if c.IsSet("avd") {
		cfg.Host.AVD = c.String("avd")
	}
	if c.IsSet("socket") {
		cfg.Host.Socket = c.String("socket")
	}
	if c.IsSet("app-id") {
		cfg.Host.AppID = c.String("app-id")
	}
	if c.IsSet("service") {
		cfg.Host.Service = c.String("service")
	}

	if cfg.Log.Path != "" && !c.IsSet("log-file") {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		if err := logger.Init(cfg.Log.Path); err != nil {
			return nil, err
		}
	}
	if cfg.Log.Level != "" && !c.Bool("verbose") {
		if err := logger.SetLevel(cfg.Log.Level); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
