package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/autosdk/pkg/click"
	"github.com/devicelab-dev/autosdk/pkg/config"
	"github.com/devicelab-dev/autosdk/pkg/core"
	"github.com/devicelab-dev/autosdk/pkg/device"
	"github.com/devicelab-dev/autosdk/pkg/driver/mock"
	uia2driver "github.com/devicelab-dev/autosdk/pkg/driver/uiautomator2"
	"github.com/devicelab-dev/autosdk/pkg/emulator"
	"github.com/devicelab-dev/autosdk/pkg/event"
	"github.com/devicelab-dev/autosdk/pkg/logger"
	"github.com/devicelab-dev/autosdk/pkg/uiautomator2"
)

const (
	// readyTimeout bounds waiting for a fresh UIAutomator2 session to answer.
	readyTimeout            = 30 * time.Second
	emulatorShutdownTimeout = 30 * time.Second
)

// session is an opened host plus what the commands need around it.
type session struct {
	cfg    *config.Config
	host   core.Host
	events *event.Registry

	// watch publishes tree changes to events until ctx ends.
	watch func(ctx context.Context) error
	close func()
}

// openSession loads the config and connects the configured host.
func openSession(c *cli.Context) (*session, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, events: event.NewRegistry(), close: func() {}}
	switch cfg.Host.Driver {
	case config.DriverMock:
		err = s.openMock()
	default:
		err = s.openUIAutomator2(c)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *session) openMock() error {
	h, err := mock.FromFile(s.cfg.Host.HierarchyFile, mock.Config{Events: s.events})
	if err != nil {
		return fmt.Errorf("load hierarchy: %w", err)
	}
	logger.Info("Mock host serving %s", s.cfg.Host.HierarchyFile)

	s.host = h
	s.watch = func(ctx context.Context) error {
		return h.WatchFile(ctx, s.cfg.Host.HierarchyFile, s.events)
	}
	return nil
}

// openUIAutomator2 attaches to an already forwarded server when --socket or
// --driver-host-port is given, otherwise starts the server over adb.
func (s *session) openUIAutomator2(c *cli.Context) error {
	var (
		client  *uiautomator2.Client
		checker uia2driver.DeviceChecker
		dev     *device.AndroidDevice
		emu     *emulator.Instance
	)
	release := func() {
		if dev != nil {
			dev.StopUIAutomator2()
		}
		if emu != nil {
			shutdownEmulator(emu)
		}
	}

	switch {
	case s.cfg.Host.Socket != "":
		client = uiautomator2.NewClient(s.cfg.Host.Socket)
	case c.IsSet("driver-host-port"):
		client = uiautomator2.NewClientTCP(c.Int("driver-host-port"))
	default:
		var err error
		if dev, emu, err = startServer(c.Context, s.cfg); err != nil {
			return err
		}
		client = dev.UIAutomator2Client()
		checker = dev
	}

	printSetupStep("Creating session...")
	if err := client.CreateSession(uiautomator2.Capabilities{PlatformName: "Android"}); err != nil {
		release()
		return fmt.Errorf("create session: %w", err)
	}
	logger.Info("Session created: %s", client.SessionID())

	host := uia2driver.New(client, checker, uia2driver.Options{
		AppID:   s.cfg.Host.AppID,
		Service: s.cfg.Host.Service,
		Events:  s.events,
	})

	ctx, cancel := context.WithTimeout(c.Context, readyTimeout)
	defer cancel()
	if err := host.WaitReady(ctx); err != nil {
		client.Close()
		release()
		return err
	}
	printSetupSuccess("Session ready")

	s.host = host
	s.watch = uia2driver.NewWatcher(client, s.events, s.cfg.WatchInterval()).Run
	s.close = func() {
		client.Close()
		release()
	}
	return nil
}

// startServer connects to the device and starts the UIAutomator2 server,
// installing it from <home>/drivers/android when missing. With host.avd set
// and no device online it boots that emulator first.
func startServer(ctx context.Context, cfg *config.Config) (*device.AndroidDevice, *emulator.Instance, error) {
	serial := cfg.Host.Serial
	var emu *emulator.Instance
	if serial == "" && cfg.Host.AVD != "" {
		var err error
		if emu, err = bootEmulator(ctx, cfg.Host.AVD); err != nil {
			return nil, nil, err
		}
		if emu != nil {
			serial = emu.Serial
		}
	}

	dev, err := connect(cfg, serial)
	if err != nil {
		if emu != nil {
			shutdownEmulator(emu)
		}
		return nil, nil, err
	}
	return dev, emu, nil
}

func connect(cfg *config.Config, serial string) (*device.AndroidDevice, error) {
	if serial != "" {
		printSetupStep(fmt.Sprintf("Connecting to device %s...", serial))
	} else {
		printSetupStep("Connecting to device...")
	}
	dev, err := device.New(serial)
	if err != nil {
		return nil, fmt.Errorf("connect to device: %w", err)
	}
	if info, err := dev.Info(); err == nil {
		logger.Info("Device info: %s %s, SDK %s, Serial %s, Emulator: %v",
			info.Brand, info.Model, info.SDK, info.Serial, info.IsEmulator)
		printSetupSuccess(fmt.Sprintf("Connected to %s %s (SDK %s)", info.Brand, info.Model, info.SDK))
	}

	// Another session owns this socket; stopping the server would end it.
	if socketPath := dev.DefaultSocketPath(); isSocketInUse(socketPath) {
		return nil, fmt.Errorf("device %s is already in use (socket %s)", dev.Serial(), socketPath)
	}

	if !dev.ServerInstalled() {
		printSetupStep("Installing UIAutomator2 APKs...")
		if err := dev.InstallUIAutomator2(filepath.Join(config.GetHome(), "drivers", "android")); err != nil {
			return nil, fmt.Errorf("install UIAutomator2: %w", err)
		}
		printSetupSuccess("UIAutomator2 installed")
	}

	printSetupStep("Starting UIAutomator2 server...")
	uia2Cfg := device.DefaultUIAutomator2Config()
	if cfg.Host.Port != 0 {
		uia2Cfg.DevicePort = cfg.Host.Port
	}
	if err := dev.StartUIAutomator2(uia2Cfg); err != nil {
		return nil, fmt.Errorf("start UIAutomator2: %w", err)
	}
	printSetupSuccess("UIAutomator2 server started")
	return dev, nil
}

// bootEmulator boots avd unless a device is already online. It returns nil
// when nothing was booted.
func bootEmulator(ctx context.Context, avd string) (*emulator.Instance, error) {
	devices, err := device.ListDevices()
	if err != nil {
		return nil, err
	}
	var serials []string
	for _, d := range devices {
		if d.State == "device" {
			logger.Info("Device %s is online, not booting %s", d.Serial, avd)
			return nil, nil
		}
		serials = append(serials, d.Serial)
	}

	avds, err := emulator.ListAVDs(ctx)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(avds, avd) {
		return nil, fmt.Errorf("unknown AVD %q (available: %s)", avd, strings.Join(avds, ", "))
	}

	printSetupStep(fmt.Sprintf("Booting emulator %s...", avd))
	inst, err := emulator.Boot(ctx, avd, serials, emulator.DefaultBootTimeout)
	if err != nil {
		return nil, fmt.Errorf("boot emulator: %w", err)
	}
	printSetupSuccess(fmt.Sprintf("Emulator %s booted as %s", avd, inst.Serial))
	return inst, nil
}

func shutdownEmulator(inst *emulator.Instance) {
	ctx, cancel := context.WithTimeout(context.Background(), emulatorShutdownTimeout)
	defer cancel()
	if err := inst.Shutdown(ctx); err != nil {
		logger.Warn("shutdown emulator: %v", err)
	}
}

// clickOptions returns the configured gesture click window.
func (s *session) clickOptions() []click.Option {
	lo, hi := s.cfg.ClickWindow()
	return []click.Option{click.WithDuration(lo, hi)}
}
