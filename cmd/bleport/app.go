package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srg/bleport/bridge"
	"github.com/srg/bleport/internal/device"
	"github.com/srg/bleport/internal/devicefactory"
	"github.com/srg/bleport/internal/notice"
	"github.com/srg/bleport/internal/protocol"
	"github.com/srg/bleport/internal/settings"
	"github.com/srg/bleport/pkg/config"
)

// app is what every command builds first: config, logger and protocols.
type app struct {
	opts     *globalOptions
	cfg      *config.Config
	logger   *logrus.Logger
	registry *protocol.Registry
	release  func()
}

func loadApp(opts *globalOptions) (*app, error) {
	path := opts.configPath
	if path == "" {
		// no resolvable home means no config file, which means defaults
		path, _ = config.DefaultPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(opts, cfg)
	if err != nil {
		return nil, err
	}
	registry, release, err := cfg.BuildRegistry()
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"config":    path,
		"backend":   cfg.Backend,
		"protocols": registry.Len(),
	}).Debug("Configuration loaded")

	return &app{opts: opts, cfg: cfg, logger: logger, registry: registry, release: release}, nil
}

func (a *app) Close() {
	if a.release != nil {
		a.release()
	}
}

func (a *app) settings() (*settings.Store, error) {
	path := a.opts.settingsPath
	if path == "" {
		var err error
		if path, err = settings.DefaultPath(); err != nil {
			return nil, err
		}
	}
	return settings.Open(path)
}

// debugMode returns --debug when given, otherwise the persisted flag.
func (a *app) debugMode(cmd *cobra.Command, flag bool) (bool, error) {
	if cmd.Flags().Changed("debug") {
		return flag, nil
	}
	store, err := a.settings()
	if err != nil {
		return false, err
	}
	return store.DebugMode(), nil
}

func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func selectorFor(address string, in io.Reader, out io.Writer) device.Selector {
	switch {
	case address != "":
		return device.AddressSelector{Address: address}
	case interactive():
		return device.PromptSelector{In: in, Out: out}
	default:
		return device.FirstSelector{}
	}
}

func (a *app) requesterOptions(progress *ProgressPrinter) []device.RequesterOption {
	opts := []device.RequesterOption{
		device.WithScanTimeout(a.cfg.ScanTimeout),
		device.WithConnectTimeout(a.cfg.ConnectTimeout),
	}
	if progress != nil {
		opts = append(opts, device.WithProgress(progress.Callback()))
	}
	return opts
}

// newSerial builds the bridge. The BLE backend is only touched outside debug
// mode. A non-empty address restricts acquisition to that device.
func (a *app) newSerial(debug bool, address string, progress *ProgressPrinter) (*bridge.Serial, error) {
	opts := bridge.Options{
		Registry: a.registry,
		Debug:    debug,
		Notifier: notice.NewConsole(os.Stderr),
		Logger:   a.logger,
	}

	if !debug {
		central, err := devicefactory.NewCentral(a.cfg.Backend, selectorFor(address, os.Stdin, os.Stderr), a.logger, a.requesterOptions(progress)...)
		if err != nil {
			return nil, err
		}
		opts.Central = central
		if address != "" {
			opts.Filter = &device.Filter{Services: a.registry.ServiceUUIDs(), Address: address, AcceptAll: true}
		}
	}
	return bridge.New(opts)
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext(parent context.Context, logger *logrus.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			logger.Info("Received interrupt signal, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
