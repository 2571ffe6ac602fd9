package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/bleport/bridge"
	"github.com/srg/bleport/internal/device"
	"github.com/srg/bleport/internal/groutine"
	"github.com/srg/bleport/internal/ptyio"
	"github.com/srg/bleport/internal/wsport"
)

type serveOptions struct {
	debug   bool
	ports   int
	link    string
	listen  string
	address string
}

func newServeCmd(global *globalOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Acquire devices and expose them as PTY (and WebSocket) ports",
		Long: `Acquires --ports devices, one pseudo-terminal each, and serves until
interrupted. Write one JSON command per line to the printed tty (or the
--link symlink):

  echo '{"vibrate":80}' > /tmp/bleport0

With --listen, WebSocket clients can acquire more ports at /port and list
them at /ports.`,
		Example: `  bleport serve --link /tmp/bleport0
  bleport serve --ports 2 --listen 127.0.0.1:8765
  bleport serve --debug --ports 0 --listen :8765`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, global, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Simulate devices for this run (overrides the persisted DEBUG_MODE)")
	cmd.Flags().IntVar(&opts.ports, "ports", -1, "PTY ports to acquire at startup (default from config, 1)")
	cmd.Flags().StringVar(&opts.link, "link", "", "Symlink for the first PTY; later ports get -1, -2... suffixes")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "WebSocket listen address (default from config; empty disables)")
	cmd.Flags().StringVar(&opts.address, "address", "", "Acquire only the device with this address")
	return cmd
}

// ptyPort ties a PTY endpoint to the port it feeds.
type ptyPort struct {
	port     *bridge.Port
	endpoint *ptyio.Endpoint
}

func runServe(cmd *cobra.Command, global *globalOptions, opts *serveOptions) error {
	a, err := loadApp(global)
	if err != nil {
		return err
	}
	defer a.Close()

	debug, err := a.debugMode(cmd, opts.debug)
	if err != nil {
		return err
	}

	ports := a.cfg.Serve.Ports
	if opts.ports >= 0 {
		ports = opts.ports
	}
	link := firstNonEmpty(opts.link, a.cfg.Serve.Link)
	listen := firstNonEmpty(opts.listen, a.cfg.Serve.Listen)
	if ports == 0 && listen == "" {
		return errors.New("nothing to serve: --ports is 0 and no --listen address is set")
	}

	ctx, cancel := signalContext(cmd.Context(), a.logger)
	defer cancel()

	var progress *ProgressPrinter
	if interactive() {
		progress = NewProgressPrinter(cmd.ErrOrStderr(), "selecting")
	} else {
		progress = NewProgressPrinter(io.Discard)
	}
	defer progress.End()

	serial, err := a.newSerial(debug, opts.address, progress)
	if err != nil {
		return err
	}
	defer func() {
		if err := serial.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close bridge")
		}
	}()

	if debug {
		fmt.Fprintln(cmd.OutOrStdout(), "Debug mode: devices are simulated and packets are logged, not sent")
	}

	var opened []ptyPort
	defer func() {
		for _, pp := range opened {
			_ = pp.endpoint.Close()
			_ = pp.port.Close(context.Background())
		}
	}()

	for i := 0; i < ports; i++ {
		progress.Begin(fmt.Sprintf("Acquiring port %d/%d", i+1, ports), "scanning")
		port, err := serial.RequestPort(ctx)
		progress.End()
		if err != nil {
			if errors.Is(err, device.ErrSelectionCancelled) && i > 0 {
				a.logger.Info("Selection cancelled; serving the ports acquired so far")
				break
			}
			return err
		}

		pp, err := exposePTY(ctx, port, linkFor(link, i), a.logger)
		if err != nil {
			return err
		}
		opened = append(opened, pp)

		info := port.Info()
		fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s", info.Name, pp.endpoint.TTYName())
		if pp.endpoint.Link() != "" {
			fmt.Fprintf(cmd.OutOrStdout(), " (%s)", pp.endpoint.Link())
		}
		fmt.Fprintln(cmd.OutOrStdout())
	}

	serveErr := make(chan error, 1)
	if listen != "" {
		server := wsport.New(serial, a.logger)
		groutine.Go(ctx, "wsport-server", func(ctx context.Context) {
			serveErr <- server.ListenAndServe(ctx, listen, func(addr net.Addr) {
				fmt.Fprintf(cmd.OutOrStdout(), "WebSocket ports at ws://%s/port\n", addr)
			})
		})
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Serving; press Ctrl+C to stop")
	select {
	case <-ctx.Done():
		return nil
	case err := <-serveErr:
		return err
	}
}

// exposePTY opens a PTY whose lines are written to port. The PTY closes
// itself when the device goes away.
func exposePTY(ctx context.Context, port *bridge.Port, link string, logger *logrus.Logger) (ptyPort, error) {
	log := logger.WithField("device_id", port.DeviceID())

	endpoint, err := ptyio.Open(ptyio.Options{
		Link:   link,
		Logger: logger,
		OnFrame: func(frame []byte) {
			if _, err := port.Writable().Write(frame); err != nil {
				log.WithError(err).Warn("Command from PTY was not delivered")
			}
		},
		OnError: func(err error) {
			log.WithError(err).Error("PTY failed; closing port")
			_ = port.Close(context.Background())
		},
	})
	if err != nil {
		return ptyPort{}, err
	}

	groutine.Go(ctx, "pty-port-watch", func(ctx context.Context) {
		select {
		case <-ctx.Done():
		case <-port.Readable().Done():
			log.Warn("Device connection ended; closing its PTY")
			_ = endpoint.Close()
		}
	})

	return ptyPort{port: port, endpoint: endpoint}, nil
}

func linkFor(base string, i int) string {
	if base == "" || i == 0 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, i)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
