package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/srg/bleport/internal/protocol"
)

type sendOptions struct {
	debug   bool
	address string
}

func newSendCmd(global *globalOptions) *cobra.Command {
	opts := &sendOptions{}
	cmd := &cobra.Command{
		Use:   "send <command>...",
		Short: "Acquire one device, write the given commands and disconnect",
		Example: `  bleport send '{"vibrate":80}'
  bleport send --address AA:BB:CC:DD:EE:FF '{"speed":40}' '{"speed":0}'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, global, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Simulate the device (overrides the persisted DEBUG_MODE)")
	cmd.Flags().StringVar(&opts.address, "address", "", "Acquire only the device with this address")
	return cmd
}

func runSend(cmd *cobra.Command, global *globalOptions, opts *sendOptions, commands []string) error {
	// reject malformed input before touching the radio
	for _, c := range commands {
		if _, err := protocol.DecodeCommand([]byte(c)); err != nil {
			return err
		}
	}

	a, err := loadApp(global)
	if err != nil {
		return err
	}
	defer a.Close()

	debug, err := a.debugMode(cmd, opts.debug)
	if err != nil {
		return err
	}

	progress := NewProgressPrinter(io.Discard)
	if interactive() {
		progress = NewProgressPrinter(cmd.ErrOrStderr(), "selecting")
	}
	defer progress.End()

	serial, err := a.newSerial(debug, opts.address, progress)
	if err != nil {
		return err
	}
	defer serial.Close()

	ctx, cancel := signalContext(cmd.Context(), a.logger)
	defer cancel()

	progress.Begin("Acquiring device", "scanning")
	port, err := serial.RequestPort(ctx)
	progress.End()
	if err != nil {
		return err
	}
	defer port.Close(context.Background())

	name := port.Info().Name
	var failed []error
	for _, c := range commands {
		if _, err := port.Writable().Write([]byte(c)); err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", c, err))
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s\n", c, name)
	}
	return errors.Join(failed...)
}
