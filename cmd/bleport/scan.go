package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/bleport/internal/device"
	"github.com/srg/bleport/internal/devicefactory"
)

type scanOptions struct {
	duration time.Duration
	format   string
	all      bool
}

func newScanCmd(global *globalOptions) *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List nearby devices, supported ones first",
		Long: `Scans for BLE peripherals and lists them ranked the way serve offers
them: devices advertising a registered protocol service first, then by
signal strength.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, global, opts)
		},
	}

	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "Scan duration (default from config scan_timeout)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "table", "Output format (table, json)")
	cmd.Flags().BoolVarP(&opts.all, "all", "a", false, "Include devices that advertise no supported service")
	return cmd
}

func runScan(cmd *cobra.Command, global *globalOptions, opts *scanOptions) error {
	if opts.format != "table" && opts.format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", opts.format)
	}

	a, err := loadApp(global)
	if err != nil {
		return err
	}
	defer a.Close()

	duration := a.cfg.ScanTimeout
	if opts.duration > 0 {
		duration = opts.duration
	}

	requester, err := devicefactory.NewCentral(a.cfg.Backend, device.FirstSelector{}, a.logger, device.WithScanTimeout(duration))
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context(), a.logger)
	defer cancel()

	progress := NewProgressPrinter(cmd.ErrOrStderr())
	progress.Begin("Scanning for BLE devices", fmt.Sprintf("up to %s", duration))
	candidates, err := requester.Scan(ctx, device.Filter{
		Services:  a.registry.ServiceUUIDs(),
		AcceptAll: opts.all,
	})
	progress.End()
	if err != nil {
		return err
	}

	if opts.format == "json" {
		return writeCandidatesJSON(cmd.OutOrStdout(), candidates)
	}
	return writeCandidatesTable(cmd.OutOrStdout(), candidates)
}

type candidateJSON struct {
	Address   string   `json:"address"`
	Name      string   `json:"name"`
	RSSI      int      `json:"rssi"`
	Services  []string `json:"services"`
	Supported bool     `json:"supported"`
}

func writeCandidatesJSON(w io.Writer, candidates []device.Candidate) error {
	out := make([]candidateJSON, len(candidates))
	for i, c := range candidates {
		out[i] = candidateJSON{
			Address:   c.Address,
			Name:      c.Name,
			RSSI:      c.RSSI,
			Services:  c.Services,
			Supported: c.Known,
		}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func writeCandidatesTable(w io.Writer, candidates []device.Candidate) error {
	if len(candidates) == 0 {
		fmt.Fprintln(w, "No devices discovered")
		return nil
	}

	supported := color.New(color.FgGreen).SprintFunc()

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI\tSUPPORTED\tSERVICES")
	fmt.Fprintln(tw, strings.Repeat("-", 80))
	for _, c := range candidates {
		name := c.DisplayName()
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		mark := "-"
		if c.Known {
			mark = supported("yes")
		}
		services := make([]string, len(c.Services))
		for i, s := range c.Services {
			services[i] = device.ShortenUUID(s)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d dBm\t%s\t%s\n", name, c.Address, c.RSSI, mark, strings.Join(services, ","))
	}
	return tw.Flush()
}
