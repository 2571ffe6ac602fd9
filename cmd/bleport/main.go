package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	logLevel     string
	configPath   string
	settingsPath string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "bleport",
		Short: "Virtual serial ports backed by Bluetooth LE devices",
		Long: `bleport exposes BLE devices as serial ports.

Each acquired device becomes a pseudo-terminal (and optionally a WebSocket
endpoint). Newline-delimited JSON commands such as {"vibrate":80} written to
the port are encoded for the device protocol and sent over GATT.

Debug mode fabricates devices and logs packets instead of sending them.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/bleport/config.yaml)")
	root.PersistentFlags().StringVar(&opts.settingsPath, "settings", "", "Settings file holding DEBUG_MODE (default $XDG_CONFIG_HOME/bleport/settings.yaml)")

	root.Flags().BoolP("version", "v", false, "Show version information")

	root.AddCommand(
		newServeCmd(opts),
		newScanCmd(opts),
		newSendCmd(opts),
		newEncodeCmd(opts),
		newProtocolsCmd(opts),
		newDebugCmd(opts),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
