package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/bleport/internal/protocol"
)

func newEncodeCmd(global *globalOptions) *cobra.Command {
	var protocolName string
	cmd := &cobra.Command{
		Use:   "encode <command>...",
		Short: "Print the packet a command encodes to, without any device",
		Example: `  bleport encode '{"vibrate":80}'
  bleport encode --protocol Plain '{"speed":"50%"}'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(global)
			if err != nil {
				return err
			}
			defer a.Close()

			spec, ok := a.registry.First()
			if protocolName != "" {
				spec, err = a.registry.Lookup(protocolName)
				if err != nil {
					return err
				}
			} else if !ok {
				return errors.New("no protocols registered")
			}

			for _, raw := range args {
				cmdValue, err := protocol.DecodeCommand([]byte(raw))
				if err != nil {
					return err
				}
				packet, err := spec.Encode(cmdValue)
				switch {
				case errors.Is(err, protocol.ErrNoPacket):
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t(no packet)\n", raw)
				case err != nil:
					return fmt.Errorf("%s: %w", raw, err)
				default:
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", raw, packet)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&protocolName, "protocol", "p", "", "Protocol name (default: the first registered)")
	return cmd
}
