package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newDebugCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "debug [on|off]",
		Short:     "Show or set the persisted debug (simulation) mode",
		ValidArgs: []string{"on", "off"},
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := &app{opts: global}
			store, err := a.settings()
			if err != nil {
				return err
			}

			if len(args) == 1 {
				if err := store.SetDebugMode(strings.EqualFold(args[0], "on")); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Debug mode: %s (%s)\n", onOff(store.DebugMode()), store.Path())
			return nil
		},
	}
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
