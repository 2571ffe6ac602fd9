package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newProtocolsCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "protocols",
		Short: "List the registered protocols in negotiation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(global)
			if err != nil {
				return err
			}
			defer a.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSERVICE\tWRITE\tNOTIFY\tMAX LEVEL\tTRANSFORM")
			fmt.Fprintln(tw, strings.Repeat("-", 100))
			for _, spec := range a.registry.All() {
				notify := spec.NotifyUUID
				if notify == "" {
					notify = "-"
				}
				transform := "level"
				if spec.Transform != nil {
					transform = "lua"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
					spec.Name, spec.ServiceUUID, spec.WriteUUID, notify, spec.MaxLevel(), transform)
			}
			return tw.Flush()
		},
	}
}
