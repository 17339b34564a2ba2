package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seeyara/whispr/internal/cuddle"
)

func init() {
	cmd := &cobra.Command{
		Use:   "cuddles",
		Short: "List the available companions",
		Run: func(_ *cobra.Command, _ []string) {
			for _, c := range cuddle.All() {
				fmt.Printf("%-9s %s: %s\n", c.ID, c.Name, c.Traits)
			}
		},
	}
	RootCmd.AddCommand(cmd)
}
