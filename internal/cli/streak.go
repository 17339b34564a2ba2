package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "streak",
		Short: "Show your journaling streak",
		Run: func(cmd *cobra.Command, _ []string) {
			streak, err := newClient().Streak(cmd.Context(), mustUser())
			if err != nil {
				exitErr("streak", err)
			}
			fmt.Printf("current: %d day(s), longest: %d day(s)\n", streak.Current, streak.Longest)
		},
	}
	RootCmd.AddCommand(cmd)
}
