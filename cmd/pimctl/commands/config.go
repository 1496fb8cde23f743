package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the daemon configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the running configuration",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			text, err := client.ShowRunningConfig(context.Background())
			if err != nil {
				return err
			}

			fmt.Print(text)

			return nil
		},
	})

	return cmd
}
