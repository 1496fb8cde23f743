package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func instanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "instance",
		Aliases: []string{"vrf"},
		Short:   "Inspect PIM instances",
	}

	cmd.AddCommand(instanceListCmd())
	cmd.AddCommand(instanceShowCmd())

	return cmd
}

// --- instance list ---

func instanceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all PIM instances",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			instances, err := client.ListInstances(context.Background())
			if err != nil {
				return err
			}

			out, err := formatInstances(instances, outputFormat)
			if err != nil {
				return fmt.Errorf("format instances: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// --- instance show ---

func instanceShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <vrf>",
		Short: "Show details of a PIM instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			inst, err := client.GetInstance(context.Background(), args[0])
			if err != nil {
				return err
			}

			out, err := formatInstance(inst, outputFormat)
			if err != nil {
				return fmt.Errorf("format instance: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}
