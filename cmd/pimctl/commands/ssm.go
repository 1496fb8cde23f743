package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func ssmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ssm",
		Short: "Manage source-specific multicast ranges",
	}

	cmd.AddCommand(ssmSetRangeCmd())
	cmd.AddCommand(ssmClearRangeCmd())
	cmd.AddCommand(ssmClassifyCmd())

	return cmd
}

// --- ssm set-range ---

func ssmSetRangeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-range <vrf> <prefix-list>",
		Short: "Use a prefix list as the SSM group range of an instance",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return setRange(args[0], args[1])
		},
	}
}

// --- ssm clear-range ---

func ssmClearRangeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-range <vrf>",
		Short: "Restore the default SSM group range (232/8, ff3x::/32) of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return setRange(args[0], "")
		},
	}
}

func setRange(vrf, prefixList string) error {
	reevaluated, err := client.SetSSMRange(context.Background(), vrf, prefixList)
	if err != nil {
		return err
	}

	label := prefixList
	if label == "" {
		label = "default"
	}
	fmt.Printf("SSM range of %s set to %s", vrf, label)
	if reevaluated {
		fmt.Print(" (instance reevaluated)")
	}
	fmt.Println()

	return nil
}

// --- ssm classify ---

func ssmClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <vrf> <group>",
		Short: "Report whether a group is SSM or ASM in an instance",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			resp, err := client.ClassifyGroup(context.Background(), args[0], args[1])
			if err != nil {
				return err
			}

			out, err := formatClassification(resp, outputFormat)
			if err != nil {
				return fmt.Errorf("format classification: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}
