package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gopimd/pkg/pimapi"
)

func monitorCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watch PIM instance state changes",
		Long:  "Polls the pimd daemon and prints instance state changes until interrupted (Ctrl+C).",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			var last map[string]string
			for {
				instances, err := client.ListInstances(ctx)
				if err != nil {
					if errors.Is(ctx.Err(), context.Canceled) {
						return nil
					}
					return err
				}

				now := time.Now()
				for _, line := range stateChanges(last, instances) {
					fmt.Printf("%s %s\n", now.Format(time.RFC3339), line)
				}
				last = states(instances)

				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval")

	return cmd
}

func states(instances []pimapi.InstanceSummary) map[string]string {
	m := make(map[string]string, len(instances))
	for _, inst := range instances {
		m[inst.Name] = inst.State
	}
	return m
}

// stateChanges describes the difference between the previous and the
// current poll. A nil previous poll reports every instance.
func stateChanges(prev map[string]string, instances []pimapi.InstanceSummary) []string {
	var lines []string
	seen := make(map[string]struct{}, len(instances))

	for _, inst := range instances {
		seen[inst.Name] = struct{}{}
		old, ok := prev[inst.Name]
		switch {
		case prev == nil:
			lines = append(lines, fmt.Sprintf("%s %s", inst.Name, inst.State))
		case !ok:
			lines = append(lines, fmt.Sprintf("%s created %s", inst.Name, inst.State))
		case old != inst.State:
			lines = append(lines, fmt.Sprintf("%s %s -> %s", inst.Name, old, inst.State))
		}
	}

	for name := range prev {
		if _, ok := seen[name]; !ok {
			lines = append(lines, fmt.Sprintf("%s terminated", name))
		}
	}

	return lines
}
