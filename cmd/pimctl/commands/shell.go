package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// shellCommands lists the available commands for the interactive shell help output.
var shellCommands = []struct {
	name string
	desc string
}{
	{"use <vrf>", "Address later commands to a VRF"},
	{"use", "Leave the VRF context"},
	{"instance list", "List all PIM instances"},
	{"instance show [vrf]", "Show details of a PIM instance"},
	{"config show", "Print the running configuration"},
	{"ssm set-range [vrf] <list>", "Use a prefix list as SSM range"},
	{"ssm clear-range [vrf]", "Restore the default SSM range"},
	{"ssm classify [vrf] <group>", "Classify a group as SSM or ASM"},
	{"version", "Print build information"},
	{"help", "Show this help message"},
	{"exit / quit", "Leave the interactive shell"},
}

// vrfCommands maps the commands whose first argument is a VRF name to
// their number of positional arguments.
var vrfCommands = map[string]int{
	"instance show":   1,
	"ssm set-range":   2,
	"ssm clear-range": 1,
	"ssm classify":    2,
}

// withVRF inserts vrf as the first argument of a VRF command typed without
// one. Positional arguments are counted up to the first flag.
func withVRF(fields []string, vrf string) []string {
	if vrf == "" || len(fields) < 2 {
		return fields
	}
	group := fields[0]
	if group == "vrf" {
		group = "instance"
	}
	want, ok := vrfCommands[group+" "+fields[1]]
	if !ok {
		return fields
	}

	positional := 0
	for _, f := range fields[2:] {
		if strings.HasPrefix(f, "-") {
			break
		}
		positional++
	}
	if positional != want-1 {
		return fields
	}

	out := make([]string, 0, len(fields)+1)
	out = append(out, fields[:2]...)
	out = append(out, vrf)
	return append(out, fields[2:]...)
}

func shellPrompt(vrf string) string {
	if vrf == "" {
		return "pimctl> "
	}
	return "pimctl(vrf-" + vrf + ")> "
}

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive pimctl shell",
		Long: "Launches a REPL over the pimctl commands. 'use <vrf>' fills in the VRF " +
			"argument of instance and ssm commands. Type 'help', 'exit', or 'quit'.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runShell(os.Stdin, cmd.OutOrStdout(), func(args []string) error {
				rootCmd.SetArgs(args)
				return rootCmd.Execute()
			})
		},
	}
}

// runShell reads command lines from in until EOF or exit and hands each to
// exec, prefixed with the current VRF where the command takes one.
func runShell(in io.Reader, out io.Writer, exec func(args []string) error) error {
	fmt.Fprintln(out, "pimctl interactive shell. Type 'help' for available commands, 'exit' to quit.")
	fmt.Fprintln(out)

	var vrf string
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, shellPrompt(vrf))

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())

		switch {
		case len(fields) == 0:
		case fields[0] == "exit" || fields[0] == "quit":
			return nil
		case fields[0] == "help" || fields[0] == "?":
			printShellHelp(out)
		case fields[0] == "use":
			vrf = ""
			if len(fields) > 1 {
				vrf = fields[1]
			}
		default:
			if err := exec(withVRF(fields, vrf)); err != nil {
				fmt.Fprintln(out, "Error:", err)
			}
		}

		fmt.Fprint(out, shellPrompt(vrf))
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	return nil
}

// printShellHelp prints a formatted list of available shell commands.
func printShellHelp(out io.Writer) {
	fmt.Fprintln(out, "Available commands:")
	fmt.Fprintln(out)

	for _, cmd := range shellCommands {
		fmt.Fprintf(out, "  %-30s %s\n", cmd.name, cmd.desc)
	}

	fmt.Fprintln(out)
}
