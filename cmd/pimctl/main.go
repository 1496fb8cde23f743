// pimctl is the command-line client of the pimd daemon.
package main

import "github.com/dantte-lp/gopimd/cmd/pimctl/commands"

func main() {
	commands.Execute()
}
