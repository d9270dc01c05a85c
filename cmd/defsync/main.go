// Command defsync keeps a definition repository checked out, validates it
// and publishes every new version to a message queue.
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	// Execute reports an unknown subcommand untagged; it is a usage error.
	if _, _, err := cmd.Find(args); err != nil {
		fmt.Fprintf(stderr, "defsync: %v\n", err)
		return exitConfig
	}
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "defsync: %v\n", err)
		return exitCode(err)
	}
	return exitOK
}
