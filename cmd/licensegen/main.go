package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "licensegen",
		Short:         "Issue and check shop license tokens",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		runIssueCommand(),
		runKeygenCommand(),
		runInspectCommand(),
		runVerifyCommand(),
	)
	return root
}
