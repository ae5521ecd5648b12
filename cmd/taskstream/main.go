// taskstream follows a workflow server's real-time channels from the command
// line: unread notifications and the comment threads of selected tasks and
// news posts.
//
// Usage:
//
//	taskstream watch --config configs/taskstream.example.yaml
//	taskstream version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rickgao/taskstream/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "taskstream",
		Short:         "Real-time client for workflow notifications and comments",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newWatchCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "taskstream %s\n", version.String())
		},
	}
}
