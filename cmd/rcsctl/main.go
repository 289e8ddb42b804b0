// Command rcsctl drives an RCS detector through its command sequence and analyzes run transcripts.
//
//	rcsctl run --host 192.168.5.142 --port 22001 --commands sscom51.ini --log-dir logs
//	rcsctl analyze logs/2025-04-30_15-48-52.txt
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/Erick14-l/RCS-AutoTest/logger"
)

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute runs the root command and converts errors and panics to an exit code.
func execute(args []string) (code int) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("rcsctl panicked", "panic", r, "stack", string(debug.Stack()))
			code = 2
		}
	}()

	root := newRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		return 1
	}

	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rcsctl",
		Short:         "RCS detector auto-test client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd(), newAnalyzeCmd())

	return root
}
