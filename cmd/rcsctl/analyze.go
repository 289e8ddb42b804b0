package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Erick14-l/RCS-AutoTest/analyzer"
)

func newAnalyzeCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "analyze <transcript>",
		Short: "Analyze a run transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := analyzer.AnalyzeFile(args[0])
			if err != nil {
				return err
			}

			switch format {
			case "text":
				return rep.WriteText(cmd.OutOrStdout())
			case "yaml":
				return rep.WriteYAML(cmd.OutOrStdout())
			default:
				return fmt.Errorf("unknown format %q", format)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "report format (text, yaml)")

	return cmd
}
