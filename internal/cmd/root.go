package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for rendertest
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rendertest",
		Short: "Render regression test harness",
		Long: `Rendertest drives an external render tool over a list of test cases.

For every case it builds the tool's command line, runs it under a timeout
with bounded retries, checks the rendered image, copies the matching
baseline and writes a per-case JSON report. Reports and logs are aggregated
when the batch finishes.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewReportCommand())
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewHistoryCommand())

	return cmd
}
