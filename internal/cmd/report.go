package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harrison/rendertest/internal/models"
	"github.com/harrison/rendertest/internal/report"
)

// NewReportCommand creates the report command
func NewReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Aggregate the reports of a finished batch",
		Long: `Rebuild report.json, renderTool.log and the summaries from the per-case
reports and logs in a batch output directory.

Reports are ordered like test_cases.json when the directory has one.
Malformed per-case reports are skipped unless --strict is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			workDir, _ := cmd.Flags().GetString("work-dir")
			strict, _ := cmd.Flags().GetBool("strict")
			group, _ := cmd.Flags().GetString("test-group")
			return aggregateWithOutput(workDir, strict, report.SummaryInfo{TestGroup: group}, cmd.OutOrStdout())
		},
	}

	cmd.Flags().String("work-dir", "", "Batch output directory holding the per-case reports")
	cmd.Flags().Bool("strict", false, "Fail on malformed per-case reports")
	cmd.Flags().String("test-group", "", "Test group shown in the summary header")
	_ = cmd.MarkFlagRequired("work-dir")

	return cmd
}

// aggregateWithOutput aggregates dir and prints the counts to output
func aggregateWithOutput(dir string, strict bool, info report.SummaryInfo, output io.Writer) error {
	if stat, err := os.Stat(dir); err != nil {
		return fmt.Errorf("failed to access work dir: %w", err)
	} else if !stat.IsDir() {
		return fmt.Errorf("work dir %s is not a directory", dir)
	}

	agg, err := report.Aggregate(dir, report.AggregateOptions{Order: caseOrder(dir, output), Strict: strict})
	if err != nil {
		return fmt.Errorf("aggregate reports: %w", err)
	}
	for _, skipped := range agg.Skipped {
		fmt.Fprintf(output, "Warning: skipped %v\n", skipped)
	}

	combined, err := report.CombineLogs(dir)
	if err != nil {
		return fmt.Errorf("combine logs: %w", err)
	}

	if info.TestGroup == "" && len(agg.Reports) > 0 {
		info.TestGroup = agg.Reports[0].TestGroup
	}
	if len(agg.Reports) > 0 {
		info.BatchID = agg.Reports[0].BatchID
		info.Tool = agg.Reports[0].Tool
	}
	if err := report.WriteSummary(dir, info, agg.Reports); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	printCounts(output, report.Counts(agg.Reports), len(agg.Reports))
	fmt.Fprintf(output, "Report: %s\n", agg.Path)
	fmt.Fprintf(output, "Log: %s\n", combined)
	fmt.Fprintf(output, "Summary: %s\n", filepath.Join(dir, report.SummaryMarkdown))
	return nil
}

// caseOrder reads the case names from the batch copy of the tests list.
// A missing or unreadable list yields no order.
func caseOrder(dir string, output io.Writer) []string {
	store := &report.CaseStore{Path: filepath.Join(dir, models.TestCasesFile)}
	if _, err := os.Stat(store.Path); os.IsNotExist(err) {
		return nil
	}
	cases, err := store.Load()
	if err != nil {
		fmt.Fprintf(output, "Warning: %v; ordering reports by name\n", err)
		return nil
	}
	order := make([]string, len(cases))
	for i, tc := range cases {
		order[i] = tc.Name
	}
	return order
}

// printCounts prints one line per status, coloured on a terminal
func printCounts(w io.Writer, counts map[string]int, total int) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	gray := color.New(color.FgHiBlack)
	if !useColor(w) {
		for _, c := range []*color.Color{green, yellow, red, gray} {
			c.DisableColor()
		}
	}

	fmt.Fprintf(w, "Cases: %d\n", total)
	green.Fprintf(w, "  success: %d\n", counts[models.StatusSuccess])
	yellow.Fprintf(w, "  diff:    %d\n", counts[models.StatusDiff])
	red.Fprintf(w, "  crash:   %d\n", counts[models.StatusCrash])
	gray.Fprintf(w, "  ignore:  %d\n", counts[models.StatusIgnore])
}
