package report

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/harrison/rendertest/internal/filelock"
	"github.com/harrison/rendertest/internal/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Summary file names, written next to report.json.
const (
	SummaryMarkdown = "summary.md"
	SummaryHTML     = "summary.html"
)

// SummaryInfo identifies the batch in the summary header.
type SummaryInfo struct {
	TestGroup string
	BatchID   string
	Tool      string
}

// Counts tallies reports by status.
func Counts(reports []models.CaseReport) map[string]int {
	counts := map[string]int{
		models.StatusSuccess: 0,
		models.StatusDiff:    0,
		models.StatusCrash:   0,
		models.StatusIgnore:  0,
	}
	for _, r := range reports {
		counts[r.TestStatus]++
	}
	return counts
}

// RenderSummary builds the markdown summary of a batch.
func RenderSummary(info SummaryInfo, reports []models.CaseReport) []byte {
	var sb strings.Builder
	counts := Counts(reports)

	group := info.TestGroup
	if group == "" {
		group = "batch"
	}
	fmt.Fprintf(&sb, "# Render test summary: %s\n\n", group)
	if info.BatchID != "" {
		fmt.Fprintf(&sb, "Batch `%s`", info.BatchID)
		if info.Tool != "" {
			fmt.Fprintf(&sb, " using `%s`", info.Tool)
		}
		sb.WriteString("\n\n")
	}

	sb.WriteString("| Total | Success | Diff | Crash | Ignore |\n")
	sb.WriteString("|---:|---:|---:|---:|---:|\n")
	fmt.Fprintf(&sb, "| %d | %d | %d | %d | %d |\n\n",
		len(reports), counts[models.StatusSuccess], counts[models.StatusDiff],
		counts[models.StatusCrash], counts[models.StatusIgnore])

	if len(reports) == 0 {
		sb.WriteString("No case reports found.\n")
		return []byte(sb.String())
	}

	sb.WriteString("| Case | Status | Attempts | Render time (s) | Messages |\n")
	sb.WriteString("|---|---|---:|---:|---|\n")
	for _, r := range reports {
		fmt.Fprintf(&sb, "| %s | %s | %d | %.2f | %s |\n",
			escapeCell(r.TestCase), r.TestStatus, r.Attempts, r.RenderTime,
			escapeCell(strings.Join(r.Message, "; ")))
	}
	return []byte(sb.String())
}

// WriteSummary writes summary.md and its HTML rendering into dir.
func WriteSummary(dir string, info SummaryInfo, reports []models.CaseReport) error {
	md := RenderSummary(info, reports)
	if err := filelock.AtomicWrite(filepath.Join(dir, SummaryMarkdown), md); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	converter := goldmark.New(goldmark.WithExtensions(extension.Table))
	var html bytes.Buffer
	if err := converter.Convert(md, &html); err != nil {
		return fmt.Errorf("failed to render summary html: %w", err)
	}
	if err := filelock.AtomicWrite(filepath.Join(dir, SummaryHTML), html.Bytes()); err != nil {
		return fmt.Errorf("failed to write summary html: %w", err)
	}
	return nil
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
