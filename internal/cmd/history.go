package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harrison/rendertest/internal/config"
	"github.com/harrison/rendertest/internal/history"
	"github.com/harrison/rendertest/internal/models"
)

// NewHistoryCommand creates the 'rendertest history' command
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded render attempts",
		Long: `Display the render attempts recorded by previous batches.

Attempts are recorded when history.enabled is set in the config file.
With --case the attempts of a single case are listed together with its
success rate, crash and timeout counts and average attempt duration.`,
		Args: cobra.NoArgs,
		RunE: runHistory,
	}

	cmd.Flags().String("case", "", "Only show attempts of this case")
	cmd.Flags().Int("limit", 20, "Maximum number of attempts to list")
	cmd.Flags().String("db", "", "Path to the history database (default: history.db_path from config)")
	cmd.Flags().String("config", "", "Path to config file (default: .rendertest/config.yaml)")

	return cmd
}

// runHistory executes the history command
func runHistory(cmd *cobra.Command, args []string) error {
	output := cmd.OutOrStdout()
	caseName, _ := cmd.Flags().GetString("case")
	limit, _ := cmd.Flags().GetInt("limit")
	dbPath, _ := cmd.Flags().GetString("db")

	if dbPath == "" {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, home, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		dbPath = config.ResolvePath(home, cfg.History.DBPath)
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Fprintf(output, "No attempt history found\n")
		fmt.Fprintf(output, "Database path: %s\n", dbPath)
		return nil
	}

	store, err := history.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	return showHistory(cmd.Context(), store, caseName, limit, output)
}

// showHistory prints the stats of caseName (when set) and its recent attempts
func showHistory(ctx context.Context, store *history.Store, caseName string, limit int, w io.Writer) error {
	var stats *history.CaseStats
	if caseName != "" {
		var err error
		stats, err = store.Stats(ctx, caseName)
		if err != nil {
			return fmt.Errorf("get statistics: %w", err)
		}
		if stats == nil {
			fmt.Fprintf(w, "No attempts recorded for case: %s\n", caseName)
			return nil
		}
	}

	attempts, err := store.RecentAttempts(ctx, caseName, limit)
	if err != nil {
		return fmt.Errorf("get attempts: %w", err)
	}
	if len(attempts) == 0 {
		fmt.Fprintf(w, "No attempts recorded\n")
		return nil
	}

	palette := newStatusPalette(w)
	if stats != nil {
		printCaseStats(w, stats, palette)
	}
	printAttempts(w, attempts, palette)
	return nil
}

// statusPalette colours statuses consistently across the history views
type statusPalette struct {
	header *color.Color
	colors map[string]*color.Color
}

func newStatusPalette(w io.Writer) statusPalette {
	p := statusPalette{
		header: color.New(color.FgCyan, color.Bold),
		colors: map[string]*color.Color{
			models.StatusSuccess: color.New(color.FgGreen),
			models.StatusDiff:    color.New(color.FgYellow),
			models.StatusCrash:   color.New(color.FgRed),
			models.StatusIgnore:  color.New(color.FgHiBlack),
		},
	}
	if !useColor(w) {
		p.header.DisableColor()
		for _, c := range p.colors {
			c.DisableColor()
		}
	}
	return p
}

func (p statusPalette) status(s string) string {
	if c, ok := p.colors[s]; ok {
		return c.Sprint(s)
	}
	return s
}

func printCaseStats(w io.Writer, stats *history.CaseStats, p statusPalette) {
	p.header.Fprintf(w, "\n=== History for %s ===\n\n", stats.CaseName)

	rate := float64(stats.Successes) / float64(stats.Attempts) * 100
	fmt.Fprintf(w, "  Attempts:     %d\n", stats.Attempts)
	fmt.Fprintf(w, "  Success rate: %.1f%%\n", rate)
	fmt.Fprintf(w, "  Crashes:      %d\n", stats.Crashes)
	fmt.Fprintf(w, "  Timeouts:     %d\n", stats.Timeouts)
	fmt.Fprintf(w, "  Avg duration: %s\n", stats.AvgDuration.Round(time.Millisecond))
	fmt.Fprintf(w, "  Last status:  %s (batch %s)\n", p.status(stats.LastStatus), stats.LastBatchID)
}

func printAttempts(w io.Writer, attempts []*history.Attempt, p statusPalette) {
	p.header.Fprintf(w, "\nRecent attempts:\n")
	for _, a := range attempts {
		timeout := ""
		if a.TimedOut {
			timeout = " (timed out)"
		}
		fmt.Fprintf(w, "  %s  %-24s #%d  %s%s  %s\n",
			a.StartedAt.Local().Format(models.DateTimeLayout),
			a.CaseName, a.Attempt, p.status(a.Status), timeout,
			a.Duration.Round(time.Millisecond))
		if a.Message != "" {
			fmt.Fprintf(w, "      %s\n", a.Message)
		}
	}
}
