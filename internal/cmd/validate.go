package cmd

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/harrison/rendertest/internal/command"
	"github.com/harrison/rendertest/internal/executor"
	"github.com/harrison/rendertest/internal/merge"
	"github.com/harrison/rendertest/internal/models"
	"github.com/harrison/rendertest/internal/profile"
	"github.com/harrison/rendertest/internal/report"
)

// validateOptions are the inputs of a dry validation pass.
type validateOptions struct {
	TestsList    string
	ToolPath     string
	ScenePath    string
	OutputDir    string
	RenderDevice string
	ToolVersion  string
}

// NewValidateCommand creates and returns the validate subcommand
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a tests list and print the render commands",
		Long: `Load a tests list, check every case and print the command line each
active case would run, without running anything.

Checks performed:
  - The list parses and case names are unique
  - Required fields are present and extra_args can be split
  - render_time is positive
  - Settings overlay values have the expected types
  - skip_on and min_tool_version against this machine's profile

Exit code: 0 if valid, 1 if errors found`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			opts := validateOptions{}
			opts.TestsList, _ = flags.GetString("tests-list")
			opts.ToolPath, _ = flags.GetString("tool")
			opts.ScenePath, _ = flags.GetString("scene-path")
			opts.OutputDir, _ = flags.GetString("output-dir")
			opts.RenderDevice, _ = flags.GetString("render-device")
			opts.ToolVersion, _ = flags.GetString("tool-version")
			return validateTestsListWithOutput(opts, cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}

	cmd.Flags().String("tests-list", "", "Path to the tests list JSON")
	cmd.Flags().String("tool", "render", "Render executable shown in the commands")
	cmd.Flags().String("scene-path", "", "Root directory scene_sub_path is relative to")
	cmd.Flags().String("output-dir", ".", "Output directory the work dir is placed in")
	cmd.Flags().String("render-device", "", "Render device matched by skip_on")
	cmd.Flags().String("tool-version", "", "Render tool version checked against min_tool_version")
	_ = cmd.MarkFlagRequired("tests-list")

	return cmd
}

// validateTestsListWithOutput validates a tests list with custom output writer (for testing)
func validateTestsListWithOutput(opts validateOptions, output io.Writer) error {
	store := &report.CaseStore{Path: opts.TestsList}
	cases, err := store.Load()
	if err != nil {
		return err
	}
	if err := models.ValidateBatch(cases); err != nil {
		return fmt.Errorf("invalid tests list: %w", err)
	}

	prof := profile.Current(opts.RenderDevice, opts.ToolVersion)
	builder := command.Options{
		ToolPath:   opts.ToolPath,
		ScenesRoot: opts.ScenePath,
		WorkDir:    filepath.Join(opts.OutputDir, executor.WorkDirName),
	}

	fmt.Fprintf(output, "Validating %d case(s) from %s (platform %s)\n\n", len(cases), opts.TestsList, prof.Platform)

	var errCount, skipCount int
	for _, tc := range cases {
		if tc.Status == models.StatusIgnore {
			skipCount++
			fmt.Fprintf(output, "- %s: skipped (disabled in the tests list)\n", tc.Name)
			continue
		}

		reason, skip, err := prof.SkipReason(tc)
		if err != nil {
			errCount++
			fmt.Fprintf(output, "✗ %s: %v\n", tc.Name, err)
			continue
		}
		if skip {
			skipCount++
			fmt.Fprintf(output, "- %s: skipped (%s)\n", tc.Name, reason)
			continue
		}
		if !tc.IsActive() {
			skipCount++
			fmt.Fprintf(output, "- %s: not rendered (status %q in the tests list)\n", tc.Name, tc.Status)
			continue
		}

		cmd, err := buildForValidation(tc, builder)
		if err != nil {
			errCount++
			fmt.Fprintf(output, "✗ %s: %v\n", tc.Name, err)
			continue
		}
		fmt.Fprintf(output, "✓ %s\n    %s\n", tc.Name, cmd.Invocation.String())
		if merge.HasOverlay(tc) {
			fmt.Fprintf(output, "    (scene is merged with a settings overlay before rendering)\n")
		}
	}

	fmt.Fprintf(output, "\n%d case(s): %d runnable, %d skipped, %d invalid\n",
		len(cases), len(cases)-skipCount-errCount, skipCount, errCount)

	if errCount > 0 {
		return fmt.Errorf("%d case(s) failed validation", errCount)
	}
	return nil
}

// buildForValidation applies the same preparation checks as a real run,
// minus the stitch step.
func buildForValidation(tc models.TestCase, opts command.Options) (*command.Command, error) {
	cmd, err := command.Build(tc, opts)
	if err != nil {
		return nil, err
	}
	if tc.Timeout() <= 0 {
		return nil, command.NewCasePreparationError(tc.Name, fmt.Sprintf("render_time must be > 0, got %v", *tc.RenderTime), nil)
	}
	if _, err := merge.Settings(tc); err != nil {
		return nil, command.NewCasePreparationError(tc.Name, "invalid settings overlay", err)
	}
	return cmd, nil
}
