package cmd

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/rendertest/internal/config"
	"github.com/harrison/rendertest/internal/executor"
	"github.com/harrison/rendertest/internal/history"
	"github.com/harrison/rendertest/internal/logger"
	"github.com/harrison/rendertest/internal/models"
	"github.com/harrison/rendertest/internal/process"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Render every case in a tests list",
		Long: `Run a batch of render test cases.

The tests list is copied into the output directory as test_cases.json.
Every case gets a pessimistic report and its baseline before anything runs.
Active cases are then rendered one at a time, each retried up to --retries
times while it crashes. When the batch ends the per-case reports and logs
are aggregated into report.json, renderTool.log and summary.md.

Configuration is loaded from .rendertest/config.yaml if present.
CLI flags override configuration file settings.

Examples:
  rendertest run --tool /opt/render/bin/render --tests-list Smoke.json \
    --output-dir Work/Results/Smoke --scene-path /scenes --test-group Smoke

  # Refresh references instead of copying them
  rendertest run ... --update-refs Update

  # Three attempts per case and verbose logs
  rendertest run ... --retries 3 --log-level debug`,
		Args: cobra.NoArgs,
		RunE: runCommand,
	}

	cmd.Flags().String("tool", "", "Path to the render executable")
	cmd.Flags().String("tests-list", "", "Path to the tests list JSON")
	cmd.Flags().String("output-dir", "", "Directory for reports, images and logs")
	cmd.Flags().String("scene-path", "", "Root directory scene_sub_path is relative to")
	cmd.Flags().String("test-group", "", "Test group name, used to locate baselines")
	cmd.Flags().Int("retries", 2, "Maximum render attempts per case")
	cmd.Flags().String("update-refs", "No", "Baseline update mode (No, Update, Update_and_compare)")
	cmd.Flags().String("engine", "", "Engine name recorded in reports")
	cmd.Flags().String("render-device", "", "Render device name recorded in reports and matched by skip_on")
	cmd.Flags().String("tool-version", "", "Render tool version, checked against min_tool_version")
	cmd.Flags().String("stitch-tool", "", "Executable that merges settings overlays into scenes")
	cmd.Flags().String("config", "", "Path to config file (default: .rendertest/config.yaml)")
	cmd.Flags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	cmd.Flags().String("log-dir", "", "Directory for run logs")
	cmd.Flags().Duration("group-timeout", 0, "Time budget for the whole batch (0 = unlimited)")

	for _, name := range []string{"tool", "tests-list", "output-dir"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

// runCommand implements the run command logic
func runCommand(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, home, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Build flag pointers for merge (only non-default values)
	var retriesPtr *int
	if cmd.Flags().Changed("retries") {
		retries, _ := cmd.Flags().GetInt("retries")
		retriesPtr = &retries
	}
	var logLevelPtr *string
	if cmd.Flags().Changed("log-level") {
		level, _ := cmd.Flags().GetString("log-level")
		logLevelPtr = &level
	}
	var logDirPtr *string
	if cmd.Flags().Changed("log-dir") {
		dir, _ := cmd.Flags().GetString("log-dir")
		logDirPtr = &dir
	}
	var stitchPtr *string
	if cmd.Flags().Changed("stitch-tool") {
		stitch, _ := cmd.Flags().GetString("stitch-tool")
		stitchPtr = &stitch
	}
	var groupTimeoutPtr *time.Duration
	if cmd.Flags().Changed("group-timeout") {
		d, _ := cmd.Flags().GetDuration("group-timeout")
		groupTimeoutPtr = &d
	}

	// Merge CLI flags with config (flags take precedence)
	cfg.MergeWithFlags(retriesPtr, logLevelPtr, logDirPtr, stitchPtr, groupTimeoutPtr)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	opts, err := runOptions(cmd, cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	consoleLog := logger.NewConsoleLogger(out, cfg.LogLevel)

	logDir := config.ResolvePath(home, cfg.LogDir)
	fileLog, err := logger.NewFileLoggerWithDirAndLevel(logDir, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	defer fileLog.Close()

	multiLog := &multiLogger{
		loggers: []executor.Logger{consoleLog, fileLog},
	}

	runner := executor.NewRunner(opts, multiLog, process.NewSupervisor())

	if cfg.History.Enabled {
		dbPath := config.ResolvePath(home, cfg.History.DBPath)
		store, err := history.NewStore(dbPath)
		if err != nil {
			// History is best effort; the batch still runs without it
			executor.GracefulWarn(multiLog, "Attempt history disabled: %v", err)
		} else {
			defer store.Close()
			runner.WithHistory(store)
			multiLog.LogDebug(fmt.Sprintf("Recording attempts to %s", dbPath))
		}
	}

	orch := executor.NewOrchestrator(runner, multiLog)
	result, err := orch.ExecuteBatch(cmd.Context())
	if err != nil {
		return fmt.Errorf("batch failed: %w", err)
	}

	if failed := result.Failed(); len(failed) > 0 {
		fmt.Fprintf(out, "\nBatch %s completed with %d failed case(s).\n", result.BatchID, len(failed))
	} else {
		fmt.Fprintf(out, "\nBatch %s completed successfully!\n", result.BatchID)
	}
	fmt.Fprintf(out, "Reports written to: %s\n", filepath.Join(opts.OutputDir, models.AggregateReport))
	fmt.Fprintf(out, "Logs written to: %s\n", fileLog.RunFile())

	return nil
}

// runOptions maps flags and config onto the runner's options.
func runOptions(cmd *cobra.Command, cfg *config.Config) (executor.Options, error) {
	flags := cmd.Flags()
	tool, _ := flags.GetString("tool")
	testsList, _ := flags.GetString("tests-list")
	outputDir, _ := flags.GetString("output-dir")
	scenePath, _ := flags.GetString("scene-path")
	testGroup, _ := flags.GetString("test-group")
	updateRefs, _ := flags.GetString("update-refs")
	engine, _ := flags.GetString("engine")
	renderDevice, _ := flags.GetString("render-device")
	toolVersion, _ := flags.GetString("tool-version")

	// The render and stitch tools run inside the work dir, so every path
	// handed to them is anchored at the current directory first.
	absOutput, err := filepath.Abs(outputDir)
	if err != nil {
		return executor.Options{}, fmt.Errorf("resolve output dir: %w", err)
	}
	absScenes, err := filepath.Abs(scenePath)
	if err != nil {
		return executor.Options{}, fmt.Errorf("resolve scene path: %w", err)
	}
	workDir := cfg.WorkDir
	if workDir != "" {
		if workDir, err = filepath.Abs(workDir); err != nil {
			return executor.Options{}, fmt.Errorf("resolve work dir: %w", err)
		}
	}
	if tool, err = absExecutable(tool); err != nil {
		return executor.Options{}, fmt.Errorf("resolve tool: %w", err)
	}
	stitchTool, err := absExecutable(cfg.StitchTool)
	if err != nil {
		return executor.Options{}, fmt.Errorf("resolve stitch tool: %w", err)
	}

	return executor.Options{
		ToolPath:          tool,
		TestsList:         testsList,
		OutputDir:         absOutput,
		ScenePath:         absScenes,
		TestGroup:         testGroup,
		Retries:           cfg.Retries,
		UpdateRefs:        updateRefs,
		Engine:            engine,
		RenderDevice:      renderDevice,
		ToolVersion:       toolVersion,
		WorkDir:           workDir,
		StitchTool:        stitchTool,
		MergeTimeout:      cfg.MergeTimeout,
		GroupTimeout:      cfg.GroupTimeout,
		BaselineStore:     cfg.BaselineStore,
		ThumbnailPrefixes: cfg.ThumbnailPrefixes,
		StubImageDir:      cfg.StubImageDir,
		AggregateStrict:   cfg.AggregateStrict,
	}, nil
}

// absExecutable makes a path-like executable absolute. Bare names are left
// for PATH lookup.
func absExecutable(name string) (string, error) {
	if name == "" || filepath.IsAbs(name) || !strings.ContainsAny(name, `/\`) {
		return name, nil
	}
	return filepath.Abs(name)
}

// multiLogger implements executor.Logger by delegating to multiple loggers
type multiLogger struct {
	loggers []executor.Logger
}

// LogTrace forwards to all loggers
func (ml *multiLogger) LogTrace(message string) {
	for _, l := range ml.loggers {
		l.LogTrace(message)
	}
}

// LogDebug forwards to all loggers
func (ml *multiLogger) LogDebug(message string) {
	for _, l := range ml.loggers {
		l.LogDebug(message)
	}
}

// LogInfo forwards to all loggers
func (ml *multiLogger) LogInfo(message string) {
	for _, l := range ml.loggers {
		l.LogInfo(message)
	}
}

// LogWarn forwards to all loggers
func (ml *multiLogger) LogWarn(message string) {
	for _, l := range ml.loggers {
		l.LogWarn(message)
	}
}

// LogError forwards to all loggers
func (ml *multiLogger) LogError(message string) {
	for _, l := range ml.loggers {
		l.LogError(message)
	}
}

// LogBatchStart forwards to all loggers
func (ml *multiLogger) LogBatchStart(group string, total int) {
	for _, l := range ml.loggers {
		l.LogBatchStart(group, total)
	}
}

// LogCaseStart forwards to all loggers
func (ml *multiLogger) LogCaseStart(tc models.TestCase, index, total int) {
	for _, l := range ml.loggers {
		l.LogCaseStart(tc, index, total)
	}
}

// LogCaseResult forwards to all loggers
func (ml *multiLogger) LogCaseResult(result models.CaseResult) error {
	var lastErr error
	for _, l := range ml.loggers {
		if err := l.LogCaseResult(result); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// LogSummary forwards to all loggers
func (ml *multiLogger) LogSummary(result models.BatchResult) {
	for _, l := range ml.loggers {
		l.LogSummary(result)
	}
}
