package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/rendertest/internal/baseline"
	"github.com/harrison/rendertest/internal/command"
	"github.com/harrison/rendertest/internal/fileutil"
	"github.com/harrison/rendertest/internal/logger"
	"github.com/harrison/rendertest/internal/merge"
	"github.com/harrison/rendertest/internal/models"
	"github.com/harrison/rendertest/internal/profile"
	"github.com/harrison/rendertest/internal/report"
)

// Logger receives batch progress. Console, file and no-op loggers satisfy it.
type Logger interface {
	LogTrace(message string)
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
	LogError(message string)
	LogBatchStart(group string, total int)
	LogCaseStart(tc models.TestCase, index, total int)
	LogCaseResult(result models.CaseResult) error
	LogSummary(result models.BatchResult)
}

// WorkDirName is the default scratch directory inside the output dir.
const WorkDirName = "render_work"

// Options configures one batch run.
type Options struct {
	ToolPath     string // Render executable
	TestsList    string // Input tests-list JSON
	OutputDir    string // Batch output directory
	ScenePath    string // Root that scene_sub_path is relative to
	TestGroup    string
	Retries      int
	UpdateRefs   string
	Engine       string // Recorded as the report's tool
	RenderDevice string
	ToolVersion  string

	WorkDir           string // Empty means <OutputDir>/render_work
	StitchTool        string
	MergeTimeout      time.Duration
	GroupTimeout      time.Duration // 0 = unlimited
	BaselineStore     string        // Empty means the platform default for TestGroup
	ThumbnailPrefixes []string
	StubImageDir      string
	AggregateStrict   bool

	BatchID string // Generated when empty
}

// plannedCase is a case after preparation.
type plannedCase struct {
	index   int
	report  *models.CaseReport
	skipped bool
	kept    bool // Not active in the tests list; keeps its predefined report
	prepErr error
}

// Runner executes a batch: preparation, sequential case execution with
// retries, then aggregation.
type Runner struct {
	opts       Options
	logger     Logger
	supervisor ProcessRunner
	history    AttemptRecorder
	validate   ValidateFunc
	now        func() time.Time
}

// NewRunner creates a Runner. A nil logger discards all output.
func NewRunner(opts Options, log Logger, supervisor ProcessRunner) *Runner {
	if supervisor == nil {
		panic("process runner cannot be nil")
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if opts.BatchID == "" {
		opts.BatchID = uuid.New().String()
	}
	if opts.WorkDir == "" {
		opts.WorkDir = filepath.Join(opts.OutputDir, WorkDirName)
	}
	if opts.Retries <= 0 {
		opts.Retries = 1
	}
	if opts.ThumbnailPrefixes == nil {
		opts.ThumbnailPrefixes = models.DefaultThumbnailPrefixes
	}
	return &Runner{
		opts:       opts,
		logger:     log,
		supervisor: supervisor,
		now:        time.Now,
	}
}

// WithHistory records every attempt into h.
func (r *Runner) WithHistory(h AttemptRecorder) *Runner {
	r.history = h
	return r
}

// BatchID returns the id stamped on reports and history rows.
func (r *Runner) BatchID() string {
	return r.opts.BatchID
}

// Run executes the batch. Per-case failures end up in the case reports; an
// error is returned only when the tests list cannot be imported or strict
// aggregation fails.
func (r *Runner) Run(ctx context.Context) (*models.BatchResult, error) {
	start := r.now()

	if err := r.prepareDirs(); err != nil {
		return nil, err
	}

	store, err := report.ImportTestsList(r.opts.TestsList, r.opts.OutputDir)
	if err != nil {
		return nil, err
	}
	cases, err := store.Load()
	if err != nil {
		return nil, err
	}
	if err := models.ValidateBatch(cases); err != nil {
		return nil, fmt.Errorf("invalid tests list: %w", err)
	}

	plans := r.prepare(cases)
	if err := store.Save(cases); err != nil {
		GracefulWarn(r.logger, "failed to save case list: %v", err)
	}

	batch := &models.BatchResult{BatchID: r.opts.BatchID, TestGroup: r.opts.TestGroup}
	r.execute(ctx, cases, plans, store, batch)
	batch.Duration = r.now().Sub(start)

	if err := r.aggregate(cases); err != nil {
		return batch, err
	}
	return batch, nil
}

func (r *Runner) prepareDirs() error {
	for _, dir := range []string{
		r.opts.OutputDir,
		filepath.Join(r.opts.OutputDir, models.ColorDir),
		filepath.Join(r.opts.OutputDir, models.CaseLogsDir),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	return nil
}

// prepare writes a pessimistic report for every case, decides skips, copies
// baselines and stub images. Skipped cases get status ignore in cases.
func (r *Runner) prepare(cases []models.TestCase) []*plannedCase {
	prof := profile.Current(r.opts.RenderDevice, r.opts.ToolVersion)
	r.logger.LogInfo(fmt.Sprintf("Machine profile: platform=%s render_device=%s", prof.Platform, prof.RenderDevice))

	copier := r.baselineCopier()

	plans := make([]*plannedCase, len(cases))
	for i := range cases {
		tc := &cases[i]
		plan := &plannedCase{index: i, report: r.newCaseReport(*tc)}
		plans[i] = plan

		reason, skip, err := prof.SkipReason(*tc)
		switch {
		case err != nil:
			plan.prepErr = NewCaseError(tc.Name, PhasePrepare, "skip check failed", err)
		case skip:
			plan.skipped = true
			plan.report.AddMessage(reason)
		case tc.Status == models.StatusIgnore:
			plan.skipped = true
			plan.report.AddMessage("case is disabled in the tests list")
		case !tc.IsActive():
			plan.kept = true
			if models.IsTerminalStatus(tc.Status) {
				plan.report.AddMessage(fmt.Sprintf("case not rendered: status is %q in the tests list", tc.Status))
			} else {
				plan.report.AddMessage(fmt.Sprintf("case not rendered: unknown status %q in the tests list", tc.Status))
			}
		}

		if plan.skipped {
			tc.Status = models.StatusIgnore
			plan.report.TestStatus = models.StatusIgnore
			plan.report.GroupTimeoutExceeded = false
		}
		r.logger.LogDebug(fmt.Sprintf("Case: %s; Engine: %s; Skip here: %t; Predefined status: %s",
			tc.Name, r.opts.Engine, plan.skipped, plan.report.TestStatus))

		if copier != nil {
			if _, err := copier.Copy(tc.Name); err != nil {
				GracefulWarn(r.logger, "Baseline: %v", err)
			}
		}
		r.copyStubImage(*tc, plan.report.TestStatus)

		if err := report.WriteCaseReport(r.opts.OutputDir, plan.report); err != nil {
			GracefulWarn(r.logger, "%v", err)
		}
	}
	return plans
}

func (r *Runner) baselineCopier() *baseline.Copier {
	if baseline.IsUpdateMode(r.opts.UpdateRefs) {
		r.logger.LogInfo("Baseline update mode: reference copy skipped")
		return nil
	}

	store := r.opts.BaselineStore
	if store == "" {
		store = baseline.DefaultStoreDir(runtime.GOOS, r.opts.TestGroup, os.Getenv)
	}
	copier := &baseline.Copier{
		StoreDir:          store,
		LocalDir:          baseline.LocalDir(r.opts.OutputDir, r.opts.TestGroup),
		ThumbnailPrefixes: r.opts.ThumbnailPrefixes,
	}
	if err := copier.Prepare(); err != nil {
		GracefulWarn(r.logger, "Baseline: %v", err)
		return nil
	}
	return copier
}

// copyStubImage publishes <stub dir>/<status><ext> as the case image so the
// report never points at a missing file.
func (r *Runner) copyStubImage(tc models.TestCase, status string) {
	if r.opts.StubImageDir == "" || tc.FileExt == "" {
		return
	}
	src := filepath.Join(r.opts.StubImageDir, status+tc.FileExt)
	dst := filepath.Join(r.opts.OutputDir, models.ColorDir, tc.ImageName())
	if err := fileutil.CopyFile(src, dst); err != nil {
		GracefulWarn(r.logger, "Can't create img stub for %s: %v", tc.Name, err)
	}
}

func (r *Runner) newCaseReport(tc models.TestCase) *models.CaseReport {
	rep := &models.CaseReport{
		TestStatus:          models.StatusCrash,
		RenderDevice:        r.opts.RenderDevice,
		TestCase:            tc.Name,
		SceneName:           tc.SceneSubPath,
		Tool:                r.opts.Engine,
		FileName:            tc.ImageName(),
		DateTime:            models.FormatDateTime(r.now()),
		TestGroup:           r.opts.TestGroup,
		RenderColorPath:     filepath.ToSlash(filepath.Join(models.ColorDir, tc.ImageName())),
		ScriptInfo:          tc.ScriptInfo,
		Width:               command.DefaultWidth,
		Complexity:          command.DefaultComplexity,
		ColorCorrectionMode: command.DefaultColorCorrectionMode,
		StartFrame:          tc.StartFrame,
		EndFrame:            tc.EndFrame,
		Step:                tc.Step,
		Message:             []string{},
		BatchID:             r.opts.BatchID,
	}
	if rep.ScriptInfo == nil {
		rep.ScriptInfo = []string{}
	}
	if tc.RenderTime != nil {
		rep.TestcaseTimeout = *tc.RenderTime
	}
	if tc.Width != nil {
		rep.Width = *tc.Width
	}
	if tc.Complexity != nil {
		rep.Complexity = *tc.Complexity
	}
	if tc.ColorCorrectionMode != nil {
		rep.ColorCorrectionMode = *tc.ColorCorrectionMode
	}
	if tc.Renderer != nil {
		rep.Renderer = *tc.Renderer
	}
	if tc.Camera != nil {
		rep.Camera = *tc.Camera
	}
	return rep
}

// execute runs every active, non-skipped case in input order.
func (r *Runner) execute(ctx context.Context, cases []models.TestCase, plans []*plannedCase, store *report.CaseStore, batch *models.BatchResult) {
	runnable := 0
	for _, p := range plans {
		if !p.skipped && !p.kept {
			runnable++
		}
	}
	r.logger.LogBatchStart(r.opts.TestGroup, runnable)

	var groupDeadline time.Time
	if r.opts.GroupTimeout > 0 {
		groupDeadline = r.now().Add(r.opts.GroupTimeout)
	}

	retry := &RetryController{
		Runner:    r.supervisor,
		Retries:   r.opts.Retries,
		OutputDir: r.opts.OutputDir,
		BatchID:   r.opts.BatchID,
		TestGroup: r.opts.TestGroup,
		Logger:    r.logger,
		History:   r.history,
		Validate:  r.validate,
		now:       r.now,
	}
	merger := &merge.Merger{
		Runner:     r.supervisor,
		StitchTool: r.opts.StitchTool,
		Timeout:    r.opts.MergeTimeout,
	}

	position := 0
	for _, plan := range plans {
		tc := cases[plan.index]
		if plan.skipped {
			batch.Add(models.CaseResult{Case: tc, Status: models.StatusIgnore, Messages: plan.report.Message})
			continue
		}
		if plan.kept {
			r.logger.LogInfo(fmt.Sprintf("%s: not active (status %q), keeping its predefined report", tc.Name, tc.Status))
			batch.Add(models.CaseResult{Case: tc, Status: plan.report.TestStatus, Messages: plan.report.Message})
			continue
		}
		position++

		var result models.CaseResult
		switch {
		case ctx.Err() != nil:
			result = r.abandon(tc, plan, "batch interrupted before the case started", false)
		case !groupDeadline.IsZero() && !r.now().Before(groupDeadline):
			result = r.abandon(tc, plan, fmt.Sprintf("group timeout of %v exceeded before the case started", r.opts.GroupTimeout), true)
		default:
			r.logger.LogCaseStart(tc, position, runnable)
			result = r.runCase(ctx, tc, plan, merger, retry)
		}

		cases[plan.index].Status = result.Status
		if err := store.Save(cases); err != nil {
			GracefulWarn(r.logger, "failed to save case list: %v", err)
		}
		if err := r.logger.LogCaseResult(result); err != nil {
			GracefulWarn(r.logger, "failed to log result for %s: %v", tc.Name, err)
		}
		batch.Add(result)
	}
}

// abandon finalizes a case that never ran.
func (r *Runner) abandon(tc models.TestCase, plan *plannedCase, reason string, groupTimeout bool) models.CaseResult {
	plan.report.TestStatus = models.StatusCrash
	plan.report.GroupTimeoutExceeded = groupTimeout
	plan.report.AddMessage(reason)
	if err := report.WriteCaseReport(r.opts.OutputDir, plan.report); err != nil {
		GracefulWarn(r.logger, "%v", err)
	}
	return models.CaseResult{Case: tc, Status: models.StatusCrash, Messages: plan.report.Message}
}

// runCase merges, builds and retries one case, then writes the final report.
func (r *Runner) runCase(ctx context.Context, tc models.TestCase, plan *plannedCase, merger *merge.Merger, retry *RetryController) models.CaseResult {
	started := r.now()
	rep := plan.report
	rep.TestingStart = models.FormatDateTime(started)

	caseLog := logger.NewCaseLog(r.opts.OutputDir, tc.Name)
	rep.RenderLog = filepath.ToSlash(filepath.Join(models.CaseLogsDir, tc.Name+".log"))

	result := models.CaseResult{Case: tc, Status: models.StatusCrash}

	cmd, err := r.prepareCommand(ctx, tc, plan, merger)
	if err != nil {
		rep.AddMessage(err.Error())
		if logErr := caseLog.AppendNote(err.Error()); logErr != nil {
			GracefulWarn(r.logger, "%s: case log: %v", tc.Name, logErr)
		}
		switch {
		case merge.IsMergeError(err):
			r.logger.LogError(fmt.Sprintf("%s: not rendered, scene merge failed: %v", tc.Name, err))
		case command.IsCasePreparationError(err):
			r.logger.LogError(fmt.Sprintf("%s: not rendered, invalid case definition: %v", tc.Name, err))
		default:
			r.logger.LogError(err.Error())
		}
	} else {
		outcome := retry.Execute(ctx, &CaseRun{Case: tc, Command: cmd, Report: rep, Log: caseLog})
		result.Status = outcome.Status
		result.Attempts = outcome.Attempts
		result.TimedOut = outcome.TimedOut
	}

	rep.TestStatus = result.Status
	rep.Attempts = result.Attempts
	rep.DateTime = models.FormatDateTime(r.now())
	if err := report.WriteCaseReport(r.opts.OutputDir, rep); err != nil {
		GracefulWarn(r.logger, "%v", err)
	}

	result.Duration = r.now().Sub(started)
	result.Messages = rep.Message
	return result
}

// prepareCommand turns a case into a runnable command, stitching its
// settings overlay first when it has one.
func (r *Runner) prepareCommand(ctx context.Context, tc models.TestCase, plan *plannedCase, merger *merge.Merger) (*command.Command, error) {
	if plan.prepErr != nil {
		return nil, plan.prepErr
	}

	opts := command.Options{
		ToolPath:   r.opts.ToolPath,
		ScenesRoot: r.opts.ScenePath,
		WorkDir:    r.opts.WorkDir,
	}
	cmd, err := command.Build(tc, opts)
	if err != nil {
		return nil, err
	}
	if tc.Timeout() <= 0 {
		return nil, command.NewCasePreparationError(tc.Name, fmt.Sprintf("render_time must be > 0, got %v", *tc.RenderTime), nil)
	}

	merged, err := merger.Merge(ctx, tc, cmd.ScenePath)
	if err != nil {
		return nil, NewCaseError(tc.Name, PhaseMerge, "scene merge failed", err)
	}
	if merged != "" {
		opts.SceneOverride = merged
		if cmd, err = command.Build(tc, opts); err != nil {
			return nil, err
		}
		r.logger.LogDebug(fmt.Sprintf("%s: using merged scene %s", tc.Name, merged))
	}

	if err := os.MkdirAll(r.opts.WorkDir, 0755); err != nil {
		return nil, NewCaseError(tc.Name, PhasePrepare, "failed to create work dir", err)
	}
	return cmd, nil
}

// aggregate writes report.json, renderTool.log and the summaries.
func (r *Runner) aggregate(cases []models.TestCase) error {
	order := make([]string, len(cases))
	for i, tc := range cases {
		order[i] = tc.Name
	}

	agg, err := report.Aggregate(r.opts.OutputDir, report.AggregateOptions{Order: order, Strict: r.opts.AggregateStrict})
	if err != nil {
		r.logger.LogError(fmt.Sprintf("Aggregation failed: %v", err))
		return fmt.Errorf("aggregate reports: %w", err)
	}
	for _, skipped := range agg.Skipped {
		GracefulWarn(r.logger, "Aggregation skipped %v", skipped)
	}

	if _, err := report.CombineLogs(r.opts.OutputDir); err != nil {
		GracefulWarn(r.logger, "failed to combine logs: %v", err)
	}

	info := report.SummaryInfo{TestGroup: r.opts.TestGroup, BatchID: r.opts.BatchID, Tool: r.opts.Engine}
	if err := report.WriteSummary(r.opts.OutputDir, info, agg.Reports); err != nil {
		GracefulWarn(r.logger, "failed to write summary: %v", err)
	}

	GracefulInfo(r.logger, "Aggregate report written to %s (%d cases)", agg.Path, len(agg.Reports))
	return nil
}
