package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harrison/rendertest/internal/command"
	"github.com/harrison/rendertest/internal/fileutil"
	"github.com/harrison/rendertest/internal/history"
	"github.com/harrison/rendertest/internal/logger"
	"github.com/harrison/rendertest/internal/models"
	"github.com/harrison/rendertest/internal/process"
	"github.com/harrison/rendertest/internal/report"
	"github.com/harrison/rendertest/internal/validator"
)

// ProcessRunner runs an invocation under a timeout.
// *process.Supervisor satisfies it.
type ProcessRunner interface {
	Run(ctx context.Context, inv process.Invocation, timeout time.Duration) (*process.Result, error)
}

// AttemptRecorder persists one row per render attempt.
// *history.Store satisfies it.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, a *history.Attempt) error
}

// ValidateFunc judges the artifact an attempt left behind.
type ValidateFunc func(expected, dest string) validator.Outcome

// CaseRun is everything the retry loop needs for one case.
type CaseRun struct {
	Case    models.TestCase
	Command *command.Command
	Report  *models.CaseReport
	Log     *logger.CaseLog
}

// RetryOutcome summarizes a finished retry loop.
type RetryOutcome struct {
	Status   string
	Attempts int
	TimedOut bool // The last attempt hit the render timeout
	Canceled bool // The batch context ended during the loop
}

// RetryController runs render attempts until one produces a non-crash
// status or the attempt budget is spent.
type RetryController struct {
	Runner    ProcessRunner
	Retries   int
	OutputDir string
	BatchID   string
	TestGroup string

	// Optional collaborators
	Logger   Logger
	History  AttemptRecorder
	Validate ValidateFunc

	now func() time.Time
}

func (rc *RetryController) clock() time.Time {
	if rc.now != nil {
		return rc.now()
	}
	return time.Now()
}

// Execute runs the loop for run. Only crash is retried; success and diff end
// the loop at once. The case report is overwritten after every attempt and
// every attempt is appended to the case log.
func (rc *RetryController) Execute(ctx context.Context, run *CaseRun) *RetryOutcome {
	validate := rc.Validate
	if validate == nil {
		validate = validator.Validate
	}

	tc := run.Case
	cmd := run.Command
	timeout := tc.Timeout()
	dest := filepath.Join(rc.OutputDir, models.ColorDir, tc.ImageName())
	workDir := filepath.Dir(cmd.ExpectedOutput)

	out := &RetryOutcome{Status: models.StatusCrash}
	for out.Attempts < rc.Retries && out.Status == models.StatusCrash {
		if ctx.Err() != nil {
			out.Canceled = true
			break
		}
		out.Attempts++
		attempt := out.Attempts

		if rc.Logger != nil {
			rc.Logger.LogDebug(fmt.Sprintf("%s: try #%d: %s", tc.Name, attempt, cmd.Invocation))
		}
		rc.removeArtifacts(workDir, cmd)

		started := rc.clock()
		result, err := rc.Runner.Run(ctx, cmd.Invocation, timeout)
		if err != nil {
			msg := fmt.Sprintf("failed to start render tool: %v", err)
			if logErr := run.Log.AppendAttempt(attempt, cmd.Invocation, nil); logErr != nil {
				GracefulWarn(rc.Logger, "%s: case log: %v", tc.Name, logErr)
			}
			if logErr := run.Log.AppendNote(msg); logErr != nil {
				GracefulWarn(rc.Logger, "%s: case log: %v", tc.Name, logErr)
			}
			run.Report.AddMessage(msg)
			out.Status = models.StatusCrash
			out.TimedOut = false
			rc.finishAttempt(ctx, run, out, started, 0, msg)
			continue
		}

		if logErr := run.Log.AppendAttempt(attempt, cmd.Invocation, result); logErr != nil {
			GracefulWarn(rc.Logger, "%s: case log: %v", tc.Name, logErr)
		}

		out.TimedOut = result.TimedOut
		run.Report.RenderTime = result.Duration.Seconds()
		if result.TimedOut {
			run.Report.TestcaseTimeoutExceeded = true
			run.Report.AddMessage(NewTimeoutError(tc.Name, attempt, timeout).Error())
		}
		if result.Canceled {
			out.Canceled = true
			out.Status = models.StatusCrash
			run.Report.AddMessage("render canceled: batch interrupted")
			rc.finishAttempt(ctx, run, out, started, result.Duration, "canceled")
			break
		}

		verdict := validate(cmd.ExpectedOutput, dest)
		out.Status = verdict.Status
		run.Report.AddMessage(verdict.Message)
		rc.finishAttempt(ctx, run, out, started, result.Duration, verdict.Message)
	}

	rc.removeArtifacts(workDir, cmd)
	return out
}

// finishAttempt persists the report and history row for the attempt just made.
func (rc *RetryController) finishAttempt(ctx context.Context, run *CaseRun, out *RetryOutcome, started time.Time, took time.Duration, msg string) {
	run.Report.TestStatus = out.Status
	run.Report.Attempts = out.Attempts
	run.Report.DateTime = models.FormatDateTime(rc.clock())
	if err := report.WriteCaseReport(rc.OutputDir, run.Report); err != nil {
		GracefulWarn(rc.Logger, "%s: failed to write report: %v", run.Case.Name, err)
	}

	if rc.History == nil {
		return
	}
	// Recorded with a fresh context so an interrupted batch still logs its last try
	err := rc.History.RecordAttempt(context.WithoutCancel(ctx), &history.Attempt{
		BatchID:   rc.BatchID,
		TestGroup: rc.TestGroup,
		CaseName:  run.Case.Name,
		Attempt:   out.Attempts,
		Status:    out.Status,
		TimedOut:  out.TimedOut,
		Duration:  took,
		StartedAt: started,
		Message:   msg,
	})
	if err != nil {
		GracefulWarn(rc.Logger, "%s: failed to record attempt: %v", run.Case.Name, err)
	}
}

func (rc *RetryController) removeArtifacts(workDir string, cmd *command.Command) {
	if _, err := os.Stat(workDir); err != nil {
		return
	}
	if _, err := fileutil.RemoveMatching(workDir, cmd.Artifacts); err != nil {
		GracefulWarn(rc.Logger, "failed to clean %s: %v", workDir, err)
	}
}
