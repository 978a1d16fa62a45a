package merge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harrison/rendertest/internal/models"
	"github.com/harrison/rendertest/internal/process"
)

// DefaultTimeout bounds a single stitch invocation.
const DefaultTimeout = 120 * time.Second

// OverlayFile is the name of the generated settings layer.
const OverlayFile = "settings.usda"

// ProcessRunner runs an invocation under a timeout.
// *process.Supervisor satisfies it.
type ProcessRunner interface {
	Run(ctx context.Context, inv process.Invocation, timeout time.Duration) (*process.Result, error)
}

// MergeError reports a failed merge. Callers treat it as a preparation
// failure of the case; the unmerged scene is never used as a fallback.
type MergeError struct {
	CaseName string
	Stage    string // overlay, workdir, stitch, output
	Err      error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge %s: %s: %v", e.CaseName, e.Stage, e.Err)
}

func (e *MergeError) Unwrap() error {
	return e.Err
}

// IsMergeError checks if err is or wraps a MergeError.
func IsMergeError(err error) bool {
	var me *MergeError
	return errors.As(err, &me)
}

// Merger runs the stitch tool for cases with overlay settings.
type Merger struct {
	Runner     ProcessRunner
	StitchTool string
	Timeout    time.Duration
}

// WorkDir is the per-case directory the merge writes into.
func WorkDir(scenePath, caseName string) string {
	return filepath.Join(filepath.Dir(scenePath), "merged_"+caseName)
}

// Merge produces the merged scene for tc and returns its path. When the case
// has no overlay settings it returns "" and no error, and nothing is written.
func (m *Merger) Merge(ctx context.Context, tc models.TestCase, scenePath string) (string, error) {
	settings, err := Settings(tc)
	if err != nil {
		return "", &MergeError{CaseName: tc.Name, Stage: "overlay", Err: err}
	}
	if len(settings) == 0 {
		return "", nil
	}
	if m.StitchTool == "" {
		return "", &MergeError{CaseName: tc.Name, Stage: "stitch", Err: errors.New("no stitch tool configured")}
	}

	dir := WorkDir(scenePath, tc.Name)
	if err := os.RemoveAll(dir); err != nil {
		return "", &MergeError{CaseName: tc.Name, Stage: "workdir", Err: err}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", &MergeError{CaseName: tc.Name, Stage: "workdir", Err: err}
	}

	layer, err := RenderOverlay(tc.Name, settings)
	if err != nil {
		return "", &MergeError{CaseName: tc.Name, Stage: "overlay", Err: err}
	}
	overlayPath := filepath.Join(dir, OverlayFile)
	if err := os.WriteFile(overlayPath, layer, 0644); err != nil {
		return "", &MergeError{CaseName: tc.Name, Stage: "overlay", Err: err}
	}

	ext := filepath.Ext(scenePath)
	if ext == "" {
		ext = ".usda"
	}
	merged := filepath.Join(dir, "merged"+ext)

	timeout := m.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	inv := process.Invocation{
		Path: m.StitchTool,
		Args: []string{scenePath, overlayPath, "-o", merged},
		Dir:  dir,
	}
	result, err := m.Runner.Run(ctx, inv, timeout)
	if err != nil {
		return "", &MergeError{CaseName: tc.Name, Stage: "stitch", Err: err}
	}
	if result.TimedOut {
		return "", &MergeError{CaseName: tc.Name, Stage: "stitch", Err: fmt.Errorf("timed out after %v", timeout)}
	}
	if result.Canceled {
		return "", &MergeError{CaseName: tc.Name, Stage: "stitch", Err: context.Canceled}
	}

	if _, err := os.Stat(merged); err != nil {
		detail := strings.TrimSpace(result.Stderr)
		if detail == "" {
			detail = fmt.Sprintf("exit code %d", result.ExitCode)
		}
		return "", &MergeError{
			CaseName: tc.Name,
			Stage:    "output",
			Err:      fmt.Errorf("merged scene %s not produced: %s", filepath.Base(merged), detail),
		}
	}

	return merged, nil
}
