package executor

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harrison/rendertest/internal/history"
	"github.com/harrison/rendertest/internal/models"
	"github.com/harrison/rendertest/internal/process"
)

// scriptedRunner plays back one behavior per call, keyed by the scene the
// render tool was given. Calls past the end of a script repeat its last step.
type scriptedRunner struct {
	mu      sync.Mutex
	scripts map[string][]step
	calls   []process.Invocation
}

type step struct {
	writeImage bool
	timedOut   bool
	canceled   bool
	startErr   error
	exitCode   int
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{scripts: make(map[string][]step)}
}

func (s *scriptedRunner) script(scene string, steps ...step) {
	s.scripts[scene] = steps
}

func (s *scriptedRunner) Run(ctx context.Context, inv process.Invocation, timeout time.Duration) (*process.Result, error) {
	s.mu.Lock()
	scene := argValue(inv.Args, "--scene")
	n := 0
	for _, c := range s.calls {
		if argValue(c.Args, "--scene") == scene {
			n++
		}
	}
	s.calls = append(s.calls, inv)
	steps := s.scripts[scene]
	s.mu.Unlock()

	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: no script for scene %q", process.ErrStartFailed, scene)
	}
	if n >= len(steps) {
		n = len(steps) - 1
	}
	st := steps[n]

	if st.startErr != nil {
		return nil, st.startErr
	}
	if st.writeImage {
		if err := writePNG(argValue(inv.Args, "--output")); err != nil {
			return nil, err
		}
	}

	result := &process.Result{
		Stdout:   "rendering " + scene + "\n",
		ExitCode: st.exitCode,
		Duration: 10 * time.Millisecond,
	}
	if st.timedOut {
		result.TimedOut = true
		result.ExitCode = -1
		result.Duration = timeout
	}
	if st.canceled {
		result.Canceled = true
		result.ExitCode = -1
	}
	return result, nil
}

func (s *scriptedRunner) callsFor(scene string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if argValue(c.Args, "--scene") == scene {
			n++
		}
	}
	return n
}

func argValue(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func writePNG(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), B: 128, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

// recordingLogger captures what the executor reports.
type recordingLogger struct {
	mu          sync.Mutex
	infos       []string
	warnings    []string
	errors      []string
	batchStarts []int
	caseStarts  []string
	results     []models.CaseResult
	summaries   []models.BatchResult
}

func (l *recordingLogger) LogTrace(string) {}
func (l *recordingLogger) LogDebug(string) {}

func (l *recordingLogger) LogInfo(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, message)
}

func (l *recordingLogger) LogWarn(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnings = append(l.warnings, message)
}

func (l *recordingLogger) LogError(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, message)
}

func (l *recordingLogger) LogBatchStart(group string, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.batchStarts = append(l.batchStarts, total)
}

func (l *recordingLogger) LogCaseStart(tc models.TestCase, index, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.caseStarts = append(l.caseStarts, tc.Name)
}

func (l *recordingLogger) LogCaseResult(result models.CaseResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, result)
	return nil
}

func (l *recordingLogger) LogSummary(result models.BatchResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.summaries = append(l.summaries, result)
}

// memoryRecorder is an in-memory AttemptRecorder.
type memoryRecorder struct {
	mu       sync.Mutex
	attempts []history.Attempt
}

func (m *memoryRecorder) RecordAttempt(ctx context.Context, a *history.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, *a)
	return nil
}

type runnerFunc func(ctx context.Context, inv process.Invocation, timeout time.Duration) (*process.Result, error)

func (f runnerFunc) Run(ctx context.Context, inv process.Invocation, timeout time.Duration) (*process.Result, error) {
	return f(ctx, inv, timeout)
}
