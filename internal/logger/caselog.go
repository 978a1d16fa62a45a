package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harrison/rendertest/internal/models"
	"github.com/harrison/rendertest/internal/process"
)

// CaseLog appends render tool output for each attempt of a case to
// <output_dir>/render_tool_logs/<name>.log. Existing content is kept, so a
// rerun of the batch accumulates tries.
type CaseLog struct {
	path string
	mu   sync.Mutex
}

// NewCaseLog returns the render log for caseName under outputDir.
func NewCaseLog(outputDir, caseName string) *CaseLog {
	return &CaseLog{path: filepath.Join(outputDir, models.CaseLogsDir, caseName+".log")}
}

// Path returns the log file location.
func (l *CaseLog) Path() string {
	return l.path
}

// TryHeader labels an attempt inside a case log.
func TryHeader(attempt int) string {
	return fmt.Sprintf("-----[TRY #%d]-----\n", attempt)
}

// AppendAttempt records one attempt: its header, the command line and the
// captured streams.
func (l *CaseLog) AppendAttempt(attempt int, inv process.Invocation, result *process.Result) error {
	var sb strings.Builder
	sb.WriteString(TryHeader(attempt))
	sb.WriteString(fmt.Sprintf("Started: %s\n", time.Now().Format(models.DateTimeLayout)))
	sb.WriteString(fmt.Sprintf("Command: %s\n", inv.String()))
	if result != nil {
		sb.WriteString(fmt.Sprintf("Duration: %.2fs\n", result.Duration.Seconds()))
		switch {
		case result.TimedOut:
			sb.WriteString("Result: timed out\n")
		case result.Canceled:
			sb.WriteString("Result: canceled\n")
		default:
			sb.WriteString(fmt.Sprintf("Exit code: %d\n", result.ExitCode))
		}
		writeStream(&sb, "STDOUT", result.Stdout)
		writeStream(&sb, "STDERR", result.Stderr)
	}
	return l.Append(sb.String())
}

// AppendNote writes a free-form line, e.g. a preparation failure.
func (l *CaseLog) AppendNote(note string) error {
	if !strings.HasSuffix(note, "\n") {
		note += "\n"
	}
	return l.Append(note)
}

// Append writes text at the end of the log, creating it if needed.
func (l *CaseLog) Append(text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create case log directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open case log: %w", err)
	}
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return fmt.Errorf("failed to write case log: %w", err)
	}
	return f.Close()
}

func writeStream(sb *strings.Builder, name, content string) {
	if content == "" {
		return
	}
	sb.WriteString(fmt.Sprintf("%s:\n", name))
	sb.WriteString(content)
	if !strings.HasSuffix(content, "\n") {
		sb.WriteByte('\n')
	}
}
