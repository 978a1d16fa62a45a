// Package logger provides logging implementations for rendertest batches.
//
// The logger package offers structured logging of batch progress at the
// case and summary levels. Implementations are thread-safe and support
// various output destinations (console, file, per-case render logs).
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/harrison/rendertest/internal/models"
)

// Log level constants for filtering
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

// ConsoleLogger logs batch progress to a writer with timestamps and thread safety.
// All output is prefixed with [HH:MM:SS] timestamps.
// It supports log level filtering to control message verbosity.
// Color output is automatically enabled for terminal output (os.Stdout/os.Stderr).
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
	progress    *ProgressBar
}

// NewConsoleLogger creates a ConsoleLogger that writes to the provided io.Writer.
// If writer is nil, messages are silently discarded.
// Valid levels: trace, debug, info, warn, error (case-insensitive).
// If logLevel is empty or invalid, defaults to "info".
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
	}
}

// isTerminal checks if the writer is a terminal that supports colors.
// Returns true for os.Stdout and os.Stderr when they are TTYs.
func isTerminal(w io.Writer) bool {
	if w == nil {
		return false
	}

	if w == os.Stdout || w == os.Stderr {
		// fatih/color already honours NO_COLOR and non-TTY output
		return !color.NoColor
	}

	return false
}

// normalizeLogLevel converts a log level string to lowercase and validates it.
// Returns "info" as default for empty or invalid levels.
func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))

	switch normalized {
	case "trace", "debug", "info", "warn", "error":
		return normalized
	default:
		return "info"
	}
}

// IsValidLevel reports whether level names a known log level.
func IsValidLevel(level string) bool {
	normalized := strings.ToLower(strings.TrimSpace(level))
	return normalizeLogLevel(level) == normalized
}

func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(cl.logLevel)
}

// logLevelToInt converts a log level string to its numeric value.
func logLevelToInt(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// LogTrace logs a trace-level message (most verbose).
func (cl *ConsoleLogger) LogTrace(message string) {
	cl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
func (cl *ConsoleLogger) LogDebug(message string) {
	cl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
// Format: "[HH:MM:SS] [INFO] <message>"
func (cl *ConsoleLogger) LogInfo(message string) {
	cl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
func (cl *ConsoleLogger) LogWarn(message string) {
	cl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
func (cl *ConsoleLogger) LogError(message string) {
	cl.logWithLevel("ERROR", message)
}

func (cl *ConsoleLogger) logWithLevel(level string, message string) {
	if cl.writer == nil {
		return
	}
	if !cl.shouldLog(strings.ToLower(level)) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	var formatted string
	if cl.colorOutput {
		formatted = fmt.Sprintf("[%s] [%s] %s\n", ts, levelColor(level).Sprint(level), message)
	} else {
		formatted = fmt.Sprintf("[%s] [%s] %s\n", ts, level, message)
	}

	cl.writer.Write([]byte(formatted))
}

// LogBatchStart logs the start of a batch at INFO level.
// Format: "[HH:MM:SS] Starting <group>: <count> cases"
func (cl *ConsoleLogger) LogBatchStart(group string, total int) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	cl.progress = NewProgressBar(total, 20, cl.colorOutput)
	cl.progress.SetUnit("cases")

	name := group
	if cl.colorOutput {
		name = color.New(color.Bold).Sprint(group)
	}
	fmt.Fprintf(cl.writer, "[%s] Starting %s: %d %s\n", timestamp(), name, total, plural(total, "case", "cases"))
}

// LogCaseStart logs the start of a case at DEBUG level.
func (cl *ConsoleLogger) LogCaseStart(tc models.TestCase, index, total int) {
	if cl.writer == nil || !cl.shouldLog("debug") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	fmt.Fprintf(cl.writer, "[%s] Case %d/%d %s\n", timestamp(), index, total, tc.Name)
}

// LogCaseResult logs the outcome of a case at INFO level, followed by the
// batch progress bar.
// Format: "[HH:MM:SS] <name>: <status> (<attempts> attempts, <duration>)"
func (cl *ConsoleLogger) LogCaseResult(result models.CaseResult) error {
	if cl.writer == nil || !cl.shouldLog("info") {
		return nil
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	status := strings.ToUpper(result.Status)
	if cl.colorOutput {
		status = statusColor(result.Status).Sprint(status)
	}

	line := fmt.Sprintf("[%s] %s: %s (%d %s, %s)\n", ts, result.Case.Name, status,
		result.Attempts, plural(result.Attempts, "attempt", "attempts"), formatDuration(result.Duration))
	if result.Status == models.StatusCrash || result.Status == models.StatusDiff {
		for _, msg := range result.Messages {
			line += fmt.Sprintf("[%s]   - %s\n", ts, msg)
		}
	}
	if cl.progress != nil {
		cl.progress.Increment()
		line += fmt.Sprintf("[%s] Progress: %s\n", ts, cl.progress.Render())
	}

	_, err := cl.writer.Write([]byte(line))
	return err
}

// LogSummary logs the batch summary at INFO level.
func (cl *ConsoleLogger) LogSummary(result models.BatchResult) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	scheme := newColorScheme(cl.colorOutput)

	output := fmt.Sprintf("[%s] %s\n", ts, scheme.header.Sprint("=== Batch Summary ==="))
	output += fmt.Sprintf("[%s] Total cases: %d\n", ts, result.Total)
	output += fmt.Sprintf("[%s] %s\n", ts, formatCount("Success", result.Success, scheme.success))
	output += fmt.Sprintf("[%s] %s\n", ts, formatCount("Diff", result.Diff, scheme.warn))
	output += fmt.Sprintf("[%s] %s\n", ts, formatCount("Crash", result.Crash, scheme.fail))
	output += fmt.Sprintf("[%s] Ignore: %d\n", ts, result.Ignore)
	output += fmt.Sprintf("[%s] Duration: %s\n", ts, formatDuration(result.Duration))

	if failed := result.Failed(); len(failed) > 0 {
		output += fmt.Sprintf("[%s] %s\n", ts, scheme.fail.Sprint("Failed cases:"))
		for _, r := range failed {
			output += fmt.Sprintf("[%s]   - %s: %s\n", ts, r.Case.Name, r.Status)
		}
	}

	cl.writer.Write([]byte(output))
}

// timestamp returns the current time formatted as "15:04:05" (HH:MM:SS).
func timestamp() string {
	return time.Now().Format("15:04:05")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// formatDuration converts a time.Duration to a human-readable string.
// Examples: "5s", "1m30s", "2h15m"
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		hours := d / time.Hour
		remainder := d % time.Hour
		if remainder == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		minutes := remainder / time.Minute
		remainder = remainder % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dh%dm", hours, minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case d >= time.Minute:
		minutes := d / time.Minute
		remainder := d % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", int64(d.Seconds()))
	}
}

// NoOpLogger discards all log messages.
// Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// NewNoOpLogger creates a NoOpLogger instance.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (n *NoOpLogger) LogTrace(string) {}
func (n *NoOpLogger) LogDebug(string) {}
func (n *NoOpLogger) LogInfo(string) {}
func (n *NoOpLogger) LogWarn(string) {}
func (n *NoOpLogger) LogError(string) {}
func (n *NoOpLogger) LogBatchStart(string, int) {}
func (n *NoOpLogger) LogCaseStart(models.TestCase, int, int) {}
func (n *NoOpLogger) LogCaseResult(models.CaseResult) error { return nil }
func (n *NoOpLogger) LogSummary(models.BatchResult) {}
