package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harrison/rendertest/internal/models"
)

// FileLogger writes a timestamped run log plus one detail log per case.
//
// Layout:
//
//	<logDir>/run-YYYYMMDD-HHMMSS.log
//	<logDir>/latest.log -> run-YYYYMMDD-HHMMSS.log
//	<logDir>/cases/<name>.log
type FileLogger struct {
	logDir   string
	runLog   *os.File
	runFile  string
	casesDir string
	logLevel string
	mu       sync.Mutex
}

// NewFileLoggerWithDirAndLevel creates a FileLogger in logDir filtering
// messages below logLevel.
func NewFileLoggerWithDirAndLevel(logDir string, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	casesDir := filepath.Join(logDir, "cases")
	if err := os.MkdirAll(casesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cases directory: %w", err)
	}

	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", time.Now().Format("20060102-150405")))
	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	// Relative target so the log dir can be moved.
	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	logger := &FileLogger{
		logDir:   logDir,
		runLog:   file,
		runFile:  runFile,
		casesDir: casesDir,
		logLevel: normalizeLogLevel(logLevel),
	}

	logger.writeRunLog("=== rendertest Run Log ===\n")
	logger.writeRunLog(fmt.Sprintf("Started at: %s\n\n", time.Now().Format(time.RFC3339)))

	return logger, nil
}

// RunFile returns the path of the current run log.
func (fl *FileLogger) RunFile() string {
	return fl.runFile
}

func (fl *FileLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(fl.logLevel)
}

// LogTrace logs a trace-level message.
func (fl *FileLogger) LogTrace(message string) {
	fl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
func (fl *FileLogger) LogDebug(message string) {
	fl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
func (fl *FileLogger) LogInfo(message string) {
	fl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
func (fl *FileLogger) LogWarn(message string) {
	fl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
func (fl *FileLogger) LogError(message string) {
	fl.logWithLevel("ERROR", message)
}

func (fl *FileLogger) logWithLevel(level string, message string) {
	if !fl.shouldLog(strings.ToLower(level)) {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] [%s] %s\n", timestamp(), level, message))
}

// LogBatchStart records the batch header.
func (fl *FileLogger) LogBatchStart(group string, total int) {
	if !fl.shouldLog("info") {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] Starting %s: %d %s\n", timestamp(), group, total, plural(total, "case", "cases")))
}

// LogCaseStart records the start of a case at DEBUG level.
func (fl *FileLogger) LogCaseStart(tc models.TestCase, index, total int) {
	if !fl.shouldLog("debug") {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] Case %d/%d %s (scene %s)\n", timestamp(), index, total, tc.Name, tc.SceneSubPath))
}

// LogCaseResult writes the case's detail log and a one-line entry in the run log.
func (fl *FileLogger) LogCaseResult(result models.CaseResult) error {
	if fl.shouldLog("info") {
		fl.writeRunLog(fmt.Sprintf("[%s] %s: %s (attempts: %d, %.1fs)\n",
			timestamp(), result.Case.Name, result.Status, result.Attempts, result.Duration.Seconds()))
	}

	fl.mu.Lock()
	defer fl.mu.Unlock()

	path := filepath.Join(fl.casesDir, result.Case.Name+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create case log file: %w", err)
	}
	defer file.Close()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("=== Case %s ===\n", result.Case.Name))
	sb.WriteString(fmt.Sprintf("Status: %s\n", result.Status))
	sb.WriteString(fmt.Sprintf("Attempts: %d\n", result.Attempts))
	sb.WriteString(fmt.Sprintf("Timed out: %t\n", result.TimedOut))
	sb.WriteString(fmt.Sprintf("Duration: %.1fs\n", result.Duration.Seconds()))
	if result.Case.SceneSubPath != "" {
		sb.WriteString(fmt.Sprintf("Scene: %s\n", result.Case.SceneSubPath))
	}
	if len(result.Messages) > 0 {
		sb.WriteString("\nMessages:\n")
		for _, msg := range result.Messages {
			sb.WriteString(fmt.Sprintf("  - %s\n", msg))
		}
	}
	sb.WriteString(fmt.Sprintf("\nCompleted at: %s\n", time.Now().Format(time.RFC3339)))

	if _, err := file.WriteString(sb.String()); err != nil {
		return fmt.Errorf("failed to write case log: %w", err)
	}
	return nil
}

// LogSummary writes the batch summary to the run log.
func (fl *FileLogger) LogSummary(result models.BatchResult) {
	if !fl.shouldLog("info") {
		return
	}

	ts := timestamp()
	status := "PASSED"
	if len(result.Failed()) > 0 {
		status = "FAILED"
	}

	message := fmt.Sprintf(
		"\n[%s] === BATCH SUMMARY ===\n"+
			"[%s] Batch ID:     %s\n"+
			"[%s] Total cases:  %d\n"+
			"[%s] Success:      %d\n"+
			"[%s] Diff:         %d\n"+
			"[%s] Crash:        %d\n"+
			"[%s] Ignore:       %d\n"+
			"[%s] Total time:   %.1fs\n"+
			"[%s] Status:       %s\n",
		ts,
		ts, result.BatchID,
		ts, result.Total,
		ts, result.Success,
		ts, result.Diff,
		ts, result.Crash,
		ts, result.Ignore,
		ts, result.Duration.Seconds(),
		ts, status,
	)
	fl.writeRunLog(message)
}

// Close closes the run log.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog == nil {
		return nil
	}
	fl.runLog.WriteString(fmt.Sprintf("\nFinished at: %s\n", time.Now().Format(time.RFC3339)))
	err := fl.runLog.Close()
	fl.runLog = nil
	return err
}

func (fl *FileLogger) writeRunLog(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		fl.runLog.WriteString(message)
		fl.runLog.Sync()
	}
}
