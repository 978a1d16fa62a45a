package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/harrison/rendertest/internal/filelock"
	"github.com/harrison/rendertest/internal/fileutil"
	"github.com/harrison/rendertest/internal/models"
)

// LogHeader precedes each per-case log inside the combined log.
func LogHeader(filename string) string {
	return fmt.Sprintf("-----[FROM LOG '%s']-----\n", filename)
}

// CombineLogs concatenates the per-case logs under dir/render_tool_logs, in
// file name order, into dir/renderTool.log. A missing logs directory yields
// an empty combined log.
func CombineLogs(dir string) (string, error) {
	logsDir := filepath.Join(dir, models.CaseLogsDir)
	dst := filepath.Join(dir, models.CombinedLogFile)

	var files []string
	if _, err := os.Stat(logsDir); err == nil {
		scan, err := fileutil.ScanDirectory(logsDir, fileutil.ScanOptions{Extensions: []string{".log"}})
		if err != nil {
			return "", fmt.Errorf("failed to scan case logs: %w", err)
		}
		files = scan.Files
	}

	var buf bytes.Buffer
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read case log: %w", err)
		}
		buf.WriteString(LogHeader(filepath.Base(path)))
		buf.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}

	if err := filelock.AtomicWrite(dst, buf.Bytes()); err != nil {
		return "", fmt.Errorf("failed to write combined log: %w", err)
	}
	return dst, nil
}
