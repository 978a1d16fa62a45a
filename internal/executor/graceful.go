package executor

import "fmt"

// graceful.go holds the helpers for non-fatal paths: baseline copies, stub
// images and log aggregation warn and carry on instead of failing the batch.

// GracefulWarn logs a warning if logger is non-nil, using the given format and args.
//
// Usage:
//
//	if err != nil {
//	    GracefulWarn(r.logger, "Baseline: copy failed for %s: %v", name, err)
//	}
func GracefulWarn(logger Logger, format string, args ...interface{}) {
	if logger != nil {
		logger.LogWarn(fmt.Sprintf(format, args...))
	}
}

// GracefulInfo logs an info message if logger is non-nil.
// Companion to GracefulWarn for consistent logger nil-checking.
func GracefulInfo(logger Logger, format string, args ...interface{}) {
	if logger != nil {
		logger.LogInfo(fmt.Sprintf(format, args...))
	}
}
