// Package process runs external tools under a wall-clock budget.
//
// A Supervisor starts an Invocation, waits for it to exit, and on timeout
// tears down the whole process tree: every descendant is killed deepest
// first, then the top-level process, then the supervisor reaps it and
// returns whatever output was captured. Exit codes are recorded but never
// interpreted; callers decide success from the files the tool left behind.
package process

import (
	"errors"
	"time"

	"github.com/kballard/go-shellquote"
)

// ErrStartFailed indicates the executable could not be resolved or started.
var ErrStartFailed = errors.New("process failed to start")

// Invocation describes one external program run as an argument vector.
type Invocation struct {
	Path string   // Executable name or path, resolved through PATH like a manual invocation
	Args []string // Arguments, passed verbatim without shell interpretation
	Dir  string   // Working directory (empty = current dir)
	Env  []string // Extra KEY=VALUE pairs appended to the inherited environment
}

// String renders the invocation as a copy-pasteable shell command line.
func (inv Invocation) String() string {
	return shellquote.Join(append([]string{inv.Path}, inv.Args...)...)
}

// Result captures the outcome of a supervised run.
type Result struct {
	Stdout   string
	Stderr   string
	TimedOut bool          // The timeout elapsed and the tree was killed
	Canceled bool          // The caller's context ended before the process did
	ExitCode int           // -1 when the process was killed or never reported one
	Duration time.Duration // Wall time from start to reap
	Killed   []int32       // Pids terminated by the supervisor, in kill order
}
