package process

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// defaultWaitDelay bounds how long Run keeps reading output pipes after the
// process is gone, in case an orphan still holds them open.
const defaultWaitDelay = 5 * time.Second

// killTimeout bounds the teardown of a process tree.
const killTimeout = 10 * time.Second

// Supervisor runs invocations with a wall-clock budget and process-tree
// teardown. It is safe for sequential reuse.
type Supervisor struct {
	// Table is used to discover and kill descendants on timeout.
	Table ProcessTable

	// WaitDelay bounds output draining after exit; 0 uses defaultWaitDelay.
	WaitDelay time.Duration
}

// NewSupervisor creates a Supervisor backed by the host process table.
func NewSupervisor() *Supervisor {
	return &Supervisor{
		Table:     SystemProcessTable(),
		WaitDelay: defaultWaitDelay,
	}
}

// Run starts inv and blocks until it exits, timeout elapses, or ctx ends.
// A timeout of 0 disables the budget. On timeout or cancellation the whole
// tree is killed deepest first and the top-level process is reaped before
// Run returns. Captured output is returned in every case. A non-zero exit
// code is not an error; only a failure to start is.
func (s *Supervisor) Run(ctx context.Context, inv Invocation, timeout time.Duration) (*Result, error) {
	path, err := exec.LookPath(inv.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStartFailed, inv.Path, err)
	}
	// The child starts in inv.Dir, so a relative path found from our own
	// working directory must be pinned before exec resolves it again.
	if !filepath.IsAbs(path) {
		if path, err = filepath.Abs(path); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrStartFailed, inv.Path, err)
		}
	}

	cmd := exec.Command(path, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = append(os.Environ(), inv.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	cmd.WaitDelay = s.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = defaultWaitDelay
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStartFailed, inv.Path, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	result := &Result{ExitCode: -1}

	select {
	case <-done:
	case <-deadline:
		result.TimedOut = true
		result.Killed = s.terminate(cmd)
		<-done
	case <-ctx.Done():
		result.Canceled = true
		result.Killed = s.terminate(cmd)
		<-done
	}

	result.Duration = time.Since(start)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	if cmd.ProcessState != nil && !result.TimedOut && !result.Canceled {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	return result, nil
}

// terminate kills the tree below cmd's process and the process itself.
// The os.Process handle is used as a last resort for the parent, since the
// table may not see a process that is already exiting.
func (s *Supervisor) terminate(cmd *exec.Cmd) []int32 {
	ctx, cancel := context.WithTimeout(context.Background(), killTimeout)
	defer cancel()

	table := s.Table
	if table == nil {
		table = SystemProcessTable()
	}

	killed, _ := KillTree(ctx, table, int32(cmd.Process.Pid))
	_ = cmd.Process.Kill()
	return killed
}
