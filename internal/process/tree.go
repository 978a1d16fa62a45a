package process

import (
	"context"
	"errors"
	"fmt"

	psprocess "github.com/shirou/gopsutil/v4/process"
)

// maxKillRounds bounds how often KillTree re-walks the tree to catch
// processes spawned while the previous round was killing.
const maxKillRounds = 3

// ProcessTable exposes the parts of the OS process table needed to walk and
// terminate a process tree.
type ProcessTable interface {
	// Children returns the direct children of pid. A pid that no longer
	// exists has no children.
	Children(ctx context.Context, pid int32) ([]int32, error)
	// Kill terminates pid. Killing a process that already exited is not an error.
	Kill(ctx context.Context, pid int32) error
}

// Descendants walks the tree below root depth-first and returns every
// descendant in discovery order, so each process appears after its parent.
// Lookup errors for individual nodes are collected and the walk continues.
func Descendants(ctx context.Context, table ProcessTable, root int32) ([]int32, error) {
	var (
		found []int32
		errs  []error
	)
	seen := map[int32]bool{root: true}

	var walk func(pid int32)
	walk = func(pid int32) {
		children, err := table.Children(ctx, pid)
		if err != nil {
			errs = append(errs, fmt.Errorf("list children of %d: %w", pid, err))
			return
		}
		for _, child := range children {
			if seen[child] {
				continue
			}
			seen[child] = true
			found = append(found, child)
			walk(child)
		}
	}
	walk(root)

	return found, errors.Join(errs...)
}

// KillTree terminates every descendant of root in reverse discovery order
// (deepest first) and then root itself. It returns the pids it signalled in
// order; errors are collected, never short-circuit the teardown.
func KillTree(ctx context.Context, table ProcessTable, root int32) ([]int32, error) {
	var (
		killed []int32
		errs   []error
	)
	signalled := make(map[int32]bool)

	for round := 0; round < maxKillRounds; round++ {
		tree, err := Descendants(ctx, table, root)
		if err != nil {
			errs = append(errs, err)
		}

		pending := 0
		for i := len(tree) - 1; i >= 0; i-- {
			pid := tree[i]
			if signalled[pid] {
				continue
			}
			pending++
			signalled[pid] = true
			killed = append(killed, pid)
			if err := table.Kill(ctx, pid); err != nil {
				errs = append(errs, fmt.Errorf("kill %d: %w", pid, err))
			}
		}
		if pending == 0 {
			break
		}
	}

	killed = append(killed, root)
	if err := table.Kill(ctx, root); err != nil {
		errs = append(errs, fmt.Errorf("kill %d: %w", root, err))
	}

	return killed, errors.Join(errs...)
}

// systemTable is the ProcessTable of the running host, backed by gopsutil.
type systemTable struct{}

// SystemProcessTable returns the host process table.
func SystemProcessTable() ProcessTable {
	return systemTable{}
}

func (systemTable) Children(ctx context.Context, pid int32) ([]int32, error) {
	p, err := psprocess.NewProcessWithContext(ctx, pid)
	if err != nil {
		if errors.Is(err, psprocess.ErrorProcessNotRunning) {
			return nil, nil
		}
		return nil, err
	}

	children, err := p.ChildrenWithContext(ctx)
	if err != nil {
		if errors.Is(err, psprocess.ErrorNoChildren) || errors.Is(err, psprocess.ErrorProcessNotRunning) {
			return nil, nil
		}
		return nil, err
	}

	pids := make([]int32, 0, len(children))
	for _, child := range children {
		pids = append(pids, child.Pid)
	}
	return pids, nil
}

func (systemTable) Kill(ctx context.Context, pid int32) error {
	p, err := psprocess.NewProcessWithContext(ctx, pid)
	if err != nil {
		if errors.Is(err, psprocess.ErrorProcessNotRunning) {
			return nil
		}
		return err
	}

	if err := p.KillWithContext(ctx); err != nil {
		if running, runErr := p.IsRunningWithContext(ctx); runErr == nil && !running {
			return nil
		}
		return err
	}
	return nil
}
