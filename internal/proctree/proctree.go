// Package proctree provides cross-platform process-tree termination and
// by-name process lookup for worker executables.
package proctree

import (
	"context"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// Kill terminates the process tree rooted at pid, deepest children
// first. Workers may spawn their own helper processes, so killing only
// the immediate child is not enough. A pid that is already gone is not
// an error.
func Kill(pid int) error {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	return killTree(proc)
}

// killTree recursively kills children before the given process.
func killTree(p *process.Process) error {
	children, err := p.Children()
	if err == nil {
		for _, child := range children {
			_ = killTree(child)
		}
	}

	if err := p.Kill(); err != nil {
		if running, runErr := p.IsRunning(); runErr == nil && !running {
			return nil
		}
		return err
	}
	return nil
}

// FindByName returns pids of all processes whose executable name matches
// name, excluding the calling process. Matching ignores case and a
// trailing ".exe" so Windows and Unix report the same worker.
func FindByName(ctx context.Context, name string) ([]int32, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	self := int32(os.Getpid())
	var pids []int32
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		pname, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if matchesName(pname, name) {
			pids = append(pids, p.Pid)
		}
	}
	return pids, nil
}

// KillByName kills every matching process tree and returns how many
// roots were targeted.
func KillByName(ctx context.Context, name string) (int, error) {
	pids, err := FindByName(ctx, name)
	if err != nil {
		return 0, err
	}

	for _, pid := range pids {
		_ = Kill(int(pid))
	}
	return len(pids), nil
}

// matchesName compares process names ignoring case and ".exe" suffixes.
func matchesName(got, want string) bool {
	got = strings.TrimSuffix(strings.ToLower(got), ".exe")
	want = strings.TrimSuffix(strings.ToLower(want), ".exe")
	return got != "" && got == want
}
