// Package procscan finds engine processes by command-line signature and
// terminates them.
package procscan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"syscall"

	"github.com/prometheus/procfs"
)

// Finder locates processes whose command line contains a signature, together
// with the processes they spawned.
type Finder interface {
	FindBySignature(ctx context.Context, signature string) ([]int, error)
}

// Killer forcibly terminates a process.
type Killer interface {
	Kill(pid int) error
}

// ProcFS scans a proc filesystem mount.
type ProcFS struct {
	// Mount defaults to procfs.DefaultMountPoint.
	Mount string
	// Self is excluded from results; zero means os.Getpid().
	Self int
}

// FindBySignature returns sorted PIDs whose joined cmdline contains signature,
// plus every live descendant of those processes. Engine workers hold the
// accelerator under their own command lines, so they are found by parentage.
// Processes that vanish mid-scan are skipped.
func (f ProcFS) FindBySignature(ctx context.Context, signature string) ([]int, error) {
	if strings.TrimSpace(signature) == "" {
		return nil, fmt.Errorf("empty process signature")
	}
	mount := f.Mount
	if mount == "" {
		mount = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mount)
	if err != nil {
		return nil, fmt.Errorf("open procfs %s: %w", mount, err)
	}
	procs, err := fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	self := f.Self
	if self == 0 {
		self = os.Getpid()
	}
	var roots []int
	children := map[int][]int{}
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.PID == self {
			continue
		}
		if st, err := p.Stat(); err == nil && st.State != "Z" {
			children[st.PPID] = append(children[st.PPID], p.PID)
		}
		args, err := p.CmdLine()
		if err != nil || len(args) == 0 {
			continue
		}
		if matches(args, signature) {
			roots = append(roots, p.PID)
		}
	}
	return withDescendants(roots, children), nil
}

// withDescendants expands roots through the parent->children index.
func withDescendants(roots []int, children map[int][]int) []int {
	seen := make(map[int]bool, len(roots))
	queue := append([]int(nil), roots...)
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		if seen[pid] {
			continue
		}
		seen[pid] = true
		queue = append(queue, children[pid]...)
	}
	pids := make([]int, 0, len(seen))
	for pid := range seen {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	if len(pids) == 0 {
		return nil
	}
	return pids
}

func matches(args []string, signature string) bool {
	return strings.Contains(strings.Join(args, " "), signature)
}

// SignalKiller delivers SIGKILL. A process that is already gone is not an error.
type SignalKiller struct{}

func (SignalKiller) Kill(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return fmt.Errorf("kill %d: %w", pid, err)
	}
	return nil
}
