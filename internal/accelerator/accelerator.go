// Package accelerator reads GPU memory and compute-process state.
//
// The launcher only observes the device; it never owns it. All queries go
// through nvidia-smi so no driver bindings are linked into the binary.
package accelerator

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

// State is a point-in-time view of one device.
type State struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	TotalMiB    int    `json:"total_mib"`
	UsedMiB     int    `json:"used_mib"`
	FreeMiB     int    `json:"free_mib"`
	ComputePIDs []int  `json:"compute_pids,omitempty"`
}

// Probe reports accelerator state.
type Probe interface {
	State(ctx context.Context) (State, error)
	ComputePIDs(ctx context.Context) ([]int, error)
}

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command on the host. stderr is folded into the error.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// NvidiaSMI implements Probe for one NVIDIA device.
type NvidiaSMI struct {
	Index int
	Bin   string // defaults to "nvidia-smi"
	Run   Runner // defaults to ExecRunner
}

func (n NvidiaSMI) bin() string {
	if n.Bin == "" {
		return "nvidia-smi"
	}
	return n.Bin
}

func (n NvidiaSMI) run(ctx context.Context, args ...string) ([]byte, error) {
	if n.Run == nil {
		return ExecRunner(ctx, n.bin(), args...)
	}
	return n.Run(ctx, n.bin(), args...)
}

// State queries memory figures and compute PIDs.
func (n NvidiaSMI) State(ctx context.Context) (State, error) {
	out, err := n.run(ctx,
		"--query-gpu=index,name,memory.total,memory.used,memory.free",
		"--format=csv,noheader,nounits",
		"-i", strconv.Itoa(n.Index))
	if err != nil {
		return State{}, fmt.Errorf("query gpu %d: %w", n.Index, err)
	}
	st, err := parseGPUCSV(out)
	if err != nil {
		return State{}, err
	}
	pids, err := n.ComputePIDs(ctx)
	if err != nil {
		return st, err
	}
	st.ComputePIDs = pids
	return st, nil
}

// ComputePIDs lists processes holding a compute context on the device.
func (n NvidiaSMI) ComputePIDs(ctx context.Context) ([]int, error) {
	out, err := n.run(ctx,
		"--query-compute-apps=pid",
		"--format=csv,noheader",
		"-i", strconv.Itoa(n.Index))
	if err != nil {
		return nil, fmt.Errorf("query compute apps on gpu %d: %w", n.Index, err)
	}
	return parsePIDList(out)
}

// parseGPUCSV parses one "index, name, total, used, free" line.
func parseGPUCSV(out []byte) (State, error) {
	line := strings.TrimSpace(string(out))
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if line == "" {
		return State{}, fmt.Errorf("empty gpu query output")
	}
	raw := strings.Split(line, ",")
	if len(raw) < 5 {
		return State{}, fmt.Errorf("unexpected gpu query output: %q", line)
	}
	fields := make([]string, len(raw))
	for i := range raw {
		fields[i] = strings.TrimSpace(raw[i])
	}
	var st State
	var err error
	if st.Index, err = strconv.Atoi(fields[0]); err != nil {
		return State{}, fmt.Errorf("gpu index %q: %w", fields[0], err)
	}
	// names may contain commas; memory figures are always the last three fields
	n := len(fields)
	st.Name = strings.TrimSpace(strings.Join(raw[1:n-3], ","))
	nums := make([]int, 3)
	for i, f := range fields[n-3:] {
		if nums[i], err = strconv.Atoi(f); err != nil {
			return State{}, fmt.Errorf("gpu memory %q: %w", f, err)
		}
	}
	st.TotalMiB, st.UsedMiB, st.FreeMiB = nums[0], nums[1], nums[2]
	return st, nil
}

// parsePIDList parses one PID per line; blank lines and "No running processes" are ignored.
func parsePIDList(out []byte) ([]int, error) {
	var pids []int
	seen := map[int]bool{}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(strings.ToLower(line), "no running") {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("pid %q: %w", line, err)
		}
		if !seen[pid] {
			seen[pid] = true
			pids = append(pids, pid)
		}
	}
	sort.Ints(pids)
	return pids, nil
}
