// Package supervisor owns the lifecycle of a single inference-engine process.
//
// A Supervisor launches at most one engine at a time, waits for it to become
// ready within a bounded deadline and stops it on request. It never restarts
// a crashed engine; the crash is surfaced and the caller decides.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"servectl/internal/common/fsutil"
	"servectl/pkg/types"
)

type State string

const (
	StateIdle      State = "idle"
	StateLaunching State = "launching"
	StateRunning   State = "running"
	StateStopping  State = "stopping"
	StateCrashed   State = "crashed"
)

// Readiness reports whether the engine accepts requests.
type Readiness interface {
	Ready(ctx context.Context) bool
}

// ReadinessFunc adapts a function to Readiness.
type ReadinessFunc func(ctx context.Context) bool

func (f ReadinessFunc) Ready(ctx context.Context) bool { return f(ctx) }

// Config controls how the engine is started and supervised.
type Config struct {
	Command []string
	Host    string
	Port    int
	DType   string
	Env     []string

	// Ready is polled every PollInterval until ReadyTimeout; nil skips the wait.
	Ready        Readiness
	ReadyTimeout time.Duration
	PollInterval time.Duration
	StopGrace    time.Duration

	// Output receives engine stdout/stderr in foreground mode.
	Output io.Writer
	// Detach starts the engine in its own process group writing to LogFile.
	Detach  bool
	LogFile string
}

// Process describes the engine the supervisor spawned.
type Process struct {
	PID        int       `json:"pid"`
	Port       int       `json:"port"`
	Profile    string    `json:"profile"`
	ModelID    string    `json:"model_id"`
	Invocation []string  `json:"invocation"`
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	LogFile    string    `json:"log_file,omitempty"`
}

// Snapshot is a consistent copy of supervisor state.
type Snapshot struct {
	State     State
	Process   *Process
	ExitCode  int
	LastError error
	Uptime    time.Duration
}

type Supervisor struct {
	cfg       Config
	log       zerolog.Logger
	publisher EventPublisher
	now       func() time.Time

	mu       sync.Mutex
	state    State
	proc     *Process
	cmd      *exec.Cmd
	done     chan struct{}
	exitCode int
	tail     func() string
	lastErr  error
}

type Option func(*Supervisor)

func WithLogger(l zerolog.Logger) Option { return func(s *Supervisor) { s.log = l } }

func WithPublisher(p EventPublisher) Option {
	return func(s *Supervisor) {
		if p == nil {
			p = noopPublisher{}
		}
		s.publisher = p
	}
}

func New(cfg Config, opts ...Option) *Supervisor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 10 * time.Minute
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 5 * time.Second
	}
	s := &Supervisor{
		cfg:       cfg,
		log:       zerolog.Nop(),
		publisher: noopPublisher{},
		now:       time.Now,
		state:     StateIdle,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Config returns the supervisor configuration.
func (s *Supervisor) Config() Config { return s.cfg }

// Invocation renders the command line Launch would run for p.
func (s *Supervisor) Invocation(p types.Profile) []string { return BuildInvocation(s.cfg, p) }

// Launch starts the engine for p and, when a readiness probe is configured,
// blocks until it is ready, exits, or the deadline passes.
func (s *Supervisor) Launch(ctx context.Context, p types.Profile) (*Process, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}

	inv := BuildInvocation(s.cfg, p)

	s.mu.Lock()
	switch s.state {
	case StateLaunching, StateRunning, StateStopping:
		st := s.state
		s.mu.Unlock()
		return nil, &PortInUseError{Port: s.cfg.Port, Reason: "engine already " + string(st), Invocation: inv}
	}
	prev := s.state
	s.state = StateLaunching
	s.mu.Unlock()

	if portBusy(s.cfg.Host, s.cfg.Port) {
		s.setState(prev)
		return nil, &PortInUseError{Port: s.cfg.Port, Reason: "listener detected", Invocation: inv}
	}

	s.log.Info().Str("profile", p.Key).Strs("invocation", inv).Msg("launching engine")

	cmd := exec.Command(inv[0], inv[1:]...)
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	// Own process group, so stop reaches the engine's worker processes too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	logFile, tail, closeOut, err := s.wireOutput(cmd)
	if err != nil {
		return nil, s.failStart(inv, err)
	}
	if err := cmd.Start(); err != nil {
		closeOut()
		return nil, s.failStart(inv, err)
	}
	// The child holds its own descriptor now.
	closeOut()

	proc := &Process{
		PID:        cmd.Process.Pid,
		Port:       s.cfg.Port,
		Profile:    p.Key,
		ModelID:    p.ModelID,
		Invocation: inv,
		RunID:      uuid.NewString(),
		StartedAt:  s.now(),
	}
	proc.LogFile = logFile
	done := make(chan struct{})

	s.mu.Lock()
	s.proc, s.cmd, s.done, s.tail = proc, cmd, done, tail
	s.exitCode, s.lastErr = 0, nil
	s.mu.Unlock()

	s.log.Info().Int("pid", proc.PID).Str("run_id", proc.RunID).Int("port", proc.Port).Msg("engine started")
	s.publish(EventLaunchStart, proc, map[string]any{"pid": proc.PID, "port": proc.Port})

	go s.watch(cmd, proc, done)

	if s.cfg.Ready == nil {
		s.setState(StateRunning)
		return copyProcess(proc), nil
	}
	return s.awaitReady(ctx, proc, done)
}

// wireOutput attaches engine output. Detached engines write straight to a
// file so they survive the launcher exiting; logFile is that file's path.
func (s *Supervisor) wireOutput(cmd *exec.Cmd) (logFile string, tail func() string, closeOut func(), err error) {
	if s.cfg.Detach {
		path, err := s.logPath()
		if err != nil {
			return "", nil, nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return "", nil, nil, fmt.Errorf("open engine log: %w", err)
		}
		cmd.Stdout, cmd.Stderr = f, f
		return path, func() string { return fileTail(path, stderrTailBytes) }, func() { _ = f.Close() }, nil
	}
	out := s.cfg.Output
	if out == nil {
		out = io.Discard
	}
	tb := newTailBuffer(stderrTailBytes)
	// grandchildren may inherit the pipes; don't let them hold Wait open
	cmd.WaitDelay = time.Second
	cmd.Stdout = out
	cmd.Stderr = io.MultiWriter(out, tb)
	return "", tb.String, func() {}, nil
}

func (s *Supervisor) logPath() (string, error) {
	if s.cfg.LogFile == "" {
		return os.DevNull, nil
	}
	p, err := fsutil.ExpandHome(s.cfg.LogFile)
	if err != nil {
		return "", fmt.Errorf("engine log: %w", err)
	}
	return p, nil
}

func (s *Supervisor) failStart(inv []string, err error) error {
	lerr := &LaunchError{Invocation: inv, Err: err}
	s.mu.Lock()
	s.state = StateIdle
	s.lastErr = lerr
	s.mu.Unlock()
	s.log.Error().Err(err).Strs("invocation", inv).Msg("engine failed to start")
	return lerr
}

// watch reaps the engine. An exit while running is a crash; exits during
// launch or stop are handled by those paths.
func (s *Supervisor) watch(cmd *exec.Cmd, proc *Process, done chan struct{}) {
	werr := cmd.Wait()
	code := exitCode(cmd, werr)

	s.mu.Lock()
	if s.cmd != cmd {
		// released by Detach
		s.mu.Unlock()
		close(done)
		return
	}
	s.exitCode = code
	if s.state == StateRunning {
		s.state = StateCrashed
		s.lastErr = &CrashedError{ExitCode: code, StderrTail: s.tail(), Invocation: proc.Invocation}
		s.log.Error().Int("pid", proc.PID).Int("exit_code", code).Msg("engine exited unexpectedly")
	}
	s.mu.Unlock()

	s.publish(EventLaunchExit, proc, map[string]any{"pid": proc.PID, "exit_code": code})
	close(done)
}

func exitCode(cmd *exec.Cmd, werr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var ee *exec.ExitError
	if errors.As(werr, &ee) {
		return ee.ExitCode()
	}
	return -1
}

func (s *Supervisor) awaitReady(ctx context.Context, proc *Process, done chan struct{}) (*Process, error) {
	deadline := time.NewTimer(s.cfg.ReadyTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(s.cfg.PollInterval)
	defer tick.Stop()

	for {
		select {
		case <-done:
			return nil, s.crashedBeforeReady(proc)
		default:
		}

		pctx, cancel := context.WithTimeout(ctx, s.cfg.PollInterval+time.Second)
		ok := s.cfg.Ready.Ready(pctx)
		cancel()
		if ok {
			s.mu.Lock()
			if s.state == StateLaunching && s.cmd != nil && s.proc == proc {
				s.state = StateRunning
			}
			s.mu.Unlock()
			select {
			case <-done:
				return nil, s.crashedBeforeReady(proc)
			default:
			}
			s.log.Info().Int("pid", proc.PID).Dur("after", s.now().Sub(proc.StartedAt)).Msg("engine ready")
			s.publish(EventLaunchReady, proc, map[string]any{"pid": proc.PID, "port": proc.Port})
			return copyProcess(proc), nil
		}

		select {
		case <-done:
			return nil, s.crashedBeforeReady(proc)
		case <-deadline.C:
			s.log.Error().Int("pid", proc.PID).Dur("timeout", s.cfg.ReadyTimeout).Msg("engine not ready in time; killing")
			s.publish(EventLaunchTimeout, proc, map[string]any{"pid": proc.PID})
			s.abort(done)
			return nil, s.recordLaunchErr(proc, fmt.Errorf("%w (%s)", ErrReadyTimeout, s.cfg.ReadyTimeout))
		case <-ctx.Done():
			s.log.Warn().Int("pid", proc.PID).Msg("launch interrupted; killing engine")
			s.abort(done)
			return nil, s.recordLaunchErr(proc, ctx.Err())
		case <-tick.C:
		}
	}
}

func (s *Supervisor) crashedBeforeReady(proc *Process) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := &CrashedError{ExitCode: s.exitCode, StderrTail: s.tail(), Invocation: proc.Invocation}
	s.state = StateCrashed
	s.lastErr = err
	s.cmd = nil
	s.log.Error().Int("pid", proc.PID).Int("exit_code", s.exitCode).Msg("engine exited before ready")
	return err
}

func (s *Supervisor) recordLaunchErr(proc *Process, err error) error {
	lerr := &LaunchError{Invocation: proc.Invocation, Err: err}
	s.mu.Lock()
	s.state = StateIdle
	s.lastErr = lerr
	s.cmd, s.proc = nil, nil
	s.mu.Unlock()
	return lerr
}

// abort kills the engine mid-launch and waits for it to be reaped.
func (s *Supervisor) abort(done chan struct{}) {
	s.mu.Lock()
	s.state = StateStopping
	cmd := s.cmd
	s.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		s.signal(cmd, syscall.SIGKILL)
	}
	<-done
}

// signal delivers sig to the engine's process group, falling back to the
// engine alone once the group is gone.
func (s *Supervisor) signal(cmd *exec.Cmd, sig syscall.Signal) {
	if err := syscall.Kill(-cmd.Process.Pid, sig); err == nil {
		return
	}
	_ = cmd.Process.Signal(sig)
}

// Stop terminates the engine this supervisor spawned: SIGTERM, then SIGKILL
// after StopGrace or when ctx ends. Stopping an idle supervisor is a no-op.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	cmd, proc, done := s.cmd, s.proc, s.done
	switch {
	case s.state == StateCrashed:
		s.state, s.cmd, s.proc = StateIdle, nil, nil
		s.mu.Unlock()
		return nil
	case cmd == nil || s.state == StateIdle:
		s.mu.Unlock()
		return nil
	case s.state == StateStopping:
		s.mu.Unlock()
		<-done
		return nil
	}
	s.state = StateStopping
	s.mu.Unlock()

	s.log.Info().Int("pid", proc.PID).Msg("stopping engine")
	s.signal(cmd, syscall.SIGTERM)
	grace := time.NewTimer(s.cfg.StopGrace)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		s.log.Warn().Int("pid", proc.PID).Dur("grace", s.cfg.StopGrace).Msg("engine ignored SIGTERM; killing")
		s.signal(cmd, syscall.SIGKILL)
		<-done
	case <-ctx.Done():
		s.signal(cmd, syscall.SIGKILL)
		<-done
	}

	s.mu.Lock()
	s.state = StateIdle
	s.cmd, s.proc = nil, nil
	code := s.exitCode
	s.mu.Unlock()
	s.publish(EventStop, proc, map[string]any{"pid": proc.PID, "exit_code": code})
	return nil
}

// Wait blocks until the running engine exits or ctx ends. An exit the
// supervisor did not request is returned as a CrashedError.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCrashed {
		return s.lastErr
	}
	return nil
}

// Detach releases the running engine without stopping it. The supervisor
// returns to idle and no longer tracks the process.
func (s *Supervisor) Detach() *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning || s.proc == nil {
		return nil
	}
	proc := copyProcess(s.proc)
	s.state = StateIdle
	s.cmd, s.proc, s.done = nil, nil, nil
	s.log.Info().Int("pid", proc.PID).Str("log", proc.LogFile).Msg("engine detached")
	return proc
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{State: s.state, ExitCode: s.exitCode, LastError: s.lastErr}
	if s.proc != nil {
		snap.Process = copyProcess(s.proc)
		if s.state == StateRunning {
			snap.Uptime = s.now().Sub(s.proc.StartedAt)
		}
	}
	return snap
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Supervisor) publish(name string, proc *Process, fields map[string]any) {
	s.publisher.Publish(Event{Name: name, Profile: proc.Profile, RunID: proc.RunID, Fields: fields})
}

func copyProcess(p *Process) *Process {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Invocation = append([]string(nil), p.Invocation...)
	return &cp
}
