// Package reconcile brings the accelerator to a known-clean state before a
// launch: prior engine instances are killed, memory is allowed to settle and
// the remaining free memory is checked against a threshold.
package reconcile

import (
	"context"
	"os/exec"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"servectl/internal/accelerator"
	"servectl/internal/procscan"
)

// Config controls reconciliation.
type Config struct {
	SettleInterval time.Duration
	MinFreeMiB     int
	Signature      string
	// KillForeign also kills compute processes that do not match Signature.
	KillForeign  bool
	Services     []string
	StopServices bool
}

// ServiceStopper stops a host service by name.
type ServiceStopper func(ctx context.Context, name string) error

// SystemctlStop runs `systemctl stop <name>`.
func SystemctlStop(ctx context.Context, name string) error {
	return exec.CommandContext(ctx, "systemctl", "stop", name).Run()
}

// Report summarizes one reconciliation pass.
type Report struct {
	Terminated      []int    `json:"terminated,omitempty"`
	Foreign         []int    `json:"foreign,omitempty"`
	FreeMiB         int      `json:"free_mib"`
	LowMemory       bool     `json:"low_memory"`
	ServicesStopped []string `json:"services_stopped,omitempty"`
	Settled         int      `json:"settled"`
}

// Reconciler performs reconciliation against injected collaborators.
type Reconciler struct {
	cfg    Config
	probe  accelerator.Probe
	finder procscan.Finder
	killer procscan.Killer
	stop   ServiceStopper
	sleep  func(context.Context, time.Duration) error
	log    zerolog.Logger
	notify func(Report)
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

func WithLogger(l zerolog.Logger) Option { return func(r *Reconciler) { r.log = l } }

// WithObserver registers a callback receiving every finished report.
func WithObserver(fn func(Report)) Option { return func(r *Reconciler) { r.notify = fn } }

func WithServiceStopper(s ServiceStopper) Option { return func(r *Reconciler) { r.stop = s } }

// WithSleep replaces the settle wait; tests use it to avoid real delays.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(r *Reconciler) { r.sleep = fn }
}

func New(cfg Config, probe accelerator.Probe, finder procscan.Finder, killer procscan.Killer, opts ...Option) *Reconciler {
	r := &Reconciler{
		cfg:    cfg,
		probe:  probe,
		finder: finder,
		killer: killer,
		stop:   SystemctlStop,
		sleep:  sleepCtx,
		log:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Reconcile kills prior instances and checks free memory. Low memory is
// reported, not returned as an error; the only error is ctx cancellation.
func (r *Reconciler) Reconcile(ctx context.Context) (Report, error) {
	var rep Report

	gpuPIDs := r.computePIDs(ctx)
	sigPIDs := r.signaturePIDs(ctx)

	if len(gpuPIDs) > 0 || len(sigPIDs) > 0 {
		r.log.Info().Ints("accelerator_pids", gpuPIDs).Ints("signature_pids", sigPIDs).Msg("clearing prior instances")
		killed := map[int]bool{}
		for _, pid := range sigPIDs {
			if r.kill(pid) {
				killed[pid] = true
			}
		}
		if err := r.settle(ctx, &rep); err != nil {
			return rep, err
		}

		// Stragglers still holding the accelerator after the signature sweep.
		sig := toSet(r.signaturePIDs(ctx))
		for _, pid := range sigPIDs {
			sig[pid] = true
		}
		var foreign []int
		stragglers := 0
		for _, pid := range r.computePIDs(ctx) {
			if !r.cfg.KillForeign && !sig[pid] {
				foreign = append(foreign, pid)
				continue
			}
			stragglers++
			if r.kill(pid) {
				killed[pid] = true
			}
		}
		if len(foreign) > 0 {
			r.log.Warn().Ints("pids", foreign).Msg("foreign processes hold the accelerator; rerun with --kill-foreign to terminate them")
		}
		rep.Foreign = foreign
		if stragglers > 0 {
			if err := r.settle(ctx, &rep); err != nil {
				return rep, err
			}
		}
		rep.Terminated = sortedKeys(killed)
	} else {
		r.log.Debug().Msg("accelerator already clear")
	}

	if r.probe != nil {
		if err := r.checkMemory(ctx, &rep); err != nil {
			return rep, err
		}
	}

	if r.cfg.StopServices {
		for _, svc := range r.cfg.Services {
			if err := r.stop(ctx, svc); err != nil {
				r.log.Warn().Err(err).Str("service", svc).Msg("stop service failed")
				continue
			}
			rep.ServicesStopped = append(rep.ServicesStopped, svc)
			r.log.Info().Str("service", svc).Msg("service stopped")
		}
	}

	if r.notify != nil {
		r.notify(rep)
	}
	return rep, nil
}

func (r *Reconciler) settle(ctx context.Context, rep *Report) error {
	rep.Settled++
	return r.sleep(ctx, r.cfg.SettleInterval)
}

func (r *Reconciler) kill(pid int) bool {
	if err := r.killer.Kill(pid); err != nil {
		r.log.Warn().Err(err).Int("pid", pid).Msg("kill failed")
		return false
	}
	r.log.Info().Int("pid", pid).Msg("killed")
	return true
}

func (r *Reconciler) computePIDs(ctx context.Context) []int {
	if r.probe == nil {
		return nil
	}
	pids, err := r.probe.ComputePIDs(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("accelerator process query failed")
		return nil
	}
	return pids
}

func (r *Reconciler) signaturePIDs(ctx context.Context) []int {
	if r.finder == nil || r.cfg.Signature == "" {
		return nil
	}
	pids, err := r.finder.FindBySignature(ctx, r.cfg.Signature)
	if err != nil {
		r.log.Warn().Err(err).Msg("process scan failed")
		return nil
	}
	return pids
}

// checkMemory reads free memory, settling once more when it is below the
// threshold. Query failures are logged and leave FreeMiB at zero.
func (r *Reconciler) checkMemory(ctx context.Context, rep *Report) error {
	free, err := r.freeMiB(ctx)
	if err == nil && free < r.cfg.MinFreeMiB {
		if err := r.settle(ctx, rep); err != nil {
			return err
		}
		free, err = r.freeMiB(ctx)
	}
	if err != nil {
		r.log.Warn().Err(err).Msg("accelerator memory query failed")
		return nil
	}
	rep.FreeMiB = free
	if free < r.cfg.MinFreeMiB {
		rep.LowMemory = true
		r.log.Warn().Int("free_mib", free).Int("min_free_mib", r.cfg.MinFreeMiB).Msg("low accelerator memory after reconciliation; launch may fail")
	}
	return nil
}

func (r *Reconciler) freeMiB(ctx context.Context) (int, error) {
	st, err := r.probe.State(ctx)
	if err != nil {
		return 0, err
	}
	return st.FreeMiB, nil
}

func toSet(pids []int) map[int]bool {
	m := make(map[int]bool, len(pids))
	for _, p := range pids {
		m[p] = true
	}
	return m
}

func sortedKeys(m map[int]bool) []int {
	if len(m) == 0 {
		return nil
	}
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
