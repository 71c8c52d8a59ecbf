// Package launcher wires the registry, reconciler, supervisor and smoke test
// into the launch sequence: resolve, reconcile, launch, optionally smoke-test.
package launcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"servectl/internal/reconcile"
	"servectl/internal/registry"
	"servectl/internal/smoke"
	"servectl/internal/supervisor"
	"servectl/pkg/types"
)

// ErrSmokeFailed is returned when the engine launched but the smoke test did not pass.
var ErrSmokeFailed = errors.New("smoke test failed")

type Reconciler interface {
	Reconcile(ctx context.Context) (reconcile.Report, error)
}

type Engine interface {
	Invocation(p types.Profile) []string
	Launch(ctx context.Context, p types.Profile) (*supervisor.Process, error)
	Stop(ctx context.Context) error
}

type SmokeRunner interface {
	Run(ctx context.Context, prompt string) smoke.Report
}

type Options struct {
	Smoke       bool
	SmokePrompt string
}

type Result struct {
	Profile   types.Profile
	Reconcile reconcile.Report
	Process   *supervisor.Process
	Smoke     *smoke.Report
}

type Launcher struct {
	Registry   *registry.Registry
	Reconciler Reconciler
	Engine     Engine
	Smoke      SmokeRunner
	Log        zerolog.Logger
}

// Plan resolves key and returns the invocation a launch would use.
func (l *Launcher) Plan(key string) (types.Profile, []string, error) {
	p, err := l.Registry.Resolve(key)
	if err != nil {
		return types.Profile{}, nil, err
	}
	if err := supervisor.Validate(p); err != nil {
		return p, nil, err
	}
	return p, l.Engine.Invocation(p), nil
}

// Run performs one launch. Nothing is retried; an unknown key fails before
// any process is touched.
func (l *Launcher) Run(ctx context.Context, key string, opts Options) (Result, error) {
	p, _, err := l.Plan(key)
	if err != nil {
		return Result{}, err
	}
	res := Result{Profile: p}
	l.Log.Info().Str("profile", p.Key).Str("model", p.ModelID).Msg("selected profile")

	if l.Reconciler != nil {
		rep, err := l.Reconciler.Reconcile(ctx)
		res.Reconcile = rep
		if err != nil {
			return res, fmt.Errorf("reconcile: %w", err)
		}
		if rep.LowMemory {
			l.Log.Warn().Int("free_mib", rep.FreeMiB).Msg("continuing launch with low accelerator memory")
		}
	}

	proc, err := l.Engine.Launch(ctx, p)
	if err != nil {
		return res, err
	}
	res.Process = proc

	if opts.Smoke && l.Smoke != nil {
		rep := l.Smoke.Run(ctx, opts.SmokePrompt)
		res.Smoke = &rep
		if !rep.OK() {
			return res, ErrSmokeFailed
		}
	}
	return res, nil
}

// Stop stops the engine this process launched, then sweeps any remaining
// instances by signature.
func (l *Launcher) Stop(ctx context.Context) (reconcile.Report, error) {
	if l.Engine != nil {
		if err := l.Engine.Stop(ctx); err != nil {
			return reconcile.Report{}, fmt.Errorf("stop engine: %w", err)
		}
	}
	if l.Reconciler == nil {
		return reconcile.Report{}, nil
	}
	return l.Reconciler.Reconcile(ctx)
}
