package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"servectl/internal/httpapi"
	"servectl/internal/launcher"
	"servectl/internal/reconcile"
	"servectl/internal/supervisor"
)

type launchFlags struct {
	detach       bool
	noWait       bool
	smoke        bool
	dryRun       bool
	killForeign  bool
	stopServices bool
	statusAddr   string
	corsOrigins  []string
}

func (a *App) launchCmd() *cobra.Command {
	var f launchFlags
	cmd := &cobra.Command{
		Use:   "launch [profile]",
		Short: "Reconcile the GPU and launch the engine for a profile",
		Example: "  servectl launch llama\n" +
			"  servectl launch qwen --detach --smoke\n" +
			"  servectl launch --dry-run mistral",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 {
				return usagef("launch takes at most one profile key, got %d", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("kill-foreign") {
				a.cfg.KillForeign = f.killForeign
			}
			if flags.Changed("stop-services") {
				a.cfg.StopServices = f.stopServices
			}
			if flags.Changed("no-wait") {
				a.cfg.NoWait = f.noWait
			}
			if flags.Changed("status-addr") {
				a.cfg.StatusAddr = f.statusAddr
			}
			if flags.Changed("status-cors-origin") {
				a.cfg.CORSOrigins = f.corsOrigins
			}
			key, err := a.profileKey(args)
			if err != nil {
				return err
			}
			return a.runLaunch(cmd.Context(), key, f)
		},
	}
	fl := cmd.Flags()
	fl.BoolVar(&f.detach, "detach", false, "Leave the engine running in the background and exit")
	fl.BoolVar(&f.noWait, "no-wait", false, "Do not wait for the engine to report healthy")
	fl.BoolVar(&f.smoke, "smoke", false, "Run the smoke test once the engine is ready")
	fl.BoolVar(&f.dryRun, "dry-run", false, "Print the engine invocation and exit")
	fl.BoolVar(&f.killForeign, "kill-foreign", false, "Also kill non-engine processes holding the GPU")
	fl.BoolVar(&f.stopServices, "stop-services", false, "Stop configured host services (e.g. display-manager) before launch")
	fl.StringVar(&f.statusAddr, "status-addr", "", "Serve /status, /readyz and /metrics on this address while in the foreground")
	fl.StringSliceVar(&f.corsOrigins, "status-cors-origin", nil, "Allow cross-origin reads of the status endpoint from this origin (repeatable)")
	return cmd
}

// profileKey returns the explicit key or asks interactively on a TTY.
func (a *App) profileKey(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if !a.IsTTY() {
		return "", usagef("no profile given and stdin is not a terminal; pass one of %v", a.reg.Keys())
	}
	key, err := a.Pick(a.reg)
	if errors.Is(err, errPickerCancelled) {
		return "", usagef("%v", err)
	}
	return key, err
}

func (a *App) runLaunch(parent context.Context, key string, f launchFlags) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sm := a.smokeClient()
	sup := supervisor.New(a.supervisorConfig(f.detach, a.cfg.NoWait, sm),
		supervisor.WithLogger(a.log.With().Str("component", "supervisor").Logger()),
		supervisor.WithPublisher(httpapi.MetricsPublisher{}))

	l := &launcher.Launcher{Registry: a.reg, Engine: sup, Smoke: sm, Log: a.log}

	if f.dryRun {
		_, inv, err := l.Plan(key)
		if err != nil {
			return err
		}
		printInvocation(a.Stdout, inv)
		return nil
	}

	svc := httpapi.NewLauncherService(sup, a.reg)
	l.Reconciler = a.reconciler(reconcile.WithObserver(svc.SetReconcileReport))
	if a.cfg.StatusAddr != "" && !f.detach {
		ln, err := net.Listen("tcp", a.cfg.StatusAddr)
		if err != nil {
			return err
		}
		httpapi.SetLogger(a.log.With().Str("component", "status").Logger())
		a.log.Info().Str("addr", ln.Addr().String()).Msg("status endpoint listening")
		go func() {
			if err := httpapi.Serve(ctx, ln, a.statusHandler(svc)); err != nil {
				a.log.Warn().Err(err).Msg("status endpoint stopped")
			}
		}()
	}

	res, err := l.Run(ctx, key, launcher.Options{Smoke: f.smoke, SmokePrompt: a.cfg.SmokePrompt})
	if res.Reconcile.LowMemory {
		printWarn(a.Stdout, "only %d MiB free on the GPU after reconciliation (want %d)", res.Reconcile.FreeMiB, a.cfg.MinFreeMiB)
	}
	if res.Smoke != nil {
		printSmokeReport(a.Stdout, *res.Smoke)
	}
	if err != nil {
		if inv := supervisor.InvocationOf(err); len(inv) > 0 {
			printErr(a.Stderr, "engine invocation:")
			printInvocation(a.Stderr, inv)
		}
		if errors.Is(err, launcher.ErrSmokeFailed) && !f.detach {
			if _, serr := l.Stop(context.Background()); serr != nil {
				a.log.Warn().Err(serr).Msg("stop after failed smoke test")
			}
		}
		return err
	}

	proc := res.Process
	printOK(a.Stdout, "%s running on port %d (pid %d)", res.Profile.Key, proc.Port, proc.PID)
	if f.detach {
		if p := sup.Detach(); p != nil && p.LogFile != "" {
			printOK(a.Stdout, "detached; engine output in %s", p.LogFile)
		}
		return nil
	}

	err = sup.Wait(ctx)
	if ctx.Err() != nil {
		a.log.Info().Msg("interrupted; stopping engine")
		rep, err := l.Stop(context.Background())
		if len(rep.Terminated) > 0 {
			a.log.Info().Ints("pids", rep.Terminated).Msg("swept leftover engine processes")
		}
		return err
	}
	return err
}

// statusHandler builds the status mux with the configured CORS policy.
func (a *App) statusHandler(svc httpapi.Service) http.Handler {
	httpapi.SetCORSOptions(len(a.cfg.CORSOrigins) > 0, a.cfg.CORSOrigins, a.cfg.CORSMethods, a.cfg.CORSHeaders)
	return httpapi.NewMux(svc)
}
