// Package cli implements the servectl command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"servectl/internal/accelerator"
	"servectl/internal/common/fsutil"
	"servectl/internal/config"
	"servectl/internal/logging"
	"servectl/internal/procscan"
	"servectl/internal/reconcile"
	"servectl/internal/registry"
	"servectl/internal/smoke"
	"servectl/internal/supervisor"
)

// App holds the I/O and host collaborators the commands run against.
// Zero-valued fields fall back to the real host.
type App struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	IsTTY  func() bool
	Pick   func(reg *registry.Registry) (string, error)
	Probe  accelerator.Probe
	Finder procscan.Finder
	Killer procscan.Killer
	Stop   reconcile.ServiceStopper
	// Console forces human-readable logs; nil detects a TTY.
	Console *bool

	cfg     config.Config
	reg     *registry.Registry
	log     zerolog.Logger
	cleanup func()
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	return (&App{}).Execute(ctx, args)
}

func (a *App) Execute(ctx context.Context, args []string) int {
	a.defaults()
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetIn(a.Stdin)
	root.SetOut(a.Stdout)
	root.SetErr(a.Stderr)
	err := root.ExecuteContext(ctx)
	if a.cleanup != nil {
		a.cleanup()
	}
	if err != nil {
		if isUsage(err) {
			printErr(a.Stderr, "%v", err)
			fmt.Fprintln(a.Stderr, dimStyle.Render("run 'servectl profiles' to list profile keys, 'servectl --help' for usage"))
		} else {
			printErr(a.Stderr, "%v", err)
		}
	}
	return exitCode(err)
}

func (a *App) defaults() {
	if a.Stdin == nil {
		a.Stdin = os.Stdin
	}
	if a.Stdout == nil {
		a.Stdout = os.Stdout
	}
	if a.Stderr == nil {
		a.Stderr = os.Stderr
	}
	if a.IsTTY == nil {
		a.IsTTY = func() bool {
			f, ok := a.Stdin.(*os.File)
			return ok && term.IsTerminal(int(f.Fd()))
		}
	}
	if a.Pick == nil {
		a.Pick = func(reg *registry.Registry) (string, error) {
			return pickProfile(reg.List(), a.Stdin, a.Stderr)
		}
	}
	if a.Finder == nil {
		a.Finder = procscan.ProcFS{}
	}
	if a.Killer == nil {
		a.Killer = procscan.SignalKiller{}
	}
	if a.Stop == nil {
		a.Stop = reconcile.SystemctlStop
	}
}

func (a *App) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "servectl",
		Short:         "Launch, reconcile and smoke-test a single-GPU inference server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.String("config", "", "Config file (yaml|json|toml)")
	pf.String("profiles", "", "Extra profiles file merged over the built-in table")
	pf.String("log-level", "", "Log level: debug|info|warn|error (defaults SERVECTL_LOG_LEVEL or info)")
	pf.String("log-file", "", "Also write JSON logs to this file (rotated)")
	pf.String("host", "", "Engine bind host (default 0.0.0.0)")
	pf.Int("port", 0, "Engine port (default 30000)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error { return a.setup(cmd) }
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error { return usageError{msg: err.Error()} })

	root.AddCommand(a.launchCmd(), a.stopCmd(), a.statusCmd(), a.smokeCmd(), a.profilesCmd())
	return root
}

// setup resolves configuration (defaults, file, env, flags), the logger
// and the profile registry.
func (a *App) setup(cmd *cobra.Command) error {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")
	cfg := config.Default()
	if path != "" {
		p, err := fsutil.ExpandHome(path)
		if err != nil {
			return usageError{msg: err.Error()}
		}
		c, err := config.Load(p)
		if err != nil {
			return err
		}
		cfg = c
	}
	if err := cfg.ApplyEnv(); err != nil {
		return usageError{msg: err.Error()}
	}
	if flags.Changed("profiles") {
		cfg.ProfilesFile, _ = flags.GetString("profiles")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-file") {
		cfg.LogFile, _ = flags.GetString("log-file")
	}
	if flags.Changed("host") {
		cfg.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Port, _ = flags.GetInt("port")
	}
	if err := cfg.Validate(); err != nil {
		return usageError{msg: err.Error()}
	}

	log, cleanup, err := logging.New(logging.Config{Level: cfg.LogLevel, File: cfg.LogFile, Console: a.Console}, a.Stderr)
	if err != nil {
		return err
	}
	a.log, a.cleanup = log, cleanup

	profilesPath := cfg.ProfilesFile
	if profilesPath != "" {
		if profilesPath, err = fsutil.ExpandHome(profilesPath); err != nil {
			return usageError{msg: err.Error()}
		}
	}
	reg, err := registry.Load(profilesPath)
	if err != nil {
		return err
	}
	a.cfg, a.reg = cfg, reg
	return nil
}

func (a *App) probe() accelerator.Probe {
	if a.Probe != nil {
		return a.Probe
	}
	return accelerator.NvidiaSMI{Index: a.cfg.GPUIndex}
}

func (a *App) reconciler(opts ...reconcile.Option) *reconcile.Reconciler {
	rc := reconcile.Config{
		SettleInterval: a.cfg.SettleInterval(),
		MinFreeMiB:     a.cfg.MinFreeMiB,
		Signature:      a.cfg.Signature,
		KillForeign:    a.cfg.KillForeign,
		Services:       a.cfg.Services,
		StopServices:   a.cfg.StopServices,
	}
	opts = append([]reconcile.Option{
		reconcile.WithLogger(a.log.With().Str("component", "reconcile").Logger()),
		reconcile.WithServiceStopper(a.Stop),
	}, opts...)
	return reconcile.New(rc, a.probe(), a.Finder, a.Killer, opts...)
}

func (a *App) smokeClient() *smoke.Client {
	return smoke.New(smoke.Endpoint(a.cfg.Host, a.cfg.Port),
		smoke.WithTimeout(a.cfg.SmokeTimeout()),
		smoke.WithLogger(a.log.With().Str("component", "smoke").Logger()))
}

func (a *App) supervisorConfig(detach, noWait bool, ready supervisor.Readiness) supervisor.Config {
	sc := supervisor.Config{
		Command:      a.cfg.EngineCommand(),
		Host:         a.cfg.Host,
		Port:         a.cfg.Port,
		DType:        a.cfg.DType,
		ReadyTimeout: a.cfg.ReadyTimeout(),
		PollInterval: a.cfg.PollInterval(),
		StopGrace:    a.cfg.StopGrace(),
		Output:       a.Stderr,
		Detach:       detach,
		LogFile:      a.cfg.ServerLog,
	}
	if !noWait {
		sc.Ready = ready
	}
	return sc
}
