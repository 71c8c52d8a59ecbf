package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func (a *App) stopCmd() *cobra.Command {
	var killForeign bool
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Kill running engine instances and report GPU state",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("kill-foreign") {
				a.cfg.KillForeign = killForeign
			}
			rep, err := a.reconciler().Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			if len(rep.Terminated) == 0 {
				printOK(a.Stdout, "no engine instances running")
			} else {
				printOK(a.Stdout, "terminated %v", rep.Terminated)
			}
			if len(rep.Foreign) > 0 {
				printWarn(a.Stdout, "foreign GPU processes left running: %v (use --kill-foreign)", rep.Foreign)
			}
			if rep.LowMemory {
				printWarn(a.Stdout, "only %d MiB free on the GPU", rep.FreeMiB)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&killForeign, "kill-foreign", false, "Also kill non-engine processes holding the GPU")
	return cmd
}

func (a *App) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show GPU memory, engine processes and engine health",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if st, err := a.probe().State(ctx); err != nil {
				printWarn(a.Stdout, "accelerator: %v", err)
			} else {
				printOK(a.Stdout, "gpu %d %s: %d/%d MiB free, compute pids %v", st.Index, st.Name, st.FreeMiB, st.TotalMiB, st.ComputePIDs)
			}
			if pids, err := a.Finder.FindBySignature(ctx, a.cfg.Signature); err != nil {
				printWarn(a.Stdout, "process scan: %v", err)
			} else if len(pids) > 0 {
				printOK(a.Stdout, "engine processes: %v", pids)
			} else {
				printWarn(a.Stdout, "no engine processes")
			}
			sm := a.smokeClient()
			if err := sm.Health(ctx); err != nil {
				printErr(a.Stdout, "health %s: %v", sm.BaseURL(), err)
				return nil
			}
			printOK(a.Stdout, "health %s: ready", sm.BaseURL())
			if mi, err := sm.ModelInfo(ctx); err == nil {
				printOK(a.Stdout, "serving %s", mi.ModelPath)
			}
			return nil
		},
	}
}

func (a *App) smokeCmd() *cobra.Command {
	var prompt string
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Run health, model-info, completion and chat requests against the engine",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("prompt") {
				prompt = a.cfg.SmokePrompt
			}
			rep := a.smokeClient().Run(cmd.Context(), prompt)
			printSmokeReport(a.Stdout, rep)
			if !rep.OK() {
				return fmt.Errorf("smoke test failed against %s", rep.BaseURL)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "Prompt for the completion and chat requests")
	return cmd
}

func (a *App) profilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List launch profiles",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(a.Stdout, renderProfiles(a.reg.List()))
			return nil
		},
	}
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usagef("%s takes no arguments", cmd.Name())
	}
	return nil
}
