// devwatch reruns a locally built application whenever its sources change
// and drives a companion browser through a refresh side-channel.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/devwatch/devwatch/internal/browser"
	"github.com/devwatch/devwatch/internal/config"
	"github.com/devwatch/devwatch/internal/orchestrator"
	"github.com/devwatch/devwatch/internal/profile"
	"github.com/devwatch/devwatch/internal/report"
	"github.com/devwatch/devwatch/internal/runner"
	"github.com/devwatch/devwatch/internal/watchdrive"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type runFlags struct {
	projectDir     string
	configPath     string
	runtimeVersion string
	verbose        bool
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "devwatch",
		Short:         "File-watching development loop with browser refresh",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run [flags] -- <command> [args...]",
		Short: "Run a command, restart it on file changes, refresh the browser",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), cmd.Name(), flags, args)
		},
	}
	cmd.Flags().StringVarP(&flags.projectDir, "project", "p", ".", "project directory to watch")
	cmd.Flags().StringVar(&flags.configPath, "config", "", "path to devwatch config file")
	cmd.Flags().StringVar(&flags.runtimeVersion, "runtime-version", "", "target runtime version (gates browser refresh support)")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "verbose output")
	return cmd
}

func runWatch(ctx context.Context, command string, flags *runFlags, args []string) error {
	cfg := config.Default()
	if flags.configPath != "" {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}

	projectDir, err := filepath.Abs(flags.projectDir)
	if err != nil {
		return fmt.Errorf("resolving project directory: %w", err)
	}

	env := config.FromEnv()
	reporter := report.NewConsole(flags.verbose)
	launcher := browser.NewLauncher(env, reporter)

	orch := orchestrator.New(env, command, launcher)
	defer orch.Close()

	// Without an explicit runtime version the floor is assumed satisfied;
	// the launch profile still has the final say on eligibility.
	runtimeSupported := true
	if flags.runtimeVersion != "" {
		runtimeSupported = profile.SupportsRefresh(flags.runtimeVersion)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return watchdrive.Run(ctx, watchdrive.Options{
		Root:        projectDir,
		Debounce:    cfg.Watch.Debounce.Std(),
		KillGrace:   cfg.Watch.KillGrace.Std(),
		ShouldWatch: cfg.WatchesExtension,
		NewSpec: func() *runner.ProcessSpec {
			return &runner.ProcessSpec{
				Path:   args[0],
				Args:   args[1:],
				Dir:    projectDir,
				Env:    make(map[string]string),
				Stdout: os.Stdout,
			}
		},
		Cycle: func(ctx context.Context, cycle int, spec *runner.ProcessSpec) {
			orch.ProcessCycle(ctx, cycle, spec, reporter, runtimeSupported)
		},
		Reporter: reporter,
	})
}
