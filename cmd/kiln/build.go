package main

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kilnbuild/kiln"
	"github.com/kilnbuild/kiln/internal/presentation/tui"
	"github.com/kilnbuild/kiln/internal/scheduler"
	"github.com/kilnbuild/kiln/pkg/domain"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Run a single incremental build",
	Long: `Discovers the asset graph, runs the builders whose inputs changed, and
replays recorded failures for unchanged inputs. With --output, the merged
build view is copied into the given directory afterwards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")

		hooks, finish := progressHooks(verbose)
		engine, err := engineFromFlags(cmd, kiln.WithLifecycleHooks(hooks))
		if err != nil {
			return err
		}

		result, err := engine.Build(cmd.Context())
		finish()
		if err != nil {
			return err
		}

		printer := tui.NewPrinter(os.Stdout)
		reportResult(printer, result)

		if output, _ := cmd.Flags().GetString("output"); output != "" {
			destDir, subdir := splitOutput(output)
			if err := engine.Export(cmd.Context(), destDir, subdir); err != nil {
				return err
			}
		}

		if !result.OK() {
			return errActionsFailed
		}
		return nil
	},
}

func init() {
	buildCmd.Flags().String("output", "", "Copy the merged build view to <dir>[:<subdir>]")
	rootCmd.AddCommand(buildCmd)
}

// splitOutput parses --output "dir" or "dir:subdir".
func splitOutput(output string) (destDir, subdir string) {
	destDir, subdir, _ = strings.Cut(output, ":")
	return destDir, subdir
}

func reportResult(printer *tui.Printer, result *scheduler.Result) {
	for _, failure := range result.Failures {
		printer.Failure(failure)
	}
	for _, replay := range result.Replayed {
		printer.Replay(replay)
	}
	printer.Result(result)
}

// progressHooks renders a progress bar for interactive builds. Verbose
// builds log every action instead, and non-TTY output stays clean.
func progressHooks(verbose bool) (domain.LifecycleHooks, func()) {
	if verbose || !term.IsTerminal(int(os.Stdout.Fd())) {
		return domain.LifecycleHooks{}, func() {}
	}

	var mu sync.Mutex
	var bar *progressbar.ProgressBar

	hooks := domain.LifecycleHooks{
		OnBuildStart: func(_ context.Context, ev *domain.BuildEvent) {
			mu.Lock()
			defer mu.Unlock()
			if ev.Actions > 0 {
				bar = progressbar.NewOptions(ev.Actions,
					progressbar.OptionSetDescription("building"),
					progressbar.OptionClearOnFinish(),
					progressbar.OptionSetWriter(os.Stderr),
				)
			}
		},
		OnActionEnd: func(_ context.Context, _ *domain.ActionEvent) {
			mu.Lock()
			defer mu.Unlock()
			if bar != nil {
				_ = bar.Add(1)
			}
		},
	}
	finish := func() {
		mu.Lock()
		defer mu.Unlock()
		if bar != nil {
			_ = bar.Finish()
			bar = nil
		}
	}
	return hooks, finish
}
