package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilnbuild/kiln/internal/presentation/tui"
	"github.com/kilnbuild/kiln/internal/scheduler"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Build continuously as files change",
	Long: `Runs an initial build, then watches the project tree and rebuilds on every
debounced batch of changes until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := engineFromFlags(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		printer := tui.NewPrinter(os.Stdout)
		err = engine.Watch(ctx, func(result *scheduler.Result) {
			reportResult(printer, result)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
