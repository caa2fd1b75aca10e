package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilnbuild/kiln"
	"github.com/kilnbuild/kiln/internal/presentation/tui"
	"github.com/kilnbuild/kiln/internal/scheduler"
	"github.com/kilnbuild/kiln/internal/server"
	"github.com/kilnbuild/kiln/pkg/domain"
)

var serveCmd = &cobra.Command{
	Use:   "serve [<dir>:<port>...]",
	Short: "Serve the build view over HTTP, rebuilding on changes",
	Long: `Builds once, serves the merged build view, and rebuilds on file changes.
Requests arriving during a build are held until it completes, so clients
never observe a half-written output set.

Each argument maps a project subdirectory to a port, e.g. "web:8080".
With no arguments the project root is served on :8080.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mappings, err := parseServeArgs(args)
		if err != nil {
			return err
		}

		gate := &server.Gate{}
		metrics := server.NewMetrics()
		gateHooks := domain.LifecycleHooks{
			OnBuildStart: func(context.Context, *domain.BuildEvent) { gate.StartBuild() },
			OnBuildEnd:   func(context.Context, *domain.BuildEvent) { gate.FinishBuild() },
		}

		engine, err := engineFromFlags(cmd,
			kiln.WithLifecycleHooks(mergeHooks(gateHooks, metrics.Hooks())))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		// Any server or the watch loop failing takes the whole command
		// down; the shared context stops the rest.
		errs := make(chan error, len(mappings)+1)

		for _, m := range mappings {
			srv := &server.Server{
				Source:  engine,
				Subdir:  m.subdir,
				Gate:    gate,
				Metrics: metrics,
			}
			addr := ":" + m.port
			go func() {
				errs <- srv.ListenAndServe(ctx, addr)
			}()
		}

		printer := tui.NewPrinter(os.Stdout)
		go func() {
			errs <- engine.Watch(ctx, func(result *scheduler.Result) {
				reportResult(printer, result)
			})
		}()

		err = <-errs
		cancel()
		for i := 0; i < len(mappings); i++ {
			<-errs
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

type serveMapping struct {
	subdir string
	port   string
}

func parseServeArgs(args []string) ([]serveMapping, error) {
	if len(args) == 0 {
		return []serveMapping{{subdir: "", port: "8080"}}, nil
	}
	mappings := make([]serveMapping, 0, len(args))
	for _, arg := range args {
		subdir, port, ok := strings.Cut(arg, ":")
		if !ok || port == "" {
			return nil, domain.NewConfigErrorf("invalid serve mapping %q: want dir:port", arg)
		}
		mappings = append(mappings, serveMapping{subdir: subdir, port: port})
	}
	return mappings, nil
}

// mergeHooks runs hooks from both sets; a is invoked before b.
func mergeHooks(a, b domain.LifecycleHooks) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnBuildStart: func(ctx context.Context, ev *domain.BuildEvent) {
			if a.OnBuildStart != nil {
				a.OnBuildStart(ctx, ev)
			}
			if b.OnBuildStart != nil {
				b.OnBuildStart(ctx, ev)
			}
		},
		OnBuildEnd: func(ctx context.Context, ev *domain.BuildEvent) {
			if a.OnBuildEnd != nil {
				a.OnBuildEnd(ctx, ev)
			}
			if b.OnBuildEnd != nil {
				b.OnBuildEnd(ctx, ev)
			}
		},
		OnActionStart: func(ctx context.Context, ev *domain.ActionEvent) {
			if a.OnActionStart != nil {
				a.OnActionStart(ctx, ev)
			}
			if b.OnActionStart != nil {
				b.OnActionStart(ctx, ev)
			}
		},
		OnActionEnd: func(ctx context.Context, ev *domain.ActionEvent) {
			if a.OnActionEnd != nil {
				a.OnActionEnd(ctx, ev)
			}
			if b.OnActionEnd != nil {
				b.OnActionEnd(ctx, ev)
			}
		},
	}
}
