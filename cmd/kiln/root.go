package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kilnbuild/kiln"
	"github.com/kilnbuild/kiln/internal/config"
	"github.com/kilnbuild/kiln/internal/logging"
	"github.com/kilnbuild/kiln/internal/presentation/tui"
	"github.com/kilnbuild/kiln/pkg/domain"
)

var rootCmd = &cobra.Command{
	Use:   "kiln",
	Short: "Kiln is an incremental build orchestration engine",
	Long: `Kiln discovers an asset graph from declarative configuration, plans the
minimal set of builder actions from content digests, and executes them over
bounded worker pools. Unchanged inputs are skipped; prior failures on
unchanged inputs are replayed without re-running.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		printer := tui.NewPrinter(os.Stderr)
		printer.Fatal(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("dir", ".", "Project directory")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("config", "", "Use kiln.<name>.yaml instead of kiln.yaml")
	rootCmd.PersistentFlags().Bool("release", false, "Build in release mode")
	rootCmd.PersistentFlags().Bool("no-release", false, "Force dev mode, overriding --release")
	rootCmd.PersistentFlags().StringArray("define", nil, "Override a builder option: 'pkg:builder=key=value'")
	rootCmd.PersistentFlags().Bool("low-resources-mode", false, "Run one action at a time")
}

// errActionsFailed signals a completed pass with failed or replayed
// actions; diagnostics were already printed.
var errActionsFailed = errors.New("build completed with errors")

// engineFromFlags assembles an Engine from the command's persistent flags
// and the environment.
func engineFromFlags(cmd *cobra.Command, extra ...kiln.Option) (*kiln.Engine, error) {
	dir, _ := cmd.Flags().GetString("dir")
	verbose, _ := cmd.Flags().GetBool("verbose")
	configName, _ := cmd.Flags().GetString("config")
	release, _ := cmd.Flags().GetBool("release")
	defines, _ := cmd.Flags().GetStringArray("define")
	lowResources, _ := cmd.Flags().GetBool("low-resources-mode")

	// .env is loaded before the environment is read; absence is fine.
	_ = godotenv.Load()

	runtimeCfg, err := config.RuntimeConfigFromEnv(os.Getenv)
	if err != nil {
		return nil, err
	}
	runtimeCfg.LowResources = lowResources

	parsedDefines, err := config.ParseDefines(defines)
	if err != nil {
		return nil, err
	}

	noRelease, _ := cmd.Flags().GetBool("no-release")

	mode := domain.ModeDev
	if release && !noRelease {
		mode = domain.ModeRelease
	}

	opts := []kiln.Option{
		kiln.WithLogger(logging.New(logging.FromVerbosity(verbose))),
		kiln.WithRuntimeConfig(runtimeCfg),
		kiln.WithMode(mode),
		kiln.WithDefines(parsedDefines),
		kiln.WithConfigName(configName),
	}
	opts = append(opts, extra...)

	engine, err := kiln.New(dir, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing engine: %w", err)
	}
	return engine, nil
}
