// Package main is the entry point for the cortexface CLI.
// cortexface drives the GIF avatar of a xiaozhi voice device: idle cycling,
// listening and speaking animations, and typewriter captions.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/normanking/cortexface/internal/app"
	"github.com/normanking/cortexface/internal/assets"
	"github.com/normanking/cortexface/internal/boards"
	"github.com/normanking/cortexface/internal/config"
	"github.com/normanking/cortexface/internal/logging"
	"github.com/normanking/cortexface/internal/sim"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	cfgPath string
	board   string
	verbose bool
	log     *logging.Logger
	cfg     *config.Config
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cortexface",
		Short: "cortexface - GIF avatar for xiaozhi voice devices",
		Long: `cortexface plays the device avatar: idle animations cycled by
duration, listening and speaking animations, and speech captions.

Run against a server:  cortexface run
Try it in a terminal:  cortexface sim
List board profiles:   cortexface boards`,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
		SilenceUsage:       true,
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.cortexface/config.yaml)")
	root.PersistentFlags().StringVar(&board, "board", "", "board profile, overrides the config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(
		runCmd(),
		simCmd(),
		boardsCmd(),
		assetsCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "cortexface v%s\n", version)
			},
		},
	)
	return root
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(cfgPath)
	if err != nil {
		return err
	}
	if board != "" {
		cfg.Board = board
	}

	level := logging.ParseLevel(cfg.Log.Level)
	if verbose {
		level = logging.LevelDebug
	}
	log, err = logging.New(&logging.Config{
		LogDir:     cfg.Log.Dir,
		Level:      level,
		MaxHistory: 500,
		// The simulator owns the terminal
		Console: cfg.Log.Console && cmd.Name() != "sim",
	})
	return err
}

func teardown(cmd *cobra.Command, args []string) error {
	if log != nil {
		return log.Close()
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run headless against the configured server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if metricsAddr != "" {
				cfg.Metrics.Addr = metricsAddr
			}
			logger := log.Component("main")

			a, err := app.New(cfg, log.Zerolog(), nil)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			if err := a.Start(ctx, true); err != nil {
				return err
			}
			<-ctx.Done()
			logger.Info().Msg("Shutting down")
			a.Stop()
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "serve prometheus metrics on this address")
	return cmd
}

func simCmd() *cobra.Command {
	var (
		connect  bool
		step     bool
		stepSize time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Render the avatar in the terminal and drive it from the keyboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []app.Option
			if step {
				opts = append(opts, app.WithStepping())
			}
			a, err := app.New(cfg, log.Zerolog(), nil, opts...)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			if err := a.Start(ctx, connect); err != nil {
				return err
			}
			defer a.Stop()

			simOpts := sim.Options{Board: a.Profile().Name, StepSize: stepSize}
			if a.Stepping() {
				simOpts.Stepper = a
			}
			return sim.Run(ctx, sim.New(a.Surface(), a.Bus(), simOpts))
		},
	}
	cmd.Flags().BoolVar(&connect, "connect", false, "also connect to the configured server")
	cmd.Flags().BoolVar(&step, "step", false, "freeze time; advance timers with n (next) and ] (step)")
	cmd.Flags().DurationVar(&stepSize, "step-size", time.Second, "virtual time added by ]")
	return cmd
}

func boardsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "boards [name]",
		Short: "List board profiles or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tIDLE\tLISTEN\tSPEAK\tCAPTION\tASSETS")
				for _, name := range boards.List() {
					p, err := boards.Get(name)
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%t\t%s\n", p.Name, len(p.Idle), dash(p.Listening), dash(p.Speaking), p.Caption, dash(string(p.Assets)))
				}
				return w.Flush()
			}

			p, err := boards.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %s\n", p.Name, p.Description)
			fmt.Fprintf(out, "display %dx%d\n", p.Display.Width, p.Display.Height)
			for i, e := range p.Idle {
				fmt.Fprintf(out, "  %2d %-10s %s\n", i, e.Resource, e.Duration)
			}
			return nil
		},
	}
}

func assetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assets [dir]",
		Short: "Inspect a GIF directory against the board profile",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := cfg.Assets.Dir
			if len(args) == 1 {
				dir = args[0]
			}
			catalog, err := assets.Load(dir, zerolog.Nop())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tFRAMES\tDURATION\tSIZE")
			for _, name := range catalog.Names() {
				a, _ := catalog.Lookup(name)
				fmt.Fprintf(w, "%s\t%d\t%s\t%dx%d\n", a.Name, a.Frames, a.Duration, a.Width, a.Height)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			p, err := boards.Get(cfg.Board)
			if err != nil {
				return err
			}
			var missing []string
			for _, r := range p.Resources() {
				if !catalog.Has(r) {
					missing = append(missing, r)
				}
			}
			if len(missing) > 0 {
				return fmt.Errorf("board %s is missing %d animations: %v", p.Name, len(missing), missing)
			}
			fmt.Fprintf(out, "board %s: all %d animations present\n", p.Name, len(p.Resources()))
			return nil
		},
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
