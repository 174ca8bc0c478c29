package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"balancebot/internal/config"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		log.Fatalf("balancebot: %v", err)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "balancebot",
		Short:         "self-balancing robot controller",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./dev.yaml", "Path to YAML config")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "balance on real hardware",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runHardware(ctx, cfg)
		},
	}

	var simOpts simOptions
	simCmd := &cobra.Command{
		Use:   "sim",
		Short: "balance a simulated robot in virtual time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runSim(ctx, cfg, simOpts, cmd.OutOrStdout())
		},
	}
	simCmd.Flags().DurationVar(&simOpts.duration, "duration", 0, "override sim.duration")
	simCmd.Flags().Float64Var(&simOpts.pitch, "pitch", 0, "override sim.initial_pitch_deg")
	simCmd.Flags().StringVar(&simOpts.scenario, "scenario", "", "override sim.scenario_path")
	simCmd.Flags().BoolVar(&simOpts.json, "json", false, "print the result as JSON")
	simCmd.Flags().BoolVar(&simOpts.trace, "trace", false, "print every controller output change")

	rootCmd.AddCommand(runCmd, simCmd)
	return rootCmd
}
