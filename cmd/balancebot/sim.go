package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"balancebot/internal/config"
	"balancebot/internal/sim"
)

type simOptions struct {
	duration time.Duration
	pitch    float64
	scenario string
	json     bool
	trace    bool
}

func runSim(ctx context.Context, cfg config.Config, opts simOptions, out io.Writer) error {
	if opts.duration > 0 {
		cfg.Sim.Duration = opts.duration
	}
	if opts.pitch != 0 {
		cfg.Sim.InitialPitchDeg = opts.pitch
	}
	if opts.scenario != "" {
		cfg.Sim.ScenarioPath = opts.scenario
	}

	var scn *sim.Scenario
	if cfg.Sim.ScenarioPath != "" {
		script, err := sim.LoadScenarioScript(cfg.Sim.ScenarioPath)
		if err != nil {
			return err
		}
		if scn, err = sim.NewScenario(script); err != nil {
			return fmt.Errorf("scenario %s: %w", cfg.Sim.ScenarioPath, err)
		}
	}

	res, err := sim.Run(ctx, sim.Config{
		Balance:         cfg.Balance(),
		Plant:           cfg.Sim.Plant,
		Scales:          cfg.ChannelScales(),
		Duration:        cfg.Sim.Duration,
		InitialPitchDeg: cfg.Sim.InitialPitchDeg,
		Scenario:        scn,
	})
	if err != nil {
		return err
	}

	if opts.trace {
		for _, p := range res.Trace {
			fmt.Fprintf(out, "%8s pitch=%7.3f output=%8.2f speed=%4d\n", p.T, p.PitchDeg, p.Output, p.Speed)
		}
	}
	if opts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	status := "balanced"
	if res.Fell {
		status = fmt.Sprintf("fell at %s", res.FellAt)
	}
	fmt.Fprintf(out, "%s: steps=%d packets=%d overflows=%d fifo_resets=%d motor_writes=%d\n",
		status, res.Steps, res.Stream.Packets, res.Stream.Overflows, res.FIFOResets, res.MotorWrites)
	fmt.Fprintf(out, "final pitch=%.3f deg, max error after settling=%.3f deg\n", res.FinalPitch, res.MaxErrorDeg)
	return nil
}
