package sim

import (
	"context"
	"fmt"
	"math"
	"time"

	"balancebot/internal/balance"
	"balancebot/internal/motor"
	"balancebot/internal/stream"
)

// Config drives one closed-loop run in virtual time.
type Config struct {
	Balance balance.Config
	Plant   PlantConfig
	// Scales are the per-wheel duty scales; empty means one unscaled wheel pair.
	Scales []float64

	Duration        time.Duration
	Tick            time.Duration
	PacketInterval  time.Duration
	InitialPitchDeg float64
	// SettleAfter excludes the initial transient from MaxErrorDeg.
	SettleAfter time.Duration

	Scenario *Scenario
}

func (c *Config) applyDefaults() {
	if c.Tick <= 0 {
		c.Tick = time.Millisecond
	}
	if c.PacketInterval <= 0 {
		c.PacketInterval = 5 * time.Millisecond
	}
	if c.Duration <= 0 {
		c.Duration = c.Scenario.Duration()
	}
	if c.Duration <= 0 {
		c.Duration = 5 * time.Second
	}
	if c.InitialPitchDeg == 0 {
		c.InitialPitchDeg = c.Scenario.InitialPitchDeg()
	}
	if c.SettleAfter <= 0 {
		c.SettleAfter = time.Second
	}
	if len(c.Scales) == 0 {
		c.Scales = []float64{1, 1}
	}
}

// TracePoint is one sample of the run, taken whenever the controller output changes.
type TracePoint struct {
	T        time.Duration `json:"t"`
	PitchDeg float64       `json:"pitch_deg"`
	Output   float64       `json:"output"`
	Speed    int           `json:"speed"`
}

type Result struct {
	Steps       int              `json:"steps"`
	Stream      stream.Stats     `json:"stream"`
	FIFOResets  int              `json:"fifo_resets"`
	MotorWrites int              `json:"motor_writes"`
	FinalPitch  float64          `json:"final_pitch_deg"`
	MaxErrorDeg float64          `json:"max_error_deg"`
	Fell        bool             `json:"fell"`
	FellAt      time.Duration    `json:"fell_at,omitempty"`
	Final       balance.Snapshot `json:"final"`
	Trace       []TracePoint     `json:"-"`
}

// Run balances a simulated pendulum with the real control loop. It stops early
// when ctx is canceled or the body falls.
func Run(ctx context.Context, cfg Config) (Result, error) {
	cfg.applyDefaults()

	fifo, err := NewFIFO(DefaultPacketSize, DefaultCapacity)
	if err != nil {
		return Result{}, err
	}
	var flag stream.Flag
	fifo.OnInterrupt = flag.Set

	motors := make([]*Motor, len(cfg.Scales))
	channels := make([]motor.Channel, len(cfg.Scales))
	for i, sc := range cfg.Scales {
		motors[i] = &Motor{Forward: true}
		channels[i] = motor.Channel{Name: fmt.Sprintf("wheel%d", i), HW: motors[i], Scale: sc}
	}

	loop, err := balance.New(cfg.Balance, fifo, &flag, channels...)
	if err != nil {
		return Result{}, err
	}
	if err := loop.Start(); err != nil {
		return Result{}, err
	}

	plant := NewPendulum(cfg.Plant, cfg.InitialPitchDeg)
	start := time.Unix(0, 0).UTC()
	var res Result
	var nextPacket time.Duration
	var lastOut float64
	for elapsed := time.Duration(0); elapsed < cfg.Duration; {
		if ctx.Err() != nil {
			break
		}
		dist := cfg.Scenario.StateAt(elapsed)

		plant.Step(cfg.Tick, meanDrive(motors), dist.PushDegS2)
		elapsed += cfg.Tick

		if elapsed >= nextPacket {
			if !dist.DropPackets {
				fifo.Push(plant.Orientation())
			}
			nextPacket += cfg.PacketInterval
		}

		if !dist.StallLoop {
			loop.Step(start.Add(elapsed))
			res.Steps++
			snap := loop.Snapshot()
			if snap.Output != lastOut || len(res.Trace) == 0 {
				res.Trace = append(res.Trace, TracePoint{T: elapsed, PitchDeg: plant.PitchDeg(), Output: snap.Output, Speed: snap.Speed})
				lastOut = snap.Output
			}
		}

		if elapsed >= cfg.SettleAfter {
			e := math.Abs(plant.PitchDeg() - cfg.Balance.PID.Setpoint)
			if e > res.MaxErrorDeg {
				res.MaxErrorDeg = e
			}
		}
		if plant.Fallen() {
			res.Fell = true
			res.FellAt = elapsed
			break
		}
	}

	res.Final = loop.Snapshot()
	res.Stream = res.Final.Stream
	res.FIFOResets = fifo.Resets()
	res.FinalPitch = plant.PitchDeg()
	for _, m := range motors {
		res.MotorWrites += m.Writes
	}
	return res, nil
}

func meanDrive(ms []*Motor) float64 {
	if len(ms) == 0 {
		return 0
	}
	var sum float64
	for _, m := range ms {
		sum += m.Signed()
	}
	return sum / float64(len(ms))
}
