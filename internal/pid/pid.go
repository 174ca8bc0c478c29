package pid

import (
	"fmt"
	"time"
)

// Config holds the fixed gains and limits of a Controller.
type Config struct {
	Kp, Ki, Kd float64
	Setpoint   float64

	// SampleInterval is the minimum time between two computations.
	SampleInterval time.Duration

	OutMin float64
	OutMax float64
}

// Controller is a fixed-rate PID controller with derivative-on-measurement and
// integral anti-windup. It is always in automatic mode.
//
// Not safe for concurrent use.
type Controller struct {
	cfg Config

	input  float64
	output float64

	// integral is the accumulated Ki*error*dt term, kept inside [OutMin, OutMax].
	integral  float64
	prevInput float64
	prevAt    time.Time
	started   bool
}

func New(cfg Config) (*Controller, error) {
	if cfg.SampleInterval <= 0 {
		return nil, fmt.Errorf("pid: sample interval must be > 0")
	}
	if cfg.OutMin >= cfg.OutMax {
		return nil, fmt.Errorf("pid: output min %v must be below max %v", cfg.OutMin, cfg.OutMax)
	}
	return &Controller{cfg: cfg}, nil
}

// SetInput records the latest measurement. It is used by the next computation.
func (c *Controller) SetInput(v float64) { c.input = v }

func (c *Controller) Input() float64    { return c.input }
func (c *Controller) Output() float64   { return c.output }
func (c *Controller) Setpoint() float64 { return c.cfg.Setpoint }

// Integral exposes the accumulated integral term.
func (c *Controller) Integral() float64 { return c.integral }

// Compute runs one PID step if at least SampleInterval has elapsed since the last one.
// It returns the clamped output and whether a step happened; when it did not, the
// previous output is returned unchanged.
func (c *Controller) Compute(now time.Time) (float64, bool) {
	dt := c.cfg.SampleInterval
	if c.started {
		dt = now.Sub(c.prevAt)
		if dt < c.cfg.SampleInterval {
			return c.output, false
		}
	} else {
		c.prevInput = c.input
	}
	sec := dt.Seconds()

	err := c.cfg.Setpoint - c.input
	derivative := (c.input - c.prevInput) / sec

	integral := clamp(c.integral+c.cfg.Ki*err*sec, c.cfg.OutMin, c.cfg.OutMax)
	raw := c.cfg.Kp*err + integral - c.cfg.Kd*derivative

	// Saturated and still pushing the same way: keep the integral where it was.
	if (raw > c.cfg.OutMax && err > 0) || (raw < c.cfg.OutMin && err < 0) {
		integral = c.integral
		raw = c.cfg.Kp*err + integral - c.cfg.Kd*derivative
	}

	c.integral = integral
	c.output = clamp(raw, c.cfg.OutMin, c.cfg.OutMax)
	c.prevInput = c.input
	c.prevAt = now
	c.started = true
	return c.output, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
