package motor

import (
	"errors"
	"fmt"
	"math"
)

// Hardware is one H-bridge channel: a direction output and a duty-cycle output.
//
// Magnitude is expressed in the same 0..MaxSpeed range the actuator works in.
type Hardware interface {
	SetDirection(forward bool) error
	SetDutyCycle(magnitude int) error
}

// Channel is one driven wheel.
type Channel struct {
	Name string
	HW   Hardware
	// Scale compensates mismatched motors; the written duty is magnitude*Scale.
	// Zero means 1.
	Scale float64
}

type Config struct {
	// DeadBand is the smallest magnitude that physically moves the motors.
	DeadBand int
	// MaxSpeed is the PWM ceiling (255 for 8-bit PWM).
	MaxSpeed int
}

// Actuator maps signed control outputs to motor writes. It owns the motor state and
// only touches the hardware when the clamped speed actually changes.
//
// Not safe for concurrent use.
type Actuator struct {
	cfg      Config
	channels []Channel

	current int
	writes  int
}

func NewActuator(cfg Config, channels ...Channel) (*Actuator, error) {
	if cfg.MaxSpeed <= 0 {
		return nil, fmt.Errorf("motor: max speed must be > 0")
	}
	if cfg.DeadBand < 0 || cfg.DeadBand > cfg.MaxSpeed {
		return nil, fmt.Errorf("motor: dead band %d outside [0, %d]", cfg.DeadBand, cfg.MaxSpeed)
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("motor: no channels")
	}
	for i, ch := range channels {
		if ch.HW == nil {
			return nil, fmt.Errorf("motor: channel %d has no hardware", i)
		}
		if ch.Scale == 0 {
			channels[i].Scale = 1
		}
	}
	return &Actuator{cfg: cfg, channels: channels}, nil
}

// Current is the last signed speed written to the hardware.
func (a *Actuator) Current() int { return a.current }

// Writes counts speed changes pushed to the hardware.
func (a *Actuator) Writes() int { return a.writes }

// Clamp applies direction and dead-band logic to a command and returns the signed
// speed the actuator would write. The magnitude is clamped to [DeadBand, MaxSpeed]
// independently of the sign; a zero command keeps the current direction.
func (a *Actuator) Clamp(cmd float64) int {
	forward := a.current >= 0
	if cmd > 0 {
		forward = true
	} else if cmd < 0 {
		forward = false
	}

	mag := math.Abs(cmd)
	if math.IsNaN(mag) {
		mag = 0
	}
	if mag > float64(a.cfg.MaxSpeed) {
		mag = float64(a.cfg.MaxSpeed)
	}
	m := int(mag)
	if m < a.cfg.DeadBand {
		m = a.cfg.DeadBand
	}
	if forward {
		return m
	}
	return -m
}

// Drive pushes cmd to the motors. Repeating the same effective speed is a no-op.
func (a *Actuator) Drive(cmd float64) error {
	speed := a.Clamp(cmd)
	if speed == a.current {
		return nil
	}
	if err := a.write(speed); err != nil {
		return err
	}
	a.current = speed
	a.writes++
	return nil
}

// Stop zeroes the duty cycle on every channel regardless of the dead band.
func (a *Actuator) Stop() error {
	var errs []error
	for _, ch := range a.channels {
		if err := ch.HW.SetDutyCycle(0); err != nil {
			errs = append(errs, fmt.Errorf("motor: %s stop: %w", ch.Name, err))
		}
	}
	a.current = 0
	return errors.Join(errs...)
}

func (a *Actuator) write(speed int) error {
	forward := speed >= 0
	mag := speed
	if !forward {
		mag = -speed
	}
	for _, ch := range a.channels {
		if err := ch.HW.SetDirection(forward); err != nil {
			return fmt.Errorf("motor: %s set direction: %w", ch.Name, err)
		}
		duty := int(math.Round(float64(mag) * ch.Scale))
		if duty > a.cfg.MaxSpeed {
			duty = a.cfg.MaxSpeed
		}
		if duty < 0 {
			duty = 0
		}
		if err := ch.HW.SetDutyCycle(duty); err != nil {
			return fmt.Errorf("motor: %s set duty: %w", ch.Name, err)
		}
	}
	return nil
}
