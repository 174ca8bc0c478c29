package sim

import (
	"math"
	"time"

	"balancebot/internal/attitude"
)

const gravity = 9.81

// PlantConfig describes a wheeled inverted pendulum.
type PlantConfig struct {
	// LengthM is the pivot to centre-of-mass distance.
	LengthM float64 `yaml:"length_m"`
	// AccelPerDuty is the wheel acceleration in m/s^2 produced per unit of signed duty.
	AccelPerDuty float64 `yaml:"accel_per_duty"`
	// MountOffsetDeg is what the sensor reads when the body is physically upright.
	MountOffsetDeg float64 `yaml:"mount_offset_deg"`
	// FallDeg is the tilt past which the body is considered on the floor.
	FallDeg float64 `yaml:"fall_deg"`
}

func (c *PlantConfig) applyDefaults() {
	if c.LengthM <= 0 {
		c.LengthM = 0.3
	}
	if c.AccelPerDuty <= 0 {
		c.AccelPerDuty = 0.03
	}
	if c.FallDeg <= 0 {
		c.FallDeg = 60
	}
}

// Pendulum integrates body tilt under gravity, wheel drive and an external push.
// Positive drive pitches the body toward positive angles.
type Pendulum struct {
	cfg PlantConfig

	angle float64 // rad, physical
	rate  float64 // rad/s
}

// NewPendulum starts at rest with the sensor reading pitchDeg.
func NewPendulum(cfg PlantConfig, pitchDeg float64) *Pendulum {
	cfg.applyDefaults()
	return &Pendulum{cfg: cfg, angle: deg2rad(pitchDeg - cfg.MountOffsetDeg)}
}

// Step advances the plant by dt with the given signed wheel duty and push
// (angular acceleration in deg/s^2). A fallen body stays where it is.
func (p *Pendulum) Step(dt time.Duration, drive float64, pushDegS2 float64) {
	if p.Fallen() {
		return
	}
	l := p.cfg.LengthM
	acc := (gravity/l)*math.Sin(p.angle) + (p.cfg.AccelPerDuty*drive/l)*math.Cos(p.angle) + deg2rad(pushDegS2)
	s := dt.Seconds()
	p.rate += acc * s
	p.angle += p.rate * s
}

// PitchDeg is the tilt as the sensor reports it.
func (p *Pendulum) PitchDeg() float64 {
	return rad2deg(p.angle) + p.cfg.MountOffsetDeg
}

func (p *Pendulum) RateDegS() float64 { return rad2deg(p.rate) }

func (p *Pendulum) Fallen() bool {
	return math.Abs(rad2deg(p.angle)) >= p.cfg.FallDeg
}

// Orientation is the body attitude the sensor fusion would report.
func (p *Pendulum) Orientation() attitude.Quaternion {
	return attitude.FromPitch(p.PitchDeg())
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }
func rad2deg(r float64) float64 { return r * 180 / math.Pi }
