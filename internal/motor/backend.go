package motor

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// ChannelPins describes how one H-bridge channel is wired.
type ChannelPins struct {
	Name string
	// ForwardPin/ReversePin are the BCM numbers of the IN1/IN2 direction inputs.
	ForwardPin int
	ReversePin int
	// PWMChannel is the sysfs PWM channel driving the enable input.
	PWMChannel int
	// PWMPin is the periph pin name (e.g. "GPIO12") driving the enable input.
	PWMPin string
	Scale  float64
}

type BackendConfig struct {
	// Backend selects the hardware driver: "sysfs" (gpiocdev + /sys/class/pwm) or
	// "periph" (periph.io host drivers).
	Backend        string
	PWMFrequencyHz int
	MaxSpeed       int
	Channels       []ChannelPins
}

// driver is a Hardware that owns OS resources.
type driver interface {
	Hardware
	io.Closer
}

var (
	openSysfsFn  = openSysfs
	openPeriphFn = openPeriph
)

// Open brings up every configured channel on the selected backend. The returned
// closer stops and releases all of them.
func Open(cfg BackendConfig) ([]Channel, io.Closer, error) {
	if len(cfg.Channels) == 0 {
		return nil, nil, fmt.Errorf("motor: no channels configured")
	}
	if cfg.MaxSpeed <= 0 {
		return nil, nil, fmt.Errorf("motor: max speed must be > 0")
	}

	var open func(ChannelPins, BackendConfig) (driver, error)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "sysfs":
		open = openSysfsFn
	case "periph":
		open = openPeriphFn
	default:
		return nil, nil, fmt.Errorf("motor: unknown backend %q", cfg.Backend)
	}

	var (
		channels []Channel
		drivers  closers
	)
	for _, pins := range cfg.Channels {
		d, err := open(pins, cfg)
		if err != nil {
			_ = drivers.Close()
			return nil, nil, fmt.Errorf("motor: open channel %q: %w", pins.Name, err)
		}
		drivers = append(drivers, d)
		channels = append(channels, Channel{Name: pins.Name, HW: d, Scale: pins.Scale})
	}
	return channels, drivers, nil
}

type closers []driver

// Close zeroes duty on every channel before releasing it.
func (c closers) Close() error {
	var errs []error
	for _, d := range c {
		_ = d.SetDutyCycle(0)
		if err := d.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
