package motor

import (
	"fmt"
	"strconv"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

var (
	periphHostInit = func() error {
		_, err := host.Init()
		return err
	}
	periphLookup = gpioreg.ByName
)

// periphBridge drives an H-bridge channel through periph.io pins: two digital
// direction outputs and one PWM-capable enable pin.
type periphBridge struct {
	in1, in2 gpio.PinIO
	en       gpio.PinIO
	freq     physic.Frequency
	maxSpeed int
}

func openPeriph(pins ChannelPins, cfg BackendConfig) (driver, error) {
	if err := periphHostInit(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	lookup := func(name string) (gpio.PinIO, error) {
		p := periphLookup(name)
		if p == nil {
			return nil, fmt.Errorf("pin %q not found", name)
		}
		return p, nil
	}
	in1, err := lookup(strconv.Itoa(pins.ForwardPin))
	if err != nil {
		return nil, err
	}
	in2, err := lookup(strconv.Itoa(pins.ReversePin))
	if err != nil {
		return nil, err
	}
	en, err := lookup(pins.PWMPin)
	if err != nil {
		return nil, err
	}
	return newPeriphBridge(in1, in2, en, cfg.PWMFrequencyHz, cfg.MaxSpeed), nil
}

func newPeriphBridge(in1, in2, en gpio.PinIO, freqHz, maxSpeed int) *periphBridge {
	if freqHz <= 0 {
		freqHz = 20000
	}
	return &periphBridge{
		in1:      in1,
		in2:      in2,
		en:       en,
		freq:     physic.Frequency(freqHz) * physic.Hertz,
		maxSpeed: maxSpeed,
	}
}

func (b *periphBridge) SetDirection(forward bool) error {
	if err := b.in1.Out(gpio.Level(forward)); err != nil {
		return err
	}
	return b.in2.Out(gpio.Level(!forward))
}

func (b *periphBridge) SetDutyCycle(magnitude int) error {
	if magnitude <= 0 {
		return b.en.Out(gpio.Low)
	}
	if magnitude > b.maxSpeed {
		magnitude = b.maxSpeed
	}
	duty := gpio.Duty(int64(gpio.DutyMax) * int64(magnitude) / int64(b.maxSpeed))
	return b.en.PWM(duty, b.freq)
}

func (b *periphBridge) Close() error {
	_ = b.en.Out(gpio.Low)
	_ = b.in1.Out(gpio.Low)
	_ = b.in2.Out(gpio.Low)
	return b.en.Halt()
}
