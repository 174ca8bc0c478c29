//go:build linux

package gpioline

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// lineName maps BCM numbering to the line names Raspberry Pi kernels expose.
func lineName(pin int) string { return fmt.Sprintf("GPIO%d", pin) }

func findLine(pin int) (string, int, error) {
	if pin < 0 {
		return "", 0, fmt.Errorf("gpioline: invalid pin %d", pin)
	}
	chip, offset, err := gpiocdev.FindLine(lineName(pin))
	if err != nil {
		return "", 0, fmt.Errorf("gpioline: line %q not found: %w", lineName(pin), err)
	}
	return chip, offset, nil
}

// Output is a single digital output line.
type Output struct {
	line *gpiocdev.Line
}

// OpenOutput requests pin as an output driven to initial.
func OpenOutput(pin int, consumer string, initial bool) (*Output, error) {
	chip, offset, err := findLine(pin)
	if err != nil {
		return nil, err
	}
	line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(boolToInt(initial)), gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("gpioline: request %s on %s: %w", lineName(pin), chip, err)
	}
	return &Output{line: line}, nil
}

func (o *Output) Set(v bool) error {
	if o == nil || o.line == nil {
		return fmt.Errorf("gpioline: output not initialized")
	}
	return o.line.SetValue(boolToInt(v))
}

// Close drives the line low and releases it.
func (o *Output) Close() error {
	if o == nil || o.line == nil {
		return nil
	}
	_ = o.line.SetValue(0)
	err := o.line.Close()
	o.line = nil
	return err
}

// Watcher delivers rising edges of an input line to a callback running on the
// gpiocdev event goroutine.
type Watcher struct {
	line *gpiocdev.Line
}

// WatchRisingEdge requests pin as an input and calls fn on every rising edge.
// fn must be short and must not block.
func WatchRisingEdge(pin int, consumer string, fn func()) (*Watcher, error) {
	if fn == nil {
		return nil, fmt.Errorf("gpioline: nil edge handler")
	}
	chip, offset, err := findLine(pin)
	if err != nil {
		return nil, err
	}
	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsInput,
		gpiocdev.WithConsumer(consumer),
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) { fn() }),
	)
	if err != nil {
		return nil, fmt.Errorf("gpioline: watch %s on %s: %w", lineName(pin), chip, err)
	}
	return &Watcher{line: line}, nil
}

func (w *Watcher) Close() error {
	if w == nil || w.line == nil {
		return nil
	}
	err := w.line.Close()
	w.line = nil
	return err
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
