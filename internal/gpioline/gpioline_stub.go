//go:build !linux

package gpioline

import "fmt"

type Output struct{}

func OpenOutput(pin int, consumer string, initial bool) (*Output, error) {
	return nil, fmt.Errorf("gpioline: unsupported on this platform")
}

func (o *Output) Set(v bool) error { return fmt.Errorf("gpioline: unsupported") }
func (o *Output) Close() error     { return nil }

type Watcher struct{}

func WatchRisingEdge(pin int, consumer string, fn func()) (*Watcher, error) {
	return nil, fmt.Errorf("gpioline: unsupported on this platform")
}

func (w *Watcher) Close() error { return nil }
