//go:build !linux

package motor

import "fmt"

func openSysfs(pins ChannelPins, cfg BackendConfig) (driver, error) {
	return nil, fmt.Errorf("motor: sysfs backend unsupported on this platform")
}
