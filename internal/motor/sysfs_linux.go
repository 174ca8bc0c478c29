//go:build linux

package motor

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"balancebot/internal/gpioline"
)

const consumer = "balancebot-motor"

var openOutputFn = func(pin int) (directionLine, error) {
	return gpioline.OpenOutput(pin, consumer, false)
}

type directionLine interface {
	Set(v bool) error
	Close() error
}

// sysfsBridge drives one H-bridge channel: IN1/IN2 through gpiocdev lines and the
// enable input through a hardware PWM channel under /sys/class/pwm.
//
// On a Raspberry Pi the PWM channels need `dtoverlay=pwm-2chan` (or equivalent).
type sysfsBridge struct {
	in1, in2 directionLine
	pwm      *sysfsPWM
	maxSpeed int
}

func openSysfs(pins ChannelPins, cfg BackendConfig) (driver, error) {
	in1, err := openOutputFn(pins.ForwardPin)
	if err != nil {
		return nil, err
	}
	in2, err := openOutputFn(pins.ReversePin)
	if err != nil {
		_ = in1.Close()
		return nil, err
	}
	pwm, err := openPWM(pins.PWMChannel)
	if err != nil {
		_ = in1.Close()
		_ = in2.Close()
		return nil, err
	}
	hz := cfg.PWMFrequencyHz
	if hz <= 0 {
		hz = 20000
	}
	if err := pwm.SetFrequencyHz(hz); err != nil {
		_ = pwm.Close()
		_ = in1.Close()
		_ = in2.Close()
		return nil, err
	}
	return &sysfsBridge{in1: in1, in2: in2, pwm: pwm, maxSpeed: cfg.MaxSpeed}, nil
}

func (b *sysfsBridge) SetDirection(forward bool) error {
	if err := b.in1.Set(forward); err != nil {
		return err
	}
	return b.in2.Set(!forward)
}

func (b *sysfsBridge) SetDutyCycle(magnitude int) error {
	return b.pwm.SetDutyFraction(float64(magnitude) / float64(b.maxSpeed))
}

func (b *sysfsBridge) Close() error {
	err := b.pwm.Close()
	return errors.Join(err, b.in1.Close(), b.in2.Close())
}

type sysfsPWM struct {
	chipPath string // /sys/class/pwm/pwmchipN
	pwmPath  string // /sys/class/pwm/pwmchipN/pwmM
	channel  int

	periodNS uint64
	enabled  bool
}

var pwmSysfsBase = "/sys/class/pwm"

func openPWM(channel int) (*sysfsPWM, error) {
	chipPath, err := findPWMChip(channel)
	if err != nil {
		return nil, err
	}
	d := &sysfsPWM{
		chipPath: chipPath,
		channel:  channel,
		pwmPath:  filepath.Join(chipPath, fmt.Sprintf("pwm%d", channel)),
	}
	if err := d.ensureExported(); err != nil {
		return nil, err
	}
	if err := d.writeBool("enable", false); err == nil {
		d.enabled = false
	}
	return d, nil
}

// findPWMChip returns the first pwmchip exposing at least channel+1 channels.
func findPWMChip(channel int) (string, error) {
	if channel < 0 {
		return "", fmt.Errorf("motor: invalid pwm channel %d", channel)
	}
	entries, err := os.ReadDir(pwmSysfsBase)
	if err != nil {
		return "", fmt.Errorf("motor: read %s: %w", pwmSysfsBase, err)
	}
	// pwmchipN entries are usually symlinks, so match on name only.
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "pwmchip") {
			continue
		}
		chip := filepath.Join(pwmSysfsBase, name)
		n, err := readInt(filepath.Join(chip, "npwm"))
		if err != nil || n <= channel {
			continue
		}
		return chip, nil
	}
	return "", fmt.Errorf("motor: no sysfs pwmchip with channel %d (is the pwm overlay enabled?)", channel)
}

func (d *sysfsPWM) ensureExported() error {
	if _, err := os.Stat(d.pwmPath); err == nil {
		return nil
	}
	exportPath := filepath.Join(d.chipPath, "export")
	if err := writeSysfs(exportPath, strconv.Itoa(d.channel)); err != nil {
		if _, statErr := os.Stat(d.pwmPath); statErr == nil {
			return nil
		}
		return fmt.Errorf("motor: export pwm: %w", err)
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(d.pwmPath); err == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := os.Stat(d.pwmPath); err != nil {
		return fmt.Errorf("motor: pwm path not created after export: %w", err)
	}
	return nil
}

// Close stops the motor: zero duty, then disable.
func (d *sysfsPWM) Close() error {
	_ = d.SetDutyFraction(0)
	err := d.writeBool("enable", false)
	d.enabled = false
	return err
}

func (d *sysfsPWM) SetFrequencyHz(hz int) error {
	if hz <= 0 {
		return fmt.Errorf("motor: invalid pwm frequency %d", hz)
	}
	periodNS := uint64(1_000_000_000 / hz)
	if periodNS == 0 {
		periodNS = 1
	}

	// The period can only change while disabled.
	_ = d.writeBool("enable", false)
	d.enabled = false

	if err := d.writeUint("period", periodNS); err != nil {
		return err
	}
	d.periodNS = periodNS

	if err := d.writeBool("enable", true); err != nil {
		return err
	}
	d.enabled = true
	return nil
}

func (d *sysfsPWM) SetDutyFraction(f float64) error {
	if f < 0 || math.IsNaN(f) {
		f = 0
	} else if f > 1 {
		f = 1
	}
	if d.periodNS == 0 {
		d.periodNS = 1_000_000_000 / 20_000
	}
	duty := uint64(math.Round(float64(d.periodNS) * f))
	if duty > d.periodNS {
		duty = d.periodNS
	}
	if err := d.writeUint("duty_cycle", duty); err != nil {
		return err
	}
	if !d.enabled {
		_ = d.writeBool("enable", true)
		d.enabled = true
	}
	return nil
}

func (d *sysfsPWM) writeUint(name string, v uint64) error {
	return writeSysfs(filepath.Join(d.pwmPath, name), strconv.FormatUint(v, 10))
}

func (d *sysfsPWM) writeBool(name string, v bool) error {
	val := "0"
	if v {
		val = "1"
	}
	return writeSysfs(filepath.Join(d.pwmPath, name), val)
}

// writeSysfs opens without O_TRUNC/O_CREATE (some attributes reject them) and
// retries briefly: right after export udev may still be fixing permissions.
func writeSysfs(path string, value string) error {
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := writeOnce(path, value)
		if err == nil {
			return nil
		}
		if time.Now().Before(deadline) && isRetryableSysfsErr(err) {
			time.Sleep(25 * time.Millisecond)
			continue
		}
		return err
	}
}

func writeOnce(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(value)
	return errors.Join(werr, f.Close())
}

func isRetryableSysfsErr(err error) bool {
	return os.IsPermission(err) || os.IsNotExist(err) || errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.ENOENT)
}

func readInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	return strconv.Atoi(s)
}
