//go:build linux

package i2c

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	flagRead  = 0x0001 // I2C_M_RD
	ioctlRdwr = 0x0707 // I2C_RDWR

	// MaxTransfer bounds one message; the MPU-6050 FIFO port and many
	// adapters misbehave beyond it.
	MaxTransfer = 32

	// The sensor NACKs briefly while the DMP is writing its own registers.
	nackRetries = 3
)

// i2c_msg and i2c_rdwr_ioctl_data from <linux/i2c-dev.h>.
type i2cMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

type rdwrIoctlData struct {
	msgs  uintptr
	nmsgs uint32
}

var ioctlFn = func(fd uintptr, data *rdwrIoctlData) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, ioctlRdwr, uintptr(unsafe.Pointer(data)))
	if errno != 0 {
		return errno
	}
	return nil
}

// Bus is an opened adapter such as /dev/i2c-1. Transfers are not serialized;
// the control loop is the only user.
type Bus struct {
	f    *os.File
	path string
}

func Open(path string) (*Bus, error) {
	path = filepath.Clean(path)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("i2c: open %s: %w", path, err)
	}
	return &Bus{f: f, path: path}, nil
}

// OpenNumber opens /dev/i2c-<n>.
func OpenNumber(n int) (*Bus, error) {
	return Open(fmt.Sprintf("/dev/i2c-%d", n))
}

func (b *Bus) Close() error {
	if b == nil || b.f == nil {
		return nil
	}
	f := b.f
	b.f = nil
	return f.Close()
}

func (b *Bus) Dev(addr uint16) *Dev {
	if b == nil {
		return nil
	}
	return &Dev{bus: b, addr: addr}
}

// Dev is one 7-bit target on a Bus.
type Dev struct {
	bus  *Bus
	addr uint16
}

func (d *Dev) Write(p []byte) error { return d.transfer(p, nil) }

func (d *Dev) Read(p []byte) error { return d.transfer(nil, p) }

// WriteRead writes w then reads into r with a repeated start.
func (d *Dev) WriteRead(w, r []byte) error { return d.transfer(w, r) }

// ReadReg fills dst from reg in MaxTransfer pieces, resending reg for each
// piece. That suits both auto-incrementing registers and FIFO ports.
func (d *Dev) ReadReg(reg byte, dst []byte) error {
	addr := []byte{reg}
	for len(dst) > 0 {
		n := min(len(dst), MaxTransfer)
		if err := d.transfer(addr, dst[:n]); err != nil {
			return err
		}
		dst = dst[n:]
	}
	return nil
}

func (d *Dev) ReadRegU8(reg byte) (byte, error) {
	var b [1]byte
	err := d.transfer([]byte{reg}, b[:])
	return b[0], err
}

// ReadRegU16 reads a big-endian register pair (high byte at reg).
func (d *Dev) ReadRegU16(reg byte) (uint16, error) {
	var b [2]byte
	if err := d.transfer([]byte{reg}, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func (d *Dev) WriteReg(reg, value byte) error {
	return d.transfer([]byte{reg, value}, nil)
}

// WriteRegs burst-writes data starting at reg.
func (d *Dev) WriteRegs(reg byte, data []byte) error {
	if len(data) > MaxTransfer {
		return fmt.Errorf("i2c: burst of %d bytes exceeds %d", len(data), MaxTransfer)
	}
	return d.transfer(append([]byte{reg}, data...), nil)
}

func (d *Dev) transfer(w, r []byte) error {
	if d == nil || d.bus == nil || d.bus.f == nil {
		return errors.New("i2c: device is closed")
	}
	if d.addr == 0 || d.addr > 0x7F {
		return fmt.Errorf("i2c: invalid addr 0x%X", d.addr)
	}

	var msgs []i2cMsg
	if len(w) > 0 {
		msgs = append(msgs, i2cMsg{addr: d.addr, len: uint16(len(w)), buf: uintptr(unsafe.Pointer(&w[0]))})
	}
	if len(r) > 0 {
		msgs = append(msgs, i2cMsg{addr: d.addr, flags: flagRead, len: uint16(len(r)), buf: uintptr(unsafe.Pointer(&r[0]))})
	}
	if len(msgs) == 0 {
		return nil
	}
	data := rdwrIoctlData{msgs: uintptr(unsafe.Pointer(&msgs[0])), nmsgs: uint32(len(msgs))}

	var err error
	for attempt := 0; attempt <= nackRetries; attempt++ {
		if err = ioctlFn(d.bus.f.Fd(), &data); err == nil || !isNack(err) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("i2c: addr 0x%02X: %w", d.addr, err)
	}
	return nil
}

func isNack(err error) bool {
	return errors.Is(err, unix.EREMOTEIO) || errors.Is(err, unix.ENXIO) || errors.Is(err, unix.EAGAIN)
}
