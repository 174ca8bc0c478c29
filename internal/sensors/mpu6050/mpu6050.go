package mpu6050

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"balancebot/internal/i2c"
	"balancebot/internal/stream"
)

var sleep = time.Sleep

// MPU-6050 driver running the on-chip DMP in quaternion FIFO mode.
//
// The DMP writes one 42-byte packet per sample into the 1024-byte FIFO and
// raises INT_STATUS.DMP_INT. The driver only moves bytes: decoding the
// quaternion is left to the attitude package.

const (
	addrDefault = 0x68

	regXAOffsH   = 0x06 // accel offsets X/Y/Z, 2 bytes each
	regXGOffsH   = 0x13 // gyro offsets X/Y/Z, 2 bytes each
	regSmplrtDiv = 0x19
	regConfig    = 0x1A
	regGyroCfg   = 0x1B
	regAccelCfg  = 0x1C
	regIntPinCfg = 0x37
	regIntEnable = 0x38
	regIntStatus = 0x3A
	regUserCtrl  = 0x6A
	regPwrMgmt1  = 0x6B
	regBankSel   = 0x6D
	regMemStart  = 0x6E
	regMemRW     = 0x6F
	regDMPCfg1   = 0x70
	regFIFOCount = 0x72
	regFIFORW    = 0x74
	regWhoAmI    = 0x75

	bitReset = 0x80
	clkPLLX  = 0x01

	intDMP      = 0x02
	intOverflow = 0x10

	userDMPEn     = 0x80
	userFIFOEn    = 0x40
	userDMPReset  = 0x08
	userFIFOReset = 0x04

	// 200 Hz DMP output from the 1 kHz gyro rate with DLPF at 42 Hz.
	smplrtDiv200Hz = 0x04
	dlpf42Hz       = 0x03
	gyroFS2000     = 0x18
	accelFS2g      = 0x00

	// INT pin: active high, push-pull, 50us pulse, cleared by any read.
	intPinCfg = 0x10

	dmpProgramStart = 0x0400

	memBankSize  = 256
	memChunkSize = 16

	packetSize   = 42
	fifoCapacity = 1024
)

// WhoAmI values of parts that run the same DMP image.
var whoAmIOK = map[byte]bool{0x68: true, 0x70: true, 0x71: true}

// Status is the outcome of Initialize. Anything but OK is fatal for the caller.
type Status int

const (
	OK Status = iota
	MemoryLoadFailed
	ConfigUpdateFailed
)

func (s Status) String() string {
	switch s {
	case OK:
		return "ok"
	case MemoryLoadFailed:
		return "memory load failed"
	case ConfigUpdateFailed:
		return "dmp configuration update failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Offsets are factory-style calibration constants written to the offset registers.
type Offsets struct {
	GyroX  int16 `yaml:"gyro_x"`
	GyroY  int16 `yaml:"gyro_y"`
	GyroZ  int16 `yaml:"gyro_z"`
	AccelX int16 `yaml:"accel_x"`
	AccelY int16 `yaml:"accel_y"`
	AccelZ int16 `yaml:"accel_z"`
}

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	ReadRegU16(reg byte) (uint16, error)
	WriteReg(reg, value byte) error
	WriteRegs(reg byte, data []byte) error
}

type Device struct {
	dev      regIO
	firmware []byte
	userCtrl byte
}

var _ stream.Transport = (*Device)(nil)

func DefaultAddress() uint16 { return addrDefault }

// New probes WHO_AM_I. firmware is the DMP program image written by Initialize.
func New(dev *i2c.Dev, firmware []byte) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("mpu6050: dev is nil")
	}
	return newWithIO(dev, firmware)
}

func newWithIO(dev regIO, firmware []byte) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("mpu6050: dev is nil")
	}
	who, err := dev.ReadRegU8(regWhoAmI)
	if err != nil {
		return nil, fmt.Errorf("mpu6050: whoami read failed: %w", err)
	}
	if !whoAmIOK[who] {
		return nil, fmt.Errorf("mpu6050: whoami=0x%02X want 0x68", who)
	}
	return &Device{dev: dev, firmware: firmware}, nil
}

// LoadFirmwareFile reads a DMP image from disk.
func LoadFirmwareFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mpu6050: read firmware: %w", err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("mpu6050: firmware %s is empty", path)
	}
	return b, nil
}

// Initialize resets the part, loads and verifies the DMP image, points the DMP at
// its program start, applies sensor configuration and offsets. The DMP stays
// disabled until Enable.
//
// The returned error carries the detail; Status says which stage failed.
func (d *Device) Initialize(off Offsets) (Status, error) {
	if err := d.dev.WriteReg(regPwrMgmt1, bitReset); err != nil {
		return MemoryLoadFailed, fmt.Errorf("mpu6050: reset failed: %w", err)
	}
	sleep(30 * time.Millisecond)
	if err := d.dev.WriteReg(regPwrMgmt1, clkPLLX); err != nil {
		return MemoryLoadFailed, fmt.Errorf("mpu6050: wake failed: %w", err)
	}
	sleep(10 * time.Millisecond)

	if err := d.loadFirmware(); err != nil {
		return MemoryLoadFailed, err
	}

	start := []byte{byte(dmpProgramStart >> 8), byte(dmpProgramStart & 0xFF)}
	if err := d.dev.WriteRegs(regDMPCfg1, start); err != nil {
		return ConfigUpdateFailed, fmt.Errorf("mpu6050: dmp program start: %w", err)
	}

	cfg := []struct {
		reg, val byte
		name     string
	}{
		{regSmplrtDiv, smplrtDiv200Hz, "sample rate"},
		{regConfig, dlpf42Hz, "dlpf"},
		{regGyroCfg, gyroFS2000, "gyro range"},
		{regAccelCfg, accelFS2g, "accel range"},
		{regIntPinCfg, intPinCfg, "int pin"},
		{regIntEnable, intDMP | intOverflow, "int enable"},
	}
	for _, c := range cfg {
		if err := d.dev.WriteReg(c.reg, c.val); err != nil {
			return ConfigUpdateFailed, fmt.Errorf("mpu6050: %s: %w", c.name, err)
		}
	}

	if err := d.writeOffsets(regXGOffsH, off.GyroX, off.GyroY, off.GyroZ); err != nil {
		return ConfigUpdateFailed, fmt.Errorf("mpu6050: gyro offsets: %w", err)
	}
	if err := d.writeOffsets(regXAOffsH, off.AccelX, off.AccelY, off.AccelZ); err != nil {
		return ConfigUpdateFailed, fmt.Errorf("mpu6050: accel offsets: %w", err)
	}

	d.userCtrl = 0
	if err := d.dev.WriteReg(regUserCtrl, userDMPReset|userFIFOReset); err != nil {
		return ConfigUpdateFailed, fmt.Errorf("mpu6050: dmp reset: %w", err)
	}
	return OK, nil
}

func (d *Device) loadFirmware() error {
	if len(d.firmware) == 0 {
		return fmt.Errorf("mpu6050: no dmp firmware")
	}
	verify := make([]byte, memChunkSize)
	for addr := 0; addr < len(d.firmware); {
		n := memChunkSize
		if room := memBankSize - addr%memBankSize; n > room {
			n = room
		}
		if rest := len(d.firmware) - addr; n > rest {
			n = rest
		}
		chunk := d.firmware[addr : addr+n]

		if err := d.setMemAddr(addr); err != nil {
			return err
		}
		if err := d.dev.WriteRegs(regMemRW, chunk); err != nil {
			return fmt.Errorf("mpu6050: write dmp memory at 0x%04X: %w", addr, err)
		}
		if err := d.setMemAddr(addr); err != nil {
			return err
		}
		if err := d.dev.ReadReg(regMemRW, verify[:n]); err != nil {
			return fmt.Errorf("mpu6050: read back dmp memory at 0x%04X: %w", addr, err)
		}
		if !bytes.Equal(verify[:n], chunk) {
			return fmt.Errorf("mpu6050: dmp memory verify failed at 0x%04X", addr)
		}
		addr += n
	}
	return nil
}

func (d *Device) setMemAddr(addr int) error {
	if err := d.dev.WriteReg(regBankSel, byte(addr/memBankSize)); err != nil {
		return fmt.Errorf("mpu6050: select bank %d: %w", addr/memBankSize, err)
	}
	if err := d.dev.WriteReg(regMemStart, byte(addr%memBankSize)); err != nil {
		return fmt.Errorf("mpu6050: mem start 0x%02X: %w", addr%memBankSize, err)
	}
	return nil
}

func (d *Device) writeOffsets(reg byte, x, y, z int16) error {
	buf := make([]byte, 0, 6)
	for _, v := range []int16{x, y, z} {
		buf = append(buf, byte(uint16(v)>>8), byte(uint16(v)))
	}
	return d.dev.WriteRegs(reg, buf)
}

// Enable starts the DMP and the FIFO. Call only after Initialize returned OK.
func (d *Device) Enable() error {
	d.userCtrl = userDMPEn | userFIFOEn
	if err := d.dev.WriteReg(regUserCtrl, d.userCtrl|userFIFOReset); err != nil {
		return fmt.Errorf("mpu6050: enable dmp: %w", err)
	}
	return nil
}

func (d *Device) BytesAvailable() (int, error) {
	n, err := d.dev.ReadRegU16(regFIFOCount)
	if err != nil {
		return 0, fmt.Errorf("mpu6050: fifo count: %w", err)
	}
	return int(n), nil
}

// InterruptStatus reads INT_STATUS, which the part clears on read.
func (d *Device) InterruptStatus() (stream.IntStatus, error) {
	v, err := d.dev.ReadRegU8(regIntStatus)
	if err != nil {
		return stream.IntStatus{}, fmt.Errorf("mpu6050: int status: %w", err)
	}
	return stream.IntStatus{
		Overflow:  v&intOverflow != 0,
		DataReady: v&intDMP != 0,
	}, nil
}

func (d *Device) Overflowed() (bool, error) {
	st, err := d.InterruptStatus()
	return st.Overflow, err
}

func (d *Device) ResetBuffer() error {
	if err := d.dev.WriteReg(regUserCtrl, d.userCtrl|userFIFOReset); err != nil {
		return fmt.Errorf("mpu6050: fifo reset: %w", err)
	}
	return nil
}

func (d *Device) ReadPacket(dst []byte) error {
	if len(dst) == 0 {
		return nil
	}
	if err := d.dev.ReadReg(regFIFORW, dst); err != nil {
		return fmt.Errorf("mpu6050: fifo read: %w", err)
	}
	return nil
}

func (d *Device) ExpectedPacketSize() int { return packetSize }
func (d *Device) Capacity() int           { return fifoCapacity }
