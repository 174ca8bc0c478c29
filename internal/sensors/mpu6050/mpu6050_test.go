package mpu6050

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"balancebot/internal/stream"
)

// fakeI2C models the register file plus the banked DMP memory window.
type fakeI2C struct {
	regs   map[byte][]byte
	writes []writeOp

	mem      map[int]byte
	bank     byte
	memStart byte
	// corruptAt flips the stored byte at this memory address when set.
	corruptAt int

	readErrFor  map[byte]error
	writeErrFor map[byte]error
}

type writeOp struct {
	reg  byte
	data []byte
}

func newFake() *fakeI2C {
	return &fakeI2C{
		regs:      map[byte][]byte{regWhoAmI: {0x68}},
		mem:       map[int]byte{},
		corruptAt: -1,
	}
}

func (f *fakeI2C) ReadRegU8(reg byte) (byte, error) {
	var b [1]byte
	if err := f.ReadReg(reg, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (f *fakeI2C) ReadReg(reg byte, dst []byte) error {
	if err := f.readErrFor[reg]; err != nil {
		return err
	}
	if reg == regMemRW {
		base := int(f.bank)*memBankSize + int(f.memStart)
		for i := range dst {
			dst[i] = f.mem[base+i]
		}
		return nil
	}
	b := f.regs[reg]
	if len(b) < len(dst) {
		return errors.New("short reg")
	}
	copy(dst, b[:len(dst)])
	return nil
}

func (f *fakeI2C) ReadRegU16(reg byte) (uint16, error) {
	var b [2]byte
	if err := f.ReadReg(reg, b[:]); err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

func (f *fakeI2C) WriteReg(reg, value byte) error {
	return f.WriteRegs(reg, []byte{value})
}

func (f *fakeI2C) WriteRegs(reg byte, data []byte) error {
	if err := f.writeErrFor[reg]; err != nil {
		return err
	}
	f.writes = append(f.writes, writeOp{reg: reg, data: append([]byte(nil), data...)})
	switch reg {
	case regBankSel:
		f.bank = data[0]
	case regMemStart:
		f.memStart = data[0]
	case regMemRW:
		base := int(f.bank)*memBankSize + int(f.memStart)
		for i, b := range data {
			if base+i == f.corruptAt {
				b ^= 0xFF
			}
			f.mem[base+i] = b
		}
	}
	return nil
}

func (f *fakeI2C) lastWrite(reg byte) []byte {
	for i := len(f.writes) - 1; i >= 0; i-- {
		if f.writes[i].reg == reg {
			return f.writes[i].data
		}
	}
	return nil
}

func noSleep(t *testing.T) {
	t.Helper()
	oldSleep := sleep
	sleep = func(time.Duration) {}
	t.Cleanup(func() { sleep = oldSleep })
}

func firmware(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 3)
	}
	return b
}

func TestNew_WhoAmI(t *testing.T) {
	f := newFake()
	f.regs[regWhoAmI] = []byte{0x12}
	if _, err := newWithIO(f, nil); err == nil {
		t.Fatalf("expected whoami mismatch error")
	}

	f.regs[regWhoAmI] = []byte{0x70}
	if _, err := newWithIO(f, nil); err != nil {
		t.Fatalf("newWithIO(0x70): %v", err)
	}

	f.readErrFor = map[byte]error{regWhoAmI: errors.New("nak")}
	if _, err := newWithIO(f, nil); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestInitialize_LoadsFirmwareAcrossBanks(t *testing.T) {
	noSleep(t)
	f := newFake()
	img := firmware(300)
	d, err := newWithIO(f, img)
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}

	st, err := d.Initialize(Offsets{})
	if err != nil || st != OK {
		t.Fatalf("Initialize: status=%v err=%v", st, err)
	}
	for i, want := range img {
		if got := f.mem[i]; got != want {
			t.Fatalf("mem[%d]=0x%02X want 0x%02X", i, got, want)
		}
	}
	// No chunk may cross a bank boundary.
	var bank, start int
	for _, w := range f.writes {
		switch w.reg {
		case regBankSel:
			bank = int(w.data[0])
		case regMemStart:
			start = int(w.data[0])
		case regMemRW:
			if len(w.data) > memChunkSize {
				t.Fatalf("chunk of %d bytes", len(w.data))
			}
			if start+len(w.data) > memBankSize {
				t.Fatalf("chunk at bank %d start %d len %d crosses bank", bank, start, len(w.data))
			}
		}
	}
}

func TestInitialize_WritesConfigAndOffsets(t *testing.T) {
	noSleep(t)
	f := newFake()
	d, err := newWithIO(f, firmware(16))
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	off := Offsets{GyroX: 220, GyroY: 76, GyroZ: -85, AccelX: -1, AccelY: 0, AccelZ: 1788}
	if st, err := d.Initialize(off); st != OK {
		t.Fatalf("Initialize: status=%v err=%v", st, err)
	}

	if diff := cmp.Diff([]byte{0x04, 0x00}, f.lastWrite(regDMPCfg1)); diff != "" {
		t.Fatalf("program start (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]byte{0x00, 0xDC, 0x00, 0x4C, 0xFF, 0xAB}, f.lastWrite(regXGOffsH)); diff != "" {
		t.Fatalf("gyro offsets (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]byte{0xFF, 0xFF, 0x00, 0x00, 0x06, 0xFC}, f.lastWrite(regXAOffsH)); diff != "" {
		t.Fatalf("accel offsets (-want +got):\n%s", diff)
	}
	if got := f.lastWrite(regIntEnable); len(got) != 1 || got[0] != intDMP|intOverflow {
		t.Fatalf("int enable=%v", got)
	}

	var sawReset, sawWake bool
	for _, w := range f.writes {
		if w.reg == regPwrMgmt1 && w.data[0] == bitReset {
			sawReset = true
		}
		if w.reg == regPwrMgmt1 && w.data[0] == clkPLLX {
			sawWake = true
		}
	}
	if !sawReset || !sawWake {
		t.Fatalf("reset=%v wake=%v", sawReset, sawWake)
	}
}

func TestInitialize_VerifyMismatchIsMemoryLoadFailed(t *testing.T) {
	noSleep(t)
	f := newFake()
	f.corruptAt = 40
	d, err := newWithIO(f, firmware(64))
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	st, err := d.Initialize(Offsets{})
	if st != MemoryLoadFailed || err == nil {
		t.Fatalf("status=%v err=%v want MemoryLoadFailed", st, err)
	}
}

func TestInitialize_MissingFirmwareIsMemoryLoadFailed(t *testing.T) {
	noSleep(t)
	d, err := newWithIO(newFake(), nil)
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	if st, _ := d.Initialize(Offsets{}); st != MemoryLoadFailed {
		t.Fatalf("status=%v want MemoryLoadFailed", st)
	}
}

func TestInitialize_ProgramStartFailureIsConfigUpdateFailed(t *testing.T) {
	noSleep(t)
	f := newFake()
	f.writeErrFor = map[byte]error{regDMPCfg1: errors.New("nak")}
	d, err := newWithIO(f, firmware(16))
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	if st, _ := d.Initialize(Offsets{}); st != ConfigUpdateFailed {
		t.Fatalf("status=%v want ConfigUpdateFailed", st)
	}
}

func TestFIFOAccess(t *testing.T) {
	f := newFake()
	d, err := newWithIO(f, nil)
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	if err := d.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if got := f.lastWrite(regUserCtrl); got[0] != userDMPEn|userFIFOEn|userFIFOReset {
		t.Fatalf("user ctrl=0x%02X", got[0])
	}

	f.regs[regFIFOCount] = []byte{0x01, 0x50}
	n, err := d.BytesAvailable()
	if err != nil || n != 336 {
		t.Fatalf("BytesAvailable=%d err=%v want 336", n, err)
	}

	f.regs[regIntStatus] = []byte{intDMP | intOverflow}
	st, err := d.InterruptStatus()
	if err != nil {
		t.Fatalf("InterruptStatus: %v", err)
	}
	if diff := cmp.Diff(stream.IntStatus{Overflow: true, DataReady: true}, st); diff != "" {
		t.Fatalf("status (-want +got):\n%s", diff)
	}
	if ov, _ := d.Overflowed(); !ov {
		t.Fatalf("Overflowed=false")
	}

	pkt := make([]byte, d.ExpectedPacketSize())
	f.regs[regFIFORW] = firmware(packetSize)
	if err := d.ReadPacket(pkt); err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if diff := cmp.Diff(firmware(packetSize), pkt); diff != "" {
		t.Fatalf("packet (-want +got):\n%s", diff)
	}

	if err := d.ResetBuffer(); err != nil {
		t.Fatalf("ResetBuffer: %v", err)
	}
	if got := f.lastWrite(regUserCtrl); got[0]&userFIFOReset == 0 || got[0]&userDMPEn == 0 {
		t.Fatalf("reset kept dmp disabled: 0x%02X", got[0])
	}
	if d.Capacity() != 1024 || d.ExpectedPacketSize() != 42 {
		t.Fatalf("capacity=%d packet=%d", d.Capacity(), d.ExpectedPacketSize())
	}
}

func TestLoadFirmwareFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "dmp.bin")
	if err := os.WriteFile(p, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := LoadFirmwareFile(p)
	if err != nil || len(b) != 3 {
		t.Fatalf("LoadFirmwareFile=%v err=%v", b, err)
	}

	empty := filepath.Join(dir, "empty.bin")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadFirmwareFile(empty); err == nil {
		t.Fatalf("expected error for empty image")
	}
}
