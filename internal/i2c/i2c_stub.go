//go:build !linux

package i2c

import "errors"

const MaxTransfer = 32

var errUnsupported = errors.New("i2c: unsupported OS (need linux)")

type Bus struct{}

type Dev struct{}

func Open(path string) (*Bus, error)                 { return nil, errUnsupported }
func OpenNumber(n int) (*Bus, error)                 { return nil, errUnsupported }
func (b *Bus) Close() error                          { return nil }
func (b *Bus) Dev(addr uint16) *Dev                  { return nil }
func (d *Dev) Write(p []byte) error                  { return errUnsupported }
func (d *Dev) Read(p []byte) error                   { return errUnsupported }
func (d *Dev) WriteRead(w, r []byte) error           { return errUnsupported }
func (d *Dev) ReadReg(reg byte, dst []byte) error    { return errUnsupported }
func (d *Dev) ReadRegU8(reg byte) (byte, error)      { return 0, errUnsupported }
func (d *Dev) ReadRegU16(reg byte) (uint16, error)   { return 0, errUnsupported }
func (d *Dev) WriteReg(reg, value byte) error        { return errUnsupported }
func (d *Dev) WriteRegs(reg byte, data []byte) error { return errUnsupported }
