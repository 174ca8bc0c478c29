package sim

import (
	"fmt"

	"balancebot/internal/attitude"
	"balancebot/internal/sensors/mpu6050"
	"balancebot/internal/stream"
)

const (
	DefaultPacketSize = 42
	DefaultCapacity   = 1024
)

// FIFO is a simulated orientation sensor with a byte FIFO. When full it keeps
// accepting data by dropping the oldest bytes and raises the overflow flag, as
// the hardware does, so the stream loses packet alignment until it is reset.
//
// Not safe for concurrent use.
type FIFO struct {
	packetSize int
	capacity   int

	buf     []byte
	pending stream.IntStatus
	enabled bool

	// InitStatus is returned by Initialize.
	InitStatus mpu6050.Status
	// OnInterrupt runs whenever a packet lands, like the data-ready line.
	OnInterrupt func()

	offsets mpu6050.Offsets
	resets  int
	dropped int
}

var _ stream.Transport = (*FIFO)(nil)

func NewFIFO(packetSize, capacity int) (*FIFO, error) {
	if packetSize < attitude.MinPacketSize {
		return nil, fmt.Errorf("sim: packet size %d below %d", packetSize, attitude.MinPacketSize)
	}
	if capacity < packetSize {
		return nil, fmt.Errorf("sim: capacity %d below packet size %d", capacity, packetSize)
	}
	return &FIFO{packetSize: packetSize, capacity: capacity}, nil
}

func (f *FIFO) Initialize(off mpu6050.Offsets) (mpu6050.Status, error) {
	f.offsets = off
	if f.InitStatus != mpu6050.OK {
		return f.InitStatus, fmt.Errorf("sim: initialize: %s", f.InitStatus)
	}
	return mpu6050.OK, nil
}

func (f *FIFO) Enable() error {
	f.enabled = true
	f.buf = f.buf[:0]
	return nil
}

// Push appends one packet for q. It is ignored until Enable.
func (f *FIFO) Push(q attitude.Quaternion) {
	if !f.enabled {
		return
	}
	f.buf = append(f.buf, attitude.EncodePacket(q, f.packetSize)...)
	if over := len(f.buf) - f.capacity; over > 0 {
		f.buf = append(f.buf[:0], f.buf[over:]...)
		f.dropped += over
		f.pending.Overflow = true
	}
	f.pending.DataReady = true
	if f.OnInterrupt != nil {
		f.OnInterrupt()
	}
}

func (f *FIFO) BytesAvailable() (int, error) { return len(f.buf), nil }

// InterruptStatus returns and clears the pending flags.
func (f *FIFO) InterruptStatus() (stream.IntStatus, error) {
	st := f.pending
	f.pending = stream.IntStatus{}
	return st, nil
}

func (f *FIFO) ResetBuffer() error {
	f.buf = f.buf[:0]
	f.resets++
	return nil
}

func (f *FIFO) ReadPacket(dst []byte) error {
	if len(dst) > len(f.buf) {
		return fmt.Errorf("sim: read %d bytes with %d buffered", len(dst), len(f.buf))
	}
	n := copy(dst, f.buf)
	f.buf = append(f.buf[:0], f.buf[n:]...)
	return nil
}

func (f *FIFO) ExpectedPacketSize() int { return f.packetSize }
func (f *FIFO) Capacity() int           { return f.capacity }

// Offsets returns what Initialize was given.
func (f *FIFO) Offsets() mpu6050.Offsets { return f.offsets }

func (f *FIFO) Resets() int       { return f.resets }
func (f *FIFO) DroppedBytes() int { return f.dropped }
