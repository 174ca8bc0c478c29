// Package stream pulls fixed-size orientation packets out of a sensor's byte FIFO
// without ever blocking the control loop for longer than a few byte times.
package stream

import (
	"fmt"
	"log"
	"sync/atomic"
)

// IntStatus is one read of the sensor's interrupt status.
type IntStatus struct {
	Overflow  bool
	DataReady bool
}

// Transport is the buffered sensor stream as seen by the reader.
type Transport interface {
	// BytesAvailable returns the current FIFO occupancy.
	BytesAvailable() (int, error)
	// InterruptStatus reads (and, on real hardware, clears) the interrupt flags.
	InterruptStatus() (IntStatus, error)
	// ResetBuffer drops everything buffered.
	ResetBuffer() error
	// ReadPacket fills dst from the head of the FIFO.
	ReadPacket(dst []byte) error
	ExpectedPacketSize() int
	// Capacity is the FIFO size in bytes; reaching it counts as overflow.
	Capacity() int
}

// Flag is the data-ready indication shared between the interrupt context and the
// loop. It is the only state crossing that boundary.
type Flag struct {
	v atomic.Bool
}

// Set is called from the interrupt handler.
func (f *Flag) Set() { f.v.Store(true) }

// TakeAndClear atomically reads and clears the flag.
func (f *Flag) TakeAndClear() bool { return f.v.Swap(false) }

// Peek reads the flag without clearing it.
func (f *Flag) Peek() bool { return f.v.Load() }

type Kind int

const (
	NotReady Kind = iota
	Overflow
	Ready
)

func (k Kind) String() string {
	switch k {
	case NotReady:
		return "not-ready"
	case Overflow:
		return "overflow"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is the outcome of one Poll. Packet is only set for Ready and is reused by
// the next Poll.
type Result struct {
	Kind   Kind
	Packet []byte
}

// Cursor mirrors the FIFO occupancy as last observed by the reader.
type Cursor struct {
	Available  int
	PacketSize int
	Overflow   bool
}

// Stats counts what the reader has seen since it was created.
type Stats struct {
	Packets         uint64 `json:"packets"`
	Overflows       uint64 `json:"overflows"`
	TransportErrors uint64 `json:"transport_errors"`
	SpinExhausted   uint64 `json:"spin_exhausted"`
}

// DefaultMaxSpin bounds the wait for a partially transferred packet.
const DefaultMaxSpin = 1000

type Config struct {
	// MaxSpin is the number of byte-count re-reads allowed while waiting for a packet
	// that data-ready announced but that has not fully arrived. Zero means DefaultMaxSpin.
	MaxSpin int
}

// Reader turns FIFO occupancy and interrupt state into packets.
//
// Not safe for concurrent use; only the Flag may be touched from other goroutines.
type Reader struct {
	tr      Transport
	flag    *Flag
	maxSpin int

	cursor Cursor
	buf    []byte
	stats  Stats
}

func NewReader(tr Transport, flag *Flag, cfg Config) (*Reader, error) {
	if tr == nil {
		return nil, fmt.Errorf("stream: transport is nil")
	}
	if flag == nil {
		return nil, fmt.Errorf("stream: flag is nil")
	}
	size := tr.ExpectedPacketSize()
	if size <= 0 {
		return nil, fmt.Errorf("stream: invalid packet size %d", size)
	}
	if c := tr.Capacity(); c < size {
		return nil, fmt.Errorf("stream: capacity %d smaller than packet size %d", c, size)
	}
	if cfg.MaxSpin <= 0 {
		cfg.MaxSpin = DefaultMaxSpin
	}
	return &Reader{
		tr:      tr,
		flag:    flag,
		maxSpin: cfg.MaxSpin,
		cursor:  Cursor{PacketSize: size},
		buf:     make([]byte, size),
	}, nil
}

func (r *Reader) Cursor() Cursor { return r.cursor }
func (r *Reader) Stats() Stats   { return r.stats }

// Poll checks the stream once. It never blocks beyond the bounded spin for a packet
// that is already announced, and never returns transport errors: those are logged,
// counted and reported as NotReady.
func (r *Reader) Poll() Result {
	size := r.cursor.PacketSize

	n, err := r.tr.BytesAvailable()
	if err != nil {
		return r.transportErr("fifo count", err)
	}
	r.cursor.Available = n
	r.cursor.Overflow = false

	if !r.flag.Peek() && n < size {
		return Result{Kind: NotReady}
	}
	r.flag.TakeAndClear()

	st, err := r.tr.InterruptStatus()
	if err != nil {
		return r.transportErr("interrupt status", err)
	}

	if st.Overflow || n >= r.tr.Capacity() {
		if err := r.tr.ResetBuffer(); err != nil {
			return r.transportErr("fifo reset", err)
		}
		r.cursor.Available = 0
		r.cursor.Overflow = true
		r.stats.Overflows++
		log.Printf("stream: fifo overflow (%d bytes buffered), buffer reset", n)
		return Result{Kind: Overflow}
	}

	if !st.DataReady {
		return Result{Kind: NotReady}
	}

	for spins := 0; n < size; spins++ {
		if spins >= r.maxSpin {
			r.stats.SpinExhausted++
			return Result{Kind: NotReady}
		}
		if n, err = r.tr.BytesAvailable(); err != nil {
			return r.transportErr("fifo count", err)
		}
		r.cursor.Available = n
	}

	if err := r.tr.ReadPacket(r.buf); err != nil {
		return r.transportErr("fifo read", err)
	}
	r.cursor.Available -= size
	r.stats.Packets++
	return Result{Kind: Ready, Packet: r.buf}
}

func (r *Reader) transportErr(op string, err error) Result {
	r.stats.TransportErrors++
	log.Printf("stream: %s failed: %v", op, err)
	return Result{Kind: NotReady}
}
