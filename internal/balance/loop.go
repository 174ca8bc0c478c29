// Package balance runs the self-balancing control loop: orientation packets in,
// one motor command out per iteration.
package balance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"balancebot/internal/attitude"
	"balancebot/internal/motor"
	"balancebot/internal/pid"
	"balancebot/internal/sensors/mpu6050"
	"balancebot/internal/stream"
)

// ErrSensorInit is returned by Start when the sensor reports anything but OK.
var ErrSensorInit = errors.New("balance: sensor initialization failed")

var nowFn = time.Now
var sleepFn = time.Sleep

// Sensor is the buffered orientation source plus its one-shot bring-up.
type Sensor interface {
	stream.Transport
	Initialize(off mpu6050.Offsets) (mpu6050.Status, error)
	Enable() error
}

type Config struct {
	Offsets mpu6050.Offsets
	PID     pid.Config
	Motor   motor.Config
	Stream  stream.Config

	// Idle is slept after an iteration that found no packet. Zero only yields.
	Idle time.Duration
}

type Snapshot struct {
	UpdatedAt time.Time `json:"updated_at"`
	Running   bool      `json:"running"`

	Angle      attitude.Euler `json:"angle"`
	AngleValid bool           `json:"angle_valid"`

	Setpoint float64 `json:"setpoint"`
	Output   float64 `json:"output"`
	Integral float64 `json:"integral"`
	Speed    int     `json:"speed"`

	Iterations  uint64       `json:"iterations"`
	Stream      stream.Stats `json:"stream"`
	DriveErrors uint64       `json:"drive_errors"`
	LastError   string       `json:"last_error,omitempty"`
}

// Loop owns all control state. Step and Run must be called from one goroutine;
// Snapshot may be called from any.
type Loop struct {
	cfg    Config
	sensor Sensor
	reader *stream.Reader
	pid    *pid.Controller
	act    *motor.Actuator

	angle      attitude.Euler
	angleValid bool
	iterations uint64
	driveErrs  uint64
	lastErr    string

	mu   sync.RWMutex
	snap Snapshot
}

// New wires the loop. flag is the data-ready indication set by the sensor's
// interrupt line; it may be set from any goroutine.
func New(cfg Config, sensor Sensor, flag *stream.Flag, channels ...motor.Channel) (*Loop, error) {
	if sensor == nil {
		return nil, fmt.Errorf("balance: sensor is nil")
	}
	reader, err := stream.NewReader(sensor, flag, cfg.Stream)
	if err != nil {
		return nil, fmt.Errorf("balance: %w", err)
	}
	if reader.Cursor().PacketSize < attitude.MinPacketSize {
		return nil, fmt.Errorf("balance: packet size %d too small for a quaternion", reader.Cursor().PacketSize)
	}
	ctrl, err := pid.New(cfg.PID)
	if err != nil {
		return nil, fmt.Errorf("balance: %w", err)
	}
	act, err := motor.NewActuator(cfg.Motor, channels...)
	if err != nil {
		return nil, fmt.Errorf("balance: %w", err)
	}
	return &Loop{cfg: cfg, sensor: sensor, reader: reader, pid: ctrl, act: act}, nil
}

// Start initializes and enables the sensor. Any non-OK status is final: the
// caller must not run the loop.
func (l *Loop) Start() error {
	st, err := l.sensor.Initialize(l.cfg.Offsets)
	if st != mpu6050.OK {
		if err == nil {
			return fmt.Errorf("%w: %s", ErrSensorInit, st)
		}
		return fmt.Errorf("%w: %s: %v", ErrSensorInit, st, err)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSensorInit, err)
	}
	if err := l.sensor.Enable(); err != nil {
		return fmt.Errorf("%w: %v", ErrSensorInit, err)
	}
	log.Printf("balance: sensor ready (packet=%dB, setpoint=%.2f deg)", l.sensor.ExpectedPacketSize(), l.cfg.PID.Setpoint)
	return nil
}

// Step runs one loop iteration: poll the stream, update the angle if a packet
// arrived, then run the controller and the actuator on the latest angle.
func (l *Loop) Step(now time.Time) stream.Kind {
	res := l.reader.Poll()
	if res.Kind == stream.Ready {
		q, err := attitude.QuaternionFromPacket(res.Packet)
		if err != nil {
			l.lastErr = err.Error()
		} else {
			l.angle = attitude.Extract(q)
			l.angleValid = true
			l.pid.SetInput(l.angle.Pitch)
		}
	}

	out, fired := l.pid.Compute(now)
	if err := l.act.Drive(out); err != nil {
		if l.driveErrs == 0 || l.lastErr == "" {
			log.Printf("balance: drive failed: %v", err)
		}
		l.driveErrs++
		l.lastErr = err.Error()
	} else if fired {
		l.lastErr = ""
	}
	l.iterations++

	if res.Kind != stream.NotReady || fired {
		l.publish(now)
	}
	return res.Kind
}

// Run steps until ctx is canceled, then stops the motors.
func (l *Loop) Run(ctx context.Context) error {
	l.setRunning(true)
	defer l.setRunning(false)

	for ctx.Err() == nil {
		if l.Step(nowFn()) != stream.NotReady {
			continue
		}
		if l.cfg.Idle > 0 {
			sleepFn(l.cfg.Idle)
		} else {
			runtime.Gosched()
		}
	}
	if err := l.act.Stop(); err != nil {
		return fmt.Errorf("balance: stop motors: %w", err)
	}
	return nil
}

func (l *Loop) Snapshot() Snapshot {
	if l == nil {
		return Snapshot{}
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap
}

func (l *Loop) publish(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snap.UpdatedAt = now.UTC()
	l.snap.Angle = l.angle
	l.snap.AngleValid = l.angleValid
	l.snap.Setpoint = l.pid.Setpoint()
	l.snap.Output = l.pid.Output()
	l.snap.Integral = l.pid.Integral()
	l.snap.Speed = l.act.Current()
	l.snap.Iterations = l.iterations
	l.snap.Stream = l.reader.Stats()
	l.snap.DriveErrors = l.driveErrs
	l.snap.LastError = l.lastErr
}

func (l *Loop) setRunning(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snap.Running = v
}
