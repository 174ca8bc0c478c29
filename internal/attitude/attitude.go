// Package attitude turns fused orientation quaternions into the Euler angles the
// balance controller works with.
package attitude

import (
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Quaternion is one orientation sample as produced by the sensor's motion-fusion
// firmware. It is expected to be (close to) unit length.
type Quaternion struct {
	W, X, Y, Z float64
}

// Identity is the zero rotation.
var Identity = Quaternion{W: 1}

// Vector is a body-frame 3-vector.
type Vector struct {
	X, Y, Z float64
}

// Euler holds yaw/pitch/roll in degrees.
type Euler struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// quaternionScale maps the firmware's Q14 fixed point words to [-2, 2).
const quaternionScale = 1.0 / 16384.0

// MinPacketSize is the shortest packet QuaternionFromPacket accepts.
const MinPacketSize = 14

func (q Quaternion) number() quat.Number {
	return quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z}
}

// Normalized returns q scaled to unit length. A zero quaternion becomes Identity.
func (q Quaternion) Normalized() Quaternion {
	n := q.number()
	abs := quat.Abs(n)
	if abs == 0 || math.IsNaN(abs) {
		return Identity
	}
	u := quat.Scale(1/abs, n)
	return Quaternion{W: u.Real, X: u.Imag, Y: u.Jmag, Z: u.Kmag}
}

// QuaternionFromPacket decodes the W,X,Y,Z words of a fusion packet. Each word is a
// big-endian int16 at byte offsets 0, 4, 8 and 12.
func QuaternionFromPacket(packet []byte) (Quaternion, error) {
	if len(packet) < MinPacketSize {
		return Quaternion{}, fmt.Errorf("attitude: packet too short (%d bytes, need %d)", len(packet), MinPacketSize)
	}
	word := func(off int) float64 {
		return float64(int16(binary.BigEndian.Uint16(packet[off:]))) * quaternionScale
	}
	return Quaternion{W: word(0), X: word(4), Y: word(8), Z: word(12)}, nil
}

// Gravity rotates the world up-vector into the body frame described by q.
func Gravity(q Quaternion) Vector {
	n := q.Normalized().number()
	up := quat.Number{Kmag: 1}
	g := quat.Mul(quat.Mul(quat.Conj(n), up), n)
	return Vector{X: g.Imag, Y: g.Jmag, Z: g.Kmag}
}

// Extract derives yaw, pitch and roll (degrees) from q using the gravity-compensated
// formulas. Only pitch is consumed by the controller.
func Extract(q Quaternion) Euler {
	u := q.Normalized()
	g := Gravity(u)

	yaw := math.Atan2(2*u.X*u.Y-2*u.W*u.Z, 2*u.W*u.W+2*u.X*u.X-1)
	pitch := math.Atan2(g.X, math.Sqrt(g.Y*g.Y+g.Z*g.Z))
	roll := math.Atan2(g.Y, math.Sqrt(g.X*g.X+g.Z*g.Z))

	return Euler{
		Yaw:   yaw * 180 / math.Pi,
		Pitch: pitch * 180 / math.Pi,
		Roll:  roll * 180 / math.Pi,
	}
}

// FromPitch returns the quaternion whose extracted pitch is pitchDeg (rotation about
// the body Y axis). Used to synthesize sensor packets.
func FromPitch(pitchDeg float64) Quaternion {
	half := pitchDeg * math.Pi / 180 / 2
	return Quaternion{W: math.Cos(half), Y: -math.Sin(half)}
}

// EncodePacket writes q into a packet of the given size using the layout read by
// QuaternionFromPacket. Remaining bytes are zero.
func EncodePacket(q Quaternion, size int) []byte {
	if size < MinPacketSize {
		size = MinPacketSize
	}
	buf := make([]byte, size)
	put := func(off int, v float64) {
		fixed := math.Round(v / quaternionScale)
		if fixed > math.MaxInt16 {
			fixed = math.MaxInt16
		} else if fixed < math.MinInt16 {
			fixed = math.MinInt16
		}
		binary.BigEndian.PutUint16(buf[off:], uint16(int16(fixed)))
	}
	put(0, q.W)
	put(4, q.X)
	put(8, q.Y)
	put(12, q.Z)
	return buf
}
