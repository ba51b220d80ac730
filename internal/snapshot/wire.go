package snapshot

import (
	"encoding/binary"
	"math"

	"rigidsync/broker/internal/physics"
)

// Resolution is the decimal grid record floats are snapped to before encoding.
const Resolution = 1e-6

const scale = 1 / Resolution

// Canonical snaps x to the snapshot resolution and folds negative zero.
func Canonical(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	v := math.Round(x*scale) / scale
	if v == 0 {
		return 0
	}
	return v
}

type writer struct {
	buf    []byte
	layout Layout
}

func (w *writer) raw(b []byte) { w.buf = append(w.buf, b...) }
func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

func (w *writer) boolean(v bool) {
	if v {
		w.u8(1)
		return
	}
	w.u8(0)
}

func (w *writer) f32(v float64) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(float32(v)))
}

func (w *writer) f64(v float64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(Canonical(v)))
}

func (w *writer) vec(v physics.Vec3) {
	w.f64(v.X)
	w.f64(v.Y)
	w.f64(v.Z)
}

func (w *writer) quat(q physics.Quat) {
	if w.layout.ScalarLast {
		w.f64(q.X)
		w.f64(q.Y)
		w.f64(q.Z)
		w.f64(q.W)
		return
	}
	w.f64(q.W)
	w.f64(q.X)
	w.f64(q.Y)
	w.f64(q.Z)
}

func (w *writer) str(s string) {
	if len(s) > math.MaxUint16 {
		s = s[:math.MaxUint16]
	}
	w.u16(uint16(len(s)))
	w.raw([]byte(s))
}

// reader consumes a buffer and records the first framing failure; later reads return zeros.
type reader struct {
	buf    []byte
	off    int
	layout Layout
	err    *CorruptError
}

func (r *reader) fail(reason string) {
	if r.err == nil {
		r.err = &CorruptError{Offset: r.off, Reason: reason}
	}
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf)-r.off < n {
		r.fail("truncated buffer")
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) boolean() bool {
	switch v := r.u8(); v {
	case 0:
		return false
	case 1:
		return true
	default:
		r.off--
		r.fail("invalid boolean byte")
		return false
	}
}

func (r *reader) f32() float64 {
	return float64(math.Float32frombits(r.u32()))
}

func (r *reader) f64() float64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func (r *reader) vec() physics.Vec3 {
	return physics.Vec3{X: r.f64(), Y: r.f64(), Z: r.f64()}
}

func (r *reader) quat() physics.Quat {
	if r.layout.ScalarLast {
		x, y, z, w := r.f64(), r.f64(), r.f64(), r.f64()
		return physics.Quat{W: w, X: x, Y: y, Z: z}
	}
	return physics.Quat{W: r.f64(), X: r.f64(), Y: r.f64(), Z: r.f64()}
}

func (r *reader) str() string {
	n := int(r.u16())
	return string(r.take(n))
}

// count reads an element count and rejects values the remaining bytes cannot hold.
func (r *reader) count(minSize int, what string) int {
	n := r.u32()
	if r.err != nil {
		return 0
	}
	if minSize > 0 && uint64(n)*uint64(minSize) > uint64(r.remaining()) {
		r.off -= 4
		r.fail(what + " count exceeds buffer")
		return 0
	}
	return int(n)
}
