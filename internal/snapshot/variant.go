package snapshot

import (
	"fmt"
	"sort"

	"rigidsync/broker/internal/state"
)

// Layout captures how a backend lays out shapes, rotations and joint frames.
type Layout struct {
	// FullExtents stores box extents and capsule/cylinder lengths as full rather than half sizes.
	FullExtents bool
	// ScalarLast stores quaternions as x, y, z, w instead of w, x, y, z.
	ScalarLast bool
	// AxisFirst stores each joint frame as axis then pivot instead of pivots then axes.
	AxisFirst bool
}

// Variant is one backend's encoding of the shared snapshot framing.
type Variant struct {
	Backend string
	Magic   [4]byte
	Layout  Layout

	writeExt func(w *writer, h state.Header)
	readExt  func(r *reader, h *state.Header)
}

const (
	flagDeterministic = 1 << 0
)

func flags(h state.Header) uint16 {
	var f uint16
	if h.Deterministic {
		f |= flagDeterministic
	}
	return f
}

// Impulse is the layout of the sequential-impulse backend.
var Impulse = Variant{
	Backend: "impulse",
	Magic:   [4]byte{'R', 'B', 'I', 'M'},
	writeExt: func(w *writer, h state.Header) {
		w.u16(h.SolverIterations)
		w.u16(flags(h))
		w.f32(h.TimeScale)
	},
	readExt: func(r *reader, h *state.Header) {
		h.SolverIterations = r.u16()
		h.Deterministic = r.u16()&flagDeterministic != 0
		h.TimeScale = r.f32()
		h.Substeps = 1
	},
}

// XPBD is the layout of the position-based backend.
var XPBD = Variant{
	Backend: "xpbd",
	Magic:   [4]byte{'R', 'B', 'X', 'P'},
	Layout:  Layout{FullExtents: true, ScalarLast: true, AxisFirst: true},
	writeExt: func(w *writer, h state.Header) {
		w.u16(h.SolverIterations)
		w.u16(h.Substeps)
		w.u16(flags(h))
		w.f32(h.TimeScale)
		w.f32(h.Compliance)
	},
	readExt: func(r *reader, h *state.Header) {
		h.SolverIterations = r.u16()
		h.Substeps = r.u16()
		h.Deterministic = r.u16()&flagDeterministic != 0
		h.TimeScale = r.f32()
		h.Compliance = r.f32()
	},
}

var variants = map[string]Variant{
	Impulse.Backend: Impulse,
	XPBD.Backend:    XPBD,
}

// ForBackend returns the variant registered for a backend name.
func ForBackend(name string) (Variant, error) {
	v, ok := variants[name]
	if !ok {
		return Variant{}, fmt.Errorf("no snapshot variant for backend %q", name)
	}
	return v, nil
}

// ForMagic returns the variant whose magic starts buf.
func ForMagic(buf []byte) (Variant, bool) {
	if len(buf) < 4 {
		return Variant{}, false
	}
	for _, v := range variants {
		if string(v.Magic[:]) == string(buf[:4]) {
			return v, true
		}
	}
	return Variant{}, false
}

// Backends lists the backends with a registered variant.
func Backends() []string {
	names := make([]string, 0, len(variants))
	for name := range variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
