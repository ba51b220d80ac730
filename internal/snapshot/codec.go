// Package snapshot encodes complete world states into versioned little-endian buffers.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"rigidsync/broker/internal/state"
)

const (
	// FormatVersion is the framing revision written by Encode.
	FormatVersion uint16 = 1
	// EndianMarker reads back as 0xFEFF only when the writer was little-endian.
	EndianMarker uint16 = 0xFEFF

	// minimal encoded sizes used to bound declared counts
	minBodySize       = 4 + 1 + 1 + 8 + 8*4 + 2 + 4 + 4 + 8 + 8*13 + 1
	minConstraintSize = 4 + 1 + 4 + 4 + 8*12 + 8*4 + 1 + 8*4 + 8*2
	minRigSize        = 1 + 4
)

// Encode serialises ws with the variant's layout. Records are written in ascending id order
// and every record float is snapped to Resolution; ws itself is not modified.
func Encode(v Variant, ws *state.WorldState) ([]byte, error) {
	if ws == nil {
		return nil, fmt.Errorf("snapshot: nil world state")
	}
	if v.writeExt == nil {
		return nil, fmt.Errorf("snapshot: variant %q is not initialised", v.Backend)
	}
	//1.- Work on a sorted copy so callers keep their slice order.
	sorted := ws.Clone()
	sorted.Sort()

	w := &writer{layout: v.Layout, buf: make([]byte, 0, 256+len(sorted.Bodies)*160)}
	//2.- Shared header then the backend-specific extension.
	w.raw(v.Magic[:])
	w.u16(FormatVersion)
	w.u16(EndianMarker)
	w.u32(sorted.Header.StepCount)
	w.f32(sorted.Header.Gravity.X)
	w.f32(sorted.Header.Gravity.Y)
	w.f32(sorted.Header.Gravity.Z)
	v.writeExt(w, sorted.Header)

	//3.- Count-prefixed record sections.
	w.u32(uint32(len(sorted.Bodies)))
	for i := range sorted.Bodies {
		if err := writeBody(w, &sorted.Bodies[i]); err != nil {
			return nil, err
		}
	}
	w.u32(uint32(len(sorted.Constraints)))
	for i := range sorted.Constraints {
		writeConstraint(w, &sorted.Constraints[i])
	}
	w.u32(uint32(len(sorted.Rigs)))
	for i := range sorted.Rigs {
		if err := writeRig(w, &sorted.Rigs[i]); err != nil {
			return nil, err
		}
	}
	return w.buf, nil
}

// Decode parses a buffer written by Encode with the same variant. It either returns a complete
// state or an error wrapping ErrCorruptSnapshot.
func Decode(v Variant, buf []byte) (*state.WorldState, error) {
	if v.readExt == nil {
		return nil, fmt.Errorf("snapshot: variant %q is not initialised", v.Backend)
	}
	r := &reader{buf: buf, layout: v.Layout}
	ws := &state.WorldState{}

	//1.- Validate the fixed header before trusting any counts.
	if magic := r.take(4); magic != nil && string(magic) != string(v.Magic[:]) {
		r.off = 0
		r.fail(fmt.Sprintf("magic %q does not match %q", magic, v.Magic[:]))
	}
	if version := r.u16(); r.err == nil && version != FormatVersion {
		r.off -= 2
		r.fail(fmt.Sprintf("unsupported format version %d", version))
	}
	if marker := r.u16(); r.err == nil && marker != EndianMarker {
		r.off -= 2
		r.fail(fmt.Sprintf("endianness marker 0x%04x", marker))
	}
	ws.Header.FormatVersion = FormatVersion
	ws.Header.Backend = v.Backend
	ws.Header.StepCount = r.u32()
	ws.Header.Gravity.X = r.f32()
	ws.Header.Gravity.Y = r.f32()
	ws.Header.Gravity.Z = r.f32()
	v.readExt(r, &ws.Header)

	//2.- Record sections.
	if n := r.count(minBodySize, "body"); n > 0 {
		ws.Bodies = make([]state.BodyRecord, n)
		for i := 0; i < n && r.err == nil; i++ {
			readBody(r, &ws.Bodies[i])
		}
	}
	if n := r.count(minConstraintSize, "constraint"); n > 0 {
		ws.Constraints = make([]state.ConstraintRecord, n)
		for i := 0; i < n && r.err == nil; i++ {
			readConstraint(r, &ws.Constraints[i])
		}
	}
	if n := r.count(minRigSize, "rig"); n > 0 {
		ws.Rigs = make([]state.RigRecord, n)
		for i := 0; i < n && r.err == nil; i++ {
			readRig(r, &ws.Rigs[i])
		}
	}

	//3.- The buffer must be consumed exactly.
	if r.err == nil && r.remaining() != 0 {
		r.fail(fmt.Sprintf("%d trailing bytes", r.remaining()))
	}
	if r.err != nil {
		return nil, r.err
	}
	return ws, nil
}

// DecodeAny selects the variant from the buffer's magic.
func DecodeAny(buf []byte) (*state.WorldState, Variant, error) {
	v, ok := ForMagic(buf)
	if !ok {
		return nil, Variant{}, &CorruptError{Offset: 0, Reason: "unknown magic"}
	}
	ws, err := Decode(v, buf)
	return ws, v, err
}

// Hash returns the hex SHA-256 of an encoded snapshot.
func Hash(buf []byte) string {
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}
