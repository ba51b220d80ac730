package registry

import (
	"errors"
	"testing"

	"rigidsync/broker/internal/state"
)

func TestRegisterAssignsMonotonicIDsPerKind(t *testing.T) {
	reg := New()
	//1.- Ids start at one and each kind has its own space.
	if id := reg.Register(state.KindBody, 100); id != 1 {
		t.Fatalf("expected first body id 1, got %d", id)
	}
	if id := reg.Register(state.KindBody, 101); id != 2 {
		t.Fatalf("expected second body id 2, got %d", id)
	}
	if id := reg.Register(state.KindConstraint, 100); id != 1 {
		t.Fatalf("expected first constraint id 1, got %d", id)
	}
	//2.- Registering the same handle again is idempotent.
	if id := reg.Register(state.KindBody, 100); id != 1 {
		t.Fatalf("expected existing id 1, got %d", id)
	}
}

func TestReleaseDoesNotRecycle(t *testing.T) {
	reg := New()
	first := reg.Register(state.KindBody, 7)
	if err := reg.Release(state.KindBody, first); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, err := reg.Resolve(state.KindBody, first); !errors.Is(err, ErrUnknownID) {
		t.Fatalf("expected unknown id after release, got %v", err)
	}
	if next := reg.Register(state.KindBody, 7); next == first {
		t.Fatalf("released id %d was recycled", first)
	}
}

func TestAdoptAdvancesWatermark(t *testing.T) {
	reg := New()
	if err := reg.Adopt(state.KindBody, 55, 40); err != nil {
		t.Fatalf("adopt failed: %v", err)
	}
	if reg.Watermark(state.KindBody) != 40 {
		t.Fatalf("expected watermark 40, got %d", reg.Watermark(state.KindBody))
	}
	if id := reg.Register(state.KindBody, 56); id != 41 {
		t.Fatalf("expected id past watermark, got %d", id)
	}
	if err := reg.Adopt(state.KindBody, 99, 40); !errors.Is(err, ErrIDInUse) {
		t.Fatalf("expected id in use, got %v", err)
	}
	if err := reg.Adopt(state.KindBody, 99, state.WorldAnchor); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected reserved id error, got %v", err)
	}
}

func TestResolveReportsKindAndID(t *testing.T) {
	reg := New()
	_, err := reg.Resolve(state.KindVehicle, 9)
	var unknown *UnknownIDError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownIDError, got %T", err)
	}
	if unknown.Kind != state.KindVehicle || unknown.ID != 9 {
		t.Fatalf("unexpected error payload %+v", unknown)
	}
}

func TestLookupAndIDs(t *testing.T) {
	reg := New()
	reg.Register(state.KindBody, 3)
	reg.Register(state.KindBody, 1)
	if id, ok := reg.Lookup(state.KindBody, 1); !ok || id != 2 {
		t.Fatalf("unexpected lookup %d %v", id, ok)
	}
	ids := reg.IDs(state.KindBody)
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("unexpected ids %v", ids)
	}
	reg.Reset()
	if reg.Len(state.KindBody) != 0 || reg.Watermark(state.KindBody) != 0 {
		t.Fatalf("reset should clear bindings and watermark")
	}
}
