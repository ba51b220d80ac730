package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"rigidsync/broker/internal/replay"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndGetRun(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	result := replay.Result{Success: true, Mode: replay.Strict, Backend: "impulse", Profile: "deterministic", Step: 1020, StepsRun: 1020, OpsApplied: 6, CheckpointsVerified: 17, Duration: 1500 * time.Millisecond, Message: "ok"}
	p := &replay.Packet{Scene: replay.SceneRef{Name: "sphere-stack"}, ValidationMode: replay.Strict}

	//1.- Ids and timestamps are assigned on insert.
	stored, err := store.Record(ctx, FromResult(p, result, "abc123", "http"))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if stored.ID == "" || stored.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp to be assigned: %+v", stored)
	}
	loaded, err := store.Get(ctx, stored.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Scene != "sphere-stack" || loaded.CheckpointsVerified != 17 || loaded.DurationMs != 1500 || !loaded.Success || loaded.Mode != replay.Strict {
		t.Fatalf("unexpected run %+v", loaded)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListFiltersAndSummary(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	runs := []Run{
		{CreatedAt: base, Mode: replay.Strict, Success: true, Scene: "gear-pair"},
		{CreatedAt: base.Add(time.Minute), Mode: replay.Behavioural, Success: false, Scene: "falling-sphere"},
		{CreatedAt: base.Add(2 * time.Minute), Mode: replay.Strict, Success: false, Scene: "pulley"},
	}
	for _, run := range runs {
		if _, err := store.Record(ctx, run); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	//1.- Newest first without filters.
	all, err := store.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].Scene != "pulley" || all[2].Scene != "gear-pair" {
		t.Fatalf("unexpected ordering %+v", all)
	}
	//2.- Mode and verdict filters combine.
	failed := false
	strictFailures, err := store.List(ctx, Filter{Mode: replay.Strict, Success: &failed})
	if err != nil {
		t.Fatalf("filtered list: %v", err)
	}
	if len(strictFailures) != 1 || strictFailures[0].Scene != "pulley" {
		t.Fatalf("unexpected filtered runs %+v", strictFailures)
	}
	limited, _ := store.List(ctx, Filter{Limit: 2})
	if len(limited) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}

	summary, err := store.Summarize(ctx)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.Total != 3 || summary.Passed != 1 || summary.Failed != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestInMemoryCatalog(t *testing.T) {
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if _, err := Open(" "); err == nil {
		t.Fatalf("expected blank path to be rejected")
	}
}
