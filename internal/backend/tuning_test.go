package backend

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadProfilesLayersFileOverBuiltins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	body := []byte(`profiles:
  soak:
    deterministic: true
    threads: 1
    solver_iterations: 20
  fast:
    deterministic: false
    threads: 8
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write tuning: %v", err)
	}

	profiles, err := LoadProfiles(path)
	if err != nil {
		t.Fatalf("LoadProfiles: %v", err)
	}
	soak, err := profiles.Resolve("soak")
	if err != nil {
		t.Fatalf("resolve soak: %v", err)
	}
	if !soak.StrictCapable() || soak.SolverIterations != 20 || soak.Profile != "soak" {
		t.Fatalf("unexpected soak profile %+v", soak)
	}
	if soak.AllocatorMode != "fixed" {
		t.Fatalf("expected defaults to fill allocator mode, got %q", soak.AllocatorMode)
	}
	fast, _ := profiles.Resolve("fast")
	if fast.Threads != 8 || fast.StrictCapable() {
		t.Fatalf("expected file to override fast profile, got %+v", fast)
	}
	if _, err := profiles.Resolve("deterministic"); err != nil {
		t.Fatalf("builtin profile should remain: %v", err)
	}
}

func TestLoadProfilesRejectsNegativeValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("profiles:\n  bad:\n    threads: -1\n"), 0o644); err != nil {
		t.Fatalf("write tuning: %v", err)
	}
	if _, err := LoadProfiles(path); err == nil {
		t.Fatalf("expected negative threads to fail")
	}
}

func TestResolveUnknownProfile(t *testing.T) {
	if _, err := BuiltinProfiles().Resolve("warp"); err == nil {
		t.Fatalf("expected unknown profile to fail")
	}
}
