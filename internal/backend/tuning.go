package backend

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Tuning is the resolved engine configuration carried in replay packets.
type Tuning struct {
	Profile          string `json:"profile" yaml:"-"`
	Deterministic    bool   `json:"deterministic" yaml:"deterministic"`
	Threads          int    `json:"threads" yaml:"threads"`
	AllocatorMode    string `json:"allocatorMode" yaml:"allocator_mode"`
	AllocatorMB      int    `json:"allocatorMb" yaml:"allocator_mb"`
	SolverIterations int    `json:"solverIterations" yaml:"solver_iterations"`
}

// StrictCapable reports whether the tuning can reproduce bit-identical trajectories.
func (t Tuning) StrictCapable() bool {
	return t.Deterministic && t.Threads == 1
}

// WithDefaults fills unset fields with conservative values.
func (t Tuning) WithDefaults() Tuning {
	if t.Threads <= 0 {
		t.Threads = 1
	}
	if t.SolverIterations <= 0 {
		t.SolverIterations = 10
	}
	if t.AllocatorMode == "" {
		t.AllocatorMode = "fixed"
	}
	if t.AllocatorMB <= 0 {
		t.AllocatorMB = 64
	}
	return t
}

// Profiles maps profile names onto tunings.
type Profiles map[string]Tuning

// BuiltinProfiles returns the profiles available without a tuning file.
func BuiltinProfiles() Profiles {
	return Profiles{
		"deterministic": {Profile: "deterministic", Deterministic: true, Threads: 1, AllocatorMode: "fixed", AllocatorMB: 64, SolverIterations: 10},
		"fast":          {Profile: "fast", Deterministic: false, Threads: 4, AllocatorMode: "growable", AllocatorMB: 256, SolverIterations: 6},
	}
}

type profileFile struct {
	Profiles map[string]Tuning `yaml:"profiles"`
}

// LoadProfiles reads a YAML tuning file and layers it over the builtin profiles.
func LoadProfiles(path string) (Profiles, error) {
	profiles := BuiltinProfiles()
	if path == "" {
		return profiles, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file profileFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("tuning file %s: %w", path, err)
	}
	for name, tuning := range file.Profiles {
		if tuning.Threads < 0 || tuning.SolverIterations < 0 || tuning.AllocatorMB < 0 {
			return nil, fmt.Errorf("tuning profile %q: numeric fields must be non-negative", name)
		}
		tuning.Profile = name
		profiles[name] = tuning.WithDefaults()
	}
	return profiles, nil
}

// Resolve returns the named profile.
func (p Profiles) Resolve(name string) (Tuning, error) {
	tuning, ok := p[name]
	if !ok {
		return Tuning{}, fmt.Errorf("unknown tuning profile %q (known: %v)", name, p.Names())
	}
	return tuning, nil
}

// Names lists profile names alphabetically.
func (p Profiles) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
