package backend

import (
	"fmt"
	"sort"
	"sync"

	"rigidsync/broker/internal/logging"
	"rigidsync/broker/internal/physics"
)

// Config carries everything a factory needs to construct an engine instance.
type Config struct {
	Tuning  Tuning
	Gravity physics.Vec3
	Logger  *logging.Logger
}

// Factory constructs a backend instance.
type Factory func(cfg Config) (Backend, error)

// Definition describes a backend implementation. Init runs once per process before the
// first instance is constructed.
type Definition struct {
	Name    string
	Variant string
	Init    func() error
	Factory Factory
}

type entry struct {
	def     Definition
	once    sync.Once
	initErr error
}

var (
	registryMu sync.RWMutex
	registered = make(map[string]*entry)
)

// Register makes a backend available to Open. Registering a name twice panics.
func Register(def Definition) {
	if def.Name == "" || def.Factory == nil {
		panic("backend: definition requires a name and factory")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registered[def.Name]; exists {
		panic(fmt.Sprintf("backend: %q registered twice", def.Name))
	}
	registered[def.Name] = &entry{def: def}
}

// Open runs the backend's one-time initialisation if needed and constructs an instance.
func Open(name string, cfg Config) (Backend, error) {
	registryMu.RLock()
	e, ok := registered[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	//1.- Guard global engine initialisation so concurrent world construction stays idempotent.
	e.once.Do(func() {
		if e.def.Init != nil {
			e.initErr = e.def.Init()
		}
		if e.initErr == nil {
			cfg.Logger.Debug("backend initialised", logging.String("backend", name))
		}
	})
	if e.initErr != nil {
		return nil, fmt.Errorf("initialise backend %q: %w", name, e.initErr)
	}
	//2.- Apply tuning defaults before handing the config to the factory.
	cfg.Tuning = cfg.Tuning.WithDefaults()
	return e.def.Factory(cfg)
}

// Lookup returns the registered definition for name.
func Lookup(name string) (Definition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	e, ok := registered[name]
	if !ok {
		return Definition{}, false
	}
	return e.def, true
}

// Names lists registered backends alphabetically.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registered))
	for name := range registered {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
