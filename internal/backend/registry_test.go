package backend

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestOpenInitialisesOnce(t *testing.T) {
	var inits int32
	Register(Definition{
		Name: "counting-test",
		Init: func() error {
			atomic.AddInt32(&inits, 1)
			return nil
		},
		Factory: func(cfg Config) (Backend, error) { return nil, nil },
	})

	//1.- Open concurrently to exercise the once guard.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := Open("counting-test", Config{}); err != nil {
				t.Errorf("open: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := atomic.LoadInt32(&inits); got != 1 {
		t.Fatalf("expected one init, got %d", got)
	}
}

func TestOpenReportsInitFailure(t *testing.T) {
	boom := errors.New("library missing")
	Register(Definition{
		Name:    "failing-test",
		Init:    func() error { return boom },
		Factory: func(cfg Config) (Backend, error) { return nil, nil },
	})
	if _, err := Open("failing-test", Config{}); !errors.Is(err, boom) {
		t.Fatalf("expected init error, got %v", err)
	}
	if _, err := Open("failing-test", Config{}); !errors.Is(err, boom) {
		t.Fatalf("expected cached init error, got %v", err)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open("missing", Config{}); !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("expected unknown backend, got %v", err)
	}
}

func TestOpenPassesTuningDefaults(t *testing.T) {
	var seen Tuning
	Register(Definition{
		Name: "tuning-test",
		Factory: func(cfg Config) (Backend, error) {
			seen = cfg.Tuning
			return nil, nil
		},
	})
	if _, err := Open("tuning-test", Config{}); err != nil {
		t.Fatalf("open: %v", err)
	}
	if seen.Threads != 1 || seen.SolverIterations != 10 {
		t.Fatalf("expected defaults applied, got %+v", seen)
	}
}
