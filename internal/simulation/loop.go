// Package simulation runs live recording sessions at a fixed rate.
package simulation

import (
	"context"
	"time"
)

// StepFunc advances the simulation by one fixed step. A non-nil error stops the loop.
type StepFunc func(step time.Duration) error

// DefaultMaxCatchUp bounds how many steps one tick may run after a stall.
const DefaultMaxCatchUp = 5

// Loop drives a fixed timestep simulation at the configured target frequency.
type Loop struct {
	step       time.Duration
	stepFunc   StepFunc
	maxCatchUp int
	monitor    *TickMonitor
	onError    func(error)
	cancel     context.CancelFunc
	done       chan struct{}
}

// LoopOption customises a loop.
type LoopOption func(*Loop)

// WithMonitor records the wall time of every step.
func WithMonitor(monitor *TickMonitor) LoopOption {
	return func(l *Loop) { l.monitor = monitor }
}

// WithErrorHandler observes the error that stopped the loop.
func WithErrorHandler(fn func(error)) LoopOption {
	return func(l *Loop) { l.onError = fn }
}

// WithMaxCatchUp changes the per-tick step budget.
func WithMaxCatchUp(steps int) LoopOption {
	return func(l *Loop) {
		if steps > 0 {
			l.maxCatchUp = steps
		}
	}
}

// NewLoop configures a loop that targets the provided frames per second.
func NewLoop(targetHz float64, step StepFunc, opts ...LoopOption) *Loop {
	if targetHz <= 0 {
		targetHz = 60
	}
	if step == nil {
		step = func(time.Duration) error { return nil }
	}
	interval := time.Duration(float64(time.Second) / targetHz)
	if interval <= 0 {
		interval = time.Second / 60
	}
	loop := &Loop{step: interval, stepFunc: step, maxCatchUp: DefaultMaxCatchUp}
	for _, opt := range opts {
		if opt != nil {
			opt(loop)
		}
	}
	return loop
}

// Start begins ticking until the context is cancelled, Stop is invoked or a step fails.
func (l *Loop) Start(ctx context.Context) {
	if l == nil || l.stepFunc == nil {
		return
	}

	ctx, l.cancel = context.WithCancel(ctx)
	ticker := time.NewTicker(l.step)
	done := make(chan struct{})
	l.done = done
	go func() {
		defer close(done)
		defer ticker.Stop()
		last := time.Now()
		accumulator := time.Duration(0)
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				//1.- Accumulate elapsed time and run fixed steps while catching up.
				accumulator += now.Sub(last)
				last = now
				ran := 0
				for accumulator >= l.step {
					if ran == l.maxCatchUp {
						//2.- Drop the backlog rather than spiral after a long stall.
						accumulator = 0
						break
					}
					started := time.Now()
					if err := l.stepFunc(l.step); err != nil {
						if l.onError != nil {
							l.onError(err)
						}
						return
					}
					l.monitor.Observe(time.Since(started))
					accumulator -= l.step
					ran++
				}
			}
		}
	}()
}

// Stop cancels the loop and waits for the goroutine to exit.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	if l.cancel != nil {
		l.cancel()
	}
	if l.done != nil {
		<-l.done
		l.done = nil
	}
}

// StepDuration exposes the configured timestep for testing.
func (l *Loop) StepDuration() time.Duration {
	if l == nil {
		return 0
	}
	return l.step
}
