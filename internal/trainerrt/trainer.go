// Package trainerrt implements the trainer runtime of §4.G: each trainer
// runs its own loop gated on a PauseGate and a Trigger, executing train()
// and publishing mutated model entries at trainer-chosen synchronization
// points.
package trainerrt

import (
	"context"
	"fmt"
	"time"

	"pamiq/internal/rtsync"
	"pamiq/internal/trigger"
)

// defaultPollInterval is how long the runner throttles between trigger
// re-checks when the trigger has not yet fired, to avoid a hot loop.
const defaultPollInterval = time.Millisecond

// Trainer is the user-implemented training body. Setup/Teardown are
// optional; a Trainer that does not need them can embed NoopLifecycle.
type Trainer interface {
	Train() error
}

// Lifecycled is the optional setup/teardown pair a Trainer may implement.
type Lifecycled interface {
	Setup() error
	Teardown() error
}

// NoopLifecycle can be embedded by trainers that need neither hook.
type NoopLifecycle struct{}

func (NoopLifecycle) Setup() error    { return nil }
func (NoopLifecycle) Teardown() error { return nil }

// Runner drives one named trainer: wait on the pause gate, check its
// trigger, run train(), throttle, repeat.
type Runner struct {
	name         string
	trainer      Trainer
	trigger      trigger.Trigger
	gate         *rtsync.PauseGate
	now          func() float64
	pollInterval time.Duration
}

// NewRunner constructs a Runner. now supplies the virtual-time reading the
// trigger is evaluated against (ordinarily (*pclock.Clock).Virtual).
func NewRunner(name string, tr Trainer, tg trigger.Trigger, gate *rtsync.PauseGate, now func() float64) *Runner {
	return &Runner{name: name, trainer: tr, trigger: tg, gate: gate, now: now, pollInterval: defaultPollInterval}
}

// SetPollInterval overrides the default ~1ms throttle between trigger
// re-checks.
func (r *Runner) SetPollInterval(d time.Duration) { r.pollInterval = d }

func (r *Runner) Name() string { return r.name }

// Run executes the outer loop of §4.G steps 1-5 until ctx is cancelled or
// the pause gate reports shutdown. setup()/teardown() run once around the
// loop if the trainer implements Lifecycled.
func (r *Runner) Run(ctx context.Context) error {
	if lc, ok := r.trainer.(Lifecycled); ok {
		if err := lc.Setup(); err != nil {
			return fmt.Errorf("trainerrt: trainer %q setup: %w", r.name, err)
		}
		defer lc.Teardown()
	}

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		if err := r.gate.WaitIfPaused(ctx); err != nil {
			if err == rtsync.ErrCancelled || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("trainerrt: trainer %q: %w", r.name, err)
		}

		if r.trigger.Fire(r.now()) {
			if err := r.trainer.Train(); err != nil {
				return fmt.Errorf("trainerrt: trainer %q train: %w", r.name, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
