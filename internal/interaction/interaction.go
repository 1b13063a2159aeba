// Package interaction implements the agent/environment tick loop of §4.F:
// fixed-interval pacing around observe/step/affect, with pause/shutdown
// cooperation through a rtsync.PauseGate.
package interaction

import (
	"context"
	"fmt"
	"time"

	"pamiq/internal/pclock"
	"pamiq/internal/rtsync"
)

// Environment is the user-implemented system boundary the agent acts on.
type Environment interface {
	Observe() (any, error)
	Affect(action any) error
}

// Agent is the user-implemented decision policy. It internally reads
// inference views and writes to data-fabric collectors; neither is
// threaded through Step's signature since both are closures over the
// agent's own registry/fabric handles.
type Agent interface {
	Step(obs any) (action any, err error)
}

// Lifecycled components receive setup/teardown hooks around the loop's
// lifetime. Agents or environments that don't need them simply don't
// implement the interface; the loop checks with a type assertion.
type Lifecycled interface {
	Setup() error
	Teardown() error
}

// PauseAware components are notified of pause/resume transitions so
// external resources (sockets, devices) can be quiesced. Optional, like
// Lifecycled.
type PauseAware interface {
	OnPaused()
	OnResumed()
}

// Loop drives one environment/agent pair through repeated ticks.
type Loop struct {
	env   Environment
	agent Agent
}

func NewLoop(env Environment, agent Agent) *Loop {
	return &Loop{env: env, agent: agent}
}

// Step runs exactly one tick: observe, decide, affect. An error from any
// stage is fatal per §4.F and is returned wrapped with the failing stage's
// name (%w, so errors.Is/As still reach the cause) for the orchestrator.
func (l *Loop) Step() error {
	obs, err := l.env.Observe()
	if err != nil {
		return fmt.Errorf("interaction: observe: %w", err)
	}
	action, err := l.agent.Step(obs)
	if err != nil {
		return fmt.Errorf("interaction: agent step: %w", err)
	}
	if err := l.env.Affect(action); err != nil {
		return fmt.Errorf("interaction: affect: %w", err)
	}
	return nil
}

// setupIfLifecycled/teardownIfLifecycled run the optional hooks on
// whichever of env/agent implements Lifecycled.
func setupIfLifecycled(v any) error {
	if lc, ok := v.(Lifecycled); ok {
		return lc.Setup()
	}
	return nil
}

func teardownIfLifecycled(v any) error {
	if lc, ok := v.(Lifecycled); ok {
		return lc.Teardown()
	}
	return nil
}

// FixedInterval runs a Loop at a target virtual-time interval I, gated by
// a PauseGate and a pclock.Clock, terminating on the first tick error or
// on context cancellation.
type FixedInterval struct {
	loop     *Loop
	clock    *pclock.Clock
	gate     *rtsync.PauseGate
	interval float64

	onOverrun func(skipped int)
}

// NewFixedInterval constructs a scheduler around loop with target
// interval seconds between ticks. onOverrun, if non-nil, is invoked
// whenever the scheduler detects it fell behind and had to skip forward;
// skipped counts the whole intervals it jumped.
func NewFixedInterval(loop *Loop, clock *pclock.Clock, gate *rtsync.PauseGate, interval float64, onOverrun func(skipped int)) *FixedInterval {
	return &FixedInterval{loop: loop, clock: clock, gate: gate, interval: interval, onOverrun: onOverrun}
}

// Run executes setup, then ticks until ctx is cancelled or a tick
// errors, then runs teardown. The returned error is the first fatal tick
// error, or nil on clean (context-cancelled) shutdown.
func (f *FixedInterval) Run(ctx context.Context) error {
	if err := setupIfLifecycled(f.loop.env); err != nil {
		return fmt.Errorf("interaction: environment setup: %w", err)
	}
	if err := setupIfLifecycled(f.loop.agent); err != nil {
		return fmt.Errorf("interaction: agent setup: %w", err)
	}
	defer teardownIfLifecycled(f.loop.env)
	defer teardownIfLifecycled(f.loop.agent)

	nextFire := f.clock.Virtual() + f.interval
	for {
		if err := f.gate.WaitIfPaused(ctx); err != nil {
			if err == rtsync.ErrCancelled || ctx.Err() != nil {
				return nil
			}
			return err
		}

		now := f.clock.Virtual()
		overran := false
		if now >= nextFire {
			// Overrun: advance nextFire by whole multiples of the
			// interval so it lands on the next aligned boundary past
			// now, rather than firing once per interval we fell behind
			// by (no busy-catchup storm). This already accounts for the
			// tick we are about to run, so the normal post-tick advance
			// below must not also apply, or nextFire would drift
			// forward by one extra interval per overrun.
			if behind := now - nextFire; behind > 0 {
				skipped := int(behind/f.interval) + 1
				nextFire += float64(skipped) * f.interval
				overran = true
				if f.onOverrun != nil {
					f.onOverrun(skipped)
				}
			}
		} else if err := f.clock.VirtualSleep(ctx, time.Duration((nextFire-now)*float64(time.Second))); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := f.loop.Step(); err != nil {
			return err
		}
		if !overran {
			nextFire += f.interval
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}
