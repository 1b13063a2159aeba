// Package orchestrator implements the thread orchestrator of §4.H: it
// spawns the control, interaction, and trainer threads, owns the
// LifecycleState latch and FatalError slot, and brokers pause/resume/
// shutdown across them.
//
// It is adapted from the named-task runner in internal/platform's
// Supervisor, slimmed to this runtime's semantics: a thread failure here
// is always Fatal (§7) and triggers orderly shutdown, never a restart, so
// the backoff/one-for-one/one-for-all restart-policy machinery that
// Supervisor carries for its own domain has no role here.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pamiq/internal/lifecycle"
	"pamiq/internal/rtsync"
)

// Component is anything the orchestrator calls setup/teardown on during
// startup/shutdown, outside of the per-thread Run loops themselves
// (model registries, data fabrics, the persistence controller).
type Component interface {
	Setup() error
	Teardown() error
}

// Handle is what a registered thread runs. The orchestrator supplies a
// PauseGate bound to this task's own quiescence flag, so Pause can
// observe per-thread quiescent points; the handle must call ready()
// exactly once after its loop has entered (the readiness barrier §4.H
// step 2) and must honor ctx cancellation at every suspension point.
type Handle func(ctx context.Context, ready func(), gate *rtsync.PauseGate) error

// task is the orchestrator's bookkeeping for one named thread, modeled
// on platform.supervisorTask but without restart state: a task here
// either completes cleanly on shutdown or reports its error once via
// reportFatal and is never restarted.
type task struct {
	cancel    context.CancelFunc
	done      chan struct{}
	ready     *rtsync.Latch[bool]
	quiescent *rtsync.Latch[bool]
}

// Orchestrator owns the LifecycleState latch, the FatalError slot, and
// the named task map for every spawned thread.
type Orchestrator struct {
	lifecycleLatch *rtsync.Latch[lifecycle.State]

	mu         sync.Mutex
	tasks      map[string]*task
	components []Component

	fatalOnce sync.Once
	fatalErr  *rtsync.SharedValue[error]
	fatalCh   chan struct{}

	maxUptime   time.Duration
	uptimeTimer *time.Timer
}

// New constructs an Orchestrator in the Initializing state.
func New() *Orchestrator {
	return &Orchestrator{
		lifecycleLatch: rtsync.NewLatch(lifecycle.Initializing),
		tasks:          make(map[string]*task),
		fatalErr:       rtsync.NewSharedValue[error](nil),
		fatalCh:        make(chan struct{}),
	}
}

// LifecycleLatch returns the shared lifecycle latch handles/trainers
// build their PauseGate from.
func (o *Orchestrator) LifecycleLatch() *rtsync.Latch[lifecycle.State] {
	return o.lifecycleLatch
}

// RegisterComponent adds a component whose Setup runs during startup and
// Teardown runs during shutdown, in registration order for setup and
// reverse order for teardown.
func (o *Orchestrator) RegisterComponent(c Component) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.components = append(o.components, c)
}

// SetMaxUptime installs an optional wall-clock ceiling; once elapsed from
// Start, the orchestrator initiates an orderly shutdown. Zero disables
// the ceiling.
func (o *Orchestrator) SetMaxUptime(d time.Duration) {
	o.maxUptime = d
}

// Spawn registers and starts a named thread. name must be unique. The
// handle is run in its own goroutine; its error (if any, and not due to
// context cancellation) is captured as the first FatalError and triggers
// shutdown.
func (o *Orchestrator) Spawn(name string, h Handle) error {
	o.mu.Lock()
	if _, exists := o.tasks[name]; exists {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: task already running: %s", name)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		cancel:    cancel,
		done:      make(chan struct{}),
		ready:     rtsync.NewLatch(false),
		quiescent: rtsync.NewLatch(false),
	}
	o.tasks[name] = t
	o.mu.Unlock()

	gate := rtsync.NewPauseGate(o.lifecycleLatch, t.quiescent)
	go func() {
		defer close(t.done)
		err := h(ctx, func() { t.ready.Set(true) }, gate)
		if err != nil && ctx.Err() == nil {
			o.reportFatal(name, err)
		}
	}()
	return nil
}

func (o *Orchestrator) reportFatal(name string, err error) {
	o.fatalOnce.Do(func() {
		o.fatalErr.Publish(fmt.Errorf("orchestrator: task %q: %w", name, err))
		close(o.fatalCh)
		o.beginShutdown()
	})
}

// FatalError returns the first fatal error reported by any thread, or
// nil if none has occurred.
func (o *Orchestrator) FatalError() error {
	err, _ := o.fatalErr.Read()
	return err
}

// Done returns a channel that closes the moment any thread reports a
// fatal error (§7): a launcher selects on it alongside its own shutdown
// signals to re-raise the original cause after Shutdown completes, per
// FatalError.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.fatalCh
}

// Start runs every registered component's Setup, moves to Initializing
// (already the starting state) and blocks until every spawned task's
// readiness latch flips, then moves to Running. Call after all Spawn
// calls have been issued.
func (o *Orchestrator) Start(ctx context.Context) error {
	for _, c := range o.components {
		if err := c.Setup(); err != nil {
			return fmt.Errorf("orchestrator: component setup: %w", err)
		}
	}

	o.mu.Lock()
	tasks := make([]*task, 0, len(o.tasks))
	for _, t := range o.tasks {
		tasks = append(tasks, t)
	}
	o.mu.Unlock()

	for _, t := range tasks {
		for !t.ready.Peek() {
			if _, err := t.ready.Await(ctx); err != nil {
				return err
			}
		}
	}
	// A task may already have reported a fatal error (moving to
	// ShuttingDown) while Start was waiting; never move back to Running.
	if o.lifecycleLatch.Peek().Terminal() {
		return nil
	}
	o.lifecycleLatch.Set(lifecycle.Running)

	if o.maxUptime > 0 {
		o.uptimeTimer = time.AfterFunc(o.maxUptime, o.beginShutdown)
	}
	return nil
}

// Pause moves to Paused and blocks until every spawned task's quiescence
// latch reports true (i.e. each is blocked at its own PauseGate). It fails
// without changing state once shutdown has begun.
func (o *Orchestrator) Pause(ctx context.Context) error {
	if state := o.lifecycleLatch.Peek(); state.Terminal() {
		return fmt.Errorf("orchestrator: pause invalid in state %s", state)
	}
	o.lifecycleLatch.Set(lifecycle.Paused)
	return o.forEachTask(ctx, func(t *task) error {
		for !t.quiescent.Peek() {
			if _, err := t.quiescent.Await(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// Resume moves back to Running, waking every blocked pause gate. A no-op
// once shutdown has begun.
func (o *Orchestrator) Resume() {
	if o.lifecycleLatch.Peek().Terminal() {
		return
	}
	o.lifecycleLatch.Set(lifecycle.Running)
}

// beginShutdown moves to ShuttingDown exactly once; idempotent so a
// fatal-error report racing with an explicit Shutdown call is safe.
func (o *Orchestrator) beginShutdown() {
	if o.lifecycleLatch.Peek().Terminal() {
		return
	}
	o.lifecycleLatch.Set(lifecycle.ShuttingDown)
}

// Shutdown moves to ShuttingDown, cancels every spawned task's context,
// waits up to grace for each to exit, and runs every registered
// component's Teardown in reverse registration order. Tasks that miss
// the grace deadline are reported by name but not force-killed.
func (o *Orchestrator) Shutdown(grace time.Duration) (stuck []string) {
	o.beginShutdown()
	if o.uptimeTimer != nil {
		o.uptimeTimer.Stop()
	}

	o.mu.Lock()
	tasks := make(map[string]*task, len(o.tasks))
	for name, t := range o.tasks {
		tasks[name] = t
	}
	o.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}

	deadline := time.After(grace)
	for name, t := range tasks {
		select {
		case <-t.done:
		case <-deadline:
			stuck = append(stuck, name)
		}
	}

	for i := len(o.components) - 1; i >= 0; i-- {
		_ = o.components[i].Teardown()
	}
	o.lifecycleLatch.Set(lifecycle.Stopped)
	return stuck
}

func (o *Orchestrator) forEachTask(ctx context.Context, f func(*task) error) error {
	o.mu.Lock()
	tasks := make([]*task, 0, len(o.tasks))
	for _, t := range o.tasks {
		tasks = append(tasks, t)
	}
	o.mu.Unlock()

	for _, t := range tasks {
		if err := f(t); err != nil {
			return err
		}
	}
	return nil
}

// Names returns every currently-spawned task's name.
func (o *Orchestrator) Names() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	names := make([]string, 0, len(o.tasks))
	for name := range o.tasks {
		names = append(names, name)
	}
	return names
}

// QuiescenceSnapshot reports, per task name, whether it is currently
// blocked at its PauseGate. Used to distinguish Pausing from Paused, and
// Resuming from Running, in the control surface's status payload.
func (o *Orchestrator) QuiescenceSnapshot() map[string]bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]bool, len(o.tasks))
	for name, t := range o.tasks {
		out[name] = t.quiescent.Peek()
	}
	return out
}

// ReadinessSnapshot reports, per task name, whether it has called ready()
// yet. Used by the control surface's status payload to report per-thread
// readiness (§4.H step 2 / §6).
func (o *Orchestrator) ReadinessSnapshot() map[string]bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]bool, len(o.tasks))
	for name, t := range o.tasks {
		out[name] = t.ready.Peek()
	}
	return out
}
