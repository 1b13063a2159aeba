// Package pamiq is the embeddable public facade of a pamiq runtime: it
// wires the data fabric, model registry, persistence controller, thread
// orchestrator, control surface, and observability metrics into a
// single entry point for a host process to embed.
package pamiq

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pamiq/internal/control"
	"pamiq/internal/databuffer"
	"pamiq/internal/interaction"
	"pamiq/internal/modelregistry"
	"pamiq/internal/obsmetrics"
	"pamiq/internal/orchestrator"
	"pamiq/internal/pclock"
	"pamiq/internal/persistence"
	"pamiq/internal/rtsync"
	"pamiq/internal/storage"
	"pamiq/internal/trainerrt"
	"pamiq/internal/trigger"
)

// persistenceThreadName is the orchestrator task name of the optional
// periodic-autosave thread spawned when Options.SaveIntervalSeconds > 0.
const persistenceThreadName = "persistence-autosave"

const (
	defaultStateRoot     = "states"
	defaultStoreKind     = "memory"
	defaultDBPath        = "pamiq.db"
	defaultMaxKeepStates = 10
)

// Options configures a Runtime. Every field has a zero-value default
// suitable for local development; production embedders override
// StateRoot, MaxKeepStates, and StoreKind/DBPath at minimum.
type Options struct {
	StateRoot           string
	MaxKeepStates       int
	MaxUptime           time.Duration
	SaveIntervalSeconds float64
	StoreKind           string
	DBPath              string
	Registerer          prometheus.Registerer
	Logger              *zap.Logger
}

// Runtime is one embeddable pamiq process: a lifecycle orchestrator, a
// model registry, a set of named data buffers, a persistence controller,
// and a control surface, all sharing one pause-aware virtual clock.
type Runtime struct {
	clock   *pclock.Clock
	orch    *orchestrator.Orchestrator
	models  *modelregistry.Registry
	pers    *persistence.Controller
	control *control.Adapter
	metrics *obsmetrics.Metrics
	gather  prometheus.Gatherer
	store   storage.Store
	log     *zap.Logger

	mu      sync.Mutex
	buffers map[string]*databuffer.Buffer
	runID   string
}

// New constructs a Runtime. Call Models().Register/RegisterBuffer/
// SpawnInteraction/SpawnTrainer to assemble it, then Start.
func New(opts Options) (*Runtime, error) {
	if opts.StateRoot == "" {
		opts.StateRoot = defaultStateRoot
	}
	if opts.MaxKeepStates == 0 {
		opts.MaxKeepStates = defaultMaxKeepStates
	}
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = defaultStoreKind
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	registerer := opts.Registerer
	var gather prometheus.Gatherer
	if registerer == nil {
		reg := prometheus.NewRegistry()
		registerer, gather = reg, reg
	} else if g, ok := registerer.(prometheus.Gatherer); ok {
		gather = g
	} else {
		gather = prometheus.DefaultGatherer
	}
	log := opts.Logger
	if log == nil {
		var err error
		log, err = zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("pamiq: default logger: %w", err)
		}
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, fmt.Errorf("pamiq: store: %w", err)
	}
	if err := store.Init(context.Background()); err != nil {
		return nil, fmt.Errorf("pamiq: store init: %w", err)
	}

	clock := pclock.New()
	orch := orchestrator.New()
	orch.SetMaxUptime(opts.MaxUptime)
	models := modelregistry.NewRegistry()
	pers := persistence.New(opts.StateRoot, orch, clock.Virtual, opts.MaxKeepStates)
	if err := pers.Register("models", models); err != nil {
		return nil, fmt.Errorf("pamiq: register model registry: %w", err)
	}

	if opts.SaveIntervalSeconds > 0 {
		pers.SetAutosaveTrigger(trigger.NewTimeInterval(opts.SaveIntervalSeconds, clock.Virtual()))
		if err := orch.Spawn(persistenceThreadName, func(ctx context.Context, ready func(), gate *rtsync.PauseGate) error {
			ready()
			return pers.RunAutosave(ctx, gate)
		}); err != nil {
			return nil, fmt.Errorf("pamiq: spawn persistence autosave: %w", err)
		}
	}

	metrics := obsmetrics.New(registerer)

	return &Runtime{
		clock:   clock,
		orch:    orch,
		models:  models,
		pers:    pers,
		control: control.NewAdapter(orch, pers),
		metrics: metrics,
		gather:  gather,
		store:   store,
		log:     log,
		buffers: make(map[string]*databuffer.Buffer),
		runID:   uuid.NewString(),
	}, nil
}

// Clock returns the shared pause-aware virtual clock.
func (r *Runtime) Clock() *pclock.Clock { return r.clock }

// Models returns the model registry components register their entries
// against before Start.
func (r *Runtime) Models() *modelregistry.Registry { return r.models }

// RegisterBuffer creates and registers a named data buffer, both making
// it available via Buffer and enrolling it in persistence snapshots.
func (r *Runtime) RegisterBuffer(name string, fields []string, capacity int, policy databuffer.Policy, seed int64) (*databuffer.Buffer, error) {
	buf, err := databuffer.New(fields, capacity, policy, seed)
	if err != nil {
		return nil, fmt.Errorf("pamiq: register buffer %q: %w", name, err)
	}
	if err := r.pers.Register(name, buf); err != nil {
		return nil, fmt.Errorf("pamiq: register buffer %q: %w", name, err)
	}
	r.mu.Lock()
	r.buffers[name] = buf
	r.mu.Unlock()
	return buf, nil
}

// Buffer looks up a previously registered data buffer by name.
func (r *Runtime) Buffer(name string) (*databuffer.Buffer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.buffers[name]
	return buf, ok
}

// RegisterPersistable enrolls an additional persistable (e.g. a
// trainer's own optimizer state) into the snapshot/restore cycle,
// alongside the model registry and any registered buffers.
func (r *Runtime) RegisterPersistable(name string, p persistence.Persistable) error {
	return r.pers.Register(name, p)
}

// RegisterComponent enrolls a component whose Setup/Teardown run around
// the orchestrator's start/shutdown sequence.
func (r *Runtime) RegisterComponent(c orchestrator.Component) {
	r.orch.RegisterComponent(c)
}

// SpawnInteraction registers and starts an agent/environment thread
// ticking at the given virtual-time interval. Call before Start.
func (r *Runtime) SpawnInteraction(name string, env interaction.Environment, agent interaction.Agent, interval float64) error {
	return r.orch.Spawn(name, func(ctx context.Context, ready func(), gate *rtsync.PauseGate) error {
		loop := interaction.NewLoop(env, agent)
		fi := interaction.NewFixedInterval(loop, r.clock, gate, interval, func(skipped int) {
			r.metrics.Overruns.WithLabelValues(name).Add(float64(skipped))
		})
		ready()
		return fi.Run(ctx)
	})
}

// SpawnTrainer registers and starts a trainer thread that trains
// whenever tg fires, throttled between checks by trainerrt's default
// poll interval. Call before Start.
func (r *Runtime) SpawnTrainer(name string, t trainerrt.Trainer, tg trigger.Trigger) error {
	return r.orch.Spawn(name, func(ctx context.Context, ready func(), gate *rtsync.PauseGate) error {
		runner := trainerrt.NewRunner(name, countingTrainer{Trainer: t, metrics: r.metrics, name: name}, tg, gate, r.clock.Virtual)
		ready()
		return runner.Run(ctx)
	})
}

// countingTrainer wraps a Trainer to increment the trainer_iterations_total
// counter around each Train call, without requiring every user trainer to
// know about metrics.
type countingTrainer struct {
	trainerrt.Trainer
	metrics *obsmetrics.Metrics
	name    string
}

func (c countingTrainer) Train() error {
	err := c.Trainer.Train()
	if err == nil {
		c.metrics.TrainerIterations.WithLabelValues(c.name).Inc()
	}
	return err
}

// Start runs every registered component's Setup and blocks until every
// spawned thread reports readiness, then moves the runtime to Running.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.orch.Start(ctx); err != nil {
		return err
	}
	r.refreshLifecycleGauge()
	r.log.Info("pamiq: runtime started", zap.String("run_id", r.runID))
	return nil
}

// Pause pauses every thread at its next safe point.
func (r *Runtime) Pause(ctx context.Context) error {
	err := r.orch.Pause(ctx)
	r.refreshLifecycleGauge()
	return err
}

// Resume resumes every paused thread.
func (r *Runtime) Resume() {
	r.orch.Resume()
	r.refreshLifecycleGauge()
}

// Shutdown cancels every thread, waits up to grace for clean exit, and
// tears down every registered component. Returns the names of threads
// still running past grace.
func (r *Runtime) Shutdown(grace time.Duration) []string {
	stuck := r.orch.Shutdown(grace)
	r.refreshLifecycleGauge()
	if err := storage.CloseIfSupported(r.store); err != nil {
		r.log.Warn("pamiq: store close", zap.Error(err))
	}
	return stuck
}

// SaveState snapshots the runtime (pausing around the write) and records
// a "state_saved" run event in the run ledger for retrospective analysis.
func (r *Runtime) SaveState(ctx context.Context) (string, error) {
	dir, err := r.pers.Save(ctx)
	if err != nil {
		return "", err
	}
	_ = r.store.RecordRunEvent(ctx, storage.RunEvent{
		RunID:     r.runID,
		Kind:      "state_saved",
		Message:   dir,
		Timestamp: r.clock.Virtual(),
	})
	return dir, nil
}

// LoadLatestState restores the most recent committed state under the
// configured state root, if any, and returns the virtual-time offset
// recorded in its manifest. The runtime's clock is not moved to that
// offset; it keeps counting from this Runtime's construction. Returns
// ok == false if no state exists yet.
func (r *Runtime) LoadLatestState() (virtualTime float64, ok bool, err error) {
	dir, err := r.pers.LatestRecord()
	if err != nil {
		return 0, false, err
	}
	if dir == "" {
		return 0, false, nil
	}
	vt, err := r.pers.Load(dir)
	if err != nil {
		return 0, false, err
	}
	return vt, true, nil
}

// LoadState restores state from an explicit record directory (§6's
// resume_from launcher option), instead of automatically locating the
// most recent one. Like LoadLatestState, it returns the recorded
// virtual-time offset without moving the runtime's clock.
func (r *Runtime) LoadState(dir string) (virtualTime float64, err error) {
	return r.pers.Load(dir)
}

// RecordPublish appends a model publish event to the run ledger. Call
// whenever a trainer publishes a model, typically right after
// TrainingView.Publish.
func (r *Runtime) RecordPublish(ctx context.Context, modelName string, seq uint64) error {
	r.metrics.PublishSeq.WithLabelValues(modelName).Set(float64(seq))
	return r.store.RecordPublish(ctx, storage.PublishEvent{
		RunID:     r.runID,
		ModelName: modelName,
		Seq:       seq,
		Timestamp: r.clock.Virtual(),
	})
}

// SampleBufferOccupancy records a point-in-time occupancy sample for a
// named buffer, for both the /metrics gauge and the run ledger history.
func (r *Runtime) SampleBufferOccupancy(ctx context.Context, bufferName string) error {
	buf, ok := r.Buffer(bufferName)
	if !ok {
		return fmt.Errorf("pamiq: sample buffer occupancy: unknown buffer %q", bufferName)
	}
	size, capacity := buf.Count(), buf.Capacity()
	r.metrics.BufferOccupancy.WithLabelValues(bufferName).Set(float64(size))
	return r.store.RecordBufferSample(ctx, storage.BufferSample{
		RunID:      r.runID,
		BufferName: bufferName,
		Size:       size,
		Capacity:   capacity,
		Timestamp:  r.clock.Virtual(),
	})
}

// ControlHandler returns an http.Handler serving the control surface's
// websocket protocol.
func (r *Runtime) ControlHandler() http.Handler {
	return control.NewServer(r.control, r.log)
}

// MetricsHandler returns an http.Handler serving this runtime's
// Prometheus metrics from the registry (or gatherer) it was constructed
// with.
func (r *Runtime) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(r.gather, promhttp.HandlerOpts{})
}

// FatalError returns the first fatal error reported by any spawned
// thread, or nil if none has occurred.
func (r *Runtime) FatalError() error { return r.orch.FatalError() }

// Done returns a channel that closes the moment any spawned thread
// reports a fatal error, so an embedder can unblock its own wait loop
// and re-raise FatalError after Shutdown, per §7.
func (r *Runtime) Done() <-chan struct{} { return r.orch.Done() }

// HandleLine runs a single control-surface line-protocol command
// directly, bypassing the websocket transport, for in-process embedders.
// pamiqctl's control commands do not use it; they go over the websocket.
func (r *Runtime) HandleLine(ctx context.Context, line string) string {
	return r.control.HandleLine(ctx, line)
}

var lifecycleStates = []string{"initializing", "running", "paused", "shutting_down", "stopped"}

func (r *Runtime) refreshLifecycleGauge() {
	r.metrics.SetLifecycleState(r.orch.LifecycleLatch().Peek().String(), lifecycleStates)
}
