package pamiq

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"pamiq/internal/databuffer"
	"pamiq/internal/modelregistry"
	"pamiq/internal/trigger"
)

type counterModel struct {
	value int
}

func (m *counterModel) CopyParamsTo(dst modelregistry.Model) {
	dst.(*counterModel).value = m.value
}

func (m *counterModel) SaveTo(dir string) error   { return nil }
func (m *counterModel) LoadFrom(dir string) error { return nil }

type recordingEnv struct{ steps int }

func (e *recordingEnv) Observe() (any, error) { return e.steps, nil }
func (e *recordingEnv) Affect(_ any) error     { e.steps++; return nil }

type echoAgent struct{}

func (echoAgent) Step(obs any) (any, error) { return obs, nil }

type noopTrainer struct{ trained int }

func (t *noopTrainer) Train() error { t.trained++; return nil }

func testLogger(t *testing.T) *zap.Logger {
	t.Helper()
	log, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestRuntimeStartRunsInteractionAndTrainerThreads(t *testing.T) {
	rt, err := New(Options{
		StateRoot: filepath.Join(t.TempDir(), "states"),
		StoreKind: "memory",
		Logger:    testLogger(t),
	})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}

	if _, err := rt.Models().Register("policy", &counterModel{}, &counterModel{}, true); err != nil {
		t.Fatalf("register model: %v", err)
	}
	if _, err := rt.RegisterBuffer("experience", []string{"obs"}, 8, databuffer.Queue, 1); err != nil {
		t.Fatalf("register buffer: %v", err)
	}

	env := &recordingEnv{}
	if err := rt.SpawnInteraction("interaction", env, echoAgent{}, 0.001); err != nil {
		t.Fatalf("spawn interaction: %v", err)
	}
	trainer := &noopTrainer{}
	if err := rt.SpawnTrainer("trainer", trainer, trigger.NewStepCount(1)); err != nil {
		t.Fatalf("spawn trainer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for env.steps == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if env.steps == 0 {
		t.Fatal("expected interaction loop to have ticked at least once")
	}

	cancel()
	stuck := rt.Shutdown(time.Second)
	if len(stuck) != 0 {
		t.Fatalf("expected no stuck threads, got %v", stuck)
	}
}

func TestRuntimeSaveStateThenLoadLatestRestoresBuffer(t *testing.T) {
	root := filepath.Join(t.TempDir(), "states")
	rt, err := New(Options{StateRoot: root, StoreKind: "memory", Logger: testLogger(t)})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	buf, err := rt.RegisterBuffer("experience", []string{"obs"}, 8, databuffer.Queue, 1)
	if err != nil {
		t.Fatalf("register buffer: %v", err)
	}
	if err := buf.Collect(databuffer.Tuple{"obs": 1.0}); err != nil {
		t.Fatalf("collect: %v", err)
	}

	ctx := context.Background()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	dir, err := rt.SaveState(ctx)
	if err != nil {
		t.Fatalf("save state: %v", err)
	}
	if dir == "" {
		t.Fatal("expected non-empty state directory")
	}
	rt.Shutdown(time.Second)

	restored, err := New(Options{StateRoot: root, StoreKind: "memory", Logger: testLogger(t)})
	if err != nil {
		t.Fatalf("new restored runtime: %v", err)
	}
	restoredBuf, err := restored.RegisterBuffer("experience", []string{"obs"}, 8, databuffer.Queue, 1)
	if err != nil {
		t.Fatalf("register buffer: %v", err)
	}
	_, ok, err := restored.LoadLatestState()
	if err != nil {
		t.Fatalf("load latest: %v", err)
	}
	if !ok {
		t.Fatal("expected a prior committed state to be found")
	}
	if restoredBuf.Count() != 1 {
		t.Fatalf("expected restored buffer to carry 1 tuple, got %d", restoredBuf.Count())
	}
}

type failingTrainer struct{ err error }

func (t *failingTrainer) Train() error { return t.err }

func TestRuntimeDoneAndFatalErrorReportThreadFailure(t *testing.T) {
	rt, err := New(Options{
		StateRoot: filepath.Join(t.TempDir(), "states"),
		StoreKind: "memory",
		Logger:    testLogger(t),
	})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}

	boom := errors.New("boom")
	if err := rt.SpawnTrainer("trainer", &failingTrainer{err: boom}, trigger.NewStepCount(1)); err != nil {
		t.Fatalf("spawn trainer: %v", err)
	}

	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-rt.Done():
	case <-time.After(time.Second):
		t.Fatal("expected Done to close once the trainer thread failed")
	}

	if fatalErr := rt.FatalError(); fatalErr == nil || !strings.Contains(fatalErr.Error(), "boom") {
		t.Fatalf("expected FatalError to wrap the original cause, got %v", fatalErr)
	}

	stuck := rt.Shutdown(time.Second)
	if len(stuck) != 0 {
		t.Fatalf("expected no stuck threads, got %v", stuck)
	}
}

func TestRuntimeHandleLineReportsStatus(t *testing.T) {
	rt, err := New(Options{StateRoot: filepath.Join(t.TempDir(), "states"), StoreKind: "memory", Logger: testLogger(t)})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	ctx := context.Background()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	resp := rt.HandleLine(ctx, "status")
	if resp == "" {
		t.Fatal("expected non-empty status response")
	}
}
