package control

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"pamiq/internal/lifecycle"
	"pamiq/internal/orchestrator"
	"pamiq/internal/persistence"
	"pamiq/internal/rtsync"
)

func newStartedOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()
	o := orchestrator.New()
	if err := o.Spawn("worker", func(ctx context.Context, ready func(), gate *rtsync.PauseGate) error {
		ready()
		for {
			if err := gate.WaitIfPaused(ctx); err != nil {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Millisecond):
			}
		}
	}); err != nil {
		t.Fatal(err)
	}
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	return o
}

func decode(t *testing.T, line string) Response {
	t.Helper()
	var r Response
	if err := json.Unmarshal([]byte(line), &r); err != nil {
		t.Fatalf("invalid JSON response %q: %v", line, err)
	}
	return r
}

func TestStatusReportsRunningState(t *testing.T) {
	o := newStartedOrchestrator(t)
	defer o.Shutdown(time.Second)
	a := NewAdapter(o, nil)

	resp := decode(t, a.HandleLine(context.Background(), "status"))
	if resp.State != lifecycle.Running.String() {
		t.Fatalf("got state %q, want %q", resp.State, lifecycle.Running.String())
	}
	if resp.Status != StatusActive {
		t.Fatalf("got status %q, want %q", resp.Status, StatusActive)
	}
}

func TestStatusReportsPerThreadReadiness(t *testing.T) {
	o := newStartedOrchestrator(t)
	defer o.Shutdown(time.Second)
	a := NewAdapter(o, nil)

	resp := decode(t, a.HandleLine(context.Background(), "status"))
	ready, ok := resp.ThreadReady["worker"]
	if !ok {
		t.Fatalf("expected thread_ready to report the worker task, got %v", resp.ThreadReady)
	}
	if !ready {
		t.Fatal("expected worker to be ready once the orchestrator has started")
	}
}

func TestPauseThenResumeRoundTrip(t *testing.T) {
	o := newStartedOrchestrator(t)
	defer o.Shutdown(time.Second)
	a := NewAdapter(o, nil)

	resp := decode(t, a.HandleLine(context.Background(), "pause"))
	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	if resp.State != lifecycle.Paused.String() {
		t.Fatalf("got state %q, want paused", resp.State)
	}

	resp = decode(t, a.HandleLine(context.Background(), "resume"))
	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	if resp.State != lifecycle.Running.String() {
		t.Fatalf("got state %q, want running", resp.State)
	}
}

func TestResumeRejectedWhenNotPaused(t *testing.T) {
	o := newStartedOrchestrator(t)
	defer o.Shutdown(time.Second)
	a := NewAdapter(o, nil)

	resp := decode(t, a.HandleLine(context.Background(), "resume"))
	if resp.Error == "" {
		t.Fatal("expected error resuming a running runtime")
	}
}

func TestShutdownMovesToStopped(t *testing.T) {
	o := newStartedOrchestrator(t)
	a := NewAdapter(o, nil)

	resp := decode(t, a.HandleLine(context.Background(), "shutdown"))
	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	if resp.State != lifecycle.Stopped.String() {
		t.Fatalf("got state %q, want stopped", resp.State)
	}
}

func TestUnknownCommandReturnsError(t *testing.T) {
	o := newStartedOrchestrator(t)
	defer o.Shutdown(time.Second)
	a := NewAdapter(o, nil)

	resp := decode(t, a.HandleLine(context.Background(), "frobnicate"))
	if resp.Error == "" {
		t.Fatal("expected error for unknown command")
	}
}

func TestSaveStateWithoutPersistenceControllerIsConfigurationError(t *testing.T) {
	o := newStartedOrchestrator(t)
	defer o.Shutdown(time.Second)
	a := NewAdapter(o, nil)

	resp := decode(t, a.HandleLine(context.Background(), "save_state"))
	if resp.Error == "" {
		t.Fatal("expected error when no persistence controller is configured")
	}
}

type noopPauser struct{ o *orchestrator.Orchestrator }

func (p noopPauser) Pause(ctx context.Context) error { return p.o.Pause(ctx) }
func (p noopPauser) Resume()                         { p.o.Resume() }

func TestSaveStateReturnsRecordPath(t *testing.T) {
	o := newStartedOrchestrator(t)
	defer o.Shutdown(time.Second)
	dir := t.TempDir()
	pc := persistence.New(dir, noopPauser{o: o}, func() float64 { return 0 }, 0)
	a := NewAdapter(o, pc)

	resp := decode(t, a.HandleLine(context.Background(), "save_state"))
	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	if resp.StatePath == "" {
		t.Fatal("expected a non-empty state_path")
	}
}
