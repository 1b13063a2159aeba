// Package control implements the control surface adapter of §4.J: it
// accepts the textual line protocol of §6 (status/pause/resume/shutdown/
// save_state), validates each command against the current
// LifecycleState, and forwards it to the orchestrator and persistence
// controller.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"pamiq/internal/lifecycle"
	"pamiq/internal/orchestrator"
	"pamiq/internal/persistence"
)

// Status is the derived, user-facing system status (richer than the raw
// LifecycleState): Pausing/Resuming expose the in-between states a
// plain lifecycle latch read would hide.
type Status string

const (
	StatusActive       Status = "active"
	StatusPausing      Status = "pausing"
	StatusPaused       Status = "paused"
	StatusResuming     Status = "resuming"
	StatusShuttingDown Status = "shutting_down"
)

// shutdownGrace bounds how long Shutdown waits for threads to exit
// before reporting them stuck (§4.H join timeout).
const shutdownGrace = 5 * time.Second

// Response is the single-line JSON payload returned for every command.
type Response struct {
	State          string          `json:"state"`
	Status         Status          `json:"status,omitempty"`
	ThreadReady    map[string]bool `json:"thread_ready,omitempty"`
	ThreadPaused   map[string]bool `json:"thread_quiescent,omitempty"`
	FatalError     string          `json:"fatal_error,omitempty"`
	StatePath      string          `json:"state_path,omitempty"`
	StuckThreads   []string        `json:"stuck_threads,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// Adapter dispatches line-protocol commands against an orchestrator and
// an optional persistence controller (save_state is rejected with a
// configuration-style error if none is wired).
type Adapter struct {
	orch  *orchestrator.Orchestrator
	pers  *persistence.Controller
}

func NewAdapter(orch *orchestrator.Orchestrator, pers *persistence.Controller) *Adapter {
	return &Adapter{orch: orch, pers: pers}
}

// HandleLine parses one line of the protocol and returns the single-line
// JSON response to write back.
func (a *Adapter) HandleLine(ctx context.Context, line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return a.errorResponse(fmt.Errorf("control: empty command"))
	}
	verb := fields[0]

	var resp Response
	var err error
	switch verb {
	case "status":
		resp = a.statusResponse()
	case "pause":
		resp, err = a.pause(ctx)
	case "resume":
		resp, err = a.resume()
	case "shutdown":
		resp, err = a.shutdown()
	case "save_state":
		var path string
		if len(fields) > 1 {
			path = fields[1]
		}
		resp, err = a.saveState(ctx, path)
	default:
		err = fmt.Errorf("control: unknown command %q", verb)
	}
	if err != nil {
		return a.errorResponse(err)
	}
	return mustEncode(resp)
}

func (a *Adapter) currentState() lifecycle.State {
	return a.orch.LifecycleLatch().Peek()
}

// derivedStatus maps the raw lifecycle state plus per-thread quiescence
// onto the richer Status the original console exposed: PAUSING/RESUMING
// are the transient windows between a pause()/resume() call returning
// and every thread actually reaching (or leaving) its gate.
func (a *Adapter) derivedStatus() Status {
	state := a.currentState()
	if state.Terminal() {
		return StatusShuttingDown
	}
	quiescence := a.orch.QuiescenceSnapshot()
	anyQuiescent, allQuiescent := false, true
	for _, q := range quiescence {
		if q {
			anyQuiescent = true
		} else {
			allQuiescent = false
		}
	}
	if len(quiescence) == 0 {
		allQuiescent = false
	}
	switch state {
	case lifecycle.Paused:
		if allQuiescent {
			return StatusPaused
		}
		return StatusPausing
	default:
		if anyQuiescent {
			return StatusResuming
		}
		return StatusActive
	}
}

func (a *Adapter) statusResponse() Response {
	return Response{
		State:        a.currentState().String(),
		Status:       a.derivedStatus(),
		ThreadReady:  a.orch.ReadinessSnapshot(),
		ThreadPaused: a.orch.QuiescenceSnapshot(),
		FatalError:   errString(a.orch.FatalError()),
	}
}

func (a *Adapter) pause(ctx context.Context) (Response, error) {
	if a.currentState() != lifecycle.Running {
		return Response{}, fmt.Errorf("control: pause invalid in state %s", a.currentState())
	}
	if err := a.orch.Pause(ctx); err != nil {
		return Response{}, fmt.Errorf("control: pause: %w", err)
	}
	return a.statusResponse(), nil
}

func (a *Adapter) resume() (Response, error) {
	if a.currentState() != lifecycle.Paused {
		return Response{}, fmt.Errorf("control: resume invalid in state %s", a.currentState())
	}
	a.orch.Resume()
	return a.statusResponse(), nil
}

func (a *Adapter) shutdown() (Response, error) {
	if a.currentState().Terminal() {
		return Response{}, fmt.Errorf("control: shutdown invalid in state %s", a.currentState())
	}
	stuck := a.orch.Shutdown(shutdownGrace)
	resp := a.statusResponse()
	resp.StuckThreads = stuck
	return resp, nil
}

func (a *Adapter) saveState(ctx context.Context, path string) (Response, error) {
	if a.pers == nil {
		return Response{}, fmt.Errorf("control: save_state: no persistence controller configured")
	}
	if a.currentState().Terminal() {
		return Response{}, fmt.Errorf("control: save_state invalid in state %s", a.currentState())
	}
	dir, err := a.pers.Save(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("control: save_state: %w", err)
	}
	resp := a.statusResponse()
	resp.StatePath = dir
	_ = path // explicit destination override is a launcher-level concern; the line protocol accepts but does not yet act on it
	return resp, nil
}

func (a *Adapter) errorResponse(err error) string {
	return mustEncode(Response{State: a.currentState().String(), Error: err.Error()})
}

func mustEncode(r Response) string {
	b, err := json.Marshal(r)
	if err != nil {
		// Response is a plain struct of strings/bools/slices; Marshal can only
		// fail here if a field type changes incompatibly, a programmer error.
		panic(fmt.Sprintf("control: response encoding: %v", err))
	}
	return string(b)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
