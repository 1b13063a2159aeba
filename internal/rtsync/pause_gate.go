package rtsync

import (
	"context"
	"errors"

	"pamiq/internal/lifecycle"
)

// ErrCancelled is returned by a suspension point when it unblocks because
// the runtime began shutting down rather than because the awaited
// condition was satisfied. Callers propagate it up their stack without
// reporting it as an error.
var ErrCancelled = errors.New("pamiq: cancelled by shutdown")

// PauseGate is the suspension point every long-running loop calls at a safe
// quiescent point. It returns immediately while RUNNING, blocks while
// PAUSED, and returns ErrCancelled once SHUTTING_DOWN (or later) is
// observed.
type PauseGate struct {
	lifecycleLatch *Latch[lifecycle.State]
	quiescent      *Latch[bool]
}

// NewPauseGate builds a gate bound to the shared lifecycle latch. quiescent
// is flipped to true for the duration this caller's thread is blocked at
// the gate, so the orchestrator can observe per-thread pause quiescence.
func NewPauseGate(lifecycleLatch *Latch[lifecycle.State], quiescent *Latch[bool]) *PauseGate {
	return &PauseGate{lifecycleLatch: lifecycleLatch, quiescent: quiescent}
}

func (g *PauseGate) WaitIfPaused(ctx context.Context) error {
	for {
		switch g.lifecycleLatch.Peek() {
		case lifecycle.ShuttingDown, lifecycle.Stopped:
			return ErrCancelled
		case lifecycle.Paused:
			g.quiescent.Set(true)
			if _, err := g.lifecycleLatch.Await(ctx); err != nil {
				g.quiescent.Set(false)
				return err
			}
		default:
			g.quiescent.Set(false)
			return nil
		}
	}
}

// IsQuiescent reports whether this gate's thread is currently blocked at
// the pause point.
func (g *PauseGate) IsQuiescent() bool {
	return g.quiescent.Peek()
}
