package request

import (
	"context"
	"sync/atomic"
	"time"

	"datasoph/client/parser"
)

// Stage is the cosmetic progress label shown while a request is in
// flight. Transitions are time-based only and never gate the request.
type Stage string

const (
	StageNone       Stage = ""
	StageThinking   Stage = "thinking"
	StageAnalyzing  Stage = "analyzing"
	StageProcessing Stage = "processing"
	StageGenerating Stage = "generating"
)

// Stages is the fixed progress order.
var Stages = []Stage{StageThinking, StageAnalyzing, StageProcessing, StageGenerating}

// State is the terminal state of an exchange.
type State string

const (
	StateCompleted State = "completed"
	StateCanceled  State = "canceled"
	StateFailed    State = "failed"
)

// Outcome describes how an exchange settled. Blocks holds the parsed
// response for a completed exchange, ready for the render surface.
type Outcome struct {
	State  State
	Blocks []parser.Block
	Err    error
}

// Handle represents one in-flight exchange. It settles exactly once:
// through cancellation or through the network resolving, whichever comes
// first. A handle is never persisted.
type Handle struct {
	cancel    context.CancelFunc
	startedAt time.Time

	stage    atomic.Value // Stage
	settled  atomic.Bool
	canceled atomic.Bool

	// outcome is written before done is closed and read only after.
	outcome Outcome
	done    chan struct{}
}

func newHandle(cancel context.CancelFunc) *Handle {
	h := &Handle{
		cancel:    cancel,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	h.stage.Store(StageThinking)
	return h
}

// Stage returns the current progress label, or StageNone once settled.
func (h *Handle) Stage() Stage {
	return h.stage.Load().(Stage)
}

// StartedAt is when the exchange was issued.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Canceled reports whether the handle settled through cancellation.
func (h *Handle) Canceled() bool { return h.canceled.Load() }

// Done is closed when the handle settles.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Outcome is valid only after Done is closed.
func (h *Handle) Outcome() Outcome {
	select {
	case <-h.done:
		return h.outcome
	default:
		return Outcome{}
	}
}
