package runtime

import (
	"context"
	"encoding/json"

	"github.com/randr97/mage-ai/internal/events"
	"github.com/randr97/mage-ai/internal/pipeline"
	"github.com/randr97/mage-ai/internal/status"
)

// Job describes one block execution request. Inputs are the committed
// upstream values in declared upstream order; the executed code receives
// them positionally in exactly this order.
type Job struct {
	RunID       string
	PipelineID  string
	BlockID     string
	Kind        pipeline.BlockKind
	SourcePath  string
	Inputs      []json.RawMessage
	OutputNames []string
}

// Result is the terminal outcome of one run attempt.
type Result struct {
	Status  status.Status
	Outputs map[string]json.RawMessage
	Err     error
}

// Run is a single in-flight block execution. Events yields the live feed
// in emission order and closes once the run finishes; Wait blocks until
// the terminal result is known. Callers must drain Events, otherwise a
// chatty block can stall its own completion.
type Run interface {
	// Events returns the run's live event feed.
	Events() <-chan events.Event
	// Wait blocks until the run reaches a terminal status.
	Wait() Result
	// Interrupt requests cancellation. The run is guaranteed to reach a
	// terminal status within the runtime's grace period; uncooperative
	// contexts are force-terminated.
	Interrupt()
}

// processRun is the Run of one spawned interpreter process.
type processRun struct {
	events    chan events.Event
	done      chan struct{}
	result    Result
	interrupt func()
}

func (r *processRun) Events() <-chan events.Event {
	return r.events
}

func (r *processRun) Wait() Result {
	<-r.done
	return r.result
}

func (r *processRun) Interrupt() {
	r.interrupt()
}

// Runtime executes one block's code in an isolated, cancellable context.
// Uncaught user-code failures surface as a failed Result, never as an
// error from Execute; Execute itself only fails for infrastructure
// problems such as a context that cannot start.
type Runtime interface {
	Execute(ctx context.Context, job Job) (Run, error)
}
