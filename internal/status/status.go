package status

import (
	streamerrors "github.com/randr97/mage-ai/pkg/errors"
)

// Status is the run state of a block within one pipeline execution.
type Status string

const (
	// NotRun indicates the block has never executed, or its queued slot
	// was released before dispatch.
	NotRun Status = "not_run"
	// Queued indicates the block is targeted by the current run and
	// waiting for its upstream blocks.
	Queued Status = "queued"
	// Running indicates the block's isolated context is executing.
	Running Status = "running"
	// Succeeded marks a completed run whose outputs were committed.
	Succeeded Status = "succeeded"
	// Failed marks a run that ended with a captured error.
	Failed Status = "failed"
	// Cancelled marks a run stopped by an interrupt request.
	Cancelled Status = "cancelled"
)

// IsTerminal reports whether the status ends a run attempt.
func (s Status) IsTerminal() bool {
	switch s {
	case Succeeded, Failed, Cancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case NotRun, Queued, Running, Succeeded, Failed, Cancelled:
		return true
	default:
		return false
	}
}

// Transition validates a status change for the given block and returns the
// new status, or an IllegalTransitionError when the change is outside the
// legal table.
func Transition(blockID string, from, to Status) (Status, error) {
	if !allowed(from, to) {
		return from, streamerrors.NewIllegalTransitionError(blockID, string(from), string(to))
	}
	return to, nil
}

// allowed encodes the legality table. Any prior terminal state (and
// not_run) may be re-queued; queued blocks either dispatch, fail ahead of
// dispatch on unresolved inputs, or release back to not_run when the run
// halts before they start.
func allowed(from, to Status) bool {
	switch from {
	case NotRun, Succeeded, Failed, Cancelled:
		return to == Queued
	case Queued:
		return to == Running || to == Failed || to == NotRun
	case Running:
		return to == Succeeded || to == Failed || to == Cancelled
	default:
		return false
	}
}

// Derive computes the pipeline-level status from the statuses of the
// blocks targeted by a run. Precedence is running, then failed, then
// cancelled, then succeeded. Cancelled is reported deliberately rather
// than folded into not_run so an interrupted run stays distinguishable
// from one that never started.
func Derive(blocks []Status) Status {
	anyActive := false
	anyFailed := false
	anyCancelled := false
	allSucceeded := len(blocks) > 0
	for _, s := range blocks {
		switch s {
		case Queued, Running:
			anyActive = true
		case Failed:
			anyFailed = true
		case Cancelled:
			anyCancelled = true
		}
		if s != Succeeded {
			allSucceeded = false
		}
	}

	if anyActive {
		return Running
	}
	if anyFailed {
		return Failed
	}
	if anyCancelled {
		return Cancelled
	}
	if allSucceeded {
		return Succeeded
	}
	return NotRun
}
