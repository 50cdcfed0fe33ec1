package events

import (
	"time"

	"github.com/randr97/mage-ai/internal/status"
)

// Kind discriminates the event payload.
type Kind string

const (
	// KindOutput carries a line of textual output from the block's code.
	KindOutput Kind = "output"
	// KindError carries a structured error captured from the block's code.
	KindError Kind = "error"
	// KindCompletion is the terminal marker of one run attempt; exactly
	// one is emitted per attempt.
	KindCompletion Kind = "completion"
)

// ErrorDetail is the structured error payload of a failed run.
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Trace   string `json:"trace,omitempty"`
}

// Event is one ordered, timestamped unit of execution feedback belonging
// to a single run attempt of a single block.
type Event struct {
	RunID       string        `json:"run_id"`
	PipelineID  string        `json:"pipeline_id"`
	BlockID     string        `json:"block_id"`
	Seq         int           `json:"seq"`
	Timestamp   time.Time     `json:"timestamp"`
	Kind        Kind          `json:"kind"`
	Text        string        `json:"text,omitempty"`
	Error       *ErrorDetail  `json:"error,omitempty"`
	FinalStatus status.Status `json:"final_status,omitempty"`
}

// Output builds an output event.
func Output(runID, pipelineID, blockID, text string) Event {
	return Event{
		RunID:      runID,
		PipelineID: pipelineID,
		BlockID:    blockID,
		Timestamp:  time.Now(),
		Kind:       KindOutput,
		Text:       text,
	}
}

// Failure builds an error event.
func Failure(runID, pipelineID, blockID string, detail ErrorDetail) Event {
	return Event{
		RunID:      runID,
		PipelineID: pipelineID,
		BlockID:    blockID,
		Timestamp:  time.Now(),
		Kind:       KindError,
		Error:      &detail,
	}
}

// Completion builds the terminal event of a run attempt.
func Completion(runID, pipelineID, blockID string, final status.Status, detail *ErrorDetail) Event {
	return Event{
		RunID:       runID,
		PipelineID:  pipelineID,
		BlockID:     blockID,
		Timestamp:   time.Now(),
		Kind:        KindCompletion,
		FinalStatus: final,
		Error:       detail,
	}
}
