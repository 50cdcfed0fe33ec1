package errors

import (
	"fmt"
	"strings"
)

// CycleError reports an edge that would make the dependency graph cyclic.
type CycleError struct {
	From  string
	To    string
	Cycle []string
}

// NewCycleError constructs a CycleError for the rejected edge.
func NewCycleError(from, to string, cycle []string) error {
	return &CycleError{From: from, To: to, Cycle: cycle}
}

func (e *CycleError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Cycle) > 0 {
		return fmt.Sprintf("cycle error: edge %s -> %s closes cycle %s", e.From, e.To, strings.Join(e.Cycle, " -> "))
	}
	return fmt.Sprintf("cycle error: edge %s -> %s would create a cycle", e.From, e.To)
}

// DanglingReferenceError reports an edge or lookup that names an unknown block.
type DanglingReferenceError struct {
	BlockID string
}

// NewDanglingReferenceError constructs a DanglingReferenceError.
func NewDanglingReferenceError(blockID string) error {
	return &DanglingReferenceError{BlockID: blockID}
}

func (e *DanglingReferenceError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("dangling reference: unknown block %q", e.BlockID)
}

// HasDependentsError reports a block removal attempted while downstream
// blocks still depend on it.
type HasDependentsError struct {
	BlockID    string
	Dependents []string
}

// NewHasDependentsError constructs a HasDependentsError.
func NewHasDependentsError(blockID string, dependents []string) error {
	return &HasDependentsError{BlockID: blockID, Dependents: dependents}
}

func (e *HasDependentsError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("block %q still has dependents: %s", e.BlockID, strings.Join(e.Dependents, ", "))
}

// NotFoundError reports a lookup of a pipeline, block, or committed
// variable that does not exist. BlockID and Variable narrow the scope
// when set.
type NotFoundError struct {
	PipelineID string
	BlockID    string
	Variable   string
}

// NewNotFoundError constructs a NotFoundError. Pass empty strings for
// the levels that do not apply.
func NewNotFoundError(pipelineID, blockID, variable string) error {
	return &NotFoundError{PipelineID: pipelineID, BlockID: blockID, Variable: variable}
}

func (e *NotFoundError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Variable != "":
		return fmt.Sprintf("variable not found: %s/%s/%s", e.PipelineID, e.BlockID, e.Variable)
	case e.BlockID != "":
		return fmt.Sprintf("block not found: %s/%s", e.PipelineID, e.BlockID)
	default:
		return fmt.Sprintf("pipeline not found: %s", e.PipelineID)
	}
}

// UnresolvedDependencyError reports a dispatch attempt whose upstream inputs
// are missing or not yet produced by a successful run.
type UnresolvedDependencyError struct {
	BlockID    string
	UpstreamID string
	Variable   string
}

// NewUnresolvedDependencyError constructs an UnresolvedDependencyError.
func NewUnresolvedDependencyError(blockID, upstreamID, variable string) error {
	return &UnresolvedDependencyError{BlockID: blockID, UpstreamID: upstreamID, Variable: variable}
}

func (e *UnresolvedDependencyError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("block %q cannot run: upstream %q has no committed variable %q", e.BlockID, e.UpstreamID, e.Variable)
}

// AlreadyRunningError reports a second run request for a block that is
// queued or running.
type AlreadyRunningError struct {
	PipelineID string
	BlockID    string
}

// NewAlreadyRunningError constructs an AlreadyRunningError.
func NewAlreadyRunningError(pipelineID, blockID string) error {
	return &AlreadyRunningError{PipelineID: pipelineID, BlockID: blockID}
}

func (e *AlreadyRunningError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("block %s/%s already has a run in flight", e.PipelineID, e.BlockID)
}

// IllegalTransitionError reports a status transition outside the legal table.
type IllegalTransitionError struct {
	BlockID string
	From    string
	To      string
}

// NewIllegalTransitionError constructs an IllegalTransitionError.
func NewIllegalTransitionError(blockID, from, to string) error {
	return &IllegalTransitionError{BlockID: blockID, From: from, To: to}
}

func (e *IllegalTransitionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("illegal status transition for %q: %s -> %s", e.BlockID, e.From, e.To)
}

// UserCodeError wraps a failure raised by executed block code. It carries
// the original message and trace and is never treated as a host fault.
type UserCodeError struct {
	BlockID string
	Kind    string
	Message string
	Trace   string
}

// NewUserCodeError constructs a UserCodeError from a captured failure.
func NewUserCodeError(blockID, kind, message, trace string) error {
	return &UserCodeError{BlockID: blockID, Kind: kind, Message: message, Trace: trace}
}

func (e *UserCodeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Kind != "" {
		return fmt.Sprintf("user code error in block %q: %s: %s", e.BlockID, e.Kind, e.Message)
	}
	return fmt.Sprintf("user code error in block %q: %s", e.BlockID, e.Message)
}

// RuntimeInfrastructureError reports a failure of the isolated execution
// context itself, as opposed to the code it runs.
type RuntimeInfrastructureError struct {
	BlockID string
	Err     error
}

// NewRuntimeInfrastructureError constructs a RuntimeInfrastructureError.
func NewRuntimeInfrastructureError(blockID string, err error) error {
	return &RuntimeInfrastructureError{BlockID: blockID, Err: err}
}

func (e *RuntimeInfrastructureError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("execution runtime failure for block %q: %v", e.BlockID, e.Err)
}

// Unwrap exposes the underlying error.
func (e *RuntimeInfrastructureError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
