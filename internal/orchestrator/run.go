package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/randr97/mage-ai/internal/events"
	"github.com/randr97/mage-ai/internal/logger"
	"github.com/randr97/mage-ai/internal/pipeline"
	"github.com/randr97/mage-ai/internal/runtime"
	"github.com/randr97/mage-ai/internal/status"
	streamerrors "github.com/randr97/mage-ai/pkg/errors"
)

// runContext holds the mutable state of one run. Only the execute loop
// touches it after admission.
type runContext struct {
	active   *activeRun
	pipeline *pipeline.Pipeline
	targets  []string
	targeted map[string]bool
	opts     RunOptions

	pending     map[string]bool
	running     map[string]*workerState
	completions chan blockDone

	halted   bool
	firstErr error
}

type blockDone struct {
	blockID  string
	result   runtime.Result
	duration time.Duration
}

// workerState bridges the mutator and one worker goroutine; it lets an
// interrupt land before the runtime has handed back its Run.
type workerState struct {
	interruptCh chan struct{}
	started     time.Time
}

func newRunContext(ar *activeRun, p *pipeline.Pipeline, targets []string, opts RunOptions) *runContext {
	targeted := make(map[string]bool, len(targets))
	for _, id := range targets {
		targeted[id] = true
	}
	return &runContext{
		active:      ar,
		pipeline:    p,
		targets:     targets,
		targeted:    targeted,
		opts:        opts,
		pending:     make(map[string]bool, len(targets)),
		running:     make(map[string]*workerState),
		completions: make(chan blockDone),
	}
}

// execute is the run loop. It is the only goroutine that mutates block
// statuses, commits variables, and publishes terminal events for this
// run; workers only talk to the runtime and forward its event feed.
func (o *Orchestrator) execute(ctx context.Context, rc *runContext, handle *Handle) {
	defer func() {
		final := rc.finalStatus()
		o.finishRun(rc, final)
		o.broker.CloseRun(rc.active.runID)
		o.release(rc)
		handle.final = final
		handle.err = rc.firstErr
		close(handle.done)
	}()

	g, err := rc.pipeline.Graph()
	if err != nil {
		o.log.Error(err, "pipeline graph is invalid")
		rc.firstErr = err
		return
	}

	// Stale liveness statuses from an earlier process are meaningless.
	for _, b := range rc.pipeline.Blocks {
		if b.Status == status.Queued || b.Status == status.Running {
			b.Status = status.NotRun
		}
	}

	rc.targets = g.OrderSubset(rc.targeted)

	for _, id := range rc.targets {
		o.transition(rc, id, status.Queued)
		rc.pending[id] = true
	}

	for {
		o.dispatchReady(ctx, rc)
		if len(rc.pending) == 0 && len(rc.running) == 0 {
			return
		}

		select {
		case done := <-rc.completions:
			o.onCompletion(rc, done)
		case blockID := <-rc.active.interrupts:
			o.onInterrupt(rc, blockID)
		}
	}
}

// dispatchReady walks the pending targets in topological order and acts
// on every block whose upstream state is settled. Blocks whose upstream
// failed inside this run are released back to not_run; blocks whose
// inputs cannot be produced by this run fail immediately without
// touching the runtime.
func (o *Orchestrator) dispatchReady(ctx context.Context, rc *runContext) {
	if rc.halted {
		o.releasePending(rc)
		return
	}

	for _, id := range rc.targets {
		if !rc.pending[id] {
			continue
		}
		if len(rc.running) >= o.maxConcurrency {
			return
		}

		switch o.readiness(rc, id) {
		case blockWaiting:
			continue
		case blockSkipped:
			delete(rc.pending, id)
			o.transition(rc, id, status.NotRun)
			o.logFor(rc, id).Debug("skipped, upstream did not succeed in this run")
		case blockUnresolvable:
			delete(rc.pending, id)
			up, variable := o.missingInput(rc, id)
			o.failWithoutRuntime(rc, id, streamerrors.NewUnresolvedDependencyError(id, up, variable))
		case blockReady:
			delete(rc.pending, id)
			o.launch(ctx, rc, id)
		}
	}
}

type readiness int

const (
	blockReady readiness = iota
	blockWaiting
	blockSkipped
	blockUnresolvable
)

func (o *Orchestrator) readiness(rc *runContext, id string) readiness {
	b, err := rc.pipeline.Block(id)
	if err != nil {
		return blockUnresolvable
	}
	for _, up := range b.UpstreamIDs {
		if rc.pending[up] || rc.running[up] != nil {
			return blockWaiting
		}
		upBlock, err := rc.pipeline.Block(up)
		if err != nil {
			return blockUnresolvable
		}
		if upBlock.Status == status.Succeeded {
			continue
		}
		if rc.targeted[up] {
			// The upstream was attempted (or released) by this run and
			// did not succeed; its dependents are left untouched.
			return blockSkipped
		}
		return blockUnresolvable
	}
	if _, _, ok := o.resolveInputs(rc, b); !ok {
		return blockUnresolvable
	}
	return blockReady
}

// resolveInputs gathers the committed upstream values in declared order.
func (o *Orchestrator) resolveInputs(rc *runContext, b *pipeline.Block) ([]json.RawMessage, []string, bool) {
	var inputs []json.RawMessage
	for _, up := range b.UpstreamIDs {
		upBlock, err := rc.pipeline.Block(up)
		if err != nil {
			return nil, nil, false
		}
		for _, name := range upBlock.Kind.OutputVariables() {
			value, err := o.store.Get(rc.pipeline.UUID, up, name)
			if err != nil {
				return nil, nil, false
			}
			inputs = append(inputs, json.RawMessage(value))
		}
	}
	return inputs, b.Kind.OutputVariables(), true
}

// missingInput reports the first unresolvable upstream variable, for the
// error message. Falls back to the first non-succeeded upstream.
func (o *Orchestrator) missingInput(rc *runContext, id string) (string, string) {
	b, err := rc.pipeline.Block(id)
	if err != nil {
		return "", ""
	}
	for _, up := range b.UpstreamIDs {
		upBlock, err := rc.pipeline.Block(up)
		if err != nil {
			return up, ""
		}
		if upBlock.Status != status.Succeeded {
			return up, ""
		}
		for _, name := range upBlock.Kind.OutputVariables() {
			if !o.store.Has(rc.pipeline.UUID, up, name) {
				return up, name
			}
		}
	}
	return "", ""
}

func (o *Orchestrator) launch(ctx context.Context, rc *runContext, id string) {
	b, err := rc.pipeline.Block(id)
	if err != nil {
		o.failWithoutRuntime(rc, id, err)
		return
	}
	inputs, outputs, ok := o.resolveInputs(rc, b)
	if !ok {
		up, variable := o.missingInput(rc, id)
		o.failWithoutRuntime(rc, id, streamerrors.NewUnresolvedDependencyError(id, up, variable))
		return
	}

	o.transition(rc, id, status.Running)
	if o.hist != nil {
		if err := o.hist.StartBlock(rc.active.runID, id); err != nil {
			o.log.Error(err, "cannot record block start")
		}
	}

	ws := &workerState{interruptCh: make(chan struct{}, 1), started: time.Now()}
	rc.running[id] = ws

	job := runtime.Job{
		RunID:       rc.active.runID,
		PipelineID:  rc.pipeline.UUID,
		BlockID:     id,
		Kind:        b.Kind,
		SourcePath:  pipeline.SourcePath(o.projectRoot, b.Kind, id),
		Inputs:      inputs,
		OutputNames: outputs,
	}
	o.logFor(rc, id).Debug("dispatching block")
	go o.worker(ctx, rc, ws, job)
}

// worker drives one runtime execution. It never touches run state; the
// outcome travels back over the completions channel.
func (o *Orchestrator) worker(ctx context.Context, rc *runContext, ws *workerState, job runtime.Job) {
	run, err := o.rt.Execute(ctx, job)
	if err != nil {
		rc.completions <- blockDone{
			blockID:  job.BlockID,
			result:   runtime.Result{Status: status.Failed, Err: err},
			duration: time.Since(ws.started),
		}
		return
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-ws.interruptCh:
			run.Interrupt()
		case <-stop:
		}
	}()

	for ev := range run.Events() {
		o.broker.Publish(ev)
	}
	close(stop)
	rc.completions <- blockDone{blockID: job.BlockID, result: run.Wait(), duration: time.Since(ws.started)}
}

func (o *Orchestrator) onCompletion(rc *runContext, done blockDone) {
	delete(rc.running, done.blockID)

	switch done.result.Status {
	case status.Succeeded:
		if err := o.commitOutputs(rc, done.blockID, done.result.Outputs); err != nil {
			o.recordFailure(rc, done.blockID, err, done.duration)
			return
		}
		o.transition(rc, done.blockID, status.Succeeded)
		o.publishCompletion(rc, done.blockID, status.Succeeded, nil)
		o.finishBlock(rc, done.blockID, status.Succeeded, done.duration, nil)
		o.logFor(rc, done.blockID).Info("block succeeded")

	case status.Cancelled:
		rc.halted = true
		o.transition(rc, done.blockID, status.Cancelled)
		o.publishCompletion(rc, done.blockID, status.Cancelled, nil)
		o.finishBlock(rc, done.blockID, status.Cancelled, done.duration, nil)
		o.logFor(rc, done.blockID).Warn("block cancelled")

	default:
		o.recordFailure(rc, done.blockID, done.result.Err, done.duration)
	}
}

// recordFailure applies the failed transition, publishes the terminal
// event, and remembers the run's first error.
func (o *Orchestrator) recordFailure(rc *runContext, blockID string, cause error, duration time.Duration) {
	if rc.firstErr == nil {
		rc.firstErr = cause
	}
	if rc.opts.FailFast {
		rc.halted = true
	}
	o.transition(rc, blockID, status.Failed)
	detail := errorDetail(cause)
	o.publishCompletion(rc, blockID, status.Failed, &detail)
	o.finishBlock(rc, blockID, status.Failed, duration, &detail)
	o.logFor(rc, blockID).Error(cause, "block failed")
}

// failWithoutRuntime marks a queued block failed before any execution
// context is created, for inputs this run can never produce.
func (o *Orchestrator) failWithoutRuntime(rc *runContext, blockID string, cause error) {
	if o.hist != nil {
		if err := o.hist.StartBlock(rc.active.runID, blockID); err != nil {
			o.log.Error(err, "cannot record block start")
		}
	}
	o.recordFailure(rc, blockID, cause, 0)
}

func (o *Orchestrator) onInterrupt(rc *runContext, blockID string) {
	if ws, ok := rc.running[blockID]; ok {
		select {
		case ws.interruptCh <- struct{}{}:
		default:
		}
		return
	}
	if rc.pending[blockID] {
		rc.halted = true
	}
}

// releasePending returns every still-queued target to not_run. Released
// blocks were never attempted, so they get no terminal event.
func (o *Orchestrator) releasePending(rc *runContext) {
	for _, id := range rc.targets {
		if !rc.pending[id] {
			continue
		}
		delete(rc.pending, id)
		o.transition(rc, id, status.NotRun)
	}
}

// commitOutputs writes every produced variable before the block may be
// marked succeeded. Every declared output must be present; extra named
// outputs are committed as side artifacts.
func (o *Orchestrator) commitOutputs(rc *runContext, blockID string, outputs map[string]json.RawMessage) error {
	b, err := rc.pipeline.Block(blockID)
	if err != nil {
		return err
	}
	for _, name := range b.Kind.OutputVariables() {
		if _, ok := outputs[name]; !ok {
			return streamerrors.NewUserCodeError(blockID, "OutputMismatch",
				"block returned no value for declared output "+name, "")
		}
	}
	for name, value := range outputs {
		if err := o.store.Put(rc.pipeline.UUID, blockID, name, value); err != nil {
			return streamerrors.NewRuntimeInfrastructureError(blockID, err)
		}
	}
	return nil
}

func (o *Orchestrator) transition(rc *runContext, blockID string, to status.Status) {
	b, err := rc.pipeline.Block(blockID)
	if err != nil {
		o.log.Error(err, "cannot transition unknown block")
		return
	}
	next, err := status.Transition(blockID, b.Status, to)
	if err != nil {
		o.log.Error(err, "illegal status transition")
		return
	}
	b.Status = next
}

func (o *Orchestrator) publishCompletion(rc *runContext, blockID string, final status.Status, detail *events.ErrorDetail) {
	o.broker.Publish(events.Completion(rc.active.runID, rc.pipeline.UUID, blockID, final, detail))
}

func (o *Orchestrator) finishBlock(rc *runContext, blockID string, final status.Status, duration time.Duration, detail *events.ErrorDetail) {
	if o.hist == nil {
		return
	}
	var kind, message, trace string
	if detail != nil {
		kind, message, trace = detail.Kind, detail.Message, detail.Trace
	}
	if err := o.hist.FinishBlock(rc.active.runID, blockID, final, duration, kind, message, trace); err != nil {
		o.log.Error(err, "cannot record block finish")
	}
}

// finishRun persists the terminal statuses and closes the history row.
func (o *Orchestrator) finishRun(rc *runContext, final status.Status) {
	if err := rc.pipeline.Save(o.projectRoot); err != nil {
		o.log.Error(err, "cannot persist block statuses")
	}
	if o.hist == nil {
		return
	}
	var kind, message string
	if rc.firstErr != nil {
		detail := errorDetail(rc.firstErr)
		kind, message = detail.Kind, detail.Message
	}
	if err := o.hist.FinishRun(rc.active.runID, final, kind, message); err != nil {
		o.log.Error(err, "cannot record run finish")
	}
}

// finalStatus derives the run outcome from the target statuses only;
// untargeted blocks never influence it.
func (rc *runContext) finalStatus() status.Status {
	statuses := make([]status.Status, 0, len(rc.targets))
	for _, id := range rc.targets {
		b, err := rc.pipeline.Block(id)
		if err != nil {
			continue
		}
		statuses = append(statuses, b.Status)
	}
	return status.Derive(statuses)
}

func (o *Orchestrator) logFor(rc *runContext, blockID string) *logger.Logger {
	return o.log.WithBlock(rc.pipeline.UUID, blockID)
}

// errorDetail flattens a failure cause into the wire shape.
func errorDetail(err error) events.ErrorDetail {
	var userErr *streamerrors.UserCodeError
	if errors.As(err, &userErr) {
		return events.ErrorDetail{Kind: userErr.Kind, Message: userErr.Message, Trace: userErr.Trace}
	}
	var depErr *streamerrors.UnresolvedDependencyError
	if errors.As(err, &depErr) {
		return events.ErrorDetail{Kind: "UnresolvedDependency", Message: depErr.Error()}
	}
	var infraErr *streamerrors.RuntimeInfrastructureError
	if errors.As(err, &infraErr) {
		return events.ErrorDetail{Kind: "RuntimeInfrastructure", Message: infraErr.Error()}
	}
	if err == nil {
		return events.ErrorDetail{Kind: "Unknown", Message: "block failed with no recorded cause"}
	}
	return events.ErrorDetail{Kind: "Unknown", Message: err.Error()}
}
