package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/randr97/mage-ai/internal/events"
	"github.com/randr97/mage-ai/internal/history"
	"github.com/randr97/mage-ai/internal/logger"
	"github.com/randr97/mage-ai/internal/pipeline"
	"github.com/randr97/mage-ai/internal/runtime"
	"github.com/randr97/mage-ai/internal/status"
	"github.com/randr97/mage-ai/internal/varstore"
	streamerrors "github.com/randr97/mage-ai/pkg/errors"
)

const defaultConcurrency = 4

// ConflictPolicy decides what happens when a run request targets a block
// that already has a run in flight. There is no silent queueing: the
// caller chooses explicitly.
type ConflictPolicy int

const (
	// ConflictReject fails the new request with AlreadyRunningError.
	ConflictReject ConflictPolicy = iota
	// ConflictRestart interrupts the in-flight run first, then proceeds.
	ConflictRestart
)

// RunOptions modify the target set and admission behavior of a request.
type RunOptions struct {
	// Upstream extends the target set with the upstream closure.
	Upstream bool
	// Downstream extends the target set with the downstream closure.
	Downstream bool
	// OnConflict picks the policy for blocks that are already running.
	OnConflict ConflictPolicy
	// FailFast stops dispatching new targets after the first failure,
	// the mode batch exporters rely on.
	FailFast bool
}

// Options wire an Orchestrator.
type Options struct {
	ProjectRoot    string
	Runtime        runtime.Runtime
	Broker         *events.Broker
	Store          *varstore.Store
	History        *history.History
	Logger         *logger.Logger
	MaxConcurrency int
}

// Orchestrator turns run requests into ordered block executions. All
// status transitions and variable commits of one run happen on a single
// goroutine; only the isolated execution contexts run in parallel.
type Orchestrator struct {
	projectRoot    string
	rt             runtime.Runtime
	broker         *events.Broker
	store          *varstore.Store
	hist           *history.History
	log            *logger.Logger
	maxConcurrency int

	mu       sync.Mutex
	inflight map[string]*activeRun
}

// activeRun is the admission-facing view of one live run.
type activeRun struct {
	runID      string
	interrupts chan string
	done       chan struct{}
}

// Handle is the caller's view of an admitted run: the live event feed and
// the terminal pipeline status.
type Handle struct {
	RunID string

	sub   *events.Subscription
	done  chan struct{}
	final status.Status
	err   error
}

// Events returns the run's live event feed; it closes when the run ends.
func (h *Handle) Events() <-chan events.Event {
	return h.sub.Events()
}

// Wait blocks until the run ends and returns the derived pipeline status.
func (h *Handle) Wait() status.Status {
	<-h.done
	return h.final
}

// Err returns the first failure of the run, nil when every attempted
// block succeeded.
func (h *Handle) Err() error {
	<-h.done
	return h.err
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	maxConcurrency := opts.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = defaultConcurrency
	}
	broker := opts.Broker
	if broker == nil {
		broker = events.NewBroker()
	}
	return &Orchestrator{
		projectRoot:    opts.ProjectRoot,
		rt:             opts.Runtime,
		broker:         broker,
		store:          opts.Store,
		hist:           opts.History,
		log:            opts.Logger,
		maxConcurrency: maxConcurrency,
		inflight:       make(map[string]*activeRun),
	}
}

// Broker exposes the event broker for additional subscribers.
func (o *Orchestrator) Broker() *events.Broker {
	return o.broker
}

// RunPipeline executes every block of a pipeline in topological order.
func (o *Orchestrator) RunPipeline(ctx context.Context, pipelineID string, opts RunOptions) (*Handle, error) {
	p, err := pipeline.Load(o.projectRoot, pipelineID)
	if err != nil {
		return nil, err
	}
	return o.start(ctx, p, p.BlockIDs(), opts, "pipeline")
}

// RunBlock executes one block, optionally extended with its upstream
// and/or downstream closure.
func (o *Orchestrator) RunBlock(ctx context.Context, pipelineID, blockID string, opts RunOptions) (*Handle, error) {
	p, err := pipeline.Load(o.projectRoot, pipelineID)
	if err != nil {
		return nil, err
	}
	g, err := p.Graph()
	if err != nil {
		return nil, err
	}
	if _, err := p.Block(blockID); err != nil {
		return nil, err
	}

	targets := []string{blockID}
	if opts.Upstream {
		closure, err := g.UpstreamClosure(blockID)
		if err != nil {
			return nil, err
		}
		targets = append(targets, closure...)
	}
	if opts.Downstream {
		closure, err := g.DownstreamClosure(blockID)
		if err != nil {
			return nil, err
		}
		targets = append(targets, closure...)
	}
	return o.start(ctx, p, dedupe(targets), opts, "block")
}

// Interrupt requests cancellation of a block's in-flight run. It reports
// whether an in-flight run was found.
func (o *Orchestrator) Interrupt(pipelineID, blockID string) bool {
	o.mu.Lock()
	ar := o.inflight[runKey(pipelineID, blockID)]
	o.mu.Unlock()

	if ar == nil {
		return false
	}
	select {
	case ar.interrupts <- blockID:
		return true
	case <-ar.done:
		return false
	}
}

// start admits a run: it enforces the single-run-per-block invariant,
// registers the run, and launches the run loop.
func (o *Orchestrator) start(ctx context.Context, p *pipeline.Pipeline, targets []string, opts RunOptions, trigger string) (*Handle, error) {
	if len(targets) == 0 {
		return nil, streamerrors.NewValidationError("targets", "run request selects no blocks", nil)
	}

	ar := &activeRun{
		runID:      newRunID(),
		interrupts: make(chan string, len(targets)),
		done:       make(chan struct{}),
	}

	for {
		o.mu.Lock()
		conflicts := o.conflicting(p.UUID, targets)
		if len(conflicts) == 0 {
			for _, id := range targets {
				o.inflight[runKey(p.UUID, id)] = ar
			}
			o.mu.Unlock()
			break
		}
		o.mu.Unlock()

		if opts.OnConflict == ConflictReject {
			return nil, streamerrors.NewAlreadyRunningError(p.UUID, conflicts[0].blockID)
		}
		for _, c := range conflicts {
			select {
			case c.run.interrupts <- c.blockID:
			case <-c.run.done:
			}
			<-c.run.done
		}
	}

	rc := newRunContext(ar, p, targets, opts)
	handle := &Handle{RunID: ar.runID, sub: o.broker.Subscribe(ar.runID), done: make(chan struct{})}

	if o.hist != nil {
		if err := o.hist.StartRun(ar.runID, p.UUID, trigger); err != nil {
			o.log.Error(err, "cannot record run start")
		}
	}

	go o.execute(ctx, rc, handle)
	return handle, nil
}

type conflict struct {
	blockID string
	run     *activeRun
}

// conflicting must be called with o.mu held.
func (o *Orchestrator) conflicting(pipelineID string, targets []string) []conflict {
	var out []conflict
	for _, id := range targets {
		if ar, ok := o.inflight[runKey(pipelineID, id)]; ok {
			out = append(out, conflict{blockID: id, run: ar})
		}
	}
	return out
}

// release must be called once, when the run loop finishes.
func (o *Orchestrator) release(rc *runContext) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range rc.targets {
		key := runKey(rc.pipeline.UUID, id)
		if o.inflight[key] == rc.active {
			delete(o.inflight, key)
		}
	}
	close(rc.active.done)
}

func runKey(pipelineID, blockID string) string {
	return pipelineID + "/" + blockID
}

func newRunID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "run-fallback"
	}
	return hex.EncodeToString(buf)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
