package runtime

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/randr97/mage-ai/internal/events"
	"github.com/randr97/mage-ai/internal/logger"
	"github.com/randr97/mage-ai/internal/status"
	streamerrors "github.com/randr97/mage-ai/pkg/errors"
)

const (
	defaultGracePeriod = 10 * time.Second
	maxLineBytes       = 1 << 20
	eventBuffer        = 64
)

// jobHeader is the JSON document handed to the isolated context on stdin.
type jobHeader struct {
	RunID       string            `json:"run_id"`
	PipelineID  string            `json:"pipeline_id"`
	BlockID     string            `json:"block_id"`
	Kind        string            `json:"kind"`
	SourcePath  string            `json:"source_path"`
	Inputs      []json.RawMessage `json:"inputs"`
	OutputNames []string          `json:"output_names"`
}

// wireMessage is one JSON line emitted by the isolated context on stdout.
type wireMessage struct {
	Type    string                     `json:"type"`
	Text    string                     `json:"text,omitempty"`
	Kind    string                     `json:"kind,omitempty"`
	Message string                     `json:"message,omitempty"`
	Trace   string                     `json:"trace,omitempty"`
	Outputs map[string]json.RawMessage `json:"outputs,omitempty"`
}

// ProcessOptions configures a ProcessRuntime.
type ProcessOptions struct {
	// Command is the interpreter argv prefix; the block's source path is
	// appended as the final argument.
	Command []string
	// GracePeriod bounds cooperative shutdown after an interrupt before
	// the process is force-killed.
	GracePeriod time.Duration
	Logger      *logger.Logger
}

// ProcessRuntime executes each block in a separate OS process. The job
// header travels over stdin; execution feedback comes back as JSON lines
// on stdout while stderr is forwarded verbatim as output events. A crash
// or hang of the child cannot corrupt the caller.
type ProcessRuntime struct {
	command []string
	grace   time.Duration
	logger  *logger.Logger
}

// NewProcessRuntime creates a process-backed runtime.
func NewProcessRuntime(opts ProcessOptions) *ProcessRuntime {
	command := opts.Command
	if len(command) == 0 {
		command = []string{"python3"}
	}
	grace := opts.GracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}
	return &ProcessRuntime{command: command, grace: grace, logger: opts.Logger}
}

// Execute starts the isolated context for one job. It returns an error
// only when the context cannot be started; anything the executed code
// does is reported through the returned Run.
func (p *ProcessRuntime) Execute(ctx context.Context, job Job) (Run, error) {
	argv := append(append([]string(nil), p.command...), job.SourcePath)
	cmd := exec.Command(argv[0], argv[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, streamerrors.NewRuntimeInfrastructureError(job.BlockID, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, streamerrors.NewRuntimeInfrastructureError(job.BlockID, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, streamerrors.NewRuntimeInfrastructureError(job.BlockID, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, streamerrors.NewRuntimeInfrastructureError(job.BlockID, err)
	}

	interruptCh := make(chan struct{})
	var interruptOnce sync.Once
	run := &processRun{
		events: make(chan events.Event, eventBuffer),
		done:   make(chan struct{}),
		interrupt: func() {
			interruptOnce.Do(func() { close(interruptCh) })
		},
	}

	go p.supervise(ctx, cmd, run, job, stdin, stdout, stderr, interruptCh)
	return run, nil
}

// supervise owns the child process lifecycle: header delivery, stream
// draining, interrupt handling, and result synthesis.
func (p *ProcessRuntime) supervise(
	ctx context.Context,
	cmd *exec.Cmd,
	run *processRun,
	job Job,
	stdin io.WriteCloser,
	stdout, stderr io.Reader,
	interruptCh chan struct{},
) {
	log := p.logger.WithBlock(job.PipelineID, job.BlockID)

	header := jobHeader{
		RunID:       job.RunID,
		PipelineID:  job.PipelineID,
		BlockID:     job.BlockID,
		Kind:        string(job.Kind),
		SourcePath:  job.SourcePath,
		Inputs:      job.Inputs,
		OutputNames: job.OutputNames,
	}
	go func() {
		defer stdin.Close()
		payload, err := json.Marshal(header)
		if err != nil {
			log.Error(err, "cannot encode job header")
			return
		}
		if _, err := stdin.Write(append(payload, '\n')); err != nil {
			// The child may legitimately exit without reading its header;
			// the exit path reports the real failure.
			log.Debug("job header delivery interrupted")
		}
	}()

	var (
		mu          sync.Mutex
		userErr     *events.ErrorDetail
		outputs     map[string]json.RawMessage
		protocolErr error
	)

	var readers sync.WaitGroup
	readers.Add(2)

	go func() {
		defer readers.Done()
		scanner := newLineScanner(stdout)
		for scanner.Scan() {
			var msg wireMessage
			if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
				mu.Lock()
				if protocolErr == nil {
					protocolErr = fmt.Errorf("undecodable runner message: %w", err)
				}
				mu.Unlock()
				continue
			}
			switch msg.Type {
			case "output":
				run.events <- events.Output(job.RunID, job.PipelineID, job.BlockID, msg.Text)
			case "error":
				detail := events.ErrorDetail{Kind: msg.Kind, Message: msg.Message, Trace: msg.Trace}
				mu.Lock()
				userErr = &detail
				mu.Unlock()
				run.events <- events.Failure(job.RunID, job.PipelineID, job.BlockID, detail)
			case "result":
				mu.Lock()
				outputs = msg.Outputs
				if outputs == nil {
					outputs = map[string]json.RawMessage{}
				}
				mu.Unlock()
			default:
				mu.Lock()
				if protocolErr == nil {
					protocolErr = fmt.Errorf("unknown runner message type %q", msg.Type)
				}
				mu.Unlock()
			}
		}
	}()

	go func() {
		defer readers.Done()
		scanner := newLineScanner(stderr)
		for scanner.Scan() {
			run.events <- events.Output(job.RunID, job.PipelineID, job.BlockID, scanner.Text())
		}
	}()

	procDone := make(chan struct{})
	var interrupted atomic.Bool
	go func() {
		select {
		case <-procDone:
			return
		case <-ctx.Done():
		case <-interruptCh:
		}
		interrupted.Store(true)
		log.Warn("interrupt requested, signalling block process")
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-procDone:
		case <-time.After(p.grace):
			log.Warn("grace period elapsed, force-terminating block process")
			_ = cmd.Process.Kill()
		}
	}()

	readers.Wait()
	waitErr := cmd.Wait()
	close(procDone)

	mu.Lock()
	run.result = p.finalize(job, interrupted.Load(), waitErr, userErr, outputs, protocolErr)
	mu.Unlock()

	if run.result.Status == status.Failed && userErr == nil {
		detail := errorDetail(run.result.Err)
		run.events <- events.Failure(job.RunID, job.PipelineID, job.BlockID, detail)
	}

	close(run.events)
	close(run.done)
}

// finalize maps process outcome onto the run result. A clean result beats
// a racing interrupt; user-code failures are captured, never escalated to
// infrastructure faults.
func (p *ProcessRuntime) finalize(
	job Job,
	interrupted bool,
	waitErr error,
	userErr *events.ErrorDetail,
	outputs map[string]json.RawMessage,
	protocolErr error,
) Result {
	if waitErr == nil && outputs != nil && userErr == nil {
		return Result{Status: status.Succeeded, Outputs: outputs}
	}

	if interrupted {
		return Result{Status: status.Cancelled}
	}

	if userErr != nil {
		return Result{
			Status: status.Failed,
			Err:    streamerrors.NewUserCodeError(job.BlockID, userErr.Kind, userErr.Message, userErr.Trace),
		}
	}

	if waitErr != nil {
		return Result{
			Status: status.Failed,
			Err:    streamerrors.NewUserCodeError(job.BlockID, "ProcessExit", waitErr.Error(), ""),
		}
	}

	if protocolErr == nil {
		protocolErr = fmt.Errorf("runner exited without reporting a result")
	}
	return Result{
		Status: status.Failed,
		Err:    streamerrors.NewRuntimeInfrastructureError(job.BlockID, protocolErr),
	}
}

func errorDetail(err error) events.ErrorDetail {
	switch e := err.(type) {
	case *streamerrors.UserCodeError:
		return events.ErrorDetail{Kind: e.Kind, Message: e.Message, Trace: e.Trace}
	case *streamerrors.RuntimeInfrastructureError:
		return events.ErrorDetail{Kind: "RuntimeInfrastructure", Message: e.Error()}
	default:
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		return events.ErrorDetail{Kind: "Unknown", Message: msg}
	}
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	return scanner
}
