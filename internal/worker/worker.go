// Package worker implements the Worker Runtime (C7): the agent-side
// supervisor that owns one child AI-CLI process per task, from spawn
// through streaming to shutdown.
//
// Grounded on the teacher's internal/agentctl/process.Manager (status
// atomic.Value, stdin/stdout/stderr pipes, graceful-then-forceful Stop) and
// internal/agent/lifecycle/process_runner.go's request/response shape,
// adapted from the teacher's ACP JSON-RPC wiring to this spec's C6 JSONL
// parser.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/kandev/orchestratorhub/internal/clistream"
	"github.com/kandev/orchestratorhub/internal/logging"
	"github.com/kandev/orchestratorhub/internal/model"
	"github.com/kandev/orchestratorhub/internal/tracing"
)

// State is the worker's lifecycle state (§4.7).
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateError    State = "error"
)

const stderrTailSize = 4096

// Workspacer materializes a repository into a workspace directory; C4's
// Engine satisfies this.
type Workspacer interface {
	CreateWorkspace(ctx context.Context, repo *model.Repository, workerID string) (string, error)
}

// RepoCloneSpec tells Start to materialize a workspace before spawning.
type RepoCloneSpec struct {
	Repo     *model.Repository
	WorkerID string
}

// StartConfig configures one worker invocation (§4.7 start(cfg)).
type StartConfig struct {
	Tool             string
	WorkingDirectory string
	Model            string
	MaxTokens        int
	Temperature      float64
	APIKey           string
	BaseURL          string
	ResumeID         string
	InitialPrompt    string
	RepoCloneSpec    *RepoCloneSpec
}

// EventSink receives the worker's emitted events and lifecycle transitions;
// the Agent Link (C8) implements this to relay worker:event/worker:status
// frames to the hub.
type EventSink interface {
	OnEvent(ev clistream.Event)
	OnStateChange(state State, errMsg string)
}

// StatusInfo is the worker's §4.7 status() result.
type StatusInfo struct {
	State              State
	LastEventTimestamp time.Time
	PID                int
}

// Worker owns one child CLI process and its C6 parser.
type Worker struct {
	ID         string
	workspacer Workspacer
	logger     *logging.Logger
	sink       EventSink

	mu          sync.Mutex
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	state       atomic.Value // State
	lastEventAt atomic.Value // time.Time
	stderrTail  *ringBuffer
	done        chan struct{}
	startOnce   sync.Once
}

// New builds a Worker bound to an agent's Workspacer and an EventSink that
// receives its output.
func New(id string, workspacer Workspacer, sink EventSink, logger *logging.Logger) *Worker {
	w := &Worker{ID: id, workspacer: workspacer, sink: sink, logger: logger, stderrTail: newRingBuffer(stderrTailSize)}
	w.state.Store(StateIdle)
	return w
}

func (w *Worker) setState(s State, errMsg string) {
	w.state.Store(s)
	if w.sink != nil {
		w.sink.OnStateChange(s, errMsg)
	}
}

// Status reports the worker's current state (§4.7 status()).
func (w *Worker) Status() StatusInfo {
	info := StatusInfo{State: w.state.Load().(State)}
	if t, ok := w.lastEventAt.Load().(time.Time); ok {
		info.LastEventTimestamp = t
	}
	w.mu.Lock()
	if w.cmd != nil && w.cmd.Process != nil {
		info.PID = w.cmd.Process.Pid
	}
	w.mu.Unlock()
	return info
}

// Start materializes a workspace if requested, spawns the configured CLI in
// its own process group, and begins streaming its stdout through C6 to the
// EventSink (§4.7 steps 1-3).
func (w *Worker) Start(ctx context.Context, cfg StartConfig) (err error) {
	ctx, span := tracing.TraceWorkerStart(ctx, w.ID, cfg.Tool)
	defer func() { tracing.TraceWorkerStartResult(span, err) }()

	w.setState(StateStarting, "")

	workdir := cfg.WorkingDirectory
	if cfg.RepoCloneSpec != nil {
		if w.workspacer == nil {
			w.setState(StateError, "no workspacer configured")
			return fmt.Errorf("repoCloneSpec given but no workspacer configured")
		}
		wsCtx, wsSpan := tracing.TraceWorkspaceMaterialize(ctx, cfg.RepoCloneSpec.Repo.ID, cfg.RepoCloneSpec.WorkerID)
		path, err := w.workspacer.CreateWorkspace(wsCtx, cfg.RepoCloneSpec.Repo, cfg.RepoCloneSpec.WorkerID)
		wsSpan.End()
		if err != nil {
			w.setState(StateError, err.Error())
			return fmt.Errorf("create workspace: %w", err)
		}
		workdir = path
	}

	spec, err := Lookup(cfg.Tool)
	if err != nil {
		w.setState(StateError, err.Error())
		return err
	}

	args := spec.BuildArgs(cfg)
	// exec.CommandContext ties the child's lifetime to ctx; Stop() also
	// signals explicitly so callers may pass context.Background() here and
	// still get a clean Stop-driven shutdown.
	cmd := exec.CommandContext(ctx, spec.Binary, args...)
	cmd.Dir = workdir
	cmd.Env = buildEnv(spec, cfg)
	// Own process group (§4.7 isolation): Stop() signals the whole group so
	// a tool that forks helper processes doesn't outlive the worker.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.setState(StateError, err.Error())
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		w.setState(StateError, err.Error())
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		w.setState(StateError, err.Error())
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		w.setState(StateError, err.Error())
		return fmt.Errorf("start %s: %w", spec.Binary, err)
	}

	w.mu.Lock()
	w.cmd = cmd
	w.stdin = stdin
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.readStdout(stdout)
	go w.readStderr(stderr)
	go w.waitForExit()

	w.setState(StateRunning, "")
	if w.logger != nil {
		w.logger.Info("worker started")
	}
	return nil
}

// Input writes text+"\n" to the child's stdin (§4.7 input(text)).
func (w *Worker) Input(text string) error {
	w.mu.Lock()
	stdin := w.stdin
	w.mu.Unlock()

	if stdin == nil || w.Status().State != StateRunning {
		return fmt.Errorf("worker %s is not running", w.ID)
	}
	_, err := stdin.Write(append([]byte(text), '\n'))
	return err
}

// Stop sends a graceful termination signal, then force-kills the process
// group if it is still alive after graceMillis (§4.7 stop()).
func (w *Worker) Stop(graceMillis int) error {
	w.mu.Lock()
	cmd := w.cmd
	done := w.done
	w.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		w.setState(StateStopped, "")
		return nil
	}

	w.setState(StateStopping, "")
	if graceMillis <= 0 {
		graceMillis = 5000
	}

	// Negative pid targets the whole process group.
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)

	forced := false
	select {
	case <-done:
	case <-time.After(time.Duration(graceMillis) * time.Millisecond):
		forced = true
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
	}
	_, span := tracing.TraceWorkerStop(context.Background(), w.ID, forced)
	span.End()
	return nil
}

func (w *Worker) readStdout(r io.Reader) {
	err := clistream.Parse(r, func(ev clistream.Event) {
		w.lastEventAt.Store(time.Now())
		if w.sink != nil {
			w.sink.OnEvent(ev)
		}
	})
	if err != nil && w.logger != nil {
		w.logger.Warn("worker: stdout parse error")
	}
}

func (w *Worker) readStderr(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			w.stderrTail.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (w *Worker) waitForExit() {
	w.mu.Lock()
	cmd := w.cmd
	done := w.done
	w.mu.Unlock()

	err := cmd.Wait()
	close(done)

	if err != nil {
		tail := w.stderrTail.String()
		msg := fmt.Sprintf("worker:error: %v: %s", err, tail)
		w.setState(StateError, msg)
		return
	}
	w.setState(StateStopped, "")
}

func buildEnv(spec ToolSpec, cfg StartConfig) []string {
	env := os.Environ()
	if cfg.APIKey != "" && spec.APIKeyEnvVar != "" {
		env = append(env, fmt.Sprintf("%s=%s", spec.APIKeyEnvVar, cfg.APIKey))
	}
	if cfg.BaseURL != "" && spec.BaseURLEnvVar != "" {
		env = append(env, fmt.Sprintf("%s=%s", spec.BaseURLEnvVar, cfg.BaseURL))
	}
	return env
}

// ringBuffer keeps the last N bytes written to it, for stderr tails
// surfaced on a non-zero exit (§4.7).
type ringBuffer struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	size int
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{size: size}
}

func (r *ringBuffer) Write(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf.Write(p)
	if excess := r.buf.Len() - r.size; excess > 0 {
		r.buf.Next(excess)
	}
}

func (r *ringBuffer) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}
