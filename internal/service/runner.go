package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/autosender/autosender/internal/model"
	"github.com/autosender/autosender/internal/stream"
)

var (
	ErrWorkerNotStarted = errors.New("worker not started")
	ErrWorkerInProgress = errors.New("worker in progress")
)

// Publisher receives notices of worker instances. Publish must not block.
type Publisher interface {
	Advance(gen uint64)
	Publish(n model.Notice) bool
}

// waitDelay bounds the wait for stdout and stderr after the worker exited,
// in case a child of the worker keeps them open.
const waitDelay = 2 * time.Second

type Command struct {
	Path       string
	Args       []string
	Env        []string
	Generation uint64
	RunID      string
}

type Result struct {
	Path        string
	Args        []string
	Started     time.Time
	Stopped     time.Time
	State       *os.ProcessState
	Termination model.Termination
	Err         error
}

// Runner wraps a single worker process. Stdout is decoded into update notices,
// stderr is forwarded as error notices and a stopped notice is published once
// both streams are drained.
type Runner struct {
	mx         sync.Mutex
	cmd        *exec.Cmd
	proto      Command
	result     Result
	escalation *time.Timer
	done       chan struct{}
}

func NewRunner() *Runner {
	return &Runner{
		result: Result{Err: ErrWorkerNotStarted},
		done:   make(chan struct{}),
	}
}

// Start runs the worker and returns once it has been spawned. A Runner can be
// started only once, further calls return ErrWorkerInProgress.
func (r *Runner) Start(ctx context.Context, proto Command, pub Publisher) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cmd != nil {
		return ErrWorkerInProgress
	}

	r.proto = proto
	r.result = Result{
		Path: proto.Path,
		Args: append([]string(nil), proto.Args...),
	}

	cmd := exec.CommandContext(ctx, proto.Path, proto.Args...)
	if proto.Env != nil {
		cmd.Env = proto.Env
	}
	cmd.WaitDelay = waitDelay
	// stdin stays open for the lifetime of the worker, Wait closes it
	if _, err := cmd.StdinPipe(); err != nil {
		return err
	}
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	r.result.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		r.result.Stopped = time.Now().UTC()
		r.result.Err = err
		_ = stdoutW.Close()
		_ = stderrW.Close()
		return err
	}
	r.cmd = cmd

	var g errgroup.Group
	g.Go(func() error {
		return stream.Lines(stdoutR, func(ev model.Event) {
			pub.Publish(r.notice(model.Notice{Kind: model.NoticeUpdate, Event: &ev}))
		})
	})
	g.Go(func() error {
		return stream.Chunks(stderrR, func(chunk string) {
			pub.Publish(r.notice(model.Notice{Kind: model.NoticeError, Error: chunk}))
		})
	})

	go r.wait(ctx, cmd, &g, pub, stdoutW, stderrW)
	return nil
}

func (r *Runner) notice(n model.Notice) model.Notice {
	n.Generation = r.proto.Generation
	n.RunID = r.proto.RunID
	n.At = time.Now().UTC()
	return n
}

func (r *Runner) wait(ctx context.Context, cmd *exec.Cmd, g *errgroup.Group, pub Publisher, stdout, stderr *io.PipeWriter) {
	err := cmd.Wait()
	stopped := time.Now().UTC()
	_ = stdout.Close()
	_ = stderr.Close()
	if gerr := g.Wait(); gerr != nil {
		slog.WarnContext(ctx, "reading worker output", "error", gerr)
	}

	r.mx.Lock()
	if r.escalation != nil {
		r.escalation.Stop()
	}
	r.result.Stopped = stopped
	r.result.State = cmd.ProcessState
	r.result.Err = err
	r.result.Termination = termination(cmd.ProcessState, err)
	t := r.result.Termination
	r.mx.Unlock()

	slog.DebugContext(ctx, "worker exited", "termination", t.String(), "duration", stopped.Sub(r.result.Started))
	pub.Publish(r.notice(model.Notice{Kind: model.NoticeStopped, Termination: &t}))
	close(r.done)
}

func termination(state *os.ProcessState, err error) model.Termination {
	if state == nil {
		if err == nil {
			err = ErrWorkerNotStarted
		}
		return model.Termination{Err: err.Error()}
	}
	if sig := signalName(state); sig != "" {
		return model.Termination{Signal: sig}
	}
	code := state.ExitCode()
	return model.Termination{Code: &code}
}

// Done is closed once the worker exited and its stopped notice was published.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Exited reports whether Done is closed.
func (r *Runner) Exited() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// PID returns the process id of a started worker or 0.
func (r *Runner) PID() int {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cmd == nil || r.cmd.Process == nil {
		return 0
	}
	return r.cmd.Process.Pid
}

// Kill terminates the worker immediately.
func (r *Runner) Kill() error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cmd == nil {
		return ErrWorkerNotStarted
	}
	return ignoreDone(r.cmd.Process.Kill())
}

// Terminate asks the worker to exit. If grace is positive and the worker is
// still alive after it, the worker is killed.
func (r *Runner) Terminate(grace time.Duration) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cmd == nil {
		return ErrWorkerNotStarted
	}
	if r.Exited() {
		return nil
	}
	err := ignoreDone(terminate(r.cmd.Process))
	if grace > 0 && r.escalation == nil {
		r.escalation = time.AfterFunc(grace, func() {
			if r.Exited() {
				return
			}
			slog.Warn("worker ignored termination: killing", "run_id", r.proto.RunID, "grace", grace)
			_ = r.Kill()
		})
	}
	return err
}

// Result returns the result of the worker, or a result with
// ErrWorkerNotStarted.
func (r *Runner) Result() Result {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.result
}

func ignoreDone(err error) error {
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
