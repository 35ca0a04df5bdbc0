package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/autosender/autosender/internal/log"
	"github.com/autosender/autosender/internal/model"
	"github.com/autosender/autosender/internal/worker"
)

var (
	ErrNoActiveWorker   = errors.New("no active automation")
	ErrSupervisorClosed = errors.New("supervisor is not running")
)

// SpawnError is returned when a resolved worker could not be started.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawning worker %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Resolver locates the worker to run.
type Resolver interface {
	Resolve(ctx context.Context) (worker.Resolution, error)
}

// Outcome is the result of a start or stop request as reported to a front end.
type Outcome struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func outcome(err error) Outcome {
	if err != nil {
		return Outcome{Error: err.Error()}
	}
	return Outcome{Success: true}
}

// Run identifies a started worker instance.
type Run struct {
	Generation uint64 `json:"generation"`
	RunID      string `json:"runId"`
	PID        int    `json:"pid"`
}

type Stats struct {
	Spawned int `json:"spawned"`
	Killed  int `json:"killed"`  // replaced by a start
	Stopped int `json:"stopped"` // terminated by a stop
	Exited  int `json:"exited"`  // exited on its own
}

type Status struct {
	Running    bool         `json:"running"`
	Paused     bool         `json:"paused"`
	Generation uint64       `json:"generation"`
	RunID      string       `json:"runId,omitempty"`
	PID        int          `json:"pid,omitempty"`
	Job        *model.Job   `json:"job,omitempty"`
	StartedAt  time.Time    `json:"startedAt,omitzero"`
	Stats      Stats        `json:"stats"`
	Process    *ProcessInfo `json:"process,omitempty"`
}

// slot is the single active worker
type slot struct {
	runner    *Runner
	gen       uint64
	runID     string
	job       model.Job
	paused    bool
	startedAt time.Time
}

type op int

const (
	opStart op = iota
	opStop
	opPause
	opResume
	opStatus
)

type request struct {
	ctx   context.Context
	op    op
	job   model.Job
	reply chan response
}

type response struct {
	err    error
	run    Run
	status Status
}

// Supervisor keeps at most one worker alive. All state is owned by the Do
// event loop, other methods are requests to it.
type Supervisor struct {
	resolver    Resolver
	publisher   Publisher
	killTimeout time.Duration
	requests    chan request
	quit        chan struct{}

	// owned by Do
	slot    *slot
	gen     uint64
	stats   Stats
	runners []*Runner
}

func NewSupervisor(resolver Resolver, publisher Publisher) *Supervisor {
	return &Supervisor{
		resolver:    resolver,
		publisher:   publisher,
		killTimeout: model.DefaultKillTimeout,
		requests:    make(chan request),
		quit:        make(chan struct{}),
	}
}

// SupervisorFromConfig returns a supervisor resolving the worker described by
// the worker section of cfg.
func SupervisorFromConfig(cfg model.Config, publisher Publisher) (*Supervisor, error) {
	layout, err := worker.LayoutFromConfig(cfg.Worker)
	if err != nil {
		return nil, fmt.Errorf("worker layout: %w", err)
	}
	timeout, err := cfg.KillTimeout()
	if err != nil {
		return nil, err
	}
	return NewSupervisor(layout, publisher).WithKillTimeout(timeout), nil
}

// WithKillTimeout sets how long a stopped worker may take to exit before it
// gets killed. Zero disables the kill.
func (s *Supervisor) WithKillTimeout(d time.Duration) *Supervisor {
	s.killTimeout = d
	return s
}

// Do runs the supervisor event loop until ctx is cancelled. On return the
// active worker has been killed and every worker started by the supervisor
// has exited. Do must be called once.
func (s *Supervisor) Do(ctx context.Context) error {
	slog.DebugContext(ctx, "starting a supervisor")
	defer close(s.quit)
	defer s.shutdown(ctx)

	for {
		var exited <-chan struct{}
		if s.slot != nil {
			exited = s.slot.runner.Done()
		}

		select {
		case <-ctx.Done():
			return nil
		case req := <-s.requests:
			req.reply <- s.handle(ctx, req)
		case <-exited:
			s.release(ctx)
		}
	}
}

func (s *Supervisor) handle(ctx context.Context, req request) response {
	switch req.op {
	case opStart:
		run, err := s.start(ctx, req.ctx, req.job)
		return response{run: run, err: err}
	case opStop:
		return response{err: s.stop(ctx)}
	case opPause, opResume:
		if s.slot == nil {
			return response{err: ErrNoActiveWorker}
		}
		s.slot.paused = req.op == opPause
		slog.InfoContext(ctx, "pause flag changed", "paused", s.slot.paused, "run_id", s.slot.runID)
		return response{}
	case opStatus:
		return response{status: s.status()}
	default:
		return response{err: fmt.Errorf("operation %d not supported", req.op)}
	}
}

// start replaces the active worker, if any, by a new one running job.
// loopCtx bounds the worker lifetime, reqCtx the resolution.
func (s *Supervisor) start(loopCtx, reqCtx context.Context, job model.Job) (Run, error) {
	if s.slot != nil {
		slog.InfoContext(loopCtx, "replacing active worker", "run_id", s.slot.runID, "generation", s.slot.gen)
		if err := s.slot.runner.Kill(); err != nil {
			slog.WarnContext(loopCtx, "killing replaced worker", "run_id", s.slot.runID, "error", err)
		}
		s.stats.Killed++
		s.slot = nil
	}

	resolution, err := s.resolver.Resolve(reqCtx)
	if err != nil {
		return Run{}, err
	}
	payload, err := job.Payload()
	if err != nil {
		return Run{}, err
	}

	s.gen++
	runID := uuid.NewString()
	s.publisher.Advance(s.gen)

	ctx := log.ContextAttrs(loopCtx,
		slog.String("run_id", runID),
		slog.Uint64("generation", s.gen),
	)
	runner := NewRunner()
	proto := Command{
		Path:       resolution.Path,
		Args:       resolution.Argv(payload),
		Generation: s.gen,
		RunID:      runID,
	}
	if err := runner.Start(ctx, proto, s.publisher); err != nil {
		return Run{}, &SpawnError{Path: resolution.Path, Err: err}
	}

	s.stats.Spawned++
	s.runners = slices.DeleteFunc(s.runners, (*Runner).Exited)
	s.runners = append(s.runners, runner)
	s.slot = &slot{
		runner:    runner,
		gen:       s.gen,
		runID:     runID,
		job:       job,
		startedAt: runner.Result().Started,
	}
	run := Run{Generation: s.gen, RunID: runID, PID: runner.PID()}
	slog.InfoContext(ctx, "worker started", "kind", resolution.Kind, "path", resolution.Path, "pid", run.PID)
	return run, nil
}

// stop asks the active worker to exit and releases the slot without waiting.
func (s *Supervisor) stop(ctx context.Context) error {
	if s.slot == nil {
		return ErrNoActiveWorker
	}
	slog.InfoContext(ctx, "stopping worker", "run_id", s.slot.runID, "generation", s.slot.gen)
	if err := s.slot.runner.Terminate(s.killTimeout); err != nil {
		slog.WarnContext(ctx, "terminating worker", "run_id", s.slot.runID, "error", err)
	}
	s.stats.Stopped++
	s.slot = nil
	return nil
}

// release clears the slot of a worker which exited on its own.
func (s *Supervisor) release(ctx context.Context) {
	res := s.slot.runner.Result()
	slog.InfoContext(ctx, "worker exited", "run_id", s.slot.runID, "termination", res.Termination.String())
	s.stats.Exited++
	s.slot = nil
	s.runners = slices.DeleteFunc(s.runners, (*Runner).Exited)
}

func (s *Supervisor) status() Status {
	st := Status{
		Generation: s.gen,
		Stats:      s.stats,
	}
	if s.slot != nil {
		job := s.slot.job
		st.Running = true
		st.Paused = s.slot.paused
		st.RunID = s.slot.runID
		st.PID = s.slot.runner.PID()
		st.Job = &job
		st.StartedAt = s.slot.startedAt
	}
	return st
}

func (s *Supervisor) shutdown(ctx context.Context) {
	for _, r := range s.runners {
		if err := r.Kill(); err != nil {
			slog.WarnContext(ctx, "killing worker on shutdown", "error", err)
		}
	}
	for _, r := range s.runners {
		<-r.Done()
	}
	s.runners = nil
	s.slot = nil
}

func (s *Supervisor) call(ctx context.Context, req request) response {
	req.ctx = ctx
	req.reply = make(chan response, 1)
	select {
	case s.requests <- req:
	case <-ctx.Done():
		return response{err: ctx.Err()}
	case <-s.quit:
		return response{err: ErrSupervisorClosed}
	}
	return <-req.reply
}

// Start runs a worker for job. A running worker is killed first. The
// returned error is a worker resolution error, a job error or a *SpawnError.
func (s *Supervisor) Start(ctx context.Context, job model.Job) (Run, error) {
	resp := s.call(ctx, request{op: opStart, job: job})
	return resp.run, resp.err
}

// Stop asks the running worker to terminate and returns without waiting for
// it. It returns ErrNoActiveWorker if there is none.
func (s *Supervisor) Stop(ctx context.Context) error {
	return s.call(ctx, request{op: opStop}).err
}

// Pause marks the running worker as paused. The worker itself is not
// suspended.
func (s *Supervisor) Pause(ctx context.Context) error {
	return s.call(ctx, request{op: opPause}).err
}

func (s *Supervisor) Resume(ctx context.Context) error {
	return s.call(ctx, request{op: opResume}).err
}

// Status returns a snapshot of the supervisor and a probe of the running
// worker process.
func (s *Supervisor) Status(ctx context.Context) (Status, error) {
	resp := s.call(ctx, request{op: opStatus})
	if resp.err != nil {
		return Status{}, resp.err
	}
	st := resp.status
	if st.PID != 0 {
		info, err := Probe(ctx, st.PID)
		if err != nil {
			slog.DebugContext(ctx, "probing worker", "pid", st.PID, "error", err)
		}
		st.Process = &info
	}
	return st, nil
}

func (s *Supervisor) StartAutomation(ctx context.Context, job model.Job) Outcome {
	_, err := s.Start(ctx, job)
	return outcome(err)
}

func (s *Supervisor) StopAutomation(ctx context.Context) Outcome {
	return outcome(s.Stop(ctx))
}
