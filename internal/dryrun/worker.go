// Package dryrun is a worker which follows the worker protocol without
// touching the desktop: it waits for the start time, then hands every message
// to a Sender in the configured interval.
package dryrun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/autosender/autosender/internal/model"
)

var ErrUsage = errors.New("expected exactly one argument: the job as JSON")

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, n int, job model.Job) error
}

// LogSender logs what would be sent at debug level. The worker's stderr is
// read as errors, so nothing is logged unless verbose.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(ctx context.Context, n int, job model.Job) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mode := "type"
	if job.UseClipboard {
		mode = "paste"
	}
	logger.DebugContext(ctx, "dry run send", "n", n, "of", job.RepeatCount, "mode", mode, "message", job.Message)
	return nil
}

type Worker struct {
	mx     sync.Mutex
	enc    *json.Encoder
	sender Sender
}

func New(w io.Writer, sender Sender) *Worker {
	return &Worker{
		enc:    json.NewEncoder(w),
		sender: sender,
	}
}

func (w *Worker) emit(ev model.Event) {
	w.mx.Lock()
	defer w.mx.Unlock()
	if err := w.enc.Encode(ev); err != nil {
		slog.Error("writing event", "error", err)
	}
}

func (w *Worker) progress(current int, format string, args ...any) {
	w.emit(model.Event{Type: model.EventProgress, Current: current, Message: fmt.Sprintf(format, args...)})
}

func (w *Worker) fail(format string, args ...any) {
	w.emit(model.Event{Type: model.EventError, Message: fmt.Sprintf(format, args...)})
}

// Main runs the worker with its command line arguments. Argument errors are
// reported as error events and returned.
func (w *Worker) Main(ctx context.Context, args []string) error {
	if len(args) != 1 {
		w.fail("%v", ErrUsage)
		return ErrUsage
	}
	raw := args[0]
	if r := []rune(raw); len(r) > 100 {
		raw = string(r[:100]) + "..."
	}
	w.progress(0, "received configuration: %s", raw)

	job, err := model.ParseJob(args[0])
	if err != nil {
		w.fail("invalid configuration: %v", err)
		return err
	}
	w.progress(0, "configuration valid: %s", job.Summary())
	return w.Run(ctx, job)
}

// Run sends the messages of job. It returns ctx.Err() when cancelled before
// all messages were sent.
func (w *Worker) Run(ctx context.Context, job model.Job) error {
	startAt := gocron.WithStartImmediately()
	now := time.Now()
	at, err := job.StartAt(now)
	if err != nil {
		w.fail("%v", err)
		return err
	}
	// a start time in the past of today means now
	if at.After(now.Add(100 * time.Millisecond)) {
		w.progress(0, "waiting until %s (%s)", job.StartTime, at.Sub(now).Round(time.Second))
		startAt = gocron.WithStartDateTime(at)
	} else {
		w.progress(0, "start time %s reached", job.StartTime)
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	shutdown := func() {
		if err := s.Shutdown(); err != nil {
			slog.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
		}
	}

	var sent, ok atomic.Int64
	done := make(chan struct{})
	task := func() {
		n := int(sent.Add(1))
		if err := w.sender.Send(ctx, n, job); err != nil {
			w.progress(n, "message %d/%d failed: %v", n, job.RepeatCount, err)
		} else {
			ok.Add(1)
		}
		w.progress(n, "%d/%d ok", ok.Load(), n)
		if n == job.RepeatCount {
			close(done)
		}
	}

	_, err = s.NewJob(
		gocron.DurationJob(job.IntervalDuration()),
		gocron.NewTask(task),
		gocron.WithStartAt(startAt),
		gocron.WithLimitedRuns(uint(job.RepeatCount)),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		shutdown()
		return fmt.Errorf("initializing gocron job: %w", err)
	}
	s.Start()

	select {
	case <-ctx.Done():
		// waits for a running send
		shutdown()
		w.progress(int(sent.Load()), "stopped after %d/%d", sent.Load(), job.RepeatCount)
		return ctx.Err()
	case <-done:
	}
	shutdown()
	w.emit(model.Event{
		Type:    model.EventComplete,
		Message: fmt.Sprintf("result: %d/%d sent", ok.Load(), job.RepeatCount),
	})
	return nil
}
