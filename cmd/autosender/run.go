package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/autosender/autosender/internal/bridge"
	"github.com/autosender/autosender/internal/console"
	"github.com/autosender/autosender/internal/log"
	"github.com/autosender/autosender/internal/model"
	"github.com/autosender/autosender/internal/service"
	"github.com/autosender/autosender/internal/session"
)

// runViper holds the job overrides of the run command: flags and
// AUTOSENDER_JOB_* environment variables.
var runViper = viper.New()

const (
	keyMessage      = "job.message"
	keyStartTime    = "job.start_time"
	keyRepeatCount  = "job.repeat_count"
	keyInterval     = "job.interval"
	keyUseClipboard = "job.use_clipboard"
)

var (
	flagStatusEvery     time.Duration
	flagShutdownTimeout time.Duration
	flagDryRun          bool
)

// addRunFlags registers the run flags in flags and binds the job overrides
// to v.
func addRunFlags(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("message", "", "message to send, overrides job.message")
	flags.String("start-time", "", "start time HH:MM:SS, overrides job.start_time")
	flags.Int("repeat-count", 0, "number of messages, overrides job.repeat_count")
	flags.Float64("interval", 0, "seconds between messages, overrides job.interval")
	flags.Bool("use-clipboard", true, "paste instead of typing, overrides job.use_clipboard")
	flags.DurationVar(&flagStatusEvery, "status-every", 0, "print the worker status periodically, 0 disables")
	flags.DurationVar(&flagShutdownTimeout, "shutdown-timeout", 10*time.Second, "how long to wait for the worker after an interrupt")
	flags.BoolVar(&flagDryRun, "dry-run", false, "run the bundled dry-run worker instead of the platform one, sets worker.dry_run")

	for key, flag := range map[string]string{
		keyMessage:      "message",
		keyStartTime:    "start-time",
		keyRepeatCount:  "repeat-count",
		keyInterval:     "interval",
		keyUseClipboard: "use-clipboard",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}
	v.SetEnvPrefix("AUTOSENDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// jobSettings applies the overrides set in v on top of s.
func jobSettings(v *viper.Viper, s model.JobSettings) model.JobSettings {
	if v.IsSet(keyMessage) {
		s.Message = v.GetString(keyMessage)
	}
	if v.IsSet(keyStartTime) {
		s.StartTime = v.GetString(keyStartTime)
	}
	if v.IsSet(keyRepeatCount) {
		s.RepeatCount = v.GetInt(keyRepeatCount)
	}
	if v.IsSet(keyInterval) {
		s.Interval = v.GetFloat64(keyInterval)
	}
	if v.IsSet(keyUseClipboard) {
		b := v.GetBool(keyUseClipboard)
		s.UseClipboard = &b
	}
	return s
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	attrs := slog.Group("autosender",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	job, err := jobSettings(runViper, config.Job).Build()
	if err != nil {
		return fmt.Errorf("job configuration: %w", err)
	}

	if flagDryRun {
		if config.Worker == nil {
			config.Worker = &model.Worker{}
		}
		config.Worker.DryRun = &flagDryRun
	}

	b := bridge.New()
	defer b.Close()
	sub := b.Subscribe()
	defer sub.Close()

	supervisor, err := service.SupervisorFromConfig(config, b)
	if err != nil {
		return err
	}

	con := console.New(cmd.OutOrStdout())
	sess := session.New().WithListener(con.Entry)

	loopCtx, cancelLoop := context.WithCancel(ctx)
	var g errgroup.Group
	g.Go(func() error {
		return supervisor.Do(loopCtx)
	})
	defer func() {
		cancelLoop()
		if err := g.Wait(); err != nil {
			slog.ErrorContext(ctx, "supervisor failed", "error", err)
		}
	}()

	sess.Starting(job)
	run, err := supervisor.Start(ctx, job)
	if err != nil {
		sess.StartFailed(err)
		return err
	}
	sess.Started(run.Generation)
	slog.DebugContext(ctx, "automation started", "run_id", run.RunID, "generation", run.Generation, "pid", run.PID)

	return follow(ctx, supervisor, sub, sess, con, job, run)
}

// follow renders notices of run until its worker stops.
func follow(ctx context.Context, supervisor *service.Supervisor, sub *bridge.Subscription, sess *session.Session, con *console.Console, job model.Job, run service.Run) error {
	stopSig := make(chan os.Signal, 1)
	signal.Notify(stopSig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stopSig)
	pauseSig := make(chan os.Signal, 1)
	if sigs := pauseSignals(); len(sigs) > 0 {
		signal.Notify(pauseSig, sigs...)
		defer signal.Stop(pauseSig)
	}

	var status <-chan time.Time
	if flagStatusEvery > 0 {
		ticker := time.NewTicker(flagStatusEvery)
		defer ticker.Stop()
		status = ticker.C
	}

	var (
		stopping bool
		deadline <-chan time.Time
	)
	for {
		select {
		case n, ok := <-sub.C:
			if !ok {
				return nil
			}
			sess.Apply(n)
			if n.Kind != model.NoticeStopped || n.Generation != run.Generation {
				continue
			}
			con.Print(sess.State(), job, nil)
			t := n.Termination
			if stopping || t == nil || (t.Code != nil && *t.Code == 0) {
				return nil
			}
			return fmt.Errorf("worker exited with %s", t)
		case <-status:
			st, err := supervisor.Status(ctx)
			if err != nil {
				slog.WarnContext(ctx, "status", "error", err)
				continue
			}
			slog.InfoContext(ctx, "status", "status", st)
			con.Print(sess.State(), job, &st)
		case <-pauseSig:
			if sess.TogglePause() {
				err := supervisor.Pause(ctx)
				if err != nil {
					slog.WarnContext(ctx, "pause", "error", err)
				}
			} else if err := supervisor.Resume(ctx); err != nil {
				slog.WarnContext(ctx, "resume", "error", err)
			}
		case sig := <-stopSig:
			if stopping {
				return fmt.Errorf("interrupted twice")
			}
			slog.InfoContext(ctx, "stopping on signal", "signal", sig.String())
			stopping = true
			err := supervisor.Stop(ctx)
			sess.Stopping(err)
			if errors.Is(err, service.ErrNoActiveWorker) {
				return nil
			}
			deadline = time.After(flagShutdownTimeout)
		case <-deadline:
			return fmt.Errorf("worker did not stop within %s", flagShutdownTimeout)
		}
	}
}
