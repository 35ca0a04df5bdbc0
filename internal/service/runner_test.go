package service_test

import (
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/autosender/autosender/internal/model"
	"github.com/autosender/autosender/internal/service"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mx      sync.Mutex
	notices []model.Notice
}

func (r *recorder) Advance(uint64) {}

func (r *recorder) Publish(n model.Notice) bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.notices = append(r.notices, n)
	return true
}

func (r *recorder) Notices() []model.Notice {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]model.Notice(nil), r.notices...)
}

func lookSh(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	return sh
}

func waitDone(t *testing.T, r *service.Runner) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not exit")
	}
}

func TestRunner(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)

	script := `printf '{"type":"progress","current":1,"message":"1/2 ok"}\n'
printf 'garbage\n'
printf 'oops\n' 1>&2
printf '{"type":"complete","message":"result: 2/2"}'
exit 3`

	runner := service.NewRunner()
	t.Run("not yet started", func(t *testing.T) {
		res := runner.Result()
		require.ErrorIs(t, res.Err, service.ErrWorkerNotStarted)
		require.Zero(t, runner.PID())
		require.ErrorIs(t, runner.Kill(), service.ErrWorkerNotStarted)
	})

	var rec recorder
	cmd := service.Command{
		Path:       sh,
		Args:       []string{"-c", script, "worker"},
		Generation: 4,
		RunID:      "run-4",
	}
	ctx := t.Context()

	t.Run("start", func(t *testing.T) {
		err := runner.Start(ctx, cmd, &rec)
		require.NoError(t, err)
		require.NotZero(t, runner.PID())
	})
	t.Run("in progress", func(t *testing.T) {
		err := runner.Start(ctx, cmd, &rec)
		require.ErrorIs(t, err, service.ErrWorkerInProgress)
	})
	t.Run("wait", func(t *testing.T) {
		waitDone(t, runner)
		require.True(t, runner.Exited())

		res := runner.Result()
		require.Equal(t, sh, res.Path)
		require.NotZero(t, res.Started)
		require.NotZero(t, res.Stopped)
		require.Error(t, res.Err)
		var exitErr *exec.ExitError
		require.ErrorAs(t, res.Err, &exitErr)
		require.NotNil(t, res.Termination.Code)
		require.Equal(t, 3, *res.Termination.Code)

		notices := rec.Notices()
		require.NotEmpty(t, notices)
		var (
			events []model.Event
			stderr strings.Builder
		)
		for _, n := range notices[:len(notices)-1] {
			require.Equal(t, uint64(4), n.Generation)
			require.Equal(t, "run-4", n.RunID)
			require.NotZero(t, n.At)
			switch n.Kind {
			case model.NoticeUpdate:
				events = append(events, *n.Event)
			case model.NoticeError:
				stderr.WriteString(n.Error)
			default:
				t.Fatalf("unexpected notice %+v", n)
			}
		}
		require.Equal(t, []model.Event{
			{Type: model.EventProgress, Current: 1, Message: "1/2 ok"},
			{Type: model.EventDebug, Message: "garbage"},
			{Type: model.EventComplete, Message: "result: 2/2"},
		}, events)
		require.Equal(t, "oops\n", stderr.String())

		last := notices[len(notices)-1]
		require.Equal(t, model.NoticeStopped, last.Kind)
		require.Equal(t, uint64(4), last.Generation)
		require.Equal(t, "code 3", last.Termination.String())
	})
	t.Run("exec error", func(t *testing.T) {
		noCmd := service.Command{
			Path: "does not exist",
		}
		err := service.NewRunner().Start(ctx, noCmd, &rec)
		require.Error(t, err)
		var execErr *exec.Error
		require.ErrorAs(t, err, &execErr)
		require.Equal(t, noCmd.Path, execErr.Name)
	})
}

func TestRunnerTerminate(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)
	if runtime.GOOS == "windows" {
		t.Skip("skipped, no termination signal on windows")
	}

	t.Run("terminate", func(t *testing.T) {
		var rec recorder
		runner := service.NewRunner()
		err := runner.Start(t.Context(), service.Command{
			Path: sh,
			Args: []string{"-c", "exec sleep 30"},
		}, &rec)
		require.NoError(t, err)
		require.NoError(t, runner.Terminate(0))
		waitDone(t, runner)
		require.Equal(t, "SIGTERM", runner.Result().Termination.Signal)
		require.Nil(t, runner.Result().Termination.Code)
		require.NoError(t, runner.Terminate(0))
	})

	t.Run("escalation", func(t *testing.T) {
		var rec recorder
		runner := service.NewRunner()
		err := runner.Start(t.Context(), service.Command{
			Path: sh,
			Args: []string{"-c", `trap '' TERM; printf 'ready\n'; while :; do sleep 0.05; done`},
		}, &rec)
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			return len(rec.Notices()) > 0
		}, 5*time.Second, 10*time.Millisecond)

		require.NoError(t, runner.Terminate(100*time.Millisecond))
		waitDone(t, runner)
		require.Equal(t, "SIGKILL", runner.Result().Termination.Signal)

		notices := rec.Notices()
		last := notices[len(notices)-1]
		require.Equal(t, model.NoticeStopped, last.Kind)
		require.Equal(t, "signal SIGKILL", last.Termination.String())
	})
}
