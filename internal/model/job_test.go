package model_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/autosender/autosender/internal/model"
	"github.com/stretchr/testify/require"
)

func TestNewJob(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		job      model.Job
		wantErr  bool
	}{
		{"valid", model.Job{Message: "hi", StartTime: "08:59:55", RepeatCount: 20, Interval: 1}, false},
		{"midnight", model.Job{Message: "hi", StartTime: "00:00:00", RepeatCount: 1, Interval: 0.05}, false},
		{"empty message", model.Job{Message: "  ", StartTime: "08:59:55", RepeatCount: 1, Interval: 1}, true},
		{"short time", model.Job{Message: "hi", StartTime: "8:59:55", RepeatCount: 1, Interval: 1}, true},
		{"hour 24", model.Job{Message: "hi", StartTime: "24:00:00", RepeatCount: 1, Interval: 1}, true},
		{"zero repeat", model.Job{Message: "hi", StartTime: "08:59:55", RepeatCount: 0, Interval: 1}, true},
		{"negative interval", model.Job{Message: "hi", StartTime: "08:59:55", RepeatCount: 1, Interval: -1}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			j := tc.job
			got, err := model.NewJob(j.Message, j.StartTime, j.RepeatCount, j.Interval, j.UseClipboard)
			if tc.wantErr {
				require.ErrorIs(t, err, model.ErrInvalidJob)
				return
			}
			require.NoError(t, err)
			require.Equal(t, j, got)
		})
	}
}

func TestJobPayload(t *testing.T) {
	t.Parallel()
	job, err := model.NewJob("hello", "08:59:55", 20, 1.5, true)
	require.NoError(t, err)

	payload, err := job.Payload()
	require.NoError(t, err)
	require.JSONEq(t,
		`{"message":"hello","startTime":"08:59:55","repeatCount":20,"interval":1.5,"useClipboard":true}`,
		payload)

	parsed, err := model.ParseJob(payload)
	require.NoError(t, err)
	require.Equal(t, job, parsed)
}

func TestParseJob(t *testing.T) {
	t.Parallel()

	t.Run("clipboard defaults to true", func(t *testing.T) {
		job, err := model.ParseJob(`{"message":"m","startTime":"10:00:00","repeatCount":1,"interval":1}`)
		require.NoError(t, err)
		require.True(t, job.UseClipboard)
	})

	t.Run("missing field", func(t *testing.T) {
		_, err := model.ParseJob(`{"message":"m","startTime":"10:00:00","interval":1}`)
		var missing model.MissingFieldError
		require.ErrorAs(t, err, &missing)
		require.Equal(t, "repeatCount", missing.Field)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := model.ParseJob(`{"message":`)
		var syntaxErr *json.SyntaxError
		require.ErrorAs(t, err, &syntaxErr)
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := model.ParseJob(`{"message":"m","startTime":"10:00","repeatCount":1,"interval":1}`)
		require.ErrorIs(t, err, model.ErrInvalidJob)
	})
}

func TestJobStartAt(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("test", 7*3600)
	now := time.Date(2026, 10, 18, 13, 14, 15, 500, loc)
	job := model.Job{StartTime: "08:59:55"}
	at, err := job.StartAt(now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 10, 18, 8, 59, 55, 0, loc), at)

	require.Equal(t, 1500*time.Millisecond, model.Job{Interval: 1.5}.IntervalDuration())
}

func TestTerminationString(t *testing.T) {
	t.Parallel()
	code := 3
	require.Equal(t, "code 3", model.Termination{Code: &code}.String())
	require.Equal(t, "signal killed", model.Termination{Signal: "killed"}.String())
	require.Equal(t, "unknown", model.Termination{}.String())
}
