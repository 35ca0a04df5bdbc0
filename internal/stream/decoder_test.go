package stream_test

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/autosender/autosender/internal/model"
	"github.com/autosender/autosender/internal/stream"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		line     string
		then     model.Event
	}{
		{
			scenario: "progress",
			line:     `{"type":"progress","current":5,"message":"sent 5"}`,
			then:     model.Event{Type: model.EventProgress, Current: 5, Message: "sent 5"},
		},
		{
			scenario: "progress float current",
			line:     `{"type":"progress","current":7.0,"message":"x"}`,
			then:     model.Event{Type: model.EventProgress, Current: 7, Message: "x"},
		},
		{
			scenario: "complete",
			line:     "  {\"type\":\"complete\",\"message\":\"done 20/20\"}\r\n",
			then:     model.Event{Type: model.EventComplete, Message: "done 20/20"},
		},
		{
			scenario: "worker error",
			line:     `{"type":"error","message":"missing field interval"}`,
			then:     model.Event{Type: model.EventError, Message: "missing field interval"},
		},
		{
			scenario: "unicode",
			line:     `{"type":"progress","current":1,"message":"🚀 Sent!"}`,
			then:     model.Event{Type: model.EventProgress, Current: 1, Message: "🚀 Sent!"},
		},
		{
			scenario: "not json",
			line:     "  not json at all \n",
			then:     model.Event{Type: model.EventDebug, Message: "not json at all"},
		},
		{
			scenario: "unknown type",
			line:     `{"type":"heartbeat"}`,
			then:     model.Event{Type: model.EventDebug, Message: `{"type":"heartbeat"}`},
		},
		{
			scenario: "no type",
			line:     `{"message":"hi","startTime":"08:00:00"}`,
			then:     model.Event{Type: model.EventDebug, Message: `{"message":"hi","startTime":"08:00:00"}`},
		},
		{
			scenario: "array",
			line:     `[1,2,3]`,
			then:     model.Event{Type: model.EventDebug, Message: `[1,2,3]`},
		},
		{
			scenario: "wrong field type",
			line:     `{"type":"progress","current":"five","message":"x"}`,
			then:     model.Event{Type: model.EventDebug, Message: `{"type":"progress","current":"five","message":"x"}`},
		},
		{
			scenario: "fractional current",
			line:     `{"type":"progress","current":1.5,"message":"x"}`,
			then:     model.Event{Type: model.EventDebug, Message: `{"type":"progress","current":1.5,"message":"x"}`},
		},
		{
			scenario: "truncated",
			line:     `{"type":"progress","curr`,
			then:     model.Event{Type: model.EventDebug, Message: `{"type":"progress","curr`},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			got, ok := stream.Decode([]byte(tc.line))
			require.True(t, ok)
			require.Equal(t, tc.then, got)
		})
	}

	t.Run("blank", func(t *testing.T) {
		_, ok := stream.Decode([]byte(" \t\r\n"))
		require.False(t, ok)
	})
}

func TestLines(t *testing.T) {
	t.Parallel()
	input := strings.Join([]string{
		`{"type":"progress","current":1,"message":"one"}`,
		``,
		`Traceback (most recent call last):`,
		`{"type":"progress","current":2,"message":"two"}`,
		`{"type":"complete","message":"done"}`,
	}, "\n")

	t.Run("in order", func(t *testing.T) {
		var got []model.Event
		err := stream.Lines(strings.NewReader(input), func(ev model.Event) {
			got = append(got, ev)
		})
		require.NoError(t, err)
		require.Equal(t, []model.Event{
			{Type: model.EventProgress, Current: 1, Message: "one"},
			{Type: model.EventDebug, Message: "Traceback (most recent call last):"},
			{Type: model.EventProgress, Current: 2, Message: "two"},
			{Type: model.EventComplete, Message: "done"},
		}, got)
	})

	t.Run("one byte reads", func(t *testing.T) {
		var got []model.Event
		err := stream.Lines(iotest.OneByteReader(strings.NewReader(input)), func(ev model.Event) {
			got = append(got, ev)
		})
		require.NoError(t, err)
		require.Len(t, got, 4)
		require.Equal(t, model.EventComplete, got[3].Type)
	})

	t.Run("long line", func(t *testing.T) {
		long := `{"type":"progress","current":3,"message":"` + strings.Repeat("x", 200*1024) + `"}` + "\n"
		var got []model.Event
		err := stream.Lines(strings.NewReader(long), func(ev model.Event) {
			got = append(got, ev)
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, 3, got[0].Current)
		require.Len(t, got[0].Message, 200*1024)
	})

	t.Run("read error", func(t *testing.T) {
		boom := errors.New("boom")
		r := io.MultiReader(strings.NewReader("not json\n"), iotest.ErrReader(boom))
		var got []model.Event
		err := stream.Lines(r, func(ev model.Event) {
			got = append(got, ev)
		})
		require.ErrorIs(t, err, boom)
		require.Equal(t, []model.Event{{Type: model.EventDebug, Message: "not json"}}, got)
	})
}

func TestChunks(t *testing.T) {
	t.Parallel()
	var got []string
	input := "Traceback\n  File x\n"
	r := iotest.OneByteReader(strings.NewReader(input))
	err := stream.Chunks(r, func(s string) {
		got = append(got, s)
	})
	require.NoError(t, err)
	require.Equal(t, input, strings.Join(got, ""))
	require.Len(t, got, len(input))
}
