// Package session keeps the presentation state of an automation: the running
// and paused flags, the progress counters and a short activity log.
package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/autosender/autosender/internal/model"
)

// MaxEntries is the size of the activity log.
const MaxEntries = 20

type State struct {
	Running      bool   `json:"running"`
	Paused       bool   `json:"paused"`
	CurrentCount int    `json:"currentCount"`
	TotalSent    int    `json:"totalSent"`
	Generation   uint64 `json:"generation"`
}

// Level classifies log entries for presentation.
type Level int

const (
	LevelInfo Level = iota
	LevelProgress
	LevelWarn
	LevelError
	// LevelDebug marks worker output which could not be decoded.
	LevelDebug
)

type Entry struct {
	At    time.Time `json:"at"`
	Level Level     `json:"level"`
	Text  string    `json:"text"`
}

func (e Entry) String() string {
	return "[" + e.At.Format(time.TimeOnly) + "] " + e.Text
}

// Session is safe for concurrent use.
type Session struct {
	mx       sync.Mutex
	state    State
	log      []Entry // newest first
	now      func() time.Time
	listener func(Entry)
}

func New() *Session {
	return &Session{now: time.Now}
}

// WithListener registers fn to be called with every new log entry. fn is
// called with the session locked and must not call back into it.
func (s *Session) WithListener(fn func(Entry)) *Session {
	s.listener = fn
	return s
}

// WithClock replaces the clock used to timestamp log entries.
func (s *Session) WithClock(now func() time.Time) *Session {
	s.now = now
	return s
}

func (s *Session) State() State {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.state
}

// Log returns the activity log, newest entry first.
func (s *Session) Log() []Entry {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]Entry(nil), s.log...)
}

func (s *Session) Clear() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.log = nil
}

func (s *Session) add(level Level, format string, args ...any) {
	e := Entry{At: s.now(), Level: level, Text: fmt.Sprintf(format, args...)}
	if len(s.log) >= MaxEntries {
		s.log = s.log[:MaxEntries-1]
	}
	s.log = append([]Entry{e}, s.log...)
	if s.listener != nil {
		s.listener(e)
	}
}

// Starting marks the session as running before the start request is sent. It
// returns false if the session is already running.
func (s *Session) Starting(job model.Job) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.state.Running {
		return false
	}
	s.state.Running = true
	s.state.Paused = false
	s.state.CurrentCount = 0
	s.add(LevelInfo, "starting automation: %s", job.Summary())
	s.add(LevelWarn, "make sure the target chat input has focus")
	return true
}

// Started records the generation of the started worker.
func (s *Session) Started(gen uint64) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.advance(gen)
	s.add(LevelInfo, "automation engine started")
}

// StartFailed reverts Starting.
func (s *Session) StartFailed(err error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.state.Running = false
	s.state.Paused = false
	s.add(LevelError, "automation failed to start: %v", err)
}

// TogglePause flips the paused flag of a running session and returns it.
func (s *Session) TogglePause() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	if !s.state.Running {
		return false
	}
	s.state.Paused = !s.state.Paused
	if s.state.Paused {
		s.add(LevelWarn, "paused")
	} else {
		s.add(LevelInfo, "resumed")
	}
	return s.state.Paused
}

// Stopping records a stop request and its error, if any.
func (s *Session) Stopping(err error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if err != nil {
		s.add(LevelError, "stopping automation failed: %v", err)
	} else {
		s.add(LevelInfo, "automation engine stopped")
	}
	s.state.Running = false
	s.state.Paused = false
}

func (s *Session) advance(gen uint64) {
	if gen > s.state.Generation {
		s.state.Generation = gen
	}
}

// Apply updates the session by a worker notice. Notices of an older
// generation than the last seen one are ignored. It reports whether the
// notice was applied.
func (s *Session) Apply(n model.Notice) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	if n.Generation < s.state.Generation {
		return false
	}
	s.advance(n.Generation)

	switch n.Kind {
	case model.NoticeUpdate:
		if n.Event == nil {
			return false
		}
		return s.applyEvent(*n.Event)
	case model.NoticeError:
		text := strings.TrimSpace(n.Error)
		if text == "" {
			return false
		}
		s.add(LevelError, "worker error: %s", text)
	case model.NoticeStopped:
		t := model.Termination{}
		if n.Termination != nil {
			t = *n.Termination
		}
		s.add(LevelWarn, "automation stopped with %s", t)
		s.state.Running = false
		s.state.Paused = false
	default:
		return false
	}
	return true
}

func (s *Session) applyEvent(ev model.Event) bool {
	switch ev.Type {
	case model.EventProgress:
		s.state.CurrentCount = ev.Current
		s.state.TotalSent = ev.Current
		s.add(LevelProgress, "%s", ev.Message)
	case model.EventComplete:
		s.add(LevelInfo, "%s", ev.Message)
		s.state.Running = false
		s.state.Paused = false
	case model.EventError:
		s.add(LevelError, "worker error: %s", ev.Message)
	case model.EventDebug:
		if ev.Message == "" {
			return false
		}
		s.add(LevelDebug, "unrecognized worker output: %s", ev.Message)
	default:
		return false
	}
	return true
}
