package model

import (
	"strconv"
	"time"
)

// EventType names a variant of a worker Event.
type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
	// EventDebug carries a stdout line which could not be decoded.
	EventDebug EventType = "debug"
)

// Event is a decoded unit of worker output.
type Event struct {
	Type    EventType `json:"type"`
	Current int       `json:"current,omitempty"` // progress only
	Message string    `json:"message"`
}

// NoticeKind is the kind of a notification crossing the bridge.
type NoticeKind string

const (
	NoticeUpdate  NoticeKind = "automation-update"
	NoticeError   NoticeKind = "automation-error"
	NoticeStopped NoticeKind = "automation-stopped"
)

// Termination is the exit notification of a worker instance. Code is nil when
// the process did not exit normally (killed by a signal).
type Termination struct {
	Code   *int   `json:"code"`
	Signal string `json:"signal,omitempty"`
	Err    string `json:"error,omitempty"`
}

func (t Termination) String() string {
	switch {
	case t.Code != nil:
		return "code " + strconv.Itoa(*t.Code)
	case t.Signal != "":
		return "signal " + t.Signal
	case t.Err != "":
		return t.Err
	default:
		return "unknown"
	}
}

// Notice is one notification from a worker instance, scoped by its Generation.
type Notice struct {
	Kind        NoticeKind   `json:"kind"`
	Generation  uint64       `json:"generation"`
	RunID       string       `json:"run_id"`
	At          time.Time    `json:"at"`
	Event       *Event       `json:"event,omitempty"`
	Error       string       `json:"error,omitempty"`
	Termination *Termination `json:"termination,omitempty"`
}
