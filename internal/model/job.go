package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

// ErrInvalidJob is returned for every job which fails the validation.
var ErrInvalidJob = errors.New("invalid job")

const startTimeLayout = "15:04:05"

var startTimeRx = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]:[0-5][0-9]$`)

// Job is the configuration handed over to a worker at spawn time. It is a value
// type, the worker gets its own serialized copy.
type Job struct {
	Message      string  `json:"message"`
	StartTime    string  `json:"startTime"` // HH:MM:SS
	RepeatCount  int     `json:"repeatCount"`
	Interval     float64 `json:"interval"` // seconds
	UseClipboard bool    `json:"useClipboard"`
}

// NewJob returns a validated Job.
func NewJob(message, startTime string, repeatCount int, interval float64, useClipboard bool) (Job, error) {
	j := Job{
		Message:      message,
		StartTime:    startTime,
		RepeatCount:  repeatCount,
		Interval:     interval,
		UseClipboard: useClipboard,
	}
	if err := j.Validate(); err != nil {
		return Job{}, err
	}
	return j, nil
}

func (j Job) Validate() error {
	var errs []error
	if strings.TrimSpace(j.Message) == "" {
		errs = append(errs, errors.New("message is empty"))
	}
	if !startTimeRx.MatchString(j.StartTime) {
		errs = append(errs, fmt.Errorf("start time %q is not in HH:MM:SS format", j.StartTime))
	}
	if j.RepeatCount <= 0 {
		errs = append(errs, fmt.Errorf("repeat count must be positive, got %d", j.RepeatCount))
	}
	if j.Interval <= 0 || math.IsNaN(j.Interval) || math.IsInf(j.Interval, 0) {
		errs = append(errs, fmt.Errorf("interval must be a positive number of seconds, got %v", j.Interval))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidJob, errors.Join(errs...))
}

// Payload serializes the job into the single command line argument of a worker.
func (j Job) Payload() (string, error) {
	if err := j.Validate(); err != nil {
		return "", err
	}
	b, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("serializing job: %w", err)
	}
	return string(b), nil
}

// IntervalDuration returns Interval as a time.Duration.
func (j Job) IntervalDuration() time.Duration {
	return time.Duration(j.Interval * float64(time.Second))
}

// StartAt returns the StartTime on the day of now, in now's location.
func (j Job) StartAt(now time.Time) (time.Time, error) {
	t, err := time.ParseInLocation(startTimeLayout, j.StartTime, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing start time %q: %w", j.StartTime, err)
	}
	y, m, d := now.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), 0, now.Location()), nil
}

// MissingFieldError is reported by ParseJob when a required field is absent.
type MissingFieldError struct {
	Field string
}

func (e MissingFieldError) Error() string {
	return "missing field " + e.Field + " in job configuration"
}

var requiredJobFields = []string{"message", "startTime", "repeatCount", "interval"}

// ParseJob decodes a job from the worker command line argument. useClipboard
// defaults to true when absent.
func ParseJob(raw string) (Job, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return Job{}, fmt.Errorf("decoding job: %w", err)
	}
	for _, f := range requiredJobFields {
		if _, ok := fields[f]; !ok {
			return Job{}, MissingFieldError{Field: f}
		}
	}

	j := Job{UseClipboard: true}
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return Job{}, fmt.Errorf("decoding job: %w", err)
	}
	if err := j.Validate(); err != nil {
		return Job{}, err
	}
	return j, nil
}

// Summary is a short human readable description used in log lines.
func (j Job) Summary() string {
	msg := j.Message
	if r := []rune(msg); len(r) > 50 {
		msg = string(r[:50]) + "..."
	}
	mode := "typing"
	if j.UseClipboard {
		mode = "clipboard"
	}
	return fmt.Sprintf("%q at %s, %d times every %gs (%s)", msg, j.StartTime, j.RepeatCount, j.Interval, mode)
}
