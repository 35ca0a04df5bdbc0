// Package stream decodes the standard streams of a worker.
//
// Standard output carries one JSON object per line. Lines which are not a known
// event are never dropped: they become debug events with the raw trimmed text.
// Standard error is opaque and forwarded chunk by chunk.
package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"

	"github.com/autosender/autosender/internal/model"
)

// record mirrors the worker line format. Current is a json.Number so 5 and 5.0
// are both accepted.
type record struct {
	Type    model.EventType `json:"type"`
	Current json.Number     `json:"current"`
	Message string          `json:"message"`
}

// Decode decodes a single stdout line. It returns false for blank lines.
func Decode(line []byte) (model.Event, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return model.Event{}, false
	}
	ev, err := decodeRecord(line)
	if err != nil {
		return model.Event{Type: model.EventDebug, Message: string(line)}, true
	}
	return ev, true
}

var errUnknownRecord = errors.New("unknown record")

func decodeRecord(line []byte) (model.Event, error) {
	if line[0] != '{' {
		return model.Event{}, errUnknownRecord
	}
	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return model.Event{}, err
	}

	switch rec.Type {
	case model.EventProgress:
		current, err := integer(rec.Current)
		if err != nil {
			return model.Event{}, err
		}
		return model.Event{Type: model.EventProgress, Current: current, Message: rec.Message}, nil
	case model.EventComplete, model.EventError, model.EventDebug:
		return model.Event{Type: rec.Type, Message: rec.Message}, nil
	default:
		return model.Event{}, errUnknownRecord
	}
}

func integer(n json.Number) (int, error) {
	if n == "" {
		return 0, nil
	}
	if i, err := n.Int64(); err == nil {
		return int(i), nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, errUnknownRecord
	}
	return int(f), nil
}

// Lines reads newline delimited records from r until EOF and calls fn for each
// decoded event, in order. A trailing record without a newline is decoded as
// well. The returned error is nil on EOF.
func Lines(r io.Reader, fn func(model.Event)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			if ev, ok := Decode(line); ok {
				fn(ev)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Chunks calls fn with every chunk read from r, verbatim. The returned error is
// nil on EOF.
func Chunks(r io.Reader, fn func(string)) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			fn(string(buf[:n]))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
