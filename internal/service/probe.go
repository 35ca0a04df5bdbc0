package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessInfo is an operating system view of a worker process.
type ProcessInfo struct {
	PID       int       `json:"pid"`
	Running   bool      `json:"running"`
	RSS       uint64    `json:"rss,omitempty"`
	VMS       uint64    `json:"vms,omitempty"`
	Threads   int32     `json:"threads,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

// Probe inspects the process pid. A process which does not exist is reported
// as not running without an error.
func Probe(ctx context.Context, pid int) (ProcessInfo, error) {
	info := ProcessInfo{PID: pid}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if errors.Is(err, process.ErrorProcessNotRunning) {
		return info, nil
	}
	if err != nil {
		return info, fmt.Errorf("probing process %d: %w", pid, err)
	}

	info.Running, err = p.IsRunningWithContext(ctx)
	if err != nil || !info.Running {
		return info, err
	}

	var errs []error
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil {
		info.RSS = mem.RSS
		info.VMS = mem.VMS
	} else {
		errs = append(errs, fmt.Errorf("memory: %w", err))
	}
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		info.Threads = n
	} else {
		errs = append(errs, fmt.Errorf("threads: %w", err))
	}
	if ms, err := p.CreateTimeWithContext(ctx); err == nil {
		info.CreatedAt = time.UnixMilli(ms).UTC()
	} else {
		errs = append(errs, fmt.Errorf("create time: %w", err))
	}
	return info, errors.Join(errs...)
}
