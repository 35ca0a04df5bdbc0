package worker

import (
	"github.com/autosender/autosender/internal/model"
)

// LayoutFromConfig builds a Layout for the current platform from the worker
// section of the configuration. A missing base_dir is derived from packaged.
func LayoutFromConfig(cfg *model.Worker) (Layout, error) {
	var l Layout
	l.Platform = CurrentPlatform()
	if cfg != nil {
		l.Packaged = get(cfg.Packaged)
		l.BaseDir = get(cfg.BaseDir)
		l.Executable = get(cfg.Executable)
		l.Script = get(cfg.Script)
		l.Interpreter = get(cfg.Interpreter)
		l.TolerateEmpty = get(cfg.TolerateEmpty)
		l.DryRun = get(cfg.DryRun)
	}
	if l.BaseDir == "" {
		dir, err := DefaultBaseDir(l.Packaged)
		if err != nil {
			return Layout{}, err
		}
		l.BaseDir = dir
	}
	return l, nil
}

func get[T any](pt *T) T {
	var zero T
	if pt == nil {
		return zero
	}
	return *pt
}
