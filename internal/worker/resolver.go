// Package worker locates the automation worker for the current platform.
//
// Two artifacts are considered, highest priority first:
//   - a precompiled executable in <base>/resources, started directly
//   - the worker script in <base>/src/automation, started by an interpreter
//
// The executable must exist and must not be empty. An empty executable is a
// packaging defect and fails the resolution with ErrInvalidWorkerArtifact,
// unless Layout.TolerateEmpty is set, in which case the script is tried.
//
// Layout.DryRun replaces both by the autosender binary itself, started with
// the hidden DryRunCommand.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
)

var (
	ErrWorkerNotFound        = errors.New("worker not found")
	ErrInvalidWorkerArtifact = errors.New("invalid worker artifact")
)

type Platform string

const (
	PlatformMacOS   Platform = "macos"
	PlatformWindows Platform = "windows"
	PlatformOther   Platform = "other"
)

// CurrentPlatform returns the platform the binary was built for.
func CurrentPlatform() Platform {
	return currentPlatform()
}

// Kind tells how a resolved artifact is started.
type Kind string

const (
	KindExecutable Kind = "executable" // <path> <payload>
	KindScript     Kind = "script"     // <interpreter> <script> <payload>
	KindDryRun     Kind = "dry-run"    // <autosender> _worker <payload>
)

// DryRunCommand is the autosender subcommand running the dry-run worker.
const DryRunCommand = "_worker"

// Candidate is an artifact which may be used as a worker.
type Candidate struct {
	Kind        Kind
	Path        string
	Interpreter string // KindScript only
}

// Resolution is a validated candidate ready to be started.
type Resolution struct {
	Kind Kind
	Path string   // program to exec
	Args []string // arguments preceding the payload
}

// Argv returns the program arguments for a given payload.
func (r Resolution) Argv(payload string) []string {
	args := make([]string, 0, len(r.Args)+1)
	args = append(args, r.Args...)
	return append(args, payload)
}

// Layout describes where the worker artifacts are. Empty fields are filled by
// platform defaults in Candidates.
type Layout struct {
	Platform      Platform
	Packaged      bool
	BaseDir       string
	Executable    string
	Script        string
	Interpreter   string
	TolerateEmpty bool
	DryRun        bool
	Self          string // autosender binary for DryRun, os.Executable when empty

	// LookPath resolves the interpreter, exec.LookPath when nil.
	LookPath func(file string) (string, error)
}

// DefaultExecutable returns the name of the precompiled worker for a platform.
func DefaultExecutable(p Platform) string {
	switch p {
	case PlatformMacOS:
		return "viber_sender_mac"
	case PlatformWindows:
		return "viber_sender.exe"
	default:
		return "viber_sender"
	}
}

// DefaultInterpreter returns the interpreter used for the scripted fallback.
func DefaultInterpreter(p Platform) string {
	if p == PlatformWindows {
		return "python"
	}
	return "python3"
}

const DefaultScript = "viber_sender.py"

// DefaultBaseDir returns the directory with the worker artifacts. A packaged
// build ships them next to its binary, a development build uses the working
// directory.
func DefaultBaseDir(packaged bool) (string, error) {
	if packaged {
		exe, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("locating own executable: %w", err)
		}
		exe, err = filepath.EvalSymlinks(exe)
		if err != nil {
			return "", fmt.Errorf("locating own executable: %w", err)
		}
		return filepath.Dir(exe), nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	return cwd, nil
}

func (l Layout) withDefaults() Layout {
	if l.Platform == "" {
		l.Platform = CurrentPlatform()
	}
	if l.Executable == "" {
		l.Executable = DefaultExecutable(l.Platform)
	}
	if l.Script == "" {
		l.Script = DefaultScript
	}
	if l.Interpreter == "" {
		l.Interpreter = DefaultInterpreter(l.Platform)
	}
	if l.LookPath == nil {
		l.LookPath = exec.LookPath
	}
	if l.DryRun && l.Self == "" {
		if exe, err := os.Executable(); err == nil {
			l.Self = exe
		}
	}
	return l
}

// Candidates returns the worker artifacts in priority order.
func (l Layout) Candidates() []Candidate {
	l = l.withDefaults()
	if l.DryRun {
		return []Candidate{{Kind: KindDryRun, Path: l.Self}}
	}
	return []Candidate{
		{
			Kind: KindExecutable,
			Path: artifactPath(l.BaseDir, "resources", l.Executable),
		},
		{
			Kind:        KindScript,
			Path:        artifactPath(l.BaseDir, filepath.Join("src", "automation"), l.Script),
			Interpreter: l.Interpreter,
		},
	}
}

// absolute names (set in config) are used as is
func artifactPath(base, dir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(base, dir, name)
}

// Resolve returns the first runnable candidate.
func (l Layout) Resolve(ctx context.Context) (Resolution, error) {
	l = l.withDefaults()
	var reasons []error
	for _, c := range l.Candidates() {
		res, err := l.validate(c)
		if err == nil {
			slog.DebugContext(ctx, "worker resolved", "kind", res.Kind, "path", res.Path, "args", res.Args)
			return res, nil
		}
		if errors.Is(err, ErrInvalidWorkerArtifact) {
			if !l.TolerateEmpty {
				return Resolution{}, err
			}
			slog.WarnContext(ctx, "invalid worker artifact: trying fallback", "path", c.Path, "error", err)
		} else {
			slog.DebugContext(ctx, "worker candidate rejected", "kind", c.Kind, "path", c.Path, "error", err)
		}
		reasons = append(reasons, err)
	}
	return Resolution{}, fmt.Errorf("%w on %s: %w", ErrWorkerNotFound, l.Platform, errors.Join(reasons...))
}

func (l Layout) validate(c Candidate) (Resolution, error) {
	info, err := os.Stat(c.Path)
	if err != nil {
		return Resolution{}, fmt.Errorf("%s %s: %w", c.Kind, c.Path, err)
	}
	if !info.Mode().IsRegular() {
		return Resolution{}, fmt.Errorf("%s %s: not a regular file", c.Kind, c.Path)
	}

	switch c.Kind {
	case KindExecutable:
		if info.Size() == 0 {
			return Resolution{}, fmt.Errorf("%w: executable %s is empty (0 bytes), rebuild the worker", ErrInvalidWorkerArtifact, c.Path)
		}
		return Resolution{Kind: KindExecutable, Path: c.Path}, nil
	case KindScript:
		interpreter, err := l.LookPath(c.Interpreter)
		if err != nil {
			return Resolution{}, fmt.Errorf("script %s: interpreter: %w", c.Path, err)
		}
		return Resolution{Kind: KindScript, Path: interpreter, Args: []string{c.Path}}, nil
	case KindDryRun:
		return Resolution{Kind: KindDryRun, Path: c.Path, Args: []string{DryRunCommand}}, nil
	default:
		return Resolution{}, fmt.Errorf("unsupported candidate kind %q", c.Kind)
	}
}
