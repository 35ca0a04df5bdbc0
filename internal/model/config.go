package model

import (
	"fmt"
	"io"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"

	DefaultKillTimeout = 5 * time.Second
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version int         `json:"version" yaml:"version"` // fixed 0 for now
	Service Service     `json:"service" yaml:"service"`
	Worker  *Worker     `json:"worker,omitempty" yaml:"worker,omitempty"`
	Job     JobSettings `json:"job" yaml:"job"`
}

type Service struct {
	Verbose *bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	Log     *string `json:"log,omitempty" yaml:"log,omitempty"` // "stderr"|"stdout"|"discard"|path
}

// Worker describes where the worker artifacts live and how to treat them.
// Unset fields use the platform defaults.
type Worker struct {
	BaseDir       *string `json:"base_dir,omitempty" yaml:"base_dir,omitempty"`
	Packaged      *bool   `json:"packaged,omitempty" yaml:"packaged,omitempty"`
	Executable    *string `json:"executable,omitempty" yaml:"executable,omitempty"`
	Script        *string `json:"script,omitempty" yaml:"script,omitempty"`
	Interpreter   *string `json:"interpreter,omitempty" yaml:"interpreter,omitempty"`
	TolerateEmpty *bool   `json:"tolerate_empty,omitempty" yaml:"tolerate_empty,omitempty"`
	KillTimeout   *string `json:"kill_timeout,omitempty" yaml:"kill_timeout,omitempty"` // Go duration, "0s" disables escalation
	DryRun        *bool   `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
}

// JobSettings is the user editable form of a Job.
type JobSettings struct {
	Message      string  `json:"message" yaml:"message"`
	StartTime    string  `json:"start_time" yaml:"start_time"`
	RepeatCount  int     `json:"repeat_count" yaml:"repeat_count"`
	Interval     float64 `json:"interval" yaml:"interval"`
	UseClipboard *bool   `json:"use_clipboard,omitempty" yaml:"use_clipboard,omitempty"`
}

// Build assembles a validated Job from the settings.
func (s JobSettings) Build() (Job, error) {
	return NewJob(s.Message, s.StartTime, s.RepeatCount, s.Interval, get(s.UseClipboard, true))
}

// KillTimeout returns the configured escalation timeout.
func (c Config) KillTimeout() (time.Duration, error) {
	if c.Worker == nil || c.Worker.KillTimeout == nil {
		return DefaultKillTimeout, nil
	}
	d, err := time.ParseDuration(*c.Worker.KillTimeout)
	if err != nil {
		return 0, fmt.Errorf("parsing worker.kill_timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("worker.kill_timeout must not be negative, got %s", d)
	}
	return d, nil
}

// DefaultConfig is stored when no configuration file exists.
func DefaultConfig() Config {
	verbose := false
	log := LogStderr
	clipboard := true
	return Config{
		Version: 0,
		Service: Service{
			Verbose: &verbose,
			Log:     &log,
		},
		Job: JobSettings{
			Message:      "Lorem ipsum dolor sit amet, consectetur adipiscing elit.",
			StartTime:    "08:59:55",
			RepeatCount:  20,
			Interval:     1.0,
			UseClipboard: &clipboard,
		},
	}
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (*Config, error) {
	yamlFile, err := yaml.Extract("autosender.yaml", r)
	if err != nil {
		return nil, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return nil, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return nil, err
	}

	return &out, nil
}

func get[T any](pt *T, dflt T) T {
	if pt == nil {
		return dflt
	}
	return *pt
}
