// Package service supervises the automation worker process.
//
// Overview
// The Supervisor owns an event loop (Do) and a single slot for the active
// worker. Start, Stop, Pause, Resume and Status are requests served by the
// loop, so at most one worker is ever owned by the supervisor.
//
// Runner is a thin wrapper around os/exec:
//   - starts the process with the job payload as its last argument
//   - keeps stdin open
//   - decodes stdout into update notices
//   - forwards stderr chunks as error notices
//   - publishes the stopped notice after both streams are drained
//
// Data flow:
//
//	Supervisor              Runner{cmd}                 Publisher
//	    |                       |                           |
//	Start() -- kill old ------->| Kill()                    |
//	    | -- Advance(gen) ---------------------------------->|
//	    | -- Start(cmd) ------->| os/exec.Start             |
//	    |                       | stdout/stderr pumps ----->| update, error
//	    |                       | Wait()                    |
//	    |                       | ------------------------->| stopped
//	    |<------ Done() --------|                           |
//
// Invariants:
//   - At most one active worker. Start kills the active worker before the
//     new one is resolved.
//   - Every worker instance has its own generation and run id. Notices of a
//     replaced worker carry the old generation.
//   - Each started worker publishes exactly one stopped notice, after all of
//     its output.
//   - Stop does not wait for the worker to exit. The worker is killed if it
//     does not exit within the kill timeout.
//   - Pause and Resume only change a flag.
package service
