// Package runner executes test files in isolated host application processes.
//
// The main components are:
//   - Engine: dispatches test files to a bounded worker pool and classifies each outcome
//   - HostCommand: builds the subprocess for one file; NeovimCommand is the production host
//   - ProgressObserver: receives start/finish notifications as workers progress
//
// Each test file runs in its own process group with a per-file timeout. A crash,
// hang or launch failure is recorded as that file's result and never aborts the
// files running next to it.
package runner
