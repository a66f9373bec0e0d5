// Package runner executes the external tools the pipeline shells out to
// (dcm2niix, heudiconv, FSL utilities, docker). The Executor interface
// abstracts command execution for testability; the default implementation
// streams combined output to a per-step log file while capturing it for
// callers that inspect tool output.
package runner
