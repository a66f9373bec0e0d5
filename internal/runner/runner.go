package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Options tunes a single command invocation.
type Options struct {
	// Dir is the working directory; empty means the caller's.
	Dir string
	// LogPath, when set, receives the combined stdout and stderr of the
	// command, appended so repeated invocations of a step share one log.
	LogPath string
	// Env entries are appended to the current environment.
	Env []string
}

// Result reports how a command finished.
type Result struct {
	// ExitCode is the command's exit status. Zero on success, -1 when the
	// command never ran.
	ExitCode int
	// Output is the combined stdout and stderr.
	Output string
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, opts Options) (Result, error)
}

// Func adapts a plain function to the Executor interface.
type Func func(ctx context.Context, binary string, args []string, opts Options) (Result, error)

// Run implements Executor.
func (f Func) Run(ctx context.Context, binary string, args []string, opts Options) (Result, error) {
	return f(ctx, binary, args, opts)
}

// New returns the real executor.
func New() Executor {
	return commandExecutor{}
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, opts Options) (Result, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return Result{ExitCode: -1}, errors.New("runner: binary required")
	}

	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	var capture bytes.Buffer
	sink := io.Writer(&capture)
	var logFile *os.File
	if opts.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.LogPath), 0o755); err != nil {
			return Result{ExitCode: -1}, fmt.Errorf("runner: create log dir: %w", err)
		}
		f, err := os.OpenFile(opts.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return Result{ExitCode: -1}, fmt.Errorf("runner: open log: %w", err)
		}
		logFile = f
		fmt.Fprintf(f, "$ %s %s\n", binary, strings.Join(args, " "))
		sink = io.MultiWriter(&capture, f)
	}
	cmd.Stdout = sink
	cmd.Stderr = sink

	runErr := cmd.Run()
	if logFile != nil {
		if closeErr := logFile.Close(); closeErr != nil && runErr == nil {
			runErr = closeErr
		}
	}

	result := Result{ExitCode: 0, Output: capture.String()}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			detail := fmt.Sprintf("runner: %s exited with status %d", binary, result.ExitCode)
			if opts.LogPath != "" {
				detail += fmt.Sprintf(" (see %s)", opts.LogPath)
			}
			return result, fmt.Errorf("%s: %w", detail, runErr)
		}
		result.ExitCode = -1
		return result, fmt.Errorf("runner: start %s: %w", binary, runErr)
	}
	return result, nil
}
