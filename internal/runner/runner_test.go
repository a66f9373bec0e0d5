package runner_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bidskit/internal/runner"
)

func TestRunCapturesOutput(t *testing.T) {
	exec := runner.New()
	result, err := exec.Run(context.Background(), "sh", []string{"-c", "echo out; echo err >&2"}, runner.Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("exit code: %d", result.ExitCode)
	}
	if !strings.Contains(result.Output, "out") || !strings.Contains(result.Output, "err") {
		t.Fatalf("combined output missing streams: %q", result.Output)
	}
}

func TestRunWritesLog(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "step.log")
	exec := runner.New()
	if _, err := exec.Run(context.Background(), "sh", []string{"-c", "echo first"}, runner.Options{LogPath: logPath}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := exec.Run(context.Background(), "sh", []string{"-c", "echo second"}, runner.Options{LogPath: logPath}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	raw, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	log := string(raw)
	if !strings.Contains(log, "first") || !strings.Contains(log, "second") {
		t.Fatalf("log should append across runs: %q", log)
	}
	if !strings.Contains(log, "$ sh") {
		t.Fatalf("log should record the command line: %q", log)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	exec := runner.New()
	result, err := exec.Run(context.Background(), "sh", []string{"-c", "echo partial; exit 81"}, runner.Options{})
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if result.ExitCode != 81 {
		t.Fatalf("exit code: %d", result.ExitCode)
	}
	if !strings.Contains(result.Output, "partial") {
		t.Fatalf("output should survive failure: %q", result.Output)
	}
}

func TestRunMissingBinary(t *testing.T) {
	exec := runner.New()
	result, err := exec.Run(context.Background(), "definitely-not-a-real-binary", nil, runner.Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	if result.ExitCode != -1 {
		t.Fatalf("exit code: %d", result.ExitCode)
	}
}

func TestRunRespectsDir(t *testing.T) {
	dir := t.TempDir()
	exec := runner.New()
	result, err := exec.Run(context.Background(), "pwd", nil, runner.Options{Dir: dir})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, err := filepath.EvalSymlinks(strings.TrimSpace(result.Output))
	if err != nil {
		t.Fatalf("eval symlinks: %v", err)
	}
	want, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatalf("eval symlinks: %v", err)
	}
	if got != want {
		t.Fatalf("dir: got %q want %q", got, want)
	}
}
