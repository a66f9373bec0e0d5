package validate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"bidskit/internal/config"
	"bidskit/internal/logging"
	"bidskit/internal/runner"
	"bidskit/internal/session"
	"bidskit/internal/testsupport"
)

func passingExec(calls *[][]string, exitCode int, output string) runner.Executor {
	return runner.Func(func(ctx context.Context, binary string, args []string, opts runner.Options) (runner.Result, error) {
		*calls = append(*calls, args)
		if opts.LogPath != "" {
			f, err := os.OpenFile(opts.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err == nil {
				fmt.Fprintln(f, output)
				f.Close()
			}
		}
		if exitCode != 0 {
			return runner.Result{ExitCode: exitCode, Output: output}, errors.New("validator reported errors")
		}
		return runner.Result{ExitCode: 0, Output: output}, nil
	})
}

func TestRunReportsCompliantDataset(t *testing.T) {
	sess := testsupport.NewSession(t)
	cfg := config.Default()

	var calls [][]string
	v := New(sess, &cfg, passingExec(&calls, 0, passMarker), false, logging.NewNop())
	passed, err := v.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !passed {
		t.Error("passed = false, want true")
	}
	if len(calls) != 1 {
		t.Fatalf("docker ran %d times, want 1", len(calls))
	}
	args := calls[0]
	wantMount := filepath.Join(sess.StudyDir, "rawdata") + ":/data:ro"
	var haveMount, haveImage bool
	for _, a := range args {
		if a == wantMount {
			haveMount = true
		}
		if a == cfg.Images.Validator {
			haveImage = true
		}
	}
	if !haveMount || !haveImage {
		t.Errorf("args missing mount or image: %v", args)
	}
}

func TestRunReportsValidationFailure(t *testing.T) {
	sess := testsupport.NewSession(t)
	cfg := config.Default()

	var calls [][]string
	v := New(sess, &cfg, passingExec(&calls, 1, "1 error found"), false, logging.NewNop())
	passed, err := v.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if passed {
		t.Error("passed = true for failing validation, want false")
	}
}

func TestRunUsesCachedPass(t *testing.T) {
	sess := testsupport.NewSession(t)
	cfg := config.Default()
	testsupport.WriteFile(t, filepath.Join(sess.Path(session.AreaLogs), validateLog),
		"checking...\n"+passMarker+"\n")

	var calls [][]string
	v := New(sess, &cfg, passingExec(&calls, 0, passMarker), false, logging.NewNop())
	passed, err := v.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !passed {
		t.Error("passed = false, want cached pass")
	}
	if len(calls) != 0 {
		t.Errorf("docker ran %d times, want 0 with cached verdict", len(calls))
	}

	v = New(sess, &cfg, passingExec(&calls, 0, passMarker), true, logging.NewNop())
	if _, err := v.Run(context.Background()); err != nil {
		t.Fatalf("forced Run: %v", err)
	}
	if len(calls) != 1 {
		t.Errorf("docker ran %d times after force, want 1", len(calls))
	}
}

func TestRunRevalidatesAfterFailedLog(t *testing.T) {
	sess := testsupport.NewSession(t)
	cfg := config.Default()
	testsupport.WriteFile(t, filepath.Join(sess.Path(session.AreaLogs), validateLog), "1 error found\n")

	var calls [][]string
	v := New(sess, &cfg, passingExec(&calls, 0, passMarker), false, logging.NewNop())
	passed, err := v.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !passed || len(calls) != 1 {
		t.Errorf("passed = %v, calls = %d, want revalidation pass", passed, len(calls))
	}
}

func TestRunFailsWithoutRawdata(t *testing.T) {
	sess := session.New(t.TempDir(), "01", "MR1")
	cfg := config.Default()

	v := New(sess, &cfg, passingExec(new([][]string), 0, passMarker), false, logging.NewNop())
	if _, err := v.Run(context.Background()); err == nil {
		t.Fatal("expected error for missing rawdata")
	}
}
