package qc

import (
	"context"
	"path/filepath"
	"testing"

	"bidskit/internal/config"
	"bidskit/internal/logging"
	"bidskit/internal/runner"
	"bidskit/internal/steps"
	"bidskit/internal/testsupport"
)

func recordingExec(calls *[][]string) runner.Executor {
	return runner.Func(func(ctx context.Context, binary string, args []string, opts runner.Options) (runner.Result, error) {
		*calls = append(*calls, args)
		return runner.Result{ExitCode: 0}, nil
	})
}

func TestRunInvokesMRIQC(t *testing.T) {
	sess := testsupport.NewSession(t)
	cfg := config.Default()

	var calls [][]string
	r := New(sess, &cfg, recordingExec(&calls), false, logging.NewNop())
	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Applied {
		t.Fatalf("result = %+v, want applied", result)
	}
	if len(calls) != 1 {
		t.Fatalf("docker ran %d times, want 1", len(calls))
	}

	args := calls[0]
	want := []string{
		"--read-only",
		filepath.Join(sess.StudyDir, "rawdata") + ":/data:ro",
		r.OutputDir() + ":/out",
		cfg.Images.MRIQC,
		"participant",
		"--participant_label", "01",
		"--session-id", "MR1",
		"--verbose-reports",
		"--mem_gb", "6",
	}
	for _, w := range want {
		found := false
		for _, a := range args {
			if a == w {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("args missing %q: %v", w, args)
		}
	}
}

func TestRunSkipsWithExistingReports(t *testing.T) {
	sess := testsupport.NewSession(t)
	cfg := config.Default()

	r := New(sess, &cfg, recordingExec(new([][]string)), false, logging.NewNop())
	testsupport.WriteFile(t,
		filepath.Join(r.OutputDir(), "sub-01", "ses-MR1", "sub-01_ses-MR1_T1w.html"), "<html>")

	var calls [][]string
	r = New(sess, &cfg, recordingExec(&calls), false, logging.NewNop())
	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Applied || result.Reason != steps.ReasonOutputsExist {
		t.Errorf("result = %+v, want skip for existing reports", result)
	}
	if len(calls) != 0 {
		t.Errorf("docker ran %d times, want 0", len(calls))
	}

	r = New(sess, &cfg, recordingExec(&calls), true, logging.NewNop())
	result, err = r.Run(context.Background())
	if err != nil {
		t.Fatalf("forced Run: %v", err)
	}
	if !result.Applied || len(calls) != 1 {
		t.Errorf("forced run: result = %+v, calls = %d, want applied with 1 call", result, len(calls))
	}
}

func TestRunFailsWithoutRawdata(t *testing.T) {
	sess := testsupport.NewSession(t)
	cfg := config.Default()
	// Point at a study dir with no rawdata tree.
	sess.StudyDir = t.TempDir()

	r := New(sess, &cfg, recordingExec(new([][]string)), false, logging.NewNop())
	if _, err := r.Run(context.Background()); err == nil {
		t.Fatal("expected error for missing rawdata")
	}
}
