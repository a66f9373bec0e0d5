package b1convert

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"bidskit/internal/config"
	"bidskit/internal/logging"
	"bidskit/internal/runner"
	"bidskit/internal/scanindex"
	"bidskit/internal/session"
	"bidskit/internal/steps"
	"bidskit/internal/testsupport"
)

// b1Exec records invocations and writes the image and sidecar dcm2niix
// would produce from the -f/-o arguments.
func b1Exec(t *testing.T, calls *[][]string, meta map[string]any) runner.Executor {
	return runner.Func(func(ctx context.Context, binary string, args []string, opts runner.Options) (runner.Result, error) {
		*calls = append(*calls, args)
		var name, outDir string
		for i := 0; i < len(args)-1; i++ {
			switch args[i] {
			case "-f":
				name = args[i+1]
			case "-o":
				outDir = args[i+1]
			}
		}
		testsupport.WriteFile(t, filepath.Join(outDir, name+".nii.gz"), "b1")
		testsupport.WriteJSON(t, filepath.Join(outDir, name+".json"), meta)
		return runner.Result{ExitCode: 0}, nil
	})
}

func stageB1Series(t *testing.T, sess *session.Session, name string) {
	t.Helper()
	testsupport.WriteFile(t,
		filepath.Join(sess.Path(session.AreaSourcedata), name, "00001.dcm"), "dicom")
}

func TestRunSkipsWithoutB1Series(t *testing.T) {
	sess := testsupport.NewSession(t)
	stageB1Series(t, sess, "5_bold")
	cfg := config.Default()

	var calls [][]string
	conv := New(sess, &cfg, b1Exec(t, &calls, nil), false, logging.NewNop())
	result, err := conv.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Applied || result.Reason != steps.ReasonNoInputs {
		t.Errorf("result = %+v, want skip for missing inputs", result)
	}
	if len(calls) != 0 {
		t.Errorf("dcm2niix ran %d times, want 0", len(calls))
	}
}

func TestRunConvertsSeriesPerRun(t *testing.T) {
	sess := testsupport.NewSession(t)
	stageB1Series(t, sess, "12_B1map")
	stageB1Series(t, sess, "14_B1map_repeat")
	cfg := config.Default()

	var calls [][]string
	conv := New(sess, &cfg, b1Exec(t, &calls, map[string]any{
		"AcquisitionDateTime": "2022-12-30T10:27:53.770000",
	}), false, logging.NewNop())
	result, err := conv.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Applied {
		t.Fatalf("result = %+v, want applied", result)
	}
	if len(calls) != 2 {
		t.Fatalf("dcm2niix ran %d times, want 2", len(calls))
	}

	args := calls[0]
	want := []string{
		"-b", "y",
		"-z", "y",
		"-p", "n",
		"-f", sess.Prefix + "_acq-b1_run-1_TB1map",
		"-o", sess.Path(session.AreaFmap),
		filepath.Join(sess.Path(session.AreaSourcedata), "12_B1map"),
	}
	for i, w := range want {
		if args[i] != w {
			t.Errorf("arg[%d] = %q, want %q", i, args[i], w)
		}
	}

	for _, base := range []string{
		sess.Prefix + "_acq-b1_run-1_TB1map.nii.gz",
		sess.Prefix + "_acq-b1_run-2_TB1map.nii.gz",
	} {
		if _, err := os.Stat(filepath.Join(sess.Path(session.AreaFmap), base)); err != nil {
			t.Errorf("missing converted file %s", base)
		}
	}

	index, err := scanindex.Open(sess, logging.NewNop())
	if err != nil {
		t.Fatalf("open manifest: %v", err)
	}
	row, ok := index.Get("fmap/" + sess.Prefix + "_acq-b1_run-1_TB1map.nii.gz")
	if !ok {
		t.Fatal("converted file missing from scan manifest")
	}
	if row["acq_time"] != "2022-12-30T10:27:53.770000" {
		t.Errorf("acq_time = %q, want sidecar AcquisitionDateTime", row["acq_time"])
	}
}

func TestRunSkipsExistingOutputs(t *testing.T) {
	sess := testsupport.NewSession(t)
	stageB1Series(t, sess, "12_B1map")
	cfg := config.Default()
	existing := filepath.Join(sess.Path(session.AreaFmap), sess.Prefix+"_acq-b1_run-1_TB1map.nii.gz")
	testsupport.WriteFile(t, existing, "old")

	var calls [][]string
	conv := New(sess, &cfg, b1Exec(t, &calls, nil), false, logging.NewNop())
	result, err := conv.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Applied || result.Reason != steps.ReasonOutputsExist {
		t.Errorf("result = %+v, want skip for existing outputs", result)
	}
	if len(calls) != 0 {
		t.Errorf("dcm2niix ran %d times, want 0", len(calls))
	}

	conv = New(sess, &cfg, b1Exec(t, &calls, nil), true, logging.NewNop())
	result, err = conv.Run(context.Background())
	if err != nil {
		t.Fatalf("forced Run: %v", err)
	}
	if !result.Applied || len(calls) != 1 {
		t.Errorf("forced run: result = %+v, calls = %d, want applied with 1 call", result, len(calls))
	}
	data, err := os.ReadFile(existing)
	if err != nil {
		t.Fatalf("read converted file: %v", err)
	}
	if string(data) != "b1" {
		t.Errorf("previous output survived the forced rerun")
	}

	index, err := scanindex.Open(sess, logging.NewNop())
	if err != nil {
		t.Fatalf("open manifest: %v", err)
	}
	rel := "fmap/" + filepath.Base(existing)
	count := 0
	for _, name := range index.Filenames() {
		if name == rel {
			count++
		}
	}
	if count != 1 {
		t.Errorf("manifest has %d rows for %s, want 1", count, rel)
	}
}

func TestAcqTimeComposition(t *testing.T) {
	if got := bidsDate("20221230"); got != "2022-12-30" {
		t.Errorf("bidsDate = %q", got)
	}
	if got := bidsTime("102753.770000"); got != "10:27:53.770000" {
		t.Errorf("bidsTime = %q", got)
	}
	if got := bidsTime("10:27:53"); got != "10:27:53" {
		t.Errorf("bidsTime rewrote an already formatted value: %q", got)
	}
}
