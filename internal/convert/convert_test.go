package convert

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bidskit/internal/config"
	"bidskit/internal/logging"
	"bidskit/internal/runner"
	"bidskit/internal/session"
	"bidskit/internal/steps"
	"bidskit/internal/testsupport"
)

type call struct {
	binary string
	args   []string
}

func recordingExec(calls *[]call) runner.Executor {
	return runner.Func(func(ctx context.Context, binary string, args []string, opts runner.Options) (runner.Result, error) {
		*calls = append(*calls, call{binary: binary, args: args})
		return runner.Result{ExitCode: 0}, nil
	})
}

func newStudy(sess *session.Session) *config.Study {
	return &config.Study{StudyDir: sess.StudyDir, Heuristic: "code/heuristic.py"}
}

func stageDicoms(t *testing.T, sess *session.Session) {
	t.Helper()
	testsupport.WriteFile(t, filepath.Join(sess.Path(session.AreaSourcedata), "5_bold", "0001.dcm"), "dicom")
}

func writeHeuristic(t *testing.T, sess *session.Session, content string) {
	t.Helper()
	testsupport.WriteFile(t, filepath.Join(sess.Path(session.AreaCode), "heuristic.py"), content)
}

func hasArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func TestRunSkipsWithoutStagedDicoms(t *testing.T) {
	sess := testsupport.NewSession(t)
	var calls []call
	cfg := config.Default()

	conv := New(sess, newStudy(sess), &cfg, recordingExec(&calls), false, logging.NewNop())
	result, err := conv.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Applied || result.Reason != steps.ReasonNoInputs {
		t.Errorf("result = %+v, want skip for missing inputs", result)
	}
	if len(calls) != 0 {
		t.Errorf("executor ran %d times, want 0", len(calls))
	}
}

func TestRunInvokesLocalHeudiconv(t *testing.T) {
	sess := testsupport.NewSession(t)
	stageDicoms(t, sess)
	writeHeuristic(t, sess, "def infotodict(seqinfo):\n    t1w = create_key('sub-{subject}/{session}/anat/...')\n")

	var calls []call
	cfg := config.Default()
	conv := New(sess, newStudy(sess), &cfg, recordingExec(&calls), false, logging.NewNop())

	result, err := conv.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Applied {
		t.Fatalf("result = %+v, want applied", result)
	}
	if len(calls) != 1 {
		t.Fatalf("executor ran %d times, want 1", len(calls))
	}
	got := calls[0]
	if got.binary != cfg.Binaries.Heudiconv {
		t.Errorf("binary = %q, want %q", got.binary, cfg.Binaries.Heudiconv)
	}
	for _, want := range []string{"-s", "01", "-ss", "MR1", "-c", "dcm2niix", "--overwrite", "-b"} {
		if !hasArg(got.args, want) {
			t.Errorf("args missing %q: %v", want, got.args)
		}
	}
	if hasArg(got.args, "notop") {
		t.Errorf("first conversion should write top-level files, got %v", got.args)
	}
	wantPattern := filepath.Join(sess.StudyDir, "sourcedata", "sub-{subject}", "ses-{session}", "*", "*.dcm")
	if !hasArg(got.args, wantPattern) {
		t.Errorf("args missing DICOM template %q: %v", wantPattern, got.args)
	}
}

func TestRunPassesNotopWhenTopLevelExists(t *testing.T) {
	sess := testsupport.NewSession(t)
	stageDicoms(t, sess)
	writeHeuristic(t, sess, "keys include {session}/ here")
	testsupport.WriteFile(t, filepath.Join(sess.StudyDir, "rawdata", "dataset_description.json"), "{}")

	var calls []call
	cfg := config.Default()
	conv := New(sess, newStudy(sess), &cfg, recordingExec(&calls), false, logging.NewNop())

	if _, err := conv.Run(context.Background(), false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(calls) != 1 || !hasArg(calls[0].args, "notop") {
		t.Errorf("expected -b notop, got %v", calls)
	}
}

func TestRunInvokesDockerHeudiconv(t *testing.T) {
	sess := testsupport.NewSession(t)
	stageDicoms(t, sess)
	writeHeuristic(t, sess, "{session}/")

	var calls []call
	cfg := config.Default()
	conv := New(sess, newStudy(sess), &cfg, recordingExec(&calls), false, logging.NewNop())

	result, err := conv.Run(context.Background(), true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Applied {
		t.Fatalf("result = %+v, want applied", result)
	}
	if len(calls) != 1 {
		t.Fatalf("executor ran %d times, want 1", len(calls))
	}
	got := calls[0]
	if got.binary != cfg.Binaries.Docker {
		t.Errorf("binary = %q, want %q", got.binary, cfg.Binaries.Docker)
	}
	for _, want := range []string{
		"run", "--rm",
		sess.StudyDir + ":/base",
		filepath.Join(sess.StudyDir, "sourcedata") + ":/sourcedata:ro",
		filepath.Join(sess.StudyDir, "rawdata") + ":/rawdata",
		cfg.Images.Heudiconv,
		"/base/code/heuristic.py",
		"/sourcedata/sub-{subject}/ses-{session}/*/*.dcm",
		"/rawdata",
	} {
		if !hasArg(got.args, want) {
			t.Errorf("args missing %q: %v", want, got.args)
		}
	}
}

func TestRunFailsWithoutHeuristic(t *testing.T) {
	sess := testsupport.NewSession(t)
	stageDicoms(t, sess)

	var calls []call
	cfg := config.Default()
	conv := New(sess, &config.Study{StudyDir: sess.StudyDir}, &cfg, recordingExec(&calls), false, logging.NewNop())

	if _, err := conv.Run(context.Background(), false); err == nil {
		t.Fatal("expected error for missing heuristic")
	}
	if len(calls) != 0 {
		t.Errorf("executor ran %d times, want 0", len(calls))
	}
}

func TestRunSkipsWhenAlreadyConverted(t *testing.T) {
	sess := testsupport.NewSession(t)
	stageDicoms(t, sess)
	writeHeuristic(t, sess, "{session}/")
	existing := filepath.Join(sess.Path(session.AreaAnat), sess.Prefix+"_T1w.nii.gz")
	testsupport.WriteFile(t, existing, "image")

	var calls []call
	cfg := config.Default()
	conv := New(sess, newStudy(sess), &cfg, recordingExec(&calls), false, logging.NewNop())

	result, err := conv.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Applied || result.Reason != steps.ReasonOutputsExist {
		t.Errorf("result = %+v, want skip for existing outputs", result)
	}
	if len(calls) != 0 {
		t.Errorf("executor ran %d times, want 0", len(calls))
	}

	conv = New(sess, newStudy(sess), &cfg, recordingExec(&calls), true, logging.NewNop())
	result, err = conv.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("forced Run: %v", err)
	}
	if !result.Applied {
		t.Errorf("forced result = %+v, want applied", result)
	}
	if len(calls) != 1 {
		t.Errorf("executor ran %d times after force, want 1", len(calls))
	}
	if _, err := os.Stat(existing); !os.IsNotExist(err) {
		t.Errorf("previous conversion output %s still present", existing)
	}
}

func TestRunCleansCacheAndDerivedMaps(t *testing.T) {
	sess := testsupport.NewSession(t)
	stageDicoms(t, sess)
	writeHeuristic(t, sess, "{session}/")

	cache := filepath.Join(sess.StudyDir, "rawdata", ".heudiconv", "01")
	testsupport.WriteFile(t, filepath.Join(cache, "info", "dicominfo.tsv"), "cache")

	adc := filepath.Join(sess.Path(session.AreaDwi), sess.Prefix+"_dwi_ADC.nii.gz")
	var calls []call
	cfg := config.Default()
	exec := runner.Func(func(ctx context.Context, binary string, args []string, opts runner.Options) (runner.Result, error) {
		calls = append(calls, call{binary: binary, args: args})
		// The converter writes the derived map; it must be gone afterwards.
		testsupport.WriteFile(t, adc, "adc")
		testsupport.WriteFile(t, strings.TrimSuffix(adc, ".nii.gz")+".json", "{}")
		return runner.Result{ExitCode: 0}, nil
	})

	conv := New(sess, newStudy(sess), &cfg, exec, false, logging.NewNop())
	if _, err := conv.Run(context.Background(), false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("executor ran %d times, want 1", len(calls))
	}
	if _, err := os.Stat(cache); !os.IsNotExist(err) {
		t.Errorf("converter cache %s still present", cache)
	}
	if _, err := os.Stat(adc); !os.IsNotExist(err) {
		t.Errorf("derived ADC map %s still present", adc)
	}
	if _, err := os.Stat(strings.TrimSuffix(adc, ".nii.gz") + ".json"); !os.IsNotExist(err) {
		t.Errorf("derived ADC sidecar still present")
	}
}
