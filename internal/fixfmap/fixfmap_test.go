package fixfmap_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"bidskit/internal/fixfmap"
	"bidskit/internal/logging"
	"bidskit/internal/scanindex"
	"bidskit/internal/session"
	"bidskit/internal/sidecar"
	"bidskit/internal/steps"
	"bidskit/internal/testsupport"
)

func newFixer(t *testing.T, sess *session.Session, force bool) *fixfmap.Fixer {
	t.Helper()
	fixer, err := fixfmap.New(sess, force, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return fixer
}

func TestRunSkipsWithoutFmapDir(t *testing.T) {
	sess := testsupport.NewSession(t)
	result, err := newFixer(t, sess, false).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Applied || result.Reason != steps.ReasonNoInputs {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRenameB0Pair(t *testing.T) {
	sess := testsupport.NewSession(t)
	fmapDir := sess.Path(session.AreaFmap)

	src1 := filepath.Join(fmapDir, sess.Prefix+"_run-1_b0-combined1.nii.gz")
	src2 := filepath.Join(fmapDir, sess.Prefix+"_run-1_b0-combined2.nii.gz")
	testsupport.WriteNIfTI(t, src1, []int{4, 4, 2})
	testsupport.WriteNIfTI(t, src2, []int{4, 4, 2})
	testsupport.WriteJSON(t, sidecar.Path(src2), map[string]any{"EchoTime": 0.002})

	index, err := scanindex.Open(sess, logging.NewNop())
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	if err := index.Add("fmap/"+filepath.Base(src1), "2026-01-02T10:00:00"); err != nil {
		t.Fatalf("seed index: %v", err)
	}

	if _, err := newFixer(t, sess, false).Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mag := filepath.Join(fmapDir, sess.Prefix+"_acq-b0_run-1_magnitude.nii.gz")
	fmapNii := filepath.Join(fmapDir, sess.Prefix+"_acq-b0_run-1_fieldmap.nii.gz")
	for _, path := range []string{mag, fmapNii} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing renamed file %s", filepath.Base(path))
		}
	}
	if _, err := os.Stat(src1); !os.IsNotExist(err) {
		t.Error("source should be gone after rename")
	}

	// The fieldmap sidecar follows its image and picks up Units.
	meta, err := sidecar.Read(fmapNii)
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	if meta.String("Units") != "rad/s" {
		t.Errorf("Units: %q", meta.String("Units"))
	}
	if !meta.Has("EchoTime") {
		t.Error("sidecar lost existing keys")
	}

	index, err = scanindex.Open(sess, logging.NewNop())
	if err != nil {
		t.Fatalf("reopen index: %v", err)
	}
	entry, ok := index.Get("fmap/" + filepath.Base(mag))
	if !ok || entry["acq_time"] != "2026-01-02T10:00:00" {
		t.Errorf("manifest rename: %v (%v)", entry, index.Filenames())
	}
}

func TestRenameSkipsExistingTargetWithoutForce(t *testing.T) {
	sess := testsupport.NewSession(t)
	fmapDir := sess.Path(session.AreaFmap)

	src := filepath.Join(fmapDir, sess.Prefix+"_run-1_b0-combined1.nii.gz")
	dst := filepath.Join(fmapDir, sess.Prefix+"_acq-b0_run-1_magnitude.nii.gz")
	testsupport.WriteNIfTI(t, src, []int{2, 2, 2})
	testsupport.WriteNIfTI(t, dst, []int{4, 4, 2})

	if _, err := newFixer(t, sess, false).Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Error("source should survive when target exists")
	}

	if _, err := newFixer(t, sess, true).Run(); err != nil {
		t.Fatalf("forced run: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("force should overwrite the target")
	}
}

func TestIntendedFor(t *testing.T) {
	sess := testsupport.NewSession(t)
	fmapDir := sess.Path(session.AreaFmap)
	funcDir := sess.Path(session.AreaFunc)

	fieldmap := filepath.Join(fmapDir, sess.Prefix+"_acq-b0_run-1_fieldmap.nii.gz")
	testsupport.WriteNIfTI(t, fieldmap, []int{4, 4, 2})
	testsupport.WriteJSON(t, sidecar.Path(fieldmap), map[string]any{"Units": "rad/s"})

	var want []string
	for _, task := range []string{"rest", "motor", "nback"} {
		bold := filepath.Join(funcDir, sess.Prefix+"_task-"+task+"_bold.nii.gz")
		testsupport.WriteNIfTI(t, bold, []int{2, 2, 2})
		rel, err := filepath.Rel(sess.SubjectRawdataDir(), bold)
		if err != nil {
			t.Fatalf("rel: %v", err)
		}
		want = append(want, filepath.ToSlash(rel))
	}
	// Glob order is lexical, so the expectation must be sorted too.
	want[0], want[1], want[2] = want[1], want[2], want[0]

	if _, err := newFixer(t, sess, false).Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	meta, err := sidecar.Read(fieldmap)
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	got, ok := meta.StringSlice("IntendedFor")
	if !ok {
		t.Fatal("IntendedFor missing")
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("IntendedFor mismatch (-want +got):\n%s", diff)
	}

	// A second pass detects equality and leaves the sidecar untouched.
	before, err := os.Stat(sidecar.Path(fieldmap))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if _, err := newFixer(t, sess, false).Run(); err != nil {
		t.Fatalf("second run: %v", err)
	}
	after, err := os.Stat(sidecar.Path(fieldmap))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !after.ModTime().Equal(before.ModTime()) {
		t.Error("second run rewrote an already-correct sidecar")
	}
}

func TestRenameB1NoRunTag(t *testing.T) {
	sess := testsupport.NewSession(t)
	fmapDir := sess.Path(session.AreaFmap)

	src := filepath.Join(fmapDir, sess.Prefix+"_b1-combined.nii.gz")
	testsupport.WriteNIfTI(t, src, []int{4, 4, 2})

	if _, err := newFixer(t, sess, false).Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	dst := filepath.Join(fmapDir, sess.Prefix+"_acq-dream_TB1map.nii.gz")
	if _, err := os.Stat(dst); err != nil {
		t.Errorf("missing TB1map: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source should be gone after rename")
	}
}
