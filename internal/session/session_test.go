package session

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPathDerivation(t *testing.T) {
	s := New("/data/study", "01", "MR1")

	if s.Prefix != "sub-01_ses-MR1" {
		t.Errorf("prefix: %q", s.Prefix)
	}

	cases := map[string]string{
		AreaRawdata:    "/data/study/rawdata/sub-01/ses-MR1",
		AreaSourcedata: "/data/study/sourcedata/sub-01/ses-MR1",
		AreaAnat:       "/data/study/rawdata/sub-01/ses-MR1/anat",
		AreaFmap:       "/data/study/rawdata/sub-01/ses-MR1/fmap",
		AreaLogs:       "/data/study/derivatives/logs/sub-01/ses-MR1",
		AreaCode:       "/data/study/code",
	}
	for area, want := range cases {
		if got := s.Path(area); got != filepath.FromSlash(want) {
			t.Errorf("%s: got %q, want %q", area, got, want)
		}
	}

	want := filepath.FromSlash("/data/study/rawdata/sub-01/ses-MR1/sub-01_ses-MR1_scans.tsv")
	if got := s.ScansTSV(); got != want {
		t.Errorf("scans tsv: got %q, want %q", got, want)
	}
}

func TestPathUnknownAreaPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unknown area")
		}
	}()
	New("/data/study", "01", "MR1").Path("bold")
}

func TestBIDSNameEntityOrder(t *testing.T) {
	s := New("/data/study", "01", "MR1")

	got := s.BIDSName("MP2RAGE", map[string]string{
		"inv":  "1",
		"run":  "2",
		"part": "mag",
	})
	want := "sub-01_ses-MR1_run-2_inv-1_part-mag_MP2RAGE"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	// Empty values and unknown entities are dropped.
	got = s.BIDSName("T1w", map[string]string{"acq": "mp2rage", "run": "", "flavor": "x"})
	if got != "sub-01_ses-MR1_acq-mp2rage_T1w" {
		t.Errorf("got %q", got)
	}
}

func TestRelPath(t *testing.T) {
	s := New("/data/study", "01", "MR1")

	rel, err := s.RelPath("/data/study/rawdata/sub-01/ses-MR1/anat/file.nii.gz")
	if err != nil {
		t.Fatalf("RelPath: %v", err)
	}
	if rel != "anat/file.nii.gz" {
		t.Errorf("got %q", rel)
	}

	if _, err := s.RelPath("/data/study/sourcedata/x.nii.gz"); err == nil {
		t.Error("expected error for path outside rawdata")
	}
}

func TestRenameAndRemoveFile(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "01", "MR1")

	src := filepath.Join(dir, "a.json")
	dst := filepath.Join(dir, "nested", "b.json")
	if err := os.WriteFile(src, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	moved, err := s.RenameFile(src, dst)
	if err != nil || !moved {
		t.Fatalf("RenameFile: (%v, %v)", moved, err)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Errorf("destination missing: %v", err)
	}

	// A second speculative rename is a quiet no-op.
	moved, err = s.RenameFile(src, dst)
	if err != nil || moved {
		t.Errorf("rename of missing source: (%v, %v)", moved, err)
	}

	removed, err := s.RemoveFile(dst)
	if err != nil || !removed {
		t.Fatalf("RemoveFile: (%v, %v)", removed, err)
	}
	removed, err = s.RemoveFile(dst)
	if err != nil || removed {
		t.Errorf("remove of missing file: (%v, %v)", removed, err)
	}
}

func TestEnsureDirsDefaults(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "01", "MR1")

	if err := s.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	for _, area := range []string{AreaRawdata, AreaSourcedata, AreaLogs, AreaCode} {
		if info, err := os.Stat(s.Path(area)); err != nil || !info.IsDir() {
			t.Errorf("%s not created: %v", area, err)
		}
	}
}

func TestSessionLockExcludesSecondHolder(t *testing.T) {
	dir := t.TempDir()
	first := New(dir, "01", "MR1")
	second := New(dir, "01", "MR1")

	if err := first.Lock(); err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if err := second.Lock(); err == nil {
		t.Error("second lock should fail while first is held")
	}
	if err := first.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := second.Lock(); err != nil {
		t.Errorf("lock after release: %v", err)
	}
	_ = second.Unlock()
}
