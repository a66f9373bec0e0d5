package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bidskit/internal/config"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInitCreatesStudySkeleton(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	studyDir := filepath.Join(t.TempDir(), "study")

	heuristic := filepath.Join(t.TempDir(), "heuristic.py")
	if err := os.WriteFile(heuristic, []byte("def infotodict(seqinfo):\n    pass\n"), 0o644); err != nil {
		t.Fatalf("write heuristic: %v", err)
	}

	out, err := runCommand(t, "init", "--studydir", studyDir, "--heuristic", heuristic)
	if err != nil {
		t.Fatalf("init: %v\n%s", err, out)
	}

	for _, dir := range studySkeleton {
		if info, err := os.Stat(filepath.Join(studyDir, dir)); err != nil || !info.IsDir() {
			t.Errorf("missing study directory %s", dir)
		}
	}

	study, err := config.LoadStudy(filepath.Join(studyDir, "code", "config.json"))
	if err != nil {
		t.Fatalf("load study config: %v", err)
	}
	if study.StudyDir != studyDir {
		t.Errorf("StudyDir = %q, want %q", study.StudyDir, studyDir)
	}
	if !strings.HasSuffix(filepath.ToSlash(study.HeuristicPath()), "code/heuristic.py") {
		t.Errorf("HeuristicPath = %q, want installed heuristic", study.HeuristicPath())
	}
	if _, err := os.Stat(filepath.Join(studyDir, "code", "heuristic.py")); err != nil {
		t.Errorf("heuristic not installed: %v", err)
	}

	settingsPath, err := config.SettingsPath()
	if err != nil {
		t.Fatalf("settings path: %v", err)
	}
	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if settings.ConfigPath != filepath.Join(studyDir, "code", "config.json") {
		t.Errorf("active study = %q, want this study's config", settings.ConfigPath)
	}
}

func TestInitRefusesReinitWithoutForce(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	studyDir := filepath.Join(t.TempDir(), "study")

	if out, err := runCommand(t, "init", "--studydir", studyDir); err != nil {
		t.Fatalf("first init: %v\n%s", err, out)
	}
	if _, err := runCommand(t, "init", "--studydir", studyDir); err == nil {
		t.Fatal("second init succeeded, want refusal")
	}
	if out, err := runCommand(t, "init", "--studydir", studyDir, "--force"); err != nil {
		t.Fatalf("forced reinit: %v\n%s", err, out)
	}
}

func TestInitRequiresStudyDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if _, err := runCommand(t, "init"); err == nil {
		t.Fatal("init without --studydir succeeded")
	}
}
