package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeStudyConfig(t *testing.T, studyDir, body string) string {
	t.Helper()
	codeDir := filepath.Join(studyDir, "code")
	if err := os.MkdirAll(codeDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(codeDir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadStudyInfersStudyDir(t *testing.T) {
	studyDir := t.TempDir()
	path := writeStudyConfig(t, studyDir, `{}`)

	study, err := LoadStudy(path)
	if err != nil {
		t.Fatalf("LoadStudy: %v", err)
	}
	if study.StudyDir != studyDir {
		t.Errorf("studydir: got %q, want %q", study.StudyDir, studyDir)
	}
}

func TestHeuristicPathResolution(t *testing.T) {
	studyDir := t.TempDir()
	path := writeStudyConfig(t, studyDir, `{"heuristic": "code/rules.py"}`)

	study, err := LoadStudy(path)
	if err != nil {
		t.Fatalf("LoadStudy: %v", err)
	}
	want := filepath.Join(studyDir, "code", "rules.py")
	if got := study.HeuristicPath(); got != want {
		t.Errorf("heuristic: got %q, want %q", got, want)
	}
}

func TestHeuristicPathFallback(t *testing.T) {
	studyDir := t.TempDir()
	path := writeStudyConfig(t, studyDir, `{}`)
	fallback := filepath.Join(studyDir, "code", "heuristic.py")
	if err := os.WriteFile(fallback, []byte("# rules"), 0o644); err != nil {
		t.Fatalf("write heuristic: %v", err)
	}

	study, err := LoadStudy(path)
	if err != nil {
		t.Fatalf("LoadStudy: %v", err)
	}
	if got := study.HeuristicPath(); got != fallback {
		t.Errorf("heuristic fallback: got %q, want %q", got, fallback)
	}
}

func TestFindStudyConfigWalksUpward(t *testing.T) {
	studyDir := t.TempDir()
	want := writeStudyConfig(t, studyDir, `{}`)
	deep := filepath.Join(studyDir, "rawdata", "sub-01", "ses-MR1")
	if err := os.MkdirAll(deep, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	got, ok := FindStudyConfig(deep)
	if !ok {
		t.Fatal("expected to find study config")
	}
	if got != want {
		t.Errorf("found %q, want %q", got, want)
	}

	if _, ok := FindStudyConfig(t.TempDir()); ok {
		t.Error("found a config where none exists")
	}
}

func TestResolveStudyDirPriority(t *testing.T) {
	studyDir := t.TempDir()
	writeStudyConfig(t, studyDir, `{}`)
	settingsPath := filepath.Join(t.TempDir(), "settings.toml")

	// Explicit flag wins.
	got, err := ResolveStudyDir(studyDir, settingsPath, t.TempDir())
	if err != nil || got != studyDir {
		t.Errorf("explicit: got (%q, %v)", got, err)
	}

	// Registered study is used when no flag is passed.
	otherStudy := t.TempDir()
	otherConfig := writeStudyConfig(t, otherStudy, `{}`)
	if err := SetActiveStudy(settingsPath, otherConfig); err != nil {
		t.Fatalf("SetActiveStudy: %v", err)
	}
	got, err = ResolveStudyDir("", settingsPath, t.TempDir())
	if err != nil || got != otherStudy {
		t.Errorf("settings: got (%q, %v), want %q", got, err, otherStudy)
	}

	// Upward search as the last resort.
	got, err = ResolveStudyDir("", filepath.Join(t.TempDir(), "none.toml"), filepath.Join(studyDir, "rawdata"))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got != studyDir {
		t.Errorf("search: got %q, want %q", got, studyDir)
	}

	// Nothing configured at all.
	if _, err := ResolveStudyDir("", filepath.Join(t.TempDir(), "none.toml"), t.TempDir()); err == nil {
		t.Error("expected error with no study configured")
	}

	// Missing explicit directory is an error, not a fallback.
	if _, err := ResolveStudyDir(filepath.Join(studyDir, "gone"), settingsPath, t.TempDir()); err == nil {
		t.Error("expected error for missing explicit studydir")
	}
}

func TestLoadMP2RAGE(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mp2rage.json")

	valid := `{
		"RepetitionTimeExcitation": 0.006,
		"RepetitionTimePreparation": 5,
		"InversionTime": [0.9, 2.0],
		"NumberShots": 128,
		"FlipAngle": [6, 8]
	}`
	if err := os.WriteFile(path, []byte(valid), 0o644); err != nil {
		t.Fatalf("write params: %v", err)
	}
	params, err := LoadMP2RAGE(path)
	if err != nil {
		t.Fatalf("LoadMP2RAGE: %v", err)
	}
	if params.InversionTime != [2]float64{0.9, 2.0} {
		t.Errorf("inversion times: %v", params.InversionTime)
	}
	if params.FlipAngle != [2]float64{6, 8} {
		t.Errorf("flip angles: %v", params.FlipAngle)
	}
	if params.NumberShots != 128 {
		t.Errorf("number shots: %v", params.NumberShots)
	}

	for name, body := range map[string]string{
		"missing keys":   `{"InversionTime": [0.9, 2.0]}`,
		"short array":    `{"RepetitionTimeExcitation": 0.006, "RepetitionTimePreparation": 5, "InversionTime": [0.9], "NumberShots": 128, "FlipAngle": [6, 8]}`,
		"scalar array":   `{"RepetitionTimeExcitation": 0.006, "RepetitionTimePreparation": 5, "InversionTime": 0.9, "NumberShots": 128, "FlipAngle": [6, 8]}`,
		"malformed json": `{`,
	} {
		t.Run(name, func(t *testing.T) {
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatalf("write params: %v", err)
			}
			if _, err := LoadMP2RAGE(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}
