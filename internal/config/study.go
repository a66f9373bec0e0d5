package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// maxSearchDepth bounds the upward search for code/config.json. Four levels
// covers running from as deep as <studydir>/rawdata/sub-X/ses-Y/anat.
const maxSearchDepth = 4

// Study is the per-study configuration stored at <studydir>/code/config.json.
type Study struct {
	StudyDir  string `json:"studydir"`
	Heuristic string `json:"heuristic,omitempty"`
}

// LoadStudy reads and validates a study config file.
func LoadStudy(path string) (*Study, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read study config: %w", err)
	}
	var s Study
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse study config %s: %w", path, err)
	}
	if s.StudyDir == "" {
		// The config's own location implies the study root: code/ sits
		// directly under it.
		s.StudyDir = filepath.Dir(filepath.Dir(path))
	}
	abs, err := filepath.Abs(s.StudyDir)
	if err != nil {
		return nil, fmt.Errorf("resolve studydir: %w", err)
	}
	s.StudyDir = abs
	return &s, nil
}

// HeuristicPath resolves the heuristic file for the study. Relative paths
// are anchored at the study root; when unset, code/heuristic.py is used if
// present. An empty return means no heuristic is configured.
func (s *Study) HeuristicPath() string {
	if s.Heuristic != "" {
		if filepath.IsAbs(s.Heuristic) {
			return s.Heuristic
		}
		return filepath.Join(s.StudyDir, s.Heuristic)
	}
	fallback := filepath.Join(s.StudyDir, "code", "heuristic.py")
	if _, err := os.Stat(fallback); err == nil {
		return fallback
	}
	return ""
}

// FindStudyConfig searches start and up to maxSearchDepth parents for a
// code/config.json file.
func FindStudyConfig(start string) (string, bool) {
	current, err := filepath.Abs(start)
	if err != nil {
		return "", false
	}
	for i := 0; i < maxSearchDepth; i++ {
		candidate := filepath.Join(current, "code", "config.json")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	return "", false
}

// ResolveStudyDir determines the study root for a command invocation.
//
// Priority: the explicit --studydir flag, then the active study registered
// in settings, then an upward search from the working directory.
func ResolveStudyDir(explicit, settingsPath, workDir string) (string, error) {
	if explicit != "" {
		abs, err := filepath.Abs(explicit)
		if err != nil {
			return "", fmt.Errorf("resolve studydir: %w", err)
		}
		if _, err := os.Stat(abs); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", fmt.Errorf("studydir does not exist: %s", abs)
			}
			return "", err
		}
		return abs, nil
	}

	settings, err := LoadSettings(settingsPath)
	if err != nil {
		return "", err
	}
	if settings.ConfigPath != "" {
		if _, err := os.Stat(settings.ConfigPath); err == nil {
			study, err := LoadStudy(settings.ConfigPath)
			if err != nil {
				return "", err
			}
			return study.StudyDir, nil
		}
	}

	if configPath, ok := FindStudyConfig(workDir); ok {
		study, err := LoadStudy(configPath)
		if err != nil {
			return "", err
		}
		return study.StudyDir, nil
	}

	return "", errors.New("no study configured: pass --studydir, run \"bidskit init\", or run from inside a study directory")
}
