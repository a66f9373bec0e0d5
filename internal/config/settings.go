package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Settings is the per-user state pointing at the active study. It lets every
// command run without --studydir once a study has been registered via init.
type Settings struct {
	// ConfigPath is the absolute path of the active study's code/config.json.
	ConfigPath string `toml:"config_path"`
}

// SettingsPath returns the location of the settings file.
func SettingsPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, "bidskit", "settings.toml"), nil
}

// LoadSettings reads the settings file, returning zero settings when the
// file does not exist yet.
func LoadSettings(path string) (Settings, error) {
	var s Settings
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return s, fmt.Errorf("read settings %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return s, nil
}

// SaveSettings writes the settings file, creating parent directories.
func SaveSettings(path string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure settings dir: %w", err)
	}
	data, err := toml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// SetActiveStudy records configPath as the active study config.
func SetActiveStudy(settingsPath, configPath string) error {
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	s, err := LoadSettings(settingsPath)
	if err != nil {
		return err
	}
	s.ConfigPath = abs
	return SaveSettings(settingsPath, s)
}
