package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Binaries names the external tools bidskit shells out to.
type Binaries struct {
	Dcm2niix   string `toml:"dcm2niix"`
	Heudiconv  string `toml:"heudiconv"`
	Unzip      string `toml:"unzip"`
	FSLSwapDim string `toml:"fslswapdim"`
	SliceTimer string `toml:"slicetimer"`
	Docker     string `toml:"docker"`
}

// Images names the container images used for validation and QC.
type Images struct {
	Validator string `toml:"validator"`
	MRIQC     string `toml:"mriqc"`
	Heudiconv string `toml:"heudiconv"`
}

// Logging contains log level and format configuration.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Acquisition contains per-study acquisition defaults.
type Acquisition struct {
	Orientation     string `toml:"orientation"`
	SliceOrder      string `toml:"slice_order"`
	SliceDirection  int    `toml:"slice_direction"`
	APPhaseEncoding string `toml:"ap_phase_encoding"`
	QCMemoryGB      int    `toml:"qc_memory_gb"`
}

// Config is the top-level tool configuration.
type Config struct {
	Binaries    Binaries    `toml:"binaries"`
	Images      Images      `toml:"images"`
	Logging     Logging     `toml:"logging"`
	Acquisition Acquisition `toml:"acquisition"`
}

// DefaultPath returns the standard tool config location.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, "bidskit", "config.toml"), nil
}

// Load reads the tool config from path. A missing file yields defaults;
// a present file is merged over them and validated. An empty path uses
// DefaultPath.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// WriteSample writes the annotated sample config to path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure config dir: %w", err)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}
