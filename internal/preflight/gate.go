package preflight

import (
	"log/slog"
	"os"
	"path/filepath"

	"bidskit/internal/logging"
)

// reportCap bounds how many existing files are named in user-facing logs.
const reportCap = 5

// Decision is the outcome of an idempotency check.
type Decision struct {
	// Run reports whether the step should execute.
	Run bool
	// Existing lists every expected output already on disk, regardless of
	// the reporting cap.
	Existing []string
}

// ShouldRun decides whether a step needs to execute given its expected
// outputs. Any existing output suppresses the run unless force is set; with
// force, the step always runs and the caller is responsible for deleting
// conflicting outputs before regenerating, so stale and fresh files never
// mix.
func ShouldRun(expectedOutputs []string, force bool, logger *slog.Logger) Decision {
	if logger == nil {
		logger = logging.NewNop()
	}

	var existing []string
	for _, path := range expectedOutputs {
		if _, err := os.Stat(path); err == nil {
			existing = append(existing, path)
		}
	}

	if len(existing) > 0 && !force {
		logger.Info("outputs already exist, skipping", logging.Int("count", len(existing)))
		for i, path := range existing {
			if i >= reportCap {
				logger.Info("more outputs omitted", logging.Int("omitted", len(existing)-reportCap))
				break
			}
			logger.Info("existing output", logging.String("file", filepath.Base(path)))
		}
		logger.Info("run with --force to overwrite")
		return Decision{Run: false, Existing: existing}
	}

	if len(existing) > 0 {
		logger.Info("force set, overwriting existing outputs", logging.Int("count", len(existing)))
	}
	return Decision{Run: true, Existing: existing}
}
