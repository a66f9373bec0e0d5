package convert

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"bidskit/internal/config"
	"bidskit/internal/logging"
	"bidskit/internal/runner"
	"bidskit/internal/steps"
)

// topLevelFiles are the study-wide files heudiconv's populate-templates
// command writes.
var topLevelFiles = []string{"dataset_description.json", "README", "CHANGES", ".bidsignore"}

// PopulateTemplates regenerates the top-level BIDS files for the study.
// Batch conversions run with notop to keep sessions from clobbering each
// other; this writes the study-wide files once afterwards.
func PopulateTemplates(ctx context.Context, study *config.Study, cfg *config.Config, exec runner.Executor, docker bool, logger *slog.Logger) error {
	logger = logging.NewComponentLogger(logger, "populate")

	heuristic := study.HeuristicPath()
	if heuristic == "" {
		return steps.Wrap(steps.ErrConfiguration, "populate", "resolve heuristic",
			"no heuristic configured for study", nil)
	}
	if _, err := os.Stat(heuristic); err != nil {
		return steps.Wrap(steps.ErrConfiguration, "populate", "resolve heuristic", heuristic, err)
	}

	rawRoot := filepath.Join(study.StudyDir, "rawdata")
	subjects, _ := filepath.Glob(filepath.Join(rawRoot, "sub-*"))
	if len(subjects) == 0 {
		return steps.Wrap(steps.ErrPrecondition, "populate", "locate subjects",
			"no converted subjects in rawdata, run convert first", nil)
	}

	logPath := filepath.Join(study.StudyDir, "derivatives", "logs", "populate.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return steps.Wrap(steps.ErrPrecondition, "populate", "create log dir", "", err)
	}

	var binary string
	var args []string
	if docker {
		rel, err := filepath.Rel(study.StudyDir, heuristic)
		if err != nil || strings.HasPrefix(rel, "..") {
			return steps.Wrap(steps.ErrConfiguration, "populate", "heudiconv",
				"heuristic must live under the study directory for docker runs", nil)
		}
		binary = cfg.Binaries.Docker
		args = []string{
			"run", "--rm",
			"--user", fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
			"-v", study.StudyDir + ":/base",
			"-v", rawRoot + ":/rawdata",
			cfg.Images.Heudiconv,
			"--files", "/rawdata",
			"-f", "/base/" + filepath.ToSlash(rel),
			"--command", "populate-templates",
		}
	} else {
		binary = cfg.Binaries.Heudiconv
		args = []string{
			"--files", rawRoot,
			"-f", heuristic,
			"--command", "populate-templates",
		}
	}

	logger.Info("populating top-level BIDS files",
		logging.String("heuristic", filepath.Base(heuristic)), logging.Bool("docker", docker))
	result, err := exec.Run(ctx, binary, args, runner.Options{LogPath: logPath})
	if err != nil {
		return steps.Wrap(steps.ErrExternalTool, "populate", "heudiconv",
			fmt.Sprintf("exit code %d", result.ExitCode), err)
	}

	for _, name := range topLevelFiles {
		if _, err := os.Stat(filepath.Join(rawRoot, name)); err == nil {
			logger.Info("top-level file present", logging.String("file", name))
		}
	}
	// heudiconv never writes this one; it carries manually curated
	// demographics.
	if _, err := os.Stat(filepath.Join(rawRoot, "participants.tsv")); err != nil {
		logger.Warn("participants.tsv missing, create it manually")
	}
	return nil
}
