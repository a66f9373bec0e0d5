package validate

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
	"bidskit/internal/session"
	"bidskit/internal/steps"
)

const stepName = "validate"

// validateLog is the log file name under the session logs directory.
const validateLog = "validate.log"

// passMarker is the line the validator prints for a compliant dataset.
const passMarker = "This dataset appears to be BIDS compatible"

// Validator runs the bids-validator container over the study rawdata.
type Validator struct {
	sess   *session.Session
	cfg    *config.Config
	exec   runner.Executor
	logger *slog.Logger
	force  bool
}

// New builds a Validator.
func New(sess *session.Session, cfg *config.Config, exec runner.Executor, force bool, logger *slog.Logger) *Validator {
	return &Validator{
		sess:   sess,
		cfg:    cfg,
		exec:   exec,
		logger: logging.NewComponentLogger(logger, stepName),
		force:  force,
	}
}

// Run validates the rawdata tree, reporting whether it is BIDS compliant.
// A previous passing run recorded in the validation log short-circuits the
// container run unless force is set.
func (v *Validator) Run(ctx context.Context) (bool, error) {
	rawRoot := filepath.Join(v.sess.StudyDir, "rawdata")
	if _, err := os.Stat(rawRoot); err != nil {
		return false, steps.Wrap(steps.ErrPrecondition, stepName, "locate rawdata", rawRoot, err)
	}

	logPath := filepath.Join(v.sess.Path(session.AreaLogs), validateLog)
	if !v.force {
		if passed, found := previousVerdict(logPath); found {
			if passed {
				v.logger.Info("previous validation passed, skipping",
					logging.String("log", logPath))
				return true, nil
			}
			v.logger.Info("previous validation failed, revalidating")
		}
	}

	if err := v.sess.EnsureDirs(session.AreaLogs); err != nil {
		return false, steps.Wrap(steps.ErrPrecondition, stepName, "create directories", "", err)
	}
	// Start the log fresh so previousVerdict sees only this run.
	if err := os.Remove(logPath); err != nil && !os.IsNotExist(err) {
		return false, steps.Wrap(steps.ErrPrecondition, stepName, "reset log", logPath, err)
	}

	args := []string{
		"run", "--rm",
		"--user", fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		"-v", rawRoot + ":/data:ro",
		v.cfg.Images.Validator,
		"/data",
	}
	v.logger.Info("validating rawdata", logging.String("image", v.cfg.Images.Validator))

	result, err := v.exec.Run(ctx, v.cfg.Binaries.Docker, args, runner.Options{LogPath: logPath})
	if err != nil {
		if result.ExitCode > 0 {
			v.logger.Error("dataset is not BIDS compliant",
				logging.Int("exit_code", result.ExitCode), logging.String("log", logPath))
			return false, nil
		}
		return false, steps.Wrap(steps.ErrExternalTool, stepName, "bids-validator", "", err)
	}

	v.logger.Info("dataset is BIDS compliant")
	return true, nil
}

// previousVerdict inspects an earlier validation log. found is false when
// no log exists.
func previousVerdict(logPath string) (passed, found bool) {
	data, err := os.ReadFile(logPath)
	if err != nil {
		return false, false
	}
	return strings.Contains(string(data), passMarker), true
}
