package qc

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"bidskit/internal/config"
	"bidskit/internal/logging"
	"bidskit/internal/preflight"
	"bidskit/internal/runner"
	"bidskit/internal/session"
	"bidskit/internal/steps"
)

const stepName = "qc"

// mriqcLog is the log file name under the session logs directory.
const mriqcLog = "mriqc.log"

// Runner drives MRIQC for one subject/session.
type Runner struct {
	sess   *session.Session
	cfg    *config.Config
	exec   runner.Executor
	logger *slog.Logger
	force  bool
}

// New builds a QC Runner.
func New(sess *session.Session, cfg *config.Config, exec runner.Executor, force bool, logger *slog.Logger) *Runner {
	return &Runner{
		sess:   sess,
		cfg:    cfg,
		exec:   exec,
		logger: logging.NewComponentLogger(logger, stepName),
		force:  force,
	}
}

// OutputDir returns the MRIQC derivatives root for the study.
func (r *Runner) OutputDir() string {
	return filepath.Join(r.sess.Path(session.AreaDerivatives), "mriqc")
}

// Run generates QC reports for the session. Existing HTML reports for this
// subject and session suppress the run unless force is set.
func (r *Runner) Run(ctx context.Context) (steps.Result, error) {
	rawRoot := filepath.Join(r.sess.StudyDir, "rawdata")
	if _, err := os.Stat(rawRoot); err != nil {
		return steps.Result{}, steps.Wrap(steps.ErrPrecondition, stepName, "locate rawdata", rawRoot, err)
	}

	reports := r.existingReports()
	decision := preflight.ShouldRun(reports, r.force, r.logger)
	if !decision.Run {
		return steps.Skipped(steps.ReasonOutputsExist), nil
	}

	outDir := r.OutputDir()
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return steps.Result{}, steps.Wrap(steps.ErrPrecondition, stepName, "create output dir", outDir, err)
	}
	if err := r.sess.EnsureDirs(session.AreaLogs); err != nil {
		return steps.Result{}, steps.Wrap(steps.ErrPrecondition, stepName, "create directories", "", err)
	}

	args := []string{
		"run", "--rm",
		// MRIQC only needs scratch space; everything else stays immutable.
		"--read-only",
		"--tmpfs", "/tmp",
		"--tmpfs", "/run",
		"--user", fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		"-v", rawRoot + ":/data:ro",
		"-v", outDir + ":/out",
		r.cfg.Images.MRIQC,
		"/data", "/out", "participant",
		"--participant_label", r.sess.Subject,
		"--session-id", r.sess.Session,
		"--verbose-reports",
		"--mem_gb", strconv.Itoa(r.cfg.Acquisition.QCMemoryGB),
	}
	r.logger.Info("running quality control",
		logging.String("image", r.cfg.Images.MRIQC),
		logging.Int("mem_gb", r.cfg.Acquisition.QCMemoryGB))

	result, err := r.exec.Run(ctx, r.cfg.Binaries.Docker, args, runner.Options{
		LogPath: filepath.Join(r.sess.Path(session.AreaLogs), mriqcLog),
	})
	if err != nil {
		return steps.Result{}, steps.Wrap(steps.ErrExternalTool, stepName, "mriqc",
			fmt.Sprintf("exit code %d", result.ExitCode), err)
	}

	r.logger.Info("quality control reports written", logging.String("dir", outDir))
	return steps.Applied(), nil
}

// existingReports lists this session's HTML reports already in the MRIQC
// output tree, both the per-session layout and the flat subject layout
// older MRIQC versions used.
func (r *Runner) existingReports() []string {
	var reports []string
	patterns := []string{
		filepath.Join(r.OutputDir(), "sub-"+r.sess.Subject, "ses-"+r.sess.Session, "*.html"),
		filepath.Join(r.OutputDir(), "sub-"+r.sess.Subject+"_ses-"+r.sess.Session+"*.html"),
	}
	for _, pattern := range patterns {
		matches, _ := filepath.Glob(pattern)
		reports = append(reports, matches...)
	}
	return reports
}
