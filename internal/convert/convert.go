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
	"bidskit/internal/preflight"
	"bidskit/internal/runner"
	"bidskit/internal/scanindex"
	"bidskit/internal/session"
	"bidskit/internal/sidecar"
	"bidskit/internal/steps"
)

const stepName = "convert"

// heudiconvLog is the log file name under the session logs directory.
const heudiconvLog = "heudiconv.log"

// dicomTemplate locates staged DICOM files below a sourcedata root. The
// braces are literal on the command line; heudiconv expands them from -s
// and -ss.
const dicomTemplate = "sub-{subject}/ses-{session}/*/*.dcm"

// Converter runs heudiconv over staged sourcedata to produce the session's
// BIDS rawdata tree.
type Converter struct {
	sess   *session.Session
	study  *config.Study
	cfg    *config.Config
	exec   runner.Executor
	logger *slog.Logger
	force  bool
}

// New builds a Converter for one session.
func New(sess *session.Session, study *config.Study, cfg *config.Config, exec runner.Executor, force bool, logger *slog.Logger) *Converter {
	return &Converter{
		sess:   sess,
		study:  study,
		cfg:    cfg,
		exec:   exec,
		logger: logging.NewComponentLogger(logger, stepName),
		force:  force,
	}
}

// Run converts the session's sourcedata into rawdata. With docker set the
// heudiconv container image is used instead of a local install.
func (c *Converter) Run(ctx context.Context, docker bool) (steps.Result, error) {
	sourceDir := c.sess.Path(session.AreaSourcedata)
	if !hasDicoms(sourceDir) {
		c.logger.Info("no staged DICOM data, skipping", logging.String("dir", sourceDir))
		return steps.Skipped(steps.ReasonNoInputs), nil
	}

	heuristic := c.study.HeuristicPath()
	if heuristic == "" {
		return steps.Result{}, steps.Wrap(steps.ErrConfiguration, stepName, "resolve heuristic",
			"no heuristic configured for study", nil)
	}
	if _, err := os.Stat(heuristic); err != nil {
		return steps.Result{}, steps.Wrap(steps.ErrConfiguration, stepName, "resolve heuristic", heuristic, err)
	}
	c.lintHeuristic(heuristic)

	existing := c.existingImages()
	decision := preflight.ShouldRun(existing, c.force, c.logger)
	if !decision.Run {
		return steps.Skipped(steps.ReasonOutputsExist), nil
	}
	if len(decision.Existing) > 0 {
		c.logger.Info("removing previous conversion", logging.String("dir", c.sess.Path(session.AreaRawdata)))
		if err := clearTree(c.sess.Path(session.AreaRawdata)); err != nil {
			return steps.Result{}, steps.Wrap(steps.ErrPrecondition, stepName, "clear rawdata", "", err)
		}
	}
	if err := c.sess.EnsureDirs(session.AreaRawdata, session.AreaLogs); err != nil {
		return steps.Result{}, steps.Wrap(steps.ErrPrecondition, stepName, "create directories", "", err)
	}

	c.logger.Info("converting to BIDS",
		logging.String("heuristic", filepath.Base(heuristic)),
		logging.Bool("docker", docker))

	var err error
	if docker {
		err = c.runDocker(ctx, heuristic)
	} else {
		err = c.runLocal(ctx, heuristic)
	}
	if err != nil {
		return steps.Result{}, err
	}

	if err := c.cleanupCache(); err != nil {
		return steps.Result{}, err
	}
	if err := c.removeDerivedMaps(); err != nil {
		return steps.Result{}, err
	}

	created := c.existingImages()
	c.logger.Info("conversion complete", logging.Int("images", len(created)))
	for _, image := range created {
		c.logger.Debug("converted image", logging.String("file", filepath.Base(image)))
	}
	return steps.Applied(), nil
}

// heudiconvArgs builds the converter arguments shared by the local and
// docker invocations. dicomPattern and heuristic and outDir are expressed
// in whichever filesystem the converter sees.
func (c *Converter) heudiconvArgs(dicomPattern, heuristic, outDir string) []string {
	args := []string{
		"-d", dicomPattern,
		"-s", c.sess.Subject,
		"-ss", c.sess.Session,
		"-f", heuristic,
		"-c", "dcm2niix",
		"-o", outDir,
		"--overwrite",
	}
	// Top-level files (dataset_description.json, participants.tsv) are
	// written once per study; later sessions must not clobber them.
	if _, err := os.Stat(filepath.Join(c.study.StudyDir, "rawdata", "dataset_description.json")); err == nil {
		args = append(args, "-b", "notop")
	} else {
		args = append(args, "-b")
	}
	return args
}

func (c *Converter) runLocal(ctx context.Context, heuristic string) error {
	pattern := filepath.Join(c.study.StudyDir, "sourcedata", dicomTemplate)
	args := c.heudiconvArgs(pattern, heuristic, filepath.Join(c.study.StudyDir, "rawdata"))

	result, err := c.exec.Run(ctx, c.cfg.Binaries.Heudiconv, args, runner.Options{
		LogPath: filepath.Join(c.sess.Path(session.AreaLogs), heudiconvLog),
	})
	if err != nil {
		return steps.Wrap(steps.ErrExternalTool, stepName, "heudiconv",
			fmt.Sprintf("exit code %d", result.ExitCode), err)
	}
	return nil
}

func (c *Converter) runDocker(ctx context.Context, heuristic string) error {
	rel, err := filepath.Rel(c.study.StudyDir, heuristic)
	if err != nil || strings.HasPrefix(rel, "..") {
		return steps.Wrap(steps.ErrConfiguration, stepName, "heudiconv",
			"heuristic must live under the study directory for docker runs", nil)
	}

	args := []string{
		"run", "--rm",
		"--user", fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		"-v", c.study.StudyDir + ":/base",
		"-v", filepath.Join(c.study.StudyDir, "sourcedata") + ":/sourcedata:ro",
		"-v", filepath.Join(c.study.StudyDir, "rawdata") + ":/rawdata",
		c.cfg.Images.Heudiconv,
	}
	args = append(args, c.heudiconvArgs(
		"/sourcedata/"+dicomTemplate,
		"/base/"+filepath.ToSlash(rel),
		"/rawdata")...)

	result, err := c.exec.Run(ctx, c.cfg.Binaries.Docker, args, runner.Options{
		LogPath: filepath.Join(c.sess.Path(session.AreaLogs), heudiconvLog),
	})
	if err != nil {
		return steps.Wrap(steps.ErrExternalTool, stepName, "heudiconv docker",
			fmt.Sprintf("exit code %d", result.ExitCode), err)
	}
	return nil
}

// lintHeuristic warns when the heuristic's output templates do not include
// a session directory, which makes multi-session subjects collide.
func (c *Converter) lintHeuristic(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		c.logger.Warn("could not read heuristic", logging.Error(err))
		return
	}
	if !strings.Contains(string(data), "{session}/") {
		c.logger.Warn("heuristic templates have no {session}/ component, sessions may overwrite each other",
			logging.String("heuristic", filepath.Base(path)))
	}
}

// existingImages lists converted images already present for this session.
func (c *Converter) existingImages() []string {
	var existing []string
	for _, modality := range session.Modalities {
		matches, _ := filepath.Glob(filepath.Join(c.sess.Path(modality), "*.nii.gz"))
		existing = append(existing, matches...)
	}
	return existing
}

// cleanupCache removes heudiconv's per-subject conversion cache. Stale
// cache entries make later --overwrite runs reuse old series mappings.
func (c *Converter) cleanupCache() error {
	pattern := filepath.Join(c.study.StudyDir, "rawdata", ".heudiconv", c.sess.Subject+"*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return steps.Wrap(steps.ErrPrecondition, stepName, "clean cache", pattern, err)
	}
	for _, dir := range matches {
		c.logger.Debug("removing converter cache", logging.String("dir", dir))
		if err := os.RemoveAll(dir); err != nil {
			return steps.Wrap(steps.ErrPrecondition, stepName, "clean cache", dir, err)
		}
	}
	return nil
}

// removeDerivedMaps deletes the ADC maps dcm2niix derives from diffusion
// series. They are computed images, not acquisitions, and BIDS validators
// reject them in dwi/.
func (c *Converter) removeDerivedMaps() error {
	matches, err := filepath.Glob(filepath.Join(c.sess.Path(session.AreaDwi), "*_ADC.nii.gz"))
	if err != nil {
		return steps.Wrap(steps.ErrPrecondition, stepName, "remove ADC maps", "", err)
	}
	if len(matches) == 0 {
		return nil
	}

	index, err := scanindex.Open(c.sess, c.logger)
	if err != nil {
		return steps.Wrap(steps.ErrPrecondition, stepName, "open scan manifest", "", err)
	}
	for _, image := range matches {
		c.logger.Info("removing derived ADC map", logging.String("file", filepath.Base(image)))
		for _, path := range []string{image, sidecar.Path(image)} {
			if err := sidecar.MakeWritable(path); err != nil && !os.IsNotExist(err) {
				return steps.Wrap(steps.ErrPrecondition, stepName, "remove ADC maps", path, err)
			}
			if _, err := c.sess.RemoveFile(path); err != nil {
				return steps.Wrap(steps.ErrPrecondition, stepName, "remove ADC maps", path, err)
			}
		}
		if rel, err := c.sess.RelPath(image); err == nil {
			if _, err := index.Remove(rel); err != nil {
				return steps.Wrap(steps.ErrPrecondition, stepName, "update scan manifest", rel, err)
			}
		}
	}
	return nil
}

// hasDicoms reports whether any staged DICOM files exist under dir.
func hasDicoms(dir string) bool {
	matches, _ := filepath.Glob(filepath.Join(dir, "*", "*.dcm"))
	return len(matches) > 0
}

// clearTree removes the contents of dir but keeps the directory itself.
func clearTree(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			if err := makeTreeWritable(path); err != nil {
				return err
			}
		}
		if err := os.RemoveAll(path); err != nil {
			return err
		}
	}
	return nil
}

// makeTreeWritable lifts read-only modes so RemoveAll can do its job.
func makeTreeWritable(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		return os.Chmod(path, info.Mode().Perm()|0o200)
	})
}
