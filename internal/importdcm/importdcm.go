package importdcm

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
	"bidskit/internal/session"
	"bidskit/internal/steps"
)

const stepName = "import"

// Importer stages DICOM input for one session.
type Importer struct {
	sess   *session.Session
	cfg    *config.Config
	exec   runner.Executor
	logger *slog.Logger
	force  bool
}

// New builds an Importer.
func New(sess *session.Session, cfg *config.Config, exec runner.Executor, force bool, logger *slog.Logger) *Importer {
	return &Importer{
		sess:   sess,
		cfg:    cfg,
		exec:   exec,
		logger: logging.NewComponentLogger(logger, stepName),
		force:  force,
	}
}

// Run stages the DICOM input into sourcedata. zipInput forces archive
// resolution even when the input path is a directory.
func (im *Importer) Run(ctx context.Context, input string, zipInput bool) (steps.Result, error) {
	sourceDir := im.sess.Path(session.AreaSourcedata)
	im.logger.Info("importing DICOM data",
		logging.String("input", input), logging.String("target", sourceDir))

	if existing := im.existingDicoms(sourceDir); len(existing) > 0 {
		decision := preflight.ShouldRun(existing[:1], im.force, im.logger)
		if !decision.Run {
			return steps.Skipped(steps.ReasonOutputsExist), nil
		}
		im.logger.Info("removing existing sourcedata", logging.String("dir", sourceDir))
		if err := os.RemoveAll(sourceDir); err != nil {
			return steps.Result{}, steps.Wrap(steps.ErrPrecondition, stepName, "clear sourcedata", "", err)
		}
	}
	if err := im.sess.EnsureDirs(session.AreaSourcedata, session.AreaLogs); err != nil {
		return steps.Result{}, steps.Wrap(steps.ErrPrecondition, stepName, "create directories", "", err)
	}

	zipFile, dicomSource, err := im.resolveInput(input, zipInput)
	if err != nil {
		return steps.Result{}, steps.Wrap(steps.ErrPrecondition, stepName, "resolve input", input, err)
	}

	if zipFile != "" {
		tempDir := filepath.Join(filepath.Dir(sourceDir),
			fmt.Sprintf("temp_%s_ses-%s", im.sess.Subject, im.sess.Session))
		defer os.RemoveAll(tempDir)

		dicomSource, err = im.extractArchive(ctx, zipFile, tempDir)
		if err != nil {
			return steps.Result{}, err
		}
	}

	if err := im.organize(ctx, dicomSource, sourceDir); err != nil {
		return steps.Result{}, err
	}

	count := len(im.existingDicoms(sourceDir))
	im.logger.Info("import complete", logging.Int("dicom_files", count))
	return steps.Applied(), nil
}

func (im *Importer) existingDicoms(sourceDir string) []string {
	var files []string
	_ = filepath.WalkDir(sourceDir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !entry.IsDir() && strings.EqualFold(filepath.Ext(path), ".dcm") {
			files = append(files, path)
		}
		return nil
	})
	return files
}

// resolveInput classifies the input path: a zip file, a directory holding
// a matching zip, or a directory of DICOM files.
func (im *Importer) resolveInput(input string, zipInput bool) (zipFile, dicomSource string, err error) {
	info, err := os.Stat(input)
	if err != nil {
		return "", "", fmt.Errorf("input path does not exist: %s", input)
	}

	if !info.IsDir() {
		if strings.EqualFold(filepath.Ext(input), ".zip") {
			im.logger.Info("input is an archive", logging.String("file", filepath.Base(input)))
			return input, "", nil
		}
		return "", "", fmt.Errorf("input file %s is not a zip archive", input)
	}

	if found := im.findArchive(input); found != "" {
		im.logger.Info("found matching archive", logging.String("file", filepath.Base(found)))
		return found, "", nil
	}
	if zipInput {
		return "", "", fmt.Errorf("no matching archive for %s_ses-%s in %s",
			im.sess.Subject, im.sess.Session, input)
	}

	// No archive: accept the directory when it holds DICOM files or series
	// subdirectories.
	dcms := im.countDicoms(input)
	if dcms > 0 {
		im.logger.Info("input is a DICOM directory", logging.Int("files", dcms))
		return "", input, nil
	}
	entries, err := os.ReadDir(input)
	if err != nil {
		return "", "", err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			im.logger.Info("input has series subdirectories, assuming DICOM source")
			return "", input, nil
		}
	}
	return "", "", fmt.Errorf("no archive or DICOM files found in %s", input)
}

// findArchive looks for a zip named after the subject/session, falling
// back to case-insensitive and then partial matching.
func (im *Importer) findArchive(dir string) string {
	subject, sess := im.sess.Subject, im.sess.Session
	patterns := []string{
		subject + "_ses-" + sess + ".zip",
		subject + "_ses_" + sess + ".zip",
		subject + "_" + sess + ".zip",
		subject + "-ses-" + sess + ".zip",
		"sub-" + subject + "_ses-" + sess + ".zip",
		"sub-" + subject + "_ses_" + sess + ".zip",
	}
	for _, pattern := range patterns {
		candidate := filepath.Join(dir, pattern)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	archives, _ := filepath.Glob(filepath.Join(dir, "*.zip"))
	for _, archive := range archives {
		name := strings.ToLower(filepath.Base(archive))
		for _, pattern := range patterns {
			if name == strings.ToLower(pattern) {
				return archive
			}
		}
	}
	for _, archive := range archives {
		name := strings.ToLower(filepath.Base(archive))
		if strings.Contains(name, strings.ToLower(subject)) && strings.Contains(name, strings.ToLower(sess)) {
			im.logger.Info("found archive by partial match", logging.String("file", filepath.Base(archive)))
			return archive
		}
	}
	return ""
}

// extractArchive unpacks the zip and locates the directory actually
// holding the DICOM files, which may be nested a few levels deep.
func (im *Importer) extractArchive(ctx context.Context, zipFile, targetDir string) (string, error) {
	if err := os.RemoveAll(targetDir); err != nil {
		return "", steps.Wrap(steps.ErrPrecondition, stepName, "prepare extraction dir", "", err)
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return "", steps.Wrap(steps.ErrPrecondition, stepName, "prepare extraction dir", "", err)
	}
	im.logger.Info("extracting archive",
		logging.String("file", filepath.Base(zipFile)), logging.String("target", targetDir))

	logPath := filepath.Join(im.sess.Path(session.AreaLogs), "unzip.log")
	result, err := im.exec.Run(ctx, im.cfg.Binaries.Unzip,
		[]string{"-q", "-o", zipFile, "-d", targetDir}, runner.Options{LogPath: logPath})
	// unzip exits 1 for warnings and 81 for entries with unsupported
	// compression (commonly just a vendor keyfile); both leave the DICOM
	// payload usable.
	switch result.ExitCode {
	case 0:
	case 1:
		im.logger.Warn("unzip reported warnings, continuing")
	case 81:
		im.logger.Warn("unzip reported unsupported compression, continuing")
	default:
		if strings.Contains(strings.ToLower(result.Output), "password") {
			return "", steps.Wrap(steps.ErrExternalTool, stepName, "extract", "archive appears to be encrypted", err)
		}
		return "", steps.Wrap(steps.ErrExternalTool, stepName, "extract", filepath.Base(zipFile), err)
	}

	return im.findDicomRoot(targetDir), nil
}

// findDicomRoot returns the first directory under root (to depth 3)
// holding DICOM files, or root itself when none is found.
func (im *Importer) findDicomRoot(root string) string {
	if im.countDicomsShallow(root) > 0 {
		return root
	}
	pattern := root
	for depth := 1; depth <= 3; depth++ {
		pattern = filepath.Join(pattern, "*")
		matches, _ := filepath.Glob(pattern)
		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil || !info.IsDir() {
				continue
			}
			if im.countDicomsShallow(match) > 0 {
				im.logger.Debug("found DICOM root",
					logging.Int("depth", depth), logging.String("dir", match))
				return match
			}
		}
	}
	im.logger.Warn("no DICOM files found in extracted archive, using extraction root")
	return root
}

func (im *Importer) countDicomsShallow(dir string) int {
	lower, _ := filepath.Glob(filepath.Join(dir, "*.dcm"))
	upper, _ := filepath.Glob(filepath.Join(dir, "*.DCM"))
	return len(lower) + len(upper)
}

func (im *Importer) countDicoms(dir string) int {
	count := 0
	_ = filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
		if err == nil && !entry.IsDir() && strings.EqualFold(filepath.Ext(path), ".dcm") {
			count++
		}
		return nil
	})
	return count
}

// organize reorganizes the source files into one directory per series.
// dcm2niix runs with BIDS output disabled; conversion proper happens later.
func (im *Importer) organize(ctx context.Context, dicomSource, sourceDir string) error {
	logPath := filepath.Join(im.sess.Path(session.AreaLogs), "dcm2niix_import.log")
	args := []string{
		"-v", "0",
		"-b", "o",
		"-r", "y",
		"-w", "0",
		"-o", sourceDir,
		"-f", "%s_%d/%d_%5r.dcm",
		dicomSource,
	}
	if _, err := im.exec.Run(ctx, im.cfg.Binaries.Dcm2niix, args, runner.Options{LogPath: logPath}); err != nil {
		return steps.Wrap(steps.ErrExternalTool, stepName, "organize",
			"dcm2niix failed, see "+logPath, err)
	}
	return nil
}
