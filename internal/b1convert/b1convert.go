package b1convert

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
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

const stepName = "convert-b1"

// b1convertLog is the log file name under the session logs directory.
const b1convertLog = "b1convert.log"

// Converter converts the session's B1 map series.
type Converter struct {
	sess   *session.Session
	cfg    *config.Config
	exec   runner.Executor
	logger *slog.Logger
	force  bool
}

// New builds a Converter for one session.
func New(sess *session.Session, cfg *config.Config, exec runner.Executor, force bool, logger *slog.Logger) *Converter {
	return &Converter{
		sess:   sess,
		cfg:    cfg,
		exec:   exec,
		logger: logging.NewComponentLogger(logger, stepName),
		force:  force,
	}
}

// Run converts every staged B1 map series into the fmap directory, one run
// per series in sorted order.
func (c *Converter) Run(ctx context.Context) (steps.Result, error) {
	dirs, err := c.findB1Dirs()
	if err != nil {
		return steps.Result{}, err
	}
	if len(dirs) == 0 {
		c.logger.Info("no B1 map series in sourcedata")
		return steps.Skipped(steps.ReasonNoInputs), nil
	}
	c.logger.Info("found B1 map series", logging.Int("count", len(dirs)))

	if err := c.sess.EnsureDirs(session.AreaFmap, session.AreaLogs); err != nil {
		return steps.Result{}, steps.Wrap(steps.ErrPrecondition, stepName, "create directories", "", err)
	}
	index, err := scanindex.Open(c.sess, c.logger)
	if err != nil {
		return steps.Result{}, steps.Wrap(steps.ErrPrecondition, stepName, "open scan manifest", "", err)
	}

	converted := 0
	for run, dir := range dirs {
		applied, err := c.convertSeries(ctx, dir, run+1, index)
		if err != nil {
			return steps.Result{}, err
		}
		if applied {
			converted++
		}
	}

	if converted == 0 {
		return steps.Skipped(steps.ReasonOutputsExist), nil
	}
	c.logger.Info("B1 map conversion complete", logging.Int("runs", converted))
	return steps.Applied(), nil
}

// findB1Dirs lists the staged series directories holding B1 map DICOMs.
func (c *Converter) findB1Dirs() ([]string, error) {
	sourceDir := c.sess.Path(session.AreaSourcedata)
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, steps.Wrap(steps.ErrPrecondition, stepName, "scan sourcedata", sourceDir, err)
	}
	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() && strings.Contains(strings.ToLower(entry.Name()), "b1map") {
			dirs = append(dirs, filepath.Join(sourceDir, entry.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// convertSeries converts one B1 series into run-numbered fmap outputs.
func (c *Converter) convertSeries(ctx context.Context, b1Dir string, run int, index *scanindex.Index) (bool, error) {
	fmapDir := c.sess.Path(session.AreaFmap)
	baseName := c.sess.BIDSName("TB1map", map[string]string{
		"acq": "b1",
		"run": fmt.Sprintf("%d", run),
	})

	existing, _ := filepath.Glob(filepath.Join(fmapDir, baseName+"*.nii.gz"))
	decision := preflight.ShouldRun(existing, c.force, c.logger)
	if !decision.Run {
		return false, nil
	}
	for _, image := range decision.Existing {
		if err := c.removeOutput(image, index); err != nil {
			return false, err
		}
	}

	c.logger.Info("converting B1 map series",
		logging.String("series", filepath.Base(b1Dir)), logging.Int("run", run))

	// -b y writes sidecars, -z y compresses, -p n keeps the protocol name
	// out so the -f pattern fully controls naming.
	args := []string{
		"-b", "y",
		"-z", "y",
		"-p", "n",
		"-f", baseName,
		"-o", fmapDir,
		b1Dir,
	}
	result, err := c.exec.Run(ctx, c.cfg.Binaries.Dcm2niix, args, runner.Options{
		LogPath: filepath.Join(c.sess.Path(session.AreaLogs), b1convertLog),
	})
	if err != nil {
		return false, steps.Wrap(steps.ErrExternalTool, stepName, "dcm2niix",
			fmt.Sprintf("series %s exit code %d", filepath.Base(b1Dir), result.ExitCode), err)
	}

	created, _ := filepath.Glob(filepath.Join(fmapDir, baseName+"*.nii.gz"))
	if len(created) == 0 {
		// Some dcm2niix versions mishandle Philips B1 maps and emit their
		// own suffixes (_r100, _r20) instead of the requested pattern.
		c.logger.Warn("dcm2niix produced no output under the expected name",
			logging.String("series", filepath.Base(b1Dir)))
		strays, _ := filepath.Glob(filepath.Join(fmapDir, c.sess.Prefix+"_acq-b1_*.nii.gz"))
		for _, stray := range strays {
			c.logger.Warn("unexpected B1 output", logging.String("file", filepath.Base(stray)))
		}
		return false, nil
	}
	sort.Strings(created)

	for _, image := range created {
		rel, err := c.sess.RelPath(image)
		if err != nil {
			return false, steps.Wrap(steps.ErrPrecondition, stepName, "resolve path", image, err)
		}
		if err := index.Add(rel, c.acqTime(image)); err != nil {
			return false, steps.Wrap(steps.ErrPrecondition, stepName, "update scan manifest", rel, err)
		}
		c.logger.Debug("converted", logging.String("file", filepath.Base(image)))
	}
	c.logger.Info("B1 run converted", logging.Int("run", run), logging.Int("files", len(created)))
	return true, nil
}

// removeOutput deletes a previous conversion output with its sidecar and
// manifest row.
func (c *Converter) removeOutput(image string, index *scanindex.Index) error {
	for _, path := range []string{image, sidecar.Path(image)} {
		if err := sidecar.MakeWritable(path); err != nil && !os.IsNotExist(err) {
			return steps.Wrap(steps.ErrPrecondition, stepName, "clear outputs", path, err)
		}
		if _, err := c.sess.RemoveFile(path); err != nil {
			return steps.Wrap(steps.ErrPrecondition, stepName, "clear outputs", path, err)
		}
	}
	if rel, err := c.sess.RelPath(image); err == nil {
		if _, err := index.Remove(rel); err != nil {
			return steps.Wrap(steps.ErrPrecondition, stepName, "update scan manifest", rel, err)
		}
	}
	return nil
}

// acqTime extracts the acquisition time from a freshly written sidecar.
// dcm2niix populates different fields depending on the scanner vendor.
func (c *Converter) acqTime(image string) string {
	meta, err := sidecar.Read(image)
	if err != nil {
		c.logger.Debug("no sidecar for acquisition time", logging.Error(err))
		return scanindex.AcqTimeUnknown
	}
	if dt := meta.String("AcquisitionDateTime"); dt != "" {
		return dt
	}
	date := bidsDate(meta.String("AcquisitionDate"))
	time := bidsTime(meta.String("AcquisitionTime"))
	switch {
	case date != "" && time != "":
		return date + "T" + time
	case time != "":
		return "T" + time
	}
	return scanindex.AcqTimeUnknown
}

// bidsDate rewrites a DICOM YYYYMMDD date as YYYY-MM-DD.
func bidsDate(date string) string {
	if len(date) == 8 && !strings.Contains(date, "-") {
		return date[:4] + "-" + date[4:6] + "-" + date[6:8]
	}
	return date
}

// bidsTime rewrites a DICOM HHMMSS[.ffffff] time as HH:MM:SS[.ffffff].
func bidsTime(time string) string {
	if len(time) >= 6 && !strings.Contains(time, ":") {
		return time[:2] + ":" + time[2:4] + ":" + time[4:]
	}
	return time
}
