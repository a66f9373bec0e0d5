package slicetime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"bidskit/internal/config"
	"bidskit/internal/logging"
	"bidskit/internal/nifti"
	"bidskit/internal/runner"
	"bidskit/internal/session"
	"bidskit/internal/sidecar"
	"bidskit/internal/steps"
)

const stepName = "slicetime"

// Corrector applies slice timing correction to the session's BOLD runs.
type Corrector struct {
	sess   *session.Session
	cfg    *config.Config
	exec   runner.Executor
	logger *slog.Logger
	force  bool
}

// New builds a Corrector for one session.
func New(sess *session.Session, cfg *config.Config, exec runner.Executor, force bool, logger *slog.Logger) *Corrector {
	return &Corrector{
		sess:   sess,
		cfg:    cfg,
		exec:   exec,
		logger: logging.NewComponentLogger(logger, stepName),
		force:  force,
	}
}

// Run corrects every BOLD run in the session's func directory. Runs whose
// sidecars already record SliceTiming are left alone unless force is set.
// A run that cannot be corrected is logged and its siblings continue.
func (c *Corrector) Run(ctx context.Context) (steps.Result, error) {
	order := strings.ToLower(c.cfg.Acquisition.SliceOrder)
	if order != "up" && order != "down" && order != "odd" {
		return steps.Result{}, steps.Wrap(steps.ErrConfiguration, stepName, "parse slice order",
			fmt.Sprintf("unsupported slice order %q", order), nil)
	}

	funcDir := c.sess.Path(session.AreaFunc)
	if _, err := os.Stat(funcDir); err != nil {
		c.logger.Info("no func directory, skipping")
		return steps.Skipped(steps.ReasonNoInputs), nil
	}

	bolds, _ := filepath.Glob(filepath.Join(funcDir, "*_bold.nii.gz"))
	if len(bolds) == 0 {
		c.logger.Info("no BOLD runs to correct")
		return steps.Skipped(steps.ReasonNoInputs), nil
	}
	sort.Strings(bolds)

	if err := c.sess.EnsureDirs(session.AreaLogs); err != nil {
		return steps.Result{}, steps.Wrap(steps.ErrPrecondition, stepName, "create directories", "", err)
	}

	changed := 0
	for _, bold := range bolds {
		applied, err := c.correctRun(ctx, bold, order)
		if err != nil {
			c.logger.Error("could not correct BOLD run",
				logging.String("file", filepath.Base(bold)), logging.Error(err))
			continue
		}
		if applied {
			changed++
		}
	}

	if changed == 0 {
		return steps.Skipped(steps.ReasonUpToDate), nil
	}
	c.logger.Info("slice timing corrected", logging.Int("count", changed), logging.String("order", order))
	return steps.Applied(), nil
}

func (c *Corrector) correctRun(ctx context.Context, bold, order string) (bool, error) {
	meta, err := sidecar.Read(bold)
	if err != nil {
		return false, fmt.Errorf("read sidecar: %w", err)
	}
	if meta.Has("SliceTiming") && !c.force {
		c.logger.Debug("already corrected", logging.String("file", filepath.Base(bold)))
		return false, nil
	}
	tr, ok := meta.Float("RepetitionTime")
	if !ok || tr <= 0 {
		return false, fmt.Errorf("sidecar has no usable RepetitionTime")
	}

	header, err := nifti.LoadHeader(bold)
	if err != nil {
		return false, fmt.Errorf("read header: %w", err)
	}
	shape := header.Shape()
	axis := c.cfg.Acquisition.SliceDirection
	if axis < 1 || axis > len(shape) {
		return false, fmt.Errorf("slice direction %d outside image dimensions %v", axis, shape)
	}
	slices := shape[axis-1]
	if slices < 2 {
		return false, fmt.Errorf("axis %d has %d slices, nothing to correct", axis, slices)
	}

	tmp := strings.TrimSuffix(bold, ".nii.gz") + "_tmp.nii.gz"
	defer os.Remove(tmp)

	args := []string{
		"-i", bold,
		"-o", tmp,
		"-r", strconv.FormatFloat(tr, 'g', -1, 64),
		"-d", strconv.Itoa(axis),
	}
	switch order {
	case "down":
		args = append(args, "--down")
	case "odd":
		args = append(args, "--odd")
	}

	result, err := c.exec.Run(ctx, c.cfg.Binaries.SliceTimer, args, runner.Options{
		LogPath: filepath.Join(c.sess.Path(session.AreaLogs), "slicetime.log"),
	})
	if err != nil {
		return false, fmt.Errorf("slicetimer exit code %d: %w", result.ExitCode, err)
	}
	if _, err := os.Stat(tmp); err != nil {
		return false, fmt.Errorf("slicetimer produced no output: %w", err)
	}

	if err := sidecar.MakeWritable(bold); err != nil {
		return false, err
	}
	if err := os.Rename(tmp, bold); err != nil {
		return false, err
	}
	if err := sidecar.MakeReadonly(bold); err != nil {
		return false, err
	}

	err = sidecar.WithWritable(sidecar.Path(bold), func() error {
		meta.Set("SliceTiming", sliceTimings(order, slices, tr))
		return sidecar.Write(bold, meta)
	})
	if err != nil {
		return false, fmt.Errorf("update sidecar: %w", err)
	}
	c.logger.Info("corrected", logging.String("file", filepath.Base(bold)))
	return true, nil
}

// sliceTimings returns the per-slice acquisition offsets in seconds, in
// slice index order.
func sliceTimings(order string, slices int, tr float64) []float64 {
	step := tr / float64(slices)
	timings := make([]float64, slices)
	switch order {
	case "down":
		for i := range timings {
			timings[i] = float64(slices-1-i) * step
		}
	case "odd":
		// Interleaved, odd-numbered slices first (1-based): 1,3,5,...,2,4,...
		position := 0
		for start := 0; start <= 1; start++ {
			for i := start; i < slices; i += 2 {
				timings[i] = float64(position) * step
				position++
			}
		}
	default:
		for i := range timings {
			timings[i] = float64(i) * step
		}
	}
	return timings
}
