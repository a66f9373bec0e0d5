package reorient

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
	"bidskit/internal/nifti"
	"bidskit/internal/runner"
	"bidskit/internal/session"
	"bidskit/internal/sidecar"
	"bidskit/internal/steps"
)

const stepName = "reorient"

// axisPairs maps a target axis letter to the fslswapdim axis selector that
// produces it.
var axisPairs = map[byte]string{
	'L': "LR",
	'R': "RL",
	'A': "AP",
	'P': "PA",
	'S': "SI",
	'I': "IS",
}

// Reorienter swaps image axes into the study's standard orientation.
type Reorienter struct {
	sess   *session.Session
	cfg    *config.Config
	exec   runner.Executor
	logger *slog.Logger
	force  bool
}

// New builds a Reorienter for one session.
func New(sess *session.Session, cfg *config.Config, exec runner.Executor, force bool, logger *slog.Logger) *Reorienter {
	return &Reorienter{
		sess:   sess,
		cfg:    cfg,
		exec:   exec,
		logger: logging.NewComponentLogger(logger, stepName),
		force:  force,
	}
}

// Run reorients every image in the session's modality directories to the
// configured orientation. Files that cannot be read or swapped are logged
// and left alone; their siblings are still processed.
func (r *Reorienter) Run(ctx context.Context) (steps.Result, error) {
	target := strings.ToUpper(r.cfg.Acquisition.Orientation)
	selectors, err := axisSelectors(target)
	if err != nil {
		return steps.Result{}, steps.Wrap(steps.ErrConfiguration, stepName, "parse orientation", target, err)
	}

	if _, err := os.Stat(r.sess.Path(session.AreaRawdata)); err != nil {
		r.logger.Info("no rawdata for session, skipping")
		return steps.Skipped(steps.ReasonNoInputs), nil
	}

	if err := r.sess.EnsureDirs(session.AreaLogs); err != nil {
		return steps.Result{}, steps.Wrap(steps.ErrPrecondition, stepName, "create directories", "", err)
	}

	images := r.findImages()
	if len(images) == 0 {
		r.logger.Info("no images to reorient")
		return steps.Skipped(steps.ReasonNoInputs), nil
	}

	changed := 0
	for _, image := range images {
		applied, err := r.reorientFile(ctx, image, target, selectors)
		if err != nil {
			r.logger.Error("could not reorient image",
				logging.String("file", filepath.Base(image)), logging.Error(err))
			continue
		}
		if applied {
			changed++
		}
	}

	if changed == 0 {
		return steps.Skipped(steps.ReasonUpToDate), nil
	}
	r.logger.Info("reoriented images", logging.Int("count", changed), logging.String("orientation", target))
	return steps.Applied(), nil
}

func (r *Reorienter) findImages() []string {
	var images []string
	for _, modality := range session.Modalities {
		matches, _ := filepath.Glob(filepath.Join(r.sess.Path(modality), "*.nii.gz"))
		images = append(images, matches...)
	}
	sort.Strings(images)
	return images
}

func (r *Reorienter) reorientFile(ctx context.Context, path, target string, selectors []string) (bool, error) {
	header, err := nifti.LoadHeader(path)
	if err != nil {
		return false, fmt.Errorf("read header: %w", err)
	}
	current, err := header.AxisCodes()
	if err == nil && current == target && !r.force {
		r.logger.Debug("already oriented",
			logging.String("file", filepath.Base(path)), logging.String("orientation", current))
		return false, nil
	}

	tmp := strings.TrimSuffix(path, ".nii.gz") + "_tmp.nii.gz"
	defer os.Remove(tmp)

	if err := r.swap(ctx, path, selectors, tmp); err != nil {
		// Depending on the stored affine's handedness, fslswapdim can
		// refuse the requested swap; inverting the first axis makes it
		// a proper rotation again.
		flipped := append([]string{reverseSelector(selectors[0])}, selectors[1:]...)
		r.logger.Debug("axis swap rejected, retrying with flipped first axis",
			logging.String("file", filepath.Base(path)))
		if err := r.swap(ctx, path, flipped, tmp); err != nil {
			return false, err
		}
	}
	if _, err := os.Stat(tmp); err != nil {
		return false, fmt.Errorf("fslswapdim produced no output: %w", err)
	}

	if err := sidecar.MakeWritable(path); err != nil {
		return false, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return false, err
	}
	if err := sidecar.MakeReadonly(path); err != nil {
		return false, err
	}
	r.logger.Info("reoriented", logging.String("file", filepath.Base(path)))
	return true, nil
}

func (r *Reorienter) swap(ctx context.Context, input string, selectors []string, output string) error {
	args := append([]string{input}, selectors...)
	args = append(args, output)
	result, err := r.exec.Run(ctx, r.cfg.Binaries.FSLSwapDim, args, runner.Options{
		LogPath: filepath.Join(r.sess.Path(session.AreaLogs), "reorient.log"),
	})
	if err != nil {
		return fmt.Errorf("fslswapdim exit code %d: %w", result.ExitCode, err)
	}
	return nil
}

// axisSelectors expands a three-letter orientation code into fslswapdim
// axis arguments.
func axisSelectors(target string) ([]string, error) {
	if len(target) != 3 {
		return nil, fmt.Errorf("orientation must have three axes, got %q", target)
	}
	selectors := make([]string, 3)
	for i := 0; i < 3; i++ {
		pair, ok := axisPairs[target[i]]
		if !ok {
			return nil, fmt.Errorf("unknown axis %q in orientation %q", string(target[i]), target)
		}
		selectors[i] = pair
	}
	return selectors, nil
}

func reverseSelector(pair string) string {
	return pair[1:] + pair[:1]
}
