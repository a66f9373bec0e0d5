package fixfmap

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"bidskit/internal/logging"
	"bidskit/internal/scanindex"
	"bidskit/internal/session"
	"bidskit/internal/sidecar"
	"bidskit/internal/steps"
)

const stepName = "fix-fmap"

var runTag = regexp.MustCompile(`run-(\d+)`)

// Fixer holds the collaborators one fix-fmap invocation needs.
type Fixer struct {
	sess   *session.Session
	index  *scanindex.Index
	logger *slog.Logger
	force  bool
}

// New builds a Fixer for the session.
func New(sess *session.Session, force bool, logger *slog.Logger) (*Fixer, error) {
	logger = logging.NewComponentLogger(logger, stepName)
	index, err := scanindex.Open(sess, logger)
	if err != nil {
		return nil, steps.Wrap(steps.ErrPrecondition, stepName, "open manifest", "", err)
	}
	return &Fixer{sess: sess, index: index, logger: logger, force: force}, nil
}

// Run applies the fieldmap fixes for every run found in the fmap
// directory. Sessions without fieldmaps are reported as a skip.
func (f *Fixer) Run() (steps.Result, error) {
	fmapDir := f.sess.Path(session.AreaFmap)
	if _, err := os.Stat(fmapDir); err != nil {
		f.logger.Info("fmap directory not found, nothing to fix", logging.String("dir", fmapDir))
		return steps.Skipped(steps.ReasonNoInputs), nil
	}

	runs := f.findRuns(fmapDir)
	if len(runs) == 0 {
		files, _ := filepath.Glob(filepath.Join(fmapDir, "*.nii.gz"))
		if len(files) == 0 {
			f.logger.Info("no image files in fmap directory, nothing to fix")
			return steps.Skipped(steps.ReasonNoInputs), nil
		}
		f.logger.Info("no run tags found, assuming run 1")
		runs = []int{1}
	}
	f.logger.Info("processing fieldmap runs", logging.Any("runs", runs))

	funcDir := f.sess.Path(session.AreaFunc)
	for _, run := range runs {
		if err := f.renameB0(fmapDir, run); err != nil {
			return steps.Result{}, err
		}
		if err := f.renameGRE(fmapDir, run); err != nil {
			return steps.Result{}, err
		}
		if err := f.addUnits(fmapDir, run); err != nil {
			return steps.Result{}, err
		}
		if _, err := os.Stat(funcDir); err == nil {
			if err := f.addIntendedFor(fmapDir, funcDir, run); err != nil {
				return steps.Result{}, err
			}
		}
	}

	if err := f.renameB1(fmapDir); err != nil {
		return steps.Result{}, err
	}
	return steps.Applied(), nil
}

func (f *Fixer) findRuns(fmapDir string) []int {
	matches, _ := filepath.Glob(filepath.Join(fmapDir, f.sess.Prefix+"_*.nii.gz"))
	seen := map[int]bool{}
	var runs []int
	for _, match := range matches {
		m := runTag.FindStringSubmatch(filepath.Base(match))
		if m == nil {
			continue
		}
		run, err := strconv.Atoi(m[1])
		if err != nil || seen[run] {
			continue
		}
		seen[run] = true
		runs = append(runs, run)
	}
	sort.Ints(runs)
	return runs
}

// renameB0 moves shimmed B0 outputs to their BIDS names. The heuristic
// emits the combined pair as b0-combined1 (magnitude) and b0-combined2
// (fieldmap).
func (f *Fixer) renameB0(fmapDir string, run int) error {
	prefix := f.sess.Prefix
	mappings := [][2]string{
		{fmt.Sprintf("%s_run-%d_b0-combined1", prefix, run),
			f.sess.BIDSName("magnitude", map[string]string{"acq": "b0", "run": strconv.Itoa(run)})},
		{fmt.Sprintf("%s_run-%d_b0-combined2", prefix, run),
			f.sess.BIDSName("fieldmap", map[string]string{"acq": "b0", "run": strconv.Itoa(run)})},
	}
	return f.renamePairs(fmapDir, mappings)
}

// renameGRE moves legacy GRE outputs to their BIDS names: epi1 holds the
// fieldmap and epi2 the magnitude image.
func (f *Fixer) renameGRE(fmapDir string, run int) error {
	prefix := f.sess.Prefix
	src := fmt.Sprintf("%s_acq-gre_dir-AP_run-%d_epi", prefix, run)
	mappings := [][2]string{
		{src + "1", f.sess.BIDSName("fieldmap", map[string]string{"acq": "gre", "run": strconv.Itoa(run)})},
		{src + "2", f.sess.BIDSName("magnitude", map[string]string{"acq": "gre", "run": strconv.Itoa(run)})},
	}
	return f.renamePairs(fmapDir, mappings)
}

// renameB1 handles DREAM B1 maps, which carry no run tag.
func (f *Fixer) renameB1(fmapDir string) error {
	mappings := [][2]string{
		{f.sess.Prefix + "_b1-combined", f.sess.BIDSName("TB1map", map[string]string{"acq": "dream"})},
	}
	return f.renamePairs(fmapDir, mappings)
}

// renamePairs renames image/sidecar pairs and keeps the manifest in
// lockstep. Missing sources are silent skips; existing targets are skipped
// unless force is set.
func (f *Fixer) renamePairs(fmapDir string, mappings [][2]string) error {
	for _, mapping := range mappings {
		srcNii := filepath.Join(fmapDir, mapping[0]+".nii.gz")
		dstNii := filepath.Join(fmapDir, mapping[1]+".nii.gz")

		if !exists(srcNii) {
			continue
		}
		if exists(dstNii) && !f.force {
			f.logger.Debug("target already exists, skipping",
				logging.String("file", filepath.Base(dstNii)))
			continue
		}

		if _, err := f.sess.RenameFile(srcNii, dstNii); err != nil {
			return steps.Wrap(steps.ErrPrecondition, stepName, "rename", mapping[0], err)
		}
		f.logger.Info("renamed",
			logging.String("from", filepath.Base(srcNii)),
			logging.String("to", filepath.Base(dstNii)))

		srcJSON := filepath.Join(fmapDir, mapping[0]+".json")
		if exists(srcJSON) {
			dstJSON := filepath.Join(fmapDir, mapping[1]+".json")
			if _, err := f.sess.RenameFile(srcJSON, dstJSON); err != nil {
				return steps.Wrap(steps.ErrPrecondition, stepName, "rename sidecar", mapping[0], err)
			}
		}

		oldRel := "fmap/" + filepath.Base(srcNii)
		newRel := "fmap/" + filepath.Base(dstNii)
		if _, err := f.index.Rename(oldRel, newRel); err != nil {
			return steps.Wrap(steps.ErrPrecondition, stepName, "update manifest", oldRel, err)
		}
	}
	return nil
}

// addUnits tags fieldmap sidecars with the phase-difference unit. Already
// tagged files are left untouched so the read-only bit is not cycled
// needlessly.
func (f *Fixer) addUnits(fmapDir string, run int) error {
	patterns := []string{
		f.sess.BIDSName("fieldmap", map[string]string{"acq": "gre", "run": strconv.Itoa(run)}),
		f.sess.BIDSName("fieldmap", map[string]string{"acq": "b0", "run": strconv.Itoa(run)}),
	}
	for _, pattern := range patterns {
		dataFile := filepath.Join(fmapDir, pattern+".nii.gz")
		jsonPath := filepath.Join(fmapDir, pattern+".json")
		if !exists(jsonPath) {
			continue
		}

		meta, err := sidecar.Read(dataFile)
		if err != nil {
			return steps.Wrap(steps.ErrPrecondition, stepName, "read sidecar", pattern, err)
		}
		if meta.String("Units") == "rad/s" {
			f.logger.Debug("units already set", logging.String("file", pattern+".json"))
			continue
		}

		err = sidecar.WithWritable(jsonPath, func() error {
			meta.Set("Units", "rad/s")
			return sidecar.Write(dataFile, meta)
		})
		if err != nil {
			return steps.Wrap(steps.ErrPrecondition, stepName, "set units", pattern, err)
		}
		f.logger.Info("added units", logging.String("file", pattern+".json"))
	}
	return nil
}

// addIntendedFor points every fieldmap sidecar at the functional BOLD runs
// it corrects, as paths relative to the subject rawdata directory. A
// sidecar whose list already matches is left untouched.
func (f *Fixer) addIntendedFor(fmapDir, funcDir string, run int) error {
	bolds, err := filepath.Glob(filepath.Join(funcDir, f.sess.Prefix+"_task-*_bold.nii.gz"))
	if err != nil {
		return steps.Wrap(steps.ErrPrecondition, stepName, "scan functional runs", "", err)
	}
	sort.Strings(bolds)

	var intendedFor []string
	for _, bold := range bolds {
		rel, err := filepath.Rel(f.sess.SubjectRawdataDir(), bold)
		if err != nil {
			return steps.Wrap(steps.ErrPrecondition, stepName, "relativize", bold, err)
		}
		intendedFor = append(intendedFor, filepath.ToSlash(rel))
	}
	if len(intendedFor) == 0 {
		f.logger.Debug("no functional runs found for IntendedFor")
		return nil
	}

	patterns := []string{
		f.sess.BIDSName("fieldmap", map[string]string{"acq": "b0", "run": strconv.Itoa(run)}),
		f.sess.BIDSName("fieldmap", map[string]string{"acq": "gre", "run": strconv.Itoa(run)}),
		f.sess.BIDSName("epi", map[string]string{"acq": "se", "dir": "AP", "run": strconv.Itoa(run)}),
		f.sess.BIDSName("epi", map[string]string{"acq": "se", "dir": "PA", "run": strconv.Itoa(run)}),
	}
	for _, pattern := range patterns {
		dataFile := filepath.Join(fmapDir, pattern+".nii.gz")
		jsonPath := filepath.Join(fmapDir, pattern+".json")
		if !exists(jsonPath) {
			continue
		}

		meta, err := sidecar.Read(dataFile)
		if err != nil {
			return steps.Wrap(steps.ErrPrecondition, stepName, "read sidecar", pattern, err)
		}
		if current, ok := meta.StringSlice("IntendedFor"); ok && equal(current, intendedFor) {
			f.logger.Debug("IntendedFor already current", logging.String("file", pattern+".json"))
			continue
		}

		err = sidecar.WithWritable(jsonPath, func() error {
			meta.Set("IntendedFor", intendedFor)
			return sidecar.Write(dataFile, meta)
		})
		if err != nil {
			return steps.Wrap(steps.ErrPrecondition, stepName, "set IntendedFor", pattern, err)
		}
		f.logger.Info("updated IntendedFor",
			logging.String("file", pattern+".json"), logging.Int("targets", len(intendedFor)))
	}
	return nil
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
