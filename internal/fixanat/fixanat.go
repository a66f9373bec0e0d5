package fixanat

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"bidskit/internal/config"
	"bidskit/internal/logging"
	"bidskit/internal/nifti"
	"bidskit/internal/preflight"
	"bidskit/internal/scanindex"
	"bidskit/internal/session"
	"bidskit/internal/sidecar"
	"bidskit/internal/steps"
	"bidskit/internal/volume"
)

const stepName = "fix-anat"

var runTag = regexp.MustCompile(`run-(\d+)`)

// Fixer holds the collaborators one fix-anat invocation needs.
type Fixer struct {
	sess   *session.Session
	index  *scanindex.Index
	logger *slog.Logger
	params *config.MP2RAGEParams
	force  bool
}

// New builds a Fixer for the session. Acquisition parameters are loaded
// from the study's code directory; when they are missing or malformed the
// metadata injection sub-step is disabled but everything else still runs.
func New(sess *session.Session, force bool, logger *slog.Logger) (*Fixer, error) {
	logger = logging.NewComponentLogger(logger, stepName)

	index, err := scanindex.Open(sess, logger)
	if err != nil {
		return nil, steps.Wrap(steps.ErrPrecondition, stepName, "open manifest", "", err)
	}

	params, err := config.LoadMP2RAGE(config.MP2RAGEPath(sess.StudyDir))
	if err != nil {
		logger.Warn("acquisition parameters unavailable, metadata injection disabled",
			logging.Error(err))
		params = nil
	}

	return &Fixer{sess: sess, index: index, logger: logger, params: params, force: force}, nil
}

// Run applies the anatomical fixes for every run found in the anat
// directory. A missing anat directory means the session has no anatomical
// data and is reported as a skip, not an error.
func (f *Fixer) Run() (steps.Result, error) {
	anatDir := f.sess.Path(session.AreaAnat)
	if _, err := os.Stat(anatDir); err != nil {
		f.logger.Warn("anat directory not found", logging.String("dir", anatDir))
		return steps.Skipped(steps.ReasonNoInputs), nil
	}

	runs := f.findRuns(anatDir)
	if len(runs) == 0 {
		f.logger.Warn("no run tags found in anat filenames, assuming run 1")
		runs = []int{1}
	}
	f.logger.Info("processing anatomical runs", logging.Any("runs", runs))

	applied := false
	for _, run := range runs {
		decision := preflight.ShouldRun(f.expectedOutputs(anatDir, run), f.force, f.logger)
		if !decision.Run {
			f.logger.Info("skipping run, outputs exist", logging.Int("run", run))
			continue
		}
		applied = true

		if err := f.splitInversions(anatDir, run); err != nil {
			return steps.Result{}, err
		}
		if err := f.computeMagPhase(anatDir, run); err != nil {
			return steps.Result{}, err
		}
		if err := f.reshapeUNIT1(anatDir, run); err != nil {
			return steps.Result{}, err
		}
		if f.params != nil {
			if err := f.injectMetadata(anatDir, run); err != nil {
				return steps.Result{}, err
			}
		}
	}

	if err := f.removeByPattern(anatDir, f.sess.Prefix+"_*inv-1and2_*", "combined"); err != nil {
		return steps.Result{}, err
	}
	if err := f.removeByPattern(anatDir, f.sess.Prefix+"_*_temp_MP2RAGE*", "temporary"); err != nil {
		return steps.Result{}, err
	}

	result, err := f.index.Reconcile(true, false)
	if err != nil {
		return steps.Result{}, steps.Wrap(steps.ErrPrecondition, stepName, "reconcile manifest", "", err)
	}
	if len(result.Removed) > 0 {
		f.logger.Info("dropped orphaned manifest rows", logging.Int("count", len(result.Removed)))
	}

	if !applied {
		return steps.Skipped(steps.ReasonOutputsExist), nil
	}
	return steps.Applied(), nil
}

func (f *Fixer) findRuns(anatDir string) []int {
	matches, _ := filepath.Glob(filepath.Join(anatDir, f.sess.Prefix+"_*MP2RAGE.nii.gz"))
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

func (f *Fixer) expectedOutputs(anatDir string, run int) []string {
	var outputs []string
	for inv := 1; inv <= 2; inv++ {
		for _, part := range []string{"mag", "phase"} {
			name := f.invName(run, inv, part) + ".nii.gz"
			outputs = append(outputs, filepath.Join(anatDir, name))
		}
	}
	return outputs
}

// invName builds the inversion filename without extension; an empty part
// names the plain inversion image.
func (f *Fixer) invName(run, inv int, part string) string {
	entities := map[string]string{"run": strconv.Itoa(run), "inv": strconv.Itoa(inv)}
	if part != "" {
		entities["part"] = part
	}
	return f.sess.BIDSName("MP2RAGE", entities)
}

// splitInversions separates combined inv-1and2 files into per-inversion
// files, handling the real, imaginary, and plain variants. The real and
// imaginary halves are written under temporary names; computeMagPhase
// consumes them and the cleanup pass removes them.
func (f *Fixer) splitInversions(anatDir string, run int) error {
	variants := []struct {
		part string
		name string
	}{
		{"real", fmt.Sprintf("%s_run-%d_inv-1and2_part-real_MP2RAGE.nii.gz", f.sess.Prefix, run)},
		{"imag", fmt.Sprintf("%s_run-%d_inv-1and2_part-imag_MP2RAGE.nii.gz", f.sess.Prefix, run)},
		{"", fmt.Sprintf("%s_run-%d_inv-1and2_MP2RAGE.nii.gz", f.sess.Prefix, run)},
	}

	for _, variant := range variants {
		combined := filepath.Join(anatDir, variant.name)
		if _, err := os.Stat(combined); err != nil {
			continue
		}
		f.logger.Info("splitting combined file", logging.String("file", variant.name))

		img, err := nifti.Load(combined)
		if err != nil {
			return steps.Wrap(steps.ErrDataShape, stepName, "load", variant.name, err)
		}
		meta, err := sidecar.Read(combined)
		if err != nil {
			return steps.Wrap(steps.ErrPrecondition, stepName, "read sidecar", variant.name, err)
		}
		if meta.Len() == 0 {
			f.logger.Warn("missing sidecar for combined file", logging.String("file", variant.name))
		}

		first, second, err := volume.SplitDualChannel(img)
		if err != nil {
			// The file keeps its combined form; siblings still process.
			f.logger.Error("cannot split combined file",
				logging.String("file", variant.name), logging.Error(err))
			continue
		}

		var newRels []string
		for _, channel := range []struct {
			inv int
			img *nifti.Image
		}{{1, first}, {2, second}} {
			inv := channel.inv
			var outName string
			if variant.part != "" {
				outName = fmt.Sprintf("%s_run-%d_inv-%d_part-%s_temp_MP2RAGE", f.sess.Prefix, run, inv, variant.part)
			} else {
				outName = f.invName(run, inv, "")
			}
			outNii := filepath.Join(anatDir, outName+".nii.gz")

			if err := nifti.Save(outNii, channel.img); err != nil {
				return steps.Wrap(steps.ErrExternalTool, stepName, "write", outName, err)
			}

			outMeta := meta.Clone()
			outMeta.Set("dcmmeta_shape", channel.img.Shape())
			if variant.part != "" {
				outMeta.Set("part", variant.part)
			} else {
				outMeta.Delete("part")
			}
			if err := writeSidecar(outNii, outMeta); err != nil {
				return steps.Wrap(steps.ErrPrecondition, stepName, "write sidecar", outName, err)
			}
			f.logger.Info("created", logging.String("file", filepath.Base(outNii)))

			if variant.part == "" {
				newRels = append(newRels, "anat/"+filepath.Base(outNii))
			}
		}

		if len(newRels) > 0 {
			if _, err := f.index.Replace("anat/"+variant.name, newRels); err != nil {
				return steps.Wrap(steps.ErrPrecondition, stepName, "update manifest", variant.name, err)
			}
		}
	}
	return nil
}

// computeMagPhase derives magnitude and phase images from the temporary
// real/imaginary pairs left behind by splitInversions.
func (f *Fixer) computeMagPhase(anatDir string, run int) error {
	for inv := 1; inv <= 2; inv++ {
		realPath := filepath.Join(anatDir,
			fmt.Sprintf("%s_run-%d_inv-%d_part-real_temp_MP2RAGE.nii.gz", f.sess.Prefix, run, inv))
		imagPath := filepath.Join(anatDir,
			fmt.Sprintf("%s_run-%d_inv-%d_part-imag_temp_MP2RAGE.nii.gz", f.sess.Prefix, run, inv))

		if !exists(realPath) || !exists(imagPath) {
			f.logger.Debug("no real/imaginary pair", logging.Int("inv", inv))
			continue
		}
		f.logger.Info("computing magnitude and phase", logging.Int("inv", inv))

		realImg, err := nifti.Load(realPath)
		if err != nil {
			return steps.Wrap(steps.ErrDataShape, stepName, "load", filepath.Base(realPath), err)
		}
		imagImg, err := nifti.Load(imagPath)
		if err != nil {
			return steps.Wrap(steps.ErrDataShape, stepName, "load", filepath.Base(imagPath), err)
		}

		mag, phase, err := volume.MagnitudePhase(realImg, imagImg)
		if err != nil {
			f.logger.Error("real/imaginary pair unusable",
				logging.Int("inv", inv), logging.Error(err))
			continue
		}

		baseMeta, err := sidecar.Read(realPath)
		if err != nil {
			return steps.Wrap(steps.ErrPrecondition, stepName, "read sidecar", filepath.Base(realPath), err)
		}

		// Manifest metadata is inherited from the plain inversion row.
		invRel := "anat/" + f.invName(run, inv, "") + ".nii.gz"
		var inherited []scanindex.Field
		acqTime := ""
		if entry, ok := f.index.Get(invRel); ok {
			for _, col := range f.index.Columns() {
				switch col {
				case "filename":
				case "acq_time":
					acqTime = entry[col]
				default:
					inherited = append(inherited, scanindex.Field{Name: col, Value: entry[col]})
				}
			}
		}

		for _, derived := range []struct {
			part string
			img  *nifti.Image
		}{{"mag", mag}, {"phase", phase}} {
			outNii := filepath.Join(anatDir, f.invName(run, inv, derived.part)+".nii.gz")
			if err := nifti.Save(outNii, derived.img); err != nil {
				return steps.Wrap(steps.ErrExternalTool, stepName, "write", filepath.Base(outNii), err)
			}

			outMeta := baseMeta.Clone()
			outMeta.Set("dcmmeta_shape", derived.img.Shape())
			outMeta.Set("part", derived.part)
			if err := writeSidecar(outNii, outMeta); err != nil {
				return steps.Wrap(steps.ErrPrecondition, stepName, "write sidecar", filepath.Base(outNii), err)
			}
			f.logger.Info("created", logging.String("file", filepath.Base(outNii)))

			rel := "anat/" + filepath.Base(outNii)
			if err := f.index.Add(rel, acqTime, inherited...); err != nil {
				return steps.Wrap(steps.ErrPrecondition, stepName, "update manifest", rel, err)
			}
		}
	}
	return nil
}

// reshapeUNIT1 drops the dummy fourth axis some converters leave on the
// composite T1w image.
func (f *Fixer) reshapeUNIT1(anatDir string, run int) error {
	name := f.sess.BIDSName("T1w", map[string]string{"acq": "mp2rage", "run": strconv.Itoa(run)})
	t1wNii := filepath.Join(anatDir, name+".nii.gz")
	if !exists(t1wNii) {
		return nil
	}

	hdr, err := nifti.LoadHeader(t1wNii)
	if err != nil {
		return steps.Wrap(steps.ErrDataShape, stepName, "load header", name, err)
	}
	if len(hdr.Shape()) != 4 {
		return nil
	}

	img, err := nifti.Load(t1wNii)
	if err != nil {
		return steps.Wrap(steps.ErrDataShape, stepName, "load", name, err)
	}
	oldShape := img.Shape()
	if err := volume.SqueezeSingleton(img); err != nil {
		if errors.Is(err, volume.ErrAmbiguousShape) {
			f.logger.Warn("cannot determine which axis to squeeze",
				logging.String("file", name), logging.Any("shape", oldShape))
			return nil
		}
		return steps.Wrap(steps.ErrDataShape, stepName, "squeeze", name, err)
	}
	f.logger.Info("reshaped composite T1w",
		logging.Any("from", oldShape), logging.Any("to", img.Shape()))

	if err := nifti.Save(t1wNii, img); err != nil {
		return steps.Wrap(steps.ErrExternalTool, stepName, "write", name, err)
	}

	jsonPath := sidecar.Path(t1wNii)
	if exists(jsonPath) {
		err := sidecar.WithWritable(jsonPath, func() error {
			meta, err := sidecar.Read(t1wNii)
			if err != nil {
				return err
			}
			meta.Set("dcmmeta_shape", img.Shape())
			return sidecar.Write(t1wNii, meta)
		})
		if err != nil {
			return steps.Wrap(steps.ErrPrecondition, stepName, "update sidecar", name, err)
		}
	}
	return nil
}

// injectMetadata tags the per-inversion sidecars with the acquisition
// parameters and marks phase images with radian units.
func (f *Fixer) injectMetadata(anatDir string, run int) error {
	f.logger.Info("injecting acquisition metadata", logging.Int("run", run))

	for inv := 1; inv <= 2; inv++ {
		for _, part := range []string{"", "mag", "phase"} {
			jsonPath := filepath.Join(anatDir, f.invName(run, inv, part)+".json")
			if !exists(jsonPath) {
				continue
			}

			err := sidecar.WithWritable(jsonPath, func() error {
				dataFile := jsonPath[:len(jsonPath)-len(".json")] + ".nii.gz"
				meta, err := sidecar.Read(dataFile)
				if err != nil {
					return err
				}
				meta.Set("RepetitionTimeExcitation", f.params.RepetitionTimeExcitation)
				meta.Set("RepetitionTimePreparation", f.params.RepetitionTimePreparation)
				meta.Set("NumberShots", f.params.NumberShots)
				meta.Set("InversionTime", f.params.InversionTime[inv-1])
				meta.Set("FlipAngle", f.params.FlipAngle[inv-1])
				if part == "phase" {
					meta.Set("Units", "rad")
				}
				return sidecar.Write(dataFile, meta)
			})
			if err != nil {
				return steps.Wrap(steps.ErrConfiguration, stepName, "inject metadata", filepath.Base(jsonPath), err)
			}
			f.logger.Info("injected acquisition metadata", logging.String("file", filepath.Base(jsonPath)))
		}
	}

	// The composite T1w gets the common timing parameters only.
	name := f.sess.BIDSName("T1w", map[string]string{"acq": "mp2rage", "run": strconv.Itoa(run)})
	t1wJSON := filepath.Join(anatDir, name+".json")
	if exists(t1wJSON) {
		err := sidecar.WithWritable(t1wJSON, func() error {
			dataFile := filepath.Join(anatDir, name+".nii.gz")
			meta, err := sidecar.Read(dataFile)
			if err != nil {
				return err
			}
			meta.Set("RepetitionTimeExcitation", f.params.RepetitionTimeExcitation)
			meta.Set("RepetitionTimePreparation", f.params.RepetitionTimePreparation)
			meta.Set("NumberShots", f.params.NumberShots)
			return sidecar.Write(dataFile, meta)
		})
		if err != nil {
			return steps.Wrap(steps.ErrConfiguration, stepName, "inject metadata", name, err)
		}
		f.logger.Info("injected acquisition metadata", logging.String("file", name+".json"))
	}
	return nil
}

func (f *Fixer) removeByPattern(anatDir, pattern, kind string) error {
	matches, err := filepath.Glob(filepath.Join(anatDir, pattern))
	if err != nil {
		return steps.Wrap(steps.ErrPrecondition, stepName, "glob "+kind, pattern, err)
	}
	for _, match := range matches {
		_ = sidecar.MakeWritable(match)
		if removed, err := f.sess.RemoveFile(match); err != nil {
			f.logger.Warn("failed to remove file",
				logging.String("file", filepath.Base(match)), logging.Error(err))
		} else if removed {
			f.logger.Info("removed "+kind+" file", logging.String("file", filepath.Base(match)))
		}
	}
	return nil
}

// writeSidecar replaces a derived file's sidecar, lifting a read-only bit
// left by a previous forced run.
func writeSidecar(dataFile string, doc *sidecar.Document) error {
	if err := sidecar.MakeWritable(sidecar.Path(dataFile)); err != nil {
		return err
	}
	return sidecar.Write(dataFile, doc)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
