package fixepi

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"bidskit/internal/config"
	"bidskit/internal/logging"
	"bidskit/internal/session"
	"bidskit/internal/sidecar"
	"bidskit/internal/steps"
)

const stepName = "fix-epi"

// Fixer holds the collaborators one fix-epi invocation needs.
type Fixer struct {
	sess   *session.Session
	logger *slog.Logger
	apCode string
	force  bool
	reader DicomReader
}

// New builds a Fixer. apCode is the configured phase-encoding code for AP
// acquisitions, e.g. "j-".
func New(sess *session.Session, apCode string, force bool, logger *slog.Logger) *Fixer {
	return &Fixer{
		sess:   sess,
		logger: logging.NewComponentLogger(logger, stepName),
		apCode: apCode,
		force:  force,
		reader: fileDicomReader{},
	}
}

// WithDicomReader replaces the DICOM tag reader, primarily for tests.
func (f *Fixer) WithDicomReader(reader DicomReader) *Fixer {
	if reader != nil {
		f.reader = reader
	}
	return f
}

// Run updates every fieldmap sidecar whose filename carries an AP or PA
// direction tag. Both the fmap and sourcedata directories must exist; a
// missing one means there is nothing to cross-reference and the whole step
// is skipped.
func (f *Fixer) Run() (steps.Result, error) {
	fmapDir := f.sess.Path(session.AreaFmap)
	if _, err := os.Stat(fmapDir); err != nil {
		f.logger.Warn("fmap directory not found", logging.String("dir", fmapDir))
		return steps.Skipped(steps.ReasonNoInputs), nil
	}
	sourceDir := f.sess.Path(session.AreaSourcedata)
	if _, err := os.Stat(sourceDir); err != nil {
		f.logger.Warn("sourcedata directory not found", logging.String("dir", sourceDir))
		return steps.Skipped(steps.ReasonNoInputs), nil
	}

	ap, pa, err := config.PhaseDirections(f.apCode)
	if err != nil {
		return steps.Result{}, steps.Wrap(steps.ErrConfiguration, stepName, "phase encoding", f.apCode, err)
	}

	applied := false
	for _, dir := range []struct {
		tag  string
		code string
	}{{"AP", ap}, {"PA", pa}} {
		changed, err := f.updateDirection(fmapDir, sourceDir, dir.tag, dir.code)
		if err != nil {
			return steps.Result{}, err
		}
		applied = applied || changed
	}

	if !applied {
		return steps.Skipped(steps.ReasonUpToDate), nil
	}
	return steps.Applied(), nil
}

// updateDirection updates every sidecar whose name carries the direction
// tag, using tags from the first DICOM file of a matching source series.
func (f *Fixer) updateDirection(fmapDir, sourceDir, direction, code string) (bool, error) {
	jsonFiles, err := filepath.Glob(filepath.Join(fmapDir, "*"+direction+"*.json"))
	if err != nil {
		return false, steps.Wrap(steps.ErrPrecondition, stepName, "scan sidecars", direction, err)
	}
	sort.Strings(jsonFiles)
	if len(jsonFiles) == 0 {
		f.logger.Debug("no sidecars for direction", logging.String("direction", direction))
		return false, nil
	}

	// Collect the sidecars that still need the scanner tags before touching
	// the DICOMs at all: when every file is already updated the series is
	// never parsed.
	type pendingSidecar struct {
		jsonFile string
		meta     *sidecar.Document
	}
	var pending []pendingSidecar
	for _, jsonFile := range jsonFiles {
		dataFile := strings.TrimSuffix(jsonFile, ".json") + ".nii.gz"
		meta, err := sidecar.Read(dataFile)
		if err != nil {
			f.logger.Error("cannot read sidecar",
				logging.String("file", filepath.Base(jsonFile)), logging.Error(err))
			continue
		}
		if !f.force && meta.Has("TotalReadoutTime") && meta.Has("PhaseEncodingDirection") {
			f.logger.Debug("already updated", logging.String("file", filepath.Base(jsonFile)))
			continue
		}
		pending = append(pending, pendingSidecar{jsonFile: jsonFile, meta: meta})
	}
	if len(pending) == 0 {
		return false, nil
	}

	dcmFile, err := f.findSeriesDicom(sourceDir, direction)
	if err != nil {
		f.logger.Warn("no usable DICOM series for direction",
			logging.String("direction", direction), logging.Error(err))
		return false, nil
	}
	f.logger.Info("reading scanner tags",
		logging.String("direction", direction), logging.String("dicom", filepath.Base(dcmFile)))

	// Every sidecar of a direction shares one source series, so the tags
	// are read once.
	params, err := f.reader.ReadPhilipsParams(dcmFile)
	if err != nil {
		f.logger.Error("cannot read scanner tags",
			logging.String("dicom", filepath.Base(dcmFile)), logging.Error(err))
		return false, nil
	}
	readout, err := params.TotalReadoutTime()
	if err != nil {
		f.logger.Error("cannot derive readout time", logging.Error(err))
		return false, nil
	}

	changed := false
	for _, p := range pending {
		dataFile := strings.TrimSuffix(p.jsonFile, ".json") + ".nii.gz"
		meta := p.meta
		err := sidecar.WithWritable(p.jsonFile, func() error {
			meta.Set("PhaseEncodingDirection", code)
			meta.Set("TotalReadoutTime", readout)
			return sidecar.Write(dataFile, meta)
		})
		if err != nil {
			f.logger.Error("cannot update sidecar",
				logging.String("file", filepath.Base(p.jsonFile)), logging.Error(err))
			continue
		}
		changed = true
		f.logger.Info("updated sidecar",
			logging.String("file", filepath.Base(p.jsonFile)),
			logging.String("direction", code),
			logging.Float64("readout", readout))
	}
	return changed, nil
}

// findSeriesDicom locates the first DICOM file of the first source series
// whose directory name carries the direction tag.
func (f *Fixer) findSeriesDicom(sourceDir, direction string) (string, error) {
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		if !entry.IsDir() || !strings.Contains(entry.Name(), direction) {
			continue
		}
		matches, err := filepath.Glob(filepath.Join(sourceDir, entry.Name(), "*.dcm"))
		if err != nil {
			return "", err
		}
		if len(matches) == 0 {
			return "", fmt.Errorf("series %s contains no DICOM files", entry.Name())
		}
		sort.Strings(matches)
		return matches[0], nil
	}
	return "", fmt.Errorf("no series directory matching %q", direction)
}
