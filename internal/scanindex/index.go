package scanindex

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"bidskit/internal/logging"
	"bidskit/internal/session"
)

const (
	colFilename = "filename"
	colAcqTime  = "acq_time"

	// AcqTimeUnknown is recorded when the acquisition time is not available.
	AcqTimeUnknown = "n/a"
)

// Field is one named metadata value attached to a row. Fields are ordered:
// the manifest preserves the insertion order of novel columns so output
// column order is stable across runs.
type Field struct {
	Name  string
	Value string
}

type row struct {
	filename string
	values   map[string]string
}

// Index is the in-memory form of a session's scan manifest. All mutating
// methods write the table back to disk before returning.
type Index struct {
	path    string
	rawdata string
	columns []string
	rows    []row
	logger  *slog.Logger
}

// Result summarizes a reconciliation pass.
type Result struct {
	Removed []string
	Added   []string
}

// Open loads the manifest for a session, starting an empty table with the
// mandatory columns when none exists yet.
func Open(sess *session.Session, logger *slog.Logger) (*Index, error) {
	idx := &Index{
		path:    sess.ScansTSV(),
		rawdata: sess.Path(session.AreaRawdata),
		columns: []string{colFilename, colAcqTime},
		logger:  logging.NewComponentLogger(logger, "scanindex"),
	}

	file, err := os.Open(idx.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return idx, nil
		}
		return nil, fmt.Errorf("open scan manifest: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse scan manifest %s: %w", idx.path, err)
	}
	if len(records) == 0 {
		return idx, nil
	}

	idx.columns = append([]string{}, records[0]...)
	for _, record := range records[1:] {
		r := row{values: make(map[string]string, len(idx.columns))}
		for i, col := range idx.columns {
			value := ""
			if i < len(record) {
				value = record[i]
			}
			if col == colFilename {
				r.filename = value
			} else {
				r.values[col] = value
			}
		}
		idx.rows = append(idx.rows, r)
	}
	return idx, nil
}

// Len reports the number of tracked files.
func (idx *Index) Len() int { return len(idx.rows) }

// Columns returns the manifest column names in output order.
func (idx *Index) Columns() []string {
	return append([]string{}, idx.columns...)
}

// Filenames returns the tracked filenames in row order.
func (idx *Index) Filenames() []string {
	names := make([]string, len(idx.rows))
	for i, r := range idx.rows {
		names[i] = r.filename
	}
	return names
}

// Get returns a copy of the row for filename.
func (idx *Index) Get(filename string) (map[string]string, bool) {
	for _, r := range idx.rows {
		if r.filename == filename {
			values := map[string]string{colFilename: r.filename}
			for k, v := range r.values {
				values[k] = v
			}
			return values, true
		}
	}
	return nil, false
}

// Add appends a row for filename unless one already exists. An empty
// acqTime records AcqTimeUnknown. Novel extra columns extend the column set
// in the order given.
func (idx *Index) Add(filename, acqTime string, extra ...Field) error {
	if _, found := idx.Get(filename); found {
		idx.logger.Debug("entry already tracked", logging.String("filename", filename))
		return nil
	}
	if acqTime == "" {
		acqTime = AcqTimeUnknown
	}
	r := row{filename: filename, values: map[string]string{colAcqTime: acqTime}}
	for _, field := range extra {
		idx.ensureColumn(field.Name)
		r.values[field.Name] = field.Value
	}
	idx.rows = append(idx.rows, r)
	return idx.save()
}

// Remove drops the row for filename, reporting whether one existed.
func (idx *Index) Remove(filename string) (bool, error) {
	for i, r := range idx.rows {
		if r.filename == filename {
			idx.rows = append(idx.rows[:i], idx.rows[i+1:]...)
			return true, idx.save()
		}
	}
	return false, nil
}

// Rename replaces the filename of a tracked row, leaving every other column
// untouched. A missing row is logged and reported as false: orchestrators
// rename speculatively and the entry may legitimately not exist yet.
func (idx *Index) Rename(oldName, newName string) (bool, error) {
	for i := range idx.rows {
		if idx.rows[i].filename == oldName {
			idx.rows[i].filename = newName
			return true, idx.save()
		}
	}
	idx.logger.Warn("entry not found for rename", logging.String("filename", oldName))
	return false, nil
}

// Replace substitutes the row for oldName with one row per newNames entry,
// inserted contiguously at the original position. Each new row is a full
// copy of the original except for the filename, so acquisition metadata
// propagates to every derived file.
func (idx *Index) Replace(oldName string, newNames []string) (bool, error) {
	pos := -1
	for i, r := range idx.rows {
		if r.filename == oldName {
			pos = i
			break
		}
	}
	if pos < 0 {
		idx.logger.Warn("entry not found for replace", logging.String("filename", oldName))
		return false, nil
	}

	original := idx.rows[pos]
	replacement := make([]row, len(newNames))
	for i, name := range newNames {
		values := make(map[string]string, len(original.values))
		for k, v := range original.values {
			values[k] = v
		}
		replacement[i] = row{filename: name, values: values}
	}

	rows := make([]row, 0, len(idx.rows)-1+len(replacement))
	rows = append(rows, idx.rows[:pos]...)
	rows = append(rows, replacement...)
	rows = append(rows, idx.rows[pos+1:]...)
	idx.rows = rows
	return true, idx.save()
}

// Reconcile brings the manifest back into agreement with disk. When
// removeMissing is set, rows whose backing file is absent are dropped. When
// addUntracked is set, image files found in the modality subdirectories but
// not in the manifest are appended with default metadata.
func (idx *Index) Reconcile(removeMissing, addUntracked bool) (Result, error) {
	var result Result
	changed := false

	if removeMissing {
		kept := idx.rows[:0]
		for _, r := range idx.rows {
			if _, err := os.Stat(filepath.Join(idx.rawdata, filepath.FromSlash(r.filename))); err == nil {
				kept = append(kept, r)
			} else {
				result.Removed = append(result.Removed, r.filename)
				idx.logger.Debug("dropping row for missing file", logging.String("filename", r.filename))
			}
		}
		changed = len(result.Removed) > 0
		idx.rows = kept
	}

	if addUntracked {
		tracked := make(map[string]bool, len(idx.rows))
		for _, r := range idx.rows {
			tracked[r.filename] = true
		}
		for _, modality := range session.Modalities {
			pattern := filepath.Join(idx.rawdata, modality, "*.nii.gz")
			matches, err := filepath.Glob(pattern)
			if err != nil {
				return result, fmt.Errorf("scan %s: %w", modality, err)
			}
			sort.Strings(matches)
			for _, match := range matches {
				rel := modality + "/" + filepath.Base(match)
				if tracked[rel] {
					continue
				}
				idx.rows = append(idx.rows, row{
					filename: rel,
					values:   map[string]string{colAcqTime: AcqTimeUnknown},
				})
				result.Added = append(result.Added, rel)
				changed = true
			}
		}
	}

	if changed {
		if err := idx.save(); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (idx *Index) ensureColumn(name string) {
	for _, col := range idx.columns {
		if col == name {
			return
		}
	}
	idx.columns = append(idx.columns, name)
}

// save writes the full table through a temp file and rename, so a crash
// never leaves a half-written manifest.
func (idx *Index) save() error {
	if err := os.MkdirAll(filepath.Dir(idx.path), 0o755); err != nil {
		return fmt.Errorf("ensure manifest dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(idx.path), ".scans-*.tsv")
	if err != nil {
		return fmt.Errorf("create manifest temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	w.Comma = '\t'
	if err := w.Write(idx.columns); err != nil {
		tmp.Close()
		return err
	}
	for _, r := range idx.rows {
		record := make([]string, len(idx.columns))
		for i, col := range idx.columns {
			if col == colFilename {
				record[i] = r.filename
			} else {
				record[i] = r.values[col]
			}
		}
		if err := w.Write(record); err != nil {
			tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), idx.path); err != nil {
		return fmt.Errorf("persist manifest: %w", err)
	}
	return nil
}
