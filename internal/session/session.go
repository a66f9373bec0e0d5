package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// Logical area names resolved by a Session.
const (
	AreaRawdata     = "rawdata"
	AreaSourcedata  = "sourcedata"
	AreaAnat        = "anat"
	AreaFunc        = "func"
	AreaFmap        = "fmap"
	AreaDwi         = "dwi"
	AreaDerivatives = "derivatives"
	AreaLogs        = "logs"
	AreaCode        = "code"
)

// Modalities lists the rawdata subdirectories holding image files, in the
// order reconciliation scans them.
var Modalities = []string{AreaAnat, AreaFunc, AreaFmap, AreaDwi}

// Session identifies one subject/session combination and derives all paths
// used by the pipeline.
type Session struct {
	StudyDir string
	Subject  string
	Session  string

	// Prefix is the canonical sub-{subject}_ses-{session} filename prefix.
	Prefix string

	paths map[string]string
	lock  *flock.Flock
}

// New constructs a Session. Subject and session IDs are passed without the
// sub-/ses- prefixes.
func New(studyDir, subject, session string) *Session {
	subPrefix := "sub-" + subject
	sesPrefix := "ses-" + session
	rawdata := filepath.Join(studyDir, "rawdata", subPrefix, sesPrefix)

	s := &Session{
		StudyDir: studyDir,
		Subject:  subject,
		Session:  session,
		Prefix:   subPrefix + "_" + sesPrefix,
	}
	s.paths = map[string]string{
		AreaRawdata:     rawdata,
		AreaSourcedata:  filepath.Join(studyDir, "sourcedata", subPrefix, sesPrefix),
		AreaAnat:        filepath.Join(rawdata, "anat"),
		AreaFunc:        filepath.Join(rawdata, "func"),
		AreaFmap:        filepath.Join(rawdata, "fmap"),
		AreaDwi:         filepath.Join(rawdata, "dwi"),
		AreaDerivatives: filepath.Join(studyDir, "derivatives"),
		AreaLogs:        filepath.Join(studyDir, "derivatives", "logs", subPrefix, sesPrefix),
		AreaCode:        filepath.Join(studyDir, "code"),
	}
	s.lock = flock.New(filepath.Join(studyDir, "."+s.Prefix+".lock"))
	return s
}

// Path returns the absolute directory for a logical area. Unknown areas
// panic: they are programming errors, not runtime conditions.
func (s *Session) Path(area string) string {
	p, ok := s.paths[area]
	if !ok {
		panic(fmt.Sprintf("session: unknown area %q", area))
	}
	return p
}

// SubjectRawdataDir returns the subject-level rawdata directory, the anchor
// for IntendedFor cross-references.
func (s *Session) SubjectRawdataDir() string {
	return filepath.Join(s.StudyDir, "rawdata", "sub-"+s.Subject)
}

// ScansTSV returns the path of the session's scan manifest.
func (s *Session) ScansTSV() string {
	return filepath.Join(s.Path(AreaRawdata), s.Prefix+"_scans.tsv")
}

// EnsureDirs creates the named area directories. With no arguments it
// creates the directories every command needs.
func (s *Session) EnsureDirs(areas ...string) error {
	if len(areas) == 0 {
		areas = []string{AreaRawdata, AreaSourcedata, AreaLogs, AreaCode}
	}
	for _, area := range areas {
		if err := os.MkdirAll(s.Path(area), 0o755); err != nil {
			return fmt.Errorf("ensure %s dir: %w", area, err)
		}
	}
	return nil
}

// RelPath converts an absolute path under the session rawdata root into the
// relative form used by the scan manifest.
func (s *Session) RelPath(abs string) (string, error) {
	rel, err := filepath.Rel(s.Path(AreaRawdata), abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %s is not under session rawdata", abs)
	}
	return filepath.ToSlash(rel), nil
}

// entityOrder is the canonical BIDS entity ordering for constructed names.
var entityOrder = []string{"task", "acq", "ce", "rec", "dir", "run", "echo", "part", "inv"}

// BIDSName builds a filename (without extension) from the session prefix,
// the provided entities in canonical order, and the suffix.
func (s *Session) BIDSName(suffix string, entities map[string]string) string {
	parts := []string{s.Prefix}
	for _, entity := range entityOrder {
		if value, ok := entities[entity]; ok && value != "" {
			parts = append(parts, entity+"-"+value)
		}
	}
	parts = append(parts, suffix)
	return strings.Join(parts, "_")
}

// RemoveFile deletes path if it exists, reporting whether anything was
// removed.
func (s *Session) RemoveFile(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := os.Remove(path); err != nil {
		return false, err
	}
	return true, nil
}

// RenameFile moves src to dst, creating dst's parent. A missing source is
// reported as (false, nil): orchestrators rename speculatively.
func (s *Session) RenameFile(src, dst string) (bool, error) {
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, err
	}
	if err := os.Rename(src, dst); err != nil {
		return false, err
	}
	return true, nil
}

// Lock acquires the session lock, failing immediately when another bidskit
// process holds it. Concurrent invocations against one session would race
// on the scan manifest and sidecars.
func (s *Session) Lock() error {
	ok, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire session lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("session %s is locked by another bidskit process", s.Prefix)
	}
	return nil
}

// Unlock releases the session lock and removes the lock file.
func (s *Session) Unlock() error {
	if err := s.lock.Unlock(); err != nil {
		return err
	}
	_ = os.Remove(s.lock.Path())
	return nil
}
