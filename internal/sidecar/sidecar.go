package sidecar

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Path returns the sidecar location for a data file by substituting the
// image extension: x.nii.gz and x.nii both map to x.json. Paths already
// ending in .json are returned unchanged.
func Path(dataFile string) string {
	switch {
	case strings.HasSuffix(dataFile, ".nii.gz"):
		return strings.TrimSuffix(dataFile, ".nii.gz") + ".json"
	case strings.HasSuffix(dataFile, ".nii"):
		return strings.TrimSuffix(dataFile, ".nii") + ".json"
	default:
		return dataFile
	}
}

// Read loads the sidecar for dataFile. A missing sidecar yields an empty
// document, not an error: the absence of metadata is an ordinary state.
func Read(dataFile string) (*Document, error) {
	data, err := os.ReadFile(Path(dataFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewDocument(), nil
		}
		return nil, fmt.Errorf("read sidecar: %w", err)
	}
	doc := NewDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parse sidecar %s: %w", Path(dataFile), err)
	}
	return doc, nil
}

// Write replaces the sidecar for dataFile with doc. Callers wanting to
// preserve existing keys merge onto a prior Read result first.
func Write(dataFile string, doc *Document) error {
	path := Path(dataFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure sidecar dir: %w", err)
	}
	compact, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}
	var indented bytes.Buffer
	if err := json.Indent(&indented, compact, "", "  "); err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}
	indented.WriteByte('\n')
	return os.WriteFile(path, indented.Bytes(), 0o644)
}

// MakeWritable sets the owner-write bit on path if it exists.
func MakeWritable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return os.Chmod(path, info.Mode()|0o200)
}

// MakeReadonly clears the write bits on path if it exists.
func MakeReadonly(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return os.Chmod(path, info.Mode()&^0o222)
}

// WithWritable clears the read-only bit on path, runs fn, and restores the
// read-only bit on every exit path, including fn failure.
func WithWritable(path string, fn func() error) error {
	if err := MakeWritable(path); err != nil {
		return fmt.Errorf("make writable: %w", err)
	}
	defer func() {
		_ = MakeReadonly(path)
	}()
	return fn()
}
