// Package storage persists slot snapshots.
package storage

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/w1xm/rotoscope/slots"
)

// JSONFile keeps the snapshot in a single settings file.
type JSONFile struct {
	Path string
}

func NewJSONFile(path string) *JSONFile {
	return &JSONFile{Path: path}
}

// Load returns the default snapshot when the file does not exist yet.
func (f *JSONFile) Load() (slots.Snapshot, error) {
	snap := slots.DefaultSnapshot()
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return snap, nil
	}
	if err != nil {
		return snap, errors.Wrap(err, "failed to read settings file")
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return slots.DefaultSnapshot(), errors.Wrapf(err, "failed to parse %s", f.Path)
	}
	if snap.Positions == nil {
		snap.Positions = map[int]int{}
	}
	if snap.Media == nil {
		snap.Media = map[int]string{}
	}
	return snap, nil
}

// Save replaces the file atomically.
func (f *JSONFile) Save(snap slots.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode settings")
	}
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create settings dir")
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write settings")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to write settings")
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return errors.Wrap(err, "failed to replace settings file")
	}
	return nil
}
