package main

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

var errOutsideMediaRoot = errors.New("media path is outside the media directory")

// mediaRoot confines slot media to one directory. Relative references are
// taken relative to it; absolute ones must lie beneath it.
type mediaRoot struct {
	dir string
}

func newMediaRoot(dir string) mediaRoot {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return mediaRoot{dir: dir}
}

// rel returns ref as a path local to the root.
func (m mediaRoot) rel(ref string) (string, error) {
	p := ref
	if filepath.IsAbs(ref) {
		r, err := filepath.Rel(m.dir, filepath.Clean(ref))
		if err != nil {
			return "", errors.Wrapf(errOutsideMediaRoot, "%q", ref)
		}
		p = r
	}
	p = filepath.Clean(p)
	if !filepath.IsLocal(p) || p == "." {
		return "", errors.Wrapf(errOutsideMediaRoot, "%q", ref)
	}
	return p, nil
}

// open opens ref for reading. Symlinks leading out of the root are refused
// by os.Root.
func (m mediaRoot) open(ref string) (*os.File, os.FileInfo, error) {
	rel, err := m.rel(ref)
	if err != nil {
		return nil, nil, err
	}
	root, err := os.OpenRoot(m.dir)
	if err != nil {
		return nil, nil, err
	}
	defer root.Close()
	f, err := root.Open(rel)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, errors.Newf("%q is a directory", ref)
	}
	return f, info, nil
}
