// Package report assembles and publishes the report bundle for a run set.
package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/pithecene-io/lhrunner/iox"
	"github.com/pithecene-io/lhrunner/lode"
)

// Dir is the local reports workspace shared by the backends and the
// dispatcher for one run set.
type Dir struct {
	root string
}

var _ lode.FileWriter = (*Dir)(nil)

// NewDir returns a workspace rooted at root. Nothing is created until Reset.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

// Root returns the workspace path.
func (d *Dir) Root() string { return d.root }

// Reset empties the workspace.
func (d *Dir) Reset() error {
	if err := os.RemoveAll(d.root); err != nil {
		return fmt.Errorf("reset reports dir: %w", err)
	}
	if err := os.MkdirAll(d.root, 0o755); err != nil {
		return fmt.Errorf("reset reports dir: %w", err)
	}
	return nil
}

// PutFile implements lode.FileWriter.
func (d *Dir) PutFile(_ context.Context, filename, _ string, data []byte) error {
	if err := lode.ValidateFilename(filename); err != nil {
		return err
	}
	return iox.WriteFileAtomic(filepath.Join(d.root, filename), data, 0o644)
}

// ReadFile reads filename from the workspace.
func (d *Dir) ReadFile(filename string) ([]byte, error) {
	if err := lode.ValidateFilename(filename); err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(d.root, filename))
}

// Exists reports whether filename is present in the workspace.
func (d *Dir) Exists(filename string) bool {
	if lode.ValidateFilename(filename) != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(d.root, filename))
	return err == nil && info.Mode().IsRegular()
}

// File is one workspace entry.
type File struct {
	Name string
	Size int64
}

// List returns the regular files in the workspace sorted by name.
// A missing workspace lists as empty.
func (d *Dir) List() ([]File, error) {
	entries, err := os.ReadDir(d.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list reports dir: %w", err)
	}
	files := make([]File, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		files = append(files, File{Name: e.Name(), Size: info.Size()})
	}
	slices.SortFunc(files, func(a, b File) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return files, nil
}
