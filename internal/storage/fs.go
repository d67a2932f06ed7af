package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const tmpPrefix = ".blob-tmp-"

// FS is a Provider over a local directory. Locators map to files beneath
// root; each file ID gets its own directory.
type FS struct {
	root string
}

// NewFS opens the blob directory at root, creating it if needed.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("storage: root %s is not a directory", abs)
	}
	return &FS{root: abs}, nil
}

// resolve maps a locator onto the file system and refuses anything that
// would land outside root.
func (f *FS) resolve(locator string) (string, error) {
	if locator == "" {
		return f.root, nil
	}
	clean := filepath.Clean(filepath.FromSlash(locator))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("storage: locator %q escapes root", locator)
	}
	return filepath.Join(f.root, clean), nil
}

func (f *FS) blobPath(locator string) (string, error) {
	p, err := f.resolve(locator)
	if err != nil {
		return "", err
	}
	if p == f.root {
		return "", errors.New("storage: empty locator")
	}
	return p, nil
}

// Get returns the bytes stored under locator.
func (f *FS) Get(locator string) ([]byte, error) {
	p, err := f.blobPath(locator)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", locator, err)
	}
	return data, nil
}

// Put stores data under locator. Locators embed the chunk digest, so an
// existing blob already holds these bytes and is left as is.
func (f *FS) Put(locator string, data []byte) error {
	p, err := f.blobPath(locator)
	if err != nil {
		return err
	}
	if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() && info.Size() == int64(len(data)) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}
	return writeAtomic(p, data)
}

// writeAtomic writes to a temp file in the target directory, syncs it and
// renames it into place.
func writeAtomic(p string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(p), tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err = os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	return nil
}

// Delete removes a blob and, once it is empty, the file directory holding
// it. A missing blob is not an error.
func (f *FS) Delete(locator string) error {
	p, err := f.blobPath(locator)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: delete %s: %w", locator, err)
	}
	for dir := filepath.Dir(p); dir != f.root; dir = filepath.Dir(dir) {
		// Fails while the directory still has entries.
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

// List returns the sorted locators beneath prefix, skipping the temp files
// of interrupted writes. A missing prefix yields an empty list.
func (f *FS) List(prefix string) ([]string, error) {
	base, err := f.resolve(prefix)
	if err != nil {
		return nil, err
	}
	var out []string
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		switch {
		case errors.Is(walkErr, fs.ErrNotExist):
			return nil
		case walkErr != nil:
			return walkErr
		case d.IsDir() || strings.HasPrefix(d.Name(), tmpPrefix):
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	slices.Sort(out)
	return out, nil
}
