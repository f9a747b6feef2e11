package state

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDirs creates the storage layout under root and checks that every
// directory is a real, writable directory.
func EnsureDirs(root string) error {
	p := PathsFor(filepath.Clean(root))
	for _, dir := range []string{p.Features, p.Ledger, p.Logs} {
		if err := ensureDir(dir); err != nil {
			return err
		}
	}
	return nil
}

func ensureDir(p string) error {
	if fi, err := os.Lstat(p); err == nil {
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("path is a symlink: %s", p)
		}
		if !fi.IsDir() {
			return fmt.Errorf("path exists and is not a directory: %s", p)
		}
	}
	if err := os.MkdirAll(p, 0o700); err != nil {
		return fmt.Errorf("cannot create path %s: %w", p, err)
	}
	tmp, err := os.CreateTemp(p, ".validate-*")
	if err != nil {
		return fmt.Errorf("path not writable: %s: %w", p, err)
	}
	tmp.Close()
	_ = os.Remove(tmp.Name())
	return nil
}

// ListFeatures returns the feature directories present under root.
func ListFeatures(root string) ([]string, error) {
	entries, err := os.ReadDir(PathsFor(root).Features)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && ValidateFeatureName(e.Name()) == nil {
			out = append(out, e.Name())
		}
	}
	return out, nil
}
