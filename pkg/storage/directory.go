package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Directory holds the batch files of one feature in one consent area.
type Directory struct {
	path string
}

// OpenDirectory creates path if needed.
func OpenDirectory(path string) (*Directory, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, &StorageError{Op: "mkdir", Path: path, Err: err}
	}
	return &Directory{path: path}, nil
}

func (d *Directory) Path() string { return d.path }

// Files lists batch files oldest first. Entries whose names are not
// timestamps are ignored.
func (d *Directory) Files() ([]File, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	type named struct {
		ms   int64
		file File
	}
	var out []named
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		ms, ok := parseFileName(e.Name())
		if !ok {
			continue
		}
		out = append(out, named{ms: ms, file: File{dir: d.path, name: e.Name()}})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ms < out[j].ms })
	files := make([]File, len(out))
	for i := range out {
		files[i] = out[i].file
	}
	return files, nil
}

// Size sums the sizes of all batch files.
func (d *Directory) Size() (int64, error) {
	files, err := d.Files()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		n, err := f.Size()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Sync flushes directory entries so creates, renames and removals survive
// a crash.
func (d *Directory) Sync() error {
	fh, err := os.Open(d.path)
	if err != nil {
		return err
	}
	defer fh.Close()
	return fh.Sync()
}

// moveFile renames f into dst keeping its timestamp name; a taken name moves
// to the next free millisecond.
func (d *Directory) moveFile(f File, dst *Directory) (File, error) {
	ms, ok := parseFileName(f.name)
	if !ok {
		return File{}, fmt.Errorf("not a batch file: %s", f.name)
	}
	for {
		target := filepath.Join(dst.path, fileName(ms))
		if _, err := os.Lstat(target); errors.Is(err, fs.ErrNotExist) {
			if err := os.Rename(f.Path(), target); err != nil {
				return File{}, err
			}
			return File{dir: dst.path, name: fileName(ms)}, nil
		} else if err != nil {
			return File{}, err
		}
		ms++
	}
}
