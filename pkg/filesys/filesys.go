// Package filesys provides a collection of utility functions for common file
// system operations, all routed through an afero.Fs so segment, manifest,
// and recovery code can run against either the real disk or an in-memory
// filesystem in tests.
package filesys

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
)

// ErrIsNotDir is returned when an operation expecting a directory finds a file instead.
var ErrIsNotDir = errors.New("path isn't a directory")

// CreateDir creates a directory at the specified path with the given permissions.
//
// If the directory already exists:
//   - If 'force' is true, it proceeds without error.
//   - If 'force' is false, it returns an error reporting that the
//     directory already exists.
//
// It also returns an error if the existing path is a file, not a directory.
func CreateDir(fs afero.Fs, dirPath string, permission os.FileMode, force bool) error {
	stat, err := fs.Stat(dirPath)
	if !force && err == nil {
		return fmt.Errorf("directory already exists: %s", dirPath)
	}

	if stat != nil && !stat.IsDir() {
		return ErrIsNotDir
	}

	if err := fs.MkdirAll(dirPath, permission); err != nil {
		return err
	}

	return fs.Chmod(dirPath, 0755)
}

// DeleteDir deletes a directory and all its contents recursively.
func DeleteDir(fs afero.Fs, path string) error {
	return fs.RemoveAll(path)
}

// ReadDir lists the directory entries directly under dirPath whose base name
// matches pattern (a filepath.Match-style glob, e.g. "*.seg"). It returns
// full paths, sorted lexicographically.
func ReadDir(fs afero.Fs, dirPath, pattern string) ([]string, error) {
	entries, err := afero.ReadDir(fs, dirPath)
	if err != nil {
		return nil, err
	}

	matches := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ok, err := filepath.Match(pattern, e.Name())
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, filepath.Join(dirPath, e.Name()))
		}
	}

	sort.Strings(matches)
	return matches, nil
}

// CreateFile creates a new file at the specified filePath.
//
// If the file already exists:
//   - If 'force' is true, it overwrites the existing file.
//   - If 'force' is false, it returns an error.
func CreateFile(fs afero.Fs, filePath string, force bool) (afero.File, error) {
	if _, err := fs.Stat(filePath); err == nil && !force {
		return nil, fmt.Errorf("file already exists: %s", filePath)
	}
	return fs.Create(filePath)
}

// WriteFile writes contents to the file at filePath with the given
// permission, creating it if absent and truncating it if present.
func WriteFile(fs afero.Fs, filePath string, permission os.FileMode, contents []byte) error {
	return afero.WriteFile(fs, filePath, contents, permission)
}

// DeleteFile deletes the file at the specified filePath.
func DeleteFile(fs afero.Fs, filePath string) error {
	return fs.Remove(filePath)
}

// ReadFile reads the entire content of the file at filePath into a byte slice.
func ReadFile(fs afero.Fs, filePath string) ([]byte, error) {
	return afero.ReadFile(fs, filePath)
}

// Exists reports whether a file or directory exists at the given path.
func Exists(fs afero.Fs, path string) (bool, error) {
	return afero.Exists(fs, path)
}

// SyncFile flushes f's contents to stable storage. On an in-memory afero.Fs
// this is a no-op; on afero.OsFs it is a real fsync.
func SyncFile(f afero.File) error {
	return f.Sync()
}

// SyncDir durably persists a directory's entries (e.g. after creating or
// renaming a file within it) by opening and syncing the directory inode
// itself. Not all afero.Fs implementations support opening a directory for
// read, so a failure to open is treated as a no-op rather than an error.
func SyncDir(fs afero.Fs, dirPath string) error {
	d, err := fs.Open(dirPath)
	if err != nil {
		return nil
	}
	defer d.Close()
	return d.Sync()
}

// CopyFile copies a single file from sourcePath to destPath within fs.
func CopyFile(fs afero.Fs, sourcePath, destPath string) error {
	src, err := fs.Open(sourcePath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := fs.Create(destPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}
