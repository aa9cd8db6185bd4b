// Package fs contains utilities for working with the filesystem.
package fs

import (
	"errors"
	"io/fs"
	"os"
)

// FileExists returns true if a file (or folder) exists at path.
func FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}
