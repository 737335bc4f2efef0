package util

import (
	"os"

	"github.com/pkg/errors"
)

// Exists checks whether the path exists
func Exists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// CreateDirectoryIfNotExists creates a directory (with parents) unless it's already there
func CreateDirectoryIfNotExists(path string, mode os.FileMode) error {
	if Exists(path) {
		return nil
	}

	if err := os.MkdirAll(path, mode); err != nil {
		return errors.Wrapf(err, "failed to create directory %s", path)
	}

	return nil
}
