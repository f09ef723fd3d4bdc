// Package apputil has small filesystem helpers used during startup.
package apputil

import (
	"os"
	"path/filepath"
)

// EnsureDir creates the parent directory of path if it does not exist.
func EnsureDir(path string) (err error) {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return
	}
	return os.MkdirAll(dir, 0700)
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.Mode().IsRegular()
}
